// Package chat delivers replies back to the conversation.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const integration = "Mattermost"

// Poster delivers a message either to a channel or to a one-shot callback URL.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text string) error
	PostCallback(ctx context.Context, callbackURL, text string, visibility types.Visibility) error
}

// Mattermost posts through the REST API with a bot token, or to the
// response_url handed over by a slash command.
type Mattermost struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMattermost(baseURL, token string, timeout time.Duration, rt http.RoundTripper) *Mattermost {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Mattermost{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: rt,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Configured reports whether channel posts can be made.
func (m *Mattermost) Configured() bool {
	return m.baseURL != "" && m.token != ""
}

type postRequest struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

type callbackRequest struct {
	Text         string `json:"text"`
	ResponseType string `json:"response_type"`
}

func (m *Mattermost) PostMessage(ctx context.Context, channelID, text string) error {
	if !m.Configured() {
		return types.ConfigurationError(integration, "MATTERMOST_URL or MATTERMOST_BOT_TOKEN is empty")
	}
	if err := m.post(ctx, m.baseURL+"/api/v4/posts", "Bearer "+m.token, postRequest{ChannelID: channelID, Message: text}); err != nil {
		return err
	}
	slog.Info("chat: message sent", "channel_id", channelID)
	return nil
}

func (m *Mattermost) PostCallback(ctx context.Context, callbackURL, text string, visibility types.Visibility) error {
	return m.post(ctx, callbackURL, "", callbackRequest{Text: text, ResponseType: visibility.ResponseType()})
}

func (m *Mattermost) post(ctx context.Context, url, auth string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return types.TransportError(integration, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.BackendError("posting to Mattermost", fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)), nil)
	}
	return nil
}
