// Package llm talks to the language-model collaborator used for free-text
// requests and remediation advice.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const integration = "OpenAI"

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = types.ConfigurationError(integration, "OPENAI_API_KEY is empty")
	// ErrThrottled is returned when the shared token bucket is empty.
	ErrThrottled = errors.New("too many requests")
	// ErrHighDemand is returned when rate-limit responses persist through every retry.
	ErrHighDemand = errors.New("currently experiencing high demand")
)

// Client completes a single system + user exchange.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles on every attempt.
	InitialBackoff time.Duration
	Transport      http.RoundTripper
}

// OpenAI is a Client backed by the chat completions API.
type OpenAI struct {
	client  *openai.Client
	opts    Options
	limiter *rate.Limiter
}

// NewLimiter builds the advisory token bucket shared by every language-model call.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// NewOpenAI builds a client. A nil limiter disables throttling.
func NewOpenAI(opts Options, limiter *rate.Limiter) *OpenAI {
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}

	o := &OpenAI{opts: opts, limiter: limiter}
	if opts.APIKey == "" {
		return o
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	cfg.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	o.client = openai.NewClientWithConfig(cfg)

	slog.Info("llm: client initialized", "model", opts.Model, "max_retries", opts.MaxRetries)
	return o
}

// Configured reports whether an API key was provided.
func (o *OpenAI) Configured() bool {
	return o.client != nil
}

// Complete sends one chat completion. Rate-limit responses are retried with
// exponential backoff; every other failure is returned on the first attempt.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	if !o.Configured() {
		return "", ErrNotConfigured
	}
	if o.limiter != nil && !o.limiter.Allow() {
		slog.Warn("llm: request throttled by local rate limiter")
		return "", ErrThrottled
	}

	req := openai.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1,
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.opts.InitialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0

	slog.Debug("llm: sending completion", "model", o.opts.Model, "chars", len(user))
	content, err := backoff.Retry(ctx, func() (string, error) {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if statusCode(err) == http.StatusTooManyRequests {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(types.BackendError("calling the language model", "no choices returned", nil))
		}
		return resp.Choices[0].Message.Content, nil
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(o.opts.MaxRetries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("llm: rate limited, retrying", "delay", d, "error", err)
		}),
	)
	if err != nil {
		return "", classify(err)
	}
	slog.Info("llm: response received")
	return content, nil
}

func classify(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	code := statusCode(err)
	switch {
	case code == http.StatusTooManyRequests:
		slog.Error("llm: rate limit persisted after max retries")
		return ErrHighDemand
	case code != 0:
		return types.BackendError("calling the language model", fmt.Sprintf("HTTP %d", code), err)
	default:
		return types.TransportError(integration, err)
	}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// UserMessage renders a Complete failure for the conversation.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrThrottled):
		return "I'm getting too many requests right now. Please try again in a few moments."
	case errors.Is(err, ErrHighDemand):
		return "I'm currently experiencing high demand. Please try again in a few minutes."
	case types.KindOf(err) == types.ErrKindBackend:
		var e *types.Error
		errors.As(err, &e)
		return fmt.Sprintf("Sorry, there was an issue with the AI service (%s).", strings.TrimSpace(e.Message))
	case types.KindOf(err) == types.ErrKindTransport:
		return "Sorry, I couldn't connect to the AI service. Please try again."
	default:
		return types.UserMessage(err)
	}
}
