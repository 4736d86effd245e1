package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

type recordingDispatcher struct {
	got    []types.InboundMessage
	result types.DispatchResult
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg types.InboundMessage) types.DispatchResult {
	d.got = append(d.got, msg)
	return d.result
}

func webhookForm(token string) url.Values {
	return url.Values{
		"token":        {token},
		"team_id":      {"team-1"},
		"channel_id":   {"chan-1"},
		"user_id":      {"u-1"},
		"user_name":    {"alice"},
		"text":         {"metric up"},
		"command":      {"/ops"},
		"response_url": {"https://chat.example.com/hooks/cb"},
	}
}

func postForm(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookDispatches(t *testing.T) {
	d := &recordingDispatcher{result: types.Deferred("Processing...")}
	h := New(Options{WebhookToken: "s3cret", Dispatcher: d}).Handler()

	rec := postForm(t, h, webhookForm("s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body webhookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, webhookResponse{Text: "Processing...", ResponseType: "ephemeral"}, body)

	require.Len(t, d.got, 1)
	assert.Equal(t, types.InboundMessage{
		Text:        "metric up",
		ChannelID:   "chan-1",
		UserName:    "alice",
		CallbackURL: "https://chat.example.com/hooks/cb",
	}, d.got[0])
}

func TestWebhookChannelVisibility(t *testing.T) {
	d := &recordingDispatcher{result: types.Immediate("Pong!", types.VisibilityChannel)}
	rec := postForm(t, New(Options{Dispatcher: d}).Handler(), webhookForm("anything"))

	var body webhookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "in_channel", body.ResponseType)
}

func TestWebhookRejectsBadToken(t *testing.T) {
	d := &recordingDispatcher{}
	rec := postForm(t, New(Options{WebhookToken: "s3cret", Dispatcher: d}).Handler(), webhookForm("wrong"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Invalid token"}`, rec.Body.String())
	assert.Empty(t, d.got)
}

func TestWebhookRequiresFields(t *testing.T) {
	d := &recordingDispatcher{}
	form := webhookForm("")
	form.Del("text")

	rec := postForm(t, New(Options{Dispatcher: d}).Handler(), form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing form field: text")
	assert.Empty(t, d.got)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := New(Options{Dispatcher: &recordingDispatcher{}}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	h := New(Options{Health: func() Health {
		return Health{Status: "healthy", Services: map[string]string{"prometheus": "configured", "kubernetes": "not initialized"}}
	}}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","services":{"prometheus":"configured","kubernetes":"not initialized"}}`, rec.Body.String())
}

func TestProbes(t *testing.T) {
	ready := false
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("chatops_dispatch_total 1")) })
	h := New(Options{Ready: func() bool { return ready }, Metrics: metrics}).ProbeHandler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	ready = true
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	assert.Contains(t, get("/metrics").Body.String(), "chatops_dispatch_total")
}

func TestMCPMounted(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := New(Options{MCP: mcp}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
