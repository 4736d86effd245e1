package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

func TestPostMessage(t *testing.T) {
	var got postRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v4/posts", r.URL.Path)
		assert.Equal(t, "Bearer bot-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	m := NewMattermost(srv.URL, "bot-token", time.Second, nil)
	require.NoError(t, m.PostMessage(context.Background(), "chan-1", "hello"))
	assert.Equal(t, postRequest{ChannelID: "chan-1", Message: "hello"}, got)
}

func TestPostCallback(t *testing.T) {
	var got callbackRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	m := NewMattermost("", "", time.Second, nil)
	require.NoError(t, m.PostCallback(context.Background(), srv.URL+"/hooks/cb", "done", types.VisibilityPrivate))
	assert.Equal(t, callbackRequest{Text: "done", ResponseType: "ephemeral"}, got)
}

func TestPostMessageNotConfigured(t *testing.T) {
	err := NewMattermost("", "", time.Second, nil).PostMessage(context.Background(), "c", "x")
	assert.Equal(t, types.ErrKindConfiguration, types.KindOf(err))
}

func TestPostMessageBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"no permission"}`))
	}))
	defer srv.Close()

	err := NewMattermost(srv.URL, "t", time.Second, nil).PostMessage(context.Background(), "c", "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindBackend, types.KindOf(err))
	assert.Contains(t, err.Error(), "status 403")
}
