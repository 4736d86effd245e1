// Package server exposes the chat webhook, the health report, the optional
// MCP endpoint and the liveness/readiness probes.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// Dispatcher answers one inbound message.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg types.InboundMessage) types.DispatchResult
}

// Health is the body of GET /health.
type Health struct {
	Status      string            `json:"status"`
	Services    map[string]string `json:"services"`
	KubectlPath string            `json:"kubectl_path,omitempty"`
}

type Options struct {
	Addr      string
	ProbeAddr string
	// WebhookToken is the shared secret; the check is skipped when empty.
	WebhookToken string
	Dispatcher   Dispatcher
	Health       func() Health
	Ready        func() bool
	// MCP is mounted on /mcp when set.
	MCP http.Handler
	// Metrics is mounted on the probe port's /metrics when set.
	Metrics http.Handler
}

type Server struct {
	opts   Options
	http   *http.Server
	probes *http.Server
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.http = &http.Server{Addr: opts.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.probes = &http.Server{Addr: opts.ProbeAddr, Handler: s.ProbeHandler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler serves the public routes, instrumented with otelhttp.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.MCP != nil {
		mux.Handle("/mcp", s.opts.MCP)
	}
	return otelhttp.NewHandler(mux, "chatops",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ProbeHandler serves /healthz, /readyz and optionally /metrics.
func (s *Server) ProbeHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Ready != nil && !s.opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "not ready: initial cluster discovery pending")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	return mux
}

type webhookResponse struct {
	Text         string `json:"text"`
	ResponseType string `json:"response_type"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid form body"})
		return
	}

	if s.opts.WebhookToken != "" {
		token := r.PostForm.Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.WebhookToken)) != 1 {
			slog.Warn("server: rejected webhook with invalid token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Invalid token"})
			return
		}
	}

	msg := types.InboundMessage{
		Text:        r.PostForm.Get("text"),
		ChannelID:   r.PostForm.Get("channel_id"),
		UserName:    r.PostForm.Get("user_name"),
		CallbackURL: r.PostForm.Get("response_url"),
	}
	for field, v := range map[string]string{"text": msg.Text, "channel_id": msg.ChannelID, "user_name": msg.UserName} {
		if v == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "missing form field: " + field})
			return
		}
	}

	slog.Info("server: received slash command", "command", r.PostForm.Get("command"), "user", msg.UserName, "team_id", r.PostForm.Get("team_id"))
	result := s.opts.Dispatcher.Dispatch(r.Context(), msg)
	writeJSON(w, http.StatusOK, webhookResponse{Text: result.Text, ResponseType: result.Visibility.ResponseType()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "healthy"}
	if s.opts.Health != nil {
		h = s.opts.Health()
	}
	writeJSON(w, http.StatusOK, h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: failed to write response", "error", err)
	}
}

// Start serves the probes in the background and the public routes in the
// foreground. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	go func() {
		slog.Info("health check server listening", "addr", s.opts.ProbeAddr)
		if err := s.probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server error", "error", err)
		}
	}()
	slog.Info("webhook server listening", "addr", s.opts.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests on both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.http.Shutdown(ctx), s.probes.Shutdown(ctx))
}
