package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/isitobservable/chatops-assistant/pkg/chat"
	"github.com/isitobservable/chatops-assistant/pkg/cluster"
	"github.com/isitobservable/chatops-assistant/pkg/config"
	"github.com/isitobservable/chatops-assistant/pkg/discovery"
	"github.com/isitobservable/chatops-assistant/pkg/dispatch"
	"github.com/isitobservable/chatops-assistant/pkg/k8s"
	"github.com/isitobservable/chatops-assistant/pkg/llm"
	mcpserver "github.com/isitobservable/chatops-assistant/pkg/mcp"
	"github.com/isitobservable/chatops-assistant/pkg/metrics"
	"github.com/isitobservable/chatops-assistant/pkg/server"
	"github.com/isitobservable/chatops-assistant/pkg/telemetry"
	"github.com/isitobservable/chatops-assistant/pkg/tools"
	"github.com/isitobservable/chatops-assistant/pkg/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	startCtx := context.Background()

	// Initialize OpenTelemetry providers
	tracerShutdown, err := telemetry.InitTracer(startCtx, cfg.ClusterName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to initialize tracer: %v\n", err)
		os.Exit(1)
	}
	meterShutdown, metricsHandler, err := telemetry.InitMeterProvider(startCtx, cfg.ClusterName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to initialize meter provider: %v\n", err)
		os.Exit(1)
	}
	loggerShutdown, otelLogs, err := telemetry.InitLoggerProvider(startCtx, cfg.ClusterName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to initialize logger provider: %v\n", err)
		os.Exit(1)
	}
	if otelLogs != nil {
		config.SetupLogging(cfg.LogLevel, otelLogs)
	} else {
		config.SetupLogging(cfg.LogLevel)
	}

	slog.Info("starting chatops assistant", "cluster", cfg.ClusterName, "port", cfg.Port)

	meters, err := telemetry.NewMeters()
	if err != nil {
		slog.Warn("failed to create OTel meters, metrics will be unavailable", "error", err)
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)

	// Cluster access is optional: without it the subprocess fallback or a
	// configuration error answers cluster commands.
	clusterOpts := cluster.Options{
		Timeout:     cfg.KubectlTimeout,
		Subprocess:  cfg.EnableKubectlSubprocess,
		KubectlPath: cfg.KubectlPath,
	}
	var disc *discovery.Discovery
	clients, err := k8s.NewClients(cfg.KubeconfigPath)
	if err != nil {
		slog.Warn("kubernetes client not initialized", "error", err)
	} else {
		disc = discovery.New(clients.Discovery, func(s discovery.Snapshot) {
			slog.Info("cluster discovery updated", "version", s.GitVersion, "group_versions", len(s.GroupVersions))
		})
		clusterOpts.Discovery = disc
	}
	clusterAdapter := cluster.New(clients, clusterOpts)

	metricsAdapter, err := metrics.New(cfg.PrometheusURL, cfg.MetricsTimeout, transport)
	if err != nil {
		slog.Error("failed to create Prometheus client", "error", err)
		os.Exit(1)
	}

	limiter := llm.NewLimiter(cfg.LLMRatePerMinute, cfg.LLMRateBurst)
	model := llm.NewOpenAI(llm.Options{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Transport:  transport,
	}, limiter)

	poster := chat.NewMattermost(cfg.MattermostURL, cfg.MattermostBotToken, cfg.ChatTimeout, transport)

	status := func() dispatch.Status {
		return dispatch.Status{
			Metrics: metricsAdapter.Configured(),
			Cluster: clusterAdapter.Available() || cfg.EnableKubectlSubprocess,
			Model:   model.Configured(),
			Chat:    poster.Configured(),
		}
	}

	orch := dispatch.New(dispatch.Deps{
		Metrics:  metricsAdapter,
		Cluster:  clusterAdapter,
		Model:    model,
		Poster:   poster,
		Workflow: workflow.NewRunner(clusterAdapter, model),
		Meters:   meters,
		Status:   status,
	})

	var mcpHandler http.Handler
	if cfg.MCPEnabled {
		registry := tools.NewRegistry()
		registry.RegisterChatOps(cfg.ClusterName, metricsAdapter, clusterAdapter)
		mcpHandler = mcpserver.NewServer(registry, meters).Handler()
		slog.Info("mcp endpoint enabled", "path", "/mcp")
	}

	srv := server.New(server.Options{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		ProbeAddr:    fmt.Sprintf(":%d", cfg.Port+1),
		WebhookToken: cfg.MattermostWebhookToken,
		Dispatcher:   orch,
		Health: func() server.Health {
			return health(cfg, status(), clusterAdapter.Available())
		},
		Ready: func() bool {
			return disc == nil || disc.IsReady()
		},
		MCP:     mcpHandler,
		Metrics: metricsHandler,
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if disc != nil {
		disc.Start(ctx)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook server error", "error", err)
			stop()
		}
	}()

	slog.Info("server ready", "port", cfg.Port)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		slog.Warn("deferred tasks still running at shutdown", "error", err)
	}

	// Flush pending OTel data before exit
	if err := telemetry.Shutdown(shutdownCtx, tracerShutdown, meterShutdown, loggerShutdown); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
	}

	slog.Info("server stopped")
}

func health(cfg *config.Config, s dispatch.Status, apiClient bool) server.Health {
	label := func(ok bool, yes, no string) string {
		if ok {
			return yes
		}
		return no
	}
	h := server.Health{
		Status: "healthy",
		Services: map[string]string{
			"prometheus":         label(s.Metrics, "configured", "not configured"),
			"kubernetes":         label(apiClient, "initialized", "not initialized"),
			"openai":             label(s.Model, "configured", "not configured"),
			"mattermost":         label(s.Chat, "configured", "not configured"),
			"kubectl_subprocess": label(cfg.EnableKubectlSubprocess, "enabled", "disabled"),
		},
	}
	if cfg.EnableKubectlSubprocess {
		h.KubectlPath = cfg.KubectlPath
	}
	return h
}
