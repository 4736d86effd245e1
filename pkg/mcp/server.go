// Package mcp serves the tool registry over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/isitobservable/chatops-assistant/pkg/telemetry"
	"github.com/isitobservable/chatops-assistant/pkg/tools"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const (
	mcpProtocolVersion = "2025-03-26"
	maxResultAttrLen   = 1024
)

// sensitiveKeys are argument key substrings that should be redacted from span attributes.
var sensitiveKeys = []string{"secret", "token", "key", "password", "credential"}

type Server struct {
	mcpServer *mcp.Server
	registry  *tools.Registry
	meters    *telemetry.Meters

	mu              sync.Mutex
	registeredTools map[string]struct{} // tracks tools currently registered in mcpServer
}

// NewServer wraps registry. meters may be nil.
func NewServer(registry *tools.Registry, meters *telemetry.Meters) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    telemetry.ServiceName,
		Version: "1.0.0",
	}, nil)

	return &Server{
		mcpServer:       mcpServer,
		registry:        registry,
		meters:          meters,
		registeredTools: make(map[string]struct{}),
	}
}

// SyncTools diffs the registry against what is currently registered in the MCP server,
// adding new tools and removing stale ones.
func (s *Server) SyncTools() {
	s.mu.Lock()
	defer s.mu.Unlock()

	registryTools := s.registry.List()

	wanted := make(map[string]struct{}, len(registryTools))
	for _, t := range registryTools {
		wanted[t.Name()] = struct{}{}
	}

	var toRemove []string
	for name := range s.registeredTools {
		if _, ok := wanted[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	if len(toRemove) > 0 {
		s.mcpServer.RemoveTools(toRemove...)
		for _, name := range toRemove {
			delete(s.registeredTools, name)
		}
		slog.Info("mcp: removed tools", "tools", toRemove)
	}

	added := 0
	for _, t := range registryTools {
		if _, ok := s.registeredTools[t.Name()]; ok {
			continue
		}
		s.mcpServer.AddTool(buildMCPTool(t), s.buildInstrumentedHandler(t))
		s.registeredTools[t.Name()] = struct{}{}
		added++
	}

	slog.Info("mcp: synced tools", "total", len(s.registeredTools), "added", added, "removed", len(toRemove))
}

// Handler returns the Streamable HTTP handler to mount on /mcp.
func (s *Server) Handler() http.Handler {
	s.SyncTools()
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

func buildMCPTool(t tools.Tool) *mcp.Tool {
	schemaJSON, _ := json.Marshal(t.InputSchema())

	tool := &mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if err := json.Unmarshal(schemaJSON, &tool.InputSchema); err != nil {
		slog.Warn("mcp: failed to parse input schema", "tool", t.Name(), "error", err)
	}
	return tool
}

// buildInstrumentedHandler wraps tool execution with spans and metrics
// following the GenAI and MCP semantic conventions.
func (s *Server) buildInstrumentedHandler(t tools.Tool) mcp.ToolHandler {
	tracer := otel.Tracer(telemetry.ServiceName)

	return func(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if meta := request.Params.GetMeta(); meta != nil {
			carrier := propagation.MapCarrier{}
			for k, v := range meta {
				if str, ok := v.(string); ok {
					carrier.Set(k, str)
				}
			}
			ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
		}

		sessionID := ""
		if request.Session != nil {
			sessionID = request.Session.ID()
		}

		ctx, span := tracer.Start(ctx, "execute_tool "+t.Name(),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("gen_ai.operation.name", "execute_tool"),
			attribute.String("gen_ai.tool.name", t.Name()),
			attribute.String("mcp.method.name", "tools/call"),
			attribute.String("mcp.protocol.version", mcpProtocolVersion),
			attribute.String("mcp.session.id", sessionID),
		)

		var args map[string]interface{}
		if request.Params.Arguments != nil {
			if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
				perr := types.ParseError(t.Name(), "failed to parse arguments", err.Error())
				s.recordError(ctx, span, t.Name(), perr)
				return errorResult(perr), nil
			}
		}
		if args == nil {
			args = make(map[string]interface{})
		}
		span.SetAttributes(attribute.String("gen_ai.tool.call.arguments", sanitizeArgs(args)))

		start := time.Now()
		result, err := t.Run(ctx, args)
		duration := time.Since(start).Seconds()

		if err != nil {
			s.recordMetrics(ctx, t.Name(), types.KindOf(err), duration)
			s.recordError(ctx, span, t.Name(), err)
			return errorResult(err), nil
		}

		s.recordMetrics(ctx, t.Name(), "", duration)
		span.SetStatus(codes.Ok, "")

		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			s.recordError(ctx, span, t.Name(), err)
			return errorResult(fmt.Errorf("failed to marshal result: %w", err)), nil
		}

		resultStr := string(jsonBytes)
		if len(resultStr) > maxResultAttrLen {
			resultStr = resultStr[:maxResultAttrLen]
		}
		span.SetAttributes(attribute.String("gen_ai.tool.call.result", resultStr))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(jsonBytes)}},
		}, nil
	}
}

// errorResult renders a *types.Error as JSON and anything else as its message.
func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	var terr *types.Error
	if errors.As(err, &terr) {
		if b, jerr := json.MarshalIndent(terr, "", "  "); jerr == nil {
			text = string(b)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func (s *Server) recordMetrics(ctx context.Context, toolName, errKind string, duration float64) {
	if s.meters == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.tool.name", toolName),
	}
	if errKind != "" {
		attrs = append(attrs, attribute.String("error.type", errKind))
	}
	s.meters.RequestDuration.Record(ctx, duration, telemetry.WithAttrs(attrs...))
	s.meters.RequestCount.Add(ctx, 1, telemetry.WithAttrs(attrs...))
}

func (s *Server) recordError(ctx context.Context, span trace.Span, toolName string, err error) {
	kind := types.KindOf(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.type", kind))
	span.RecordError(err)
	s.meters.Failed(ctx, kind, toolName)
}

// sanitizeArgs returns a JSON string of the arguments with sensitive values redacted.
func sanitizeArgs(args map[string]interface{}) string {
	sanitized := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	b, err := json.Marshal(sanitized)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
