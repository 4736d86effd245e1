// Package tools exposes the chat-ops backends as MCP tools.
package tools

import (
	"context"
	"time"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Run(ctx context.Context, args map[string]interface{}) (*StandardResponse, error)
}

// StandardResponse is the envelope every tool returns.
type StandardResponse struct {
	Cluster   string      `json:"cluster"`
	Timestamp string      `json:"timestamp"`
	Tool      string      `json:"tool"`
	Data      interface{} `json:"data"`
}

// Executor is implemented by the metrics and cluster adapters.
type Executor interface {
	Execute(ctx context.Context, input string, output format.Output) types.Report
}

// BaseTool carries what every tool needs to build its envelope.
type BaseTool struct {
	ClusterName string
	now         func() time.Time
}

func (b BaseTool) newResponse(toolName string, data interface{}) *StandardResponse {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	return &StandardResponse{
		Cluster:   b.ClusterName,
		Timestamp: now().UTC().Format(time.RFC3339),
		Tool:      toolName,
		Data:      data,
	}
}

func getStringArg(args map[string]interface{}, key string, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

func stringProperty(description string, enum ...string) map[string]interface{} {
	p := map[string]interface{}{
		"type":        "string",
		"description": description,
	}
	if len(enum) > 0 {
		p["enum"] = enum
	}
	return p
}
