package tools

import (
	"context"
	"strings"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/script"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// ReportData is the data of a tool that ran a backend.
type ReportData struct {
	Input  string `json:"input"`
	Format string `json:"format"`
	Text   string `json:"text"`
}

// --- query_metrics ---

type QueryMetricsTool struct {
	BaseTool
	Metrics Executor
}

func (t *QueryMetricsTool) Name() string { return "query_metrics" }
func (t *QueryMetricsTool) Description() string {
	return "Run a read-only PromQL instant query against Prometheus and render the result"
}
func (t *QueryMetricsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":  stringProperty("PromQL expression evaluated at the current time"),
			"format": stringProperty("Output format (default: table)", "table", "text", "json"),
		},
		"required": []string{"query"},
	}
}

func (t *QueryMetricsTool) Run(ctx context.Context, args map[string]interface{}) (*StandardResponse, error) {
	query := strings.TrimSpace(getStringArg(args, "query", ""))
	if query == "" {
		return nil, types.ParseError(t.Name(), "query is required", `{"query": "up"}`)
	}
	output := format.ParseOutput(getStringArg(args, "format", ""), format.OutputTable)
	return t.run(ctx, t.Name(), t.Metrics, query, output)
}

// --- run_cluster_command ---

type RunClusterCommandTool struct {
	BaseTool
	Cluster Executor
}

func (t *RunClusterCommandTool) Name() string { return "run_cluster_command" }
func (t *RunClusterCommandTool) Description() string {
	return "Run a read-only kubectl-style command (get, describe, logs, version, cluster-info, api-versions, api-resources); mutating verbs are rejected"
}
func (t *RunClusterCommandTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": stringProperty("Command line, with or without the leading kubectl"),
			"format":  stringProperty("Output format (default: table); -o in the command wins", "table", "yaml", "json"),
		},
		"required": []string{"command"},
	}
}

func (t *RunClusterCommandTool) Run(ctx context.Context, args map[string]interface{}) (*StandardResponse, error) {
	command := strings.TrimSpace(getStringArg(args, "command", ""))
	if command == "" {
		return nil, types.ParseError(t.Name(), "command is required", `{"command": "kubectl get pods -n default"}`)
	}
	output := format.ParseOutput(getStringArg(args, "format", ""), format.OutputTable)
	return t.run(ctx, t.Name(), t.Cluster, command, output)
}

func (b BaseTool) run(ctx context.Context, name string, exec Executor, input string, output format.Output) (*StandardResponse, error) {
	report := exec.Execute(ctx, input, output)
	if report.Err != nil {
		return nil, report.Err
	}
	return b.newResponse(name, ReportData{Input: input, Format: string(output), Text: report.Text}), nil
}

// --- classify_script ---

type ClassifyScriptTool struct{ BaseTool }

func (t *ClassifyScriptTool) Name() string { return "classify_script" }
func (t *ClassifyScriptTool) Description() string {
	return "Classify text as a PromQL query, a kubectl command or neither, and extract the executable fragment"
}
func (t *ClassifyScriptTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": stringProperty("Free text, typically a language model reply with code blocks"),
		},
		"required": []string{"text"},
	}
}

func (t *ClassifyScriptTool) Run(_ context.Context, args map[string]interface{}) (*StandardResponse, error) {
	text := getStringArg(args, "text", "")
	if strings.TrimSpace(text) == "" {
		return nil, types.ParseError(t.Name(), "text is required", `{"text": "kubectl get pods"}`)
	}
	return t.newResponse(t.Name(), script.Classify(text)), nil
}
