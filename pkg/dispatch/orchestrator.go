package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/isitobservable/chatops-assistant/pkg/chat"
	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/llm"
	"github.com/isitobservable/chatops-assistant/pkg/script"
	"github.com/isitobservable/chatops-assistant/pkg/telemetry"
	"github.com/isitobservable/chatops-assistant/pkg/types"
	"github.com/isitobservable/chatops-assistant/pkg/workflow"
)

// Metrics executes PromQL instant queries.
type Metrics interface {
	Execute(ctx context.Context, query string, output format.Output) types.Report
	Configured() bool
}

// Cluster executes read-only kubectl-style commands.
type Cluster interface {
	Execute(ctx context.Context, command string, output format.Output) types.Report
	Available() bool
}

// Workflow runs the troubleshooting playbook.
type Workflow interface {
	Run(ctx context.Context, p workflow.Params, notify workflow.Notify) (*workflow.Result, error)
}

// Status reports which integrations are usable, for the status keyword.
type Status struct {
	Metrics bool
	Cluster bool
	Model   bool
	Chat    bool
}

type Deps struct {
	Metrics  Metrics
	Cluster  Cluster
	Model    llm.Client
	Poster   chat.Poster
	Workflow Workflow
	Meters   *telemetry.Meters
	Status   func() Status
}

// Orchestrator owns the dispatch table and the deferred tasks it starts.
type Orchestrator struct {
	deps   Deps
	tracer trace.Tracer
	tasks  sync.WaitGroup
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, tracer: otel.Tracer(telemetry.ServiceName)}
}

// Dispatch resolves msg and returns the synchronous reply. Commands that need
// a backend are scheduled in the background and acknowledged ephemerally.
func (o *Orchestrator) Dispatch(ctx context.Context, msg types.InboundMessage) types.DispatchResult {
	cmd := ParseCommand(msg.Text)
	o.deps.Meters.Dispatched(ctx, cmd.Kind.String())
	slog.Info("dispatch: received message", "command", cmd.Kind.String(), "user", msg.UserName, "channel_id", msg.ChannelID)

	switch cmd.Kind {
	case CommandHelp:
		return types.Immediate(helpText, types.VisibilityChannel)
	case CommandPing:
		return types.Immediate(pingText, types.VisibilityChannel)
	case CommandStatus:
		return types.Immediate(o.statusText(), types.VisibilityChannel)
	case CommandWorkflow:
		p := workflow.ParseParams(cmd.Args)
		p.UserName = msg.UserName
		o.spawn(ctx, msg, cmd, func(ctx context.Context) (string, error) {
			return "", o.runWorkflow(ctx, msg, p)
		})
		return types.Deferred(workflowAck(p))
	case CommandMetric, CommandMetricText:
		o.spawn(ctx, msg, cmd, func(ctx context.Context) (string, error) {
			report := o.metrics(ctx, cmd.Args, cmd.Kind.Output())
			return fmt.Sprintf("@%s requested metrics: \"%s\"\n\n%s", msg.UserName, cmd.Args, report.Text), nil
		})
	case CommandKubectl, CommandKubectlYAML:
		o.spawn(ctx, msg, cmd, func(ctx context.Context) (string, error) {
			report := o.cluster(ctx, cmd.Args, cmd.Kind.Output())
			return fmt.Sprintf("@%s requested kubectl: \"%s\"\n\n%s", msg.UserName, cmd.Args, report.Text), nil
		})
	case CommandQuery, CommandQueryText:
		o.spawn(ctx, msg, cmd, func(ctx context.Context) (string, error) {
			return o.naturalLanguage(ctx, msg.UserName, cmd.Args, cmd.Kind.Output()), nil
		})
	default:
		o.spawn(ctx, msg, cmd, func(ctx context.Context) (string, error) {
			return o.chatAndRoute(ctx, msg.UserName, cmd.Args), nil
		})
	}
	return types.Deferred(acks[cmd.Kind])
}

// Wait blocks until every deferred task has finished or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs task detached from the request. The result is delivered to the
// callback URL when one was given, else to the channel. A failed task or a
// failed delivery gets one apology attempt; if that fails too it is only logged.
func (o *Orchestrator) spawn(ctx context.Context, msg types.InboundMessage, cmd Command, task func(context.Context) (string, error)) {
	ctx = context.WithoutCancel(ctx)
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()

		ctx, span := o.tracer.Start(ctx, "dispatch "+cmd.Kind.String(), trace.WithAttributes(
			attribute.String("chatops.command", cmd.Kind.String()),
			attribute.String("chatops.user", msg.UserName),
		))
		defer span.End()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("dispatch: task panicked", "command", cmd.Kind.String(), "panic", r, "stack", string(debug.Stack()))
				err := fmt.Errorf("panic: %v", r)
				span.SetStatus(codes.Error, err.Error())
				o.apologize(ctx, msg, cmd, err)
			}
		}()

		text, err := task(ctx)
		if err == nil && text != "" {
			err = o.deliver(ctx, msg, text, types.VisibilityChannel)
		}
		if err != nil {
			slog.Error("dispatch: task failed", "command", cmd.Kind.String(), "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.apologize(ctx, msg, cmd, err)
			return
		}
		span.SetStatus(codes.Ok, "")
	}()
}

func (o *Orchestrator) deliver(ctx context.Context, msg types.InboundMessage, text string, visibility types.Visibility) error {
	if msg.CallbackURL != "" {
		return o.deps.Poster.PostCallback(ctx, msg.CallbackURL, text, visibility)
	}
	if visibility == types.VisibilityPrivate {
		text = "@" + msg.UserName + " " + text
	}
	return o.deps.Poster.PostMessage(ctx, msg.ChannelID, text)
}

func (o *Orchestrator) apologize(ctx context.Context, msg types.InboundMessage, cmd Command, cause error) {
	o.deps.Meters.Failed(ctx, types.KindOf(cause), cmd.Kind.String())
	text := fmt.Sprintf("Sorry, I encountered an error with your %s request: %s", cmd.Kind.String(), types.UserMessage(cause))
	if err := o.deliver(ctx, msg, text, types.VisibilityPrivate); err != nil {
		slog.Error("dispatch: failed to send error message", "command", cmd.Kind.String(), "error", err)
	}
}

func (o *Orchestrator) metrics(ctx context.Context, query string, output format.Output) types.Report {
	start := time.Now()
	report := o.deps.Metrics.Execute(ctx, query, output)
	o.record(ctx, "prometheus", start, report)
	return report
}

func (o *Orchestrator) cluster(ctx context.Context, command string, output format.Output) types.Report {
	start := time.Now()
	report := o.deps.Cluster.Execute(ctx, command, output)
	o.record(ctx, "kubernetes", start, report)
	return report
}

func (o *Orchestrator) complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	reply, err := o.deps.Model.Complete(ctx, system, user)
	o.record(ctx, "llm", start, types.Report{Err: err})
	return reply, err
}

func (o *Orchestrator) record(ctx context.Context, backend string, start time.Time, report types.Report) {
	kind := ""
	if report.Err != nil {
		kind = types.KindOf(report.Err)
		o.deps.Meters.Failed(ctx, kind, backend)
		slog.Warn("dispatch: backend call failed", "backend", backend, "error", report.Err)
	}
	o.deps.Meters.Backend(ctx, backend, start, kind)
}

func (o *Orchestrator) classify(ctx context.Context, reply string) script.Classification {
	c := script.Classify(reply)
	o.deps.Meters.Classified(ctx, string(c.Kind), c.Source)
	slog.Info("dispatch: classified model reply", "kind", c.Kind, "source", c.Source, "fragment", c.Fragment)
	return c
}

// naturalLanguage backs the query directives: the model is asked for a
// script and the script is executed.
func (o *Orchestrator) naturalLanguage(ctx context.Context, user, question string, output format.Output) string {
	header := fmt.Sprintf("@%s asked: \"%s\"\n\n", user, question)
	reply, err := o.complete(ctx, llm.QueryPrompt, question)
	if err != nil {
		return header + llm.UserMessage(err)
	}

	c := o.classify(ctx, reply)
	switch c.Kind {
	case script.KindMetricsQuery:
		report := o.metrics(ctx, c.Fragment, output)
		return header + fmt.Sprintf("**Generated PromQL:** `%s`\n\n%s", c.Fragment, report.Text)
	case script.KindClusterCommand:
		report := o.cluster(ctx, c.Fragment, output)
		return header + fmt.Sprintf("**Generated kubectl command:** `%s`\n\n%s", c.Fragment, report.Text)
	default:
		return header + reply
	}
}

// chatAndRoute backs free text: the model answers and any script in the
// answer is executed and appended.
func (o *Orchestrator) chatAndRoute(ctx context.Context, user, text string) string {
	header := fmt.Sprintf("@%s asked: \"%s\"\n\n", user, text)
	reply, err := o.complete(ctx, llm.AssistantPrompt, text)
	if err != nil {
		return header + llm.UserMessage(err)
	}

	c := o.classify(ctx, reply)
	var report types.Report
	var label string
	switch c.Kind {
	case script.KindMetricsQuery:
		label = "Detected PromQL query"
		report = o.metrics(ctx, c.Fragment, format.OutputTable)
	case script.KindClusterCommand:
		label = "Detected kubectl command"
		report = o.cluster(ctx, c.Fragment, format.OutputTable)
	default:
		return header + reply
	}
	return header + fmt.Sprintf("**Assistant's response:** %s\n\n**%s:** `%s`\n\n**Execution results:**\n%s", reply, label, c.Fragment, report.Text)
}

func (o *Orchestrator) runWorkflow(ctx context.Context, msg types.InboundMessage, p workflow.Params) error {
	notify := func(ctx context.Context, text string) error {
		return o.deps.Poster.PostMessage(ctx, msg.ChannelID, text)
	}
	start := time.Now()
	result, err := o.deps.Workflow.Run(ctx, p, notify)
	o.record(ctx, "workflow", start, types.Report{Err: err})
	if result != nil {
		slog.Info("dispatch: workflow finished", "run_id", result.RunID, "status", result.Status, "summary", result.Summary)
	}
	// The playbook already posted its own error step.
	return nil
}

func (o *Orchestrator) statusText() string {
	if o.deps.Status == nil {
		return "All systems operational. Prometheus and Kubernetes integrations ready."
	}
	s := o.deps.Status()
	if s.Metrics && s.Cluster && s.Model && s.Chat {
		return "All systems operational. Prometheus and Kubernetes integrations ready."
	}
	state := func(ok bool) string {
		if ok {
			return "ready"
		}
		return "not configured"
	}
	return strings.Join([]string{
		"Some integrations are unavailable:",
		"- Prometheus: " + state(s.Metrics),
		"- Kubernetes: " + state(s.Cluster),
		"- OpenAI: " + state(s.Model),
		"- Mattermost: " + state(s.Chat),
	}, "\n")
}

func workflowAck(p workflow.Params) string {
	var params string
	if p.Namespace != "" || p.Pod != "" {
		params = "\n**Parameters:**"
		if p.Namespace != "" {
			params += fmt.Sprintf("\n- Namespace: `%s`", p.Namespace)
		}
		if p.Pod != "" {
			params += fmt.Sprintf("\n- Pod: `%s`", p.Pod)
		}
	}
	return "🚀 Kubernetes Troubleshooting Workflow started!" + params +
		"\n\nI'll send updates as the workflow progresses.\n\n💡 **Tip:** You can also use parameters:\n`workflow -n <namespace> -p <pod>`"
}

var acks = map[CommandKind]string{
	CommandMetric:      "Processing your Prometheus query as a table... I'll respond shortly.",
	CommandMetricText:  "Processing your Prometheus query with text formatting... I'll respond shortly.",
	CommandKubectl:     "Processing your kubectl command as a table... I'll respond shortly.",
	CommandKubectlYAML: "Processing your kubectl command with YAML formatting... I'll respond shortly.",
	CommandQuery:       "Processing your natural language query... I'll respond shortly.",
	CommandQueryText:   "Processing your natural language query with text formatting... I'll respond shortly.",
	CommandChat:        "Processing your request... I'll respond shortly.",
}

const pingText = "Pong! I'm online and ready to help with Prometheus and Kubernetes queries."

const helpText = `Available commands:
- help: Show this help message
- ping: Check if the bot is online
- status: Get system status
- metric [query]: Execute a PromQL query against Prometheus (table format)
- metric-text [query]: Execute a PromQL query against Prometheus (text format)
- kubectl [command]: Execute a read-only kubectl command against Kubernetes (table format)
- kubectl-yaml [command]: Execute a read-only kubectl command against Kubernetes (yaml format)
- query [natural language]: Generate and execute PromQL or kubectl commands from natural language
- query-text [natural language]: Same as query but with text formatting
- workflow [-n namespace] [-p pod]: Run the Kubernetes troubleshooting workflow
- any other text: Will be answered by the language model and automatically routed to the appropriate service`
