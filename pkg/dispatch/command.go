// Package dispatch turns an inbound chat message into a synchronous reply
// and, for anything that needs a backend, a deferred task that posts the
// real answer when it is ready.
package dispatch

import (
	"strings"

	"github.com/isitobservable/chatops-assistant/pkg/format"
)

// CommandKind is the closed set of things an inbound message can be.
type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandMetric
	CommandMetricText
	CommandKubectl
	CommandKubectlYAML
	CommandQuery
	CommandQueryText
	CommandWorkflow
	CommandHelp
	CommandPing
	CommandStatus
)

var commandNames = [...]string{
	CommandChat:        "chat",
	CommandMetric:      "metric",
	CommandMetricText:  "metric-text",
	CommandKubectl:     "kubectl",
	CommandKubectlYAML: "kubectl-yaml",
	CommandQuery:       "query",
	CommandQueryText:   "query-text",
	CommandWorkflow:    "workflow",
	CommandHelp:        "help",
	CommandPing:        "ping",
	CommandStatus:      "status",
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Deferred reports whether the command needs a backend round trip.
func (k CommandKind) Deferred() bool {
	switch k {
	case CommandHelp, CommandPing, CommandStatus:
		return false
	default:
		return true
	}
}

// Output is the format a directive asks for.
func (k CommandKind) Output() format.Output {
	switch k {
	case CommandMetricText, CommandQueryText:
		return format.OutputText
	case CommandKubectlYAML:
		return format.OutputYAML
	default:
		return format.OutputTable
	}
}

// Command is a parsed inbound message. Args is the text after the directive,
// or the whole message for CommandChat.
type Command struct {
	Kind CommandKind
	Args string
}

// directives are matched exactly against the first word.
var directives = map[string]CommandKind{
	"metric":       CommandMetric,
	"metric-text":  CommandMetricText,
	"kubectl":      CommandKubectl,
	"kubectl-yaml": CommandKubectlYAML,
	"query":        CommandQuery,
	"query-text":   CommandQueryText,
}

var keywords = map[string]CommandKind{
	"help":   CommandHelp,
	"ping":   CommandPing,
	"status": CommandStatus,
}

// ParseCommand applies the dispatch table in priority order: prefixed
// directives, then keywords, then the language model fallback. A directive
// without arguments is not a directive.
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)
	first, rest, _ := strings.Cut(trimmed, " ")
	first = strings.ToLower(first)
	rest = strings.TrimSpace(rest)

	if kind, ok := directives[first]; ok && rest != "" {
		return Command{Kind: kind, Args: rest}
	}
	if first == "workflow" {
		return Command{Kind: CommandWorkflow, Args: rest}
	}
	if kind, ok := keywords[first]; ok {
		return Command{Kind: kind, Args: rest}
	}
	return Command{Kind: CommandChat, Args: trimmed}
}
