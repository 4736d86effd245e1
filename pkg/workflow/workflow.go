// Package workflow runs the guided troubleshooting playbook: it walks from a
// cluster overview down to one abnormal pod and asks the language model for a
// remedy, posting each step to the conversation as it completes.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"

	"github.com/isitobservable/chatops-assistant/pkg/cluster"
	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/llm"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// Cluster is the subset of the cluster adapter the playbook needs.
type Cluster interface {
	Execute(ctx context.Context, command string, output format.Output) types.Report
	ListPods(ctx context.Context, spec cluster.QuerySpec) ([]corev1.Pod, string, error)
	DescribePod(ctx context.Context, namespace, name string) (string, error)
}

// Notify posts one message to the conversation.
type Notify func(ctx context.Context, text string) error

// Params are parsed from "workflow [-n namespace] [-p pod]".
type Params struct {
	UserName  string
	Namespace string
	Pod       string
}

// StepResult holds the outcome of one playbook step.
type StepResult struct {
	StepName string `json:"stepName"`
	Status   string `json:"status"` // "passed", "failed", "skipped"
	Output   string `json:"output,omitempty"`
}

// Result is the complete outcome of a run.
type Result struct {
	RunID   string       `json:"runId"`
	Status  string       `json:"status"` // "completed", "failed"
	Steps   []StepResult `json:"steps"`
	Summary string       `json:"summary"`
}

// Target is the pod the playbook settles on.
type Target struct {
	Name      string
	Namespace string
	Status    string
}

const maxDescriptionLen = 3000

// Step names, in posting order.
const (
	stepInitiated   = "Workflow Initiated"
	stepNamespaces  = "1. All Namespaces"
	stepPods        = "2. All Pods"
	stepAbnormal    = "3. Abnormal Pods"
	stepDescription = "4. Pod Description"
	stepNoAbnormal  = "4. Analysis Complete"
	stepErrors      = "5. Error Analysis"
	stepSolution    = "6. Recommended Solution"
	stepComplete    = "Workflow Complete"
	stepError       = "Workflow Error"
)

var stepEmoji = map[string]string{
	stepInitiated:   "🚀",
	stepNamespaces:  "📋",
	stepPods:        "🔍",
	stepAbnormal:    "⚠️",
	stepDescription: "📝",
	stepNoAbnormal:  "✅",
	stepErrors:      "🔎",
	stepSolution:    "💡",
	stepComplete:    "✅",
	stepError:       "❌",
}

type Runner struct {
	cluster Cluster
	model   llm.Client
	// Pause is slept between posted steps so they arrive in readable order.
	Pause time.Duration
	newID func() string
	now   func() time.Time
}

func NewRunner(c Cluster, model llm.Client) *Runner {
	return &Runner{cluster: c, model: model, Pause: 2 * time.Second, newID: func() string { return uuid.NewString() }, now: time.Now}
}

type run struct {
	*Runner
	notify Notify
	result *Result
}

// Run executes the playbook. A failing step posts a workflow error and stops;
// the returned error is that failure.
func (r *Runner) Run(ctx context.Context, p Params, notify Notify) (*Result, error) {
	rn := &run{Runner: r, notify: notify, result: &Result{RunID: r.newID(), Status: "completed"}}
	slog.Info("workflow: starting", "run_id", rn.result.RunID, "user", p.UserName, "namespace", p.Namespace, "pod", p.Pod)

	if err := rn.steps(ctx, p); err != nil {
		slog.Error("workflow: failed", "run_id", rn.result.RunID, "error", err)
		rn.result.Status = "failed"
		rn.result.Summary = err.Error()
		msg := fmt.Sprintf("Workflow failed with error: %s", types.UserMessage(err))
		if postErr := rn.post(ctx, stepError, msg); postErr != nil {
			slog.Error("workflow: failed to post error message", "run_id", rn.result.RunID, "error", postErr)
		}
		return rn.result, err
	}
	slog.Info("workflow: completed", "run_id", rn.result.RunID, "steps", len(rn.result.Steps))
	return rn.result, nil
}

func (rn *run) steps(ctx context.Context, p Params) error {
	if err := rn.post(ctx, stepInitiated, fmt.Sprintf(
		"@%s Starting Kubernetes Troubleshooting Workflow\nRun ID: `%s`\nTarget Namespace: `%s`\nTarget Pod: `%s`",
		p.UserName, rn.result.RunID, orDefault(p.Namespace, "All"), orDefault(p.Pod, "Auto-detect"))); err != nil {
		return err
	}

	if err := rn.command(ctx, stepNamespaces, "kubectl get namespaces"); err != nil {
		return err
	}

	scope := "--all-namespaces"
	if p.Namespace != "" {
		scope = "-n " + p.Namespace
	}
	if err := rn.command(ctx, stepPods, "kubectl get pods "+scope); err != nil {
		return err
	}

	target, overview, err := rn.findTarget(ctx, p, scope)
	if err != nil {
		return err
	}
	if err := rn.step(ctx, stepAbnormal, overview); err != nil {
		return err
	}
	if target == nil {
		rn.result.Summary = "no abnormal pods"
		if err := rn.step(ctx, stepNoAbnormal, "✅ Good news! No abnormal pods found in the cluster. All pods are either Running or Succeeded."); err != nil {
			return err
		}
		return rn.complete(ctx)
	}

	description, err := rn.cluster.DescribePod(ctx, target.Namespace, target.Name)
	if err != nil {
		return err
	}
	if len(description) > maxDescriptionLen {
		description = description[:maxDescriptionLen] + "\n\n... (truncated)"
	}
	if err := rn.step(ctx, stepDescription, fmt.Sprintf("Describing pod: **%s** in namespace **%s**\n\n%s", target.Name, target.Namespace, description)); err != nil {
		return err
	}

	errorLines := ExtractErrors(description)
	if len(errorLines) == 0 {
		rn.result.Summary = fmt.Sprintf("no errors found for %s/%s", target.Namespace, target.Name)
		if err := rn.step(ctx, stepErrors, "✅ No specific errors found in the pod description. The pod might be in a transient state or the issue might have resolved."); err != nil {
			return err
		}
		return rn.complete(ctx)
	}
	joined := strings.Join(errorLines, "\n")
	if err := rn.step(ctx, stepErrors, "**Extracted Error Information:**\n```\n"+joined+"\n```"); err != nil {
		return err
	}

	solution, err := rn.model.Complete(ctx, llm.AssistantPrompt, llm.RemedyPrompt(target.Name, target.Namespace, target.Status, joined))
	if err != nil {
		slog.Warn("workflow: remedy request failed", "run_id", rn.result.RunID, "error", err)
		solution = llm.UserMessage(err)
	}
	rn.result.Summary = fmt.Sprintf("analyzed %s/%s with %d error lines", target.Namespace, target.Name, len(errorLines))
	if err := rn.step(ctx, stepSolution, solution); err != nil {
		return err
	}
	return rn.complete(ctx)
}

// findTarget picks the first pod outside Running and Succeeded. Namespace
// and pod given together override the search.
func (rn *run) findTarget(ctx context.Context, p Params, scope string) (*Target, string, error) {
	if p.Namespace != "" && p.Pod != "" {
		return &Target{Name: p.Pod, Namespace: p.Namespace, Status: "User-specified"},
			fmt.Sprintf("Analyzing user-specified pod: **%s** in namespace **%s**", p.Pod, p.Namespace), nil
	}

	spec, err := cluster.Parse("kubectl get pods " + scope + " --field-selector=status.phase!=Running")
	if err != nil {
		return nil, "", err
	}
	pods, note, err := rn.cluster.ListPods(ctx, spec)
	if err != nil {
		return nil, "", err
	}

	// the posted table and the chosen target come from the same listing
	records := make([]format.Pod, 0, len(pods))
	var target *Target
	for i := range pods {
		pod := &pods[i]
		records = append(records, cluster.PodRecord(pod))
		if target == nil && pod.Status.Phase != corev1.PodSucceeded {
			slog.Info("workflow: found abnormal pod", "pod", pod.Name, "namespace", pod.Namespace, "phase", pod.Status.Phase)
			target = &Target{Name: pod.Name, Namespace: pod.Namespace, Status: string(pod.Status.Phase)}
		}
	}
	return target, note + format.PodsTable(records, rn.now()), nil
}

func (rn *run) command(ctx context.Context, name, command string) error {
	report := rn.cluster.Execute(ctx, command, format.OutputTable)
	if report.Err != nil {
		rn.result.Steps = append(rn.result.Steps, StepResult{StepName: name, Status: "failed", Output: report.Text})
		return report.Err
	}
	return rn.step(ctx, name, report.Text)
}

func (rn *run) step(ctx context.Context, name, text string) error {
	if err := rn.post(ctx, name, text); err != nil {
		return err
	}
	rn.result.Steps = append(rn.result.Steps, StepResult{StepName: name, Status: "passed", Output: text})
	return rn.pause(ctx)
}

func (rn *run) complete(ctx context.Context) error {
	return rn.post(ctx, stepComplete, fmt.Sprintf("Kubernetes Troubleshooting Workflow completed successfully!\nTotal steps executed: %d\nRun ID: `%s`",
		len(rn.result.Steps), rn.result.RunID))
}

func (rn *run) post(ctx context.Context, name, text string) error {
	emoji, ok := stepEmoji[name]
	if !ok {
		emoji = "▶️"
	}
	return rn.notify(ctx, fmt.Sprintf("%s **[Workflow Step: %s]**\n\n%s", emoji, name, text))
}

func (rn *run) pause(ctx context.Context) error {
	if rn.Pause <= 0 {
		return nil
	}
	t := time.NewTimer(rn.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
