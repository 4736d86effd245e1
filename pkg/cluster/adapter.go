// Package cluster answers read-only kubectl-style commands through the typed
// Kubernetes clientset, with an optional, gated kubectl subprocess fallback.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/isitobservable/chatops-assistant/pkg/discovery"
	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/k8s"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// SnapshotSource provides discovery data for the informational verbs.
type SnapshotSource interface {
	Snapshot() (discovery.Snapshot, bool)
}

type Options struct {
	// Timeout bounds API calls and the subprocess.
	Timeout     time.Duration
	Subprocess  bool
	KubectlPath string
	Runner      Runner
	Discovery   SnapshotSource
}

type Adapter struct {
	clients *k8s.Clients
	opts    Options
	now     func() time.Time
}

// New builds an adapter. clients may be nil when no cluster configuration
// could be loaded; commands then use the subprocess or report a configuration error.
func New(clients *k8s.Clients, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KubectlPath == "" {
		opts.KubectlPath = "kubectl"
	}
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	return &Adapter{clients: clients, opts: opts, now: time.Now}
}

// Available reports whether an API client was initialized.
func (a *Adapter) Available() bool {
	return a.clients != nil && a.clients.Clientset != nil
}

// Execute runs one command and renders it in the requested output, unless
// the command overrides it with -o. Failures are rendered into the report.
func (a *Adapter) Execute(ctx context.Context, command string, output format.Output) types.Report {
	line := CommandLine(command)
	if err := CheckMutating(line); err != nil {
		slog.Warn("rejected mutating cluster command", "command", line)
		return types.Failed(err)
	}

	spec, err := Parse(line)
	if err != nil {
		return types.Failed(err)
	}
	if spec.Output != "" {
		output = spec.Output
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	text, err := a.route(ctx, line, spec, output)
	if err != nil {
		return types.Failed(err)
	}
	return types.Report{Text: text}
}

func (a *Adapter) route(ctx context.Context, line string, spec QuerySpec, output format.Output) (string, error) {
	if !allowed(spec.Verb) {
		return "", unsupported(line)
	}
	if !a.Available() {
		if a.opts.Subprocess {
			slog.Info("kubernetes client not available, using subprocess fallback")
			return a.runSubprocess(ctx, line, spec, output)
		}
		return "", errClientUnavailable
	}

	switch spec.Verb {
	case "get":
		if Supported(spec.Resource) {
			return a.get(ctx, spec, output)
		}
	case "describe":
		if Supported(spec.Resource) {
			return a.describe(ctx, spec, output)
		}
	case "logs":
		return a.logs(ctx, spec)
	case "version", "cluster-info", "api-versions", "api-resources":
		return a.info(ctx, spec)
	}

	if a.opts.Subprocess {
		return a.runSubprocess(ctx, line, spec, output)
	}
	return "", unsupported(line)
}

var errClientUnavailable = types.ConfigurationError("Kubernetes", "no cluster client available; set KUBERNETES_CONFIG_PATH or ENABLE_KUBECTL_SUBPROCESS=true")

func unsupported(command string) error {
	return types.ParseError("kubectl",
		fmt.Sprintf("### Command Not Supported: %s\n\nSupported verbs: get, describe, logs, version, cluster-info, api-versions, api-resources. "+
			"Resources: pods, services, deployments, namespaces, nodes.", command),
		usage)
}

func (a *Adapter) get(ctx context.Context, spec QuerySpec, output format.Output) (string, error) {
	structured := output == format.OutputYAML || output == format.OutputJSON
	now := a.now()

	switch spec.Resource {
	case ResourcePods:
		pods, note, err := a.ListPods(ctx, spec)
		if err != nil {
			return "", err
		}
		records := make([]format.Pod, 0, len(pods))
		for i := range pods {
			records = append(records, PodRecord(&pods[i]))
		}
		if structured {
			return note + format.PodsYAML(records), nil
		}
		return note + format.PodsTable(records, now), nil

	case ResourceServices:
		items, err := a.listServices(ctx, spec)
		if err != nil {
			return "", err
		}
		records := make([]format.Service, 0, len(items))
		for i := range items {
			records = append(records, serviceRecord(&items[i]))
		}
		if structured {
			return format.ServicesYAML(records), nil
		}
		return format.ServicesTable(records, now), nil

	case ResourceDeployments:
		apps := a.clients.Clientset.AppsV1().Deployments(spec.Namespace)
		var records []format.Deployment
		if spec.byName() {
			d, err := apps.Get(ctx, spec.Name, metav1.GetOptions{})
			if err != nil {
				return "", classify("getting deployment "+spec.Name, err)
			}
			records = append(records, deploymentRecord(d))
		} else {
			list, err := apps.List(ctx, listOptions(spec, spec.FieldSelector))
			if err != nil {
				return "", classify("getting deployments", err)
			}
			items := keepNamed(list.Items, spec.Name)
			for i := range items {
				records = append(records, deploymentRecord(&items[i]))
			}
		}
		if structured {
			return format.DeploymentsYAML(records), nil
		}
		return format.DeploymentsTable(records, now), nil

	case ResourceNamespaces:
		nsClient := a.clients.Clientset.CoreV1().Namespaces()
		var records []format.Namespace
		if spec.byName() {
			n, err := nsClient.Get(ctx, spec.Name, metav1.GetOptions{})
			if err != nil {
				return "", classify("getting namespace "+spec.Name, err)
			}
			records = append(records, namespaceRecord(n))
		} else {
			list, err := nsClient.List(ctx, listOptions(spec, spec.FieldSelector))
			if err != nil {
				return "", classify("getting namespaces", err)
			}
			items := keepNamed(list.Items, spec.Name)
			for i := range items {
				records = append(records, namespaceRecord(&items[i]))
			}
		}
		if structured {
			return format.NamespacesYAML(records), nil
		}
		return format.NamespacesTable(records, now), nil

	case ResourceNodes:
		nodeClient := a.clients.Clientset.CoreV1().Nodes()
		var records []format.Node
		if spec.byName() {
			n, err := nodeClient.Get(ctx, spec.Name, metav1.GetOptions{})
			if err != nil {
				return "", classify("getting node "+spec.Name, err)
			}
			records = append(records, nodeRecord(n))
		} else {
			list, err := nodeClient.List(ctx, listOptions(spec, spec.FieldSelector))
			if err != nil {
				return "", classify("getting nodes", err)
			}
			items := keepNamed(list.Items, spec.Name)
			for i := range items {
				records = append(records, nodeRecord(&items[i]))
			}
		}
		if structured {
			return format.NodesYAML(records), nil
		}
		return format.NodesTable(records, now), nil
	}
	return "", unsupported("get " + spec.Resource)
}

// ListPods lists pods for spec. Phase exclusions in the field selector are
// applied client-side; note is the annotation to prepend when that happened.
func (a *Adapter) ListPods(ctx context.Context, spec QuerySpec) (pods []corev1.Pod, note string, err error) {
	if !a.Available() {
		return nil, "", errClientUnavailable
	}
	podClient := a.clients.Clientset.CoreV1().Pods(spec.Namespace)
	if spec.byName() {
		p, err := podClient.Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify("getting pod "+spec.Name, err)
		}
		return []corev1.Pod{*p}, "", nil
	}

	server, excluded := splitPhaseExclusions(spec.FieldSelector)
	list, err := podClient.List(ctx, listOptions(spec, server))
	if err != nil {
		return nil, "", classify("getting pods", err)
	}
	items := keepNamed(list.Items, spec.Name)
	if len(excluded) == 0 {
		return items, "", nil
	}

	kept := make([]corev1.Pod, 0, len(items))
	for _, p := range items {
		if !excluded[string(p.Status.Phase)] {
			kept = append(kept, p)
		}
	}
	slog.Info("client-side pod filtering", "fieldSelector", spec.FieldSelector, "before", len(items), "after", len(kept))
	note = fmt.Sprintf("**Note:** Filtered %d pods client-side (field-selector '%s' not supported server-side)\n\n", len(kept), spec.FieldSelector)
	return kept, note, nil
}

func (a *Adapter) listServices(ctx context.Context, spec QuerySpec) ([]corev1.Service, error) {
	svc := a.clients.Clientset.CoreV1().Services(spec.Namespace)
	if spec.byName() {
		s, err := svc.Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, classify("getting service "+spec.Name, err)
		}
		return []corev1.Service{*s}, nil
	}
	list, err := svc.List(ctx, listOptions(spec, spec.FieldSelector))
	if err != nil {
		return nil, classify("getting services", err)
	}
	return keepNamed(list.Items, spec.Name), nil
}

// listOptions narrows the listing to spec.Name with metadata.name when a name
// is combined with selectors.
func listOptions(spec QuerySpec, fieldSelector string) metav1.ListOptions {
	if spec.Name != "" {
		named := "metadata.name=" + spec.Name
		if fieldSelector == "" {
			fieldSelector = named
		} else {
			fieldSelector = named + "," + fieldSelector
		}
	}
	return metav1.ListOptions{LabelSelector: spec.LabelSelector, FieldSelector: fieldSelector}
}

// keepNamed drops items not called name, for servers that ignore the
// metadata.name field selector. An empty name keeps everything.
func keepNamed[T any, PT interface {
	*T
	metav1.Object
}](items []T, name string) []T {
	if name == "" {
		return items
	}
	kept := make([]T, 0, 1)
	for i := range items {
		if PT(&items[i]).GetName() == name {
			kept = append(kept, items[i])
		}
	}
	return kept
}

// splitPhaseExclusions separates status.phase!=X terms, which are filtered
// locally, from the terms sent to the API server.
func splitPhaseExclusions(selector string) (server string, excluded map[string]bool) {
	if selector == "" {
		return "", nil
	}
	var keep []string
	for _, term := range strings.Split(selector, ",") {
		term = strings.TrimSpace(term)
		if phase, ok := strings.CutPrefix(term, "status.phase!="); ok {
			if excluded == nil {
				excluded = map[string]bool{}
			}
			excluded[phase] = true
			continue
		}
		if term != "" {
			keep = append(keep, term)
		}
	}
	return strings.Join(keep, ","), excluded
}
