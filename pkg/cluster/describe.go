package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/yaml"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const maxDescribeEvents = 10

func (a *Adapter) describe(ctx context.Context, spec QuerySpec, output format.Output) (string, error) {
	if spec.Name == "" {
		return "", types.ParseError("describe", fmt.Sprintf("Error: %s name not found in describe command.", singular(spec.Resource)), "describe "+singular(spec.Resource)+" <name> [-n namespace]")
	}
	if spec.AllNamespaces {
		spec.Namespace = DefaultNamespace
	}

	obj, text, err := a.describeObject(ctx, spec)
	if err != nil {
		return "", err
	}
	if output == format.OutputYAML || output == format.OutputJSON {
		return structuredObject(singular(spec.Resource), spec.Name, obj), nil
	}
	return text, nil
}

// DescribePod renders the kubectl-describe style summary of a pod.
func (a *Adapter) DescribePod(ctx context.Context, namespace, name string) (string, error) {
	if !a.Available() {
		return "", errClientUnavailable
	}
	_, text, err := a.describeObject(ctx, QuerySpec{Verb: "describe", Resource: ResourcePods, Namespace: namespace, Name: name})
	return text, err
}

func (a *Adapter) describeObject(ctx context.Context, spec QuerySpec) (runtime.Object, string, error) {
	cs := a.clients.Clientset
	op := fmt.Sprintf("describing %s %s", singular(spec.Resource), spec.Name)
	d := &describer{now: a.now()}

	switch spec.Resource {
	case ResourcePods:
		pod, err := cs.CoreV1().Pods(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify(op, err)
		}
		pod.Kind, pod.APIVersion = "Pod", "v1"
		d.pod(pod)
		d.events(a.events(ctx, spec.Namespace, "Pod", spec.Name))
		return pod, d.render("Pod Description: " + spec.Name), nil

	case ResourceDeployments:
		dep, err := cs.AppsV1().Deployments(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify(op, err)
		}
		dep.Kind, dep.APIVersion = "Deployment", "apps/v1"
		d.meta(&dep.ObjectMeta, true)
		if dep.Spec.Selector != nil {
			d.field(0, "Selector", metav1.FormatLabelSelector(dep.Spec.Selector))
		}
		rec := deploymentRecord(dep)
		d.field(0, "Replicas", fmt.Sprintf("%d desired | %d updated | %d total | %d available | %d unavailable",
			rec.Replicas, dep.Status.UpdatedReplicas, dep.Status.Replicas, dep.Status.AvailableReplicas, dep.Status.UnavailableReplicas))
		d.field(0, "StrategyType", string(dep.Spec.Strategy.Type))
		d.containers(dep.Spec.Template.Spec.Containers, nil)
		d.line(0, "Conditions:")
		for _, c := range dep.Status.Conditions {
			d.field(1, string(c.Type), fmt.Sprintf("%s (%s)", c.Status, c.Reason))
		}
		d.events(a.events(ctx, spec.Namespace, "Deployment", spec.Name))
		return dep, d.render("Deployment Description: " + spec.Name), nil

	case ResourceServices:
		svc, err := cs.CoreV1().Services(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify(op, err)
		}
		svc.Kind, svc.APIVersion = "Service", "v1"
		d.meta(&svc.ObjectMeta, true)
		d.field(0, "Selector", labels.FormatLabels(svc.Spec.Selector))
		d.field(0, "Type", string(svc.Spec.Type))
		d.field(0, "IP", svc.Spec.ClusterIP)
		for _, p := range svc.Spec.Ports {
			d.field(0, "Port", fmt.Sprintf("%s %d/%s -> %s", p.Name, p.Port, p.Protocol, p.TargetPort.String()))
			if p.NodePort != 0 {
				d.field(0, "NodePort", fmt.Sprintf("%s %d/%s", p.Name, p.NodePort, p.Protocol))
			}
		}
		d.events(a.events(ctx, spec.Namespace, "Service", spec.Name))
		return svc, d.render("Service Description: " + spec.Name), nil

	case ResourceNodes:
		node, err := cs.CoreV1().Nodes().Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify(op, err)
		}
		node.Kind, node.APIVersion = "Node", "v1"
		d.meta(&node.ObjectMeta, false)
		d.field(0, "Status", nodeRecord(node).Status)
		d.field(0, "Unschedulable", fmt.Sprintf("%t", node.Spec.Unschedulable))
		d.line(0, "Addresses:")
		for _, addr := range node.Status.Addresses {
			d.field(1, string(addr.Type), addr.Address)
		}
		d.line(0, "Capacity:")
		for _, res := range []corev1.ResourceName{corev1.ResourceCPU, corev1.ResourceMemory, corev1.ResourcePods} {
			if q, ok := node.Status.Capacity[res]; ok {
				d.field(1, string(res), q.String())
			}
		}
		d.line(0, "Conditions:")
		for _, c := range node.Status.Conditions {
			d.field(1, string(c.Type), fmt.Sprintf("%s (%s) %s", c.Status, c.Reason, c.Message))
		}
		info := node.Status.NodeInfo
		d.field(0, "Kubelet Version", info.KubeletVersion)
		d.field(0, "OS Image", info.OSImage)
		d.field(0, "Container Runtime", info.ContainerRuntimeVersion)
		d.events(a.events(ctx, "", "Node", spec.Name))
		return node, d.render("Node Description: " + spec.Name), nil

	case ResourceNamespaces:
		ns, err := cs.CoreV1().Namespaces().Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", classify(op, err)
		}
		ns.Kind, ns.APIVersion = "Namespace", "v1"
		d.meta(&ns.ObjectMeta, false)
		d.field(0, "Status", string(ns.Status.Phase))
		return ns, d.render("Namespace Description: " + spec.Name), nil
	}
	return nil, "", unsupported("describe " + spec.Resource)
}

// events returns the most recent events for an object, newest first.
// Failures are logged and yield no events.
func (a *Adapter) events(ctx context.Context, namespace, kind, name string) []corev1.Event {
	list, err := a.clients.Clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + name,
	})
	if err != nil {
		slog.Warn("could not fetch events", "kind", kind, "name", name, "error", err)
		return nil
	}
	var out []corev1.Event
	for _, e := range list.Items {
		if e.InvolvedObject.Name != name || (e.InvolvedObject.Kind != "" && e.InvolvedObject.Kind != kind) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return eventTime(out[i]).After(eventTime(out[j])) })
	if len(out) > maxDescribeEvents {
		out = out[:maxDescribeEvents]
	}
	return out
}

func eventTime(e corev1.Event) time.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp.Time
	case !e.EventTime.IsZero():
		return e.EventTime.Time
	default:
		return e.CreationTimestamp.Time
	}
}

type describer struct {
	b   strings.Builder
	now time.Time
}

func (d *describer) line(indent int, s string) {
	d.b.WriteString(strings.Repeat("  ", indent) + s + "\n")
}

func (d *describer) field(indent int, label, value string) {
	if value == "" {
		value = "<none>"
	}
	d.line(indent, fmt.Sprintf("%-*s%s", 20-2*indent, label+":", value))
}

func (d *describer) meta(m *metav1.ObjectMeta, namespaced bool) {
	d.field(0, "Name", m.Name)
	if namespaced {
		d.field(0, "Namespace", m.Namespace)
	}
	d.field(0, "Created", fmt.Sprintf("%s (%s ago)", m.CreationTimestamp.UTC().Format(time.RFC3339), format.Age(m.CreationTimestamp.Time, d.now)))
	d.field(0, "Labels", labels.FormatLabels(m.Labels))
}

func (d *describer) pod(p *corev1.Pod) {
	d.meta(&p.ObjectMeta, true)
	node := p.Spec.NodeName
	if node == "" {
		node = "Not assigned"
	}
	d.field(0, "Node", node)
	d.field(0, "Status", string(p.Status.Phase))
	if p.Status.Reason != "" {
		d.field(0, "Reason", p.Status.Reason)
	}
	if p.Status.Message != "" {
		d.field(0, "Message", p.Status.Message)
	}
	d.field(0, "IP", p.Status.PodIP)
	d.containers(p.Spec.Containers, p.Status.ContainerStatuses)
	d.line(0, "Conditions:")
	for _, c := range p.Status.Conditions {
		d.field(1, string(c.Type), string(c.Status))
	}
}

func (d *describer) containers(containers []corev1.Container, statuses []corev1.ContainerStatus) {
	byName := make(map[string]corev1.ContainerStatus, len(statuses))
	for _, s := range statuses {
		byName[s.Name] = s
	}
	d.line(0, "Containers:")
	for _, c := range containers {
		d.line(1, c.Name+":")
		d.field(2, "Image", c.Image)
		s, ok := byName[c.Name]
		if !ok {
			continue
		}
		d.state(2, "State", s.State)
		if s.LastTerminationState.Terminated != nil {
			d.state(2, "Last State", s.LastTerminationState)
		}
		d.field(2, "Ready", fmt.Sprintf("%t", s.Ready))
		d.field(2, "Restart Count", fmt.Sprintf("%d", s.RestartCount))
	}
}

func (d *describer) state(indent int, label string, s corev1.ContainerState) {
	switch {
	case s.Running != nil:
		d.field(indent, label, "Running")
	case s.Waiting != nil:
		d.field(indent, label, "Waiting")
		d.field(indent+1, "Reason", s.Waiting.Reason)
		if s.Waiting.Message != "" {
			d.field(indent+1, "Message", s.Waiting.Message)
		}
	case s.Terminated != nil:
		d.field(indent, label, "Terminated")
		d.field(indent+1, "Reason", s.Terminated.Reason)
		if s.Terminated.Message != "" {
			d.field(indent+1, "Message", s.Terminated.Message)
		}
		d.field(indent+1, "Exit Code", fmt.Sprintf("%d", s.Terminated.ExitCode))
	default:
		d.field(indent, label, "Unknown")
	}
}

func (d *describer) events(events []corev1.Event) {
	if len(events) == 0 {
		d.field(0, "Events", "No events found.")
		return
	}
	d.line(0, "Events:")
	for _, e := range events {
		d.line(1, fmt.Sprintf("%-8s %-20s %-6s %s", e.Type, e.Reason, format.Age(eventTime(e), d.now), e.Message))
	}
}

func (d *describer) render(title string) string {
	return fmt.Sprintf("### %s\n\n```\n%s```", title, d.b.String())
}

func structuredObject(kind, name string, obj runtime.Object) string {
	if accessor, ok := obj.(metav1.ObjectMetaAccessor); ok {
		accessor.GetObjectMeta().SetManagedFields(nil)
	}
	out, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("failed to render %s %s: %v", kind, name, err)
	}
	return fmt.Sprintf("### %s %s (YAML)\n\n```yaml\n%s```", titleCase(kind), name, out)
}

func singular(resource string) string {
	return strings.TrimSuffix(resource, "s")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
