package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// Pod is the read-only snapshot of a pod used for rendering.
type Pod struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Phase     string    `json:"status"`
	Ready     string    `json:"ready,omitempty"`
	Restarts  int32     `json:"restarts"`
	Node      string    `json:"node,omitempty"`
	CreatedAt time.Time `json:"creationTimestamp"`
}

// Service is the read-only snapshot of a service used for rendering.
type Service struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Type      string    `json:"type"`
	ClusterIP string    `json:"clusterIP"`
	Ports     []string  `json:"ports,omitempty"`
	CreatedAt time.Time `json:"creationTimestamp"`
}

// Deployment is the read-only snapshot of a deployment used for rendering.
type Deployment struct {
	Name          string    `json:"name"`
	Namespace     string    `json:"namespace"`
	Replicas      int32     `json:"replicas"`
	ReadyReplicas int32     `json:"readyReplicas"`
	CreatedAt     time.Time `json:"creationTimestamp"`
}

// Namespace is the read-only snapshot of a namespace used for rendering.
type Namespace struct {
	Name      string    `json:"name"`
	Phase     string    `json:"status"`
	CreatedAt time.Time `json:"creationTimestamp"`
}

// Node is the read-only snapshot of a node used for rendering.
type Node struct {
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	KubeletVersion string    `json:"version"`
	CreatedAt      time.Time `json:"creationTimestamp"`
}

func PodsTable(pods []Pod, now time.Time) string {
	if len(pods) == 0 {
		return NoneFound("pods")
	}
	t := &table{title: "Pods", headers: []string{"Name", "Namespace", "Status", "Restarts", "Age"}}
	counts := map[string]int{}
	for _, p := range pods {
		t.add(p.Name, p.Namespace, "**"+p.Phase+"**", strconv.Itoa(int(p.Restarts)), Age(p.CreatedAt, now))
		counts[p.Phase]++
	}

	phases := make([]string, 0, len(counts))
	for phase := range counts {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	parts := make([]string, 0, len(phases))
	for _, phase := range phases {
		parts = append(parts, fmt.Sprintf("%d %s", counts[phase], phase))
	}
	return t.String() + "\n**Summary:** " + strings.Join(parts, ", ")
}

func PodsYAML(pods []Pod) string {
	if len(pods) == 0 {
		return NoneFound("pods")
	}
	return documents("Pods", pods)
}

func ServicesTable(services []Service, now time.Time) string {
	if len(services) == 0 {
		return NoneFound("services")
	}
	t := &table{title: "Services", headers: []string{"Name", "Namespace", "Type", "Cluster-IP", "Port(s)", "Age"}}
	for _, s := range services {
		ports := "None"
		if len(s.Ports) > 0 {
			ports = strings.Join(s.Ports, ",")
		}
		t.add(s.Name, s.Namespace, s.Type, s.ClusterIP, ports, Age(s.CreatedAt, now))
	}
	return t.String()
}

func ServicesYAML(services []Service) string {
	if len(services) == 0 {
		return NoneFound("services")
	}
	return documents("Services", services)
}

func DeploymentsTable(deployments []Deployment, now time.Time) string {
	if len(deployments) == 0 {
		return NoneFound("deployments")
	}
	t := &table{title: "Deployments", headers: []string{"Name", "Namespace", "Ready", "Age"}}
	for _, d := range deployments {
		t.add(d.Name, d.Namespace, fmt.Sprintf("%d/%d", d.ReadyReplicas, d.Replicas), Age(d.CreatedAt, now))
	}
	return t.String()
}

func DeploymentsYAML(deployments []Deployment) string {
	if len(deployments) == 0 {
		return NoneFound("deployments")
	}
	return documents("Deployments", deployments)
}

func NamespacesTable(namespaces []Namespace, now time.Time) string {
	if len(namespaces) == 0 {
		return NoneFound("namespaces")
	}
	t := &table{title: "Namespaces", headers: []string{"Name", "Status", "Age"}}
	for _, n := range namespaces {
		t.add(n.Name, n.Phase, Age(n.CreatedAt, now))
	}
	return t.String()
}

func NamespacesYAML(namespaces []Namespace) string {
	if len(namespaces) == 0 {
		return NoneFound("namespaces")
	}
	return documents("Namespaces", namespaces)
}

func NodesTable(nodes []Node, now time.Time) string {
	if len(nodes) == 0 {
		return NoneFound("nodes")
	}
	t := &table{title: "Nodes", headers: []string{"Name", "Status", "Age", "Version"}}
	for _, n := range nodes {
		t.add(n.Name, n.Status, Age(n.CreatedAt, now), n.KubeletVersion)
	}
	return t.String()
}

func NodesYAML(nodes []Node) string {
	if len(nodes) == 0 {
		return NoneFound("nodes")
	}
	return documents("Nodes", nodes)
}

// documents renders one YAML document per record inside a fenced block.
func documents[T any](title string, records []T) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (YAML)\n\n```yaml\n", title)
	for i, r := range records {
		if i > 0 {
			b.WriteString("---\n")
		}
		out, err := yaml.Marshal(r)
		if err != nil {
			fmt.Fprintf(&b, "# failed to render record: %v\n", err)
			continue
		}
		b.Write(out)
	}
	b.WriteString("```")
	return b.String()
}
