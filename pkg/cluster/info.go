package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/isitobservable/chatops-assistant/pkg/discovery"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// info answers the informational verbs from the discovery snapshot without
// listing objects. When no snapshot was taken yet, discovery runs inline.
func (a *Adapter) info(ctx context.Context, spec QuerySpec) (string, error) {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	switch spec.Verb {
	case "version":
		b.WriteString("### Cluster Version\n\n")
		fmt.Fprintf(&b, "**Server Version:** `%s`\n", snap.GitVersion)
		fmt.Fprintf(&b, "**Platform:** `%s`\n", snap.Platform)
		fmt.Fprintf(&b, "**Go Version:** `%s`", snap.GoVersion)

	case "cluster-info":
		b.WriteString("### Cluster Info\n\n")
		if a.clients.Host != "" {
			fmt.Fprintf(&b, "Kubernetes control plane is running at `%s`\n", a.clients.Host)
		}
		fmt.Fprintf(&b, "**Server Version:** `%s`\n", snap.GitVersion)
		fmt.Fprintf(&b, "**API groups:** %d\n", len(snap.GroupVersions))
		fmt.Fprintf(&b, "**Resources:** %d", len(snap.Resources))

	case "api-versions":
		b.WriteString("### API Versions\n\n```\n")
		b.WriteString(strings.Join(snap.GroupVersions, "\n"))
		b.WriteString("\n```")

	case "api-resources":
		b.WriteString("### API Resources\n\n")
		b.WriteString("| Name | Short Names | API Version | Namespaced | Kind |\n")
		b.WriteString("| --- | --- | --- | --- | --- |\n")
		for _, r := range snap.Resources {
			fmt.Fprintf(&b, "| %s | %s | %s | %t | %s |\n", r.Name, strings.Join(r.ShortNames, ","), r.APIVersion, r.Namespaced, r.Kind)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *Adapter) snapshot(ctx context.Context) (discovery.Snapshot, error) {
	if a.opts.Discovery != nil {
		if snap, ok := a.opts.Discovery.Snapshot(); ok {
			return snap, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return discovery.Snapshot{}, types.TransportError("discovering cluster", err)
	}
	d := discovery.New(a.clients.Discovery, nil)
	d.Poll()
	snap, ok := d.Snapshot()
	if !ok {
		return discovery.Snapshot{}, types.TransportError("discovering cluster", fmt.Errorf("server version and API groups unavailable"))
	}
	return snap, nil
}
