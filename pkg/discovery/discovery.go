package discovery

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
)

const pollInterval = 60 * time.Second

// Resource is one served API resource, as listed by api-resources.
type Resource struct {
	Name       string
	ShortNames []string
	APIVersion string
	Namespaced bool
	Kind       string
}

// Snapshot is the last successful discovery result.
type Snapshot struct {
	GitVersion    string
	Platform      string
	GoVersion     string
	GroupVersions []string
	Resources     []Resource
	FetchedAt     time.Time
}

func (s Snapshot) equal(o Snapshot) bool {
	return s.GitVersion == o.GitVersion && slices.Equal(s.GroupVersions, o.GroupVersions)
}

type OnChangeFunc func(Snapshot)

type Discovery struct {
	client   discovery.DiscoveryInterface
	snapshot Snapshot
	ready    bool
	onChange OnChangeFunc
	interval time.Duration
	mu       sync.RWMutex
}

func New(client discovery.DiscoveryInterface, onChange OnChangeFunc) *Discovery {
	return &Discovery{
		client:   client,
		onChange: onChange,
		interval: pollInterval,
	}
}

// Snapshot returns the latest snapshot and whether one has been taken yet.
func (d *Discovery) Snapshot() (Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot, d.ready
}

// IsReady reports whether the initial discovery has completed.
func (d *Discovery) IsReady() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// Start polls once synchronously, then every interval until ctx is done.
func (d *Discovery) Start(ctx context.Context) {
	d.Poll()
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Poll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Poll refreshes the snapshot. Failures keep the previous snapshot.
func (d *Discovery) Poll() {
	info, err := d.client.ServerVersion()
	if err != nil {
		slog.Warn("discovery: failed to fetch server version", "error", err)
		return
	}

	groups, resourceLists, err := d.client.ServerGroupsAndResources()
	if err != nil && !discovery.IsGroupDiscoveryFailedError(err) {
		slog.Warn("discovery: failed to fetch server groups", "error", err)
		return
	}
	if err != nil {
		slog.Debug("discovery: partial group discovery", "error", err)
	}

	next := Snapshot{
		GitVersion: info.GitVersion,
		Platform:   info.Platform,
		GoVersion:  info.GoVersion,
		FetchedAt:  time.Now(),
	}
	for _, g := range groups {
		for _, v := range g.Versions {
			next.GroupVersions = append(next.GroupVersions, v.GroupVersion)
		}
	}
	sort.Strings(next.GroupVersions)
	next.Resources = flattenResources(resourceLists)

	d.mu.Lock()
	changed := !d.ready || !next.equal(d.snapshot)
	d.snapshot = next
	d.ready = true
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(next)
	}
}

func flattenResources(lists []*metav1.APIResourceList) []Resource {
	var out []Resource
	for _, list := range lists {
		if list == nil {
			continue
		}
		if _, err := schema.ParseGroupVersion(list.GroupVersion); err != nil {
			continue
		}
		for _, r := range list.APIResources {
			// subresources such as pods/log
			if strings.Contains(r.Name, "/") {
				continue
			}
			out = append(out, Resource{
				Name:       r.Name,
				ShortNames: r.ShortNames,
				APIVersion: list.GroupVersion,
				Namespaced: r.Namespaced,
				Kind:       r.Kind,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].APIVersion < out[j].APIVersion
	})
	return out
}
