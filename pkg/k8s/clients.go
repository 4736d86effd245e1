// Package k8s builds the Kubernetes clients shared by the cluster adapter,
// the discovery poller and the troubleshooting workflow.
package k8s

import (
	"fmt"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type Clients struct {
	Clientset kubernetes.Interface
	Discovery discovery.DiscoveryInterface
	// Host is the API server address, empty for injected clients.
	Host string
}

// NewClients resolves a rest config in-cluster first, then from kubeconfigPath,
// then from the default kubeconfig loading rules.
func NewClients(kubeconfigPath string) (*Clients, error) {
	restCfg, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Clients{
		Clientset: clientset,
		Discovery: clientset.Discovery(),
		Host:      restCfg.Host,
	}, nil
}

// FromClientset wraps an existing clientset, typically a fake one in tests.
func FromClientset(cs kubernetes.Interface) *Clients {
	return &Clients{Clientset: cs, Discovery: cs.Discovery()}
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	return kubeConfig.ClientConfig()
}
