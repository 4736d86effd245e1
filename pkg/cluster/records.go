package cluster

import (
	"errors"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// PodRecord converts a pod into its table row.
func PodRecord(p *corev1.Pod) format.Pod {
	var restarts int32
	ready := 0
	for _, cs := range p.Status.ContainerStatuses {
		restarts += cs.RestartCount
		if cs.Ready {
			ready++
		}
	}
	phase := string(p.Status.Phase)
	if phase == "" {
		phase = "Unknown"
	}
	return format.Pod{
		Name:      p.Name,
		Namespace: p.Namespace,
		Phase:     phase,
		Ready:     fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)),
		Restarts:  restarts,
		Node:      p.Spec.NodeName,
		CreatedAt: p.CreationTimestamp.Time,
	}
}

func serviceRecord(s *corev1.Service) format.Service {
	ports := make([]string, 0, len(s.Spec.Ports))
	for _, p := range s.Spec.Ports {
		if p.NodePort != 0 {
			ports = append(ports, fmt.Sprintf("%d:%d/%s", p.Port, p.NodePort, p.Protocol))
		} else {
			ports = append(ports, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
		}
	}
	return format.Service{
		Name:      s.Name,
		Namespace: s.Namespace,
		Type:      string(s.Spec.Type),
		ClusterIP: s.Spec.ClusterIP,
		Ports:     ports,
		CreatedAt: s.CreationTimestamp.Time,
	}
}

func deploymentRecord(d *appsv1.Deployment) format.Deployment {
	var replicas int32 = 1
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	return format.Deployment{
		Name:          d.Name,
		Namespace:     d.Namespace,
		Replicas:      replicas,
		ReadyReplicas: d.Status.ReadyReplicas,
		CreatedAt:     d.CreationTimestamp.Time,
	}
}

func namespaceRecord(n *corev1.Namespace) format.Namespace {
	return format.Namespace{Name: n.Name, Phase: string(n.Status.Phase), CreatedAt: n.CreationTimestamp.Time}
}

func nodeRecord(n *corev1.Node) format.Node {
	status := "Unknown"
	for _, c := range n.Status.Conditions {
		if c.Type != corev1.NodeReady {
			continue
		}
		if c.Status == corev1.ConditionTrue {
			status = "Ready"
		} else {
			status = "NotReady"
		}
	}
	if n.Spec.Unschedulable {
		status += ",SchedulingDisabled"
	}
	return format.Node{Name: n.Name, Status: status, KubeletVersion: n.Status.NodeInfo.KubeletVersion, CreatedAt: n.CreationTimestamp.Time}
}

// classify maps a client-go failure onto the error taxonomy: anything the API
// server answered with a status is a backend error, everything else is transport.
func classify(op string, err error) error {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		reason := status.Status().Message
		if reason == "" {
			reason = string(status.Status().Reason)
		}
		return types.BackendError(op, reason, err)
	}
	return types.TransportError(op, err)
}
