package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want QuerySpec
	}{
		{
			name: "all namespaces",
			in:   "kubectl get pods --all-namespaces",
			want: QuerySpec{Verb: "get", Resource: ResourcePods, AllNamespaces: true},
		},
		{
			name: "short all namespaces and alias",
			in:   "get po -A",
			want: QuerySpec{Verb: "get", Resource: ResourcePods, AllNamespaces: true},
		},
		{
			name: "namespace and label selector",
			in:   "kubectl get svc -n kube-system -l app=web",
			want: QuerySpec{Verb: "get", Resource: ResourceServices, Namespace: "kube-system", LabelSelector: "app=web"},
		},
		{
			name: "equals forms",
			in:   "kubectl get deploy --namespace=shop --selector=tier=api --field-selector=metadata.name=web",
			want: QuerySpec{Verb: "get", Resource: ResourceDeployments, Namespace: "shop", LabelSelector: "tier=api", FieldSelector: "metadata.name=web"},
		},
		{
			name: "quoted field selector",
			in:   `kubectl get pods --field-selector="status.phase!=Running"`,
			want: QuerySpec{Verb: "get", Resource: ResourcePods, Namespace: DefaultNamespace, FieldSelector: "status.phase!=Running"},
		},
		{
			name: "quoted set-based selector keeps spaces",
			in:   `get pods -l 'app in (a, b)'`,
			want: QuerySpec{Verb: "get", Resource: ResourcePods, Namespace: DefaultNamespace, LabelSelector: "app in (a, b)"},
		},
		{
			name: "name after kind",
			in:   "kubectl get node worker-1 -o yaml",
			want: QuerySpec{Verb: "get", Resource: ResourceNodes, Name: "worker-1", Namespace: DefaultNamespace, Output: format.OutputYAML},
		},
		{
			name: "kind slash name and attached output",
			in:   "kubectl GET deployment/web -ojson",
			want: QuerySpec{Verb: "get", Resource: ResourceDeployments, Name: "web", Namespace: DefaultNamespace, Output: format.OutputJSON},
		},
		{
			name: "logs with container and tail",
			in:   "kubectl logs pod/api-0 -c app --tail=20 -n shop",
			want: QuerySpec{Verb: "logs", Resource: ResourcePods, Name: "api-0", Container: "app", TailLines: 20, Namespace: "shop"},
		},
		{
			name: "logs defaults",
			in:   "logs api-0 sidecar",
			want: QuerySpec{Verb: "logs", Resource: ResourcePods, Name: "api-0", Container: "sidecar", TailLines: DefaultTailLines, Namespace: DefaultNamespace},
		},
		{
			name: "multi-line fragment with prompt",
			in:   "# list everything\n$ kubectl describe pod api-0 -n shop\nkubectl get pods",
			want: QuerySpec{Verb: "describe", Resource: ResourcePods, Name: "api-0", Namespace: "shop"},
		},
		{
			name: "informational verb",
			in:   "kubectl version",
			want: QuerySpec{Verb: "version", Namespace: DefaultNamespace},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			got.Args = nil
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"kubectl",
		"",
		"get pods -n",
		"logs api-0 --tail abc",
		`get pods -l "app=web`,
	} {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.Equal(t, types.ErrKindParse, types.KindOf(err), in)
	}
}

func TestTokenize(t *testing.T) {
	got, err := Tokenize(`get pods -l "app=web" --field-selector='status.phase!=Running' a\ b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "pods", "-l", "app=web", "--field-selector=status.phase!=Running", "a b"}, got)
}

func TestCheckMutating(t *testing.T) {
	for _, in := range []string{
		"kubectl delete pod x",
		"kubectl DELETE pod x -o yaml",
		"kubectl apply -f deploy.yaml",
		"kubectl exec -it api-0 -- sh",
		"kubectl auth can-i get pods",
		"/usr/local/bin/kubectl create ns x",
		"kubectl -n shop delete pod x",
	} {
		err := CheckMutating(in)
		require.Error(t, err, in)
		assert.Equal(t, types.ErrKindSecurity, types.KindOf(err), in)
	}

	for _, in := range []string{
		"kubectl get pods -l app=delete",
		"kubectl logs edit-service",
		"kubectl describe pod create-user-job",
		"kubectl get svc auth",
		"kubectl describe deployment create -n x",
		"kubectl logs delete -c exec",
	} {
		assert.NoError(t, CheckMutating(in), in)
	}
}

func TestCheckSubprocess(t *testing.T) {
	spec := func(line string) QuerySpec {
		s, err := Parse(line)
		require.NoError(t, err)
		return s
	}

	assert.NoError(t, CheckSubprocess("kubectl top nodes", spec("kubectl top nodes")))

	for _, line := range []string{
		"kubectl rollout restart deploy/web",
		"kubectl get pods; rm -rf /",
		"kubectl get pods $(whoami)",
		"kubectl get pods > /tmp/out",
		"kubectl get pods | grep api",
		"kubectl get pods && kubectl cp a b",
		"kubectl top pod auth",
	} {
		err := CheckSubprocess(line, spec(line))
		require.Error(t, err, line)
		assert.Equal(t, types.ErrKindSecurity, types.KindOf(err), line)
	}
}
