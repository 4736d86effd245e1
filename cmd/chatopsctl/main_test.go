package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isitobservable/chatops-assistant/pkg/script"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(strings.NewReader(stdin))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestClassifyFromArgument(t *testing.T) {
	out, _, err := execute(t, "", "classify", "sum(rate(http_requests_total[5m])) by (job)")
	require.NoError(t, err)

	var c script.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, script.KindMetricsQuery, c.Kind)
}

func TestClassifyFromStdin(t *testing.T) {
	out, _, err := execute(t, "Try this:\n```bash\nkubectl get pods -n payments\n```", "classify", "-")
	require.NoError(t, err)

	var c script.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, script.KindClusterCommand, c.Kind)
	assert.Equal(t, "kubectl get pods -n payments", c.Fragment)
}

func TestMetricAgainstPrometheus(t *testing.T) {
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{"__name__":"up","job":"api"},"value":[1700000000,"1"]}]}}`))
	}))
	defer prom.Close()

	out, _, err := execute(t, "", "metric", "--prometheus-url", prom.URL, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "up")
	assert.Contains(t, out, "api")
}

func TestKubectlRejectsMutatingVerb(t *testing.T) {
	_, errOut, err := execute(t, "", "kubectl", "--kubeconfig", "/nonexistent/kubeconfig", "--kubectl-subprocess", "--", "delete", "pod", "web-0")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSecurity, types.KindOf(err))
	assert.Contains(t, errOut, "not allowed")
}
