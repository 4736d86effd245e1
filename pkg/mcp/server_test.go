package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/tools"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

type rejectingCluster struct{}

func (rejectingCluster) Execute(context.Context, string, format.Output) types.Report {
	return types.Failed(types.SecurityRejection("kubectl", "command 'delete' is not allowed"))
}

func connect(t *testing.T, registry *tools.Registry) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	s := NewServer(registry, nil)
	s.SyncTools()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestToolsListedAndCalled(t *testing.T) {
	registry := tools.NewRegistry()
	registry.RegisterChatOps("prod", nil, rejectingCluster{})
	cs := connect(t, registry)
	ctx := context.Background()

	list, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"classify_script", "run_cluster_command"}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "classify_script",
		Arguments: map[string]any{"text": "kubectl get pods -n default"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var envelope struct {
		Cluster string `json:"cluster"`
		Tool    string `json:"tool"`
		Data    struct {
			Kind     string `json:"kind"`
			Fragment string `json:"fragment"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &envelope))
	assert.Equal(t, "prod", envelope.Cluster)
	assert.Equal(t, "classify_script", envelope.Tool)
	assert.Equal(t, "cluster_command", envelope.Data.Kind)
	assert.Equal(t, "kubectl get pods -n default", envelope.Data.Fragment)
}

func TestToolErrorIsStructured(t *testing.T) {
	registry := tools.NewRegistry()
	registry.RegisterChatOps("prod", nil, rejectingCluster{})
	cs := connect(t, registry)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "run_cluster_command",
		Arguments: map[string]any{"command": "kubectl delete pod x"},
	})
	require.NoError(t, err)
	require.True(t, res.IsError)

	var body types.Error
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &body))
	assert.Equal(t, types.ErrKindSecurity, body.Kind)
	assert.Contains(t, body.Message, "not allowed")
}

func TestSyncToolsRemovesStale(t *testing.T) {
	registry := tools.NewRegistry()
	registry.RegisterChatOps("prod", nil, nil)
	s := NewServer(registry, nil)
	s.SyncTools()
	assert.Contains(t, s.registeredTools, "classify_script")

	registry.Unregister("classify_script")
	s.SyncTools()
	assert.Empty(t, s.registeredTools)
}

func TestSanitizeArgs(t *testing.T) {
	out := sanitizeArgs(map[string]interface{}{"query": "up", "api_key": "abc", "Token": "x"})
	assert.JSONEq(t, `{"query":"up","api_key":"[REDACTED]","Token":"[REDACTED]"}`, out)
}
