package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/isitobservable/chatops-assistant/pkg/cluster"
	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/k8s"
	"github.com/isitobservable/chatops-assistant/pkg/llm"
	"github.com/isitobservable/chatops-assistant/pkg/metrics"
	"github.com/isitobservable/chatops-assistant/pkg/types"
	"github.com/isitobservable/chatops-assistant/pkg/workflow"
)

type post struct {
	channel    string
	callback   string
	text       string
	visibility types.Visibility
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []post
	fail  int
}

func (p *recordingPoster) PostMessage(_ context.Context, channelID, text string) error {
	return p.record(post{channel: channelID, text: text})
}

func (p *recordingPoster) PostCallback(_ context.Context, url, text string, v types.Visibility) error {
	return p.record(post{callback: url, text: text, visibility: v})
}

func (p *recordingPoster) record(x post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("chat unavailable")
	}
	p.posts = append(p.posts, x)
	return nil
}

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (f *fakeModel) Complete(context.Context, string, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeMetrics struct {
	queries []string
}

func (f *fakeMetrics) Execute(_ context.Context, q string, _ format.Output) types.Report {
	f.queries = append(f.queries, q)
	return types.Report{Text: "metrics for " + q}
}

func (f *fakeMetrics) Configured() bool { return true }

type panickingCluster struct{}

func (panickingCluster) Execute(context.Context, string, format.Output) types.Report {
	panic("boom")
}

func (panickingCluster) Available() bool { return true }

type fakeWorkflow struct{ params workflow.Params }

func (f *fakeWorkflow) Run(ctx context.Context, p workflow.Params, notify workflow.Notify) (*workflow.Result, error) {
	f.params = p
	return &workflow.Result{RunID: "r", Status: "completed"}, notify(ctx, "step one")
}

func waitTasks(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func message(text string) types.InboundMessage {
	return types.InboundMessage{Text: text, ChannelID: "chan-1", UserName: "alice"}
}

func TestMetricDirectiveEndToEnd(t *testing.T) {
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "up", r.Form.Get("query"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{"job":"api"},"value":[1710072000,"1"]}]}}`))
	}))
	defer prom.Close()
	adapter, err := metrics.New(prom.URL, 5*time.Second, nil)
	require.NoError(t, err)

	poster := &recordingPoster{}
	o := New(Deps{Metrics: adapter, Poster: poster})

	result := o.Dispatch(context.Background(), message("metric up"))
	assert.True(t, result.Deferred)
	assert.Equal(t, types.VisibilityPrivate, result.Visibility)
	assert.Equal(t, "Processing your Prometheus query as a table... I'll respond shortly.", result.Text)

	waitTasks(t, o)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "chan-1", poster.posts[0].channel)
	assert.Contains(t, poster.posts[0].text, "@alice requested metrics: \"up\"")
	assert.Contains(t, poster.posts[0].text, "### Prometheus Query Results\n\nQuery: `up`")
	assert.Contains(t, poster.posts[0].text, "| api | 1 |")
}

func TestKubectlAllNamespacesEndToEnd(t *testing.T) {
	cs := fake.NewSimpleClientset( //nolint:staticcheck // NewClientset requires apply config generation
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "shop"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}},
	)
	poster := &recordingPoster{}
	o := New(Deps{Cluster: cluster.New(k8s.FromClientset(cs), cluster.Options{}), Poster: poster})

	msg := message("kubectl get pods --all-namespaces")
	msg.CallbackURL = "https://chat.example.com/hooks/1"
	result := o.Dispatch(context.Background(), msg)
	assert.True(t, result.Deferred)

	waitTasks(t, o)
	actions := cs.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "list", actions[0].GetVerb())
	assert.Equal(t, "", actions[0].GetNamespace())

	require.Len(t, poster.posts, 1)
	assert.Equal(t, msg.CallbackURL, poster.posts[0].callback)
	assert.Equal(t, types.VisibilityChannel, poster.posts[0].visibility)
	assert.Contains(t, poster.posts[0].text, "| a | default |")
	assert.Contains(t, poster.posts[0].text, "| b | shop |")
}

func TestKubectlDeleteRejectedBeforeBackend(t *testing.T) {
	for _, text := range []string{"kubectl delete pod x", "kubectl-yaml delete pod x"} {
		cs := fake.NewSimpleClientset() //nolint:staticcheck // NewClientset requires apply config generation
		poster := &recordingPoster{}
		o := New(Deps{Cluster: cluster.New(k8s.FromClientset(cs), cluster.Options{}), Poster: poster})

		o.Dispatch(context.Background(), message(text))
		waitTasks(t, o)

		assert.Empty(t, cs.Actions(), text)
		require.Len(t, poster.posts, 1, text)
		assert.Contains(t, poster.posts[0].text, "not allowed", text)
	}
}

func TestKeywordsAreImmediate(t *testing.T) {
	o := New(Deps{Status: func() Status { return Status{Metrics: true, Cluster: false, Model: true, Chat: true} }})

	help := o.Dispatch(context.Background(), message("help"))
	assert.False(t, help.Deferred)
	assert.Equal(t, types.VisibilityChannel, help.Visibility)
	assert.Contains(t, help.Text, "metric [query]")

	ping := o.Dispatch(context.Background(), message("  PING "))
	assert.Equal(t, pingText, ping.Text)

	status := o.Dispatch(context.Background(), message("status"))
	assert.Contains(t, status.Text, "- Kubernetes: not configured")
	assert.Contains(t, status.Text, "- Prometheus: ready")
}

func TestChatRoutesDetectedScript(t *testing.T) {
	model := &fakeModel{reply: "Try this:\n```promql\nsum(rate(http_requests_total[5m]))\n```"}
	m := &fakeMetrics{}
	poster := &recordingPoster{}
	o := New(Deps{Metrics: m, Model: model, Poster: poster})

	result := o.Dispatch(context.Background(), message("how busy is the api?"))
	assert.Equal(t, "Processing your request... I'll respond shortly.", result.Text)
	waitTasks(t, o)

	assert.Equal(t, []string{"sum(rate(http_requests_total[5m]))"}, m.queries)
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].text, "**Detected PromQL query:** `sum(rate(http_requests_total[5m]))`")
	assert.Contains(t, poster.posts[0].text, "**Execution results:**\nmetrics for sum(rate(http_requests_total[5m]))")
}

func TestChatUnknownReturnsReplyVerbatim(t *testing.T) {
	model := &fakeModel{reply: "Hello! How can I help?"}
	m := &fakeMetrics{}
	poster := &recordingPoster{}
	o := New(Deps{Metrics: m, Model: model, Poster: poster})

	o.Dispatch(context.Background(), message("hi there"))
	waitTasks(t, o)

	assert.Empty(t, m.queries)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "@alice asked: \"hi there\"\n\nHello! How can I help?", poster.posts[0].text)
}

func TestQueryDirectiveUsesRequestedOutput(t *testing.T) {
	model := &fakeModel{reply: "```bash\nkubectl get pods -n shop\n```"}
	poster := &recordingPoster{}
	cs := fake.NewSimpleClientset() //nolint:staticcheck // NewClientset requires apply config generation
	o := New(Deps{Cluster: cluster.New(k8s.FromClientset(cs), cluster.Options{}), Model: model, Poster: poster})

	result := o.Dispatch(context.Background(), message("query-text list shop pods"))
	assert.Equal(t, acks[CommandQueryText], result.Text)
	waitTasks(t, o)

	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].text, "**Generated kubectl command:** `kubectl get pods -n shop`")
	assert.Contains(t, poster.posts[0].text, "No pods found.")
}

func TestModelFailureIsReported(t *testing.T) {
	poster := &recordingPoster{}
	o := New(Deps{Model: &fakeModel{err: llm.ErrThrottled}, Poster: poster})

	o.Dispatch(context.Background(), message("hello"))
	waitTasks(t, o)

	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0].text, "too many requests")
}

func TestPanicPostsApology(t *testing.T) {
	poster := &recordingPoster{}
	o := New(Deps{Cluster: panickingCluster{}, Poster: poster})

	o.Dispatch(context.Background(), message("kubectl get pods"))
	waitTasks(t, o)

	require.Len(t, poster.posts, 1)
	assert.Equal(t, "chan-1", poster.posts[0].channel)
	assert.Contains(t, poster.posts[0].text, "@alice Sorry, I encountered an error with your kubectl request")
}

func TestDeliveryFailureThenApologyFailureIsSilent(t *testing.T) {
	poster := &recordingPoster{fail: 2}
	o := New(Deps{Metrics: &fakeMetrics{}, Poster: poster})

	o.Dispatch(context.Background(), message("metric up"))
	waitTasks(t, o)
	assert.Empty(t, poster.posts)
	assert.Equal(t, 0, poster.fail)
}

func TestWorkflowDirective(t *testing.T) {
	wf := &fakeWorkflow{}
	poster := &recordingPoster{}
	o := New(Deps{Workflow: wf, Poster: poster})

	result := o.Dispatch(context.Background(), message("workflow -n shop -p api-0"))
	assert.True(t, result.Deferred)
	assert.Contains(t, result.Text, "Kubernetes Troubleshooting Workflow started!")
	assert.Contains(t, result.Text, "- Namespace: `shop`")
	waitTasks(t, o)

	assert.Equal(t, workflow.Params{UserName: "alice", Namespace: "shop", Pod: "api-0"}, wf.params)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, post{channel: "chan-1", text: "step one"}, poster.posts[0])
}
