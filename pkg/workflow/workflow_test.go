package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/isitobservable/chatops-assistant/pkg/cluster"
	"github.com/isitobservable/chatops-assistant/pkg/k8s"
	"github.com/isitobservable/chatops-assistant/pkg/llm"
)

type fakeModel struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeModel) Complete(_ context.Context, _, user string) (string, error) {
	f.prompt = user
	return f.reply, f.err
}

type transcript struct{ posts []string }

func (tr *transcript) notify(_ context.Context, text string) error {
	tr.posts = append(tr.posts, text)
	return nil
}

func (tr *transcript) step(name string) string {
	for _, p := range tr.posts {
		if strings.Contains(p, "**[Workflow Step: "+name+"]**") {
			return p
		}
	}
	return ""
}

func newPod(ns, name string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Hour))},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "shop/api:bad"}}},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

func newRunner(model llm.Client, objs ...runtime.Object) *Runner {
	r, _ := newRunnerWithClientset(model, objs...)
	return r
}

func newRunnerWithClientset(model llm.Client, objs ...runtime.Object) (*Runner, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objs...) //nolint:staticcheck // NewClientset requires apply config generation
	r := NewRunner(cluster.New(k8s.FromClientset(cs), cluster.Options{}), model)
	r.Pause = 0
	r.newID = func() string { return "run-1" }
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, cs
}

func TestRunFindsAbnormalPodAndAsksForRemedy(t *testing.T) {
	broken := newPod("shop", "api-0", corev1.PodPending)
	broken.Status.ContainerStatuses = []corev1.ContainerStatus{{
		Name: "app",
		State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
			Reason:  "ImagePullBackOff",
			Message: "Back-off pulling image \"shop/api:bad\"",
		}},
	}}
	model := &fakeModel{reply: "Fix the image tag."}
	r := newRunner(model,
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "shop"}},
		newPod("shop", "web-0", corev1.PodRunning),
		newPod("shop", "job-0", corev1.PodSucceeded),
		broken,
	)

	tr := &transcript{}
	result, err := r.Run(context.Background(), Params{UserName: "alice"}, tr.notify)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, "run-1", result.RunID)

	assert.Contains(t, tr.posts[0], "@alice Starting Kubernetes Troubleshooting Workflow")
	assert.Contains(t, tr.posts[0], "Target Namespace: `All`")
	assert.Contains(t, tr.step(stepNamespaces), "| shop |")
	assert.Contains(t, tr.step(stepPods), "| web-0 | shop |")
	assert.Contains(t, tr.step(stepAbnormal), "Filtered")
	assert.Contains(t, tr.step(stepDescription), "Describing pod: **api-0** in namespace **shop**")
	assert.Contains(t, tr.step(stepErrors), "ImagePullBackOff")
	assert.Equal(t, "💡 **[Workflow Step: 6. Recommended Solution]**\n\nFix the image tag.", tr.step(stepSolution))
	assert.Contains(t, tr.posts[len(tr.posts)-1], "Workflow Complete")

	assert.Contains(t, model.prompt, "Pod Name: api-0")
	assert.Contains(t, model.prompt, "Status: Pending")
}

func TestRunListsAbnormalPodsOnce(t *testing.T) {
	model := &fakeModel{reply: "Restart it."}
	r, cs := newRunnerWithClientset(model,
		newPod("shop", "web-0", corev1.PodRunning),
		newPod("shop", "api-0", corev1.PodFailed),
		newPod("shop", "job-0", corev1.PodSucceeded),
	)

	tr := &transcript{}
	_, err := r.Run(context.Background(), Params{UserName: "alice", Namespace: "shop"}, tr.notify)
	require.NoError(t, err)

	// one listing for the pod overview step, one for the abnormal scan
	var podLists int
	for _, action := range cs.Actions() {
		if list, ok := action.(k8stesting.ListAction); ok && list.GetResource().Resource == "pods" {
			podLists++
		}
	}
	assert.Equal(t, 2, podLists)

	abnormal := tr.step(stepAbnormal)
	assert.Contains(t, abnormal, "| api-0 | shop | **Failed** |")
	assert.Contains(t, abnormal, "| job-0 | shop | **Succeeded** |")
	assert.NotContains(t, abnormal, "web-0")
	assert.Contains(t, tr.step(stepDescription), "Describing pod: **api-0** in namespace **shop**")
}

func TestRunNoAbnormalPods(t *testing.T) {
	model := &fakeModel{}
	r := newRunner(model, newPod("default", "web-0", corev1.PodRunning), newPod("default", "job-0", corev1.PodSucceeded))

	tr := &transcript{}
	_, err := r.Run(context.Background(), Params{UserName: "bob", Namespace: "default"}, tr.notify)
	require.NoError(t, err)
	assert.Contains(t, tr.step(stepNoAbnormal), "No abnormal pods found")
	assert.Empty(t, tr.step(stepDescription))
	assert.Empty(t, model.prompt)
}

func TestRunUserSpecifiedTarget(t *testing.T) {
	p := newPod("shop", "api-0", corev1.PodRunning)
	p.Status.ContainerStatuses = []corev1.ContainerStatus{{
		Name:  "app",
		State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Reason: "Error", ExitCode: 137}},
	}}
	model := &fakeModel{err: llm.ErrHighDemand}
	r := newRunner(model, p)

	tr := &transcript{}
	_, err := r.Run(context.Background(), Params{UserName: "carol", Namespace: "shop", Pod: "api-0"}, tr.notify)
	require.NoError(t, err)
	assert.Contains(t, tr.step(stepAbnormal), "Analyzing user-specified pod: **api-0** in namespace **shop**")
	assert.Contains(t, tr.step(stepErrors), "Exit Code:")
	assert.Contains(t, tr.step(stepSolution), "high demand")
	assert.Contains(t, model.prompt, "Status: User-specified")
}

func TestRunStepFailurePostsError(t *testing.T) {
	r := newRunner(&fakeModel{}, newPod("shop", "api-0", corev1.PodPending))
	tr := &transcript{}

	_, err := r.Run(context.Background(), Params{UserName: "dave", Namespace: "shop", Pod: "ghost"}, tr.notify)
	require.Error(t, err)
	last := tr.posts[len(tr.posts)-1]
	assert.True(t, strings.HasPrefix(last, "❌ **[Workflow Step: Workflow Error]**"))
	assert.Contains(t, last, `pods "ghost" not found`)
}

func TestRunStopsWhenPostingFails(t *testing.T) {
	r := newRunner(&fakeModel{})
	calls := 0
	result, err := r.Run(context.Background(), Params{}, func(context.Context, string) error {
		calls++
		return errors.New("chat down")
	})
	require.Error(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 2, calls)
}

func TestExtractErrors(t *testing.T) {
	description := strings.Join([]string{
		"Name:               api-0",
		"      Reason:       CrashLoopBackOff",
		"      Reason:       CrashLoopBackOff",
		"      Exit Code:    0",
		"      Exit Code:    1",
		"  Warning  BackOff   1m  Back-off restarting failed container",
		"Fail",
		"Ready:              false",
	}, "\n")

	assert.Equal(t, []string{
		"Reason:       CrashLoopBackOff",
		"Exit Code:    1",
		"Warning  BackOff   1m  Back-off restarting failed container",
	}, ExtractErrors(description))

	var many []string
	for i := 0; i < 15; i++ {
		many = append(many, "Error: boom "+strings.Repeat("x", i))
	}
	assert.Len(t, ExtractErrors(strings.Join(many, "\n")), maxErrorLines)
}

func TestParseParams(t *testing.T) {
	assert.Equal(t, Params{Namespace: "shop", Pod: "api-0"}, ParseParams("-n shop --pod api-0 extra"))
	assert.Equal(t, Params{}, ParseParams("-n"))
}
