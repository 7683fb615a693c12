package supervisor_test

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/model"
	"github.com/corral-dev/corral/internal/supervisor"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
}

func TestStartAllSingleServiceImmediateReady(t *testing.T) {
	requireSh(t)
	t.Parallel()

	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"api": {Command: "echo hi && sleep 5"},
	}}
	sup := supervisor.New(cfg)
	require.NoError(t, sup.Init())

	var statuses []model.Status
	sup.Bus().OnStatusChange(func(e eventbus.StatusChange) { statuses = append(statuses, e.Status) })

	require.NoError(t, sup.StartAll(t.Context(), []string{"api"}))

	require.Eventually(t, func() bool {
		snap, _ := sup.Get("api")
		return snap.Status == model.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"hi"}, sup.GetOutputLines("api", model.StreamStdout, 10))
	require.NoError(t, sup.StopAll(t.Context()))
}

func TestDependentWaitsAndInheritsEnv(t *testing.T) {
	requireSh(t)
	t.Parallel()

	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"a": {
			Command: "echo ready && sleep 5",
			OnReady: func(_ string, setEnv func(string, string)) {
				setEnv("URL", "http://x")
			},
		},
		"b": {Command: "echo got=$URL && sleep 5", DependsOn: []string{"a"}},
	}}
	sup := supervisor.New(cfg)
	require.NoError(t, sup.Init())
	require.NoError(t, sup.StartAll(t.Context(), []string{"b"}))

	require.Eventually(t, func() bool {
		snap, _ := sup.Get("b")
		return snap.Status == model.StatusWaiting
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, _ := sup.Get("b")
		return snap.Status == model.StatusRunning
	}, 3*time.Second, 10*time.Millisecond)

	lines := sup.GetOutputLines("b", model.StreamCombined, 10)
	require.Contains(t, lines, "got=http://x")
	require.NoError(t, sup.StopAll(t.Context()))
}

// TestDependentSpawnsExactlyOnceOnDependencyReady guards against a race
// where both the gated-start goroutine's awaitDeps poll and the
// recovery watcher's bus handler observe the dependency becoming
// running at nearly the same moment and both try to spawn the
// dependent. Only one of them should win.
func TestDependentSpawnsExactlyOnceOnDependencyReady(t *testing.T) {
	requireSh(t)
	t.Parallel()

	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"a": {
			Command:   "echo ready",
			ReadyWhen: func(output string) bool { return strings.Contains(output, "ready") },
		},
		"b": {Command: "echo $$ && sleep 5", DependsOn: []string{"a"}},
	}}
	sup := supervisor.New(cfg)
	require.NoError(t, sup.Init())

	var mu sync.Mutex
	var starting int
	sup.Bus().OnStatusChange(func(e eventbus.StatusChange) {
		if e.ID == "b" && e.Status == model.StatusStarting {
			mu.Lock()
			starting++
			mu.Unlock()
		}
	})

	require.NoError(t, sup.StartAll(t.Context(), []string{"b"}))

	require.Eventually(t, func() bool {
		snap, _ := sup.Get("b")
		return snap.Status == model.StatusRunning
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, starting, "b must transition to starting exactly once")
	require.Len(t, sup.GetOutputLines("b", model.StreamCombined, 10), 1,
		"exactly one child process should have printed its pid")
	require.NoError(t, sup.StopAll(t.Context()))
}

func TestStartAllCycleFailsFast(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"a": {Command: "true", DependsOn: []string{"b"}},
		"b": {Command: "true", DependsOn: []string{"a"}},
	}}
	sup := supervisor.New(cfg)
	require.NoError(t, sup.Init())
	err := sup.StartAll(t.Context(), []string{"a", "b"})
	require.ErrorIs(t, err, model.ErrDependencyCycle)

	snap, _ := sup.Get("a")
	require.Equal(t, model.StatusStopped, snap.Status)
}

func TestKillCascadeStopsDescendants(t *testing.T) {
	requireSh(t)
	t.Parallel()

	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"tree": {Command: "sleep 1000 & sleep 1000 & wait"},
	}}
	sup := supervisor.New(cfg)
	require.NoError(t, sup.Init())
	require.NoError(t, sup.StartAll(t.Context(), []string{"tree"}))

	require.Eventually(t, func() bool {
		snap, _ := sup.Get("tree")
		return snap.Status == model.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Stop(t.Context(), "tree"))
	require.Eventually(t, func() bool {
		snap, _ := sup.Get("tree")
		return snap.Status == model.StatusStopped
	}, 6*time.Second, 20*time.Millisecond)
}
