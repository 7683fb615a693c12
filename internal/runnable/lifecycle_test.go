package runnable_test

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/logstore"
	"github.com/corral-dev/corral/internal/model"
	"github.com/corral-dev/corral/internal/runnable"
	"github.com/stretchr/testify/require"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
}

func TestSpawnGraceReadiness(t *testing.T) {
	requireSh(t)
	t.Parallel()

	store := logstore.New(100)
	bus := eventbus.New()

	var statuses []model.Status
	bus.OnStatusChange(func(e eventbus.StatusChange) { statuses = append(statuses, e.Status) })

	def := model.RunnableDef{ID: "api", Command: "echo hi && sleep 2"}
	in := runnable.New("api", def, store, bus)

	require.NoError(t, in.Spawn(t.Context(), runnable.MergeEnv()))
	require.Eventually(t, func() bool {
		return len(store.ToArray("api", "stdout")) > 0
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"hi"}, store.ToArray("api", "stdout"))

	require.Eventually(t, func() bool {
		return in.Status() == model.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Stop(t.Context()))
	require.Eventually(t, func() bool {
		return in.Status() == model.StatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	require.Contains(t, statuses, model.StatusStarting)
	require.Contains(t, statuses, model.StatusRunning)
	require.Contains(t, statuses, model.StatusStopped)
}

func TestReadyWhenPredicate(t *testing.T) {
	requireSh(t)
	t.Parallel()

	store := logstore.New(100)
	bus := eventbus.New()

	def := model.RunnableDef{
		ID:      "db",
		Command: "echo one; echo two; sleep 0.05; echo 'listening on 5432'; sleep 5",
		ReadyWhen: func(output string) bool {
			return strings.Contains(output, "listening")
		},
	}
	in := runnable.New("db", def, store, bus)
	require.NoError(t, in.Spawn(t.Context(), runnable.MergeEnv()))

	require.Eventually(t, func() bool {
		return in.Status() == model.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Stop(t.Context()))
}

func TestExitNonZeroIsError(t *testing.T) {
	requireSh(t)
	t.Parallel()

	store := logstore.New(100)
	bus := eventbus.New()
	def := model.RunnableDef{ID: "bad", Command: "exit 3"}
	in := runnable.New("bad", def, store, bus)
	require.NoError(t, in.Spawn(t.Context(), runnable.MergeEnv()))

	require.Eventually(t, func() bool {
		return in.Status() == model.StatusError
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, in.Snapshot().Error, "3")
}

func TestSpawnIsNoOpWhileRunning(t *testing.T) {
	requireSh(t)
	t.Parallel()

	store := logstore.New(100)
	bus := eventbus.New()
	def := model.RunnableDef{ID: "api", Command: "sleep 5"}
	in := runnable.New("api", def, store, bus)
	require.NoError(t, in.Spawn(t.Context(), runnable.MergeEnv()))
	require.Eventually(t, func() bool { return in.Status() == model.StatusRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Spawn(t.Context(), runnable.MergeEnv()))
	require.NoError(t, in.Stop(t.Context()))
}

// TestConcurrentSpawnStartsExactlyOneProcess guards the race the
// supervisor's gated-start goroutine and recovery watcher can trigger
// together: both observing a dependency become running at nearly the
// same instant and both calling Spawn on the same waiting instance.
func TestConcurrentSpawnStartsExactlyOneProcess(t *testing.T) {
	requireSh(t)
	t.Parallel()

	store := logstore.New(100)
	bus := eventbus.New()

	var mu sync.Mutex
	var startingCount int
	bus.OnStatusChange(func(e eventbus.StatusChange) {
		if e.Status == model.StatusStarting {
			mu.Lock()
			startingCount++
			mu.Unlock()
		}
	})

	def := model.RunnableDef{ID: "api", Command: "echo $$ && sleep 1"}
	in := runnable.New("api", def, store, bus)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_ = in.Spawn(t.Context(), runnable.MergeEnv())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(store.ToArray("api", "combined")) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, in.Stop(t.Context()))
	require.Eventually(t, func() bool { return in.Status() == model.StatusStopped }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, startingCount, "only one of the two concurrent Spawn calls should have started a process")
	require.Len(t, store.ToArray("api", "combined"), 1, "only one child process should have printed its pid")
}
