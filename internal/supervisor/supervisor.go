// Package supervisor is the glue that turns a validated model.Config
// into a running fleet: it is the Dependency Scheduler of the
// specification, wiring internal/scheduler's graph algorithms to
// internal/runnable's per-process lifecycle, internal/logstore, and
// internal/eventbus. It generalizes a job-registry supervisor shape
// (named entries behind a mutex, a start-on-signal entry point, a wait
// group tracking in-flight goroutines) from "one job per scan run" to
// "many long-lived runnables gated on a dependency graph".
package supervisor

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/logstore"
	"github.com/corral-dev/corral/internal/model"
	"github.com/corral-dev/corral/internal/parallel"
	"github.com/corral-dev/corral/internal/runnable"
	"github.com/corral-dev/corral/internal/scheduler"
	"github.com/corral-dev/corral/internal/target"
)

// pollInterval is how often a gated start re-checks whether its
// dependencies became running. There is no suspension primitive shared
// between the event bus and a single waiter's goroutine simple enough
// to justify over this, and the spec sets no latency bound on
// "eventually running" beyond the dependency actually becoming ready.
const pollInterval = 15 * time.Millisecond

// Supervisor owns every runnable instance for one config and the bus
// and log store all of them share.
type Supervisor struct {
	cfg   model.Config
	store *logstore.Store
	bus   *eventbus.Bus

	instances map[string]*runnable.Instance

	wg                sync.WaitGroup
	recoveryInstalled sync.Once
}

// New constructs a Supervisor without creating any instances yet; call
// Init to do that.
func New(cfg model.Config) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		store: logstore.New(cfg.MaxOutputLines()),
		bus:   eventbus.New(),
	}
}

func (s *Supervisor) Bus() *eventbus.Bus     { return s.bus }
func (s *Supervisor) Store() *logstore.Store { return s.store }
func (s *Supervisor) Config() model.Config   { return s.cfg }

// Init validates the config and creates one stopped/hidden instance per
// runnable. It installs the recovery watcher exactly once.
func (s *Supervisor) Init() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.instances = make(map[string]*runnable.Instance, len(s.cfg.Runnables))
	for id, def := range s.cfg.Runnables {
		def.ID = id
		s.instances[id] = runnable.New(id, def, s.store, s.bus)
	}

	s.installRecoveryWatcher()
	return nil
}

func (s *Supervisor) installRecoveryWatcher() {
	s.recoveryInstalled.Do(func() {
		s.bus.OnStatusChange(func(e eventbus.StatusChange) {
			if e.Status != model.StatusRunning {
				return
			}
			s.recover(context.Background())
		})
	})
}

// recover scans every waiting instance and resumes any whose
// dependencies have all reached running, per §4.4's failure-recovery
// policy.
func (s *Supervisor) recover(ctx context.Context) {
	for id, in := range s.instances {
		if in.Status() != model.StatusWaiting {
			continue
		}
		if s.allRunning(in.WaitingFor()) {
			in.ClearWaiting()
			s.spawn(ctx, id)
		}
	}
}

func (s *Supervisor) allRunning(ids []string) bool {
	for _, id := range ids {
		in, ok := s.instances[id]
		if !ok || in.Status() != model.StatusRunning {
			return false
		}
	}
	return true
}

// StartAll resolves names (or every runnable when names is empty) into
// a target set, expands it transitively, validates it, orders it
// topologically, and launches each id along the gated-start path
// without waiting for one to finish before starting the next.
func (s *Supervisor) StartAll(ctx context.Context, names []string) error {
	ids := names
	if len(ids) == 0 {
		ids = s.cfg.KnownIDs()
	} else {
		resolved, err := target.Resolve(s.cfg, ids)
		if err != nil {
			return err
		}
		ids = resolved
	}

	set := scheduler.Expand(s.cfg, ids)
	if err := scheduler.ValidateDeps(s.cfg, set); err != nil {
		return err
	}
	order, err := scheduler.TopoSort(s.cfg, set)
	if err != nil {
		return err
	}

	for _, id := range order {
		s.startGated(ctx, id)
	}
	return nil
}

// Start resolves a single target name and runs the gated-start path for
// each resolved id, matching the "Start(id)" operation of §3's
// lifecycle. It does not start any dependency: an id whose dependencies
// are not running stays waiting until they are started elsewhere (see
// StartWithDependencies for the affordance that starts them too).
func (s *Supervisor) Start(ctx context.Context, name string) error {
	ids, err := target.Resolve(s.cfg, []string{name})
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.startGated(ctx, id)
	}
	return nil
}

func (s *Supervisor) startGated(ctx context.Context, id string) {
	in, ok := s.instances[id]
	if !ok {
		return
	}
	in.SetHidden(false)
	if in.IsActive() {
		return
	}

	deps := in.Def.DependsOn
	if len(deps) == 0 {
		s.spawn(ctx, id)
		return
	}

	in.SetWaiting(deps)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.awaitDeps(ctx, deps) {
			in.ClearWaiting()
			s.spawn(ctx, id)
		}
		// On rejection the instance stays in waiting; the recovery
		// watcher resumes it once the failed dependency recovers.
	}()
}

// awaitDeps blocks until every dep is running (true) or any dep
// reaches error/stopped while still not running (false), or ctx is
// cancelled (false).
func (s *Supervisor) awaitDeps(ctx context.Context, deps []string) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		allRunning := true
		for _, dep := range deps {
			in, ok := s.instances[dep]
			if !ok {
				return false
			}
			switch in.Status() {
			case model.StatusRunning:
				continue
			case model.StatusError, model.StatusStopped:
				return false
			default:
				allRunning = false
			}
		}
		if allRunning {
			return true
		}
		time.Sleep(pollInterval)
	}
}

// spawn computes the inherited runtime env from deps, in dependency
// order (last writer wins), overlays it on the process/defaults/
// definition layers, and delegates to the instance's Process Lifecycle.
func (s *Supervisor) spawn(ctx context.Context, id string) {
	in := s.instances[id]
	layers := []map[string]string{runnable.ProcessEnv(), s.cfg.Defaults.Env, in.Def.Env}
	for _, dep := range in.Def.DependsOn {
		if depInst, ok := s.instances[dep]; ok {
			layers = append(layers, depInst.RuntimeEnv())
		}
	}
	if err := in.Spawn(ctx, runnable.MergeEnv(layers...)); err != nil {
		// Spawn already published status-change(error); nothing else to do.
		_ = err
	}
}

// StartWithDependencies implements the UI affordance of §4.4: start id
// and every dependency it transitively needs, unhiding the whole set
// even if some members were already running.
func (s *Supervisor) StartWithDependencies(ctx context.Context, id string) error {
	set := scheduler.Expand(s.cfg, []string{id})
	if err := scheduler.ValidateDeps(s.cfg, set); err != nil {
		return err
	}
	order, err := scheduler.TopoSort(s.cfg, set)
	if err != nil {
		return err
	}

	for _, member := range set {
		if in, ok := s.instances[member]; ok {
			in.SetHidden(false)
		}
	}

	for _, member := range order {
		in, ok := s.instances[member]
		if !ok {
			continue
		}
		switch in.Status() {
		case model.StatusRunning, model.StatusStarting, model.StatusWaiting:
			continue
		default:
			s.startGated(ctx, member)
		}
	}
	return nil
}

// Stop tears down a single runnable; a no-op if it is not running.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	in, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownTarget, id)
	}
	return in.Stop(ctx)
}

// Restart stops then starts a single id; it is not transitive.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	if err := s.Stop(ctx, id); err != nil {
		return err
	}
	return s.Start(ctx, id)
}

// StopAll stops every instance in parallel, using parallel.Map to fan
// the kill-group calls out and wait for each one's exit classification,
// then waits for any in-flight gated-start goroutines to unwind.
func (s *Supervisor) StopAll(ctx context.Context) error {
	instances := make([]*runnable.Instance, 0, len(s.instances))
	for _, in := range s.instances {
		instances = append(instances, in)
	}

	m := parallel.NewMap(ctx, len(instances)+1, func(ctx context.Context, in *runnable.Instance) (struct{}, error) {
		return struct{}{}, in.Stop(ctx)
	})
	for _, err := range m.Iter(instanceSeq(instances)) {
		_ = err // Stop errors are not fatal: the instance already
		// reported its own status-change(error) for the failure.
	}

	s.wg.Wait()
	return nil
}

func instanceSeq(instances []*runnable.Instance) iter.Seq2[*runnable.Instance, error] {
	return func(yield func(*runnable.Instance, error) bool) {
		for _, in := range instances {
			if !yield(in, nil) {
				return
			}
		}
	}
}

// Get returns a point-in-time snapshot of one instance. Non-suspending.
func (s *Supervisor) Get(id string) (runnable.Snapshot, bool) {
	in, ok := s.instances[id]
	if !ok {
		return runnable.Snapshot{}, false
	}
	return in.Snapshot(), true
}

// GetAll returns a snapshot of every instance, sorted by id.
func (s *Supervisor) GetAll() []runnable.Snapshot {
	out := make([]runnable.Snapshot, 0, len(s.instances))
	for _, in := range s.instances {
		out = append(out, in.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetOutputLines returns the most recent n lines for (id, stream).
func (s *Supervisor) GetOutputLines(id string, stream model.Stream, n int) []string {
	return s.store.Tail(id, string(stream), n)
}

// GetOutputLength returns the current buffered line count for (id, stream).
func (s *Supervisor) GetOutputLength(id string, stream model.Stream) int {
	return s.store.Len(id, string(stream))
}

// GetHiddenServices returns ids whose instance is still hidden.
func (s *Supervisor) GetHiddenServices() []string {
	var out []string
	for id, in := range s.instances {
		if in.Hidden() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetVisibleServices returns ids whose instance has been unhidden.
func (s *Supervisor) GetVisibleServices() []string {
	var out []string
	for id, in := range s.instances {
		if !in.Hidden() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
