// Package runnable implements the Process Lifecycle: spawning one
// runnable's child under its own process group, piping its stdio into
// the log store line by line, evaluating readiness, classifying exits,
// and the SIGTERM->SIGKILL stop escalation. It generalizes a one-shot
// process runner shape (spawn, background Wait, channel-of-result) from
// short-lived scan subprocesses to long-running services, and applies
// the process-group kill discipline used to tear down shelled-out
// subtrees as a unit.
package runnable

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/log"
	"github.com/corral-dev/corral/internal/logstore"
	"github.com/corral-dev/corral/internal/model"
)

// gracePeriod is the fixed delay before a runnable with no ReadyWhen
// predicate is considered running.
const gracePeriod = 500 * time.Millisecond

// readyWhenTailLines caps how much of the combined buffer is handed to
// ReadyWhen and OnReady, per the "last 500 lines" allowance in §4.1/4.5.
const readyWhenTailLines = 500

const stopEscalation = 5 * time.Second

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Instance is the mutable state of one managed process: the spec's
// "Runnable instance". Its Def is immutable; everything else is owned
// exclusively by the methods below, guarded by mu.
type Instance struct {
	ID  string
	Def model.RunnableDef

	store *logstore.Store
	bus   *eventbus.Bus

	mu         sync.Mutex
	status     model.Status
	hidden     bool
	errMsg     string
	waitingFor []string
	startedAt  time.Time
	runtimeEnv map[string]string

	cmd         *exec.Cmd
	pgid        int
	epoch       int
	onReadyDone bool
	readyTimer  *time.Timer
	stopping    bool
	exited      chan struct{}
}

// New creates an instance in the initial stopped/hidden state (Init,
// per §3's Lifecycle section).
func New(id string, def model.RunnableDef, store *logstore.Store, bus *eventbus.Bus) *Instance {
	return &Instance{
		ID:     id,
		Def:    def,
		store:  store,
		bus:    bus,
		status: model.StatusStopped,
		hidden: true,
	}
}

// Snapshot is an immutable view of an instance's status fields, safe to
// hand to a caller without risking a data race on further mutation.
type Snapshot struct {
	ID         string
	Status     model.Status
	Hidden     bool
	Error      string
	WaitingFor []string
	StartedAt  time.Time
}

func (in *Instance) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return Snapshot{
		ID:         in.ID,
		Status:     in.status,
		Hidden:     in.hidden,
		Error:      in.errMsg,
		WaitingFor: append([]string(nil), in.waitingFor...),
		StartedAt:  in.startedAt,
	}
}

func (in *Instance) Status() model.Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// RuntimeEnv returns a copy of the env entries this instance's OnReady
// has published so far, for the scheduler to overlay onto dependents.
func (in *Instance) RuntimeEnv() map[string]string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]string, len(in.runtimeEnv))
	for k, v := range in.runtimeEnv {
		out[k] = v
	}
	return out
}

func (in *Instance) setStatus(status model.Status, errMsg string) {
	in.mu.Lock()
	in.status = status
	in.errMsg = errMsg
	in.mu.Unlock()
	if in.bus != nil {
		in.bus.PublishStatusChange(eventbus.StatusChange{ID: in.ID, Status: status, Err: errMsg})
	}
}

// SetWaiting records which dependencies are still outstanding and
// transitions the instance to the waiting status.
func (in *Instance) SetWaiting(deps []string) {
	in.mu.Lock()
	in.waitingFor = append([]string(nil), deps...)
	in.mu.Unlock()
	in.setStatus(model.StatusWaiting, "")
}

// ClearWaiting drops the waitingFor set without changing status; used
// right before the gated-start path delegates to Spawn.
func (in *Instance) ClearWaiting() {
	in.mu.Lock()
	in.waitingFor = nil
	in.mu.Unlock()
}

func (in *Instance) WaitingFor() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.waitingFor...)
}

// SetHidden flips the hidden flag, publishing hidden-change only on an
// actual change.
func (in *Instance) SetHidden(hidden bool) {
	in.mu.Lock()
	changed := in.hidden != hidden
	in.hidden = hidden
	in.mu.Unlock()
	if changed && in.bus != nil {
		in.bus.PublishHiddenChange(eventbus.HiddenChange{ID: in.ID, Hidden: hidden})
	}
}

func (in *Instance) Hidden() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.hidden
}

// IsActive reports whether the instance is already running or starting,
// making the supervisor's gated-start path skip a redundant SetWaiting.
// It is a plain read, not a lock held across the later Spawn call: the
// actual guard against two concurrent spawns is beginSpawn's CAS below.
func (in *Instance) IsActive() bool {
	s := in.Status()
	return s == model.StatusRunning || s == model.StatusStarting
}

// beginSpawn is the single critical section that decides whether this
// call to Spawn gets to start a process. Both the gated-start goroutine
// and the recovery watcher can race to spawn the same instance the
// moment its dependencies become running; checking status and
// transitioning to starting under one lock acquisition (rather than a
// separate IsActive check followed by a later setStatus) makes that
// race harmless instead of launching two processes for one instance.
func (in *Instance) beginSpawn() (epoch int, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status == model.StatusRunning || in.status == model.StatusStarting {
		return 0, false
	}
	in.epoch++
	in.status = model.StatusStarting
	in.errMsg = ""
	in.onReadyDone = false
	in.runtimeEnv = nil
	in.stopping = false
	if in.readyTimer != nil {
		in.readyTimer.Stop()
		in.readyTimer = nil
	}
	return in.epoch, true
}

// Spawn starts the shell command under a new process group, begins
// piping stdout/stderr into the log store, and arms the readiness
// policy. env is the fully merged environment (see MergeEnv); Spawn
// does not itself apply further precedence rules.
//
// Spawn is a no-op if the instance is already running or starting.
func (in *Instance) Spawn(ctx context.Context, env []string) error {
	epoch, ok := in.beginSpawn()
	if !ok {
		return nil
	}
	ctx = log.ContextAttrs(ctx, slog.String("runnable_id", in.ID), slog.Int("epoch", epoch))

	in.store.Clear(in.ID)
	if in.bus != nil {
		in.bus.PublishStatusChange(eventbus.StatusChange{ID: in.ID, Status: model.StatusStarting})
	}

	cmd := exec.Command("sh", "-c", in.Def.Command)
	cmd.Dir = in.Def.Cwd
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return in.spawnFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return in.spawnFailed(err)
	}

	if err := cmd.Start(); err != nil {
		return in.spawnFailed(err)
	}

	in.mu.Lock()
	in.cmd = cmd
	in.pgid = cmd.Process.Pid
	in.startedAt = time.Now().UTC()
	in.exited = make(chan struct{})
	in.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go in.pump(ctx, stdout, model.StreamStdout, epoch, &wg)
	go in.pump(ctx, stderr, model.StreamStderr, epoch, &wg)

	if in.Def.ReadyWhen == nil {
		in.armGraceTimer(ctx, epoch)
	}

	go in.wait(ctx, cmd, &wg)

	return nil
}

func (in *Instance) spawnFailed(err error) error {
	in.setStatus(model.StatusError, err.Error())
	return err
}

func (in *Instance) armGraceTimer(ctx context.Context, epoch int) {
	timer := time.AfterFunc(gracePeriod, func() {
		in.maybeBecomeReady(ctx, epoch, "")
	})
	in.mu.Lock()
	in.readyTimer = timer
	in.mu.Unlock()
}

func (in *Instance) pump(ctx context.Context, r io.Reader, stream model.Stream, epoch int, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		in.store.Push(in.ID, string(stream), line)
		if in.bus != nil {
			in.bus.PublishOutput(eventbus.Output{ID: in.ID, Line: line, Stream: stream})
		}
		if in.Def.ReadyWhen != nil {
			in.maybeBecomeReady(ctx, epoch, line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "reading runnable output", "stream", stream, "error", err)
	}
}

func (in *Instance) maybeBecomeReady(ctx context.Context, epoch int, _ string) {
	in.mu.Lock()
	if in.epoch != epoch || in.onReadyDone || in.status != model.StatusStarting {
		in.mu.Unlock()
		return
	}
	if in.Def.ReadyWhen != nil {
		tail := in.store.Tail(in.ID, "combined", readyWhenTailLines)
		output := stripANSI(strings.Join(tail, "\n"))
		if !in.Def.ReadyWhen(output) {
			in.mu.Unlock()
			return
		}
	}
	in.onReadyDone = true
	in.mu.Unlock()

	in.runOnReady(ctx)
	in.setStatus(model.StatusRunning, "")
}

func (in *Instance) runOnReady(ctx context.Context) {
	if in.Def.OnReady == nil {
		return
	}
	tail := in.store.Tail(in.ID, "combined", readyWhenTailLines)
	output := stripANSI(strings.Join(tail, "\n"))

	setEnv := func(key, value string) {
		in.mu.Lock()
		if in.runtimeEnv == nil {
			in.runtimeEnv = make(map[string]string)
		}
		in.runtimeEnv[key] = value
		in.mu.Unlock()
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "onReady panicked", "id", in.ID, "recovered", r)
			}
		}()
		in.Def.OnReady(output, setEnv)
	}()
}

func (in *Instance) wait(ctx context.Context, cmd *exec.Cmd, wg *sync.WaitGroup) {
	wg.Wait() // pipes drained before we report the exit classification
	err := cmd.Wait()

	in.mu.Lock()
	stopping := in.stopping
	in.cmd = nil
	exited := in.exited
	in.mu.Unlock()

	status, msg := classifyExit(err, stopping)
	in.setStatus(status, msg)
	close(exited)
}

// classifyExit implements §4.1's exit classification table. stopping is
// true once Stop has been called for this process; a SIGKILL in that
// situation (Stop's escalation) still counts as a clean stop even though
// SIGKILL itself is not one of the two "stop" signals in the general rule.
func classifyExit(err error, stopping bool) (model.Status, string) {
	if err == nil {
		return model.StatusStopped, ""
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return model.StatusError, err.Error()
	}

	ws, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return model.StatusError, err.Error()
	}

	if ws.Signaled() {
		sig := ws.Signal()
		switch {
		case sig == syscall.SIGTERM || sig == syscall.SIGINT:
			return model.StatusStopped, ""
		case stopping && sig == syscall.SIGKILL:
			return model.StatusStopped, ""
		default:
			return model.StatusError, fmt.Sprintf("terminated by signal %s", sig)
		}
	}

	code := ws.ExitStatus()
	if code == 0 {
		return model.StatusStopped, ""
	}
	return model.StatusError, fmt.Sprintf("exited with code %d", code)
}

// Stop sends SIGTERM to the process group, escalating to SIGKILL after
// 5s if the child has not exited. It is a no-op on a non-running
// instance and resolves once the exit event has been classified.
func (in *Instance) Stop(ctx context.Context) error {
	ctx = log.ContextAttrs(ctx, slog.String("runnable_id", in.ID))

	in.mu.Lock()
	cmd := in.cmd
	pgid := in.pgid
	exited := in.exited
	if cmd == nil {
		in.mu.Unlock()
		return nil
	}
	in.stopping = true
	in.mu.Unlock()

	if err := signalGroup(pgid, syscall.SIGTERM); err != nil {
		slog.WarnContext(ctx, "signaling process group failed, falling back to pid", "error", err)
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(stopEscalation):
	}

	if err := signalGroup(pgid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Signal(syscall.SIGKILL)
	}

	select {
	case <-exited:
	case <-ctx.Done():
	}
	return nil
}

func signalGroup(pgid int, sig syscall.Signal) error {
	return SignalProcessGroup(pgid, sig)
}

// SignalProcessGroup sends sig to the process group led by pgid. It is
// exported so internal/ephemeral can apply the same kill discipline to
// its one-shot commands without duplicating the syscall.
func SignalProcessGroup(pgid int, sig syscall.Signal) error {
	if pgid == 0 {
		return fmt.Errorf("no process group")
	}
	return syscall.Kill(-pgid, sig)
}

// CombinedSnapshot returns the ANSI-stripped combined output capped at
// readyWhenTailLines, the same slice OnReady would have seen.
func (in *Instance) CombinedSnapshot() string {
	tail := in.store.Tail(in.ID, "combined", readyWhenTailLines)
	return stripANSI(strings.Join(tail, "\n"))
}
