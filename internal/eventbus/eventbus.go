// Package eventbus is the small, three-topic publish/subscribe surface
// that every UI and the state exporter consume supervisor state through.
// It generalizes a single hardcoded results channel into typed,
// multi-subscriber topics with no memory of past events: late
// subscribers must read current state through the supervisor's query
// methods.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/corral-dev/corral/internal/model"
)

// StatusChange is published after every instance status transition.
type StatusChange struct {
	ID     string
	Status model.Status
	Err    string // non-empty iff Status == model.StatusError
}

// Output is published after a line is appended to the log store.
type Output struct {
	ID     string
	Line   string
	Stream model.Stream
}

// HiddenChange is published after an instance's hidden flag flips.
type HiddenChange struct {
	ID     string
	Hidden bool
}

type (
	StatusChangeHandler func(StatusChange)
	OutputHandler       func(Output)
	HiddenChangeHandler func(HiddenChange)
)

// Bus fans out each topic to every subscriber, in subscription order,
// synchronously with the call to the matching Publish method. A
// subscriber that asks the log store for a tail from inside an Output
// handler observes the line that triggered the call, because Publish is
// invoked by the mutator only after its own state change completed.
//
// Handlers must not block for more than a few milliseconds; Publish
// does not run them on a separate goroutine. A handler that panics is
// isolated: its panic is logged and other subscribers still run.
type Bus struct {
	mu sync.RWMutex

	statusChange []StatusChangeHandler
	output       []OutputHandler
	hiddenChange []HiddenChangeHandler
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) OnStatusChange(h StatusChangeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusChange = append(b.statusChange, h)
}

func (b *Bus) OnOutput(h OutputHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = append(b.output, h)
}

func (b *Bus) OnHiddenChange(h HiddenChangeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hiddenChange = append(b.hiddenChange, h)
}

func (b *Bus) PublishStatusChange(e StatusChange) {
	b.mu.RLock()
	handlers := append([]StatusChangeHandler(nil), b.statusChange...)
	b.mu.RUnlock()
	for _, h := range handlers {
		runIsolated(func() { h(e) })
	}
}

func (b *Bus) PublishOutput(e Output) {
	b.mu.RLock()
	handlers := append([]OutputHandler(nil), b.output...)
	b.mu.RUnlock()
	for _, h := range handlers {
		runIsolated(func() { h(e) })
	}
}

func (b *Bus) PublishHiddenChange(e HiddenChange) {
	b.mu.RLock()
	handlers := append([]HiddenChangeHandler(nil), b.hiddenChange...)
	b.mu.RUnlock()
	for _, h := range handlers {
		runIsolated(func() { h(e) })
	}
}

func runIsolated(f func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event bus handler panicked", "recovered", r)
		}
	}()
	f()
}
