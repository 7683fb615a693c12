package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/model"
	"github.com/corral-dev/corral/internal/stateexport"
	"github.com/corral-dev/corral/internal/supervisor"
	"github.com/spf13/cobra"
)

var upCmd = &cobra.Command{
	Use:   "up [targets...]",
	Short: "start the configured runnables (or a named subset) and supervise them until interrupted",
	RunE:  doUp,
}

// doUp is the §6 "Signals the supervisor consumes" entry point: it
// starts the requested targets, blocks until SIGINT/SIGTERM, then runs
// StopAll before exiting 0.
func doUp(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg)
	if err := sup.Init(); err != nil {
		return err
	}

	summary := newStopSummary(sup.Bus())

	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	stateDir, err := defaultStateDir()
	if err != nil {
		return fmt.Errorf("resolving state directory: %w", err)
	}
	exporter, err := stateexport.New(sup, stateDir, projectRoot, configPath)
	if err != nil {
		return fmt.Errorf("starting state exporter: %w", err)
	}
	defer func() {
		if err := exporter.Close(); err != nil {
			slog.Warn("closing state exporter", "error", err)
		}
	}()

	if err := sup.StartAll(ctx, args); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down", "reason", ctx.Err())

	if err := sup.StopAll(context.Background()); err != nil {
		return err
	}

	summary.print()
	return nil
}

func defaultStateDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "corral", "state"), nil
}

// stopSummary is the "graceful CLI shutdown summary" supplement from
// SPEC_FULL.md: it listens for status-change events that already cross
// the bus and reports, at shutdown, which runnables stopped cleanly
// versus ended up in error.
type stopSummary struct {
	mu       sync.Mutex
	statuses map[string]model.Status
}

func newStopSummary(bus *eventbus.Bus) *stopSummary {
	s := &stopSummary{statuses: make(map[string]model.Status)}
	bus.OnStatusChange(func(e eventbus.StatusChange) {
		s.mu.Lock()
		s.statuses[e.ID] = e.Status
		s.mu.Unlock()
	})
	return s
}

func (s *stopSummary) print() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.statuses))
	for id := range s.statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		switch s.statuses[id] {
		case model.StatusStopped:
			fmt.Printf("%s: stopped cleanly\n", id)
		case model.StatusError:
			fmt.Printf("%s: ended in error\n", id)
		}
	}
}
