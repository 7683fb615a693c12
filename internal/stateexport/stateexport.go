// Package stateexport is the State Exporter: an opt-in subscriber of
// the event bus that materializes a JSON snapshot of supervisor state
// to a deterministic per-project path so an external, out-of-process
// inspector can read it without talking to corral directly. It is
// grounded on an os.Root-scoped upload discipline ("open a directory
// once, then Create/Write/Close inside it" for sandboxed result
// writes); this package keeps that discipline but writes one fixed
// filename repeatedly instead of a fresh timestamped file per run, and
// removes it on shutdown.
package stateexport

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/model"
	"github.com/corral-dev/corral/internal/supervisor"
)

const snapshotLogLines = 100

// ServiceEntry is one id's row in the snapshot's "services" map.
type ServiceEntry struct {
	Status    model.Status `json:"status"`
	Error     string       `json:"error,omitempty"`
	StartedAt *string      `json:"startedAt,omitempty"`
}

// Snapshot is the state file's full document shape, per §4.7.
type Snapshot struct {
	Pid         int                     `json:"pid"`
	ConfigPath  string                  `json:"configPath"`
	ProjectRoot string                  `json:"projectRoot"`
	UpdatedAt   string                  `json:"updatedAt"`
	Services    map[string]ServiceEntry `json:"services"`
	Logs        map[string][]string     `json:"logs"`
}

// Exporter owns the sandboxed directory handle and the fixed filename
// derived from the project root.
type Exporter struct {
	sup         *supervisor.Supervisor
	configPath  string
	projectRoot string
	root        *os.Root
	filename    string
}

// Filename derives the stable, deterministic name external readers
// compute themselves knowing only the project root: 12 hex chars of the
// MD5 of the root path.
func Filename(projectRoot string) string {
	sum := md5.Sum([]byte(projectRoot))
	return hex.EncodeToString(sum[:])[:12] + ".json"
}

// New opens stateDir (creating it if needed) and subscribes to the
// supervisor's bus so every status-change triggers a fresh snapshot.
func New(sup *supervisor.Supervisor, stateDir, projectRoot, configPath string) (*Exporter, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	root, err := os.OpenRoot(stateDir)
	if err != nil {
		return nil, fmt.Errorf("opening state dir: %w", err)
	}

	e := &Exporter{
		sup:         sup,
		configPath:  configPath,
		projectRoot: projectRoot,
		root:        root,
		filename:    Filename(projectRoot),
	}

	sup.Bus().OnStatusChange(func(eventbus.StatusChange) {
		if err := e.write(); err != nil {
			slog.Error("writing state snapshot failed", "error", err)
		}
	})

	return e, nil
}

func (e *Exporter) write() error {
	snap := Snapshot{
		Pid:         os.Getpid(),
		ConfigPath:  e.configPath,
		ProjectRoot: e.projectRoot,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
		Services:    make(map[string]ServiceEntry),
		Logs:        make(map[string][]string),
	}

	for _, s := range e.sup.GetAll() {
		entry := ServiceEntry{Status: s.Status, Error: s.Error}
		if !s.StartedAt.IsZero() {
			iso := s.StartedAt.Format(time.RFC3339)
			entry.StartedAt = &iso
		}
		snap.Services[s.ID] = entry
		snap.Logs[s.ID] = e.sup.GetOutputLines(s.ID, model.StreamCombined, snapshotLogLines)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling state snapshot: %w", err)
	}

	f, err := e.root.Create(e.filename)
	if err != nil {
		return fmt.Errorf("creating state file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	return f.Close()
}

// Close removes the state file and the root handle. Callers MUST call
// this on supervisor shutdown; a stale file with a dead pid is only
// cleaned up opportunistically by readers otherwise.
func (e *Exporter) Close() error {
	err := e.root.Remove(e.filename)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing state file failed", "error", err)
	}
	return e.root.Close()
}
