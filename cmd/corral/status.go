package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/corral-dev/corral/internal/stateexport"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the last known state of every runnable, read from the state file a running corral wrote",
	RunE:  doStatus,
}

// doStatus is the "corral status read path" supplement from
// SPEC_FULL.md: it never talks to a live supervisor process, only the
// JSON file that §4.7's State Exporter maintains, matching the spec's
// statement that external inspectors read that file.
func doStatus(cmd *cobra.Command, args []string) error {
	projectRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	stateDir, err := defaultStateDir()
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, stateexport.Filename(projectRoot))

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no corral supervisor is running for this project")
			return nil
		}
		return fmt.Errorf("reading state file %s: %w", path, err)
	}

	var snap stateexport.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("parsing state file %s: %w", path, err)
	}

	if !processAlive(snap.Pid) {
		fmt.Println("stale state file: the supervisor that wrote it is no longer running")
		_ = os.Remove(path)
		return nil
	}

	ids := make([]string, 0, len(snap.Services))
	for id := range snap.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("corral pid %d, config %s\n", snap.Pid, snap.ConfigPath)
	for _, id := range ids {
		entry := snap.Services[id]
		if entry.Error != "" {
			fmt.Printf("  %-20s %-10s %s\n", id, entry.Status, entry.Error)
			continue
		}
		fmt.Printf("  %-20s %-10s\n", id, entry.Status)
	}
	return nil
}

// processAlive probes pid with the zero signal, per §4.7's "readers
// SHOULD treat the presence of a non-running pid ... as a stale file".
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
