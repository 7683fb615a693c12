package main

import (
	"fmt"
	"strings"

	"github.com/corral-dev/corral/internal/ephemeral"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:                "run -- command...",
	Short:              "run a one-shot command under the same shell and process-group discipline as a runnable",
	DisableFlagParsing: false,
	Args:               cobra.MinimumNArgs(1),
	RunE:               doRun,
}

// doRun exercises internal/ephemeral directly: it is corral's thin CLI
// front end for the Ephemeral Command Runner described in §4.6, with no
// background hand-off (the CLI process exits when the command does).
func doRun(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")

	runner := ephemeral.New("cli-run", cfg.MaxOutputLines())
	done := make(chan struct{})
	var exitCode int

	runner.OnOutput(func(line string) {
		fmt.Println(line)
	})
	runner.OnExit(func(code int, signalName string, success bool) {
		exitCode = code
		if !success && signalName != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "terminated by signal %s\n", signalName)
		}
		close(done)
	})

	cwd, _ := cmd.Flags().GetString("cwd")
	if err := runner.Run(cmd.Context(), command, cwd, map[string]string{}); err != nil {
		return fmt.Errorf("running command: %w", err)
	}

	select {
	case <-done:
	case <-cmd.Context().Done():
		_ = runner.Cancel(cmd.Context())
		<-done
	}

	if runner.Status() == ephemeral.StatusError {
		return fmt.Errorf("command exited with code %d", exitCode)
	}
	return nil
}

func init() {
	runCmd.Flags().String("cwd", "", "working directory for the command")
}
