package model

import (
	"errors"
)

var (
	// ErrUnknownTarget is returned by internal/target when a requested
	// name is neither a runnable id nor a group name.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrDanglingDependency is returned when a runnable's dependsOn
	// names an id that is not a valid definition in the config, and by
	// internal/target when a group lists an id that is not a runnable.
	ErrDanglingDependency = errors.New("unknown dependency")

	// ErrDependencyCycle is returned by internal/scheduler when Kahn's
	// algorithm cannot drain the queue.
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// ErrEmptyCommand is a config validation error: a runnable with no
	// command (and, for containers, no image) can never be spawned.
	ErrEmptyCommand = errors.New("command must not be empty")

	// ErrNotRunning names the failure of an operation that requires a
	// live process. The ephemeral runner's Cancel does not return it:
	// cancelling an idle command is a no-op that returns nil.
	ErrNotRunning = errors.New("not running")

	// ErrAlreadyRunning is returned when Reset is called on an ephemeral
	// command that is still active. Run does not return it; it cancels
	// the active command first.
	ErrAlreadyRunning = errors.New("command already running")
)
