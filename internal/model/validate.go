package model

import (
	"fmt"
	"log/slog"
	"sort"
)

// ConfigErrorDetail is one validation failure. The shape (path, code,
// human message) mirrors the structured error detail a schema validator
// would produce; corral validates by hand since it has no schema
// dependency to compile against.
type ConfigErrorDetail struct {
	Path    string // e.g. runnables.api.command
	Code    string // empty_command | unknown_dependency | invalid_kind | missing_image
	Message string
}

func (d ConfigErrorDetail) Attr() slog.Attr {
	return slog.GroupAttrs("config_error",
		slog.String("code", d.Code),
		slog.String("path", d.Path),
		slog.String("message", d.Message),
	)
}

// ConfigError aggregates every detail found during Validate. Callers
// treat its presence as fatal: config errors stop the world before any
// process is spawned.
type ConfigError struct {
	Details []ConfigErrorDetail
}

func (e *ConfigError) Error() string {
	if len(e.Details) == 1 {
		return fmt.Sprintf("config: %s: %s", e.Details[0].Path, e.Details[0].Message)
	}
	return fmt.Sprintf("config: %d validation errors, first: %s: %s",
		len(e.Details), e.Details[0].Path, e.Details[0].Message)
}

func (e *ConfigError) add(path, code, msg string) {
	e.Details = append(e.Details, ConfigErrorDetail{Path: path, Code: code, Message: msg})
}

// Validate checks structural invariants that do not depend on the
// dependency graph (internal/scheduler separately checks dangling
// dependencies and cycles, since that needs the id set as a whole).
func (c Config) Validate() error {
	var errs ConfigError

	for id, def := range c.Runnables {
		path := "runnables." + id
		switch def.Kind {
		case "", KindShell:
			if def.Command == "" {
				errs.add(path+".command", "empty_command", "command must be set for a shell runnable")
			}
		case KindContainer:
			if def.Container == nil || def.Container.Image == "" {
				errs.add(path+".container.image", "missing_image", "container runnables must set container.image")
			}
		default:
			errs.add(path+".kind", "invalid_kind", fmt.Sprintf("kind %q must be %q or %q", def.Kind, KindShell, KindContainer))
		}
	}

	for name, g := range c.Groups {
		for _, id := range g.IDs {
			if _, ok := c.Runnables[id]; !ok {
				errs.add("groups."+name, "unknown_dependency",
					fmt.Sprintf("group %s references unknown service %s", name, id))
			}
		}
	}

	if len(errs.Details) == 0 {
		return nil
	}
	return &errs
}

// ContainerCommand synthesizes the shell command for a container
// runnable from its ContainerSpec. Ports/volumes/env are passed through
// as repeated docker/podman flags; no further interpretation happens.
func ContainerCommand(spec ContainerSpec) string {
	engine := spec.Engine
	if engine == "" {
		engine = EngineDocker
	}
	cmd := string(engine) + " run --rm"
	for _, p := range spec.Ports {
		cmd += " -p " + p
	}
	for _, v := range spec.Volumes {
		cmd += " -v " + v
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd += " -e " + k + "=" + spec.Env[k]
	}
	cmd += " " + spec.Image
	return cmd
}
