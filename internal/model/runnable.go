// Package model holds the value types shared across corral's packages:
// the config-derived runnable definitions, the small set of enums that
// describe their lifecycle, and the sentinel errors other packages wrap.
package model

// Kind selects how a runnable's command is executed.
type Kind string

const (
	KindShell     Kind = "shell"
	KindContainer Kind = "container"
)

// Status is a runnable instance's place in its lifecycle state machine.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusWaiting  Status = "waiting"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Stream tags which pipe a log line came from.
type Stream string

const (
	StreamStdout   Stream = "stdout"
	StreamStderr   Stream = "stderr"
	StreamCombined Stream = "combined"
)

// RestartPolicy is decoded from a runnable's "restart" key and carried on
// RunnableDef. No component reads it: it neither triggers a restart nor
// filters which runnables a restart touches, and corral does not retry
// runnables automatically.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
)

// ContainerEngine selects the binary used to synthesize a container
// runnable's command.
type ContainerEngine string

const (
	EngineDocker ContainerEngine = "docker"
	EnginePodman ContainerEngine = "podman"
)

// ContainerSpec describes a container invocation in terms internal/config.Load
// turns into a shell command at load time (see RunnableDef.Command).
type ContainerSpec struct {
	Engine  ContainerEngine   `mapstructure:"engine" yaml:"engine,omitempty"`
	Image   string            `mapstructure:"image" yaml:"image"`
	Ports   []string          `mapstructure:"ports" yaml:"ports,omitempty"`
	Volumes []string          `mapstructure:"volumes" yaml:"volumes,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// RunnableDef is the immutable, config-derived description of one
// managed process. It never changes once loaded; internal/runnable.Instance
// holds the mutable state built on top of it.
type RunnableDef struct {
	ID       string            `mapstructure:"-" yaml:"-"`
	Name     string            `mapstructure:"name" yaml:"name,omitempty"`
	Kind     Kind              `mapstructure:"kind" yaml:"kind,omitempty"`
	Command  string            `mapstructure:"command" yaml:"command,omitempty"`
	Cwd      string            `mapstructure:"cwd" yaml:"cwd,omitempty"`
	Env      map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	DependsOn []string         `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Container *ContainerSpec   `mapstructure:"container" yaml:"container,omitempty"`
	Restart  RestartPolicy     `mapstructure:"restart" yaml:"restart,omitempty"`

	// ReadyWhen, when non-nil, is evaluated against the ANSI-stripped,
	// combined-output tail after every line. It has no config
	// representation: callers of internal/config set it in code after
	// decoding, or leave it nil for the fixed grace-period policy.
	ReadyWhen func(output string) bool `mapstructure:"-" yaml:"-"`

	// OnReady, when non-nil, runs at most once per start epoch, right
	// before the starting->running transition, and may publish runtime
	// env entries for dependents via setEnv.
	OnReady func(output string, setEnv func(key, value string)) `mapstructure:"-" yaml:"-"`
}

// DisplayName returns Name if set, else ID.
func (d RunnableDef) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Defaults carries the config-wide fallback values applied to every
// runnable before its own definition env and the inherited runtime env.
type Defaults struct {
	Env            map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	MaxOutputLines int               `mapstructure:"max_output_lines" yaml:"max_output_lines,omitempty"`
}

const DefaultMaxOutputLines = 1000

// Group names an ordered list of runnable ids, resolved as a unit by
// internal/target.
type Group struct {
	Name string   `mapstructure:"-" yaml:"-"`
	IDs  []string `mapstructure:"ids" yaml:"ids"`
}

// Config is the fully decoded, validated user configuration. It is
// produced by internal/config.Load and never mutated afterward.
type Config struct {
	Runnables map[string]RunnableDef `mapstructure:"runnables" yaml:"runnables"`
	Groups    map[string]Group       `mapstructure:"groups" yaml:"groups,omitempty"`
	Defaults  Defaults               `mapstructure:"defaults" yaml:"defaults,omitempty"`

	// ShellCommands and Scripts are consumed by the terminal UI layer,
	// not by the supervisor core; they are carried here only so a single
	// config file serves every collaborator.
	ShellCommands []string `mapstructure:"shell_commands" yaml:"shell_commands,omitempty"`
	Scripts       []string `mapstructure:"scripts" yaml:"scripts,omitempty"`
}

// MaxOutputLines resolves the effective ring-buffer capacity.
func (c Config) MaxOutputLines() int {
	if c.Defaults.MaxOutputLines > 0 {
		return c.Defaults.MaxOutputLines
	}
	return DefaultMaxOutputLines
}

// KnownIDs returns every runnable id in the config, for suggestion and
// validation purposes.
func (c Config) KnownIDs() []string {
	ids := make([]string, 0, len(c.Runnables))
	for id := range c.Runnables {
		ids = append(ids, id)
	}
	return ids
}

// KnownGroupNames returns every group name in the config.
func (c Config) KnownGroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	return names
}
