// Package config resolves and loads corral's YAML configuration file.
// It is grounded on cmd/seeker/main.go's initSeeker: the same config
// path precedence (env var, then --config flag, then a search over a
// user-config directory and the current directory) and the same
// "write a default file if none exists" bootstrap, but decodes through
// spf13/viper instead of the teacher's CUE schema loader, since no CUE
// schema travelled with this project.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/corral-dev/corral/internal/model"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides every other resolution source, same
	// precedence rank as seeker.yaml's SEEKERCONFIG.
	EnvConfigPath = "CORRAL_CONFIG"
	fileName      = "corral.yaml"
)

// UserConfigDir returns the OS-appropriate per-user config directory
// for corral, e.g. ~/.config/corral on Linux.
func UserConfigDir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "corral"), nil
}

// ResolvePath decides which config file to use, in precedence order:
// CORRAL_CONFIG env var, the --config flag value, the user config
// directory, then the current directory. When none of those candidates
// exist on disk it returns the user-config-dir candidate with found set
// to false, signalling the caller should bootstrap a default file there.
func ResolvePath(flagPath string) (path string, found bool, err error) {
	if envPath, ok := os.LookupEnv(EnvConfigPath); ok {
		return envPath, true, nil
	}
	if flagPath != "" {
		return flagPath, true, nil
	}

	userDir, err := UserConfigDir()
	if err != nil {
		return "", false, err
	}
	for _, dir := range []string{userDir, "."} {
		candidate := filepath.Join(dir, fileName)
		if isRegularFile(candidate) {
			return candidate, true, nil
		}
	}
	return filepath.Join(userDir, fileName), false, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Default returns the minimal config written on first run: a single
// runnable that just echoes a greeting, so `corral up` has something to
// show without editing a file first.
func Default() model.Config {
	return model.Config{
		Runnables: map[string]model.RunnableDef{
			"hello": {
				Name:    "hello",
				Kind:    model.KindShell,
				Command: "echo corral is running; sleep infinity",
			},
		},
		Defaults: model.Defaults{
			MaxOutputLines: model.DefaultMaxOutputLines,
		},
	}
}

// Bootstrap writes the default config to path, creating its parent
// directory if needed. It refuses to overwrite an existing file.
func Bootstrap(path string) error {
	if isRegularFile(path) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	defer enc.Close()
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// Load decodes path into a validated model.Config via viper, the same
// decoder the rest of the corpus reaches for ahead of a hand-rolled
// YAML walk.
func Load(path string) (model.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return model.Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}

	for id, def := range cfg.Runnables {
		def.ID = id
		cfg.Runnables[id] = def
	}
	for name, g := range cfg.Groups {
		g.Name = name
		cfg.Groups[name] = g
	}

	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}

	// A container runnable's Command is derived, not authored: Validate
	// only requires container.image, so synthesize the docker/podman
	// invocation here unless the user already supplied an explicit one.
	for id, def := range cfg.Runnables {
		if def.Kind == model.KindContainer && def.Command == "" && def.Container != nil {
			def.Command = model.ContainerCommand(*def.Container)
			cfg.Runnables[id] = def
		}
	}

	return cfg, nil
}
