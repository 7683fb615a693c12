package model_test

import (
	"testing"

	"github.com/corral-dev/corral/internal/model"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptyShellCommand(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"api": {Kind: model.KindShell},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "empty_command", cfgErr.Details[0].Code)
}

func TestValidateRejectsContainerWithoutImage(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"db": {Kind: model.KindContainer},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "missing_image", cfgErr.Details[0].Code)
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"api": {Kind: "vm", Command: "true"},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "invalid_kind", cfgErr.Details[0].Code)
}

func TestValidateRejectsGroupWithUnknownService(t *testing.T) {
	t.Parallel()
	cfg := model.Config{
		Runnables: map[string]model.RunnableDef{"api": {Command: "true"}},
		Groups:    map[string]model.Group{"backend": {IDs: []string{"api", "ghost"}}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "unknown_dependency", cfgErr.Details[0].Code)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()
	cfg := model.Config{Runnables: map[string]model.RunnableDef{
		"api": {Command: "echo hi"},
		"db":  {Kind: model.KindContainer, Container: &model.ContainerSpec{Image: "postgres:16"}},
	}}
	require.NoError(t, cfg.Validate())
}

func TestContainerCommandSynthesizesFlags(t *testing.T) {
	t.Parallel()
	cmd := model.ContainerCommand(model.ContainerSpec{
		Image:   "postgres:16",
		Ports:   []string{"5432:5432"},
		Volumes: []string{"data:/var/lib/postgresql/data"},
		Env:     map[string]string{"POSTGRES_PASSWORD": "secret"},
	})
	require.Equal(t,
		"docker run --rm -p 5432:5432 -v data:/var/lib/postgresql/data -e POSTGRES_PASSWORD=secret postgres:16",
		cmd)
}

func TestContainerCommandDefaultsToDocker(t *testing.T) {
	t.Parallel()
	cmd := model.ContainerCommand(model.ContainerSpec{Image: "redis:7"})
	require.Equal(t, "docker run --rm redis:7", cmd)
}

func TestContainerCommandRespectsPodmanEngine(t *testing.T) {
	t.Parallel()
	cmd := model.ContainerCommand(model.ContainerSpec{Engine: model.EnginePodman, Image: "redis:7"})
	require.Equal(t, "podman run --rm redis:7", cmd)
}

func TestMaxOutputLinesFallsBackToDefault(t *testing.T) {
	t.Parallel()
	require.Equal(t, model.DefaultMaxOutputLines, model.Config{}.MaxOutputLines())
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	t.Parallel()
	def := model.RunnableDef{ID: "api"}
	require.Equal(t, "api", def.DisplayName())
	def.Name = "API Server"
	require.Equal(t, "API Server", def.DisplayName())
}
