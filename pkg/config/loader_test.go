package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, home string, edge EdgeConfig) {
	t.Helper()
	data, err := json.MarshalIndent(edge, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(home, 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(home), data, 0o600))
}

func validRepo(id string) RepositoryConfig {
	return RepositoryConfig{
		ID:                 id,
		Name:               id,
		RepositoryPath:     "/srv/repos/" + id,
		BaseBranch:         "main",
		TrackerToken:       "lin_api_test",
		TrackerWorkspaceID: "ws-1",
	}
}

func TestInitialize_AppliesDefaults(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, EdgeConfig{Repositories: []RepositoryConfig{validRepo("a")}})

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.NotEmpty(t, cfg.DefaultAllowedTools)
	assert.Equal(t, ConfigPath(home), cfg.Path)
}

func TestInitialize_FileValuesWinOverDefaults(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, EdgeConfig{
		ServerPort:   9999,
		Repositories: []RepositoryConfig{validRepo("a")},
	})

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.ServerPort)
}

func TestInitialize_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, EdgeConfig{
		ServerPort:   9999,
		Repositories: []RepositoryConfig{validRepo("a")},
	})

	t.Setenv("CYRUS_SERVER_PORT", "4567")
	t.Setenv("CYRUS_HOST_EXTERNAL", "true")
	t.Setenv("ALLOWED_TOOLS", "Read(**), Bash")

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	assert.Equal(t, 4567, cfg.ServerPort)
	assert.True(t, cfg.HostExternal)
	assert.Equal(t, []string{"Read(**)", "Bash"}, cfg.DefaultAllowedTools)
}

func TestInitialize_MissingFile(t *testing.T) {
	home := t.TempDir()

	_, err := Initialize(context.Background(), home)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_MalformedJSON(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(ConfigPath(home), []byte("{nope"), 0o600))

	_, err := Initialize(context.Background(), home)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestMigrateLegacyConfig(t *testing.T) {
	home := t.TempDir()

	// Run from a scratch working directory holding a legacy config.
	workDir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workDir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	legacy := EdgeConfig{Repositories: []RepositoryConfig{validRepo("legacy")}}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(legacyConfigName, data, 0o600))

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, "legacy", cfg.Repositories[0].ID)

	// Original file renamed so migration is one-shot.
	_, statErr := os.Stat(legacyConfigName)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(legacyConfigName + ".migrated")
	assert.NoError(t, statErr)
}

func TestSave_RoundTrips(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, EdgeConfig{Repositories: []RepositoryConfig{validRepo("a")}})

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	cfg.Repositories = append(cfg.Repositories, validRepo("b"))
	require.NoError(t, Save(cfg))

	reloaded, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	require.Len(t, reloaded.Repositories, 2)
	assert.Equal(t, "b", reloaded.Repositories[1].ID)

	// No stray temp files left behind.
	entries, err := os.ReadDir(home)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".config-", "temp file leaked: %s", filepath.Join(home, e.Name()))
	}
}
