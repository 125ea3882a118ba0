package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
)

// legacyConfigName is the pre-home-directory config file, migrated one-shot
// into $CYRUS_HOME/config.json on startup.
const legacyConfigName = ".edge-config.json"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Migrate the legacy ./.edge-config.json layout if present
//  2. Read and parse $CYRUS_HOME/config.json
//  3. Merge built-in defaults under the loaded values
//  4. Apply environment variable overrides
//  5. Validate the result
func Initialize(ctx context.Context, cyrusHome string) (*Config, error) {
	log := slog.With("cyrus_home", cyrusHome)
	log.Info("Initializing configuration")

	if err := migrateLegacyConfig(cyrusHome); err != nil {
		return nil, fmt.Errorf("legacy config migration failed: %w", err)
	}

	cfg, err := load(ctx, cyrusHome)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := mergo.Merge(&cfg.EdgeConfig, builtinDefaults()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	applyEnvOverrides(&cfg.EdgeConfig)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"repositories", len(cfg.Repositories),
		"active", len(cfg.ActiveRepositories()),
		"port", cfg.ServerPort)

	return cfg, nil
}

func load(_ context.Context, cyrusHome string) (*Config, error) {
	path := ConfigPath(cyrusHome)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	var edge EdgeConfig
	if err := json.Unmarshal(data, &edge); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}

	return &Config{
		EdgeConfig: edge,
		CyrusHome:  cyrusHome,
		Path:       path,
	}, nil
}

// applyEnvOverrides layers process environment settings over the file.
// Environment wins over file contents for operational knobs.
func applyEnvOverrides(edge *EdgeConfig) {
	if v := os.Getenv("CYRUS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			edge.ServerPort = port
		} else {
			slog.Warn("Ignoring invalid CYRUS_SERVER_PORT", "value", v)
		}
	}
	if v := os.Getenv("CYRUS_HOST_EXTERNAL"); v != "" {
		edge.HostExternal = v == "true"
	}
	if v := os.Getenv("CYRUS_BASE_URL"); v != "" {
		edge.BaseURL = v
	}
	if v := os.Getenv("PROXY_URL"); v != "" {
		edge.ProxyURL = v
	}
	if v := os.Getenv("CYRUS_DEFAULT_MODEL"); v != "" {
		edge.DefaultModel = v
	}
	if v := os.Getenv("CYRUS_DEFAULT_FALLBACK_MODEL"); v != "" {
		edge.DefaultFallbackModel = v
	}
	if v := os.Getenv("ALLOWED_TOOLS"); v != "" {
		edge.DefaultAllowedTools = splitCommaList(v)
	}
	if v := os.Getenv("DISALLOWED_TOOLS"); v != "" {
		edge.DefaultDisallowedTools = splitCommaList(v)
	}

	// A token supplied via environment applies to repositories that omit one.
	token := os.Getenv("LINEAR_OAUTH_TOKEN")
	workspaceID := os.Getenv("LINEAR_WORKSPACE_ID")
	if token != "" || workspaceID != "" {
		for i := range edge.Repositories {
			if edge.Repositories[i].TrackerToken == "" && token != "" {
				edge.Repositories[i].TrackerToken = token
			}
			if edge.Repositories[i].TrackerWorkspaceID == "" && workspaceID != "" {
				edge.Repositories[i].TrackerWorkspaceID = workspaceID
			}
		}
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// migrateLegacyConfig moves ./.edge-config.json into $CYRUS_HOME/config.json.
// The migration runs at most once: the legacy file is renamed afterwards so
// later startups do not re-read it. A pre-existing config.json wins.
func migrateLegacyConfig(cyrusHome string) error {
	legacy := legacyConfigName
	if _, err := os.Stat(legacy); err != nil {
		return nil // nothing to migrate
	}

	target := ConfigPath(cyrusHome)
	if _, err := os.Stat(target); err == nil {
		slog.Warn("Legacy config present but config.json already exists, skipping migration",
			"legacy", legacy, "config", target)
		return nil
	}

	if err := os.MkdirAll(cyrusHome, 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(legacy)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(legacy, legacy+".migrated"); err != nil {
		slog.Warn("Migrated legacy config but could not rename it", "error", err)
	}
	slog.Info("Migrated legacy config", "from", legacy, "to", target)
	return nil
}

// Save writes the config back to disk atomically (temp file + rename).
// Used by the add-repository and refresh-token commands.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.CyrusHome, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg.EdgeConfig, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(cfg.Path), ".config-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, cfg.Path)
}
