// Package config loads and validates the orchestrator configuration kept in
// $CYRUS_HOME/config.json. The file is operator-edited JSON; the loader
// applies environment overrides, merges built-in defaults, migrates the
// legacy ./.edge-config.json layout, and validates the result.
package config

import (
	"os"
	"path/filepath"
)

// RepositoryConfig describes one configured repository. Immutable once
// loaded; config reloads swap the whole repository list.
type RepositoryConfig struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	RepositoryPath     string `json:"repositoryPath"`
	BaseBranch         string `json:"baseBranch"`
	WorkspaceBaseDir   string `json:"workspaceBaseDir"`
	TrackerToken       string `json:"trackerToken"`
	TrackerWorkspaceID string `json:"trackerWorkspaceId"`

	// Routing keys. A repository with neither teamKeys nor projectKeys is a
	// catch-all for its tracker workspace.
	TeamKeys    []string `json:"teamKeys,omitempty"`
	ProjectKeys []string `json:"projectKeys,omitempty"`

	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`

	// LabelPrompts maps an issue label to a phase-prompt variant name.
	LabelPrompts map[string]string `json:"labelPrompts,omitempty"`

	// SetupScript runs in a freshly provisioned workspace, after the global
	// setup script. Resolved relative to RepositoryPath when not absolute.
	SetupScript string `json:"setupScript,omitempty"`

	IsActive *bool `json:"isActive,omitempty"`
}

// Active reports whether the repository participates in routing.
// Repositories default to active when the field is omitted.
func (r *RepositoryConfig) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// CatchAll reports whether the repository matches any issue in its tracker
// workspace (no team keys and no project keys configured).
func (r *RepositoryConfig) CatchAll() bool {
	return len(r.TeamKeys) == 0 && len(r.ProjectKeys) == 0
}

// EdgeConfig is the on-disk shape of $CYRUS_HOME/config.json.
type EdgeConfig struct {
	Repositories []RepositoryConfig `json:"repositories"`

	ServerPort   int    `json:"serverPort,omitempty"`
	HostExternal bool   `json:"hostExternal,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
	ProxyURL     string `json:"proxyUrl,omitempty"`

	WebhookSecret  string `json:"webhookSecret,omitempty"`
	NgrokAuthToken string `json:"ngrokAuthToken,omitempty"`

	DefaultModel         string `json:"defaultModel,omitempty"`
	DefaultFallbackModel string `json:"defaultFallbackModel,omitempty"`

	DefaultAllowedTools    []string `json:"defaultAllowedTools,omitempty"`
	DefaultDisallowedTools []string `json:"defaultDisallowedTools,omitempty"`

	// GlobalSetupScript runs in every new workspace before the per-repo one.
	GlobalSetupScript string `json:"globalSetupScript,omitempty"`

	StripeCustomerID string `json:"stripeCustomerId,omitempty"`
}

// Config is the validated runtime configuration.
type Config struct {
	EdgeConfig

	// CyrusHome is the resolved configuration directory.
	CyrusHome string
	// Path is the absolute path of the loaded config file.
	Path string
}

// ConfigPath returns the config file path under home.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.json")
}

// SnapshotPath returns the machine-managed state snapshot path under home.
func SnapshotPath(home string) string {
	return filepath.Join(home, "state", "snapshot.json")
}

// DefaultWorkspaceRoot returns the default workspace root for a repository.
func DefaultWorkspaceRoot(home, repoSlug string) string {
	return filepath.Join(home, "workspaces", repoSlug)
}

// DefaultHome resolves $CYRUS_HOME, defaulting to ~/.cyrus.
func DefaultHome() string {
	if home := os.Getenv("CYRUS_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".cyrus"
	}
	return filepath.Join(userHome, ".cyrus")
}

// RepositoryByID returns the repository with the given id, or nil.
func (c *Config) RepositoryByID(id string) *RepositoryConfig {
	for i := range c.Repositories {
		if c.Repositories[i].ID == id {
			return &c.Repositories[i]
		}
	}
	return nil
}

// ActiveRepositories returns the active repositories in file order.
func (c *Config) ActiveRepositories() []RepositoryConfig {
	out := make([]RepositoryConfig, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}
