package config

import (
	"errors"
	"log/slog"
	"path/filepath"
)

// validate checks structural invariants of the loaded configuration.
// Collects all errors instead of stopping at the first one.
func validate(cfg *Config) error {
	var errs []error

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		errs = append(errs, NewValidationError("server", "port", "serverPort", ErrInvalidValue))
	}

	seen := make(map[string]bool, len(cfg.Repositories))
	for i := range cfg.Repositories {
		repo := &cfg.Repositories[i]
		id := repo.ID
		if id == "" {
			errs = append(errs, NewValidationError("repository", repo.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seen[id] {
			errs = append(errs, NewValidationError("repository", id, "id", ErrDuplicateID))
		}
		seen[id] = true

		if repo.RepositoryPath == "" {
			errs = append(errs, NewValidationError("repository", id, "repositoryPath", ErrMissingRequiredField))
		} else if !filepath.IsAbs(repo.RepositoryPath) {
			errs = append(errs, NewValidationError("repository", id, "repositoryPath", ErrInvalidValue))
		}
		if repo.WorkspaceBaseDir != "" && !filepath.IsAbs(repo.WorkspaceBaseDir) {
			errs = append(errs, NewValidationError("repository", id, "workspaceBaseDir", ErrInvalidValue))
		}
		if repo.BaseBranch == "" {
			errs = append(errs, NewValidationError("repository", id, "baseBranch", ErrMissingRequiredField))
		}
		if repo.TrackerToken == "" {
			errs = append(errs, NewValidationError("repository", id, "trackerToken", ErrMissingRequiredField))
		}
		if repo.TrackerWorkspaceID == "" {
			errs = append(errs, NewValidationError("repository", id, "trackerWorkspaceId", ErrMissingRequiredField))
		}
	}

	warnDuplicateCatchAlls(cfg)

	return errors.Join(errs...)
}

// warnDuplicateCatchAlls logs a warning when a tracker workspace has more
// than one catch-all repository. The router picks the first in file order;
// the shadowed ones still match by team or project keys if those are set
// later, so they stay in the config.
func warnDuplicateCatchAlls(cfg *Config) {
	first := make(map[string]string) // workspace id → repo id
	for i := range cfg.Repositories {
		repo := &cfg.Repositories[i]
		if !repo.Active() || !repo.CatchAll() {
			continue
		}
		if winner, ok := first[repo.TrackerWorkspaceID]; ok {
			slog.Warn("Multiple catch-all repositories for tracker workspace; first in file order wins",
				"workspace_id", repo.TrackerWorkspaceID,
				"winner", winner,
				"shadowed", repo.ID)
			continue
		}
		first[repo.TrackerWorkspaceID] = repo.ID
	}
}
