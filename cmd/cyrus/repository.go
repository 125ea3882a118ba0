package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/pkg/config"
)

// newAddRepositoryCmd walks through adding one repository to the
// configuration.
func newAddRepositoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-repository",
		Short: "Interactively add a repository to the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := cyrusHome()
			cfg, err := config.Initialize(cmd.Context(), home)
			if err != nil {
				// A missing config is fine here; the wizard creates the first one.
				cfg = &config.Config{CyrusHome: home, Path: config.ConfigPath(home)}
			}

			repoPath, err := prompt("Local repository path", "", func(v string) error {
				info, statErr := os.Stat(v)
				if statErr != nil || !info.IsDir() {
					return fmt.Errorf("not a directory: %s", v)
				}
				return nil
			})
			if err != nil {
				return err
			}
			repoPath, _ = filepath.Abs(repoPath)

			defaultID := filepath.Base(repoPath)
			id, err := prompt("Repository id", defaultID, func(v string) error {
				if v == "" {
					return fmt.Errorf("id is required")
				}
				if cfg.RepositoryByID(v) != nil {
					return fmt.Errorf("id already in use: %s", v)
				}
				return nil
			})
			if err != nil {
				return err
			}

			name, err := prompt("Display name", defaultID, nil)
			if err != nil {
				return err
			}
			baseBranch, err := prompt("Base branch", "main", nil)
			if err != nil {
				return err
			}
			token, err := prompt("Tracker token", "", required("token"))
			if err != nil {
				return err
			}
			workspaceID, err := prompt("Tracker workspace id", "", required("workspace id"))
			if err != nil {
				return err
			}
			teamKeysRaw, err := prompt("Team keys (comma-separated, empty for catch-all)", "", nil)
			if err != nil {
				return err
			}

			repo := config.RepositoryConfig{
				ID:                 id,
				Name:               name,
				RepositoryPath:     repoPath,
				BaseBranch:         baseBranch,
				WorkspaceBaseDir:   config.DefaultWorkspaceRoot(home, id),
				TrackerToken:       token,
				TrackerWorkspaceID: workspaceID,
				TeamKeys:           splitKeys(teamKeysRaw),
			}
			cfg.Repositories = append(cfg.Repositories, repo)

			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("Repository %q added (%d configured).\n", id, len(cfg.Repositories))
			return nil
		},
	}
}

func prompt(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	if validate != nil {
		p.Validate = validate
	}
	v, err := p.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func required(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func splitKeys(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			out = append(out, strings.ToUpper(key))
		}
	}
	return out
}
