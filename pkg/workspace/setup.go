package workspace

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ceedaragents/cyrus/pkg/config"
)

// setupScriptTimeout is the hard cap for each setup script run.
const setupScriptTimeout = 5 * time.Minute

// setupScriptNames are the repository-local setup script names probed in
// order, by platform.
func setupScriptNames() []string {
	if runtime.GOOS == "windows" {
		return []string{"cyrus-setup.ps1", "cyrus-setup.cmd", "cyrus-setup.bat"}
	}
	return []string{"cyrus-setup.sh"}
}

// runSetupScripts runs the global setup script, then the repository-local
// one, inside the provisioned workspace. Failures are logged, never fatal:
// a half-initialised workspace is still more useful than no session.
func (p *Provisioner) runSetupScripts(ctx context.Context, workspacePath string, issue IssueInfo, repo config.RepositoryConfig) {
	if p.globalSetupScript != "" {
		p.runScript(ctx, p.globalSetupScript, workspacePath, issue)
	}

	if repo.SetupScript != "" {
		script := repo.SetupScript
		if !filepath.IsAbs(script) {
			script = filepath.Join(repo.RepositoryPath, script)
		}
		p.runScript(ctx, script, workspacePath, issue)
		return
	}

	for _, name := range setupScriptNames() {
		script := filepath.Join(workspacePath, name)
		if _, err := os.Stat(script); err == nil {
			p.runScript(ctx, script, workspacePath, issue)
			return
		}
	}
}

func (p *Provisioner) runScript(ctx context.Context, script, workspacePath string, issue IssueInfo) {
	log := slog.With("script", script, "issue", issue.Identifier)

	ctx, cancel := context.WithTimeout(ctx, setupScriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = workspacePath
	cmd.Env = append(os.Environ(),
		"ISSUE_ID="+issue.ID,
		"ISSUE_IDENTIFIER="+issue.Identifier,
		"ISSUE_TITLE="+issue.Title,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	if err := cmd.Run(); err != nil {
		log.Warn("Setup script failed",
			"error", err,
			"duration", time.Since(start),
			"output", truncate(output.String(), 2048))
		return
	}
	log.Info("Setup script completed", "duration", time.Since(start))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
