// Package workspace provisions isolated filesystem roots per issue,
// preferring a git worktree layout over a plain directory. The provisioner
// never deletes worktrees; external cleanup is the operator's responsibility.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ceedaragents/cyrus/pkg/config"
)

// IssueInfo carries the issue fields the provisioner needs.
type IssueInfo struct {
	ID         string
	Identifier string
	Title      string
	// BranchName is the tracker-supplied branch name, if any.
	BranchName string

	// Parent fields, set when the issue is a sub-issue. The parent's branch
	// (derived by the same naming rule) is preferred as the base branch when
	// it exists locally or on the remote.
	ParentIdentifier string
	ParentTitle      string
	ParentBranchName string
}

// Workspace is the provisioning result handed to the orchestrator.
type Workspace struct {
	Path       string
	IsWorktree bool
	BranchName string
	// AttachmentsDir is a sibling directory exposed to the agent as an extra
	// readable dir for downloaded issue attachments.
	AttachmentsDir string
}

// Provisioner creates workspaces. Safe for concurrent use across distinct
// issues; the orchestrator guarantees one session per workspace path.
type Provisioner struct {
	git               git
	globalSetupScript string
}

// NewProvisioner creates a provisioner. globalSetupScript may be empty.
func NewProvisioner(globalSetupScript string) *Provisioner {
	return &Provisioner{
		git:               git{runner: execGitRunner{}},
		globalSetupScript: globalSetupScript,
	}
}

// Provision creates (or re-uses) the workspace for an issue.
//
// The worktree path is workspaceRoot/<identifier>. When worktree creation
// fails entirely the provisioner falls back to a plain directory: the agent
// still gets an isolated root, just without version control.
func (p *Provisioner) Provision(ctx context.Context, issue IssueInfo, repo config.RepositoryConfig) (Workspace, error) {
	log := slog.With("issue", issue.Identifier, "repository", repo.ID)

	root := repo.WorkspaceBaseDir
	if root == "" {
		root = config.DefaultWorkspaceRoot(config.DefaultHome(), repo.ID)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("failed to create workspace root: %w", err)
	}

	branchName := BranchNameFor(issue)
	path := filepath.Join(root, issue.Identifier)
	attachments := filepath.Join(root, issue.Identifier+"-attachments")
	if err := os.MkdirAll(attachments, 0o755); err != nil {
		log.Warn("Could not create attachments dir", "error", err)
		attachments = ""
	}

	// Re-use an existing worktree for this issue if one is checked out.
	if p.git.hasWorktreeAt(ctx, repo.RepositoryPath, path) {
		log.Info("Re-using existing worktree", "path", path)
		return Workspace{Path: path, IsWorktree: true, BranchName: branchName, AttachmentsDir: attachments}, nil
	}

	// Fetch is best-effort: offline operation continues with local refs.
	if err := p.git.fetch(ctx, repo.RepositoryPath); err != nil {
		log.Warn("git fetch failed, continuing with local refs", "error", err)
	}

	ws, err := p.createWorktree(ctx, issue, repo, path, branchName)
	if err != nil {
		log.Error("Worktree creation failed, falling back to plain directory", "error", err)
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return Workspace{}, fmt.Errorf("fallback directory creation failed: %w", mkErr)
		}
		ws = Workspace{Path: path, IsWorktree: false, BranchName: branchName, AttachmentsDir: attachments}
	} else {
		ws.AttachmentsDir = attachments
	}

	p.runSetupScripts(ctx, ws.Path, issue, repo)
	return ws, nil
}

// createWorktree creates the worktree, selecting the base branch:
// parent issue's branch when it exists locally or remotely, else the
// repository base branch (remote copy preferred, local next, remote base as
// last resort).
func (p *Provisioner) createWorktree(ctx context.Context, issue IssueInfo, repo config.RepositoryConfig, path, branchName string) (Workspace, error) {
	repoDir := repo.RepositoryPath
	base := p.selectBaseBranch(ctx, issue, repo)

	// If the session branch itself already exists, check it out directly.
	if p.git.localBranchExists(ctx, repoDir, branchName) {
		if err := p.git.addWorktreeExisting(ctx, repoDir, path, branchName); err != nil {
			return Workspace{}, err
		}
		return Workspace{Path: path, IsWorktree: true, BranchName: branchName}, nil
	}

	start := ""
	switch {
	case p.git.remoteBranchExists(ctx, repoDir, base):
		start = "origin/" + base
	case p.git.localBranchExists(ctx, repoDir, base):
		start = base
	case p.git.remoteBranchExists(ctx, repoDir, repo.BaseBranch):
		// Base missing both locally and remotely: last resort is the
		// repository base branch on the remote.
		start = "origin/" + repo.BaseBranch
	default:
		return Workspace{}, fmt.Errorf("no usable base branch for %s (tried %q and %q)", branchName, base, repo.BaseBranch)
	}

	if err := p.git.addWorktree(ctx, repoDir, path, branchName, start); err != nil {
		return Workspace{}, err
	}
	return Workspace{Path: path, IsWorktree: true, BranchName: branchName}, nil
}

// selectBaseBranch prefers the parent issue's branch when present.
func (p *Provisioner) selectBaseBranch(ctx context.Context, issue IssueInfo, repo config.RepositoryConfig) string {
	if issue.ParentIdentifier == "" {
		return repo.BaseBranch
	}
	parentBranch := BranchNameFor(IssueInfo{
		Identifier: issue.ParentIdentifier,
		Title:      issue.ParentTitle,
		BranchName: issue.ParentBranchName,
	})
	if p.git.localBranchExists(ctx, repo.RepositoryPath, parentBranch) ||
		p.git.remoteBranchExists(ctx, repo.RepositoryPath, parentBranch) {
		return parentBranch
	}
	return repo.BaseBranch
}
