package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitRunner executes git commands in a working directory. Abstracted for
// testability; the real implementation shells out.
type gitRunner interface {
	run(ctx context.Context, dir string, args ...string) (string, error)
}

type execGitRunner struct{}

func (execGitRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// git wraps the runner with the operations the provisioner needs.
type git struct {
	runner gitRunner
}

// worktreePath returns the registered worktree path for a branch-less probe:
// whether any worktree is checked out at the given path.
func (g git) hasWorktreeAt(ctx context.Context, repoDir, path string) bool {
	out, err := g.runner.run(ctx, repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok && rest == path {
			return true
		}
	}
	return false
}

func (g git) fetch(ctx context.Context, repoDir string) error {
	_, err := g.runner.run(ctx, repoDir, "fetch", "origin")
	return err
}

func (g git) localBranchExists(ctx context.Context, repoDir, branch string) bool {
	_, err := g.runner.run(ctx, repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func (g git) remoteBranchExists(ctx context.Context, repoDir, branch string) bool {
	_, err := g.runner.run(ctx, repoDir, "rev-parse", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	return err == nil
}

// addWorktree creates a worktree at path on a new branch created from start.
func (g git) addWorktree(ctx context.Context, repoDir, path, newBranch, start string) error {
	_, err := g.runner.run(ctx, repoDir, "worktree", "add", path, "-b", newBranch, start)
	return err
}

// addWorktreeExisting checks out an already-existing branch into a worktree.
func (g git) addWorktreeExisting(ctx context.Context, repoDir, path, branch string) error {
	_, err := g.runner.run(ctx, repoDir, "worktree", "add", path, branch)
	return err
}
