package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/config"
)

// fakeGit scripts git behavior: which branches exist where, and which
// commands fail. It records every invocation for assertions.
type fakeGit struct {
	localBranches  map[string]bool
	remoteBranches map[string]bool
	worktrees      map[string]bool
	failWorktree   bool
	fetchErr       error
	calls          []string
}

func (f *fakeGit) run(_ context.Context, _ string, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	f.calls = append(f.calls, cmd)

	switch args[0] {
	case "worktree":
		if args[1] == "list" {
			var b strings.Builder
			for path := range f.worktrees {
				b.WriteString("worktree " + path + "\n\n")
			}
			return b.String(), nil
		}
		if f.failWorktree {
			return "", errors.New("fatal: could not create work tree")
		}
		f.worktrees[args[2]] = true
		return "", nil
	case "fetch":
		if f.fetchErr != nil {
			return "", f.fetchErr
		}
		return "", nil
	case "rev-parse":
		ref := args[len(args)-1]
		if branch, ok := strings.CutPrefix(ref, "refs/heads/"); ok && f.localBranches[branch] {
			return "abc123", nil
		}
		if branch, ok := strings.CutPrefix(ref, "refs/remotes/origin/"); ok && f.remoteBranches[branch] {
			return "abc123", nil
		}
		return "", errors.New("unknown ref")
	}
	return "", errors.New("unexpected git command: " + cmd)
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		localBranches:  map[string]bool{"main": true},
		remoteBranches: map[string]bool{"main": true},
		worktrees:      map[string]bool{},
	}
}

func testRepo(t *testing.T) config.RepositoryConfig {
	return config.RepositoryConfig{
		ID:               "repo-1",
		RepositoryPath:   "/srv/repos/app",
		BaseBranch:       "main",
		WorkspaceBaseDir: t.TempDir(),
	}
}

func testProvisioner(g *fakeGit) *Provisioner {
	return &Provisioner{git: git{runner: g}}
}

func TestProvision_CreatesWorktreeFromRemoteBase(t *testing.T) {
	g := newFakeGit()
	p := testProvisioner(g)
	repo := testRepo(t)

	ws, err := p.Provision(context.Background(), IssueInfo{ID: "i1", Identifier: "CEE-42", Title: "Do a thing"}, repo)
	require.NoError(t, err)

	assert.True(t, ws.IsWorktree)
	assert.Equal(t, filepath.Join(repo.WorkspaceBaseDir, "CEE-42"), ws.Path)
	assert.Equal(t, "CEE-42-do-a-thing", ws.BranchName)
	assert.Contains(t, g.calls, "worktree add "+ws.Path+" -b CEE-42-do-a-thing origin/main")
	assert.NotEmpty(t, ws.AttachmentsDir)
}

func TestProvision_PrefersParentBranch(t *testing.T) {
	g := newFakeGit()
	g.remoteBranches["CEE-3-refactor-api"] = true
	p := testProvisioner(g)
	repo := testRepo(t)

	ws, err := p.Provision(context.Background(), IssueInfo{
		ID:               "i7",
		Identifier:       "CEE-7",
		Title:            "Fix bug",
		ParentIdentifier: "CEE-3",
		ParentBranchName: "CEE-3-refactor-api",
	}, repo)
	require.NoError(t, err)

	assert.Contains(t, g.calls, "worktree add "+ws.Path+" -b CEE-7-fix-bug origin/CEE-3-refactor-api")
}

func TestProvision_ParentBranchMissingFallsBackToBase(t *testing.T) {
	g := newFakeGit()
	p := testProvisioner(g)
	repo := testRepo(t)

	ws, err := p.Provision(context.Background(), IssueInfo{
		ID:               "i7",
		Identifier:       "CEE-7",
		Title:            "Fix bug",
		ParentIdentifier: "CEE-3",
		ParentTitle:      "Refactor API",
	}, repo)
	require.NoError(t, err)
	assert.Contains(t, g.calls, "worktree add "+ws.Path+" -b CEE-7-fix-bug origin/main")
}

func TestProvision_ReusesExistingWorktree(t *testing.T) {
	g := newFakeGit()
	repo := testRepo(t)
	path := filepath.Join(repo.WorkspaceBaseDir, "CEE-5")
	g.worktrees[path] = true
	p := testProvisioner(g)

	ws, err := p.Provision(context.Background(), IssueInfo{ID: "i5", Identifier: "CEE-5", Title: "x"}, repo)
	require.NoError(t, err)
	assert.True(t, ws.IsWorktree)
	assert.Equal(t, path, ws.Path)

	for _, call := range g.calls {
		assert.NotContains(t, call, "worktree add")
	}
}

func TestProvision_FetchFailureIsNonFatal(t *testing.T) {
	g := newFakeGit()
	g.fetchErr = errors.New("network down")
	p := testProvisioner(g)

	ws, err := p.Provision(context.Background(), IssueInfo{ID: "i1", Identifier: "CEE-1", Title: "t"}, testRepo(t))
	require.NoError(t, err)
	assert.True(t, ws.IsWorktree)
}

func TestProvision_FallsBackToPlainDirectory(t *testing.T) {
	g := newFakeGit()
	g.failWorktree = true
	p := testProvisioner(g)
	repo := testRepo(t)

	ws, err := p.Provision(context.Background(), IssueInfo{ID: "i1", Identifier: "CEE-1", Title: "t"}, repo)
	require.NoError(t, err)

	assert.False(t, ws.IsWorktree)
	assert.DirExists(t, ws.Path)
}

func TestProvision_ExistingSessionBranchCheckedOutDirectly(t *testing.T) {
	g := newFakeGit()
	g.localBranches["CEE-6-already-there"] = true
	p := testProvisioner(g)
	repo := testRepo(t)

	ws, err := p.Provision(context.Background(), IssueInfo{
		ID: "i6", Identifier: "CEE-6", BranchName: "CEE-6-already-there",
	}, repo)
	require.NoError(t, err)
	assert.Contains(t, g.calls, "worktree add "+ws.Path+" CEE-6-already-there")
}
