package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/tracker"
)

type fakeLookup struct {
	project string
	err     error
	calls   int
}

func (f *fakeLookup) ProjectName(context.Context, string, string) (string, error) {
	f.calls++
	return f.project, f.err
}

func repoWithTeam(id, key string) config.RepositoryConfig {
	return config.RepositoryConfig{ID: id, TrackerWorkspaceID: "ws-1", TeamKeys: []string{key}}
}

func repoWithProject(id, project string) config.RepositoryConfig {
	return config.RepositoryConfig{ID: id, TrackerWorkspaceID: "ws-1", ProjectKeys: []string{project}}
}

func repoCatchAll(id, workspace string) config.RepositoryConfig {
	return config.RepositoryConfig{ID: id, TrackerWorkspaceID: workspace}
}

func sessionEvent(action, identifier, teamKey string) *tracker.Event {
	ev := &tracker.Event{
		Type:           tracker.PayloadAgentSessionEvent,
		Action:         action,
		OrganizationID: "ws-1",
		AgentSession: &tracker.AgentSession{
			ID:    "sess-1",
			Issue: &tracker.IssueStub{ID: "issue-1", Identifier: identifier},
		},
	}
	if teamKey != "" {
		ev.AgentSession.Team = &tracker.Team{Key: teamKey}
	}
	return ev
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ev   *tracker.Event
		want Intent
		ok   bool
	}{
		{"created", sessionEvent(tracker.ActionCreated, "CEE-1", "CEE"), IntentSessionCreated, true},
		{"prompted", sessionEvent(tracker.ActionPrompted, "CEE-1", "CEE"), IntentSessionPrompted, true},
		{
			"stop signal",
			&tracker.Event{
				Type:          tracker.PayloadAgentSessionEvent,
				Action:        tracker.ActionPrompted,
				AgentSession:  &tracker.AgentSession{ID: "s"},
				AgentActivity: &tracker.AgentActivity{Signal: tracker.StopSignal},
			},
			IntentSessionStopSignal, true,
		},
		{
			"unassigned",
			&tracker.Event{
				Type:         tracker.PayloadAppUserNotification,
				Notification: &tracker.Notification{Type: "issueUnassignedFromYou"},
			},
			IntentIssueUnassigned, true,
		},
		{
			"legacy notification",
			&tracker.Event{
				Type:         tracker.PayloadAppUserNotification,
				Notification: &tracker.Notification{Type: "issueCommentMention"},
			},
			IntentLegacyNotification, true,
		},
		{"unknown type", &tracker.Event{Type: "SomethingElse"}, "", false},
		{"unknown action", sessionEvent("deleted", "CEE-1", "CEE"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoute_ProjectMatchWinsOverTeamMatch(t *testing.T) {
	// Scenario: repo A routes by project "Mobile App", repo B by team CEE.
	// An event for CEE-9 whose project is "Mobile App" goes to repo A.
	repos := []config.RepositoryConfig{
		repoWithProject("repo-a", "Mobile App"),
		repoWithTeam("repo-b", "CEE"),
	}
	lookup := &fakeLookup{project: "Mobile App"}

	d, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "CEE-9", "CEE"), repos, lookup)
	require.True(t, ok)
	assert.Equal(t, "repo-a", d.RepositoryID)
	assert.Equal(t, IntentSessionCreated, d.Intent)
}

func TestRoute_LookupFailureFallsThroughToTeam(t *testing.T) {
	repos := []config.RepositoryConfig{
		repoWithProject("repo-a", "Mobile App"),
		repoWithTeam("repo-b", "CEE"),
	}
	lookup := &fakeLookup{err: errors.New("tracker down")}

	d, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "CEE-9", "CEE"), repos, lookup)
	require.True(t, ok)
	assert.Equal(t, "repo-b", d.RepositoryID)
}

func TestRoute_TeamKeyFromIdentifier(t *testing.T) {
	repos := []config.RepositoryConfig{repoWithTeam("repo-b", "CEE")}

	// No team.key on the event; the identifier parses as CEE-42.
	d, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "CEE-42", ""), repos, nil)
	require.True(t, ok)
	assert.Equal(t, "repo-b", d.RepositoryID)
}

func TestRoute_CatchAllByWorkspace(t *testing.T) {
	repos := []config.RepositoryConfig{
		repoWithTeam("repo-a", "OTHER"),
		repoCatchAll("repo-b", "ws-1"),
		repoCatchAll("repo-c", "ws-1"), // shadowed: first catch-all wins
	}

	d, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "ZZZ-1", "ZZZ"), repos, nil)
	require.True(t, ok)
	assert.Equal(t, "repo-b", d.RepositoryID)
}

func TestRoute_CatchAllRequiresMatchingWorkspace(t *testing.T) {
	repos := []config.RepositoryConfig{repoCatchAll("repo-b", "ws-other")}

	_, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "ZZZ-1", ""), repos, nil)
	assert.False(t, ok)
}

func TestRoute_InactiveReposSkipped(t *testing.T) {
	inactive := repoWithTeam("repo-a", "CEE")
	no := false
	inactive.IsActive = &no
	repos := []config.RepositoryConfig{inactive, repoCatchAll("repo-b", "ws-1")}

	d, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "CEE-1", "CEE"), repos, nil)
	require.True(t, ok)
	assert.Equal(t, "repo-b", d.RepositoryID)
}

func TestRoute_NoLookupWhenNoProjectRepos(t *testing.T) {
	repos := []config.RepositoryConfig{repoWithTeam("repo-b", "CEE")}
	lookup := &fakeLookup{project: "Mobile App"}

	_, ok := Route(context.Background(), sessionEvent(tracker.ActionCreated, "CEE-1", "CEE"), repos, lookup)
	require.True(t, ok)
	assert.Zero(t, lookup.calls, "no live fetch unless a repo routes by project")
}

func TestRoute_IsPure(t *testing.T) {
	repos := []config.RepositoryConfig{
		repoWithProject("repo-a", "Mobile App"),
		repoWithTeam("repo-b", "CEE"),
		repoCatchAll("repo-c", "ws-1"),
	}
	ev := sessionEvent(tracker.ActionPrompted, "CEE-9", "CEE")
	lookup := &fakeLookup{project: "Mobile App"}

	d1, ok1 := Route(context.Background(), ev, repos, lookup)
	d2, ok2 := Route(context.Background(), ev, repos, lookup)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, d1, d2)
}

func TestTeamKeyFromIdentifier(t *testing.T) {
	assert.Equal(t, "CEE", teamKeyFromIdentifier("CEE-42"))
	assert.Equal(t, "A1", teamKeyFromIdentifier("A1-9"))
	assert.Equal(t, "", teamKeyFromIdentifier("cee-42"))
	assert.Equal(t, "", teamKeyFromIdentifier("CEE-"))
	assert.Equal(t, "", teamKeyFromIdentifier("-42"))
	assert.Equal(t, "", teamKeyFromIdentifier("CEE-4a"))
	assert.Equal(t, "", teamKeyFromIdentifier("noseparator"))
}
