// Package router classifies inbound webhook events and selects the
// repository that should handle them. Routing is pure given its inputs: it
// never mutates state, so the same event and repository list always produce
// the same decision.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/tracker"
)

// Intent is what an inbound event asks the orchestrator to do.
type Intent string

const (
	IntentSessionCreated     Intent = "session-created"
	IntentSessionPrompted    Intent = "session-prompted"
	IntentSessionStopSignal  Intent = "session-stop-signal"
	IntentIssueUnassigned    Intent = "issue-unassigned"
	IntentLegacyNotification Intent = "legacy-notification"
)

// Decision is a successful routing result.
type Decision struct {
	RepositoryID string
	Intent       Intent
}

// IssueLookup resolves an issue's project name. Project resolution needs a
// live tracker fetch; the router tolerates failures and falls through to the
// next matching rule.
type IssueLookup interface {
	ProjectName(ctx context.Context, repoID, issueID string) (string, error)
}

// Classify maps a parsed event to an intent. Returns false for payload
// shapes the orchestrator does not act on.
func Classify(ev *tracker.Event) (Intent, bool) {
	switch ev.Type {
	case tracker.PayloadAgentSessionEvent:
		if ev.AgentActivity != nil && ev.AgentActivity.Signal == tracker.StopSignal {
			return IntentSessionStopSignal, true
		}
		switch ev.Action {
		case tracker.ActionCreated:
			return IntentSessionCreated, true
		case tracker.ActionPrompted:
			return IntentSessionPrompted, true
		}
		return "", false
	case tracker.PayloadAppUserNotification:
		if ev.Notification != nil && strings.Contains(ev.Notification.Type, "issueUnassigned") {
			return IntentIssueUnassigned, true
		}
		return IntentLegacyNotification, true
	}
	return "", false
}

// Route selects the repository for an event. Selection order, first match
// wins:
//
//  1. Project-name match (requires a live issue fetch; lookup failure falls
//     through rather than aborting)
//  2. Team-key match, from the event's team.key or the issue identifier
//  3. Workspace catch-all (no team keys, no project keys)
//
// Returns false when no repository matches; the caller logs and drops.
func Route(ctx context.Context, ev *tracker.Event, repos []config.RepositoryConfig, lookup IssueLookup) (Decision, bool) {
	intent, ok := Classify(ev)
	if !ok {
		return Decision{}, false
	}

	if repo, ok := matchByProject(ctx, ev, repos, lookup); ok {
		return Decision{RepositoryID: repo, Intent: intent}, true
	}
	if repo, ok := matchByTeamKey(ev, repos); ok {
		return Decision{RepositoryID: repo, Intent: intent}, true
	}
	if repo, ok := matchCatchAll(ev, repos); ok {
		return Decision{RepositoryID: repo, Intent: intent}, true
	}
	return Decision{}, false
}

func matchByProject(ctx context.Context, ev *tracker.Event, repos []config.RepositoryConfig, lookup IssueLookup) (string, bool) {
	issue := ev.Issue()
	if issue == nil || lookup == nil {
		return "", false
	}

	// Only bother with the lookup when some repository routes by project.
	var candidates []*config.RepositoryConfig
	for i := range repos {
		if repos[i].Active() && len(repos[i].ProjectKeys) > 0 {
			candidates = append(candidates, &repos[i])
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	project, err := lookup.ProjectName(ctx, candidates[0].ID, issue.ID)
	if err != nil {
		slog.Warn("Project lookup failed, falling through to team-key routing",
			"issue", issue.Identifier, "error", err)
		return "", false
	}
	if project == "" {
		return "", false
	}

	for _, repo := range candidates {
		for _, key := range repo.ProjectKeys {
			if key == project {
				return repo.ID, true
			}
		}
	}
	return "", false
}

func matchByTeamKey(ev *tracker.Event, repos []config.RepositoryConfig) (string, bool) {
	key := ev.TeamKey()
	if key == "" {
		if issue := ev.Issue(); issue != nil {
			key = teamKeyFromIdentifier(issue.Identifier)
		}
	}
	if key == "" {
		return "", false
	}

	for i := range repos {
		repo := &repos[i]
		if !repo.Active() {
			continue
		}
		for _, k := range repo.TeamKeys {
			if k == key {
				return repo.ID, true
			}
		}
	}
	return "", false
}

func matchCatchAll(ev *tracker.Event, repos []config.RepositoryConfig) (string, bool) {
	if ev.OrganizationID == "" {
		return "", false
	}
	for i := range repos {
		repo := &repos[i]
		if repo.Active() && repo.CatchAll() && repo.TrackerWorkspaceID == ev.OrganizationID {
			return repo.ID, true
		}
	}
	return "", false
}

// teamKeyFromIdentifier parses "KEY-N" identifiers into the team key.
// Returns "" when the identifier does not have that shape.
func teamKeyFromIdentifier(identifier string) string {
	i := strings.LastIndexByte(identifier, '-')
	if i <= 0 || i == len(identifier)-1 {
		return ""
	}
	key, num := identifier[:i], identifier[i+1:]
	for _, r := range num {
		if r < '0' || r > '9' {
			return ""
		}
	}
	for _, r := range key {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return key
}
