package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/procedure"
	"github.com/ceedaragents/cyrus/pkg/session"
	"github.com/ceedaragents/cyrus/pkg/tracker"
	"github.com/ceedaragents/cyrus/pkg/workspace"
)

// handleSessionCreated provisions a workspace, classifies the procedure, and
// starts the first phase. Idempotent on the tracker session id: redelivered
// webhooks find the session and return.
func (o *Orchestrator) handleSessionCreated(ctx context.Context, ev *tracker.Event, repo config.RepositoryConfig) {
	agentSession := ev.AgentSession
	if agentSession == nil || agentSession.Issue == nil {
		slog.Warn("Session-created event without session or issue payload")
		return
	}
	sessionID := agentSession.ID

	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, exists := o.sessions.Get(sessionID); exists {
		slog.Info("Ignoring duplicate session-created delivery", "session_id", sessionID)
		return
	}

	log := slog.With("session_id", sessionID, "issue", agentSession.Issue.Identifier, "repository", repo.ID)
	client := o.clientFor(repo.TrackerToken)

	issue, err := client.FetchIssue(ctx, agentSession.Issue.ID)
	if err != nil {
		log.Error("Failed to fetch issue, cannot start session", "error", err)
		return
	}

	threadType := session.ThreadIssueRoot
	if agentSession.Comment != nil {
		threadType = session.ThreadCommentThread
	}
	procName := procedure.ClassifyLabels(issue.Labels, threadType == session.ThreadCommentThread && issue.Closed())
	if label := matchLabelPrompt(issue.Labels, repo.LabelPrompts); label != "" {
		procName = label
	}

	sess := &session.Session{
		ID:           sessionID,
		ThreadType:   threadType,
		Status:       session.StatusPending,
		Issue:        session.IssueRef{ID: issue.ID, Identifier: issue.Identifier, Title: issue.Title},
		RepositoryID: repo.ID,
	}
	sess.Touch()
	sess.CreatedAt = sess.UpdatedAt
	if err := procedure.Initialize(&sess.Procedure, procName); err != nil {
		log.Error("Unknown procedure from classification", "procedure", procName, "error", err)
		return
	}
	if err := o.sessions.Add(sess); err != nil {
		log.Info("Session appeared concurrently, dropping duplicate", "error", err)
		return
	}
	o.persist()
	log.Info("Session created", "procedure", procName, "thread_type", threadType)

	// Sub-issue sessions are delegated work: link them under the session
	// driving the parent issue so coordinator feedback can reach them.
	if issue.Parent != nil {
		o.linkToParentSession(sessionID, repo.ID, issue.Parent.ID)
	}

	o.postActivity(ctx, repo, tracker.Activity{
		SessionID: sessionID,
		Kind:      tracker.ActivityThought,
		Body:      fmt.Sprintf("Getting to work on %s.", issue.Identifier),
	})

	info := workspace.IssueInfo{
		ID:         issue.ID,
		Identifier: issue.Identifier,
		Title:      issue.Title,
		BranchName: issue.BranchName,
	}
	if issue.Parent != nil {
		info.ParentIdentifier = issue.Parent.Identifier
		info.ParentTitle = issue.Parent.Title
		info.ParentBranchName = issue.Parent.BranchName
	}
	ws, err := o.provisioner.Provision(ctx, info, repo)
	if err != nil {
		log.Error("Workspace provisioning failed", "error", err)
		sess.Status = session.StatusErrored
		sess.AppendEntry(session.EntryResponse, "Workspace provisioning failed: "+err.Error())
		o.persist()
		o.postActivity(ctx, repo, tracker.Activity{
			SessionID: sessionID,
			Kind:      tracker.ActivityResponse,
			Body:      "I could not set up a workspace for this issue: " + err.Error(),
		})
		return
	}

	sess.Workspace = session.Workspace{Path: ws.Path, IsWorktree: ws.IsWorktree}
	sess.Status = session.StatusActive
	sess.Touch()
	o.persist()

	phase, err := procedure.Current(&sess.Procedure)
	if err != nil {
		log.Error("No current phase after initialisation", "error", err)
		return
	}
	o.startPhase(ctx, sess, repo, phase, startSpec{
		prompt:         initialPrompt(issue, phase.Name),
		attachmentsDir: ws.AttachmentsDir,
	})
}

// matchLabelPrompt applies per-repository label overrides, first recognised
// label wins. Values may be a full procedure name or a bare variant, which
// selects that flavor of full-development.
func matchLabelPrompt(labels []string, overrides map[string]string) string {
	if len(overrides) == 0 {
		return ""
	}
	for _, label := range labels {
		name, ok := overrides[label]
		if !ok {
			continue
		}
		if _, err := procedure.Lookup(name); err == nil {
			return name
		}
		variant := procedure.FullDevelopment + ":" + name
		if _, err := procedure.Lookup(variant); err == nil {
			return variant
		}
		slog.Warn("Label prompt override names unknown procedure", "label", label, "procedure", name)
	}
	return ""
}

// handleSessionPrompted delivers a new user message to a session. A running
// agent is stopped first and the conversation resumed with the framed
// prompt; a completed session is reinitialised on a fresh procedure run.
// A prompt for a session this process has never seen starts one.
func (o *Orchestrator) handleSessionPrompted(ctx context.Context, ev *tracker.Event, repo config.RepositoryConfig) {
	agentSession := ev.AgentSession
	if agentSession == nil {
		return
	}
	if _, exists := o.sessions.Get(agentSession.ID); !exists {
		slog.Info("Prompt for unknown session, treating as created", "session_id", agentSession.ID)
		o.handleSessionCreated(ctx, ev, repo)
		return
	}

	body := ""
	if ev.AgentActivity != nil {
		body = ev.AgentActivity.Body
	}
	o.promptSession(ctx, agentSession.ID, repo, FrameUserMessage(body))
}

// promptSession delivers an already-framed prompt to an existing session.
func (o *Orchestrator) promptSession(ctx context.Context, sessionID string, repo config.RepositoryConfig, framed string) {
	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		slog.Warn("Prompt for vanished session", "session_id", sessionID)
		return
	}
	log := slog.With("session_id", sessionID)

	// Completed procedures restart from the first phase; the agent keeps its
	// conversation history via the resume token.
	if procedure.IsComplete(&sess.Procedure) {
		if err := procedure.Reinitialize(&sess.Procedure, sess.Procedure.ProcedureName); err != nil {
			log.Error("Failed to reinitialise procedure", "error", err)
			return
		}
		sess.Status = session.StatusActive
		sess.Touch()
		o.persist()
	}

	o.mu.Lock()
	ar, running := o.active[sessionID]
	if running {
		// Stop the in-flight run; the prompt is delivered when it exits.
		ar.interrupted = true
		ar.interruptPrompt = framed
		o.mu.Unlock()
		log.Info("Stopping in-flight agent to deliver new prompt")
		ar.exec.Stop()
		return
	}
	o.mu.Unlock()

	phase, err := procedure.Current(&sess.Procedure)
	if err != nil {
		log.Error("Prompt with no current phase", "error", err)
		return
	}
	sess.Status = session.StatusActive
	o.startPhase(ctx, sess, repo, phase, startSpec{
		prompt:      framed,
		resumeToken: sess.AgentToken,
	})
}

// stopResponse is the stop acknowledgment posted to the thread.
func stopResponse(actor string) string {
	return fmt.Sprintf("I've stopped working on this issue.\n\n**Stop Signal:** Received from %s", actor)
}

// handleStopSignal aborts a session on a user's explicit stop. The response
// names the requesting actor; procedure history is left as it stands.
func (o *Orchestrator) handleStopSignal(ctx context.Context, ev *tracker.Event, repo config.RepositoryConfig) {
	agentSession := ev.AgentSession
	if agentSession == nil {
		return
	}
	var actor *tracker.User
	if ev.AgentActivity != nil {
		actor = ev.AgentActivity.User
	}
	o.stopSession(ctx, agentSession.ID, repo, actor.ActorName())
}

// handleIssueUnassigned stops every session on the unassigned issue.
func (o *Orchestrator) handleIssueUnassigned(ctx context.Context, ev *tracker.Event, repo config.RepositoryConfig) {
	issue := ev.Issue()
	if issue == nil {
		return
	}
	actor := "unknown user"
	if ev.Notification != nil && ev.Notification.Actor != nil {
		actor = ev.Notification.Actor.ActorName()
	}
	for _, sessionID := range o.sessions.ForIssue(repo.ID, issue.ID) {
		o.stopSession(ctx, sessionID, repo, actor)
	}
}

// linkToParentSession records a sub-issue session under the session driving
// its parent issue, preferring the parent's root thread.
func (o *Orchestrator) linkToParentSession(childID, repoID, parentIssueID string) {
	var parentID string
	for _, id := range o.sessions.ForIssue(repoID, parentIssueID) {
		s, ok := o.sessions.Get(id)
		if !ok {
			continue
		}
		if s.ThreadType == session.ThreadIssueRoot {
			parentID = id
			break
		}
		if parentID == "" {
			parentID = id
		}
	}
	if parentID == "" {
		return
	}
	if err := o.sessions.LinkChild(childID, parentID); err != nil {
		slog.Warn("Could not link sub-issue session to parent",
			"child", childID, "parent", parentID, "error", err)
		return
	}
	slog.Info("Linked sub-issue session to parent", "child", childID, "parent", parentID)
	o.persist()
}

// stopSession performs the shared stop path: terminate the agent, post the
// acknowledgment, mark the session complete.
func (o *Orchestrator) stopSession(ctx context.Context, sessionID string, repo config.RepositoryConfig, actor string) {
	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		slog.Info("Stop signal for unknown session", "session_id", sessionID)
		return
	}
	log := slog.With("session_id", sessionID, "actor", actor)

	o.mu.Lock()
	if ar, running := o.active[sessionID]; running {
		ar.stopRequested = true
		o.mu.Unlock()
		log.Info("Stopping agent on stop signal")
		ar.exec.Stop()
	} else {
		o.mu.Unlock()
	}

	response := stopResponse(actor)
	sess.Status = session.StatusComplete
	sess.AppendEntry(session.EntryResponse, response)
	o.sessions.DropChildrenOf(sessionID)
	o.persist()

	o.postActivity(ctx, repo, tracker.Activity{
		SessionID: sessionID,
		Kind:      tracker.ActivityResponse,
		Body:      response,
	})
	log.Info("Session stopped")
}

// postActivity publishes one activity, logging failures rather than
// propagating them: a tracker outage must not wedge the session.
func (o *Orchestrator) postActivity(ctx context.Context, repo config.RepositoryConfig, activity tracker.Activity) {
	if err := o.clientFor(repo.TrackerToken).PostActivity(ctx, activity); err != nil {
		slog.Error("Failed to post activity to tracker",
			"session_id", activity.SessionID, "kind", activity.Kind, "error", err)
	}
}

// workspaceExists reports whether a restored session's workspace survives.
func workspaceExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
