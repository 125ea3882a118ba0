package orchestrator

import (
	"context"
	"log/slog"

	"github.com/ceedaragents/cyrus/pkg/procedure"
	"github.com/ceedaragents/cyrus/pkg/session"
)

// Restore rebuilds in-memory state from the snapshot, reconciles it against
// the filesystem, and resumes interrupted work. Call before Run.
//
// Child processes never survive a restart, so every restored session comes
// back with no pid. Sessions whose workspace disappeared are errored;
// active sessions with an incomplete procedure and a resume token pick
// their current phase back up.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.snapshots == nil {
		return nil
	}
	snap, err := o.snapshots.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		slog.Info("No snapshot found, starting fresh")
		return nil
	}

	o.sessions.Restore(snap.Sessions, snap.ParentMap)
	slog.Info("Restored sessions from snapshot", "count", len(snap.Sessions), "saved_at", snap.SavedAt)

	for _, restored := range snap.Sessions {
		sess, ok := o.sessions.Get(restored.ID)
		if !ok {
			continue
		}
		lock := o.lockFor(sess.ID)
		lock.Lock()
		o.reconcileSession(ctx, sess)
		lock.Unlock()
	}
	o.persist()
	return nil
}

// reconcileSession brings one restored session back to a consistent state.
// The caller holds the session lock.
func (o *Orchestrator) reconcileSession(ctx context.Context, sess *session.Session) {
	sess.AgentPID = 0
	log := slog.With("session_id", sess.ID, "issue", sess.Issue.Identifier)

	switch sess.Status {
	case session.StatusComplete, session.StatusErrored:
		return
	}

	if !workspaceExists(sess.Workspace.Path) {
		log.Warn("Restored session workspace is gone, marking errored", "path", sess.Workspace.Path)
		sess.Status = session.StatusErrored
		sess.AppendEntry(session.EntryResponse, "Workspace disappeared across a restart; this session cannot continue.")
		o.sessions.DropChildrenOf(sess.ID)
		return
	}

	if procedure.IsComplete(&sess.Procedure) {
		sess.Status = session.StatusComplete
		return
	}

	if sess.AgentToken == "" {
		// Nothing to resume into; the next user prompt starts a fresh run.
		log.Info("Restored session has no resume token, awaiting input")
		sess.Status = session.StatusAwaitingInput
		return
	}

	repo := o.cfg.Load().RepositoryByID(sess.RepositoryID)
	if repo == nil {
		log.Warn("Restored session references a repository no longer configured", "repository", sess.RepositoryID)
		sess.Status = session.StatusAwaitingInput
		return
	}

	phase, err := procedure.Current(&sess.Procedure)
	if err != nil {
		log.Error("Restored session has no current phase", "error", err)
		sess.Status = session.StatusErrored
		return
	}

	log.Info("Resuming interrupted session", "phase", phase.Name, "procedure", sess.Procedure.ProcedureName)
	sess.Status = session.StatusActive
	o.startPhase(ctx, sess, *repo, phase, startSpec{
		prompt:      resumeAfterRestartPrompt(phase.Name),
		resumeToken: sess.AgentToken,
	})
}
