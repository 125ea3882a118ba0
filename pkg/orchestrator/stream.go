package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ceedaragents/cyrus/pkg/agentrunner"
	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/procedure"
	"github.com/ceedaragents/cyrus/pkg/session"
	"github.com/ceedaragents/cyrus/pkg/tracker"
)

// startSpec carries the varying inputs of one agent run; the stable inputs
// (workspace, tool policy, model) come from the session and repository.
type startSpec struct {
	prompt         string
	resumeToken    string
	attachmentsDir string
}

// startPhase launches the agent for the session's current phase. The caller
// holds the session lock.
func (o *Orchestrator) startPhase(ctx context.Context, sess *session.Session, repo config.RepositoryConfig, phase procedure.Phase, spec startSpec) {
	log := slog.With("session_id", sess.ID, "phase", phase.Name)

	proc, err := procedure.Lookup(sess.Procedure.ProcedureName)
	if err != nil {
		log.Error("Cannot start phase of unknown procedure", "error", err)
		return
	}

	cfg := o.cfg.Load()
	opts := agentrunner.StartOptions{
		WorkspacePath:   sess.Workspace.Path,
		Prompt:          spec.prompt,
		SystemPrompt:    proc.SystemPrompt,
		AllowedTools:    toolPolicy(phase.AllowedTools, repo.AllowedTools, cfg.DefaultAllowedTools),
		DisallowedTools: toolPolicy(nil, repo.DisallowedTools, cfg.DefaultDisallowedTools),
		ResumeToken:     spec.resumeToken,
		Model:           cfg.DefaultModel,
		FallbackModel:   cfg.DefaultFallbackModel,
	}
	if spec.attachmentsDir != "" {
		opts.ExtraReadableDirs = []string{spec.attachmentsDir}
	}

	var (
		exec   AgentExecution
		events <-chan agentrunner.Event
	)
	if spec.resumeToken != "" {
		exec, events, err = o.runner.Resume(ctx, opts)
	} else {
		exec, events, err = o.runner.Start(ctx, opts)
	}
	if err != nil {
		log.Error("Failed to start agent", "error", err)
		sess.Status = session.StatusErrored
		sess.AppendEntry(session.EntryResponse, "Failed to start the agent: "+err.Error())
		o.persist()
		o.postActivity(ctx, repo, tracker.Activity{
			SessionID: sess.ID,
			Kind:      tracker.ActivityResponse,
			Body:      "I could not start the coding agent: " + err.Error(),
		})
		return
	}

	sess.AgentPID = exec.PID()
	sess.Touch()
	o.mu.Lock()
	o.active[sess.ID] = &activeRun{
		exec:     exec,
		phase:    phase.Name,
		suppress: phase.SuppressIntermediateOutput,
	}
	o.mu.Unlock()
	o.persist()
	log.Info("Agent started", "pid", exec.PID(), "resumed", spec.resumeToken != "")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.consumeStream(ctx, sess.ID, repo, events)
	}()
}

// toolPolicy selects the most specific non-empty tool list.
func toolPolicy(phase, repo, defaults []string) []string {
	switch {
	case len(phase) > 0:
		return phase
	case len(repo) > 0:
		return repo
	default:
		return defaults
	}
}

// consumeStream translates the agent's event stream into session entries and
// tracker activities. Runs until the channel closes; the End event hands
// control to handleAgentEnd.
func (o *Orchestrator) consumeStream(ctx context.Context, sessionID string, repo config.RepositoryConfig, events <-chan agentrunner.Event) {
	for ev := range events {
		if ev.Kind == agentrunner.KindEnd {
			o.handleAgentEnd(ctx, sessionID, repo, ev.ExitCode)
			continue
		}
		o.applyStreamEvent(ctx, sessionID, repo, ev)
	}
}

func (o *Orchestrator) applyStreamEvent(ctx context.Context, sessionID string, repo config.RepositoryConfig, ev agentrunner.Event) {
	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return
	}
	o.mu.Lock()
	ar := o.active[sessionID]
	o.mu.Unlock()
	suppress := ar != nil && ar.suppress

	switch ev.Kind {
	case agentrunner.KindSystemInit:
		o.sessions.SetAgentToken(sessionID, ev.AgentToken)
		sess.Touch()
		o.persist()
		slog.Debug("Agent conversation established", "session_id", sessionID, "model", ev.Model)

	case agentrunner.KindThought:
		sess.AppendEntry(session.EntryThought, ev.Text)
		o.persist()
		if !suppress {
			o.postActivity(ctx, repo, tracker.Activity{
				SessionID: sessionID,
				Kind:      tracker.ActivityThought,
				Body:      ev.Text,
			})
		}

	case agentrunner.KindAction:
		payload := formatAction(ev)
		sess.AppendEntry(session.EntryAction, payload)
		o.persist()
		if !suppress {
			o.postActivity(ctx, repo, tracker.Activity{
				SessionID: sessionID,
				Kind:      tracker.ActivityAction,
				Body:      payload,
				ToolName:  ev.ToolName,
				Parameter: string(ev.Inputs),
			})
		}

	case agentrunner.KindActionResult:
		// Tool results are kept in the local log only; the thread shows the
		// action and the agent's narration.
		sess.AppendEntry(session.EntryResult, string(ev.Outputs))
		o.persist()

	case agentrunner.KindResponse:
		sess.AppendEntry(session.EntryResponse, ev.Text)
		o.persist()
		// Responses always post, suppression applies to intermediate output.
		o.postActivity(ctx, repo, tracker.Activity{
			SessionID: sessionID,
			Kind:      tracker.ActivityResponse,
			Body:      ev.Text,
		})
		o.forwardToChildren(sess, ev.Text)

	case agentrunner.KindError:
		if ar != nil {
			ar.sawError = true
			ar.errMessage = ev.Message
		}
		sess.AppendEntry(session.EntryResponse, "Agent error: "+ev.Message)
		o.persist()
	}
}

// forwardToChildren relays a coordinating session's responses to its
// delegated children as orchestrator feedback. Non-coordinator sessions
// and sessions without children are untouched.
func (o *Orchestrator) forwardToChildren(sess *session.Session, text string) {
	if !strings.HasSuffix(sess.Procedure.ProcedureName, ":"+procedure.VariantCoordinator) {
		return
	}
	for _, child := range o.sessions.ChildrenOf(sess.ID) {
		slog.Info("Forwarding coordinator feedback to child session",
			"parent", sess.ID, "child", child)
		o.DeliverFeedback(child, text)
	}
}

func formatAction(ev agentrunner.Event) string {
	if len(ev.Inputs) > 0 {
		return fmt.Sprintf("%s %s", ev.ToolName, ev.Inputs)
	}
	return ev.ToolName
}

// handleAgentEnd processes the terminal event of one agent run: advance the
// procedure on success, error the session on failure, resume with the
// pending prompt on interruption, and stand down quietly on a requested
// stop.
func (o *Orchestrator) handleAgentEnd(ctx context.Context, sessionID string, repo config.RepositoryConfig, exitCode int) {
	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	ar := o.active[sessionID]
	delete(o.active, sessionID)
	o.mu.Unlock()

	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return
	}
	sess.AgentPID = 0
	sess.Touch()
	log := slog.With("session_id", sessionID, "exit_code", exitCode)

	if ar == nil {
		o.persist()
		return
	}

	if ar.stopRequested {
		log.Info("Agent exited after stop request")
		o.persist()
		return
	}

	if ar.interrupted {
		log.Info("Agent exited for prompt delivery, resuming")
		phase, err := procedure.Current(&sess.Procedure)
		if err != nil {
			log.Error("Interrupted session has no current phase", "error", err)
			o.persist()
			return
		}
		o.startPhase(ctx, sess, repo, phase, startSpec{
			prompt:      ar.interruptPrompt,
			resumeToken: sess.AgentToken,
		})
		return
	}

	if exitCode != 0 || ar.sawError {
		reason := fmt.Sprintf("the agent exited with code %d", exitCode)
		if ar.sawError && ar.errMessage != "" {
			reason = ar.errMessage
		}
		log.Warn("Agent run failed", "phase", ar.phase, "reason", reason)
		sess.Status = session.StatusErrored
		response := "I ran into a problem and had to stop: " + reason
		sess.AppendEntry(session.EntryResponse, response)
		o.sessions.DropChildrenOf(sessionID)
		o.persist()
		o.postActivity(ctx, repo, tracker.Activity{
			SessionID: sessionID,
			Kind:      tracker.ActivityResponse,
			Body:      response,
		})
		return
	}

	if err := procedure.Advance(&sess.Procedure, sess.AgentToken); err != nil {
		if errors.Is(err, procedure.ErrAlreadyComplete) {
			log.Warn("Agent end on already-complete procedure")
		} else {
			log.Error("Failed to advance procedure", "error", err)
		}
		o.persist()
		return
	}

	if procedure.IsComplete(&sess.Procedure) {
		sess.Status = session.StatusComplete
		o.sessions.DropChildrenOf(sessionID)
		o.persist()
		log.Info("Procedure complete", "procedure", sess.Procedure.ProcedureName)
		return
	}
	o.persist()

	next, err := procedure.Current(&sess.Procedure)
	if err != nil {
		log.Error("No next phase after advance", "error", err)
		return
	}
	log.Info("Advancing to next phase", "phase", next.Name)
	o.startPhase(ctx, sess, repo, next, startSpec{
		prompt:      transitionPrompt(next.Name),
		resumeToken: sess.AgentToken,
	})
}
