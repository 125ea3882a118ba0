package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ceedaragents/cyrus/pkg/procedure"
	"github.com/ceedaragents/cyrus/pkg/tracker"
)

// FrameUserMessage wraps a user prompt in the delimiters the agent's system
// prompt teaches it to recognise. The wrapping is exact; downstream prompt
// templates match on it.
func FrameUserMessage(text string) string {
	return "## New message from user\n---\n" + text + "\n---"
}

// FrameOrchestratorFeedback wraps feedback flowing from a coordinating
// session into a child session.
func FrameOrchestratorFeedback(text string) string {
	return "## Received feedback from orchestrator\n---\n" + text + "\n---"
}

// initialPrompt builds the first-phase prompt from the issue context.
func initialPrompt(issue *tracker.Issue, phaseName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on issue %s: %s\n\n", issue.Identifier, issue.Title)
	if issue.Description != "" {
		b.WriteString("## Issue description\n\n")
		b.WriteString(issue.Description)
		b.WriteString("\n\n")
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n\n", strings.Join(issue.Labels, ", "))
	}
	b.WriteString(phaseInstruction(phaseName))
	return b.String()
}

// transitionPrompt moves a resumed conversation into its next phase.
func transitionPrompt(phaseName string) string {
	return "The previous phase is complete. " + phaseInstruction(phaseName)
}

// resumeAfterRestartPrompt re-attaches a conversation after a process
// restart.
func resumeAfterRestartPrompt(phaseName string) string {
	return "The orchestrator restarted while you were working. Take stock of the workspace state, then continue. " +
		phaseInstruction(phaseName)
}

func phaseInstruction(phaseName string) string {
	switch phaseName {
	case procedure.PhasePrimary:
		return "Work through the task described above. Make the changes in the current workspace."
	case procedure.PhaseVerifications:
		return "Verify the work: run the relevant builds, tests, and linters, and fix anything they surface."
	case procedure.PhasePublish:
		return "Publish the work: commit the changes on the current branch and push it, then open or update the pull request."
	case procedure.PhaseVerboseSummary:
		return "Write a thorough summary of everything done in this session: the changes made, how they were verified, and anything left open. This summary is posted to the issue thread."
	case procedure.PhaseConciseSummary:
		return "Write a short summary of the outcome for the issue thread. A few sentences at most."
	default:
		return "Continue with the task."
	}
}
