// Package procedure defines the phased execution model for a session: a
// procedure is a named, ordered list of phases, each with its own tool
// policy and output-suppression rule. The engine itself is a pure state
// machine; the orchestrator owns all side effects.
package procedure

import "time"

// Phase is one step of a procedure.
type Phase struct {
	// Name identifies the phase within its procedure (e.g. "primary").
	Name string

	// AllowedTools, when non-nil, overrides the repository tool allow-list
	// for the duration of the phase.
	AllowedTools []string

	// SuppressIntermediateOutput skips posting thought and action entries to
	// the tracker while the phase runs. Response entries always post.
	SuppressIntermediateOutput bool
}

// Procedure is a named ordered list of phases plus the system-prompt variant
// the agent runs with.
type Procedure struct {
	Name         string
	Phases       []Phase
	SystemPrompt string
}

// PhaseCompletion records one completed phase in the procedure history.
type PhaseCompletion struct {
	PhaseName   string    `json:"phaseName"`
	CompletedAt time.Time `json:"completedAt"`
	AgentToken  string    `json:"agentToken"`
}

// State is the per-session procedure position. Serialised into the snapshot.
//
// Invariant: len(History) == CurrentPhaseIndex. The procedure is complete
// when CurrentPhaseIndex == len(phases); Advance past that point is a
// precondition violation.
type State struct {
	ProcedureName     string            `json:"procedureName"`
	CurrentPhaseIndex int               `json:"currentPhaseIndex"`
	History           []PhaseCompletion `json:"history"`
}

// Common phase names.
const (
	PhasePrimary        = "primary"
	PhaseVerifications  = "verifications"
	PhasePublish        = "publish"
	PhaseVerboseSummary = "verbose-summary"
	PhaseConciseSummary = "concise-summary"
)
