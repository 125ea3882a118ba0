package procedure

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyComplete is returned by Advance once the procedure has moved
// past its last phase. Callers treat it as a violated precondition.
var ErrAlreadyComplete = errors.New("procedure already complete")

// Initialize resets the state to the first phase of the named procedure.
func Initialize(state *State, procedureName string) error {
	if _, err := Lookup(procedureName); err != nil {
		return err
	}
	state.ProcedureName = procedureName
	state.CurrentPhaseIndex = 0
	state.History = nil
	return nil
}

// Reinitialize clears prior history and restarts the state on a (possibly
// different) procedure. Used when a new user prompt arrives on a completed
// session.
func Reinitialize(state *State, procedureName string) error {
	return Initialize(state, procedureName)
}

// Current returns the descriptor of the phase the state points at.
// Fails if the procedure is complete.
func Current(state *State) (Phase, error) {
	proc, err := Lookup(state.ProcedureName)
	if err != nil {
		return Phase{}, err
	}
	if state.CurrentPhaseIndex >= len(proc.Phases) {
		return Phase{}, fmt.Errorf("%w: %s", ErrAlreadyComplete, state.ProcedureName)
	}
	return proc.Phases[state.CurrentPhaseIndex], nil
}

// Advance records the completion of the current phase and moves to the next.
// Advancing past the last phase marks the procedure complete; advancing an
// already-complete procedure is an error.
func Advance(state *State, completedAgentToken string) error {
	proc, err := Lookup(state.ProcedureName)
	if err != nil {
		return err
	}
	if state.CurrentPhaseIndex >= len(proc.Phases) {
		return fmt.Errorf("%w: %s", ErrAlreadyComplete, state.ProcedureName)
	}
	state.History = append(state.History, PhaseCompletion{
		PhaseName:   proc.Phases[state.CurrentPhaseIndex].Name,
		CompletedAt: time.Now().UTC(),
		AgentToken:  completedAgentToken,
	})
	state.CurrentPhaseIndex++
	return nil
}

// IsComplete reports whether the state has advanced past the last phase.
// The last phase, while running, is current; completion is signalled only
// after Advance moves past it.
func IsComplete(state *State) bool {
	proc, err := Lookup(state.ProcedureName)
	if err != nil {
		return false
	}
	return state.CurrentPhaseIndex >= len(proc.Phases)
}
