package procedure

import (
	"fmt"
	"strings"
)

// Procedure names. The set is a compile-time registry; configuration selects
// among them via issue labels but cannot define new ones.
const (
	FullDevelopment   = "full-development"
	DocumentationEdit = "documentation-edit"
	SimpleQuestion    = "simple-question"
)

// System-prompt variants layered on full-development depending on the label
// that selected it.
const (
	VariantDebugger    = "debugger"
	VariantBuilder     = "builder"
	VariantScoper      = "scoper"
	VariantCoordinator = "coordinator"
)

func fullDevelopmentPhases() []Phase {
	return []Phase{
		{Name: PhasePrimary},
		{Name: PhaseVerifications},
		{Name: PhasePublish},
		{Name: PhaseVerboseSummary, SuppressIntermediateOutput: true},
	}
}

var registry = map[string]Procedure{
	FullDevelopment: {
		Name:   FullDevelopment,
		Phases: fullDevelopmentPhases(),
	},
	DocumentationEdit: {
		Name: DocumentationEdit,
		Phases: []Phase{
			{Name: PhasePrimary},
			{Name: PhasePublish},
			{Name: PhaseConciseSummary, SuppressIntermediateOutput: true},
		},
	},
	SimpleQuestion: {
		Name: SimpleQuestion,
		Phases: []Phase{
			{Name: PhasePrimary},
			{Name: PhaseConciseSummary, SuppressIntermediateOutput: true},
		},
	},
}

// Lookup returns the procedure for a registry name. Names may carry a
// variant suffix ("full-development:debugger") selecting a system-prompt
// flavor; the phase list is the base procedure's.
func Lookup(name string) (Procedure, error) {
	base, variant := splitVariant(name)
	proc, ok := registry[base]
	if !ok {
		return Procedure{}, fmt.Errorf("unknown procedure: %s", name)
	}
	proc.Name = name
	proc.SystemPrompt = variantSystemPrompt(variant)
	return proc, nil
}

func splitVariant(name string) (base, variant string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// ClassifyLabels maps issue labels to a procedure name. Labels are inspected
// in order; the first recognised one wins. A comment thread on an already
// closed issue defaults to a simple question regardless of labels.
func ClassifyLabels(labels []string, closedCommentThread bool) string {
	if closedCommentThread {
		return SimpleQuestion
	}
	for _, label := range labels {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "bug":
			return FullDevelopment + ":" + VariantDebugger
		case "feature", "improvement":
			return FullDevelopment + ":" + VariantBuilder
		case "prd":
			return FullDevelopment + ":" + VariantScoper
		case "orchestrator":
			return FullDevelopment + ":" + VariantCoordinator
		case "documentation", "docs":
			return DocumentationEdit
		case "question":
			return SimpleQuestion
		}
	}
	return FullDevelopment
}

func variantSystemPrompt(variant string) string {
	switch variant {
	case VariantDebugger:
		return "You are working on a bug report. Reproduce the failure first, identify the root cause, and keep the fix minimal. Add a regression test alongside the fix."
	case VariantBuilder:
		return "You are implementing a feature or improvement. Follow the existing conventions of the repository and cover the new behavior with tests."
	case VariantScoper:
		return "You are scoping a product requirement. Produce a concrete implementation plan with affected files and open questions; do not write production code yet."
	case VariantCoordinator:
		return "You are coordinating sub-tasks across child sessions. Delegate work with clear boundaries and integrate the results."
	default:
		return ""
	}
}
