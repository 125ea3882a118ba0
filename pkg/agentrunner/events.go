// Package agentrunner owns the lifecycle of agent child processes and
// exposes each run as an ordered, single-shot event stream. The child
// speaks JSON lines on stdout; the stream ends exactly once with an End
// event carrying the exit code, after which the channel is closed.
package agentrunner

import "encoding/json"

// Kind discriminates agent stream events.
type Kind string

const (
	KindSystemInit   Kind = "system-init"
	KindThought      Kind = "thought"
	KindAction       Kind = "action"
	KindActionResult Kind = "action-result"
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindEnd          Kind = "end"
)

// Event is one structured event from an agent run. Fields are populated
// according to Kind.
type Event struct {
	Kind Kind

	// System-init fields. AgentToken is the opaque identifier the agent
	// accepts on resume to re-attach to this conversation.
	AgentToken string
	Model      string

	// Thought and response text.
	Text string

	// Action fields.
	ToolName string
	Inputs   json.RawMessage
	Outputs  json.RawMessage

	// Error message.
	Message string

	// End exit code.
	ExitCode int
}

// StartOptions configures one agent run.
type StartOptions struct {
	WorkspacePath string
	Prompt        string
	SystemPrompt  string

	AllowedTools      []string
	DisallowedTools   []string
	ExtraReadableDirs []string

	// ResumeToken re-attaches the prior conversation. The system prompt must
	// still be passed on resume, identically to a fresh start; the child
	// does not persist it with the conversation.
	ResumeToken string

	Model         string
	FallbackModel string
}
