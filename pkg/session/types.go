// Package session holds the in-memory model of tracker-side conversation
// threads and the indexed store the orchestrator looks them up in.
package session

import (
	"time"

	"github.com/ceedaragents/cyrus/pkg/procedure"
)

// ThreadType distinguishes the root thread of an issue from comment threads.
type ThreadType string

const (
	ThreadIssueRoot     ThreadType = "issue-root"
	ThreadCommentThread ThreadType = "comment-thread"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusAwaitingInput Status = "awaiting-input"
	StatusComplete      Status = "complete"
	StatusErrored       Status = "errored"
)

// EntryKind classifies entries in the session activity log.
type EntryKind string

const (
	EntryThought  EntryKind = "thought"
	EntryAction   EntryKind = "action"
	EntryResponse EntryKind = "response"
	EntryResult   EntryKind = "result"
)

// Entry is one append-only activity log record.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// IssueRef identifies the tracker issue a session is bound to.
type IssueRef struct {
	ID         string `json:"id"`         // stable tracker id
	Identifier string `json:"identifier"` // human identifier, e.g. CEE-42
	Title      string `json:"title"`
}

// Workspace is the provisioned filesystem root for a session.
type Workspace struct {
	Path       string `json:"path"`
	IsWorktree bool   `json:"isWorktree"`
}

// Session is one tracker-side conversation thread bound to one issue and one
// repository. All mutation happens under the orchestrator's per-session
// serialisation point; the struct itself carries no lock.
type Session struct {
	ID           string     `json:"sessionId"`
	ThreadType   ThreadType `json:"threadType"`
	Status       Status     `json:"status"`
	Issue        IssueRef   `json:"issueRef"`
	RepositoryID string     `json:"repositoryId"`
	Workspace    Workspace  `json:"workspace"`

	// AgentPID is the live child-process pid, zero when no agent runs.
	// Never serialised: pids do not survive a restart.
	AgentPID int `json:"-"`

	// AgentToken is the opaque agent-side token used to resume the
	// conversation. Survives restarts.
	AgentToken string `json:"currentAgentSessionToken,omitempty"`

	// ParentSessionID links a delegated sub-session to its parent. Held by
	// id, never by pointer; lookups go through the Store.
	ParentSessionID string `json:"parentSessionId,omitempty"`

	Procedure procedure.State `json:"procedureState"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Entries []Entry `json:"entries"`
}

// Touch updates the modification timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// AppendEntry appends to the activity log and touches the session.
func (s *Session) AppendEntry(kind EntryKind, payload string) {
	s.Entries = append(s.Entries, Entry{
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	s.Touch()
}

// Clone returns a deep copy safe to hand outside the session lock.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Entries = append([]Entry(nil), s.Entries...)
	dup.Procedure.History = append([]procedure.PhaseCompletion(nil), s.Procedure.History...)
	return &dup
}
