// Package tracker defines the boundary to the issue-tracking SaaS: inbound
// webhook payload shapes and the outbound client interface. The concrete
// GraphQL client is deliberately thin; everything above it depends only on
// the Client interface so tests substitute fakes.
package tracker

import "encoding/json"

// Webhook payload types (top-level "type" field).
const (
	PayloadAgentSessionEvent  = "AgentSessionEvent"
	PayloadAppUserNotification = "AppUserNotification"
)

// Webhook actions.
const (
	ActionCreated  = "created"
	ActionPrompted = "prompted"
)

// StopSignal is the agentActivity.signal value requesting an abort.
const StopSignal = "stop"

// User is an acting tracker user.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ActorName returns the best human name for the user.
func (u *User) ActorName() string {
	if u == nil {
		return "unknown user"
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Name != "" {
		return u.Name
	}
	return "unknown user"
}

// IssueStub is the nested issue shape carried in webhook payloads.
type IssueStub struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	BranchName string `json:"branchName,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Team is the nested team shape carried in webhook payloads.
type Team struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Comment is a user comment attached to an agent session event.
type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// AgentSession is the nested agentSession shape of an AgentSessionEvent.
type AgentSession struct {
	ID      string     `json:"id"`
	Issue   *IssueStub `json:"issue,omitempty"`
	Team    *Team      `json:"team,omitempty"`
	Comment *Comment   `json:"comment,omitempty"`
	Creator *User      `json:"creator,omitempty"`
	Status  string     `json:"status,omitempty"`
}

// AgentActivity carries a user-originated activity on a session, including
// the stop signal.
type AgentActivity struct {
	ID      string          `json:"id"`
	Signal  string          `json:"signal,omitempty"`
	Body    string          `json:"body,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	User    *User           `json:"user,omitempty"`
}

// Notification is the legacy AppUserNotification shape, retained for
// compatibility. Routed but otherwise unprocessed.
type Notification struct {
	ID    string     `json:"id"`
	Type  string     `json:"type"`
	Issue *IssueStub `json:"issue,omitempty"`
	Actor *User      `json:"actor,omitempty"`
}

// Event is a parsed inbound webhook payload.
type Event struct {
	Type           string         `json:"type"`
	Action         string         `json:"action"`
	OrganizationID string         `json:"organizationId"`
	AgentSession   *AgentSession  `json:"agentSession,omitempty"`
	AgentActivity  *AgentActivity `json:"agentActivity,omitempty"`
	Notification   *Notification  `json:"notification,omitempty"`
}

// TeamKey returns the event's team key, or "" when absent.
func (e *Event) TeamKey() string {
	if e.AgentSession != nil && e.AgentSession.Team != nil {
		return e.AgentSession.Team.Key
	}
	return ""
}

// Issue returns the issue stub the event refers to, or nil.
func (e *Event) Issue() *IssueStub {
	if e.AgentSession != nil && e.AgentSession.Issue != nil {
		return e.AgentSession.Issue
	}
	if e.Notification != nil && e.Notification.Issue != nil {
		return e.Notification.Issue
	}
	return nil
}

// Issue is the full issue shape fetched from the tracker API.
type Issue struct {
	ID          string     `json:"id"`
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	BranchName  string     `json:"branchName,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	ProjectName string     `json:"projectName,omitempty"`
	TeamKey     string     `json:"teamKey,omitempty"`
	StateType   string     `json:"stateType,omitempty"` // e.g. "completed", "canceled"
	Parent      *IssueStub `json:"parent,omitempty"`
}

// Closed reports whether the issue is in a terminal workflow state.
func (i *Issue) Closed() bool {
	return i.StateType == "completed" || i.StateType == "canceled"
}

// ActivityKind discriminates outbound agent activity content.
type ActivityKind string

const (
	ActivityThought     ActivityKind = "thought"
	ActivityAction      ActivityKind = "action"
	ActivityResponse    ActivityKind = "response"
	ActivityElicitation ActivityKind = "elicitation"
)

// Activity is one outbound agentActivity record posted to the tracker.
type Activity struct {
	SessionID string       `json:"agentSessionId"`
	Kind      ActivityKind `json:"kind"`
	Body      string       `json:"body"`
	// Action fields, set when Kind == ActivityAction.
	ToolName  string `json:"toolName,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Viewer is the identity behind a token, used by the check-tokens command.
type Viewer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
