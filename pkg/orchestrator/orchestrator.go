// Package orchestrator is the coordination core: it consumes routed webhook
// events, owns the session registry and per-session serialisation, drives
// procedures phase by phase through agent runs, and persists every observable
// state change to the snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ceedaragents/cyrus/pkg/agentrunner"
	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/router"
	"github.com/ceedaragents/cyrus/pkg/session"
	"github.com/ceedaragents/cyrus/pkg/store"
	"github.com/ceedaragents/cyrus/pkg/tracker"
	"github.com/ceedaragents/cyrus/pkg/workspace"
)

// eventQueueSize bounds the inbound webhook queue. The webhook handler
// returns 503 when the queue is full; the tracker retries delivery.
const eventQueueSize = 256

// AgentExecution is the handle on one live agent child.
type AgentExecution interface {
	PID() int
	AgentToken() string
	Stop()
}

// AgentRunner launches agent runs. Satisfied by an adapter over the
// concrete runner; tests substitute a scripted fake.
type AgentRunner interface {
	Start(ctx context.Context, opts agentrunner.StartOptions) (AgentExecution, <-chan agentrunner.Event, error)
	Resume(ctx context.Context, opts agentrunner.StartOptions) (AgentExecution, <-chan agentrunner.Event, error)
}

// Provisioner creates the workspace for an issue.
type Provisioner interface {
	Provision(ctx context.Context, issue workspace.IssueInfo, repo config.RepositoryConfig) (workspace.Workspace, error)
}

// Options configures the orchestrator.
type Options struct {
	Config      *config.Config
	Runner      AgentRunner
	Provisioner Provisioner
	Clients     tracker.Factory

	// Snapshots persists state for crash recovery. Nil disables persistence.
	Snapshots *store.Store
}

// activeRun is the orchestrator's view of one live agent child.
type activeRun struct {
	exec       AgentExecution
	phase      string
	suppress   bool
	sawError   bool
	errMessage string

	// interrupted marks a run being stopped to make way for a resume with a
	// new user prompt. The pending prompt is delivered when End arrives.
	interrupted     bool
	interruptPrompt string

	// stopRequested marks a run being stopped by an explicit stop signal or
	// unassignment. Its End event must neither advance nor error the session.
	stopRequested bool
}

// Orchestrator is the coordination core. One instance per process.
type Orchestrator struct {
	cfg         atomic.Pointer[config.Config]
	sessions    *session.Store
	runner      AgentRunner
	provisioner Provisioner
	factory     tracker.Factory
	writer      *store.Writer
	snapshots   *store.Store

	events chan *tracker.Event

	mu      sync.Mutex
	active  map[string]*activeRun
	clients map[string]tracker.Client
	locks   map[string]*sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an orchestrator. Call Restore before Run to recover prior
// state, then Run to start consuming events.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions:    session.NewStore(),
		runner:      opts.Runner,
		provisioner: opts.Provisioner,
		factory:     opts.Clients,
		snapshots:   opts.Snapshots,
		events:      make(chan *tracker.Event, eventQueueSize),
		active:      make(map[string]*activeRun),
		clients:     make(map[string]tracker.Client),
		locks:       make(map[string]*sync.Mutex),
	}
	o.cfg.Store(opts.Config)
	if opts.Snapshots != nil {
		o.writer = store.NewWriter(opts.Snapshots, o.Snapshot)
	}
	return o
}

// Config returns the current configuration.
func (o *Orchestrator) Config() *config.Config {
	return o.cfg.Load()
}

// UpdateConfig swaps the configuration. In-flight sessions keep the
// repository settings they started with; new events see the new config.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	o.cfg.Store(cfg)
	slog.Info("Configuration updated", "repositories", len(cfg.Repositories))
}

// EnqueueWebhook queues a parsed webhook event for processing. Non-blocking;
// fails when the queue is full.
func (o *Orchestrator) EnqueueWebhook(event *tracker.Event) error {
	select {
	case o.events <- event:
		return nil
	default:
		return fmt.Errorf("event queue full (%d pending)", eventQueueSize)
	}
}

// Run consumes queued events until ctx is cancelled. Each event is handled
// on its own goroutine under the per-session lock, so distinct sessions
// proceed concurrently while one session's events stay serialised.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx, o.runCancel = context.WithCancel(ctx)
	for {
		select {
		case ev := <-o.events:
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.dispatch(o.runCtx, ev)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops every live agent run, waits for in-flight handlers, and
// flushes the snapshot writer.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if o.runCancel != nil {
		o.runCancel()
	}

	o.mu.Lock()
	for id, ar := range o.active {
		slog.Info("Stopping agent for shutdown", "session_id", id)
		ar.stopRequested = true
		ar.exec.Stop()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Shutdown timed out waiting for in-flight handlers")
	}

	if o.writer != nil {
		o.writer.Close(ctx)
	}
}

// Snapshot captures the current state for persistence. Each session is
// cloned under its serialisation lock so the writer goroutine never
// observes a half-applied stream event.
func (o *Orchestrator) Snapshot() *store.Snapshot {
	cfg := o.cfg.Load()
	ids := o.sessions.IDs()
	sessions := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := o.snapshotSession(id); ok {
			sessions = append(sessions, s)
		}
	}
	return &store.Snapshot{
		ConfigPath: cfg.Path,
		Sessions:   sessions,
		ParentMap:  o.sessions.ParentMap(),
	}
}

// snapshotSession clones one session under its serialisation lock.
func (o *Orchestrator) snapshotSession(id string) (*session.Session, bool) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	s, ok := o.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// persist requests an asynchronous snapshot write. Called after every
// observable state change; in-memory state stays authoritative.
func (o *Orchestrator) persist() {
	if o.writer != nil {
		o.writer.Enqueue()
	}
}

// dispatch routes one event and invokes the intent handler.
func (o *Orchestrator) dispatch(ctx context.Context, ev *tracker.Event) {
	cfg := o.cfg.Load()
	decision, ok := router.Route(ctx, ev, cfg.ActiveRepositories(), o)
	if !ok {
		slog.Debug("Dropping unroutable event", "type", ev.Type, "action", ev.Action)
		return
	}

	repo := cfg.RepositoryByID(decision.RepositoryID)
	if repo == nil {
		slog.Warn("Routed to unknown repository", "repository", decision.RepositoryID)
		return
	}

	switch decision.Intent {
	case router.IntentSessionCreated:
		o.handleSessionCreated(ctx, ev, *repo)
	case router.IntentSessionPrompted:
		o.handleSessionPrompted(ctx, ev, *repo)
	case router.IntentSessionStopSignal:
		o.handleStopSignal(ctx, ev, *repo)
	case router.IntentIssueUnassigned:
		o.handleIssueUnassigned(ctx, ev, *repo)
	case router.IntentLegacyNotification:
		slog.Info("Ignoring legacy notification", "notification_type", notificationType(ev))
	}
}

func notificationType(ev *tracker.Event) string {
	if ev.Notification != nil {
		return ev.Notification.Type
	}
	return ""
}

// lockFor returns the serialisation mutex for a session id. Locks are never
// reclaimed; session ids are low-cardinality within one process lifetime.
func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	o.locks[sessionID] = l
	return l
}

// clientFor returns the cached tracker client for a token.
func (o *Orchestrator) clientFor(token string) tracker.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[token]; ok {
		return c
	}
	c := o.factory(token)
	o.clients[token] = c
	return c
}

// ProjectName implements router.IssueLookup via a live issue fetch.
func (o *Orchestrator) ProjectName(ctx context.Context, repoID, issueID string) (string, error) {
	repo := o.cfg.Load().RepositoryByID(repoID)
	if repo == nil {
		return "", fmt.Errorf("unknown repository: %s", repoID)
	}
	issue, err := o.clientFor(repo.TrackerToken).FetchIssue(ctx, issueID)
	if err != nil {
		return "", err
	}
	return issue.ProjectName, nil
}

// DeliverFeedback forwards orchestrator feedback to a child session as a
// framed prompt. Fire-and-forget: the call returns once the delivery is
// handed off, and the resumed agent run inherits the orchestrator's run
// context, not a delivery deadline.
func (o *Orchestrator) DeliverFeedback(childSessionID, text string) {
	sess, ok := o.sessions.Get(childSessionID)
	if !ok {
		slog.Warn("Feedback for unknown child session", "session_id", childSessionID)
		return
	}
	repoID := sess.RepositoryID

	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		repo := o.cfg.Load().RepositoryByID(repoID)
		if repo == nil {
			return
		}
		o.promptSession(ctx, childSessionID, *repo, FrameOrchestratorFeedback(text))
	}()
}

// runnerAdapter lifts the concrete runner onto the AgentRunner interface.
type runnerAdapter struct {
	r *agentrunner.Runner
}

// NewRunnerAdapter wraps the concrete agent runner.
func NewRunnerAdapter(r *agentrunner.Runner) AgentRunner {
	return runnerAdapter{r: r}
}

func (a runnerAdapter) Start(ctx context.Context, opts agentrunner.StartOptions) (AgentExecution, <-chan agentrunner.Event, error) {
	exec, events, err := a.r.Start(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return exec, events, nil
}

func (a runnerAdapter) Resume(ctx context.Context, opts agentrunner.StartOptions) (AgentExecution, <-chan agentrunner.Event, error) {
	exec, events, err := a.r.Resume(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return exec, events, nil
}
