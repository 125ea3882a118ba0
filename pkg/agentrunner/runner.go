package agentrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stopGracePeriod is how long a stopped child gets to exit after the
// graceful signal before it is hard-terminated.
const stopGracePeriod = 5 * time.Second

// maxLineBytes bounds one stdout line; tool results can be large.
const maxLineBytes = 10 * 1024 * 1024

// Execution is a handle on one running agent child.
type Execution struct {
	// ID is the runner-internal execution id, assigned before the child
	// emits its own agent token.
	ID string

	cmd    *exec.Cmd
	runner *Runner

	mu         sync.Mutex
	agentToken string
	stopped    bool
}

// PID returns the child process id, or zero before start.
func (e *Execution) PID() int {
	if e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// AgentToken returns the token from the child's system-init event, or ""
// before it arrives.
func (e *Execution) AgentToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentToken
}

// Stop terminates the child: graceful signal first, hard kill after the
// grace period. Safe to call more than once and after exit.
func (e *Execution) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	proc := e.cmd.Process
	if proc == nil {
		return
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		_ = proc.Kill()
		return
	}
	go func() {
		timer := time.NewTimer(stopGracePeriod)
		defer timer.Stop()
		select {
		case <-e.runner.exited(e.ID):
		case <-timer.C:
			slog.Warn("Agent did not exit within grace period, killing", "pid", proc.Pid)
			_ = proc.Kill()
		}
	}()
}

// Runner spawns agent children and multiplexes their event streams.
type Runner struct {
	binary string

	mu      sync.Mutex
	byID    map[string]*runnerEntry
	byToken map[string]*Execution
}

type runnerEntry struct {
	exec *Execution
	done chan struct{}
}

// NewRunner creates a runner for the given agent binary. An empty binary
// name selects "claude" from PATH.
func NewRunner(binary string) *Runner {
	if binary == "" {
		binary = "claude"
	}
	return &Runner{
		binary:  binary,
		byID:    make(map[string]*runnerEntry),
		byToken: make(map[string]*Execution),
	}
}

// Start launches a fresh agent run. The returned channel delivers events in
// stream order and is closed after exactly one End event.
func (r *Runner) Start(ctx context.Context, opts StartOptions) (*Execution, <-chan Event, error) {
	return r.launch(ctx, opts)
}

// Resume launches a run that re-attaches a prior conversation via
// opts.ResumeToken. The system prompt is passed exactly as on Start.
func (r *Runner) Resume(ctx context.Context, opts StartOptions) (*Execution, <-chan Event, error) {
	if opts.ResumeToken == "" {
		return nil, nil, fmt.Errorf("resume requires a resume token")
	}
	return r.launch(ctx, opts)
}

// Stop gracefully terminates the run bound to an agent token.
// Returns false when no such run is live.
func (r *Runner) Stop(agentToken string) bool {
	r.mu.Lock()
	exec, ok := r.byToken[agentToken]
	r.mu.Unlock()
	if !ok {
		return false
	}
	exec.Stop()
	return true
}

// IsRunning reports whether the run bound to an agent token is still live.
func (r *Runner) IsRunning(agentToken string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byToken[agentToken]
	return ok
}

func (r *Runner) launch(ctx context.Context, opts StartOptions) (*Execution, <-chan Event, error) {
	cmd := exec.CommandContext(ctx, r.binary, buildArgs(opts)...)
	cmd.Dir = opts.WorkspacePath
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	cmd.Stderr = nil // stderr is the child's own logging; not part of the stream

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start agent: %w", err)
	}

	execution := &Execution{
		ID:     uuid.New().String(),
		cmd:    cmd,
		runner: r,
	}
	entry := &runnerEntry{exec: execution, done: make(chan struct{})}
	r.mu.Lock()
	r.byID[execution.ID] = entry
	r.mu.Unlock()

	// The prompt goes over stdin; closing it signals end of input.
	go func() {
		defer stdin.Close()
		if _, err := io.WriteString(stdin, opts.Prompt); err != nil {
			slog.Warn("Failed to write prompt to agent stdin", "error", err)
		}
	}()

	events := make(chan Event, 64)
	go r.consume(execution, entry, stdout, events)

	return execution, events, nil
}

// consume decodes the child's stdout into events, then waits for exit and
// emits the final End event. The channel is closed exactly once, here.
func (r *Runner) consume(execution *Execution, entry *runnerEntry, stdout io.Reader, events chan<- Event) {
	log := slog.With("execution_id", execution.ID, "pid", execution.PID())

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		decoded, err := decodeLine(line)
		if err != nil {
			log.Warn("Skipping undecodable agent output line", "error", err)
			continue
		}
		for _, ev := range decoded {
			if ev.Kind == KindSystemInit {
				r.register(execution, ev.AgentToken)
			}
			events <- ev
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Agent stdout read error", "error", err)
	}

	exitCode := 0
	if err := execution.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	r.unregister(execution)
	close(entry.done)

	events <- Event{Kind: KindEnd, ExitCode: exitCode}
	close(events)
}

func (r *Runner) register(execution *Execution, token string) {
	if token == "" {
		return
	}
	execution.mu.Lock()
	execution.agentToken = token
	execution.mu.Unlock()

	r.mu.Lock()
	r.byToken[token] = execution
	r.mu.Unlock()
}

func (r *Runner) unregister(execution *Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, execution.ID)
	if token := execution.AgentToken(); token != "" {
		delete(r.byToken, token)
	}
}

// exited returns a channel closed when the execution's child has exited.
func (r *Runner) exited(executionID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[executionID]; ok {
		return entry.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// buildArgs assembles the child command line.
func buildArgs(opts StartOptions) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}

	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	for _, dir := range opts.ExtraReadableDirs {
		args = append(args, "--add-dir", dir)
	}
	if opts.ResumeToken != "" {
		args = append(args, "--resume", opts.ResumeToken)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		args = append(args, "--fallback-model", opts.FallbackModel)
	}
	return args
}
