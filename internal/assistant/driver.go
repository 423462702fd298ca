package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shipping-assistant/internal/domain"
)

const (
	threadIDPrefix      = "thread_"
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxPolls     = 120
	noResponseReply     = "No response."
)

// Backend is the hosted assistant API. *openai.Client satisfies it.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (domain.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (domain.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) error
	LatestAssistantReply(ctx context.Context, threadID string) (string, error)
}

// ToolRunner produces one output per tool call.
type ToolRunner interface {
	Dispatch(ctx context.Context, calls []domain.ToolCall) ([]domain.ToolOutput, error)
}

type Phase string

const (
	PhaseCreated        Phase = "CREATED"
	PhaseSubmitted      Phase = "SUBMITTED"
	PhasePolling        Phase = "POLLING"
	PhaseRequiresAction Phase = "REQUIRES_ACTION"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseFailed         Phase = "FAILED"
	PhaseTimedOut       Phase = "TIMED_OUT"
)

type Config struct {
	AssistantID  string
	PollInterval time.Duration
	// MaxPolls bounds the number of status fetches per turn.
	MaxPolls int
}

// Result is the outcome of a completed run.
type Result struct {
	ThreadID string
	RunID    string
	Reply    string
	Polls    int
}

type Driver struct {
	backend Backend
	tools   ToolRunner
	cfg     Config
	logger  *slog.Logger
}

func NewDriver(b Backend, tools ToolRunner, cfg Config, logger *slog.Logger) (*Driver, error) {
	if b == nil {
		return nil, errors.New("assistant: backend must not be nil")
	}
	if tools == nil {
		return nil, errors.New("assistant: tool runner must not be nil")
	}
	cfg.AssistantID = strings.TrimSpace(cfg.AssistantID)
	if cfg.AssistantID == "" {
		return nil, errors.New("assistant: assistant id must not be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{backend: b, tools: tools, cfg: cfg, logger: logger}, nil
}

// IsThreadID reports whether id looks like a backend thread handle. No
// existence check is made.
func IsThreadID(id string) bool {
	return strings.HasPrefix(id, threadIDPrefix) && len(id) > len(threadIDPrefix)
}

// runState is the per-turn view of the state machine.
type runState struct {
	threadID string
	runID    string
	status   domain.RunStatus
	phase    Phase
	polls    int
}

func (d *Driver) enter(ctx context.Context, st *runState, p Phase) {
	d.logger.DebugContext(ctx, "assistant run transition",
		"from", st.phase, "to", p, "thread_id", st.threadID, "run_id", st.runID, "status", st.status, "polls", st.polls)
	st.phase = p
}

// Run appends message to the thread (creating one when threadID is not a
// valid handle), runs the assistant and returns its reply. It polls until the
// run completes, fails, ctx ends or MaxPolls status fetches have been made.
func (d *Driver) Run(ctx context.Context, threadID, message string) (Result, error) {
	st := &runState{threadID: threadID}
	d.enter(ctx, st, PhaseCreated)

	if !IsThreadID(threadID) {
		id, err := d.backend.CreateThread(ctx)
		if err != nil {
			return Result{}, d.backendErr(ctx, st, "create thread", err)
		}
		st.threadID = id
	}

	if err := d.backend.AddUserMessage(ctx, st.threadID, message); err != nil {
		return Result{}, d.backendErr(ctx, st, "add message", err)
	}
	run, err := d.backend.CreateRun(ctx, st.threadID, d.cfg.AssistantID)
	if err != nil {
		return Result{}, d.backendErr(ctx, st, "create run", err)
	}
	st.runID, st.status = run.ID, run.Status
	d.enter(ctx, st, PhaseSubmitted)

	for {
		switch {
		case run.Status == domain.RunCompleted:
			return d.complete(ctx, st)
		case run.Status == domain.RunRequiresAction:
			if err := d.handleToolCalls(ctx, st, run.ToolCalls); err != nil {
				return Result{}, err
			}
		case run.Status.Terminal():
			d.enter(ctx, st, PhaseFailed)
			return Result{}, &RunError{Kind: RunFailed, ThreadID: st.threadID, RunID: st.runID, Status: run.Status, Message: run.LastError}
		}

		if st.polls >= d.cfg.MaxPolls {
			d.enter(ctx, st, PhaseTimedOut)
			return Result{}, &RunError{
				Kind: RunTimeout, ThreadID: st.threadID, RunID: st.runID, Status: st.status,
				Message: fmt.Sprintf("run not finished after %d polls", st.polls),
			}
		}
		if st.phase != PhasePolling {
			d.enter(ctx, st, PhasePolling)
		}
		if err := d.wait(ctx); err != nil {
			d.enter(ctx, st, PhaseTimedOut)
			return Result{}, &RunError{Kind: RunTimeout, ThreadID: st.threadID, RunID: st.runID, Status: st.status, Err: err}
		}

		run, err = d.backend.GetRun(ctx, st.threadID, st.runID)
		st.polls++
		if err != nil {
			return Result{}, d.backendErr(ctx, st, "get run", err)
		}
		st.status = run.Status
	}
}

func (d *Driver) handleToolCalls(ctx context.Context, st *runState, calls []domain.ToolCall) error {
	d.enter(ctx, st, PhaseRequiresAction)
	if len(calls) == 0 {
		d.enter(ctx, st, PhaseFailed)
		return &RunError{Kind: RunFailed, ThreadID: st.threadID, RunID: st.runID, Status: st.status, Message: "run requires action without tool calls"}
	}
	outputs, err := d.tools.Dispatch(ctx, calls)
	if err != nil {
		return d.backendErr(ctx, st, "dispatch tool calls", err)
	}
	if err := d.backend.SubmitToolOutputs(ctx, st.threadID, st.runID, outputs); err != nil {
		return d.backendErr(ctx, st, "submit tool outputs", err)
	}
	d.logger.InfoContext(ctx, "submitted tool outputs", "thread_id", st.threadID, "run_id", st.runID, "count", len(outputs))
	d.enter(ctx, st, PhasePolling)
	return nil
}

func (d *Driver) complete(ctx context.Context, st *runState) (Result, error) {
	reply, err := d.backend.LatestAssistantReply(ctx, st.threadID)
	if err != nil {
		return Result{}, d.backendErr(ctx, st, "read reply", err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = noResponseReply
	}
	d.enter(ctx, st, PhaseCompleted)
	d.logger.InfoContext(ctx, "assistant run completed", "thread_id", st.threadID, "run_id", st.runID, "polls", st.polls)
	return Result{ThreadID: st.threadID, RunID: st.runID, Reply: reply, Polls: st.polls}, nil
}

func (d *Driver) wait(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backendErr turns a failed backend call into a RunTimeout when the context
// has already ended, and a wrapped upstream error otherwise.
func (d *Driver) backendErr(ctx context.Context, st *runState, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		d.enter(ctx, st, PhaseTimedOut)
		return &RunError{Kind: RunTimeout, ThreadID: st.threadID, RunID: st.runID, Status: st.status, Err: ctxErr}
	}
	d.enter(ctx, st, PhaseFailed)
	return fmt.Errorf("assistant: %s: %w", op, err)
}
