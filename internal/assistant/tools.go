package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"shipping-assistant/internal/domain"
)

// Tool names the assistant configuration declares.
const (
	ToolRecentChats  = "get_recent_chats"
	ToolChatCount    = "get_chat_count"
	ToolChatsSummary = "get_all_chats_summary"
)

const (
	defaultRecentLimit  = 5
	defaultSummaryLimit = 100
	noChatsMessage      = "No chats found."
)

// Call is a decoded tool call. The set of implementations is closed: every
// supported tool has its own variant and anything else is an UnknownCall.
type Call interface {
	CallID() string
	accept(ctx context.Context, v ToolVisitor) (string, error)
}

type RecentChatsCall struct{ ID string }
type ChatCountCall struct{ ID string }
type ChatsSummaryCall struct{ ID string }
type UnknownCall struct{ ID, Name string }

func (c RecentChatsCall) CallID() string  { return c.ID }
func (c ChatCountCall) CallID() string    { return c.ID }
func (c ChatsSummaryCall) CallID() string { return c.ID }
func (c UnknownCall) CallID() string      { return c.ID }

func (c RecentChatsCall) accept(ctx context.Context, v ToolVisitor) (string, error) {
	return v.RecentChats(ctx, c)
}

func (c ChatCountCall) accept(ctx context.Context, v ToolVisitor) (string, error) {
	return v.ChatCount(ctx, c)
}

func (c ChatsSummaryCall) accept(ctx context.Context, v ToolVisitor) (string, error) {
	return v.ChatsSummary(ctx, c)
}

func (c UnknownCall) accept(ctx context.Context, v ToolVisitor) (string, error) {
	return v.Unknown(ctx, c)
}

// ToolVisitor executes each call variant. Adding a tool means adding a
// variant and a method here, so every visitor must handle it.
type ToolVisitor interface {
	RecentChats(ctx context.Context, c RecentChatsCall) (string, error)
	ChatCount(ctx context.Context, c ChatCountCall) (string, error)
	ChatsSummary(ctx context.Context, c ChatsSummaryCall) (string, error)
	Unknown(ctx context.Context, c UnknownCall) (string, error)
}

// DecodeCall maps a backend tool call onto its variant.
func DecodeCall(tc domain.ToolCall) Call {
	switch tc.Name {
	case ToolRecentChats:
		return RecentChatsCall{ID: tc.ID}
	case ToolChatCount:
		return ChatCountCall{ID: tc.ID}
	case ToolChatsSummary:
		return ChatsSummaryCall{ID: tc.ID}
	default:
		return UnknownCall{ID: tc.ID, Name: tc.Name}
	}
}

// NotImplemented is the output given for tools this service does not know.
func NotImplemented(name string) string {
	return `Tool "` + name + `" is not implemented.`
}

// Dispatcher runs the tool calls of one polling step.
type Dispatcher struct {
	visitor ToolVisitor
}

func NewDispatcher(v ToolVisitor) (*Dispatcher, error) {
	if v == nil {
		return nil, errors.New("assistant: tool visitor must not be nil")
	}
	return &Dispatcher{visitor: v}, nil
}

// Dispatch executes all calls concurrently and returns one output per call,
// in input order. Any handler error fails the whole batch.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []domain.ToolCall) ([]domain.ToolOutput, error) {
	outputs := make([]domain.ToolOutput, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		g.Go(func() error {
			out, err := DecodeCall(tc).accept(gctx, d.visitor)
			if err != nil {
				return fmt.Errorf("assistant: tool %q: %w", tc.Name, err)
			}
			outputs[i] = domain.ToolOutput{ToolCallID: tc.ID, Output: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// TurnReader is the read side of the turn log.
type TurnReader interface {
	RecentTurns(ctx context.Context, limit int) ([]domain.Turn, error)
	OldestTurns(ctx context.Context, limit int) ([]domain.Turn, error)
	CountTurns(ctx context.Context) (int64, error)
}

// LogTools answers the analytics tools from the turn log.
type LogTools struct {
	turns        TurnReader
	recentLimit  int
	summaryLimit int
}

func NewLogTools(turns TurnReader) (*LogTools, error) {
	if turns == nil {
		return nil, errors.New("assistant: turn reader must not be nil")
	}
	return &LogTools{turns: turns, recentLimit: defaultRecentLimit, summaryLimit: defaultSummaryLimit}, nil
}

type chatRow struct {
	UserMessage    string    `json:"user_message"`
	AssistantReply string    `json:"assistant_reply"`
	CreatedAt      time.Time `json:"created_at"`
}

func (t *LogTools) RecentChats(ctx context.Context, _ RecentChatsCall) (string, error) {
	turns, err := t.turns.RecentTurns(ctx, t.recentLimit)
	if err != nil {
		return "", err
	}
	rows := make([]chatRow, 0, len(turns))
	for _, turn := range turns {
		rows = append(rows, chatRow{UserMessage: turn.UserMessage, AssistantReply: turn.AssistantReply, CreatedAt: turn.CreatedAt})
	}
	buf, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal recent chats: %w", err)
	}
	return string(buf), nil
}

func (t *LogTools) ChatCount(ctx context.Context, _ ChatCountCall) (string, error) {
	n, err := t.turns.CountTurns(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Total chats: %d", n), nil
}

func (t *LogTools) ChatsSummary(ctx context.Context, _ ChatsSummaryCall) (string, error) {
	turns, err := t.turns.OldestTurns(ctx, t.summaryLimit)
	if err != nil {
		return "", err
	}
	if len(turns) == 0 {
		return noChatsMessage, nil
	}
	parts := make([]string, 0, len(turns))
	for i, turn := range turns {
		parts = append(parts, fmt.Sprintf("Chat #%d (%s):\nUser: %s\nBot: %s",
			i+1, turn.CreatedAt.UTC().Format(time.DateTime), turn.UserMessage, turn.AssistantReply))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (t *LogTools) Unknown(_ context.Context, c UnknownCall) (string, error) {
	return NotImplemented(c.Name), nil
}
