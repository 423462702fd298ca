// Package repository persists completed conversational turns. The log is
// append-only: there is no update or delete path.
package repository

import (
	"context"

	"shipping-assistant/internal/domain"
)

// searchLimit bounds the rows returned by SearchTurns.
const searchLimit = 200

// TurnLog is implemented by every backend in this package.
type TurnLog interface {
	AppendTurn(ctx context.Context, turn domain.Turn) error
	RecentTurns(ctx context.Context, limit int) ([]domain.Turn, error)
	OldestTurns(ctx context.Context, limit int) ([]domain.Turn, error)
	CountTurns(ctx context.Context) (int64, error)
	SearchTurns(ctx context.Context, query string) ([]domain.Turn, error)
}

var (
	_ TurnLog = (*Dynamo)(nil)
	_ TurnLog = (*Postgres)(nil)
)
