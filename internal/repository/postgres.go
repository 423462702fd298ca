package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"shipping-assistant/internal/domain"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS chat_logs (
	id              BIGSERIAL PRIMARY KEY,
	thread_id       TEXT        NOT NULL,
	user_message    TEXT        NOT NULL,
	assistant_reply TEXT        NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_logs_created_at_idx ON chat_logs (created_at)`

	insertTurnSQL  = `INSERT INTO chat_logs (thread_id, user_message, assistant_reply, created_at) VALUES ($1, $2, $3, $4)`
	recentTurnsSQL = `SELECT thread_id, user_message, assistant_reply, created_at FROM chat_logs ORDER BY created_at DESC LIMIT $1`
	oldestTurnsSQL = `SELECT thread_id, user_message, assistant_reply, created_at FROM chat_logs ORDER BY created_at ASC LIMIT $1`
	countTurnsSQL  = `SELECT COUNT(*) FROM chat_logs`
	searchTurnsSQL = `SELECT thread_id, user_message, assistant_reply, created_at FROM chat_logs ` +
		`WHERE user_message ILIKE $1 ESCAPE '\' OR assistant_reply ILIKE $1 ESCAPE '\' ` +
		`ORDER BY created_at DESC LIMIT $2`
)

// PoolConfig sizes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Postgres stores turns in the chat_logs table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens and pings a pooled connection to dsn. The caller owns the
// returned store and must Close it.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: database url must not be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the chat_logs table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository: EnsureSchema: %w", err)
	}
	return nil
}

func (p *Postgres) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if turn.ThreadID == "" {
		return errors.New("repository: AppendTurn: thread id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if _, err := p.db.ExecContext(ctx, insertTurnSQL, turn.ThreadID, turn.UserMessage, turn.AssistantReply, turn.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func (p *Postgres) RecentTurns(ctx context.Context, limit int) ([]domain.Turn, error) {
	turns, err := p.queryTurns(ctx, recentTurnsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns: %w", err)
	}
	return turns, nil
}

func (p *Postgres) OldestTurns(ctx context.Context, limit int) ([]domain.Turn, error) {
	turns, err := p.queryTurns(ctx, oldestTurnsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: OldestTurns: %w", err)
	}
	return turns, nil
}

func (p *Postgres) CountTurns(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, countTurnsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository: CountTurns: %w", err)
	}
	return n, nil
}

// SearchTurns matches query as a case-insensitive substring of the message or
// the reply, newest first.
func (p *Postgres) SearchTurns(ctx context.Context, query string) ([]domain.Turn, error) {
	turns, err := p.queryTurns(ctx, searchTurnsSQL, likePattern(query), searchLimit)
	if err != nil {
		return nil, fmt.Errorf("repository: SearchTurns: %w", err)
	}
	return turns, nil
}

func (p *Postgres) queryTurns(ctx context.Context, query string, args ...any) ([]domain.Turn, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	turns := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.ThreadID, &t.UserMessage, &t.AssistantReply, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
