package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS message_flow_steps (
		id UUID PRIMARY KEY,
		chat_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		execution_data JSONB NOT NULL,
		is_executed BOOLEAN NOT NULL DEFAULT TRUE,
		execution_success TEXT NOT NULL,
		execution_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_flow_steps_message ON message_flow_steps (chat_id, message_id, batch_id, step_order);
`

// Postgres records flow steps in PostgreSQL.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool opens a pgx pool for dsn and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// NewPostgres connects to dsn and creates the flow step table if needed.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, actionflow.NewRecorderError("connect", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, actionflow.NewRecorderError("migrate", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// RecordSteps inserts one row per result in a single transaction.
func (p *Postgres) RecordSteps(ctx context.Context, ref actionflow.FlowRef, results []actionflow.ExecutionResult) error {
	if err := validRef(ref); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return actionflow.NewRecorderError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO message_flow_steps
			(id, chat_id, message_id, batch_id, step_order, step_type, tool_name,
			 content, execution_data, is_executed, execution_success, execution_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11)
	`
	batch := &pgx.Batch{}
	for i, r := range results {
		data, err := encodeStep(r)
		if err != nil {
			return actionflow.NewRecorderError("record", err)
		}
		batch.Queue(query,
			uuid.New(),
			ref.ChatID,
			ref.MessageID,
			ref.BatchID,
			i+1,
			StepTypeTool,
			r.ToolName,
			r.Result,
			data,
			status(r),
			nullString(r.Error),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return actionflow.NewRecorderError("record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return actionflow.NewRecorderError("commit", err)
	}

	p.logger.Debug("flow steps recorded", "chat_id", ref.ChatID, "message_id", ref.MessageID, "steps", len(results))
	return nil
}

// Steps returns recorded results for ref in step order.
func (p *Postgres) Steps(ctx context.Context, ref actionflow.FlowRef) ([]actionflow.ExecutionResult, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_data
		FROM message_flow_steps
		WHERE chat_id = $1 AND message_id = $2
		  AND ($3::text IS NULL OR batch_id = $3)
		ORDER BY created_at, batch_id, step_order
	`
	rows, err := p.pool.Query(ctx, query, ref.ChatID, ref.MessageID, nullString(ref.BatchID))
	if err != nil {
		return nil, actionflow.NewRecorderError("query", err)
	}
	defer rows.Close()

	var out []actionflow.ExecutionResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, actionflow.NewRecorderError("scan", err)
		}
		r, err := decodeStep(data)
		if err != nil {
			return nil, actionflow.NewRecorderError("decode", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, actionflow.NewRecorderError("query", err)
	}
	return out, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ actionflow.Recorder = (*Postgres)(nil)
