package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite records flow steps in a local SQLite database.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLite opens (or creates) the database at path in WAL mode.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, actionflow.NewRecorderError("open", fmt.Errorf("failed to create directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, actionflow.NewRecorderError("open", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, actionflow.NewRecorderError("migrate", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS message_flow_steps (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		execution_data TEXT NOT NULL,
		is_executed INTEGER NOT NULL DEFAULT 1,
		execution_success TEXT NOT NULL,
		execution_error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flow_steps_message ON message_flow_steps(chat_id, message_id, batch_id, step_order);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordSteps inserts one row per result in a single transaction.
func (s *SQLite) RecordSteps(ctx context.Context, ref actionflow.FlowRef, results []actionflow.ExecutionResult) error {
	if err := validRef(ref); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return actionflow.NewRecorderError("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_flow_steps
			(id, chat_id, message_id, batch_id, step_order, step_type, tool_name,
			 content, execution_data, is_executed, execution_success, execution_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	`)
	if err != nil {
		return actionflow.NewRecorderError("prepare", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, r := range results {
		data, err := encodeStep(r)
		if err != nil {
			return actionflow.NewRecorderError("record", err)
		}
		var execErr interface{}
		if r.Error != "" {
			execErr = r.Error
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), ref.ChatID, ref.MessageID, ref.BatchID,
			i+1, StepTypeTool, r.ToolName, r.Result, string(data), status(r), execErr, now); err != nil {
			return actionflow.NewRecorderError("record", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return actionflow.NewRecorderError("commit", err)
	}

	s.logger.Debug("flow steps recorded", "chat_id", ref.ChatID, "message_id", ref.MessageID, "steps", len(results))
	return nil
}

// Steps returns recorded results for ref in step order.
func (s *SQLite) Steps(ctx context.Context, ref actionflow.FlowRef) ([]actionflow.ExecutionResult, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_data FROM message_flow_steps
		WHERE chat_id = ? AND message_id = ?
	`
	args := []interface{}{ref.ChatID, ref.MessageID}
	if ref.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, ref.BatchID)
	}
	query += " ORDER BY created_at, batch_id, step_order"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, actionflow.NewRecorderError("query", err)
	}
	defer rows.Close()

	var out []actionflow.ExecutionResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, actionflow.NewRecorderError("scan", err)
		}
		r, err := decodeStep([]byte(data))
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

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ actionflow.Recorder = (*SQLite)(nil)
