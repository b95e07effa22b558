package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/okibo/skein/pkg/schema"
)

// LibSQLStore persists executions in an embedded libsql database.
type LibSQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLibSQL opens (or creates) the database at path, applies the pragmas
// the embedded engine needs, and runs pending migrations.
func OpenLibSQL(ctx context.Context, path string, logger *slog.Logger) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; libsql embedded replicas do not tolerate concurrent
	// write connections.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		if err := db.QueryRowContext(ctx, p).Scan(&result); err != nil && !errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &LibSQLStore{db: db, logger: logger}, nil
}

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, project_id, creator_id, status, trigger_data, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, ex.ProjectID, ex.CreatorID, ex.Status,
		nullableJSON(ex.TriggerData), ex.StartedAt.UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create execution").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) FinishExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, outputs = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		update.Status, nullableJSON(update.Outputs), nullableJSON(update.Error),
		nullableTime(update.CompletedAt), id)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "finish execution").WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	return nil
}

func (s *LibSQLStore) UpsertNodeRecord(ctx context.Context, rec *NodeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_executions (execution_id, node_id, node_type, status, output, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms`,
		rec.ExecutionID, rec.NodeID, string(rec.Type), string(rec.Status),
		nullableJSON(rec.Output), nullableString(rec.Error),
		nullableTime(rec.StartedAt), nullableTime(rec.CompletedAt), rec.DurationMs)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "upsert node record").WithCause(err).WithNode(rec.NodeID)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, project_id, creator_id, status, trigger_data, outputs, error, started_at, completed_at
		FROM executions WHERE id = ?`, id)
	ex, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "get execution").WithCause(err)
	}
	return ex, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, workflow_id, project_id, creator_id, status, trigger_data, outputs, error, started_at, completed_at
		FROM executions`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list executions").WithCause(err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan execution").WithCause(err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) ListNodeRecords(ctx context.Context, executionID string) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, node_id, node_type, status, output, error, started_at, completed_at, duration_ms
		FROM node_executions WHERE execution_id = ? ORDER BY node_id`, executionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list node records").WithCause(err)
	}
	defer rows.Close()

	var out []*NodeRecord
	for rows.Next() {
		var (
			rec        NodeRecord
			nodeType   string
			status     string
			output     sql.NullString
			errMsg     sql.NullString
			started    sql.NullTime
			completed  sql.NullTime
			durationMs sql.NullInt64
		)
		if err := rows.Scan(&rec.ExecutionID, &rec.NodeID, &nodeType, &status,
			&output, &errMsg, &started, &completed, &durationMs); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan node record").WithCause(err)
		}
		rec.Type = schema.NodeType(nodeType)
		rec.Status = schema.NodeStatus(status)
		if output.Valid {
			rec.Output = []byte(output.String)
		}
		rec.Error = errMsg.String
		if started.Valid {
			t := started.Time
			rec.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		rec.DurationMs = durationMs.Int64
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		ex        Execution
		project   sql.NullString
		creator   sql.NullString
		trigger   sql.NullString
		outputs   sql.NullString
		errJSON   sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&ex.ID, &ex.WorkflowID, &project, &creator, &ex.Status,
		&trigger, &outputs, &errJSON, &ex.StartedAt, &completed); err != nil {
		return nil, err
	}
	ex.ProjectID = project.String
	ex.CreatorID = creator.String
	if trigger.Valid {
		ex.TriggerData = []byte(trigger.String)
	}
	if outputs.Valid {
		ex.Outputs = []byte(outputs.String)
	}
	if errJSON.Valid {
		ex.Error = []byte(errJSON.String)
	}
	if completed.Valid {
		t := completed.Time
		ex.CompletedAt = &t
	}
	return &ex, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
