package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteSchema creates the execution_log table and its lookup indexes.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS execution_log (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		result_json TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS execution_log_request_idx ON execution_log(request_id, seq);`,
	`CREATE INDEX IF NOT EXISTS execution_log_user_time_idx ON execution_log(user_id, created_at_ms);`,
}

// SQLiteJournal keeps the log in a table instead of a flat file. Rows are
// only ever inserted.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal applies SQLiteSchema to db. The caller owns db.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	for _, stmt := range SQLiteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init execution_log: %w", err)
		}
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (j *SQLiteJournal) WithClock(now func() time.Time) *SQLiteJournal {
	j.now = now
	return j
}

func (j *SQLiteJournal) FindByRequestID(ctx context.Context, requestID string) (Entry, bool, error) {
	if requestID == "" {
		return Entry{}, false, nil
	}
	var (
		e   Entry
		raw string
	)
	err := j.db.QueryRowContext(ctx, `
SELECT user_id, request_id, trace_id, action_type, result_json FROM execution_log
WHERE request_id = ?
ORDER BY seq ASC
LIMIT 1`, requestID).Scan(&e.UserID, &e.RequestID, &e.TraceID, &e.ActionType, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("find execution record: %w", err)
	}
	e.Result = json.RawMessage(raw)
	return e, true, nil
}

func (j *SQLiteJournal) CountForUserInWindow(ctx context.Context, userID string, window time.Duration) (int, error) {
	cutoff := j.now().Add(-window).UnixMilli()
	var n int
	if err := j.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM execution_log
WHERE user_id = ? AND created_at_ms >= ?`, userID, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count execution records: %w", err)
	}
	return n, nil
}

func (j *SQLiteJournal) Append(ctx context.Context, e Entry) error {
	result := string(e.Result)
	if result == "" {
		result = "null"
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO execution_log(id, seq, user_id, request_id, trace_id, action_type, result_json, created_at_ms)
VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_log), ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.UserID, e.RequestID, e.TraceID, e.ActionType, result, j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}
