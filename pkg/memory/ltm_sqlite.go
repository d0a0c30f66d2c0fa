package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var FactsSchema = []string{
	`CREATE TABLE IF NOT EXISTS personal_facts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		fact_key TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		locale TEXT NOT NULL DEFAULT '',
		updated_at_ms INTEGER NOT NULL,
		UNIQUE(user_id, fact_key)
	);`,
}

// SQLiteFacts is the database-backed LongTerm.
type SQLiteFacts struct {
	db *sql.DB
}

func NewSQLiteFacts(db *sql.DB) (*SQLiteFacts, error) {
	for _, stmt := range FactsSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init personal_facts: %w", err)
		}
	}
	return &SQLiteFacts{db: db}, nil
}

func (s *SQLiteFacts) Facts(ctx context.Context, userID string) (map[string]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fact_key, value, confidence, source, locale, updated_at_ms
FROM personal_facts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	out := map[string]Fact{}
	for rows.Next() {
		var (
			key string
			f   Fact
			ms  int64
		)
		if err := rows.Scan(&key, &f.Value, &f.Confidence, &f.Source, &f.Locale, &ms); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.UpdatedAt = time.UnixMilli(ms).UTC()
		out[key] = f
	}
	return out, rows.Err()
}

func (s *SQLiteFacts) Upsert(ctx context.Context, userID, key string, f Fact) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO personal_facts(id, user_id, fact_key, value, confidence, source, locale, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, fact_key) DO UPDATE SET
	value = excluded.value,
	confidence = excluded.confidence,
	source = excluded.source,
	locale = excluded.locale,
	updated_at_ms = excluded.updated_at_ms`,
		uuid.NewString(), userID, key, f.Value, f.Confidence, f.Source, f.Locale, f.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}
