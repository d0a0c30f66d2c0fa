// Package sqlitedb opens the shared SQLite database used by the optional
// sqlite journal and long-term memory backends.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var pragmas = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA temp_store=MEMORY;`,
	`PRAGMA busy_timeout=5000;`,
}

// Open creates/opens the database at path and applies schema statements.
// Pass ":memory:" for a private in-memory database.
func Open(path string, schema ...string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection; also keeps a :memory: database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := append(append([]string(nil), pragmas...), schema...)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite (%s): %w", trimSQL(stmt), err)
		}
	}
	return db, nil
}

func trimSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// NowMS is the storage clock in unix milliseconds.
func NowMS() int64 { return time.Now().UnixMilli() }
