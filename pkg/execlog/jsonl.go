package execlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/logger"
)

// record is the on-disk line shape.
type record struct {
	Time       string          `json:"time"`
	TS         float64         `json:"ts"`
	UserID     string          `json:"user_id"`
	RequestID  string          `json:"request_id"`
	TraceID    string          `json:"trace_id"`
	ActionType string          `json:"action_type"`
	Result     json.RawMessage `json:"result"`
}

// scanned is the tolerant read shape: ts stays untyped so a string or
// missing value can be told apart from a number.
type scanned struct {
	TS         interface{}     `json:"ts"`
	UserID     string          `json:"user_id"`
	RequestID  string          `json:"request_id"`
	TraceID    string          `json:"trace_id"`
	ActionType string          `json:"action_type"`
	Result     json.RawMessage `json:"result"`
}

// JSONLJournal stores one JSON object per line. Lines are never rewritten.
type JSONLJournal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewJSONLJournal(path string) *JSONLJournal {
	return &JSONLJournal{path: path, now: time.Now}
}

// WithClock replaces the wall clock; used by tests for window boundaries.
func (j *JSONLJournal) WithClock(now func() time.Time) *JSONLJournal {
	j.now = now
	return j
}

func (j *JSONLJournal) Path() string { return j.path }

func (j *JSONLJournal) FindByRequestID(ctx context.Context, requestID string) (Entry, bool, error) {
	if requestID == "" {
		return Entry{}, false, nil
	}
	var (
		e     Entry
		found bool
	)
	err := j.scan(ctx, func(rec scanned) bool {
		if rec.RequestID != requestID {
			return true
		}
		e = Entry{
			UserID:     rec.UserID,
			RequestID:  rec.RequestID,
			TraceID:    rec.TraceID,
			ActionType: rec.ActionType,
			Result:     rec.Result,
		}
		found = true
		return false
	})
	return e, found, err
}

func (j *JSONLJournal) CountForUserInWindow(ctx context.Context, userID string, window time.Duration) (int, error) {
	cutoff := epochSeconds(j.now().Add(-window))
	count := 0
	err := j.scan(ctx, func(rec scanned) bool {
		if rec.UserID != userID {
			return true
		}
		ts, ok := rec.TS.(float64)
		if !ok {
			return true
		}
		if ts >= cutoff {
			count++
		}
		return true
	})
	return count, err
}

func (j *JSONLJournal) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := j.now().UTC()
	result := e.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	line, err := json.Marshal(record{
		Time:       now.Format(time.RFC3339Nano),
		TS:         epochSeconds(now),
		UserID:     e.UserID,
		RequestID:  e.RequestID,
		TraceID:    e.TraceID,
		ActionType: e.ActionType,
		Result:     result,
	})
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create execution log dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

// scan visits decoded records in file order until visit returns false.
// Blank and malformed lines are skipped.
func (j *JSONLJournal) scan(ctx context.Context, visit func(scanned) bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var rec scanned
			if err := json.Unmarshal(line, &rec); err != nil {
				skipped++
			} else if !visit(rec) {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read execution log: %w", readErr)
		}
	}
	if skipped > 0 {
		logger.DebugCF("execlog", "Skipped malformed execution log lines", map[string]interface{}{
			"path":    j.path,
			"skipped": skipped,
		})
	}
	return nil
}
