// Package execlog is the append-only audit trail of dispatched actions. The
// gate reads it for idempotent replay and for the daily quota count.
package execlog

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one completed or failed dispatch.
type Entry struct {
	UserID     string
	RequestID  string
	TraceID    string
	ActionType string
	// Result is the full outcome object as it was returned to the caller.
	Result json.RawMessage
}

// Journal is the storage contract the gate and dispatcher depend on.
type Journal interface {
	// FindByRequestID returns the first record with requestID. found is
	// false for an empty id.
	FindByRequestID(ctx context.Context, requestID string) (e Entry, found bool, err error)
	// CountForUserInWindow counts the user's records with a timestamp at or
	// after now-window.
	CountForUserInWindow(ctx context.Context, userID string, window time.Duration) (int, error)
	Append(ctx context.Context, e Entry) error
}

// Window is the trailing period used for the daily quota.
const Window = 24 * time.Hour

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
