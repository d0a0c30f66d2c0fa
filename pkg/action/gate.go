package action

import (
	"context"
	"errors"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/execlog"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

// Fail branches recorded on a Verdict. They are logged and returned to
// in-process callers only; the outcome itself never says why.
const (
	ReasonAllowed          = "allowed"
	ReasonReplay           = "replay"
	ReasonRequestConflict  = "request_id_conflict"
	ReasonProfileMissing   = "profile_missing"
	ReasonIdentityInactive = "identity_inactive"
	ReasonAccessMalformed  = "access_malformed"
	ReasonNotAllowed       = "not_allowed"
	ReasonDenied           = "denied"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonStoreUnavailable = "store_unavailable"
)

const wildcard = "*"

// Verdict is the gate's answer. Outcome is set whenever Allowed is false.
type Verdict struct {
	Allowed bool
	Outcome Outcome
	Reason  string
}

// Gate authorizes requests. It never runs handlers.
type Gate struct {
	profiles profile.Reader
	journal  execlog.Journal
	now      func() time.Time
}

func NewGate(profiles profile.Reader, journal execlog.Journal) *Gate {
	return &Gate{profiles: profiles, journal: journal, now: time.Now}
}

// WithClock fixes the clock used for temporal grants.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Authorize evaluates, in order: idempotent replay, profile resolution,
// identity, access shape, temporal grant, allow/deny, daily quota.
// The profile is read from disk on every call; the cache it refreshes
// serves the rest of the request chain.
func (g *Gate) Authorize(ctx context.Context, req Request) Verdict {
	v := g.authorize(ctx, req)
	logger.DebugCF("gate", "Authorization verdict", map[string]interface{}{
		"user_id":     req.UserID,
		"action_type": req.ActionType,
		"request_id":  req.Context.RequestID,
		"allowed":     v.Allowed,
		"reason":      v.Reason,
	})
	return v
}

func (g *Gate) authorize(ctx context.Context, req Request) Verdict {
	if req.Context.RequestID != "" {
		prev, owner, ok, err := g.replay(ctx, req.Context.RequestID)
		if err != nil {
			// Without the log there is no at-most-once guarantee.
			return blocked(ReasonStoreUnavailable)
		}
		if ok {
			// A request id used by someone else is neither replayed nor run.
			if owner != req.UserID {
				return blocked(ReasonRequestConflict)
			}
			return Verdict{Outcome: prev, Reason: ReasonReplay}
		}
	}

	p, err := g.profiles.Load(ctx, req.UserID)
	if err != nil {
		reason := ReasonStoreUnavailable
		if errors.Is(err, profile.ErrNotFound) || errors.Is(err, profile.ErrInvalidUserID) {
			reason = ReasonProfileMissing
		}
		return blocked(reason)
	}

	if p.Identity().Status != profile.StatusActive {
		return blocked(ReasonIdentityInactive)
	}

	access := p.Access()
	if !access.WellFormed {
		return blocked(ReasonAccessMalformed)
	}

	// An expired or unreadable grant contributes nothing this turn; the
	// stored block is left as is.
	granted := false
	if grant, ok := p.Temporal(); ok && grant.ActiveAt(g.now()) {
		granted = contains(grant.Actions, req.ActionType)
	}

	if contains(access.Denied, wildcard) || contains(access.Denied, req.ActionType) {
		return blocked(ReasonDenied)
	}
	allowed := contains(access.Allowed, wildcard) || contains(access.Allowed, req.ActionType) || granted
	if !allowed {
		return blocked(ReasonNotAllowed)
	}

	if !access.DailyLimit.Unlimited {
		used, err := g.journal.CountForUserInWindow(ctx, req.UserID, execlog.Window)
		if err != nil {
			logger.WarnCF("gate", "Quota count failed", map[string]interface{}{
				"user_id": req.UserID,
				"error":   err.Error(),
			})
			return blocked(ReasonStoreUnavailable)
		}
		if int64(used) >= access.DailyLimit.Value {
			return blocked(ReasonQuotaExceeded)
		}
	}

	return Verdict{Allowed: true, Reason: ReasonAllowed}
}

// replay returns the stored outcome and its user for requestID when it
// finished with a terminal status.
func (g *Gate) replay(ctx context.Context, requestID string) (Outcome, string, bool, error) {
	rec, found, err := g.journal.FindByRequestID(ctx, requestID)
	if err != nil {
		logger.WarnCF("gate", "Execution log lookup failed", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return Outcome{}, "", false, err
	}
	if !found {
		return Outcome{}, "", false, nil
	}
	prev, err := decodeOutcome(rec.Result)
	if err != nil {
		return Outcome{}, "", false, nil
	}
	switch prev.Status {
	case StatusSuccess, StatusError, StatusPending:
		return prev, rec.UserID, true, nil
	}
	return Outcome{}, "", false, nil
}

func blocked(reason string) Verdict {
	return Verdict{Outcome: Blocked(messageBlocked), Reason: reason}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
