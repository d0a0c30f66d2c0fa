package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/execlog"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

type fakeProfiles map[string]string

func (f fakeProfiles) Load(_ context.Context, userID string) (profile.Profile, error) {
	body, ok := f[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return profile.Decode([]byte(body))
}

func (f fakeProfiles) GetCached(string) (profile.Profile, bool) { return nil, false }

type fakeJournal struct {
	results map[string]json.RawMessage
	// owners maps request ids to users; unlisted ids belong to u1.
	owners  map[string]string
	used    int
	findErr error
}

func (j *fakeJournal) FindByRequestID(_ context.Context, id string) (execlog.Entry, bool, error) {
	if j.findErr != nil {
		return execlog.Entry{}, false, j.findErr
	}
	r, ok := j.results[id]
	if !ok {
		return execlog.Entry{}, false, nil
	}
	owner, ok := j.owners[id]
	if !ok {
		owner = "u1"
	}
	return execlog.Entry{UserID: owner, RequestID: id, Result: r}, true, nil
}

func (j *fakeJournal) CountForUserInWindow(context.Context, string, time.Duration) (int, error) {
	return j.used, nil
}

func (j *fakeJournal) Append(context.Context, execlog.Entry) error { return nil }

var gateNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func authorizeWith(t *testing.T, body string, j *fakeJournal, actionType, requestID string) Verdict {
	t.Helper()
	if j == nil {
		j = &fakeJournal{}
	}
	g := NewGate(fakeProfiles{"u1": body}, j).WithClock(func() time.Time { return gateNow })
	return g.Authorize(context.Background(), Request{
		ActionType: actionType,
		UserID:     "u1",
		Context:    RequestContext{RequestID: requestID},
	})
}

func TestGate_Verdicts(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		action string
		reason string
	}{
		{"allowlisted", `{"access":{"allowed_actions":["noop"],"denied_actions":[]}}`, "noop", ReasonAllowed},
		{"wildcard", `{"access":{"allowed_actions":["*"],"denied_actions":[]}}`, "get_profile", ReasonAllowed},
		{"not allowlisted", `{"access":{"allowed_actions":["noop"],"denied_actions":[]}}`, "get_profile", ReasonNotAllowed},
		{"inactive identity", `{"identity":{"status":"suspended"},"access":{"allowed_actions":["*"],"denied_actions":[]}}`, "noop", ReasonIdentityInactive},
		{"missing access", `{"identity":{"status":"active"}}`, "noop", ReasonAccessMalformed},
		{"access not a list", `{"access":{"allowed_actions":"noop","denied_actions":[]}}`, "noop", ReasonAccessMalformed},
		{"denied beats allowed", `{"access":{"allowed_actions":["noop"],"denied_actions":["noop"]}}`, "noop", ReasonDenied},
		{"denied wildcard", `{"access":{"allowed_actions":["*"],"denied_actions":["*"]}}`, "noop", ReasonDenied},
		{"active grant", `{"access":{"allowed_actions":[],"denied_actions":[]},"temporal":{"valid_until":"2026-06-01T00:00:00Z","temporary_actions":["noop"]}}`, "noop", ReasonAllowed},
		{"open-ended grant", `{"access":{"allowed_actions":[],"denied_actions":[]},"temporal":{"temporary_actions":["noop"]}}`, "noop", ReasonAllowed},
		{"expired grant", `{"access":{"allowed_actions":[],"denied_actions":[]},"temporal":{"valid_until":"2026-04-01T00:00:00Z","temporary_actions":["noop"]}}`, "noop", ReasonNotAllowed},
		{"unparseable grant", `{"access":{"allowed_actions":[],"denied_actions":[]},"temporal":{"valid_until":"soon","temporary_actions":["noop"]}}`, "noop", ReasonNotAllowed},
		{"grant cannot beat denial", `{"access":{"allowed_actions":[],"denied_actions":["noop"]},"temporal":{"temporary_actions":["noop"]}}`, "noop", ReasonDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := authorizeWith(t, tt.body, nil, tt.action, "")
			if v.Reason != tt.reason {
				t.Fatalf("expected reason %q, got %q", tt.reason, v.Reason)
			}
			if v.Allowed != (tt.reason == ReasonAllowed) {
				t.Fatalf("expected allowed=%v, got %v", tt.reason == ReasonAllowed, v.Allowed)
			}
			if !v.Allowed {
				if v.Outcome.Message != messageBlocked || v.Outcome.ErrorType() != ErrorTypeBlocked {
					t.Fatalf("expected uniform blocked outcome, got %+v", v.Outcome)
				}
			}
		})
	}
}

func TestGate_ProfileMissingIsBlocked(t *testing.T) {
	g := NewGate(fakeProfiles{}, &fakeJournal{})
	v := g.Authorize(context.Background(), Request{ActionType: "noop", UserID: "ghost"})
	if v.Allowed || v.Reason != ReasonProfileMissing {
		t.Fatalf("expected profile_missing block, got %+v", v)
	}
}

func TestGate_QuotaBoundary(t *testing.T) {
	body := `{"access":{"allowed_actions":["noop"],"denied_actions":[],"daily_limit":3}}`

	if v := authorizeWith(t, body, &fakeJournal{used: 2}, "noop", ""); !v.Allowed {
		t.Fatalf("expected allow with 2 of 3 used, got %q", v.Reason)
	}
	if v := authorizeWith(t, body, &fakeJournal{used: 3}, "noop", ""); v.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota_exceeded with 3 of 3 used, got %q", v.Reason)
	}

	unlimited := `{"access":{"allowed_actions":["noop"],"denied_actions":[],"daily_limit":-1}}`
	if v := authorizeWith(t, unlimited, &fakeJournal{used: 1000}, "noop", ""); !v.Allowed {
		t.Fatalf("expected allow for negative limit, got %q", v.Reason)
	}
}

func TestGate_ReplaySkipsAuthorization(t *testing.T) {
	stored := json.RawMessage(`{"status":"success","message":"No-op action executed","payload":{},"retryable":false}`)
	j := &fakeJournal{results: map[string]json.RawMessage{"r1": stored}}

	// Even a user who is now denied gets the stored answer back.
	v := authorizeWith(t, `{"access":{"allowed_actions":[],"denied_actions":["*"]}}`, j, "noop", "r1")
	if v.Allowed || v.Reason != ReasonReplay {
		t.Fatalf("expected replay verdict, got %+v", v)
	}
	data, err := json.Marshal(v.Outcome)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != string(stored) {
		t.Fatalf("expected byte-identical replay, got %s", data)
	}
	if !v.Outcome.Replayed() {
		t.Fatalf("expected outcome marked as replayed")
	}
}

func TestGate_ReplayOfAnotherUsersRequestBlocks(t *testing.T) {
	j := &fakeJournal{
		results: map[string]json.RawMessage{"r1": json.RawMessage(`{"status":"success","message":"ok","payload":{},"retryable":false}`)},
		owners:  map[string]string{"r1": "alice"},
	}
	v := authorizeWith(t, `{"access":{"allowed_actions":["*"],"denied_actions":[]}}`, j, "get_profile", "r1")
	if v.Allowed || v.Reason != ReasonRequestConflict {
		t.Fatalf("expected request_id_conflict, got %+v", v)
	}
	if v.Outcome.Replayed() || v.Outcome.Message == "ok" {
		t.Fatalf("expected no stored outcome to leak, got %+v", v.Outcome)
	}
}

func TestGate_ReplayIgnoresNonTerminalStatus(t *testing.T) {
	j := &fakeJournal{results: map[string]json.RawMessage{"r1": json.RawMessage(`{"status":"allow"}`)}}
	v := authorizeWith(t, `{"access":{"allowed_actions":["noop"],"denied_actions":[]}}`, j, "noop", "r1")
	if !v.Allowed {
		t.Fatalf("expected normal authorization, got %q", v.Reason)
	}
}

func TestGate_JournalLookupFailureBlocks(t *testing.T) {
	j := &fakeJournal{findErr: errors.New("disk gone")}
	v := authorizeWith(t, `{"access":{"allowed_actions":["noop"],"denied_actions":[]}}`, j, "noop", "r1")
	if v.Allowed || v.Reason != ReasonStoreUnavailable {
		t.Fatalf("expected store_unavailable, got %+v", v)
	}
}
