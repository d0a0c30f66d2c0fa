package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/execlog"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

const baseProfile = `{
  "user_id": "u1",
  "identity": {"role": "user", "status": "active", "name": "Eva", "_secret": "x", "ssn": "123"},
  "access": {"allowed_actions": ["*"], "denied_actions": [], "daily_limit": 100, "internal_score": 7},
  "preferences": {"verbosity": 2, "response_language": "cs"},
  "temporal": {"valid_until": null, "temporary_actions": []},
  "meta": {"created_at": "2026-01-01T00:00:00Z", "profile_version": 1, "etag": "abc"},
  "_system": {"shard": 4},
  "billing": {"card": "4111"}
}`

func newStore(t *testing.T) (*profile.FileStore, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "u1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.json"), []byte(baseProfile), 0o644))
	return profile.NewFileStore(root), filepath.Join(dir, "profile.json")
}

func setPref(t *testing.T, store profile.Store, params map[string]interface{}) action.Outcome {
	t.Helper()
	return NewSetPreference(store).Handle(context.Background(), action.Request{
		ActionType: "set_preference",
		Params:     params,
		UserID:     "u1",
	})
}

func TestSetPreference_Updates(t *testing.T) {
	store, _ := newStore(t)

	out := setPref(t, store, map[string]interface{}{"verbosity": 4, "communication_style": "formal"})
	require.True(t, out.OK(), "%+v", out)
	assert.Equal(t, "Preference updated", out.Message)

	prefs := out.Payload["preferences"].(map[string]interface{})
	assert.EqualValues(t, 4, prefs["verbosity"])
	assert.Equal(t, "formal", prefs["communication_style"])
	assert.Equal(t, "cs", prefs["response_language"])

	p, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "formal", p.Preference("communication_style"))
}

func TestSetPreference_AcceptsJSONNumber(t *testing.T) {
	store, _ := newStore(t)
	out := setPref(t, store, map[string]interface{}{"verbosity": json.Number("5")})
	assert.True(t, out.OK(), "%+v", out)
}

func TestSetPreference_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]interface{}
		message  string
		field    string
		expected string
	}{
		{"empty params", map[string]interface{}{}, "Missing params", "params", ""},
		{"unknown key", map[string]interface{}{"theme": "dark"}, "Preference key not allowed", "theme", ""},
		{"bool is not int", map[string]interface{}{"verbosity": true}, "Invalid preference type", "verbosity", "int"},
		{"float is not int", map[string]interface{}{"verbosity": 2.5}, "Invalid preference type", "verbosity", "int"},
		{"fractional number", map[string]interface{}{"verbosity": json.Number("2.0")}, "Invalid preference type", "verbosity", "int"},
		{"int is not string", map[string]interface{}{"response_language": 1}, "Invalid preference type", "response_language", "string"},
		{"out of range", map[string]interface{}{"verbosity": 6}, "Invalid preference value", "verbosity", "0-5"},
		{"negative", map[string]interface{}{"verbosity": -1}, "Invalid preference value", "verbosity", "0-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newStore(t)
			out := setPref(t, store, tt.params)
			assert.Equal(t, action.StatusError, out.Status)
			assert.Equal(t, tt.message, out.Message)
			assert.Equal(t, action.ErrorTypeFailed, out.ErrorType())
			assert.Equal(t, tt.field, out.Payload["field"])
			if tt.expected != "" {
				assert.Equal(t, tt.expected, out.Payload["expected"])
			}
		})
	}
}

func TestSetPreference_OneBadKeyWritesNothing(t *testing.T) {
	store, path := newStore(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// verbosity sorts last and is the only invalid key.
	out := setPref(t, store, map[string]interface{}{
		"communication_style": "casual",
		"response_language":   "en",
		"verbosity":           9,
	})
	require.False(t, out.OK())
	assert.Equal(t, "verbosity", out.Payload["field"])

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSetPreference_MissingProfile(t *testing.T) {
	store := profile.NewFileStore(t.TempDir())
	out := NewSetPreference(store).Handle(context.Background(), action.Request{
		Params: map[string]interface{}{"verbosity": 1},
		UserID: "ghost",
	})
	assert.Equal(t, "Profile not found", out.Message)
}

func TestGetProfile_Sanitizes(t *testing.T) {
	store, _ := newStore(t)
	out := NewGetProfile(store).Handle(context.Background(), action.Request{UserID: "u1"})
	require.True(t, out.OK(), "%+v", out)

	data, err := json.Marshal(out.Payload["profile"])
	require.NoError(t, err)
	assert.JSONEq(t, `{
	  "user_id": "u1",
	  "identity": {"role": "user", "status": "active", "name": "Eva"},
	  "access": {"allowed_actions": ["*"], "denied_actions": [], "daily_limit": 100},
	  "preferences": {"verbosity": 2, "response_language": "cs"},
	  "temporal": {"valid_until": null, "temporary_actions": []},
	  "meta": {"created_at": "2026-01-01T00:00:00Z", "profile_version": 1}
	}`, string(data))
}

func TestBuiltins_ThroughDispatcher(t *testing.T) {
	store, _ := newStore(t)
	journal := execlog.NewJSONLJournal(filepath.Join(t.TempDir(), "execution_log.jsonl"))
	reg := action.NewRegistry()
	RegisterBuiltins(reg, store)
	d := action.NewDispatcher(action.NewGate(store, journal), reg, journal)
	ctx := context.Background()

	assert.Equal(t, []string{"get_profile", "noop", "set_preference"}, reg.List())

	noop := d.Dispatch(ctx, action.Action{ActionType: "noop"}, "u1", action.RequestContext{RequestID: "n1"})
	assert.Equal(t, "No-op action executed", noop.Message)

	cmd, err := action.Parse("/set verbosity 1")
	require.NoError(t, err)
	out := d.Dispatch(ctx, cmd, "u1", action.RequestContext{RequestID: "s1"})
	require.True(t, out.OK(), "%+v", out)

	p, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), p.Preferences()["verbosity"])
}
