package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

type valueKind int

const (
	kindInt valueKind = iota
	kindString
)

func (k valueKind) String() string {
	if k == kindInt {
		return "int"
	}
	return "string"
}

type prefRule struct {
	kind     valueKind
	min, max int64
	ranged   bool
}

// preferenceSchema is extended by adding keys, never by relaxing a rule.
var preferenceSchema = map[string]prefRule{
	"verbosity":           {kind: kindInt, min: 0, max: 5, ranged: true},
	"response_language":   {kind: kindString},
	"communication_style": {kind: kindString},
}

// PreferenceKeys lists the schema keys in sorted order.
func PreferenceKeys() []string {
	keys := make([]string, 0, len(preferenceSchema))
	for k := range preferenceSchema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type SetPreference struct {
	store profile.Store
}

func NewSetPreference(store profile.Store) *SetPreference {
	return &SetPreference{store: store}
}

func (h *SetPreference) Name() string { return "set_preference" }

func (h *SetPreference) Description() string {
	return "Update profile preferences: verbosity (0-5), response_language, communication_style."
}

// Handle validates every key before anything is written; one bad key
// leaves the stored profile untouched.
func (h *SetPreference) Handle(ctx context.Context, req action.Request) action.Outcome {
	if len(req.Params) == 0 {
		return action.Failed("Missing params", map[string]interface{}{"field": "params"})
	}

	values, failure := validatePreferences(req.Params)
	if failure != nil {
		return *failure
	}

	updated, err := h.store.Update(ctx, req.UserID, func(p profile.Profile) error {
		p.SetPreferences(values)
		return nil
	})
	if errors.Is(err, profile.ErrNotFound) {
		return action.Failed("Profile not found", nil)
	}
	if err != nil {
		return action.Failed("Preference update failed", nil)
	}

	prefs := make(map[string]interface{}, len(updated.Preferences()))
	for k, v := range updated.Preferences() {
		prefs[k] = v
	}
	return action.Success("Preference updated", map[string]interface{}{"preferences": prefs})
}

func validatePreferences(params map[string]interface{}) (map[string]interface{}, *action.Outcome) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]interface{}, len(params))
	for _, key := range keys {
		rule, ok := preferenceSchema[key]
		if !ok {
			out := action.Failed("Preference key not allowed", map[string]interface{}{"field": key})
			return nil, &out
		}
		v, ok := coerce(rule.kind, params[key])
		if !ok {
			out := action.Failed("Invalid preference type", map[string]interface{}{
				"field":    key,
				"expected": rule.kind.String(),
			})
			return nil, &out
		}
		if rule.ranged {
			n := v.(int64)
			if n < rule.min || n > rule.max {
				out := action.Failed("Invalid preference value", map[string]interface{}{
					"field":    key,
					"expected": fmt.Sprintf("%d-%d", rule.min, rule.max),
				})
				return nil, &out
			}
		}
		values[key] = v
	}
	return values, nil
}

// coerce accepts only exact integer or string representations. Booleans
// are never integers.
func coerce(kind valueKind, raw interface{}) (interface{}, bool) {
	switch kind {
	case kindInt:
		switch n := raw.(type) {
		case bool:
			return nil, false
		case int:
			return int64(n), true
		case int64:
			return n, true
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, false
			}
			return i, true
		}
		return nil, false
	case kindString:
		s, ok := raw.(string)
		return s, ok
	}
	return nil, false
}
