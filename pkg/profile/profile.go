// Package profile owns the per-user profile documents: identity, access,
// temporal grants, preferences and meta.
//
// A Profile is kept as a decoded JSON document rather than a fixed struct so
// undocumented fields survive a save, and so malformed access data can be
// detected by the gate instead of failing the whole load.
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Section names of a profile document.
const (
	SectionUserID      = "user_id"
	SectionIdentity    = "identity"
	SectionAccess      = "access"
	SectionTemporal    = "temporal"
	SectionPreferences = "preferences"
	SectionMeta        = "meta"
)

const StatusActive = "active"

// Profile is one user's stored document. Numbers decode as json.Number.
type Profile map[string]interface{}

// Decode parses a profile document, preserving integer/float distinction.
func Decode(data []byte) (Profile, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode profile: document is not an object")
	}
	return p, nil
}

// Encode renders the document the way it is stored on disk.
func (p Profile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy so callers can mutate without touching the cache.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(p)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}
		return out
	case Profile:
		return cloneValue(map[string]interface{}(typed))
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Section returns a top-level object section. ok is false when the section
// is absent or not an object.
func (p Profile) Section(name string) (map[string]interface{}, bool) {
	raw, present := p[name]
	if !present {
		return nil, false
	}
	m, ok := raw.(map[string]interface{})
	return m, ok
}

// Identity is the typed view of the identity section.
type Identity struct {
	Role        string
	Status      string
	Name        string
	DisplayName string
}

// Identity returns the identity view. A missing status reads as active.
func (p Profile) Identity() Identity {
	sec, _ := p.Section(SectionIdentity)
	id := Identity{Status: StatusActive}
	if sec == nil {
		return id
	}
	id.Role, _ = sec["role"].(string)
	id.Name, _ = sec["name"].(string)
	id.DisplayName, _ = sec["display_name"].(string)
	if raw, present := sec["status"]; present {
		s, ok := raw.(string)
		if !ok {
			// A non-string status can never equal "active".
			s = fmt.Sprintf("%v", raw)
		}
		id.Status = s
	}
	return id
}

// Limit is a daily quota. Unlimited covers absent, negative and non-integer values.
type Limit struct {
	Value     int64
	Unlimited bool
}

// Access is the typed view of the access section.
type Access struct {
	Allowed []string
	Denied  []string
	// WellFormed is false when either list is missing or is not a list of strings.
	WellFormed bool
	DailyLimit Limit
}

// Access returns the access view used by the gate.
func (p Profile) Access() Access {
	sec, _ := p.Section(SectionAccess)
	if sec == nil {
		return Access{DailyLimit: Limit{Unlimited: true}}
	}

	allowed, okAllowed := stringList(sec["allowed_actions"])
	denied, okDenied := stringList(sec["denied_actions"])

	return Access{
		Allowed:    allowed,
		Denied:     denied,
		WellFormed: okAllowed && okDenied,
		DailyLimit: parseLimit(sec["daily_limit"]),
	}
}

func stringList(raw interface{}) ([]string, bool) {
	switch typed := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				continue
			}
			out = append(out, s)
		}
		return out, true
	case []string:
		return append([]string(nil), typed...), true
	default:
		return nil, false
	}
}

func parseLimit(raw interface{}) Limit {
	var n int64
	switch typed := raw.(type) {
	case json.Number:
		v, err := typed.Int64()
		if err != nil {
			return Limit{Unlimited: true}
		}
		n = v
	case int:
		n = int64(typed)
	case int64:
		n = typed
	default:
		return Limit{Unlimited: true}
	}
	if n < 0 {
		return Limit{Unlimited: true}
	}
	return Limit{Value: n}
}

// Grant is a time-boxed permission layered on top of access.
type Grant struct {
	Actions []string
	// ValidUntil is zero for an open-ended grant.
	ValidUntil time.Time
	// Unparseable marks a valid_until value that could not be read.
	Unparseable bool
}

// ActiveAt reports whether the grant applies at now.
func (g Grant) ActiveAt(now time.Time) bool {
	if g.Unparseable {
		return false
	}
	if g.ValidUntil.IsZero() {
		return true
	}
	return !now.After(g.ValidUntil)
}

// Temporal returns the temporal grant when the section is present.
func (p Profile) Temporal() (Grant, bool) {
	sec, ok := p.Section(SectionTemporal)
	if !ok {
		return Grant{}, false
	}
	actions, _ := stringList(sec["temporary_actions"])
	g := Grant{Actions: actions}

	switch raw := sec["valid_until"].(type) {
	case nil:
	case string:
		if strings.TrimSpace(raw) == "" {
			break
		}
		ts, err := ParseTimestamp(raw)
		if err != nil {
			g.Unparseable = true
			break
		}
		g.ValidUntil = ts
	default:
		g.Unparseable = true
	}
	return g, true
}

// ParseTimestamp accepts RFC 3339 with or without a zone; a zoneless value is UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// Preferences returns the preferences section, or nil.
func (p Profile) Preferences() map[string]interface{} {
	sec, _ := p.Section(SectionPreferences)
	return sec
}

// Preference returns a string preference value.
func (p Profile) Preference(key string) string {
	prefs := p.Preferences()
	if prefs == nil {
		return ""
	}
	s, _ := prefs[key].(string)
	return s
}

// SetPreferences merges values into the preferences section, replacing a
// non-object section.
func (p Profile) SetPreferences(values map[string]interface{}) {
	prefs, ok := p.Section(SectionPreferences)
	if !ok {
		prefs = make(map[string]interface{}, len(values))
		p[SectionPreferences] = prefs
	}
	for k, v := range values {
		prefs[k] = v
	}
}
