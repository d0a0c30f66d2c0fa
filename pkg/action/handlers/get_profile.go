package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

// exposedSections is the allowlist of what get_profile may return. A nil
// key set means the section is returned as is (user_id is a scalar).
var exposedSections = map[string]map[string]bool{
	profile.SectionUserID: nil,
	profile.SectionIdentity: {
		"role": true, "status": true, "name": true, "display_name": true,
	},
	profile.SectionAccess: {
		"allowed_actions": true, "denied_actions": true, "restricted_to_self": true,
		"daily_limit": true, "access_level": true, "max_credits": true,
	},
	profile.SectionPreferences: {
		"verbosity": true, "response_language": true, "communication_style": true,
	},
	profile.SectionTemporal: {
		"valid_until": true, "temporary_actions": true,
	},
	profile.SectionMeta: {
		"created_at": true, "profile_version": true,
	},
}

type GetProfile struct {
	store profile.Reader
}

func NewGetProfile(store profile.Reader) *GetProfile {
	return &GetProfile{store: store}
}

func (h *GetProfile) Name() string        { return "get_profile" }
func (h *GetProfile) Description() string { return "Return the caller's profile, limited to documented fields." }

func (h *GetProfile) Handle(ctx context.Context, req action.Request) action.Outcome {
	p, err := h.store.Load(ctx, req.UserID)
	if errors.Is(err, profile.ErrNotFound) {
		return action.Failed("Profile not found", nil)
	}
	if err != nil {
		return action.Failed("Profile could not be loaded", nil)
	}
	return action.Success("Profile loaded", map[string]interface{}{"profile": Sanitize(p)})
}

// Sanitize copies only allowlisted sections and keys. Anything else,
// underscore-prefixed names included, is dropped.
func Sanitize(p profile.Profile) map[string]interface{} {
	out := make(map[string]interface{}, len(exposedSections))
	for section, value := range p {
		if strings.HasPrefix(section, "_") {
			continue
		}
		keys, ok := exposedSections[section]
		if !ok {
			continue
		}
		m, isMap := value.(map[string]interface{})
		if keys == nil || !isMap {
			if isMap {
				// A scalar-only section stored as an object exposes nothing.
				continue
			}
			out[section] = value
			continue
		}
		filtered := make(map[string]interface{}, len(m))
		for k, v := range m {
			if keys[k] {
				filtered[k] = v
			}
		}
		out[section] = filtered
	}
	return out
}
