// Package handlers holds the built-in action handlers.
package handlers

import (
	"context"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

// RegisterBuiltins adds noop, set_preference and get_profile to reg.
func RegisterBuiltins(reg *action.Registry, store profile.Store) {
	reg.Register(Noop{})
	reg.Register(NewSetPreference(store))
	reg.Register(NewGetProfile(store))
}

// Noop succeeds without side effects; useful to probe authorization.
type Noop struct{}

func (Noop) Name() string        { return "noop" }
func (Noop) Description() string { return "Do nothing. Useful to test authorization and quotas." }

func (Noop) Handle(_ context.Context, _ action.Request) action.Outcome {
	return action.Success("No-op action executed", nil)
}
