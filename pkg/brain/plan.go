package brain

import (
	"github.com/dotsetgreg/mirabase/pkg/contract"
	"github.com/dotsetgreg/mirabase/pkg/facts"
)

// Planned action tags besides the fact actions.
const (
	ActionGreetSimple   = "GREET_SIMPLE"
	ActionModelFallback = "MODEL_FALLBACK"
	ActionSocial        = "SOCIAL"
)

// Secondary intents produced by attention.
const (
	QueryTime  = "TIME_QUERY"
	QueryDate  = "DATE_QUERY"
	QueryDay   = "DAY_QUERY"
	QueryArith = "ARITH_QUERY"
	QueryGreet = "GREETING"
)

// Plan maps the resolved intent and attention markers to ordered action
// tags. Nothing planned for an unknown intent means the model fallback.
func Plan(intent string, a Attention) []string {
	has := func(s string) bool {
		for _, x := range a.Secondary {
			if x == s {
				return true
			}
		}
		return false
	}

	var actions []string
	if has(QueryTime) {
		actions = append(actions, facts.TimeNow)
	}
	if has(QueryDate) {
		actions = append(actions, facts.DateToday)
	}
	if has(QueryDay) {
		actions = append(actions, facts.DayToday)
	}
	if has(QueryArith) || a.Expression != "" {
		actions = append(actions, facts.Arithmetic)
	}
	if has(QueryGreet) {
		actions = append(actions, ActionGreetSimple)
	}
	if len(actions) == 0 && (intent == "" || intent == IntentUnknown) {
		actions = append(actions, ActionModelFallback)
	}
	return actions
}

// Guard flags.
const (
	GuardLowSignal         = "LOW_SIGNAL"
	GuardRiskHallucination = "RISK_HALLUCINATION"
	GuardAvoidModel        = "AVOID_MODEL"
	GuardStallRisk         = "STALL_RISK"
)

// GuardInput is what the prediction guard looks at.
type GuardInput struct {
	Confidence     float64
	LowSignal      float64
	EpistemicState string
	Actions        []string
	MetaFlags      []string
}

// ResolveGuard returns the hard guard flags and the reason to report,
// the first present of AVOID_MODEL, LOW_SIGNAL, STALL_RISK and
// RISK_HALLUCINATION.
func ResolveGuard(in GuardInput) ([]string, string) {
	fallback := contains(in.Actions, ActionModelFallback)

	var flags []string
	if in.Confidence < in.LowSignal {
		flags = append(flags, GuardLowSignal)
	}
	if in.EpistemicState == IntentUnknown && fallback {
		flags = append(flags, GuardRiskHallucination)
	}
	if contains(flags, GuardLowSignal) && fallback {
		flags = append(flags, GuardAvoidModel)
	}
	if contains(in.MetaFlags, MetaStall) || contains(in.MetaFlags, MetaRepeatFailure) {
		flags = append(flags, GuardStallRisk)
	}

	for _, reason := range []string{GuardAvoidModel, GuardLowSignal, GuardStallRisk, GuardRiskHallucination} {
		if contains(flags, reason) {
			return flags, reason
		}
	}
	return flags, ""
}

// Route picks where the reply comes from and adds the rails implied by
// homeostasis.
func Route(actions, homeostasis []string) (contract.Source, []contract.Constraint) {
	var constraints []contract.Constraint
	if contains(homeostasis, EnergyLow) || contains(homeostasis, EnergyCritical) || contains(homeostasis, FatigueRepeat) {
		constraints = append(constraints, contract.ShortAnswer)
	}
	for _, a := range actions {
		if facts.IsFactAction(a) {
			return contract.SourceDeterministic, constraints
		}
	}
	if contains(actions, ActionModelFallback) {
		return contract.SourceGenerative, constraints
	}
	return contract.SourceStatic, constraints
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
