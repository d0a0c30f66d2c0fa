package brain

import (
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/memory"
)

// Emotion signals. They describe the conversation, never the user's text.
const (
	EmotionCalm       = "CALM"
	EmotionConfused   = "CONFUSED"
	EmotionFrustrated = "FRUSTRATED"
	EmotionEngaged    = "ENGAGED"
	EmotionImpaired   = "IMPAIRED"
)

// ResolveEmotion classifies the last cfg.Window STM entries. Rules are
// checked in order: epistemic block, low confidence streak, repeated
// intent, then varied intents on a steady pipeline.
func ResolveEmotion(history []memory.Entry, cfg config.EmotionConfig) string {
	win := tail(history, cfg.Window)
	if len(win) == 0 {
		return EmotionCalm
	}

	lowConf := 0
	for _, e := range win {
		if e.Pipeline == string(PipelineEpistemic) {
			return EmotionImpaired
		}
		if e.Confidence < cfg.LowConfidence {
			lowConf++
		}
	}
	if cfg.FrustratedTurns > 0 && lowConf >= cfg.FrustratedTurns {
		return EmotionFrustrated
	}

	if n := cfg.ConfusedRepeats; n > 0 && len(win) >= n {
		last := win[len(win)-n:]
		if last[0].Intent != "" && allSame(last, func(e memory.Entry) string { return e.Intent }) {
			return EmotionConfused
		}
	}
	if n := cfg.EngagedDistinct; n > 0 && len(win) >= n {
		last := win[len(win)-n:]
		if distinctIntents(last) && allSame(last, func(e memory.Entry) string { return e.Pipeline }) {
			return EmotionEngaged
		}
	}
	return EmotionCalm
}

// Homeostasis flags.
const (
	EnergyOK       = "ENERGY_OK"
	EnergyLow      = "ENERGY_LOW"
	EnergyCritical = "ENERGY_CRITICAL"
	FatigueRepeat  = "FATIGUE_REPEAT"
	AvoidRepeat    = "AVOID_REPEAT"
)

// ResolveHomeostasis derives advisory energy flags from the turn count and
// repetition in recent intents.
func ResolveHomeostasis(turnCount int, history []memory.Entry, cfg config.HomeostasisConfig) []string {
	var flags []string
	switch {
	case turnCount > cfg.EnergyCriticalAfter:
		flags = append(flags, EnergyCritical)
	case turnCount > cfg.EnergyLowAfter:
		flags = append(flags, EnergyLow)
	default:
		flags = append(flags, EnergyOK)
	}

	var intents []string
	for _, e := range history {
		if e.Intent != "" {
			intents = append(intents, e.Intent)
		}
	}
	n := len(intents)
	if n >= 2 && intents[n-1] == intents[n-2] {
		flags = append(flags, FatigueRepeat)
	}
	if n >= 3 && intents[n-1] == intents[n-2] && intents[n-2] == intents[n-3] {
		flags = append(flags, AvoidRepeat)
	}
	return flags
}

// Meta flags.
const (
	MetaRepeatFailure = "REPEAT_FAILURE"
	MetaLowConfidence = "LOW_CONFIDENCE"
	MetaStall         = "STALL"
)

// ResolveMeta compares the two newest summaries for stagnation.
func ResolveMeta(history []memory.Entry) []string {
	if len(history) < 2 {
		return nil
	}
	r1, r2 := history[len(history)-1], history[len(history)-2]

	var flags []string
	epistemic := string(PipelineEpistemic)
	if r1.Pipeline == epistemic && r2.Pipeline == epistemic {
		flags = append(flags, MetaRepeatFailure)
	}
	if onlyFallback(r1.Actions) && onlyFallback(r2.Actions) {
		flags = append(flags, MetaLowConfidence)
	}
	if r1.Pipeline == r2.Pipeline && equalStrings(r1.Actions, r2.Actions) {
		flags = append(flags, MetaStall)
	}
	return flags
}

func onlyFallback(actions []string) bool {
	return len(actions) == 1 && actions[0] == ActionModelFallback
}

func tail(history []memory.Entry, n int) []memory.Entry {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}

func allSame(entries []memory.Entry, key func(memory.Entry) string) bool {
	for _, e := range entries[1:] {
		if key(e) != key(entries[0]) {
			return false
		}
	}
	return true
}

func distinctIntents(entries []memory.Entry) bool {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Intent == "" || seen[e.Intent] {
			return false
		}
		seen[e.Intent] = true
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
