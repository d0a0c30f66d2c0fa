package brain

import (
	"time"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/contract"
	"github.com/dotsetgreg/mirabase/pkg/facts"
	"github.com/dotsetgreg/mirabase/pkg/memory"
)

// Stage names the stage that ended the turn.
type Stage string

const (
	PipelineCommand   Stage = "COMMAND"
	PipelineClarify   Stage = "CLARIFY"
	PipelineEpistemic Stage = "EPISTEMIC"
	PipelineSecurity  Stage = "SECURITY"
	PipelineSocial    Stage = "SOCIAL"
	PipelineGuard     Stage = "GUARD"
	PipelineFact      Stage = "FACT"
	PipelineFallback  Stage = "FALLBACK"
)

// Decision is the semantic record of one turn. The pipeline-specific
// parts are pointers that are set only for their pipeline: Command for
// COMMAND, Facts for FACT.
type Decision struct {
	Pipeline    Stage                  `json:"pipeline"`
	Intent      string                 `json:"intent,omitempty"`
	Candidates  []string               `json:"candidates,omitempty"`
	Signals     []string               `json:"signals,omitempty"`
	Actions     []string               `json:"actions"`
	Expression  string                 `json:"expression,omitempty"`
	Confidence  float64                `json:"confidence"`
	Emotion     string                 `json:"emotion,omitempty"`
	Epistemic   Epistemic              `json:"epistemic"`
	Security    string                 `json:"security,omitempty"`
	Source      contract.Source        `json:"source"`
	Reason      string                 `json:"reason,omitempty"`
	Constraints []contract.Constraint  `json:"constraints"`
	Payload     []contract.PayloadItem `json:"payload"`
	Homeostasis []string               `json:"homeostasis,omitempty"`
	MetaFlags   []string               `json:"meta_flags,omitempty"`
	GuardFlags  []string               `json:"guard_flags,omitempty"`
	Chrono      Chrono                 `json:"chrono"`

	Command *action.Outcome `json:"command,omitempty"`
	Facts   *facts.Result   `json:"facts,omitempty"`
}

// Contract converts the decision into the renderer boundary record. It
// fails when the decision breaks a contract invariant.
func (d Decision) Contract() (contract.Contract, error) {
	return contract.New(contract.Contract{
		Pipeline:       string(d.Pipeline),
		Intent:         d.Intent,
		Confidence:     confidenceLevel(d.Confidence),
		Source:         d.Source,
		Reason:         d.Reason,
		Actions:        d.Actions,
		Constraints:    d.Constraints,
		Payload:        d.Payload,
		Homeostasis:    d.Homeostasis,
		MetaFlags:      d.MetaFlags,
		EpistemicState: d.Epistemic.State,
	})
}

// Summary is the reduced form kept in short-term memory.
func (d Decision) Summary(at time.Time) memory.Entry {
	constraints := make([]string, 0, len(d.Constraints))
	for _, c := range d.Constraints {
		constraints = append(constraints, string(c))
	}
	return memory.Entry{
		Pipeline:       string(d.Pipeline),
		Intent:         d.Intent,
		Actions:        append([]string(nil), d.Actions...),
		Source:         string(d.Source),
		EpistemicState: d.Epistemic.State,
		Constraints:    constraints,
		Emotion:        d.Emotion,
		Confidence:     d.Confidence,
		At:             at,
	}
}

// Has reports whether constraint k is set on the decision.
func (d Decision) Has(k contract.Constraint) bool {
	for _, c := range d.Constraints {
		if c == k {
			return true
		}
	}
	return false
}

func confidenceLevel(v float64) contract.Confidence {
	switch {
	case v >= 0.9:
		return contract.ConfidenceHigh
	case v >= 0.5:
		return contract.ConfidenceMed
	}
	return contract.ConfidenceLow
}
