// Package contract is the boundary between the brain and the renderer: a
// validated record of what should be said, never how.
package contract

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Source string

const (
	SourceStatic        Source = "STATIC"
	SourceDeterministic Source = "DETERMINISTIC"
	SourceMemory        Source = "MEMORY"
	SourceGenerative    Source = "GENERATIVE"
)

type Confidence string

const (
	ConfidenceLow  Confidence = "LOW"
	ConfidenceMed  Confidence = "MED"
	ConfidenceHigh Confidence = "HIGH"
)

type Constraint string

const (
	NoGeneration  Constraint = "no_generation"
	NoMemoryWrite Constraint = "no_memory_write"
	ShortAnswer   Constraint = "short_answer"
	SilentExit    Constraint = "silent_exit"
)

type PayloadType string

const (
	PayloadFacts   PayloadType = "FACTS"
	PayloadSocial  PayloadType = "SOCIAL"
	PayloadError   PayloadType = "ERROR"
	PayloadUnknown PayloadType = "UNKNOWN"
)

// Fact is a computed value. Expression is set for ARITHMETIC.
type Fact struct {
	Kind       string `json:"kind"`
	Value      string `json:"value"`
	Expression string `json:"expression,omitempty"`
}

// Social carries a phrase key and the tone it was resolved for. Text, when
// set, wins over the phrase table.
type Social struct {
	Key  string `json:"key"`
	Tone string `json:"tone,omitempty"`
	Text string `json:"text,omitempty"`
}

type Error struct {
	Reason string `json:"reason"`
}

type Unknown struct {
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// PayloadItem is a tagged union: exactly the field matching Type is set.
type PayloadItem struct {
	Type    PayloadType `json:"type"`
	Fact    *Fact       `json:"fact,omitempty"`
	Social  *Social     `json:"social,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Unknown *Unknown    `json:"unknown,omitempty"`
}

func FactItem(f Fact) PayloadItem { return PayloadItem{Type: PayloadFacts, Fact: &f} }

func SocialItem(s Social) PayloadItem { return PayloadItem{Type: PayloadSocial, Social: &s} }

func ErrorItem(reason string) PayloadItem {
	return PayloadItem{Type: PayloadError, Error: &Error{Reason: reason}}
}

func UnknownItem(reason string, candidates ...string) PayloadItem {
	return PayloadItem{Type: PayloadUnknown, Unknown: &Unknown{Reason: reason, Candidates: candidates}}
}

func (p PayloadItem) validate() error {
	var ok bool
	switch p.Type {
	case PayloadFacts:
		ok = p.Fact != nil
	case PayloadSocial:
		ok = p.Social != nil
	case PayloadError:
		ok = p.Error != nil
	case PayloadUnknown:
		ok = p.Unknown != nil
	default:
		return fmt.Errorf("unknown payload type %q", p.Type)
	}
	if !ok {
		return fmt.Errorf("payload %s is missing its data", p.Type)
	}
	return nil
}

// Contract is the brain's canonical output for one turn.
type Contract struct {
	DecisionID     string        `json:"decision_id"`
	Pipeline       string        `json:"pipeline"`
	Intent         string        `json:"intent,omitempty"`
	Confidence     Confidence    `json:"confidence"`
	Source         Source        `json:"source"`
	Reason         string        `json:"reason,omitempty"`
	Actions        []string      `json:"actions"`
	Constraints    []Constraint  `json:"constraints"`
	Payload        []PayloadItem `json:"payload"`
	Homeostasis    []string      `json:"homeostasis,omitempty"`
	MetaFlags      []string      `json:"meta_flags,omitempty"`
	EpistemicState string        `json:"epistemic_state,omitempty"`
}

var ErrSilentExitPayload = errors.New("silent_exit requires an empty or error-only payload")

// New validates c and fills defaults: a fresh decision id, MED confidence,
// STATIC source and the no_generation constraint.
func New(c Contract) (Contract, error) {
	if c.DecisionID == "" {
		c.DecisionID = uuid.NewString()
	}
	if c.Confidence == "" {
		c.Confidence = ConfidenceMed
	}
	if c.Source == "" {
		c.Source = SourceStatic
	}
	if c.Actions == nil {
		c.Actions = []string{}
	}
	if c.Payload == nil {
		c.Payload = []PayloadItem{}
	}
	c.Constraints = withConstraint(c.Constraints, NoGeneration)

	for _, p := range c.Payload {
		if err := p.validate(); err != nil {
			return Contract{}, err
		}
	}
	if c.Has(SilentExit) {
		for _, p := range c.Payload {
			if p.Type != PayloadError {
				return Contract{}, ErrSilentExitPayload
			}
		}
	}
	return c, nil
}

// Has reports whether constraint k is set.
func (c Contract) Has(k Constraint) bool {
	for _, x := range c.Constraints {
		if x == k {
			return true
		}
	}
	return false
}

func withConstraint(list []Constraint, k Constraint) []Constraint {
	for _, x := range list {
		if x == k {
			return list
		}
	}
	return append([]Constraint{k}, list...)
}
