// Package action runs structured, state-mutating operations: a parser for
// slash commands, a gate that authorizes every call against the user
// profile and the execution log, a registry of handlers and the
// dispatcher that ties them together.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Error kinds carried in payload["error_type"].
const (
	ErrorTypeBlocked = "blocked"
	ErrorTypeFailed  = "failed"
	ErrorTypeParser  = "parser_error"
)

// Outcome is the uniform result of every handler, of the gate on block and
// of the dispatcher.
type Outcome struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload"`
	Retryable bool                   `json:"retryable"`

	// raw is set on outcomes replayed from the execution log.
	raw json.RawMessage
}

type plainOutcome Outcome

// MarshalJSON emits a replayed outcome exactly as it was stored.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if len(o.raw) > 0 {
		return o.raw, nil
	}
	p := plainOutcome(o)
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	return json.Marshal(p)
}

// decodeOutcome reads a stored result, keeping the original bytes.
func decodeOutcome(raw json.RawMessage) (Outcome, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p plainOutcome
	if err := dec.Decode(&p); err != nil {
		return Outcome{}, fmt.Errorf("decode stored outcome: %w", err)
	}
	o := Outcome(p)
	o.raw = append(json.RawMessage(nil), raw...)
	return o, nil
}

// Replayed reports whether the outcome came from the execution log.
func (o Outcome) Replayed() bool { return len(o.raw) > 0 }

// ErrorType returns payload["error_type"] or "".
func (o Outcome) ErrorType() string {
	s, _ := o.Payload["error_type"].(string)
	return s
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

func Success(message string, payload map[string]interface{}) Outcome {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Outcome{Status: StatusSuccess, Message: message, Payload: payload}
}

// Failed is a handler-level error. Extra payload keys (field, expected)
// are merged next to error_type.
func Failed(message string, extra map[string]interface{}) Outcome {
	payload := map[string]interface{}{"error_type": ErrorTypeFailed}
	for k, v := range extra {
		payload[k] = v
	}
	return Outcome{Status: StatusError, Message: message, Payload: payload}
}

// Blocked is the single non-revealing shape for every refusal.
func Blocked(message string) Outcome {
	return Outcome{
		Status:  StatusError,
		Message: message,
		Payload: map[string]interface{}{"error_type": ErrorTypeBlocked},
	}
}

const (
	messageBlocked       = "Action blocked by authorization"
	messageUnknownAction = "Unknown action type"
)
