package action

// Action is a parsed operation before it is bound to a caller.
type Action struct {
	ActionType string                 `json:"action_type"`
	Params     map[string]interface{} `json:"params"`
}

// RequestContext is caller-supplied metadata. A non-empty RequestID makes
// the call idempotent.
type RequestContext struct {
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Request is the canonical internal shape handed to the gate and handlers.
type Request struct {
	ActionType string                 `json:"action_type"`
	Params     map[string]interface{} `json:"params"`
	UserID     string                 `json:"user_id"`
	Context    RequestContext         `json:"context"`
}

func enrich(a Action, userID string, rc RequestContext) Request {
	params := a.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	return Request{
		ActionType: a.ActionType,
		Params:     params,
		UserID:     userID,
		Context:    rc,
	}
}
