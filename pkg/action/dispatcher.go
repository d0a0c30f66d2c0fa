package action

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dotsetgreg/mirabase/pkg/execlog"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

// Dispatcher enriches, authorizes, executes and journals actions.
//
// The replay check and the journal append for one request are linearized
// under the user's lock and the request id's lock, so a retry racing the
// original call cannot run the handler a second time.
type Dispatcher struct {
	gate     *Gate
	registry *Registry
	journal  execlog.Journal
	users    *utils.KeyedMutex
	requests *utils.KeyedMutex
}

func NewDispatcher(gate *Gate, registry *Registry, journal execlog.Journal) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		registry: registry,
		journal:  journal,
		users:    utils.NewKeyedMutex(),
		requests: utils.NewKeyedMutex(),
	}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs a for userID and returns the outcome. It never returns an
// error: every failure is an Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action, userID string, rc RequestContext) Outcome {
	unlockUser := d.users.Lock(userID)
	defer unlockUser()
	if rc.RequestID != "" {
		unlockReq := d.requests.Lock(rc.RequestID)
		defer unlockReq()
	}
	if rc.TraceID == "" {
		rc.TraceID = uuid.NewString()
	}

	req := enrich(a, userID, rc)

	verdict := d.gate.Authorize(ctx, req)
	if !verdict.Allowed {
		return verdict.Outcome
	}

	if _, ok := d.registry.Get(req.ActionType); !ok {
		return Blocked(messageUnknownAction)
	}

	out := d.registry.Execute(ctx, req)

	if rc.RequestID != "" {
		d.record(ctx, req, out)
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, req Request, out Outcome) {
	data, err := json.Marshal(out)
	if err == nil {
		err = d.journal.Append(ctx, execlog.Entry{
			UserID:     req.UserID,
			RequestID:  req.Context.RequestID,
			TraceID:    req.Context.TraceID,
			ActionType: req.ActionType,
			Result:     data,
		})
	}
	if err != nil {
		logger.ErrorCF("action", "Execution log append failed", map[string]interface{}{
			"user_id":     req.UserID,
			"request_id":  req.Context.RequestID,
			"trace_id":    req.Context.TraceID,
			"action_type": req.ActionType,
			"error":       err.Error(),
		})
	}
}
