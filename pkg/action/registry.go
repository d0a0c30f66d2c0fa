package action

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

// Handler runs one action type. Handlers assume the gate already approved
// the request and never authorize on their own.
type Handler interface {
	Name() string
	Description() string
	Handle(ctx context.Context, req Request) Outcome
}

type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Execute runs the named handler and logs start and finish with sanitized
// params. An unregistered name yields the blocked unknown-action outcome.
func (r *Registry) Execute(ctx context.Context, req Request) Outcome {
	logger.InfoCF("action", "Action execution started",
		map[string]interface{}{
			"action_type": req.ActionType,
			"user_id":     req.UserID,
			"params":      sanitizeParams(req.Params),
		})

	h, ok := r.Get(req.ActionType)
	if !ok {
		logger.WarnCF("action", "Action handler not found",
			map[string]interface{}{
				"action_type": req.ActionType,
			})
		return Blocked(messageUnknownAction)
	}

	start := time.Now()
	out := h.Handle(ctx, req)
	duration := time.Since(start)

	if out.Status == StatusError {
		logger.WarnCF("action", "Action execution failed",
			map[string]interface{}{
				"action_type": req.ActionType,
				"duration_ms": duration.Milliseconds(),
				"message":     out.Message,
				"error_type":  out.ErrorType(),
			})
	} else {
		logger.InfoCF("action", "Action execution completed",
			map[string]interface{}{
				"action_type": req.ActionType,
				"duration_ms": duration.Milliseconds(),
				"status":      string(out.Status),
			})
	}
	return out
}

// List returns the registered action types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Summaries returns "name - description" lines in sorted order.
func (r *Registry) Summaries() []string {
	names := r.List()
	out := make([]string, 0, len(names))
	for _, name := range names {
		h, _ := r.Get(name)
		out = append(out, "- "+name+" - "+h.Description())
	}
	return out
}

const maxLoggedParamLen = 256

var sensitiveParamKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"client_secret",
	"cookie",
	"password",
	"private",
	"secret",
	"session",
	"token",
}

func sanitizeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(params))
	for key, value := range params {
		sanitized[key] = sanitizeParamValue(key, value, 0)
	}
	return sanitized
}

func sanitizeParamValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveParamKey(key) {
		return "<redacted>"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeParamValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeParamValue(key, item, depth+1))
		}
		return out
	case string:
		return utils.Truncate(typed, maxLoggedParamLen)
	default:
		return value
	}
}

func isSensitiveParamKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveParamKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}
