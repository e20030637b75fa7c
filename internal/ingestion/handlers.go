package ingestion

import (
	"context"
	"strconv"
	"strings"
)

// Handler executes the data phase of one ingestion run: stream, parse,
// validate, batch, flush. The orchestrator owns the run lifecycle around it.
type Handler interface {
	// Method returns the upstream operation this handler serves.
	Method() string

	// Execute pulls records until the stream ends, accumulating counters and
	// rejects on the run context. Partial progress is kept on failure.
	Execute(ctx context.Context, rc *RunContext) error
}

// Registry maps method names to handlers, preserving registration order for
// the methods listing.
type Registry struct {
	handlers map[string]Handler
	order    []string
}

// NewRegistry builds a registry from the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	registry := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		order:    make([]string, 0, len(handlers)),
	}

	for _, h := range handlers {
		registry.handlers[h.Method()] = h
		registry.order = append(registry.order, h.Method())
	}

	return registry
}

// Lookup returns the handler for method.
func (r *Registry) Lookup(method string) (Handler, bool) {
	h, ok := r.handlers[method]

	return h, ok
}

// Methods returns the registered method names in registration order.
func (r *Registry) Methods() []string {
	methods := make([]string, len(r.order))
	copy(methods, r.order)

	return methods
}

// missingFields joins the names of required fields that are absent.
// Returns "" when the record is complete.
func missingFields(checks []fieldCheck) string {
	var missing []string

	for _, check := range checks {
		if !check.present {
			missing = append(missing, check.name)
		}
	}

	if len(missing) == 0 {
		return ""
	}

	return strings.Join(missing, " ")
}

type fieldCheck struct {
	name    string
	present bool
}

// Raw-dump helpers for reject rows. Absent values render empty so the dump
// stays grep-able by field name.

func rawInt(v *int64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatInt(*v, 10)
}

func rawString(v *string) string {
	if v == nil {
		return ""
	}

	return *v
}
