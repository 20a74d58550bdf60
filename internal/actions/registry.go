package actions

import (
	"context"
	"fmt"
	"sort"

	"github.com/dovetail-ai/attache/internal/decision"
)

// DefaultAction is the safe fallback executed when a decision cannot be
// parsed or routed.
const DefaultAction = "wait"

// Result summarizes one executed action.
type Result struct {
	Action  string
	Summary string
}

// Handler executes one action kind.
type Handler interface {
	Name() string
	Execute(ctx context.Context, d *decision.Decision) (Result, error)
}

// ErrUnknownAction rejects dispatch for actions outside the registry. The
// action set is closed: registration happens at startup, never at runtime.
type ErrUnknownAction struct {
	Action string
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("actions: unknown action %q", e.Action)
}

// Registry maps action names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from the given handlers. Duplicate names are
// a programming error and panic at startup.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, exists := r.handlers[h.Name()]; exists {
			panic(fmt.Sprintf("actions: duplicate handler %q", h.Name()))
		}
		r.handlers[h.Name()] = h
	}
	return r
}

// Actions returns the sorted known action names, used to seed the decision
// parser's accepted set.
func (r *Registry) Actions() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes the handler registered for the decision's action.
func (r *Registry) Dispatch(ctx context.Context, d *decision.Decision) (Result, error) {
	handler, ok := r.handlers[d.Action]
	if !ok {
		return Result{}, &ErrUnknownAction{Action: d.Action}
	}
	return handler.Execute(ctx, d)
}
