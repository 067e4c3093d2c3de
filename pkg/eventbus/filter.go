package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Filter is a pure, cheap predicate over events. Routing assumes no side
// effects.
type Filter interface {
	Matches(e *Event) bool
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(e *Event) bool

func (f FilterFunc) Matches(e *Event) bool { return f(e) }

// CategoryFilter accepts events whose category is in the set.
func CategoryFilter(categories ...Category) Filter {
	set := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return FilterFunc(func(e *Event) bool {
		_, ok := set[e.Category]
		return ok
	})
}

// SourceFilter accepts events from the given source.
func SourceFilter(source string) Filter {
	return FilterFunc(func(e *Event) bool { return e.Source == source })
}

// PriorityFilter accepts events at or above min.
func PriorityFilter(min Priority) Filter {
	minRank := min.Rank()
	return FilterFunc(func(e *Event) bool { return e.Priority.Rank() >= minRank })
}

// And accepts only events that all inner filters accept. An empty list
// accepts everything.
func And(filters ...Filter) Filter {
	return FilterFunc(func(e *Event) bool {
		for _, f := range filters {
			if !f.Matches(e) {
				return false
			}
		}
		return true
	})
}

// CELFilter evaluates a CEL expression against the event, exposed as the
// variable `event` (a map of the wire fields). Used for config-driven
// subscriptions, e.g.
//
//	event.category == 'REGULATORY_CHANGE_DETECTED' && event.priority in ['HIGH', 'CRITICAL']
//
// Evaluation errors reject the event.
type CELFilter struct {
	program cel.Program

	mu      sync.Mutex
	errored int64
}

// NewCELFilter compiles the expression. The expression must produce a bool.
func NewCELFilter(expr string) (*CELFilter, error) {
	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program filter %q: %w", expr, err)
	}
	return &CELFilter{program: prg}, nil
}

// Matches evaluates the expression over the event.
func (f *CELFilter) Matches(e *Event) bool {
	var payload any
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &payload)
	}
	input := map[string]any{
		"event": map[string]any{
			"event_id":       e.EventID,
			"category":       string(e.Category),
			"source":         e.Source,
			"event_type":     e.EventType,
			"priority":       string(e.Priority),
			"state":          string(e.State),
			"retry_count":    e.RetryCount,
			"correlation_id": e.CorrelationID,
			"trace_id":       e.TraceID,
			"headers":        e.Headers,
			"payload":        payload,
		},
	}
	out, _, err := f.program.Eval(input)
	if err != nil {
		f.mu.Lock()
		f.errored++
		f.mu.Unlock()
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

// ErrorCount reports how many evaluations failed.
func (f *CELFilter) ErrorCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errored
}
