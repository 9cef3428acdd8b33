package hook

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

// entry is one registered hook.
type entry struct {
	id       string
	event    Event
	pattern  string
	timeout  time.Duration
	callback Callback
}

// Registry assigns callback ids to configured hooks and resolves them by id
// or by event and target. It is read-only after construction.
type Registry struct {
	entries []*entry
	byID    map[string]*entry
	byEvent map[Event][]*entry
	config  map[string]any
}

// NewRegistry registers hooks. Events are walked in name order and matchers
// in slice order, so ids are stable for a given configuration.
func NewRegistry(hooks map[Event][]*Matcher) *Registry {
	r := &Registry{
		byID:    make(map[string]*entry),
		byEvent: make(map[Event][]*entry),
		config:  make(map[string]any),
	}

	events := slices.Sorted(maps.Keys(hooks))

	for _, event := range events {
		matchers := make([]map[string]any, 0, len(hooks[event]))

		for _, m := range hooks[event] {
			if m == nil {
				continue
			}

			timeout := m.Timeout
			if timeout <= 0 {
				timeout = DefaultTimeout
			}

			ids := make([]string, 0, len(m.Hooks))

			for _, cb := range m.Hooks {
				e := &entry{
					id:       fmt.Sprintf("hook_%d", len(r.entries)),
					event:    event,
					pattern:  m.Pattern,
					timeout:  timeout,
					callback: cb,
				}

				r.entries = append(r.entries, e)
				r.byID[e.id] = e
				r.byEvent[event] = append(r.byEvent[event], e)
				ids = append(ids, e.id)
			}

			matcher := map[string]any{
				"matcher":         nil,
				"hookCallbackIds": ids,
				"timeout":         timeout.Seconds(),
			}

			if m.Pattern != "" {
				matcher["matcher"] = m.Pattern
			}

			matchers = append(matchers, matcher)
		}

		r.config[string(event)] = matchers
	}

	return r
}

// Len reports the number of registered hooks.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Config is the "hooks" block of the initialize request.
func (r *Registry) Config() map[string]any {
	return r.config
}

// Invocation is a resolved set of hooks to run for one request.
type Invocation []*entry

// Lookup resolves a single hook by callback id.
func (r *Registry) Lookup(id string) (Invocation, bool) {
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}

	return Invocation{e}, true
}

// Resolve returns the hooks for event whose pattern matches target, in
// registration order.
func (r *Registry) Resolve(event Event, target string) Invocation {
	var inv Invocation

	for _, e := range r.byEvent[event] {
		if Matches(e.pattern, target) {
			inv = append(inv, e)
		}
	}

	return inv
}

// Matches reports whether target is selected by pattern.
func Matches(pattern, target string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	for name := range strings.SplitSeq(pattern, "|") {
		if strings.TrimSpace(name) == target {
			return true
		}
	}

	return false
}

// Run invokes each hook in order, each under its own timeout, and merges the
// results. A hook that fails, panics or times out contributes the neutral
// result and the rest still run. continue:false and decision:"block" are
// sticky across the merge.
func (inv Invocation) Run(ctx context.Context, log *slog.Logger, input *Input, requestID string) map[string]any {
	merged := Neutral()
	stopped := false
	blocked := false

	for _, e := range inv {
		if ctx.Err() != nil {
			break
		}

		out := e.run(ctx, log, input, &Context{CallbackID: e.id, RequestID: requestID})

		maps.Copy(merged, out)

		if c, ok := out["continue"].(bool); ok && !c {
			stopped = true
		}

		if out["decision"] == "block" {
			blocked = true
		}
	}

	if stopped {
		merged["continue"] = false
	}

	if blocked {
		merged["decision"] = "block"
	}

	return merged
}

func (e *entry) run(ctx context.Context, log *slog.Logger, input *Input, hookCtx *Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		out *Output
		err error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("hook panicked: %v", p)}
			}
		}()

		out, err := e.callback(ctx, input, hookCtx)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Warn("hook failed", "callback_id", e.id, "event", e.event, "error", r.err)

			return Neutral()
		}

		return r.out.ToMap()
	case <-ctx.Done():
		log.Warn("hook timed out", "callback_id", e.id, "event", e.event, "timeout", e.timeout)

		return Neutral()
	}
}
