package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alsksssass/deepagent/internal/schema"
)

// RunFunc is the agent-specific logic behind a Typed agent. It receives the
// decoded, validated context.
type RunFunc[C, P any] func(ctx context.Context, inv Invocation, in C) (P, error)

// Typed adapts a RunFunc to the Agent contract: it validates and decodes the
// context, recovers panics and maps errors onto responses.
type Typed[C, P any] struct {
	name     string
	kind     Kind
	run      RunFunc[C, P]
	in       *schema.Schema
	out      *schema.Schema
	defaults func() P
}

// Define builds a Typed agent. Schemas for C and P are generated from the types.
func Define[C, P any](name string, kind Kind, run RunFunc[C, P]) *Typed[C, P] {
	return &Typed[C, P]{
		name: name,
		kind: kind,
		run:  run,
		in:   schema.MustFor[C](),
		out:  schema.MustFor[P](),
	}
}

// WithDefault sets the payload used for failed and degraded responses.
// Without it the zero value of P is used.
func (t *Typed[C, P]) WithDefault(fn func() P) *Typed[C, P] {
	t.defaults = fn
	return t
}

func (t *Typed[C, P]) Name() string                 { return t.name }
func (t *Typed[C, P]) Kind() Kind                   { return t.kind }
func (t *Typed[C, P]) InputSchema() *schema.Schema  { return t.in }
func (t *Typed[C, P]) OutputSchema() *schema.Schema { return t.out }

// Execute runs the agent. It never panics and never returns an empty payload.
func (t *Typed[C, P]) Execute(ctx context.Context, inv Invocation) (resp Response) {
	w := &warnings{}
	ctx = context.WithValue(ctx, warningsKey{}, w)

	defer func() {
		if r := recover(); r != nil {
			resp = t.respond(t.defaultPayload(), fmt.Errorf("agent %s panicked: %v", t.name, r), w)
		}
	}()

	if err := t.in.Validate(inv.Input); err != nil {
		return t.respond(t.defaultPayload(), &ValidationError{Agent: t.name, Err: err}, w)
	}

	var in C
	if err := json.Unmarshal(inv.Input, &in); err != nil {
		return t.respond(t.defaultPayload(), &ValidationError{Agent: t.name, Err: err}, w)
	}

	if err := ctx.Err(); err != nil {
		return t.respond(t.defaultPayload(), &ExternalCallError{Op: "execute", Attempts: 1, Err: err}, w)
	}

	out, err := t.run(ctx, inv, in)
	if err != nil {
		return t.respond(t.defaultPayload(), err, w)
	}
	return t.respond(out, nil, w)
}

// Fail returns the response the agent would give had its logic returned err.
func (t *Typed[C, P]) Fail(err error) Response {
	return t.respond(t.defaultPayload(), err, &warnings{})
}

func (t *Typed[C, P]) defaultPayload() P {
	if t.defaults != nil {
		return t.defaults()
	}
	var zero P
	return zero
}

func (t *Typed[C, P]) respond(out P, err error, w *warnings) Response {
	resp := Response{Status: StatusSuccess, Warnings: w.list()}

	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = KindOf(err)
		if !IsDegraded(err) {
			resp.Status = StatusFailed
		}
	}

	payload, merr := json.Marshal(out)
	if merr == nil && resp.Status == StatusSuccess {
		if verr := t.out.Validate(payload); verr != nil {
			merr = verr
		}
	}
	if merr != nil {
		// The produced payload is unusable; fall back to the default one.
		resp.Status = StatusFailed
		resp.Error = (&ValidationError{Agent: t.name, Err: merr}).Error()
		resp.ErrorKind = ErrorValidation
		payload, _ = json.Marshal(t.defaultPayload())
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}

	resp.Payload = payload
	return resp
}

// Decode unmarshals a response payload into P.
func Decode[P any](resp Response) (P, error) {
	var p P
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

type warningsKey struct{}

type warnings struct {
	mu    sync.Mutex
	items []string
}

func (w *warnings) add(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, msg)
}

func (w *warnings) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.items) == 0 {
		return nil
	}
	return append([]string(nil), w.items...)
}

// Warn records a non-fatal warning on the response of the running invocation.
// It is a no-op outside of Execute.
func Warn(ctx context.Context, format string, args ...any) {
	if w, ok := ctx.Value(warningsKey{}).(*warnings); ok {
		w.add(fmt.Sprintf(format, args...))
	}
}
