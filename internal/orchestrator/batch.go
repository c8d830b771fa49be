package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/events"
	"github.com/alsksssass/deepagent/internal/resilience"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/schema"
	"github.com/alsksssass/deepagent/internal/store"
)

// BatchOutcome is the terminal outcome of one batch item.
type BatchOutcome struct {
	Index    int
	Response agent.Response
	Attempts int
	Duration time.Duration
}

// ItemFunc performs one attempt at item index. attempt starts at 1.
type ItemFunc func(ctx context.Context, index, attempt int) agent.Response

// BatchEvaluator maps N items through one agent with bounded concurrency.
type BatchEvaluator struct {
	Limit int                    // Concurrent items (default 10)
	Retry resilience.RetryConfig // Per-item attempts and backoff
}

// Run attempts every item and returns exactly n outcomes in index order,
// whatever the completion order. Failed items never cancel their siblings.
// Transient external failures are retried with backoff up to
// Retry.MaxAttempts; every other failure is terminal on the first attempt.
// onDone, if set, is called from the worker once an item is terminal.
func (b *BatchEvaluator) Run(ctx context.Context, n int, fn ItemFunc, onDone func(BatchOutcome)) []BatchOutcome {
	outcomes := make([]BatchOutcome, n)

	limit := b.Limit
	if limit <= 0 {
		limit = 10
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range n {
		g.Go(func() error {
			out := b.attempt(ctx, i, fn)
			outcomes[i] = out
			if onDone != nil {
				onDone(out)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (b *BatchEvaluator) attempt(ctx context.Context, index int, fn ItemFunc) BatchOutcome {
	start := time.Now()
	out := BatchOutcome{Index: index}

	operation := func() error {
		out.Attempts++
		out.Response = fn(ctx, index, out.Attempts)
		if out.Response.Succeeded() {
			return nil
		}
		err := errors.New(out.Response.Error)
		if !out.Response.Retryable() || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	// The terminal outcome is the last response; the retry error adds nothing
	_ = backoff.Retry(operation, b.Retry.NewBackOff(ctx))

	out.Duration = time.Since(start)
	return out
}

// BatchSummary is the merged singleton artifact of a batched level, listing
// every item outcome in index order. Item payloads live in the per-item
// artifacts.
type BatchSummary struct {
	Agent     string       `json:"agent"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []BatchEntry `json:"items,omitempty"`
}

// BatchEntry is one item of a BatchSummary.
type BatchEntry struct {
	Index     int    `json:"index"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Attempts  int    `json:"attempts"`
}

func summarySchema() *schema.Schema {
	return schema.MustFor[BatchSummary]()
}

// batched resolves the level's items, evaluates all of them and persists the
// per-item artifacts plus the merged summary. The summary fails only when the
// items cannot be resolved or every item failed.
func (r *run) batched(ctx context.Context, level scheduler.Level) outcome {
	spec := level.Agents[0]
	start := time.Now()
	summaryKey := store.Singleton(r.task, spec.Name())
	sum := BatchSummary{Agent: spec.Name()}

	abort := func(err error) outcome {
		resp := summaryResponse(sum, err, agent.KindOf(err))
		oc := outcome{spec: spec, resp: resp}
		oc.err = r.persist(ctx, summaryKey, resp, summarySchema())
		r.record(level.Name, spec.Name(), agent.NoIndex, resp, oc.err, 1, time.Since(start))
		return oc
	}

	items, err := spec.Items(ctx, r.env)
	if err != nil {
		return abort(fmt.Errorf("failed to resolve items: %w", err))
	}

	n := len(items)
	// Items of an earlier run of this task past n would break contiguity
	if err := r.o.cfg.Store.TruncateBatches(ctx, r.task, spec.Name(), n); err != nil {
		return abort(fmt.Errorf("failed to clear stale items: %w", err))
	}
	inputs := make([]json.RawMessage, n)
	inputErrs := make([]error, n)
	for i, item := range items {
		inputs[i], inputErrs[i] = marshalInput(item)
	}

	r.plan.resolve(level.Name, n)
	if err := r.savePlan(ctx); err != nil {
		r.o.logger.Printf("WARNING: task %s: failed to update plan: %v", r.task, err)
	}
	r.o.cfg.Events.Publish(events.BatchPlannedEvent{Task: r.task, Level: level.Name, Agent: spec.Name(), Total: n, Timestamp: time.Now()})
	r.o.logger.Printf("Task %s: level %s: evaluating %d items with %s", r.task, level.Name, n, spec.Name())

	persistErrs := make([]error, n)
	var mu sync.Mutex
	done, failed := 0, 0

	eval := &BatchEvaluator{Limit: r.o.cfg.BatchSize, Retry: r.o.cfg.Retry}
	outcomes := eval.Run(ctx, n, func(ctx context.Context, i, attempt int) agent.Response {
		r.o.cfg.Events.Publish(events.AgentStartedEvent{
			Task: r.task, Level: level.Name, Agent: spec.Name(), Index: i, Attempt: attempt, Timestamp: time.Now(),
		})
		if inputErrs[i] != nil {
			return spec.Agent.Fail(&agent.ValidationError{Agent: spec.Name(), Err: inputErrs[i]})
		}
		return r.invoke(ctx, spec, i, inputs[i])
	}, func(out BatchOutcome) {
		perr := r.persist(ctx, store.Batch(r.task, spec.Name(), out.Index), out.Response, spec.Agent.OutputSchema())
		persistErrs[out.Index] = perr
		r.record(level.Name, spec.Name(), out.Index, out.Response, perr, out.Attempts, out.Duration)

		mu.Lock()
		done++
		if perr != nil || !out.Response.Succeeded() {
			failed++
		}
		progress := events.BatchProgressEvent{
			Task: r.task, Level: level.Name, Agent: spec.Name(), Total: n, Done: done, Failed: failed, Timestamp: time.Now(),
		}
		mu.Unlock()
		r.o.cfg.Events.Publish(progress)
	})

	sum.Total = n
	sum.Items = make([]BatchEntry, n)
	firstKind := agent.ErrorNone
	for i, out := range outcomes {
		entry := BatchEntry{
			Index:     i,
			Status:    string(out.Response.Status),
			Error:     out.Response.Error,
			ErrorKind: string(out.Response.ErrorKind),
			Attempts:  out.Attempts,
		}
		if persistErrs[i] != nil {
			entry.Status = string(agent.StatusFailed)
			entry.Error = persistErrs[i].Error()
			entry.ErrorKind = string(agent.ErrorInternal)
		}
		if entry.Status == string(agent.StatusSuccess) {
			sum.Succeeded++
		} else {
			sum.Failed++
			if firstKind == agent.ErrorNone {
				firstKind = agent.ErrorKind(entry.ErrorKind)
			}
		}
		sum.Items[i] = entry
	}

	var sumErr error
	if n > 0 && sum.Succeeded == 0 {
		sumErr = fmt.Errorf("all %d items failed", n)
	} else if sum.Failed > 0 {
		r.o.logger.Printf("WARNING: task %s: level %s: %d of %d items failed", r.task, level.Name, sum.Failed, n)
	}

	resp := summaryResponse(sum, sumErr, firstKind)
	oc := outcome{spec: spec, resp: resp}
	oc.err = r.persist(ctx, summaryKey, resp, summarySchema())
	return oc
}

// summaryResponse wraps a summary into the response persisted under the
// batched agent's singleton key. Partial item failures are recorded as a
// degraded success.
func summaryResponse(sum BatchSummary, err error, kind agent.ErrorKind) agent.Response {
	payload, _ := json.Marshal(sum)
	resp := agent.Response{Status: agent.StatusSuccess, Payload: payload}
	switch {
	case err != nil:
		resp.Status = agent.StatusFailed
		resp.Error = err.Error()
		resp.ErrorKind = kind
		if resp.ErrorKind == agent.ErrorNone {
			resp.ErrorKind = agent.ErrorInternal
		}
	case sum.Failed > 0:
		resp.Error = fmt.Sprintf("%d of %d items failed", sum.Failed, sum.Total)
		resp.ErrorKind = kind
	}
	return resp
}
