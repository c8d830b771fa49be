// Package orchestrator drives a task through Setup, Plan, the pipeline levels
// and Finalize, persisting every agent response through the result store.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/events"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/persistence"
	"github.com/alsksssass/deepagent/internal/resilience"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/schema"
	"github.com/alsksssass/deepagent/internal/store"
)

// Config configures an Orchestrator.
type Config struct {
	Pipeline        *scheduler.Pipeline
	Store           *store.Store
	WorkDir         string                 // Root of task working directories
	Logger          *log.Logger            // Defaults to the standard logger
	Events          events.Publisher       // Optional
	Ledger          Ledger                 // Optional
	Usage           *llm.Accountant        // Optional, reported in Finalize
	MaxAgents       int                    // Concurrent agents of a parallel level (default 4)
	BatchSize       int                    // Concurrent items of a batched level (default 10)
	AgentTimeout    time.Duration          // Per invocation (default 1h)
	WorkflowTimeout time.Duration          // Whole run (default 2h)
	Retry           resilience.RetryConfig // Per-item retry of batched levels (default resilience.DefaultRetryConfig)
	Resume          bool                   // Skip levels whose artifacts already succeeded
}

// Orchestrator runs tasks over a fixed pipeline.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger
	specs  map[string]scheduler.AgentSpec
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline must be set")
	}
	if cfg.Store == nil {
		return nil, errors.New("result store must be set")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("work dir must be set")
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Ledger == nil {
		cfg.Ledger = nopLedger{}
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = time.Hour
	}
	if cfg.WorkflowTimeout <= 0 {
		cfg.WorkflowTimeout = 2 * time.Hour
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	specs := make(map[string]scheduler.AgentSpec)
	for _, level := range cfg.Pipeline.Levels() {
		for _, spec := range level.Agents {
			specs[spec.Name()] = spec
		}
	}

	return &Orchestrator{cfg: cfg, logger: cfg.Logger, specs: specs}, nil
}

// Run executes one task end to end. An empty taskID is replaced by a new
// UUID. On success the report is persisted and returned; a mandatory failure
// returns a *Failure and no report.
func (o *Orchestrator) Run(ctx context.Context, taskID string, in scheduler.Input) (*Report, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowTimeout)
	defer cancel()

	r := &run{
		o:      o,
		task:   taskID,
		input:  in,
		claims: scheduler.NewClaims(),
		start:  time.Now(),
	}

	var levels []string
	for _, l := range o.cfg.Pipeline.Levels() {
		levels = append(levels, l.Name)
	}
	o.cfg.Events.Publish(events.RunStartedEvent{
		Task:      taskID,
		Repos:     in.Repos,
		User:      in.User,
		Levels:    levels,
		Timestamp: r.start,
	})
	r.ledger("start run", func(ctx context.Context) error {
		return o.cfg.Ledger.StartRun(ctx, persistence.Run{ID: taskID, Repos: in.Repos, User: in.User, StartedAt: r.start})
	})
	o.logger.Printf("Task %s: starting (%d repositories, %d levels)", taskID, len(in.Repos), len(levels))

	report, err := r.execute(ctx)
	r.finish(err)
	return report, err
}

// run is the state of one task run.
type run struct {
	o      *Orchestrator
	task   string
	input  scheduler.Input
	env    scheduler.Env
	plan   *Plan
	claims *scheduler.Claims
	start  time.Time
}

// outcome is the terminal result of one agent of a level. err is set when the
// response could not be produced or persisted.
type outcome struct {
	spec scheduler.AgentSpec
	resp agent.Response
	err  error
}

func (oc outcome) failed() bool {
	return oc.err != nil || !oc.resp.Succeeded()
}

func (oc outcome) cause() error {
	if oc.err != nil {
		return fmt.Errorf("%s: %w", oc.spec.Name(), oc.err)
	}
	return fmt.Errorf("%s: %s", oc.spec.Name(), oc.resp.Error)
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	if err := r.setup(ctx); err != nil {
		return nil, r.failure("setup", "", err)
	}
	if err := r.planLevels(ctx); err != nil {
		return nil, r.failure("plan", "", err)
	}

	levels := r.o.cfg.Pipeline.Levels()
	for i, level := range levels {
		if err := r.level(ctx, i, level); err != nil {
			r.skip(levels[i+1:], "upstream level failed")
			return nil, err
		}
	}

	report, err := r.finalize(ctx)
	if err != nil {
		return nil, r.failure("finalize", "", err)
	}
	return report, nil
}

func (r *run) failure(level, agentName string, errs ...error) *Failure {
	return &Failure{Task: r.task, Level: level, Agent: agentName, Errors: errs}
}

// setup materializes the working directory and persists the initial context.
func (r *run) setup(ctx context.Context) error {
	if len(r.input.Repos) == 0 {
		return errors.New("at least one repository locator is required")
	}
	for i, repo := range r.input.Repos {
		if strings.TrimSpace(repo) == "" {
			return fmt.Errorf("repository locator %d is empty", i)
		}
	}

	workDir, err := filepath.Abs(filepath.Join(r.o.cfg.WorkDir, r.task))
	if err != nil {
		return fmt.Errorf("failed to resolve work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	setup := scheduler.Setup{
		Task:    r.task,
		WorkDir: workDir,
		Repos:   r.input.Repos,
		User:    r.input.User,
	}
	r.env = scheduler.Env{Setup: setup, Store: r.o.cfg.Store}

	payload, err := json.Marshal(setup)
	if err != nil {
		return fmt.Errorf("failed to encode setup: %w", err)
	}
	resp := agent.Response{Status: agent.StatusSuccess, Payload: payload}
	return r.persist(ctx, store.Singleton(r.task, scheduler.SetupKey), resp, schema.MustFor[scheduler.Setup]())
}

// planLevels writes the execution plan. Batch cardinalities are filled in as
// each batched level resolves its items.
func (r *run) planLevels(ctx context.Context) error {
	r.plan = newPlan(r.task, r.o.cfg.Pipeline)
	return r.savePlan(ctx)
}

func (r *run) savePlan(ctx context.Context) error {
	return r.o.cfg.Store.SaveJSONDocument(context.WithoutCancel(ctx), r.task, PlanDocument, r.plan)
}

// level gates and executes one pipeline level.
func (r *run) level(ctx context.Context, pos int, level scheduler.Level) error {
	if err := ctx.Err(); err != nil {
		return r.failure(level.Name, "", err)
	}

	if r.o.cfg.Resume && r.completed(ctx, level) {
		r.o.logger.Printf("Task %s: level %s already completed, skipping", r.task, level.Name)
		r.skip([]scheduler.Level{level}, "already completed")
		return nil
	}

	if err := r.gate(ctx, level); err != nil {
		r.o.logger.Printf("ERROR: task %s: level %s: %v", r.task, level.Name, err)
		return r.failure(level.Name, "", err)
	}

	start := time.Now()
	r.o.cfg.Events.Publish(events.LevelStartedEvent{
		Task:      r.task,
		Level:     level.Name,
		Mode:      string(level.Mode),
		Agents:    level.AgentNames(),
		Timestamp: start,
	})
	r.ledger("start level", func(ctx context.Context) error {
		return r.o.cfg.Ledger.StartLevel(ctx, persistence.LevelRun{
			RunID: r.task, Position: pos, Level: level.Name, Mode: string(level.Mode), StartedAt: start,
		})
	})

	var outcomes []outcome
	switch level.Mode {
	case scheduler.Sequential:
		outcomes = r.sequential(ctx, level)
	case scheduler.Parallel:
		outcomes = r.parallel(ctx, level)
	case scheduler.Batched:
		outcomes = []outcome{r.batched(ctx, level)}
	}

	var errs []error
	failedAgent := ""
	degraded := false
	for _, oc := range outcomes {
		if !oc.failed() {
			if oc.resp.Error != "" {
				degraded = true
			}
			continue
		}
		if oc.spec.Optional() {
			degraded = true
			r.o.logger.Printf("WARNING: task %s: optional agent %s failed: %v", r.task, oc.spec.Name(), oc.cause())
			continue
		}
		if failedAgent == "" {
			failedAgent = oc.spec.Name()
		}
		errs = append(errs, oc.cause())
	}
	if len(errs) > 0 && ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}

	status, ledgerStatus := events.StatusSuccess, persistence.StatusCompleted
	switch {
	case len(errs) > 0:
		status, ledgerStatus = events.StatusFailed, persistence.StatusFailed
	case degraded:
		status = events.StatusDegraded
	}

	r.o.cfg.Events.Publish(events.LevelFinishedEvent{
		Task:      r.task,
		Level:     level.Name,
		Status:    status,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})

	if len(errs) > 0 {
		f := r.failure(level.Name, failedAgent, errs...)
		r.ledger("finish level", func(ctx context.Context) error {
			return r.o.cfg.Ledger.FinishLevel(ctx, r.task, level.Name, ledgerStatus, f.Error())
		})
		r.o.logger.Printf("ERROR: %v", f)
		return f
	}

	r.ledger("finish level", func(ctx context.Context) error {
		return r.o.cfg.Ledger.FinishLevel(ctx, r.task, level.Name, ledgerStatus, "")
	})
	r.o.logger.Printf("Task %s: level %s %s in %s", r.task, level.Name, status, time.Since(start).Round(time.Millisecond))
	return nil
}

// gate verifies that every result key the level depends on exists. A missing
// result of an optional agent is tolerated.
func (r *run) gate(ctx context.Context, level scheduler.Level) error {
	var missing []string
	for _, dep := range level.DependsOn {
		ok, err := r.o.cfg.Store.Exists(ctx, store.Singleton(r.task, dep))
		if err != nil {
			return fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
		if ok {
			continue
		}
		if spec, known := r.o.specs[dep]; known && spec.Optional() {
			r.o.logger.Printf("WARNING: task %s: level %s: optional dependency %s has no result", r.task, level.Name, dep)
			continue
		}
		missing = append(missing, dep)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrDependencyMissing, strings.Join(missing, ", "))
	}
	return nil
}

// completed reports whether every agent of the level already has a successful,
// error-free artifact.
func (r *run) completed(ctx context.Context, level scheduler.Level) bool {
	for _, spec := range level.Agents {
		s := spec.Agent.OutputSchema()
		if level.Mode == scheduler.Batched {
			s = summarySchema()
		}
		resp, err := r.o.cfg.Store.Load(ctx, store.Singleton(r.task, spec.Name()), s)
		if err != nil || !resp.Succeeded() || resp.Error != "" {
			return false
		}
	}
	return true
}

// sequential runs the level's agents in order. Each result is persisted
// before the next agent starts; a mandatory failure stops the level.
func (r *run) sequential(ctx context.Context, level scheduler.Level) []outcome {
	var outcomes []outcome
	for _, spec := range level.Agents {
		oc := r.single(ctx, level.Name, spec)
		outcomes = append(outcomes, oc)
		if oc.failed() && !spec.Optional() {
			break
		}
	}
	return outcomes
}

// parallel runs the level's agents concurrently. A failure never cancels
// siblings.
func (r *run) parallel(ctx context.Context, level scheduler.Level) []outcome {
	outcomes := make([]outcome, len(level.Agents))

	var g errgroup.Group
	g.SetLimit(r.o.cfg.MaxAgents)
	for i, spec := range level.Agents {
		g.Go(func() error {
			outcomes[i] = r.single(ctx, level.Name, spec)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// single binds, invokes and persists one singleton agent.
func (r *run) single(ctx context.Context, levelName string, spec scheduler.AgentSpec) outcome {
	start := time.Now()
	r.o.cfg.Events.Publish(events.AgentStartedEvent{
		Task:      r.task,
		Level:     levelName,
		Agent:     spec.Name(),
		Index:     agent.NoIndex,
		Attempt:   1,
		Timestamp: start,
	})

	var resp agent.Response
	input, err := r.bind(ctx, spec)
	if err != nil {
		resp = spec.Agent.Fail(&agent.ValidationError{Agent: spec.Name(), Err: err})
	} else {
		resp = r.invoke(ctx, spec, agent.NoIndex, input)
	}

	oc := outcome{spec: spec, resp: resp}
	oc.err = r.persist(ctx, store.Singleton(r.task, spec.Name()), resp, spec.Agent.OutputSchema())
	r.record(levelName, spec.Name(), agent.NoIndex, oc.resp, oc.err, 1, time.Since(start))
	return oc
}

func (r *run) bind(ctx context.Context, spec scheduler.AgentSpec) (json.RawMessage, error) {
	if spec.Bind == nil {
		return json.RawMessage("{}"), nil
	}
	v, err := spec.Bind(ctx, r.env)
	if err != nil {
		return nil, fmt.Errorf("failed to build context: %w", err)
	}
	return marshalInput(v)
}

func marshalInput(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	return data, nil
}

// invoke executes one agent invocation bounded by its timeout. An invocation
// still running at the deadline resolves as a failed outcome.
func (r *run) invoke(ctx context.Context, spec scheduler.AgentSpec, index int, input json.RawMessage) agent.Response {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.o.cfg.AgentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan agent.Response, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- spec.Agent.Fail(fmt.Errorf("agent %s panicked: %v", spec.Name(), p))
			}
		}()
		done <- spec.Agent.Execute(ctx, agent.Invocation{Task: r.task, Index: index, Input: input})
	}()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return spec.Agent.Fail(&agent.ExternalCallError{Op: spec.Name(), Attempts: 1, Err: ctx.Err()})
	}
}

// persist writes one artifact under a single-writer claim. Terminal outcomes
// are written even after the run's context is done.
func (r *run) persist(ctx context.Context, key store.Key, resp agent.Response, s *schema.Schema) error {
	if err := r.claims.Claim(key); err != nil {
		return err
	}
	defer r.claims.Release(key)

	if err := r.o.cfg.Store.Save(context.WithoutCancel(ctx), key, resp, s); err != nil {
		r.o.logger.Printf("ERROR: task %s: %v", r.task, err)
		return err
	}
	return nil
}

// record publishes and ledgers the terminal outcome of one invocation.
func (r *run) record(levelName, agentName string, index int, resp agent.Response, persistErr error, attempts int, d time.Duration) {
	status, msg := string(resp.Status), resp.Error
	if persistErr != nil {
		status, msg = string(agent.StatusFailed), persistErr.Error()
	}

	r.o.cfg.Events.Publish(events.AgentFinishedEvent{
		Task:      r.task,
		Level:     levelName,
		Agent:     agentName,
		Index:     index,
		Status:    status,
		Error:     msg,
		Attempts:  attempts,
		Duration:  d,
		Timestamp: time.Now(),
	})
	r.ledger("record agent", func(ctx context.Context) error {
		return r.o.cfg.Ledger.RecordAgent(ctx, persistence.AgentRun{
			RunID:     r.task,
			Level:     levelName,
			Agent:     agentName,
			Index:     index,
			Status:    status,
			Error:     msg,
			ErrorKind: string(resp.ErrorKind),
			Attempts:  attempts,
			Duration:  d,
		})
	})
}

// skip marks levels that will not run.
func (r *run) skip(levels []scheduler.Level, reason string) {
	now := time.Now()
	for _, level := range levels {
		r.o.cfg.Events.Publish(events.LevelSkippedEvent{Task: r.task, Level: level.Name, Reason: reason, Timestamp: now})

		pos := 0
		for i, l := range r.o.cfg.Pipeline.Levels() {
			if l.Name == level.Name {
				pos = i
			}
		}
		r.ledger("skip level", func(ctx context.Context) error {
			return r.o.cfg.Ledger.StartLevel(ctx, persistence.LevelRun{
				RunID: r.task, Position: pos, Level: level.Name, Mode: string(level.Mode),
				Status: persistence.StatusSkipped, Error: reason, StartedAt: now,
			})
		})
	}
}

func (r *run) finish(err error) {
	status, ledgerStatus, level, msg := events.StatusSuccess, persistence.StatusCompleted, "", ""
	if err != nil {
		status, ledgerStatus, msg = events.StatusFailed, persistence.StatusFailed, err.Error()
		var f *Failure
		if errors.As(err, &f) {
			level = f.Level
		}
	}

	d := time.Since(r.start)
	r.o.cfg.Events.Publish(events.RunFinishedEvent{
		Task:      r.task,
		Status:    status,
		Level:     level,
		Err:       err,
		Duration:  d,
		Timestamp: time.Now(),
	})
	r.ledger("finish run", func(ctx context.Context) error {
		return r.o.cfg.Ledger.FinishRun(ctx, r.task, ledgerStatus, msg)
	})

	if err != nil {
		r.o.logger.Printf("ERROR: task %s failed after %s: %v", r.task, d.Round(time.Millisecond), err)
		return
	}
	r.o.logger.Printf("Task %s: completed in %s", r.task, d.Round(time.Millisecond))
}

func (r *run) ledger(op string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil {
		r.o.logger.Printf("WARNING: task %s: ledger %s failed: %v", r.task, op, err)
	}
}
