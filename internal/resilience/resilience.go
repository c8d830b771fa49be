// Package resilience wraps external calls with timeouts, exponential backoff
// retry and per-dependency circuit breakers.
package resilience

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/alsksssass/deepagent/internal/agent"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxAttempts         int           // Total attempts including the first (default 3)
	CallTimeout         time.Duration // Timeout of a single attempt (default 2min)
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time, 0 for none (default 0)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		CallTimeout:         2 * time.Minute,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// NewBackOff builds the backoff policy for cfg, bounded by MaxAttempts and ctx.
func (cfg RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor
	policy.Reset()

	var b backoff.BackOff = policy
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Breakers manages one circuit breaker per external dependency.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *log.Logger
}

// NewBreakers creates an empty registry. State changes are logged to logger,
// or the standard logger when nil.
func NewBreakers(logger *log.Logger) *Breakers {
	if logger == nil {
		logger = log.Default()
	}
	return &Breakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the circuit breaker for the named dependency.
// Creates a new one if it doesn't exist.
func (r *Breakers) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a dependency failure
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})

	r.breakers[name] = cb
	return cb
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn with a per-attempt timeout, retrying failures with exponential
// backoff through the circuit breaker cb (which may be nil). The final error is
// an *agent.ExternalCallError naming op.
func Do[T any](ctx context.Context, op string, cb *gobreaker.CircuitBreaker, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	attempts := 0

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++

		callCtx := ctx
		if cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
			defer cancel()
		}

		var v T
		var err error
		if cb != nil {
			var out interface{}
			out, err = cb.Execute(func() (interface{}, error) {
				return fn(callCtx)
			})
			if err == nil {
				v, _ = out.(T)
			}
		} else {
			v, err = fn(callCtx)
		}

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		result = v
		return nil
	}

	if err := backoff.Retry(operation, cfg.NewBackOff(ctx)); err != nil {
		var zero T
		return zero, &agent.ExternalCallError{Op: op, Attempts: attempts, Err: err}
	}
	return result, nil
}
