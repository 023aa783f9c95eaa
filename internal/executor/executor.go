// Package executor drives oracle calls under three simultaneous
// constraints: a hard per-run call budget, bounded concurrency, and
// the oracle's own rate limiting. Work is dispatched in fixed-size
// sub-batches; a budget stop leaves the remainder untouched so a later
// run picks it up.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/resilience"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

const (
	minConcurrency = 3
	maxConcurrency = 15
)

// Task pairs a work item with the oracle request built for it.
type Task struct {
	Item    model.WorkItem
	Request oracle.Request
}

// Result is the outcome of one dispatched task. Err is set when the
// call failed permanently; the caller decides what that means for the
// item.
type Result struct {
	Item     model.WorkItem
	Response *oracle.Response
	Err      error
}

// Config tunes the executor. Zero values fall back to defaults.
type Config struct {
	// SubBatchSize is how many tasks one worker takes at a time.
	SubBatchSize int
	// Concurrency is the worker pool size, clamped to 3..15.
	Concurrency int
	// Stagger delays each worker's start within a group so a group
	// does not burst the oracle.
	Stagger time.Duration
	// Cooldown is the pause between concurrent groups.
	Cooldown time.Duration
	// CallBudget caps oracle calls for the run; 0 means unlimited.
	CallBudget int64
	// RatePerSec and Burst configure the client-side limiter.
	RatePerSec float64
	Burst      int
	// Retry is applied per call; only rate-limit errors retry.
	Retry resilience.Policy
}

func (c Config) withDefaults() Config {
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = 5
	}
	if c.Concurrency < minConcurrency {
		c.Concurrency = minConcurrency
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	if c.Stagger <= 0 {
		c.Stagger = 100 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 500 * time.Millisecond
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}
	return c
}

// Executor runs tasks against the oracle.
type Executor struct {
	client  oracle.Client
	cfg     Config
	limiter *rate.Limiter
	calls   atomic.Int64
	usage   oracle.TokenUsage
	usageMu sync.Mutex

	// OnSample, when set, receives the first request/response pair of
	// the run for prompt inspection.
	OnSample   func(req oracle.Request, resp *oracle.Response)
	sampleOnce sync.Once
}

// New creates an Executor.
func New(client oracle.Client, cfg Config) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// Calls returns the number of oracle calls made so far this run,
// retries included.
func (e *Executor) Calls() int64 {
	return e.calls.Load()
}

// Usage returns the accumulated token usage for the run.
func (e *Executor) Usage() oracle.TokenUsage {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	return e.usage
}

// Run dispatches tasks and returns a result per dispatched task plus
// the count of tasks skipped because the call budget ran out. Skipped
// tasks get no result; their ledger rows stay pending.
func (e *Executor) Run(ctx context.Context, tasks []Task) ([]Result, int, error) {
	cfg := e.cfg
	log := zap.L().With(zap.Int("tasks", len(tasks)), zap.Int("concurrency", cfg.Concurrency))

	subBatches := chunk(tasks, cfg.SubBatchSize)
	results := make([]Result, 0, len(tasks))
	var mu sync.Mutex

	dispatched := 0
	for start := 0; start < len(subBatches); start += cfg.Concurrency {
		group := subBatches[start:min(start+cfg.Concurrency, len(subBatches))]

		// Budget check per sub-batch: a batch that would push the
		// counter past the budget is not dispatched at all.
		group, skippedHere := e.underBudget(group)
		if len(group) == 0 {
			skipped := len(tasks) - dispatched
			log.Info("executor: call budget reached, leaving remainder pending",
				zap.Int64("calls", e.calls.Load()),
				zap.Int("skipped", skipped))
			return results, skipped, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)

		for i, sb := range group {
			sb := sb
			delay := time.Duration(i) * cfg.Stagger
			g.Go(func() error {
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				for _, task := range sb {
					res := e.call(gctx, task)
					mu.Lock()
					results = append(results, res)
					mu.Unlock()
					if gctx.Err() != nil {
						return gctx.Err()
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return results, len(tasks) - dispatched - counted(group), err
		}
		dispatched += counted(group)

		if skippedHere > 0 {
			skipped := len(tasks) - dispatched
			log.Info("executor: call budget reached, leaving remainder pending",
				zap.Int64("calls", e.calls.Load()),
				zap.Int("skipped", skipped))
			return results, skipped, nil
		}

		if start+cfg.Concurrency < len(subBatches) {
			select {
			case <-time.After(cfg.Cooldown):
			case <-ctx.Done():
				return results, len(tasks) - dispatched, ctx.Err()
			}
		}
	}

	return results, 0, nil
}

// call runs one task with the rate limiter and the retry policy.
// Only rate-limit signals retry; invalid payloads and other failures
// fail the task immediately.
func (e *Executor) call(ctx context.Context, task Task) Result {
	policy := e.cfg.Retry
	policy.ShouldRetry = func(err error) bool {
		var rl *resilience.RateLimitError
		return errors.As(err, &rl)
	}
	policy.OnRetry = resilience.RetryLogger("oracle call")

	resp, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*oracle.Response, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		e.calls.Add(1)
		return e.client.Complete(ctx, task.Request)
	})
	if err != nil {
		return Result{Item: task.Item, Err: err}
	}

	e.usageMu.Lock()
	e.usage.Add(resp.Usage)
	e.usageMu.Unlock()

	if e.OnSample != nil {
		e.sampleOnce.Do(func() { e.OnSample(task.Request, resp) })
	}
	return Result{Item: task.Item, Response: resp}
}

// underBudget trims a group of sub-batches to what the remaining call
// budget covers, returning the kept prefix and how many sub-batches
// were cut.
func (e *Executor) underBudget(group [][]Task) ([][]Task, int) {
	if e.cfg.CallBudget <= 0 {
		return group, 0
	}
	remaining := e.cfg.CallBudget - e.calls.Load()
	kept := 0
	for _, sb := range group {
		if remaining < int64(len(sb)) {
			break
		}
		remaining -= int64(len(sb))
		kept++
	}
	return group[:kept], len(group) - kept
}

func chunk(tasks []Task, size int) [][]Task {
	var out [][]Task
	for start := 0; start < len(tasks); start += size {
		out = append(out, tasks[start:min(start+size, len(tasks))])
	}
	return out
}

func counted(group [][]Task) int {
	n := 0
	for _, sb := range group {
		n += len(sb)
	}
	return n
}
