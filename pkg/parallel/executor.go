// Package parallel runs independent task sets concurrently with wait
// policies, bounded concurrency and per-task timeouts.
package parallel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"golang.org/x/sync/semaphore"
)

// TaskInvoker executes one task. The engine supplies an invoker that
// resolves templated inputs against the parent context merged with the
// task's bindings and dispatches through the reliability-wrapped tool path.
type TaskInvoker func(ctx context.Context, action string, inputs map[string]any, bindings map[string]any) (any, error)

// Executor fans work out over a generic step-invocation callback.
type Executor struct {
	invoker TaskInvoker
	logger  *slog.Logger
}

func NewExecutor(invoker TaskInvoker, logger *slog.Logger) *Executor {
	return &Executor{
		invoker: invoker,
		logger:  logger.With("module", "parallel"),
	}
}

// SpawnOptions configures one spawn operation.
type SpawnOptions struct {
	Wait        models.WaitPolicy
	Timeout     time.Duration // overall settlement bound, 0 = none
	TaskTimeout time.Duration // per-task bound, 0 = none
	OnError     models.ErrorPolicy
	Concurrency int // 0 = unbounded
}

// settlement is one task outcome delivered to the collector. The channel is
// buffered to task count, so senders settle exactly once and never block,
// even when the collector has already returned.
type settlement struct {
	id     string
	result *models.TaskResult
}

// Spawn launches every task concurrently and settles according to the wait
// policy. Results present at timeout are preserved; tasks still pending are
// recorded as failed with a timeout error.
func (e *Executor) Spawn(ctx context.Context, tasks []*models.TaskSpec, opts SpawnOptions) (*models.SpawnResult, error) {
	if len(tasks) == 0 {
		return nil, models.NewValidationError("parallel.spawn requires at least one task")
	}

	if opts.Wait == "" {
		opts.Wait = models.WaitAll
	}

	if opts.OnError == "" {
		opts.OnError = models.ErrorPolicyContinue
	}

	started := time.Now()

	failCtx, failCancel := context.WithCancel(ctx)
	defer failCancel()

	var sem *semaphore.Weighted
	if opts.Concurrency > 0 {
		sem = semaphore.NewWeighted(int64(opts.Concurrency))
	}

	settlements := make(chan settlement, len(tasks))

	for _, task := range tasks {
		go func(task *models.TaskSpec) {
			if sem != nil {
				if err := sem.Acquire(failCtx, 1); err != nil {
					settlements <- settlement{id: task.ID, result: &models.TaskResult{Error: err.Error()}}

					return
				}
				defer sem.Release(1)
			}

			settlements <- settlement{
				id:     task.ID,
				result: e.runTask(failCtx, task.Action, task.Inputs, task.Bindings, opts.TaskTimeout),
			}
		}(task)
	}

	need := settleQuorum(opts.Wait, len(tasks))
	results := make(map[string]*models.TaskResult, len(tasks))

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	settled := 0
	succeeded := 0

	for settled < len(tasks) {
		select {
		case s := <-settlements:
			results[s.id] = s.result
			settled++

			if s.result.Success {
				succeeded++
			} else if opts.OnError == models.ErrorPolicyFail {
				failCancel()

				return e.buildResult(tasks, results, started),
					fmt.Errorf("task %s failed: %s", s.id, s.result.Error)
			}

			if opts.Wait == models.WaitAny && succeeded > 0 {
				return e.buildResult(tasks, results, started), nil
			}

			if settled >= need {
				return e.buildResult(tasks, results, started), nil
			}

		case <-deadline:
			// Pending tasks are abandoned, not force-killed; their late
			// settlements drain into the buffered channel and are dropped.
			for _, task := range tasks {
				if _, ok := results[task.ID]; !ok {
					results[task.ID] = &models.TaskResult{
						Error:     fmt.Sprintf("task %s timed out after %s", task.ID, opts.Timeout),
						StartedAt: started,
					}
				}
			}

			return e.buildResult(tasks, results, started), nil

		case <-ctx.Done():
			return e.buildResult(tasks, results, started), &models.CancellationError{}
		}
	}

	return e.buildResult(tasks, results, started), nil
}

// MapOptions configures one map operation.
type MapOptions struct {
	Concurrency int           // defaults to models.DefaultMapConcurrency
	Timeout     time.Duration // per-invocation bound, 0 = none
	OnError     models.ErrorPolicy
}

// Map applies the task template to every item with bounded concurrency. The
// result slice is always index-aligned with items regardless of completion
// order. Empty items return an empty slice without invoking the template.
func (e *Executor) Map(ctx context.Context, items []any, task *models.TaskSpec, opts MapOptions) ([]*models.TaskResult, error) {
	if len(items) == 0 {
		return []*models.TaskResult{}, nil
	}

	if task == nil {
		return nil, models.NewValidationError("parallel.map requires a task template")
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = models.DefaultMapConcurrency
	}

	if opts.OnError == "" {
		opts.OnError = models.ErrorPolicyContinue
	}

	mapCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	results := make([]*models.TaskResult, len(items))
	done := make(chan int, len(items))

	for i, item := range items {
		go func(i int, item any) {
			if err := sem.Acquire(mapCtx, 1); err != nil {
				results[i] = &models.TaskResult{Error: err.Error()}
				done <- i

				return
			}
			defer sem.Release(1)

			bindings := map[string]any{
				"item":      item,
				"itemIndex": i,
			}
			for k, v := range task.Bindings {
				bindings[k] = v
			}

			results[i] = e.runTask(mapCtx, task.Action, task.Inputs, bindings, opts.Timeout)
			done <- i
		}(i, item)
	}

	for range items {
		select {
		case i := <-done:
			if !results[i].Success && opts.OnError == models.ErrorPolicyFail {
				cancel()

				return nil, fmt.Errorf("map item %d failed: %s", i, results[i].Error)
			}

		case <-ctx.Done():
			return nil, &models.CancellationError{}
		}
	}

	return results, nil
}

// runTask invokes one task with an optional timeout race. The buffered
// outcome channel guarantees a single settlement: whichever of the call and
// the timer finishes first wins, and the loser's outcome is discarded.
func (e *Executor) runTask(ctx context.Context, action string, inputs map[string]any, bindings map[string]any, timeout time.Duration) *models.TaskResult {
	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		value, err := e.invoker(ctx, action, inputs, bindings)
		done <- outcome{value: value, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	select {
	case out := <-done:
		completed := time.Now()
		if out.err != nil {
			return &models.TaskResult{Error: out.err.Error(), StartedAt: started, CompletedAt: &completed}
		}

		return &models.TaskResult{Success: true, Value: out.value, StartedAt: started, CompletedAt: &completed}

	case <-deadline:
		// Abandoned, not completed: CompletedAt stays nil.
		return &models.TaskResult{
			Error:     (&models.TimeoutError{Op: action, Timeout: timeout}).Error(),
			StartedAt: started,
		}

	case <-ctx.Done():
		return &models.TaskResult{Error: ctx.Err().Error(), StartedAt: started}
	}
}

// settleQuorum computes how many settled tasks satisfy the wait policy.
// Majority is strictly more than half: 2 of 3, 3 of 4.
func settleQuorum(wait models.WaitPolicy, n int) int {
	switch wait {
	case models.WaitMajority:
		return n/2 + 1
	case models.WaitAny:
		return n
	default:
		return n
	}
}

// buildResult assembles the aggregate view, preserving every settled task
// outcome.
func (e *Executor) buildResult(tasks []*models.TaskSpec, results map[string]*models.TaskResult, started time.Time) *models.SpawnResult {
	out := &models.SpawnResult{
		Results:  make(map[string]*models.TaskResult, len(results)),
		Duration: time.Since(started),
	}

	for _, task := range tasks {
		result, ok := results[task.ID]
		if !ok {
			continue
		}

		out.Results[task.ID] = result

		if result.Success {
			out.Successful = append(out.Successful, task.ID)
		} else {
			out.Failed = append(out.Failed, task.ID)
		}
	}

	return out
}
