package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/conveyor/pkg/models"
)

func echoInvoker(ctx context.Context, _ string, inputs map[string]any, bindings map[string]any) (any, error) {
	if item, ok := bindings["item"]; ok {
		return item, nil
	}

	return inputs["value"], nil
}

func newTestExecutor(invoker TaskInvoker) *Executor {
	return NewExecutor(invoker, slog.Default())
}

func makeTasks(n int) []*models.TaskSpec {
	tasks := make([]*models.TaskSpec, n)
	for i := range n {
		tasks[i] = &models.TaskSpec{
			ID:     fmt.Sprintf("t%d", i),
			Action: "test.echo",
			Inputs: map[string]any{"value": i},
		}
	}

	return tasks
}

func TestSpawn_EmptyTasksIsValidationError(t *testing.T) {
	t.Parallel()

	executor := newTestExecutor(echoInvoker)

	_, err := executor.Spawn(context.Background(), nil, SpawnOptions{})

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestSpawn_WaitAllCollectsEverything(t *testing.T) {
	t.Parallel()

	executor := newTestExecutor(echoInvoker)

	result, err := executor.Spawn(context.Background(), makeTasks(4), SpawnOptions{Wait: models.WaitAll})
	require.NoError(t, err)

	assert.Len(t, result.Results, 4)
	assert.Len(t, result.Successful, 4)
	assert.Empty(t, result.Failed)
	assert.Equal(t, float64(2), toNumber(t, result.Results["t2"].Value))
}

func TestSpawn_WaitAnySettlesOnFirstSuccess(t *testing.T) {
	t.Parallel()

	invoker := func(ctx context.Context, _ string, inputs map[string]any, _ map[string]any) (any, error) {
		if inputs["value"] == 0 {
			return "fast", nil
		}

		select {
		case <-time.After(time.Second):
			return "slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	executor := newTestExecutor(invoker)
	started := time.Now()

	result, err := executor.Spawn(context.Background(), makeTasks(3), SpawnOptions{Wait: models.WaitAny})
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Contains(t, result.Successful, "t0")
}

func TestSpawn_WaitMajorityQuorum(t *testing.T) {
	t.Parallel()

	var settled atomic.Int32

	blocker := make(chan struct{})
	defer close(blocker)

	invoker := func(_ context.Context, _ string, inputs map[string]any, _ map[string]any) (any, error) {
		// Task 3 never settles within the test window.
		if inputs["value"] == 3 {
			<-blocker

			return nil, errors.New("too late")
		}

		settled.Add(1)

		return inputs["value"], nil
	}

	executor := newTestExecutor(invoker)

	// 3 of 4 is a majority; the stuck fourth task must not block settlement.
	result, err := executor.Spawn(context.Background(), makeTasks(4), SpawnOptions{Wait: models.WaitMajority})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(result.Results), 3)
	assert.NotContains(t, result.Results, "t3")
}

func TestSpawn_TimeoutPreservesPartialResults(t *testing.T) {
	t.Parallel()

	invoker := func(ctx context.Context, _ string, inputs map[string]any, _ map[string]any) (any, error) {
		if inputs["value"] == 0 {
			return "done", nil
		}

		select {
		case <-time.After(time.Second):
			return "slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	executor := newTestExecutor(invoker)

	result, err := executor.Spawn(context.Background(), makeTasks(2), SpawnOptions{
		Wait:    models.WaitAll,
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.True(t, result.Results["t0"].Success)
	assert.False(t, result.Results["t1"].Success)
	assert.Contains(t, result.Results["t1"].Error, "timed out")
}

func TestSpawn_ConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)

	invoker := func(_ context.Context, _ string, _ map[string]any, _ map[string]any) (any, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return nil, nil
	}

	executor := newTestExecutor(invoker)

	_, err := executor.Spawn(context.Background(), makeTasks(8), SpawnOptions{
		Wait:        models.WaitAll,
		Concurrency: 2,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSpawn_OnErrorFailStopsEarly(t *testing.T) {
	t.Parallel()

	invoker := func(ctx context.Context, _ string, inputs map[string]any, _ map[string]any) (any, error) {
		if inputs["value"] == 0 {
			return nil, errors.New("boom")
		}

		select {
		case <-time.After(time.Second):
			return "slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	executor := newTestExecutor(invoker)
	started := time.Now()

	_, err := executor.Spawn(context.Background(), makeTasks(3), SpawnOptions{
		Wait:    models.WaitAll,
		OnError: models.ErrorPolicyFail,
	})

	require.Error(t, err)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestSpawn_TaskTimeoutSingleSettlement(t *testing.T) {
	t.Parallel()

	invoker := func(_ context.Context, _ string, _ map[string]any, _ map[string]any) (any, error) {
		time.Sleep(100 * time.Millisecond)

		return "late", nil
	}

	executor := newTestExecutor(invoker)

	result, err := executor.Spawn(context.Background(), makeTasks(1), SpawnOptions{
		Wait:        models.WaitAll,
		TaskTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	// The timeout wins the race; the late return is dropped, not surfaced
	// as a second settlement.
	require.Len(t, result.Results, 1)
	assert.False(t, result.Results["t0"].Success)
	assert.Contains(t, result.Results["t0"].Error, "timed out")
}

func TestSpawn_RecordsPerTaskTiming(t *testing.T) {
	t.Parallel()

	invoker := func(_ context.Context, _ string, inputs map[string]any, _ map[string]any) (any, error) {
		if inputs["value"] == 1 {
			time.Sleep(100 * time.Millisecond)
		}

		return inputs["value"], nil
	}

	executor := newTestExecutor(invoker)

	result, err := executor.Spawn(context.Background(), makeTasks(2), SpawnOptions{
		Wait:        models.WaitAll,
		TaskTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	settled := result.Results["t0"]
	require.True(t, settled.Success)
	assert.False(t, settled.StartedAt.IsZero())
	require.NotNil(t, settled.CompletedAt)
	assert.False(t, settled.CompletedAt.Before(settled.StartedAt))

	// The timed-out task started but never completed.
	abandoned := result.Results["t1"]
	require.False(t, abandoned.Success)
	assert.False(t, abandoned.StartedAt.IsZero())
	assert.Nil(t, abandoned.CompletedAt)
}

func TestMap_EmptyItemsReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	invoker := func(_ context.Context, _ string, _ map[string]any, _ map[string]any) (any, error) {
		calls.Add(1)

		return nil, nil
	}

	executor := newTestExecutor(invoker)

	results, err := executor.Map(context.Background(), []any{}, &models.TaskSpec{Action: "test.echo"}, MapOptions{})
	require.NoError(t, err)

	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, calls.Load(), "empty input must not invoke the task")
}

func TestMap_ResultsAreIndexAligned(t *testing.T) {
	t.Parallel()

	invoker := func(_ context.Context, _ string, _ map[string]any, bindings map[string]any) (any, error) {
		index := bindings["itemIndex"].(int)

		// Finish in reverse order to prove alignment is positional.
		time.Sleep(time.Duration(10-index) * 5 * time.Millisecond)

		return bindings["item"], nil
	}

	executor := newTestExecutor(invoker)
	items := []any{"a", "b", "c", "d"}

	results, err := executor.Map(context.Background(), items, &models.TaskSpec{Action: "test.echo"}, MapOptions{
		Concurrency: 4,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, item := range items {
		assert.True(t, results[i].Success)
		assert.Equal(t, item, results[i].Value)
	}
}

func TestMap_ConcurrencyDefaultsToBound(t *testing.T) {
	t.Parallel()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)

	invoker := func(_ context.Context, _ string, _ map[string]any, _ map[string]any) (any, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)

		return nil, nil
	}

	executor := newTestExecutor(invoker)
	items := make([]any, 20)

	_, err := executor.Map(context.Background(), items, &models.TaskSpec{Action: "test.echo"}, MapOptions{})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(models.DefaultMapConcurrency))
}

func TestMap_OnErrorContinueCollectsFailures(t *testing.T) {
	t.Parallel()

	invoker := func(_ context.Context, _ string, _ map[string]any, bindings map[string]any) (any, error) {
		if bindings["itemIndex"].(int) == 1 {
			return nil, errors.New("boom")
		}

		return bindings["item"], nil
	}

	executor := newTestExecutor(invoker)

	results, err := executor.Map(context.Background(), []any{"a", "b", "c"}, &models.TaskSpec{Action: "test.echo"}, MapOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "boom")
	assert.True(t, results[2].Success)
}

func TestMap_OnErrorFailReturnsError(t *testing.T) {
	t.Parallel()

	invoker := func(_ context.Context, _ string, _ map[string]any, bindings map[string]any) (any, error) {
		if bindings["itemIndex"].(int) == 0 {
			return nil, errors.New("boom")
		}

		return bindings["item"], nil
	}

	executor := newTestExecutor(invoker)

	_, err := executor.Map(context.Background(), []any{"a", "b"}, &models.TaskSpec{Action: "test.echo"}, MapOptions{
		Concurrency: 1,
		OnError:     models.ErrorPolicyFail,
	})
	require.Error(t, err)
}

func toNumber(t *testing.T, value any) float64 {
	t.Helper()

	switch v := value.(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		t.Fatalf("not a number: %T", value)

		return 0
	}
}
