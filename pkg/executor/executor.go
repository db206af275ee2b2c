// Package executor runs per-host tasks concurrently under a global
// concurrency cap, with an independent deadline per task.
//
// The engine makes three guarantees:
//
//   - Bounded concurrency: at most Limit tasks execute at once; the rest
//     wait in submission (FIFO) order.
//   - Isolation: one task failing, hanging past its deadline, or panicking
//     never delays or corrupts any other task.
//   - Completeness: exactly one Result is produced per submitted task, with
//     tasks never started after a batch cancellation reported as cancelled.
//
// Example:
//
//	results := executor.Run(ctx, executor.Config{Limit: 32, Timeout: time.Minute},
//	    tasks, func(ctx context.Context, t executor.Task) (int, error) {
//	        return doWork(ctx, t.Spec)
//	    })
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parallax-sh/parallax/pkg/logger"
	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// Task is the per-host unit of scheduled work within a batch. Tasks are
// immutable once a batch starts; the worker executing a task is its sole
// owner until the result is handed to the collector.
type Task struct {
	// Host is the host identity exactly as supplied by the caller. It is
	// the key of the final result map.
	Host string
	// Index is the task's position in the input list. When the same host
	// string appears more than once, the highest index wins aggregation.
	Index int
	// Spec holds the resolved connection parameters.
	Spec sshkit.HostSpec
}

// Result pairs a task with its outcome. Exactly one of Value and Err is
// meaningful: Err == nil means Value holds the action's success value.
type Result[T any] struct {
	Task  Task
	Value T
	Err   error
	// Started is false for tasks dropped by a batch cancellation before
	// a worker picked them up.
	Started bool
	// Elapsed is the wall-clock duration of the action, zero if never started.
	Elapsed time.Duration
}

// Action is the work performed against one host. It must honor ctx: the
// engine cancels it when the per-task deadline or the batch context fires.
type Action[T any] func(ctx context.Context, t Task) (T, error)

// Config bounds a batch run.
type Config struct {
	// Limit caps the number of concurrently executing tasks. Values < 1
	// mean 1.
	Limit int
	// Timeout is the per-task deadline, armed when a worker picks the task
	// up. Zero means no per-task deadline.
	Timeout time.Duration
	// Log receives debug-level scheduling events. May be nil.
	Log *logger.Logger
}

// Run executes every task and returns one result per task. The slice is in
// completion order; callers needing host-keyed access aggregate it
// themselves. Run only returns once every started task has finished or been
// cancelled.
//
// Cancelling ctx stops the batch: tasks not yet picked up are reported with
// ctx's error and Started == false; in-flight tasks see their contexts
// cancelled and report whatever they return.
func Run[T any](ctx context.Context, cfg Config, tasks []Task, fn Action[T]) []Result[T] {
	limit := cfg.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}

	if cfg.Log != nil {
		cfg.Log.Debug("dispatching %d tasks, limit %d, timeout %v", len(tasks), limit, cfg.Timeout)
	}

	pending := make(chan Task)
	out := make(chan Result[T], len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range pending {
				out <- runOne(ctx, cfg, t, fn)
			}
		}()
	}

	// Feed in submission order. On batch cancellation every unfed task is
	// reported as never started.
	go func() {
		defer close(pending)
		for i, t := range tasks {
			select {
			case pending <- t:
			case <-ctx.Done():
				for _, dropped := range tasks[i:] {
					out <- Result[T]{Task: dropped, Err: ctx.Err()}
				}
				return
			}
		}
	}()

	results := make([]Result[T], 0, len(tasks))
	for range tasks {
		results = append(results, <-out)
	}
	wg.Wait()

	return results
}

// runOne executes a single task under its own deadline, containing panics so
// a misbehaving action cannot take down the pool.
func runOne[T any](ctx context.Context, cfg Config, t Task, fn Action[T]) (res Result[T]) {
	res.Task = t
	res.Started = true

	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task panicked: %v", r)
			if cfg.Log != nil {
				cfg.Log.WithField("host", t.Host).Error("task panicked: %v", r)
			}
		}
	}()

	tctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if cfg.Log != nil {
		cfg.Log.WithField("host", t.Host).Debug("task started")
	}

	// Whatever fn returns is the single recorded outcome for this task: a
	// success committed just before the deadline fires wins over the timer.
	res.Value, res.Err = fn(tctx, t)

	if cfg.Log != nil {
		if res.Err != nil {
			cfg.Log.WithField("host", t.Host).Debug("task failed after %v: %v", time.Since(start), res.Err)
		} else {
			cfg.Log.WithField("host", t.Host).Debug("task finished in %v", time.Since(start))
		}
	}
	return
}
