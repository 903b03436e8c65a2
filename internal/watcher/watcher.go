// Package watcher implements the Watcher Loop (C4): a single-threaded
// cooperative poller that asks the coordinator for pending jobs, hands up
// to a configured batch width to the Job Runner, and only sleeps between
// polls when the last batch drained the whole queue. Grounded on the
// reference platform's Watcher/JobWatcher.
package watcher

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/aivle/evalworker/internal/coordinator"
	"github.com/aivle/evalworker/internal/jobrunner"
	"github.com/aivle/evalworker/pkg/types"
)

// Config controls the poll cadence and per-cycle batch width.
type Config struct {
	Sleep     time.Duration
	Processes int
}

// Watcher repeatedly polls the coordinator's pending-jobs listing and
// drives each job through the Runner.
type Watcher struct {
	API    *coordinator.Client
	Runner *jobrunner.Runner
	Cfg    Config

	active int64

	// dispatch runs one job; it defaults to Runner.Run and is overridable in
	// tests so handle's batching logic can be exercised without a real
	// coordinator/executor/sandbox stack.
	dispatch func(ctx context.Context, job types.Job)
}

// Active returns the number of jobs currently being run, for heartbeat and
// metrics reporting.
func (w *Watcher) Active() int {
	return int(atomic.LoadInt64(&w.active))
}

func New(api *coordinator.Client, runner *jobrunner.Runner, cfg Config) *Watcher {
	if cfg.Processes <= 0 {
		cfg.Processes = 1
	}
	w := &Watcher{API: api, Runner: runner, Cfg: cfg}
	w.dispatch = func(ctx context.Context, job types.Job) { w.Runner.Run(ctx, job) }
	return w
}

// Watch runs until ctx is cancelled. Matches the reference Watcher.watch:
// sleep unless the previous cycle signaled more work is waiting, then poll
// once and hand the batch to handle.
func (w *Watcher) Watch(ctx context.Context) {
	more := false
	for {
		if !more {
			select {
			case <-time.After(w.Cfg.Sleep):
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		jobs, err := w.API.ListPending(ctx)
		if err != nil {
			log.Printf("watcher: can't reach coordinator: %v", err)
			more = false
			continue
		}

		more = w.handle(ctx, jobs)
	}
}

// handle runs up to Processes jobs from data and reports whether more jobs
// remained beyond that batch, signaling the next cycle to skip its sleep.
func (w *Watcher) handle(ctx context.Context, data []types.Job) bool {
	if len(data) == 0 {
		return false
	}

	batch := data
	if len(batch) > w.Cfg.Processes {
		batch = batch[:w.Cfg.Processes]
	}

	for _, job := range batch {
		atomic.AddInt64(&w.active, 1)
		w.dispatch(ctx, job)
		atomic.AddInt64(&w.active, -1)
	}

	return len(data)-len(batch) > 0
}
