package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultInterval = 1000 * time.Millisecond
	defaultParallel = 1
)

// PollOptions configures a single poll pass.
type PollOptions struct {
	// Parallel bounds how many tasks one pass claims and executes
	// concurrently before looping again. Defaults to 1.
	Parallel int
	// WorkerName is stamped on every task this pass claims.
	WorkerName string
	// Clock overrides time.Now for this pass.
	Clock Clock
}

// StartPollingOptions configures the recurring poll loop.
type StartPollingOptions struct {
	// Interval is how long after one pass completes the next begins.
	// Defaults to 1000ms.
	Interval time.Duration
	PollOptions
}

// Poller drives the claim+execute loop described in spec.md §4.G. At
// most one poll loop is active per Poller at a time; repeated calls to
// StartPolling return the existing cancel handle rather than starting a
// second loop, mirroring the single-event-loop-per-process model of the
// reference implementation.
type Poller struct {
	store    Store
	engine   *Engine
	registry *Registry
	sweeper  *Sweeper
	logger   *slog.Logger

	running  atomic.Bool
	cancelFn func()
}

// NewPoller wires a Poller to the components it drives each tick.
func NewPoller(store Store, registry *Registry, engine *Engine, sweeper *Sweeper, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		engine:   engine,
		registry: registry,
		sweeper:  sweeper,
		logger:   logger.With("component", "poller"),
	}
}

// Poll claims up to opts.Parallel due, named tasks and executes them
// concurrently, then repeats until a claim pass comes back empty. It
// awaits every in-flight execution before returning, so it is safe to
// call directly and synchronously from tests.
func (p *Poller) Poll(ctx context.Context, opts PollOptions) error {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	names := p.registry.Names()

	for {
		claimed := 0
		var wg sync.WaitGroup
		var firstErr error
		var errMu sync.Mutex

		for i := 0; i < parallel; i++ {
			now := opts.Clock.now()
			t, err := p.store.Claim(ctx, now, names, opts.WorkerName)
			if err != nil {
				return fmt.Errorf("poll: claim: %w", err)
			}
			if t == nil {
				break
			}
			// Claim returns the pre-image; apply the lease fields it stamped
			// so the engine's full-document Save keeps them.
			t.Status = StatusInProgress
			t.StartedRunningAt = &now
			timeoutAt := addMS(now, leaseMS(t.TimeoutMS))
			t.TimeoutAt = &timeoutAt
			if opts.WorkerName != "" {
				t.WorkerName = opts.WorkerName
			}
			claimed++
			wg.Add(1)
			go func(t *Task) {
				defer wg.Done()
				if _, err := p.engine.Execute(ctx, t, opts.Clock); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					p.logger.Error("execute", "task_id", t.ID, "task_name", t.Name, "error", err)
				}
			}(t)
		}
		wg.Wait()

		if firstErr != nil {
			return firstErr
		}
		if claimed == 0 {
			return nil
		}
	}
}

// StartPolling starts the recurring loop: each tick sweeps timed-out
// leases, then runs Poll, then waits Interval before ticking again,
// even if the pass raised. It returns a cancel() that stops scheduling
// further ticks, awaits any in-flight tick, and releases the singleton
// guard. Calling StartPolling again while a loop is active returns the
// same cancel handle rather than starting a second loop.
func (p *Poller) StartPolling(ctx context.Context, opts StartPollingOptions) func() {
	if !p.running.CompareAndSwap(false, true) {
		return p.cancelFn
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	p.cancelFn = sync.OnceFunc(func() {
		close(stopCh)
		<-doneCh
		p.running.Store(false)
	})

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if _, err := p.sweeper.ExpireTimedOut(ctx, opts.Clock); err != nil {
				p.logger.Error("expire timed out tasks", "error", err)
			}
			if err := p.Poll(ctx, opts.PollOptions); err != nil {
				p.logger.Error("poll", "error", err)
			}

			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	return p.cancelFn
}
