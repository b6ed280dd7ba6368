// Package dispatcher drives the scout execution pipeline's scheduling
// side: a minute-cadence dispatcher that fans due scouts out to isolated
// executor invocations, and an independent reaper that reclaims
// executions stuck in running past a stale threshold.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scoutwatch/scoutd/pkg/config"
	"github.com/scoutwatch/scoutd/pkg/executor"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// Dispatcher polls for due scouts and fires one isolated executor
// invocation per scout, on its own goroutine. Invocations share no state:
// one scout's failure never affects another's.
type Dispatcher struct {
	store    store.Store
	executor *executor.Executor
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// New builds a Dispatcher. interval is the poll cadence (spec.md calls for
// one minute).
func New(st store.Store, exec *executor.Executor, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    st,
		executor: exec,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// Start begins the poll loop in a background goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop signals the poll loop to stop and waits for any in-flight fan-out
// goroutines it has already started to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick selects every due scout and fires one independent invocation per
// scout. It does not wait for any of them to finish.
func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.store.ListDueScouts(ctx, time.Now())
	if err != nil {
		d.logger.Error("list due scouts failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	d.logger.Info("dispatching due scouts", "count", len(due))
	for _, scout := range due {
		d.wg.Add(1)
		go func(scoutID string) {
			defer d.wg.Done()
			d.invoke(ctx, scoutID)
		}(scout.ID)
	}
}

// invoke runs a single scout's executor invocation with its own background
// context, detached from the tick that spawned it, so a slow or cancelled
// poll loop doesn't abort an in-flight run.
func (d *Dispatcher) invoke(_ context.Context, scoutID string) {
	runCtx := context.Background()
	outcome, err := d.executor.Run(runCtx, scoutID)
	if err != nil {
		d.logger.Error("executor invocation failed", "scout_id", scoutID, "error", err)
		return
	}
	if outcome.Status == executor.StatusAlreadyRunning {
		d.logger.Warn("scout already running, skipped", "scout_id", scoutID)
	}
}

// Reaper independently reclaims executions stuck in running past a stale
// threshold, preventing a crashed executor from blocking all future runs
// of a scout.
type Reaper struct {
	store      store.Store
	interval   time.Duration
	staleAfter time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewReaper builds a Reaper. interval is the scan cadence (spec.md calls
// for five minutes); staleAfter is how long an execution may sit in
// running before it is considered stuck (spec.md: 2x the executor wall
// limit).
func NewReaper(st store.Store, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{
		store:      st,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
		logger:     slog.Default().With("component", "reaper"),
	}
}

// Start begins the scan loop in a background goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the scan loop to stop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	reclaimed, err := r.store.ReapStaleRunning(ctx, time.Now(), r.staleAfter)
	if err != nil {
		r.logger.Error("reap stale running failed", "error", err)
		return
	}
	if reclaimed > 0 {
		r.logger.Warn("reclaimed stale running executions", "count", reclaimed)
	}
}

// DefaultIntervals derives the dispatcher and reaper cadences from
// config.SchedulingConfig, falling back to spec.md's named defaults
// (1-minute dispatch, 5-minute reap, stale-after = 2x the wall limit)
// when a field is unset.
func DefaultIntervals(cfg config.SchedulingConfig) (dispatch, reap, staleAfter time.Duration) {
	dispatch = cfg.DispatchInterval
	if dispatch <= 0 {
		dispatch = time.Minute
	}
	reap = cfg.ReapInterval
	if reap <= 0 {
		reap = 5 * time.Minute
	}
	staleAfter = cfg.StaleAfter
	if staleAfter <= 0 {
		wallLimit := cfg.ExecutorWallLimit
		if wallLimit <= 0 {
			wallLimit = 300 * time.Second
		}
		staleAfter = 2 * wallLimit
	}
	return dispatch, reap, staleAfter
}
