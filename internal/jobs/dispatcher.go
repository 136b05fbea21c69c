package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/pkg/log"
)

type Executor func(ctx context.Context, job *Job) error

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateExecuting
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateExecuting:
		return "executing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultPollInterval = 2 * time.Second
	defaultGracePeriod  = 5 * time.Second
)

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workerCount = n
		}
	}
}

func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

func WithGracePeriod(grace time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if grace > 0 {
			d.gracePeriod = grace
		}
	}
}

// Dispatcher runs poll loops that claim queued jobs from the store and hand
// them to an Executor one at a time per loop.
type Dispatcher struct {
	store        Store
	workerCount  int
	pollInterval time.Duration
	gracePeriod  time.Duration

	mu      sync.Mutex
	started bool
	states  []atomic.Int32

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(store Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		workerCount:  1,
		pollInterval: defaultPollInterval,
		gracePeriod:  defaultGracePeriod,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.states = make([]atomic.Int32, d.workerCount)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start launches the poll loops. Calling it twice is a no-op.
func (d *Dispatcher) Start(exec Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := range d.workerCount {
		d.wg.Add(1)
		go d.worker(i, exec)
	}
	log.Info("Dispatcher started with %d worker(s), poll interval %s", d.workerCount, d.pollInterval)
}

// Stop signals the loops, cancels in-flight executions and waits up to the
// grace period. It returns false when the loops did not exit in time.
func (d *Dispatcher) Stop() bool {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.cancel()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Dispatcher stopped")
		return true
	case <-time.After(d.gracePeriod):
		log.Warn("Dispatcher did not stop within %s, abandoning in-flight work", d.gracePeriod)
		return false
	}
}

// State summarizes the loops: executing wins over polling, polling over sleeping.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return StateIdle
	}

	stopped := 0
	best := StateStopped
	for i := range d.states {
		s := State(d.states[i].Load())
		switch s {
		case StateStopped:
			stopped++
		case StateExecuting:
			return StateExecuting
		case StatePolling:
			best = StatePolling
		case StateSleeping, StateIdle:
			if best != StatePolling {
				best = StateSleeping
			}
		}
	}
	if stopped == len(d.states) {
		return StateStopped
	}
	return best
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(idx int, exec Executor) {
	defer d.wg.Done()
	defer d.states[idx].Store(int32(StateStopped))

	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	for !d.stopping() {
		d.states[idx].Store(int32(StatePolling))
		job, err := d.store.ClaimNextQueued(d.ctx)
		if err != nil {
			if d.stopping() {
				return
			}
			metrics.IncClaim("error")
			log.Error("Failed to claim next job: %v", err)
			job = nil
		}

		if job == nil {
			if err == nil {
				metrics.IncClaim("empty")
			}
			d.states[idx].Store(int32(StateSleeping))
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.pollInterval)
			select {
			case <-d.stopCh:
				return
			case <-timer.C:
			}
			continue
		}

		metrics.IncClaim("claimed")
		d.states[idx].Store(int32(StateExecuting))
		d.execute(exec, job)
	}
}

func (d *Dispatcher) execute(exec Executor, job *Job) {
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic: %v", r)
			}
		}()
		execErr = exec(d.ctx, job)
	}()

	if execErr == nil {
		return
	}
	log.Error("Executor failed for job %s: %v", job.ID, execErr)
	d.markFailed(job.ID, execErr)
}

// markFailed makes sure a job whose executor bailed out does not stay processing.
// Jobs the executor already finalized are left alone.
func (d *Dispatcher) markFailed(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.store.UpdateStatus(ctx, id, StatusFailed, Fields{}.WithError(cause.Error()))
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Error("Failed to mark job %s failed: %v", id, err)
	}
}
