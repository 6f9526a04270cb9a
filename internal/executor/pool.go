// Package executor provides the bounded-concurrency pool that drives
// workflow tasks through the pipeline. The pool polls the queue, admits up
// to its free slots, and runs one worker goroutine per admitted task until
// the task reaches a terminal phase.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chimeradev/chimera/internal/config"
	"github.com/chimeradev/chimera/internal/pipeline"
	"github.com/chimeradev/chimera/internal/store"
)

// Pool schedules workflow execution with a fixed concurrency ceiling.
type Pool struct {
	store  *store.Store
	driver *pipeline.Driver
	cfg    config.Pool
	logger *logrus.Logger

	sem  chan struct{} // admission gate, sized to the ceiling
	hint chan struct{} // nudges the poll loop after an enqueue
	done chan struct{}
	wg   sync.WaitGroup // in-flight workers
	loop sync.WaitGroup // poll loop goroutine

	mu            sync.Mutex
	running       bool
	active        int
	processed     int64
	succeeded     int64
	failed        int64
	totalDuration time.Duration
}

// NewPool creates an executor pool over the given queue and driver.
func NewPool(st *store.Store, driver *pipeline.Driver, cfg config.Pool, logger *logrus.Logger) *Pool {
	return &Pool{
		store:  st,
		driver: driver,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.Size()),
		hint:   make(chan struct{}, 1),
	}
}

// Start begins the poll loop. Calling Start on a running pool is a no-op.
// Tasks left RUNNING by a crashed worker are re-queued first, so they are
// re-admitted instead of staying claimed forever.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	if n, err := p.store.ReclaimStale(p.cfg.StaleAfter()); err != nil {
		p.logger.WithError(err).Warn("reclaim stale workflows")
	} else if n > 0 {
		p.logger.WithField("count", n).Info("re-queued stale workflows")
	}

	p.loop.Add(1)
	go p.pollLoop()

	p.logger.WithField("pool_size", p.cfg.Size()).Info("executor pool started")
	return nil
}

// Stop requests graceful shutdown: admission stops immediately, in-flight
// workers exit after persisting their current phase step, and Stop returns
// once all workers drained or the shutdown timeout elapsed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.done)
	p.mu.Unlock()

	p.loop.Wait()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("executor pool stopped")
	case <-time.After(p.cfg.ShutdownTimeout()):
		p.logger.Warn("executor pool stopped with workers still in flight")
	}
}

// Submit hints the pool that a just-enqueued task is ready, so it is
// considered before the next poll tick. Admission still goes through the
// queue claim, so the concurrency ceiling holds.
func (p *Pool) Submit(task *store.WorkflowTask) {
	select {
	case p.hint <- struct{}{}:
	default: // a nudge is already pending
	}
}

func (p *Pool) pollLoop() {
	defer p.loop.Done()

	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	for {
		p.admit()
		select {
		case <-p.done:
			return
		case <-ticker.C:
		case <-p.hint:
		}
	}
}

// admit claims up to the number of free slots and launches one worker per
// claimed task. The ceiling is enforced by never asking the queue for more
// tasks than there are free slots.
func (p *Pool) admit() {
	free := p.AvailableSlots()
	if free == 0 {
		return
	}

	tasks, err := p.store.DequeueReady(free)
	if err != nil {
		p.logger.WithError(err).Error("dequeue ready workflows")
		return
	}

	for _, task := range tasks {
		p.sem <- struct{}{}
		p.mu.Lock()
		p.active++
		p.mu.Unlock()

		p.wg.Add(1)
		go p.runWorkflow(task)
	}
}

// runWorkflow drives a single task phase by phase until terminal, then
// records the outcome. Shutdown is checked between phase steps only, so the
// persisted state is never ambiguous.
func (p *Pool) runWorkflow(task store.WorkflowTask) {
	start := time.Now()
	if task.ClaimedAt != nil {
		start = *task.ClaimedAt
	}

	log := p.logger.WithField("workflow", task.ID)
	log.WithField("phase", task.Phase).Info("workflow admitted")

	defer func() {
		<-p.sem
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.wg.Done()
	}()

	for !task.Phase.Terminal() {
		select {
		case <-p.done:
			// Leave the task RUNNING at its persisted phase; the stale
			// claim is reclaimed on the next Start.
			log.WithField("phase", task.Phase).Info("workflow parked for shutdown")
			return
		default:
		}

		if err := p.stepOnce(&task, log); err != nil {
			p.failWorkflow(&task, err, log)
			p.recordOutcome(false, time.Since(start))
			return
		}
	}

	if task.Phase == store.PhaseFailed {
		// A recovered task can resume already at FAILED.
		p.failWorkflow(&task, errors.New("workflow resumed in failed phase"), log)
		p.recordOutcome(false, time.Since(start))
		return
	}

	if err := p.store.Complete(task.ID, true); err != nil {
		log.WithError(err).Error("mark workflow completed")
	}
	p.recordOutcome(true, time.Since(start))
	log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("workflow completed")
}

// stepOnce runs the current phase with the retry policy: transient failures
// retry with doubling backoff until the retry budget is spent, permanent
// failures (review rejection, failed validation, contract violations) fail
// immediately.
func (p *Pool) stepOnce(task *store.WorkflowTask, log *logrus.Entry) error {
	backoff := p.cfg.RetryBackoff()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PhaseTimeout())
		step, err := p.driver.Run(ctx, task)
		cancel()

		if err == nil {
			return p.persistStep(task, step, log)
		}

		if pipeline.IsPermanent(err) {
			return err
		}

		count, rerr := p.store.RecordRetry(task.ID, err.Error())
		if rerr != nil {
			log.WithError(rerr).Error("record retry")
			return err
		}
		task.RetryCount = count
		if count > p.cfg.RetryLimit() {
			return fmt.Errorf("phase %s failed after %d retries: %w", task.Phase, p.cfg.RetryLimit(), err)
		}

		log.WithFields(logrus.Fields{
			"phase":   task.Phase,
			"attempt": count,
			"backoff": backoff,
		}).WithError(err).Warn("phase failed, retrying")

		select {
		case <-p.done:
			return nil // re-checked by the worker loop, which parks the task
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// persistStep durably records the transition before the next phase may run.
func (p *Pool) persistStep(task *store.WorkflowTask, step pipeline.Step, log *logrus.Entry) error {
	if err := p.store.UpdatePhase(task.ID, step.Next, step.Patch); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Contract violation: fail the task rather than leave it
			// inconsistent.
			return &pipeline.PermanentError{Reason: err.Error()}
		}
		return err
	}

	fresh, err := p.store.Get(task.ID)
	if err != nil {
		return err
	}
	*task = *fresh

	log.WithField("phase", task.Phase).Debug("phase advanced")
	return nil
}

// failWorkflow moves the task to the FAILED phase and terminal status,
// recording the final error in the workflow context.
func (p *Pool) failWorkflow(task *store.WorkflowTask, cause error, log *logrus.Entry) {
	log.WithField("phase", task.Phase).WithError(cause).Error("workflow failed")

	if task.Phase != store.PhaseFailed {
		patch := map[string]any{"failure_reason": cause.Error()}
		if err := p.store.UpdatePhase(task.ID, store.PhaseFailed, patch); err != nil {
			log.WithError(err).Error("mark workflow phase failed")
		}
	}
	if err := p.store.Complete(task.ID, false); err != nil {
		log.WithError(err).Error("mark workflow failed")
	}
}

func (p *Pool) recordOutcome(succeeded bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	if succeeded {
		p.succeeded++
	} else {
		p.failed++
	}
	p.totalDuration += duration
}

// ActiveCount returns the number of workflows currently holding a slot.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// AvailableSlots returns how many more workflows may be admitted right now.
func (p *Pool) AvailableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Size() - p.active
}
