package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// pool runs tasks on at most maxWorkers goroutines. Admission is bounded by a
// semaphore sized for the workers plus the queue, so submit never blocks.
// Idle workers exit after keepAlive and are started again on demand.
type pool struct {
	sem        *semaphore.Weighted
	maxWorkers int
	keepAlive  time.Duration
	queue      chan *task
	run        func(*task)

	mu      sync.Mutex
	workers int
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func newPool(workers, queueLength int, keepAlive time.Duration, run func(*task)) *pool {
	capacity := workers + queueLength
	return &pool{
		sem:        semaphore.NewWeighted(int64(capacity)),
		maxWorkers: workers,
		keepAlive:  keepAlive,
		queue:      make(chan *task, capacity),
		run:        run,
		quit:       make(chan struct{}),
	}
}

// submit queues t, starting a worker if fewer than maxWorkers are alive.
func (p *pool) submit(t *task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.sem.TryAcquire(1) {
		return ErrRejected
	}
	poolInFlight.Inc()
	// The queue holds as many tasks as the semaphore admits, so this send
	// never blocks.
	p.queue <- t
	if p.workers < p.maxWorkers {
		p.spawnLocked()
	}
	return nil
}

func (p *pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.work()
}

func (p *pool) work() {
	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()

	for {
		select {
		case t := <-p.queue:
			if !p.execute(t) {
				// Abandoned: this goroutine no longer counts as a worker.
				return
			}
			idle.Reset(p.keepAlive)
		case <-idle.C:
			if p.retire() {
				return
			}
			idle.Reset(p.keepAlive)
		case <-p.quit:
			if p.retire() {
				return
			}
			// Drain what is still queued before exiting.
			select {
			case t := <-p.queue:
				if !p.execute(t) {
					return
				}
			default:
			}
		}
	}
}

// execute runs t and reports whether this worker still owns its slot.
func (p *pool) execute(t *task) bool {
	p.run(t)
	kept := t.finish()
	if kept {
		p.release()
	}
	t.end()
	return kept
}

func (p *pool) release() {
	p.sem.Release(1)
	poolInFlight.Dec()
}

// retire lets an idle worker exit unless work is waiting.
func (p *pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		return false
	}
	p.workers--
	p.wg.Done()
	return true
}

// abandon gives up on the worker running t: the slot is released and a
// replacement worker may start. It reports false if t finished first.
func (p *pool) abandon(t *task) bool {
	if !t.abandon() {
		return false
	}
	p.release()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers--
	p.wg.Done()
	if !p.closed && len(p.queue) > 0 && p.workers < p.maxWorkers {
		p.spawnLocked()
	}
	return true
}

// size returns the number of live workers.
func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// close stops accepting tasks and waits for the workers to drain the queue
// and exit, or for ctx to end.
func (p *pool) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
