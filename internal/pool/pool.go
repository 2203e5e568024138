// Package pool runs asynchronous tasks with a bounded number in flight.
package pool

import (
	"fmt"
	"sync"

	"github.com/velocols/colprofile/internal/logging"
)

// Task is one unit of work. A returned error or a panic is logged by the pool
// and never affects sibling tasks.
type Task func() error

// Stats is a snapshot of pool counters.
type Stats struct {
	Running    int
	Queued     int
	Completed  int
	Failed     int
	MaxRunning int // Highest number of simultaneously running tasks observed
}

// Pool starts at most concurrency tasks at once and buffers the rest in FIFO order.
// When a task finishes, the next queued task is promoted immediately.
type Pool struct {
	concurrency int
	logger      *logging.Logger

	mu        sync.Mutex
	idle      *sync.Cond // Broadcast when running == 0 and queue is empty
	queue     []Task
	running   int
	completed int
	failed    int
	maxSeen   int
}

// New creates a pool. Concurrency below 1 is raised to 1 (sequential execution).
func New(concurrency int, logger *logging.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Pool{
		concurrency: concurrency,
		logger:      logger,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Concurrency returns the configured in-flight cap.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Submit starts task now if a slot is free, otherwise queues it.
func (p *Pool) Submit(task Task) {
	if task == nil {
		return
	}

	p.mu.Lock()
	if p.running < p.concurrency {
		p.running++
		if p.running > p.maxSeen {
			p.maxSeen = p.running
		}
		p.mu.Unlock()
		go p.run(task)
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
}

// run executes task and then keeps the slot busy with queued work until the queue drains.
func (p *Pool) run(task Task) {
	for task != nil {
		err := p.execute(task)

		p.mu.Lock()
		if err != nil {
			p.failed++
		} else {
			p.completed++
		}

		if len(p.queue) > 0 {
			task = p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
		} else {
			task = nil
			p.running--
			if p.running == 0 {
				p.idle.Broadcast()
			}
		}
		p.mu.Unlock()
	}
}

// execute runs one task, converting a panic into an error.
func (p *Pool) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		if err != nil {
			p.logger.Error().Err(err).Msg("pool task failed")
		}
	}()
	return task()
}

// Wait blocks until every submitted task, including tasks queued while waiting,
// has finished. Returns immediately when nothing is running or queued.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.running > 0 || len(p.queue) > 0 {
		p.idle.Wait()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Running:    p.running,
		Queued:     len(p.queue),
		Completed:  p.completed,
		Failed:     p.failed,
		MaxRunning: p.maxSeen,
	}
}
