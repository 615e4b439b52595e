package cpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed is returned when work is submitted after Close.
	ErrPoolClosed = errors.New("cpu: worker pool closed")

	// ErrWorkPanic is returned when a work item panics on a worker.
	ErrWorkPanic = errors.New("cpu: work item panicked")
)

// WorkerPool is a pool of goroutines executing kernel work items.
//
// Each worker owns a queue and steals from the others when its own queue is
// empty, which keeps row bands of uneven cost balanced.
//
// Thread safety: WorkerPool is safe for concurrent use. Work items must not
// submit work to the same pool.
type WorkerPool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
	closeOnce  sync.Once
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]

	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return

		case work := <-myQueue:
			work()

		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				work()
			}
		}
	}
}

func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll distributes work across workers and waits for all of it.
func (p *WorkerPool) ExecuteAll(work []func()) error {
	if !p.running.Load() {
		return ErrPoolClosed
	}
	if len(work) == 0 {
		return nil
	}

	var (
		completion sync.WaitGroup
		panicOnce  sync.Once
		panicErr   error
	)
	completion.Add(len(work))

	for i, fn := range work {
		wrapped := func() {
			defer completion.Done()
			// a panic must not take the worker down with it
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicErr = fmt.Errorf("%w: %v", ErrWorkPanic, r) })
				}
			}()
			fn()
		}

		select {
		case p.workQueues[i%p.workers] <- wrapped:
		case <-p.done:
			// Closing: run it here so the caller still gets a complete result.
			wrapped()
		}
	}

	completion.Wait()
	return panicErr
}

// Bands splits n rows into at most parts contiguous [start,end) ranges and
// runs fn for each on the pool.
func (p *WorkerPool) Bands(n, parts int, fn func(start, end int)) error {
	if n <= 0 {
		return nil
	}
	if parts <= 0 || parts > n {
		parts = n
	}

	size := (n + parts - 1) / parts
	work := make([]func(), 0, parts)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		work = append(work, func() { fn(start, end) })
	}
	return p.ExecuteAll(work)
}

// Close stops the workers after their queues drain.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.running.Store(false)
		close(p.done)
		p.wg.Wait()
	})
}
