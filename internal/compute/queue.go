package compute

import (
	"fmt"
	"sync"
	"sync/atomic"

	"backplate/internal/logger"
	"backplate/internal/timing"
)

// Queue is the single execution queue of a session. Submit blocks until the
// whole plan has completed, so buffers written by the plan are safe to read
// on return.
type Queue struct {
	mu      sync.Mutex
	tracker *timing.Tracker
	logger  logger.Logger
	plans   uint64
	ops     atomic.Uint64
}

func newQueue(tracker *timing.Tracker, log logger.Logger) *Queue {
	return &Queue{tracker: tracker, logger: log}
}

// Submit runs a compiled plan wave by wave. The first failing operation
// aborts the plan; later waves are not started.
func (q *Queue) Submit(p *Plan) error {
	if !p.compiled {
		return fmt.Errorf("%s: %w", p.name, ErrPlanNotCompiled)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.plans++
	for _, wave := range p.waves {
		if err := q.runWave(p, wave); err != nil {
			q.logger.Error("Queue", err, map[string]interface{}{
				"plan": p.name,
			})
			return err
		}
	}
	return nil
}

func (q *Queue) runWave(p *Plan, wave []int) error {
	if len(wave) == 1 {
		return q.runOp(p, wave[0])
	}

	errs := make([]error, len(wave))
	var wg sync.WaitGroup
	wg.Add(len(wave))
	for k, i := range wave {
		go func(k, i int) {
			defer wg.Done()
			errs[k] = q.runOp(p, i)
		}(k, i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) runOp(p *Plan, i int) (err error) {
	op := p.ops[i]
	span := q.tracker.Start(op.Kernel)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &KernelError{Plan: p.name, Kernel: op.Kernel, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if runErr := op.Run(); runErr != nil {
		return &KernelError{Plan: p.name, Kernel: op.Kernel, Err: runErr}
	}

	q.ops.Add(1)
	return nil
}

// Stats returns the number of plans submitted and operations completed.
func (q *Queue) Stats() (plans, ops uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.plans, q.ops.Load()
}
