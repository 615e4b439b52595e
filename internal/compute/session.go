package compute

import (
	"fmt"
	"sync"

	"backplate/internal/logger"
	"backplate/internal/timing"
)

// Selector picks one device of one platform by index.
type Selector struct {
	Platform int
	Device   int
}

// Session owns the selected device, its built program and the run's single
// queue. It is created by Acquire and must be released by its owner.
type Session struct {
	platform Platform
	device   Device
	program  Program
	queue    *Queue
	tracker  *timing.Tracker
	logger   logger.Logger

	// mu is held shared by every submission, so Release waits for the
	// plan in flight before freeing the program.
	mu       sync.RWMutex
	released bool
}

// Acquire selects a device and builds the kernel program once. An index out
// of range fails with ErrDeviceUnavailable; nothing is retried.
func Acquire(platforms []Platform, sel Selector, tracker *timing.Tracker, log logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Nop()
	}
	if tracker == nil {
		tracker = timing.NewTracker()
	}

	if sel.Platform < 0 || sel.Platform >= len(platforms) {
		return nil, fmt.Errorf("%w: platform %d of %d", ErrDeviceUnavailable, sel.Platform, len(platforms))
	}
	platform := platforms[sel.Platform]

	devices := platform.Devices()
	if sel.Device < 0 || sel.Device >= len(devices) {
		return nil, fmt.Errorf("%w: device %d of %d on %s", ErrDeviceUnavailable, sel.Device, len(devices), platform.Name())
	}
	device := devices[sel.Device]

	program, err := device.Build()
	if err != nil {
		return nil, fmt.Errorf("build program on %s: %w", device.Name(), err)
	}

	log.Info("ComputeSession", "session acquired", map[string]interface{}{
		"platform": platform.Name(),
		"device":   device.Name(),
	})

	return &Session{
		platform: platform,
		device:   device,
		program:  program,
		queue:    newQueue(tracker, log),
		tracker:  tracker,
		logger:   log,
	}, nil
}

func (s *Session) Program() Program { return s.program }

func (s *Session) Queue() *Queue { return s.queue }

func (s *Session) Tracker() *timing.Tracker { return s.tracker }

// DeviceName returns "platform/device".
func (s *Session) DeviceName() string {
	return s.platform.Name() + "/" + s.device.Name()
}

// Submit compiles p if needed and runs it on the session queue.
func (s *Session) Submit(p *Plan) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return ErrSessionReleased
	}

	if !p.compiled {
		if err := p.Compile(); err != nil {
			return err
		}
	}
	return s.queue.Submit(p)
}

// Run submits a single operation.
func (s *Session) Run(op Op) error {
	return s.Submit(NewPlan(op.Kernel).Add(op))
}

// Release frees the program once the plan in flight, if any, has finished.
// It is safe to call more than once and from another goroutine.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	plans, ops := s.queue.Stats()
	s.logger.Info("ComputeSession", "session released", map[string]interface{}{
		"device": s.DeviceName(),
		"plans":  plans,
		"ops":    ops,
	})

	return s.program.Release()
}

// Shutdown lets the session be registered with a shutdown manager.
func (s *Session) Shutdown() {
	if err := s.Release(); err != nil {
		s.logger.Error("ComputeSession", err, nil)
	}
}
