// Package pipeline drives the frame loop: it sizes the surfaces from the
// first frame, compiles the per-frame plan once, submits it for every later
// frame and routes results to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backplate/internal/background"
	"backplate/internal/compute"
	"backplate/internal/histogram"
	"backplate/internal/logger"
	"backplate/internal/surface"
	"backplate/internal/video"
)

// State is the lifecycle phase of a run.
type State int

const (
	StateInit State = iota
	StateSteady
	StateDrain
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSteady:
		return "STEADY"
	case StateDrain:
		return "DRAIN"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameSource yields frames in order. Next returns video.ErrEndOfStream when
// exhausted; any other error is a decode fault.
type FrameSource interface {
	Next() (*video.Frame, error)
	FrameRate() float64
}

// Sink consumes results. Emit is called once for every frame after the
// first, Flush once with the final result in DRAIN, Close exactly once at
// the end of the run.
type Sink interface {
	Emit(result compute.Image, input *video.Frame) error
	Flush(result compute.Image) error
	Close() error
}

// Options selects the stages of a run and their parameters.
type Options struct {
	Background bool
	Deflicker  bool

	// Weight is per second of video; the estimator uses Weight*fps.
	Weight     float64
	Threshold  int
	JoinWeight int
}

func (o Options) mode() surface.Mode {
	return surface.Mode{Background: o.Background, Deflicker: o.Deflicker}
}

// Driver runs one pass over a frame source. It is not reusable.
type Driver struct {
	session *compute.Session
	source  FrameSource
	sinks   []Sink
	opts    Options
	logger  logger.Logger

	state     State
	set       *surface.Set
	histogram *histogram.Engine
	estimator *background.Estimator
	plan      *compute.Plan
	frame     *video.Frame
	flicker   flickerMeter
	report    *Report
}

func NewDriver(session *compute.Session, source FrameSource, sinks []Sink, opts Options, log logger.Logger) (*Driver, error) {
	if session == nil {
		return nil, errors.New("pipeline: nil session")
	}
	if source == nil {
		return nil, errors.New("pipeline: nil frame source")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{
		session: session,
		source:  source,
		sinks:   sinks,
		opts:    opts,
		logger:  log,
		state:   StateInit,
	}, nil
}

func (d *Driver) State() State { return d.state }

// Run processes the whole source. Cancelling ctx ends the frame loop after
// the current frame and still drains. A decode fault after the first frame
// also drains and is recorded in the report. A failing compute operation
// aborts without flushing; sinks are closed and the error is returned.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	d.report = newReport(d.opts.mode(), d.session.DeviceName())
	d.logger.Info("PipelineDriver", "run started", map[string]interface{}{
		"run_id": d.report.RunID.String(),
		"mode":   d.report.Mode,
		"device": d.report.Device,
	})

	if err := d.init(); err != nil {
		return d.fail(err)
	}

	d.transition(StateSteady)
	if err := d.steady(ctx); err != nil {
		return d.fail(err)
	}

	d.transition(StateDrain)
	err := d.drain()
	d.finish()
	if err != nil {
		return d.report, err
	}
	return d.report, nil
}

func (d *Driver) init() error {
	first, err := d.source.Next()
	if err != nil {
		return fmt.Errorf("%w: no first frame: %v", video.ErrMalformedInput, err)
	}
	d.frame = first

	fps := d.source.FrameRate()
	d.report.Width, d.report.Height, d.report.FrameRate = first.Width, first.Height, fps

	d.set = surface.NewSet(d.opts.mode(), d.logger)
	if err := d.set.Allocate(first.Image); err != nil {
		return err
	}

	if d.opts.Deflicker {
		if d.histogram, err = histogram.NewEngine(d.session, d.opts.JoinWeight); err != nil {
			return err
		}
		if err := d.histogram.Seed(d.set); err != nil {
			return err
		}
	}
	if d.opts.Background {
		if d.estimator, err = background.NewEstimator(d.session, d.opts.Weight, fps, d.opts.Threshold); err != nil {
			return err
		}
	}

	if d.plan, err = d.buildPlan(); err != nil {
		return err
	}
	d.logger.Debug("PipelineDriver", "frame plan compiled", map[string]interface{}{
		"ops":  d.plan.Len(),
		"plan": d.plan.String(),
	})

	// frame 1 is not emitted; its result is the starting point of the
	// flicker measurement only
	d.flicker.observe(first.Image, first.Image)
	d.report.Frames = 1
	return nil
}

func (d *Driver) buildPlan() (*compute.Plan, error) {
	p := compute.NewPlan("frame")
	p.Add(compute.WriteImageOp(surface.Frame, d.hostFrame, surface.Current, d.set.Current, surface.ErrResolutionMismatch))

	if d.histogram != nil {
		if err := d.histogram.AppendDeflicker(p, d.set); err != nil {
			return nil, err
		}
	}
	if d.estimator != nil {
		if err := d.estimator.AppendUpdate(p, d.set); err != nil {
			return nil, err
		}
	}

	id, final := d.set.Final()
	p.Add(compute.ReadImageOp(id, final, surface.Result, d.set.Result))

	if err := p.Compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Driver) hostFrame() compute.Image { return d.frame.Image }

func (d *Driver) readback() error {
	id, final := d.set.Final()
	return d.session.Run(compute.ReadImageOp(id, final, surface.Result, d.set.Result))
}

func (d *Driver) steady(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.report.Cancelled = true
			d.logger.Info("PipelineDriver", "run cancelled", map[string]interface{}{
				"frames": d.report.Frames,
			})
			return nil
		}

		frame, err := d.source.Next()
		if errors.Is(err, video.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			d.report.DecodeFault = err
			d.logger.Warning("PipelineDriver", "decode fault, treating as end of stream", map[string]interface{}{
				"error":  err.Error(),
				"frames": d.report.Frames,
			})
			return nil
		}

		d.frame = frame
		if err := d.session.Submit(d.plan); err != nil {
			return fmt.Errorf("frame %d: %w", frame.Seq, err)
		}
		d.report.Frames++

		if err := d.emit(frame); err != nil {
			return err
		}
	}
}

func (d *Driver) emit(in *video.Frame) error {
	d.flicker.observe(in.Image, d.set.Result)
	for _, s := range d.sinks {
		if err := s.Emit(d.set.Result, in); err != nil {
			return fmt.Errorf("emit frame %d: %w", in.Seq, err)
		}
	}
	return nil
}

func (d *Driver) drain() error {
	if err := d.readback(); err != nil {
		d.closeSinks()
		return err
	}

	var first error
	for _, s := range d.sinks {
		if err := s.Flush(d.set.Result); err != nil && first == nil {
			first = fmt.Errorf("flush: %w", err)
		}
	}
	if err := d.closeSinks(); err != nil && first == nil {
		first = err
	}
	return first
}

func (d *Driver) closeSinks() error {
	var first error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Error("PipelineDriver", err, map[string]interface{}{"stage": "close sink"})
			if first == nil {
				first = fmt.Errorf("close sink: %w", err)
			}
		}
	}
	return first
}

func (d *Driver) fail(err error) (*Report, error) {
	d.closeSinks()
	d.report.Err = err
	d.logger.Error("PipelineDriver", err, map[string]interface{}{
		"run_id": d.report.RunID.String(),
		"state":  d.state.String(),
		"frames": d.report.Frames,
	})
	d.finish()
	return d.report, err
}

func (d *Driver) finish() {
	d.transition(StateDone)
	if d.set != nil {
		d.report.Surfaces = d.set.Stats()
		d.set.Release()
	}
	d.report.Flicker = d.flicker.stats()
	d.report.Timings = d.session.Tracker().Summaries()
	d.report.Elapsed = time.Since(d.report.Started)
	d.logger.Info("PipelineDriver", "run finished", d.report.Fields())
}

func (d *Driver) transition(next State) {
	d.logger.Debug("PipelineDriver", "state transition", map[string]interface{}{
		"from": d.state.String(),
		"to":   next.String(),
	})
	d.state = next
	d.report.FinalState = next
}
