// Package background maintains a running estimate of the static scene behind
// a video. The estimate starts as the first frame and moves toward later
// frames wherever they differ from it by more than a threshold.
package background

import (
	"fmt"
	"math"

	"backplate/internal/compute"
	"backplate/internal/surface"
)

const (
	DefaultWeight    = 0.5
	DefaultThreshold = 1
)

// Estimator issues background kernels through a compute session.
type Estimator struct {
	session   *compute.Session
	program   compute.Program
	weight    float32
	threshold float32
}

// NewEstimator binds the per-second weight to the stream's frame rate: the
// effective per-frame weight is weight*fps. A weight of +Inf freezes the
// background at the first frame.
func NewEstimator(session *compute.Session, weight, fps float64, threshold int) (*Estimator, error) {
	if session == nil {
		return nil, fmt.Errorf("background estimator: nil session")
	}
	if math.IsNaN(weight) || weight <= 0 {
		return nil, fmt.Errorf("background estimator: weight %v must be positive", weight)
	}
	if math.IsNaN(fps) || fps <= 0 {
		return nil, fmt.Errorf("background estimator: frame rate %v must be positive", fps)
	}
	if threshold < 1 || threshold > 255 {
		return nil, fmt.Errorf("background estimator: threshold %d outside [1,255]", threshold)
	}
	return &Estimator{
		session:   session,
		program:   session.Program(),
		weight:    float32(weight * fps),
		threshold: float32(threshold),
	}, nil
}

// Weight returns the effective per-frame weight.
func (e *Estimator) Weight() float32 { return e.weight }

func (e *Estimator) Threshold() float32 { return e.threshold }

// Initialize copies img into background.
func (e *Estimator) Initialize(background, img compute.Image) error {
	return e.session.Run(compute.ReadImageOp("image", img, "background", background))
}

// Update runs one background step of img into background.
func (e *Estimator) Update(background, img compute.Image) error {
	return e.session.Run(e.updateOp("background", background, "image", img))
}

// AppendUpdate adds the background step for the set's current frame to p.
func (e *Estimator) AppendUpdate(p *compute.Plan, set *surface.Set) error {
	if !set.Has(surface.Background) {
		return fmt.Errorf("background: %w: %s", surface.ErrNotAllocated, surface.Background)
	}
	p.Add(e.updateOp(surface.Background, set.Background, surface.Current, set.Current))
	return nil
}

func (e *Estimator) updateOp(bgID compute.BufferID, background compute.Image, imgID compute.BufferID, img compute.Image) compute.Op {
	w, th := e.weight, e.threshold
	return compute.Op{
		Kernel: compute.KernelBacksub,
		Reads:  []compute.BufferID{imgID},
		Writes: []compute.BufferID{bgID},
		Run:    func() error { return e.program.Backsub(background, img, w, th) },
	}
}
