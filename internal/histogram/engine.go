// Package histogram implements per-channel histogram matching against a
// slowly adapting reference distribution.
package histogram

import (
	"fmt"

	"backplate/internal/compute"
	"backplate/internal/surface"
)

// DefaultJoinWeight is the merge weight used when none is configured.
const DefaultJoinWeight = 30

// Engine issues histogram kernels through a compute session. The direct
// methods run one synchronous operation each; Seed and AppendDeflicker work
// on the surfaces of a run.
type Engine struct {
	session    *compute.Session
	program    compute.Program
	joinWeight int32
}

func NewEngine(session *compute.Session, joinWeight int) (*Engine, error) {
	if session == nil {
		return nil, fmt.Errorf("histogram engine: nil session")
	}
	if joinWeight < 0 {
		return nil, fmt.Errorf("histogram engine: join weight %d is negative", joinWeight)
	}
	return &Engine{
		session:    session,
		program:    session.Program(),
		joinWeight: int32(joinWeight),
	}, nil
}

func (e *Engine) JoinWeight() int32 { return e.joinWeight }

// ComputeHistogram adds the counts of img into hist.
func (e *Engine) ComputeHistogram(hist compute.Histogram, img compute.Image) error {
	return e.session.Run(e.computeOp("hist", hist, "image", img))
}

// FinalizeToCDF converts hist into its per-channel running total in place.
func (e *Engine) FinalizeToCDF(hist compute.Histogram) error {
	return e.session.Run(e.finalizeOp("hist", hist))
}

// BuildLUT fills lut with the remap of the current CDF onto the reference CDF.
func (e *Engine) BuildLUT(referenceCDF, currentCDF compute.Histogram, lut compute.LUT) error {
	return e.session.Run(e.lutOp("referenceCDF", referenceCDF, "currentCDF", currentCDF, "lut", lut))
}

// ApplyLUT remaps every sample of img in place.
func (e *Engine) ApplyLUT(lut compute.LUT, img compute.Image) error {
	return e.session.Run(e.applyOp("lut", lut, "image", img))
}

// MergeHistogram folds current into reference with the engine's join weight.
func (e *Engine) MergeHistogram(reference, current compute.Histogram) error {
	return e.session.Run(e.mergeOp("reference", reference, "current", current))
}

// Seed records the first frame as the reference distribution. The first
// frame is not matched against anything.
func (e *Engine) Seed(set *surface.Set) error {
	if !set.Has(surface.ReferenceHistogram) {
		return fmt.Errorf("seed: %w: %s", surface.ErrNotAllocated, surface.ReferenceHistogram)
	}
	p := compute.NewPlan("seed_histogram").
		Add(compute.FillHistogramOp(surface.ReferenceHistogram, set.ReferenceHistogram, 0)).
		Add(e.computeOp(surface.ReferenceHistogram, set.ReferenceHistogram, surface.Current, set.Current))
	return e.session.Submit(p)
}

// AppendDeflicker adds the per-frame matching sequence to p:
// clear and accumulate the current histogram, snapshot both histograms into
// CDF scratch, finalize both, build the LUT, remap the current frame, then
// merge the current histogram into the reference.
func (e *Engine) AppendDeflicker(p *compute.Plan, set *surface.Set) error {
	for _, id := range []compute.BufferID{
		surface.ReferenceHistogram, surface.CurrentHistogram,
		surface.ReferenceCDF, surface.CurrentCDF, surface.LUT,
	} {
		if !set.Has(id) {
			return fmt.Errorf("deflicker: %w: %s", surface.ErrNotAllocated, id)
		}
	}

	p.Add(compute.FillHistogramOp(surface.CurrentHistogram, set.CurrentHistogram, 0)).
		Add(e.computeOp(surface.CurrentHistogram, set.CurrentHistogram, surface.Current, set.Current)).
		Add(compute.CopyHistogramOp(surface.ReferenceHistogram, set.ReferenceHistogram, surface.ReferenceCDF, set.ReferenceCDF)).
		Add(compute.CopyHistogramOp(surface.CurrentHistogram, set.CurrentHistogram, surface.CurrentCDF, set.CurrentCDF)).
		Add(e.finalizeOp(surface.ReferenceCDF, set.ReferenceCDF)).
		Add(e.finalizeOp(surface.CurrentCDF, set.CurrentCDF)).
		Add(e.lutOp(surface.ReferenceCDF, set.ReferenceCDF, surface.CurrentCDF, set.CurrentCDF, surface.LUT, set.LUT)).
		Add(e.applyOp(surface.LUT, set.LUT, surface.Current, set.Current)).
		Add(e.mergeOp(surface.ReferenceHistogram, set.ReferenceHistogram, surface.CurrentHistogram, set.CurrentHistogram))
	return nil
}

func (e *Engine) computeOp(histID compute.BufferID, hist compute.Histogram, imgID compute.BufferID, img compute.Image) compute.Op {
	return compute.Op{
		Kernel: compute.KernelComputeHistogram,
		Reads:  []compute.BufferID{imgID},
		Writes: []compute.BufferID{histID},
		Run:    func() error { return e.program.ComputeHistogram(hist, img) },
	}
}

func (e *Engine) finalizeOp(id compute.BufferID, hist compute.Histogram) compute.Op {
	return compute.Op{
		Kernel: compute.KernelFinalizeHistogram,
		Writes: []compute.BufferID{id},
		Run:    func() error { return e.program.FinalizeHistogram(hist) },
	}
}

func (e *Engine) lutOp(refID compute.BufferID, ref compute.Histogram, curID compute.BufferID, cur compute.Histogram, lutID compute.BufferID, lut compute.LUT) compute.Op {
	return compute.Op{
		Kernel: compute.KernelBuildLUT,
		Reads:  []compute.BufferID{refID, curID},
		Writes: []compute.BufferID{lutID},
		Run:    func() error { return e.program.BuildLUT(ref, cur, lut) },
	}
}

func (e *Engine) applyOp(lutID compute.BufferID, lut compute.LUT, imgID compute.BufferID, img compute.Image) compute.Op {
	return compute.Op{
		Kernel: compute.KernelDeflicker,
		Reads:  []compute.BufferID{lutID},
		Writes: []compute.BufferID{imgID},
		Run:    func() error { return e.program.Deflicker(lut, img) },
	}
}

func (e *Engine) mergeOp(refID compute.BufferID, ref compute.Histogram, curID compute.BufferID, cur compute.Histogram) compute.Op {
	jw := e.joinWeight
	return compute.Op{
		Kernel: compute.KernelJoinHistogram,
		Reads:  []compute.BufferID{curID},
		Writes: []compute.BufferID{refID},
		Run:    func() error { return e.program.JoinHistogram(ref, cur, jw) },
	}
}
