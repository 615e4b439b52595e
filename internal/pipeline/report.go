package pipeline

import (
	"time"

	"github.com/google/uuid"

	"backplate/internal/surface"
	"backplate/internal/timing"
)

// Report summarizes one run.
type Report struct {
	RunID  uuid.UUID
	Mode   string
	Device string

	Width     int
	Height    int
	FrameRate float64

	// Frames counts processed input frames, the first one included.
	Frames      int
	Cancelled   bool
	DecodeFault error
	Err         error
	FinalState  State

	Started  time.Time
	Elapsed  time.Duration
	Timings  []timing.Summary
	Surfaces surface.Stats
	Flicker  FlickerStats
}

func newReport(mode surface.Mode, device string) *Report {
	return &Report{
		RunID:      uuid.New(),
		Mode:       mode.String(),
		Device:     device,
		FinalState: StateInit,
		Started:    time.Now(),
	}
}

// Fields renders the report as structured log fields.
func (r *Report) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":         r.RunID.String(),
		"mode":           r.Mode,
		"device":         r.Device,
		"frames":         r.Frames,
		"cancelled":      r.Cancelled,
		"state":          r.FinalState.String(),
		"elapsed":        r.Elapsed.String(),
		"surface_bytes":  r.Surfaces.Bytes,
		"input_flicker":  r.Flicker.Input,
		"output_flicker": r.Flicker.Output,
	}
	if r.DecodeFault != nil {
		fields["decode_fault"] = r.DecodeFault.Error()
	}
	if r.Err != nil {
		fields["error"] = r.Err.Error()
	}
	for _, s := range r.Timings {
		fields["avg_"+s.Operation] = s.Average.String()
	}
	return fields
}
