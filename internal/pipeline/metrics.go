package pipeline

import (
	"math"

	"backplate/internal/compute"
)

// FlickerStats is the mean absolute change of the global frame mean between
// consecutive frames, before and after processing. A working deflicker pass
// drives Output well below Input.
type FlickerStats struct {
	Input  float64
	Output float64
}

type flickerMeter struct {
	prevIn, prevOut float64
	sumIn, sumOut   float64
	steps           int
	seen            bool
}

func (m *flickerMeter) observe(in, out compute.Image) {
	mi, mo := meanSample(in), meanSample(out)
	if m.seen {
		m.sumIn += math.Abs(mi - m.prevIn)
		m.sumOut += math.Abs(mo - m.prevOut)
		m.steps++
	}
	m.prevIn, m.prevOut, m.seen = mi, mo, true
}

func (m *flickerMeter) stats() FlickerStats {
	if m.steps == 0 {
		return FlickerStats{}
	}
	return FlickerStats{
		Input:  m.sumIn / float64(m.steps),
		Output: m.sumOut / float64(m.steps),
	}
}

func meanSample(img compute.Image) float64 {
	if len(img.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range img.Pix {
		sum += float64(v)
	}
	return sum / float64(len(img.Pix))
}
