package background

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backplate/internal/compute"
	"backplate/internal/compute/cpu"
	"backplate/internal/surface"
)

func newSession(t *testing.T) *compute.Session {
	t.Helper()
	session, err := compute.Acquire([]compute.Platform{cpu.NewPlatform(2)}, compute.Selector{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Release() })
	return session
}

func filled(t *testing.T, w, h int, v float32) compute.Image {
	t.Helper()
	img, err := compute.NewImage(w, h)
	require.NoError(t, err)
	img.Fill(v)
	return img
}

func TestNewEstimatorValidates(t *testing.T) {
	s := newSession(t)

	_, err := NewEstimator(s, 0, 30, 1)
	assert.Error(t, err)
	_, err = NewEstimator(s, math.NaN(), 30, 1)
	assert.Error(t, err)
	_, err = NewEstimator(s, 1, 0, 1)
	assert.Error(t, err)
	_, err = NewEstimator(s, 1, 30, 0)
	assert.Error(t, err)
	_, err = NewEstimator(s, 1, 30, 256)
	assert.Error(t, err)

	e, err := NewEstimator(s, 0.5, 30, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 15, e.Weight())
	assert.EqualValues(t, 1, e.Threshold())
}

func TestInitializeCopiesFrame(t *testing.T) {
	e, err := NewEstimator(newSession(t), DefaultWeight, 30, DefaultThreshold)
	require.NoError(t, err)

	img := filled(t, 3, 2, 42)
	img.Pix[4] = 7
	bg := filled(t, 3, 2, 0)
	require.NoError(t, e.Initialize(bg, img))
	assert.Equal(t, img.Pix, bg.Pix)
}

// Changes larger than the threshold move the background; smaller ones are
// treated as noise and ignored.
func TestUpdateGatesOnThreshold(t *testing.T) {
	e, err := NewEstimator(newSession(t), 1, 1, 5)
	require.NoError(t, err)

	bg := filled(t, 1, 1, 100)
	img := filled(t, 1, 1, 104)
	require.NoError(t, e.Update(bg, img))
	assert.Equal(t, []float32{100, 100, 100}, bg.Pix)

	img.Fill(110)
	require.NoError(t, e.Update(bg, img))
	assert.Equal(t, []float32{105, 105, 105}, bg.Pix)
}

func TestStaticSceneConverges(t *testing.T) {
	e, err := NewEstimator(newSession(t), 0.1, 10, DefaultThreshold)
	require.NoError(t, err)

	bg := filled(t, 4, 4, 0)
	scene := filled(t, 4, 4, 200)
	prev := float32(200)
	for i := 0; i < 60; i++ {
		require.NoError(t, e.Update(bg, scene))
		gap := scene.Pix[0] - bg.Pix[0]
		assert.LessOrEqual(t, gap, prev)
		prev = gap
	}
	// stops within the threshold of the scene
	assert.InDelta(t, 200, bg.Pix[0], DefaultThreshold+0.5)
}

func TestInfiniteWeightFreezes(t *testing.T) {
	e, err := NewEstimator(newSession(t), math.Inf(1), 30, DefaultThreshold)
	require.NoError(t, err)

	bg := filled(t, 2, 2, 50)
	require.NoError(t, e.Update(bg, filled(t, 2, 2, 250)))
	assert.Equal(t, filled(t, 2, 2, 50).Pix, bg.Pix)
}

func TestAppendUpdateRequiresBackground(t *testing.T) {
	e, err := NewEstimator(newSession(t), DefaultWeight, 30, DefaultThreshold)
	require.NoError(t, err)

	set := surface.NewSet(surface.Mode{Deflicker: true}, nil)
	require.NoError(t, set.Allocate(filled(t, 2, 2, 0)))
	assert.ErrorIs(t, e.AppendUpdate(compute.NewPlan("p"), set), surface.ErrNotAllocated)

	set = surface.NewSet(surface.Mode{Background: true}, nil)
	require.NoError(t, set.Allocate(filled(t, 2, 2, 0)))
	p := compute.NewPlan("p")
	require.NoError(t, e.AppendUpdate(p, set))
	assert.Equal(t, 1, p.Len())
}
