package compute

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backplate/internal/logger"
)

func nopLog() logger.Logger { return logger.Nop() }

type stubProgram struct {
	Program
	released int
}

func (s *stubProgram) Release() error { s.released++; return nil }

type stubDevice struct {
	prog     *stubProgram
	buildErr error
}

func (d *stubDevice) Name() string { return "stub" }

func (d *stubDevice) Build() (Program, error) {
	if d.buildErr != nil {
		return nil, d.buildErr
	}
	return d.prog, nil
}

type stubPlatform struct{ devices []Device }

func (p *stubPlatform) Name() string      { return "stubs" }
func (p *stubPlatform) Devices() []Device { return p.devices }

func TestAcquireRejectsOutOfRangeIndexes(t *testing.T) {
	platforms := []Platform{&stubPlatform{devices: []Device{&stubDevice{prog: &stubProgram{}}}}}

	_, err := Acquire(platforms, Selector{Platform: 1}, nil, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = Acquire(platforms, Selector{Platform: -1}, nil, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = Acquire(platforms, Selector{Device: 3}, nil, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = Acquire(nil, Selector{}, nil, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestAcquireReportsBuildFailure(t *testing.T) {
	buildErr := errors.New("compile error")
	platforms := []Platform{&stubPlatform{devices: []Device{&stubDevice{buildErr: buildErr}}}}

	_, err := Acquire(platforms, Selector{}, nil, nil)
	assert.ErrorIs(t, err, buildErr)
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	prog := &stubProgram{}
	platforms := []Platform{&stubPlatform{devices: []Device{&stubDevice{prog: prog}}}}

	s, err := Acquire(platforms, Selector{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "stubs/stub", s.DeviceName())

	require.NoError(t, s.Run(Op{Kernel: "noop", Run: nop}))

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	s.Shutdown()
	assert.Equal(t, 1, prog.released)

	err = s.Run(Op{Kernel: "noop", Run: nop})
	assert.ErrorIs(t, err, ErrSessionReleased)
}

func TestSessionReleaseWaitsForPlanInFlight(t *testing.T) {
	prog := &stubProgram{}
	platforms := []Platform{&stubPlatform{devices: []Device{&stubDevice{prog: prog}}}}
	s, err := Acquire(platforms, Selector{}, nil, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	unblock := make(chan struct{})
	runDone := make(chan error, 1)
	go func() {
		runDone <- s.Run(Op{Kernel: "slow", Run: func() error {
			close(started)
			<-unblock
			return nil
		}})
	}()
	<-started

	released := make(chan struct{})
	go func() {
		_ = s.Release()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("release returned while a plan was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-runDone)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release did not return after the plan finished")
	}
	assert.Equal(t, 1, prog.released)
}

func TestQuantize(t *testing.T) {
	cases := map[float32]int{
		-3:    0,
		0:     0,
		0.49:  0,
		0.5:   1,
		1.5:   2,
		254.4: 254,
		254.5: 255,
		300:   255,
	}
	for in, want := range cases {
		assert.Equal(t, want, Quantize(in), "quantize(%v)", in)
	}
	assert.Equal(t, 0, Quantize(float32(math.NaN())))
	assert.Equal(t, 255, Quantize(float32(math.Inf(1))))
}

func TestImageBytesSaturatesAndTruncates(t *testing.T) {
	img, err := NewImage(1, 1)
	require.NoError(t, err)
	copy(img.Pix, []float32{-4, 99.9, 300})

	assert.Equal(t, []byte{0, 99, 255}, img.Bytes(nil))

	require.NoError(t, img.SetBytes([]byte{1, 2, 3}))
	assert.Equal(t, []float32{1, 2, 3}, img.Pix)
	assert.Error(t, img.SetBytes([]byte{1}))
}

func TestNewImageRejectsBadDimensions(t *testing.T) {
	_, err := NewImage(0, 4)
	assert.Error(t, err)
}

func TestTransferOps(t *testing.T) {
	src := Histogram(make([]int32, HistogramSize))
	src[5] = 7
	dst := NewHistogram()

	require.NoError(t, CopyHistogramOp("a", src, "b", dst).Run())
	assert.EqualValues(t, 7, dst[5])

	require.NoError(t, FillHistogramOp("b", dst, 0).Run())
	assert.Zero(t, dst.Sum(0))

	mismatch := errors.New("mismatch")
	small, _ := NewImage(1, 1)
	big, _ := NewImage(2, 2)
	err := WriteImageOp("host", func() Image { return big }, "cur", small, mismatch).Run()
	assert.ErrorIs(t, err, mismatch)

	big.Fill(9)
	other, _ := NewImage(2, 2)
	require.NoError(t, ReadImageOp("bg", big, "result", other).Run())
	assert.Equal(t, big.Pix, other.Pix)
}
