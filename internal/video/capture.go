package video

import (
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"backplate/internal/logger"
)

// Capture decodes a container sequentially. Resolution and frame rate are
// fixed by the first frame. The Frame returned by Next is reused and stays
// valid until the following call.
type Capture struct {
	path     string
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	frame    Frame
	pending  bool
	fps      float64
	expected int
	seq      int
	closed   bool
	logger   logger.Logger

	// mu serialises Next and Close so a forced shutdown never frees the
	// decoder under a Read.
	mu sync.Mutex
}

// Open opens path and decodes its first frame. Any failure up to that point
// is reported as ErrMalformedInput.
func Open(path string, log logger.Logger) (*Capture, error) {
	if log == nil {
		log = logger.Nop()
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMalformedInput, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: open %s", ErrMalformedInput, path)
	}

	c := &Capture{
		path:    path,
		capture: vc,
		mat:     gocv.NewMat(),
		logger:  log,
	}

	if ok := vc.Read(&c.mat); !ok || c.mat.Empty() {
		c.Close()
		return nil, fmt.Errorf("%w: %s has no decodable first frame", ErrMalformedInput, path)
	}

	img, err := NewImageFromMat(c.mat)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
	}
	c.frame = Frame{Seq: 1, Image: img}
	c.pending = true

	c.fps = vc.Get(gocv.VideoCaptureFPS)
	if math.IsNaN(c.fps) || c.fps <= 0 {
		log.Warning("FrameSource", "container reports no frame rate, using default", map[string]interface{}{
			"path":     path,
			"reported": c.fps,
			"fps":      DefaultFrameRate,
		})
		c.fps = DefaultFrameRate
	}

	if n := vc.Get(gocv.VideoCaptureFrameCount); n > 0 && !math.IsInf(n, 0) {
		c.expected = int(n)
	}

	log.Info("FrameSource", "input opened", map[string]interface{}{
		"path":   path,
		"width":  img.Width,
		"height": img.Height,
		"fps":    c.fps,
		"frames": c.expected,
	})
	return c, nil
}

// Next returns the next frame, ErrEndOfStream when the stream is exhausted,
// or an error wrapping ErrDecode when a frame fails to decode before the
// reported frame count was reached.
func (c *Capture) Next() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrEndOfStream
	}
	if c.pending {
		c.pending = false
		c.seq = 1
		return &c.frame, nil
	}

	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		if c.expected > 0 && c.seq < c.expected {
			return nil, fmt.Errorf("%w: frame %d of %d", ErrDecode, c.seq+1, c.expected)
		}
		return nil, ErrEndOfStream
	}

	if c.mat.Cols() != c.frame.Width || c.mat.Rows() != c.frame.Height {
		return nil, fmt.Errorf("%w: frame %d is %dx%d, stream is %dx%d",
			ErrDecode, c.seq+1, c.mat.Cols(), c.mat.Rows(), c.frame.Width, c.frame.Height)
	}
	if err := MatToImage(c.mat, c.frame.Image); err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrDecode, c.seq+1, err)
	}

	c.seq++
	c.frame.Seq = c.seq
	return &c.frame, nil
}

// FrameRate returns the container's rate, or DefaultFrameRate.
func (c *Capture) FrameRate() float64 { return c.fps }

func (c *Capture) Width() int  { return c.frame.Width }
func (c *Capture) Height() int { return c.frame.Height }

// Expected returns the frame count reported by the container, 0 if unknown.
func (c *Capture) Expected() int { return c.expected }

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.capture.Close()
}

// Shutdown lets the capture be registered with a shutdown manager.
func (c *Capture) Shutdown() {
	if err := c.Close(); err != nil {
		c.logger.Error("FrameSource", err, map[string]interface{}{"path": c.path})
	}
}
