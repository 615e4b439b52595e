// Package video adapts OpenCV containers, image files and preview windows to
// the frame model of the pipeline.
package video

import (
	"errors"

	"backplate/internal/compute"
)

var (
	// ErrEndOfStream signals that the source is exhausted. It is a control
	// signal, not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrMalformedInput indicates the container could not be opened or
	// yielded no first frame.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDecode indicates a frame could not be decoded after the stream
	// started.
	ErrDecode = errors.New("frame decode failed")
)

// DefaultFrameRate is used when the container does not report a usable rate.
const DefaultFrameRate = 30.0

// Frame is one decoded picture. Seq starts at 1.
type Frame struct {
	Seq int
	compute.Image
}
