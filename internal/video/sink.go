package video

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"backplate/internal/compute"
	"backplate/internal/logger"
)

// DefaultCodec is the FOURCC used for video output.
const DefaultCodec = "mp4v"

const keyEscape = 27

// ImageSink writes the final result to an image file. Per-frame results are
// ignored.
type ImageSink struct {
	path   string
	buf    []byte
	logger logger.Logger
}

func NewImageSink(path string, log logger.Logger) *ImageSink {
	if log == nil {
		log = logger.Nop()
	}
	return &ImageSink{path: path, logger: log}
}

func (s *ImageSink) Emit(compute.Image, *Frame) error { return nil }

func (s *ImageSink) Flush(result compute.Image) error {
	mat, buf, err := ImageToMat(result, s.buf)
	if err != nil {
		return err
	}
	s.buf = buf
	defer mat.Close()

	if ok := gocv.IMWrite(s.path, mat); !ok {
		return fmt.Errorf("write image %s failed", s.path)
	}
	s.logger.Info("ImageSink", "result written", map[string]interface{}{
		"path":   s.path,
		"width":  result.Width,
		"height": result.Height,
	})
	return nil
}

func (s *ImageSink) Close() error { return nil }

// VideoSink appends every emitted result to a video file at the input's
// resolution and frame rate.
type VideoSink struct {
	path    string
	writer  *gocv.VideoWriter
	buf     []byte
	written int
	closed  bool
	logger  logger.Logger
}

func NewVideoSink(path, codec string, fps float64, width, height int, log logger.Logger) (*VideoSink, error) {
	if log == nil {
		log = logger.Nop()
	}
	if codec == "" {
		codec = DefaultCodec
	}
	if len(codec) != 4 {
		return nil, fmt.Errorf("codec %q is not a FOURCC", codec)
	}

	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video output %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("open video output %s: writer not opened", path)
	}

	log.Debug("VideoSink", "video output opened", map[string]interface{}{
		"path":  path,
		"codec": codec,
		"fps":   fps,
	})
	return &VideoSink{path: path, writer: w, logger: log}, nil
}

func (s *VideoSink) Emit(result compute.Image, _ *Frame) error {
	mat, buf, err := ImageToMat(result, s.buf)
	if err != nil {
		return err
	}
	s.buf = buf
	defer mat.Close()

	if err := s.writer.Write(mat); err != nil {
		return fmt.Errorf("write video frame %d: %w", s.written+1, err)
	}
	s.written++
	return nil
}

// Flush appends the final result once more, so the clip ends on it.
func (s *VideoSink) Flush(result compute.Image) error {
	return s.Emit(result, nil)
}

// Written returns the number of frames appended so far.
func (s *VideoSink) Written() int { return s.written }

func (s *VideoSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("VideoSink", "video output closed", map[string]interface{}{
		"path":   s.path,
		"frames": s.written,
	})
	return s.writer.Close()
}

// PreviewSink shows each result in a window, optionally next to the frame it
// was computed from. ESC requests cancellation of the run; after the final
// result the window waits for any key.
type PreviewSink struct {
	window     *gocv.Window
	sideBySide bool
	cancel     context.CancelFunc
	outBuf     []byte
	inBuf      []byte
	closed     bool
}

func NewPreviewSink(title string, sideBySide bool, cancel context.CancelFunc) *PreviewSink {
	return &PreviewSink{
		window:     gocv.NewWindow(title),
		sideBySide: sideBySide,
		cancel:     cancel,
	}
}

func (s *PreviewSink) Emit(result compute.Image, in *Frame) error {
	out, buf, err := ImageToMat(result, s.outBuf)
	if err != nil {
		return err
	}
	s.outBuf = buf
	defer out.Close()

	if s.sideBySide && in != nil {
		raw, buf, err := ImageToMat(in.Image, s.inBuf)
		if err != nil {
			return err
		}
		s.inBuf = buf
		defer raw.Close()

		combined := gocv.NewMat()
		defer combined.Close()
		gocv.Hconcat(out, raw, &combined)
		s.window.IMShow(combined)
	} else {
		s.window.IMShow(out)
	}

	if s.window.WaitKey(1) == keyEscape && s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *PreviewSink) Flush(result compute.Image) error {
	out, buf, err := ImageToMat(result, s.outBuf)
	if err != nil {
		return err
	}
	s.outBuf = buf
	defer out.Close()

	s.window.IMShow(out)
	s.window.WaitKey(0)
	return nil
}

func (s *PreviewSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.window.Close()
}
