package compute

import "fmt"

// Buffer primitives. They are queue operations rather than kernels: they run
// on the host side of the session and only move or clear data.

const (
	OpFillHistogram = "fill_histogram"
	OpCopyHistogram = "copy_histogram"
	OpWriteImage    = "write_image"
	OpReadImage     = "read_image"
)

// FillHistogramOp sets every bin of dst to value.
func FillHistogramOp(id BufferID, dst Histogram, value int32) Op {
	return Op{
		Kernel: OpFillHistogram,
		Writes: []BufferID{id},
		Run: func() error {
			if err := dst.Validate(); err != nil {
				return err
			}
			for i := range dst {
				dst[i] = value
			}
			return nil
		},
	}
}

// CopyHistogramOp copies src into dst.
func CopyHistogramOp(srcID BufferID, src Histogram, dstID BufferID, dst Histogram) Op {
	return Op{
		Kernel: OpCopyHistogram,
		Reads:  []BufferID{srcID},
		Writes: []BufferID{dstID},
		Run: func() error {
			if len(src) != len(dst) {
				return fmt.Errorf("histogram copy: %d bins into %d", len(src), len(dst))
			}
			copy(dst, src)
			return nil
		},
	}
}

// WriteImageOp uploads the image returned by src into dst. src is evaluated
// when the op runs so a compiled plan can be resubmitted with new frames.
func WriteImageOp(srcID BufferID, src func() Image, dstID BufferID, dst Image, mismatch error) Op {
	return Op{
		Kernel: OpWriteImage,
		Reads:  []BufferID{srcID},
		Writes: []BufferID{dstID},
		Run: func() error {
			img := src()
			if !img.SameShape(dst) {
				return fmt.Errorf("%w: %dx%d into %dx%d", mismatch, img.Width, img.Height, dst.Width, dst.Height)
			}
			copy(dst.Pix, img.Pix)
			return nil
		},
	}
}

// ReadImageOp copies the surface src back into the host buffer dst.
func ReadImageOp(srcID BufferID, src Image, dstID BufferID, dst Image) Op {
	return Op{
		Kernel: OpReadImage,
		Reads:  []BufferID{srcID},
		Writes: []BufferID{dstID},
		Run: func() error {
			if !src.SameShape(dst) {
				return fmt.Errorf("readback: %dx%d into %dx%d", src.Width, src.Height, dst.Width, dst.Height)
			}
			copy(dst.Pix, src.Pix)
			return nil
		},
	}
}
