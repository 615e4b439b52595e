package video

import (
	"fmt"

	"gocv.io/x/gocv"

	"backplate/internal/compute"
)

func validateMat(mat gocv.Mat, operation string) error {
	if mat.Ptr() == nil || mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}
	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("Mat has invalid dimensions %dx%d for operation: %s",
			mat.Cols(), mat.Rows(), operation)
	}
	return nil
}

// toBGR returns mat as an 8-bit three-channel Mat. The second result
// reports whether the returned Mat is a new one the caller must close.
func toBGR(mat gocv.Mat) (gocv.Mat, bool, error) {
	switch mat.Channels() {
	case 3:
		if mat.Type() == gocv.MatTypeCV8UC3 {
			return mat, false, nil
		}
		dst := gocv.NewMat()
		mat.ConvertTo(&dst, gocv.MatTypeCV8UC3)
		return dst, true, nil
	case 1:
		dst := gocv.NewMat()
		gocv.CvtColor(mat, &dst, gocv.ColorGrayToBGR)
		return dst, true, nil
	case 4:
		dst := gocv.NewMat()
		gocv.CvtColor(mat, &dst, gocv.ColorBGRAToBGR)
		return dst, true, nil
	default:
		return gocv.Mat{}, false, fmt.Errorf("unsupported channel count %d", mat.Channels())
	}
}

// MatToImage loads mat into dst, which must already have mat's dimensions.
func MatToImage(mat gocv.Mat, dst compute.Image) error {
	if err := validateMat(mat, "MatToImage"); err != nil {
		return err
	}
	if mat.Cols() != dst.Width || mat.Rows() != dst.Height {
		return fmt.Errorf("Mat %dx%d does not match image %dx%d", mat.Cols(), mat.Rows(), dst.Width, dst.Height)
	}

	bgr, owned, err := toBGR(mat)
	if err != nil {
		return err
	}
	if owned {
		defer bgr.Close()
	}

	return dst.SetBytes(bgr.ToBytes())
}

// NewImageFromMat allocates an image sized like mat and loads it.
func NewImageFromMat(mat gocv.Mat) (compute.Image, error) {
	if err := validateMat(mat, "NewImageFromMat"); err != nil {
		return compute.Image{}, err
	}
	img, err := compute.NewImage(mat.Cols(), mat.Rows())
	if err != nil {
		return compute.Image{}, err
	}
	if err := MatToImage(mat, img); err != nil {
		return compute.Image{}, err
	}
	return img, nil
}

// ImageToMat converts img to an 8-bit BGR Mat, saturating and truncating each
// sample. buf is reused when large enough and must outlive the Mat.
func ImageToMat(img compute.Image, buf []byte) (gocv.Mat, []byte, error) {
	if err := img.Validate(); err != nil {
		return gocv.Mat{}, buf, err
	}
	buf = img.Bytes(buf)
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.Mat{}, buf, fmt.Errorf("create Mat %dx%d: %w", img.Width, img.Height, err)
	}
	return mat, buf, nil
}
