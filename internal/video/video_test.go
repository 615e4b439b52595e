package video

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"backplate/internal/compute"
)

func gradient(t *testing.T, w, h int) compute.Image {
	t.Helper()
	img, err := compute.NewImage(w, h)
	require.NoError(t, err)
	for i := range img.Pix {
		img.Pix[i] = float32((i * 7) % 256)
	}
	return img
}

func TestImageMatRoundTrip(t *testing.T) {
	img := gradient(t, 5, 3)

	mat, _, err := ImageToMat(img, nil)
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 5, mat.Cols())
	assert.Equal(t, 3, mat.Rows())
	assert.Equal(t, 3, mat.Channels())

	back, err := NewImageFromMat(mat)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)
}

func TestImageToMatSaturates(t *testing.T) {
	img, err := compute.NewImage(1, 1)
	require.NoError(t, err)
	copy(img.Pix, []float32{-3, 12.9, 400})

	mat, _, err := ImageToMat(img, nil)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, []byte{0, 12, 255}, mat.ToBytes())
}

func TestMatToImageConvertsGray(t *testing.T) {
	gray := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC1)
	defer gray.Close()
	gray.SetUCharAt(0, 0, 9)

	img, err := NewImageFromMat(gray)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9}, img.Pix[:3])
}

func TestMatToImageRejectsMismatch(t *testing.T) {
	mat := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer mat.Close()

	img, err := compute.NewImage(3, 2)
	require.NoError(t, err)
	assert.Error(t, MatToImage(mat, img))

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = NewImageFromMat(empty)
	assert.Error(t, err)
}

func TestImageSinkWritesFinalResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plate.png")
	sink := NewImageSink(path, nil)
	img := gradient(t, 6, 4)

	require.NoError(t, sink.Emit(img, nil))
	require.NoError(t, sink.Flush(img))
	require.NoError(t, sink.Close())

	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	require.False(t, mat.Empty())

	back, err := NewImageFromMat(mat)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)
}

func TestOpenMissingFileIsMalformed(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"), nil)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestNewVideoSinkRejectsBadCodec(t *testing.T) {
	_, err := NewVideoSink(filepath.Join(t.TempDir(), "out.mp4"), "h264x", 30, 4, 4, nil)
	assert.Error(t, err)
}
