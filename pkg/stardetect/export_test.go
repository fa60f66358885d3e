package stardetect

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestMatToGray16(t *testing.T) {
	m := matFromRows(t, [][]float32{
		{0, 0.5},
		{1, 2},
		{-1, 0.25},
	})
	g := MatToGray16(m)
	assert.Equal(t, image.Rect(0, 0, 2, 3), g.Bounds())
	assert.Equal(t, uint16(0), g.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(32768), g.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), g.Gray16At(0, 1).Y)
	assert.Equal(t, uint16(65535), g.Gray16At(1, 1).Y)
	assert.Equal(t, uint16(0), g.Gray16At(0, 2).Y)
	assert.Equal(t, uint16(16384), g.Gray16At(1, 2).Y)
}

func TestWriteMatTIFF(t *testing.T) {
	img := syntheticImage(t, 32, 24, 0.1, blob{x: 16, y: 12, amp: 0.5, sigma: 2})
	var buf bytes.Buffer
	require.NoError(t, WriteMatTIFF(&buf, img))

	decoded, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), decoded.Bounds())
	assert.Equal(t, MatToGray16(img).Pix, decoded.(*image.Gray16).Pix)

	assert.ErrorIs(t, WriteMatTIFF(&buf, NewMat()), ErrEmptyImage)
}

func TestWriteMatFITSRoundTrip(t *testing.T) {
	m := matFromRows(t, [][]float32{
		{0, 0.25, 0.5},
		{0.75, 1, 0.125},
	})
	var buf bytes.Buffer
	require.NoError(t, WriteMatFITS(&buf, m))
	assert.Zero(t, buf.Len()%fitsBlockSize)

	data, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, data.Width)
	assert.Equal(t, 2, data.Height)
	assert.Equal(t, -32, data.BitPix)
	assert.Equal(t, []uint16{0, 16384, 32768, 49151, 65535, 8192}, data.Pixels)

	back, err := data.Mat()
	require.NoError(t, err)
	defer back.Close()
	assert.InDeltaSlice(t, MatSamples(m), MatSamples(back), 1e-4)

	assert.ErrorIs(t, WriteMatFITS(&buf, NewMat()), ErrEmptyImage)
}

func TestSaveMat(t *testing.T) {
	dir := t.TempDir()
	m := constantMat(t, 8, 4, 0.5)

	require.NoError(t, SaveMat(filepath.Join(dir, "out.fits"), m))
	fits, err := ReadFits(filepath.Join(dir, "out.fits"))
	require.NoError(t, err)
	assert.Equal(t, 8, fits.Width)
	assert.Equal(t, 4, fits.Height)

	require.NoError(t, SaveMat(filepath.Join(dir, "out.tif"), m))
	f, err := os.Open(filepath.Join(dir, "out.tif"))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 4, cfg.Height)

	assert.Error(t, SaveMat(filepath.Join(dir, "missing", "out.tif"), m))
}

func TestMaybeSaveSkipsMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	maybeSaveText(dir, "x.txt", "hello")
	maybeSaveImage(constantMat(t, 4, 4, 0.1), dir, "x.tif")
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	maybeSaveText("", "x.txt", "hello")
}
