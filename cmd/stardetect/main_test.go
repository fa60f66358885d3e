package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardetect/pkg/catalog"
	sd "stardetect/pkg/stardetect"
)

func writeStarFITS(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, starFITS(t), 0644))
	return path
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeStarFITS(t, dir, "a.fits")
	b := writeStarFITS(t, dir, "b.fits")
	missing := filepath.Join(dir, "missing.fits")

	files, err := expandInputs([]string{filepath.Join(dir, "*.fits"), missing})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, missing}, files)

	_, err = expandInputs([]string{"["})
	assert.Error(t, err)
}

func TestConcurrency(t *testing.T) {
	assert.Equal(t, 1, concurrency(1))
	assert.Equal(t, 1, concurrency(0))
	n := concurrency(1000)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 1000)
}

func TestMedianMAD(t *testing.T) {
	m, mad := medianMAD([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 3.0, m)
	assert.InDelta(t, 1.4826, mad, 1e-9)

	m, mad = medianMAD(nil)
	assert.True(t, math.IsNaN(m))
	assert.True(t, math.IsNaN(mad))
}

func TestProcessImageOutputs(t *testing.T) {
	dir := t.TempDir()
	path := writeStarFITS(t, dir, "frame.fits")
	store, err := catalog.Open(filepath.Join(dir, "stars.db"))
	require.NoError(t, err)
	defer store.Close()

	opts := outputOptions{csv: true, json: true, overlay: true, structureMap: true, roi: 1}
	rep := processImage(context.Background(), path, sd.DefaultConfig(), opts, store)
	require.NoError(t, rep.err)
	assert.Equal(t, 100, rep.width)
	assert.Equal(t, 100, rep.height)
	require.Len(t, rep.result.Stars, 1)
	require.NotNil(t, rep.field)

	f, err := os.Open(filepath.Join(dir, "frame.stars.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "x", rows[0][0])
	assert.Equal(t, "", rows[1][6])

	raw, err := os.ReadFile(filepath.Join(dir, "frame.stars.json"))
	require.NoError(t, err)
	var res struct {
		Stars []json.RawMessage `json:"stars"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Len(t, res.Stars, 1)

	for _, name := range []string{"frame.overlay.jpg", "frame.structure.tif"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotZero(t, info.Size(), name)
	}

	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, path, runs[0].Source)
	assert.Equal(t, 1, runs[0].StarCount)
	stars, err := store.Stars(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, stars, 1)
}

func TestProcessImageROI(t *testing.T) {
	path := writeStarFITS(t, t.TempDir(), "frame.fits")

	// The star at (50.3, 60.7) lies well outside the central 2x2 pixels.
	rep := processImage(context.Background(), path, sd.DefaultConfig(), outputOptions{roi: 0.02}, nil)
	require.NoError(t, rep.err)
	assert.Empty(t, rep.result.Stars)

	rep = processImage(context.Background(), path, sd.DefaultConfig(), outputOptions{roi: 0.5}, nil)
	require.NoError(t, rep.err)
	assert.Len(t, rep.result.Stars, 1)
}

func TestProcessImageMissingFile(t *testing.T) {
	rep := processImage(context.Background(), filepath.Join(t.TempDir(), "none.fits"), sd.DefaultConfig(), outputOptions{roi: 1}, nil)
	assert.Error(t, rep.err)
}

func TestLoadImageNonFits(t *testing.T) {
	dir := t.TempDir()

	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.SetGray(1, 2, color.Gray{Y: 255})
	pngPath := filepath.Join(dir, "frame.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gray))
	require.NoError(t, f.Close())

	m, err := loadImage(pngPath, "")
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 4, m.Cols())
	assert.Equal(t, 3, m.Rows())
	data := m.DataFloat32()
	assert.InDelta(t, 1, data[2*4+1], 1e-6)
	assert.InDelta(t, 0, data[0], 1e-6)

	// 16-bit TIFF keeps its full depth.
	src := sd.NewMatWithSize(2, 2)
	defer src.Close()
	copy(src.DataFloat32(), []float32{0, 0.25, 0.5, 1})
	tifPath := filepath.Join(dir, "frame.tif")
	require.NoError(t, sd.SaveMat(tifPath, src))
	back, err := loadImage(tifPath, "")
	require.NoError(t, err)
	defer back.Close()
	assert.InDeltaSlice(t, []float32{0, 0.25, 0.5, 1}, back.DataFloat32(), 1e-4)

	_, err = loadImage(filepath.Join(dir, "missing.png"), "")
	assert.Error(t, err)
}

func TestLoadImageDebayer(t *testing.T) {
	path := writeStarFITS(t, t.TempDir(), "frame.fits")

	m, err := loadImage(path, "RGGB")
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 100, m.Cols())

	// No BAYERPAT card, so auto falls back to the mono frame.
	auto, err := loadImage(path, "auto")
	require.NoError(t, err)
	defer auto.Close()
	assert.Equal(t, 100, auto.Rows())

	_, err = loadImage(path, "XYZW")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	path := writeStarFITS(t, dir, "frame.fits")

	require.NoError(t, run([]string{"-json", "-jobs", "2", filepath.Join(dir, "*.fits")}))
	_, err := os.Stat(filepath.Join(dir, "frame.stars.json"))
	assert.NoError(t, err)

	cfgPath := filepath.Join(dir, "detect.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sensitivity: 0.4\npsf:\n  enabled: true\n"), 0644))
	assert.NoError(t, run([]string{"-config", cfgPath, "-psf=false", path}))

	assert.Error(t, run(nil))
	assert.Error(t, run([]string{"-roi", "0", path}))
	assert.Error(t, run([]string{"-roi", "1.5", path}))
	assert.Error(t, run([]string{"-psf-type", "Lorentz", path}))
	assert.Error(t, run([]string{filepath.Join(dir, "missing.fits")}))
}
