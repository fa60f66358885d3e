package stardetect

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuringElements(t *testing.T) {
	assert.Len(t, boxStructure(3).offsets, 9)
	assert.Len(t, boxStructure(5).offsets, 25)

	noCenter := boxStructureWithoutCenter(5)
	assert.Len(t, noCenter.offsets, 24)
	assert.NotContains(t, noCenter.offsets, image.Pt(0, 0))

	// Radius 2.5 disk in a 5x5 box drops the four corners only.
	disk := circularStructure(5)
	assert.Len(t, disk.offsets, 21)
	assert.NotContains(t, disk.offsets, image.Pt(2, 2))
	assert.Contains(t, disk.offsets, image.Pt(2, 1))
}

func TestMedianFilterRemovesImpulse(t *testing.T) {
	img := constantMat(t, 9, 9, 0.2)
	img.DataFloat32()[4*9+4] = 1

	out := NewMat()
	defer out.Close()
	medianFilter(img, &out, circularStructure(5))
	for _, v := range out.DataFloat32() {
		assert.InDelta(t, 0.2, v, 1e-7)
	}
	// Source untouched.
	assert.Equal(t, float32(1), img.DataFloat32()[4*9+4])
}

func TestMedianFilterInPlace(t *testing.T) {
	img := matFromRows(t, [][]float32{
		{0, 0, 0},
		{0, 1, 0},
		{0, 0, 0},
	})
	medianFilter(img, &img, boxStructure(3))
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, 0, 0, 0}, MatSamples(img))
}

func TestHotPixelFilter(t *testing.T) {
	tests := []struct {
		radius int
		want   int64
	}{
		{radius: 1, want: 1},
		{radius: 2, want: 1},
		{radius: 3, want: 1},
	}
	for _, tt := range tests {
		img := constantMat(t, 16, 16, 0.1)
		img.DataFloat32()[8*16+8] = 1
		status := newStatusMonitor(context.Background(), nil)

		n, err := applyHotPixelFilter(&img, tt.radius, status)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "radius %d", tt.radius)
		assert.InDelta(t, 0.1, img.DataFloat32()[8*16+8], 1e-6, "radius %d", tt.radius)
	}
}

func TestHotPixelFilterDisabledAdvancesProgress(t *testing.T) {
	img := constantMat(t, 10, 7, 0.1)
	img.DataFloat32()[0] = 1
	var last int64
	status := newStatusMonitor(context.Background(), func(done int64) { last = done })

	n, err := applyHotPixelFilter(&img, 0, status)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(70), last)
	assert.Equal(t, float32(1), img.DataFloat32()[0])
}

func TestNoiseReductionPreservesFlux(t *testing.T) {
	img := syntheticImage(t, 48, 48, 0, blob{x: 24, y: 24, amp: 1, sigma: 2})
	before := 0.0
	for _, v := range img.DataFloat32() {
		before += float64(v)
	}
	applyNoiseReduction(&img, 2, 1)
	after := 0.0
	peak := float32(0)
	for _, v := range img.DataFloat32() {
		after += float64(v)
		peak = max(peak, v)
	}
	assert.InDelta(t, before, after, before*1e-3)
	assert.Less(t, peak, float32(1))
}

func TestGaussianImplementationsAgree(t *testing.T) {
	img := syntheticImage(t, 40, 30, 0.1, blob{x: 12, y: 17, amp: 0.8, sigma: 1.5})
	addNoise(img, 0.02, 7)

	sep := NewMat()
	defer sep.Close()
	full := NewMat()
	defer full.Close()
	ConvolveGaussian(&img, &sep, 5)
	convolveGaussian2D(&img, &full, 5)
	assert.InDeltaSlice(t, MatSamples(sep), MatSamples(full), 1e-5)
}

func TestSeparableCrossover(t *testing.T) {
	// n*n/threads > 2n+16
	assert.Equal(t, 7, separableCrossover(1))
	assert.Equal(t, 9, separableCrossover(2))
	assert.Equal(t, separableCrossover(1), separableCrossover(0))
	assert.Less(t, separableCrossover(4), separableCrossover(16))
}
