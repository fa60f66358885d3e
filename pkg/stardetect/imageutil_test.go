package stardetect

import (
	"image"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rampMat(t *testing.T, n int) Mat {
	t.Helper()
	m := NewMatWithSize(1, n)
	t.Cleanup(func() { m.Close() })
	data := m.DataFloat32()
	for i := range data {
		data[i] = float32(i) / float32(n)
	}
	return m
}

func TestHistogramStatistics(t *testing.T) {
	m := rampMat(t, 1000)

	st := HistogramStatistics(m, nil, nil)
	assert.Equal(t, int64(1000), st.Count)
	assert.InDelta(t, 0.4995, st.Median, 1e-3)
	assert.InDelta(t, 0.25, st.MAD, 2e-3)

	ranged := HistogramStatistics(m, &Ranged{Start: 0.25, End: 0.75}, nil)
	assert.Equal(t, int64(500), ranged.Count)
	assert.InDelta(t, 0.4995, ranged.Median, 1e-3)

	rect := image.Rect(0, 0, 100, 1)
	head := HistogramStatistics(m, nil, &rect)
	assert.Equal(t, int64(100), head.Count)
	assert.InDelta(t, 0.0495, head.Median, 1e-3)

	outside := image.Rect(900, 0, 1200, 5)
	tail := HistogramStatistics(m, nil, &outside)
	assert.Equal(t, int64(100), tail.Count)
}

func TestHistogramStatisticsInterpolatesWithinBucket(t *testing.T) {
	flat := constantMat(t, 4, 4, 0.5)
	st := HistogramStatistics(flat, nil, nil)
	assert.InDelta(t, 0.5, st.Median, 1.0/histogramBuckets)
	assert.GreaterOrEqual(t, st.Median, 0.5)
	assert.Less(t, st.MAD, 1.0/histogramBuckets)

	// Out of range samples land in the end buckets.
	m := matFromRows(t, [][]float32{{-1, -1, 2, 2, 2}})
	st = HistogramStatistics(m, nil, nil)
	assert.InDelta(t, 1, st.Median, 1.0/histogramBuckets)
}

func TestHistogramStatisticsEmptyRange(t *testing.T) {
	m := constantMat(t, 4, 4, 0)
	st := HistogramStatistics(m, &Ranged{Start: math.SmallestNonzeroFloat32, End: 1}, nil)
	assert.Zero(t, st.Count)
	assert.Zero(t, st.Median)
	assert.Zero(t, st.MAD)
}

func TestKSigmaRejectsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := make([]float64, 2000)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	x[0], x[1] = 1000, -800
	orig := slices.Clone(x)

	s := kSigma(x, 3, 0.01, 10)
	assert.InDelta(t, 1.0, s, 0.1)
	assert.Equal(t, orig, x)

	assert.Zero(t, kSigma([]float64{1}, 3, 0.01, 10))
	assert.Zero(t, kSigma([]float64{2, 2, 2}, 3, 0.01, 10))
}

func TestWaveletNoiseKSigma(t *testing.T) {
	for _, sigma := range []float64{0.01, 0.05} {
		m := constantMat(t, 200, 200, 0.5)
		addNoise(m, sigma, 3)
		got := WaveletNoiseKSigma(m, 3, 0.01, 10)
		assert.InDelta(t, sigma, got, 0.15*sigma, "sigma %f", sigma)
	}
	flat := constantMat(t, 32, 32, 0.3)
	assert.InDelta(t, 0, WaveletNoiseKSigma(flat, 3, 0.01, 10), 1e-6)
}

func TestGetB3SplineFilter(t *testing.T) {
	f := GetB3SplineFilter(1)
	defer f.Close()
	assert.Equal(t, []float32{0.0625, 0, 0.25, 0, 0.375, 0, 0.25, 0, 0.0625}, MatSamples(f))
}

func TestTruncateRescale(t *testing.T) {
	m := matFromRows(t, [][]float32{{-1, 0.5, 1}})
	truncateRescale(&m)
	assert.Equal(t, []float32{0, 0.5, 1}, MatSamples(m))

	m = matFromRows(t, [][]float32{{0.2, 0.4, 0.6}})
	truncateRescale(&m)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1}, MatSamples(m), 1e-6)

	c := constantMat(t, 3, 1, 0.4)
	truncateRescale(&c)
	assert.Equal(t, []float32{0.4, 0.4, 0.4}, MatSamples(c))
}

func TestPixelHelpers(t *testing.T) {
	m := matFromRows(t, [][]float32{
		{0, 1},
		{2, 3},
	})
	b := NewMat()
	defer b.Close()
	Binarize(&m, &b, 1)
	assert.Equal(t, []float32{0, 0, 1, 1}, MatSamples(b))

	invertInPlace(&m)
	assert.Equal(t, []float32{1, 0, -1, -2}, MatSamples(m))
}

func TestMedianMAD(t *testing.T) {
	m, s, ok := medianMAD([]float64{1, 2, 3, 4, 100})
	assert.True(t, ok)
	assert.Equal(t, 3.0, m)
	assert.InDelta(t, 1.4826, s, 1e-9)

	_, _, ok = medianMAD(nil)
	assert.False(t, ok)
}
