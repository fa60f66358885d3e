package stardetect

import (
	"math"
	"math/rand"
	"testing"
)

type blob struct {
	x, y  float64
	amp   float64
	sigma float64
}

// syntheticImage renders circular Gaussian blobs on a constant background.
// Pixel (x, y) is sampled at its integer coordinates.
func syntheticImage(t testing.TB, width, height int, background float64, blobs ...blob) Mat {
	t.Helper()
	m := NewMatWithSize(height, width)
	t.Cleanup(func() { m.Close() })
	data := m.DataFloat32()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := background
			for _, b := range blobs {
				dx, dy := float64(x)-b.x, float64(y)-b.y
				v += b.amp * math.Exp(-(dx*dx+dy*dy)/(2*b.sigma*b.sigma))
			}
			data[y*width+x] = float32(v)
		}
	}
	return m
}

// addNoise adds seeded Gaussian noise, clamping to [0, 1].
func addNoise(m Mat, sigma float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	data := m.DataFloat32()
	for i := range data {
		data[i] = float32(clampFloat64(float64(data[i])+rng.NormFloat64()*sigma, 0, 1))
	}
}

// matFromRows builds a Mat from row-major values.
func matFromRows(t testing.TB, rows [][]float32) Mat {
	t.Helper()
	m := NewMatWithSize(len(rows), len(rows[0]))
	t.Cleanup(func() { m.Close() })
	data := m.DataFloat32()
	for y, row := range rows {
		copy(data[y*len(row):], row)
	}
	return m
}

func constantMat(t testing.TB, width, height int, v float32) Mat {
	t.Helper()
	m := NewMatWithSize(height, width)
	t.Cleanup(func() { m.Close() })
	data := m.DataFloat32()
	for i := range data {
		data[i] = v
	}
	return m
}

func quietLogger(t testing.TB) {
	t.Helper()
	prev := Logf
	SetLogger(nil)
	t.Cleanup(func() { Logf = prev })
}
