package stardetect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonZero(m Mat) []int {
	var idx []int
	for i, v := range m.DataFloat32() {
		if v != 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func TestStructureThresholdEmptyMap(t *testing.T) {
	m := constantMat(t, 16, 16, 0)
	threshold, text := structureThreshold(m)
	assert.Equal(t, float64(math.MaxFloat32), threshold)
	assert.Contains(t, text, "empty map")
}

func TestStructureThresholdNoiseless(t *testing.T) {
	m := constantMat(t, 20, 20, 0)
	data := m.DataFloat32()
	for i := 0; i < 10; i++ {
		data[i] = 0.5
	}
	threshold, text := structureThreshold(m)
	assert.InDelta(t, 0.5, threshold, 1e-3)
	assert.Contains(t, text, "noiseless")
}

func TestBuildStructureMapSingleStar(t *testing.T) {
	img := syntheticImage(t, 100, 100, 0, blob{x: 50, y: 60, amp: 0.8, sigma: 2})
	cfg := DefaultConfig()

	m := buildStructureMap(img, &cfg, 1)
	defer m.Close()
	active := nonZero(m)
	require.NotEmpty(t, active)
	for _, i := range active {
		x, y := i%100, i/100
		assert.InDelta(t, 50, x, 8, "pixel %d,%d", x, y)
		assert.InDelta(t, 60, y, 8, "pixel %d,%d", x, y)
	}
	assert.Contains(t, active, 60*100+50)
}

func TestBuildStructureMapHonoursMask(t *testing.T) {
	img := syntheticImage(t, 100, 100, 0, blob{x: 50, y: 60, amp: 0.8, sigma: 2})
	cfg := DefaultConfig()
	cfg.SetMask(NewDetectionMask(100, 100))

	m := buildStructureMap(img, &cfg, 1)
	defer m.Close()
	assert.Empty(t, nonZero(m))
}

func TestBuildLocalMaximaMap(t *testing.T) {
	cfg := DefaultConfig()

	img := syntheticImage(t, 60, 60, 0.1, blob{x: 30, y: 30, amp: 0.5, sigma: 2})
	m := buildLocalMaximaMap(img, &cfg)
	defer m.Close()
	assert.Equal(t, []int{30*60 + 30}, nonZero(m))

	// Peaks at or above the detection limit are not maxima.
	bright := syntheticImage(t, 60, 60, 0.1, blob{x: 30, y: 30, amp: 0.8, sigma: 2})
	m2 := buildLocalMaximaMap(bright, &cfg)
	defer m2.Close()
	assert.Empty(t, nonZero(m2))
}
