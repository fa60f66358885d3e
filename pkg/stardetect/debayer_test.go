package stardetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBayerPattern(t *testing.T) {
	for _, p := range []BayerPattern{BayerRGGB, BayerBGGR, BayerGRBG, BayerGBRG} {
		got, err := ParseBayerPattern(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseBayerPattern(" gbrg ")
	require.NoError(t, err)
	assert.Equal(t, BayerGBRG, got)

	_, err = ParseBayerPattern("XTRANS")
	assert.Error(t, err)
}

func TestDebayerUniform(t *testing.T) {
	raw := constantMat(t, 8, 6, 0.4)
	for _, p := range []BayerPattern{BayerRGGB, BayerGRBG} {
		lum := DebayerLuminance(raw, p)
		for _, v := range lum.DataFloat32() {
			assert.InDelta(t, 0.4, v, 1e-6)
		}
		lum.Close()
	}
}

// rggbMosaic samples constant red, green and blue planes through an RGGB
// colour filter array.
func rggbMosaic(t *testing.T, width, height int, r, g, b float32) Mat {
	t.Helper()
	m := constantMat(t, width, height, g)
	data := m.DataFloat32()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			switch {
			case x%2 == 0 && y%2 == 0:
				data[y*width+x] = r
			case x%2 == 1 && y%2 == 1:
				data[y*width+x] = b
			}
		}
	}
	return m
}

func TestDebayerLuminanceInterior(t *testing.T) {
	raw := rggbMosaic(t, 10, 8, 0.9, 0.5, 0.1)
	lum := DebayerLuminance(raw, BayerRGGB)
	defer lum.Close()

	data := lum.DataFloat32()
	for y := 1; y < 7; y++ {
		for x := 1; x < 9; x++ {
			assert.InDelta(t, 0.5, data[y*10+x], 1e-6, "pixel %d,%d", x, y)
		}
	}
}

func TestDebayerToMat(t *testing.T) {
	pixels := make([]uint16, 16)
	for i := range pixels {
		pixels[i] = 32768
	}
	m, err := DebayerToMat(pixels, 4, 4, BayerBGGR)
	require.NoError(t, err)
	defer m.Close()
	for _, v := range m.DataFloat32() {
		assert.InDelta(t, 0.5, v, 1e-4)
	}

	_, err = DebayerToMat(pixels, 5, 4, BayerBGGR)
	assert.Error(t, err)
}
