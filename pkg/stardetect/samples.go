package stardetect

import (
	"fmt"
	"math"
)

// Sample is a pixel sample type accepted at the API boundary.
type Sample interface {
	uint8 | uint16 | uint32 | float32 | float64
}

// sampleScale returns the factor that maps T onto [0, 1]. Floating-point
// samples are taken as already normalized.
func sampleScale[T Sample]() float64 {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return 1.0 / math.MaxUint8
	case uint16:
		return 1.0 / math.MaxUint16
	case uint32:
		return 1.0 / math.MaxUint32
	default:
		return 1
	}
}

// MatFromSamples builds a float32 Mat from row-major samples of any supported
// depth, normalizing integer samples by the maximum of their type.
func MatFromSamples[T Sample](pixels []T, width, height int) (Mat, error) {
	if width <= 0 || height <= 0 {
		return NewMat(), ErrEmptyImage
	}
	numPixels := width * height
	if len(pixels) < numPixels {
		return NewMat(), fmt.Errorf("need %d samples for %dx%d, got %d", numPixels, width, height, len(pixels))
	}
	scale := sampleScale[T]()
	m := NewMatWithSize(height, width)
	dest := m.DataFloat32()
	for i := 0; i < numPixels; i++ {
		dest[i] = float32(float64(pixels[i]) * scale)
	}
	return m, nil
}

// MatSamples copies a Mat into a row-major float32 slice.
func MatSamples(m Mat) []float32 {
	out := make([]float32, m.Rows()*m.Cols())
	copy(out, m.DataFloat32())
	return out
}
