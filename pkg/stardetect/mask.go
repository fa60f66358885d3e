package stardetect

import "image"

// DetectionMask marks the pixels eligible for detection with nonzero values.
type DetectionMask struct {
	Width  int
	Height int
	Data   []uint8
}

// NewDetectionMask returns a mask of the given size with every pixel disabled.
func NewDetectionMask(width, height int) *DetectionMask {
	return &DetectionMask{Width: width, Height: height, Data: make([]uint8, width*height)}
}

// MaskFromRatioRect enables the pixels inside a fractional region of interest.
func MaskFromRatioRect(width, height int, r RatioRect) *DetectionMask {
	m := NewDetectionMask(width, height)
	m.Enable(r.Pixels(width, height))
	return m
}

// Enable marks every pixel of rect (clipped to the mask) as eligible.
func (m *DetectionMask) Enable(rect image.Rectangle) {
	rect = rect.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x := rect.Min.X; x < rect.Max.X; x++ {
			row[x] = 1
		}
	}
}

// At reports whether (x, y) is eligible. Points outside the mask are not.
func (m *DetectionMask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Data[y*m.Width+x] != 0
}

// apply zeroes every pixel of dst that the mask disables.
func (m *DetectionMask) apply(dst *Mat) {
	data := dst.DataFloat32()
	n := m.Width * m.Height
	for i := 0; i < n; i++ {
		if m.Data[i] == 0 {
			data[i] = 0
		}
	}
}
