package stardetect

import (
	"image"
	"slices"
)

type morphOp int

const (
	morphDilate morphOp = iota
	morphErode
)

// structuringElement is a flat, odd-sized neighbourhood given as offsets
// from its center.
type structuringElement struct {
	size    int
	offsets []image.Point
}

func boxStructure(size int) structuringElement {
	half := size / 2
	se := structuringElement{size: size}
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			se.offsets = append(se.offsets, image.Pt(dx, dy))
		}
	}
	return se
}

// boxStructureWithoutCenter is the local maxima neighbourhood.
func boxStructureWithoutCenter(size int) structuringElement {
	se := boxStructure(size)
	out := se.offsets[:0]
	for _, o := range se.offsets {
		if o.X != 0 || o.Y != 0 {
			out = append(out, o)
		}
	}
	se.offsets = out
	return se
}

// circularStructure keeps the offsets inside the disk inscribed in the box.
func circularStructure(size int) structuringElement {
	half := size / 2
	r2 := (float64(size) / 2) * (float64(size) / 2)
	se := structuringElement{size: size}
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if float64(dx*dx+dy*dy) <= r2 {
				se.offsets = append(se.offsets, image.Pt(dx, dy))
			}
		}
	}
	return se
}

// medianFilter replaces each pixel with the median of its neighbourhood.
// Borders are replicated. For an even number of samples the upper median is
// used, matching OpenCV.
func medianFilter(src Mat, dst *Mat, se structuringElement) {
	rows, cols := src.Rows(), src.Cols()
	in := src.DataFloat32()
	out := NewMatWithSize(rows, cols)
	data := out.DataFloat32()
	window := make([]float32, len(se.offsets))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for i, o := range se.offsets {
				rr := clampInt(r+o.Y, 0, rows-1)
				cc := clampInt(c+o.X, 0, cols-1)
				window[i] = in[rr*cols+cc]
			}
			slices.Sort(window)
			data[r*cols+c] = window[len(window)/2]
		}
	}
	CopyMatTo(out, dst)
	out.Close()
}
