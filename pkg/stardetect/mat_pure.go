//go:build purego || js

package stardetect

import (
	"math"
	"os"
)

// Mat is a pure Go 2D float32 matrix.
type Mat struct {
	data []float32
	rows int
	cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{
		data: make([]float32, rows*cols),
		rows: rows,
		cols: cols,
	}
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

func (m Mat) Clone() Mat {
	newData := make([]float32, m.rows*m.cols)
	copy(newData, m.data)
	return Mat{data: newData, rows: m.rows, cols: m.cols}
}

func (m *Mat) Close() {
	m.data = nil
	m.rows = 0
	m.cols = 0
}

// DataFloat32 returns the backing float32 slice in row-major order.
func (m Mat) DataFloat32() []float32 {
	return m.data
}

func CopyMatTo(src Mat, dst *Mat) {
	if dst.rows != src.rows || dst.cols != src.cols || dst.data == nil {
		*dst = NewMatWithSize(src.rows, src.cols)
	}
	copy(dst.data, src.data[:src.rows*src.cols])
}

// ensureSize reallocates dst when it does not match rows x cols.
func ensureSize(dst *Mat, rows, cols int) {
	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
}

// --- Pure Go CV operations ---

// reflectIndex folds idx into [0, size) the way OpenCV's BORDER_REFLECT does
// (edge pixel repeated: fedcba|abcdef|fedcba).
func reflectIndex(idx, size int) int {
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx - 1
		} else {
			idx = 2*size - 1 - idx
		}
	}
	return idx
}

// reflectTable maps padded coordinates [-half, size+half) onto the image.
func reflectTable(size, half int) []int {
	t := make([]int, size+2*half)
	for i := range t {
		t[i] = reflectIndex(i-half, size)
	}
	return t
}

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	kx := kernelX.data[:kernelX.rows*kernelX.cols]
	ky := kernelY.data[:kernelY.rows*kernelY.cols]
	in := src.data

	// Horizontal pass over a reflected copy of each row.
	temp := make([]float32, rows*cols)
	xt := reflectTable(cols, len(kx)/2)
	line := make([]float32, len(xt))
	for r := 0; r < rows; r++ {
		row := in[r*cols : (r+1)*cols]
		for i, c := range xt {
			line[i] = row[c]
		}
		out := temp[r*cols : (r+1)*cols]
		for c := range out {
			var sum float32
			window := line[c : c+len(kx)]
			for k, w := range kx {
				sum += window[k] * w
			}
			out[c] = sum
		}
	}

	// Vertical pass accumulates whole rows.
	ensureSize(dst, rows, cols)
	yt := reflectTable(rows, len(ky)/2)
	for r := 0; r < rows; r++ {
		out := dst.data[r*cols : (r+1)*cols]
		for c := range out {
			out[c] = 0
		}
		for k, w := range ky {
			srcRow := temp[yt[r+k]*cols : (yt[r+k]+1)*cols]
			for c, v := range srcRow {
				out[c] += w * v
			}
		}
	}
}

func filter2DReflect(src Mat, dst *Mat, kernel Mat) {
	rows, cols := src.rows, src.cols
	kr, kc := kernel.rows, kernel.cols
	kd := kernel.data[:kr*kc]
	yt := reflectTable(rows, kr/2)
	xt := reflectTable(cols, kc/2)
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum float32
			for i := 0; i < kr; i++ {
				srcRow := src.data[yt[r+i]*cols:]
				krow := kd[i*kc : (i+1)*kc]
				for j, w := range krow {
					sum += w * srcRow[xt[c+j]]
				}
			}
			out[r*cols+c] = sum
		}
	}
	ensureSize(dst, rows, cols)
	copy(dst.data, out)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	m := NewMatWithSize(size, 1)
	half := size / 2
	sum := 0.0
	values := make([]float64, size)
	for i := range values {
		x := float64(i - half)
		values[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += values[i]
	}
	for i, v := range values {
		m.data[i] = float32(v / sum)
	}
	return m
}

// medianBlur uses replicated borders like OpenCV's medianBlur.
func medianBlur(src Mat, dst *Mat, ksize int) {
	medianFilter(src, dst, boxStructure(ksize))
}

func absDiff(a, b Mat, dst *Mat) {
	n := a.rows * a.cols
	ensureSize(dst, a.rows, a.cols)
	for i := 0; i < n; i++ {
		dst.data[i] = float32(math.Abs(float64(a.data[i] - b.data[i])))
	}
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	n := src.rows * src.cols
	ensureSize(dst, src.rows, src.cols)
	for i := 0; i < n; i++ {
		if src.data[i] > thresh {
			dst.data[i] = maxval
		} else {
			dst.data[i] = 0
		}
	}
}

func countNonZero(src Mat) int {
	count := 0
	for _, v := range src.data[:src.rows*src.cols] {
		if v != 0 {
			count++
		}
	}
	return count
}

// morphologyFilter dilates or erodes with a flat structuring element.
// Neighbours outside the image do not take part in the extremum.
func morphologyFilter(src Mat, dst *Mat, se structuringElement, op morphOp) {
	rows, cols := src.rows, src.cols
	out := make([]float32, rows*cols)
	start := float32(math.Inf(-1))
	if op == morphErode {
		start = float32(math.Inf(1))
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			acc := start
			for _, o := range se.offsets {
				rr, cc := r+o.Y, c+o.X
				if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
					continue
				}
				v := src.data[rr*cols+cc]
				if op == morphErode {
					if v < acc {
						acc = v
					}
				} else if v > acc {
					acc = v
				}
			}
			out[r*cols+c] = acc
		}
	}
	ensureSize(dst, rows, cols)
	copy(dst.data, out)
}

func matMeanStdDev(src Mat) (float64, float64) {
	n := src.rows * src.cols
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range src.data[:n] {
		sum += float64(v)
	}
	mean := sum / float64(n)
	var sse float64
	for _, v := range src.data[:n] {
		d := float64(v) - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / float64(n))
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	n := src.rows * src.cols
	for i := 0; i < n; i++ {
		if mask.data[i] != 0 {
			dst.data[i] = src.data[i]
		}
	}
}

// imWriteMat writes a 16-bit TIFF; the path extension is not consulted.
func imWriteMat(path string, m Mat) {
	f, err := os.Create(path)
	if err != nil {
		Logf("stardetect: writing %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := WriteMatTIFF(f, m); err != nil {
		Logf("stardetect: writing %s: %v", path, err)
	}
}
