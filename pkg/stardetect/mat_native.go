//go:build !purego && !js

package stardetect

import (
	"image"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat { return Mat{m: gocv.NewMat()} }

// NewMatWithSize returns a zero-filled CV_32F matrix.
func NewMatWithSize(rows, cols int) Mat {
	return Mat{m: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV32F)}
}

func (mat Mat) Rows() int   { return mat.m.Rows() }
func (mat Mat) Cols() int   { return mat.m.Cols() }
func (mat Mat) Empty() bool { return mat.m.Empty() }
func (mat Mat) Clone() Mat  { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()     { mat.m.Close() }

func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

func CopyMatTo(src Mat, dst *Mat) {
	src.m.CopyTo(&dst.m)
}

// --- CV operations ---

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func filter2DReflect(src Mat, dst *Mat, kernel Mat) {
	gocv.Filter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernel.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	kernel := gocv.GetGaussianKernel(size, sigma)
	defer kernel.Close()
	// GetGaussianKernel returns CV_64F; the pipeline reads kernels as float32.
	out := gocv.NewMat()
	kernel.ConvertTo(&out, gocv.MatTypeCV32F)
	return Mat{m: out}
}

func medianBlur(src Mat, dst *Mat, ksize int) {
	gocv.MedianBlur(src.m, &dst.m, ksize)
}

func absDiff(a, b Mat, dst *Mat) {
	gocv.AbsDiff(a.m, b.m, &dst.m)
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinary)
}

func countNonZero(src Mat) int {
	return gocv.CountNonZero(src.m)
}

// morphologyFilter dilates or erodes with a flat structuring element. The
// default constant border leaves out-of-image neighbours out of the extremum.
func morphologyFilter(src Mat, dst *Mat, se structuringElement, op morphOp) {
	kernel := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), se.size, se.size, gocv.MatTypeCV8U)
	defer kernel.Close()
	half := se.size / 2
	for _, o := range se.offsets {
		kernel.SetUCharAt(o.Y+half, o.X+half, 1)
	}
	switch op {
	case morphErode:
		gocv.Erode(src.m, &dst.m, kernel)
	default:
		gocv.Dilate(src.m, &dst.m, kernel)
	}
}

func matMeanStdDev(src Mat) (float64, float64) {
	meanMat := gocv.NewMat()
	defer meanMat.Close()
	stdMat := gocv.NewMat()
	defer stdMat.Close()
	gocv.MeanStdDev(src.m, &meanMat, &stdMat)
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0)
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	mask.m.ConvertTo(&mask8, gocv.MatTypeCV8U)
	src.m.CopyToWithMask(&dst.m, mask8)
}

func imWriteMat(path string, m Mat) {
	gocv.IMWrite(path, m.m)
}
