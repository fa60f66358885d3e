/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package stardetect

import (
	"fmt"
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// ImageStatistics is the sample count, median and MAD of an image area.
type ImageStatistics struct {
	Count  int64
	Median float64
	MAD    float64
}

func (s ImageStatistics) String() string {
	return fmt.Sprintf("{Count=%d, Median=%f, MAD=%f}", s.Count, s.Median, s.MAD)
}

// Ranged represents a half-open value range [Start, End).
type Ranged struct {
	Start float64
	End   float64
}

// b3NoiseScaling is the standard deviation of the second B3 spline detail
// layer for unit white noise.
const b3NoiseScaling = 0.2007

// ConvolveGaussian applies a separated Gaussian convolution.
func ConvolveGaussian(src, dst *Mat, kernelSize int) {
	if kernelSize < 3 || kernelSize%2 == 0 {
		panic("kernelSize must be a positive odd number >= 3")
	}
	sigma := 0.159758 * float64(kernelSize)
	kernel := getGaussianKernel1D(kernelSize, sigma)
	defer kernel.Close()
	sepFilter2DReflect(*src, dst, kernel, kernel)
}

// convolveGaussian2D applies the same Gaussian as ConvolveGaussian through a
// full square kernel.
func convolveGaussian2D(src, dst *Mat, kernelSize int) {
	if kernelSize < 3 || kernelSize%2 == 0 {
		panic("kernelSize must be a positive odd number >= 3")
	}
	sigma := 0.159758 * float64(kernelSize)
	k1 := getGaussianKernel1D(kernelSize, sigma)
	defer k1.Close()
	w := k1.DataFloat32()
	kernel := NewMatWithSize(kernelSize, kernelSize)
	defer kernel.Close()
	kd := kernel.DataFloat32()
	for i := 0; i < kernelSize; i++ {
		for j := 0; j < kernelSize; j++ {
			kd[i*kernelSize+j] = w[i] * w[j]
		}
	}
	filter2DReflect(*src, dst, kernel)
}

// separableCrossover returns the smallest odd kernel size for which the
// separable convolution is cheaper than the 2-D one when the 2-D work can be
// spread over the given number of threads.
func separableCrossover(threads int) int {
	if threads < 1 {
		threads = 1
	}
	n := 3
	for n*n/threads <= 2*n+16 {
		n += 2
	}
	return n
}

// convolveGaussianAuto picks the separable or 2-D implementation by kernel size.
func convolveGaussianAuto(src, dst *Mat, kernelSize, threads int) {
	if kernelSize >= separableCrossover(threads) {
		ConvolveGaussian(src, dst, kernelSize)
		return
	}
	convolveGaussian2D(src, dst, kernelSize)
}

// histogramBuckets is the resolution of HistogramStatistics over [0, 1].
const histogramBuckets = 1 << 16

// HistogramStatistics estimates the median and MAD of img, or of rect within
// it, from a 16-bit histogram. Pixels outside valueRange, when given, are
// ignored. A result with Count 0 means no pixel was sampled.
func HistogramStatistics(img Mat, valueRange *Ranged, rect *image.Rectangle) ImageStatistics {
	area := image.Rect(0, 0, img.Cols(), img.Rows())
	if rect != nil {
		area = rect.Intersect(area)
	}
	histogram := make([]uint32, histogramBuckets)
	width := img.Cols()
	data := img.DataFloat32()

	var st ImageStatistics
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for _, v := range data[y*width+area.Min.X : y*width+area.Max.X] {
			f := float64(v)
			if valueRange != nil && (f < valueRange.Start || f >= valueRange.End) {
				continue
			}
			histogram[bucketOf(f)]++
			st.Count++
		}
	}
	if st.Count == 0 {
		return st
	}

	half := float64(st.Count) / 2
	median := 0
	var below float64
	for i, n := range histogram {
		if n == 0 {
			continue
		}
		if below+float64(n) >= half {
			median = i
			st.Median = (float64(i) + (half-below)/float64(n)) / histogramBuckets
			break
		}
		below += float64(n)
	}

	// Walk outwards from the median bucket, nearest bucket first, until half
	// of the samples are covered.
	up, down := median, median-1
	var covered float64
	for up < histogramBuckets || down >= 0 {
		upDist, downDist := math.MaxFloat64, math.MaxFloat64
		if up < histogramBuckets {
			upDist = math.Abs(float64(up)/histogramBuckets - st.Median)
		}
		if down >= 0 {
			downDist = math.Abs(float64(down)/histogramBuckets - st.Median)
		}
		i, dist := up, upDist
		if downDist < upDist {
			i, dist = down, downDist
			down--
		} else {
			up++
		}
		covered += float64(histogram[i])
		if covered >= half {
			st.MAD = dist
			break
		}
	}
	return st
}

// bucketOf maps a sample to its histogram bucket, clamping out of range values.
func bucketOf(v float64) int {
	return min(int(clampFloat64(v, 0, 1)*histogramBuckets), histogramBuckets-1)
}

// GetB3SplineFilter creates a B3 spline wavelet filter for the given dyadic layer.
func GetB3SplineFilter(dyadicLayer int) Mat {
	size := (1 << uint(dyadicLayer+2)) + 1
	filter := NewMatWithSize(size, 1)
	data := filter.DataFloat32()
	data[0] = 0.0625
	data[size-1] = 0.0625
	data[1<<uint(dyadicLayer)] = 0.25
	data[size-(1<<uint(dyadicLayer))-1] = 0.25
	data[size>>1] = 0.375
	return filter
}

// WaveletNoiseKSigma estimates the standard deviation of the image noise from
// the second a-trous B3 spline detail layer with iterative k-sigma clipping.
func WaveletNoiseKSigma(img Mat, k, epsilon float64, maxIterations int) float64 {
	c1 := NewMat()
	defer c1.Close()
	c2 := NewMat()
	defer c2.Close()

	f0 := GetB3SplineFilter(0)
	sepFilter2DReflect(img, &c1, f0, f0)
	f0.Close()
	f1 := GetB3SplineFilter(1)
	sepFilter2DReflect(c1, &c2, f1, f1)
	f1.Close()

	d1 := c1.DataFloat32()
	d2 := c2.DataFloat32()
	n := img.Rows() * img.Cols()
	layer := make([]float64, n)
	for i := 0; i < n; i++ {
		layer[i] = float64(d1[i]) - float64(d2[i])
	}
	return kSigma(layer, k, epsilon, maxIterations) / b3NoiseScaling
}

// kSigma returns the standard deviation of x after iteratively discarding
// samples farther than k sigmas from the mean.
func kSigma(x []float64, k, epsilon float64, maxIterations int) float64 {
	if len(x) < 2 {
		return 0
	}
	_, sigma := stat.MeanStdDev(x, nil)
	samples := x
	for it := 0; it < maxIterations && sigma > 0; it++ {
		mean := stat.Mean(samples, nil)
		kept := make([]float64, 0, len(samples))
		for _, v := range samples {
			if math.Abs(v-mean) < k*sigma {
				kept = append(kept, v)
			}
		}
		if len(kept) < 2 {
			break
		}
		_, next := stat.MeanStdDev(kept, nil)
		converged := math.Abs(sigma-next) <= epsilon*sigma
		sigma, samples = next, kept
		if converged {
			break
		}
	}
	return sigma
}

// truncateRescale clamps negative values to zero and stretches the result
// to [0, 1]. A constant image is left as is.
func truncateRescale(m *Mat) {
	data := m.DataFloat32()
	n := m.Rows() * m.Cols()
	lo, hi := float32(math.MaxFloat32), float32(0)
	for i := 0; i < n; i++ {
		if data[i] < 0 {
			data[i] = 0
		}
		if data[i] < lo {
			lo = data[i]
		}
		if data[i] > hi {
			hi = data[i]
		}
	}
	if hi <= lo {
		return
	}
	scale := 1 / (hi - lo)
	for i := 0; i < n; i++ {
		data[i] = (data[i] - lo) * scale
	}
}

// subtractInPlace computes lhs -= rhs.
func subtractInPlace(lhs *Mat, rhs Mat) {
	lhsData := lhs.DataFloat32()
	rhsData := rhs.DataFloat32()
	n := lhs.Rows() * lhs.Cols()
	for i := 0; i < n; i++ {
		lhsData[i] -= rhsData[i]
	}
}

// invertInPlace replaces every value v with 1 - v.
func invertInPlace(m *Mat) {
	data := m.DataFloat32()
	n := m.Rows() * m.Cols()
	for i := 0; i < n; i++ {
		data[i] = 1 - data[i]
	}
}

// Binarize sets pixels strictly above threshold to 1 and the rest to 0.
func Binarize(src, dst *Mat, threshold float64) {
	thresholdBinary(*src, dst, float32(threshold), 1.0)
}

// medianMAD returns the median of values and the MAD scaled to a normal
// standard deviation. ok is false for an empty sample.
func medianMAD(values []float64) (median, sigma float64, ok bool) {
	median, err := stats.Median(values)
	if err != nil {
		return 0, 0, false
	}
	mad, err := stats.MedianAbsoluteDeviation(values)
	if err != nil {
		return 0, 0, false
	}
	return median, 1.4826 * mad, true
}
