package stardetect

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// maxBackgroundIterations bounds the ring growth of estimateBackground.
	maxBackgroundIterations = 200
	// backgroundTolerance is the relative median change treated as converged.
	backgroundTolerance = 0.01
	// barycenterStretch is the number of background sigmas clipped before
	// the barycenter is weighted.
	barycenterStretch = 1.5
	// peakSamples is the number of brightest samples averaged into the peak.
	peakSamples = 5
)

// starParameters is the working state of one candidate region.
type starParameters struct {
	pos   Point2d
	rect  image.Rectangle // detection rectangle
	srect image.Rectangle // sampling rectangle
	bkg   float64
	sigma float64
	flux  float64
	max   float64
	nmax  int
	peak  float64
	kurt  float64
	count int
}

// snr is the peak contrast over the background dispersion. A noiseless
// background yields +Inf for a positive contrast.
func (p *starParameters) snr() float64 {
	d := p.peak - p.bkg
	if 1+p.sigma == 1 {
		if d > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return d / p.sigma
}

// ringSamples collects the pixels of outer that are not in inner, strip by
// strip so corners are visited once.
func ringSamples(img Mat, inner, outer image.Rectangle, dst []float64) []float64 {
	width := img.Cols()
	data := img.DataFloat32()
	dst = dst[:0]
	for y := outer.Min.Y; y < inner.Min.Y; y++ {
		for x := outer.Min.X; x < outer.Max.X; x++ {
			dst = append(dst, float64(data[y*width+x]))
		}
	}
	for y := inner.Min.Y; y < inner.Max.Y; y++ {
		for x := outer.Min.X; x < inner.Min.X; x++ {
			dst = append(dst, float64(data[y*width+x]))
		}
		for x := inner.Max.X; x < outer.Max.X; x++ {
			dst = append(dst, float64(data[y*width+x]))
		}
	}
	for y := inner.Max.Y; y < outer.Max.Y; y++ {
		for x := outer.Min.X; x < outer.Max.X; x++ {
			dst = append(dst, float64(data[y*width+x]))
		}
	}
	return dst
}

// estimateBackground grows a ring around rect until its median stops
// decreasing. It returns the median, the MAD based sigma and the outer
// rectangle of the final ring. ok is false when no stable ring was found.
func estimateBackground(img Mat, rect image.Rectangle) (bkg, sigma float64, srect image.Rectangle, ok bool) {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	rect = rect.Intersect(bounds)
	var samples []float64
	prev := math.NaN()
	for it := 0; it < maxBackgroundIterations; it++ {
		outer := rect.Inset(-(4 + it)).Intersect(bounds)
		samples = ringSamples(img, rect, outer, samples)
		m, s, valid := medianMAD(samples)
		if !valid {
			return 0, 0, image.Rectangle{}, false
		}
		if !math.IsNaN(prev) && (m >= prev || (prev != 0 && (prev-m)/prev < backgroundTolerance)) {
			return m, s, outer, true
		}
		prev = m
	}
	return 0, 0, image.Rectangle{}, false
}

// estimateRegion measures one region on img. lmap is nil when local maxima
// detection is disabled.
func estimateRegion(img Mat, lmap *Mat, r region, allowClustered bool) (starParameters, rejection) {
	var p starParameters
	var ok bool
	p.bkg, p.sigma, p.srect, ok = estimateBackground(img, r.rect)
	if !ok {
		return p, rejectEstimation
	}

	width := img.Cols()
	data := img.DataFloat32()
	var lmapData []float32
	if lmap != nil {
		lmapData = lmap.DataFloat32()
	}

	significant := make([]float64, 0, len(r.points))
	for _, pt := range r.points {
		i := pt.Y*width + pt.X
		v := float64(data[i])
		if v <= p.bkg {
			continue
		}
		significant = append(significant, v)
		p.flux += v - p.bkg
		if lmapData != nil && lmapData[i] != 0 {
			p.nmax++
		}
	}
	if len(significant) == 0 {
		return p, rejectEstimation
	}
	if p.nmax > 1 && !allowClustered {
		return p, rejectClustered
	}

	p.rect = r.rect.Inset(-2).Intersect(image.Rect(0, 0, width, img.Rows()))
	pos, ok := barycenter(img, p.rect, p.bkg+barycenterStretch*p.sigma)
	if !ok {
		return p, rejectEstimation
	}
	p.pos = pos

	sort.Sort(sort.Reverse(sort.Float64Slice(significant)))
	p.max = significant[0]
	p.count = len(significant)
	n := 0
	var sum float64
	for n < len(significant) && (n < peakSamples || significant[n] == significant[peakSamples-1]) {
		sum += significant[n]
		n++
	}
	p.peak = sum / float64(n)
	p.kurt = kurtosis(significant)
	return p, accepted
}

// barycenter is the centroid of rect weighted by the values above threshold,
// rescaled to [0, 1]. Values indistinguishable from zero are ignored. When the
// brightest value on the edge of rect lies between threshold and the peak it
// becomes the cut, so the weighted cap sits wholly inside rect and clipping
// does not pull the centroid towards the middle of the window.
func barycenter(img Mat, rect image.Rectangle, threshold float64) (Point2d, bool) {
	width := img.Cols()
	data := img.DataFloat32()
	value := func(x, y int) float64 {
		v := float64(data[y*width+x])
		if 1+v == 1 {
			return 0
		}
		return v
	}

	maxValue, edge := math.Inf(-1), math.Inf(-1)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := value(x, y)
			maxValue = math.Max(maxValue, v)
			if x == rect.Min.X || x == rect.Max.X-1 || y == rect.Min.Y || y == rect.Max.Y-1 {
				edge = math.Max(edge, v)
			}
		}
	}
	if edge > threshold && edge < maxValue {
		threshold = edge
	}
	span := maxValue - threshold
	if span <= 0 {
		return Point2d{}, false
	}

	var sx, sy, sw float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := value(x, y)
			if v <= threshold {
				continue
			}
			w := (v - threshold) / span
			sx += w * float64(x)
			sy += w * float64(y)
			sw += w
		}
	}
	if 1+sw == 1 {
		return Point2d{}, false
	}
	return Point2d{X: sx / sw, Y: sy / sw}, true
}

// kurtosis is the fourth standardized moment of values, or 0 when their
// dispersion vanishes.
func kurtosis(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, sd := stat.MeanStdDev(values, nil)
	if 1+sd == 1 {
		return 0
	}
	var k float64
	for _, v := range values {
		z := (v - mean) / sd
		k += z * z * z * z
	}
	return k / float64(len(values))
}
