package stardetect

import (
	"fmt"
	"math"
)

const (
	// syntheticMedianLimit is the structure map median below which the image
	// is treated as noiseless.
	syntheticMedianLimit = 1.0 / 65536
	structureNoiseK      = 3.0
	structureNoiseEps    = 0.01
	structureNoiseIters  = 10
)

// buildStructureMap returns the binary map of candidate star structures in img.
func buildStructureMap(img Mat, cfg *Config, threads int) Mat {
	m := img.Clone()
	if cfg.noiseLayers > 0 {
		convolveGaussianAuto(&m, &m, 1+(1<<uint(cfg.noiseLayers)), threads)
	}

	// High-pass: remove everything larger than the structure scale.
	smooth := NewMat()
	convolveGaussianAuto(&m, &smooth, 1+(1<<uint(cfg.structureLayers)), threads)
	subtractInPlace(&m, smooth)
	smooth.Close()
	truncateRescale(&m)
	morphologyFilter(m, &m, boxStructure(3), morphDilate)
	maybeSaveImage(m, cfg.debugPath, "02-structure-highpass.tif")

	threshold, text := structureThreshold(m)
	maybeSaveText(cfg.debugPath, "02-structure-threshold.txt", text)
	if cfg.verbose {
		Logf("stardetect: %s", text)
	}

	Binarize(&m, &m, threshold)
	morphologyFilter(m, &m, boxStructure(3), morphErode)
	if cfg.mask != nil {
		cfg.mask.apply(&m)
	}
	maybeSaveImage(m, cfg.debugPath, "03-structure-map.tif")
	return m
}

// structureThreshold picks the binarization level of the high-passed map.
// A map whose median is essentially zero comes from a noiseless image and is
// cut at median + MAD of its nonzero pixels; any other map is cut three
// wavelet noise sigmas above its median.
func structureThreshold(m Mat) (float64, string) {
	global := HistogramStatistics(m, nil, nil)
	if global.Median < syntheticMedianLimit {
		nonzero := HistogramStatistics(m, &Ranged{Start: math.SmallestNonzeroFloat32, End: 1}, nil)
		if nonzero.Count == 0 {
			return math.MaxFloat32, "structure threshold: empty map"
		}
		t := nonzero.Median + nonzero.MAD
		return t, fmt.Sprintf("structure threshold (noiseless): %s, threshold=%f", nonzero, t)
	}
	noise := WaveletNoiseKSigma(m, structureNoiseK, structureNoiseEps, structureNoiseIters)
	t := global.Median + structureNoiseK*noise
	return t, fmt.Sprintf("structure threshold: median=%f, noise=%f, threshold=%f", global.Median, noise, t)
}

// buildLocalMaximaMap marks the pixels strictly brighter than every other
// pixel within radius and below the detection limit.
func buildLocalMaximaMap(img Mat, cfg *Config) Mat {
	dilated := NewMat()
	defer dilated.Close()
	morphologyFilter(img, &dilated, boxStructureWithoutCenter(2*cfg.localDetectionFilterRadius+1), morphDilate)

	out := NewMatWithSize(img.Rows(), img.Cols())
	src := img.DataFloat32()
	dil := dilated.DataFloat32()
	dst := out.DataFloat32()
	limit := float32(cfg.localMaximaDetectionLimit)
	for i := range dst {
		if v := src[i]; v > dil[i] && v < limit {
			dst[i] = 1
		}
	}
	if cfg.mask != nil {
		cfg.mask.apply(&out)
	}
	maybeSaveImage(out, cfg.debugPath, "04-local-maxima.tif")
	return out
}
