package stardetect

import (
	"fmt"
	"math"
)

// ProgressFunc receives the running count of processed work units. It may be
// called from several goroutines during PSF fitting.
type ProgressFunc func(done int64)

// PSFFitting groups the optional PSF refinement settings.
type PSFFitting struct {
	Enabled  bool
	Type     PSFType
	Elliptic bool
	// CentroidTolerance is the maximum distance in pixels between a fitted
	// centroid and the barycenter it started from.
	CentroidTolerance float64
}

// Config holds the detector parameters. The zero value is not useful; start
// from DefaultConfig. Setters clamp out-of-range values instead of failing.
type Config struct {
	structureLayers            int
	noiseLayers                int
	hotPixelFilterRadius       int
	noiseReductionFilterRadius int
	minStructureSize           int
	sensitivity                float64
	peakResponse               float64
	minSNR                     float64
	brightThreshold            float64
	maxDistortion              float64
	allowClusteredSources      bool
	localDetectionFilterRadius int
	localMaximaDetectionLimit  float64
	localMaximaDetection       bool
	upperLimit                 float64
	invert                     bool
	psf                        PSFFitting
	maxProcessors              int

	mask      *DetectionMask
	verbose   bool
	debugPath string
	progress  ProgressFunc
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		structureLayers:            5,
		noiseLayers:                0,
		hotPixelFilterRadius:       1,
		noiseReductionFilterRadius: 0,
		minStructureSize:           0,
		sensitivity:                0.5,
		peakResponse:               0.5,
		minSNR:                     0,
		brightThreshold:            3,
		maxDistortion:              0.6,
		allowClusteredSources:      false,
		localDetectionFilterRadius: 2,
		localMaximaDetectionLimit:  0.75,
		localMaximaDetection:       true,
		upperLimit:                 1.0,
		invert:                     false,
		psf: PSFFitting{
			Enabled:           false,
			Type:              PSFGaussian,
			Elliptic:          false,
			CentroidTolerance: 1.5,
		},
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat64(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Config) StructureLayers() int { return c.structureLayers }
func (c *Config) NoiseLayers() int { return c.noiseLayers }
func (c *Config) HotPixelFilterRadius() int { return c.hotPixelFilterRadius }
func (c *Config) NoiseReductionFilterRadius() int { return c.noiseReductionFilterRadius }
func (c *Config) MinStructureSize() int { return c.minStructureSize }
func (c *Config) Sensitivity() float64 { return c.sensitivity }
func (c *Config) PeakResponse() float64 { return c.peakResponse }
func (c *Config) MinSNR() float64 { return c.minSNR }
func (c *Config) BrightThreshold() float64 { return c.brightThreshold }
func (c *Config) MaxDistortion() float64 { return c.maxDistortion }
func (c *Config) AllowClusteredSources() bool { return c.allowClusteredSources }
func (c *Config) LocalDetectionFilterRadius() int { return c.localDetectionFilterRadius }
func (c *Config) LocalMaximaDetectionLimit() float64 { return c.localMaximaDetectionLimit }
func (c *Config) LocalMaximaDetection() bool { return c.localMaximaDetection }
func (c *Config) UpperLimit() float64 { return c.upperLimit }
func (c *Config) Invert() bool { return c.invert }
func (c *Config) PSFFitting() PSFFitting { return c.psf }
func (c *Config) MaxProcessors() int { return c.maxProcessors }
func (c *Config) Mask() *DetectionMask { return c.mask }
func (c *Config) Verbose() bool { return c.verbose }
func (c *Config) DebugPath() string { return c.debugPath }
func (c *Config) Progress() ProgressFunc { return c.progress }

// SetStructureLayers sets the scale of the largest detectable structures.
func (c *Config) SetStructureLayers(n int) { c.structureLayers = clampInt(n, 1, 8) }

// SetNoiseLayers sets the pre-smoothing scale, 0 disables it.
func (c *Config) SetNoiseLayers(n int) { c.noiseLayers = clampInt(n, 0, 4) }

func (c *Config) SetHotPixelFilterRadius(n int) { c.hotPixelFilterRadius = clampInt(n, 0, 3) }

func (c *Config) SetNoiseReductionFilterRadius(n int) {
	c.noiseReductionFilterRadius = clampInt(n, 0, 64)
}

// SetMinStructureSize sets the minimum star area in pixels; 0 selects the
// automatic size estimate.
func (c *Config) SetMinStructureSize(n int) { c.minStructureSize = clampInt(n, 0, math.MaxInt32) }

func (c *Config) SetSensitivity(v float64) { c.sensitivity = clampFloat64(v, 0, 1) }
func (c *Config) SetPeakResponse(v float64) { c.peakResponse = clampFloat64(v, 0, 1) }
func (c *Config) SetMinSNR(v float64) { c.minSNR = clampFloat64(v, 0, math.MaxFloat64) }

// SetBrightThreshold sets the normalized SNR above which the peakedness test is skipped.
func (c *Config) SetBrightThreshold(v float64) { c.brightThreshold = clampFloat64(v, 1, 100) }

func (c *Config) SetMaxDistortion(v float64) { c.maxDistortion = clampFloat64(v, 0, 1) }
func (c *Config) SetAllowClusteredSources(b bool) { c.allowClusteredSources = b }
func (c *Config) SetLocalDetectionFilterRadius(n int) {
	c.localDetectionFilterRadius = clampInt(n, 1, 5)
}
func (c *Config) SetLocalMaximaDetectionLimit(v float64) {
	c.localMaximaDetectionLimit = clampFloat64(v, 0, 1)
}
func (c *Config) SetLocalMaximaDetection(b bool) { c.localMaximaDetection = b }
func (c *Config) SetUpperLimit(v float64) { c.upperLimit = clampFloat64(v, 0, 1) }
func (c *Config) SetInvert(b bool) { c.invert = b }

// SetPSFFitting replaces the PSF settings; the tolerance is clamped to [0, 100] px.
func (c *Config) SetPSFFitting(p PSFFitting) {
	if p.Type < PSFGaussian || p.Type > PSFMoffat15 {
		p.Type = PSFGaussian
	}
	p.CentroidTolerance = clampFloat64(p.CentroidTolerance, 0, 100)
	c.psf = p
}

// SetMaxProcessors bounds the PSF worker pool; 0 uses every logical core.
func (c *Config) SetMaxProcessors(n int) { c.maxProcessors = clampInt(n, 0, 1024) }

// SetMask restricts detection to the nonzero pixels of m; nil removes the mask.
func (c *Config) SetMask(m *DetectionMask) { c.mask = m }
func (c *Config) SetVerbose(b bool) { c.verbose = b }
func (c *Config) SetDebugPath(path string) { c.debugPath = path }
func (c *Config) SetProgress(f ProgressFunc) { c.progress = f }

// snrThreshold maps sensitivity onto the normalized SNR divisor.
func (c *Config) snrThreshold() float64 {
	return 0.1 + 4.8*(1-c.sensitivity)
}

// peakThreshold maps peak response onto the kurtosis divisor.
func (c *Config) peakThreshold() float64 {
	return 0.1 + 9.8*(1-c.peakResponse)
}

// minCoverage maps max distortion onto the minimum significant-pixel coverage.
func (c *Config) minCoverage() float64 {
	return math.Pi / 4 * (1 - c.maxDistortion)
}

// clusteredAllowed reports whether multi-peak regions may become stars.
func (c *Config) clusteredAllowed() bool {
	return c.allowClusteredSources || !c.localMaximaDetection
}

func (c Config) String() string {
	return fmt.Sprintf("Params: StructureLayers=%d, NoiseLayers=%d, HotPixelFilterRadius=%d, NoiseReductionFilterRadius=%d, "+
		"MinStructureSize=%d, Sensitivity=%f, PeakResponse=%f, MinSNR=%f, BrightThreshold=%f, MaxDistortion=%f, "+
		"AllowClusteredSources=%t, LocalDetectionFilterRadius=%d, LocalMaximaDetectionLimit=%f, LocalMaximaDetection=%t, "+
		"UpperLimit=%f, Invert=%t, PSF=%t/%s/elliptic=%t/tolerance=%f, MaxProcessors=%d, Mask=%t",
		c.structureLayers, c.noiseLayers, c.hotPixelFilterRadius, c.noiseReductionFilterRadius,
		c.minStructureSize, c.sensitivity, c.peakResponse, c.minSNR, c.brightThreshold, c.maxDistortion,
		c.allowClusteredSources, c.localDetectionFilterRadius, c.localMaximaDetectionLimit, c.localMaximaDetection,
		c.upperLimit, c.invert, c.psf.Enabled, c.psf.Type, c.psf.Elliptic, c.psf.CentroidTolerance, c.maxProcessors, c.mask != nil)
}
