package stardetect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.StructureLayers())
	assert.Equal(t, 0, cfg.NoiseLayers())
	assert.Equal(t, 1, cfg.HotPixelFilterRadius())
	assert.Equal(t, 0, cfg.NoiseReductionFilterRadius())
	assert.Equal(t, 0, cfg.MinStructureSize())
	assert.Equal(t, 0.5, cfg.Sensitivity())
	assert.Equal(t, 0.5, cfg.PeakResponse())
	assert.Equal(t, 0.0, cfg.MinSNR())
	assert.Equal(t, 3.0, cfg.BrightThreshold())
	assert.Equal(t, 0.6, cfg.MaxDistortion())
	assert.False(t, cfg.AllowClusteredSources())
	assert.Equal(t, 2, cfg.LocalDetectionFilterRadius())
	assert.Equal(t, 0.75, cfg.LocalMaximaDetectionLimit())
	assert.True(t, cfg.LocalMaximaDetection())
	assert.Equal(t, 1.0, cfg.UpperLimit())
	assert.False(t, cfg.Invert())
	assert.Equal(t, PSFFitting{Type: PSFGaussian, CentroidTolerance: 1.5}, cfg.PSFFitting())
	assert.Nil(t, cfg.Mask())
}

func TestConfigSettersClamp(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Config)
		get  func(*Config) float64
		want float64
	}{
		{"structure layers high", func(c *Config) { c.SetStructureLayers(20) }, func(c *Config) float64 { return float64(c.StructureLayers()) }, 8},
		{"structure layers low", func(c *Config) { c.SetStructureLayers(0) }, func(c *Config) float64 { return float64(c.StructureLayers()) }, 1},
		{"noise layers", func(c *Config) { c.SetNoiseLayers(9) }, func(c *Config) float64 { return float64(c.NoiseLayers()) }, 4},
		{"hot pixel radius", func(c *Config) { c.SetHotPixelFilterRadius(-2) }, func(c *Config) float64 { return float64(c.HotPixelFilterRadius()) }, 0},
		{"noise reduction radius", func(c *Config) { c.SetNoiseReductionFilterRadius(100) }, func(c *Config) float64 { return float64(c.NoiseReductionFilterRadius()) }, 64},
		{"min structure size", func(c *Config) { c.SetMinStructureSize(-5) }, func(c *Config) float64 { return float64(c.MinStructureSize()) }, 0},
		{"sensitivity low", func(c *Config) { c.SetSensitivity(-1) }, func(c *Config) float64 { return c.Sensitivity() }, 0},
		{"sensitivity NaN", func(c *Config) { c.SetSensitivity(math.NaN()) }, func(c *Config) float64 { return c.Sensitivity() }, 0},
		{"peak response", func(c *Config) { c.SetPeakResponse(1.5) }, func(c *Config) float64 { return c.PeakResponse() }, 1},
		{"min SNR", func(c *Config) { c.SetMinSNR(-3) }, func(c *Config) float64 { return c.MinSNR() }, 0},
		{"bright threshold low", func(c *Config) { c.SetBrightThreshold(0.2) }, func(c *Config) float64 { return c.BrightThreshold() }, 1},
		{"bright threshold high", func(c *Config) { c.SetBrightThreshold(1000) }, func(c *Config) float64 { return c.BrightThreshold() }, 100},
		{"max distortion", func(c *Config) { c.SetMaxDistortion(2) }, func(c *Config) float64 { return c.MaxDistortion() }, 1},
		{"local radius", func(c *Config) { c.SetLocalDetectionFilterRadius(7) }, func(c *Config) float64 { return float64(c.LocalDetectionFilterRadius()) }, 5},
		{"local limit", func(c *Config) { c.SetLocalMaximaDetectionLimit(-0.1) }, func(c *Config) float64 { return c.LocalMaximaDetectionLimit() }, 0},
		{"upper limit", func(c *Config) { c.SetUpperLimit(1.2) }, func(c *Config) float64 { return c.UpperLimit() }, 1},
		{"in range kept", func(c *Config) { c.SetSensitivity(0.25) }, func(c *Config) float64 { return c.Sensitivity() }, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.set(&cfg)
			assert.Equal(t, tt.want, tt.get(&cfg))
		})
	}
}

func TestConfigPSFFittingClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPSFFitting(PSFFitting{Enabled: true, Type: PSFType(42), CentroidTolerance: -1})
	psf := cfg.PSFFitting()
	assert.True(t, psf.Enabled)
	assert.Equal(t, PSFGaussian, psf.Type)
	assert.Equal(t, 0.0, psf.CentroidTolerance)
}

func TestConfigDerivedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 2.5, cfg.snrThreshold(), 1e-12)
	assert.InDelta(t, 5.0, cfg.peakThreshold(), 1e-12)
	assert.InDelta(t, math.Pi/4*0.4, cfg.minCoverage(), 1e-12)
	assert.False(t, cfg.clusteredAllowed())

	cfg.SetSensitivity(1)
	cfg.SetPeakResponse(1)
	cfg.SetMaxDistortion(1)
	assert.InDelta(t, 0.1, cfg.snrThreshold(), 1e-12)
	assert.InDelta(t, 0.1, cfg.peakThreshold(), 1e-12)
	assert.Equal(t, 0.0, cfg.minCoverage())

	cfg.SetLocalMaximaDetection(false)
	assert.True(t, cfg.clusteredAllowed())
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	assert.Contains(t, s, "StructureLayers=5")
	assert.Contains(t, s, "PSF=false/Gaussian")
}

func TestParsePSFType(t *testing.T) {
	for _, typ := range []PSFType{PSFGaussian, PSFMoffat4, PSFMoffat25, PSFMoffat15} {
		got, err := ParsePSFType(typ.String())
		assert.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	got, err := ParsePSFType("moffat25")
	assert.NoError(t, err)
	assert.Equal(t, PSFMoffat25, got)

	_, err = ParsePSFType("Lorentzian")
	assert.Error(t, err)
}
