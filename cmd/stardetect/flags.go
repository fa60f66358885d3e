package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"

	sd "stardetect/pkg/stardetect"
)

// detectFlags binds every detector parameter to a flag set. Only flags that
// were explicitly set are applied, so a -config file keeps its values for
// the rest.
type detectFlags struct {
	fs *flag.FlagSet

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
	maxProcessors              int
	verbose                    bool
	debugPath                  string

	psf               bool
	psfType           string
	psfElliptic       bool
	centroidTolerance float64
}

func newDetectFlags(fs *flag.FlagSet) *detectFlags {
	d := sd.DefaultConfig()
	psf := d.PSFFitting()
	f := &detectFlags{fs: fs}

	fs.IntVar(&f.structureLayers, "structure-layers", d.StructureLayers(), "scale of the largest detectable structures (1-8)")
	fs.IntVar(&f.noiseLayers, "noise-layers", d.NoiseLayers(), "pre-smoothing layers against bright noise (0-4)")
	fs.IntVar(&f.hotPixelFilterRadius, "hot-pixel-radius", d.HotPixelFilterRadius(), "hot pixel median filter radius (0-3)")
	fs.IntVar(&f.noiseReductionFilterRadius, "noise-reduction-radius", d.NoiseReductionFilterRadius(), "Gaussian noise reduction radius (0-64)")
	fs.IntVar(&f.minStructureSize, "min-structure-size", d.MinStructureSize(), "minimum star area in pixels, 0 = automatic")
	fs.Float64Var(&f.sensitivity, "sensitivity", d.Sensitivity(), "detection sensitivity (0-1)")
	fs.Float64Var(&f.peakResponse, "peak-response", d.PeakResponse(), "required peakedness (0-1)")
	fs.Float64Var(&f.minSNR, "min-snr", d.MinSNR(), "minimum signal to noise ratio")
	fs.Float64Var(&f.brightThreshold, "bright-threshold", d.BrightThreshold(), "SNR multiple that bypasses the peak test (1-100)")
	fs.Float64Var(&f.maxDistortion, "max-distortion", d.MaxDistortion(), "maximum shape distortion (0-1)")
	fs.BoolVar(&f.allowClusteredSources, "allow-clustered", d.AllowClusteredSources(), "accept sources with several local maxima")
	fs.IntVar(&f.localDetectionFilterRadius, "local-maxima-radius", d.LocalDetectionFilterRadius(), "local maxima neighbourhood radius (1-5)")
	fs.Float64Var(&f.localMaximaDetectionLimit, "local-maxima-limit", d.LocalMaximaDetectionLimit(), "local maxima detection limit (0-1)")
	fs.BoolVar(&f.localMaximaDetection, "local-maxima", d.LocalMaximaDetection(), "detect multiple-peak sources")
	fs.Float64Var(&f.upperLimit, "upper-limit", d.UpperLimit(), "reject peaks above this value (0-1)")
	fs.BoolVar(&f.invert, "invert", d.Invert(), "detect dark sources on a bright background")
	fs.IntVar(&f.maxProcessors, "max-processors", d.MaxProcessors(), "PSF worker limit, 0 = all logical cores")
	fs.BoolVar(&f.verbose, "verbose", d.Verbose(), "log every detection phase")
	fs.StringVar(&f.debugPath, "debug-path", d.DebugPath(), "existing directory to receive intermediate maps")

	fs.BoolVar(&f.psf, "psf", psf.Enabled, "refine stars with PSF fitting")
	fs.StringVar(&f.psfType, "psf-type", psf.Type.String(), "PSF model: Gaussian, Moffat4, Moffat25 or Moffat15")
	fs.BoolVar(&f.psfElliptic, "psf-elliptic", psf.Elliptic, "fit elliptical PSFs")
	fs.Float64Var(&f.centroidTolerance, "psf-tolerance", psf.CentroidTolerance, "maximum PSF centroid shift in pixels")
	return f
}

// configFile returns the explicitly set flags as a ConfigFile.
func (f *detectFlags) configFile() *sd.ConfigFile {
	cf := &sd.ConfigFile{}
	psf := &sd.PSFFile{}
	psfSet := false
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "structure-layers":
			cf.StructureLayers = &f.structureLayers
		case "noise-layers":
			cf.NoiseLayers = &f.noiseLayers
		case "hot-pixel-radius":
			cf.HotPixelFilterRadius = &f.hotPixelFilterRadius
		case "noise-reduction-radius":
			cf.NoiseReductionFilterRadius = &f.noiseReductionFilterRadius
		case "min-structure-size":
			cf.MinStructureSize = &f.minStructureSize
		case "sensitivity":
			cf.Sensitivity = &f.sensitivity
		case "peak-response":
			cf.PeakResponse = &f.peakResponse
		case "min-snr":
			cf.MinSNR = &f.minSNR
		case "bright-threshold":
			cf.BrightThreshold = &f.brightThreshold
		case "max-distortion":
			cf.MaxDistortion = &f.maxDistortion
		case "allow-clustered":
			cf.AllowClusteredSources = &f.allowClusteredSources
		case "local-maxima-radius":
			cf.LocalDetectionFilterRadius = &f.localDetectionFilterRadius
		case "local-maxima-limit":
			cf.LocalMaximaDetectionLimit = &f.localMaximaDetectionLimit
		case "local-maxima":
			cf.LocalMaximaDetection = &f.localMaximaDetection
		case "upper-limit":
			cf.UpperLimit = &f.upperLimit
		case "invert":
			cf.Invert = &f.invert
		case "max-processors":
			cf.MaxProcessors = &f.maxProcessors
		case "verbose":
			cf.Verbose = &f.verbose
		case "debug-path":
			cf.DebugPath = &f.debugPath
		case "psf":
			psf.Enabled, psfSet = &f.psf, true
		case "psf-type":
			psf.Type, psfSet = &f.psfType, true
		case "psf-elliptic":
			psf.Elliptic, psfSet = &f.psfElliptic, true
		case "psf-tolerance":
			psf.CentroidTolerance, psfSet = &f.centroidTolerance, true
		}
	})
	if psfSet {
		cf.PSF = psf
	}
	return cf
}

// serverOnlyDenied lists parameters a remote caller may not set.
var serverOnlyDenied = map[string]bool{
	"debug-path":     true,
	"verbose":        true,
	"max-processors": true,
}

// configFromQuery applies URL query parameters, named like the CLI flags,
// on top of base.
func configFromQuery(base sd.Config, q url.Values) (sd.Config, error) {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := newDetectFlags(fs)
	for key, values := range q {
		if serverOnlyDenied[key] {
			return base, fmt.Errorf("parameter %q not allowed", key)
		}
		if len(values) == 0 {
			continue
		}
		if err := fs.Set(key, values[len(values)-1]); err != nil {
			return base, fmt.Errorf("parameter %q: %w", key, err)
		}
	}
	cfg := base
	if err := f.configFile().Apply(&cfg); err != nil {
		return base, err
	}
	return cfg, nil
}
