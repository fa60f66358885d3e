package stardetect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// ConfigFile is the on-disk form of Config. Every field is optional; fields
// left out keep their current value when the file is applied.
type ConfigFile struct {
	StructureLayers            *int     `json:"structure_layers,omitempty" yaml:"structure_layers,omitempty"`
	NoiseLayers                *int     `json:"noise_layers,omitempty" yaml:"noise_layers,omitempty"`
	HotPixelFilterRadius       *int     `json:"hot_pixel_filter_radius,omitempty" yaml:"hot_pixel_filter_radius,omitempty"`
	NoiseReductionFilterRadius *int     `json:"noise_reduction_filter_radius,omitempty" yaml:"noise_reduction_filter_radius,omitempty"`
	MinStructureSize           *int     `json:"min_structure_size,omitempty" yaml:"min_structure_size,omitempty"`
	Sensitivity                *float64 `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	PeakResponse               *float64 `json:"peak_response,omitempty" yaml:"peak_response,omitempty"`
	MinSNR                     *float64 `json:"min_snr,omitempty" yaml:"min_snr,omitempty"`
	BrightThreshold            *float64 `json:"bright_threshold,omitempty" yaml:"bright_threshold,omitempty"`
	MaxDistortion              *float64 `json:"max_distortion,omitempty" yaml:"max_distortion,omitempty"`
	AllowClusteredSources      *bool    `json:"allow_clustered_sources,omitempty" yaml:"allow_clustered_sources,omitempty"`
	LocalDetectionFilterRadius *int     `json:"local_detection_filter_radius,omitempty" yaml:"local_detection_filter_radius,omitempty"`
	LocalMaximaDetectionLimit  *float64 `json:"local_maxima_detection_limit,omitempty" yaml:"local_maxima_detection_limit,omitempty"`
	LocalMaximaDetection       *bool    `json:"local_maxima_detection,omitempty" yaml:"local_maxima_detection,omitempty"`
	UpperLimit                 *float64 `json:"upper_limit,omitempty" yaml:"upper_limit,omitempty"`
	Invert                     *bool    `json:"invert,omitempty" yaml:"invert,omitempty"`
	MaxProcessors              *int     `json:"max_processors,omitempty" yaml:"max_processors,omitempty"`
	Verbose                    *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	DebugPath                  *string  `json:"debug_path,omitempty" yaml:"debug_path,omitempty"`

	PSF *PSFFile `json:"psf,omitempty" yaml:"psf,omitempty"`
}

// PSFFile is the on-disk form of PSFFitting.
type PSFFile struct {
	Enabled           *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Type              *string  `json:"type,omitempty" yaml:"type,omitempty"`
	Elliptic          *bool    `json:"elliptic,omitempty" yaml:"elliptic,omitempty"`
	CentroidTolerance *float64 `json:"centroid_tolerance,omitempty" yaml:"centroid_tolerance,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// NewConfigFile captures every documented key of cfg.
func NewConfigFile(cfg Config) *ConfigFile {
	return &ConfigFile{
		StructureLayers:            ptr(cfg.structureLayers),
		NoiseLayers:                ptr(cfg.noiseLayers),
		HotPixelFilterRadius:       ptr(cfg.hotPixelFilterRadius),
		NoiseReductionFilterRadius: ptr(cfg.noiseReductionFilterRadius),
		MinStructureSize:           ptr(cfg.minStructureSize),
		Sensitivity:                ptr(cfg.sensitivity),
		PeakResponse:               ptr(cfg.peakResponse),
		MinSNR:                     ptr(cfg.minSNR),
		BrightThreshold:            ptr(cfg.brightThreshold),
		MaxDistortion:              ptr(cfg.maxDistortion),
		AllowClusteredSources:      ptr(cfg.allowClusteredSources),
		LocalDetectionFilterRadius: ptr(cfg.localDetectionFilterRadius),
		LocalMaximaDetectionLimit:  ptr(cfg.localMaximaDetectionLimit),
		LocalMaximaDetection:       ptr(cfg.localMaximaDetection),
		UpperLimit:                 ptr(cfg.upperLimit),
		Invert:                     ptr(cfg.invert),
		MaxProcessors:              ptr(cfg.maxProcessors),
		Verbose:                    ptr(cfg.verbose),
		DebugPath:                  ptr(cfg.debugPath),
		PSF: &PSFFile{
			Enabled:           ptr(cfg.psf.Enabled),
			Type:              ptr(cfg.psf.Type.String()),
			Elliptic:          ptr(cfg.psf.Elliptic),
			CentroidTolerance: ptr(cfg.psf.CentroidTolerance),
		},
	}
}

// Apply copies the fields present in f into cfg through the clamping setters.
func (f *ConfigFile) Apply(cfg *Config) error {
	setInt := func(p *int, set func(int)) {
		if p != nil {
			set(*p)
		}
	}
	setFloat := func(p *float64, set func(float64)) {
		if p != nil {
			set(*p)
		}
	}
	setBool := func(p *bool, set func(bool)) {
		if p != nil {
			set(*p)
		}
	}

	setInt(f.StructureLayers, cfg.SetStructureLayers)
	setInt(f.NoiseLayers, cfg.SetNoiseLayers)
	setInt(f.HotPixelFilterRadius, cfg.SetHotPixelFilterRadius)
	setInt(f.NoiseReductionFilterRadius, cfg.SetNoiseReductionFilterRadius)
	setInt(f.MinStructureSize, cfg.SetMinStructureSize)
	setFloat(f.Sensitivity, cfg.SetSensitivity)
	setFloat(f.PeakResponse, cfg.SetPeakResponse)
	setFloat(f.MinSNR, cfg.SetMinSNR)
	setFloat(f.BrightThreshold, cfg.SetBrightThreshold)
	setFloat(f.MaxDistortion, cfg.SetMaxDistortion)
	setBool(f.AllowClusteredSources, cfg.SetAllowClusteredSources)
	setInt(f.LocalDetectionFilterRadius, cfg.SetLocalDetectionFilterRadius)
	setFloat(f.LocalMaximaDetectionLimit, cfg.SetLocalMaximaDetectionLimit)
	setBool(f.LocalMaximaDetection, cfg.SetLocalMaximaDetection)
	setFloat(f.UpperLimit, cfg.SetUpperLimit)
	setBool(f.Invert, cfg.SetInvert)
	setInt(f.MaxProcessors, cfg.SetMaxProcessors)
	setBool(f.Verbose, cfg.SetVerbose)
	if f.DebugPath != nil {
		cfg.SetDebugPath(*f.DebugPath)
	}

	if f.PSF == nil {
		return nil
	}
	psf := cfg.PSFFitting()
	if f.PSF.Enabled != nil {
		psf.Enabled = *f.PSF.Enabled
	}
	if f.PSF.Type != nil {
		t, err := ParsePSFType(*f.PSF.Type)
		if err != nil {
			return fmt.Errorf("psf.type: %w", err)
		}
		psf.Type = t
	}
	if f.PSF.Elliptic != nil {
		psf.Elliptic = *f.PSF.Elliptic
	}
	if f.PSF.CentroidTolerance != nil {
		psf.CentroidTolerance = *f.PSF.CentroidTolerance
	}
	cfg.SetPSFFitting(psf)
	return nil
}

// LoadConfigFile reads a .json, .yaml or .yml configuration file of at most 1MB.
func LoadConfigFile(path string) (*ConfigFile, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f := &ConfigFile{}
	if ext == ".json" {
		err = json.Unmarshal(data, f)
	} else {
		err = yaml.Unmarshal(data, f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext[1:], err)
	}
	return f, nil
}

// LoadConfig returns DefaultConfig with the contents of the file at path
// applied on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := LoadConfigFile(path)
	if err != nil {
		return cfg, err
	}
	if err := f.Apply(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
