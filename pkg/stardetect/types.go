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
	"strings"
)

// PSFType selects the function family used by the PSF fitter.
type PSFType int

const (
	PSFGaussian PSFType = iota
	PSFMoffat4
	PSFMoffat25
	PSFMoffat15
)

func (t PSFType) String() string {
	switch t {
	case PSFGaussian:
		return "Gaussian"
	case PSFMoffat4:
		return "Moffat4"
	case PSFMoffat25:
		return "Moffat25"
	case PSFMoffat15:
		return "Moffat15"
	default:
		return "Unknown"
	}
}

// beta returns the Moffat exponent, or 0 for the Gaussian.
func (t PSFType) beta() float64 {
	switch t {
	case PSFMoffat4:
		return 4
	case PSFMoffat25:
		return 2.5
	case PSFMoffat15:
		return 1.5
	default:
		return 0
	}
}

// ParsePSFType accepts the names produced by PSFType.String, case-insensitively.
func ParsePSFType(s string) (PSFType, error) {
	for _, t := range []PSFType{PSFGaussian, PSFMoffat4, PSFMoffat25, PSFMoffat15} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return PSFGaussian, fmt.Errorf("unknown PSF type %q", s)
}

// MarshalText lets PSFType appear by name in JSON and YAML documents.
func (t PSFType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PSFType) UnmarshalText(text []byte) error {
	v, err := ParsePSFType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// RatioRect represents a rectangle defined by ratios in [0, 1).
type RatioRect struct {
	StartX float64
	StartY float64
	Width  float64
	Height float64
}

// RatioRectFull is a RatioRect covering the entire image.
var RatioRectFull = RatioRect{StartX: 0, StartY: 0, Width: 1, Height: 1}

// NewRatioRect creates a new RatioRect with validation.
func NewRatioRect(startX, startY, width, height float64) (RatioRect, error) {
	if startX < 0 || startX >= 1 {
		return RatioRect{}, fmt.Errorf("startX must be in [0, 1), got %f", startX)
	}
	if startY < 0 || startY >= 1 {
		return RatioRect{}, fmt.Errorf("startY must be in [0, 1), got %f", startY)
	}
	if width <= 0 {
		return RatioRect{}, fmt.Errorf("width must be positive, got %f", width)
	}
	if height <= 0 {
		return RatioRect{}, fmt.Errorf("height must be positive, got %f", height)
	}
	return RatioRect{
		StartX: startX,
		StartY: startY,
		Width:  math.Min(width, 1.0-startX),
		Height: math.Min(height, 1.0-startY),
	}, nil
}

// RatioRectFromCenterROI creates a RatioRect centered on the image with the given ROI ratio.
func RatioRectFromCenterROI(roi float64) RatioRect {
	return RatioRect{
		StartX: (1.0 - roi) / 2.0,
		StartY: (1.0 - roi) / 2.0,
		Width:  roi,
		Height: roi,
	}
}

func (r RatioRect) IsFull() bool {
	return r.Width >= 1 && r.Height >= 1
}

// Pixels maps the ratio rectangle onto an image of the given size.
func (r RatioRect) Pixels(width, height int) image.Rectangle {
	x0 := int(math.Floor(float64(width) * r.StartX))
	y0 := int(math.Floor(float64(height) * r.StartY))
	return image.Rect(x0, y0, x0+int(float64(width)*r.Width), y0+int(float64(height)*r.Height)).
		Intersect(image.Rect(0, 0, width, height))
}

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StarRef is an index into a caller-owned companion list. The detector
// never resolves it.
type StarRef int

// NoRef marks a star without a companion entry.
const NoRef StarRef = -1

// Star is one detected source.
type Star struct {
	Pos          Point2d         `json:"pos"`
	Rect         image.Rectangle `json:"rect"`
	SamplingRect image.Rectangle `json:"sampling_rect"`
	Area         float64         `json:"area"`
	Flux         float64         `json:"flux"`
	Signal       float64         `json:"signal"`
	MAD          float64         `json:"mad"`
	Ref          StarRef         `json:"ref"`
	PSF          *PSFData        `json:"psf,omitempty"`
}

func (s *Star) String() string {
	return fmt.Sprintf("{Pos=(%f,%f), Rect=%v, SamplingRect=%v, Area=%f, Flux=%f, Signal=%f, MAD=%f, PSF=%v}",
		s.Pos.X, s.Pos.Y, s.Rect, s.SamplingRect, s.Area, s.Flux, s.Signal, s.MAD, s.PSF)
}

// Diameter is the diameter of a disk with the star's area.
func (s *Star) Diameter() float64 {
	return 2 * math.Sqrt(s.Area/math.Pi)
}

// PSFData is the accepted PSF fit behind a star.
type PSFData struct {
	Type         PSFType `json:"type"`
	Elliptic     bool    `json:"elliptic"`
	Center       Point2d `json:"center"`
	Amplitude    float64 `json:"amplitude"`
	Background   float64 `json:"background"`
	SX           float64 `json:"sx"`
	SY           float64 `json:"sy"`
	Theta        float64 `json:"theta"`
	FWHMx        float64 `json:"fwhm_x"`
	FWHMy        float64 `json:"fwhm_y"`
	FWTMx        float64 `json:"fwtm_x"`
	FWTMy        float64 `json:"fwtm_y"`
	Eccentricity float64 `json:"eccentricity"`
	Flux         float64 `json:"flux"`
	Signal       float64 `json:"signal"`
	MAD          float64 `json:"mad"`
}

// FWHM is the geometric mean of the two axis widths.
func (p *PSFData) FWHM() float64 {
	return math.Sqrt(p.FWHMx * p.FWHMy)
}

func (p *PSFData) String() string {
	return fmt.Sprintf("{Type=%s, Center=(%f,%f), A=%f, B=%f, SX=%f, SY=%f, Theta=%f, FWHMx=%f, FWHMy=%f, Eccentricity=%f, Flux=%f}",
		p.Type, p.Center.X, p.Center.Y, p.Amplitude, p.Background, p.SX, p.SY, p.Theta, p.FWHMx, p.FWHMy, p.Eccentricity, p.Flux)
}

// Metrics tracks detection filtering statistics.
type Metrics struct {
	StructureCandidates int   `json:"structure_candidates"`
	TooSmall            int   `json:"too_small"`
	OnBorder            int   `json:"on_border"`
	UnderMinSize        int   `json:"under_min_size"`
	EstimationFailed    int   `json:"estimation_failed"`
	Clustered           int   `json:"clustered"`
	Saturated           int   `json:"saturated"`
	TooDistorted        int   `json:"too_distorted"`
	Masked              int   `json:"masked"`
	LowSNR              int   `json:"low_snr"`
	LowSensitivity      int   `json:"low_sensitivity"`
	TooFlat             int   `json:"too_flat"`
	Accepted            int   `json:"accepted"`
	PSFQueued           int   `json:"psf_queued"`
	PSFFailed           int   `json:"psf_failed"`
	SizeFiltered        int   `json:"size_filtered"`
	Duplicates          int   `json:"duplicates"`
	HotpixelCount       int64 `json:"hotpixel_count"`
}

func (m *Metrics) record(r rejection) {
	switch r {
	case accepted:
		m.Accepted++
	case rejectTooSmall:
		m.TooSmall++
	case rejectBorder:
		m.OnBorder++
	case rejectMinSize:
		m.UnderMinSize++
	case rejectEstimation:
		m.EstimationFailed++
	case rejectClustered:
		m.Clustered++
	case rejectSaturated:
		m.Saturated++
	case rejectDistorted:
		m.TooDistorted++
	case rejectMasked:
		m.Masked++
	case rejectLowSNR:
		m.LowSNR++
	case rejectLowSensitivity:
		m.LowSensitivity++
	case rejectTooFlat:
		m.TooFlat++
	}
}

// Result is the output of one detection call.
type Result struct {
	Stars []Star `json:"stars"`
	// EffectiveMinStarSize is the size floor applied in this call, either
	// the configured minimum or the one inferred from the area distribution.
	EffectiveMinStarSize int      `json:"effective_min_star_size"`
	Metrics              *Metrics `json:"metrics"`
}

// ZonePosition identifies a zone in the 3x3 field grid.
type ZonePosition int

const (
	ZoneTopLeft ZonePosition = iota
	ZoneTop
	ZoneTopRight
	ZoneLeft
	ZoneCenter
	ZoneRight
	ZoneBottomLeft
	ZoneBottom
	ZoneBottomRight
)

// ZoneData holds per-zone statistics.
type ZoneData struct {
	Label      string  `json:"label"`
	MedianSize float64 `json:"median_size"`
	MedianFlux float64 `json:"median_flux"`
	StarCount  int     `json:"star_count"`
}

// FieldAnalysis holds the result of 3x3 field tilt analysis.
type FieldAnalysis struct {
	Zones       map[ZonePosition]ZoneData `json:"zones"`
	TiltPct     float64                   `json:"tilt_pct"`
	OffAxisPct  float64                   `json:"off_axis_pct"`
	BestCorner  string                    `json:"best_corner"`
	WorstCorner string                    `json:"worst_corner"`
	Reliable    bool                      `json:"reliable"`
}
