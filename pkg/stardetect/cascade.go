package stardetect

import "math"

// rejection names the cascade step that discarded a candidate.
type rejection int

const (
	accepted rejection = iota
	rejectTooSmall
	rejectBorder
	rejectMinSize
	rejectEstimation
	rejectClustered
	rejectSaturated
	rejectDistorted
	rejectMasked
	rejectLowSNR
	rejectLowSensitivity
	rejectTooFlat
)

func (r rejection) String() string {
	switch r {
	case accepted:
		return "accepted"
	case rejectTooSmall:
		return "too small"
	case rejectBorder:
		return "on border"
	case rejectMinSize:
		return "under minimum size"
	case rejectEstimation:
		return "estimation failed"
	case rejectClustered:
		return "clustered"
	case rejectSaturated:
		return "saturated"
	case rejectDistorted:
		return "distorted"
	case rejectMasked:
		return "masked"
	case rejectLowSNR:
		return "low SNR"
	case rejectLowSensitivity:
		return "low sensitivity"
	case rejectTooFlat:
		return "too flat"
	default:
		return "unknown"
	}
}

// evaluateCandidate runs the acceptance cascade for one region, stopping at
// the first failed test.
func evaluateCandidate(img Mat, lmap *Mat, r region, cfg *Config) (starParameters, rejection) {
	width, height := img.Cols(), img.Rows()
	w, h := r.rect.Dx(), r.rect.Dy()
	if w <= 1 || h <= 1 {
		return starParameters{}, rejectTooSmall
	}
	if r.touchesBorder(width, height) {
		return starParameters{}, rejectBorder
	}
	if cfg.minStructureSize > 0 && len(r.points) < cfg.minStructureSize {
		return starParameters{}, rejectMinSize
	}

	p, why := estimateRegion(img, lmap, r, cfg.clusteredAllowed())
	if why != accepted {
		return p, why
	}
	if p.max > cfg.upperLimit {
		return p, rejectSaturated
	}

	d := float64(max(w, h))
	if float64(p.count)/(d*d) < cfg.minCoverage() {
		return p, rejectDistorted
	}

	if cfg.mask != nil && !cfg.mask.At(int(math.Round(p.pos.X)), int(math.Round(p.pos.Y))) {
		return p, rejectMasked
	}

	snr := p.snr()
	if !(snr >= cfg.minSNR) {
		return p, rejectLowSNR
	}
	s1 := snr / cfg.snrThreshold()
	if !(s1 >= 1) {
		return p, rejectLowSensitivity
	}
	if s1 < cfg.brightThreshold && p.kurt != 0 && p.kurt/cfg.peakThreshold() < 1 {
		return p, rejectTooFlat
	}
	return p, accepted
}

// starFromParameters finalizes an accepted candidate without PSF fitting.
func starFromParameters(p starParameters, area int) Star {
	return Star{
		Pos:          p.pos,
		Rect:         p.rect,
		SamplingRect: p.srect,
		Area:         float64(area),
		Flux:         p.flux,
		Ref:          NoRef,
	}
}
