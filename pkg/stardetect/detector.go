package stardetect

import (
	"context"
	"fmt"
	"sort"
)

// Detector finds stars with a fixed configuration. A Detector holds no
// per-image state and may be shared by concurrent Detect calls.
type Detector struct {
	cfg    Config
	fitter PSFFitter
}

// NewDetector returns a detector using cfg and the default PSF fitter.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, fitter: NewLMFitter()}
}

// Config returns a copy of the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// SetPSFFitter replaces the fitter used when PSF fitting is enabled.
func (d *Detector) SetPSFFitter(f PSFFitter) {
	if f == nil {
		f = NewLMFitter()
	}
	d.fitter = f
}

// Detect runs the full star detection pipeline with cfg.
func Detect(ctx context.Context, img Mat, cfg Config) (*Result, error) {
	return NewDetector(cfg).Detect(ctx, img)
}

// validate checks img against the configuration. small is set for images
// too small to hold an interior structure.
func (d *Detector) validate(img Mat) (small bool, err error) {
	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		return false, ErrEmptyImage
	}
	if m := d.cfg.mask; m != nil && (m.Width != img.Cols() || m.Height != img.Rows() || len(m.Data) < m.Width*m.Height) {
		return false, fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrMaskSize, m.Width, m.Height, img.Cols(), img.Rows())
	}
	return img.Rows() < 3 || img.Cols() < 3, nil
}

// prepare returns the source image, inverted if configured, and the working
// copy after hot pixel filtering and noise reduction.
func (d *Detector) prepare(img Mat, threads int, status *statusMonitor, metrics *Metrics) (source, work Mat, err error) {
	source = img.Clone()
	if d.cfg.invert {
		invertInPlace(&source)
	}
	work = source.Clone()
	hot, err := applyHotPixelFilter(&work, d.cfg.hotPixelFilterRadius, status)
	if err != nil {
		source.Close()
		work.Close()
		return source, work, err
	}
	metrics.HotpixelCount = hot
	applyNoiseReduction(&work, d.cfg.noiseReductionFilterRadius, threads)
	maybeSaveImage(work, d.cfg.debugPath, "01-working-image.tif")
	if d.cfg.verbose {
		mean, stddev := matMeanStdDev(work)
		Logf("stardetect: working image %dx%d mean=%f stddev=%f hotpixels=%d", work.Cols(), work.Rows(), mean, stddev, hot)
	}
	return source, work, nil
}

// Detect finds the stars of img. img is not modified. The only error besides
// invalid input is a cancellation of ctx, in which case no result is returned.
func (d *Detector) Detect(ctx context.Context, img Mat) (*Result, error) {
	small, err := d.validate(img)
	if err != nil {
		return nil, err
	}
	metrics := &Metrics{}
	if small {
		return &Result{Stars: []Star{}, Metrics: metrics}, nil
	}

	status := newStatusMonitor(ctx, d.cfg.progress)
	if err := status.Err(); err != nil {
		return nil, err
	}
	cfg := &d.cfg
	maybeSaveText(cfg.debugPath, "00-params.txt", cfg.String())
	threads := logicalProcessors(cfg.maxProcessors)

	source, work, err := d.prepare(img, threads, status, metrics)
	if err != nil {
		return nil, err
	}
	defer source.Close()
	defer work.Close()

	structureMap := buildStructureMap(work, cfg, threads)
	defer structureMap.Close()
	if err := status.Err(); err != nil {
		return nil, err
	}

	var lmap *Mat
	if cfg.localMaximaDetection {
		m := buildLocalMaximaMap(work, cfg)
		defer m.Close()
		lmap = &m
	}

	var stars []Star
	var candidates []psfCandidate
	err = extractRegions(structureMap, status, func(r region) {
		metrics.StructureCandidates++
		p, why := evaluateCandidate(work, lmap, r, cfg)
		metrics.record(why)
		if why != accepted {
			return
		}
		if cfg.psf.Enabled {
			candidates = append(candidates, psfCandidate{pos: p.pos, rect: p.rect})
			return
		}
		stars = append(stars, starFromParameters(p, len(r.points)))
	})
	if err != nil {
		return nil, err
	}
	if cfg.verbose {
		Logf("stardetect: %d structures, %d accepted", metrics.StructureCandidates, metrics.Accepted)
	}

	if cfg.psf.Enabled {
		metrics.PSFQueued = len(candidates)
		fitted, failed, err := fitCandidates(source, candidates, d.fitter, cfg.psf, threads, status)
		if err != nil {
			return nil, err
		}
		metrics.PSFFailed = failed
		stars = fitted
		if cfg.verbose {
			Logf("stardetect: %d PSF fits, %d failed", len(candidates), failed)
		}
	}

	minSize := cfg.minStructureSize
	if minSize == 0 {
		minSize = autoMinStarSize(roundedAreas(stars))
	}
	kept, undersized, duplicates := filterStars(stars, minSize)
	metrics.SizeFiltered = undersized
	metrics.Duplicates = duplicates
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Flux > kept[j].Flux })

	Logf("stardetect: %dx%d image, %d structures, %d stars, minimum size %d",
		img.Cols(), img.Rows(), metrics.StructureCandidates, len(kept), minSize)
	return &Result{Stars: kept, EffectiveMinStarSize: minSize, Metrics: metrics}, nil
}

// StructureMap returns the binarized structure map Detect would scan for img.
func (d *Detector) StructureMap(ctx context.Context, img Mat) (Mat, error) {
	if _, err := d.validate(img); err != nil {
		return NewMat(), err
	}
	status := newStatusMonitor(ctx, d.cfg.progress)
	if err := status.Err(); err != nil {
		return NewMat(), err
	}
	source, work, err := d.prepare(img, logicalProcessors(d.cfg.maxProcessors), status, &Metrics{})
	if err != nil {
		return NewMat(), err
	}
	source.Close()
	defer work.Close()
	return buildStructureMap(work, &d.cfg, logicalProcessors(d.cfg.maxProcessors)), nil
}

// MaskedImage returns img with every pixel outside its own structure map set
// to zero.
func (d *Detector) MaskedImage(ctx context.Context, img Mat) (Mat, error) {
	structureMap, err := d.StructureMap(ctx, img)
	if err != nil {
		return NewMat(), err
	}
	defer structureMap.Close()
	out := NewMatWithSize(img.Rows(), img.Cols())
	matCopyToWithMask(img, &out, structureMap)
	return out, nil
}
