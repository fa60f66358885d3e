package stardetect

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
)

const (
	// psfItemsPerWorker is the smallest share of candidates worth a goroutine.
	psfItemsPerWorker = 8
	// psfWindowMargin is the fraction of the window kept clear of the fitted centroid.
	psfWindowMargin = 0.15
)

// psfCandidate is an accepted region waiting for PSF refinement.
type psfCandidate struct {
	pos  Point2d
	rect image.Rectangle
}

// logicalProcessors returns the configured worker limit or, when unset, the
// number of logical cores.
func logicalProcessors(limit int) int {
	if limit > 0 {
		return limit
	}
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// workerCount spreads items over at most procs workers, each with at least
// psfItemsPerWorker items.
func workerCount(items, procs int) int {
	return clampInt(items/psfItemsPerWorker, 1, max(1, procs))
}

// psfWindow grows a square window around pos with the background ring loop.
func psfWindow(img Mat, pos Point2d, rect image.Rectangle) (image.Rectangle, bool) {
	half := max(rect.Dx(), rect.Dy())
	cx, cy := int(math.Round(pos.X)), int(math.Round(pos.Y))
	win := image.Rect(cx-half, cy-half, cx+half+1, cy+half+1).Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if win.Empty() {
		return image.Rectangle{}, false
	}
	_, _, grown, ok := estimateBackground(img, win)
	return grown, ok
}

// insideDeflated reports whether p lies in window shrunk by margin of its
// size on every side.
func insideDeflated(p Point2d, window image.Rectangle, margin float64) bool {
	mx := margin * float64(window.Dx())
	my := margin * float64(window.Dy())
	return p.X >= float64(window.Min.X)+mx && p.X <= float64(window.Max.X)-mx &&
		p.Y >= float64(window.Min.Y)+my && p.Y <= float64(window.Max.Y)-my
}

// fitCandidate refines one candidate. ok is false when the fit fails or
// lands too far from the candidate.
func fitCandidate(img Mat, c psfCandidate, fitter PSFFitter, settings PSFFitting) (Star, bool) {
	window, ok := psfWindow(img, c.pos, c.rect)
	if !ok {
		return Star{}, false
	}
	res := fitter.Fit(img, c.pos, window, settings.Type, settings.Elliptic)
	if !res.Success {
		return Star{}, false
	}
	fit := res.Data
	if !insideDeflated(fit.Center, window, psfWindowMargin) {
		return Star{}, false
	}
	if math.Hypot(fit.Center.X-c.pos.X, fit.Center.Y-c.pos.Y) > settings.CentroidTolerance {
		return Star{}, false
	}
	return Star{
		Pos:          fit.Center,
		Rect:         c.rect,
		SamplingRect: window,
		Area:         math.Pi * fit.FWTMx * fit.FWTMy / 4,
		Flux:         fit.Flux,
		Signal:       fit.Signal,
		MAD:          fit.MAD,
		Ref:          NoRef,
		PSF:          &fit,
	}, true
}

// fitCandidates refines every candidate on a pool of workers. Each worker
// owns a contiguous slice of the candidates and a private result list; the
// lists are joined in slice order. A cancellation discards all results.
func fitCandidates(img Mat, candidates []psfCandidate, fitter PSFFitter, settings PSFFitting, procs int, status *statusMonitor) ([]Star, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}
	workers := workerCount(len(candidates), procs)
	chunk := (len(candidates) + workers - 1) / workers

	type share struct {
		stars  []Star
		failed int
		err    error
	}
	shares := make([]share, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(candidates))
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(out *share, part []psfCandidate) {
			defer wg.Done()
			for _, c := range part {
				if s, ok := fitCandidate(img, c, fitter, settings); ok {
					out.stars = append(out.stars, s)
				} else {
					out.failed++
				}
				if err := status.Add(1); err != nil {
					out.err = err
					return
				}
			}
		}(&shares[w], candidates[lo:hi])
	}
	wg.Wait()

	var stars []Star
	failed := 0
	for _, s := range shares {
		if s.err != nil {
			return nil, 0, s.err
		}
		stars = append(stars, s.stars...)
		failed += s.failed
	}
	return stars, failed, nil
}
