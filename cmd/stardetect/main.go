package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pbnjay/memory"

	"stardetect/pkg/catalog"
	sd "stardetect/pkg/stardetect"
)

// perImageBudget is the working memory reserved for one image in flight.
const perImageBudget = 512 << 20

func main() {
	log.SetOutput(os.Stderr)
	var err error
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		err = runServe(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type outputOptions struct {
	csv          bool
	json         bool
	overlay      bool
	structureMap bool
	roi          float64
	debayer      string
}

type imageReport struct {
	path          string
	width, height int
	result        *sd.Result
	field         *sd.FieldAnalysis
	elapsed       time.Duration
	err           error
}

func run(args []string) error {
	fs := flag.NewFlagSet("stardetect", flag.ContinueOnError)
	df := newDetectFlags(fs)
	configPath := fs.String("config", "", "JSON or YAML detector configuration; flags override it")
	var opts outputOptions
	fs.BoolVar(&opts.csv, "csv", false, "write <image>.stars.csv")
	fs.BoolVar(&opts.json, "json", false, "write <image>.stars.json")
	fs.BoolVar(&opts.overlay, "overlay", false, "write <image>.overlay.jpg")
	fs.BoolVar(&opts.structureMap, "structure-map", false, "write <image>.structure.tif")
	fs.Float64Var(&opts.roi, "roi", 1, "centered region of interest as a fraction of the image (0-1]")
	fs.StringVar(&opts.debayer, "debayer", "", "Bayer pattern of raw colour FITS frames, or \"auto\" to read BAYERPAT")
	dbPath := fs.String("db", "", "SQLite catalog recording every run")
	jobs := fs.Int("jobs", 0, "images processed concurrently, 0 = derived from CPU count and memory")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: stardetect [flags] <files or globs...>\n       stardetect serve [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no input files")
	}
	if opts.roi <= 0 || opts.roi > 1 {
		return fmt.Errorf("roi must be in (0, 1], got %f", opts.roi)
	}

	cfg := sd.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = sd.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if err := df.configFile().Apply(&cfg); err != nil {
		return err
	}

	files, err := expandInputs(fs.Args())
	if err != nil {
		return err
	}

	var store *catalog.Store
	if *dbPath != "" {
		if store, err = catalog.Open(*dbPath); err != nil {
			return err
		}
		defer store.Close()
	}

	n := *jobs
	if n <= 0 {
		n = concurrency(len(files))
	}
	reports := make([]imageReport, len(files))
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup
	ctx := context.Background()
	for i, path := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i] = processImage(ctx, path, cfg, opts, store)
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for i := range reports {
		if reports[i].err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", reports[i].path, reports[i].err)
			continue
		}
		printReport(&reports[i])
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}

// expandInputs resolves glob patterns, keeping plain paths as given.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			files = append(files, arg)
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}

// concurrency bounds the images in flight by CPU count and physical memory.
func concurrency(files int) int {
	n := runtime.NumCPU()
	if byMemory := int(memory.TotalMemory() / perImageBudget); byMemory > 0 && byMemory < n {
		n = byMemory
	}
	return max(1, min(n, files))
}

func processImage(ctx context.Context, path string, cfg sd.Config, opts outputOptions, store *catalog.Store) imageReport {
	rep := imageReport{path: path}
	start := time.Now()

	img, err := loadImage(path, opts.debayer)
	if err != nil {
		rep.err = err
		return rep
	}
	defer img.Close()
	rep.width, rep.height = img.Cols(), img.Rows()

	if opts.roi < 1 {
		cfg.SetMask(sd.MaskFromRatioRect(rep.width, rep.height, sd.RatioRectFromCenterROI(opts.roi)))
	}
	detector := sd.NewDetector(cfg)
	res, err := detector.Detect(ctx, img)
	if err != nil {
		rep.err = fmt.Errorf("detecting stars: %w", err)
		return rep
	}
	rep.result = res
	rep.field = sd.AnalyzeField(res.Stars, rep.width, rep.height)
	rep.elapsed = time.Since(start)

	base := strings.TrimSuffix(path, filepath.Ext(path))
	if opts.csv {
		if rep.err = writeCSV(base+".stars.csv", res.Stars); rep.err != nil {
			return rep
		}
	}
	if opts.json {
		if rep.err = writeJSON(base+".stars.json", res); rep.err != nil {
			return rep
		}
	}
	if opts.overlay {
		if rep.err = writeOverlay(base+".overlay.jpg", img, res.Stars, rep.field); rep.err != nil {
			return rep
		}
	}
	if opts.structureMap {
		m, err := detector.StructureMap(ctx, img)
		if err != nil {
			rep.err = err
			return rep
		}
		rep.err = sd.SaveMat(base+".structure.tif", m)
		m.Close()
		if rep.err != nil {
			return rep
		}
	}
	if store != nil {
		run := catalog.Run{
			Source:      path,
			CreatedAt:   start,
			Width:       rep.width,
			Height:      rep.height,
			MinStarSize: res.EffectiveMinStarSize,
			Params:      cfg.String(),
		}
		if _, err := store.SaveRun(ctx, run, res.Stars); err != nil {
			rep.err = err
		}
	}
	return rep
}

func loadImage(path, debayer string) (sd.Mat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".fits" && ext != ".fit" && ext != ".fts" {
		return loadNonFitsImage(path)
	}
	data, err := sd.ReadFits(path)
	if err != nil {
		return sd.NewMat(), fmt.Errorf("reading FITS: %w", err)
	}
	if debayer == "" {
		return data.Mat()
	}
	name := debayer
	if strings.EqualFold(debayer, "auto") {
		if name = data.Metadata.BayerPattern(); name == "" {
			return data.Mat()
		}
	}
	pattern, err := sd.ParseBayerPattern(name)
	if err != nil {
		return sd.NewMat(), err
	}
	return sd.DebayerToMat(data.Pixels, data.Width, data.Height, pattern)
}

func writeCSV(path string, stars []sd.Star) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"x", "y", "area", "flux", "signal", "mad", "fwhm", "eccentricity"})
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, s := range stars {
		fwhm, ecc := "", ""
		if s.PSF != nil {
			fwhm, ecc = ff(s.PSF.FWHM()), ff(s.PSF.Eccentricity)
		}
		w.Write([]string{ff(s.Pos.X), ff(s.Pos.Y), ff(s.Area), ff(s.Flux), ff(s.Signal), ff(s.MAD), fwhm, ecc})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, res *sd.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeOverlay(path string, img sd.Mat, stars []sd.Star, field *sd.FieldAnalysis) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()
	if err := sd.EncodeOverlayJPEG(f, img, stars, field); err != nil {
		return err
	}
	return f.Close()
}

func printReport(rep *imageReport) {
	res := rep.result
	withPSF := 0
	sizes := make([]float64, 0, len(res.Stars))
	ecc := make([]float64, 0, len(res.Stars))
	for i := range res.Stars {
		s := &res.Stars[i]
		if s.PSF != nil {
			withPSF++
			sizes = append(sizes, s.PSF.FWHM())
			ecc = append(ecc, s.PSF.Eccentricity)
		} else {
			sizes = append(sizes, s.Diameter())
		}
	}

	fmt.Println()
	fmt.Printf("=== %s (%.1fs) ===\n", rep.path, rep.elapsed.Seconds())
	fmt.Printf("  Image size:      %d x %d\n", rep.width, rep.height)
	fmt.Printf("  Stars detected:  %d\n", len(res.Stars))
	fmt.Printf("  Stars with PSF:  %d\n", withPSF)
	fmt.Printf("  Min star size:   %d px\n", res.EffectiveMinStarSize)
	if len(sizes) > 0 {
		m, mad := medianMAD(sizes)
		fmt.Printf("  Size (median):   %.3f +/- %.3f px\n", m, mad)
	}
	if len(ecc) > 0 {
		m, mad := medianMAD(ecc)
		fmt.Printf("  Eccentricity:    %.3f +/- %.3f\n", m, mad)
	}
	met := res.Metrics
	fmt.Printf("  Structures:      %d (border %d, small %d, clustered %d, saturated %d, flat %d, low SNR %d)\n",
		met.StructureCandidates, met.OnBorder, met.TooSmall+met.UnderMinSize, met.Clustered, met.Saturated, met.TooFlat, met.LowSNR+met.LowSensitivity)

	field := rep.field
	if field == nil {
		return
	}
	fmt.Println("  --- Field (3x3) ---")
	zoneOrder := []sd.ZonePosition{
		sd.ZoneTopLeft, sd.ZoneTop, sd.ZoneTopRight,
		sd.ZoneLeft, sd.ZoneCenter, sd.ZoneRight,
		sd.ZoneBottomLeft, sd.ZoneBottom, sd.ZoneBottomRight,
	}
	for _, pos := range zoneOrder {
		z := field.Zones[pos]
		fmt.Printf("  %-8s size=%.3f  flux=%.3f  n=%d\n", z.Label, z.MedianSize, z.MedianFlux, z.StarCount)
	}
	fmt.Printf("  Tilt:     %.1f%% (best: %s, worst: %s)\n", field.TiltPct, field.BestCorner, field.WorstCorner)
	fmt.Printf("  Off-axis: %.1f%%\n", field.OffAxisPct)
	if !field.Reliable {
		fmt.Println("  [LOW STAR COUNT - UNRELIABLE]")
	}
}

func medianMAD(values []float64) (float64, float64) {
	m, err := stats.Median(values)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	mad, err := stats.MedianAbsoluteDeviation(values)
	if err != nil {
		return m, math.NaN()
	}
	return m, 1.4826 * mad
}
