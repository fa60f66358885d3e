//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"syscall/js"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	sd "stardetect/pkg/stardetect"
)

// options is the JS options object: every config file key plus debayer.
type options struct {
	sd.ConfigFile
	Debayer string `json:"debayer,omitempty"`
}

var (
	mu        sync.Mutex
	lastImage sd.Mat
	lastStars []sd.Star
	lastField *sd.FieldAnalysis
)

func main() {
	js.Global().Set("detectStars", js.FuncOf(detectStars))
	js.Global().Set("renderOverlay", js.FuncOf(renderOverlay))
	select {} // block forever
}

func detectStars(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: detectStars(fitsBytes, options)")
	}

	jsBytes := args[0]
	fileBytes := make([]byte, jsBytes.Get("length").Int())
	js.CopyBytesToGo(fileBytes, jsBytes)

	var opts options
	if len(args) >= 2 && args[1].Type() == js.TypeObject {
		raw := js.Global().Get("JSON").Call("stringify", args[1]).String()
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return errorResult("options: " + err.Error())
		}
	}
	cfg := sd.DefaultConfig()
	if err := opts.ConfigFile.Apply(&cfg); err != nil {
		return errorResult("options: " + err.Error())
	}

	fitsData, err := sd.ReadFitsFromBytes(fileBytes)
	if err != nil {
		return errorResult("FITS parse error: " + err.Error())
	}
	img, err := loadMat(fitsData, opts.Debayer)
	if err != nil {
		return errorResult(err.Error())
	}

	result, err := sd.Detect(context.Background(), img, cfg)
	if err != nil {
		img.Close()
		return errorResult("Detection error: " + err.Error())
	}
	stars := result.Stars
	field := sd.AnalyzeField(stars, fitsData.Width, fitsData.Height)

	mu.Lock()
	lastImage.Close()
	lastImage, lastStars, lastField = img, stars, field
	mu.Unlock()

	bg := sd.HistogramStatistics(img, nil, nil)
	sizes := make([]float64, len(stars))
	ecc := make([]float64, 0, len(stars))
	jsStars := make([]interface{}, len(stars))
	for i := range stars {
		s := &stars[i]
		fwhm, e, roundness := 0.0, 0.0, 0.0
		sizes[i] = s.Diameter()
		if s.PSF != nil {
			fwhm, e = s.PSF.FWHM(), s.PSF.Eccentricity
			sizes[i] = fwhm
			ecc = append(ecc, e)
			if maxFW := math.Max(s.PSF.FWHMx, s.PSF.FWHMy); maxFW > 0 {
				roundness = math.Min(s.PSF.FWHMx, s.PSF.FWHMy) / maxFW
			}
		}
		jsStars[i] = map[string]interface{}{
			"x":            s.Pos.X,
			"y":            s.Pos.Y,
			"area":         s.Area,
			"flux":         s.Flux,
			"diameter":     s.Diameter(),
			"fwhm":         fwhm,
			"roundness":    roundness,
			"eccentricity": e,
		}
	}
	medianSize, _ := stats.Median(sizes)
	medianEcc, _ := stats.Median(ecc)
	meanSize, stddevSize := 0.0, 0.0
	if len(sizes) > 1 {
		meanSize, stddevSize = stat.MeanStdDev(sizes, nil)
	}

	jsResult := map[string]interface{}{
		"width":              fitsData.Width,
		"height":             fitsData.Height,
		"background":         bg.Median,
		"noise":              bg.MAD,
		"minStarSize":        result.EffectiveMinStarSize,
		"medianSize":         medianSize,
		"meanSize":           meanSize,
		"stddevSize":         stddevSize,
		"medianEccentricity": medianEcc,
		"stars":              jsStars,
	}
	if field != nil {
		zoneOrder := []sd.ZonePosition{
			sd.ZoneTopLeft, sd.ZoneTop, sd.ZoneTopRight,
			sd.ZoneLeft, sd.ZoneCenter, sd.ZoneRight,
			sd.ZoneBottomLeft, sd.ZoneBottom, sd.ZoneBottomRight,
		}
		jsZones := make([]interface{}, len(zoneOrder))
		for i, pos := range zoneOrder {
			z := field.Zones[pos]
			jsZones[i] = map[string]interface{}{
				"label":      z.Label,
				"medianSize": z.MedianSize,
				"medianFlux": z.MedianFlux,
				"starCount":  z.StarCount,
			}
		}
		jsResult["field"] = map[string]interface{}{
			"zones":       jsZones,
			"tiltPct":     field.TiltPct,
			"offAxisPct":  field.OffAxisPct,
			"bestCorner":  field.BestCorner,
			"worstCorner": field.WorstCorner,
			"reliable":    field.Reliable,
		}
	}
	return js.ValueOf(jsResult)
}

func loadMat(fitsData *sd.FitsImageData, debayer string) (sd.Mat, error) {
	if debayer == "" {
		return fitsData.Mat()
	}
	if debayer == "auto" {
		if debayer = fitsData.Metadata.BayerPattern(); debayer == "" {
			return fitsData.Mat()
		}
	}
	pattern, err := sd.ParseBayerPattern(debayer)
	if err != nil {
		return sd.NewMat(), err
	}
	return sd.DebayerToMat(fitsData.Pixels, fitsData.Width, fitsData.Height, pattern)
}

func renderOverlay(this js.Value, args []js.Value) interface{} {
	mu.Lock()
	defer mu.Unlock()
	if lastImage.Empty() {
		return js.Null()
	}
	jpegBytes, err := sd.RenderOverlayBytes(lastImage, lastStars, lastField)
	if err != nil {
		return js.Null()
	}
	uint8Array := js.Global().Get("Uint8Array").New(len(jpegBytes))
	js.CopyBytesToJS(uint8Array, jpegBytes)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
