package stardetect

import (
	"math"

	"github.com/montanaflynn/stats"
)

const (
	fieldEdgeFraction    = 0.25
	minStarsPerZone      = 3
	minTotalStarsForTilt = 20
)

var zoneLabels = map[ZonePosition]string{
	ZoneTopLeft:     "TL",
	ZoneTop:         "T",
	ZoneTopRight:    "TR",
	ZoneLeft:        "L",
	ZoneCenter:      "Center",
	ZoneRight:       "R",
	ZoneBottomLeft:  "BL",
	ZoneBottom:      "B",
	ZoneBottomRight: "BR",
}

var zoneGrid = [3][3]ZonePosition{
	{ZoneTopLeft, ZoneTop, ZoneTopRight},
	{ZoneLeft, ZoneCenter, ZoneRight},
	{ZoneBottomLeft, ZoneBottom, ZoneBottomRight},
}

var cornerPositions = []ZonePosition{ZoneTopLeft, ZoneTopRight, ZoneBottomLeft, ZoneBottomRight}

// starSize is the PSF FWHM of a fitted star, or the equivalent disk diameter
// of its area otherwise.
func starSize(s *Star) float64 {
	if s.PSF != nil {
		return s.PSF.FWHM()
	}
	return s.Diameter()
}

// AnalyzeField divides the image into a 3x3 grid and computes per-zone size
// and flux statistics, tilt metrics, and best/worst corners. It returns nil
// for an empty star list.
func AnalyzeField(stars []Star, width, height int) *FieldAnalysis {
	if len(stars) == 0 {
		return nil
	}

	xLo := float64(width) * fieldEdgeFraction
	xHi := float64(width) * (1.0 - fieldEdgeFraction)
	yLo := float64(height) * fieldEdgeFraction
	yHi := float64(height) * (1.0 - fieldEdgeFraction)

	zoneStars := make(map[ZonePosition][]*Star, 9)
	for _, row := range zoneGrid {
		for _, pos := range row {
			zoneStars[pos] = nil
		}
	}
	for i := range stars {
		pos := classifyZone(stars[i].Pos.X, stars[i].Pos.Y, xLo, xHi, yLo, yHi)
		zoneStars[pos] = append(zoneStars[pos], &stars[i])
	}

	zones := make(map[ZonePosition]ZoneData, len(zoneStars))
	for pos, list := range zoneStars {
		zones[pos] = computeZoneData(pos, list)
	}
	result := &FieldAnalysis{Zones: zones}

	centerSize := zones[ZoneCenter].MedianSize
	if centerSize <= 0 {
		return result
	}

	var bestCorner, worstCorner ZonePosition
	bestSize := math.MaxFloat64
	worstSize := 0.0
	validCorners := 0
	for _, pos := range cornerPositions {
		z := zones[pos]
		if z.StarCount < minStarsPerZone {
			continue
		}
		validCorners++
		if z.MedianSize < bestSize {
			bestSize = z.MedianSize
			bestCorner = pos
		}
		if z.MedianSize > worstSize {
			worstSize = z.MedianSize
			worstCorner = pos
		}
	}
	if validCorners >= 2 && worstSize > 0 {
		result.TiltPct = (worstSize - bestSize) / centerSize * 100.0
		result.BestCorner = zoneLabels[bestCorner]
		result.WorstCorner = zoneLabels[worstCorner]
	}

	var offAxisSum float64
	offAxisCount := 0
	for pos, z := range zones {
		if pos == ZoneCenter || z.StarCount < minStarsPerZone {
			continue
		}
		offAxisSum += z.MedianSize
		offAxisCount++
	}
	if offAxisCount > 0 {
		result.OffAxisPct = (offAxisSum/float64(offAxisCount) - centerSize) / centerSize * 100.0
	}

	result.Reliable = len(stars) >= minTotalStarsForTilt && validCorners >= 4 && zones[ZoneCenter].StarCount >= minStarsPerZone
	return result
}

func classifyZone(x, y, xLo, xHi, yLo, yHi float64) ZonePosition {
	col, row := 2, 2
	if x < xLo {
		col = 0
	} else if x < xHi {
		col = 1
	}
	if y < yLo {
		row = 0
	} else if y < yHi {
		row = 1
	}
	return zoneGrid[row][col]
}

func computeZoneData(pos ZonePosition, stars []*Star) ZoneData {
	zd := ZoneData{
		Label:     zoneLabels[pos],
		StarCount: len(stars),
	}
	if len(stars) == 0 {
		return zd
	}
	sizes := make([]float64, len(stars))
	fluxes := make([]float64, len(stars))
	for i, s := range stars {
		sizes[i] = starSize(s)
		fluxes[i] = s.Flux
	}
	zd.MedianSize, _ = stats.Median(sizes)
	zd.MedianFlux, _ = stats.Median(fluxes)
	return zd
}
