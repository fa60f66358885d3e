package stardetect

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/basicfont"
)

const (
	overlayMaxWidth = 1600
	overlaySummaryH = 44
	overlayQuality  = 90
)

var (
	sizeGood = colorful.Color{R: 0.15, G: 0.75, B: 0.2}
	sizeBad  = colorful.Color{R: 0.95, G: 0.15, B: 0.1}
)

// StretchToGray maps img to 8 bits between its median and a bright point well
// above the noise, with a square root curve.
func StretchToGray(img Mat) *image.Gray {
	st := HistogramStatistics(img, nil, nil)
	lo := st.Median
	hi := math.Min(1, lo+24*st.MAD)
	if hi-lo < 1e-6 {
		hi = 1
		if lo >= hi {
			lo = 0
		}
	}
	rows, cols := img.Rows(), img.Cols()
	data := img.DataFloat32()
	out := image.NewGray(image.Rect(0, 0, cols, rows))
	for i, v := range data {
		t := clampFloat64((float64(v)-lo)/(hi-lo), 0, 1)
		out.Pix[i] = uint8(math.Sqrt(t)*255 + 0.5)
	}
	return out
}

// RenderOverlay draws the detected stars and, when field is not nil, the 3x3
// field analysis over a stretched copy of img. Stars are circled with a colour
// running from blue for the brightest to red for the faintest.
func RenderOverlay(img Mat, stars []Star, field *FieldAnalysis) (image.Image, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	var base image.Image = StretchToGray(img)
	scale := 1.0
	if img.Cols() > overlayMaxWidth {
		scale = float64(overlayMaxWidth) / float64(img.Cols())
		base = imaging.Resize(base, overlayMaxWidth, 0, imaging.Linear)
	}
	w, h := base.Bounds().Dx(), base.Bounds().Dy()

	dc := gg.NewContext(w, h+overlaySummaryH)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.DrawImage(base, 0, 0)
	dc.SetFontFace(basicfont.Face7x13)

	if field != nil {
		drawField(dc, field, w, h)
	}

	dc.SetLineWidth(1.5)
	for i := range stars {
		s := &stars[i]
		dc.SetColor(rankColor(i, len(stars)))
		r := math.Max(3, 1.5*starSize(s)/2*scale)
		dc.DrawCircle((s.Pos.X+0.5)*scale, (s.Pos.Y+0.5)*scale, r)
		dc.Stroke()
	}

	dc.SetRGB(0.86, 0.86, 0.86)
	dc.DrawString(fmt.Sprintf("Stars: %d", len(stars)), 10, float64(h)+16)
	if field != nil {
		line := fmt.Sprintf("Tilt: %.1f%%  (worst: %s, best: %s)  Off-axis: %.1f%%",
			field.TiltPct, field.WorstCorner, field.BestCorner, field.OffAxisPct)
		if !field.Reliable {
			line += "  [LOW STAR COUNT - UNRELIABLE]"
		}
		dc.DrawString(line, 10, float64(h)+34)
	}
	return dc.Image(), nil
}

// EncodeOverlayJPEG renders the overlay and writes it to w as JPEG.
func EncodeOverlayJPEG(w io.Writer, img Mat, stars []Star, field *FieldAnalysis) error {
	out, err := RenderOverlay(img, stars, field)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(w, out, &jpeg.Options{Quality: overlayQuality}); err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	return nil
}

// RenderOverlayBytes returns the overlay as JPEG bytes.
func RenderOverlayBytes(img Mat, stars []Star, field *FieldAnalysis) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeOverlayJPEG(&buf, img, stars, field); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rankColor(rank, n int) color.Color {
	t := 0.0
	if n > 1 {
		t = float64(rank) / float64(n-1)
	}
	return colorful.Hsv(220*(1-t), 0.85, 1).Clamped()
}

// sizeColor grades a zone from green to red by its size relative to center.
func sizeColor(zoneSize, centerSize float64) (colorful.Color, bool) {
	if zoneSize <= 0 || centerSize <= 0 {
		return colorful.Color{}, false
	}
	t := clampFloat64((zoneSize/centerSize-1.1)/0.5, 0, 1)
	return sizeGood.BlendHcl(sizeBad, t).Clamped(), true
}

func drawField(dc *gg.Context, field *FieldAnalysis, w, h int) {
	xBounds := [3][2]float64{
		{0, float64(w) * fieldEdgeFraction},
		{float64(w) * fieldEdgeFraction, float64(w) * (1 - fieldEdgeFraction)},
		{float64(w) * (1 - fieldEdgeFraction), float64(w)},
	}
	yBounds := [3][2]float64{
		{0, float64(h) * fieldEdgeFraction},
		{float64(h) * fieldEdgeFraction, float64(h) * (1 - fieldEdgeFraction)},
		{float64(h) * (1 - fieldEdgeFraction), float64(h)},
	}
	centerSize := field.Zones[ZoneCenter].MedianSize

	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			zone := field.Zones[zoneGrid[row][col]]
			x0, x1 := xBounds[col][0], xBounds[col][1]
			y0, y1 := yBounds[row][0], yBounds[row][1]
			if c, ok := sizeColor(zone.MedianSize, centerSize); ok {
				dc.SetRGBA(c.R, c.G, c.B, 0.25)
				dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
				dc.Fill()
			}
			cx, cy := (x0+x1)/2, (y0+y1)/2
			dc.SetRGB(1, 1, 1)
			dc.DrawStringAnchored(zone.Label, cx, cy-14, 0.5, 0.5)
			dc.DrawStringAnchored(fmt.Sprintf("size: %.2f", zone.MedianSize), cx, cy, 0.5, 0.5)
			dc.DrawStringAnchored(fmt.Sprintf("n=%d", zone.StarCount), cx, cy+14, 0.5, 0.5)
		}
	}

	dc.SetRGBA(1, 1, 1, 0.7)
	dc.SetLineWidth(1)
	for _, x := range []float64{xBounds[1][0], xBounds[2][0]} {
		dc.DrawLine(x, 0, x, float64(h))
	}
	for _, y := range []float64{yBounds[1][0], yBounds[2][0]} {
		dc.DrawLine(0, y, float64(w), y)
	}
	dc.Stroke()

	if field.BestCorner == "" || field.WorstCorner == "" {
		return
	}
	bx, by, ok1 := cornerCenter(field.BestCorner, xBounds, yBounds)
	wx, wy, ok2 := cornerCenter(field.WorstCorner, xBounds, yBounds)
	if !ok1 || !ok2 {
		return
	}
	dc.SetRGB(1, 0.31, 0.31)
	dc.SetLineWidth(3)
	dc.DrawLine(bx, by, wx, wy)
	dc.Stroke()
	drawArrowHead(dc, bx, by, wx, wy)
}

// cornerCenter returns the center coordinates for a named corner.
func cornerCenter(label string, xBounds, yBounds [3][2]float64) (float64, float64, bool) {
	var col, row int
	switch label {
	case "TL":
		col, row = 0, 0
	case "TR":
		col, row = 2, 0
	case "BL":
		col, row = 0, 2
	case "BR":
		col, row = 2, 2
	default:
		return 0, 0, false
	}
	return (xBounds[col][0] + xBounds[col][1]) / 2, (yBounds[row][0] + yBounds[row][1]) / 2, true
}

func drawArrowHead(dc *gg.Context, x0, y0, x1, y1 float64) {
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length < 1 {
		return
	}
	dx /= length
	dy /= length
	const sz = 15.0
	px, py := x1-dx*sz, y1-dy*sz
	dc.MoveTo(x1, y1)
	dc.LineTo(px+dy*sz*0.4, py-dx*sz*0.4)
	dc.LineTo(px-dy*sz*0.4, py+dx*sz*0.4)
	dc.ClosePath()
	dc.Fill()
}
