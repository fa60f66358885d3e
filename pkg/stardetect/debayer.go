package stardetect

import (
	"fmt"
	"strings"
)

// BayerPattern is the colour filter layout of the top-left 2x2 cell.
type BayerPattern int

const (
	BayerRGGB BayerPattern = iota
	BayerBGGR
	BayerGRBG
	BayerGBRG
)

func (p BayerPattern) String() string {
	switch p {
	case BayerRGGB:
		return "RGGB"
	case BayerBGGR:
		return "BGGR"
	case BayerGRBG:
		return "GRBG"
	case BayerGBRG:
		return "GBRG"
	default:
		return "Unknown"
	}
}

// ParseBayerPattern accepts the FITS BAYERPAT spellings.
func ParseBayerPattern(s string) (BayerPattern, error) {
	for _, p := range []BayerPattern{BayerRGGB, BayerBGGR, BayerGRBG, BayerGBRG} {
		if strings.EqualFold(strings.TrimSpace(s), p.String()) {
			return p, nil
		}
	}
	return BayerRGGB, fmt.Errorf("unknown Bayer pattern %q", s)
}

// greenParity is the value of (x+y)%2 on green photosites.
func (p BayerPattern) greenParity() int {
	if p == BayerGRBG || p == BayerGBRG {
		return 0
	}
	return 1
}

// DebayerLuminance bilinearly interpolates a raw colour filter array and
// returns the luminance (R + G + B) / 3 of every pixel. Edge pixels use
// replicated neighbours.
func DebayerLuminance(raw Mat, pattern BayerPattern) Mat {
	width, height := raw.Cols(), raw.Rows()
	data := raw.DataFloat32()
	out := NewMatWithSize(height, width)
	dest := out.DataFloat32()

	px := func(x, y int) float64 {
		return float64(data[clampInt(y, 0, height-1)*width+clampInt(x, 0, width-1)])
	}
	green := pattern.greenParity()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := px(x, y)
			cross := (px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1)) / 4
			var lum float64
			if (x+y)%2 == green {
				// Red and blue sit on the horizontal and vertical neighbours.
				h := (px(x-1, y) + px(x+1, y)) / 2
				v := (px(x, y-1) + px(x, y+1)) / 2
				lum = c + h + v
			} else {
				diag := (px(x-1, y-1) + px(x+1, y-1) + px(x-1, y+1) + px(x+1, y+1)) / 4
				lum = c + cross + diag
			}
			dest[y*width+x] = float32(lum / 3)
		}
	}
	return out
}

// DebayerToMat converts raw Bayer samples of any supported depth to a
// normalized luminance Mat.
func DebayerToMat[T Sample](pixels []T, width, height int, pattern BayerPattern) (Mat, error) {
	raw, err := MatFromSamples(pixels, width, height)
	if err != nil {
		return NewMat(), err
	}
	defer raw.Close()
	return DebayerLuminance(raw, pattern), nil
}
