//go:build purego || js

package main

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	sd "stardetect/pkg/stardetect"
)

func loadNonFitsImage(path string) (sd.Mat, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return sd.NewMat(), fmt.Errorf("opening image: %w", err)
	}
	return imageToMat(img)
}

// imageToMat keeps the full depth of 16-bit gray images and reduces every
// other image to 8-bit luminance.
func imageToMat(img image.Image) (sd.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if g, ok := img.(*image.Gray16); ok {
		pixels := make([]uint16, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pixels[y*w+x] = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return sd.MatFromSamples(pixels, w, h)
	}

	gray := imaging.Grayscale(img)
	pixels := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			pixels[y*w+x] = row[4*x]
		}
	}
	return sd.MatFromSamples(pixels, w, h)
}
