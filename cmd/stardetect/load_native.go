//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	sd "stardetect/pkg/stardetect"
)

func loadNonFitsImage(path string) (sd.Mat, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if src.Empty() {
		return sd.NewMat(), fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	w, h := src.Cols(), src.Rows()
	switch src.Type() {
	case gocv.MatTypeCV16U:
		data, err := src.DataPtrUint16()
		if err != nil {
			return sd.NewMat(), fmt.Errorf("reading pixels: %w", err)
		}
		return sd.MatFromSamples(data[:w*h], w, h)
	case gocv.MatTypeCV8U:
		data, err := src.DataPtrUint8()
		if err != nil {
			return sd.NewMat(), fmt.Errorf("reading pixels: %w", err)
		}
		return sd.MatFromSamples(data[:w*h], w, h)
	default:
		return sd.NewMat(), fmt.Errorf("unsupported pixel type %v in %s", src.Type(), path)
	}
}
