package stardetect

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"
	"golang.org/x/image/tiff"
)

// MatToGray16 maps [0, 1] onto the full 16-bit range, clipping values outside.
func MatToGray16(m Mat) *image.Gray16 {
	rows, cols := m.Rows(), m.Cols()
	out := image.NewGray16(image.Rect(0, 0, cols, rows))
	data := m.DataFloat32()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := clampFloat64(float64(data[y*cols+x]), 0, 1)
			out.SetGray16(x, y, color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}
	return out
}

// WriteMatTIFF encodes m as a deflate compressed 16-bit grayscale TIFF.
func WriteMatTIFF(w io.Writer, m Mat) error {
	if m.Empty() {
		return ErrEmptyImage
	}
	if err := tiff.Encode(w, MatToGray16(m), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode TIFF: %w", err)
	}
	return nil
}

// WriteMatFITS writes m as a single 32-bit float FITS image, first row first.
func WriteMatFITS(w io.Writer, m Mat) error {
	if m.Empty() {
		return ErrEmptyImage
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to create FITS: %w", err)
	}
	defer f.Close()

	img := fitsio.NewImage(-32, []int{m.Cols(), m.Rows()})
	defer img.Close()
	if err := img.Write(MatSamples(m)); err != nil {
		return fmt.Errorf("failed to write FITS pixels: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("failed to write FITS HDU: %w", err)
	}
	return nil
}

// SaveMat writes m to path, choosing FITS for .fits/.fit/.fts and TIFF otherwise.
func SaveMat(path string, m Mat) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch filepath.Ext(path) {
	case ".fits", ".fit", ".fts":
		err = WriteMatFITS(f, m)
	default:
		err = WriteMatTIFF(f, m)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func maybeSaveImage(img Mat, savePath, filename string) {
	if savePath == "" {
		return
	}
	if _, err := os.Stat(savePath); os.IsNotExist(err) {
		return
	}
	imWriteMat(filepath.Join(savePath, filename), img)
}

func maybeSaveText(savePath, filename, text string) {
	if savePath == "" {
		return
	}
	if _, err := os.Stat(savePath); os.IsNotExist(err) {
		return
	}
	if err := os.WriteFile(filepath.Join(savePath, filename), []byte(text), 0644); err != nil {
		Logf("stardetect: writing %s: %v", filename, err)
	}
}
