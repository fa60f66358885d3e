package stardetect

import (
	"errors"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	// ErrEmptyImage is returned for images without pixels.
	ErrEmptyImage = errors.New("stardetect: empty image")
	// ErrMaskSize is returned when the detection mask does not match the image.
	ErrMaskSize = errors.New("stardetect: mask dimensions differ from image")
	// ErrCanceled wraps the context error when a detection is aborted.
	ErrCanceled = errors.New("stardetect: detection canceled")
)
