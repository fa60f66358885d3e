package stardetect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	fitsRecordSize = 80
	fitsBlockSize  = 2880

	// Upper bound on NAXIS1*NAXIS2 before the pixel buffer is allocated.
	maxFitsPixels = 1 << 28
)

// FitsMetadata holds parsed FITS header key-value pairs.
type FitsMetadata struct {
	Headers map[string]string
}

// NewFitsMetadata creates an empty FitsMetadata.
func NewFitsMetadata() *FitsMetadata {
	return &FitsMetadata{Headers: make(map[string]string)}
}

func (m *FitsMetadata) GetString(key string) string {
	return m.Headers[strings.ToUpper(key)]
}

func (m *FitsMetadata) GetDouble(key string) (float64, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (m *FitsMetadata) GetInt(key string) (int, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// GetDateTime parses an ISO date header such as DATE-OBS.
func (m *FitsMetadata) GetDateTime(key string) (time.Time, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return time.Time{}, false
	}
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (m *FitsMetadata) ObjectName() string { return m.GetString("OBJECT") }
func (m *FitsMetadata) Filter() string     { return m.GetString("FILTER") }
func (m *FitsMetadata) CameraName() string { return m.GetString("INSTRUME") }

// BayerPattern returns the colour filter layout of a raw one-shot-colour frame.
func (m *FitsMetadata) BayerPattern() string { return m.GetString("BAYERPAT") }

func (m *FitsMetadata) ExposureTime() (float64, bool) {
	if v, ok := m.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return m.GetDouble("EXPOSURE")
}

// FitsImageData holds the primary image of a FITS file as 16-bit samples.
type FitsImageData struct {
	Pixels   []uint16
	Width    int
	Height   int
	BitPix   int
	BitDepth int
	Metadata *FitsMetadata
}

// Mat normalizes the pixels to a float32 Mat in [0, 1].
func (d *FitsImageData) Mat() (Mat, error) {
	if d.BitDepth == 8 {
		narrow := make([]uint8, len(d.Pixels))
		for i, p := range d.Pixels {
			narrow[i] = uint8(p)
		}
		return MatFromSamples(narrow, d.Width, d.Height)
	}
	return MatFromSamples(d.Pixels, d.Width, d.Height)
}

// ReadFits reads FITS headers and pixel data from a file.
func ReadFits(filePath string) (*FitsImageData, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(f, false)
}

// ReadFitsMetadataOnly reads only FITS headers without loading pixel data.
func ReadFitsMetadataOnly(filePath string) (*FitsImageData, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(f, true)
}

// ReadFitsFromBytes reads FITS headers and pixel data from a byte slice.
func ReadFitsFromBytes(data []byte) (*FitsImageData, error) {
	return readFitsFromReader(bytes.NewReader(data), false)
}

type fitsHeader struct {
	bitpix, naxis, width, height int
	bzero, bscale                float64
}

func readFitsHeader(r io.Reader, metadata *FitsMetadata) (fitsHeader, error) {
	h := fitsHeader{bscale: 1}
	block := make([]byte, fitsBlockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return h, fmt.Errorf("reading FITS header block: %w", err)
		}
		for off := 0; off < fitsBlockSize; off += fitsRecordSize {
			record := string(block[off : off+fitsRecordSize])
			keyword := strings.TrimSpace(record[:8])
			if keyword == "END" {
				return h, nil
			}
			if record[8] != '=' || record[9] != ' ' {
				continue
			}
			rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
			if v := parseFitsValue(rawValue); keyword != "" && v != "" {
				metadata.Headers[strings.ToUpper(keyword)] = v
			}
			switch keyword {
			case "BITPIX":
				h.bitpix, _ = strconv.Atoi(rawValue)
			case "NAXIS":
				h.naxis, _ = strconv.Atoi(rawValue)
			case "NAXIS1":
				h.width, _ = strconv.Atoi(rawValue)
			case "NAXIS2":
				h.height, _ = strconv.Atoi(rawValue)
			case "BZERO":
				h.bzero, _ = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				h.bscale, _ = strconv.ParseFloat(rawValue, 64)
			}
		}
	}
}

func readFitsFromReader(r io.Reader, skipPixelData bool) (*FitsImageData, error) {
	metadata := NewFitsMetadata()
	h, err := readFitsHeader(r, metadata)
	if err != nil {
		return nil, err
	}
	if h.naxis < 2 || h.width <= 0 || h.height <= 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", h.naxis, h.width, h.height)
	}
	if h.width > maxFitsPixels/h.height {
		return nil, fmt.Errorf("FITS frame %dx%d exceeds %d pixels", h.width, h.height, maxFitsPixels)
	}

	out := &FitsImageData{
		Width:    h.width,
		Height:   h.height,
		BitPix:   h.bitpix,
		BitDepth: 16,
		Metadata: metadata,
	}
	if h.bitpix == 8 {
		out.BitDepth = 8
	}
	if skipPixelData {
		return out, nil
	}

	numPixels := h.width * h.height
	bytesPerPixel := abs(h.bitpix) / 8
	switch h.bitpix {
	case 8, 16, 32, -32, -64:
	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", h.bitpix)
	}
	raw := make([]byte, numPixels*bytesPerPixel)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading BITPIX %d pixel data: %w", h.bitpix, err)
	}

	physical := make([]float64, numPixels)
	for i := range physical {
		var v float64
		switch h.bitpix {
		case 8:
			v = float64(raw[i])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(raw[i*2:])))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(raw[i*4:])))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
		physical[i] = v*h.bscale + h.bzero
	}

	// Floating point frames already normalized to [0, 1] are stretched to
	// the 16-bit range.
	scale := 1.0
	if h.bitpix < 0 {
		peak := 0.0
		for _, v := range physical {
			if !math.IsNaN(v) {
				peak = math.Max(peak, v)
			}
		}
		if peak <= 1 {
			scale = math.MaxUint16
		}
	}

	out.Pixels = make([]uint16, numPixels)
	for i, v := range physical {
		out.Pixels[i] = uint16(math.Round(clampFloat64(v*scale, 0, math.MaxUint16)))
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func parseFitsValue(rawValue string) string {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return "True"
	}
	if rawValue == "F" {
		return "False"
	}
	if strings.HasPrefix(rawValue, "'") {
		endQuote := strings.LastIndex(rawValue, "'")
		if endQuote > 0 {
			return strings.TrimRight(rawValue[1:endQuote], " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}
