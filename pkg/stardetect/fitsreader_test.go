package stardetect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fitsFile assembles a primary HDU from header cards and raw big-endian data.
func fitsFile(cards []string, data []byte) []byte {
	var buf bytes.Buffer
	for _, c := range append(cards, "END") {
		buf.WriteString(fmt.Sprintf("%-80s", c))
	}
	for buf.Len()%fitsBlockSize != 0 {
		buf.WriteByte(' ')
	}
	buf.Write(data)
	for buf.Len()%fitsBlockSize != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %20s", key, value)
}

func int16Frame(physical []int) []byte {
	out := make([]byte, 2*len(physical))
	for i, v := range physical {
		binary.BigEndian.PutUint16(out[2*i:], uint16(int16(v-32768)))
	}
	return out
}

func sampleFits() []byte {
	return fitsFile([]string{
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "2"),
		card("NAXIS1", "3"),
		card("NAXIS2", "2"),
		card("BZERO", "32768"),
		card("BSCALE", "1"),
		card("OBJECT", "'M31     '"),
		card("DATE-OBS", "'2024-01-02T03:04:05.5'"),
		card("EXPTIME", "30.0") + " / seconds",
		card("BAYERPAT", "'RGGB'"),
		card("FILTER", "'Ha'"),
		card("INSTRUME", "'ZWO ASI2600MM'"),
		"COMMENT this card has no value",
	}, int16Frame([]int{0, 1000, 65535, 32768, 100, 200}))
}

func TestReadFitsFromBytes(t *testing.T) {
	data, err := ReadFitsFromBytes(sampleFits())
	require.NoError(t, err)

	assert.Equal(t, 3, data.Width)
	assert.Equal(t, 2, data.Height)
	assert.Equal(t, 16, data.BitPix)
	assert.Equal(t, 16, data.BitDepth)
	assert.Equal(t, []uint16{0, 1000, 65535, 32768, 100, 200}, data.Pixels)

	md := data.Metadata
	assert.Equal(t, "M31", md.ObjectName())
	assert.Equal(t, "RGGB", md.BayerPattern())
	assert.Equal(t, "Ha", md.Filter())
	assert.Equal(t, "ZWO ASI2600MM", md.CameraName())
	assert.Equal(t, "True", md.GetString("simple"))
	exp, ok := md.ExposureTime()
	assert.True(t, ok)
	assert.Equal(t, 30.0, exp)
	n, ok := md.GetInt("NAXIS1")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = md.GetInt("OBJECT")
	assert.False(t, ok)

	when, ok := md.GetDateTime("DATE-OBS")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 500_000_000, time.UTC), when)
	_, ok = md.GetDateTime("OBJECT")
	assert.False(t, ok)

	m, err := data.Mat()
	require.NoError(t, err)
	defer m.Close()
	assert.InDelta(t, 1, m.DataFloat32()[2], 1e-6)
}

func TestReadFitsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.fits")
	require.NoError(t, os.WriteFile(path, sampleFits(), 0644))

	full, err := ReadFits(path)
	require.NoError(t, err)
	assert.Len(t, full.Pixels, 6)

	header, err := ReadFitsMetadataOnly(path)
	require.NoError(t, err)
	assert.Nil(t, header.Pixels)
	assert.Equal(t, 3, header.Width)
	assert.Equal(t, "M31", header.Metadata.ObjectName())

	_, err = ReadFits(filepath.Join(t.TempDir(), "missing.fits"))
	assert.Error(t, err)
}

func TestReadFits8Bit(t *testing.T) {
	raw := fitsFile([]string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "2"),
		card("NAXIS1", "2"),
		card("NAXIS2", "1"),
	}, []byte{0, 255})
	data, err := ReadFitsFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, 8, data.BitDepth)

	m, err := data.Mat()
	require.NoError(t, err)
	defer m.Close()
	assert.InDeltaSlice(t, []float32{0, 1}, MatSamples(m), 1e-6)
}

func TestReadFitsErrors(t *testing.T) {
	header := func(bitpix, naxis string) []string {
		return []string{
			card("SIMPLE", "T"),
			card("BITPIX", bitpix),
			card("NAXIS", naxis),
			card("NAXIS1", "3"),
			card("NAXIS2", "2"),
		}
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"no header", []byte("SIMPLE")},
		{"one axis", fitsFile(header("16", "1"), nil)},
		{"unsupported bitpix", fitsFile(header("12", "2"), make([]byte, 12))},
		{"truncated data", fitsFile(header("16", "2"), nil)[:fitsBlockSize]},
		{"non-numeric naxis", fitsFile(header("16", "'two'"), make([]byte, 12))},
		{"non-numeric width", fitsFile([]string{
			card("SIMPLE", "T"),
			card("BITPIX", "16"),
			card("NAXIS", "2"),
			card("NAXIS1", "3.5"),
			card("NAXIS2", "2"),
		}, make([]byte, 12))},
		{"oversized frame", fitsFile([]string{
			card("SIMPLE", "T"),
			card("BITPIX", "16"),
			card("NAXIS", "2"),
			card("NAXIS1", "100000"),
			card("NAXIS2", "100000"),
		}, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = ReadFitsFromBytes(tt.data) })
			assert.Error(t, err)
		})
	}
}

func TestParseFitsValue(t *testing.T) {
	assert.Equal(t, "", parseFitsValue(""))
	assert.Equal(t, "True", parseFitsValue("T"))
	assert.Equal(t, "False", parseFitsValue("F"))
	assert.Equal(t, "Ha", parseFitsValue("'Ha      '"))
	assert.Equal(t, "1.5", parseFitsValue("1.5"))
}
