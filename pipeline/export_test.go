package pipeline

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		original string
		format   ExportFormat
		want     string
	}{
		{original: "portrait.jpg", format: FormatPNG, want: "portrait-nobg.png"},
		{original: "dir/holiday.photo.webp", format: FormatPNG, want: "holiday-nobg.png"},
		{original: "", format: FormatPNG, want: "image-nobg.png"},
		{original: ".hidden", format: FormatPNG, want: "image-nobg.png"},
		{original: "cat.png", format: FormatWebP, want: "cat-nobg.webp"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFilename(tt.original, "-nobg", tt.format))
		})
	}
}

func TestParseExportFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ExportFormat{"": FormatPNG, "PNG": FormatPNG, "webp": FormatWebP} {
		got, err := ParseExportFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseExportFormat("gif")
	assert.Error(t, err)
}

func TestEncode_KeepsTransparency(t *testing.T) {
	t.Parallel()

	raster := gradientNRGBA(16, 16)
	out, err := Composite(raster, leftHalfMask(16, 16), ResolvedBackground{}, DefaultThreshold)
	require.NoError(t, err)

	data, err := Encode(out, FormatPNG)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, a := decoded.At(15, 0).RGBA()
	assert.Zero(t, a)
	_, _, _, a = decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)

	data, err = Encode(out, FormatWebP)
	require.NoError(t, err)
	decoded, err = webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, a = decoded.At(15, 0).RGBA()
	assert.Zero(t, a)
}
