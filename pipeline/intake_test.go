package pipeline

import (
	"bytes"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acceptedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

func TestIntake_Validate(t *testing.T) {
	t.Parallel()

	pngData := encodePNG(t, solidNRGBA(8, 8, color.NRGBA{R: 1, A: 255}))
	var jpegBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpegBuf, solidNRGBA(8, 8, color.NRGBA{R: 1, A: 255}), nil))

	in := NewIntake(10*1024*1024, acceptedTypes)

	tests := []struct {
		name     string
		data     []byte
		mimeType string
		size     int64
		wantErr  bool
	}{
		{name: "png", data: pngData, mimeType: "image/png"},
		{name: "jpeg", data: jpegBuf.Bytes(), mimeType: "image/jpeg"},
		{name: "jpg alias", data: jpegBuf.Bytes(), mimeType: "image/jpg"},
		{name: "declared with params", data: pngData, mimeType: "image/png; charset=binary"},
		{name: "too large declared size", data: pngData, mimeType: "image/png", size: 11 * 1024 * 1024, wantErr: true},
		{name: "unsupported type", data: pngData, mimeType: "image/bmp", wantErr: true},
		{name: "content mismatch", data: pngData, mimeType: "image/jpeg", wantErr: true},
		{name: "not an image", data: []byte("hello world"), mimeType: "image/png", wantErr: true},
		{name: "empty", data: nil, mimeType: "image/png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.size
			if size == 0 {
				size = int64(len(tt.data))
			}
			err := in.Validate(tt.data, tt.mimeType, size)
			if tt.wantErr {
				assert.Equal(t, InputValidation, KindOf(err))
				assert.Equal(t, CategoryInput, KindOf(err).Category())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIntake_RejectsElevenMegabytes(t *testing.T) {
	t.Parallel()

	in := NewIntake(10*1024*1024, acceptedTypes)
	data := make([]byte, 11*1024*1024)
	copy(data, encodePNG(t, solidNRGBA(4, 4, color.NRGBA{A: 255})))

	_, err := in.Accept(data, "image/png", "big.png")
	require.Error(t, err)
	assert.Equal(t, InputValidation, KindOf(err))
	assert.Contains(t, err.Error(), "10 MB")
}

func TestIntake_Accept(t *testing.T) {
	t.Parallel()

	in := NewIntake(1024*1024, acceptedTypes)
	src, err := in.Accept(encodePNG(t, gradientNRGBA(30, 20)), "image/png", "cat.png")
	require.NoError(t, err)
	assert.Equal(t, 30, src.Width)
	assert.Equal(t, 20, src.Height)
	assert.Equal(t, "image/png", src.MIMEType)
	assert.Equal(t, "cat.png", src.Filename)
}
