package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	width  = 32
	height = 24
)

func TestEncodeFrameRGB(t *testing.T) {
	data := make([]byte, width*height*3)
	for i := range data {
		data[i] = byte(i)
	}
	var jpgBuf bytes.Buffer
	require.NoError(t, EncodeFrame(&jpgBuf, data, width, height, 3, 8, 95))

	img, err := jpeg.Decode(&jpgBuf)
	require.NoError(t, err)
	assert.Equal(t, width, img.Bounds().Dx())
	assert.Equal(t, height, img.Bounds().Dy())
}

func TestWrapGray16(t *testing.T) {
	data := make([]byte, width*height*2)
	data[0], data[1] = 0x12, 0x34

	img, err := Wrap(data, width, height, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, color.Gray16{Y: 0x1234}, img.At(0, 0))
}

func TestWrapShortBuffer(t *testing.T) {
	_, err := Wrap(make([]byte, 10), width, height, 3, 8)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestDecodeRGB(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	img := DecodeRGB(data, 2, 1)
	r, g, b, a := img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{4<<8 | 4, 5<<8 | 5, 6<<8 | 6, 0xffff}, []uint32{r, g, b, a})
}

func TestThumbnail(t *testing.T) {
	data := make([]byte, width*height)
	img, err := Wrap(data, width, height, 1, 8)
	require.NoError(t, err)

	small := Thumbnail(img, 8)
	assert.Equal(t, 8, small.Bounds().Dx())
	assert.Equal(t, 6, small.Bounds().Dy())
	assert.IsType(t, &image.Gray{}, small)

	assert.Same(t, img, Thumbnail(img, 64))
	assert.Same(t, img, Thumbnail(img, 0))
}
