package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/driver"
)

// mosaic builds a raw frame where every site holds the value of its color.
func mosaic(w, h int, layout [2][2]int, values [3]uint16, wide bool) []byte {
	bps := 1
	if wide {
		bps = 2
	}
	out := make([]byte, 0, w*h*bps)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := values[layout[y&1][x&1]]
			if wide {
				out = append(out, byte(v>>8), byte(v))
			} else {
				out = append(out, byte(v))
			}
		}
	}
	return out
}

func TestDebayer8ToRGB8(t *testing.T) {
	const w, h = 8, 6
	for _, method := range []DebayerMethod{Nearest, Simple, Bilinear} {
		for pattern, layout := range layouts {
			conv, err := Setup(Config{
				Width: w, Height: h, Coding: driver.Raw8, Extended: true, Pattern: pattern,
				Layers: 3, BitDepth: 8, Method: method,
			})
			require.NoError(t, err)

			f := &driver.Frame{Data: mosaic(w, h, layout, [3]uint16{200, 100, 50}, false)}
			img, err := conv.Process(f)
			require.NoError(t, err)
			require.Len(t, img.Data, w*h*3)
			assert.False(t, img.Borrowed)
			for i := 0; i < w*h; i++ {
				assert.Equal(t, []byte{200, 100, 50}, img.Data[3*i:3*i+3], "%s %s pixel %d", method, pattern, i)
			}
		}
	}
}

func TestDebayerGradientStaysInRange(t *testing.T) {
	const w, h = 16, 12
	raw := make([]byte, w*h)
	for i := range raw {
		raw[i] = byte(255 - i%256)
	}
	conv, err := Setup(Config{Width: w, Height: h, Coding: driver.Raw8, Override: driver.GRBG, Layers: 3, BitDepth: 8})
	require.NoError(t, err)

	img, err := conv.Process(&driver.Frame{Data: raw})
	require.NoError(t, err)
	assert.Len(t, img.Data, w*h*3)
	assert.Equal(t, 3, img.Layers)
	assert.Equal(t, 8, img.BitDepth)
}

func TestDebayer16(t *testing.T) {
	const w, h = 4, 4
	conv, err := Setup(Config{
		Width: w, Height: h, Coding: driver.Raw16, Override: driver.BGGR,
		Layers: 3, BitDepth: 12, Method: Bilinear,
	})
	require.NoError(t, err)

	img, err := conv.Process(&driver.Frame{Data: mosaic(w, h, layouts[driver.BGGR], [3]uint16{4000, 2000, 1000}, true)})
	require.NoError(t, err)
	require.Len(t, img.Data, w*h*3*2)
	assert.Equal(t, 12, img.BitDepth)
	assert.Equal(t, []byte{0x0f, 0xa0, 0x07, 0xd0, 0x03, 0xe8}, img.Data[:6])
}

func TestMissingPattern(t *testing.T) {
	_, err := Setup(Config{Width: 8, Height: 8, Coding: driver.Raw8, Layers: 3, Pattern: driver.RGGB})
	assert.ErrorIs(t, err, ErrNoBayerPattern, "standard modes need an override")

	_, err = Setup(Config{Width: 8, Height: 8, Coding: driver.Mono8, Layers: 3, Extended: true})
	assert.ErrorIs(t, err, ErrNoBayerPattern)
}

func TestPassThroughIsZeroCopy(t *testing.T) {
	conv, err := Setup(Config{Width: 4, Height: 2, Coding: driver.Mono8, Layers: 1, BitDepth: 8})
	require.NoError(t, err)
	assert.True(t, conv.ZeroCopy())

	f := &driver.Frame{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	img, err := conv.Process(f)
	require.NoError(t, err)
	assert.True(t, img.Borrowed)
	assert.Same(t, &f.Data[0], &img.Data[0])
	assert.Equal(t, float64(36), img.SumIntensity())

	clone := img.Clone()
	f.Data[0] = 99
	assert.Equal(t, byte(1), clone.Data[0])

	_, err = conv.Process(&driver.Frame{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestYUV(t *testing.T) {
	// U Y0 V Y1 with neutral chroma
	src := []byte{128, 10, 128, 20, 128, 30, 128, 40}
	conv, err := Setup(Config{Width: 4, Height: 1, Coding: driver.YUV422, Layers: 3})
	require.NoError(t, err)
	img, err := conv.Process(&driver.Frame{Data: src})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 10, 10, 20, 20, 20, 30, 30, 30, 40, 40, 40}, img.Data)

	luma, err := Setup(Config{Width: 4, Height: 1, Coding: driver.YUV422, YUYV: true, Layers: 1})
	require.NoError(t, err)
	img, err = luma.Process(&driver.Frame{Data: []byte{10, 128, 20, 128, 30, 128, 40, 128}})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 40}, img.Data)

	c411, err := Setup(Config{Width: 4, Height: 1, Coding: driver.YUV411, Layers: 1})
	require.NoError(t, err)
	img, err = c411.Process(&driver.Frame{Data: []byte{128, 1, 2, 128, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, img.Data)
}

func TestValidateChecksum(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	trailer := make([]byte, driver.TrailerSize)
	driver.EncodeTrailer(trailer, driver.Trailer{Checksum: driver.Checksum(data)})
	f := &driver.Frame{Data: data, Trailer: trailer}

	ok, err := ValidateChecksum(f)
	require.NoError(t, err)
	assert.True(t, ok)

	data[0] = 9
	ok, err = ValidateChecksum(f)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ValidateChecksum(&driver.Frame{Data: data})
	assert.ErrorIs(t, err, ErrNoTrailer)
}

func TestParseDebayerMethod(t *testing.T) {
	m, err := ParseDebayerMethod("Nearest")
	require.NoError(t, err)
	assert.Equal(t, Nearest, m)
	_, err = ParseDebayerMethod("vng")
	assert.Error(t, err)
}
