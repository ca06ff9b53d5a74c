package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailerLayout(t *testing.T) {
	buf := make([]byte, TrailerSize)
	EncodeTrailer(buf, Trailer{FrameCounter: 0x01020304, CycleTime: 0xa0b0c0d0, Checksum: 7})
	assert.Equal(t, []byte{1, 2, 3, 4, 0xa0, 0xb0, 0xc0, 0xd0, 0, 0, 0, 7}, buf)

	tr, err := DecodeTrailer(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), tr.FrameCounter)

	_, err = DecodeTrailer(buf[:5])
	assert.ErrorIs(t, err, ErrShortTrailer)
}

func TestBusPeriod(t *testing.T) {
	assert.InDelta(t, 125e-6, ISO400.BusPeriod().Seconds(), 1e-12)
	assert.InDelta(t, 15.625e-6, ISO3200.BusPeriod().Seconds(), 1e-12)
	assert.False(t, ISOSpeed(300).Valid())
}

func TestCodingGeometry(t *testing.T) {
	assert.Equal(t, 640*480*3/2, YUV411.FrameSize(640, 480))
	assert.Equal(t, 3, YUV422.Layers())
	assert.Equal(t, 1, Raw16.Layers())
	assert.True(t, Raw16.Is16Bit())
	assert.True(t, Rect{Width: 1, Height: 1}.DontCare())
	assert.False(t, Rect{Width: 640, Height: 480}.DontCare())
}
