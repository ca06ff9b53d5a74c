package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentroid(t *testing.T) {
	tr, err := New("centroid")
	require.NoError(t, err)
	c := tr.(*Centroid)

	_, err = c.ProcessFrame(FrameView{Width: 1, Height: 1, Layers: 1, Data: []byte{0}})
	assert.Error(t, err, "must be initialized first")

	require.NoError(t, c.Initialize())
	const w, h = 10, 8
	data := make([]byte, w*h)
	for _, p := range [][2]int{{4, 2}, {5, 2}, {4, 3}, {5, 3}} {
		data[p[1]*w+p[0]] = 255
	}
	found, err := c.ProcessFrame(FrameView{Data: data, Width: w, Height: h, Layers: 1, BitDepth: 8, ROILeft: 100, ROITop: 50, Index: 7})
	require.NoError(t, err)
	assert.True(t, found)

	m, ok := c.Last()
	require.True(t, ok)
	assert.InDelta(t, 104.5, m.X, 1e-9)
	assert.InDelta(t, 52.5, m.Y, 1e-9)
	assert.Equal(t, 4, m.Pixels)
	assert.Equal(t, int64(7), m.Index)

	found, err = c.ProcessFrame(FrameView{Data: make([]byte, w*h), Width: w, Height: h, Layers: 1, BitDepth: 8})
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, c.Shutdown())

	_, err = New("missing")
	assert.Error(t, err)
	assert.Contains(t, Names(), "centroid")
}
