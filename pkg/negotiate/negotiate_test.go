package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/driver/sim"
)

func openSim(t *testing.T, spec sim.Spec) *sim.Camera {
	t.Helper()
	bus := sim.NewBus()
	bus.Add(spec)
	c, err := bus.Open(0)
	require.NoError(t, err)
	return c.(*sim.Camera)
}

func TestStandardVGAForRGB(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{
		Layers:     3,
		ROI:        driver.Rect{Width: 640, Height: 480},
		Framerate:  30,
		Conversion: RawPostProcessed,
	})
	require.NoError(t, err)
	assert.False(t, res.Mode.Extended)
	assert.Equal(t, 640, res.Mode.Width)
	assert.Equal(t, 480, res.Mode.Height)
	assert.Equal(t, driver.RGB8, res.Mode.Coding, "non-YUV wins a rate tie")
	assert.GreaterOrEqual(t, res.Framerate, 30.0)
	assert.InDelta(t, 30, res.Framerate, 1e-6)

	require.NoError(t, Apply(cam, res))
	id, roi, fps, _ := cam.CurrentMode()
	assert.Equal(t, res.Mode.ID, id)
	assert.Equal(t, 640, roi.Width)
	assert.InDelta(t, 30, fps, 1e-6)
}

func TestSlowestSufficientRate(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{Layers: 1, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 7.5})
	require.NoError(t, err)
	assert.Equal(t, driver.Mono8, res.Mode.Coding)
	assert.InDelta(t, 7.5, res.Framerate, 1e-6)
}

func TestDontCareROIPicksLargestFrame(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{Layers: 1, ROI: driver.Rect{Width: 1, Height: 1}, Framerate: 15})
	require.NoError(t, err)
	assert.Equal(t, 1024, res.Mode.Width)
	assert.Equal(t, 768, res.Mode.Height)
	assert.InDelta(t, 15, res.Framerate, 1e-6)
}

func TestDontCareLayersInheritsNative(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 15, Conversion: MonoFiltered})
	require.NoError(t, err)
	assert.Equal(t, res.Mode.Coding.Layers(), res.Layers)
}

func TestLayerAdaptation(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{Layers: 4, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 15})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Layers)

	res, err = Negotiate(cam, Request{Layers: 2, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 15})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Layers)

	_, err = Negotiate(cam, Request{Layers: 5})
	assert.ErrorIs(t, err, ErrTooManyLayers)
}

func TestExtendedModeForCustomROI(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))
	roi := driver.Rect{Left: 16, Top: 8, Width: 320, Height: 240}

	res, err := Negotiate(cam, Request{Layers: 1, ROI: roi, Framerate: 10, Conversion: RawPostProcessed})
	require.NoError(t, err)
	assert.True(t, res.Mode.Extended)
	assert.Equal(t, driver.Mono8, res.Mode.Coding)
	assert.Equal(t, roi, res.ROI)
	assert.Equal(t, 96, res.PacketSize)
	assert.InDelta(t, 10, res.Framerate, 1e-9)

	require.NoError(t, Apply(cam, res))
	_, got, _, packet := cam.CurrentMode()
	assert.Equal(t, roi, got)
	assert.Equal(t, 96, packet)
}

func TestExtendedRawDebayer(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	res, err := Negotiate(cam, Request{
		Layers:         3,
		ROI:            driver.Rect{Width: 1, Height: 1},
		Framerate:      15,
		Conversion:     RawPostProcessed,
		PreferExtended: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Mode.Extended)
	assert.Equal(t, 1280, res.ROI.Width)
	assert.Contains(t, []driver.ColorCoding{driver.Raw8, driver.RGB8}, res.Mode.Coding)
}

func TestExtendedFallsBackToStandard(t *testing.T) {
	spec := sim.DefaultSpec(0)
	var std []driver.Mode
	for _, m := range spec.Modes {
		if !m.Extended {
			std = append(std, m)
		}
	}
	spec.Modes = std
	cam := openSim(t, spec)

	res, err := Negotiate(cam, Request{Layers: 1, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 30, PreferExtended: true})
	require.NoError(t, err)
	assert.False(t, res.Mode.Extended)
}

func TestOutsideCapabilityLeavesCameraUntouched(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))
	cam.FailNext(sim.OpSetROI, nil)

	for _, req := range []Request{
		{Layers: 1, ROI: driver.Rect{Width: 2000, Height: 2000}, Framerate: 15},
		{Layers: 1, ROI: driver.Rect{Left: 3, Width: 320, Height: 240}, Framerate: 15},
		{Layers: 3, BitDepth: 16, ROI: driver.Rect{Width: 800, Height: 600}, Framerate: 15, Conversion: MonoFiltered},
	} {
		_, err := Negotiate(cam, req)
		assert.ErrorIs(t, err, ErrNoSatisfyingMode, "%+v", req)
	}

	id, _, _, _ := cam.CurrentMode()
	assert.Equal(t, driver.ModeID(0), id)
	// The injected failure is still pending: no candidate reached SetROI.
	assert.ErrorIs(t, cam.SetROI(88, driver.Rect{Width: 64, Height: 64}), sim.ErrInjected)
}

func TestUnreachableRateFails(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))
	cam.FailNext(sim.OpSetROI, nil)

	for _, req := range []Request{
		{Layers: 1, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 1000},
		{Layers: 1, ROI: driver.Rect{Left: 16, Top: 8, Width: 320, Height: 240}, Framerate: 1000},
		{Layers: 1, ROI: driver.Rect{Width: 640, Height: 480}, Framerate: 1000, PreferExtended: true},
	} {
		_, err := Negotiate(cam, req)
		assert.ErrorIs(t, err, ErrNoSatisfyingMode, "%+v", req)
	}
	assert.ErrorIs(t, cam.SetROI(88, driver.Rect{Width: 64, Height: 64}), sim.ErrInjected)

	// packet quantization may land slightly below the request
	res, err := Negotiate(cam, Request{Layers: 1, ROI: driver.Rect{Left: 8, Top: 2, Width: 1000, Height: 700}, Framerate: 10})
	require.NoError(t, err)
	assert.InEpsilon(t, 10, res.Framerate, rateTolerance)
}

func TestPacketUsesModeDataDepth(t *testing.T) {
	spec := sim.DefaultSpec(0)
	var modes []driver.Mode
	for _, m := range spec.Modes {
		if m.Extended && m.Coding == driver.Mono16 {
			m.DataDepth = 12
			modes = append(modes, m)
		}
	}
	require.Len(t, modes, 1)
	spec.Modes = modes
	cam := openSim(t, spec)

	roi := driver.Rect{Width: 640, Height: 480}
	res, err := Negotiate(cam, Request{Layers: 1, BitDepth: 16, ROI: roi, Framerate: 10, Conversion: RawPostProcessed})
	require.NoError(t, err)
	period := cam.ISOSpeed().BusPeriod()
	assert.Equal(t, PacketSize(640, 480, 12, period, 10, 4, 4096), res.PacketSize)
	assert.NotEqual(t, PacketSize(640, 480, 16, period, 10, 4, 4096), res.PacketSize)
	assert.InEpsilon(t, 10, res.Framerate, rateTolerance)
}

func TestSatisfiesCapabilityRequests(t *testing.T) {
	cam := openSim(t, sim.DefaultSpec(0))

	for _, size := range []driver.Rect{{Width: 320, Height: 240}, {Width: 640, Height: 480}, {Width: 800, Height: 600}} {
		for _, layers := range []int{1, 3} {
			for _, fps := range []float64{3.75, 7.5, 15} {
				res, err := Negotiate(cam, Request{Layers: layers, ROI: size, Framerate: fps, Conversion: MonoFiltered})
				require.NoError(t, err)
				assert.Equal(t, size.Width, res.ROI.Width)
				assert.Equal(t, size.Height, res.ROI.Height)
				assert.Equal(t, layers, res.Layers)
				assert.GreaterOrEqual(t, res.Framerate, fps)
			}
		}
	}

	for _, roi := range []driver.Rect{{Width: 1280, Height: 960}, {Left: 64, Top: 32, Width: 256, Height: 128}, {Left: 8, Top: 2, Width: 1000, Height: 700}} {
		res, err := Negotiate(cam, Request{Layers: 1, ROI: roi, Framerate: 10, Conversion: MonoFiltered})
		require.NoError(t, err)
		assert.Equal(t, roi, res.ROI)
		assert.InEpsilon(t, 10, res.Framerate, 0.05)
	}
}

func TestAcceptsCoding(t *testing.T) {
	cases := []struct {
		layers int
		depth  int
		coding driver.ColorCoding
		conv   ConversionMode
		want   bool
	}{
		{1, 8, driver.Raw8, RawAsRaw, true},
		{3, 8, driver.Raw8, RawAsRaw, false},
		{3, 8, driver.Raw8, RawPostProcessed, true},
		{1, 8, driver.Raw8, RawPostProcessed, false},
		{1, 8, driver.Raw8, MonoFiltered, false},
		{3, 8, driver.Raw8, MonoFiltered, false},
		{3, 8, driver.Mono8, MonoAsRaw, true},
		{3, 8, driver.Mono8, MonoFiltered, false},
		{1, 8, driver.Mono8, MonoFiltered, true},
		{1, 12, driver.Mono16, MonoFiltered, true},
		{1, 12, driver.Mono8, MonoFiltered, false},
		{3, 16, driver.Raw16, RawPostProcessed, true},
		{3, 16, driver.YUV422, RawPostProcessed, false},
		{3, 8, driver.YUV411, RawAsRaw, true},
		{3, 16, driver.RGB16, MonoFiltered, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AcceptsCoding(tc.layers, tc.depth, tc.coding, tc.conv),
			"%d layers %d bit %s %s", tc.layers, tc.depth, tc.coding, tc.conv)
	}
}

func TestPacketSize(t *testing.T) {
	period := driver.ISO400.BusPeriod()

	size := PacketSize(640, 480, 8, period, 30, 4, 4096)
	assert.Equal(t, 1152, size)
	assert.InDelta(t, 1/(125e-6*267), EffectiveFramerate(640, 480, 8, period, size), 1e-9)

	assert.Equal(t, 4096, PacketSize(640, 480, 8, period, 0, 4, 4096))
	assert.Equal(t, 4, PacketSize(8, 2, 8, period, 1, 4, 4096))
	assert.Equal(t, 4096, PacketSize(1280, 960, 48, period, 240, 4, 4096))
	assert.Equal(t, 1000, PacketSize(100, 100, 8, period, 1, 0, 1000))
}
