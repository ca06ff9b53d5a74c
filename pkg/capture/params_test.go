package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/preprocess"
)

func TestFeatureParameters(t *testing.T) {
	e, bus := newTestEngine(t, 1)
	h := openSmall(t, e, 0)

	_, err := e.SetParameter(h, "Brightness", Value(100))
	require.NoError(t, err)
	res, err := e.SetParameter(h, "brightness", Query())
	require.NoError(t, err)
	assert.True(t, res.Known)
	assert.Equal(t, 100.0, res.Value())

	_, err = e.SetParameter(h, "AutoGain", Value(1))
	require.NoError(t, err)
	res, err = e.SetParameter(h, "autogain", Query())
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Value())

	st, err := bus.Camera(0).Feature(driver.Gain)
	require.NoError(t, err)
	assert.True(t, st.Auto)
}

func TestUnknownParameterIsNotAnError(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)

	res, err := e.SetParameter(h, "FluxCapacitor", Value(1))
	require.NoError(t, err)
	assert.False(t, res.Known)

	_, err = e.SetParameter(99, "Brightness", Query())
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestInfoParameters(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)

	res, err := e.SetParameter(h, "GetROI", Query())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 64, 48}, res.Values)

	res, err = e.SetParameter(h, "GetVendorName", Query())
	require.NoError(t, err)
	assert.Equal(t, "Simulated", res.Text)

	res, err = e.SetParameter(h, "PrintParameters", Query())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Brightness")
}

func TestCaptureSettingsParameters(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)

	_, err := e.SetParameter(h, "DebayerMethod", Text("nearest"))
	require.NoError(t, err)
	res, err := e.SetParameter(h, "DebayerMethod", Query())
	require.NoError(t, err)
	assert.Equal(t, float64(preprocess.Nearest), res.Value())

	_, err = e.SetParameter(h, "DebayerMethod", Value(17))
	assert.Error(t, err)

	_, err = e.SetParameter(h, "StopAtFramecount", Value(10))
	require.NoError(t, err)
	res, err = e.SetParameter(h, "StopAtFramecount", Query())
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Value())
	_, err = e.SetParameter(h, "StopAtFramecount", Value(-1))
	require.NoError(t, err)
	res, err = e.SetParameter(h, "StopAtFramecount", Query())
	require.NoError(t, err)
	assert.Empty(t, res.Values)

	_, err = e.SetParameter(h, "CorruptFramePolicy", Text("drop"))
	require.NoError(t, err)
	res, err = e.SetParameter(h, "CorruptFramePolicy", Query())
	require.NoError(t, err)
	assert.Equal(t, DropCorrupt.String(), res.Text)

	_, err = e.SetParameter(h, "DataConversionMode", Value(9))
	assert.Error(t, err)
}

func TestSettingsLockedWhileActive(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)
	_, err := e.StartCapture(h, e.StartOptions())
	require.NoError(t, err)

	for _, name := range []string{"UseHWFrameCounter", "ValidateChecksum"} {
		_, err = e.SetParameter(h, name, Value(1))
		assert.ErrorIs(t, err, ErrAlreadyActive, name)
	}

	res, err := e.SetParameter(h, "GetFrameCount", Query())
	require.NoError(t, err)
	assert.Zero(t, res.Value())
}
