package v4l2

import (
	"github.com/vladimirvivien/go4vl/v4l2"

	"iidc-capture/pkg/driver"
)

var featureCtrls = map[driver.Feature]v4l2.CtrlID{
	driver.Brightness: v4l2.CtrlBrightness,
	driver.Exposure:   v4l2.CtrlExposure,
	driver.Sharpness:  v4l2.CtrlSharpness,
	driver.Saturation: v4l2.CtrlSaturation,
	driver.Gamma:      v4l2.CtrlGamma,
	driver.Gain:       v4l2.CtrlGain,
}

// autoCtrls switch a feature to automatic control.
var autoCtrls = map[driver.Feature]struct {
	id    v4l2.CtrlID
	value v4l2.CtrlValue
}{
	driver.Exposure:     {v4l2.CtrlCameraExposureAuto, 3}, // aperture priority
	driver.WhiteBalance: {v4l2.CtrlAutoWhiteBalance, 1},
}

func (c *Camera) Feature(f driver.Feature) (driver.FeatureState, error) {
	id, ok := featureCtrls[f]
	if !ok {
		return driver.FeatureState{}, driver.ErrUnsupported
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.dev == nil {
		return driver.FeatureState{}, driver.ErrClosed
	}
	ctrl, err := v4l2.GetControl(c.dev.Fd(), id)
	if err != nil {
		return driver.FeatureState{}, err
	}
	st := driver.FeatureState{
		Values: []float64{float64(ctrl.Value)},
		Min:    float64(ctrl.Minimum),
		Max:    float64(ctrl.Maximum),
	}
	if a, ok := autoCtrls[f]; ok {
		if actrl, err := v4l2.GetControl(c.dev.Fd(), a.id); err == nil {
			st.Auto = actrl.Value == a.value
		}
	}
	return st, nil
}

func (c *Camera) SetFeature(f driver.Feature, values ...float64) error {
	id, ok := featureCtrls[f]
	if !ok || len(values) != 1 {
		return driver.ErrUnsupported
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if a, ok := autoCtrls[f]; ok {
		// manual mode of the auto control
		c.settings[a.id] = 1
		if err := c.applySetting(a.id, 1); err != nil {
			logger.Warnf("%s: set ctrl(%d) to manual: %s", c.path, a.id, err)
		}
	}
	v := v4l2.CtrlValue(values[0])
	c.settings[id] = v
	return c.applySetting(id, v)
}

func (c *Camera) SetFeatureAuto(f driver.Feature) error {
	a, ok := autoCtrls[f]
	if !ok {
		return driver.ErrUnsupported
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.settings[a.id] = a.value
	return c.applySetting(a.id, a.value)
}

func (c *Camera) applySettings() {
	if c.dev == nil {
		return
	}
	for k, v := range c.settings {
		if err := c.dev.SetControlValue(k, v); err != nil {
			logger.Warnf("%s: set ctrl(%d) to %d, err: %s", c.path, k, v, err)
		}
	}
}

func (c *Camera) applySetting(k v4l2.CtrlID, v v4l2.CtrlValue) error {
	if c.dev == nil {
		return nil
	}
	return c.dev.SetControlValue(k, v)
}
