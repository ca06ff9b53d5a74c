package capture

import (
	"fmt"
	"strings"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/preprocess"
)

// ParamValue is the argument of SetParameter. Query reads a parameter
// without changing it.
type ParamValue struct {
	query  bool
	values []float64
	text   string
}

func Query() ParamValue { return ParamValue{query: true} }

func Value(xs ...float64) ParamValue { return ParamValue{values: xs} }

func Text(s string) ParamValue { return ParamValue{text: s} }

func (v ParamValue) number() (float64, error) {
	if len(v.values) != 1 {
		return 0, fmt.Errorf("expected one value, got %d", len(v.values))
	}
	return v.values[0], nil
}

func (v ParamValue) flag() (bool, error) {
	x, err := v.number()
	return x != 0, err
}

// ParamResult carries the value a parameter had before the call.
type ParamResult struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values,omitempty"`
	Text   string    `json:"text,omitempty"`
	Known  bool      `json:"known"`
}

// Value is the first value, or 0.
func (r ParamResult) Value() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[0]
}

type paramFunc func(d *Device, v ParamValue) (ParamResult, error)

var params map[string]paramFunc

func init() {
	params = map[string]paramFunc{
		"printparameters":       (*Device).printParameters,
		"getframerate":          counter(func(d *Device) float64 { return d.framerate }),
		"getroi":                (*Device).getROI,
		"getvendorname":         (*Device).getVendor,
		"getmodelname":          (*Device).getModel,
		"getbandwidthusage":     (*Device).getBandwidth,
		"triggermode":           (*Device).triggerMode,
		"triggersource":         (*Device).triggerSource,
		"triggerpolarity":       (*Device).triggerPolarity,
		"syncmode":              (*Device).setSyncMode,
		"debayermethod":         (*Device).debayerMethod,
		"overridebayerpattern":  (*Device).overridePattern,
		"dataconversionmode":    (*Device).conversionMode,
		"stopatframecount":      (*Device).stopAtFramecount,
		"gpio":                  (*Device).gpio,
		"busspeed":              (*Device).busSpeed,
		"usehwframecounter":     toggle(func(d *Device) *bool { return &d.useHWCounter }, func(s driver.SmartFeatures) bool { return s.FrameCounter }),
		"usehwtimestamps":       toggle(func(d *Device) *bool { return &d.useBusTS }, func(s driver.SmartFeatures) bool { return s.CycleTime }),
		"validatechecksum":      toggle(func(d *Device) *bool { return &d.validateChecksum }, func(s driver.SmartFeatures) bool { return s.Checksum }),
		"corruptframepolicy":    (*Device).corruptFramePolicy,
		"getcorruptframecount":  counter(func(d *Device) float64 { return float64(d.corrupt) }),
		"getchecksumerrorcount": counter(func(d *Device) float64 { return float64(d.checksumErrors) }),
		"getdroppedframecount":  counter(func(d *Device) float64 { return float64(d.dropped) }),
		"getframecount":         counter(func(d *Device) float64 { return float64(d.frameCounter) }),
	}
}

// ParameterNames lists the names SetParameter understands besides the
// camera features and their Auto variants.
func ParameterNames() []string {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	return names
}

// SetParameter reads or writes a named device parameter. Names are case
// insensitive. An unknown name is not an error; the result reports
// Known false.
func (e *Engine) SetParameter(handle int, name string, v ParamValue) (ParamResult, error) {
	d, err := e.reg.Get(handle)
	if err != nil {
		return ParamResult{}, err
	}

	var res ParamResult
	if f, auto, ok := parseFeatureParam(name); ok {
		if auto {
			res, err = d.featureAuto(f, v)
		} else {
			res, err = d.feature(f, v)
		}
	} else if fn, ok := params[strings.ToLower(name)]; ok {
		res, err = fn(d, v)
	} else {
		logger.Warnf("device %d: unknown parameter %q", handle, name)
		return ParamResult{Name: name}, nil
	}
	if err != nil {
		return ParamResult{}, fmt.Errorf("parameter %s: %w", name, err)
	}
	res.Name, res.Known = name, true
	return res, nil
}

func parseFeatureParam(name string) (driver.Feature, bool, bool) {
	auto := false
	if len(name) > 4 && strings.EqualFold(name[:4], "auto") {
		name, auto = name[4:], true
	}
	f, ok := driver.ParseFeature(name)
	return f, auto, ok
}

func (d *Device) feature(f driver.Feature, v ParamValue) (ParamResult, error) {
	st, err := d.cam.Feature(f)
	if err != nil {
		return ParamResult{}, err
	}
	res := ParamResult{Values: st.Values}
	if st.Auto {
		res.Text = "auto"
	}
	if v.query {
		return res, nil
	}
	return res, d.cam.SetFeature(f, v.values...)
}

func (d *Device) featureAuto(f driver.Feature, v ParamValue) (ParamResult, error) {
	st, err := d.cam.Feature(f)
	if err != nil {
		return ParamResult{}, err
	}
	res := ParamResult{Values: []float64{0}}
	if st.Auto {
		res.Values[0] = 1
	}
	if v.query {
		return res, nil
	}
	return res, d.cam.SetFeatureAuto(f)
}

func (d *Device) printParameters(ParamValue) (ParamResult, error) {
	var b strings.Builder
	for _, f := range driver.Features() {
		st, err := d.cam.Feature(f)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s=%v", f, st.Values)
		if st.Auto {
			b.WriteString("(auto)")
		}
		fmt.Fprintf(&b, " [%v..%v] ", st.Min, st.Max)
	}
	text := strings.TrimSpace(b.String())
	logger.Infof("device %d: %s", d.handle, text)
	return ParamResult{Text: text}, nil
}

func counter(get func(d *Device) float64) paramFunc {
	return func(d *Device, _ ParamValue) (ParamResult, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return ParamResult{Values: []float64{get(d)}}, nil
	}
}

// toggle handles an on/off smart feature switch that takes effect at the
// next capture start.
func toggle(field func(d *Device) *bool, supported func(driver.SmartFeatures) bool) paramFunc {
	return func(d *Device, v ParamValue) (ParamResult, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		p := field(d)
		res := ParamResult{Values: []float64{0}}
		if *p {
			res.Values[0] = 1
		}
		if v.query {
			return res, nil
		}
		on, err := v.flag()
		if err != nil {
			return res, err
		}
		if d.grabberActive {
			return res, ErrAlreadyActive
		}
		if on && !supported(d.cam.SmartFeatures()) {
			return res, driver.ErrUnsupported
		}
		*p = on
		return res, nil
	}
}

func (d *Device) getROI(ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.neg.ROI
	return ParamResult{Values: []float64{float64(r.Left), float64(r.Top), float64(r.Width), float64(r.Height)}}, nil
}

func (d *Device) getVendor(ParamValue) (ParamResult, error) {
	return ParamResult{Text: d.info.Vendor}, nil
}

func (d *Device) getModel(ParamValue) (ParamResult, error) {
	return ParamResult{Text: d.info.Model}, nil
}

func (d *Device) getBandwidth(ParamValue) (ParamResult, error) {
	n, err := d.cam.QueryBandwidth()
	if err != nil {
		return ParamResult{}, err
	}
	return ParamResult{Values: []float64{float64(n)}}, nil
}

func (d *Device) triggerMode(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.trigger.mode)}}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	m := driver.TriggerMode(x)
	if err = d.cam.SetTriggerMode(m); err != nil {
		return res, err
	}
	d.trigger.mode = m
	return res, nil
}

func (d *Device) triggerSource(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.trigger.source)}}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	s := driver.TriggerSource(x)
	if err = d.cam.SetTriggerSource(s); err != nil {
		return res, err
	}
	d.trigger.source = s
	return res, nil
}

func (d *Device) triggerPolarity(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.trigger.polarity)}}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	p := driver.TriggerPolarity(x)
	if err = d.cam.SetTriggerPolarity(p); err != nil {
		return res, err
	}
	d.trigger.polarity = p
	return res, nil
}

// setSyncMode changes the sync role. An invalid combination leaves the
// previous mode in place.
func (d *Device) setSyncMode(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.syncMode.Bitmask())}, Text: d.syncMode.String()}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidSyncMode, err)
	}
	m, err := ParseSyncMode(int(x))
	if err != nil {
		return res, err
	}
	if d.grabberActive {
		return res, ErrAlreadyActive
	}
	d.syncMode = m
	logger.Infof("device %d: sync mode %s", d.handle, m)
	return res, nil
}

// SetSyncMode is the typed form of the SyncMode parameter.
func (e *Engine) SetSyncMode(handle int, m SyncMode) error {
	_, err := e.SetParameter(handle, "SyncMode", Value(float64(m.Bitmask())))
	return err
}

func (d *Device) debayerMethod(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.debayer)}, Text: d.debayer.String()}
	if v.query {
		return res, nil
	}
	m := preprocess.DebayerMethod(0)
	if v.text != "" {
		var err error
		if m, err = preprocess.ParseDebayerMethod(v.text); err != nil {
			return res, err
		}
	} else {
		x, err := v.number()
		if err != nil {
			return res, err
		}
		m = preprocess.DebayerMethod(x)
		if m < preprocess.Nearest || m > preprocess.Bilinear {
			return res, fmt.Errorf("unknown debayer method %d", int(x))
		}
	}
	if d.grabberActive {
		return res, ErrAlreadyActive
	}
	d.debayer = m
	return res, nil
}

func (d *Device) overridePattern(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.override)}, Text: d.override.String()}
	if v.query {
		return res, nil
	}
	var p driver.BayerPattern
	if v.text != "" {
		var err error
		if p, err = driver.ParseBayerPattern(strings.ToUpper(v.text)); err != nil {
			if p, err = driver.ParseBayerPattern(strings.ToLower(v.text)); err != nil {
				return res, err
			}
		}
	} else {
		x, err := v.number()
		if err != nil {
			return res, err
		}
		p = driver.BayerPattern(x)
		if p < driver.PatternNone || p > driver.BGGR {
			return res, fmt.Errorf("unknown bayer pattern %d", int(x))
		}
	}
	if d.grabberActive {
		return res, ErrAlreadyActive
	}
	d.override = p
	return res, nil
}

func (d *Device) conversionMode(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.req.Conversion)}, Text: d.req.Conversion.String()}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	c := negotiate.ConversionMode(x)
	if !c.Valid() {
		return res, fmt.Errorf("invalid data conversion mode %d", int(x))
	}
	if d.grabberActive {
		return res, ErrAlreadyActive
	}
	if c != d.req.Conversion {
		d.req.Conversion = c
		d.renegotiate = true
	}
	return res, nil
}

func (d *Device) stopAtFramecount(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Text: d.userStopAt.String()}
	if d.userStopAt.set {
		res.Values = []float64{float64(d.userStopAt.n)}
	}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	if x < 0 {
		d.userStopAt = limit{}
	} else {
		d.userStopAt = limit{n: int64(x), set: true}
	}
	if !d.grabberActive {
		return res, nil
	}
	// a running loop picks the new target up at its next iteration; a stop
	// already requested can only be brought forward
	switch {
	case d.stopRequested && d.userStopAt.set:
		d.stopAt = d.stopAt.lower(d.userStopAt.n)
	case !d.stopRequested:
		d.stopAt = d.userStopAt
	}
	d.cond.Broadcast()
	return res, nil
}

func (d *Device) gpio(v ParamValue) (ParamResult, error) {
	if v.query {
		return ParamResult{}, nil
	}
	if len(v.values) != 2 {
		return ParamResult{}, fmt.Errorf("expected pin and state, got %d values", len(v.values))
	}
	return ParamResult{}, d.cam.SetGPIO(int(v.values[0]), v.values[1] != 0)
}

func (d *Device) busSpeed(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Values: []float64{float64(d.isoSpeed)}}
	if v.query {
		return res, nil
	}
	x, err := v.number()
	if err != nil {
		return res, err
	}
	s := driver.ISOSpeed(x)
	if !s.Valid() {
		return res, fmt.Errorf("invalid bus speed %v", x)
	}
	if d.grabberActive {
		return res, ErrAlreadyActive
	}
	if err = d.cam.SetISOSpeed(s); err != nil {
		return res, err
	}
	d.isoSpeed = s
	d.renegotiate = d.neg.Mode.Extended
	return res, nil
}

func (d *Device) corruptFramePolicy(v ParamValue) (ParamResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := ParamResult{Text: d.corruptPolicy.String()}
	if v.query {
		return res, nil
	}
	p := DeliverCorrupt
	if v.text != "" {
		var err error
		if p, err = ParseCorruptPolicy(v.text); err != nil {
			return res, err
		}
	} else if on, err := v.flag(); err != nil {
		return res, err
	} else if on {
		p = DropCorrupt
	}
	d.corruptPolicy = p
	return res, nil
}
