package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"iidc-capture/pkg/driver"
)

// Op names a camera call that FailNext can make fail.
type Op string

const (
	OpSetMode         Op = "SetMode"
	OpSetROI          Op = "SetROI"
	OpSetFramerate    Op = "SetFramerate"
	OpSetPacketSize   Op = "SetPacketSize"
	OpStartStream     Op = "StartStream"
	OpStopStream      Op = "StopStream"
	OpSetTransmission Op = "SetTransmission"
	OpSetBroadcast    Op = "SetBroadcast"
	OpDequeue         Op = "Dequeue"
	OpRequeue         Op = "Requeue"
	OpSetTriggerPower Op = "SetTriggerPower"
	OpSetPower        Op = "SetPower"
	OpReset           Op = "Reset"
)

var ErrInjected = errors.New("injected failure")

const numGPIO = 4

// Camera is a simulated camera. All state is guarded by the bus lock so that
// a bus tick observes every camera consistently.
type Camera struct {
	bus  *Bus
	info driver.DeviceInfo
	spec Spec

	opened       bool
	powered      bool
	mode         *driver.Mode
	rois         map[driver.ModeID]driver.Rect
	packets      map[driver.ModeID]int
	fps          float64
	streaming    bool
	transmitting bool
	broadcast    bool

	triggerPower    bool
	triggerMode     driver.TriggerMode
	triggerSource   driver.TriggerSource
	triggerPolarity driver.TriggerPolarity

	smart    driver.SmartFeatures
	features map[driver.Feature]driver.FeatureState
	gpio     [numGPIO]bool

	numBuffers  int
	ring        []*driver.Frame
	free        [][]byte
	outstanding int
	slot        int

	sensorCount uint32
	captured    int
	dropped     int
	powerUps    int
	resets      int

	fail map[Op]error
}

func newCamera(b *Bus, index int, spec Spec) *Camera {
	return &Camera{
		bus: b,
		info: driver.DeviceInfo{
			Index:  index,
			GUID:   spec.GUID,
			Vendor: spec.Vendor,
			Model:  spec.Model,
		},
		spec:     spec,
		rois:     make(map[driver.ModeID]driver.Rect),
		packets:  make(map[driver.ModeID]int),
		features: defaultFeatures(),
		fail:     make(map[Op]error),
	}
}

func defaultFeatures() map[driver.Feature]driver.FeatureState {
	fs := make(map[driver.Feature]driver.FeatureState)
	for _, f := range driver.Features() {
		st := driver.FeatureState{Values: []float64{512}, Min: 0, Max: 1023}
		if f == driver.WhiteBalance {
			st.Values = []float64{512, 512}
		}
		fs[f] = st
	}
	return fs
}

// FailNext makes the next call of op return err, or ErrInjected when err is nil.
func (c *Camera) FailNext(op Op, err error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	c.fail[op] = err
}

func (c *Camera) failing(op Op) error {
	if err, ok := c.fail[op]; ok {
		delete(c.fail, op)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stats is a snapshot of the camera's internal state.
type Stats struct {
	Captured     int
	Dropped      int
	Queued       int
	Outstanding  int
	Streaming    bool
	Transmitting bool
	Broadcast    bool
	TriggerPower bool
	Powered      bool
	Opened       bool
	Smart        driver.SmartFeatures
	// PowerUps and Resets count successful SetPower(true) and Reset calls.
	PowerUps int
	Resets   int
}

func (c *Camera) Stats() Stats {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return Stats{
		Captured:     c.captured,
		Dropped:      c.dropped,
		Queued:       len(c.ring),
		Outstanding:  c.outstanding,
		Streaming:    c.streaming,
		Transmitting: c.transmitting,
		Broadcast:    c.broadcast,
		TriggerPower: c.triggerPower,
		Powered:      c.powered,
		Opened:       c.opened,
		Smart:        c.smart,
		PowerUps:     c.powerUps,
		Resets:       c.resets,
	}
}

func (c *Camera) live() bool {
	return c.opened && c.streaming && c.transmitting
}

func (c *Camera) frameSize() (w, h int) {
	if c.mode == nil {
		return 0, 0
	}
	if !c.mode.Extended {
		return c.mode.Width, c.mode.Height
	}
	roi := c.rois[c.mode.ID]
	return roi.Width, roi.Height
}

// capture fills one ring buffer; it reports false when the ring is full and
// the frame was lost.
func (c *Camera) capture(cycle uint32, now time.Duration) bool {
	c.sensorCount++
	if len(c.ring)+c.outstanding >= c.numBuffers {
		c.dropped++
		return false
	}

	w, h := c.frameSize()
	size := c.mode.Coding.FrameSize(w, h)
	var buf []byte
	if n := len(c.free); n > 0 && cap(c.free[n-1]) >= size+driver.TrailerSize {
		buf = c.free[n-1][:size+driver.TrailerSize]
		c.free = c.free[:n-1]
	} else {
		buf = make([]byte, size+driver.TrailerSize)
	}
	fillPattern(buf[:size], c.sensorCount)

	f := &driver.Frame{
		Data:         buf[:size],
		Width:        w,
		Height:       h,
		Coding:       c.mode.Coding,
		Timestamp:    now,
		HasTimestamp: true,
		Slot:         c.slot,
	}
	c.slot = (c.slot + 1) % c.numBuffers
	if c.smart.Any() {
		var t driver.Trailer
		if c.smart.FrameCounter {
			t.FrameCounter = c.sensorCount
		}
		if c.smart.CycleTime {
			t.CycleTime = cycle
		}
		if c.smart.Checksum {
			t.Checksum = driver.Checksum(f.Data)
		}
		f.Trailer = buf[size : size+driver.TrailerSize]
		driver.EncodeTrailer(f.Trailer, t)
	}
	c.ring = append(c.ring, f)
	c.captured++

	return true
}

// fillPattern writes a moving ramp so consecutive frames differ.
func fillPattern(b []byte, seq uint32) {
	for i := range b {
		b[i] = byte(uint32(i)*7 + seq)
	}
}

func (c *Camera) Info() driver.DeviceInfo { return c.info }

func (c *Camera) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if !c.opened {
		return driver.ErrClosed
	}
	c.stopLocked()
	c.opened = false
	c.bus.cond.Broadcast()
	return nil
}

func (c *Camera) check() error {
	if !c.opened {
		return driver.ErrClosed
	}
	return nil
}

func (c *Camera) SupportedModes() ([]driver.Mode, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return append([]driver.Mode(nil), c.spec.Modes...), nil
}

func (c *Camera) findMode(id driver.ModeID) (*driver.Mode, error) {
	for i := range c.spec.Modes {
		if c.spec.Modes[i].ID == id {
			return &c.spec.Modes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", driver.ErrInvalidMode, id)
}

func (c *Camera) SetMode(id driver.ModeID) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetMode); err != nil {
		return err
	}
	if c.streaming {
		return driver.ErrStreaming
	}
	m, err := c.findMode(id)
	if err != nil {
		return err
	}
	c.mode = m
	if m.Extended {
		if _, ok := c.rois[id]; !ok {
			c.rois[id] = driver.Rect{Width: m.MaxWidth, Height: m.MaxHeight}
		}
		if _, ok := c.packets[id]; !ok {
			c.packets[id] = m.PacketMax
		}
	} else {
		c.fps = m.Framerates[len(m.Framerates)-1]
	}
	return nil
}

// CurrentMode returns the programmed mode id and its frame geometry.
func (c *Camera) CurrentMode() (driver.ModeID, driver.Rect, float64, int) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.mode == nil {
		return 0, driver.Rect{}, 0, 0
	}
	if c.mode.Extended {
		return c.mode.ID, c.rois[c.mode.ID], 0, c.packets[c.mode.ID]
	}
	return c.mode.ID, driver.Rect{Width: c.mode.Width, Height: c.mode.Height}, c.fps, 0
}

func (c *Camera) SetROI(id driver.ModeID, roi driver.Rect) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetROI); err != nil {
		return err
	}
	if c.streaming {
		return driver.ErrStreaming
	}
	m, err := c.findMode(id)
	if err != nil {
		return err
	}
	if !m.Extended {
		return fmt.Errorf("%w: mode %d has a fixed size", driver.ErrInvalidROI, id)
	}
	if roi.Width <= 0 || roi.Height <= 0 || roi.Left < 0 || roi.Top < 0 ||
		roi.Left+roi.Width > m.MaxWidth || roi.Top+roi.Height > m.MaxHeight ||
		roi.Width%m.UnitWidth != 0 || roi.Height%m.UnitHeight != 0 ||
		roi.Left%m.UnitWidth != 0 || roi.Top%m.UnitHeight != 0 {
		return fmt.Errorf("%w: %s", driver.ErrInvalidROI, roi)
	}
	c.rois[id] = roi
	return nil
}

func (c *Camera) SetFramerate(fps float64) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetFramerate); err != nil {
		return err
	}
	if c.mode == nil || c.mode.Extended {
		return fmt.Errorf("%w: framerate needs a standard mode", driver.ErrInvalidMode)
	}
	for _, r := range c.mode.Framerates {
		if math.Abs(r-fps) < 1e-6 {
			c.fps = r
			return nil
		}
	}
	return fmt.Errorf("%w: %.3f fps not offered by mode %d", driver.ErrInvalidMode, fps, c.mode.ID)
}

func (c *Camera) SetPacketSize(id driver.ModeID, size int) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetPacketSize); err != nil {
		return err
	}
	m, err := c.findMode(id)
	if err != nil {
		return err
	}
	if !m.Extended || size < m.PacketMin || size > m.PacketMax || size%m.PacketMin != 0 {
		return fmt.Errorf("%w: packet size %d", driver.ErrInvalidMode, size)
	}
	c.packets[id] = size
	return nil
}

func (c *Camera) ISOSpeed() driver.ISOSpeed {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.bus.speed
}

func (c *Camera) SetISOSpeed(speed driver.ISOSpeed) error {
	if !speed.Valid() {
		return fmt.Errorf("invalid iso speed %d", speed)
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.speed = speed
	return nil
}

func (c *Camera) StartStream(numBuffers int) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpStartStream); err != nil {
		return err
	}
	if c.streaming {
		return driver.ErrStreaming
	}
	if c.mode == nil {
		return fmt.Errorf("%w: no mode set", driver.ErrInvalidMode)
	}
	if numBuffers < 1 {
		return fmt.Errorf("invalid dma ring size %d", numBuffers)
	}
	c.numBuffers = numBuffers
	c.ring = make([]*driver.Frame, 0, numBuffers)
	c.free = nil
	c.outstanding = 0
	c.slot = 0
	c.streaming = true
	return nil
}

func (c *Camera) StopStream() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpStopStream); err != nil {
		return err
	}
	c.stopLocked()
	return nil
}

func (c *Camera) stopLocked() {
	c.transmitting = false
	c.streaming = false
	c.ring = nil
	c.free = nil
	c.outstanding = 0
	c.bus.cond.Broadcast()
}

func (c *Camera) SetTransmission(on bool) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetTransmission); err != nil {
		return err
	}
	if c.broadcast {
		for _, o := range c.bus.cams {
			if o.opened && o.streaming {
				o.transmitting = on
			}
		}
		return nil
	}
	if on && !c.streaming {
		return driver.ErrNotStreaming
	}
	if on && !c.powered {
		return errors.New("camera powered down")
	}
	c.transmitting = on
	return nil
}

func (c *Camera) SetBroadcast(on bool) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpSetBroadcast); err != nil {
		return err
	}
	c.broadcast = on
	return nil
}

func (c *Camera) Dequeue(policy driver.DequeuePolicy) (*driver.Frame, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.failing(OpDequeue); err != nil {
		return nil, err
	}
	for {
		if err := c.check(); err != nil {
			return nil, err
		}
		if !c.streaming {
			return nil, driver.ErrNotStreaming
		}
		if len(c.ring) > 0 {
			break
		}
		if policy == driver.Poll {
			return nil, nil
		}
		c.bus.cond.Wait()
	}

	f := c.ring[0]
	c.ring[0] = nil
	c.ring = c.ring[1:]
	f.FramesBehind = len(c.ring)
	c.outstanding++
	return f, nil
}

func (c *Camera) Requeue(f *driver.Frame) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.failing(OpRequeue); err != nil {
		return err
	}
	if f == nil || !c.streaming {
		return nil
	}
	if c.outstanding > 0 {
		c.outstanding--
	}
	c.free = append(c.free, f.Data[:cap(f.Data)])
	f.Data, f.Trailer = nil, nil
	return nil
}

// Pending is the number of filled buffers waiting to be dequeued.
func (c *Camera) Pending() int {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return len(c.ring)
}

func (c *Camera) SupportsTrigger() bool { return c.spec.Trigger }

func (c *Camera) SetTriggerMode(mode driver.TriggerMode) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if !c.spec.Trigger {
		return driver.ErrUnsupported
	}
	c.triggerMode = mode
	return nil
}

func (c *Camera) SetTriggerPower(on bool) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if !c.spec.Trigger {
		return driver.ErrUnsupported
	}
	if err := c.failing(OpSetTriggerPower); err != nil {
		return err
	}
	c.triggerPower = on
	return nil
}

func (c *Camera) SetTriggerSource(src driver.TriggerSource) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if !c.spec.Trigger {
		return driver.ErrUnsupported
	}
	c.triggerSource = src
	return nil
}

func (c *Camera) SetTriggerPolarity(p driver.TriggerPolarity) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if !c.spec.Trigger {
		return driver.ErrUnsupported
	}
	c.triggerPolarity = p
	return nil
}

// Trigger returns the trigger configuration.
func (c *Camera) Trigger() (driver.TriggerMode, driver.TriggerSource, driver.TriggerPolarity) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.triggerMode, c.triggerSource, c.triggerPolarity
}

func (c *Camera) SetPower(on bool) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.failing(OpSetPower); err != nil {
		return err
	}
	c.powered = on
	if on {
		c.powerUps++
	}
	if !on {
		c.transmitting = false
	}
	return nil
}

func (c *Camera) Reset() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if err := c.failing(OpReset); err != nil {
		return err
	}
	c.resets++
	c.transmitting = false
	c.broadcast = false
	c.triggerPower = false
	c.smart = driver.SmartFeatures{}
	c.features = defaultFeatures()
	return nil
}

func (c *Camera) QueryBandwidth() (int, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return 0, err
	}
	used := 0
	for _, o := range c.bus.cams {
		if !o.live() {
			continue
		}
		used += o.bytesPerCycle()
	}
	return used, nil
}

func (c *Camera) bytesPerCycle() int {
	if c.mode.Extended {
		return c.packets[c.mode.ID]
	}
	w, h := c.frameSize()
	n := float64(c.mode.Coding.FrameSize(w, h)) * c.fps * c.bus.speed.BusPeriod().Seconds()
	return int(math.Ceil(n))
}

func (c *Camera) QueryBusCycleTime() (uint32, time.Time, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.check(); err != nil {
		return 0, time.Time{}, err
	}
	return c.bus.cycleTimeLocked(), c.bus.clk.Now(), nil
}

func (c *Camera) NativeClock() time.Duration {
	return c.bus.clk.Since(c.bus.epoch)
}

func (c *Camera) Feature(f driver.Feature) (driver.FeatureState, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	st, ok := c.features[f]
	if !ok {
		return driver.FeatureState{}, driver.ErrUnsupported
	}
	st.Values = append([]float64(nil), st.Values...)
	return st, nil
}

func (c *Camera) SetFeature(f driver.Feature, values ...float64) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	st, ok := c.features[f]
	if !ok {
		return driver.ErrUnsupported
	}
	if len(values) != len(st.Values) {
		return fmt.Errorf("%s takes %d values, got %d", f, len(st.Values), len(values))
	}
	for _, v := range values {
		if v < st.Min || v > st.Max {
			return fmt.Errorf("%s value %v outside [%v, %v]", f, v, st.Min, st.Max)
		}
	}
	st.Values = append([]float64(nil), values...)
	st.Auto = false
	c.features[f] = st
	return nil
}

func (c *Camera) SetFeatureAuto(f driver.Feature) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	st, ok := c.features[f]
	if !ok {
		return driver.ErrUnsupported
	}
	st.Auto = true
	c.features[f] = st
	return nil
}

func (c *Camera) SmartFeatures() driver.SmartFeatures { return c.spec.Smart }

func (c *Camera) EnableSmartFeatures(sff driver.SmartFeatures) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	sup := c.spec.Smart
	if (sff.FrameCounter && !sup.FrameCounter) || (sff.CycleTime && !sup.CycleTime) || (sff.Checksum && !sup.Checksum) {
		return driver.ErrUnsupported
	}
	c.smart = sff
	return nil
}

func (c *Camera) SetGPIO(pin int, on bool) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if pin < 0 || pin >= numGPIO {
		return fmt.Errorf("gpio pin %d out of range", pin)
	}
	c.gpio[pin] = on
	return nil
}

// GPIO reports the state of an output pin.
func (c *Camera) GPIO(pin int) bool {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return pin >= 0 && pin < numGPIO && c.gpio[pin]
}
