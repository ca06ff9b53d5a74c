package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/utils/ps"
)

// Session states and events.
const (
	StateIdle     = "idle"
	StateArmed    = "armed"
	StateRunning  = "running"
	StateStopping = "stopping"

	eventArm      = "arm"
	eventRun      = "run"
	eventStop     = "stop"
	eventFinish   = "finish"
	eventRollback = "rollback"
)

func newSession(handle int) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventArm, Src: []string{StateIdle}, Dst: StateArmed},
			{Name: eventRun, Src: []string{StateArmed}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateArmed, StateRunning}, Dst: StateStopping},
			{Name: eventFinish, Src: []string{StateStopping}, Dst: StateIdle},
			{Name: eventRollback, Src: []string{StateArmed, StateRunning, StateStopping}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("device %d: session %s -> %s", handle, e.Src, e.Dst)
			},
		},
	)
}

func (d *Device) transition(event string) {
	if err := d.session.Event(context.Background(), event); err != nil {
		logger.Debugf("device %d: session event %s: %s", d.handle, event, err)
	}
}

// StartCapture starts streaming. A slave is armed and waits for its master;
// a master starts itself and every armed slave it serves. It returns the
// framerate in effect.
func (e *Engine) StartCapture(handle int, so StartOptions) (float64, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	d, err := e.reg.Get(handle)
	if err != nil {
		return 0, err
	}
	if err = d.prepare(so); err != nil {
		return 0, err
	}

	d.mu.Lock()
	mode := d.syncMode
	d.mu.Unlock()
	if mode.Role == RoleSlave {
		err = e.armSlave(d)
	} else {
		err = e.startMaster(d, so.StartAt)
	}
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framerate, nil
}

// prepare validates the start request and applies configuration. Nothing
// is streaming yet, so a failure leaves the device as it was.
func (d *Device) prepare(so StartOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return ErrDeviceClosed
	case d.grabberActive:
		return fmt.Errorf("%w: device %d", ErrAlreadyActive, d.handle)
	case d.syncMode.Strategy.Has(StrategyHardware) && !d.cam.SupportsTrigger():
		return fmt.Errorf("%w: device %d", ErrTriggerUnsupported, d.handle)
	}

	prev := d.req
	if so.Framerate != 0 {
		fps := so.Framerate
		if fps == MaxRate {
			fps = 0
		}
		if fps != d.req.Framerate {
			d.req.Framerate = fps
			d.renegotiate = true
		}
	}
	if d.renegotiate {
		if err := d.negotiate(); err != nil {
			d.req = prev
			return err
		}
		logger.Infof("device %d: renegotiated: %s", d.handle, d.neg)
	}
	if err := d.setupConverterLocked(); err != nil {
		return err
	}
	d.dropFrames, d.async = so.DropFrames, so.Async
	return nil
}

// arm allocates the DMA ring and starts the capture loop. Frames arrive
// once transmission is switched on. On error nothing is left streaming.
func (d *Device) arm() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	want := driver.SmartFeatures{
		FrameCounter: d.useHWCounter,
		CycleTime:    d.useBusTS,
		Checksum:     d.validateChecksum,
	}
	sup := d.cam.SmartFeatures()
	want.FrameCounter = want.FrameCounter && sup.FrameCounter
	want.CycleTime = want.CycleTime && sup.CycleTime
	want.Checksum = want.Checksum && sup.Checksum
	if want.Any() {
		if err := d.cam.EnableSmartFeatures(want); err != nil {
			logger.Warnf("device %d: smart features: %s", d.handle, err)
			want = driver.SmartFeatures{}
		}
	}
	d.smart = want

	if err := d.cam.StartStream(d.numBuffers); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	if d.syncMode.Role == RoleSlave && d.syncMode.Strategy == StrategyHardware {
		err := d.cam.SetTriggerMode(d.trigger.mode)
		if err == nil {
			err = d.cam.SetTriggerPower(true)
		}
		if err != nil {
			return multierr.Append(fmt.Errorf("enable trigger: %w", err), d.cam.StopStream())
		}
	}
	if d.movieFile != "" {
		mov, err := d.movies.Create(movie.Spec{
			Path:     d.movieFile,
			Width:    d.neg.ROI.Width,
			Height:   d.neg.ROI.Height,
			FPS:      d.framerate,
			Layers:   d.neg.Layers,
			BitDepth: d.neg.BitDepth,
			Codec:    d.codec,
		})
		if err != nil {
			return multierr.Append(fmt.Errorf("create movie: %w", err), d.cam.StopStream())
		}
		d.mov, d.recording = mov, true
	}

	d.sink.Reset()
	d.latest = nil
	d.droppedSinceFetch = 0
	d.stopAt = d.userStopAt
	d.stopRequested = false
	d.lastErr = nil
	d.hwSynced = false
	d.ringPending = 0
	d.intervals.reset()
	d.state = loopRunning
	d.grabberActive = true
	d.transition(eventArm)

	d.done = nil
	if d.async {
		d.done = make(chan struct{})
		go d.record(d.done)
	}
	logger.Infof("device %d: armed, %d dma buffers, %s, drop frames %v, async %v",
		d.handle, d.numBuffers, d.syncMode, d.dropFrames, d.async)
	return nil
}

func (d *Device) setMaster(m *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.master = m
}

func (d *Device) mode() SyncMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncMode
}

func (e *Engine) armSlave(d *Device) error {
	if err := d.arm(); err != nil {
		return &SyncError{Step: "arm slave", RolledBack: []int{d.handle}, Err: err}
	}
	mode := d.mode()
	if mode.Strategy == StrategyHardware {
		if err := d.cam.SetTransmission(true); err != nil {
			return e.rollback("slave trigger stream-on", err, []*Device{d}, true)
		}
	}

	m := e.runningMaster(d, mode)
	if m == nil {
		logger.Infof("device %d: armed as %s, waiting for master", d.handle, mode)
		return nil
	}
	d.setMaster(m)
	if mode.Strategy != StrategyHardware {
		if err := d.cam.SetTransmission(true); err != nil {
			return e.rollback("late slave stream-on", err, []*Device{d}, true)
		}
	}
	d.transition(eventRun)
	logger.Infof("device %d: joined running master %d", d.handle, m.handle)
	return nil
}

func (e *Engine) startMaster(d *Device, startAt time.Time) error {
	mode := d.mode()
	synced := mode.Role == RoleMaster
	if err := d.arm(); err != nil {
		if synced {
			return &SyncError{Step: "arm master", RolledBack: []int{d.handle}, Err: err}
		}
		return err
	}

	var slaves []*Device
	if synced {
		slaves = e.armedSlaves(d, mode)
	}
	group := append([]*Device{d}, slaves...)
	for _, s := range slaves {
		s.setMaster(d)
	}

	if !startAt.IsZero() {
		if wait := startAt.Sub(d.clk.Now()); wait > 0 {
			logger.Infof("device %d: waiting %s until start time", d.handle, wait)
			d.clk.Sleep(wait)
		}
	}

	if step, err := streamOn(d, mode, slaves); err != nil {
		return e.rollback(step, err, group, synced)
	}
	for _, g := range group {
		g.transition(eventRun)
	}
	if synced {
		logger.Infof("device %d: running as %s with %d slaves", d.handle, mode, len(slaves))
	}
	return nil
}

// streamOn switches transmission on for a master and the slaves it drives
// directly. It returns the failed step on error.
func streamOn(m *Device, mode SyncMode, slaves []*Device) (string, error) {
	if mode.Role == RoleMaster && mode.Strategy.Has(StrategyBus) {
		if err := m.cam.SetBroadcast(true); err != nil {
			return "enable broadcast", err
		}
		err := m.cam.SetTransmission(true)
		if berr := m.cam.SetBroadcast(false); berr != nil && err == nil {
			return "disable broadcast", berr
		}
		if err != nil {
			return "broadcast stream-on", err
		}
	} else if err := m.cam.SetTransmission(true); err != nil {
		return "stream-on", err
	}

	for _, s := range slaves {
		if s.mode().Strategy != StrategySoft {
			continue
		}
		if err := s.cam.SetTransmission(true); err != nil {
			return fmt.Sprintf("stream-on slave %d", s.handle), err
		}
	}
	return "", nil
}

func streamOff(m *Device, slaves []*Device) error {
	var errs error
	mode := m.mode()
	if mode.Role == RoleMaster && mode.Strategy.Has(StrategyBus) {
		errs = multierr.Append(errs, m.cam.SetBroadcast(true))
		errs = multierr.Append(errs, m.cam.SetTransmission(false))
		errs = multierr.Append(errs, m.cam.SetBroadcast(false))
	} else {
		errs = multierr.Append(errs, m.cam.SetTransmission(false))
	}
	for _, s := range slaves {
		errs = multierr.Append(errs, s.cam.SetTransmission(false))
	}
	return errs
}

// armedSlaves lists active slaves that m serves and that have no master.
func (e *Engine) armedSlaves(m *Device, mode SyncMode) []*Device {
	var out []*Device
	for _, o := range e.reg.devices() {
		if o == m {
			continue
		}
		o.mu.Lock()
		ok := o.grabberActive && o.master == nil && mode.serves(o.syncMode)
		o.mu.Unlock()
		if ok {
			out = append(out, o)
		}
	}
	return out
}

func (e *Engine) slavesOf(m *Device) []*Device {
	var out []*Device
	for _, o := range e.reg.devices() {
		o.mu.Lock()
		ok := o.master == m && o.grabberActive
		o.mu.Unlock()
		if ok {
			out = append(out, o)
		}
	}
	return out
}

func (e *Engine) runningMaster(slave *Device, mode SyncMode) *Device {
	for _, o := range e.reg.devices() {
		if o == slave || o.session.Current() != StateRunning {
			continue
		}
		if o.mode().serves(mode) {
			return o
		}
	}
	return nil
}

// rollback returns every device of group to idle.
func (e *Engine) rollback(step string, cause error, group []*Device, synced bool) error {
	errs := cause
	handles := make([]int, 0, len(group))
	for _, g := range group {
		errs = multierr.Append(errs, g.abort())
		handles = append(handles, g.handle)
	}
	logger.Errorf("start failed at %s, rolled back devices %v: %s", step, handles, errs)
	if !synced {
		return fmt.Errorf("%s: %w", step, errs)
	}
	return &SyncError{Step: step, RolledBack: handles, Err: errs}
}

// abort ends the capture loop at once and releases the stream.
func (d *Device) abort() error {
	d.mu.Lock()
	if !d.grabberActive {
		d.mu.Unlock()
		return nil
	}
	d.stopRequested = true
	d.finishLocked(nil)
	done := d.done
	d.mu.Unlock()

	err := d.cam.SetTransmission(false)
	if errors.Is(err, driver.ErrNotStreaming) {
		err = nil
	}
	if done != nil {
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	err = multierr.Append(err, d.teardownLocked())
	d.sink.Reset()
	d.latest = nil
	d.state = loopIdle
	d.transition(eventRollback)
	return err
}

// teardownLocked releases the stream of a device whose loop has ended.
func (d *Device) teardownLocked() error {
	var errs error
	if d.syncMode.Role == RoleSlave && d.syncMode.Strategy == StrategyHardware {
		errs = multierr.Append(errs, d.cam.SetTriggerPower(false))
	}
	if err := d.cam.StopStream(); err != nil && !errors.Is(err, driver.ErrNotStreaming) {
		errs = multierr.Append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if d.mov != nil {
		if err := d.mov.Finalize(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("finalize movie: %w", err))
		}
		logger.Infof("device %d: recorded %d frames to %s", d.handle, d.mov.Frames(), d.movieFile)
		d.mov = nil
	}
	d.recording = false
	d.grabberActive = false
	d.master = nil
	d.done = nil
	return errs
}

// StopCapture stops a capture session and returns the device's dropped
// frame count. Stopping a master stops every slave it drives, and all of
// them end on the same frame count.
func (e *Engine) StopCapture(handle int) (int64, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	d, err := e.reg.Get(handle)
	if err != nil {
		return 0, err
	}
	return e.stopLocked(d)
}

func (e *Engine) stopLocked(d *Device) (int64, error) {
	if !d.active() {
		return 0, fmt.Errorf("%w: device %d", ErrNotActive, d.handle)
	}
	group := []*Device{d}
	if d.mode().Role == RoleMaster {
		group = append(group, e.slavesOf(d)...)
	}
	for _, g := range group {
		g.transition(eventStop)
	}

	errs := streamOff(d, group[1:])
	target := d.requestStop(nil)
	for _, s := range group[1:] {
		s.requestStop(&target)
	}
	for _, g := range group {
		g.join()
	}

	var dropped int64
	for _, g := range group {
		g.mu.Lock()
		errs = multierr.Append(errs, g.teardownLocked())
		g.logSummaryLocked()
		if g == d {
			dropped = g.dropped
		}
		g.mu.Unlock()
		g.transition(eventFinish)
	}
	if cpu, err := ps.CPUStatus(); err == nil {
		logger.Infof("host cpu %.1f%% at capture stop", cpu.Percent)
	}
	return dropped, errs
}

// requestStop sets the frame count the loop stops at: the given target, or
// the frames completed plus those still queued. It returns the target in
// effect.
func (d *Device) requestStop(target *int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.frameCounter + int64(d.ringPendingLocked())
	if target != nil {
		t = *target
	}
	d.stopAt = d.stopAt.lower(t)
	d.stopRequested = true
	d.cond.Broadcast()
	logger.Debugf("device %d: stop requested at frame %s (now %d)", d.handle, d.stopAt, d.frameCounter)
	return d.stopAt.n
}

// join waits for the recorder to exit, or drains a synchronous session.
func (d *Device) join() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
		return
	}
	d.drain()
}

func (d *Device) logSummaryLocked() {
	mean, sd := d.intervals.summary()
	volume := uint64(d.intervals.frames) * uint64(d.neg.Mode.Coding.FrameSize(d.neg.ROI.Width, d.neg.ROI.Height))
	logger.Infof("device %d: stopped at frame %d, %d delivered, %d dropped, %d corrupt; interval %.3f ms (sd %.3f ms), processing %s per frame, %s transferred",
		d.handle, d.frameCounter, d.pulledFrameCounter, d.dropped, d.corrupt,
		mean*1e3, sd*1e3, d.intervals.meanProcessing(), humanize.Bytes(volume))
}
