package capture

import (
	"fmt"
	"math"
	"time"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/plugin"
	"iidc-capture/pkg/preprocess"
	"iidc-capture/pkg/timestamp"
)

type stepResult int

const (
	stepFrame stepResult = iota
	stepNoFrame
	// stepBlocked: the no-drop queue is full and the client has to fetch.
	stepBlocked
	// stepWaiting: a lock-stepped slave is waiting for its master.
	stepWaiting
	stepTerminated
)

// precheckLocked covers the conditions under which an iteration must not
// dequeue.
func (d *Device) precheckLocked() (stepResult, bool) {
	switch {
	case d.closed || d.state != loopRunning:
		return stepTerminated, false
	case d.stopAt.reached(d.frameCounter):
		d.finishLocked(nil)
		return stepTerminated, false
	case !d.dropFrames && !d.stopRequested && !d.recordOnly && d.sink.Full():
		return stepBlocked, false
	}
	return stepFrame, true
}

// lockstepMasterLocked returns the master this device must not run ahead of.
func (d *Device) lockstepMasterLocked() *Device {
	if d.syncMode.Role != RoleSlave || !d.syncMode.Lockstep {
		return nil
	}
	return d.master
}

// step runs one iteration of the capture loop.
func (d *Device) step() stepResult {
	d.mu.Lock()
	if res, ok := d.precheckLocked(); !ok {
		d.mu.Unlock()
		return res
	}
	master, count, stopping := d.lockstepMasterLocked(), d.frameCounter, d.stopRequested
	d.mu.Unlock()

	ahead := int64(math.MaxInt64)
	if master != nil {
		var ms loopState
		ahead, ms = master.waitAhead(count, d.lockstepTimeout)
		if ahead <= 0 {
			if ms == loopRunning || (ms == loopIdle && !stopping) {
				return stepWaiting
			}
			d.mu.Lock()
			defer d.mu.Unlock()
			logger.Infof("device %d: master %d completed frame %d, stopping in lock-step", d.handle, master.handle, count)
			d.finishLocked(nil)
			return stepTerminated
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if res, ok := d.precheckLocked(); !ok {
		return res
	}
	return d.captureLocked(ahead)
}

// captureLocked dequeues, processes and publishes one frame. At most ahead
// frames are consumed.
func (d *Device) captureLocked(ahead int64) stepResult {
	start := d.clk.Now()

	f, err := d.cam.Dequeue(driver.Poll)
	if err != nil {
		d.finishLocked(fmt.Errorf("dequeue: %w", err))
		return stepTerminated
	}
	if f == nil {
		d.ringPending = 0
		if d.stopRequested {
			d.finishLocked(nil)
			return stepTerminated
		}
		return stepNoFrame
	}

	budget := ahead - 1
	if d.stopAt.set {
		budget = min(budget, d.stopAt.n-d.frameCounter-1)
	}
	var discarded int64
	if d.dropFrames {
		for f.FramesBehind > 0 && discarded < budget {
			if err := d.cam.Requeue(f); err != nil {
				d.finishLocked(fmt.Errorf("requeue: %w", err))
				return stepTerminated
			}
			discarded++
			if f, err = d.cam.Dequeue(driver.Poll); err != nil {
				d.finishLocked(fmt.Errorf("dequeue: %w", err))
				return stepTerminated
			}
			if f == nil {
				d.frameCounter += discarded
				d.addDropsLocked(discarded)
				d.ringPending = 0
				d.cond.Broadcast()
				return stepNoFrame
			}
		}
	}
	d.ringPending = f.FramesBehind
	d.addDropsLocked(discarded)

	trailer, hasTrailer := decodeTrailer(f)
	d.advanceLocked(1+discarded, trailer, hasTrailer)

	in := timestamp.Input{LoopStart: start}
	if hasTrailer && d.useBusTS && d.smart.CycleTime {
		in.HasCycleTime, in.CycleTime = true, trailer.CycleTime
	}
	if f.HasTimestamp {
		in.HasDriverTimestamp, in.DriverTimestamp = true, f.Timestamp
	}
	d.currentPts, d.tsSource = d.ts.Stamp(in)

	if d.validateChecksum && hasTrailer && d.smart.Checksum {
		if ok, err := preprocess.ValidateChecksum(f); err == nil && !ok {
			d.checksumErrors++
			d.corrupt++
			d.warnf("checksum mismatch on frame %d", d.frameCounter)
			if d.corruptPolicy == DropCorrupt {
				d.addDropsLocked(1)
				d.cond.Broadcast()
				return d.requeueLocked(f, stepFrame)
			}
		}
	}

	img, err := d.conv.Process(f)
	if err != nil {
		d.corrupt++
		d.requeueLocked(f, stepTerminated)
		d.finishLocked(fmt.Errorf("%w: %v", ErrCorruptFrame, err))
		return stepTerminated
	}

	if d.tracker != nil {
		view := plugin.FrameView{
			Data:     img.Data[:img.Size()],
			Width:    img.Width,
			Height:   img.Height,
			Layers:   img.Layers,
			BitDepth: img.BitDepth,
			ROILeft:  d.neg.ROI.Left,
			ROITop:   d.neg.ROI.Top,
			Index:    d.frameCounter,
			PTS:      d.currentPts,
		}
		if _, err := d.tracker.ProcessFrame(view); err != nil {
			d.pluginErrors++
			d.warnf("tracker %s: %s", d.trackerName, err)
		}
	}

	if d.recording {
		if err := d.mov.PushFrame(img.Data[:img.Size()], d.currentPts); err != nil {
			d.recordErrors++
			d.warnf("record frame %d: %s", d.frameCounter, err)
		}
	}

	if !d.recordOnly {
		d.publishLocked(img)
	}
	d.intervals.observe(d.currentPts, d.clk.Since(start))

	d.cond.Broadcast()
	return d.requeueLocked(f, stepFrame)
}

func decodeTrailer(f *driver.Frame) (driver.Trailer, bool) {
	if len(f.Trailer) < driver.TrailerSize {
		return driver.Trailer{}, false
	}
	t, err := driver.DecodeTrailer(f.Trailer)
	return t, err == nil
}

// advanceLocked moves frameCounter forward by n, or to the camera's own
// frame counter when that is enabled and ahead.
func (d *Device) advanceLocked(n int64, t driver.Trailer, ok bool) {
	next := d.frameCounter + n
	if d.useHWCounter && ok && d.smart.FrameCounter {
		hw := int64(t.FrameCounter)
		if !d.hwSynced {
			d.hwOffset = hw - next
			d.hwSynced = true
		}
		if c := hw - d.hwOffset; c > next {
			d.addDropsLocked(c - next)
			next = c
		}
	}
	d.frameCounter = next
}

func (d *Device) publishLocked(img preprocess.Image) {
	e := movie.Entry{Image: img.Clone(), PTS: d.currentPts, Index: d.frameCounter}
	if d.dropFrames {
		if d.latest != nil {
			d.addDropsLocked(1)
		}
		d.latest = &e
		return
	}
	if !d.sink.Push(e) {
		d.addDropsLocked(1)
	}
}

func (d *Device) requeueLocked(f *driver.Frame, res stepResult) stepResult {
	if err := d.cam.Requeue(f); err != nil {
		d.finishLocked(fmt.Errorf("requeue: %w", err))
		return stepTerminated
	}
	return res
}

// record is the recorder goroutine of an async capture session.
func (d *Device) record(done chan struct{}) {
	defer close(done)
	logger.Debugf("device %d: recorder started", d.handle)

	for {
		switch d.step() {
		case stepTerminated:
			logger.Debugf("device %d: recorder exited", d.handle)
			return
		case stepNoFrame, stepBlocked:
			time.Sleep(d.pollInterval)
		}
	}
}

// drain runs the loop inline until it terminates; used to stop a
// synchronous session.
func (d *Device) drain() {
	for {
		switch d.step() {
		case stepTerminated:
			return
		case stepNoFrame, stepBlocked:
			time.Sleep(d.pollInterval)
		}
	}
}
