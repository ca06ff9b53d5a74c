package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"golang.org/x/time/rate"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/plugin"
	"iidc-capture/pkg/preprocess"
	"iidc-capture/pkg/timestamp"
)

type loopState int

const (
	loopIdle loopState = iota
	loopRunning
	loopTerminated
)

func (s loopState) String() string {
	switch s {
	case loopRunning:
		return "running"
	case loopTerminated:
		return "terminated"
	}
	return "idle"
}

// limit is an optional frame count.
type limit struct {
	n   int64
	set bool
}

func (l limit) reached(count int64) bool { return l.set && count >= l.n }

// lower returns the smaller of l and n.
func (l limit) lower(n int64) limit {
	if l.set && l.n <= n {
		return l
	}
	return limit{n: n, set: true}
}

func (l limit) String() string {
	if !l.set {
		return "unbounded"
	}
	return fmt.Sprint(l.n)
}

// pendingReporter is implemented by drivers that can count filled buffers
// without dequeuing them.
type pendingReporter interface {
	Pending() int
}

// Device is one open camera. All fields below mu are guarded by it; cond is
// signalled after every published frame and on every state change.
type Device struct {
	handle int
	cam    driver.Camera
	info   driver.DeviceInfo
	ts     *timestamp.Engine
	clk    clock.Clock

	mu   sync.Mutex
	cond *sync.Cond

	closed bool

	req         negotiate.Request
	neg         negotiate.Result
	renegotiate bool
	framerate   float64
	numBuffers  int
	conv        *preprocess.Converter
	debayer     preprocess.DebayerMethod
	override    driver.BayerPattern

	dropFrames      bool
	async           bool
	corruptPolicy   CorruptPolicy
	lockstepTimeout time.Duration
	fetchTimeout    time.Duration
	pollInterval    time.Duration
	maxQueued       int

	syncMode SyncMode
	master   *Device
	session  *fsm.FSM

	trigger struct {
		mode     driver.TriggerMode
		source   driver.TriggerSource
		polarity driver.TriggerPolarity
	}
	isoSpeed driver.ISOSpeed

	state         loopState
	grabberActive bool
	stopRequested bool
	stopAt        limit
	userStopAt    limit
	lastErr       error
	done          chan struct{}

	frameCounter       int64
	pulledFrameCounter int64
	ringPending        int
	currentPts         float64
	pulledPts          float64
	tsSource           timestamp.Source

	useBusTS         bool
	useHWCounter     bool
	validateChecksum bool
	smart            driver.SmartFeatures
	hwOffset         int64
	hwSynced         bool

	recordOnly bool
	recording  bool
	movieFile  string
	codec      string
	movies     movie.Writer
	mov        movie.Movie

	sink              *movie.Sink
	latest            *movie.Entry
	fetched           *movie.Entry
	droppedSinceFetch int64

	dropped        int64
	corrupt        int64
	checksumErrors int64
	pluginErrors   int64
	recordErrors   int64

	tracker     plugin.Tracker
	trackerName string

	intervals intervals
	warn      *rate.Limiter
}

func newDevice(cam driver.Camera, opts Options, clk clock.Clock) *Device {
	d := &Device{
		cam:              cam,
		info:             cam.Info(),
		clk:              clk,
		ts:               timestamp.New(cam, timestamp.WithClock(clk)),
		dropFrames:       opts.DropFrames,
		async:            opts.AsyncRecorder,
		corruptPolicy:    opts.CorruptFramePolicy,
		lockstepTimeout:  opts.LockstepTimeout,
		fetchTimeout:     opts.FetchTimeout,
		pollInterval:     opts.PollInterval,
		maxQueued:        opts.MaxQueuedFrames,
		debayer:          opts.DebayerMethod,
		useBusTS:         opts.UseBusTimestamps,
		useHWCounter:     opts.UseHardwareFrameCounter,
		validateChecksum: opts.ValidateChecksum,
		isoSpeed:         cam.ISOSpeed(),
		warn:             rate.NewLimiter(rate.Every(time.Second), 5),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Device) Handle() int { return d.handle }

func (d *Device) Info() driver.DeviceInfo { return d.info }

// warnf logs at most a few warnings per second per device.
func (d *Device) warnf(format string, args ...interface{}) {
	if d.warn.Allow() {
		logger.Warnf("device %d: "+format, append([]interface{}{d.handle}, args...)...)
	}
}

func (d *Device) addDropsLocked(n int64) {
	d.dropped += n
	d.droppedSinceFetch += n
}

func (d *Device) ringPendingLocked() int {
	if pr, ok := d.cam.(pendingReporter); ok {
		return pr.Pending()
	}
	return d.ringPending
}

// availableLocked counts frames a fetch could return right now.
func (d *Device) availableLocked() int {
	if d.dropFrames {
		if d.latest != nil {
			return 1
		}
		return 0
	}
	if d.sink == nil {
		return 0
	}
	return d.sink.Len()
}

// pendingLocked is what the client sees as the pending frame count: frames
// held for pickup plus frames still in the driver ring.
func (d *Device) pendingLocked() int {
	n := d.ringPendingLocked()
	if !d.dropFrames && d.sink != nil {
		n += d.sink.Len()
	}
	return n
}

func (d *Device) finishLocked(err error) {
	if d.state == loopTerminated {
		return
	}
	d.state = loopTerminated
	if err != nil {
		d.lastErr = err
		logger.Errorf("device %d: capture loop terminated: %s", d.handle, err)
	} else {
		logger.Debugf("device %d: capture loop finished at frame %d", d.handle, d.frameCounter)
	}
	d.cond.Broadcast()
}

func (d *Device) terminatedErrLocked() error {
	if d.lastErr != nil {
		return fmt.Errorf("%w: %v", ErrTerminated, d.lastErr)
	}
	return ErrTerminated
}

// waitLocked waits on d.cond until ok holds or deadline passes and reports
// whether ok held. d.mu must be held.
func (d *Device) waitLocked(deadline time.Time, ok func() bool) bool {
	t := time.AfterFunc(time.Until(deadline), func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer t.Stop()

	for !ok() {
		if !time.Now().Before(deadline) {
			return false
		}
		d.cond.Wait()
	}
	return true
}

// waitAhead waits until this device, as a lock-step master, has completed
// more than count frames. It returns how far ahead the master is and the
// state of its loop; a closed master reports loopTerminated.
func (d *Device) waitAhead(count int64, timeout time.Duration) (int64, loopState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.waitLocked(time.Now().Add(timeout), func() bool {
		return d.frameCounter > count || d.closed || d.state == loopTerminated
	})
	if d.closed {
		return d.frameCounter - count, loopTerminated
	}
	return d.frameCounter - count, d.state
}

func (d *Device) setupConverterLocked() error {
	conv, err := preprocess.Setup(preprocess.Config{
		Width:    d.neg.ROI.Width,
		Height:   d.neg.ROI.Height,
		Coding:   d.neg.Mode.Coding,
		YUYV:     d.neg.Mode.YUYV,
		Pattern:  d.neg.Mode.Pattern,
		Override: d.override,
		Extended: d.neg.Mode.Extended,
		Layers:   d.neg.Layers,
		BitDepth: d.neg.BitDepth,
		Method:   d.debayer,
	})
	if err != nil {
		return err
	}
	d.conv = conv
	return nil
}
