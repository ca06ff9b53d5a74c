// Package capture runs IIDC capture sessions: it opens cameras through a
// driver, negotiates their modes, runs one capture loop per device and
// coordinates synchronized multi-camera starts and stops.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/plugin"
	"iidc-capture/pkg/timestamp"
	"iidc-capture/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type Engine struct {
	drv    driver.Driver
	opts   Options
	clk    clock.Clock
	movies movie.Writer
	reg    *Registry
	wall   *timestamp.Engine

	// syncMu serializes session transitions across devices.
	syncMu sync.Mutex
}

func New(drv driver.Driver, opts ...Option) *Engine {
	e := &Engine{
		drv:    drv,
		opts:   DefaultOptions(),
		clk:    clock.New(),
		movies: movie.MJPEGWriter{},
		reg:    NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wall = timestamp.New(nil, timestamp.WithClock(e.clk))
	return e
}

func (e *Engine) Options() Options { return e.opts }

// StartOptions returns start options carrying the engine defaults.
func (e *Engine) StartOptions() StartOptions {
	return StartOptions{DropFrames: e.opts.DropFrames, Async: e.opts.AsyncRecorder}
}

func (e *Engine) Enumerate() ([]driver.DeviceInfo, error) {
	return e.drv.Enumerate()
}

func (e *Engine) Handles() []int { return e.reg.Handles() }

func (e *Engine) Device(handle int) (*Device, error) { return e.reg.Get(handle) }

// SyncNTP queries server once and applies the offset to every device.
func (e *Engine) SyncNTP(ctx context.Context, server string) error {
	if err := e.wall.SyncNTP(ctx, server); err != nil {
		return err
	}
	off := e.wall.Offset()
	for _, d := range e.reg.devices() {
		d.ts.SetOffset(off)
	}
	return nil
}

// OpenDevice opens a camera and negotiates a mode for it, then powers it up,
// resets it and programs the mode. A request no mode can satisfy leaves
// nothing open and the camera never powered.
func (e *Engine) OpenDevice(o OpenOptions) (int, error) {
	cam, err := e.drv.Open(o.DeviceIndex)
	if err != nil {
		return -1, fmt.Errorf("open camera %d: %w", o.DeviceIndex, err)
	}

	d := newDevice(cam, e.opts, e.clk)
	d.ts.SetOffset(e.wall.Offset())
	conv := e.opts.Conversion
	if o.Conversion != nil {
		conv = *o.Conversion
	}
	fps := o.Framerate
	if fps == MaxRate {
		fps = 0
	}
	d.req = negotiate.Request{
		Layers:         o.Layers,
		BitDepth:       o.BitDepth,
		ROI:            o.ROI,
		Framerate:      fps,
		Conversion:     conv,
		PreferExtended: o.PreferExtended,
	}
	d.numBuffers = o.NumDMABuffers
	if d.numBuffers <= 0 {
		d.numBuffers = e.opts.NumDMABuffers
	}
	d.movieFile, d.codec, d.recordOnly = o.MovieFile, o.Codec, o.RecordOnly && o.MovieFile != ""
	d.movies = e.movies
	d.sink = movie.NewSink(d.maxQueued)

	res, err := negotiate.Negotiate(cam, d.req)
	if err != nil {
		return -1, multierr.Append(err, cam.Close())
	}
	if err = cam.SetPower(true); err != nil {
		logger.Warnf("camera %d: power up: %s", o.DeviceIndex, err)
	}
	if err = cam.Reset(); err != nil {
		logger.Warnf("camera %d: reset: %s", o.DeviceIndex, err)
	}
	if err = d.program(res); err != nil {
		return -1, multierr.Append(err, release(cam))
	}
	if o.Tracker != "" {
		if err = d.attachTracker(o.Tracker); err != nil {
			return -1, multierr.Append(err, release(cam))
		}
	}

	h := e.reg.add(d)
	d.session = newSession(h)
	logger.Infof("device %d: opened %s %s (guid %x): %s", h, d.info.Vendor, d.info.Model, d.info.GUID, d.neg)
	return h, nil
}

// release powers a camera down and closes it.
func release(cam driver.Camera) error {
	if err := cam.SetPower(false); err != nil {
		logger.Warnf("camera %d: power down: %s", cam.Info().Index, err)
	}
	return cam.Close()
}

// negotiate selects and programs a mode for d.req.
func (d *Device) negotiate() error {
	res, err := negotiate.Negotiate(d.cam, d.req)
	if err != nil {
		return err
	}
	return d.program(res)
}

func (d *Device) program(res negotiate.Result) error {
	if err := negotiate.Apply(d.cam, res); err != nil {
		return fmt.Errorf("program mode: %w", err)
	}
	d.neg = res
	d.framerate = res.Framerate
	d.renegotiate = false
	return nil
}

func (d *Device) attachTracker(name string) error {
	t, err := plugin.New(name)
	if err != nil {
		return err
	}
	if err = t.Initialize(); err != nil {
		return fmt.Errorf("tracker %s: %w", name, err)
	}
	d.tracker, d.trackerName = t, name
	return nil
}

// CloseDevice stops any capture on the device, joins its recorder and
// releases the camera. Closing a master stops its whole group.
func (e *Engine) CloseDevice(handle int) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	d, err := e.reg.Get(handle)
	if err != nil {
		return err
	}
	var errs error
	if d.active() {
		_, err = e.stopLocked(d)
		errs = multierr.Append(errs, err)
	}
	for _, o := range e.reg.devices() {
		o.mu.Lock()
		if o.master == d {
			o.master = nil
		}
		o.mu.Unlock()
	}

	d.mu.Lock()
	d.closed = true
	d.latest, d.fetched = nil, nil
	d.sink.Reset()
	d.conv = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	if d.tracker != nil {
		errs = multierr.Append(errs, d.tracker.Shutdown())
	}
	errs = multierr.Append(errs, release(d.cam))
	if _, err = e.reg.remove(handle); err != nil {
		errs = multierr.Append(errs, err)
	}
	logger.Infof("device %d: closed", handle)
	return errs
}

// Close closes every open device.
func (e *Engine) Close() error {
	var errs error
	for _, h := range e.reg.Handles() {
		if err := e.CloseDevice(h); err != nil && !errors.Is(err, ErrInvalidHandle) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (d *Device) active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabberActive
}

// Fetch returns the next frame of a capture session: the newest one when
// frames are dropped, otherwise the oldest not yet delivered.
func (e *Engine) Fetch(handle int, mode FetchMode) (*Delivered, error) {
	d, err := e.reg.Get(handle)
	if err != nil {
		return nil, err
	}
	return d.fetch(mode)
}

// Latest hands out a copy of the most recently fetched frame.
func (e *Engine) Latest(handle int) (Texture, error) {
	d, err := e.reg.Get(handle)
	if err != nil {
		return Texture{}, err
	}
	return d.latestTexture()
}

func (e *Engine) Stats(handle int) (DeviceStats, error) {
	d, err := e.reg.Get(handle)
	if err != nil {
		return DeviceStats{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked(), nil
}
