package v4l2

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"iidc-capture/pkg/driver"
)

var pixelCodings = map[v4l2.FourCCType]driver.ColorCoding{
	v4l2.PixelFmtYUYV:  driver.YUV422,
	v4l2.PixelFmtRGB24: driver.RGB8,
	v4l2.PixelFmtGrey:  driver.Mono8,
}

var standardRates = []float64{7.5, 15, 30}

var processStart = time.Now()

type Camera struct {
	drv   *Driver
	index int
	path  string

	lock   sync.Mutex
	dev    *device.Device
	cancel context.CancelFunc
	closed bool

	modes    []driver.Mode
	formats  map[driver.ModeID]v4l2.FourCCType
	mode     *driver.Mode
	fps      float64
	buffers  int
	armed    bool
	settings map[v4l2.CtrlID]v4l2.CtrlValue
}

func newCamera(d *Driver, index int, path string) (*Camera, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	c := &Camera{
		drv:      d,
		index:    index,
		path:     path,
		dev:      dev,
		formats:  make(map[driver.ModeID]v4l2.FourCCType),
		settings: make(map[v4l2.CtrlID]v4l2.CtrlValue),
	}
	if err = c.loadModes(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return c, nil
}

// loadModes turns every discrete frame size of a supported pixel format
// into a standard mode.
func (c *Camera) loadModes() error {
	descs, err := c.dev.GetFormatDescriptions()
	if err != nil {
		return fmt.Errorf("%s: format descriptions: %w", c.path, err)
	}
	id := driver.ModeID(0)
	for _, desc := range descs {
		coding, ok := pixelCodings[desc.PixelFormat]
		if !ok {
			continue
		}
		sizes, err := v4l2.GetFormatFrameSizes(c.dev.Fd(), desc.PixelFormat)
		if err != nil {
			logger.Warnf("%s: frame sizes of %s: %s", c.path, desc.Description, err)
			continue
		}
		for _, size := range sizes {
			if size.Size.MinWidth != size.Size.MaxWidth || size.Size.MinHeight != size.Size.MaxHeight {
				continue
			}
			c.modes = append(c.modes, driver.Mode{
				ID:         id,
				Width:      int(size.Size.MaxWidth),
				Height:     int(size.Size.MaxHeight),
				Coding:     coding,
				YUYV:       coding == driver.YUV422,
				Framerates: standardRates,
			})
			c.formats[id] = desc.PixelFormat
			id++
		}
	}
	if len(c.modes) == 0 {
		return fmt.Errorf("%s: no uncompressed discrete frame sizes", c.path)
	}
	return nil
}

func (c *Camera) Info() driver.DeviceInfo {
	return driver.DeviceInfo{Index: c.index, Vendor: "V4L2", Model: c.path}
}

func (c *Camera) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return driver.ErrClosed
	}
	c.closed = true
	c.stop()
	var err error
	if c.dev != nil {
		err = c.dev.Close()
		c.dev = nil
	}
	c.drv.release(c.index)
	return err
}

func (c *Camera) SupportedModes() ([]driver.Mode, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]driver.Mode(nil), c.modes...), nil
}

func (c *Camera) SetMode(id driver.ModeID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cancel != nil {
		return driver.ErrStreaming
	}
	for i := range c.modes {
		if c.modes[i].ID == id {
			c.mode = &c.modes[i]
			c.fps = c.mode.Framerates[len(c.mode.Framerates)-1]
			return nil
		}
	}
	return fmt.Errorf("%w: %d", driver.ErrInvalidMode, id)
}

func (c *Camera) SetROI(driver.ModeID, driver.Rect) error { return driver.ErrUnsupported }

func (c *Camera) SetPacketSize(driver.ModeID, int) error { return driver.ErrUnsupported }

func (c *Camera) SetFramerate(fps float64) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.mode == nil {
		return fmt.Errorf("%w: no mode set", driver.ErrInvalidMode)
	}
	c.fps = fps
	if c.cancel != nil {
		return c.dev.SetFrameRate(uint32(math.Round(fps)))
	}
	return nil
}

func (c *Camera) ISOSpeed() driver.ISOSpeed { return driver.ISO400 }

func (c *Camera) SetISOSpeed(driver.ISOSpeed) error { return driver.ErrUnsupported }

// StartStream records the ring depth; the device is reopened with it when
// transmission starts.
func (c *Camera) StartStream(numBuffers int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.armed {
		return driver.ErrStreaming
	}
	if c.mode == nil {
		return fmt.Errorf("%w: no mode set", driver.ErrInvalidMode)
	}
	c.buffers = numBuffers
	c.armed = true
	return nil
}

func (c *Camera) StopStream() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stop()
	c.armed = false
	return c.reopen()
}

func (c *Camera) SetTransmission(on bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !on {
		c.stop()
		return c.reopen()
	}
	if !c.armed {
		return driver.ErrNotStreaming
	}
	if c.cancel != nil {
		return nil
	}
	return c.start()
}

func (c *Camera) start() error {
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
	logger.Infof("%s: start %dx%d %s at %.2f fps", c.path, c.mode.Width, c.mode.Height, c.mode.Coding, c.fps)
	dev, err := device.Open(
		c.path,
		device.WithBufferSize(uint32(c.buffers)),
		device.WithFPS(uint32(math.Round(c.fps))),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: c.formats[c.mode.ID],
			Width:       uint32(c.mode.Width),
			Height:      uint32(c.mode.Height),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		return err
	}
	c.dev = dev

	ctx, cancel := context.WithCancel(c.drv.ctx)
	if err = dev.Start(ctx); err != nil {
		cancel()
		return err
	}
	c.cancel = cancel
	c.applySettings()

	return nil
}

func (c *Camera) stop() {
	if c.cancel == nil {
		return
	}
	// go4vl stops the stream from its own goroutine once ctx is done.
	c.cancel()
	time.Sleep(100 * time.Millisecond)
	c.cancel = nil
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
}

func (c *Camera) reopen() error {
	if c.dev != nil || c.closed {
		return nil
	}
	dev, err := device.Open(c.path)
	if err != nil {
		return err
	}
	c.dev = dev
	c.applySettings()
	return nil
}

func (c *Camera) SetBroadcast(bool) error { return driver.ErrUnsupported }

func (c *Camera) Dequeue(policy driver.DequeuePolicy) (*driver.Frame, error) {
	c.lock.Lock()
	if c.cancel == nil || c.dev == nil {
		c.lock.Unlock()
		return nil, driver.ErrNotStreaming
	}
	out := c.dev.GetOutput()
	mode := *c.mode
	c.lock.Unlock()

	var (
		data []byte
		ok   bool
	)
	if policy == driver.Poll {
		select {
		case data, ok = <-out:
		default:
			return nil, nil
		}
	} else {
		data, ok = <-out
	}
	if !ok {
		return nil, driver.ErrNotStreaming
	}

	return &driver.Frame{
		Data:         data,
		Width:        mode.Width,
		Height:       mode.Height,
		Coding:       mode.Coding,
		FramesBehind: len(out),
	}, nil
}

// Requeue is a no-op: go4vl hands out copies of its mmap buffers.
func (c *Camera) Requeue(*driver.Frame) error { return nil }

func (c *Camera) SupportsTrigger() bool { return false }

func (c *Camera) SetTriggerMode(driver.TriggerMode) error { return driver.ErrUnsupported }

func (c *Camera) SetTriggerPower(bool) error { return driver.ErrUnsupported }

func (c *Camera) SetTriggerSource(driver.TriggerSource) error { return driver.ErrUnsupported }

func (c *Camera) SetTriggerPolarity(driver.TriggerPolarity) error { return driver.ErrUnsupported }

func (c *Camera) SetPower(bool) error { return nil }

func (c *Camera) Reset() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.settings = make(map[v4l2.CtrlID]v4l2.CtrlValue)
	return nil
}

func (c *Camera) QueryBandwidth() (int, error) { return 0, driver.ErrUnsupported }

func (c *Camera) QueryBusCycleTime() (uint32, time.Time, error) {
	return 0, time.Time{}, driver.ErrUnsupported
}

func (c *Camera) NativeClock() time.Duration { return time.Since(processStart) }

func (c *Camera) SmartFeatures() driver.SmartFeatures { return driver.SmartFeatures{} }

func (c *Camera) EnableSmartFeatures(sff driver.SmartFeatures) error {
	if sff.Any() {
		return driver.ErrUnsupported
	}
	return nil
}

func (c *Camera) SetGPIO(int, bool) error { return driver.ErrUnsupported }
