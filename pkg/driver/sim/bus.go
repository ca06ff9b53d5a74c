// Package sim is an in-process IIDC bus with cameras that produce frames
// on demand. Tick delivers one frame to every transmitting camera under a
// single lock, which makes multi-camera sessions reproducible in tests.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/timestamp"
)

type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	clk         clock.Clock
	epoch       time.Time
	cycleOffset time.Duration
	speed       driver.ISOSpeed

	cams []*Camera
}

type Option func(*Bus)

func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clk = c }
}

func WithISOSpeed(s driver.ISOSpeed) Option {
	return func(b *Bus) { b.speed = s }
}

// WithCycleOffset shifts the cycle-time register relative to the bus clock.
func WithCycleOffset(d time.Duration) Option {
	return func(b *Bus) { b.cycleOffset = d }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		clk:   clock.New(),
		speed: driver.ISO400,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cond = sync.NewCond(&b.mu)
	b.epoch = b.clk.Now()

	return b
}

// Add attaches a camera and returns it.
func (b *Bus) Add(spec Spec) *Camera {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := newCamera(b, len(b.cams), spec)
	b.cams = append(b.cams, c)
	return c
}

// Camera returns the camera at index, or nil.
func (b *Bus) Camera(index int) *Camera {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.cams) {
		return nil
	}
	return b.cams[index]
}

func (b *Bus) Enumerate() ([]driver.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]driver.DeviceInfo, 0, len(b.cams))
	for _, c := range b.cams {
		infos = append(infos, c.info)
	}
	return infos, nil
}

func (b *Bus) Open(index int) (driver.Camera, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.cams) {
		return nil, fmt.Errorf("%w: index %d", driver.ErrNoDevice, index)
	}
	c := b.cams[index]
	if c.opened {
		return nil, fmt.Errorf("camera %d: already open", index)
	}
	c.opened = true
	return c, nil
}

// Tick runs one frame period: every transmitting camera captures a frame,
// triggered cameras only when some untriggered camera transmits. It returns
// the number of frames captured.
func (b *Bus) Tick() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	emitting := false
	for _, c := range b.cams {
		if c.live() && !c.triggerPower {
			emitting = true
			break
		}
	}

	now := b.clk.Since(b.epoch)
	cycle := b.cycleTimeLocked()
	n := 0
	for _, c := range b.cams {
		if !c.live() || (c.triggerPower && !emitting) {
			continue
		}
		if c.capture(cycle, now) {
			n++
		}
	}
	b.cond.Broadcast()

	return n
}

// Run ticks the bus every period until ctx is done.
func (b *Bus) Run(ctx context.Context, period time.Duration) {
	t := b.clk.Ticker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Tick()
		}
	}
}

// CycleTime samples the cycle-time register.
func (b *Bus) CycleTime() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycleTimeLocked()
}

func (b *Bus) cycleTimeLocked() uint32 {
	return timestamp.CycleTimeAt(b.clk.Since(b.epoch) + b.cycleOffset).Encode()
}
