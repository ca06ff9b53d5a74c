package timestamp

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"iidc-capture/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

const (
	DefaultMaxSkew     = 20 * time.Microsecond
	DefaultMaxAttempts = 100
)

// Source tells which clock a timestamp was derived from.
type Source int

const (
	SourceBusCycle Source = iota
	SourceDriver
	SourceLoopStart
)

func (s Source) String() string {
	switch s {
	case SourceBusCycle:
		return "bus-cycle"
	case SourceDriver:
		return "driver"
	}
	return "loop-start"
}

// BusClock is the part of a camera the engine samples.
type BusClock interface {
	QueryBusCycleTime() (uint32, time.Time, error)
	NativeClock() time.Duration
}

// Input describes what is known about one dequeued frame.
type Input struct {
	LoopStart time.Time

	HasCycleTime bool
	CycleTime    uint32

	HasDriverTimestamp bool
	DriverTimestamp    time.Duration
}

type Engine struct {
	bus         BusClock
	clk         clock.Clock
	maxSkew     time.Duration
	maxAttempts int

	mu        sync.Mutex
	ntpOffset time.Duration
	query     func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithMaxSkew bounds the time between the two wall-clock samples that
// bracket a native clock read during remapping.
func WithMaxSkew(d time.Duration) Option {
	return func(e *Engine) { e.maxSkew = d }
}

func New(bus BusClock, opts ...Option) *Engine {
	e := &Engine{
		bus:         bus,
		clk:         clock.New(),
		maxSkew:     DefaultMaxSkew,
		maxAttempts: DefaultMaxAttempts,
		query:       ntp.QueryWithOptions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Clock() clock.Clock { return e.clk }

// Now is the wall-clock time in seconds, NTP-corrected when synced.
func (e *Engine) Now() float64 {
	return e.seconds(e.clk.Now())
}

func (e *Engine) seconds(t time.Time) float64 {
	e.mu.Lock()
	off := e.ntpOffset
	e.mu.Unlock()
	return utils.TimeToSeconds(t.Add(off))
}

// SyncNTP queries server and applies its clock offset to every following
// timestamp.
func (e *Engine) SyncNTP(ctx context.Context, server string) error {
	opt := ntp.QueryOptions{Timeout: 5 * time.Second}
	if dl, ok := ctx.Deadline(); ok {
		opt.Timeout = time.Until(dl)
	}
	resp, err := e.query(server, opt)
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", server, err)
	}
	if err = resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s: %w", server, err)
	}
	e.mu.Lock()
	e.ntpOffset = resp.ClockOffset
	e.mu.Unlock()
	logger.Infof("ntp: clock offset %s from %s", resp.ClockOffset, server)

	return nil
}

// Offset is the NTP correction currently applied.
func (e *Engine) Offset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ntpOffset
}

// SetOffset applies a correction obtained elsewhere, e.g. by another engine's
// SyncNTP.
func (e *Engine) SetOffset(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ntpOffset = d
}

// Stamp returns the frame's capture time in wall-clock seconds and the
// source it came from. The result never lies more than one wrap period
// away from the current time.
func (e *Engine) Stamp(in Input) (float64, Source) {
	if in.HasCycleTime && e.bus != nil {
		if pts, ok := e.fromCycleTime(in.CycleTime); ok {
			return pts, SourceBusCycle
		}
	}
	if in.HasDriverTimestamp && e.bus != nil {
		if pts, ok := e.fromDriver(in.DriverTimestamp); ok {
			return pts, SourceDriver
		}
	}
	start := in.LoopStart
	if start.IsZero() {
		start = e.clk.Now()
	}
	return e.seconds(start), SourceLoopStart
}

func (e *Engine) fromCycleTime(v uint32) (float64, bool) {
	cur, now, err := e.bus.QueryBusCycleTime()
	if err != nil {
		logger.Debugf("timestamp: cycle time query failed: %s", err)
		return 0, false
	}
	age := Age(DecodeCycleTime(v), DecodeCycleTime(cur))
	return e.seconds(now) - age, true
}

func (e *Engine) fromDriver(ts time.Duration) (float64, bool) {
	var (
		before, after time.Time
		native        time.Duration
	)
	for i := 0; i < e.maxAttempts; i++ {
		before = e.clk.Now()
		native = e.bus.NativeClock()
		after = e.clk.Now()
		if after.Sub(before) <= e.maxSkew {
			break
		}
	}
	mid := before.Add(after.Sub(before) / 2)
	pts := e.seconds(mid.Add(ts - native))

	if math.Abs(pts-e.seconds(after)) >= WrapPeriod.Seconds() {
		return 0, false
	}
	return pts, true
}
