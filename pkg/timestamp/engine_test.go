package timestamp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/utils"
)

type fakeBus struct {
	clk    *clock.Mock
	cycle  uint32
	err    error
	native time.Duration
}

func (b *fakeBus) QueryBusCycleTime() (uint32, time.Time, error) {
	return b.cycle, b.clk.Now(), b.err
}

func (b *fakeBus) NativeClock() time.Duration { return b.native }

func newMock() *clock.Mock {
	m := clock.NewMock()
	m.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return m
}

func TestCycleTimeCodec(t *testing.T) {
	c := CycleTime{Seconds: 127, Cycles: 7999, Offset: 3071}
	assert.Equal(t, c, DecodeCycleTime(c.Encode()))
	assert.InDelta(t, 127+7999*125e-6+3071/24.576e6, c.Float(), 1e-9)

	at := CycleTimeAt(130*time.Second + 250*time.Microsecond)
	assert.Equal(t, uint32(2), at.Seconds)
	assert.Equal(t, uint32(2), at.Cycles)
	assert.Equal(t, uint32(0), at.Offset)
}

func TestAgeAcrossWrap(t *testing.T) {
	frame := CycleTimeAt(127 * time.Second)
	now := CycleTimeAt(129 * time.Second) // wrapped to 1s
	assert.InDelta(t, 2.0, Age(frame, now), 1e-9)
	assert.InDelta(t, 0.5, Age(CycleTimeAt(10*time.Second), CycleTimeAt(10500*time.Millisecond)), 1e-9)
}

func TestStampBusCycle(t *testing.T) {
	m := newMock()
	bus := &fakeBus{clk: m, cycle: CycleTimeAt(3 * time.Second).Encode()}
	e := New(bus, WithClock(m))

	frame := CycleTimeAt(2750 * time.Millisecond).Encode()
	pts, src := e.Stamp(Input{HasCycleTime: true, CycleTime: frame, LoopStart: m.Now()})
	assert.Equal(t, SourceBusCycle, src)
	assert.InDelta(t, utils.TimeToSeconds(m.Now())-0.25, pts, 1e-6)
}

func TestStampWithinWrapPeriod(t *testing.T) {
	m := newMock()
	bus := &fakeBus{clk: m}
	e := New(bus, WithClock(m))
	now := utils.TimeToSeconds(m.Now())

	for _, sec := range []time.Duration{0, 1, 63, 64, 100, 127} {
		for _, cur := range []time.Duration{0, 5, 90, 127} {
			bus.cycle = CycleTimeAt(cur * time.Second).Encode()
			pts, src := e.Stamp(Input{HasCycleTime: true, CycleTime: CycleTimeAt(sec * time.Second).Encode()})
			require.Equal(t, SourceBusCycle, src)
			assert.LessOrEqual(t, pts, now)
			assert.Less(t, now-pts, WrapPeriod.Seconds())
		}
	}
}

func TestStampDriverRemap(t *testing.T) {
	m := newMock()
	bus := &fakeBus{clk: m, native: 1000 * time.Second}
	e := New(bus, WithClock(m))

	pts, src := e.Stamp(Input{HasDriverTimestamp: true, DriverTimestamp: 999 * time.Second})
	assert.Equal(t, SourceDriver, src)
	assert.InDelta(t, utils.TimeToSeconds(m.Now())-1, pts, 1e-6)

	// A timestamp from another epoch falls back to the loop start.
	start := m.Now()
	pts, src = e.Stamp(Input{HasDriverTimestamp: true, DriverTimestamp: 10 * time.Second, LoopStart: start})
	assert.Equal(t, SourceLoopStart, src)
	assert.InDelta(t, utils.TimeToSeconds(start), pts, 1e-6)
}

func TestStampFallbacks(t *testing.T) {
	m := newMock()
	bus := &fakeBus{clk: m, err: errors.New("bus reset")}
	e := New(bus, WithClock(m))
	start := m.Now().Add(-time.Millisecond)

	pts, src := e.Stamp(Input{HasCycleTime: true, CycleTime: 1, LoopStart: start})
	assert.Equal(t, SourceLoopStart, src)
	assert.InDelta(t, utils.TimeToSeconds(start), pts, 1e-6)

	_, src = New(nil, WithClock(m)).Stamp(Input{HasCycleTime: true})
	assert.Equal(t, SourceLoopStart, src)
}

func TestSyncNTP(t *testing.T) {
	m := newMock()
	e := New(nil, WithClock(m))
	e.query = func(host string, _ ntp.QueryOptions) (*ntp.Response, error) {
		assert.Equal(t, "pool.example", host)
		return &ntp.Response{ClockOffset: 2 * time.Second, Stratum: 2, Time: m.Now(), ReferenceTime: m.Now()}, nil
	}
	before := e.Now()
	require.NoError(t, e.SyncNTP(context.Background(), "pool.example"))
	assert.InDelta(t, before+2, e.Now(), 1e-6)

	e.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		return nil, errors.New("timeout")
	}
	assert.Error(t, e.SyncNTP(context.Background(), "pool.example"))
}
