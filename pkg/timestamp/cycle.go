package timestamp

import (
	"time"
)

const (
	// WrapPeriod is the period after which the bus cycle-time register wraps.
	WrapPeriod = 128 * time.Second

	cyclesPerSecond = 8000
	ticksPerCycle   = 3072
	cyclePeriod     = 125 * time.Microsecond
	tickRate        = 24.576e6
)

// CycleTime is a decoded bus cycle-time register: 7 bits of seconds, 13 bits
// of 125µs cycles and 12 bits of 24.576MHz offset ticks.
type CycleTime struct {
	Seconds uint32
	Cycles  uint32
	Offset  uint32
}

func DecodeCycleTime(v uint32) CycleTime {
	return CycleTime{
		Seconds: (v >> 25) & 0x7f,
		Cycles:  (v >> 12) & 0x1fff,
		Offset:  v & 0xfff,
	}
}

func (c CycleTime) Encode() uint32 {
	return (c.Seconds&0x7f)<<25 | (c.Cycles&0x1fff)<<12 | c.Offset&0xfff
}

// Float is the register value in seconds within the wrap period.
func (c CycleTime) Float() float64 {
	return float64(c.Seconds) + float64(c.Cycles)*cyclePeriod.Seconds() + float64(c.Offset)/tickRate
}

// CycleTimeAt encodes an elapsed bus time into the register layout.
func CycleTimeAt(elapsed time.Duration) CycleTime {
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed %= WrapPeriod
	sec := elapsed / time.Second
	rem := elapsed % time.Second
	cycles := rem / cyclePeriod
	off := int64(rem%cyclePeriod) * ticksPerCycle / int64(cyclePeriod)

	return CycleTime{
		Seconds: uint32(sec),
		Cycles:  uint32(cycles),
		Offset:  uint32(off),
	}
}

// Age returns how long ago, in seconds, frame was stamped relative to the
// register sample now. A now smaller than frame means the register wrapped
// in between.
func Age(frame, now CycleTime) float64 {
	f, n := frame.Float(), now.Float()
	if n < f {
		n += WrapPeriod.Seconds()
	}
	return n - f
}
