package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/preprocess"
)

// MaxRate asks for the fastest framerate the negotiated mode offers.
const MaxRate = -1.0

// CorruptPolicy decides what happens to frames that fail checksum
// validation.
type CorruptPolicy int

const (
	DeliverCorrupt CorruptPolicy = iota
	DropCorrupt
)

func (p CorruptPolicy) String() string {
	if p == DropCorrupt {
		return "drop"
	}
	return "deliver"
}

func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch strings.ToLower(s) {
	case "", "deliver":
		return DeliverCorrupt, nil
	case "drop":
		return DropCorrupt, nil
	}
	return DeliverCorrupt, fmt.Errorf("unknown corrupt frame policy %q", s)
}

type Options struct {
	NumDMABuffers   int
	DropFrames      bool
	AsyncRecorder   bool
	LockstepTimeout time.Duration
	FetchTimeout    time.Duration
	// PollInterval is how long an idle capture loop sleeps between polls.
	PollInterval time.Duration

	CorruptFramePolicy      CorruptPolicy
	UseBusTimestamps        bool
	UseHardwareFrameCounter bool
	ValidateChecksum        bool

	Conversion      negotiate.ConversionMode
	DebayerMethod   preprocess.DebayerMethod
	MaxQueuedFrames int
}

func DefaultOptions() Options {
	return Options{
		NumDMABuffers:    8,
		AsyncRecorder:    true,
		LockstepTimeout:  time.Second,
		FetchTimeout:     5 * time.Second,
		PollInterval:     time.Millisecond,
		UseBusTimestamps: true,
		Conversion:       negotiate.RawPostProcessed,
		DebayerMethod:    preprocess.Bilinear,
		MaxQueuedFrames:  64,
	}
}

type Option func(*Engine)

func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithMovieWriter sets the backend used for OpenOptions.MovieFile.
func WithMovieWriter(w movie.Writer) Option {
	return func(e *Engine) { e.movies = w }
}

type OpenOptions struct {
	DeviceIndex int
	// ROI of 1x1 at the origin, or zero, means the largest frame.
	ROI      driver.Rect
	Layers   int
	BitDepth int
	// NumDMABuffers of 0 uses the engine default.
	NumDMABuffers int
	// Framerate of 0 or MaxRate negotiates the fastest rate.
	Framerate float64
	// Conversion overrides the engine's data conversion mode when set.
	Conversion     *negotiate.ConversionMode
	PreferExtended bool

	// MovieFile enables recording of every captured frame.
	MovieFile string
	Codec     string
	// RecordOnly suppresses client delivery while recording.
	RecordOnly bool

	// Tracker names a registered plugin.Tracker to run on every frame.
	Tracker string
}

type StartOptions struct {
	// Framerate of 0 keeps the negotiated rate; MaxRate asks for the fastest.
	Framerate  float64
	DropFrames bool
	Async      bool
	// StartAt delays stream-on until the given wall-clock time.
	StartAt time.Time
}

type FetchMode int

const (
	// FetchWait blocks up to the fetch timeout.
	FetchWait FetchMode = iota
	// FetchPoll returns ErrNoFrameYet when nothing is ready.
	FetchPoll
	// FetchCheck reports availability without consuming a frame.
	FetchCheck
)

func ParseFetchMode(s string) (FetchMode, error) {
	switch strings.ToLower(s) {
	case "", "wait":
		return FetchWait, nil
	case "poll":
		return FetchPoll, nil
	case "check":
		return FetchCheck, nil
	}
	return FetchWait, fmt.Errorf("unknown fetch mode %q", s)
}
