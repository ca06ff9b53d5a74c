package driver

import (
	"fmt"
	"strings"
	"time"
)

// ColorCoding is the pixel encoding a camera mode delivers.
type ColorCoding int

const (
	Mono8 ColorCoding = iota
	Mono16
	Raw8
	Raw16
	RGB8
	RGB16
	YUV411
	YUV422
	YUV444
)

var codingNames = map[ColorCoding]string{
	Mono8:  "MONO8",
	Mono16: "MONO16",
	Raw8:   "RAW8",
	Raw16:  "RAW16",
	RGB8:   "RGB8",
	RGB16:  "RGB16",
	YUV411: "YUV411",
	YUV422: "YUV422",
	YUV444: "YUV444",
}

func (c ColorCoding) String() string {
	if s, ok := codingNames[c]; ok {
		return s
	}
	return fmt.Sprintf("coding(%d)", int(c))
}

// BitsPerPixel is the transferred size of one pixel on the bus.
func (c ColorCoding) BitsPerPixel() int {
	switch c {
	case Mono8, Raw8:
		return 8
	case YUV411:
		return 12
	case Mono16, Raw16, YUV422:
		return 16
	case RGB8, YUV444:
		return 24
	case RGB16:
		return 48
	}
	return 0
}

// Layers is the number of channels the coding carries natively.
func (c ColorCoding) Layers() int {
	switch c {
	case RGB8, RGB16, YUV411, YUV422, YUV444:
		return 3
	}
	return 1
}

func (c ColorCoding) IsMono() bool { return c == Mono8 || c == Mono16 }

func (c ColorCoding) IsRaw() bool { return c == Raw8 || c == Raw16 }

func (c ColorCoding) IsRGB() bool { return c == RGB8 || c == RGB16 }

func (c ColorCoding) IsYUV() bool { return c == YUV411 || c == YUV422 || c == YUV444 }

// Is16Bit reports whether each sample occupies two bytes.
func (c ColorCoding) Is16Bit() bool { return c == Mono16 || c == Raw16 || c == RGB16 }

// FrameSize is the payload size in bytes of a width x height frame.
func (c ColorCoding) FrameSize(width, height int) int {
	return width * height * c.BitsPerPixel() / 8
}

// BayerPattern is the color filter layout of a raw sensor, named after its
// top-left 2x2 block.
type BayerPattern int

const (
	PatternNone BayerPattern = iota
	RGGB
	GBRG
	GRBG
	BGGR
)

func (p BayerPattern) String() string {
	switch p {
	case RGGB:
		return "RGGB"
	case GBRG:
		return "GBRG"
	case GRBG:
		return "GRBG"
	case BGGR:
		return "BGGR"
	}
	return "none"
}

func ParseBayerPattern(s string) (BayerPattern, error) {
	for _, p := range []BayerPattern{RGGB, GBRG, GRBG, BGGR, PatternNone} {
		if p.String() == s {
			return p, nil
		}
	}
	return PatternNone, fmt.Errorf("unknown bayer pattern %q", s)
}

// Rect is a region of interest on the sensor.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DontCare reports whether r is the 1x1 placeholder at the origin (or empty),
// which means "largest available frame".
func (r Rect) DontCare() bool {
	return r.Left == 0 && r.Top == 0 && r.Width <= 1 && r.Height <= 1
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.Left, r.Top, r.Width, r.Height)
}

type ModeID int

// Mode is one entry of a camera's capability table. Standard modes have a
// fixed size and a discrete framerate list; extended modes have a maximum
// size, ROI alignment units and a packet size range instead.
type Mode struct {
	ID       ModeID
	Extended bool

	Width  int
	Height int
	Coding ColorCoding

	// YUYV marks YUV422 data in Y0 U Y1 V order rather than the IIDC U Y0 V Y1.
	YUYV bool

	Framerates []float64

	MaxWidth   int
	MaxHeight  int
	UnitWidth  int
	UnitHeight int
	PacketMin  int
	PacketMax  int
	// DataDepth is the bits per pixel the camera reports for an extended
	// mode; 0 means the coding's nominal size.
	DataDepth int

	Pattern BayerPattern
}

// TransferDepth is the number of bits per pixel sent over the bus.
func (m Mode) TransferDepth() int {
	if m.DataDepth > 0 {
		return m.DataDepth
	}
	return m.Coding.BitsPerPixel()
}

func (m Mode) String() string {
	if m.Extended {
		return fmt.Sprintf("mode %d: extended %dx%d %s", m.ID, m.MaxWidth, m.MaxHeight, m.Coding)
	}
	return fmt.Sprintf("mode %d: %dx%d %s %v fps", m.ID, m.Width, m.Height, m.Coding, m.Framerates)
}

// ISOSpeed is the isochronous transfer speed in Mbit/s.
type ISOSpeed int

const (
	ISO100  ISOSpeed = 100
	ISO200  ISOSpeed = 200
	ISO400  ISOSpeed = 400
	ISO800  ISOSpeed = 800
	ISO1600 ISOSpeed = 1600
	ISO3200 ISOSpeed = 3200
)

// BusPeriod is the duration of one isochronous packet slot at this speed.
func (s ISOSpeed) BusPeriod() time.Duration {
	switch s {
	case ISO100:
		return 500 * time.Microsecond
	case ISO200:
		return 250 * time.Microsecond
	case ISO400:
		return 125 * time.Microsecond
	case ISO800:
		return 62500 * time.Nanosecond
	case ISO1600:
		return 31250 * time.Nanosecond
	case ISO3200:
		return 15625 * time.Nanosecond
	}
	return 125 * time.Microsecond
}

func (s ISOSpeed) Valid() bool {
	switch s {
	case ISO100, ISO200, ISO400, ISO800, ISO1600, ISO3200:
		return true
	}
	return false
}

type DeviceInfo struct {
	Index  int    `json:"index"`
	GUID   uint64 `json:"guid"`
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
}

type DequeuePolicy int

const (
	Wait DequeuePolicy = iota
	Poll
)

// Frame is a filled DMA buffer borrowed from the driver. Data and Trailer
// are only valid until the frame is handed back with Requeue.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Coding ColorCoding

	// FramesBehind is the number of filled buffers still queued after this one.
	FramesBehind int

	// Timestamp is the capture instant on the driver's native clock.
	Timestamp    time.Duration
	HasTimestamp bool

	// Trailer holds the smart-feature metadata when enabled, see DecodeTrailer.
	Trailer []byte

	// Slot identifies the ring buffer for Requeue.
	Slot int
}

type Feature int

const (
	Brightness Feature = iota
	Exposure
	Sharpness
	WhiteBalance
	Saturation
	Gamma
	Shutter
	Gain
)

var featureNames = map[Feature]string{
	Brightness:   "Brightness",
	Exposure:     "Exposure",
	Sharpness:    "Sharpness",
	WhiteBalance: "WhiteBalance",
	Saturation:   "Saturation",
	Gamma:        "Gamma",
	Shutter:      "Shutter",
	Gain:         "Gain",
}

func (f Feature) String() string { return featureNames[f] }

// Features lists every feature in display order.
func Features() []Feature {
	return []Feature{Brightness, Exposure, Sharpness, WhiteBalance, Saturation, Gamma, Shutter, Gain}
}

// ParseFeature looks a feature up by name, ignoring case.
func ParseFeature(name string) (Feature, bool) {
	for f, n := range featureNames {
		if strings.EqualFold(n, name) {
			return f, true
		}
	}
	return 0, false
}

// FeatureState is the current setting of a feature. WhiteBalance carries two
// values (U/B, V/R), every other feature one.
type FeatureState struct {
	Values []float64
	Auto   bool
	Min    float64
	Max    float64
}

type TriggerMode int

const (
	TriggerMode0 TriggerMode = iota
	TriggerMode1
	TriggerMode2
	TriggerMode3
	TriggerMode4
	TriggerMode5
	TriggerMode14 TriggerMode = 14
	TriggerMode15 TriggerMode = 15
)

type TriggerSource int

const (
	TriggerSource0 TriggerSource = iota
	TriggerSource1
	TriggerSource2
	TriggerSource3
	TriggerSoftware
)

type TriggerPolarity int

const (
	PolarityLow TriggerPolarity = iota
	PolarityHigh
)

// SmartFeatures selects vendor metadata embedded with each frame.
type SmartFeatures struct {
	FrameCounter bool `json:"frameCounter"`
	CycleTime    bool `json:"cycleTime"`
	Checksum     bool `json:"checksum"`
}

func (s SmartFeatures) Any() bool { return s.FrameCounter || s.CycleTime || s.Checksum }
