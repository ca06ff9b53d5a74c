// Package preprocess turns driver frames into the pixel layout a client asked
// for: luminance or RGB at 8 or 16 bits per sample.
package preprocess

import (
	"errors"
	"fmt"
	"strings"

	"iidc-capture/pkg/driver"
)

var (
	ErrNoBayerPattern    = errors.New("bayer pattern unknown, set an override pattern")
	ErrUnsupportedCoding = errors.New("unsupported color coding for requested layers")
	ErrShortFrame        = errors.New("frame shorter than mode size")
	ErrNoTrailer         = errors.New("frame carries no checksum trailer")
)

type DebayerMethod int

const (
	Nearest DebayerMethod = iota
	Simple
	Bilinear
)

var methodNames = []string{"nearest", "simple", "bilinear"}

func (m DebayerMethod) String() string {
	if m >= Nearest && m <= Bilinear {
		return methodNames[m]
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func ParseDebayerMethod(s string) (DebayerMethod, error) {
	for i, n := range methodNames {
		if strings.EqualFold(n, s) {
			return DebayerMethod(i), nil
		}
	}
	return Bilinear, fmt.Errorf("unknown debayer method %q", s)
}

type Config struct {
	Width  int
	Height int
	Coding driver.ColorCoding
	YUYV   bool

	// Pattern is what an extended mode reports; standard modes do not
	// report one, so Override must be set to debayer their data.
	Pattern  driver.BayerPattern
	Override driver.BayerPattern
	Extended bool

	Layers   int
	BitDepth int
	Method   DebayerMethod
}

// Image is a processed frame. When Borrowed is set Data aliases the driver
// buffer and is only valid until the frame is requeued.
type Image struct {
	Data     []byte
	Width    int
	Height   int
	Layers   int
	BitDepth int
	Borrowed bool
}

func (img Image) BytesPerSample() int {
	if img.BitDepth > 8 {
		return 2
	}
	return 1
}

// Size is the length of the packed pixel data.
func (img Image) Size() int {
	return img.Width * img.Height * img.Layers * img.BytesPerSample()
}

// Clone returns an image owning a copy of the pixels.
func (img Image) Clone() Image {
	out := img
	out.Data = append([]byte(nil), img.Data[:img.Size()]...)
	out.Borrowed = false
	return out
}

// SumIntensity is the sum of all samples across all layers.
func (img Image) SumIntensity() float64 {
	var sum uint64
	data := img.Data[:img.Size()]
	if img.BytesPerSample() == 2 {
		for i := 0; i+1 < len(data); i += 2 {
			sum += uint64(data[i])<<8 | uint64(data[i+1])
		}
	} else {
		for _, v := range data {
			sum += uint64(v)
		}
	}
	return float64(sum)
}

type stage int

const (
	passThrough stage = iota
	debayerStage
	yuvStage
	lumaStage
)

type Converter struct {
	cfg     Config
	stage   stage
	pattern driver.BayerPattern
	scratch []byte
	plane   []uint16
}

// Setup validates cfg and prepares the conversion it needs.
func Setup(cfg Config) (*Converter, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 8
	}
	c := &Converter{cfg: cfg}
	coding := cfg.Coding

	switch {
	case cfg.Layers == 1 && (coding.IsMono() || coding.IsRaw()):
		c.stage = passThrough
	case cfg.Layers == 3 && coding.IsRGB():
		c.stage = passThrough
	case cfg.Layers == 1 && coding.IsYUV():
		c.stage = lumaStage
	case cfg.Layers == 3 && coding.IsYUV():
		c.stage = yuvStage
	case cfg.Layers == 3 && (coding.IsRaw() || coding.IsMono()):
		c.stage = debayerStage
		c.pattern = cfg.Override
		if c.pattern == driver.PatternNone && cfg.Extended {
			c.pattern = cfg.Pattern
		}
		if c.pattern == driver.PatternNone {
			return nil, ErrNoBayerPattern
		}
		if cfg.Width < 2 || cfg.Height < 2 {
			return nil, fmt.Errorf("frame %dx%d too small to debayer", cfg.Width, cfg.Height)
		}
	default:
		return nil, fmt.Errorf("%w: %s to %d layers", ErrUnsupportedCoding, coding, cfg.Layers)
	}

	if c.stage != passThrough {
		c.scratch = make([]byte, c.output().Size())
	}
	return c, nil
}

func (c *Converter) Config() Config { return c.cfg }

// ZeroCopy reports whether Process hands out the driver buffer itself.
func (c *Converter) ZeroCopy() bool { return c.stage == passThrough }

func (c *Converter) output() Image {
	depth := c.cfg.BitDepth
	switch {
	case !c.cfg.Coding.Is16Bit():
		depth = min(depth, 8)
	case depth <= 8:
		depth = 16
	}
	return Image{
		Width:    c.cfg.Width,
		Height:   c.cfg.Height,
		Layers:   c.cfg.Layers,
		BitDepth: depth,
	}
}

// Process converts f. The returned image is either f's own buffer (see
// ZeroCopy) or the converter's scratch buffer, which the next call reuses.
func (c *Converter) Process(f *driver.Frame) (Image, error) {
	size := c.cfg.Coding.FrameSize(c.cfg.Width, c.cfg.Height)
	if len(f.Data) < size {
		return Image{}, fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, len(f.Data), size)
	}
	src := f.Data[:size]
	img := c.output()

	switch c.stage {
	case passThrough:
		img.Data = src
		img.Borrowed = true
		return img, nil
	case debayerStage:
		c.debayer(src)
	case yuvStage:
		yuvToRGB(c.scratch, src, c.cfg.Width*c.cfg.Height, c.cfg.Coding, c.cfg.YUYV)
	case lumaStage:
		yuvToLuma(c.scratch, src, c.cfg.Width*c.cfg.Height, c.cfg.Coding, c.cfg.YUYV)
	}
	img.Data = c.scratch
	return img, nil
}

// ValidateChecksum compares the payload checksum with the one the camera
// stored in the frame trailer.
func ValidateChecksum(f *driver.Frame) (bool, error) {
	if len(f.Trailer) == 0 {
		return false, ErrNoTrailer
	}
	t, err := driver.DecodeTrailer(f.Trailer)
	if err != nil {
		return false, err
	}
	return t.Checksum == driver.Checksum(f.Data), nil
}
