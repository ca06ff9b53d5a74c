package sim

import (
	"iidc-capture/pkg/driver"
)

// Extended mode ids start where the IIDC format 7 range starts.
const extendedBase driver.ModeID = 88

var standardRates = []float64{1.875, 3.75, 7.5, 15, 30, 60}

// DefaultModes is the capability table of a typical colour machine-vision
// camera: a handful of standard VGA/SVGA/XGA modes plus extended modes for
// mono, raw Bayer and 16 bit readout.
func DefaultModes() []driver.Mode {
	std := func(id driver.ModeID, w, h int, c driver.ColorCoding, rates ...float64) driver.Mode {
		if len(rates) == 0 {
			rates = standardRates
		}
		return driver.Mode{ID: id, Width: w, Height: h, Coding: c, Framerates: rates}
	}
	ext := func(id driver.ModeID, c driver.ColorCoding, p driver.BayerPattern) driver.Mode {
		return driver.Mode{
			ID:         id,
			Extended:   true,
			Width:      1280,
			Height:     960,
			Coding:     c,
			MaxWidth:   1280,
			MaxHeight:  960,
			UnitWidth:  8,
			UnitHeight: 2,
			PacketMin:  4,
			PacketMax:  4096,
			DataDepth:  c.BitsPerPixel(),
			Pattern:    p,
		}
	}

	return []driver.Mode{
		std(64, 160, 120, driver.YUV444, 7.5, 15, 30),
		std(65, 320, 240, driver.YUV422),
		std(66, 640, 480, driver.YUV411),
		std(67, 640, 480, driver.YUV422),
		std(68, 640, 480, driver.RGB8, 1.875, 3.75, 7.5, 15, 30),
		std(69, 640, 480, driver.Mono8),
		std(70, 640, 480, driver.Mono16, 1.875, 3.75, 7.5, 15, 30),
		std(71, 800, 600, driver.YUV422, 1.875, 3.75, 7.5, 15),
		std(72, 1024, 768, driver.Mono8, 1.875, 3.75, 7.5, 15),
		std(73, 640, 480, driver.Raw8),
		ext(extendedBase, driver.Mono8, driver.PatternNone),
		ext(extendedBase+1, driver.Raw8, driver.RGGB),
		ext(extendedBase+2, driver.Mono16, driver.PatternNone),
		ext(extendedBase+3, driver.Raw16, driver.GBRG),
		ext(extendedBase+4, driver.RGB8, driver.PatternNone),
	}
}

// Spec describes a simulated camera.
type Spec struct {
	Vendor  string
	Model   string
	GUID    uint64
	Modes   []driver.Mode
	Trigger bool
	Smart   driver.SmartFeatures
}

// DefaultSpec returns a fully featured camera with a GUID derived from n.
func DefaultSpec(n int) Spec {
	return Spec{
		Vendor:  "Simulated",
		Model:   "IIDC-1394b",
		GUID:    0x814436_0000_0000 + uint64(n),
		Modes:   DefaultModes(),
		Trigger: true,
		Smart:   driver.SmartFeatures{FrameCounter: true, CycleTime: true, Checksum: true},
	}
}
