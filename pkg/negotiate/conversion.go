package negotiate

import (
	"fmt"

	"iidc-capture/pkg/driver"
)

// ConversionMode decides which native codings may serve a request.
type ConversionMode int

const (
	// RawAsRaw delivers raw sensor data undemosaiced as luminance.
	RawAsRaw ConversionMode = iota
	// RawPostProcessed debayers raw sensor data into RGB.
	RawPostProcessed
	// MonoFiltered only accepts cameras that demosaic or filter on board.
	MonoFiltered
	// MonoAsRaw treats MONO data as raw Bayer data and debayers it into RGB.
	MonoAsRaw
)

func (m ConversionMode) String() string {
	switch m {
	case RawAsRaw:
		return "raw-as-raw"
	case RawPostProcessed:
		return "raw-post-processed"
	case MonoFiltered:
		return "mono-filtered"
	case MonoAsRaw:
		return "mono-as-raw"
	}
	return fmt.Sprintf("conversion(%d)", int(m))
}

func (m ConversionMode) Valid() bool { return m >= RawAsRaw && m <= MonoAsRaw }

// AcceptsCoding reports whether frames in coding can be turned into the
// requested layers and bit depth under the given conversion mode.
func AcceptsCoding(layers, bitDepth int, coding driver.ColorCoding, conv ConversionMode) bool {
	wide := bitDepth > 8
	if coding.Is16Bit() != wide {
		// YUV is always 8 bit per sample
		return false
	}
	switch layers {
	case 1:
		switch {
		case coding.IsMono():
			return true
		case coding.IsRaw():
			return conv == RawAsRaw
		case coding.IsYUV():
			return true
		}
	case 3:
		switch {
		case coding.IsRGB(), coding.IsYUV():
			return true
		case coding.IsRaw():
			return conv == RawPostProcessed
		case coding.IsMono():
			return conv == MonoAsRaw
		}
	}
	return false
}

// nativeLayers is the layer count delivered when the client does not care.
func nativeLayers(coding driver.ColorCoding, conv ConversionMode) int {
	switch {
	case coding.IsRaw() && conv == RawPostProcessed:
		return 3
	case coding.IsMono() && conv == MonoAsRaw:
		return 3
	}
	return coding.Layers()
}

// NeedsDebayer reports whether a frame of coding must be demosaiced to
// deliver layers.
func NeedsDebayer(layers int, coding driver.ColorCoding) bool {
	return layers == 3 && (coding.IsRaw() || coding.IsMono())
}
