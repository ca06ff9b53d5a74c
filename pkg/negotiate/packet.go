package negotiate

import (
	"math"
	"time"
)

const maxPacketsPerFrame = 4095

// PacketSize computes the isochronous packet size in bytes that transfers a
// width x height frame of depth bits per pixel at fps, given the bus cycle
// period and the camera's packet size unit and maximum pmax. A non-positive fps
// asks for the largest packet.
func PacketSize(width, height, depth int, busPeriod time.Duration, fps float64, unit, pmax int) int {
	if unit <= 0 {
		unit = pmax
	}
	if fps <= 0 {
		return pmax - pmax%unit
	}

	packets := math.Round(1 / (busPeriod.Seconds() * fps))
	packets = math.Max(1, math.Min(maxPacketsPerFrame, packets))
	size := int(math.Ceil(float64(width*height*depth) / (packets * 8)))

	size = int(math.Round(float64(size)/float64(unit))) * unit
	if size < unit {
		size = unit
	}
	if size > pmax {
		size = pmax - pmax%unit
	}
	return size
}

// EffectiveFramerate is the rate at which frames arrive with the given packet
// size: one packet per bus cycle.
func EffectiveFramerate(width, height, depth int, busPeriod time.Duration, packet int) float64 {
	if packet <= 0 {
		return 0
	}
	packets := math.Ceil(float64(width*height*depth) / float64(packet*8))
	return 1 / (busPeriod.Seconds() * packets)
}
