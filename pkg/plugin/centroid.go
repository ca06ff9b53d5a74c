package plugin

import (
	"errors"
	"sync"
)

func init() {
	Register("centroid", func() Tracker { return NewCentroid(DefaultThreshold) })
}

// DefaultThreshold is the 8 bit luminance a pixel needs to count as marker.
const DefaultThreshold = 200

// Marker is the last position a Centroid found, in sensor coordinates.
type Marker struct {
	X      float64
	Y      float64
	Pixels int
	Index  int64
	PTS    float64
}

// Centroid tracks the centre of all pixels at or above a luminance threshold.
type Centroid struct {
	threshold int

	mu     sync.Mutex
	ready  bool
	last   Marker
	found  bool
	frames int
}

func NewCentroid(threshold int) *Centroid {
	return &Centroid{threshold: threshold}
}

func (c *Centroid) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
	c.found = false
	c.frames = 0
	return nil
}

func (c *Centroid) ProcessFrame(f FrameView) (bool, error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return false, errors.New("centroid: not initialized")
	}
	if f.Layers != 1 && f.Layers != 3 {
		return false, errors.New("centroid: unsupported layer count")
	}

	bps := 1
	threshold := c.threshold
	if f.BitDepth > 8 {
		bps = 2
		threshold <<= uint(f.BitDepth - 8)
	}
	stride := f.Width * f.Layers * bps
	if len(f.Data) < stride*f.Height {
		return false, errors.New("centroid: short frame")
	}

	var sx, sy float64
	n := 0
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*stride : (y+1)*stride]
		for x := 0; x < f.Width; x++ {
			lum := 0
			for l := 0; l < f.Layers; l++ {
				i := (x*f.Layers + l) * bps
				if bps == 2 {
					lum += int(row[i])<<8 | int(row[i+1])
				} else {
					lum += int(row[i])
				}
			}
			if lum/f.Layers >= threshold {
				sx += float64(x)
				sy += float64(y)
				n++
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if n == 0 {
		c.found = false
		return false, nil
	}
	c.last = Marker{
		X:      sx/float64(n) + float64(f.ROILeft),
		Y:      sy/float64(n) + float64(f.ROITop),
		Pixels: n,
		Index:  f.Index,
		PTS:    f.PTS,
	}
	c.found = true
	return true, nil
}

func (c *Centroid) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	return nil
}

// Last returns the most recent marker and whether the last frame had one.
func (c *Centroid) Last() (Marker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.found
}
