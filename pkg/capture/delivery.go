package capture

import (
	"time"

	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/preprocess"
)

// Delivered is a frame handed to the client. The client owns Image.
type Delivered struct {
	Image preprocess.Image
	PTS   float64
	Index int64
	// Pending counts frames captured but not yet delivered.
	Pending int
	// Dropped counts frames discarded since the previous fetch.
	Dropped int64
	Summed  float64
}

type Orientation int

const (
	TopDown Orientation = iota
	BottomUp
)

// Texture is a frame prepared for upload into a display pipeline.
type Texture struct {
	preprocess.Image
	Orientation Orientation
	PTS         float64
	Index       int64
}

func (d *Device) fetch(mode FetchMode) (*Delivered, error) {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	case d.state == loopIdle:
		d.mu.Unlock()
		return nil, ErrNotActive
	}
	async := d.async && d.done != nil
	d.mu.Unlock()

	if !async {
		d.pump(mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if async && mode == FetchWait {
		d.waitLocked(time.Now().Add(d.fetchTimeout), func() bool {
			return d.availableLocked() > 0 || d.state != loopRunning || d.closed
		})
	}
	return d.takeLocked(mode)
}

// pump drives a synchronous session until a frame is available, the loop
// ends, or a non-waiting fetch has made one attempt.
func (d *Device) pump(mode FetchMode) {
	deadline := time.Now().Add(d.fetchTimeout)
	for {
		d.mu.Lock()
		avail := d.availableLocked() > 0
		d.mu.Unlock()
		if avail {
			return
		}

		switch d.step() {
		case stepFrame:
			continue
		case stepTerminated:
			return
		}
		if mode != FetchWait || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(d.pollInterval)
	}
}

func (d *Device) takeLocked(mode FetchMode) (*Delivered, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}
	if d.availableLocked() == 0 {
		switch {
		case d.state == loopTerminated:
			return nil, d.terminatedErrLocked()
		case mode == FetchWait:
			return nil, ErrFetchTimeout
		}
		return nil, ErrNoFrameYet
	}
	if mode == FetchCheck {
		return &Delivered{Pending: d.pendingLocked()}, nil
	}

	var e movie.Entry
	if d.dropFrames {
		e = *d.latest
		d.latest = nil
	} else {
		e, _ = d.sink.Pull()
	}
	d.pulledFrameCounter++
	d.pulledPts = e.PTS
	d.fetched = &e

	out := &Delivered{
		Image:   e.Image,
		PTS:     e.PTS,
		Index:   e.Index,
		Pending: d.pendingLocked(),
		Dropped: d.droppedSinceFetch,
		Summed:  e.Image.SumIntensity(),
	}
	d.droppedSinceFetch = 0
	return out, nil
}

// latestTexture copies the most recently fetched frame.
func (d *Device) latestTexture() (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Texture{}, ErrDeviceClosed
	}
	if d.fetched == nil {
		return Texture{}, ErrNoFrameYet
	}
	return Texture{
		Image:       d.fetched.Image.Clone(),
		Orientation: TopDown,
		PTS:         d.fetched.PTS,
		Index:       d.fetched.Index,
	}, nil
}
