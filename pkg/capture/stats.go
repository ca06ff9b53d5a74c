package capture

import (
	"time"

	"github.com/montanaflynn/stats"

	"iidc-capture/pkg/driver"
)

const intervalWindow = 256

// intervals keeps the most recent inter-frame intervals and the total
// processing time of a capture session.
type intervals struct {
	window  []float64
	next    int
	lastPts float64
	hasLast bool

	frames    int64
	procTotal time.Duration
}

func (iv *intervals) reset() {
	*iv = intervals{}
}

func (iv *intervals) observe(pts float64, proc time.Duration) {
	if iv.hasLast {
		dt := pts - iv.lastPts
		if len(iv.window) < intervalWindow {
			iv.window = append(iv.window, dt)
		} else {
			iv.window[iv.next] = dt
			iv.next = (iv.next + 1) % intervalWindow
		}
	}
	iv.lastPts, iv.hasLast = pts, true
	iv.frames++
	iv.procTotal += proc
}

func (iv *intervals) summary() (mean, stddev float64) {
	if len(iv.window) == 0 {
		return 0, 0
	}
	mean, _ = stats.Mean(iv.window)
	stddev, _ = stats.StandardDeviation(iv.window)
	return mean, stddev
}

func (iv *intervals) meanProcessing() time.Duration {
	if iv.frames == 0 {
		return 0
	}
	return iv.procTotal / time.Duration(iv.frames)
}

// DeviceStats is a snapshot of a device's counters.
type DeviceStats struct {
	Handle     int         `json:"handle"`
	Session    string      `json:"session"`
	Loop       string      `json:"loop"`
	Active     bool        `json:"active"`
	SyncMode   string      `json:"syncMode"`
	Mode       string      `json:"mode"`
	ROI        driver.Rect `json:"roi"`
	Framerate  float64     `json:"framerate"`
	DropFrames bool        `json:"dropFrames"`
	Async      bool        `json:"async"`

	FrameCounter       int64  `json:"frameCounter"`
	PulledFrameCounter int64  `json:"pulledFrameCounter"`
	Pending            int    `json:"pending"`
	StopAt             string `json:"stopAt"`
	Dropped            int64  `json:"dropped"`
	Corrupt            int64  `json:"corrupt"`
	ChecksumErrors     int64  `json:"checksumErrors"`
	PluginErrors       int64  `json:"pluginErrors"`
	RecordErrors       int64  `json:"recordErrors"`

	PTS             float64       `json:"pts"`
	PulledPTS       float64       `json:"pulledPts"`
	TimestampSource string        `json:"timestampSource"`
	MeanInterval    float64       `json:"meanInterval"`
	IntervalStdDev  float64       `json:"intervalStdDev"`
	MeanProcessing  time.Duration `json:"meanProcessing"`

	Recording   bool   `json:"recording"`
	MovieFrames int    `json:"movieFrames"`
	Err         string `json:"err,omitempty"`
}

func (d *Device) statsLocked() DeviceStats {
	mean, sd := d.intervals.summary()
	st := DeviceStats{
		Handle:     d.handle,
		Session:    d.session.Current(),
		Loop:       d.state.String(),
		Active:     d.grabberActive,
		SyncMode:   d.syncMode.String(),
		Mode:       d.neg.String(),
		ROI:        d.neg.ROI,
		Framerate:  d.framerate,
		DropFrames: d.dropFrames,
		Async:      d.async,

		FrameCounter:       d.frameCounter,
		PulledFrameCounter: d.pulledFrameCounter,
		Pending:            d.pendingLocked(),
		StopAt:             d.stopAt.String(),
		Dropped:            d.dropped,
		Corrupt:            d.corrupt,
		ChecksumErrors:     d.checksumErrors,
		PluginErrors:       d.pluginErrors,
		RecordErrors:       d.recordErrors,

		PTS:             d.currentPts,
		PulledPTS:       d.pulledPts,
		TimestampSource: d.tsSource.String(),
		MeanInterval:    mean,
		IntervalStdDev:  sd,
		MeanProcessing:  d.intervals.meanProcessing(),

		Recording: d.recording,
	}
	if d.mov != nil {
		st.MovieFrames = d.mov.Frames()
	}
	if d.lastErr != nil {
		st.Err = d.lastErr.Error()
	}
	return st
}
