package ov

import (
	"time"

	"iidc-capture/pkg/driver"
)

type Session struct {
	Name string `json:"name" binding:"required"`
	Info string `json:"info"`
}

type Open struct {
	Device         int         `json:"device"`
	ROI            driver.Rect `json:"roi"`
	Layers         int         `json:"layers"`
	BitDepth       int         `json:"bitDepth"`
	Framerate      float64     `json:"framerate"`
	NumDMABuffers  int         `json:"numDmaBuffers"`
	Conversion     *int        `json:"conversion,omitempty"`
	PreferExtended bool        `json:"preferExtended"`
	Tracker        string      `json:"tracker,omitempty"`

	// Session, when set, records the device into the session's videos dir.
	Session    string `json:"session,omitempty"`
	Codec      string `json:"codec,omitempty"`
	RecordOnly bool   `json:"recordOnly"`
}

type Start struct {
	Framerate  float64    `json:"framerate"`
	DropFrames *bool      `json:"dropFrames,omitempty"`
	Async      *bool      `json:"async,omitempty"`
	StartAt    *time.Time `json:"startAt,omitempty"`
}

// Param sets a parameter from Values, or from Text when Values is empty.
type Param struct {
	Values []float64 `json:"values"`
	Text   string    `json:"text"`
}

type Sync struct {
	Mode int `json:"mode"`
}

type Schedule struct {
	Handle int `json:"handle"`
	// ms
	Interval int `json:"interval" binding:"required"`
}
