package types

import (
	"time"
)

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	Bytes   int64     `json:"bytes"`
	ModTime time.Time `json:"modTime"`
}

// Recording is a movie file written by one camera of a session.
type Recording struct {
	File
	Device     int    `json:"device"`
	Timestamps string `json:"timestamps,omitempty"`
}
