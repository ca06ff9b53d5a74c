// Package plugin defines the per-frame tracker contract the capture loop
// calls after preprocessing, and a registry of built-in trackers.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// FrameView is a read-only view of a processed frame. Data is only valid for
// the duration of ProcessFrame.
type FrameView struct {
	Data     []byte
	Width    int
	Height   int
	Layers   int
	BitDepth int
	ROILeft  int
	ROITop   int
	Index    int64
	PTS      float64
}

type Tracker interface {
	Initialize() error
	// ProcessFrame reports whether the tracker found what it tracks.
	ProcessFrame(f FrameView) (bool, error)
	Shutdown() error
}

var (
	lock     sync.Mutex
	registry = map[string]func() Tracker{}
)

// Register makes a tracker constructor available under name.
func Register(name string, fn func() Tracker) {
	lock.Lock()
	defer lock.Unlock()
	registry[name] = fn
}

func New(name string) (Tracker, error) {
	lock.Lock()
	fn, ok := registry[name]
	lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown tracker %q", name)
	}
	return fn(), nil
}

func Names() []string {
	lock.Lock()
	defer lock.Unlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
