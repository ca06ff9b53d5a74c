package capture

import (
	"fmt"
	"sort"
	"sync"
)

type slotState int

const (
	slotClosed slotState = iota
	slotOpen
)

type slot struct {
	state slotState
	dev   *Device
}

// Registry maps handles to open devices. Slots live in a growable arena and
// closed slots are reused lowest handle first.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []int
}

func NewRegistry() *Registry {
	return &Registry{}
}

// add stores d in a free slot and returns its handle.
func (r *Registry) add(d *Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var h int
	if len(r.free) > 0 {
		h = r.free[0]
		r.free = r.free[1:]
	} else {
		h = len(r.slots)
		r.slots = append(r.slots, slot{})
	}
	d.handle = h
	r.slots[h] = slot{state: slotOpen, dev: d}
	return h
}

func (r *Registry) Get(handle int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle < 0 || handle >= len(r.slots) || r.slots[handle].state != slotOpen {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return r.slots[handle].dev, nil
}

func (r *Registry) remove(handle int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle < 0 || handle >= len(r.slots) || r.slots[handle].state != slotOpen {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	d := r.slots[handle].dev
	r.slots[handle] = slot{state: slotClosed}
	r.free = append(r.free, handle)
	sort.Ints(r.free)
	return d, nil
}

// Handles lists open handles in ascending order.
func (r *Registry) Handles() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hs []int
	for h, s := range r.slots {
		if s.state == slotOpen {
			hs = append(hs, h)
		}
	}
	return hs
}

func (r *Registry) devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ds []*Device
	for _, s := range r.slots {
		if s.state == slotOpen {
			ds = append(ds, s.dev)
		}
	}
	return ds
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) - len(r.free)
}
