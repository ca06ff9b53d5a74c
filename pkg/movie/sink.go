package movie

import (
	"iidc-capture/pkg/preprocess"
)

// Entry is one frame held by a Sink.
type Entry struct {
	Image preprocess.Image
	PTS   float64
	Index int64
}

// Sink is a bounded FIFO of processed frames. It is not safe for concurrent
// use; the owning device's lock guards it.
type Sink struct {
	buf   []Entry
	head  int
	count int
}

func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = 1
	}
	return &Sink{buf: make([]Entry, capacity)}
}

// Push appends e and reports false when the sink is full.
func (s *Sink) Push(e Entry) bool {
	if s.count == len(s.buf) {
		return false
	}
	s.buf[(s.head+s.count)%len(s.buf)] = e
	s.count++
	return true
}

// Pull removes and returns the oldest entry.
func (s *Sink) Pull() (Entry, bool) {
	if s.count == 0 {
		return Entry{}, false
	}
	e := s.buf[s.head]
	s.buf[s.head] = Entry{}
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	return e, true
}

func (s *Sink) Len() int { return s.count }

func (s *Sink) Full() bool { return s.count == len(s.buf) }

// Reset drops every queued entry and returns how many there were.
func (s *Sink) Reset() int {
	n := s.count
	for s.count > 0 {
		s.Pull()
	}
	s.head = 0
	return n
}
