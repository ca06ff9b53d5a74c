package server

import (
	"bytes"
	"errors"
	"sync"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/preprocess"
	"iidc-capture/pkg/utils/image"
)

// previewHub fans the frames of a device out to MJPEG clients. One fetch
// loop runs per device while it has subscribers; a client that cannot keep
// up misses frames instead of stalling the others.
type previewHub struct {
	eng     *capture.Engine
	width   int
	quality int

	mu      sync.Mutex
	streams map[int]*previewStream
}

type previewStream struct {
	subs map[chan []byte]struct{}
	stop chan struct{}
}

func newPreviewHub(eng *capture.Engine, width, quality int) *previewHub {
	if quality <= 0 {
		quality = frameQuality
	}
	return &previewHub{
		eng:     eng,
		width:   width,
		quality: quality,
		streams: make(map[int]*previewStream),
	}
}

// subscribe returns a channel of JPEG frames and a func that releases it.
// The channel is closed when the device stops delivering.
func (p *previewHub) subscribe(handle int) (<-chan []byte, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[handle]
	if !ok {
		st = &previewStream{
			subs: make(map[chan []byte]struct{}),
			stop: make(chan struct{}),
		}
		p.streams[handle] = st
		go p.loop(handle, st)
	}
	ch := make(chan []byte, 1)
	st.subs[ch] = struct{}{}

	return ch, func() { p.unsubscribe(handle, st, ch) }
}

func (p *previewHub) unsubscribe(handle int, st *previewStream, ch chan []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := st.subs[ch]; !ok {
		return
	}
	delete(st.subs, ch)
	close(ch)
	if len(st.subs) == 0 {
		close(st.stop)
		if p.streams[handle] == st {
			delete(p.streams, handle)
		}
	}
}

func (p *previewHub) loop(handle int, st *previewStream) {
	defer func() {
		p.mu.Lock()
		for ch := range st.subs {
			delete(st.subs, ch)
			close(ch)
		}
		if p.streams[handle] == st {
			delete(p.streams, handle)
		}
		p.mu.Unlock()
	}()

	for {
		select {
		case <-st.stop:
			return
		default:
		}

		d, err := p.eng.Fetch(handle, capture.FetchWait)
		switch {
		case errors.Is(err, capture.ErrFetchTimeout), errors.Is(err, capture.ErrNoFrameYet):
			continue
		case err != nil:
			logger.Infof("preview of device %d ended: %s", handle, err)
			return
		}
		frame, err := p.encode(d.Image)
		if err != nil {
			logger.Warnf("preview of device %d: %s", handle, err)
			continue
		}

		p.mu.Lock()
		for ch := range st.subs {
			select {
			case ch <- frame:
			default:
				// drop the frame for a slow client
			}
		}
		p.mu.Unlock()
	}
}

func (p *previewHub) encode(img preprocess.Image) ([]byte, error) {
	src, err := image.Wrap(img.Data, img.Width, img.Height, img.Layers, img.BitDepth)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = image.EncodeJPEG(image.Thumbnail(src, p.width), &buf, p.quality); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
