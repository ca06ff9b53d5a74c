package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/preprocess"
)

type fakeSource struct {
	mu  sync.Mutex
	tex *capture.Texture
}

func (f *fakeSource) Latest(int) (capture.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tex == nil {
		return capture.Texture{}, capture.ErrNoFrameYet
	}
	return *f.tex, nil
}

func (f *fakeSource) set(index int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tex = &capture.Texture{
		Image: preprocess.Image{Data: make([]byte, 16*8), Width: 16, Height: 8, Layers: 1, BitDepth: 8},
		Index: index,
	}
}

type memSink struct {
	mu    sync.Mutex
	saved [][]byte
}

func (m *memSink) SaveSnapshot(b []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, b)
	return "snap.jpg", nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func TestSnapSkipsRepeatedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{}
	s := New(ctx, src)
	sink := &memSink{}

	assert.Error(t, s.Snap())
	require.NoError(t, s.Begin(0, sink, 60_000))

	assert.ErrorIs(t, s.Snap(), capture.ErrNoFrameYet)

	src.set(1)
	require.NoError(t, s.Snap())
	require.NoError(t, s.Snap())
	assert.Equal(t, 1, sink.count())

	src.set(2)
	require.NoError(t, s.Snap())
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, 2, s.Job().Saved)
	assert.Equal(t, []byte{0xff, 0xd8}, sink.saved[0][:2])
}

func TestSchedulerTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{}
	src.set(7)
	s := New(ctx, src)
	sink := &memSink{}

	assert.Error(t, s.Begin(0, sink, 1))
	require.NoError(t, s.Begin(0, sink, 100))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Nil(t, s.Job())
}
