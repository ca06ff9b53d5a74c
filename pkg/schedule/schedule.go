// Package schedule saves the latest frame of a capture device into a
// recording session at a fixed interval.
package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/storage/consts"
	"iidc-capture/pkg/utils"
	"iidc-capture/pkg/utils/image"
)

const DefaultQuality = 90

// Source hands out the most recently delivered frame of a device.
type Source interface {
	Latest(handle int) (capture.Texture, error)
}

// Sink stores encoded snapshots.
type Sink interface {
	SaveSnapshot(jpeg []byte) (string, error)
}

// Job describes what the scheduler is currently saving.
type Job struct {
	Handle int `json:"handle"`
	// ms
	Interval int    `json:"interval"`
	Saved    int    `json:"saved"`
	Last     string `json:"last,omitempty"`
}

type Scheduler struct {
	t    *time.Ticker
	src  Source
	lock sync.Mutex
	job  *Job
	sink Sink

	quality int
	// lastIndex skips frames that were already saved
	lastIndex int64

	logger *zap.SugaredLogger
}

func New(ctx context.Context, src Source) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:         t,
		src:       src,
		quality:   DefaultQuality,
		lastIndex: -1,
		logger:    utils.GetLogger(),
	}
	s.startDeal(ctx)

	return s
}

// Begin starts saving snapshots of handle into sink every interval ms,
// replacing any running job.
func (s *Scheduler) Begin(handle int, sink Sink, interval int) error {
	if interval < consts.MinSnapshotInterval {
		return fmt.Errorf("interval %dms less than %dms", interval, consts.MinSnapshotInterval)
	}
	s.lock.Lock()
	s.job = &Job{Handle: handle, Interval: interval}
	s.sink = sink
	s.lastIndex = -1
	s.lock.Unlock()
	s.t.Reset(utils.MsToDuration(interval))
	s.logger.Infof("scheduler: snapshots of device %d every %dms", handle, interval)

	return nil
}

func (s *Scheduler) Stop() {
	s.t.Stop()
	s.lock.Lock()
	s.job, s.sink = nil, nil
	s.lock.Unlock()
	s.logger.Info("scheduler: stopped")
}

// Job returns a copy of the running job, or nil.
func (s *Scheduler) Job() *Job {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.job == nil {
		return nil
	}
	j := *s.job

	return &j
}

// Snap saves one snapshot of the running job now.
func (s *Scheduler) Snap() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.job == nil {
		return errors.New("no snapshot job")
	}

	return s.snapLocked()
}

func (s *Scheduler) snapLocked() error {
	tex, err := s.src.Latest(s.job.Handle)
	if err != nil {
		return err
	}
	if tex.Index == s.lastIndex {
		return nil
	}
	var buf bytes.Buffer
	if err = image.EncodeFrame(&buf, tex.Data, tex.Width, tex.Height, tex.Layers, tex.BitDepth, s.quality); err != nil {
		return err
	}
	name, err := s.sink.SaveSnapshot(buf.Bytes())
	if err != nil {
		return err
	}
	s.lastIndex = tex.Index
	s.job.Saved++
	s.job.Last = name

	return nil
}

func (s *Scheduler) startDeal(ctx context.Context) {
	go func(s *Scheduler) {
		for {
			select {
			case start := <-s.t.C:
				s.lock.Lock()
				if s.job == nil {
					s.lock.Unlock()
					s.logger.Warn("scheduler: tick without a job")
					continue
				}
				err := s.snapLocked()
				s.lock.Unlock()
				switch {
				case errors.Is(err, capture.ErrNoFrameYet):
					s.logger.Debug("scheduler: no frame yet")
				case err != nil:
					s.logger.Errorf("scheduler: snapshot err: %s", err)
				default:
					s.logger.Debugf("scheduler: took %s to save the snapshot", time.Since(start))
				}
			case <-ctx.Done():
				s.t.Stop()
				s.logger.Info("scheduler: stopped!")
				return
			}
		}
	}(s)
}
