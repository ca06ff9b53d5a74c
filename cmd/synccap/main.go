// Command synccap records a synchronized session from several simulated
// cameras: the first camera is the master, the others follow it in
// lock-step. Final counters are printed per device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/driver/sim"
	"iidc-capture/pkg/utils"
)

var logger = utils.GetLogger()

func parseStrategy(s string) (capture.Strategy, error) {
	switch s {
	case "soft":
		return capture.StrategySoft, nil
	case "bus":
		return capture.StrategyBus, nil
	case "hardware":
		return capture.StrategyHardware, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

func main() {
	n := flag.Int("n", 2, "number of cameras")
	strategy := flag.String("sync", "bus", "sync strategy: soft, bus or hardware")
	duration := flag.Duration("t", 3*time.Second, "capture duration")
	period := flag.Duration("period", 33*time.Millisecond, "simulated frame period")
	dir := flag.String("dir", "./synccap", "output directory for the movies")
	codec := flag.String("codec", "mjpeg:90", "movie codec")
	flag.Parse()
	defer logger.Sync()

	s, err := parseStrategy(*strategy)
	if err != nil {
		logger.Fatal(err)
	}
	if *n < 1 {
		logger.Fatal("need at least one camera")
	}
	if err = os.MkdirAll(*dir, 0o755); err != nil {
		logger.Fatal(err)
	}

	bus := sim.NewBus()
	for i := 0; i < *n; i++ {
		bus.Add(sim.DefaultSpec(i))
	}
	eng := capture.New(bus)
	defer eng.Close()

	handles := make([]int, *n)
	for i := range handles {
		h, err := eng.OpenDevice(capture.OpenOptions{
			DeviceIndex: i,
			ROI:         driver.Rect{Width: 640, Height: 480},
			Layers:      1,
			MovieFile:   filepath.Join(*dir, fmt.Sprintf("cam%d.avi", i)),
			Codec:       *codec,
		})
		if err != nil {
			logger.Fatalf("open camera %d: %s", i, err)
		}
		handles[i] = h

		var m capture.SyncMode
		if i == 0 {
			m, err = capture.Master(s)
		} else {
			m, err = capture.Slave(s, true)
		}
		if err == nil {
			err = eng.SetSyncMode(h, m)
		}
		if err != nil {
			logger.Fatalf("sync mode of camera %d: %s", i, err)
		}
	}

	// slaves arm first, the master start releases the group
	for i := len(handles) - 1; i >= 0; i-- {
		fps, err := eng.StartCapture(handles[i], eng.StartOptions())
		if err != nil {
			logger.Fatalf("start camera %d: %s", i, err)
		}
		logger.Infof("camera %d started at %.3f fps", i, fps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx, *period)

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error { return drain(eng, h) })
	}

	time.Sleep(*duration)
	if _, err = eng.StopCapture(handles[0]); err != nil {
		logger.Errorf("stop master: %s", err)
	}
	if err = g.Wait(); err != nil {
		logger.Error(err)
	}
	cancel()

	for i, h := range handles {
		st, err := eng.Stats(h)
		if err != nil {
			logger.Errorf("stats of camera %d: %s", i, err)
			continue
		}
		fmt.Printf("cam%d %-16s frames=%d pulled=%d dropped=%d corrupt=%d movie=%d interval=%.4fs±%.4f\n",
			i, st.SyncMode, st.FrameCounter, st.PulledFrameCounter, st.Dropped, st.Corrupt,
			st.MovieFrames, st.MeanInterval, st.IntervalStdDev)
	}
}

// drain consumes frames until the device's loop has terminated and its
// queue is empty.
func drain(eng *capture.Engine, h int) error {
	for {
		_, err := eng.Fetch(h, capture.FetchWait)
		switch {
		case err == nil, errors.Is(err, capture.ErrFetchTimeout):
		case errors.Is(err, capture.ErrTerminated):
			return nil
		default:
			return fmt.Errorf("fetch from device %d: %w", h, err)
		}
	}
}
