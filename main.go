package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/config"
	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/driver/sim"
	"iidc-capture/pkg/driver/v4l2"
	"iidc-capture/pkg/schedule"
	"iidc-capture/pkg/server"
	"iidc-capture/pkg/storage"
	"iidc-capture/pkg/utils"
	"iidc-capture/pkg/webdav"
)

var (
	configFile = flag.String("config", "", "json config file, defaults apply when empty")
	port       = flag.Int("port", 0, "api port, overrides the config")
	webdavPort = flag.Int("webdav-port", 0, "webdav port, overrides the config")
	storageDir = flag.String("dir", "", "storage directory, overrides the config")
	staticsDir = flag.String("statics", "", "ui directory served under /ui")
	backend    = flag.String("backend", "", "camera backend: sim or v4l2")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func loadConfig() config.Config {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			logger.Fatal(err)
		}
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *webdavPort != 0 {
		cfg.Server.WebdavPort = *webdavPort
	}
	if *storageDir != "" {
		cfg.Storage.Dir = *storageDir
	}
	if *staticsDir != "" {
		cfg.Server.StaticsDir = *staticsDir
	}
	if *backend != "" {
		cfg.Driver.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}
	return cfg
}

func newDriver(ctx context.Context, cfg config.Driver) driver.Driver {
	if cfg.Backend == config.BackendV4L2 {
		devices := cfg.Devices
		if len(devices) == 0 {
			devices = []string{"/dev/video0"}
		}
		return v4l2.New(ctx, devices)
	}

	bus := sim.NewBus()
	for i := 0; i < cfg.SimCameras; i++ {
		bus.Add(sim.DefaultSpec(i))
	}
	go bus.Run(ctx, utils.MsToDuration(cfg.SimFramePeriod))
	logger.Infof("simulated bus with %d cameras", cfg.SimCameras)
	return bus
}

func main() {
	defer logger.Sync()
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := cfg.Engine.Options()
	if err != nil {
		logger.Fatal(err)
	}
	eng := capture.New(newDriver(ctx, cfg.Driver), capture.WithOptions(opts))
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Errorf("close engine: %s", err)
		}
	}()
	if cfg.Engine.NTPServer != "" {
		ntpCtx, ntpCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := eng.SyncNTP(ntpCtx, cfg.Engine.NTPServer); err != nil {
			logger.Warnf("ntp sync with %s: %s", cfg.Engine.NTPServer, err)
		}
		ntpCancel()
	}

	stg, err := storage.New(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal(err)
	}
	defer stg.Close()

	if cfg.Server.StaticsDir != "" {
		if info, err := os.Stat(cfg.Server.StaticsDir); err != nil || !info.IsDir() {
			logger.Fatalf("the specified directory %s does not exist", cfg.Server.StaticsDir)
		}
	}

	sched := schedule.New(ctx, eng)
	dav := webdav.New(ctx, cfg.Server.WebdavPort, stg.Root())
	defer dav.Stop()

	srv := server.New(eng, stg, sched, dav, cfg.Server)
	utils.ListenAndServe(srv.Router(), cfg.Server.Port)
}
