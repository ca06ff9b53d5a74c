// Package config holds the process configuration, stored as JSON.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"iidc-capture/pkg/capture"
	"iidc-capture/pkg/negotiate"
	"iidc-capture/pkg/preprocess"
	"iidc-capture/pkg/utils"
)

const (
	BackendSim  = "sim"
	BackendV4L2 = "v4l2"
)

type Config struct {
	Engine  Engine  `json:"engine"`
	Driver  Driver  `json:"driver"`
	Server  Server  `json:"server"`
	Storage Storage `json:"storage"`
}

// Engine mirrors capture.Options with JSON friendly units.
type Engine struct {
	NumDMABuffers int  `json:"numDmaBuffers"`
	DropFrames    bool `json:"dropFrames"`
	AsyncRecorder bool `json:"asyncRecorder"`
	// ms
	LockstepTimeout int `json:"lockstepTimeout"`
	// ms
	FetchTimeout int `json:"fetchTimeout"`

	CorruptFramePolicy      string `json:"corruptFramePolicy"`
	UseBusTimestamps        bool   `json:"useBusTimestamps"`
	UseHardwareFrameCounter bool   `json:"useHardwareFrameCounter"`
	ValidateChecksum        bool   `json:"validateChecksum"`

	DataConversionMode int    `json:"dataConversionMode"`
	DebayerMethod      string `json:"debayerMethod"`
	MaxQueuedFrames    int    `json:"maxQueuedFrames"`

	// NTPServer is queried once at startup; empty disables NTP.
	NTPServer string `json:"ntpServer"`
}

type Driver struct {
	Backend string `json:"backend"`
	// Devices lists the V4L2 device nodes.
	Devices []string `json:"devices,omitempty"`
	// SimCameras is the number of cameras on the simulated bus.
	SimCameras int `json:"simCameras"`
	// ms
	SimFramePeriod int `json:"simFramePeriod"`
}

type Server struct {
	Port       int    `json:"port"`
	WebdavPort int    `json:"webdavPort"`
	StaticsDir string `json:"staticsDir,omitempty"`
	// PreviewWidth bounds the width of MJPEG preview frames.
	PreviewWidth   int `json:"previewWidth"`
	PreviewQuality int `json:"previewQuality"`
}

type Storage struct {
	Dir string `json:"dir"`
}

func Default() Config {
	o := capture.DefaultOptions()
	return Config{
		Engine: Engine{
			NumDMABuffers:           o.NumDMABuffers,
			DropFrames:              o.DropFrames,
			AsyncRecorder:           o.AsyncRecorder,
			LockstepTimeout:         int(o.LockstepTimeout / time.Millisecond),
			FetchTimeout:            int(o.FetchTimeout / time.Millisecond),
			CorruptFramePolicy:      o.CorruptFramePolicy.String(),
			UseBusTimestamps:        o.UseBusTimestamps,
			UseHardwareFrameCounter: o.UseHardwareFrameCounter,
			ValidateChecksum:        o.ValidateChecksum,
			DataConversionMode:      int(o.Conversion),
			DebayerMethod:           o.DebayerMethod.String(),
			MaxQueuedFrames:         o.MaxQueuedFrames,
		},
		Driver: Driver{
			Backend:        BackendSim,
			SimCameras:     2,
			SimFramePeriod: 33,
		},
		Server: Server{
			Port:           9999,
			WebdavPort:     9998,
			PreviewWidth:   640,
			PreviewQuality: 75,
		},
		Storage: Storage{
			Dir: "./iidc-capture",
		},
	}
}

// Load reads path over the defaults; fields missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c Config) Validate() error {
	switch c.Driver.Backend {
	case BackendSim, BackendV4L2:
	default:
		return fmt.Errorf("unknown driver backend %q", c.Driver.Backend)
	}
	if c.Engine.NumDMABuffers < 1 {
		return fmt.Errorf("numDmaBuffers must be positive, got %d", c.Engine.NumDMABuffers)
	}
	if !negotiate.ConversionMode(c.Engine.DataConversionMode).Valid() {
		return fmt.Errorf("invalid dataConversionMode %d", c.Engine.DataConversionMode)
	}
	_, err := c.Engine.Options()
	return err
}

// Options converts the engine section to capture options.
func (e Engine) Options() (capture.Options, error) {
	o := capture.DefaultOptions()
	policy, err := capture.ParseCorruptPolicy(e.CorruptFramePolicy)
	if err != nil {
		return o, err
	}
	method, err := preprocess.ParseDebayerMethod(e.DebayerMethod)
	if err != nil {
		return o, err
	}
	o.NumDMABuffers = e.NumDMABuffers
	o.DropFrames = e.DropFrames
	o.AsyncRecorder = e.AsyncRecorder
	o.LockstepTimeout = utils.MsToDuration(e.LockstepTimeout)
	o.FetchTimeout = utils.MsToDuration(e.FetchTimeout)
	o.CorruptFramePolicy = policy
	o.UseBusTimestamps = e.UseBusTimestamps
	o.UseHardwareFrameCounter = e.UseHardwareFrameCounter
	o.ValidateChecksum = e.ValidateChecksum
	o.Conversion = negotiate.ConversionMode(e.DataConversionMode)
	o.DebayerMethod = method
	if e.MaxQueuedFrames > 0 {
		o.MaxQueuedFrames = e.MaxQueuedFrames
	}
	return o, nil
}
