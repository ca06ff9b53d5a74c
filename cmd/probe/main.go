// Command probe prints the cameras of a backend with their modes and
// feature settings as JSON.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"iidc-capture/pkg/config"
	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/driver/sim"
	"iidc-capture/pkg/driver/v4l2"
)

type featureReport struct {
	Values []float64 `json:"values"`
	Auto   bool      `json:"auto"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

type cameraReport struct {
	driver.DeviceInfo
	Modes    []string                 `json:"modes"`
	Features map[string]featureReport `json:"features"`
	Smart    driver.SmartFeatures     `json:"smart"`
	Trigger  bool                     `json:"trigger"`
}

func main() {
	backend := config.BackendSim
	devices := "/dev/video0"
	simCameras := 2
	flag.StringVar(&backend, "backend", backend, "camera backend: sim or v4l2")
	flag.StringVar(&devices, "d", devices, "comma separated v4l2 device nodes")
	flag.IntVar(&simCameras, "sim", simCameras, "number of simulated cameras")
	flag.Parse()

	var drv driver.Driver
	switch backend {
	case config.BackendV4L2:
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		drv = v4l2.New(ctx, strings.Split(devices, ","))
	case config.BackendSim:
		bus := sim.NewBus()
		for i := 0; i < simCameras; i++ {
			bus.Add(sim.DefaultSpec(i))
		}
		drv = bus
	default:
		log.Fatalf("unknown backend %q", backend)
	}

	infos, err := drv.Enumerate()
	if err != nil {
		log.Fatalf("failed to enumerate cameras: %s", err)
	}
	reports := make([]cameraReport, 0, len(infos))
	for _, info := range infos {
		r, err := probe(drv, info)
		if err != nil {
			log.Printf("camera %d: %s", info.Index, err)
			continue
		}
		reports = append(reports, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(reports); err != nil {
		log.Fatal(err)
	}
}

func probe(drv driver.Driver, info driver.DeviceInfo) (cameraReport, error) {
	r := cameraReport{DeviceInfo: info, Features: make(map[string]featureReport)}
	cam, err := drv.Open(info.Index)
	if err != nil {
		return r, err
	}
	defer cam.Close()

	modes, err := cam.SupportedModes()
	if err != nil {
		return r, err
	}
	for _, m := range modes {
		r.Modes = append(r.Modes, m.String())
	}
	for _, f := range driver.Features() {
		st, err := cam.Feature(f)
		if err != nil {
			continue
		}
		r.Features[f.String()] = featureReport{Values: st.Values, Auto: st.Auto, Min: st.Min, Max: st.Max}
	}
	r.Smart = cam.SmartFeatures()
	r.Trigger = cam.SupportsTrigger()

	return r, nil
}
