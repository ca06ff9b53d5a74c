// Package v4l2 drives USB video-class cameras through go4vl. It maps the
// device's discrete frame sizes to standard modes; bus, trigger and smart
// feature calls report driver.ErrUnsupported.
package v4l2

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"go.uber.org/zap"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/utils"
)

const DefaultDevice = "/dev/video0"

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type Driver struct {
	ctx   context.Context
	paths []string

	lock   sync.Mutex
	opened map[int]bool
}

// New returns a driver over the given device nodes.
func New(ctx context.Context, paths []string) *Driver {
	if len(paths) == 0 {
		paths = []string{DefaultDevice}
	}
	return &Driver{ctx: ctx, paths: paths, opened: make(map[int]bool)}
}

func (d *Driver) Enumerate() ([]driver.DeviceInfo, error) {
	var infos []driver.DeviceInfo
	for i, p := range d.paths {
		dev, err := device.Open(p)
		if err != nil {
			logger.Debugf("skip %s: %s", p, err)
			continue
		}
		_ = dev.Close()
		infos = append(infos, driver.DeviceInfo{
			Index:  i,
			Vendor: "V4L2",
			Model:  filepath.Base(p),
		})
	}
	return infos, nil
}

func (d *Driver) Open(index int) (driver.Camera, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if index < 0 || index >= len(d.paths) {
		return nil, fmt.Errorf("%w: index %d", driver.ErrNoDevice, index)
	}
	if d.opened[index] {
		return nil, fmt.Errorf("%s: already open", d.paths[index])
	}
	c, err := newCamera(d, index, d.paths[index])
	if err != nil {
		return nil, err
	}
	d.opened[index] = true
	return c, nil
}

func (d *Driver) release(index int) {
	d.lock.Lock()
	delete(d.opened, index)
	d.lock.Unlock()
}
