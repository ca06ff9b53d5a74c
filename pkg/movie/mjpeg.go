package movie

import (
	"bytes"
	"math"
	"os"

	"github.com/goccy/go-json"
	"github.com/icza/mjpeg"

	"iidc-capture/pkg/utils/image"
)

// TimestampSuffix names the sidecar file holding per-frame timestamps.
const TimestampSuffix = ".pts.json"

// MJPEGWriter writes Motion-JPEG AVI files.
type MJPEGWriter struct{}

func (MJPEGWriter) Create(spec Spec) (Movie, error) {
	_, quality, err := ParseCodec(spec.Codec)
	if err != nil {
		return nil, err
	}
	fps := int32(math.Max(1, math.Round(spec.FPS)))
	aw, err := mjpeg.New(spec.Path, int32(spec.Width), int32(spec.Height), fps)
	if err != nil {
		return nil, err
	}

	return &mjpegMovie{
		spec:    spec,
		quality: quality,
		aw:      aw,
	}, nil
}

type mjpegMovie struct {
	spec    Spec
	quality int

	cnt int
	aw  mjpeg.AviWriter
	buf bytes.Buffer
	pts []float64
}

func (m *mjpegMovie) PushFrame(data []byte, pts float64) error {
	m.buf.Reset()
	err := image.EncodeFrame(&m.buf, data, m.spec.Width, m.spec.Height, m.spec.Layers, m.spec.BitDepth, m.quality)
	if err != nil {
		return err
	}
	if err = m.aw.AddFrame(m.buf.Bytes()); err != nil {
		return err
	}
	m.cnt++
	m.pts = append(m.pts, pts)

	return nil
}

type timestamps struct {
	FPS    float64   `json:"fps"`
	Frames int       `json:"frames"`
	PTS    []float64 `json:"pts"`
}

func (m *mjpegMovie) Finalize() error {
	if err := m.aw.Close(); err != nil {
		return err
	}
	data, err := json.Marshal(timestamps{FPS: m.spec.FPS, Frames: m.cnt, PTS: m.pts})
	if err != nil {
		return err
	}
	return os.WriteFile(m.spec.Path+TimestampSuffix, data, 0o644)
}

func (m *mjpegMovie) Frames() int {
	return m.cnt
}
