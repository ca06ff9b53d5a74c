// Package movie records processed frames. Writer is the recording backend;
// Sink is the bounded in-memory stage frames are pulled back from when every
// frame must reach the client.
package movie

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Spec describes a movie to create.
type Spec struct {
	Path     string
	Width    int
	Height   int
	FPS      float64
	Layers   int
	BitDepth int
	// Codec is "mjpeg" or "mjpeg:<quality>"; empty means mjpeg.
	Codec string
}

type Writer interface {
	Create(spec Spec) (Movie, error)
}

type Movie interface {
	// PushFrame appends one packed frame of the spec's geometry.
	PushFrame(data []byte, pts float64) error
	Finalize() error
	Frames() int
}

const DefaultQuality = 90

// ParseCodec splits a codec spec into its name and JPEG quality.
func ParseCodec(codec string) (string, int, error) {
	if codec == "" {
		return "mjpeg", DefaultQuality, nil
	}
	name, opt, _ := strings.Cut(strings.ToLower(codec), ":")
	if name != "mjpeg" {
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
	if opt == "" {
		return name, DefaultQuality, nil
	}
	q, err := strconv.Atoi(opt)
	if err != nil || q < 1 || q > 100 {
		return "", 0, fmt.Errorf("%w: bad quality in %q", ErrUnsupportedCodec, codec)
	}
	return name, q, nil
}
