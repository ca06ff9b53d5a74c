package driver

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// TrailerSize is the length of the smart-feature block appended after the
// pixel payload.
const TrailerSize = 12

var ErrShortTrailer = errors.New("frame trailer too short")

// Trailer is the per-frame metadata a camera embeds when smart features
// are enabled. Fields of disabled features are zero.
type Trailer struct {
	FrameCounter uint32
	CycleTime    uint32
	Checksum     uint32
}

func DecodeTrailer(b []byte) (Trailer, error) {
	if len(b) < TrailerSize {
		return Trailer{}, ErrShortTrailer
	}
	return Trailer{
		FrameCounter: binary.BigEndian.Uint32(b[0:4]),
		CycleTime:    binary.BigEndian.Uint32(b[4:8]),
		Checksum:     binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

func EncodeTrailer(dst []byte, t Trailer) {
	binary.BigEndian.PutUint32(dst[0:4], t.FrameCounter)
	binary.BigEndian.PutUint32(dst[4:8], t.CycleTime)
	binary.BigEndian.PutUint32(dst[8:12], t.Checksum)
}

// Checksum is the payload checksum cameras store in the trailer.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
