package driver

import (
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned for capabilities the backend or camera lacks.
	ErrUnsupported  = errors.New("not supported by camera")
	ErrNotStreaming = errors.New("stream not started")
	ErrStreaming    = errors.New("stream already started")
	ErrClosed       = errors.New("camera closed")
	ErrNoDevice     = errors.New("no such device")
	ErrInvalidMode  = errors.New("invalid mode")
	ErrInvalidROI   = errors.New("roi rejected by camera")
)

// Driver enumerates and opens cameras.
type Driver interface {
	Enumerate() ([]DeviceInfo, error)
	Open(index int) (Camera, error)
}

// Camera is an opened IIDC-style camera. Implementations must be safe for
// concurrent use by one capture loop and one control caller.
type Camera interface {
	Info() DeviceInfo
	Close() error

	SupportedModes() ([]Mode, error)
	SetMode(id ModeID) error
	SetROI(id ModeID, roi Rect) error
	SetFramerate(fps float64) error
	SetPacketSize(id ModeID, size int) error
	ISOSpeed() ISOSpeed
	SetISOSpeed(speed ISOSpeed) error

	// StartStream allocates a DMA ring of numBuffers and arms capture.
	// Frames only arrive once transmission is switched on.
	StartStream(numBuffers int) error
	StopStream() error
	SetTransmission(on bool) error
	// SetBroadcast makes subsequent SetTransmission calls apply to every
	// camera on the bus.
	SetBroadcast(on bool) error

	// Dequeue returns the oldest filled buffer. With Poll it returns
	// (nil, nil) when none is ready.
	Dequeue(policy DequeuePolicy) (*Frame, error)
	Requeue(f *Frame) error

	SupportsTrigger() bool
	SetTriggerMode(mode TriggerMode) error
	// SetTriggerPower enables reception of the external trigger.
	SetTriggerPower(on bool) error
	SetTriggerSource(src TriggerSource) error
	SetTriggerPolarity(p TriggerPolarity) error

	SetPower(on bool) error
	Reset() error

	// QueryBandwidth reports the isochronous bandwidth units in use.
	QueryBandwidth() (int, error)
	// QueryBusCycleTime samples the bus cycle-time register together with
	// the local wall-clock time of the sample.
	QueryBusCycleTime() (uint32, time.Time, error)
	// NativeClock reads the clock Frame.Timestamp is expressed in.
	NativeClock() time.Duration

	Feature(f Feature) (FeatureState, error)
	SetFeature(f Feature, values ...float64) error
	SetFeatureAuto(f Feature) error

	SmartFeatures() SmartFeatures
	EnableSmartFeatures(sff SmartFeatures) error
	SetGPIO(pin int, on bool) error
}
