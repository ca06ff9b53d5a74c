package capture

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	ErrInvalidSyncMode    = errors.New("invalid sync mode")
	ErrTriggerUnsupported = errors.New("camera has no external trigger")
	ErrAlreadyActive      = errors.New("capture already active")
	ErrNotActive          = errors.New("capture not active")
	ErrUnknownParameter   = errors.New("unknown parameter")
)

// Runtime errors.
var (
	// ErrNoFrameYet is returned by a polling fetch when nothing is ready.
	ErrNoFrameYet = errors.New("no frame available yet")
	// ErrTerminated means the capture loop stopped and no more frames will
	// arrive.
	ErrTerminated   = errors.New("capture loop terminated")
	ErrFetchTimeout = errors.New("timed out waiting for frame")
	ErrCorruptFrame = errors.New("corrupt frame")
)

// Synchronization and resource errors.
var (
	ErrSyncSetupFailed = errors.New("sync session setup failed")
	ErrInvalidHandle   = errors.New("invalid device handle")
	ErrDeviceClosed    = errors.New("device closed")
)

// SyncError reports the step a synchronized start failed at and the devices
// that were rolled back to idle.
type SyncError struct {
	Step       string
	RolledBack []int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s (rolled back %v): %v", ErrSyncSetupFailed, e.Step, e.RolledBack, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrSyncSetupFailed, e.Err}
}
