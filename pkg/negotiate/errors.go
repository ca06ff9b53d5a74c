package negotiate

import "errors"

// Configuration errors. They are detected before the camera is programmed.
var (
	// ErrNoSatisfyingMode means no standard or extended mode meets the request.
	ErrNoSatisfyingMode = errors.New("no video mode satisfies the requested format")
	// ErrTooManyLayers is returned for more than 4 requested layers.
	ErrTooManyLayers = errors.New("at most 4 layers can be requested")
	// ErrInvalidBitDepth is returned for depths outside 1..16.
	ErrInvalidBitDepth = errors.New("bit depth must be between 1 and 16")
)
