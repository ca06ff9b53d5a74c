// Package negotiate picks a camera mode for a requested pixel format, ROI and
// framerate. Standard modes are matched by exact size and discrete rate;
// extended modes by programming the ROI and sizing the transfer packet.
package negotiate

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"iidc-capture/pkg/driver"
	"iidc-capture/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

var (
	standardSizes = []driver.Rect{
		{Width: 160, Height: 120},
		{Width: 320, Height: 240},
		{Width: 640, Height: 480},
		{Width: 800, Height: 600},
		{Width: 1024, Height: 768},
		{Width: 1280, Height: 960},
		{Width: 1600, Height: 1200},
	}
	standardRates = []float64{1.875, 3.75, 7.5, 15, 30, 60, 120, 240}
)

const rateEpsilon = 1e-6

// rateTolerance is how far below the requested rate an extended mode may
// land after packet quantization.
const rateTolerance = 0.05

// Camera is what negotiation needs from a driver camera. SetROI is only
// called for extended-mode candidates that fit the mode's advertised limits.
type Camera interface {
	SupportedModes() ([]driver.Mode, error)
	SetROI(id driver.ModeID, roi driver.Rect) error
	ISOSpeed() driver.ISOSpeed
}

type Request struct {
	// Layers is 1 (luminance) or 3 (RGB); 2 and 4 are served as 1 and 3,
	// 0 takes the mode's native layout.
	Layers   int
	BitDepth int
	// ROI is the requested frame; a 1x1 rect at the origin means "largest".
	ROI driver.Rect
	// Framerate of 0 or less asks for the fastest rate available.
	Framerate      float64
	Conversion     ConversionMode
	PreferExtended bool
}

type Result struct {
	Mode       driver.Mode
	ROI        driver.Rect
	Framerate  float64
	PacketSize int
	Layers     int
	BitDepth   int
	Conversion ConversionMode
}

func (r Result) String() string {
	if r.Mode.Extended {
		return fmt.Sprintf("extended mode %d %s roi %s packet %d (%.3f fps), %d layers %d bit",
			r.Mode.ID, r.Mode.Coding, r.ROI, r.PacketSize, r.Framerate, r.Layers, r.BitDepth)
	}
	return fmt.Sprintf("mode %d %dx%d %s %.3f fps, %d layers %d bit",
		r.Mode.ID, r.Mode.Width, r.Mode.Height, r.Mode.Coding, r.Framerate, r.Layers, r.BitDepth)
}

func normalize(req Request) (Request, error) {
	switch {
	case req.Layers > 4:
		return req, fmt.Errorf("%w: %d requested", ErrTooManyLayers, req.Layers)
	case req.Layers == 2:
		logger.Warnf("negotiate: 2 layers not supported, delivering luminance only")
		req.Layers = 1
	case req.Layers == 4:
		logger.Warnf("negotiate: 4 layers not supported, delivering RGB without alpha")
		req.Layers = 3
	case req.Layers < 0:
		req.Layers = 0
	}
	if req.BitDepth == 0 {
		req.BitDepth = 8
	}
	if req.BitDepth < 1 || req.BitDepth > 16 {
		return req, fmt.Errorf("%w: %d", ErrInvalidBitDepth, req.BitDepth)
	}
	if !req.Conversion.Valid() {
		return req, fmt.Errorf("invalid data conversion mode %d", req.Conversion)
	}
	if req.ROI.Width <= 0 || req.ROI.Height <= 0 {
		req.ROI = driver.Rect{Width: 1, Height: 1}
	}
	return req, nil
}

// IsStandardRequest reports whether a standard mode could serve req exactly:
// the ROI is "largest" or a standard size at the origin, and the rate is one
// of the standard IIDC rates.
func IsStandardRequest(req Request) bool {
	if !req.ROI.DontCare() {
		if req.ROI.Left != 0 || req.ROI.Top != 0 {
			return false
		}
		found := false
		for _, s := range standardSizes {
			if s.Width == req.ROI.Width && s.Height == req.ROI.Height {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if req.Framerate <= 0 {
		return true
	}
	for _, r := range standardRates {
		if math.Abs(r-req.Framerate) < rateEpsilon {
			return true
		}
	}
	return false
}

// Negotiate selects the best mode of cam for req. Requests that fall outside
// every mode's capability fail with ErrNoSatisfyingMode before any camera call
// that changes state.
func Negotiate(cam Camera, req Request) (Result, error) {
	req, err := normalize(req)
	if err != nil {
		return Result{}, err
	}
	modes, err := cam.SupportedModes()
	if err != nil {
		return Result{}, fmt.Errorf("query modes: %w", err)
	}

	passes := []func() (Result, bool){
		func() (Result, bool) { return standardPass(modes, req) },
		func() (Result, bool) { return extendedPass(cam, modes, req) },
	}
	if req.PreferExtended || !IsStandardRequest(req) {
		passes[0], passes[1] = passes[1], passes[0]
	}
	for _, pass := range passes {
		if res, ok := pass(); ok {
			logger.Debugf("negotiate: %s", res)
			return res, nil
		}
	}

	return Result{}, fmt.Errorf("%w: roi %s, %.3f fps, %d layers, %d bit, %s",
		ErrNoSatisfyingMode, req.ROI, req.Framerate, req.Layers, req.BitDepth, req.Conversion)
}

func accepts(req Request, coding driver.ColorCoding) (int, bool) {
	layers := req.Layers
	if layers == 0 {
		layers = nativeLayers(coding, req.Conversion)
	}
	return layers, AcceptsCoding(layers, req.BitDepth, coding, req.Conversion)
}

// pickRate returns the slowest rate at or above want, or the fastest rate
// and false when none is fast enough.
func pickRate(rates []float64, want float64) (float64, bool) {
	fastest := 0.0
	for _, r := range rates {
		fastest = math.Max(fastest, r)
	}
	if want <= 0 {
		return fastest, len(rates) > 0
	}
	best, ok := 0.0, false
	for _, r := range rates {
		if r >= want-rateEpsilon && (!ok || r < best) {
			best, ok = r, true
		}
	}
	if !ok {
		return fastest, false
	}
	return best, true
}

type candidate struct {
	mode   driver.Mode
	layers int
	rate   float64
	meets  bool
}

// better orders standard candidates: larger area first when the ROI is free,
// then meeting the rate, then the slower sufficient rate, then non-YUV.
func better(a, b candidate, dontCare bool) bool {
	if dontCare {
		if aa, ba := a.mode.Width*a.mode.Height, b.mode.Width*b.mode.Height; aa != ba {
			return aa > ba
		}
		if a.meets != b.meets {
			return a.meets
		}
		if !a.meets && a.rate != b.rate {
			return a.rate > b.rate
		}
	}
	if a.rate != b.rate {
		return a.rate < b.rate
	}
	return !a.mode.Coding.IsYUV() && b.mode.Coding.IsYUV()
}

func standardPass(modes []driver.Mode, req Request) (Result, bool) {
	dontCare := req.ROI.DontCare()
	var (
		best  candidate
		found bool
	)
	for _, m := range modes {
		if m.Extended {
			continue
		}
		layers, ok := accepts(req, m.Coding)
		if !ok {
			continue
		}
		if !dontCare && (req.ROI.Left != 0 || req.ROI.Top != 0 ||
			m.Width != req.ROI.Width || m.Height != req.ROI.Height) {
			continue
		}
		rate, meets := pickRate(m.Framerates, req.Framerate)
		if !dontCare && !meets {
			continue
		}
		c := candidate{mode: m, layers: layers, rate: rate, meets: meets}
		if !found || better(c, best, dontCare) {
			best, found = c, true
		}
	}
	if !found {
		return Result{}, false
	}

	return Result{
		Mode:       best.mode,
		ROI:        driver.Rect{Width: best.mode.Width, Height: best.mode.Height},
		Framerate:  best.rate,
		Layers:     best.layers,
		BitDepth:   req.BitDepth,
		Conversion: req.Conversion,
	}, true
}

// fits screens roi against an extended mode's limits without touching the
// camera.
func fits(m driver.Mode, roi driver.Rect) bool {
	if roi.Width <= 0 || roi.Height <= 0 || roi.Left < 0 || roi.Top < 0 {
		return false
	}
	if roi.Left+roi.Width > m.MaxWidth || roi.Top+roi.Height > m.MaxHeight {
		return false
	}
	if uw := m.UnitWidth; uw > 0 && (roi.Width%uw != 0 || roi.Left%uw != 0) {
		return false
	}
	if uh := m.UnitHeight; uh > 0 && (roi.Height%uh != 0 || roi.Top%uh != 0) {
		return false
	}
	return true
}

func extendedPass(cam Camera, modes []driver.Mode, req Request) (Result, bool) {
	period := cam.ISOSpeed().BusPeriod()
	var (
		best     Result
		bestDiff = math.Inf(1)
	)
	for _, m := range modes {
		if !m.Extended {
			continue
		}
		layers, ok := accepts(req, m.Coding)
		if !ok {
			continue
		}
		roi := req.ROI
		if roi.DontCare() {
			roi = driver.Rect{Width: m.MaxWidth, Height: m.MaxHeight}
		}
		if !fits(m, roi) {
			continue
		}

		depth := m.TransferDepth()
		packet := PacketSize(roi.Width, roi.Height, depth, period, req.Framerate, m.PacketMin, m.PacketMax)
		fps := EffectiveFramerate(roi.Width, roi.Height, depth, period, packet)
		if req.Framerate > 0 && fps < req.Framerate*(1-rateTolerance) {
			logger.Debugf("negotiate: mode %d tops out at %.3f fps for roi %s", m.ID, fps, roi)
			continue
		}
		diff := math.Abs(fps - req.Framerate)
		if req.Framerate <= 0 {
			diff = -fps
		}
		if diff >= bestDiff {
			continue
		}
		if err := cam.SetROI(m.ID, roi); err != nil {
			logger.Debugf("negotiate: mode %d rejected roi %s: %s", m.ID, roi, err)
			continue
		}
		bestDiff = diff
		best = Result{
			Mode:       m,
			ROI:        roi,
			Framerate:  fps,
			PacketSize: packet,
			Layers:     layers,
			BitDepth:   req.BitDepth,
			Conversion: req.Conversion,
		}
	}
	return best, !math.IsInf(bestDiff, 1)
}

// Apply programs cam with a negotiated result.
func Apply(cam driver.Camera, res Result) error {
	if err := cam.SetMode(res.Mode.ID); err != nil {
		return fmt.Errorf("set mode %d: %w", res.Mode.ID, err)
	}
	if !res.Mode.Extended {
		if err := cam.SetFramerate(res.Framerate); err != nil {
			return fmt.Errorf("set framerate %.3f: %w", res.Framerate, err)
		}
		return nil
	}
	if err := cam.SetROI(res.Mode.ID, res.ROI); err != nil {
		return fmt.Errorf("set roi %s: %w", res.ROI, err)
	}
	if err := cam.SetPacketSize(res.Mode.ID, res.PacketSize); err != nil {
		return fmt.Errorf("set packet size %d: %w", res.PacketSize, err)
	}
	return nil
}
