package calib

import (
	"errors"
	"fmt"

	"github.com/banshee-data/ci.report/internal/camera"
)

var (
	ErrInvalidStage        = errors.New("invalid calibration stage")
	ErrMissingCoefficients = errors.New("missing calibration coefficients")
	ErrMissingTemperature  = errors.New("missing CCD temperature")
	ErrMissingExposureTime = errors.New("missing exposure time")
	ErrInvalidExposureTime = errors.New("invalid exposure time")
)

// Header keywords read during calibration.
const (
	TemperatureKey  = "CCDTEMP"
	ExposureTimeKey = "EXPTIME"
)

// Frame is one calibrated camera image in row-major order.
type Frame struct {
	Width  int
	Height int
	Pix    []float32
}

// FrameSet holds every calibrated camera of one exposure. All frames share
// Stage; Label and Unit describe it.
type FrameSet struct {
	Header camera.Header
	Frames map[string]*Frame
	Stage  Stage
	Label  string
	Unit   string
}

// Options controls one Calibrate call.
type Options struct {
	// Steps is the last stage to apply.
	Steps Stage
	// Coefficients overrides the pipeline's coefficients when non-nil.
	Coefficients Coefficients
	// CameraTemperatures supplies per-camera CCD temperatures for cameras
	// whose header lacks CCDTEMP.
	CameraTemperatures map[string]float64
	// DefaultTemperature is used for cameras with neither a header value nor
	// an entry in CameraTemperatures.
	DefaultTemperature *float64
}

// Pipeline applies a fixed set of per-camera coefficients. The coefficients
// are loaded once at startup and never change afterwards.
type Pipeline struct {
	coeffs Coefficients
}

// NewPipeline returns a pipeline using coeffs.
func NewPipeline(coeffs Coefficients) *Pipeline {
	return &Pipeline{coeffs: coeffs}
}

// Calibrate reads every CI camera present in c and applies stages up to
// opts.Steps. Any camera that cannot be calibrated to the requested stage
// fails the whole call, so a returned set is always uniformly labelled.
func (p *Pipeline) Calibrate(c camera.Container, opts Options) (*FrameSet, error) {
	if !opts.Steps.Valid() {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidStage, opts.Steps, Raw, GainCorrected)
	}
	coeffs := opts.Coefficients
	if coeffs == nil {
		coeffs = p.coeffs
	}

	set := &FrameSet{
		Header: c.Primary(),
		Frames: make(map[string]*Frame),
		Stage:  opts.Steps,
		Label:  opts.Steps.Label(),
		Unit:   opts.Steps.Unit(),
	}
	for _, name := range camera.All {
		ext, ok := c.Extension(name)
		if !ok {
			continue
		}
		frame, err := calibrateCamera(name, ext, c.Primary(), coeffs, opts)
		if err != nil {
			return nil, err
		}
		set.Frames[name] = frame
	}
	return set, nil
}

func calibrateCamera(name string, ext camera.Extension, primary camera.Header, coeffs Coefficients, opts Options) (*Frame, error) {
	img, err := ext.ReadImage()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	// Always upcast to 32-bit float; the raw image is never modified.
	frame := &Frame{Width: img.Width, Height: img.Height, Pix: make([]float32, len(img.Pix))}
	for i, v := range img.Pix {
		frame.Pix[i] = float32(v)
	}
	if opts.Steps < BiasSubtracted {
		return frame, nil
	}

	cc, ok := coeffs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingCoefficients, name)
	}
	hdr := ext.Header()

	frame.sub(cc.Bias)
	if opts.Steps < DarkSubtracted {
		return frame, nil
	}

	T, ok := hdr.Float(TemperatureKey)
	if !ok {
		T, ok = opts.CameraTemperatures[name]
	}
	if !ok {
		if opts.DefaultTemperature == nil {
			return nil, fmt.Errorf("%w: %s has no %s and no default: cannot subtract dark current", ErrMissingTemperature, name, TemperatureKey)
		}
		T = *opts.DefaultTemperature
	}
	frame.sub(cc.Dark(T))
	if opts.Steps < GainCorrected {
		return frame, nil
	}

	texp, ok := hdr.Float(ExposureTimeKey)
	if !ok {
		texp, ok = primary.Float(ExposureTimeKey)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s: cannot convert to elec/s", ErrMissingExposureTime, name, ExposureTimeKey)
	}
	if texp <= 0 {
		return nil, fmt.Errorf("%w: %s %s = %g <= 0", ErrInvalidExposureTime, name, ExposureTimeKey, texp)
	}
	frame.scale(cc.Gain / texp)
	return frame, nil
}

func (f *Frame) sub(v float64) {
	x := float32(v)
	for i := range f.Pix {
		f.Pix[i] -= x
	}
}

func (f *Frame) scale(v float64) {
	x := float32(v)
	for i := range f.Pix {
		f.Pix[i] *= x
	}
}

// At returns the pixel at column x, row y.
func (f *Frame) At(x, y int) float32 {
	return f.Pix[y*f.Width+x]
}
