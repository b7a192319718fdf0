// Package thumbnail renders a downsampled five-camera mosaic of one
// calibrated exposure.
package thumbnail

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ci.report/internal/calib"
	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/monitoring"
)

var (
	ErrNoFrames      = errors.New("no calibrated frames")
	ErrInvalidLimits = errors.New("expected vmin < vmax")
)

// Limit is a colour scale bound, either a data value or a percentile of the
// downsampled pixels.
type Limit struct {
	Value      float64
	Percentile bool
}

// Percent returns a percentile limit.
func Percent(p float64) Limit { return Limit{Value: p, Percentile: true} }

// Value returns a fixed limit.
func Value(v float64) Limit { return Limit{Value: v} }

type Options struct {
	Downsampling int
	// LocalOffsets subtracts each camera's clipped mean before downsampling.
	LocalOffsets bool
	VMin, VMax   Limit
	// Caption draws the header metadata above the mosaic.
	Caption  bool
	Size     vg.Length
	Location *time.Location
	Verbose  bool
}

// DefaultOptions matches the nightly summary thumbnails.
func DefaultOptions() Options {
	return Options{
		Downsampling: 16,
		LocalOffsets: true,
		VMin:         Percent(0.5),
		VMax:         Percent(99.5),
		Caption:      true,
		Size:         12 * vg.Inch,
	}
}

// Thumbnail is a rendered-ready mosaic.
type Thumbnail struct {
	Mosaic  *Grid
	Offsets map[string]float64
	VMin    float64
	VMax    float64
	Caption []string
	Label   string
	Unit    string
}

// Build reduces set to a mosaic and resolves the colour limits.
func Build(set *calib.FrameSet, opts Options) (*Thumbnail, error) {
	if set == nil || len(set.Frames) == 0 {
		return nil, ErrNoFrames
	}
	if opts.Downsampling == 0 {
		opts.Downsampling = 16
	}

	t := &Thumbnail{Offsets: make(map[string]float64), Label: set.Label, Unit: set.Unit}
	cams := make(map[string]*Grid, len(set.Frames))
	var all []float64
	for _, name := range camera.All {
		f, ok := set.Frames[name]
		if !ok {
			continue
		}
		if opts.LocalOffsets {
			t.Offsets[name] = ClippedMean(f)
			monitoring.Verbosef(opts.Verbose, "%s offset %g %s", name, t.Offsets[name], set.Unit)
		}
		g, err := Downsample(f, opts.Downsampling, t.Offsets[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cams[name] = g
		all = append(all, g.Pix...)
	}

	t.VMin, t.VMax = opts.VMin.Value, opts.VMax.Value
	if opts.VMin.Percentile {
		t.VMin = Percentile(all, opts.VMin.Value)
	}
	if opts.VMax.Percentile {
		t.VMax = Percentile(all, opts.VMax.Value)
	}
	if !(t.VMin < t.VMax) {
		return nil, fmt.Errorf("%w: got %g, %g", ErrInvalidLimits, t.VMin, t.VMax)
	}

	mosaic, err := Mosaic(cams)
	if err != nil {
		return nil, err
	}
	t.Mosaic = mosaic

	if opts.Caption {
		if t.Caption, err = Caption(set.Header, opts.Location); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// gridXYZ adapts a Grid to plotter.GridXYZ.
type gridXYZ struct{ g *Grid }

func (x gridXYZ) Dims() (c, r int)   { return x.g.Width, x.g.Height }
func (x gridXYZ) Z(c, r int) float64 { return x.g.At(c, r) }
func (x gridXYZ) X(c int) float64    { return float64(c) }
func (x gridXYZ) Y(r int) float64    { return float64(r) }

// heatPalette runs from white through yellow and red to black.
func heatPalette() palette.Palette {
	return palette.Reverse(moreland.BlackBody()).Palette(256)
}

// Plot lays out the mosaic as a heat map with light colours for low values.
func (t *Thumbnail) Plot() *plot.Plot {
	p := plot.New()
	p.HideAxes()
	if len(t.Caption) > 0 {
		p.Title.Text = strings.Join(t.Caption, "\n")
	}

	pal := heatPalette()
	colors := pal.Colors()
	hm := plotter.NewHeatMap(gridXYZ{t.Mosaic}, pal)
	hm.Min, hm.Max = t.VMin, t.VMax
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.NaN = color.White
	hm.Rasterized = true
	p.Add(hm)
	return p
}

// Save writes the thumbnail to path; the extension selects the format.
func (t *Thumbnail) Save(path string, size vg.Length) error {
	if size <= 0 {
		size = 12 * vg.Inch
	}
	if err := t.Plot().Save(size, size, path); err != nil {
		return fmt.Errorf("failed to save thumbnail %s: %w", path, err)
	}
	return nil
}

// Render builds and saves the thumbnail of set.
func Render(set *calib.FrameSet, opts Options, path string) (*Thumbnail, error) {
	t, err := Build(set, opts)
	if err != nil {
		return nil, err
	}
	if err := t.Save(path, opts.Size); err != nil {
		return nil, err
	}
	return t, nil
}
