package thumbnail

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ci.report/internal/calib"
)

// DefaultClip is the sigma-clipping threshold used for local offsets.
const DefaultClip = 4.0

var ErrBlockSize = errors.New("downsampling does not evenly divide image")

// Grid is a row-major float64 image.
type Grid struct {
	Width  int
	Height int
	Pix    []float64
}

// NewGrid returns a width x height grid filled with v.
func NewGrid(width, height int, v float64) *Grid {
	pix := make([]float64, width*height)
	for i := range pix {
		pix[i] = v
	}
	return &Grid{Width: width, Height: height, Pix: pix}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Pix[y*g.Width+x] }

func (g *Grid) set(x, y int, v float64) { g.Pix[y*g.Width+x] = v }

// SigmaClip repeatedly discards values further than low (high) population
// standard deviations below (above) the mean until nothing more is removed.
// NaN values are dropped up front.
func SigmaClip(data []float64, low, high float64) []float64 {
	c := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			c = append(c, v)
		}
	}
	for len(c) > 0 {
		mean, std := stat.PopMeanStdDev(c, nil)
		lo, hi := mean-std*low, mean+std*high
		kept := c[:0]
		for _, v := range c {
			if v >= lo && v <= hi {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(c) {
			break
		}
		c = kept
	}
	return c
}

// ClippedMean is the mean of the 4-sigma clipped pixels of f.
func ClippedMean(f *calib.Frame) float64 {
	data := make([]float64, len(f.Pix))
	for i, v := range f.Pix {
		data[i] = float64(v)
	}
	clipped := SigmaClip(data, DefaultClip, DefaultClip)
	if len(clipped) == 0 {
		return 0
	}
	return stat.Mean(clipped, nil)
}

// Median of values, averaging the two middle elements for even counts.
// values is reordered.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	slices.Sort(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// Percentile returns the p-th percentile (0..100) of values, interpolating
// linearly between the closest ranks. NaN values are ignored.
func Percentile(values []float64, p float64) float64 {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 {
		return math.NaN()
	}
	slices.Sort(x)
	pos := p / 100 * float64(len(x)-1)
	lo := int(math.Floor(pos))
	if lo >= len(x)-1 {
		return x[len(x)-1]
	}
	if lo < 0 {
		return x[0]
	}
	frac := pos - float64(lo)
	return x[lo] + frac*(x[lo+1]-x[lo])
}

// Downsample replaces each k x k block of f, less offset, with its median.
func Downsample(f *calib.Frame, k int, offset float64) (*Grid, error) {
	if k < 1 || f.Width%k != 0 || f.Height%k != 0 {
		return nil, fmt.Errorf("%w: %dx%d by %d", ErrBlockSize, f.Width, f.Height, k)
	}
	out := NewGrid(f.Width/k, f.Height/k, 0)
	block := make([]float64, k*k)
	for by := 0; by < out.Height; by++ {
		for bx := 0; bx < out.Width; bx++ {
			i := 0
			for y := by * k; y < (by+1)*k; y++ {
				row := f.Pix[y*f.Width+bx*k : y*f.Width+(bx+1)*k]
				for _, v := range row {
					block[i] = float64(v)
					i++
				}
			}
			floats.AddConst(-offset, block)
			out.set(bx, by, Median(block))
		}
	}
	return out, nil
}
