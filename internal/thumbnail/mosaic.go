package thumbnail

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ci.report/internal/camera"
)

var ErrShapeMismatch = errors.New("camera images differ in shape")

// Mosaic places the downsampled cameras on one square grid as they sit on
// the sky. Each camera grid has ny rows and nx columns; the mosaic is
// nx+2*ny on a side with row 0 at the bottom. CIS is along the bottom, CIN
// along the top, CIE and CIW transposed at the left and right, and CIC in
// the centre. Uncovered pixels are NaN.
func Mosaic(cams map[string]*Grid) (*Grid, error) {
	nx, ny := -1, -1
	for _, name := range camera.All {
		g, ok := cams[name]
		if !ok {
			continue
		}
		if nx < 0 {
			nx, ny = g.Width, g.Height
		} else if g.Width != nx || g.Height != ny {
			return nil, fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, name, g.Width, g.Height, nx, ny)
		}
	}
	if nx < 0 {
		return nil, fmt.Errorf("no camera images")
	}

	n := nx + 2*ny
	img := NewGrid(n, n, math.NaN())
	centre := ny + (nx-ny)/2
	for name, d := range cams {
		for r := 0; r < ny; r++ {
			for c := 0; c < nx; c++ {
				v := d.At(c, r)
				switch name {
				case camera.CIS:
					img.set(ny+c, r, v)
				case camera.CIN:
					img.set(ny+nx-1-c, ny+nx+ny-1-r, v)
				case camera.CIE:
					img.set(r, ny+nx-1-c, v)
				case camera.CIW:
					img.set(ny+nx+ny-1-r, ny+c, v)
				case camera.CIC:
					img.set(ny+nx-1-c, centre+ny-1-r, v)
				}
			}
		}
	}
	return img, nil
}
