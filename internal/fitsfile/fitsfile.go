// Package fitsfile reads multi-extension FITS exposures with
// github.com/astrogo/fitsio and presents them as camera containers.
package fitsfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/ci.report/internal/camera"
)

var (
	// ErrCompressedImage is returned for tile-compressed images using anything
	// other than RICE_1 on integer pixels. Such files must be unpacked
	// (funpack) before calibration.
	ErrCompressedImage = errors.New("unsupported tile-compressed image")
	// ErrClosed is returned when reading from a closed container.
	ErrClosed = errors.New("container is closed")
)

// Opener opens FITS files from the local filesystem.
type Opener struct{}

// Open reads the FITS file at path. The primary header is HDU 0 overlaid with
// HDU 1, since compressed CI files carry their exposure keywords in the first
// extension.
func (Opener) Open(path string) (camera.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	ff, err := fitsio.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FITS: %w", err)
	}

	c := &Container{path: path, file: f, fits: ff, exts: make(map[string]*Extension)}
	c.primary = camera.Header{}
	for i, hdu := range ff.HDUs() {
		if i <= 1 {
			for k, v := range headerCards(hdu.Header()) {
				c.primary[k] = v
			}
		}
		name := strings.ToUpper(strings.TrimSpace(hdu.Name()))
		if i == 0 || name == "" {
			continue
		}
		c.exts[name] = &Extension{owner: c, hdu: hdu, header: headerCards(hdu.Header())}
	}
	return c, nil
}

// Container is an open FITS file.
type Container struct {
	path    string
	file    *os.File
	fits    *fitsio.File
	primary camera.Header
	exts    map[string]*Extension
	closed  bool
}

func (c *Container) Primary() camera.Header { return c.primary }

func (c *Container) Names() []string {
	names := make([]string, 0, len(c.exts))
	for n := range c.exts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Container) Extension(name string) (camera.Extension, bool) {
	e, ok := c.exts[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return e, true
}

// Close releases the decoder and the file handle. Repeated calls are no-ops.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	ferr := c.fits.Close()
	if err := c.file.Close(); err != nil {
		return err
	}
	return ferr
}

func (c *Container) String() string { return c.path }

// Extension is one HDU of a Container.
type Extension struct {
	owner  *Container
	hdu    fitsio.HDU
	header camera.Header
}

func (e *Extension) Header() camera.Header { return e.header }

// ReadImage decodes the HDU's pixels, applying BSCALE and BZERO. RICE_1
// tile-compressed HDUs are decompressed first.
func (e *Extension) ReadImage() (*camera.Image, error) {
	if e.owner.closed {
		return nil, ErrClosed
	}
	scale, zero := 1.0, 0.0
	if v, ok := e.header.Float("BSCALE"); ok {
		scale = v
	}
	if v, ok := e.header.Float("BZERO"); ok {
		zero = v
	}

	if z, ok := e.header["ZIMAGE"].(bool); ok && z {
		tbl, ok := e.hdu.(*fitsio.Table)
		if !ok {
			return nil, fmt.Errorf("%s[%s]: compressed HDU is not a binary table", e.owner.path, e.hdu.Name())
		}
		img, err := readTiles(tbl, e.header, scale, zero)
		if err != nil {
			return nil, fmt.Errorf("%s[%s]: %w", e.owner.path, e.hdu.Name(), err)
		}
		return img, nil
	}

	img, ok := e.hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s[%s]: HDU is not an image", e.owner.path, e.hdu.Name())
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%s[%s]: expected 2 axes, got %d", e.owner.path, e.hdu.Name(), len(axes))
	}
	pix, err := decode(img.Raw(), hdr.Bitpix(), axes[0]*axes[1], scale, zero)
	if err != nil {
		return nil, fmt.Errorf("%s[%s]: %w", e.owner.path, e.hdu.Name(), err)
	}
	return &camera.Image{Width: axes[0], Height: axes[1], Pix: pix}, nil
}

// decode converts big-endian FITS pixel bytes to physical values.
func decode(raw []byte, bitpix, n int, scale, zero float64) ([]float64, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	if size == 0 || len(raw) < n*size {
		return nil, fmt.Errorf("pixel data too short: %d bytes for %d pixels of BITPIX %d", len(raw), n, bitpix)
	}
	be := binary.BigEndian
	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(be.Uint16(b)))
		case 32:
			v = float64(int32(be.Uint32(b)))
		case 64:
			v = float64(int64(be.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(be.Uint32(b)))
		case -64:
			v = math.Float64frombits(be.Uint64(b))
		default:
			return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
		}
		out[i] = v*scale + zero
	}
	return out, nil
}

func headerCards(h *fitsio.Header) camera.Header {
	out := camera.Header{}
	for _, key := range h.Keys() {
		card := h.Get(key)
		if card == nil {
			continue
		}
		out[strings.ToUpper(key)] = card.Value
	}
	return out
}
