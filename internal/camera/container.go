// Package camera opens raw CI exposures and validates them against the
// camera manifest recorded in their primary header.
package camera

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Extension names of the five CI cameras.
const (
	CIN = "CIN"
	CIE = "CIE"
	CIS = "CIS"
	CIW = "CIW"
	CIC = "CIC"
)

// All lists the cameras in the order they are processed.
var All = []string{CIN, CIE, CIS, CIW, CIC}

// Header holds FITS header cards keyed by upper-case keyword.
type Header map[string]any

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToUpper(key)]
	return ok
}

// String returns key as a string with surrounding blanks removed.
func (h Header) String(key string) (string, bool) {
	v, ok := h[strings.ToUpper(key)]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// Float returns key as a float64.
func (h Header) Float(key string) (float64, bool) {
	switch x := h[strings.ToUpper(key)].(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns key as an int64. Floating point values must be integral.
func (h Header) Int(key string) (int64, bool) {
	switch x := h[strings.ToUpper(key)].(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	}
	f, ok := h.Float(key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Image is a row-major 2-D array of raw pixel values.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// At returns the pixel at column x, row y.
func (im *Image) At(x, y int) float64 {
	return im.Pix[y*im.Width+x]
}

// Extension is one named image HDU of an exposure.
type Extension interface {
	Header() Header
	ReadImage() (*Image, error)
}

// Container is an open multi-extension exposure file. Extension names are
// upper case. Close releases the underlying file handle.
type Container interface {
	Primary() Header
	Names() []string
	Extension(name string) (Extension, bool)
	Close() error
}

// Opener opens the container stored at path.
type Opener interface {
	Open(path string) (Container, error)
}

// relabeled presents a container through a rewritten name mapping.
type relabeled struct {
	Container
	ext map[string]Extension
}

func (r *relabeled) Names() []string {
	names := make([]string, 0, len(r.ext))
	for n := range r.ext {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *relabeled) Extension(name string) (Extension, bool) {
	e, ok := r.ext[strings.ToUpper(name)]
	return e, ok
}

func (r *relabeled) String() string {
	return fmt.Sprintf("relabeled(%v)", r.Names())
}
