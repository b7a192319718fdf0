// Package camtest provides in-memory exposures that record how often they are
// opened and closed, for tests of code that must never leak a container.
package camtest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/fsutil"
)

// Extension is a fake image HDU.
type Extension struct {
	Hdr camera.Header
	Img *camera.Image
	Err error
}

func (e *Extension) Header() camera.Header { return e.Hdr }

// ReadImage returns a copy of Img so callers cannot alter the fixture.
func (e *Extension) ReadImage() (*camera.Image, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Img == nil {
		return nil, fmt.Errorf("extension has no image")
	}
	cp := *e.Img
	cp.Pix = append([]float64(nil), e.Img.Pix...)
	return &cp, nil
}

// Container is a fake exposure that counts Close calls.
type Container struct {
	Hdr  camera.Header
	Exts map[string]*Extension

	mu     sync.Mutex
	closes int
}

// NewContainer builds a container whose primary header carries night, expid
// and a manifest naming every camera in exts.
func NewContainer(night int, expid int64, exts map[string]*Extension) *Container {
	names := make([]string, 0, len(exts))
	for n := range exts {
		names = append(names, n)
	}
	sort.Strings(names)
	return &Container{
		Hdr: camera.Header{
			"NIGHT":            int64(night),
			"EXPID":            expid,
			camera.ManifestKey: strings.Join(names, ","),
			"EXPTIME":          10.0,
		},
		Exts: exts,
	}
}

func (c *Container) Primary() camera.Header { return c.Hdr }

func (c *Container) Names() []string {
	names := make([]string, 0, len(c.Exts))
	for n := range c.Exts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Container) Extension(name string) (camera.Extension, bool) {
	e, ok := c.Exts[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return e, true
}

func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Closes returns how many times Close was called.
func (c *Container) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Opener serves registered containers by path and remembers what it opened.
type Opener struct {
	mu         sync.Mutex
	containers map[string]*Container
	opened     []*Container
}

// NewOpener returns an empty opener.
func NewOpener() *Opener {
	return &Opener{containers: make(map[string]*Container)}
}

// Add registers c at path.
func (o *Opener) Add(path string, c *Container) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.containers[path] = c
}

func (o *Opener) Open(path string) (camera.Container, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.containers[path]
	if !ok {
		return nil, fmt.Errorf("camtest: nothing registered at %s", path)
	}
	o.opened = append(o.opened, c)
	return c, nil
}

// Opened returns every container handed out, in order, repeats included.
func (o *Opener) Opened() []*Container {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Container(nil), o.opened...)
}

// Unbalanced returns the opened containers whose close count differs from
// the number of times they were opened.
func (o *Opener) Unbalanced() []*Container {
	o.mu.Lock()
	defer o.mu.Unlock()
	opens := make(map[*Container]int)
	for _, c := range o.opened {
		opens[c]++
	}
	var out []*Container
	for c, n := range opens {
		if c.Closes() != n {
			out = append(out, c)
		}
	}
	return out
}

// Archive wires a resolver to an in-memory file tree and a fake opener.
type Archive struct {
	FS       *fsutil.MemoryFileSystem
	Opener   *Opener
	Resolver *camera.Resolver
}

// NewArchive returns an empty archive rooted at root.
func NewArchive(root string) *Archive {
	mfs := fsutil.NewMemoryFileSystem()
	op := NewOpener()
	return &Archive{
		FS:     mfs,
		Opener: op,
		Resolver: &camera.Resolver{
			Root:   root,
			Suffix: camera.DefaultSuffix,
			FS:     mfs,
			Opener: op,
		},
	}
}

// Put stores c as exposure expid of night.
func (a *Archive) Put(night int, expid int64, c *Container) {
	path := a.Resolver.Path(night, expid)
	_ = a.FS.WriteFile(path, []byte("SIMPLE  =                    T"), 0644)
	a.Opener.Add(path, c)
}

// Uniform returns a width x height image filled with v.
func Uniform(width, height int, v float64) *camera.Image {
	pix := make([]float64, width*height)
	for i := range pix {
		pix[i] = v
	}
	return &camera.Image{Width: width, Height: height, Pix: pix}
}

// Distinct returns a 2x2 image whose pixels all equal v, for telling cameras apart.
func Distinct(v float64) *Extension {
	return &Extension{Hdr: camera.Header{}, Img: Uniform(2, 2, v)}
}
