package camera

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
)

// ManifestKey is the primary header keyword listing the cameras read out.
const ManifestKey = "IMAGECAM"

// DefaultSuffix is the extension of raw CI exposure files.
const DefaultSuffix = ".fits.fz"

// Resolver locates and opens raw exposures under Root laid out as
// <root>/<night>/<expid8>/ci-<expid8><suffix>.
type Resolver struct {
	Root   string
	Suffix string
	FS     fsutil.FileSystem
	Opener Opener
}

// NewResolver returns a resolver reading from the local filesystem.
func NewResolver(root string, opener Opener) *Resolver {
	return &Resolver{
		Root:   root,
		Suffix: DefaultSuffix,
		FS:     fsutil.OSFileSystem{},
		Opener: opener,
	}
}

// Path returns the location of exposure expid taken on night.
func (r *Resolver) Path(night int, expid int64) string {
	tag := fmt.Sprintf("%08d", expid)
	suffix := r.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return filepath.Join(r.Root, fmt.Sprint(night), tag, "ci-"+tag+suffix)
}

// Open opens exposure expid of night, validates its camera manifest and, for
// nights before LabelCutoff, corrects the swapped camera labels. The primary
// header is returned alongside the container. On error nothing is left open.
func (r *Resolver) Open(night int, expid int64, verbose bool) (Container, Header, error) {
	if expid < 0 {
		return nil, nil, fmt.Errorf("invalid exposure id %d", expid)
	}
	path := r.Path(night, expid)
	if !r.FS.Exists(path) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	c, err := r.Opener.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	hdr := c.Primary()
	manifest, ok := hdr.String(ManifestKey)
	if !ok {
		c.Close()
		return nil, nil, fmt.Errorf("%w: %s in %s", ErrMissingHeaderField, ManifestKey, path)
	}
	expected := parseManifest(manifest)

	if NeedsLabelSwap(night) {
		monitoring.Verbosef(verbose, "Swapping CIW,CIE and CIC,CIN for night %d < %d.", night, LabelCutoff)
		c = CorrectLabels(c)
		for i, name := range expected {
			expected[i] = swapName(name, LabelSwaps)
		}
	}

	var missing []string
	for _, name := range expected {
		if _, ok := c.Extension(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		c.Close()
		return nil, nil, &MissingExtensionError{Path: path, Cameras: missing}
	}
	return c, hdr, nil
}

func parseManifest(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.ToUpper(strings.TrimSpace(part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}
