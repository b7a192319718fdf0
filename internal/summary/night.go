// Package summary produces the nightly CI thumbnail summaries and merges
// them into one index.
package summary

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
)

// NightPattern selects the night directories collected by Merge.
const NightPattern = "2019????"

// MergedFile is the name Merge output is conventionally written to.
const MergedFile = "merged.json"

// Entry describes one summarized exposure.
type Entry struct {
	EXPID string  `yaml:"EXPID" json:"EXPID"`
	RA    float64 `yaml:"RA" json:"RA"`
	DEC   float64 `yaml:"DEC" json:"DEC"`
}

// Tag formats an exposure id the way thumbnails and entries name it.
func Tag(expid int64) string { return fmt.Sprintf("%08d", expid) }

// NightDir is the output directory for night.
func NightDir(root string, night int) string {
	return filepath.Join(root, strconv.Itoa(night))
}

// MetadataPath is the per-night entry list.
func MetadataPath(root string, night int) string {
	return filepath.Join(NightDir(root, night), strconv.Itoa(night)+".yaml")
}

// ThumbnailPath is where the thumbnail of expid is written.
func ThumbnailPath(root string, night int, expid int64) string {
	return filepath.Join(NightDir(root, night), Tag(expid)+".jpg")
}

// WriteNight stores entries as the night's YAML metadata.
func WriteNight(fsys fsutil.FileSystem, root string, night int, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(NightDir(root, night), 0755); err != nil {
		return err
	}
	return fsys.WriteFile(MetadataPath(root, night), data, 0644)
}

// ReadNight loads a night's YAML metadata.
func ReadNight(fsys fsutil.FileSystem, file string) ([]Entry, error) {
	data, err := fsys.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return entries, nil
}

// Merge collects the metadata of every night directory under root, keyed by
// night. Nights without metadata are skipped. It also returns the total
// number of exposures.
func Merge(fsys fsutil.FileSystem, root string) (map[string][]Entry, int, error) {
	dirs, err := fsys.ReadDir(root)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", root, err)
	}
	merged := make(map[string][]Entry)
	total := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		night := d.Name()
		if ok, _ := path.Match(NightPattern, night); !ok {
			continue
		}
		file := filepath.Join(root, night, night+".yaml")
		if !fsys.Exists(file) {
			monitoring.Logf("Skipping %s with no metadata.", night)
			continue
		}
		entries, err := ReadNight(fsys, file)
		if err != nil {
			return nil, 0, err
		}
		if entries == nil {
			entries = []Entry{}
		}
		monitoring.Logf("Merged %d exposures for %s.", len(entries), night)
		merged[night] = entries
		total += len(entries)
	}
	return merged, total, nil
}

// WriteMerged writes merged as indented JSON.
func WriteMerged(fsys fsutil.FileSystem, file string, merged map[string][]Entry) error {
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	return fsys.WriteFile(file, data, 0644)
}
