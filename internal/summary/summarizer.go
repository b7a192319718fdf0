package summary

import (
	"context"
	"fmt"

	"github.com/banshee-data/ci.report/internal/calib"
	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/exposure"
	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
	"github.com/banshee-data/ci.report/internal/tabular"
	"github.com/banshee-data/ci.report/internal/telemetry"
	"github.com/banshee-data/ci.report/internal/thumbnail"
)

// DefaultCameraColumn names the camera of each telemetry.ci_camera row.
const DefaultCameraColumn = "camera"

// RenderFunc writes the thumbnail of one calibrated exposure to path.
type RenderFunc func(set *calib.FrameSet, opts thumbnail.Options, path string) error

// RenderThumbnail is the default RenderFunc.
func RenderThumbnail(set *calib.FrameSet, opts thumbnail.Options, path string) error {
	_, err := thumbnail.Render(set, opts, path)
	return err
}

// TemperatureSource supplies fallback CCD temperatures from telemetry for
// cameras whose headers lack one. The table holds one row per camera per
// sample, told apart by CameraColumn.
type TemperatureSource struct {
	Telemetry    *telemetry.NightTelemetry
	Column       string
	CameraColumn string
}

// Summarizer renders every science CI exposure of a night.
type Summarizer struct {
	DB            tabular.Selector
	ExposureTable string
	Resolver      exposure.Resolver
	Pipeline      *calib.Pipeline
	Calibration   calib.Options
	Thumbnail     thumbnail.Options
	Temperature   *TemperatureSource
	Render        RenderFunc
	FS            fsutil.FileSystem
	OutputRoot    string
	Verbose       bool
}

// Exposures selects the science CI exposures of night, ordered by id.
func (s *Summarizer) Exposures(ctx context.Context, night int) (*tabular.Table, error) {
	where := fmt.Sprintf("sequence='CI' and flavor='science' and night=%d", night)
	rows, err := s.DB.Select(ctx, s.ExposureTable, "id,night", where, "id", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to select exposures for night %d: %w", night, err)
	}
	return rows, nil
}

// Run renders night's thumbnails and writes its metadata. Any exposure that
// fails to calibrate or render aborts the night.
func (s *Summarizer) Run(ctx context.Context, night int) ([]Entry, error) {
	rows, err := s.Exposures(ctx, night)
	if err != nil {
		return nil, err
	}
	if err := s.FS.MkdirAll(NightDir(s.OutputRoot, night), 0755); err != nil {
		return nil, err
	}
	stream, err := exposure.NewStream(rows, s.Resolver, s.Verbose)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	render := s.Render
	if render == nil {
		render = RenderThumbnail
	}
	entries := []Entry{}
	for rec := range stream.All() {
		entry, err := s.summarize(ctx, rec, render)
		if err != nil {
			monitoring.Logf("Failed for EXPID %s: %v", Tag(rec.ExpID), err)
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := WriteNight(s.FS, s.OutputRoot, night, entries); err != nil {
		return nil, err
	}
	monitoring.Logf("Summarized %d of %d exposures for %d.", len(entries), rows.Len(), night)
	return entries, nil
}

func (s *Summarizer) summarize(ctx context.Context, rec exposure.Record, render RenderFunc) (Entry, error) {
	ra, ok := rec.Header.Float("SKYRA")
	if !ok {
		return Entry{}, fmt.Errorf("%w: SKYRA", camera.ErrMissingHeaderField)
	}
	dec, ok := rec.Header.Float("SKYDEC")
	if !ok {
		return Entry{}, fmt.Errorf("%w: SKYDEC", camera.ErrMissingHeaderField)
	}

	opts := s.Calibration
	if temps := s.temperatures(ctx, rec); len(temps) > 0 {
		opts.CameraTemperatures = temps
	}
	set, err := s.Pipeline.Calibrate(rec.Container, opts)
	if err != nil {
		return Entry{}, err
	}
	if err := render(set, s.Thumbnail, ThumbnailPath(s.OutputRoot, rec.Night, rec.ExpID)); err != nil {
		return Entry{}, err
	}
	return Entry{EXPID: Tag(rec.ExpID), RA: ra, DEC: dec}, nil
}

// temperatures interpolates each camera's telemetry at the exposure start.
// A configured default temperature takes precedence.
func (s *Summarizer) temperatures(ctx context.Context, rec exposure.Record) map[string]float64 {
	if s.Temperature == nil || s.Calibration.DefaultTemperature != nil {
		return nil
	}
	mjd, ok := rec.Header.Float("MJD-OBS")
	if !ok {
		return nil
	}
	key := s.Temperature.CameraColumn
	if key == "" {
		key = DefaultCameraColumn
	}
	out := make(map[string]float64)
	for _, name := range camera.All {
		if _, ok := rec.Container.Extension(name); !ok {
			continue
		}
		v, err := s.Temperature.Telemetry.InterpolateWhere(ctx, rec.Night, s.Temperature.Column, key, name, []float64{mjd})
		if err != nil {
			monitoring.Verbosef(s.Verbose, "No telemetry temperature for %s %s: %v", Tag(rec.ExpID), name, err)
			continue
		}
		out[name] = v[0]
	}
	return out
}
