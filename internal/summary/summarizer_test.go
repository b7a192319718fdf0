package summary

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ci.report/internal/calib"
	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/camera/camtest"
	"github.com/banshee-data/ci.report/internal/tabular"
	"github.com/banshee-data/ci.report/internal/telemetry"
	"github.com/banshee-data/ci.report/internal/testutil"
	"github.com/banshee-data/ci.report/internal/thumbnail"
	"github.com/banshee-data/ci.report/internal/units"
)

type fakeDB struct {
	tables map[string]*tabular.Table
	wheres []string
}

func (f *fakeDB) Select(_ context.Context, table, columns, where, order string, limit int) (*tabular.Table, error) {
	f.wheres = append(f.wheres, where)
	tb, ok := f.tables[table]
	if !ok {
		return nil, errors.New("no such table")
	}
	out := tb.Clone()
	if limit > 0 && out.Len() > limit {
		out.Rows = out.Rows[:limit]
	}
	return out, nil
}

const night = 20190405

var exposureStart = time.Date(2019, 4, 6, 4, 0, 0, 0, time.UTC)

func putExposure(a *camtest.Archive, expid int64, pix float64) *camtest.Container {
	c := camtest.NewContainer(night, expid, map[string]*camtest.Extension{
		camera.CIN: camtest.Distinct(pix),
		camera.CIC: camtest.Distinct(pix),
	})
	c.Hdr["SKYRA"] = 100.0 + float64(expid)
	c.Hdr["SKYDEC"] = -float64(expid)
	c.Hdr["MJD-OBS"] = units.ToMJD(exposureStart)
	a.Put(night, expid, c)
	return c
}

type renders struct {
	paths []string
	sets  []*calib.FrameSet
	err   error
}

func (r *renders) render(set *calib.FrameSet, _ thumbnail.Options, path string) error {
	r.paths = append(r.paths, path)
	r.sets = append(r.sets, set)
	return r.err
}

func newSummarizer(t *testing.T) (*Summarizer, *camtest.Archive, *fakeDB, *renders) {
	t.Helper()
	captureLogs(t)
	a := camtest.NewArchive("/data")
	putExposure(a, 1, 50)
	putExposure(a, 2, 60)

	candidates := tabular.New("id", "night")
	candidates.Append(int64(1), int64(night))
	candidates.Append(int64(3), int64(night)) // not on disk
	candidates.Append(int64(2), int64(night))
	db := &fakeDB{tables: map[string]*tabular.Table{"exposure.exposure": candidates}}

	r := &renders{}
	s := &Summarizer{
		DB:            db,
		ExposureTable: "exposure.exposure",
		Resolver:      a.Resolver,
		Pipeline:      calib.NewPipeline(nil),
		Calibration:   calib.Options{Steps: calib.Raw},
		Thumbnail:     thumbnail.DefaultOptions(),
		Render:        r.render,
		FS:            a.FS,
		OutputRoot:    "/out",
	}
	return s, a, db, r
}

func TestRun(t *testing.T) {
	s, a, db, r := newSummarizer(t)

	entries, err := s.Run(context.Background(), night)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{EXPID: "00000001", RA: 101, DEC: -1},
		{EXPID: "00000002", RA: 102, DEC: -2},
	}, entries)

	assert.Equal(t, []string{"sequence='CI' and flavor='science' and night=20190405"}, db.wheres)
	assert.Equal(t, []string{"/out/20190405/00000001.jpg", "/out/20190405/00000002.jpg"}, r.paths)
	assert.Equal(t, float32(60), r.sets[1].Frames[camera.CIC].Pix[0])

	saved, err := ReadNight(a.FS, MetadataPath("/out", night))
	require.NoError(t, err)
	assert.Equal(t, entries, saved)
	assert.Empty(t, a.Opener.Unbalanced())
}

func TestRun_RenderFailureAbortsNight(t *testing.T) {
	s, a, _, r := newSummarizer(t)
	r.err = errors.New("disk full")

	_, err := s.Run(context.Background(), night)
	assert.ErrorIs(t, err, r.err)
	assert.Len(t, r.paths, 1)
	assert.False(t, a.FS.Exists(MetadataPath("/out", night)))
	assert.Empty(t, a.Opener.Unbalanced())
}

func TestRun_MissingPointing(t *testing.T) {
	s, a, _, _ := newSummarizer(t)
	c := putExposure(a, 1, 50)
	delete(c.Hdr, "SKYDEC")

	_, err := s.Run(context.Background(), night)
	assert.ErrorIs(t, err, camera.ErrMissingHeaderField)
	assert.Empty(t, a.Opener.Unbalanced())
}

func TestRun_SelectError(t *testing.T) {
	s, _, _, _ := newSummarizer(t)
	s.ExposureTable = "exposure.missing"

	_, err := s.Run(context.Background(), night)
	assert.Error(t, err)
}

func TestRun_TelemetryTemperature(t *testing.T) {
	s, _, db, r := newSummarizer(t)

	temps := tabular.New("time_recorded", "camera", "ccdtemp")
	temps.Append(time.Date(2019, 4, 6, 3, 0, 0, 0, time.UTC), "CIN", 250.0)
	temps.Append(time.Date(2019, 4, 6, 3, 0, 0, 0, time.UTC), "CIC", 270.0)
	temps.Append(time.Date(2019, 4, 6, 5, 0, 0, 0, time.UTC), "CIN", 252.0)
	temps.Append(time.Date(2019, 4, 6, 5, 0, 0, 0, time.UTC), "CIC", 272.0)
	db.tables["telemetry.ci_camera"] = temps
	cache, err := telemetry.New(context.Background(), db, telemetry.Config{Table: "telemetry.ci_camera"})
	require.NoError(t, err)

	s.Temperature = &TemperatureSource{Telemetry: cache, Column: "ccdtemp"}
	s.Calibration = calib.Options{
		Steps: calib.DarkSubtracted,
		// Dark = e * exp(-T0/T) is 1 only at each camera's own temperature:
		// CIN reads 251 and CIC 271 at the exposure start.
		Coefficients: calib.Coefficients{
			camera.CIN: {Bias: 10, D0: math.E, T0: 251, Gain: 1},
			camera.CIC: {Bias: 10, D0: math.E, T0: 271, Gain: 1},
		},
	}

	_, err = s.Run(context.Background(), night)
	require.NoError(t, err)
	require.Len(t, r.sets, 2)
	testutil.AssertAllNear(t, r.sets[0].Frames[camera.CIN].Pix, 39, 1e-4)
	testutil.AssertAllNear(t, r.sets[0].Frames[camera.CIC].Pix, 39, 1e-4)
	testutil.AssertAllNear(t, r.sets[1].Frames[camera.CIN].Pix, 49, 1e-4)
	testutil.AssertAllNear(t, r.sets[1].Frames[camera.CIC].Pix, 49, 1e-4)

	// A configured default wins over telemetry.
	T := 251.0
	s.Calibration.DefaultTemperature = &T
	r.sets = nil
	_, err = s.Run(context.Background(), night)
	require.NoError(t, err)
	testutil.AssertAllNear(t, r.sets[0].Frames[camera.CIN].Pix, 39, 1e-4)
	assert.Greater(t, r.sets[0].Frames[camera.CIC].Pix[0], float32(39.01))

	// Without telemetry the dark stage has no temperature.
	s.Calibration.DefaultTemperature = nil
	s.Temperature = nil
	_, err = s.Run(context.Background(), night)
	assert.ErrorIs(t, err, calib.ErrMissingTemperature)
}
