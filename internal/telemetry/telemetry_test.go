package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ci.report/internal/tabular"
	"github.com/banshee-data/ci.report/internal/testutil"
	"github.com/banshee-data/ci.report/internal/units"
)

// fakeDB serves one fixed table and ignores where clauses, so every window
// filter is done by the cache itself.
type fakeDB struct {
	table   *tabular.Table
	err     error
	queries []string
}

func (f *fakeDB) Select(_ context.Context, table, columns, where, order string, limit int) (*tabular.Table, error) {
	f.queries = append(f.queries, fmt.Sprintf("%s|%s|%s|%s|%d", table, columns, where, order, limit))
	if f.err != nil {
		return nil, f.err
	}
	out := f.table.Clone()
	if limit > 0 && out.Len() > limit {
		out.Rows = out.Rows[:limit]
	}
	return out, nil
}

func (f *fakeDB) fetches() int {
	n := 0
	for _, q := range f.queries {
		if !strings.HasSuffix(q, "|1") {
			n++
		}
	}
	return n
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func domeTable() *tabular.Table {
	tb := tabular.New("time_recorded", "temperature", "status")
	tb.Append(ts("2019-04-01T18:59:59Z"), 1.0, "open")  // 20190331
	tb.Append(ts("2019-04-02T03:00:00Z"), 10.0, "open") // 20190401
	tb.Append(ts("2019-04-02T04:00:00Z"), 20.0, "shut") // 20190401
	tb.Append(ts("2019-04-02T19:00:00Z"), 99.0, "open") // 20190402, window end is exclusive
	tb.Append(ts("2019-04-03T05:00:00Z"), 5.0, "open")  // 20190402
	return tb
}

func newCache(t *testing.T, db *fakeDB, size int) *NightTelemetry {
	t.Helper()
	loc, err := units.LoadLocation("America/Phoenix")
	require.NoError(t, err)
	c, err := New(context.Background(), db, Config{Table: "telemetry.dome", CacheSize: size, Location: loc})
	require.NoError(t, err)
	return c
}

func mjd(s string) float64 { return units.ToMJD(ts(s)) }

func TestNew_ProbesTable(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 0)

	require.Len(t, db.queries, 1)
	assert.Equal(t, "telemetry.dome|*|||1", db.queries[0])
	assert.Equal(t, []string{"time_recorded", "temperature", "status"}, c.Columns())
	assert.Equal(t, DefaultCacheSize, c.size)
	assert.Empty(t, c.Cached())
}

func TestNew_AddsTimestampColumn(t *testing.T) {
	tb := tabular.New("temperature")
	db := &fakeDB{table: tb}
	c, err := New(context.Background(), db, Config{Table: "telemetry.dome", Columns: []string{"temperature"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature", "time_recorded"}, c.Columns())
	assert.Equal(t, "telemetry.dome|temperature|||1", db.queries[0])
}

func TestNew_Errors(t *testing.T) {
	boom := errors.New("no such table")
	_, err := New(context.Background(), &fakeDB{err: boom}, Config{Table: "telemetry.nope"})
	assert.ErrorIs(t, err, boom)

	_, err = New(context.Background(), &fakeDB{table: domeTable()}, Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), &fakeDB{table: domeTable()}, Config{Table: "t", CacheSize: -1})
	assert.Error(t, err)
}

func TestWindow_FiltersToNight(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)

	w, err := c.Window(context.Background(), 20190401)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(ts("2019-04-01T19:00:00Z")), "start %v", w.Start)
	assert.True(t, w.End.Equal(ts("2019-04-02T19:00:00Z")), "end %v", w.End)
	require.Equal(t, 2, w.Rows.Len())
	temps, err := w.Rows.Float64s("temperature")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, temps)
	require.Len(t, w.MJD, 2)
	testutil.AssertNear(t, w.MJD[0], 58575+3.0/24, 1e-9)

	last := db.queries[len(db.queries)-1]
	assert.Contains(t, last, "time_recorded >= '2019-04-01 19:00:00+00:00' and time_recorded < '2019-04-02 19:00:00+00:00'")
	assert.Contains(t, last, "|time_recorded|0")

	w2, err := c.Window(context.Background(), 20190402)
	require.NoError(t, err)
	temps, err = w2.Rows.Float64s("temperature")
	require.NoError(t, err)
	assert.Equal(t, []float64{99, 5}, temps)
}

func TestWindow_ReturnsCopies(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)

	w, err := c.Window(context.Background(), 20190401)
	require.NoError(t, err)
	w.Rows.Rows[0][1] = -1.0
	w.MJD[0] = 0

	again, err := c.Window(context.Background(), 20190401)
	require.NoError(t, err)
	temps, _ := again.Rows.Float64s("temperature")
	assert.Equal(t, 10.0, temps[0])
	assert.NotZero(t, again.MJD[0])
	assert.Equal(t, 1, db.fetches())
}

func TestWindow_EvictsOldestInserted(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)
	ctx := context.Background()

	for _, night := range []int{20190401, 20190402} {
		_, err := c.Window(ctx, night)
		require.NoError(t, err)
	}
	// A hit does not refresh a night's position.
	_, err := c.Window(ctx, 20190401)
	require.NoError(t, err)
	assert.Equal(t, 2, db.fetches())

	_, err = c.Window(ctx, 20190403)
	require.NoError(t, err)
	assert.Equal(t, []int{20190402, 20190403}, c.Cached())
	assert.Equal(t, 3, db.fetches())

	_, err = c.Window(ctx, 20190401)
	require.NoError(t, err)
	assert.Equal(t, 4, db.fetches())
	assert.Equal(t, []int{20190403, 20190401}, c.Cached())
}

func TestWindow_FetchError(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)
	db.err = errors.New("connection reset")

	_, err := c.Window(context.Background(), 20190401)
	assert.ErrorIs(t, err, db.err)
	assert.Empty(t, c.Cached())

	_, err = c.Window(context.Background(), 20191301)
	assert.Error(t, err)
}

func TestColumn(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)

	s, err := c.Column(context.Background(), 20190401, "status")
	require.NoError(t, err)
	assert.Equal(t, []any{"open", "shut"}, s.Values)
	assert.Len(t, s.MJD, 2)

	_, err = c.Column(context.Background(), 20190401, "humidity")
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestInterpolate(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)
	ctx := context.Background()

	got, err := c.Interpolate(ctx, 20190401, "temperature", []float64{
		mjd("2019-04-02T03:00:00Z"),
		mjd("2019-04-02T03:30:00Z"),
		mjd("2019-04-02T04:00:00Z"),
		mjd("2019-04-01T19:00:00Z"),
		mjd("2019-04-02T18:59:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	testutil.AssertNear(t, got[0], 10, 1e-9)
	testutil.AssertNear(t, got[1], 15, 1e-6)
	testutil.AssertNear(t, got[2], 20, 1e-9)
	assert.Equal(t, 10.0, got[3])
	assert.Equal(t, 20.0, got[4])

	got, err = c.Interpolate(ctx, 20190401, "temperature", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInterpolate_Errors(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)
	ctx := context.Background()
	inside := mjd("2019-04-02T03:30:00Z")

	_, err := c.Interpolate(ctx, 20190401, "humidity", []float64{inside})
	assert.ErrorIs(t, err, ErrInvalidColumn)

	_, err = c.Interpolate(ctx, 20190401, "status", []float64{inside})
	assert.ErrorIs(t, err, ErrUnsupportedInterpolation)

	// One second before local noon on the night's date.
	_, err = c.Interpolate(ctx, 20190401, "temperature", []float64{inside, mjd("2019-04-01T18:59:59Z")})
	assert.ErrorIs(t, err, ErrOutOfWindow)
	assert.Contains(t, err.Error(), "2019-04-01T18:59:59Z")

	// The next local noon belongs to the following night.
	_, err = c.Interpolate(ctx, 20190401, "temperature", []float64{inside, mjd("2019-04-02T19:00:00Z")})
	assert.ErrorIs(t, err, ErrOutOfWindow)
	assert.Contains(t, err.Error(), "2019-04-02T19:00:00Z")

	_, err = c.Interpolate(ctx, 20190401, "temperature", []float64{math.NaN()})
	assert.ErrorIs(t, err, ErrOutOfWindow)

	// Range checks run before any fetch.
	assert.Equal(t, 1, db.fetches())
}

func TestInterpolate_EmptyNight(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)

	_, err := c.Interpolate(context.Background(), 20190420, "temperature", []float64{mjd("2019-04-21T06:00:00Z")})
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestInterpolateSamples(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		xs, ys []float64
		at     []float64
		want   []float64
	}{
		{"unsorted", []float64{2, 0, 1}, []float64{20, 0, 10}, []float64{0.5, 1.5}, []float64{5, 15}},
		{"duplicate x keeps first", []float64{0, 1, 1, 2}, []float64{0, 10, 50, 20}, []float64{1}, []float64{10}},
		{"nan skipped", []float64{0, 1, 2}, []float64{0, nan, 20}, []float64{1}, []float64{10}},
		{"single sample", []float64{3}, []float64{7}, []float64{0, 3, 9}, []float64{7, 7, 7}},
		{"clamped", []float64{0, 1}, []float64{1, 2}, []float64{-5, 5}, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interpolate(tt.xs, tt.ys, tt.at)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range got {
				testutil.AssertNear(t, got[i], tt.want[i], 1e-12)
			}
		})
	}

	_, err := interpolate([]float64{0}, []float64{nan}, []float64{0})
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestWindowAt(t *testing.T) {
	db := &fakeDB{table: domeTable()}
	c := newCache(t, db, 2)
	ctx := context.Background()

	w, err := c.WindowAt(ctx, 20190401, []float64{mjd("2019-04-01T19:00:00Z"), mjd("2019-04-02T04:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, 2, w.Rows.Len())

	_, err = c.WindowAt(ctx, 20190401, []float64{mjd("2019-04-02T19:00:00Z")})
	assert.ErrorIs(t, err, ErrOutOfWindow)
	assert.Equal(t, 1, db.fetches())

	w, err = c.WindowAt(ctx, 20190402, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Rows.Len())
}

func cameraTable() *tabular.Table {
	tb := tabular.New("time_recorded", "camera", "ccdtemp")
	tb.Append(ts("2019-04-02T03:00:00Z"), "CIN", 250.0)
	tb.Append(ts("2019-04-02T03:00:00Z"), "CIC", 270.0)
	tb.Append(ts("2019-04-02T05:00:00Z"), "CIN", 252.0)
	tb.Append(ts("2019-04-02T05:00:00Z"), "CIC", 272.0)
	return tb
}

func TestInterpolateWhere_PerCamera(t *testing.T) {
	db := &fakeDB{table: cameraTable()}
	loc, err := units.LoadLocation("America/Phoenix")
	require.NoError(t, err)
	c, err := New(context.Background(), db, Config{Table: "telemetry.ci_camera", Location: loc})
	require.NoError(t, err)
	ctx := context.Background()
	at := []float64{mjd("2019-04-02T04:00:00Z")}

	cin, err := c.InterpolateWhere(ctx, 20190401, "ccdtemp", "camera", "CIN", at)
	require.NoError(t, err)
	testutil.AssertNear(t, cin[0], 251, 1e-6)

	cic, err := c.InterpolateWhere(ctx, 20190401, "ccdtemp", "camera", "CIC", at)
	require.NoError(t, err)
	testutil.AssertNear(t, cic[0], 271, 1e-6)
	assert.Equal(t, 1, db.fetches())

	_, err = c.InterpolateWhere(ctx, 20190401, "ccdtemp", "camera", "CIW", at)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = c.InterpolateWhere(ctx, 20190401, "ccdtemp", "ccd", "CIN", at)
	assert.ErrorIs(t, err, ErrInvalidColumn)

	_, err = c.InterpolateWhere(ctx, 20190401, "ccdtemp", "camera", "CIN", []float64{mjd("2019-04-01T12:00:00Z")})
	assert.ErrorIs(t, err, ErrOutOfWindow)
}
