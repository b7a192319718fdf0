// Package telemetry looks up observatory sensor readings by observing night.
// Each night's readings, from local noon to the next local noon, are fetched
// once and kept in a bounded cache.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/ci.report/internal/monitoring"
	"github.com/banshee-data/ci.report/internal/tabular"
	"github.com/banshee-data/ci.report/internal/units"
)

// MJDColumn is the derived time coordinate added to every window.
const MJDColumn = "MJD"

// Defaults applied by New for zero Config fields.
const (
	DefaultCacheSize       = 10
	DefaultTimestampColumn = "time_recorded"
)

var (
	ErrInvalidColumn            = errors.New("invalid column")
	ErrOutOfWindow              = errors.New("time outside night window")
	ErrUnsupportedInterpolation = errors.New("interpolation not supported for column")
	ErrNoSamples                = errors.New("no samples to interpolate")
)

// Config describes one telemetry table.
type Config struct {
	// Table is the fully qualified table name, e.g. "telemetry.environmentmonitor_dome".
	Table string
	// Columns to fetch; empty selects every column of the table.
	Columns []string
	// CacheSize bounds the number of resident nights.
	CacheSize int
	// Timestamp names the UTC timestamp column.
	Timestamp string
	// Location is the observatory timezone that defines local noon.
	Location *time.Location
	Verbose  bool
}

// Window is one night of telemetry plus its MJD coordinate. Windows handed
// to callers are copies.
type Window struct {
	Night int
	Start time.Time
	End   time.Time
	Rows  *tabular.Table
	MJD   []float64
}

func (w *Window) clone() *Window {
	cp := *w
	cp.Rows = w.Rows.Clone()
	cp.MJD = append([]float64(nil), w.MJD...)
	return &cp
}

// Series is a single column against MJD.
type Series struct {
	MJD    []float64
	Values []any
}

// NightTelemetry caches telemetry windows by night. Eviction is by insertion
// order: looking a night up again does not make it younger. Not safe for
// concurrent use.
type NightTelemetry struct {
	db        tabular.Selector
	table     string
	columns   []string
	what      string
	timestamp string
	size      int
	loc       *time.Location
	verbose   bool

	cache map[int]*Window
	order []int
}

// New validates the table with a one-row query and returns an empty cache.
func New(ctx context.Context, db tabular.Selector, cfg Config) (*NightTelemetry, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("telemetry table name is required")
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cfg.CacheSize)
	}
	if cfg.Timestamp == "" {
		cfg.Timestamp = DefaultTimestampColumn
	}
	if cfg.Location == nil {
		loc, err := units.LoadLocation("")
		if err != nil {
			return nil, err
		}
		cfg.Location = loc
	}

	what := "*"
	if len(cfg.Columns) > 0 {
		what = strings.Join(cfg.Columns, ",")
	}
	probe, err := db.Select(ctx, cfg.Table, what, "", "", 1)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", cfg.Table, err)
	}
	columns := append([]string(nil), probe.Columns...)
	if !slices.Contains(columns, cfg.Timestamp) {
		columns = append(columns, cfg.Timestamp)
	}

	t := &NightTelemetry{
		db:        db,
		table:     cfg.Table,
		columns:   columns,
		what:      strings.Join(columns, ","),
		timestamp: cfg.Timestamp,
		size:      cfg.CacheSize,
		loc:       cfg.Location,
		verbose:   cfg.Verbose,
		cache:     make(map[int]*Window),
	}
	monitoring.Verbosef(t.verbose, "Initialized telemetry from %s for %s.", t.table, t.what)
	return t, nil
}

// Columns returns the known column names.
func (t *NightTelemetry) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Cached returns the resident nights, oldest first.
func (t *NightTelemetry) Cached() []int {
	return append([]int(nil), t.order...)
}

// Window returns every row recorded during night.
func (t *NightTelemetry) Window(ctx context.Context, night int) (*Window, error) {
	w, err := t.window(ctx, night)
	if err != nil {
		return nil, err
	}
	return w.clone(), nil
}

// WindowAt is Window with an explicit time coordinate: every MJD in mjd
// must lie inside night before the window is fetched.
func (t *NightTelemetry) WindowAt(ctx context.Context, night int, mjd []float64) (*Window, error) {
	if len(mjd) > 0 {
		if err := t.checkWindow(night, mjd); err != nil {
			return nil, err
		}
	}
	return t.Window(ctx, night)
}

// Column returns one column of night against MJD.
func (t *NightTelemetry) Column(ctx context.Context, night int, column string) (*Series, error) {
	if err := t.checkColumn(column); err != nil {
		return nil, err
	}
	w, err := t.window(ctx, night)
	if err != nil {
		return nil, err
	}
	values, err := w.Rows.Column(column)
	if err != nil {
		return nil, err
	}
	return &Series{MJD: append([]float64(nil), w.MJD...), Values: values}, nil
}

// Interpolate evaluates column at each MJD in mjd by linear interpolation
// over night's samples, holding the first and last sample values outside the
// sampled range. Every requested MJD must fall inside the night's window.
func (t *NightTelemetry) Interpolate(ctx context.Context, night int, column string, mjd []float64) ([]float64, error) {
	if err := t.checkColumn(column); err != nil {
		return nil, err
	}
	if len(mjd) == 0 {
		return []float64{}, nil
	}
	if err := t.checkWindow(night, mjd); err != nil {
		return nil, err
	}
	w, err := t.window(ctx, night)
	if err != nil {
		return nil, err
	}
	return interpolateRows(w.Rows, column, w.MJD, mjd)
}

// InterpolateWhere is Interpolate restricted to the rows whose key column
// equals value, for tables that interleave several sources such as one row
// per camera.
func (t *NightTelemetry) InterpolateWhere(ctx context.Context, night int, column, key string, value any, mjd []float64) ([]float64, error) {
	if err := t.checkColumn(column); err != nil {
		return nil, err
	}
	if err := t.checkColumn(key); err != nil {
		return nil, err
	}
	if len(mjd) == 0 {
		return []float64{}, nil
	}
	if err := t.checkWindow(night, mjd); err != nil {
		return nil, err
	}
	w, err := t.window(ctx, night)
	if err != nil {
		return nil, err
	}
	keys, err := w.Rows.Column(key)
	if err != nil {
		return nil, err
	}
	want := fmt.Sprint(value)
	var xs []float64
	rows := w.Rows.Filter(func(i int) bool {
		ok := fmt.Sprint(keys[i]) == want
		if ok {
			xs = append(xs, w.MJD[i])
		}
		return ok
	})
	out, err := interpolateRows(rows, column, xs, mjd)
	if err != nil {
		return nil, fmt.Errorf("%s=%v: %w", key, value, err)
	}
	return out, nil
}

func interpolateRows(rows *tabular.Table, column string, xs, mjd []float64) ([]float64, error) {
	ys, err := rows.Float64s(column)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnsupportedInterpolation, column, err)
	}
	return interpolate(xs, ys, mjd)
}

func (t *NightTelemetry) checkColumn(column string) error {
	if !slices.Contains(t.columns, column) {
		return fmt.Errorf("%w %q: pick from %s", ErrInvalidColumn, column, t.what)
	}
	return nil
}

// checkWindow verifies that the smallest and largest requested MJD lie in
// [local noon, next local noon) of night.
func (t *NightTelemetry) checkWindow(night int, mjd []float64) error {
	start, end, err := units.NightWindow(night, t.loc)
	if err != nil {
		return err
	}
	for _, m := range []float64{slices.Min(mjd), slices.Max(mjd)} {
		if math.IsNaN(m) {
			return fmt.Errorf("%w: MJD is NaN", ErrOutOfWindow)
		}
		ts := units.FromMJD(m)
		if ts.Before(start) || !ts.Before(end) {
			return fmt.Errorf("%w: MJD %v (%s) not in night %d", ErrOutOfWindow, m, ts.Format(time.RFC3339), night)
		}
	}
	return nil
}

// window returns the cached window for night, fetching it on a miss.
func (t *NightTelemetry) window(ctx context.Context, night int) (*Window, error) {
	if w, ok := t.cache[night]; ok {
		return w, nil
	}
	w, err := t.fetch(ctx, night)
	if err != nil {
		return nil, err
	}
	t.cache[night] = w
	t.order = append(t.order, night)
	for len(t.order) > t.size {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.cache, oldest)
		monitoring.Verbosef(t.verbose, "Evicted telemetry for night %d from %s.", oldest, t.table)
	}
	return w, nil
}

func (t *NightTelemetry) fetch(ctx context.Context, night int) (*Window, error) {
	start, end, err := units.NightWindow(night, t.loc)
	if err != nil {
		return nil, err
	}
	const layout = "2006-01-02 15:04:05-07:00"
	where := fmt.Sprintf("%s >= '%s' and %s < '%s'",
		t.timestamp, start.Format(layout), t.timestamp, end.Format(layout))
	rows, err := t.db.Select(ctx, t.table, t.what, where, t.timestamp, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for night %d: %w", t.table, night, err)
	}
	times, err := rows.Times(t.timestamp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for night %d: %w", t.table, night, err)
	}

	// Drivers differ in how they compare timestamps against string literals,
	// so membership is enforced here as well.
	keep := make([]int, 0, len(times))
	rows = rows.Filter(func(i int) bool {
		ok := !times[i].Before(start) && times[i].Before(end)
		if ok {
			keep = append(keep, i)
		}
		return ok
	})
	mjd := make([]float64, len(keep))
	for k, i := range keep {
		mjd[k] = units.ToMJD(times[i])
	}
	monitoring.Verbosef(t.verbose, "Fetched %d rows of %s for night %d.", rows.Len(), t.table, night)
	return &Window{Night: night, Start: start, End: end, Rows: rows, MJD: mjd}, nil
}

// interpolate is piecewise-linear interpolation of (xs, ys) at each of at,
// with constant extrapolation. NaN samples are ignored and repeated x values
// keep their first sample.
func interpolate(xs, ys, at []float64) ([]float64, error) {
	type point struct{ x, y float64 }
	pts := make([]point, 0, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, point{xs[i], ys[i]})
	}
	if len(pts) == 0 {
		return nil, ErrNoSamples
	}
	slices.SortStableFunc(pts, func(a, b point) int {
		switch {
		case a.x < b.x:
			return -1
		case a.x > b.x:
			return 1
		}
		return 0
	})
	fx := []float64{pts[0].x}
	fy := []float64{pts[0].y}
	for _, p := range pts[1:] {
		if p.x > fx[len(fx)-1] {
			fx = append(fx, p.x)
			fy = append(fy, p.y)
		}
	}

	out := make([]float64, len(at))
	if len(fx) == 1 {
		for i := range out {
			out[i] = fy[0]
		}
		return out, nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(fx, fy); err != nil {
		return nil, err
	}
	for i, x := range at {
		switch {
		case x <= fx[0]:
			out[i] = fy[0]
		case x >= fx[len(fx)-1]:
			out[i] = fy[len(fy)-1]
		default:
			out[i] = pl.Predict(x)
		}
	}
	return out, nil
}
