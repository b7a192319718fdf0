// Package tabular is the column/row result shape shared by the query layer,
// the exposure stream and the telemetry cache. It keeps those components
// independent of any particular database client.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when a named column is not part of a table.
var ErrMissingColumn = errors.New("missing column")

// ErrNotNumeric is returned when a value cannot be read as a number.
var ErrNotNumeric = errors.New("not numeric")

// Selector runs "select <columns> from <table> [where ..] [order by ..] [limit n]".
// Empty where/order strings and a limit <= 0 leave the clause out.
type Selector interface {
	Select(ctx context.Context, table, columns, where, order string, limit int) (*Table, error)
}

// Table is a named-column result set. Rows hold driver-native values:
// nil, int64, float64, bool, string or time.Time.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Append adds one row. It panics if the value count does not match the columns.
func (t *Table) Append(values ...any) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("tabular: row has %d values for %d columns", len(values), len(t.Columns)))
	}
	t.Rows = append(t.Rows, append([]any(nil), values...))
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the table carries column name.
func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// Value returns the value of column name in row i.
func (t *Table) Value(i int, name string) (any, error) {
	j := t.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return t.Rows[i][j], nil
}

// Column returns a copy of every value in column name.
func (t *Table) Column(name string) ([]any, error) {
	j := t.Index(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out, nil
}

// Float64s returns column name as numbers. Nulls become NaN; any other
// non-numeric value fails with ErrNotNumeric.
func (t *Table) Float64s(name string) ([]float64, error) {
	vals, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: column %q holds %T", ErrNotNumeric, name, v)
		}
		out[i] = f
	}
	return out, nil
}

// Times returns column name as timestamps.
func (t *Table) Times(name string) ([]time.Time, error) {
	vals, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(vals))
	for i, v := range vals {
		ts, ok := ToTime(v)
		if !ok {
			return nil, fmt.Errorf("column %q row %d: cannot read %v (%T) as a timestamp", name, i, v, v)
		}
		out[i] = ts
	}
	return out, nil
}

// Project returns a new table holding only the named columns, in order.
func (t *Table) Project(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		idx[k] = t.Index(name)
		if idx[k] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	out := New(names...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		r := make([]any, len(idx))
		for k, j := range idx {
			r[k] = row[j]
		}
		out.Rows[i] = r
	}
	return out, nil
}

// Filter returns a new table with the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := New(t.Columns...)
	for i, row := range t.Rows {
		if keep(i) {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out
}

// Clone returns a deep copy of the row slices. Values themselves are
// immutable scalars so they are shared.
func (t *Table) Clone() *Table {
	return t.Filter(func(int) bool { return true })
}

// ToFloat reads v as a float64. Only numeric Go types are accepted.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// ToInt reads v as an integer. Floats must be integral.
func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	if f, ok := ToFloat(v); ok && !math.IsNaN(f) && f == math.Trunc(f) {
		return int64(f), true
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ToTime reads v as a timestamp. Strings without a zone are taken as UTC.
func ToTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
