// Package exposure streams validated CI exposures from a table of candidates.
// A bad exposure is logged and skipped; it never stops the batch.
package exposure

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/monitoring"
	"github.com/banshee-data/ci.report/internal/tabular"
)

// Valid night range for CI exposures, inclusive.
const (
	FirstNight = 20190317
	LastNight  = 20190701
)

// Candidate table column names.
const (
	IDColumn    = "id"
	NightColumn = "night"
)

var (
	// ErrInvalidNight means a candidate's night is missing or out of range.
	ErrInvalidNight = errors.New("invalid night")
	// ErrHeaderMismatch means the file header disagrees with the candidate row.
	ErrHeaderMismatch = errors.New("header mismatch")
)

// Record is one validated exposure. Container is only valid until the stream
// advances or is closed.
type Record struct {
	Night     int
	ExpID     int64
	Container camera.Container
	Header    camera.Header
	Row       int
}

// Skip describes a candidate row that was not yielded.
type Skip struct {
	Row   int
	Night any
	ExpID any
	Err   error
}

// Resolver opens a single exposure; *camera.Resolver satisfies it.
type Resolver interface {
	Open(night int, expid int64, verbose bool) (camera.Container, camera.Header, error)
}

// Stream walks a candidate table in order. It owns at most one open container
// at a time and closes it before moving on.
type Stream struct {
	table    *tabular.Table
	resolver Resolver
	verbose  bool

	next    int
	current *Record
	skipped []Skip
	done    bool
}

// NewStream returns a stream over candidates, which must have IDColumn and
// NightColumn.
func NewStream(candidates *tabular.Table, resolver Resolver, verbose bool) (*Stream, error) {
	for _, name := range []string{IDColumn, NightColumn} {
		if !candidates.Has(name) {
			return nil, fmt.Errorf("table has no %q column: %w", name, tabular.ErrMissingColumn)
		}
	}
	return &Stream{table: candidates, resolver: resolver, verbose: verbose}, nil
}

// Next releases the current record, if any, and advances to the next valid
// exposure. It returns false once the table is exhausted or the stream closed.
func (s *Stream) Next() bool {
	s.release()
	if s.done {
		return false
	}
	for s.next < s.table.Len() {
		i := s.next
		s.next++
		if rec, ok := s.resolve(i); ok {
			s.current = rec
			return true
		}
	}
	s.done = true
	return false
}

// Record returns the current exposure.
func (s *Stream) Record() Record {
	if s.current == nil {
		return Record{}
	}
	return *s.current
}

// Skipped returns every candidate skipped so far.
func (s *Stream) Skipped() []Skip {
	return append([]Skip(nil), s.skipped...)
}

// Close releases the current record and ends the stream. It is safe to call
// more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.release()
}

// All returns the stream as an iterator. Each container is closed when the
// loop body returns, including when it breaks or panics.
func (s *Stream) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Record()) {
				return
			}
		}
	}
}

func (s *Stream) release() error {
	if s.current == nil {
		return nil
	}
	c := s.current.Container
	s.current = nil
	return c.Close()
}

func (s *Stream) skip(i int, night, expid any, err error) {
	monitoring.Logf("Skipping exposure night=%v expid=%v: %v", night, expid, err)
	s.skipped = append(s.skipped, Skip{Row: i, Night: night, ExpID: expid, Err: err})
}

func (s *Stream) resolve(i int) (*Record, bool) {
	rawNight, _ := s.table.Value(i, NightColumn)
	rawID, _ := s.table.Value(i, IDColumn)

	night, err := parseNight(rawNight)
	if err != nil {
		s.skip(i, rawNight, rawID, err)
		return nil, false
	}
	expid, ok := tabular.ToInt(rawID)
	if !ok || expid < 0 {
		s.skip(i, night, rawID, fmt.Errorf("invalid exposure id %v", rawID))
		return nil, false
	}

	c, hdr, err := s.resolver.Open(night, expid, s.verbose)
	if err != nil {
		s.skip(i, night, expid, err)
		return nil, false
	}

	if got, ok := hdr.Int("NIGHT"); !ok || got != int64(night) {
		c.Close()
		s.skip(i, night, expid, fmt.Errorf("%w: FITS header NIGHT (%v) and db (%d) differ", ErrHeaderMismatch, hdr["NIGHT"], night))
		return nil, false
	}
	if got, ok := hdr.Int("EXPID"); !ok || got != expid {
		c.Close()
		s.skip(i, night, expid, fmt.Errorf("%w: FITS header EXPID (%v) and db (%d) differ", ErrHeaderMismatch, hdr["EXPID"], expid))
		return nil, false
	}
	return &Record{Night: night, ExpID: expid, Container: c, Header: hdr, Row: i}, true
}

// parseNight accepts integral or floating point nights. Candidate tables mix
// in floats when the night column holds nulls elsewhere, so the value is
// range checked and then rounded.
func parseNight(v any) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing", ErrInvalidNight)
	}
	var f float64
	if n, ok := tabular.ToInt(v); ok {
		f = float64(n)
	} else if x, ok := tabular.ToFloat(v); ok {
		f = x
	} else {
		return 0, fmt.Errorf("%w: cannot parse %v", ErrInvalidNight, v)
	}
	if math.IsNaN(f) || f < FirstNight || f > LastNight {
		return 0, fmt.Errorf("%w: %v outside %d..%d", ErrInvalidNight, v, FirstNight, LastNight)
	}
	return int(math.Round(f)), nil
}
