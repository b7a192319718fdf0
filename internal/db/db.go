// Package db is the query layer over the exposure and telemetry databases.
// Production reads go to PostgreSQL through lib/pq; local mirrors and tests
// use SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/ci.report/internal/tabular"
)

// Driver names as registered with database/sql.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// ErrInvalidIdentifier is returned for table or column names that are not
// plain (optionally schema-qualified) SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type DB struct {
	*sql.DB
	driver string
}

// ConnConfig is the db.yaml connection description. Path selects a SQLite
// file and takes precedence over the server fields.
type ConnConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
}

// LoadConnConfig reads a db.yaml file.
func LoadConnConfig(path string) (*ConnConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read db config: %w", err)
	}
	var cfg ConnConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse db config %s: %w", path, err)
	}
	if cfg.Path == "" && cfg.Host == "" {
		return nil, fmt.Errorf("db config %s names neither a host nor a path", path)
	}
	return &cfg, nil
}

// DSN renders the connection string understood by NewDB.
func (c ConnConfig) DSN() string {
	if c.Path != "" {
		return c.Path
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	var b strings.Builder
	b.WriteString("postgres://")
	if c.User != "" {
		b.WriteString(c.User)
		if c.Password != "" {
			b.WriteString(":" + c.Password)
		}
		b.WriteString("@")
	}
	fmt.Fprintf(&b, "%s:%d/%s?sslmode=%s", c.Host, port, c.DBName, sslmode)
	return b.String()
}

// DriverFor picks the database/sql driver for a DSN.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// SQLiteTimeFormat makes modernc.org/sqlite store times as
// "2006-01-02 15:04:05.999999999-07:00", which orders correctly against the
// timestamp literals used in where clauses.
const SQLiteTimeFormat = "_time_format=sqlite"

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + SQLiteTimeFormat
	}
	return dsn + "?" + SQLiteTimeFormat
}

// NewDB opens and pings the database behind dsn.
func NewDB(dsn string) (*DB, error) {
	driver := DriverFor(dsn)
	if driver == SQLite {
		dsn = sqliteDSN(dsn)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if driver == SQLite {
		if _, err := sqlDB.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return &DB{DB: sqlDB, driver: driver}, nil
}

// Open connects to target, which is either a db.yaml connection file or a
// DSN accepted by NewDB.
func Open(target string) (*DB, error) {
	switch strings.ToLower(filepath.Ext(target)) {
	case ".yaml", ".yml":
		cfg, err := LoadConnConfig(target)
		if err != nil {
			return nil, err
		}
		return NewDB(cfg.DSN())
	}
	return NewDB(target)
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string { return db.driver }

// TableName maps a schema-qualified name onto the connected database. SQLite
// has no schemas, so "exposure.exposure" is stored as "exposure_exposure".
func (db *DB) TableName(table string) (string, error) {
	if !identifier.MatchString(table) {
		return "", fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table)
	}
	if db.driver == SQLite {
		return strings.ReplaceAll(table, ".", "_"), nil
	}
	return table, nil
}

func checkColumns(columns string) error {
	if strings.TrimSpace(columns) == "*" {
		return nil
	}
	for _, c := range strings.Split(columns, ",") {
		c = strings.TrimSpace(c)
		if !identifier.MatchString(c) || strings.Contains(c, ".") {
			return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c)
		}
	}
	return nil
}

// Select runs "select columns from table [where] [order by] [limit]". The
// where clause is passed through verbatim; callers build it from trusted
// values only.
func (db *DB) Select(ctx context.Context, table, columns, where, order string, limit int) (*tabular.Table, error) {
	name, err := db.TableName(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", columns, name)
	if where != "" {
		q += " WHERE " + where
	}
	if order != "" {
		if err := checkColumns(order); err != nil {
			return nil, err
		}
		q += " ORDER BY " + order
	}
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	return db.Query(ctx, q)
}

// Query runs an arbitrary statement and collects every row.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*tabular.Table, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := tabular.New(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize turns driver byte slices into numbers or strings. lib/pq hands
// NUMERIC columns back as text bytes.
func normalize(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	s := string(b)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Insert writes every row of t into table. Used to seed local mirrors.
func (db *DB) Insert(ctx context.Context, table string, t *tabular.Table) error {
	name, err := db.TableName(table)
	if err != nil {
		return err
	}
	if err := checkColumns(strings.Join(t.Columns, ",")); err != nil {
		return err
	}
	marks := make([]string, len(t.Columns))
	for i := range marks {
		if db.driver == Postgres {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, strings.Join(t.Columns, ", "), strings.Join(marks, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", name, err)
	}
	defer stmt.Close()
	for i, row := range t.Rows {
		if db.driver == SQLite {
			row = utcTimes(row)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", i, name, err)
		}
	}
	return tx.Commit()
}

// utcTimes converts time values to UTC so text comparisons in SQLite see a
// single offset.
func utcTimes(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if ts, ok := v.(time.Time); ok {
			v = ts.UTC()
		}
		out[i] = v
	}
	return out
}
