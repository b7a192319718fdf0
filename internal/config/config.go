// Package config loads the run configuration shared by the binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/ci.report/internal/units"
)

// DefaultConfigPath is where the binaries look when -config is not given.
const DefaultConfigPath = "config/ci.json"

// ScratchSubdir is appended to $SCRATCH to form the output root.
const ScratchSubdir = "CI"

// Defaults for unset fields.
const (
	DefaultCalibrationSteps   = 1
	DefaultTelemetryCacheSize = 10
	DefaultTelemetryTimestamp = "time_recorded"
	DefaultExposureTable      = "exposure.exposure"
	DefaultTelemetrySchema    = "telemetry"
	DefaultOutputRoot         = "."
)

// Config is the run configuration. Fields left out of the JSON fall back to
// the Get* defaults.
type Config struct {
	DataRoot        *string `json:"data_root,omitempty"`
	OutputRoot      *string `json:"output_root,omitempty"`
	CalibrationFile *string `json:"calibration_file,omitempty"`
	DatabaseFile    *string `json:"database_file,omitempty"` // db.yaml, or a sqlite path

	CalibrationSteps      *int     `json:"calibration_steps,omitempty"`
	DefaultCCDTemperature *float64 `json:"default_ccd_temperature,omitempty"`

	TelemetryCacheSize *int    `json:"telemetry_cache_size,omitempty"`
	TelemetryTimestamp *string `json:"telemetry_timestamp,omitempty"`
	Timezone           *string `json:"timezone,omitempty"`

	ExposureTable   *string `json:"exposure_table,omitempty"`
	TelemetrySchema *string `json:"telemetry_schema,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`
}

// Env holds the environment overrides. Set variables replace the
// corresponding JSON fields; SCRATCH names a scratch area whose CI
// subdirectory becomes the output root.
type Env struct {
	DataRoot        string `env:"CI_DATA_ROOT"`
	OutputRoot      string `env:"SCRATCH"`
	DatabaseFile    string `env:"CI_DATABASE_FILE"`
	CalibrationFile string `env:"CI_CALIBRATION_FILE"`
}

func ptrString(v string) *string { return &v }

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ResolvePath returns path when set, otherwise DefaultConfigPath if that
// file exists, otherwise "" so Load runs on defaults and environment alone.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// Load reads the JSON file at path (if path is non-empty), applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	var e Env
	if err := ParseEnv(&e); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(e)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig loads a Config from a JSON file.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overwrites fields with the non-empty values of e.
func (c *Config) ApplyEnv(e Env) {
	if e.DataRoot != "" {
		c.DataRoot = ptrString(e.DataRoot)
	}
	if e.OutputRoot != "" {
		c.OutputRoot = ptrString(filepath.Join(e.OutputRoot, ScratchSubdir))
	}
	if e.DatabaseFile != "" {
		c.DatabaseFile = ptrString(e.DatabaseFile)
	}
	if e.CalibrationFile != "" {
		c.CalibrationFile = ptrString(e.CalibrationFile)
	}
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.CalibrationSteps != nil {
		if *c.CalibrationSteps < 0 || *c.CalibrationSteps > 3 {
			return fmt.Errorf("calibration_steps must be between 0 and 3, got %d", *c.CalibrationSteps)
		}
	}
	if c.TelemetryCacheSize != nil && *c.TelemetryCacheSize < 1 {
		return fmt.Errorf("telemetry_cache_size must be positive, got %d", *c.TelemetryCacheSize)
	}
	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}
	if c.ExposureTable != nil && strings.TrimSpace(*c.ExposureTable) == "" {
		return fmt.Errorf("exposure_table must not be empty")
	}
	if c.TelemetrySchema != nil && strings.ContainsAny(*c.TelemetrySchema, ". ") {
		return fmt.Errorf("telemetry_schema must be a bare schema name, got %q", *c.TelemetrySchema)
	}
	return nil
}

// GetDataRoot returns the raw exposure archive root, or "".
func (c *Config) GetDataRoot() string {
	if c.DataRoot == nil {
		return ""
	}
	return *c.DataRoot
}

func (c *Config) GetOutputRoot() string {
	if c.OutputRoot == nil || *c.OutputRoot == "" {
		return DefaultOutputRoot
	}
	return *c.OutputRoot
}

func (c *Config) GetCalibrationFile() string {
	if c.CalibrationFile == nil {
		return ""
	}
	return *c.CalibrationFile
}

func (c *Config) GetDatabaseFile() string {
	if c.DatabaseFile == nil {
		return ""
	}
	return *c.DatabaseFile
}

func (c *Config) GetCalibrationSteps() int {
	if c.CalibrationSteps == nil {
		return DefaultCalibrationSteps
	}
	return *c.CalibrationSteps
}

// GetDefaultCCDTemperature returns nil when no fallback temperature is set.
func (c *Config) GetDefaultCCDTemperature() *float64 {
	if c.DefaultCCDTemperature == nil {
		return nil
	}
	v := *c.DefaultCCDTemperature
	return &v
}

func (c *Config) GetTelemetryCacheSize() int {
	if c.TelemetryCacheSize == nil {
		return DefaultTelemetryCacheSize
	}
	return *c.TelemetryCacheSize
}

func (c *Config) GetTelemetryTimestamp() string {
	if c.TelemetryTimestamp == nil || *c.TelemetryTimestamp == "" {
		return DefaultTelemetryTimestamp
	}
	return *c.TelemetryTimestamp
}

func (c *Config) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return units.DefaultTimezone
	}
	return *c.Timezone
}

func (c *Config) GetExposureTable() string {
	if c.ExposureTable == nil {
		return DefaultExposureTable
	}
	return *c.ExposureTable
}

func (c *Config) GetTelemetrySchema() string {
	if c.TelemetrySchema == nil || *c.TelemetrySchema == "" {
		return DefaultTelemetrySchema
	}
	return *c.TelemetrySchema
}

// TelemetryTable qualifies a telemetry table name with the configured schema.
func (c *Config) TelemetryTable(name string) string {
	return c.GetTelemetrySchema() + "." + name
}

func (c *Config) GetVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}
