package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/banshee-data/ci.report/internal/calib"
	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/config"
	"github.com/banshee-data/ci.report/internal/db"
	"github.com/banshee-data/ci.report/internal/fitsfile"
	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
	"github.com/banshee-data/ci.report/internal/summary"
	"github.com/banshee-data/ci.report/internal/telemetry"
	"github.com/banshee-data/ci.report/internal/thumbnail"
	"github.com/banshee-data/ci.report/internal/units"
	"github.com/banshee-data/ci.report/internal/version"
)

func main() {
	var configPath string
	var dbTarget string
	var migrate bool
	var verbose bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to JSON run configuration (default "+config.DefaultConfigPath+" when present)")
	flag.StringVar(&dbTarget, "db", "", "db.yaml or DSN, overrides database_file")
	flag.BoolVar(&migrate, "migrate", false, "apply schema migrations to a local sqlite mirror first")
	flag.BoolVar(&verbose, "verbose", false, "log per-exposure details")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: nightsummary [flags] YYYYMMDD\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(version.String("nightsummary"))
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("exactly one night is required")
	}
	night, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		log.Fatalf("invalid night %q: %v", flag.Arg(0), err)
	}
	if _, err := units.ParseNight(night); err != nil {
		log.Fatalf("invalid night %q: %v", flag.Arg(0), err)
	}

	runID := uuid.NewString()
	log.SetPrefix(fmt.Sprintf("[nightsummary %s] ", runID[:8]))
	monitoring.SetLogger(log.Printf)
	log.Printf("Starting %s", version.String("nightsummary"))

	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	verbose = verbose || cfg.GetVerbose()
	if dbTarget == "" {
		dbTarget = cfg.GetDatabaseFile()
	}
	if dbTarget == "" {
		log.Fatalf("no database configured: set database_file, CI_DATABASE_FILE or -db")
	}

	database, err := db.Open(dbTarget)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if migrate {
		if err := database.MigrateUp(db.MigrationsFS()); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	steps := calib.Stage(cfg.GetCalibrationSteps())
	var coeffs calib.Coefficients
	if file := cfg.GetCalibrationFile(); file != "" {
		if coeffs, err = calib.LoadCoefficients(file); err != nil {
			log.Fatalf("load calibration: %v", err)
		}
	} else if steps > calib.Raw {
		log.Fatalf("calibration_steps=%d needs a calibration_file", steps)
	}

	loc, err := units.LoadLocation(cfg.GetTimezone())
	if err != nil {
		log.Fatalf("timezone: %v", err)
	}

	ctx := context.Background()
	var temperature *summary.TemperatureSource
	if steps >= calib.DarkSubtracted && cfg.GetDefaultCCDTemperature() == nil {
		cache, err := telemetry.New(ctx, database, telemetry.Config{
			Table:     cfg.TelemetryTable("ci_camera"),
			Columns:   []string{summary.DefaultCameraColumn, "ccdtemp"},
			CacheSize: cfg.GetTelemetryCacheSize(),
			Timestamp: cfg.GetTelemetryTimestamp(),
			Location:  loc,
			Verbose:   verbose,
		})
		if err != nil {
			log.Printf("CCD temperature telemetry unavailable: %v", err)
		} else {
			temperature = &summary.TemperatureSource{Telemetry: cache, Column: "ccdtemp", CameraColumn: summary.DefaultCameraColumn}
		}
	}

	thumbOpts := thumbnail.DefaultOptions()
	thumbOpts.Caption = true
	thumbOpts.Location = loc
	thumbOpts.Verbose = verbose

	s := &summary.Summarizer{
		DB:            database,
		ExposureTable: cfg.GetExposureTable(),
		Resolver:      camera.NewResolver(cfg.GetDataRoot(), fitsfile.Opener{}),
		Pipeline:      calib.NewPipeline(coeffs),
		Calibration: calib.Options{
			Steps:              steps,
			DefaultTemperature: cfg.GetDefaultCCDTemperature(),
		},
		Thumbnail:   thumbOpts,
		Temperature: temperature,
		FS:          fsutil.OSFileSystem{},
		OutputRoot:  cfg.GetOutputRoot(),
		Verbose:     verbose,
	}

	log.Printf("Summarizing night %d from %s into %s", night, cfg.GetDataRoot(), summary.NightDir(s.OutputRoot, night))
	entries, err := s.Run(ctx, night)
	if err != nil {
		log.Fatalf("night %d failed: %v", night, err)
	}
	fmt.Printf("wrote %d thumbnails to %s\n", len(entries), summary.NightDir(s.OutputRoot, night))
}
