package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/ci.report/internal/config"
	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
	"github.com/banshee-data/ci.report/internal/summary"
	"github.com/banshee-data/ci.report/internal/version"
)

func main() {
	var configPath string
	var output string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to JSON run configuration (default "+config.DefaultConfigPath+" when present)")
	flag.StringVar(&output, "o", summary.MergedFile, "merged JSON output path")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String("mergenights"))
		return
	}

	monitoring.SetLogger(log.Printf)

	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	root := cfg.GetOutputRoot()
	fsys := fsutil.OSFileSystem{}
	if !fsys.Exists(root) {
		log.Fatalf("output root %s does not exist", root)
	}

	merged, total, err := summary.Merge(fsys, root)
	if err != nil {
		log.Fatalf("merge: %v", err)
	}
	if err := summary.WriteMerged(fsys, output, merged); err != nil {
		log.Fatalf("write %s: %v", output, err)
	}
	fmt.Printf("Merged %d exposures.\n", total)
}
