package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	mjolnir "github.com/molind/mjolnir"
)

var (
	configPath  = flag.String("config", "mjolnir.json", "Path of the build configuration file")
	extractPath = flag.String("file", "", "Filename of the *.osm.pbf (or *.osm) extract to compile")
	skipBuild   = flag.Bool("skip-build", false, "Skip graph construction, only run transit splicing and validation over existing tiles")
)

func main() {
	flag.Parse()

	cfg, err := mjolnir.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := mjolnir.InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if !*skipBuild {
		if *extractPath == "" {
			fmt.Fprintln(os.Stderr, "no extract given, use -file")
			os.Exit(1)
		}
		builder := mjolnir.NewGraphBuilder(cfg, mjolnir.NewDefaultTransform())
		if err := builder.Build(*extractPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if cfg.TransitDir != "" {
		transit := mjolnir.NewTransitBuilder(cfg, time.Now().UTC())
		if err := transit.Build(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	validator := mjolnir.NewGraphValidator(cfg)
	if _, err := validator.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
