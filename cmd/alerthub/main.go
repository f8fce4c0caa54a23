package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"alerthub/internal/app"
	"alerthub/internal/clock"
	"alerthub/internal/config"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// main starts alert hub service using file or directory config source.
// Params: CLI flags (--config-file or --config-dir).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configFile  = flag.String("config-file", "", "path to one TOML config file")
		configDir   = flag.String("config-dir", "", "path to directory with TOML config fragments")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(source, clock.RealClock{}, version)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
