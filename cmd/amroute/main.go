package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"amroute/internal/app"
	"amroute/internal/clock"
	"amroute/internal/config"
)

// main starts the alert routing service.
// Params: CLI flags (--config).
// Returns: process exit code by startup/run result.
func main() {
	configFile := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	var (
		cfg config.Config
		err error
	)
	if *configFile == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configFile)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	service, err := app.NewService(cfg, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
