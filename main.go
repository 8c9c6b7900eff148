package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightsheet/acquire/app"
	"github.com/lightsheet/acquire/config"
	"github.com/lightsheet/acquire/log"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	configfile := flag.String("config", findConfigfile(), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configfile)
	if err != nil {
		logger := log.New("Acquire").WithOutput(log.NewConsoleWriter(os.Stderr, log.Lerror, true))
		logger.Error().WithError(err).Log("Failed to load the config")
		os.Exit(1)
	}

	logger := log.New("Acquire").WithOutput(log.NewConsoleWriter(os.Stderr, cfg.Level(), true))

	a, err := app.New(*configfile, logger)
	if err != nil {
		logger.Error().WithError(err).Log("Failed to create the service")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error().WithError(err).Log("Acquisition failed")
		os.Exit(1)
	}
}

func findConfigfile() string {
	if path := os.Getenv("ACQUIRE_CONFIGFILE"); len(path) != 0 {
		return path
	}

	for _, path := range []string{"acquire.json", "/etc/acquire/acquire.json"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
