// Package app assembles the acquisition service from a config file: it
// builds the runtime, translates the configured streams into runtime
// properties, and drives one bounded acquisition.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lightsheet/acquire/config"
	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/props"
	"github.com/lightsheet/acquire/runtime"
)

// App is one acquisition service instance.
type App struct {
	config  *config.Config
	runtime runtime.Runtime
	logger  log.Logger
}

// New creates the service from the config file at the given path.
func New(configPath string, logger log.Logger) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	rt, err := runtime.New(runtime.Config{
		FrameQueueDepth: cfg.FrameQueueDepth,
		StopTimeout:     time.Duration(cfg.StopTimeoutSec) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		config:  cfg,
		runtime: rt,
		logger:  logger.WithComponent("App"),
	}, nil
}

// Runtime exposes the underlying runtime, e.g. for the monitor tap.
func (a *App) Runtime() runtime.Runtime {
	return a.runtime
}

// configure translates the config streams into runtime properties and
// applies them.
func (a *App) configure() error {
	manager := a.runtime.DeviceManager()

	p := &runtime.Properties{}
	if err := a.runtime.GetConfiguration(p); err != nil {
		return err
	}

	for i, s := range a.config.Streams {
		if i >= runtime.MaxVideoStreams {
			return fmt.Errorf("at most %d streams are supported", runtime.MaxVideoStreams)
		}

		camID, err := manager.Select(device.KindCamera, s.Camera)
		if err != nil {
			return err
		}

		stoID, err := manager.Select(device.KindStorage, s.Storage)
		if err != nil {
			return err
		}

		pixelType, err := config.PixelTypeOf(s.PixelType)
		if err != nil {
			return err
		}

		video := &p.Video[i]

		video.Camera.Identifier = camID
		video.Camera.Settings.Shape.X = s.Width
		video.Camera.Settings.Shape.Y = s.Height
		video.Camera.Settings.PixelType = pixelType
		video.Camera.Settings.ExposureTimeUs = s.ExposureTimeUs
		video.Camera.Settings.Binning = s.Binning

		video.Storage.Identifier = stoID

		if err := props.InitStorageProperties(&video.Storage.Settings, 0, s.URI, s.ExternalMetadata, props.PixelScale{X: 1, Y: 1}, 0); err != nil {
			return err
		}

		video.MaxFrameCount = s.MaxFrameCount
		video.FrameAverageCount = s.FrameAverageCount
	}

	return a.runtime.Configure(p)
}

// Run performs one acquisition: configure, start, wait for completion
// or cancellation, stop, report.
func (a *App) Run(ctx context.Context) error {
	if err := a.configure(); err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := a.runtime.Start(); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	a.logger.Info().Log("Acquisition running")

	// wait for every bounded stream to reach its frame count
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			a.logger.Warn().Log("Cancelled, aborting")

			if err := a.runtime.Abort(); err != nil {
				return err
			}

			break wait
		case <-ticker.C:
			if a.done() {
				break wait
			}
		}
	}

	if err := a.runtime.Stop(); err != nil {
		return err
	}

	for i := range a.config.Streams {
		status, err := a.runtime.StreamStatus(i)
		if err != nil {
			continue
		}

		a.logger.Info().WithFields(log.Fields{
			"acquired": status.FramesAcquired,
			"written":  status.FramesWritten,
			"dropped":  status.FramesDropped,
			"stored":   status.FramesStored,
		}).Log("Stream %d finished", i)
	}

	return a.runtime.Shutdown()
}

// done reports whether every bounded stream has written its frames.
func (a *App) done() bool {
	for i, s := range a.config.Streams {
		if s.MaxFrameCount == 0 {
			// unbounded streams run until cancelled
			return false
		}

		status, err := a.runtime.StreamStatus(i)
		if err != nil {
			return true
		}

		if status.FramesWritten < s.MaxFrameCount {
			return false
		}
	}

	return true
}
