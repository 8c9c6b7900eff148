// Package config holds the configuration of the acquisition service: a
// JSON file describing the streams to set up, validated before use.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/lightsheet/acquire/encoding/json"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/log"

	"github.com/go-playground/validator/v10"
)

// Stream describes one camera-to-storage stream.
type Stream struct {
	// Camera is a pattern matched against the camera device names.
	Camera string `json:"camera" validate:"required"`

	// Storage is a pattern matched against the storage device names.
	Storage string `json:"storage" validate:"required"`

	// URI is the destination of the storage sink, optionally with a
	// file:// prefix.
	URI string `json:"uri"`

	// ExternalMetadata is attached to the acquisition by sinks that
	// support it.
	ExternalMetadata string `json:"external_metadata"`

	Width  uint32 `json:"width" validate:"gte=1,lte=8192"`
	Height uint32 `json:"height" validate:"gte=1,lte=8192"`

	PixelType string `json:"pixel_type" validate:"oneof=u8 u16 i8 i16 f32 u10 u12 u14"`

	ExposureTimeUs float32 `json:"exposure_time_us" validate:"gte=0"`
	Binning        uint8   `json:"binning" validate:"gte=1,lte=8"`

	MaxFrameCount     uint64 `json:"max_frame_count"`
	FrameAverageCount uint32 `json:"frame_average_count"`
}

// Config is the configuration of the acquisition service.
type Config struct {
	LogLevel string `json:"log_level" validate:"oneof=silent error warn info debug"`

	FrameQueueDepth uint64 `json:"frame_queue_depth" validate:"gte=1,lte=1024"`

	StopTimeoutSec uint `json:"stop_timeout_sec" validate:"gte=1"`

	Streams []Stream `json:"streams" validate:"min=1,max=2,dive"`
}

// New returns a config with the default values.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		FrameQueueDepth: 8,
		StopTimeoutSec:  30,
		Streams: []Stream{
			{
				Camera:         "simulated.*empty",
				Storage:        "trash",
				Width:          640,
				Height:         480,
				PixelType:      "u8",
				ExposureTimeUs: 1e4,
				Binning:        1,
				MaxFrameCount:  100,
			},
		},
	}
}

// Load reads and validates a config file. A missing path yields the
// defaults.
func Load(path string) (*Config, error) {
	c := New()

	if len(path) == 0 {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s failed: %w", path, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, json.FormatError(data, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Store writes the config to a file.
func (c *Config) Store(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		messages := []string{}
		for _, e := range errs {
			messages = append(messages, fmt.Sprintf("%s fails %s", e.Namespace(), e.Tag()))
		}

		return fmt.Errorf("invalid config: %s", strings.Join(messages, ", "))
	}

	return nil
}

// Level returns the configured log level.
func (c *Config) Level() log.Level {
	switch c.LogLevel {
	case "silent":
		return log.Lsilent
	case "error":
		return log.Lerror
	case "warn":
		return log.Lwarn
	case "debug":
		return log.Ldebug
	default:
		return log.Linfo
	}
}

// PixelTypeOf maps a config pixel type name to the sample type.
func PixelTypeOf(name string) (frame.SampleType, error) {
	for t := frame.SampleType(0); t < frame.SampleTypeCount; t++ {
		if t.String() == name {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown pixel type %q", name)
}
