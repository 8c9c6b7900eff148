package runtime

import (
	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/props"
)

// MaxVideoStreams is the number of camera-to-storage streams a runtime
// drives in parallel.
const MaxVideoStreams = 2

// CameraSettings couples the selected camera with its properties.
type CameraSettings struct {
	Identifier device.Identifier
	Settings   props.CameraProperties
}

// StorageSettings couples the selected storage sink with its properties.
type StorageSettings struct {
	Identifier device.Identifier
	Settings   props.StorageProperties
}

// VideoStreamProperties configures one stream. A stream with both
// identifiers unspecified is inactive. When only one side is given, the
// other defaults: the camera to "simulated: uniform random", the
// storage to "trash".
type VideoStreamProperties struct {
	Camera  CameraSettings
	Storage StorageSettings

	// MaxFrameCount is the number of frames to acquire. 0 means
	// unbounded.
	MaxFrameCount uint64

	// FrameAverageCount > 1 averages that many camera frames into
	// each delivered frame.
	FrameAverageCount uint32
}

// Properties is the runtime-wide configuration record. Configure treats
// it as in-out: the effective, device-chosen values are written back.
type Properties struct {
	Video [MaxVideoStreams]VideoStreamProperties
}

// VideoStreamMetadata reports the capabilities of the devices a stream
// resolved to.
type VideoStreamMetadata struct {
	Camera  props.CameraPropertyMetadata
	Storage props.StoragePropertyMetadata
}

// Metadata is the runtime-wide capability report.
type Metadata struct {
	Video [MaxVideoStreams]VideoStreamMetadata
}

// copyInto deep-copies the properties so that the destination owns all
// of its string storage.
func (p *VideoStreamProperties) copyInto(dst *VideoStreamProperties) {
	dst.Camera.Identifier = p.Camera.Identifier
	dst.Camera.Settings = p.Camera.Settings
	dst.Storage.Identifier = p.Storage.Identifier
	dst.MaxFrameCount = p.MaxFrameCount
	dst.FrameAverageCount = p.FrameAverageCount

	props.CopyStorageProperties(&dst.Storage.Settings, &p.Storage.Settings)
}
