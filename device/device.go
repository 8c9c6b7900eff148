// Package device defines the hardware abstraction layer: the capability
// interfaces a driver exposes for cameras and storage sinks, the shared
// device state machine, and the manager that enumerates and selects
// devices across all loaded drivers.
package device

import (
	"errors"

	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/props"
)

// Kind discriminates what a device is.
type Kind uint8

const (
	KindNone Kind = iota
	KindCamera
	KindStorage

	KindCount
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCamera:
		return "camera"
	case KindStorage:
		return "storage"
	default:
		return "(unknown)"
	}
}

// State is the device state machine shared by cameras and storage sinks:
//
//	AwaitingConfiguration -> Armed -> Running -> Armed -> Closed
//
// A failed SetProperties lands in AwaitingConfiguration from any state,
// meaning the properties must be fixed before retrying.
type State uint8

const (
	StateAwaitingConfiguration State = iota
	StateArmed
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfiguration:
		return "awaiting configuration"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "(unknown)"
	}
}

// MaxNameLength bounds the printable name of a device.
const MaxNameLength = 256

// Identifier names a device to the manager. Equality is by value. The
// zero value means "unspecified" and triggers default selection.
type Identifier struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (id Identifier) String() string {
	return id.Kind.String() + ": " + id.Name
}

// IsNone returns whether the identifier is unspecified.
func (id Identifier) IsNone() bool {
	return id.Kind == KindNone && len(id.Name) == 0
}

// ErrFrameNotReady is returned by GetFrame when no frame is available
// yet. The caller should yield briefly and retry.
var ErrFrameNotReady = errors.New("frame not ready")

// ErrNotRunning is returned by GetFrame after the camera has been
// stopped. A stopped camera must not be polled again until the next
// start.
var ErrNotRunning = errors.New("camera is not running")

// FrameInfo describes the frame a camera just delivered.
type FrameInfo struct {
	Shape frame.ImageShape

	// HardwareFrameID is the camera's own frame counter.
	HardwareFrameID uint64

	// HardwareTimestamp is the camera clock at exposure, in
	// nanoseconds.
	HardwareTimestamp uint64
}

// Device is what a driver hands out on Open.
type Device interface {
	Identifier() Identifier
}

// Camera is the capability set of a camera device. A camera has
// single-thread affinity to the producer task that polls it; only Stop
// may be called concurrently with GetFrame.
type Camera interface {
	Device

	// SetProperties validates and applies the properties. On failure
	// the camera transitions to StateAwaitingConfiguration and keeps
	// its previous settings.
	SetProperties(p *props.CameraProperties) State

	// Properties returns what the device actually chose, e.g. a
	// quantized exposure.
	Properties() props.CameraProperties

	// Metadata reports the camera's capabilities and property ranges.
	Metadata() props.CameraPropertyMetadata

	// Shape returns the effective image shape of the next acquisition.
	Shape() frame.ImageShape

	Start() State
	Stop() State

	// ExecuteTrigger fires a software trigger.
	ExecuteTrigger() error

	// GetFrame fills buf with the next frame's pixel payload. It
	// returns ErrFrameNotReady when no frame is due yet and
	// ErrNotRunning after Stop.
	GetFrame(buf []byte) (int, FrameInfo, error)
}

// Storage is the capability set of a storage sink. A sink has
// single-thread affinity to the consumer task that feeds it.
type Storage interface {
	Device

	// SetProperties validates and applies the properties. On failure
	// the sink transitions to StateAwaitingConfiguration and keeps its
	// previous settings.
	SetProperties(p *props.StorageProperties) State

	Properties() props.StorageProperties

	// Metadata reports the sink's capability flags.
	Metadata() props.StoragePropertyMetadata

	Start() State
	Stop() State

	// Append writes one frame record (header and payload) to the sink
	// and returns the number of bytes consumed. Any state other than
	// StateRunning terminates the stream.
	Append(record []byte) (int, State)

	// ReserveImageShape announces the frame shape of the upcoming
	// acquisition. It is called during configuration, not at start.
	ReserveImageShape(shape frame.ImageShape) error

	// Destroy releases the sink and all its owned property storage.
	Destroy()
}

// Driver is a registry of device factories. The runtime never touches a
// device after handing it back via Close.
type Driver interface {
	Name() string

	DeviceCount() int
	Describe(index int) (Identifier, error)
	Open(index int) (Device, error)
	Close(d Device) error

	Shutdown() error
}
