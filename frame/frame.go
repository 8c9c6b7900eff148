// Package frame defines the sample format, image shape, and video frame
// layout shared by cameras, the frame ring, and storage sinks.
package frame

import (
	"fmt"
)

// SampleType enumerates the pixel formats a camera can produce. The
// sub-byte packed types (u10, u12, u14) store two bytes per sample with
// the low bits carrying the measurement.
type SampleType uint8

const (
	SampleTypeU8 SampleType = iota
	SampleTypeU16
	SampleTypeI8
	SampleTypeI16
	SampleTypeF32
	SampleTypeU10
	SampleTypeU12
	SampleTypeU14

	SampleTypeCount
)

func (t SampleType) String() string {
	names := []string{
		"u8",
		"u16",
		"i8",
		"i16",
		"f32",
		"u10",
		"u12",
		"u14",
	}

	if int(t) >= len(names) {
		return "(unknown)"
	}

	return names[t]
}

// BytesOfType returns the storage width of one sample. Unknown types are
// an error, never a silent zero.
func BytesOfType(t SampleType) (uint64, error) {
	widths := []uint64{
		1, // u8
		2, // u16
		1, // i8
		2, // i16
		4, // f32
		2, // u10
		2, // u12
		2, // u14
	}

	if int(t) >= len(widths) {
		return 0, fmt.Errorf("unknown sample type %d", t)
	}

	return widths[t], nil
}

// ImageDims is the size of an image in pixels along each axis.
type ImageDims struct {
	Channels uint32 `json:"channels"`
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	Planes   uint32 `json:"planes"`
}

// ImageStrides is the distance between consecutive elements along each
// axis, measured in samples.
type ImageStrides struct {
	Channels uint64 `json:"channels"`
	Width    uint64 `json:"width"`
	Height   uint64 `json:"height"`
	Planes   uint64 `json:"planes"`
}

// ImageShape describes the layout of one frame's pixel payload.
type ImageShape struct {
	Dims    ImageDims    `json:"dims"`
	Strides ImageStrides `json:"strides"`
	Type    SampleType   `json:"type"`
}

// ShapeOf returns the densely packed single-plane shape for the given
// frame size and sample type.
func ShapeOf(width, height uint32, t SampleType) ImageShape {
	return ImageShape{
		Dims: ImageDims{
			Channels: 1,
			Width:    width,
			Height:   height,
			Planes:   1,
		},
		Strides: ImageStrides{
			Channels: 1,
			Width:    1,
			Height:   uint64(width),
			Planes:   uint64(width) * uint64(height),
		},
		Type: t,
	}
}

// BytesOfImage returns the payload size of one frame with the given shape.
// The plane stride covers all channels and rows, so the payload is the
// plane stride times the sample width.
func BytesOfImage(shape *ImageShape) (uint64, error) {
	w, err := BytesOfType(shape.Type)
	if err != nil {
		return 0, err
	}

	return shape.Strides.Planes * w, nil
}
