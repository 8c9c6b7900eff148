package frame

import (
	"encoding/binary"
	"fmt"
)

// Alignment is the byte alignment every frame record starts at. Consumed
// byte counts are always a multiple of it.
const Alignment = 8

// AlignUp rounds n up to the next multiple of Alignment.
func AlignUp(n uint64) uint64 {
	return (n + Alignment - 1) &^ uint64(Alignment-1)
}

// Timestamps carries the two clocks a frame is stamped with: the
// camera's acquisition clock and the host's system clock, both in
// nanoseconds.
type Timestamps struct {
	Hardware uint64 `json:"hardware"`
	System   uint64 `json:"system"`
}

// Header precedes each frame's pixel payload. BytesOfFrame is the total
// record size including the header, padded up to Alignment.
type Header struct {
	BytesOfFrame uint64
	FrameID      uint64
	StreamID     uint32
	Shape        ImageShape
	Timestamps   Timestamps
}

// HeaderSize is the encoded size of a Header in bytes. It is a multiple
// of Alignment so that a frame's payload is aligned, too.
const HeaderSize = 96

// Field offsets of the encoded header.
const (
	offBytesOfFrame = 0
	offFrameID      = 8
	offStreamID     = 16
	offDims         = 20
	offStrides      = 40
	offType         = 72
	offHardware     = 80
	offSystem       = 88
)

// SizeOfFrame returns the padded record size of a frame with the given
// shape.
func SizeOfFrame(shape *ImageShape) (uint64, error) {
	n, err := BytesOfImage(shape)
	if err != nil {
		return 0, err
	}

	return AlignUp(HeaderSize + n), nil
}

// EncodeHeader writes the header into buf, which must hold at least
// HeaderSize bytes.
func EncodeHeader(buf []byte, h *Header) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("buffer of %d bytes is too small for a frame header", len(buf))
	}

	le := binary.LittleEndian

	le.PutUint64(buf[offBytesOfFrame:], h.BytesOfFrame)
	le.PutUint64(buf[offFrameID:], h.FrameID)
	le.PutUint32(buf[offStreamID:], h.StreamID)

	le.PutUint32(buf[offDims:], h.Shape.Dims.Channels)
	le.PutUint32(buf[offDims+4:], h.Shape.Dims.Width)
	le.PutUint32(buf[offDims+8:], h.Shape.Dims.Height)
	le.PutUint32(buf[offDims+12:], h.Shape.Dims.Planes)
	le.PutUint32(buf[offDims+16:], 0)

	le.PutUint64(buf[offStrides:], h.Shape.Strides.Channels)
	le.PutUint64(buf[offStrides+8:], h.Shape.Strides.Width)
	le.PutUint64(buf[offStrides+16:], h.Shape.Strides.Height)
	le.PutUint64(buf[offStrides+24:], h.Shape.Strides.Planes)

	le.PutUint32(buf[offType:], uint32(h.Shape.Type))
	le.PutUint32(buf[offType+4:], 0)

	le.PutUint64(buf[offHardware:], h.Timestamps.Hardware)
	le.PutUint64(buf[offSystem:], h.Timestamps.System)

	return nil
}

// DecodeHeader reads a header from buf.
func DecodeHeader(buf []byte) (Header, error) {
	h := Header{}

	if len(buf) < HeaderSize {
		return h, fmt.Errorf("buffer of %d bytes is too small for a frame header", len(buf))
	}

	le := binary.LittleEndian

	h.BytesOfFrame = le.Uint64(buf[offBytesOfFrame:])
	h.FrameID = le.Uint64(buf[offFrameID:])
	h.StreamID = le.Uint32(buf[offStreamID:])

	h.Shape.Dims.Channels = le.Uint32(buf[offDims:])
	h.Shape.Dims.Width = le.Uint32(buf[offDims+4:])
	h.Shape.Dims.Height = le.Uint32(buf[offDims+8:])
	h.Shape.Dims.Planes = le.Uint32(buf[offDims+12:])

	h.Shape.Strides.Channels = le.Uint64(buf[offStrides:])
	h.Shape.Strides.Width = le.Uint64(buf[offStrides+8:])
	h.Shape.Strides.Height = le.Uint64(buf[offStrides+16:])
	h.Shape.Strides.Planes = le.Uint64(buf[offStrides+24:])

	h.Shape.Type = SampleType(le.Uint32(buf[offType:]))

	h.Timestamps.Hardware = le.Uint64(buf[offHardware:])
	h.Timestamps.System = le.Uint64(buf[offSystem:])

	if h.BytesOfFrame < HeaderSize {
		return h, fmt.Errorf("frame claims %d bytes, less than its header", h.BytesOfFrame)
	}

	return h, nil
}
