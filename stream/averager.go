package stream

import (
	"encoding/binary"
	"math"

	"github.com/lightsheet/acquire/frame"
)

// frameAverager folds consecutive camera frames into one averaged frame.
// The committed frame carries the mean of each sample over the window.
type frameAverager struct {
	typ     frame.SampleType
	samples uint64

	count  uint32
	target uint32

	acc []float64
}

func newFrameAverager(shape frame.ImageShape, target uint32) *frameAverager {
	samples := shape.Strides.Planes

	return &frameAverager{
		typ:     shape.Type,
		samples: samples,
		target:  target,
		acc:     make([]float64, samples),
	}
}

func (a *frameAverager) sampleAt(payload []byte, i uint64) float64 {
	switch a.typ {
	case frame.SampleTypeU8:
		return float64(payload[i])
	case frame.SampleTypeI8:
		return float64(int8(payload[i]))
	case frame.SampleTypeI16:
		return float64(int16(binary.LittleEndian.Uint16(payload[2*i:])))
	case frame.SampleTypeF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
	default:
		// u16 and the packed types store two bytes per sample
		return float64(binary.LittleEndian.Uint16(payload[2*i:]))
	}
}

func (a *frameAverager) storeSample(payload []byte, i uint64, v float64) {
	switch a.typ {
	case frame.SampleTypeU8:
		payload[i] = byte(v)
	case frame.SampleTypeI8:
		payload[i] = byte(int8(v))
	case frame.SampleTypeI16:
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(int16(v)))
	case frame.SampleTypeF32:
		binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(float32(v)))
	default:
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(v))
	}
}

// accumulate folds one frame into the window. It returns true when the
// window is complete.
func (a *frameAverager) accumulate(payload []byte) bool {
	for i := uint64(0); i < a.samples; i++ {
		a.acc[i] += a.sampleAt(payload, i)
	}

	a.count++

	return a.count >= a.target
}

// result writes the averaged frame into scratch, resets the window, and
// returns the averaged payload.
func (a *frameAverager) result(scratch []byte) []byte {
	n := float64(a.count)

	for i := uint64(0); i < a.samples; i++ {
		a.storeSample(scratch, i, a.acc[i]/n)
		a.acc[i] = 0
	}

	a.count = 0

	return scratch
}
