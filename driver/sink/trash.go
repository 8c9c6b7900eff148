package sink

import (
	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/props"
)

// trashSink discards all appended frames. The filesystem is never
// touched, so any URI is accepted, including none at all.
type trashSink struct {
	base

	nbytes uint64
}

func (s *trashSink) SetProperties(p *props.StorageProperties) device.State {
	if err := props.CopyStorageProperties(&s.props, p); err != nil {
		return s.fail("Rejecting storage properties: %s", err)
	}

	uri := stripFileScheme(s.props.URI.Str())
	s.props.SetURI(append([]byte(uri), 0))

	s.state = device.StateArmed

	return s.state
}

func (s *trashSink) Metadata() props.StoragePropertyMetadata {
	return props.StoragePropertyMetadata{
		Name: s.id.Name,
	}
}

func (s *trashSink) ReserveImageShape(frame.ImageShape) error {
	return nil
}

func (s *trashSink) Start() device.State {
	if s.state != device.StateArmed {
		return s.fail("Cannot start a %s sink", s.state)
	}

	s.nbytes = 0
	s.state = device.StateRunning

	return s.state
}

func (s *trashSink) Append(record []byte) (int, device.State) {
	if s.state != device.StateRunning {
		return 0, s.state
	}

	s.nbytes += uint64(len(record))

	return len(record), s.state
}

func (s *trashSink) Stop() device.State {
	if s.state == device.StateRunning {
		s.logger.Debug().Log("Discarded %d bytes", s.nbytes)
		s.state = device.StateArmed
	}

	return s.state
}

func (s *trashSink) Destroy() {
	s.Stop()
	s.props.Destroy()
}
