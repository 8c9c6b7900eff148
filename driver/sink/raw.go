package sink

import (
	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/io/fs"
	"github.com/lightsheet/acquire/props"
)

// rawSink writes the frame records verbatim: header and payload, one
// after the other. The file size after n frames of a padless shape is
// exactly n * (HeaderSize + bytes_of_image).
type rawSink struct {
	base

	target string
	file   fs.AppendFile
	offset uint64
}

func (s *rawSink) SetProperties(p *props.StorageProperties) device.State {
	target, err := s.ingest(p)
	if err != nil {
		return s.fail("Rejecting storage properties: %s", err)
	}

	if err := requireWritableFile(s.fsys, target); err != nil {
		return s.fail("Destination is not writable: %s", err)
	}

	s.target = target
	s.state = device.StateArmed

	return s.state
}

func (s *rawSink) Metadata() props.StoragePropertyMetadata {
	return props.StoragePropertyMetadata{
		S3IsSupported: true,
		Name:          s.id.Name,
	}
}

func (s *rawSink) ReserveImageShape(frame.ImageShape) error {
	// the raw stream carries the shape in every frame header
	return nil
}

func (s *rawSink) Start() device.State {
	if s.state != device.StateArmed {
		return s.fail("Cannot start a %s sink", s.state)
	}

	file, err := s.fsys.OpenAppend(s.target)
	if err != nil {
		return s.fail("Creating %s failed: %s", s.target, err)
	}

	s.file = file
	s.offset = 0
	s.state = device.StateRunning

	s.logger.Debug().Log("RAW: Frame header size %d bytes", frame.HeaderSize)

	return s.state
}

func (s *rawSink) Append(record []byte) (int, device.State) {
	if s.state != device.StateRunning {
		return 0, s.state
	}

	n, err := s.file.Write(record)
	if err != nil {
		s.logger.WithError(err).Error().Log("Write failed at offset %d", s.offset)
		s.close()
		s.state = device.StateAwaitingConfiguration

		return 0, s.state
	}

	s.offset += uint64(n)

	return n, s.state
}

func (s *rawSink) Stop() device.State {
	s.close()

	if s.state == device.StateRunning {
		s.state = device.StateArmed
	}

	return s.state
}

func (s *rawSink) close() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

func (s *rawSink) Destroy() {
	s.Stop()
	s.props.Destroy()
}
