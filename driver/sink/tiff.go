package sink

import (
	"strings"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/io/fs"
	"github.com/lightsheet/acquire/props"
)

// tiffSink writes one BigTIFF file with an IFD per frame.
type tiffSink struct {
	base

	target string
	shape  frame.ImageShape
	writer *bigtiffWriter
}

func (s *tiffSink) SetProperties(p *props.StorageProperties) device.State {
	target, err := s.ingest(p)
	if err != nil {
		return s.fail("Rejecting storage properties: %s", err)
	}

	if strings.HasPrefix(s.props.URI.Str(), "s3://") {
		return s.fail("The tiff sink patches IFD links and cannot target s3")
	}

	if err := requireWritableFile(s.fsys, target); err != nil {
		return s.fail("Destination is not writable: %s", err)
	}

	s.target = target
	s.state = device.StateArmed

	return s.state
}

func (s *tiffSink) Metadata() props.StoragePropertyMetadata {
	return props.StoragePropertyMetadata{
		Name: s.id.Name,
	}
}

func (s *tiffSink) ReserveImageShape(shape frame.ImageShape) error {
	if _, err := frame.BytesOfImage(&shape); err != nil {
		return err
	}

	s.shape = shape

	return nil
}

func (s *tiffSink) Start() device.State {
	if s.state != device.StateArmed {
		return s.fail("Cannot start a %s sink", s.state)
	}

	file, err := s.fsys.OpenAppend(s.target)
	if err != nil {
		return s.fail("Creating %s failed: %s", s.target, err)
	}

	ra, ok := file.(fs.RandomAccessFile)
	if !ok {
		file.Close()
		return s.fail("%s does not support patching IFD links", s.fsys.Type())
	}

	writer, err := newBigtiffWriter(ra, s.shape)
	if err != nil {
		file.Close()
		return s.fail("Starting the BigTIFF stream failed: %s", err)
	}

	s.writer = writer
	s.state = device.StateRunning

	return s.state
}

func (s *tiffSink) Append(record []byte) (int, device.State) {
	if s.state != device.StateRunning {
		return 0, s.state
	}

	hdr, err := frame.DecodeHeader(record)
	if err != nil {
		s.logger.WithError(err).Error().Log("Malformed frame record")
		s.close()
		s.state = device.StateAwaitingConfiguration

		return 0, s.state
	}

	payload := record[frame.HeaderSize : frame.HeaderSize+s.writer.imageBytes]

	if err := s.writer.writeFrame(&hdr, payload); err != nil {
		s.logger.WithError(err).Error().Log("Append failed")
		s.close()
		s.state = device.StateAwaitingConfiguration

		return 0, s.state
	}

	return len(record), s.state
}

func (s *tiffSink) Stop() device.State {
	s.close()

	if s.state == device.StateRunning {
		s.state = device.StateArmed
	}

	return s.state
}

func (s *tiffSink) close() {
	if s.writer != nil {
		s.writer.close()
		s.writer = nil
	}
}

func (s *tiffSink) Destroy() {
	s.Stop()
	s.props.Destroy()
}
