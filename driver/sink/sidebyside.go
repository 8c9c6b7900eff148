package sink

import (
	"os"
	"path"
	"strings"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/io/fs"
	"github.com/lightsheet/acquire/props"
)

// sideBySideSink interprets the URI as a directory and writes the frame
// stream to data.tif next to the external metadata in metadata.json.
// The directory is created if absent; the metadata file is written at
// start.
type sideBySideSink struct {
	base

	dir    string
	shape  frame.ImageShape
	writer *bigtiffWriter
}

func (s *sideBySideSink) SetProperties(p *props.StorageProperties) device.State {
	dir, err := s.ingest(p)
	if err != nil {
		return s.fail("Rejecting storage properties: %s", err)
	}

	if strings.HasPrefix(s.props.URI.Str(), "s3://") {
		return s.fail("The tiff-json sink patches IFD links and cannot target s3")
	}

	if err := s.fsys.MkdirAll(dir, os.FileMode(0o755)); err != nil {
		return s.fail("Creating directory %s failed: %s", dir, err)
	}

	s.dir = dir
	s.state = device.StateArmed

	return s.state
}

func (s *sideBySideSink) Metadata() props.StoragePropertyMetadata {
	return props.StoragePropertyMetadata{
		Name: s.id.Name,
	}
}

func (s *sideBySideSink) ReserveImageShape(shape frame.ImageShape) error {
	if _, err := frame.BytesOfImage(&shape); err != nil {
		return err
	}

	s.shape = shape

	return nil
}

func (s *sideBySideSink) Start() device.State {
	if s.state != device.StateArmed {
		return s.fail("Cannot start a %s sink", s.state)
	}

	if metadata := s.props.ExternalMetadataJSON.Str(); len(metadata) != 0 {
		if _, _, err := s.fsys.WriteFile(path.Join(s.dir, "metadata.json"), []byte(metadata)); err != nil {
			return s.fail("Writing metadata.json failed: %s", err)
		}
	}

	file, err := s.fsys.OpenAppend(path.Join(s.dir, "data.tif"))
	if err != nil {
		return s.fail("Creating data.tif failed: %s", err)
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

func (s *sideBySideSink) Append(record []byte) (int, device.State) {
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

func (s *sideBySideSink) Stop() device.State {
	s.close()

	if s.state == device.StateRunning {
		s.state = device.StateArmed
	}

	return s.state
}

func (s *sideBySideSink) close() {
	if s.writer != nil {
		s.writer.close()
		s.writer = nil
	}
}

func (s *sideBySideSink) Destroy() {
	s.Stop()
	s.props.Destroy()
}
