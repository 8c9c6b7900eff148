package sink

import (
	"encoding/binary"
	"fmt"

	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/io/fs"
)

// BigTIFF constants. One IFD is written per frame; the IFDs are chained
// by patching the previous next-IFD link, which is why the writer needs
// a RandomAccessFile.
const (
	tiffHeaderSize = 16

	tiffTypeASCII = 2
	tiffTypeShort = 3
	tiffTypeLong  = 4
	tiffTypeLong8 = 16

	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSampleFormat     = 339

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	// Per-frame metadata is embedded in the ImageDescription tag as a
	// JSON string, padded with NULs to a fixed length so that the file
	// layout stays deterministic.
	descLength = 200

	ifdEntryCount = 11
	ifdSize       = 8 + ifdEntryCount*20 + 8
)

type bigtiffWriter struct {
	file fs.RandomAccessFile

	shape      frame.ImageShape
	imageBytes uint64

	// offset is where the next write lands; prevLink is the file
	// offset of the u64 that points to the next IFD.
	offset   uint64
	prevLink uint64

	frames uint64
}

// newBigtiffWriter writes the BigTIFF header and prepares for one IFD
// per appended frame.
func newBigtiffWriter(file fs.RandomAccessFile, shape frame.ImageShape) (*bigtiffWriter, error) {
	imageBytes, err := frame.BytesOfImage(&shape)
	if err != nil {
		return nil, err
	}

	w := &bigtiffWriter{
		file:       file,
		shape:      shape,
		imageBytes: imageBytes,
		offset:     tiffHeaderSize,
		prevLink:   8,
	}

	header := [tiffHeaderSize]byte{}
	header[0] = 'I'
	header[1] = 'I'
	binary.LittleEndian.PutUint16(header[2:], 43)
	binary.LittleEndian.PutUint16(header[4:], 8)
	binary.LittleEndian.PutUint16(header[6:], 0)
	// first IFD offset is patched when the first frame arrives
	binary.LittleEndian.PutUint64(header[8:], 0)

	if _, err := file.Write(header[:]); err != nil {
		return nil, fmt.Errorf("writing the BigTIFF header failed: %w", err)
	}

	return w, nil
}

func (w *bigtiffWriter) sampleFormat() (bits uint16, format uint16) {
	switch w.shape.Type {
	case frame.SampleTypeI8:
		return 8, sampleFormatInt
	case frame.SampleTypeI16:
		return 16, sampleFormatInt
	case frame.SampleTypeF32:
		return 32, sampleFormatFloat
	case frame.SampleTypeU8:
		return 8, sampleFormatUint
	default:
		// u16 and the packed types store 16 bits
		return 16, sampleFormatUint
	}
}

func putIFDEntry(buf []byte, tag uint16, typ uint16, count uint64, value uint64) {
	le := binary.LittleEndian

	le.PutUint16(buf[0:], tag)
	le.PutUint16(buf[2:], typ)
	le.PutUint64(buf[4:], count)
	le.PutUint64(buf[12:], value)
}

// writeFrame appends the payload and its IFD, then links the IFD into
// the chain.
func (w *bigtiffWriter) writeFrame(hdr *frame.Header, payload []byte) error {
	if uint64(len(payload)) != w.imageBytes {
		return fmt.Errorf("payload of %d bytes does not match the reserved shape (%d bytes)", len(payload), w.imageBytes)
	}

	dataOffset := w.offset

	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("writing frame %d failed: %w", hdr.FrameID, err)
	}

	desc := [descLength]byte{}
	copy(desc[:], fmt.Sprintf(`{"frame_id":%d,"timestamps":{"hardware":%d,"system":%d}}`,
		hdr.FrameID, hdr.Timestamps.Hardware, hdr.Timestamps.System))

	descOffset := dataOffset + w.imageBytes

	if _, err := w.file.Write(desc[:]); err != nil {
		return fmt.Errorf("writing frame %d metadata failed: %w", hdr.FrameID, err)
	}

	ifdOffset := descOffset + descLength

	bits, format := w.sampleFormat()

	ifd := [ifdSize]byte{}
	le := binary.LittleEndian

	le.PutUint64(ifd[0:], ifdEntryCount)

	entries := ifd[8:]
	putIFDEntry(entries[0*20:], tagImageWidth, tiffTypeLong, 1, uint64(w.shape.Dims.Width))
	putIFDEntry(entries[1*20:], tagImageLength, tiffTypeLong, 1, uint64(w.shape.Dims.Height))
	putIFDEntry(entries[2*20:], tagBitsPerSample, tiffTypeShort, 1, uint64(bits))
	putIFDEntry(entries[3*20:], tagCompression, tiffTypeShort, 1, 1)
	putIFDEntry(entries[4*20:], tagPhotometric, tiffTypeShort, 1, 1)
	putIFDEntry(entries[5*20:], tagImageDescription, tiffTypeASCII, descLength, descOffset)
	putIFDEntry(entries[6*20:], tagStripOffsets, tiffTypeLong8, 1, dataOffset)
	putIFDEntry(entries[7*20:], tagSamplesPerPixel, tiffTypeShort, 1, 1)
	putIFDEntry(entries[8*20:], tagRowsPerStrip, tiffTypeLong, 1, uint64(w.shape.Dims.Height))
	putIFDEntry(entries[9*20:], tagStripByteCounts, tiffTypeLong8, 1, w.imageBytes)
	putIFDEntry(entries[10*20:], tagSampleFormat, tiffTypeShort, 1, uint64(format))

	// next IFD is unknown yet
	le.PutUint64(ifd[ifdSize-8:], 0)

	if _, err := w.file.Write(ifd[:]); err != nil {
		return fmt.Errorf("writing frame %d IFD failed: %w", hdr.FrameID, err)
	}

	link := [8]byte{}
	le.PutUint64(link[:], ifdOffset)

	if _, err := w.file.WriteAt(link[:], int64(w.prevLink)); err != nil {
		return fmt.Errorf("linking frame %d IFD failed: %w", hdr.FrameID, err)
	}

	w.prevLink = ifdOffset + uint64(ifdSize) - 8
	w.offset = ifdOffset + uint64(ifdSize)
	w.frames++

	return nil
}

func (w *bigtiffWriter) close() error {
	return w.file.Close()
}
