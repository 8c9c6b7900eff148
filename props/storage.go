package props

import (
	"errors"
	"fmt"
)

// DimensionType classifies an axis of the stored array.
type DimensionType uint8

const (
	DimensionTypeSpace DimensionType = iota
	DimensionTypeChannel
	DimensionTypeTime
	DimensionTypeOther

	DimensionTypeCount
)

func (t DimensionType) String() string {
	switch t {
	case DimensionTypeSpace:
		return "Spatial"
	case DimensionTypeChannel:
		return "Channel"
	case DimensionTypeTime:
		return "Time"
	case DimensionTypeOther:
		return "Other"
	default:
		return "(unknown)"
	}
}

// StorageDimension is a named axis of the output array. The name is the
// one that appears in the metadata, e.g. "x", "y", "c", "t".
type StorageDimension struct {
	Name String

	// The type of dimension, e.g. spatial, channel, time.
	Kind DimensionType

	// The expected size of the full output array along this dimension.
	ArraySizePx uint32

	// The size of a chunk along this dimension.
	ChunkSizePx uint32

	// The number of chunks in a shard along this dimension.
	ShardSizeChunks uint32
}

// StorageProperties configures a storage sink. The first listed dimension
// is the fastest varying; the last is the append dimension.
type StorageProperties struct {
	URI                  String
	ExternalMetadataJSON String
	AccessKeyID          String
	SecretAccessKey      String

	// Reserved for future file rollover support.
	FirstFrameID uint32

	PixelScaleUm PixelScale

	Dimensions []StorageDimension

	// Enable multiscale storage if true.
	EnableMultiscale bool
}

// StoragePropertyMetadata expresses the capabilities of a storage sink.
type StoragePropertyMetadata struct {
	ChunkingIsSupported   bool   `json:"chunking_is_supported"`
	ShardingIsSupported   bool   `json:"sharding_is_supported"`
	MultiscaleIsSupported bool   `json:"multiscale_is_supported"`
	S3IsSupported         bool   `json:"s3_is_supported"`
	Name                  string `json:"name"`
}

// InitStorageProperties fills out the record, copying the strings into
// ownership and allocating dimensionCount zeroed dimension slots.
func InitStorageProperties(out *StorageProperties, firstFrameID uint32, uri, metadata string, pixelScaleUm PixelScale, dimensionCount int) error {
	if out == nil {
		return errors.New("nil storage properties")
	}

	*out = StorageProperties{
		FirstFrameID: firstFrameID,
		PixelScaleUm: pixelScaleUm,
	}

	out.URI = OwnString(uri)
	out.ExternalMetadataJSON = OwnString(metadata)

	if dimensionCount > 0 {
		out.Dimensions = make([]StorageDimension, dimensionCount)
	}

	return nil
}

// SetURI copies the uri into storage owned by the record.
func (p *StorageProperties) SetURI(uri []byte) {
	s := BorrowBytes(uri)
	CopyString(&p.URI, &s)
}

// SetExternalMetadata copies the metadata string into storage owned by
// the record.
func (p *StorageProperties) SetExternalMetadata(metadata []byte) {
	s := BorrowBytes(metadata)
	CopyString(&p.ExternalMetadataJSON, &s)
}

// SetAccessKeyAndSecret copies the S3 credentials into storage owned by
// the record.
func (p *StorageProperties) SetAccessKeyAndSecret(accessKeyID, secretAccessKey []byte) {
	s := BorrowBytes(accessKeyID)
	CopyString(&p.AccessKeyID, &s)

	t := BorrowBytes(secretAccessKey)
	CopyString(&p.SecretAccessKey, &t)
}

// SetDimension sets the dimension at the given index. On failure the slot
// is left zeroed.
func (p *StorageProperties) SetDimension(index int, name []byte, kind DimensionType, arraySizePx, chunkSizePx, shardSizeChunks uint32) error {
	if index < 0 || index >= len(p.Dimensions) {
		return fmt.Errorf("index %d out of range [0,%d)", index, len(p.Dimensions))
	}

	dim := &p.Dimensions[index]
	*dim = StorageDimension{}

	if name == nil {
		return errors.New("dimension name cannot be null")
	}

	if len(name) == 0 {
		return errors.New("bytes of name must be positive")
	}

	if len(name) == 1 && name[0] == 0 {
		return errors.New("dimension name cannot be empty")
	}

	if kind >= DimensionTypeCount {
		return fmt.Errorf("invalid dimension type: %s", kind)
	}

	s := BorrowBytes(name)
	CopyString(&dim.Name, &s)

	dim.Kind = kind
	dim.ArraySizePx = arraySizePx
	dim.ChunkSizePx = chunkSizePx
	dim.ShardSizeChunks = shardSizeChunks

	return nil
}

// SetEnableMultiscale enables or disables multiscale storage.
func (p *StorageProperties) SetEnableMultiscale(enable bool) {
	p.EnableMultiscale = enable
}

// CopyStorageProperties copies src into dst, reallocating string storage
// only when necessary. dst owns all of its buffers afterwards, no matter
// the provenance of either side. The operation is idempotent.
func CopyStorageProperties(dst *StorageProperties, src *StorageProperties) error {
	if dst == nil || src == nil {
		return errors.New("nil storage properties")
	}

	if dst == src {
		return nil
	}

	CopyString(&dst.URI, &src.URI)
	CopyString(&dst.ExternalMetadataJSON, &src.ExternalMetadataJSON)
	CopyString(&dst.AccessKeyID, &src.AccessKeyID)
	CopyString(&dst.SecretAccessKey, &src.SecretAccessKey)

	dst.FirstFrameID = src.FirstFrameID
	dst.PixelScaleUm = src.PixelScaleUm
	dst.EnableMultiscale = src.EnableMultiscale

	if len(dst.Dimensions) != len(src.Dimensions) {
		for i := range dst.Dimensions {
			dst.Dimensions[i].Name.Destroy()
		}

		dst.Dimensions = make([]StorageDimension, len(src.Dimensions))
	}

	for i := range src.Dimensions {
		d := &dst.Dimensions[i]
		s := &src.Dimensions[i]

		CopyString(&d.Name, &s.Name)
		d.Kind = s.Kind
		d.ArraySizePx = s.ArraySizePx
		d.ChunkSizePx = s.ChunkSizePx
		d.ShardSizeChunks = s.ShardSizeChunks
	}

	return nil
}

// Destroy frees each owned dimension name, then the array and the owned
// strings, leaving the zero value.
func (p *StorageProperties) Destroy() {
	p.URI.Destroy()
	p.ExternalMetadataJSON.Destroy()
	p.AccessKeyID.Destroy()
	p.SecretAccessKey.Destroy()

	for i := range p.Dimensions {
		p.Dimensions[i].Name.Destroy()
	}

	*p = StorageProperties{}
}
