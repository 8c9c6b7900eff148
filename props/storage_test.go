package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitStorageProperties(t *testing.T) {
	p := StorageProperties{}

	err := InitStorageProperties(&p, 0, "file:///tmp/out.tif", `{"hello":"world"}`, PixelScale{1, 1}, 3)
	require.NoError(t, err)

	assert.Equal(t, "file:///tmp/out.tif", p.URI.Str())
	assert.False(t, p.URI.IsRef())
	assert.Equal(t, `{"hello":"world"}`, p.ExternalMetadataJSON.Str())
	assert.Equal(t, 3, len(p.Dimensions))

	for _, dim := range p.Dimensions {
		assert.Equal(t, 0, dim.Name.NBytes())
	}
}

func TestSetDimension(t *testing.T) {
	p := StorageProperties{}
	require.NoError(t, InitStorageProperties(&p, 0, "out.zarr", "", PixelScale{1, 1}, 2))

	err := p.SetDimension(0, []byte("x\x00"), DimensionTypeSpace, 1920, 64, 1)
	require.NoError(t, err)

	dim := p.Dimensions[0]
	assert.Equal(t, "x", dim.Name.Str())
	assert.False(t, dim.Name.IsRef())
	assert.Equal(t, DimensionTypeSpace, dim.Kind)
	assert.Equal(t, uint32(1920), dim.ArraySizePx)
	assert.Equal(t, uint32(64), dim.ChunkSizePx)
	assert.Equal(t, uint32(1), dim.ShardSizeChunks)
}

func TestSetDimensionFailures(t *testing.T) {
	p := StorageProperties{}
	require.NoError(t, InitStorageProperties(&p, 0, "out.zarr", "", PixelScale{1, 1}, 1))

	// nil name
	require.Error(t, p.SetDimension(0, nil, DimensionTypeSpace, 1, 1, 1))
	assert.Equal(t, 0, p.Dimensions[0].Name.NBytes())

	// empty buffer
	require.Error(t, p.SetDimension(0, []byte{}, DimensionTypeSpace, 1, 1, 1))

	// empty name
	require.Error(t, p.SetDimension(0, []byte{0}, DimensionTypeSpace, 1, 1, 1))

	// invalid kind
	require.Error(t, p.SetDimension(0, []byte("t\x00"), DimensionTypeCount, 1, 1, 1))
	assert.Equal(t, 0, p.Dimensions[0].Name.NBytes())

	// index out of range
	require.Error(t, p.SetDimension(1, []byte("t\x00"), DimensionTypeTime, 1, 1, 1))
	require.Error(t, p.SetDimension(-1, []byte("t\x00"), DimensionTypeTime, 1, 1, 1))

	// a failed set leaves a previously valid slot zeroed
	require.NoError(t, p.SetDimension(0, []byte("x\x00"), DimensionTypeSpace, 1, 1, 1))
	require.Error(t, p.SetDimension(0, []byte{0}, DimensionTypeSpace, 1, 1, 1))
	assert.Equal(t, 0, p.Dimensions[0].Name.NBytes())
}

func TestCopyStorageProperties(t *testing.T) {
	src := StorageProperties{}
	require.NoError(t, InitStorageProperties(&src, 7, "file://out.raw", `{"a":1}`, PixelScale{0.2, 0.2}, 2))
	require.NoError(t, src.SetDimension(0, []byte("x\x00"), DimensionTypeSpace, 64, 8, 1))
	require.NoError(t, src.SetDimension(1, []byte("t\x00"), DimensionTypeTime, 0, 1, 1))
	src.SetAccessKeyAndSecret([]byte("key\x00"), []byte("secret\x00"))
	src.SetEnableMultiscale(true)

	dst := StorageProperties{}
	require.NoError(t, CopyStorageProperties(&dst, &src))

	assert.Equal(t, "file://out.raw", dst.URI.Str())
	assert.False(t, dst.URI.IsRef())
	assert.Equal(t, `{"a":1}`, dst.ExternalMetadataJSON.Str())
	assert.Equal(t, "key", dst.AccessKeyID.Str())
	assert.Equal(t, "secret", dst.SecretAccessKey.Str())
	assert.Equal(t, uint32(7), dst.FirstFrameID)
	assert.True(t, dst.EnableMultiscale)
	require.Equal(t, 2, len(dst.Dimensions))
	assert.Equal(t, "x", dst.Dimensions[0].Name.Str())
	assert.False(t, dst.Dimensions[0].Name.IsRef())
	assert.Equal(t, "t", dst.Dimensions[1].Name.Str())

	// idempotent
	require.NoError(t, CopyStorageProperties(&dst, &src))
	assert.Equal(t, "file://out.raw", dst.URI.Str())
	assert.False(t, dst.URI.IsRef())
	require.Equal(t, 2, len(dst.Dimensions))
	assert.Equal(t, "x", dst.Dimensions[0].Name.Str())

	// self copy is a no-op
	require.NoError(t, CopyStorageProperties(&dst, &dst))
	assert.Equal(t, "file://out.raw", dst.URI.Str())
}

func TestStoragePropertiesDestroy(t *testing.T) {
	p := StorageProperties{}
	require.NoError(t, InitStorageProperties(&p, 0, "out.raw", "meta", PixelScale{1, 1}, 2))
	require.NoError(t, p.SetDimension(0, []byte("x\x00"), DimensionTypeSpace, 1, 1, 1))

	p.Destroy()

	assert.Equal(t, 0, p.URI.NBytes())
	assert.Equal(t, 0, len(p.Dimensions))
}

func TestDimensionTypeString(t *testing.T) {
	assert.Equal(t, "Spatial", DimensionTypeSpace.String())
	assert.Equal(t, "Channel", DimensionTypeChannel.String())
	assert.Equal(t, "Time", DimensionTypeTime.String())
	assert.Equal(t, "Other", DimensionTypeOther.String())
	assert.Equal(t, "(unknown)", DimensionTypeCount.String())
}
