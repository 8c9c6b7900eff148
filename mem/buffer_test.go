package mem

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	b := Get()
	defer Put(b)

	n, err := b.Write([]byte("frame payload"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, 13, b.Len())
	require.Equal(t, "frame payload", b.String())

	b.Reset()
	require.Equal(t, 0, b.Len())
}

func TestBufferReadFrom(t *testing.T) {
	b := Get()
	defer Put(b)

	data := bytes.Repeat([]byte{0xAB}, 300*1024)

	n, err := b.ReadFrom(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, data, b.Bytes())
}

func TestPoolReuse(t *testing.T) {
	p := NewBufferPool()

	b := p.Get()
	b.Write([]byte("stale"))
	p.Put(b)

	b = p.Get()
	require.Equal(t, 0, b.Len())
}
