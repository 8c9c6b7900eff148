package ring

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWrite(t *testing.T, r *Ring, size uint64, fill byte) {
	buf, err := r.MapWrite(size)
	require.NoError(t, err)
	require.Equal(t, int(size), len(buf))

	binary.LittleEndian.PutUint64(buf, size)
	for i := 8; i < len(buf); i++ {
		buf[i] = fill
	}

	require.NoError(t, r.CommitWrite(size))
}

func TestRingCapacityIsPow2(t *testing.T) {
	r, err := New(100, 3)
	require.NoError(t, err)

	capacity := r.Capacity()
	assert.GreaterOrEqual(t, capacity, uint64(104*3))
	assert.Equal(t, uint64(0), capacity&(capacity-1))
}

func TestRingRejectsZeroConfig(t *testing.T) {
	_, err := New(0, 4)
	require.Error(t, err)

	_, err = New(128, 0)
	require.Error(t, err)
}

func TestRingWriteRead(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	mustWrite(t, r, 64, 0xAA)
	mustWrite(t, r, 64, 0xBB)

	data := r.MapRead(ReaderStorage)
	require.Equal(t, 128, len(data))

	size, pad := ParseRecord(data)
	assert.Equal(t, uint64(64), size)
	assert.False(t, pad)
	assert.Equal(t, byte(0xAA), data[63])

	size, pad = ParseRecord(data[64:])
	assert.Equal(t, uint64(64), size)
	assert.False(t, pad)
	assert.Equal(t, byte(0xBB), data[127])

	require.NoError(t, r.UnmapRead(ReaderStorage, 128))
	assert.Nil(t, r.MapRead(ReaderStorage))
}

func TestRingAlignment(t *testing.T) {
	r, err := New(1639, 4)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		buf, err := r.MapWrite(1639)
		require.NoError(t, err)

		// reservations are aligned up and contiguous
		require.Equal(t, 1640, len(buf))

		binary.LittleEndian.PutUint64(buf, 1640)
		require.NoError(t, r.CommitWrite(1640))

		data := r.MapRead(ReaderStorage)
		require.NotNil(t, data)

		size, pad := ParseRecord(data)
		if pad {
			// a pad never ends short of the wrap point
			require.Equal(t, uint64(len(data)), size)
			require.Equal(t, uint64(0), size%8)
			require.NoError(t, r.UnmapRead(ReaderStorage, size))

			data = r.MapRead(ReaderStorage)
			require.NotNil(t, data)

			size, pad = ParseRecord(data)
			require.False(t, pad)
		}

		assert.Equal(t, uint64(1640), size)
		assert.Equal(t, uint64(0), size%8)
		require.NoError(t, r.UnmapRead(ReaderStorage, size))
	}
}

func TestRingUnalignedUnmapRejected(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	mustWrite(t, r, 64, 0)

	err = r.UnmapRead(ReaderStorage, 63)
	assert.ErrorIs(t, err, ErrUnalignedCount)

	err = r.UnmapRead(ReaderStorage, 64)
	assert.NoError(t, err)
}

func TestRingBackpressure(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	capacity := r.Capacity()
	n := int(capacity / 64)

	for i := 0; i < n; i++ {
		mustWrite(t, r, 64, byte(i))
	}

	// the gating reader has not drained
	_, err = r.MapWrite(64)
	assert.ErrorIs(t, err, ErrRingFull)

	// draining one record frees one slot
	require.NoError(t, r.UnmapRead(ReaderStorage, 64))

	_, err = r.MapWrite(64)
	assert.NoError(t, err)
	require.NoError(t, r.CommitWrite(0))
}

func TestRingMonitorDoesNotGate(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	capacity := r.Capacity()
	n := int(capacity/64) * 3

	// the monitor never drains, the storage reader always does
	for i := 0; i < n; i++ {
		mustWrite(t, r, 64, byte(i))
		require.NoError(t, r.UnmapRead(ReaderStorage, r.Readable(ReaderStorage)))
	}

	// the monitor skipped ahead instead of blocking the writer
	assert.LessOrEqual(t, r.Readable(ReaderMonitor), capacity)
}

func TestRingMonitorReadsValidRecords(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	capacity := r.Capacity()
	n := int(capacity/64) * 2

	for i := 0; i < n; i++ {
		mustWrite(t, r, 64, byte(i))
		require.NoError(t, r.UnmapRead(ReaderStorage, 64))
	}

	// whatever the monitor maps begins at a record boundary
	data := r.MapRead(ReaderMonitor)
	if data != nil {
		size, pad := ParseRecord(data)
		assert.False(t, pad)
		assert.Equal(t, uint64(64), size)
	}
}

func TestRingRecordTooLarge(t *testing.T) {
	r, err := New(64, 2)
	require.NoError(t, err)

	_, err = r.MapWrite(r.Capacity() + 8)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestRingDoubleMapRejected(t *testing.T) {
	r, err := New(64, 2)
	require.NoError(t, err)

	_, err = r.MapWrite(64)
	require.NoError(t, err)

	_, err = r.MapWrite(64)
	require.Error(t, err)

	require.NoError(t, r.CommitWrite(0))
}

func TestRingResetReader(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	mustWrite(t, r, 64, 1)

	r.ResetReader(ReaderMonitor)
	assert.Nil(t, r.MapRead(ReaderMonitor))

	mustWrite(t, r, 64, 2)
	data := r.MapRead(ReaderMonitor)
	require.Equal(t, 64, len(data))
	assert.Equal(t, byte(2), data[63])
}

func TestRingWaitReadable(t *testing.T) {
	r, err := New(64, 4)
	require.NoError(t, err)

	assert.False(t, r.WaitReadable(ReaderStorage, 10*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)

		buf, _ := r.MapWrite(64)
		binary.LittleEndian.PutUint64(buf, 64)
		r.CommitWrite(64)
	}()

	assert.True(t, r.WaitReadable(ReaderStorage, time.Second))
}

func TestRingWrapInsertsPad(t *testing.T) {
	// capacity 256, records of 96 bytes: the third record would cross
	// the end of the buffer
	r, err := New(96, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(256), r.Capacity())

	mustWrite(t, r, 96, 1)
	mustWrite(t, r, 96, 2)
	require.NoError(t, r.UnmapRead(ReaderStorage, 192))

	mustWrite(t, r, 96, 3)

	// the reader sees the pad record before the wrap
	data := r.MapRead(ReaderStorage)
	require.Equal(t, 64, len(data))

	size, pad := ParseRecord(data)
	assert.True(t, pad)
	assert.Equal(t, uint64(64), size)

	require.NoError(t, r.UnmapRead(ReaderStorage, 64))

	// beyond the wrap lies the record
	data = r.MapRead(ReaderStorage)
	require.Equal(t, 96, len(data))

	size, pad = ParseRecord(data)
	assert.False(t, pad)
	assert.Equal(t, uint64(96), size)
	assert.Equal(t, byte(3), data[95])

	require.NoError(t, r.UnmapRead(ReaderStorage, 96))
}
