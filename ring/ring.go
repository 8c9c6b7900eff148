// Package ring implements the per-stream frame buffer: a bounded,
// contiguous ring of variable-size records with a single writer and two
// readers. Every record starts at an 8-byte aligned offset and consumed
// byte counts are always a multiple of 8.
//
// Reader 0 is the storage consumer and gates the writer: when it has not
// drained, reservations fail and the producer drops the frame. Reader 1
// is the monitor tap and never gates the writer; when the writer laps
// it, its cursor is snapped forward to the storage reader's position,
// the oldest record that is still valid.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/lightsheet/acquire/frame"
)

const (
	// ReaderStorage is the cursor of the storage consumer.
	ReaderStorage = 0

	// ReaderMonitor is the cursor of the monitor tap.
	ReaderMonitor = 1

	// NumReaders is the number of reader cursors per ring.
	NumReaders = 2
)

// padFlag marks a record as padding. Frame records carry their total
// size in the first 8 bytes; pad records do too, with this bit set.
const padFlag = uint64(1) << 63

var (
	// ErrRingFull is returned when the gating reader has not drained
	// enough bytes for the requested reservation.
	ErrRingFull = errors.New("ring is full")

	// ErrRecordTooLarge is returned when a record cannot fit the ring
	// even when empty.
	ErrRecordTooLarge = errors.New("record is larger than the ring")

	// ErrUnalignedCount is returned when a byte count is not a
	// multiple of the frame alignment.
	ErrUnalignedCount = errors.New("byte count is not a multiple of 8")
)

// Ring is a single-producer bounded buffer of 8-byte aligned records.
type Ring struct {
	buf []byte

	// Monotonically increasing byte counters. Offsets into buf are
	// taken modulo the capacity.
	head    uint64
	readers [NumReaders]uint64

	mapped    bool
	mappedLen uint64

	notify chan struct{}

	lock sync.Mutex
}

// New creates a ring that holds at least depth records of up to
// maxRecordSize bytes each. The capacity is rounded up to a power of
// two.
func New(maxRecordSize, depth uint64) (*Ring, error) {
	if maxRecordSize == 0 || depth == 0 {
		return nil, fmt.Errorf("ring needs a record size and a depth")
	}

	capacity := nextPow2(frame.AlignUp(maxRecordSize) * depth)

	// the region is backed by uint64s so that offset 0, and with it
	// every record, is 8-byte aligned
	words := make([]uint64, capacity/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), capacity)

	return &Ring{
		buf:    buf,
		notify: make(chan struct{}, 1),
	}, nil
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}

	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32

	return n + 1
}

// Capacity returns the size of the underlying region in bytes.
func (r *Ring) Capacity() uint64 {
	return uint64(len(r.buf))
}

// fits reports whether n more bytes can be reserved without overrunning
// the gating reader. The caller holds the lock.
func (r *Ring) fits(n uint64) bool {
	return r.head+n-r.readers[ReaderStorage] <= uint64(len(r.buf))
}

// catchUpMonitor snaps the monitor cursor forward to the storage reader,
// the oldest position that is still a valid record boundary, when the
// next ahead bytes of the writer would lap it. The caller holds the
// lock.
func (r *Ring) catchUpMonitor(ahead uint64) {
	if r.head+ahead-r.readers[ReaderMonitor] > uint64(len(r.buf)) {
		r.readers[ReaderMonitor] = r.readers[ReaderStorage]
	}
}

// MapWrite reserves space for a record of n bytes and returns the
// writable slice. The reservation is aligned up to 8 bytes; a padding
// record is inserted first when the record would cross the end of the
// buffer, so the returned slice is always contiguous. Only one
// reservation can be outstanding.
func (r *Ring) MapWrite(n uint64) ([]byte, error) {
	need := frame.AlignUp(n)

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.mapped {
		return nil, fmt.Errorf("a write reservation is already outstanding")
	}

	capacity := uint64(len(r.buf))

	if need > capacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, need, capacity)
	}

	tail := r.head % capacity

	if capacity-tail < need {
		pad := capacity - tail

		if !r.fits(pad + need) {
			return nil, ErrRingFull
		}

		binary.LittleEndian.PutUint64(r.buf[tail:], pad|padFlag)

		r.head += pad

		tail = 0
	} else if !r.fits(need) {
		return nil, ErrRingFull
	}

	// move the monitor off the reserved space before the writer fills it
	r.catchUpMonitor(need)

	r.mapped = true
	r.mappedLen = need

	return r.buf[tail : tail+need], nil
}

// CommitWrite publishes the first n bytes of the outstanding
// reservation. n must be a multiple of 8 and at most the reserved
// length; n == 0 abandons the reservation.
func (r *Ring) CommitWrite(n uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.mapped {
		return fmt.Errorf("no write reservation is outstanding")
	}

	if n%frame.Alignment != 0 {
		return ErrUnalignedCount
	}

	if n > r.mappedLen {
		return fmt.Errorf("committing %d bytes of a %d byte reservation", n, r.mappedLen)
	}

	r.mapped = false
	r.mappedLen = 0

	if n == 0 {
		return nil
	}

	r.head += n
	r.catchUpMonitor(0)

	select {
	case r.notify <- struct{}{}:
	default:
	}

	return nil
}

// MapRead returns the readable slice for the reader's cursor. The slice
// never wraps; after consuming it, another call returns the part beyond
// the wrap point. A nil slice means the ring holds no data for this
// reader.
func (r *Ring) MapRead(reader int) []byte {
	r.lock.Lock()
	defer r.lock.Unlock()

	pos := r.readers[reader]
	avail := r.head - pos

	if avail == 0 {
		return nil
	}

	capacity := uint64(len(r.buf))
	idx := pos % capacity

	if n := capacity - idx; n < avail {
		avail = n
	}

	return r.buf[idx : idx+avail]
}

// UnmapRead advances the reader's cursor by n bytes. n must be a
// multiple of 8 and no more than what MapRead returned.
func (r *Ring) UnmapRead(reader int, n uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if n%frame.Alignment != 0 {
		return ErrUnalignedCount
	}

	if n > r.head-r.readers[reader] {
		return fmt.Errorf("consuming %d bytes of %d readable", n, r.head-r.readers[reader])
	}

	r.readers[reader] += n

	return nil
}

// Readable returns the number of bytes the reader has not consumed yet.
func (r *Ring) Readable(reader int) uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.head - r.readers[reader]
}

// WaitReadable blocks until the reader has data or the timeout expires.
// It may wake up spuriously; callers check MapRead.
func (r *Ring) WaitReadable(reader int, timeout time.Duration) bool {
	if r.Readable(reader) > 0 {
		return true
	}

	select {
	case <-r.notify:
		return true
	case <-time.After(timeout):
		return r.Readable(reader) > 0
	}
}

// ResetReader rewinds the reader's cursor to the current write head.
// Only valid while the pipeline is stopped; the monitor cursor is reset
// this way on every start.
func (r *Ring) ResetReader(reader int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.readers[reader] = r.head
}

// ParseRecord reads the size of the record at the start of the slice and
// whether it is padding.
func ParseRecord(b []byte) (uint64, bool) {
	size := binary.LittleEndian.Uint64(b)

	if size&padFlag != 0 {
		return size &^ padFlag, true
	}

	return size, false
}
