package stream

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/props"
	"github.com/lightsheet/acquire/ring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	shape frame.ImageShape

	lock    sync.Mutex
	running bool
	frameID uint64

	polledAfterStop bool
}

func newFakeCamera(w, h uint32) *fakeCamera {
	return &fakeCamera{
		shape: frame.ShapeOf(w, h, frame.SampleTypeU8),
	}
}

func (c *fakeCamera) Identifier() device.Identifier {
	return device.Identifier{Kind: device.KindCamera, Name: "fake"}
}

func (c *fakeCamera) SetProperties(*props.CameraProperties) device.State {
	return device.StateArmed
}

func (c *fakeCamera) Properties() props.CameraProperties {
	return props.CameraProperties{}
}

func (c *fakeCamera) Metadata() props.CameraPropertyMetadata {
	return props.CameraPropertyMetadata{Name: "fake"}
}

func (c *fakeCamera) Shape() frame.ImageShape {
	return c.shape
}

func (c *fakeCamera) Start() device.State {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.running = true
	c.frameID = 0

	return device.StateRunning
}

func (c *fakeCamera) Stop() device.State {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.running = false

	return device.StateArmed
}

func (c *fakeCamera) ExecuteTrigger() error { return nil }

func (c *fakeCamera) GetFrame(buf []byte) (int, device.FrameInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.running {
		c.polledAfterStop = true
		return 0, device.FrameInfo{}, device.ErrNotRunning
	}

	n, _ := frame.BytesOfImage(&c.shape)

	for i := uint64(0); i < n; i++ {
		buf[i] = byte(c.frameID)
	}

	info := device.FrameInfo{
		Shape:             c.shape,
		HardwareFrameID:   c.frameID,
		HardwareTimestamp: c.frameID * 1000,
	}

	c.frameID++

	return int(n), info, nil
}

type fakeStorage struct {
	lock sync.Mutex

	state   device.State
	headers []frame.Header

	delay     time.Duration
	failAfter int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		state:     device.StateAwaitingConfiguration,
		failAfter: -1,
	}
}

func (s *fakeStorage) Identifier() device.Identifier {
	return device.Identifier{Kind: device.KindStorage, Name: "fake"}
}

func (s *fakeStorage) SetProperties(*props.StorageProperties) device.State {
	s.state = device.StateArmed
	return s.state
}

func (s *fakeStorage) Properties() props.StorageProperties {
	return props.StorageProperties{}
}

func (s *fakeStorage) Metadata() props.StoragePropertyMetadata {
	return props.StoragePropertyMetadata{Name: "fake"}
}

func (s *fakeStorage) Start() device.State {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state = device.StateRunning
	s.headers = nil

	return s.state
}

func (s *fakeStorage) Stop() device.State {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == device.StateRunning {
		s.state = device.StateArmed
	}

	return s.state
}

func (s *fakeStorage) Append(record []byte) (int, device.State) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != device.StateRunning {
		return 0, s.state
	}

	if s.failAfter >= 0 && len(s.headers) >= s.failAfter {
		s.state = device.StateAwaitingConfiguration
		return 0, s.state
	}

	hdr, err := frame.DecodeHeader(record)
	if err != nil {
		s.state = device.StateAwaitingConfiguration
		return 0, s.state
	}

	if hdr.BytesOfFrame%8 != 0 || hdr.BytesOfFrame != uint64(len(record)) {
		s.state = device.StateAwaitingConfiguration
		return 0, s.state
	}

	s.headers = append(s.headers, hdr)

	return len(record), s.state
}

func (s *fakeStorage) ReserveImageShape(frame.ImageShape) error { return nil }

func (s *fakeStorage) Destroy() {}

func (s *fakeStorage) stored() []frame.Header {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]frame.Header{}, s.headers...)
}

func newTestStream(t *testing.T, cam device.Camera, sto device.Storage, maxFrames uint64, depth uint64) *Stream {
	shape := cam.Shape()

	size, err := frame.SizeOfFrame(&shape)
	require.NoError(t, err)

	rb, err := ring.New(size, depth)
	require.NoError(t, err)

	s, err := New(Config{
		ID:            0,
		Camera:        cam,
		Storage:       sto,
		Ring:          rb,
		MaxFrameCount: maxFrames,
		StopTimeout:   10 * time.Second,
	})
	require.NoError(t, err)

	return s
}

func waitDone(t *testing.T, s *Stream, frames uint64, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if s.Status().FramesWritten >= frames {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("only %d of %d frames written in %s", s.Status().FramesWritten, frames, timeout)
}

func TestStreamDeliversAll(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	// the camera is not paced; a ring that holds all 32 frames never
	// fills, so nothing is dropped
	s := newTestStream(t, cam, sto, 32, 32)

	require.NoError(t, s.Start())
	waitDone(t, s, 32, 5*time.Second)
	require.NoError(t, s.Stop())

	headers := sto.stored()
	require.Equal(t, 32, len(headers))

	for i, hdr := range headers {
		assert.Equal(t, uint64(i), hdr.FrameID, "frame ids start at 0 and have no gaps without drops")
		assert.Equal(t, uint64(0), hdr.BytesOfFrame%8)
	}

	status := s.Status()
	assert.Equal(t, uint64(32), status.FramesWritten)
	assert.Equal(t, uint64(32), status.FramesStored)
	assert.Equal(t, uint64(0), status.FramesDropped)
}

func TestStreamGapsAreDrops(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)
	sto.delay = 2 * time.Millisecond

	s := newTestStream(t, cam, sto, 64, 2)

	require.NoError(t, s.Start())
	waitDone(t, s, 64, 20*time.Second)
	require.NoError(t, s.Stop())

	headers := sto.stored()
	require.Equal(t, 64, len(headers))

	last := int64(-1)
	gaps := uint64(0)

	for _, hdr := range headers {
		require.Greater(t, int64(hdr.FrameID), last, "frame ids are strictly increasing")
		gaps += uint64(int64(hdr.FrameID) - last - 1)
		last = int64(hdr.FrameID)
	}

	status := s.Status()
	assert.Equal(t, status.FramesDropped, gaps, "id gaps are exactly the dropped frames")
}

func TestStreamDroppedLogLine(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)
	sto.delay = 2 * time.Millisecond

	events := log.NewBufferWriter(log.Lwarn, 10000)

	shape := cam.Shape()
	size, err := frame.SizeOfFrame(&shape)
	require.NoError(t, err)

	rb, err := ring.New(size, 2)
	require.NoError(t, err)

	s, err := New(Config{
		Camera:        cam,
		Storage:       sto,
		Ring:          rb,
		MaxFrameCount: 32,
		Logger:        log.New("").WithOutput(events),
		StopTimeout:   10 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, s, 32, 20*time.Second)
	require.NoError(t, s.Stop())

	dropped := s.Status().FramesDropped
	if dropped == 0 {
		t.Skip("no backpressure on this run")
	}

	// the last "Dropped <N>" line reports the total
	max := uint64(0)
	count := uint64(0)

	for _, e := range events.Events() {
		if !strings.HasPrefix(e.Message, "Dropped ") {
			continue
		}

		count++

		var n uint64
		_, err := fmt.Sscanf(e.Message, "Dropped %d", &n)
		require.NoError(t, err)

		if n > max {
			max = n
		}
	}

	// one line per drop; the ring buffer keeps the most recent lines,
	// so the highest reported total is the drop count
	assert.Greater(t, count, uint64(0))
	assert.Equal(t, dropped, max)
}

func TestStreamStartTwice(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 0, 8)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
}

func TestStreamStopIsIdempotent(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 8, 8)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStreamStopWaitsForBoundedCount(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 100, 8)

	require.NoError(t, s.Start())

	// stop blocks until the bounded acquisition completed
	require.NoError(t, s.Stop())

	assert.Equal(t, 100, len(sto.stored()))
}

func TestStreamAbort(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)
	sto.delay = time.Millisecond

	s := newTestStream(t, cam, sto, 0, 8)

	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Abort())

	// the ring is empty after an abort
	assert.Nil(t, s.MapRead())

	// the camera was stopped by the producer itself; it has never been
	// polled after its stop
	assert.False(t, cam.polledAfterStop)
}

func TestStreamNoPollAfterStop(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 16, 8)

	require.NoError(t, s.Start())
	waitDone(t, s, 16, 5*time.Second)
	require.NoError(t, s.Stop())

	assert.False(t, cam.polledAfterStop)
}

func TestStreamConsumerFailureParksStream(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)
	sto.failAfter = 4

	s := newTestStream(t, cam, sto, 0, 8)

	require.NoError(t, s.Start())

	deadline := time.Now().Add(5 * time.Second)
	for !s.Failed() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	require.True(t, s.Failed())
	require.NoError(t, s.Stop())

	assert.Equal(t, stateFailed, s.Status().State)
}

func TestStreamMonitorTap(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 4, 16)

	require.NoError(t, s.Start())
	waitDone(t, s, 4, 5*time.Second)

	// the monitor sees committed frames without gating storage
	seen := 0
	deadline := time.Now().Add(time.Second)

	for seen < 4 && time.Now().Before(deadline) {
		data := s.MapRead()
		if data == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		consumed := uint64(0)

		for consumed < uint64(len(data)) {
			size, pad := ring.ParseRecord(data[consumed:])

			if !pad {
				hdr, err := frame.DecodeHeader(data[consumed:])
				require.NoError(t, err)
				assert.Equal(t, uint64(seen), hdr.FrameID)
				seen++
			}

			consumed += size
		}

		require.Equal(t, uint64(0), consumed%8)
		require.NoError(t, s.UnmapRead(consumed))
	}

	assert.Equal(t, 4, seen)

	require.NoError(t, s.Stop())
	assert.Equal(t, 4, len(sto.stored()))
}

func TestStreamRepeatStartWithoutMonitor(t *testing.T) {
	cam := newFakeCamera(64, 64)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	s := newTestStream(t, cam, sto, 500, 8)

	for run := 0; run < 2; run++ {
		require.NoError(t, s.Start())
		require.NoError(t, s.Stop())

		assert.Equal(t, 500, len(sto.stored()), "run %d", run)
	}
}

func TestStreamAveraging(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	shape := cam.Shape()
	size, err := frame.SizeOfFrame(&shape)
	require.NoError(t, err)

	rb, err := ring.New(size, 8)
	require.NoError(t, err)

	s, err := New(Config{
		Camera:            cam,
		Storage:           sto,
		Ring:              rb,
		MaxFrameCount:     4,
		FrameAverageCount: 4,
		StopTimeout:       10 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	waitDone(t, s, 4, 5*time.Second)
	require.NoError(t, s.Stop())

	// 16 camera frames folded into 4 committed frames
	headers := sto.stored()
	require.Equal(t, 4, len(headers))
	assert.GreaterOrEqual(t, s.Status().FramesAcquired, uint64(16))

	for i, hdr := range headers {
		assert.Equal(t, uint64(i), hdr.FrameID)
	}
}

func TestStreamStateChanges(t *testing.T) {
	cam := newFakeCamera(16, 16)
	sto := newFakeStorage()
	sto.SetProperties(nil)

	shape := cam.Shape()
	size, err := frame.SizeOfFrame(&shape)
	require.NoError(t, err)

	rb, err := ring.New(size, 8)
	require.NoError(t, err)

	transitions := []string{}
	var lock sync.Mutex

	s, err := New(Config{
		Camera:        cam,
		Storage:       sto,
		Ring:          rb,
		MaxFrameCount: 8,
		StopTimeout:   10 * time.Second,
		OnStateChange: func(from, to string) {
			lock.Lock()
			transitions = append(transitions, from+">"+to)
			lock.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	lock.Lock()
	defer lock.Unlock()

	assert.Equal(t, []string{
		"stopped>running",
		"running>draining",
		"draining>stopped",
	}, transitions)
}
