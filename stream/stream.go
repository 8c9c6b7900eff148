// Package stream runs the per-stream acquisition pipeline: a producer
// task that pulls frames from the camera into the ring, a consumer task
// that drains the ring into storage, and a monitor tap the host can read
// live frames from without interfering with storage.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/ring"
)

// ErrAlreadyRunning is returned by Start when the pipeline is running.
var ErrAlreadyRunning = errors.New("stream is already running")

// Config is the configuration of an acquisition pipeline.
type Config struct {
	// ID is stamped into every frame header.
	ID uint32

	Camera  device.Camera
	Storage device.Storage
	Ring    *ring.Ring

	// MaxFrameCount is the number of frames to acquire. 0 means
	// unbounded.
	MaxFrameCount uint64

	// FrameAverageCount > 1 averages that many consecutive camera
	// frames into each committed frame.
	FrameAverageCount uint32

	// StopTimeout bounds the termination handshake before the polite
	// stop escalates to a forced teardown.
	StopTimeout time.Duration

	// Metrics, optional
	Metrics *Metrics

	// OnStateChange is called after a state changed.
	OnStateChange func(from, to string)

	// OnExit is called after both tasks have exited with the exit
	// reason.
	OnExit func(reason string)

	Logger log.Logger
}

// Status is a snapshot of the pipeline counters.
type Status struct {
	State          string
	FramesAcquired uint64
	FramesDropped  uint64
	FramesWritten  uint64
	FramesStored   uint64
}

const (
	stateStopped  = "stopped"
	stateRunning  = "running"
	stateDraining = "draining"
	stateFailed   = "failed"
)

// Stream is one camera-to-storage pipeline.
type Stream struct {
	id      uint32
	camera  device.Camera
	storage device.Storage
	ring    *ring.Ring

	maxFrameCount uint64
	avgCount      uint32
	stopTimeout   time.Duration

	metrics       *Metrics
	onStateChange func(from, to string)
	onExit        func(reason string)
	logger        log.Logger

	state string

	cancel       context.CancelFunc
	stopProduce  atomic.Bool
	producerDone chan struct{}
	consumerDone chan struct{}

	acquired atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64
	stored   atomic.Uint64

	failed atomic.Bool

	lock sync.Mutex
}

// New creates a pipeline from the given camera, storage, and ring. The
// devices keep their single-thread affinity: the camera is only touched
// by the producer task, the storage only by the consumer task.
func New(config Config) (*Stream, error) {
	if config.Camera == nil || config.Storage == nil || config.Ring == nil {
		return nil, fmt.Errorf("a stream needs a camera, a storage, and a ring")
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New("")
	}

	stopTimeout := config.StopTimeout
	if stopTimeout == 0 {
		stopTimeout = 30 * time.Second
	}

	avgCount := config.FrameAverageCount
	if avgCount == 0 {
		avgCount = 1
	}

	s := &Stream{
		id:            config.ID,
		camera:        config.Camera,
		storage:       config.Storage,
		ring:          config.Ring,
		maxFrameCount: config.MaxFrameCount,
		avgCount:      avgCount,
		stopTimeout:   stopTimeout,
		metrics:       config.Metrics,
		onStateChange: config.OnStateChange,
		onExit:        config.OnExit,
		logger:        logger.WithComponent("VideoStream").WithField("stream", config.ID),
		state:         stateStopped,
	}

	return s, nil
}

func (s *Stream) setState(state string) {
	from := s.state

	if from == state {
		return
	}

	s.state = state

	if s.onStateChange != nil {
		s.onStateChange(from, state)
	}
}

// Status returns a snapshot of the pipeline counters.
func (s *Stream) Status() Status {
	s.lock.Lock()
	state := s.state
	s.lock.Unlock()

	return Status{
		State:          state,
		FramesAcquired: s.acquired.Load(),
		FramesDropped:  s.dropped.Load(),
		FramesWritten:  s.written.Load(),
		FramesStored:   s.stored.Load(),
	}
}

// IsRunning returns whether the pipeline tasks are alive.
func (s *Stream) IsRunning() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state == stateRunning || s.state == stateDraining
}

// Start starts both devices and spawns the producer and consumer tasks.
// The monitor cursor is reset to the current write position.
func (s *Stream) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == stateRunning || s.state == stateDraining {
		return ErrAlreadyRunning
	}

	if state := s.storage.Start(); state != device.StateRunning {
		return fmt.Errorf("storage did not start: %s", state)
	}

	if state := s.camera.Start(); state != device.StateRunning {
		s.storage.Stop()
		return fmt.Errorf("camera did not start: %s", state)
	}

	s.ring.ResetReader(ring.ReaderMonitor)

	s.acquired.Store(0)
	s.dropped.Store(0)
	s.written.Store(0)
	s.stored.Store(0)
	s.failed.Store(false)
	s.stopProduce.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.producerDone = make(chan struct{})
	s.consumerDone = make(chan struct{})

	go s.produce(ctx)
	go s.consume(ctx)

	s.setState(stateRunning)

	s.logger.Debug().Log("Started")

	return nil
}

// produce is the producer task: camera to ring. It owns the camera and
// stops it on exit, which guarantees that GetFrame is never called
// after the camera stopped.
func (s *Stream) produce(ctx context.Context) {
	defer close(s.producerDone)
	defer s.camera.Stop()

	shape := s.camera.Shape()

	imageBytes, err := frame.BytesOfImage(&shape)
	if err != nil {
		s.logger.WithError(err).Error().Log("Unusable frame shape")
		return
	}

	recordSize, err := frame.SizeOfFrame(&shape)
	if err != nil {
		s.logger.WithError(err).Error().Log("Unusable frame shape")
		return
	}

	scratch := make([]byte, imageBytes)

	var averager *frameAverager
	if s.avgCount > 1 {
		averager = newFrameAverager(shape, s.avgCount)
	}

	// Every frame that reaches the ring stage consumes a frame id,
	// including dropped ones: gaps in the committed ids are exactly
	// the producer-side drops. The loop terminates on committed
	// frames.
	nextFrameID := uint64(0)
	committed := uint64(0)

	for {
		if ctx.Err() != nil || s.stopProduce.Load() || s.failed.Load() {
			break
		}

		if s.maxFrameCount > 0 && committed >= s.maxFrameCount {
			break
		}

		n, info, err := s.camera.GetFrame(scratch)

		if err != nil {
			if errors.Is(err, device.ErrFrameNotReady) {
				// no frame ready yet, yield briefly
				select {
				case <-ctx.Done():
				case <-time.After(100 * time.Microsecond):
				}

				continue
			}

			if !errors.Is(err, device.ErrNotRunning) {
				s.logger.WithError(err).Error().Log("Camera failed")
			}

			break
		}

		s.acquired.Add(1)

		if s.metrics != nil {
			s.metrics.FramesAcquired.Inc()
		}

		payload := scratch[:n]

		if averager != nil {
			done := averager.accumulate(payload)
			if !done {
				continue
			}

			payload = averager.result(payload)
		}

		frameID := nextFrameID
		nextFrameID++

		buf, err := s.ring.MapWrite(recordSize)
		if err != nil {
			if errors.Is(err, ring.ErrRingFull) {
				dropped := s.dropped.Add(1)

				if s.metrics != nil {
					s.metrics.FramesDropped.Inc()
				}

				s.logger.Warn().Log("Dropped %d", dropped)

				continue
			}

			s.logger.WithError(err).Error().Log("Reserving ring space failed")
			break
		}

		header := frame.Header{
			BytesOfFrame: recordSize,
			FrameID:      frameID,
			StreamID:     s.id,
			Shape:        shape,
			Timestamps: frame.Timestamps{
				Hardware: info.HardwareTimestamp,
				System:   uint64(time.Now().UnixNano()),
			},
		}

		if err := frame.EncodeHeader(buf, &header); err != nil {
			s.ring.CommitWrite(0)
			s.logger.WithError(err).Error().Log("Encoding the frame header failed")
			break
		}

		copy(buf[frame.HeaderSize:], payload)

		if err := s.ring.CommitWrite(recordSize); err != nil {
			s.logger.WithError(err).Error().Log("Committing the frame failed")
			break
		}

		committed++
		s.written.Add(1)
	}

	s.logger.Debug().Log("Producer exited after %d frames", committed)
}

// consume is the consumer task: ring to storage. It owns the storage
// sink and stops it after the ring has drained.
func (s *Stream) consume(ctx context.Context) {
	defer close(s.consumerDone)
	defer s.storage.Stop()

loop:
	for {
		if ctx.Err() != nil {
			// aborted; whatever is left in the ring is discarded
			break
		}

		data := s.ring.MapRead(ring.ReaderStorage)

		if data == nil {
			select {
			case <-s.producerDone:
				// drain once more, then leave
				if s.ring.Readable(ring.ReaderStorage) == 0 {
					break loop
				}
			case <-ctx.Done():
				break loop
			default:
			}

			s.ring.WaitReadable(ring.ReaderStorage, 10*time.Millisecond)

			continue
		}

		consumed := uint64(0)

		for consumed < uint64(len(data)) {
			size, pad := ring.ParseRecord(data[consumed:])

			if !pad {
				record := data[consumed : consumed+size]

				n, state := s.storage.Append(record)

				if state != device.StateRunning {
					s.logger.Error().Log("Storage rejected frame, stopping the stream")
					s.failed.Store(true)
					s.ring.UnmapRead(ring.ReaderStorage, consumed+size)

					break loop
				}

				s.stored.Add(1)

				if s.metrics != nil {
					s.metrics.BytesAppended.Add(float64(n))
				}
			}

			consumed += size
		}

		if err := s.ring.UnmapRead(ring.ReaderStorage, consumed); err != nil {
			s.logger.WithError(err).Error().Log("Consuming ring bytes failed")
			break loop
		}
	}

	s.logger.Debug().Log("Consumer exited after %d frames", s.stored.Load())
}

// Stop terminates the acquisition gracefully: the producer finishes,
// the consumer drains the ring, both tasks join. Stopping a stopped
// stream is a no-op. If the handshake exceeds the stop timeout the
// polite stop escalates to a forced teardown.
func (s *Stream) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == stateStopped || s.state == stateFailed {
		return nil
	}

	s.setState(stateDraining)

	// A bounded acquisition finishes its frame count; an unbounded
	// producer is asked to stop.
	if s.maxFrameCount == 0 {
		s.stopProduce.Store(true)
	}

	if !s.join(s.producerDone, s.stopTimeout) {
		s.logger.Warn().Log("Producer did not stop in time, forcing teardown")
		s.cancel()
	}

	s.join(s.producerDone, s.stopTimeout)

	if !s.join(s.consumerDone, s.stopTimeout) {
		s.logger.Warn().Log("Consumer did not drain in time, forcing teardown")
		s.cancel()
		s.join(s.consumerDone, s.stopTimeout)
	}

	s.cancel()

	if s.failed.Load() {
		s.setState(stateFailed)
	} else {
		s.setState(stateStopped)
	}

	if s.onExit != nil {
		s.onExit(s.state)
	}

	s.logger.Debug().Log("Stopped")

	return nil
}

// Abort terminates the acquisition immediately and discards whatever
// the consumer has not written yet.
func (s *Stream) Abort() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == stateStopped || s.state == stateFailed {
		return nil
	}

	s.setState(stateDraining)

	s.stopProduce.Store(true)
	s.cancel()

	s.join(s.producerDone, s.stopTimeout)
	s.join(s.consumerDone, s.stopTimeout)

	// empty the ring
	if n := s.ring.Readable(ring.ReaderStorage); n > 0 {
		s.ring.UnmapRead(ring.ReaderStorage, n)
	}

	s.ring.ResetReader(ring.ReaderMonitor)

	if s.failed.Load() {
		s.setState(stateFailed)
	} else {
		s.setState(stateStopped)
	}

	if s.onExit != nil {
		s.onExit("aborted")
	}

	s.logger.Debug().Log("Aborted, %d frames discarded", s.written.Load()-s.stored.Load())

	return nil
}

func (s *Stream) join(done chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Failed reports whether the consumer terminated the stream because the
// sink rejected a frame.
func (s *Stream) Failed() bool {
	return s.failed.Load()
}

// MapRead returns the monitor tap's readable slice. The monitor never
// gates the producer; if the host falls behind, the cursor silently
// skips ahead to the oldest frame that is still valid.
func (s *Stream) MapRead() []byte {
	return s.ring.MapRead(ring.ReaderMonitor)
}

// UnmapRead advances the monitor cursor by n bytes. n must be a
// multiple of 8.
func (s *Stream) UnmapRead(n uint64) error {
	return s.ring.UnmapRead(ring.ReaderMonitor, n)
}

// ExecuteTrigger fires the camera's software trigger.
func (s *Stream) ExecuteTrigger() error {
	return s.camera.ExecuteTrigger()
}
