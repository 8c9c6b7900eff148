// Package runtime is the configuration-and-lifecycle controller. It
// owns the device manager and the per-stream pipelines and sequences
// configure, start, stop, abort, and shutdown:
//
//	Idle -> Configured -> Running -> Armed -> (Running | Configured)
//
// Shutdown moves any state to Closed.
//
// All entry points are synchronous and run on the caller's thread; the
// producer and consumer tasks run on their own goroutines per stream.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/driver/simcam"
	"github.com/lightsheet/acquire/driver/sink"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/io/fs"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/props"
	"github.com/lightsheet/acquire/ring"
	"github.com/lightsheet/acquire/stream"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidState is returned on lifecycle misuse, e.g. start
	// while running.
	ErrInvalidState = errors.New("invalid runtime state")

	// ErrNotConfigured is returned by Start before a successful
	// Configure.
	ErrNotConfigured = errors.New("runtime is not configured")

	// ErrConfigurationRejected is returned when a device refused the
	// requested properties. The device keeps its previous settings.
	ErrConfigurationRejected = errors.New("configuration rejected")

	// ErrInvalidStream is returned for a stream index out of range or
	// an inactive stream.
	ErrInvalidStream = errors.New("no such video stream")

	// ErrShutdown is returned after the runtime has been shut down.
	ErrShutdown = errors.New("runtime is shut down")
)

// Default device names for streams that specify only one side.
const (
	defaultCameraName  = "simulated: uniform random"
	defaultStorageName = "trash"
)

// Config is the configuration of a runtime instance.
type Config struct {
	// Drivers overrides the built-in driver set (simulated cameras
	// and the common storage sinks).
	Drivers []device.Driver

	// Filesystem overrides the backend the built-in sinks write to.
	// Tests use a memory filesystem here.
	Filesystem fs.Filesystem

	// FrameQueueDepth is the number of frames each stream's ring can
	// hold. Defaults to 8.
	FrameQueueDepth uint64

	// StopTimeout bounds the per-task termination handshake.
	StopTimeout time.Duration

	// Registry receives the per-stream metrics collectors, optional.
	Registry prometheus.Registerer

	Logger log.Logger
}

// Runtime is the top-level API of the acquisition system.
type Runtime interface {
	// ID identifies this runtime instance.
	ID() string

	// DeviceManager exposes device enumeration and selection.
	DeviceManager() *device.Manager

	// GetConfiguration fills p with the current effective properties.
	GetConfiguration(p *Properties) error

	// Configure reconciles the requested properties with the current
	// ones, applies them to the devices, and writes the effective
	// values back into p.
	Configure(p *Properties) error

	// GetConfigurationMetadata fills m with the capability report of
	// the configured devices.
	GetConfigurationMetadata(m *Metadata) error

	// Start spawns the producer and consumer tasks of every active
	// stream.
	Start() error

	// Stop terminates gracefully: bounded acquisitions finish their
	// frame count, the rings drain, all tasks join.
	Stop() error

	// Abort terminates immediately and discards undelivered frames.
	Abort() error

	// ExecuteTrigger fires the software trigger of a stream's camera.
	ExecuteTrigger(streamIndex int) error

	// StreamStatus returns a snapshot of a stream's pipeline
	// counters.
	StreamStatus(streamIndex int) (stream.Status, error)

	// MapRead returns the monitor tap's readable bytes for a stream.
	MapRead(streamIndex int) ([]byte, error)

	// UnmapRead advances the monitor cursor; n must be a multiple
	// of 8.
	UnmapRead(streamIndex int, n uint64) error

	// Shutdown aborts a running acquisition, destroys all devices,
	// and unloads the drivers.
	Shutdown() error
}

type runtimeState int

const (
	stateIdle runtimeState = iota
	stateConfigured
	stateRunning
	stateArmed
	stateClosed
)

func (s runtimeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConfigured:
		return "configured"
	case stateRunning:
		return "running"
	case stateArmed:
		return "armed"
	case stateClosed:
		return "closed"
	default:
		return "(unknown)"
	}
}

type videoStream struct {
	active bool

	cameraID  device.Identifier
	storageID device.Identifier

	camera  device.Camera
	storage device.Storage

	ring          *ring.Ring
	maxRecordSize uint64

	pipeline *stream.Stream
	metrics  *stream.Metrics

	properties VideoStreamProperties
}

type runtime struct {
	id        string
	manager   *device.Manager
	video     [MaxVideoStreams]videoStream
	state     runtimeState
	queue     uint64
	stopAfter time.Duration
	registry  prometheus.Registerer
	logger    log.Logger

	// lock is the configuration lock; every entry point holds it.
	lock sync.Mutex
}

// New creates a runtime: it loads the drivers, enumerates their devices,
// and installs the logger.
func New(config Config) (Runtime, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.New("")
	}

	drivers := config.Drivers
	if drivers == nil {
		drivers = []device.Driver{
			simcam.New(simcam.Config{Logger: logger}),
			sink.New(sink.Config{Filesystem: config.Filesystem, Logger: logger}),
		}
	}

	manager, err := device.NewManager(device.ManagerConfig{
		Drivers: drivers,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating devices failed: %w", err)
	}

	queue := config.FrameQueueDepth
	if queue == 0 {
		queue = 8
	}

	stopAfter := config.StopTimeout
	if stopAfter == 0 {
		stopAfter = 30 * time.Second
	}

	r := &runtime{
		id:        uuid.NewString(),
		manager:   manager,
		state:     stateIdle,
		queue:     queue,
		stopAfter: stopAfter,
		registry:  config.Registry,
		logger:    logger.WithComponent("Runtime"),
	}

	r.logger.Info().WithField("id", r.id).Log("Initialized with %d devices", manager.Count())

	return r, nil
}

func (r *runtime) ID() string {
	return r.id
}

func (r *runtime) DeviceManager() *device.Manager {
	return r.manager
}

func (r *runtime) GetConfiguration(p *Properties) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	for i := range r.video {
		r.video[i].properties.copyInto(&p.Video[i])
	}

	return nil
}

func (r *runtime) GetConfigurationMetadata(m *Metadata) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	for i := range r.video {
		s := &r.video[i]

		m.Video[i] = VideoStreamMetadata{}

		if s.camera != nil {
			m.Video[i].Camera = s.camera.Metadata()
		}

		if s.storage != nil {
			m.Video[i].Storage = s.storage.Metadata()
		}
	}

	return nil
}

// reconcileIdentifiers applies the default device selection: an
// unspecified camera next to a specified storage becomes the simulated
// uniform random camera, an unspecified storage next to a specified
// camera becomes trash, and a stream with both unspecified stays
// inactive.
func (r *runtime) reconcileIdentifiers(p *VideoStreamProperties) (device.Identifier, device.Identifier, bool, error) {
	camID := p.Camera.Identifier
	stoID := p.Storage.Identifier

	if camID.IsNone() && stoID.IsNone() {
		return device.Identifier{}, device.Identifier{}, false, nil
	}

	if camID.IsNone() {
		camID = device.Identifier{Kind: device.KindCamera, Name: defaultCameraName}
	}

	if stoID.IsNone() {
		stoID = device.Identifier{Kind: device.KindStorage, Name: defaultStorageName}
	}

	// identifiers resolve by regex; names from device_manager_select
	// match themselves
	camEff, err := r.manager.Select(device.KindCamera, camID.Name)
	if err != nil {
		return device.Identifier{}, device.Identifier{}, false, err
	}

	stoEff, err := r.manager.Select(device.KindStorage, stoID.Name)
	if err != nil {
		return device.Identifier{}, device.Identifier{}, false, err
	}

	return camEff, stoEff, true, nil
}

// acquireDevices opens the effective devices, reusing an already-open
// device when its identifier is unchanged. Reconfiguring only the
// storage identifier must not recreate the camera.
func (r *runtime) acquireDevices(s *videoStream, camID, stoID device.Identifier) error {
	if s.camera == nil || s.cameraID != camID {
		if s.camera != nil {
			r.manager.Release(s.camera)
			s.camera = nil
			s.cameraID = device.Identifier{}
		}

		dev, err := r.manager.Open(camID)
		if err != nil {
			return err
		}

		camera, ok := dev.(device.Camera)
		if !ok {
			r.manager.Release(dev)
			return fmt.Errorf("%s is not a camera", camID)
		}

		s.camera = camera
		s.cameraID = camID
	}

	if s.storage == nil || s.storageID != stoID {
		if s.storage != nil {
			r.manager.Release(s.storage)
			s.storage = nil
			s.storageID = device.Identifier{}
		}

		dev, err := r.manager.Open(stoID)
		if err != nil {
			return err
		}

		storage, ok := dev.(device.Storage)
		if !ok {
			r.manager.Release(dev)
			return fmt.Errorf("%s is not a storage sink", stoID)
		}

		s.storage = storage
		s.storageID = stoID
	}

	return nil
}

// releaseDevices hands a stream's devices back to their drivers.
func (r *runtime) releaseDevices(s *videoStream) {
	if s.camera != nil {
		r.manager.Release(s.camera)
		s.camera = nil
		s.cameraID = device.Identifier{}
	}

	if s.storage != nil {
		r.manager.Release(s.storage)
		s.storage = nil
		s.storageID = device.Identifier{}
	}

	s.pipeline = nil
	s.active = false
}

func (r *runtime) Configure(p *Properties) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	switch r.state {
	case stateClosed:
		return ErrShutdown
	case stateRunning:
		// a running acquisition must not have its devices mutated
		return fmt.Errorf("%w: cannot configure while running", ErrInvalidState)
	}

	for i := range p.Video {
		if err := r.configureStream(i, &p.Video[i]); err != nil {
			return fmt.Errorf("video stream %d: %w", i, err)
		}
	}

	r.state = stateConfigured

	return nil
}

func (r *runtime) configureStream(index int, requested *VideoStreamProperties) error {
	s := &r.video[index]

	camID, stoID, active, err := r.reconcileIdentifiers(requested)
	if err != nil {
		return err
	}

	if !active {
		r.releaseDevices(s)
		s.properties = VideoStreamProperties{}
		requested.copyInto(&s.properties)

		return nil
	}

	if err := r.acquireDevices(s, camID, stoID); err != nil {
		return err
	}

	// a stream that leaves the camera settings unset keeps the camera's
	// current ones, so a freshly opened camera arms with its defaults
	if requested.Camera.Settings == (props.CameraProperties{}) {
		requested.Camera.Settings = s.camera.Properties()
	}

	// camera first, then storage
	if state := s.camera.SetProperties(&requested.Camera.Settings); state != device.StateArmed {
		return fmt.Errorf("%w: camera %s is %s", ErrConfigurationRejected, camID.Name, state)
	}

	// read back what the device actually chose
	requested.Camera.Settings = s.camera.Properties()
	requested.Camera.Identifier = camID

	if state := s.storage.SetProperties(&requested.Storage.Settings); state != device.StateArmed {
		return fmt.Errorf("%w: storage %s is %s", ErrConfigurationRejected, stoID.Name, state)
	}

	applied := s.storage.Properties()
	if err := props.CopyStorageProperties(&requested.Storage.Settings, &applied); err != nil {
		return err
	}

	requested.Storage.Identifier = stoID

	// the sink learns the frame shape during configure, not at start
	shape := s.camera.Shape()

	if err := s.storage.ReserveImageShape(shape); err != nil {
		return fmt.Errorf("%w: %s", ErrConfigurationRejected, err)
	}

	recordSize, err := frame.SizeOfFrame(&shape)
	if err != nil {
		return err
	}

	// reshape the ring only when the frame size changed; the pipeline
	// is stopped here
	if s.ring == nil || s.maxRecordSize != recordSize {
		s.ring, err = ring.New(recordSize, r.queue)
		if err != nil {
			return err
		}

		s.maxRecordSize = recordSize
	}

	s.active = true
	requested.copyInto(&s.properties)

	// the pipeline is rebuilt on the next start so that it picks up
	// the new frame count and averaging settings
	s.pipeline = nil

	return nil
}

func (r *runtime) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	switch r.state {
	case stateClosed:
		return ErrShutdown
	case stateRunning:
		return fmt.Errorf("%w: already running", ErrInvalidState)
	case stateIdle:
		return ErrNotConfigured
	}

	acquisition := shortuuid.New()

	started := []*videoStream{}

	for i := range r.video {
		s := &r.video[i]

		if !s.active {
			continue
		}

		if s.pipeline == nil {
			if s.metrics == nil {
				s.metrics = stream.NewMetrics(r.registry, uint32(i))
			}

			pipeline, err := stream.New(stream.Config{
				ID:                uint32(i),
				Camera:            s.camera,
				Storage:           s.storage,
				Ring:              s.ring,
				MaxFrameCount:     s.properties.MaxFrameCount,
				FrameAverageCount: s.properties.FrameAverageCount,
				StopTimeout:       r.stopAfter,
				Metrics:           s.metrics,
				Logger:            r.logger.WithField("acquisition", acquisition),
			})
			if err != nil {
				return err
			}

			s.pipeline = pipeline
		}

		if err := s.pipeline.Start(); err != nil {
			for _, other := range started {
				other.pipeline.Abort()
			}

			return fmt.Errorf("video stream %d: %w", i, err)
		}

		started = append(started, s)
	}

	if len(started) == 0 {
		return ErrNotConfigured
	}

	r.state = stateRunning

	r.logger.Info().WithField("acquisition", acquisition).Log("Acquisition started on %d streams", len(started))

	return nil
}

func (r *runtime) Stop() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	if r.state != stateRunning {
		// stopping a stopped runtime is a no-op
		return nil
	}

	var failed error

	for i := range r.video {
		s := &r.video[i]

		if !s.active || s.pipeline == nil {
			continue
		}

		if err := s.pipeline.Stop(); err != nil {
			failed = err
		}

		if s.pipeline.Failed() {
			failed = fmt.Errorf("video stream %d: storage rejected a frame", i)
		}
	}

	r.state = stateArmed

	return failed
}

func (r *runtime) Abort() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	if r.state != stateRunning {
		return nil
	}

	for i := range r.video {
		s := &r.video[i]

		if !s.active || s.pipeline == nil {
			continue
		}

		s.pipeline.Abort()
	}

	r.state = stateArmed

	return nil
}

func (r *runtime) streamAt(index int) (*videoStream, error) {
	if index < 0 || index >= MaxVideoStreams {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidStream, index)
	}

	s := &r.video[index]

	if !s.active {
		return nil, fmt.Errorf("%w: stream %d is inactive", ErrInvalidStream, index)
	}

	return s, nil
}

func (r *runtime) ExecuteTrigger(streamIndex int) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	s, err := r.streamAt(streamIndex)
	if err != nil {
		return err
	}

	return s.camera.ExecuteTrigger()
}

func (r *runtime) StreamStatus(streamIndex int) (stream.Status, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return stream.Status{}, ErrShutdown
	}

	s, err := r.streamAt(streamIndex)
	if err != nil {
		return stream.Status{}, err
	}

	if s.pipeline == nil {
		return stream.Status{}, nil
	}

	return s.pipeline.Status(), nil
}

func (r *runtime) MapRead(streamIndex int) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return nil, ErrShutdown
	}

	s, err := r.streamAt(streamIndex)
	if err != nil {
		return nil, err
	}

	if s.ring == nil {
		return nil, fmt.Errorf("%w: stream %d has no ring yet", ErrInvalidStream, streamIndex)
	}

	return s.ring.MapRead(ring.ReaderMonitor), nil
}

func (r *runtime) UnmapRead(streamIndex int, n uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return ErrShutdown
	}

	s, err := r.streamAt(streamIndex)
	if err != nil {
		return err
	}

	if s.ring == nil {
		return fmt.Errorf("%w: stream %d has no ring yet", ErrInvalidStream, streamIndex)
	}

	return s.ring.UnmapRead(ring.ReaderMonitor, n)
}

func (r *runtime) Shutdown() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state == stateClosed {
		return nil
	}

	if r.state == stateRunning {
		for i := range r.video {
			s := &r.video[i]

			if s.active && s.pipeline != nil {
				s.pipeline.Abort()
			}
		}
	}

	for i := range r.video {
		s := &r.video[i]

		r.releaseDevices(s)
		s.properties.Storage.Settings.Destroy()
		s.properties = VideoStreamProperties{}
		s.ring = nil
	}

	err := r.manager.Shutdown()

	r.state = stateClosed

	r.logger.Info().Log("Shut down")

	return err
}
