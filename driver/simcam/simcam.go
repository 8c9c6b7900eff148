// Package simcam provides simulated cameras: a uniform random noise
// source, an animated radial sine pattern, and an empty (zero-filled)
// source. All of them pace frames by the configured exposure time and
// line interval; with both at zero they deliver a frame on every poll.
package simcam

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/log"
	"github.com/lightsheet/acquire/props"
)

type camKind int

const (
	camUniformRandom camKind = iota
	camRadialSin
	camEmpty
)

var camNames = []string{
	"simulated: uniform random",
	"simulated: radial sin",
	"simulated: empty",
}

// Config is the configuration for the simulated camera driver.
type Config struct {
	// For logging, optional
	Logger log.Logger
}

// Driver is the built-in simulated camera driver.
type Driver struct {
	logger log.Logger
}

// New returns the simulated camera driver.
func New(config Config) *Driver {
	logger := config.Logger
	if logger == nil {
		logger = log.New("")
	}

	return &Driver{
		logger: logger.WithComponent("SimCam"),
	}
}

func (d *Driver) Name() string {
	return "simulated"
}

func (d *Driver) DeviceCount() int {
	return len(camNames)
}

func (d *Driver) Describe(index int) (device.Identifier, error) {
	if index < 0 || index >= len(camNames) {
		return device.Identifier{}, fmt.Errorf("no device at index %d", index)
	}

	return device.Identifier{
		Kind: device.KindCamera,
		Name: camNames[index],
	}, nil
}

func (d *Driver) Open(index int) (device.Device, error) {
	id, err := d.Describe(index)
	if err != nil {
		return nil, err
	}

	c := &camera{
		id:     id,
		kind:   camKind(index),
		logger: d.logger.WithField("device", id.Name),
		state:  device.StateAwaitingConfiguration,
		rng:    0x9E3779B97F4A7C15,
	}

	// sane defaults so that a camera can be armed without explicit
	// settings
	c.props.Shape.X = 1920
	c.props.Shape.Y = 1080
	c.props.Binning = 1
	c.props.PixelType = frame.SampleTypeU8
	c.shape = frame.ShapeOf(c.props.Shape.X, c.props.Shape.Y, c.props.PixelType)

	return c, nil
}

func (d *Driver) Close(dev device.Device) error {
	c, ok := dev.(*camera)
	if !ok {
		return fmt.Errorf("not a simulated camera")
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.streaming = false
	c.state = device.StateClosed

	return nil
}

func (d *Driver) Shutdown() error {
	return nil
}

type camera struct {
	id     device.Identifier
	kind   camKind
	logger log.Logger

	state device.State
	props props.CameraProperties
	shape frame.ImageShape

	streaming bool
	epoch     time.Time
	delivered uint64
	frameID   uint64

	rng    uint64
	radius []float32

	lock sync.Mutex
}

func (c *camera) Identifier() device.Identifier {
	return c.id
}

const (
	maxSensorWidth  = 8192
	maxSensorHeight = 8192
)

func (c *camera) SetProperties(p *props.CameraProperties) device.State {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == device.StateRunning || c.state == device.StateClosed {
		c.logger.Error().Log("Cannot reconfigure a %s camera", c.state)
		c.state = device.StateAwaitingConfiguration
		return c.state
	}

	applied := *p

	if applied.Binning == 0 {
		applied.Binning = 1
	}

	if applied.Shape.X == 0 || applied.Shape.Y == 0 {
		c.logger.Error().Log("Rejecting empty frame shape %dx%d", applied.Shape.X, applied.Shape.Y)
		c.state = device.StateAwaitingConfiguration
		return c.state
	}

	if applied.Shape.X > maxSensorWidth || applied.Shape.Y > maxSensorHeight {
		c.logger.Error().Log("Rejecting frame shape %dx%d beyond the sensor", applied.Shape.X, applied.Shape.Y)
		c.state = device.StateAwaitingConfiguration
		return c.state
	}

	if applied.PixelType >= frame.SampleTypeCount {
		c.logger.Error().Log("Rejecting unknown pixel type %d", applied.PixelType)
		c.state = device.StateAwaitingConfiguration
		return c.state
	}

	if applied.ExposureTimeUs < 0 {
		applied.ExposureTimeUs = 0
	}

	c.props = applied
	c.shape = frame.ShapeOf(applied.Shape.X, applied.Shape.Y, applied.PixelType)

	if c.kind == camRadialSin {
		c.precomputeRadius()
	}

	c.state = device.StateArmed

	return c.state
}

func (c *camera) precomputeRadius() {
	w := int(c.props.Shape.X)
	h := int(c.props.Shape.Y)

	c.radius = make([]float32, w*h)

	cx := float64(w) / 2
	cy := float64(h) / 2

	for y := 0; y < h; y++ {
		dy := float64(y) - cy

		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			c.radius[y*w+x] = float32(math.Sqrt(dx*dx + dy*dy))
		}
	}
}

func (c *camera) Properties() props.CameraProperties {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.props
}

func (c *camera) Metadata() props.CameraPropertyMetadata {
	m := props.CameraPropertyMetadata{}

	m.ExposureTimeUs = props.Property{Min: 0, Max: 1e7, Writable: true}
	m.LineIntervalUs = props.Property{Min: 0, Max: 1e4, Writable: true}
	m.ReadoutDirection = props.Property{Min: 0, Max: 1, Writable: true}
	m.Binning = props.Property{Min: 1, Max: 8, Writable: true}
	m.Offset.X = props.Property{Min: 0, Max: maxSensorWidth, Writable: true}
	m.Offset.Y = props.Property{Min: 0, Max: maxSensorHeight, Writable: true}
	m.Shape.X = props.Property{Min: 1, Max: maxSensorWidth, Writable: true}
	m.Shape.Y = props.Property{Min: 1, Max: maxSensorHeight, Writable: true}

	for t := frame.SampleType(0); t < frame.SampleTypeCount; t++ {
		m.SupportedPixelTypes |= 1 << uint(t)
	}

	m.DigitalLines.LineCount = 1
	m.DigitalLines.Names = []string{"software"}

	m.Triggers.AcquisitionStart.Input = 1
	m.Triggers.FrameStart.Input = 1
	m.Triggers.Exposure.Input = 1

	m.Name = c.id.Name

	return m
}

func (c *camera) Shape() frame.ImageShape {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.shape
}

func (c *camera) Start() device.State {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != device.StateArmed {
		c.logger.Error().Log("Cannot start a %s camera", c.state)
		return c.state
	}

	c.streaming = true
	c.epoch = time.Now()
	c.delivered = 0
	c.state = device.StateRunning

	return c.state
}

// Stop blocks until an in-flight GetFrame has returned. Afterwards
// GetFrame fails until the next Start.
func (c *camera) Stop() device.State {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == device.StateRunning {
		c.state = device.StateArmed
	}

	c.streaming = false

	return c.state
}

func (c *camera) ExecuteTrigger() error {
	c.logger.Debug().Log("Trigger executed")

	return nil
}

// framePeriod is the time between two frames. A zero exposure and line
// interval produce frames as fast as the pipeline polls.
func (c *camera) framePeriod() time.Duration {
	us := float64(c.props.ExposureTimeUs)

	if readout := float64(c.props.LineIntervalUs) * float64(c.props.Shape.Y); readout > us {
		us = readout
	}

	return time.Duration(us * float64(time.Microsecond))
}

func (c *camera) GetFrame(buf []byte) (int, device.FrameInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.streaming {
		return 0, device.FrameInfo{}, device.ErrNotRunning
	}

	nbytes, err := frame.BytesOfImage(&c.shape)
	if err != nil {
		return 0, device.FrameInfo{}, err
	}

	if uint64(len(buf)) < nbytes {
		return 0, device.FrameInfo{}, fmt.Errorf("buffer of %d bytes is too small for a %d byte frame", len(buf), nbytes)
	}

	if period := c.framePeriod(); period > 0 {
		due := uint64(time.Since(c.epoch)/period) + 1

		if c.delivered >= due {
			return 0, device.FrameInfo{}, device.ErrFrameNotReady
		}
	}

	buf = buf[:nbytes]

	switch c.kind {
	case camUniformRandom:
		c.fillRandom(buf)
	case camRadialSin:
		c.fillRadialSin(buf)
	case camEmpty:
		for i := range buf {
			buf[i] = 0
		}
	}

	c.delivered++
	c.frameID++

	info := device.FrameInfo{
		Shape:             c.shape,
		HardwareFrameID:   c.frameID - 1,
		HardwareTimestamp: uint64(time.Since(c.epoch).Nanoseconds()),
	}

	return int(nbytes), info, nil
}

func (c *camera) next() uint64 {
	// xorshift64
	x := c.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	c.rng = x

	return x
}

func (c *camera) fillRandom(buf []byte) {
	if c.props.PixelType == frame.SampleTypeF32 {
		for i := 0; i+4 <= len(buf); i += 4 {
			v := float32(c.next()>>40) / float32(1<<24)
			putFloat32(buf[i:], v)
		}

		return
	}

	i := 0

	for ; i+8 <= len(buf); i += 8 {
		v := c.next()
		buf[i] = byte(v)
		buf[i+1] = byte(v >> 8)
		buf[i+2] = byte(v >> 16)
		buf[i+3] = byte(v >> 24)
		buf[i+4] = byte(v >> 32)
		buf[i+5] = byte(v >> 40)
		buf[i+6] = byte(v >> 48)
		buf[i+7] = byte(v >> 56)
	}

	for v := c.next(); i < len(buf); i++ {
		buf[i] = byte(v)
		v >>= 8
	}
}

func (c *camera) fillRadialSin(buf []byte) {
	phase := float32(c.frameID) * 0.2

	for i, r := range c.radius {
		s := sinApprox(r*0.1 - phase)

		switch c.props.PixelType {
		case frame.SampleTypeU8:
			buf[i] = byte((s*0.5 + 0.5) * 255)
		case frame.SampleTypeI8:
			buf[i] = byte(int8(s * 127))
		case frame.SampleTypeI16:
			v := uint16(int16(s * 32767))
			buf[2*i] = byte(v)
			buf[2*i+1] = byte(v >> 8)
		case frame.SampleTypeF32:
			putFloat32(buf[4*i:], s)
		default:
			// u16 and the packed types store two bytes per sample
			bits := uint(16)

			switch c.props.PixelType {
			case frame.SampleTypeU10:
				bits = 10
			case frame.SampleTypeU12:
				bits = 12
			case frame.SampleTypeU14:
				bits = 14
			}

			v := uint16((s*0.5 + 0.5) * float32(uint32(1)<<bits-1))
			buf[2*i] = byte(v)
			buf[2*i+1] = byte(v >> 8)
		}
	}
}

// sinApprox is a fast Bhaskara-style sine approximation, accurate enough
// for a test pattern and cheap enough to sustain full sensor frames.
func sinApprox(x float32) float32 {
	const twoPi = 2 * math.Pi

	x = x - twoPi*float32(math.Floor(float64(x)/twoPi))

	sign := float32(1)
	if x > math.Pi {
		x -= math.Pi
		sign = -1
	}

	// Bhaskara I
	return sign * (16 * x * (math.Pi - x)) / (5*math.Pi*math.Pi - 4*x*(math.Pi-x))
}

func putFloat32(buf []byte, v float32) {
	bits := math.Float32bits(v)
	buf[0] = byte(bits)
	buf[1] = byte(bits >> 8)
	buf[2] = byte(bits >> 16)
	buf[3] = byte(bits >> 24)
}
