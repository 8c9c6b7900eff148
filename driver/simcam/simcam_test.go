package simcam

import (
	"testing"
	"time"

	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/frame"
	"github.com/lightsheet/acquire/props"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCamera(t *testing.T, name string) (*Driver, device.Camera) {
	d := New(Config{})

	index := -1
	for i := 0; i < d.DeviceCount(); i++ {
		id, err := d.Describe(i)
		require.NoError(t, err)

		if id.Name == name {
			index = i
		}
	}
	require.GreaterOrEqual(t, index, 0)

	dev, err := d.Open(index)
	require.NoError(t, err)

	cam, ok := dev.(device.Camera)
	require.True(t, ok)

	return d, cam
}

func arm(t *testing.T, cam device.Camera, w, h uint32, pt frame.SampleType, exposureUs float32) {
	p := props.CameraProperties{}
	p.Shape.X = w
	p.Shape.Y = h
	p.PixelType = pt
	p.ExposureTimeUs = exposureUs
	p.Binning = 1

	require.Equal(t, device.StateArmed, cam.SetProperties(&p))
}

func TestEnumeration(t *testing.T) {
	d := New(Config{})

	require.Equal(t, 3, d.DeviceCount())

	names := []string{}
	for i := 0; i < d.DeviceCount(); i++ {
		id, err := d.Describe(i)
		require.NoError(t, err)
		require.Equal(t, device.KindCamera, id.Kind)
		names = append(names, id.Name)
	}

	assert.Equal(t, []string{
		"simulated: uniform random",
		"simulated: radial sin",
		"simulated: empty",
	}, names)
}

func TestSetPropertiesRejectsBadShape(t *testing.T) {
	_, cam := openCamera(t, "simulated: empty")

	p := props.CameraProperties{}
	p.PixelType = frame.SampleTypeU8

	assert.Equal(t, device.StateAwaitingConfiguration, cam.SetProperties(&p))

	p.Shape.X = 64
	p.Shape.Y = 48
	p.PixelType = frame.SampleTypeCount
	assert.Equal(t, device.StateAwaitingConfiguration, cam.SetProperties(&p))
}

func TestShapePlumbing(t *testing.T) {
	_, cam := openCamera(t, "simulated: empty")

	arm(t, cam, 64, 48, frame.SampleTypeU16, 100)

	shape := cam.Shape()
	assert.Equal(t, uint32(64), shape.Dims.Width)
	assert.Equal(t, uint32(48), shape.Dims.Height)
	assert.Equal(t, frame.SampleTypeU16, shape.Type)

	n, err := frame.BytesOfImage(&shape)
	require.NoError(t, err)
	assert.Equal(t, uint64(64*48*2), n)
}

func TestGetFrameDelivers(t *testing.T) {
	for _, name := range []string{"simulated: uniform random", "simulated: radial sin", "simulated: empty"} {
		t.Run(name, func(t *testing.T) {
			_, cam := openCamera(t, name)

			arm(t, cam, 64, 48, frame.SampleTypeU8, 1)
			require.Equal(t, device.StateRunning, cam.Start())

			buf := make([]byte, 64*48)

			deadline := time.Now().Add(5 * time.Second)
			got := 0

			for got < 10 && time.Now().Before(deadline) {
				n, info, err := cam.GetFrame(buf)
				if err == device.ErrFrameNotReady {
					time.Sleep(100 * time.Microsecond)
					continue
				}

				require.NoError(t, err)
				require.Equal(t, 64*48, n)
				require.Equal(t, uint64(got), info.HardwareFrameID)

				got++
			}

			require.Equal(t, 10, got)
			require.Equal(t, device.StateArmed, cam.Stop())
		})
	}
}

func TestNoGetFrameAfterStop(t *testing.T) {
	_, cam := openCamera(t, "simulated: empty")

	arm(t, cam, 64, 48, frame.SampleTypeU8, 0)
	require.Equal(t, device.StateRunning, cam.Start())

	buf := make([]byte, 64*48)

	_, _, err := cam.GetFrame(buf)
	require.NoError(t, err)

	cam.Stop()

	_, _, err = cam.GetFrame(buf)
	assert.ErrorIs(t, err, device.ErrNotRunning)
}

func TestExposurePacing(t *testing.T) {
	_, cam := openCamera(t, "simulated: empty")

	// 10ms exposure means at most ~10 frames in 100ms
	arm(t, cam, 16, 16, frame.SampleTypeU8, 1e4)
	require.Equal(t, device.StateRunning, cam.Start())

	buf := make([]byte, 16*16)

	got := 0
	deadline := time.Now().Add(100 * time.Millisecond)

	for time.Now().Before(deadline) {
		_, _, err := cam.GetFrame(buf)
		if err == device.ErrFrameNotReady {
			time.Sleep(time.Millisecond)
			continue
		}

		require.NoError(t, err)
		got++
	}

	assert.LessOrEqual(t, got, 15)
	assert.GreaterOrEqual(t, got, 5)
}

func TestRadialSinKeepsPace(t *testing.T) {
	_, cam := openCamera(t, "simulated: radial sin")

	arm(t, cam, 1920, 1080, frame.SampleTypeU16, 1)
	require.Equal(t, device.StateRunning, cam.Start())

	buf := make([]byte, 1920*1080*2)

	start := time.Now()
	got := 0

	for got < 10 {
		_, _, err := cam.GetFrame(buf)
		if err == device.ErrFrameNotReady {
			continue
		}

		require.NoError(t, err)
		got++
	}

	// 10 frames at 1920x1080 u16 in well under (10/3)*2 seconds
	assert.Less(t, time.Since(start), 6*time.Second)
}

func TestMetadata(t *testing.T) {
	_, cam := openCamera(t, "simulated: uniform random")

	m := cam.Metadata()

	assert.Equal(t, "simulated: uniform random", m.Name)
	assert.True(t, m.ExposureTimeUs.Writable)

	for i := frame.SampleType(0); i < frame.SampleTypeCount; i++ {
		assert.True(t, m.SupportsPixelType(i))
	}
	assert.False(t, m.SupportsPixelType(frame.SampleTypeCount))
}

func TestRandomFramesDiffer(t *testing.T) {
	_, cam := openCamera(t, "simulated: uniform random")

	arm(t, cam, 64, 48, frame.SampleTypeU8, 0)
	require.Equal(t, device.StateRunning, cam.Start())

	a := make([]byte, 64*48)
	b := make([]byte, 64*48)

	_, _, err := cam.GetFrame(a)
	require.NoError(t, err)
	_, _, err = cam.GetFrame(b)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDriverClose(t *testing.T) {
	d, cam := openCamera(t, "simulated: empty")

	arm(t, cam, 16, 16, frame.SampleTypeU8, 0)
	cam.Start()

	require.NoError(t, d.Close(cam))

	_, _, err := cam.GetFrame(make([]byte, 16*16))
	assert.ErrorIs(t, err, device.ErrNotRunning)
}
