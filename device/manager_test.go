package device

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice struct {
	id Identifier
}

func (d *stubDevice) Identifier() Identifier { return d.id }

type stubDriver struct {
	name    string
	devices []Identifier
}

func (d *stubDriver) Name() string     { return d.name }
func (d *stubDriver) DeviceCount() int { return len(d.devices) }

func (d *stubDriver) Describe(index int) (Identifier, error) {
	if index < 0 || index >= len(d.devices) {
		return Identifier{}, fmt.Errorf("index out of range")
	}

	return d.devices[index], nil
}

func (d *stubDriver) Open(index int) (Device, error) {
	id, err := d.Describe(index)
	if err != nil {
		return nil, err
	}

	return &stubDevice{id: id}, nil
}

func (d *stubDriver) Close(Device) error { return nil }
func (d *stubDriver) Shutdown() error    { return nil }

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(ManagerConfig{
		Drivers: []Driver{
			&stubDriver{
				name: "simulated",
				devices: []Identifier{
					{Kind: KindCamera, Name: "simulated: uniform random"},
					{Kind: KindCamera, Name: "simulated: radial sin"},
					{Kind: KindCamera, Name: "simulated: empty"},
				},
			},
			&stubDriver{
				name: "common",
				devices: []Identifier{
					{Kind: KindStorage, Name: "raw"},
					{Kind: KindStorage, Name: "tiff"},
					{Kind: KindStorage, Name: "tiff-json"},
					{Kind: KindStorage, Name: "trash"},
				},
			},
		},
	})
	require.NoError(t, err)

	return m
}

func TestManagerEnumerates(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, 7, m.Count())
	assert.Equal(t, 3, len(m.Identifiers(KindCamera)))
	assert.Equal(t, 4, len(m.Identifiers(KindStorage)))
	assert.Equal(t, 7, len(m.Identifiers(KindNone)))
}

func TestManagerSelect(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Select(KindCamera, ".*empty.*")
	require.NoError(t, err)
	assert.Equal(t, "simulated: empty", id.Name)
	assert.Equal(t, KindCamera, id.Kind)

	id, err = m.Select(KindCamera, "simulated.*sin.*")
	require.NoError(t, err)
	assert.Equal(t, "simulated: radial sin", id.Name)

	id, err = m.Select(KindStorage, "tiff")
	require.NoError(t, err)
	assert.Equal(t, "tiff", id.Name, "first match wins over tiff-json")

	id, err = m.Select(KindStorage, "trash")
	require.NoError(t, err)
	assert.Equal(t, "trash", id.Name)
}

func TestManagerSelectEmptyPattern(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Select(KindCamera, "")
	require.NoError(t, err)
	assert.Equal(t, "simulated: uniform random", id.Name, "empty pattern selects the first of the kind")

	id, err = m.Select(KindStorage, "")
	require.NoError(t, err)
	assert.Equal(t, "raw", id.Name)
}

func TestManagerSelectFailures(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Select(KindCamera, "no such camera")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = m.Select(KindStorage, "([")
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = m.Select(KindNone, "")
	assert.Error(t, err)

	// patterns are case-sensitive
	_, err = m.Select(KindStorage, "Trash")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestManagerOpenExclusive(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Select(KindStorage, "raw")
	require.NoError(t, err)

	d, err := m.Open(id)
	require.NoError(t, err)
	require.NotNil(t, d)

	_, err = m.Open(id)
	assert.ErrorIs(t, err, ErrDeviceInUse)

	require.NoError(t, m.Release(d))

	d, err = m.Open(id)
	require.NoError(t, err)
	require.NoError(t, m.Release(d))
}

func TestManagerOpenUnknown(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Open(Identifier{Kind: KindCamera, Name: "missing"})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestManagerShutdown(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Select(KindCamera, "")
	require.NoError(t, err)

	_, err = m.Open(id)
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())

	// all devices are released again
	_, err = m.Open(id)
	require.NoError(t, err)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting configuration", StateAwaitingConfiguration.String())
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestIdentifier(t *testing.T) {
	id := Identifier{}
	assert.True(t, id.IsNone())

	id = Identifier{Kind: KindCamera, Name: "simulated: empty"}
	assert.False(t, id.IsNone())
	assert.Equal(t, "camera: simulated: empty", id.String())
}
