package device

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/lightsheet/acquire/log"
)

var (
	// ErrDeviceNotFound is returned when no enumerated device matches
	// the requested kind and pattern.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrInvalidPattern is returned when the pattern doesn't compile.
	ErrInvalidPattern = errors.New("invalid device pattern")

	// ErrDeviceInUse is returned when an exclusive device is already
	// open.
	ErrDeviceInUse = errors.New("device is already open")
)

type managerEntry struct {
	id     Identifier
	driver Driver
	index  int

	open Device
}

// ManagerConfig is the configuration for a device manager.
type ManagerConfig struct {
	Drivers []Driver

	// For logging, optional
	Logger log.Logger
}

// Manager enumerates the devices of all loaded drivers into one flat
// table. The table is built once and read-only afterwards; opening and
// releasing devices only flips per-entry ownership.
type Manager struct {
	drivers []Driver
	table   []managerEntry

	logger log.Logger

	lock sync.Mutex
}

// NewManager enumerates all drivers' devices. Driver order determines
// the tie-break order of Select.
func NewManager(config ManagerConfig) (*Manager, error) {
	m := &Manager{
		drivers: config.Drivers,
		logger:  config.Logger,
	}

	if m.logger == nil {
		m.logger = log.New("")
	}

	m.logger = m.logger.WithComponent("DeviceManager")

	for _, driver := range config.Drivers {
		count := driver.DeviceCount()

		for i := 0; i < count; i++ {
			id, err := driver.Describe(i)
			if err != nil {
				return nil, fmt.Errorf("describing device %d of driver %s failed: %w", i, driver.Name(), err)
			}

			if len(id.Name) == 0 || len(id.Name) > MaxNameLength {
				return nil, fmt.Errorf("driver %s device %d has an invalid name", driver.Name(), i)
			}

			m.table = append(m.table, managerEntry{
				id:     id,
				driver: driver,
				index:  i,
			})

			m.logger.Debug().WithFields(log.Fields{
				"driver": driver.Name(),
				"kind":   id.Kind,
				"name":   id.Name,
			}).Log("Enumerated device")
		}
	}

	return m, nil
}

// Count returns the number of enumerated devices.
func (m *Manager) Count() int {
	return len(m.table)
}

// Identifiers lists all enumerated devices of the given kind. KindNone
// lists everything.
func (m *Manager) Identifiers(kind Kind) []Identifier {
	ids := []Identifier{}

	for _, entry := range m.table {
		if kind != KindNone && entry.id.Kind != kind {
			continue
		}

		ids = append(ids, entry.id)
	}

	return ids
}

// Select returns the first device of the given kind whose name matches
// the pattern. The pattern is a case-sensitive regular expression; the
// empty pattern selects the first device of the kind. Ties are broken by
// driver load order, then intra-driver enumeration order.
func (m *Manager) Select(kind Kind, pattern string) (Identifier, error) {
	if kind != KindCamera && kind != KindStorage {
		return Identifier{}, fmt.Errorf("cannot select a device of kind %s", kind)
	}

	var re *regexp.Regexp

	if len(pattern) != 0 {
		var err error

		re, err = regexp.Compile(pattern)
		if err != nil {
			return Identifier{}, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
		}
	}

	for _, entry := range m.table {
		if entry.id.Kind != kind {
			continue
		}

		if re != nil && !re.MatchString(entry.id.Name) {
			continue
		}

		return entry.id, nil
	}

	return Identifier{}, fmt.Errorf("%w: no %s matches %q", ErrDeviceNotFound, kind, pattern)
}

// Open instantiates the device with the given identifier. A device can
// be open at most once.
func (m *Manager) Open(id Identifier) (Device, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i := range m.table {
		entry := &m.table[i]

		if entry.id != id {
			continue
		}

		if entry.open != nil {
			return nil, fmt.Errorf("%w: %s", ErrDeviceInUse, id)
		}

		device, err := entry.driver.Open(entry.index)
		if err != nil {
			return nil, fmt.Errorf("opening %s failed: %w", id, err)
		}

		entry.open = device

		m.logger.Debug().WithField("device", id.String()).Log("Opened")

		return device, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Release hands the device back to the driver that created it. The
// device must not be used afterwards.
func (m *Manager) Release(d Device) error {
	if d == nil {
		return nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	for i := range m.table {
		entry := &m.table[i]

		if entry.open != d {
			continue
		}

		entry.open = nil

		m.logger.Debug().WithField("device", entry.id.String()).Log("Released")

		return entry.driver.Close(d)
	}

	return fmt.Errorf("%w: device is not open", ErrDeviceNotFound)
}

// Shutdown releases all open devices and shuts down the drivers.
func (m *Manager) Shutdown() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	var err error

	for i := range m.table {
		entry := &m.table[i]

		if entry.open == nil {
			continue
		}

		if e := entry.driver.Close(entry.open); e != nil {
			err = e
		}

		entry.open = nil
	}

	for _, driver := range m.drivers {
		if e := driver.Shutdown(); e != nil {
			err = e
		}
	}

	return err
}
