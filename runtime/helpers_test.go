package runtime

import (
	"github.com/lightsheet/acquire/device"
	"github.com/lightsheet/acquire/driver/simcam"
	"github.com/lightsheet/acquire/driver/sink"
	"github.com/lightsheet/acquire/io/fs"
)

func newSimDriver() device.Driver {
	return simcam.New(simcam.Config{})
}

func newSinkDriver(fsys fs.Filesystem) device.Driver {
	return sink.New(sink.Config{Filesystem: fsys})
}

// countingDriver counts how often a device has been opened. Used to
// verify that reconfiguring one side of a stream does not recreate the
// other side's device.
type countingDriver struct {
	device.Driver

	opens int
}

func (d *countingDriver) Open(index int) (device.Device, error) {
	dev, err := d.Driver.Open(index)
	if err == nil {
		d.opens++
	}

	return dev, err
}
