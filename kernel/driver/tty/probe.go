package tty

import (
	"protios/device"
	"protios/kernel"
	"protios/kernel/sched"
)

// Scheduler must be set by kmain before hardware detection runs; probe
// uses it to layer each tty line's semaphores on the live scheduler, the
// same way NewController always has.
var Scheduler *sched.Scheduler

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderLast,
		Probe: probe,
	})
}

// probe always succeeds once a scheduler is available: unlike ata, this
// driver has no real hardware to detect (the in-memory fifo backing it
// is present unconditionally), so Scheduler being set is the only
// precondition.
func probe() device.Driver {
	if Scheduler == nil {
		return nil
	}
	return NewController(Scheduler)
}

// DriverName implements device.Driver.
func (c *Controller) DriverName() string { return "tty" }

// DriverVersion implements device.Driver.
func (c *Controller) DriverVersion() (major, minor, patch uint16) { return 1, 0, 0 }

// DriverInit implements device.Driver. There is no hardware to bring up;
// NewController already left every line ready to be opened.
func (c *Controller) DriverInit() *kernel.Error { return nil }
