package ata

import (
	"protios/device"
	"protios/kernel"
	"protios/kernel/sched"
)

// PrimaryPortBase is the conventional port-register window for the
// primary ATA channel.
const PrimaryPortBase = 0x1F0

// PortIOFactory builds the PortIO backend for the primary channel. Real
// firmware would return a backend driving actual in/out instructions;
// that requires architecture-specific assembly this teaching kernel does
// not carry (no boot-loader-provided ring-0 port access is in scope), so
// this defaults to nil — no hardware backend available — until a caller
// (typically kernel/kmain, wiring in sim.SimPort for a simulated disk)
// sets it.
var PortIOFactory func(portBase uint16) PortIO

// Scheduler must be set by kmain before hardware detection runs; probe
// uses it to layer the controller's mutex/semaphore on the live
// scheduler, the same way NewController always has.
var Scheduler *sched.Scheduler

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probe,
	})
}

func probe() device.Driver {
	if PortIOFactory == nil || Scheduler == nil {
		return nil
	}
	io := PortIOFactory(PrimaryPortBase)
	if io == nil {
		return nil
	}
	c := NewController(io, PrimaryPortBase, Scheduler)
	if sim, ok := io.(interface{ AttachSink(IRQSink) }); ok {
		sim.AttachSink(c)
	}
	return c
}

// DriverName implements device.Driver.
func (c *Controller) DriverName() string { return "ata" }

// DriverVersion implements device.Driver.
func (c *Controller) DriverVersion() (major, minor, patch uint16) { return 1, 0, 0 }

// DriverInit implements device.Driver: it runs IDENTIFY against both
// drives on the channel, discovering any MBR partitions they carry.
func (c *Controller) DriverInit() *kernel.Error {
	c.Identify()
	return nil
}
