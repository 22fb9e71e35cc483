// Package kmain wires the kernel's subsystems together: physical and
// virtual memory, the scheduler, driver detection, the mounted VFS, and
// the first task's program load. It has no single teacher file
// counterpart; it is grounded on the *shape* of gopheros's own
// kernel/kmain.Kmain (the chained allocator.Init/vmm.Init/goruntime.Init
// sequence) for the subsystem hand-off and on
// original_source/.../core/task.c's task_manager_init/task_first_init
// for the scheduler-and-first-task half.
package kmain

import (
	"protios/kernel/driver/ata"
	"protios/kernel/mem"
)

// Config describes everything Boot needs to bring the kernel up: how
// much simulated RAM backs the memory managers, how many tasks the
// scheduler can track, how long one scheduler tick represents, where to
// mount devfs and the root FAT16 partition, and which program (and
// argv) the first task runs.
type Config struct {
	// RAMSize is the size of the simulated physical RAM arena.
	RAMSize mem.Size

	// MaxTasks bounds the scheduler's task table, mirroring the
	// original's fixed-size array.
	MaxTasks int

	// TickMs is the duration a single scheduler tick represents, the
	// unit Msleep converts its millisecond argument against.
	TickMs int

	// ATAPortIO builds the register-level backend the primary ATA
	// channel probes against. Leave nil to skip ATA/disk detection
	// entirely (no real port-IO backend is possible without the
	// out-of-scope boot assembly); tests supply a factory that returns
	// an ata.sim-backed PortIO.
	ATAPortIO func(portBase uint16) ata.PortIO

	// DevFSMount and RootFSMount are the paths devfs and the detected
	// disk's root FAT16 partition are mounted under.
	DevFSMount  string
	RootFSMount string

	// InitProgram is the path (resolved against RootFSMount) of the
	// first task's ELF image, and InitArgv its argument vector.
	InitProgram string
	InitArgv    []string
}
