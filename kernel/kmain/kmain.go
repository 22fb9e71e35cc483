package kmain

import (
	"sort"

	"protios/device"
	"protios/kernel"
	"protios/kernel/driver/ata"
	"protios/kernel/driver/tty"
	"protios/kernel/exec"
	"protios/kernel/fs"
	"protios/kernel/fs/devfs"
	"protios/kernel/fs/fat16"
	"protios/kernel/kfmt"
	"protios/kernel/mem"
	"protios/kernel/mem/pmm"
	"protios/kernel/mem/vmm"
	"protios/kernel/sched"
	ksync "protios/kernel/sync"
	"protios/kernel/syscall"
)

var (
	errNoRootPartition = &kernel.Error{Module: "kmain", Message: "no FAT16 partition found on the primary disk"}
	errInitExecFailed  = &kernel.Error{Module: "kmain", Message: "failed to start the init program"}
)

// Kernel bundles every subsystem Boot wires together. Dispatcher is
// ready for a trap handler to drive once one exists; real user address
// spaces and the syscall stub library that would reach it are out of
// scope here (spec.md's Non-goals), so nothing in this repository calls
// Dispatch for real traps yet.
type Kernel struct {
	Scheduler  *sched.Scheduler
	VFS        *fs.VFS
	Dispatcher *syscall.Dispatcher
	VM         *vmm.Manager
	TickMs     int

	initTask *sched.Task
}

// Boot brings up the physical/virtual memory managers over cfg's
// simulated RAM, creates the scheduler, probes every driver registered
// with the device package (sorted by DetectOrder, exactly as
// hal.DetectHardware does in the teacher), wires the detected disk's
// root FAT16 partition and any tty lines into the VFS, and finally loads
// and launches the init program. A failure at any step leaves no
// partially-booted Kernel behind; Boot returns the error instead.
func Boot(cfg Config) (*Kernel, *kernel.Error) {
	ram := vmm.NewRAM(cfg.RAMSize)
	alloc := pmm.New(pmm.Frame(0), int(cfg.RAMSize/mem.PageSize))
	vm := vmm.NewManager(ram, alloc)
	if err := vm.CreateKernelDirectory([]vmm.Mapping{
		{VStart: 0, VEnd: uintptr(mem.KernelVirtualBase) - 1, PStart: 0, Perm: vmm.FlagWrite},
	}); err != nil {
		return nil, err
	}

	s := sched.New(sched.NewAddressSpace(vm), cfg.MaxTasks)

	ata.Scheduler = s
	ata.PortIOFactory = cfg.ATAPortIO
	tty.Scheduler = s

	vfs := fs.New()
	devFS := devfs.New()
	var rootCtrl *ata.Controller

	drivers := device.DriverList()
	sort.Sort(drivers)
	for _, info := range drivers {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		if err := drv.DriverInit(); err != nil {
			kfmt.Printf("[kmain] %s(%d.%d.%d) init failed: %s\n", drv.DriverName(), major, minor, patch, err.Message)
			continue
		}
		kfmt.Printf("[kmain] %s(%d.%d.%d) initialized\n", drv.DriverName(), major, minor, patch)

		switch d := drv.(type) {
		case *ata.Controller:
			rootCtrl = d
		case *tty.Controller:
			wireTTY(devFS, d)
		}
	}

	if err := vfs.Mount(cfg.DevFSMount, devFS, nil); err != nil {
		return nil, err
	}

	if rootCtrl != nil {
		diskIdx, partIdx, ok := findRootPartition(rootCtrl)
		if !ok {
			return nil, errNoRootPartition
		}

		rootFS, err := fat16.Mount(ata.NewPartitionDevice(rootCtrl, diskIdx, partIdx))
		if err != nil {
			return nil, err
		}
		if err := vfs.Mount(cfg.RootFSMount, rootFS, ksync.NewMutex(s)); err != nil {
			return nil, err
		}
	}
	if err := vfs.SetRoot(cfg.RootFSMount); err != nil {
		return nil, err
	}

	initTask, err := s.CreateTask("init")
	if err != nil {
		return nil, err
	}
	s.Start(initTask)
	s.Dispatch()

	loader := exec.NewLoader(vfs, vm)
	if lerr := loader.Execve(initTask, cfg.InitProgram, cfg.InitArgv); lerr != nil {
		return nil, errInitExecFailed
	}

	// mem stays nil: the Memory seam copies to/from a real user
	// address space, which has nothing concrete to walk until a trap
	// handler and user programs exist (both out of scope here).
	dispatcher := syscall.New(s, vfs, nil, loader, exec.NewHeapManager(vm), initTask, cfg.TickMs)

	return &Kernel{
		Scheduler:  s,
		VFS:        vfs,
		Dispatcher: dispatcher,
		VM:         vm,
		TickMs:     cfg.TickMs,
		initTask:   initTask,
	}, nil
}

// wireTTY registers every tty minor devfs can route to under the "tty"
// prefix. ctrl.OpenMinor returns its own concrete *tty.Device rather
// than the devfs.CharDevice interface (so tty need not import devfs);
// OpenerFunc's closure performs that conversion at the call site.
func wireTTY(devFS *devfs.FileSystem, ctrl *tty.Controller) {
	devFS.Register("tty", devfs.OpenerFunc(func(m int) (devfs.CharDevice, *kernel.Error) {
		return ctrl.OpenMinor(m)
	}), fs.FileTTY)
}

// findRootPartition scans ctrl's two disks for the first MBR partition
// flagged FAT16 (partition slot 0 always describes the whole disk, so
// scanning starts at slot 1), mirroring the original's convention of
// mounting the first matching partition found as root.
func findRootPartition(ctrl *ata.Controller) (diskIdx, partIdx int, ok bool) {
	for d := 0; d < 2; d++ {
		disk := ctrl.Disk(d)
		for p := 1; p < len(disk.Partitions); p++ {
			switch disk.Partitions[p].Type {
			case ata.PartTypeFAT16_0, ata.PartTypeFAT16_1:
				return d, p, true
			}
		}
	}
	return 0, 0, false
}

// Tick drives one scheduler time-slice tick, the software stand-in for
// the PIT interrupt this teaching kernel does not model (PIT/PIC are
// out of scope external collaborators). A test harness, or a future
// timer ISR, calls this to advance preemption and sleep accounting.
func (k *Kernel) Tick() {
	k.Scheduler.Tick()
}
