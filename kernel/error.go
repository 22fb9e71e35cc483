package kernel

// Error describes a kernel-internal error. Unlike Go's error interface,
// Error is a concrete, allocation-free type so it can be used in contexts
// where the heap is not yet available (early boot, interrupt context).
type Error struct {
	// Module names the subsystem that raised the error (e.g. "pmm", "vmm",
	// "sched", "fat16").
	Module string

	// Message is a short, human readable description of the failure.
	Message string
}

// Error implements the error interface so a *Error can be passed to code
// expecting a regular Go error (e.g. kfmt.Printf's %s verb, or test helpers).
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "[" + e.Module + "] " + e.Message
}

// HaltFn is invoked by kfmt.Panic once a fatal, unrecoverable condition has
// been reported. On real hardware this halts the CPU (cli; hlt loop); tests
// substitute a function that merely records the call.
var HaltFn = func() {
	select {}
}
