package sched

import "unsafe"

// pidOf returns t's own heap address as its pid, matching the original's
// "pid is assigned as the TCB's address" — unique for the Task's
// lifetime since the Go garbage collector never moves a Task while a
// live reference to it (the pid itself, among others) exists.
func pidOf(t *Task) uintptr {
	return uintptr(unsafe.Pointer(t))
}
