// Package sched implements the task manager and preemptive round-robin
// scheduler: task control blocks, the five-state lifecycle, the ready and
// sleep queues, and the fork/wait/exit/yield/msleep operations layered on
// top of the virtual memory manager (exec lives in kernel/exec).
package sched

import (
	"protios/kernel/list"
	"protios/kernel/mem/vmm"
)

// State is one of the five task lifecycle states.
type State int

const (
	Created State = iota
	Ready
	Running
	Sleep
	Waiting
	Zombie
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleep:
		return "sleep"
	case Waiting:
		return "waiting"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// MaxOpenFiles bounds a task's file-descriptor table, mirroring the
// original's fixed-size TASK_OFILE_NR slot array.
const MaxOpenFiles = 128

// DefaultTimeSlice is the number of ticks a task runs before being
// requeued at the ready-list tail.
const DefaultTimeSlice = 10

// TrapFrame holds the saved register/segment image a hardware task
// switch would otherwise carry in a TSS. A context switch here swaps
// which Task's TrapFrame is "live" rather than far-jumping to a
// selector; per spec.md §9 this is an equally valid model as long as
// each task has an independent saved-register image.
type TrapFrame struct {
	EIP, ESP, EFlags uint32
	EAX, EBX, ECX, EDX,
	ESI, EDI, EBP uint32
	PageDir uintptr // CR3 equivalent: physical address of this task's page directory
}

// Task is the control block for one schedulable unit of execution.
type Task struct {
	Name   string
	Pid    uintptr // assigned as the TCB's own address, unique per lifetime
	Parent *Task
	State  State

	HeapStart, HeapEnd uintptr
	ExitStatus         int

	SleepTicks int
	TimeSlice  int
	SliceTicks int

	// GDTSlot is the index this task's TSS descriptor occupies, handed
	// out by the scheduler's tssAllocator at creation time and released
	// back to the pool when the task is reaped.
	GDTSlot int

	Files [MaxOpenFiles]FileHandle

	Trap TrapFrame

	allNode  *list.Node[*Task]
	runNode  *list.Node[*Task] // on the ready list or the sleep list, never both
	waitNode *list.Node[*Task] // on at most one wait list (a mutex's, a semaphore's, ...)
}

// FileHandle is the minimal view of an open file a task's descriptor
// table needs; kernel/fs implements the concrete type.
type FileHandle interface {
	Retain()
	Release()
}

// newTask allocates and minimally initializes a Task. Pid is assigned
// from the Task's own address once it is heap-resident, guaranteeing
// uniqueness for the Task's lifetime.
func newTask(name string) *Task {
	t := &Task{Name: name, State: Created, TimeSlice: DefaultTimeSlice, SliceTicks: DefaultTimeSlice}
	t.Pid = uintptr(pidOf(t))
	return t
}

// AllocFD installs f in the lowest free descriptor slot and returns its
// index, or -1 if the table is full.
func (t *Task) AllocFD(f FileHandle) int {
	for i := range t.Files {
		if t.Files[i] == nil {
			t.Files[i] = f
			return i
		}
	}
	return -1
}

// File returns the file installed at fd, or nil if fd is out of range or
// empty.
func (t *Task) File(fd int) FileHandle {
	if fd < 0 || fd >= MaxOpenFiles {
		return nil
	}
	return t.Files[fd]
}

// WaitNode returns t's preallocated wait-list linkage node, allocating it
// on first use. A task belongs to at most one wait list at a time (a
// mutex's or a semaphore's), so kernel/sync reuses this single intrusive
// node across every block/wake cycle instead of allocating a fresh
// list.Node each time, the same allocation-free membership the ready and
// sleep lists get from allNode/runNode.
func (t *Task) WaitNode() *list.Node[*Task] {
	if t.waitNode == nil {
		t.waitNode = list.NewNode(t)
	}
	return t.waitNode
}

// RemoveFD clears descriptor fd, releasing the file it held if any.
func (t *Task) RemoveFD(fd int) {
	if fd < 0 || fd >= MaxOpenFiles {
		return
	}
	if f := t.Files[fd]; f != nil {
		f.Release()
		t.Files[fd] = nil
	}
}

// AddressSpace is the minimal contract the scheduler needs from the
// virtual memory manager to create, copy, and destroy a task's address
// space. kernel/mem/vmm.Manager satisfies it.
type AddressSpace interface {
	CreateAddressSpace() (uintptr, error)
	CopyAddressSpace(dir uintptr) (uintptr, error)
	DestroyAddressSpace(dir uintptr)
}

// vmmAdapter narrows *vmm.Manager's *kernel.Error returns to the plain
// `error` the AddressSpace interface uses, so kernel/sched does not need
// to import kernel/mem/vmm's error type directly in its exported
// surface.
type vmmAdapter struct{ m *vmm.Manager }

func (a vmmAdapter) CreateAddressSpace() (uintptr, error) {
	dir, err := a.m.CreateAddressSpace()
	if err != nil {
		return 0, err
	}
	return dir, nil
}

func (a vmmAdapter) CopyAddressSpace(dir uintptr) (uintptr, error) {
	nd, err := a.m.CopyAddressSpace(dir)
	if err != nil {
		return 0, err
	}
	return nd, nil
}

func (a vmmAdapter) DestroyAddressSpace(dir uintptr) {
	a.m.DestroyAddressSpace(dir)
}

// NewAddressSpace wraps m to satisfy AddressSpace.
func NewAddressSpace(m *vmm.Manager) AddressSpace {
	return vmmAdapter{m: m}
}
