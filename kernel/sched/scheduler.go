package sched

import (
	"protios/kernel"
	"protios/kernel/list"
)

// ErrTaskTableFull is returned by Fork when no further tasks can be
// created (mirrors the original's fixed-size task table exhaustion).
var ErrTaskTableFull = &kernel.Error{Module: "sched", Message: "task table exhausted"}

// errNoZombieChild is returned by reapZombieChild when the caller has no
// zombie child to collect; Wait uses it to decide whether to block.
var errNoZombieChild = &kernel.Error{Module: "sched", Message: "no zombie child"}

// Scheduler owns the ready queue, the sleep queue, the set of all live
// tasks, and the currently running task. It is single-CPU, preemptive,
// and strictly round-robin: the next task to run is always the head of
// the ready list, or idle if the ready list is empty.
type Scheduler struct {
	as AddressSpace

	all   list.List[*Task]
	ready list.List[*Task]
	sleep list.List[*Task]

	current *Task
	idle    *Task

	maxTasks int
	tss      *tssAllocator
}

// New creates a Scheduler backed by as for address-space lifecycle
// management. maxTasks bounds the number of live tasks, mirroring the
// original's fixed-size task table.
func New(as AddressSpace, maxTasks int) *Scheduler {
	s := &Scheduler{as: as, maxTasks: maxTasks, tss: newTSSAllocator()}
	s.idle = newTask("idle")
	s.idle.State = Running
	s.current = s.idle
	return s
}

// Current returns the task the scheduler considers to be running.
func (s *Scheduler) Current() *Task {
	return s.current
}

// liveCount returns the number of tasks tracked on the all-list, which
// never includes the idle task (idle is a fallback, never enqueued).
func (s *Scheduler) liveCount() int {
	return s.all.Len()
}

// CreateTask allocates a fresh task in the Created state, with its own
// address space (a copy of the kernel window, no user mappings yet), and
// inserts it on the all-list. The caller is responsible for moving it to
// Ready (via Start) once it has been fully populated (stack, entry
// point, ...).
func (s *Scheduler) CreateTask(name string) (*Task, *kernel.Error) {
	if s.liveCount() >= s.maxTasks {
		return nil, ErrTaskTableFull
	}

	slot := s.tss.alloc()
	if slot < 0 {
		return nil, ErrGDTExhausted
	}

	dir, err := s.as.CreateAddressSpace()
	if err != nil {
		s.tss.free(slot)
		return nil, toKernelError("sched", err)
	}

	t := newTask(name)
	t.Trap.PageDir = dir
	t.GDTSlot = slot

	t.allNode = list.NewNode(t)
	s.all.PushBack(t.allNode)

	return t, nil
}

// Start transitions t from Created to Ready and enqueues it on the ready
// list.
func (s *Scheduler) Start(t *Task) {
	t.State = Ready
	t.runNode = list.NewNode(t)
	s.ready.PushBack(t.runNode)
}

// setReady moves t onto the tail of the ready list, regardless of its
// previous state (used by Tick for both slice-expiry requeues and
// sleep-wakeups, and by Wait/notify paths).
func (s *Scheduler) setReady(t *Task) {
	t.State = Ready
	if t.runNode != nil {
		s.sleep.Remove(t.runNode)
		s.ready.Remove(t.runNode)
	}
	t.runNode = list.NewNode(t)
	s.ready.PushBack(t.runNode)
}

// Dispatch picks the ready list's head (or idle if empty) and makes it
// Running, demoting the previously-current task to Ready if it is still
// schedulable (a task that blocked itself before calling Dispatch is
// left in whatever state it set).
func (s *Scheduler) Dispatch() {
	next := s.ready.PopFront()

	var nextTask *Task
	if next == nil {
		nextTask = s.idle
	} else {
		nextTask = next.Value()
	}

	if nextTask == s.current {
		nextTask.State = Running
		return
	}

	prev := s.current
	if prev == s.idle {
		prev.State = Ready
	} else if prev.State == Running {
		prev.State = Ready
		prev.runNode = list.NewNode(prev)
		s.ready.PushBack(prev.runNode)
	}

	nextTask.State = Running
	s.current = nextTask
}

// Tick is driven once per timer interrupt. It decrements the current
// task's remaining slice (requeuing it at the ready-list tail on
// expiry), wakes any sleepers whose countdown has reached zero, and
// finally dispatches if the slice expired or idle was running. A task
// with slice left keeps running, and a task woken on the same tick as
// an expiry queues behind the preempted one.
func (s *Scheduler) Tick() {
	if s.current != s.idle {
		s.current.SliceTicks--
		if s.current.SliceTicks <= 0 {
			s.current.SliceTicks = s.current.TimeSlice
			s.current.State = Ready
			s.current.runNode = list.NewNode(s.current)
			s.ready.PushBack(s.current.runNode)
			s.current = s.idle // force Dispatch to pick a new head below
		}
	}

	var woke []*Task
	for n := s.sleep.First(); n != nil; {
		next := n.Next()
		t := n.Value()
		t.SleepTicks--
		if t.SleepTicks <= 0 {
			s.sleep.Remove(n)
			woke = append(woke, t)
		}
		n = next
	}
	for _, t := range woke {
		t.State = Ready
		t.runNode = list.NewNode(t)
		s.ready.PushBack(t.runNode)
	}

	if s.current == s.idle {
		s.Dispatch()
	}
}

// Yield requeues the current task at the ready-list tail and dispatches.
func (s *Scheduler) Yield() {
	if s.current != s.idle {
		s.current.State = Ready
		s.current.runNode = list.NewNode(s.current)
		s.ready.PushBack(s.current.runNode)
	}
	s.current = s.idle
	s.Dispatch()
}

// Msleep moves the current task to the sleep list for at least ms
// milliseconds (converted to ticks, rounded up, minimum one tick) and
// dispatches.
func (s *Scheduler) Msleep(ms int, tickMs int) {
	ticks := (ms + tickMs - 1) / tickMs
	if ticks < 1 {
		ticks = 1
	}

	t := s.current
	t.State = Sleep
	t.SleepTicks = ticks
	t.runNode = list.NewNode(t)
	s.sleep.PushBack(t.runNode)

	s.current = s.idle
	s.Dispatch()
}

// Block removes the current task from scheduling entirely (neither
// ready nor sleeping) and marks it Waiting. The caller is responsible
// for recording t on whatever wait list will eventually wake it (a
// mutex's or semaphore's), then must call Dispatch itself — Block does
// not dispatch on the caller's behalf since the caller usually wants to
// finish registering itself on the waiter list first, under the same
// critical section.
func (s *Scheduler) Block(t *Task) {
	if t.runNode != nil {
		s.ready.Remove(t.runNode)
		s.sleep.Remove(t.runNode)
	}
	t.State = Waiting
}

// Wake transitions t from Waiting/Sleep back to Ready and enqueues it.
// Used by Mutex/Semaphore to hand off to the head of their wait lists,
// and by Exit to wake a waiting parent.
func (s *Scheduler) Wake(t *Task) {
	if t.State == Sleep && t.runNode != nil {
		s.sleep.Remove(t.runNode)
	}
	s.setReady(t)
}

func toKernelError(module string, err error) *kernel.Error {
	if ke, ok := err.(*kernel.Error); ok {
		return ke
	}
	return &kernel.Error{Module: module, Message: err.Error()}
}
