package sched

import (
	"protios/kernel"
	"protios/kernel/list"
)

// Fork creates a child of parent: a deep copy of parent's address space
// (eager, not copy-on-write — spec.md's Non-goals exclude COW), a copy
// of its open-file table with each file's reference count incremented,
// and a saved trap frame identical to the parent's except EAX=0 (the
// child's fork return value). The child is inserted on the all-list and
// marked Ready; Fork returns the child's pid, which the caller is
// expected to place into the parent's own trap frame's EAX.
func (s *Scheduler) Fork(parent *Task) (*Task, *kernel.Error) {
	if s.liveCount() >= s.maxTasks {
		return nil, ErrTaskTableFull
	}

	slot := s.tss.alloc()
	if slot < 0 {
		return nil, ErrGDTExhausted
	}

	childDir, err := s.as.CopyAddressSpace(parent.Trap.PageDir)
	if err != nil {
		s.tss.free(slot)
		return nil, toKernelError("sched", err)
	}

	child := newTask(parent.Name)
	child.Parent = parent
	child.HeapStart = parent.HeapStart
	child.HeapEnd = parent.HeapEnd
	child.Trap = parent.Trap
	child.Trap.PageDir = childDir
	child.Trap.EAX = 0 // fork returns 0 in the child
	child.GDTSlot = slot

	for i, f := range parent.Files {
		if f != nil {
			f.Retain()
			child.Files[i] = f
		}
	}

	child.allNode = list.NewNode(child)
	s.all.PushBack(child.allNode)

	s.Start(child)

	return child, nil
}

// reapZombieChild scans the all-list for a Zombie task whose parent is
// parent, tears it down, and removes it from the all-list. It returns
// nil, errNoZombieChild if parent has no zombie child right now.
func (s *Scheduler) reapZombieChild(parent *Task) (*Task, int, *kernel.Error) {
	for n := s.all.First(); n != nil; n = n.Next() {
		t := n.Value()
		if t.Parent == parent && t.State == Zombie {
			s.as.DestroyAddressSpace(t.Trap.PageDir)
			s.tss.free(t.GDTSlot)
			s.all.Remove(n)
			return t, t.ExitStatus, nil
		}
	}
	return nil, 0, errNoZombieChild
}

// Wait reaps a zombie child of caller if one exists, returning its pid
// and exit status. If caller has no zombie child, it is blocked as
// Waiting and the scheduler dispatches; the caller must re-invoke Wait
// once rescheduled (a simulated "retry on wake" loop, since this
// implementation has no coroutine to suspend mid-call).
func (s *Scheduler) Wait(caller *Task) (pid uintptr, status int, blocked bool, err *kernel.Error) {
	child, st, rerr := s.reapZombieChild(caller)
	if rerr == nil {
		return child.Pid, st, false, nil
	}

	if !s.hasLiveChild(caller) {
		return 0, 0, false, errNoLiveChildren
	}

	s.Block(caller)
	if caller == s.current {
		s.current = s.idle
		s.Dispatch()
	}
	return 0, 0, true, nil
}

func (s *Scheduler) hasLiveChild(parent *Task) bool {
	for n := s.all.First(); n != nil; n = n.Next() {
		if n.Value().Parent == parent {
			return true
		}
	}
	return false
}

// errNoLiveChildren is returned by Wait when the caller has no children
// at all (zombie or otherwise) — waiting would block forever.
var errNoLiveChildren = &kernel.Error{Module: "sched", Message: "no children to wait for"}

// Exit closes every open descriptor, reparents live children to the
// scheduler's init task (waking it if any reparented child is already a
// zombie so it can reap), wakes the real parent if it is Waiting on this
// task, stores the exit status, and transitions caller to Zombie. The
// caller's trap frame is left alone; per spec.md "control never
// returns", so the driving loop must call Dispatch immediately after.
func (s *Scheduler) Exit(caller *Task, status int, initTask *Task) {
	for fd := range caller.Files {
		caller.RemoveFD(fd)
	}

	anyZombieReparented := false
	for n := s.all.First(); n != nil; n = n.Next() {
		t := n.Value()
		if t.Parent == caller {
			t.Parent = initTask
			if t.State == Zombie {
				anyZombieReparented = true
			}
		}
	}
	if anyZombieReparented && initTask != nil && initTask.State == Waiting {
		s.Wake(initTask)
	}

	if caller.Parent != nil && caller.Parent.State == Waiting {
		s.Wake(caller.Parent)
	}

	caller.ExitStatus = status
	caller.State = Zombie
	if caller.runNode != nil {
		s.ready.Remove(caller.runNode)
		s.sleep.Remove(caller.runNode)
	}

	if caller == s.current {
		s.current = s.idle
		s.Dispatch()
	}
}
