package sync

import (
	"testing"

	"protios/kernel/sched"
)

type fakeAS struct{ next uintptr }

func (f *fakeAS) CreateAddressSpace() (uintptr, error) {
	f.next++
	return f.next, nil
}

func (f *fakeAS) CopyAddressSpace(dir uintptr) (uintptr, error) {
	f.next++
	return f.next, nil
}

func (f *fakeAS) DestroyAddressSpace(dir uintptr) {}

func newScheduler(t *testing.T) *sched.Scheduler {
	t.Helper()
	return sched.New(&fakeAS{}, 64)
}

func runTask(t *testing.T, s *sched.Scheduler, name string) *sched.Task {
	t.Helper()
	task, err := s.CreateTask(name)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	s.Start(task)
	return task
}

func TestMutexUncontendedLockUnlock(t *testing.T) {
	s := newScheduler(t)
	a := runTask(t, s, "a")
	s.Dispatch() // a becomes current

	m := NewMutex(s)
	m.Lock()
	if m.Owner() != a || m.Depth() != 1 {
		t.Fatalf("expected a to own the mutex at depth 1; owner=%v depth=%d", m.Owner(), m.Depth())
	}

	m.Unlock()
	if m.Owner() != nil || m.Depth() != 0 {
		t.Fatalf("expected mutex to be free after unlock; owner=%v depth=%d", m.Owner(), m.Depth())
	}
}

func TestMutexRecursiveLock(t *testing.T) {
	s := newScheduler(t)
	runTask(t, s, "a")
	s.Dispatch()

	m := NewMutex(s)
	m.Lock()
	m.Lock()
	m.Lock()
	if m.Depth() != 3 {
		t.Fatalf("expected depth 3 after three recursive locks; got %d", m.Depth())
	}

	m.Unlock()
	m.Unlock()
	if m.Depth() != 1 || m.Owner() == nil {
		t.Fatalf("expected depth 1 and still owned after two unlocks; depth=%d owner=%v", m.Depth(), m.Owner())
	}

	m.Unlock()
	if m.Depth() != 0 || m.Owner() != nil {
		t.Fatalf("expected mutex free after matching unlocks; depth=%d owner=%v", m.Depth(), m.Owner())
	}
}

func TestMutexHandoffToWaiter(t *testing.T) {
	s := newScheduler(t)
	a := runTask(t, s, "a")
	s.Dispatch() // a is current

	m := NewMutex(s)
	m.Lock() // a owns it

	b := runTask(t, s, "b")
	s.Dispatch() // requeues a, runs b (FIFO ready list: a was running, b just started -> ready=[b]; picks b)

	if s.Current() != b {
		t.Fatalf("expected b to be dispatched; got %q", s.Current().Name)
	}

	m.Lock() // b blocks, since a still owns it
	if s.Current() == b {
		t.Fatal("expected b to have blocked and yielded the CPU")
	}

	// Unlock from a's perspective: a must be current for Unlock to take effect.
	// Dispatch until a runs again.
	for s.Current() != a {
		s.Dispatch()
	}
	m.Unlock()

	if m.Owner() != b {
		t.Fatalf("expected hand-off to give ownership directly to the waiting task b; got %v", m.Owner())
	}
	if m.Depth() != 1 {
		t.Fatalf("expected hand-off to reset depth to 1; got %d", m.Depth())
	}
	if b.State != sched.Running && b.State != sched.Ready {
		t.Fatalf("expected b to be woken (Ready or Running); got %v", b.State)
	}
}

func TestMutexUnlockByNonOwnerIsNoOp(t *testing.T) {
	s := newScheduler(t)
	a := runTask(t, s, "a")
	s.Dispatch()

	m := NewMutex(s)
	m.Lock()

	b := runTask(t, s, "b")
	s.Dispatch()
	if s.Current() != b {
		t.Fatalf("expected b to be current")
	}

	m.Unlock() // b is not the owner; must be a no-op
	if m.Owner() != a || m.Depth() != 1 {
		t.Fatalf("expected a to still own the mutex after a non-owner unlock; owner=%v depth=%d", m.Owner(), m.Depth())
	}
}
