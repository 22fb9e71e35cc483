package sync

import (
	"protios/kernel/list"
	"protios/kernel/sched"
)

// Semaphore is a non-negative counter with a FIFO wait list, layered on
// kernel/sched for blocking and waking.
type Semaphore struct {
	s *sched.Scheduler

	count    int
	waitList list.List[*sched.Task]
}

// NewSemaphore creates a Semaphore with the given initial count.
func NewSemaphore(s *sched.Scheduler, initialCount int) *Semaphore {
	return &Semaphore{s: s, count: initialCount}
}

// Count returns the semaphore's current value. Per spec.md §8, a
// non-empty wait list implies a count of 0.
func (sem *Semaphore) Count() int {
	return sem.count
}

// Wait decrements the count if positive; otherwise it blocks the
// calling task on the semaphore's wait list.
func (sem *Semaphore) Wait() {
	if sem.count > 0 {
		sem.count--
		return
	}

	curr := sem.s.Current()
	sem.waitList.PushBack(curr.WaitNode())
	sem.s.Block(curr)
	sem.s.Dispatch()
}

// Notify wakes the head of the wait list if any task is waiting;
// otherwise it increments the count.
func (sem *Semaphore) Notify() {
	if node := sem.waitList.PopFront(); node != nil {
		sem.s.Wake(node.Value())
		return
	}
	sem.count++
}
