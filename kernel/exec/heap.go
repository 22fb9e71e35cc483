package exec

import (
	"protios/kernel"
	"protios/kernel/mem"
	"protios/kernel/mem/vmm"
	"protios/kernel/sched"
)

// HeapManager implements kernel/syscall.HeapGrower: it extends a task's
// heap by incr bytes, mirroring sys_sbrk's page-rounding — growth that
// fits within the already-mapped partial page at the current break costs
// no allocation; only the portion crossing into a fresh page does.
type HeapManager struct {
	vm *vmm.Manager
}

// NewHeapManager creates a HeapManager.
func NewHeapManager(vm *vmm.Manager) *HeapManager {
	return &HeapManager{vm: vm}
}

// GrowHeap extends t's heap by incr (which must be positive; callers
// filter incr<=0 before reaching here, as kernel/syscall's sysSbrk does).
func (h *HeapManager) GrowHeap(t *sched.Task, incr int) *kernel.Error {
	start := t.HeapEnd
	end := start + uintptr(incr)

	allocStart := start
	if off := start % uintptr(mem.PageSize); off != 0 {
		allocStart = start - off + uintptr(mem.PageSize)
	}

	if allocStart < end {
		if err := h.vm.AllocForRange(t.Trap.PageDir, allocStart, mem.Size(end-allocStart), vmm.FlagWrite|vmm.FlagUser); err != nil {
			return err
		}
	}

	t.HeapEnd = end
	return nil
}
