package mem

// These constants describe the simulated 32-bit guest this kernel
// targets, not the host the test suite happens to run on; unlike the
// teacher (whose host build arch equals its target), this repo is
// exercised by ordinary `go test` on whatever host GOARCH is available,
// so the values below are not build-tag-gated to GOARCH=386.
const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 2

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageTableEntries is the number of entries in a page directory or a
	// page table on the 32-bit, non-PAE paging layout used by this
	// kernel.
	PageTableEntries = 1024

	// KernelVirtualBase is the virtual address at which the kernel image
	// and its data structures are mapped in every address space.
	KernelVirtualBase = 0x80000000

	// TaskBase is the lowest virtual address a loaded program's segments
	// may occupy; an ELF program header below it is rejected the way
	// load_elf_file rejects a p_vaddr below MEMORY_TASK_BASE. It sits at
	// the bottom of the per-address-space user window vmm.Manager hands
	// each task (everything at or above KernelVirtualBase; everything
	// below it is the identity-mapped window every address space shares).
	TaskBase = KernelVirtualBase

	// TaskStackTop is the top of the mapped region exec sets up for a
	// task's user stack, near the top of the 32-bit address space with a
	// trailing unmapped guard page.
	TaskStackTop = 0xFFFFF000

	// TaskStackSize is the total size of that mapped region.
	TaskStackSize = 64 * 1024

	// TaskArgSize carves out the top slice of the mapped stack region for
	// the argc/argv image copy_args builds, mirroring MEM_TASK_ARG_SIZE:
	// the real stack pointer starts just below it, inside the remaining
	// (TaskStackSize - TaskArgSize) bytes.
	TaskArgSize = 4 * 1024
)
