package vmm

import (
	"testing"

	"protios/kernel/mem"
	"protios/kernel/mem/pmm"
)

func newTestManager(t *testing.T) (*Manager, *pmm.Allocator) {
	t.Helper()
	ram := NewRAM(16 * mem.Mb)
	alloc := pmm.New(pmm.Frame(0), int(16*mem.Mb/mem.PageSize))
	m := NewManager(ram, alloc)

	err := m.CreateKernelDirectory([]Mapping{
		{VStart: 0, VEnd: uintptr(mem.KernelVirtualBase) - 1, PStart: 0, Perm: FlagWrite},
	})
	if err != nil {
		t.Fatalf("CreateKernelDirectory failed: %v", err)
	}
	return m, alloc
}

func TestTranslateWriteVisibility(t *testing.T) {
	m, _ := newTestManager(t)

	dir, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}

	vaddr := uintptr(mem.KernelVirtualBase) + uintptr(4*mem.Mb)
	if err := m.AllocForRange(dir, vaddr, mem.PageSize, FlagWrite|FlagUser); err != nil {
		t.Fatalf("AllocForRange failed: %v", err)
	}

	paddr := m.Translate(dir, vaddr)
	if paddr == 0 {
		t.Fatal("expected a non-zero physical address for a mapped page")
	}

	m.RAM().Bytes(paddr, 1)[0] = 0x42
	if got := m.RAM().Bytes(paddr, 1)[0]; got != 0x42 {
		t.Fatalf("expected write at paddr to be visible; got %x", got)
	}

	paddr2 := m.Translate(dir, vaddr+10)
	if paddr2 != paddr+10 {
		t.Fatalf("expected offset within page to be preserved: got %x want %x", paddr2, paddr+10)
	}
}

func TestTranslateUnmappedReturnsZero(t *testing.T) {
	m, _ := newTestManager(t)
	dir, _ := m.CreateAddressSpace()

	if p := m.Translate(dir, uintptr(mem.KernelVirtualBase)+uintptr(8*mem.Mb)); p != 0 {
		t.Fatalf("expected unmapped address to translate to 0; got %x", p)
	}
}

func TestCopyAddressSpaceIsolation(t *testing.T) {
	m, _ := newTestManager(t)

	parentDir, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}

	vaddr := uintptr(mem.KernelVirtualBase) + uintptr(4*mem.Mb)
	if err := m.AllocForRange(parentDir, vaddr, mem.PageSize, FlagWrite|FlagUser); err != nil {
		t.Fatalf("AllocForRange failed: %v", err)
	}

	parentPaddr := m.Translate(parentDir, vaddr)
	m.RAM().Bytes(parentPaddr, 4)[0] = 0xAA

	childDir, err := m.CopyAddressSpace(parentDir)
	if err != nil {
		t.Fatalf("CopyAddressSpace failed: %v", err)
	}

	childPaddr := m.Translate(childDir, vaddr)
	if childPaddr == 0 {
		t.Fatal("expected child to have the same virtual page mapped")
	}
	if childPaddr == parentPaddr {
		t.Fatal("expected child's backing frame to be distinct from the parent's")
	}

	if got := m.RAM().Bytes(childPaddr, 1)[0]; got != 0xAA {
		t.Fatalf("expected child to observe the parent's content at copy time; got %x", got)
	}

	// Subsequent writes must not be visible across address spaces.
	m.RAM().Bytes(parentPaddr, 1)[0] = 0xBB
	if got := m.RAM().Bytes(childPaddr, 1)[0]; got != 0xAA {
		t.Fatalf("expected child's page to be unaffected by a parent write after fork; got %x", got)
	}
}

func TestDestroyAddressSpaceFreesFrames(t *testing.T) {
	m, alloc := newTestManager(t)

	before := alloc.FreeFrames()

	dir, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}
	vaddr := uintptr(mem.KernelVirtualBase) + uintptr(4*mem.Mb)
	if err := m.AllocForRange(dir, vaddr, 3*mem.PageSize, FlagWrite|FlagUser); err != nil {
		t.Fatalf("AllocForRange failed: %v", err)
	}

	m.DestroyAddressSpace(dir)

	if got := alloc.FreeFrames(); got != before {
		t.Fatalf("expected all frames to be reclaimed after DestroyAddressSpace; before=%d after=%d", before, got)
	}
}

func TestCopyToAddressSpaceCrossesPageBoundary(t *testing.T) {
	m, _ := newTestManager(t)
	dir, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}

	base := uintptr(mem.KernelVirtualBase) + uintptr(4*mem.Mb)
	// place the destination one byte before a page boundary so the copy
	// is forced to span two distinct frames.
	dst := base + uintptr(mem.PageSize) - 1
	if err := m.AllocForRange(dir, base, 2*mem.PageSize, FlagWrite|FlagUser); err != nil {
		t.Fatalf("AllocForRange failed: %v", err)
	}

	payload := []byte{1, 2, 3, 4}
	src := make([]byte, len(payload))
	copy(src, payload)

	// stage the payload in kernel-window RAM (identity mapped) so it can
	// serve as the "from" physical address, mirroring exec's use of
	// CopyToAddressSpace to stage argv from the current address space.
	stageAddr := uintptr(0x10000)
	copy(m.RAM().Bytes(stageAddr, uintptr(len(payload))), payload)

	if err := m.CopyToAddressSpace(dir, dst, stageAddr, uintptr(len(payload))); err != nil {
		t.Fatalf("CopyToAddressSpace failed: %v", err)
	}

	p1 := m.Translate(dir, dst)
	p2 := m.Translate(dir, dst+1)
	if got := m.RAM().Bytes(p1, 1)[0]; got != payload[0] {
		t.Fatalf("expected first byte %x at the tail of the first page; got %x", payload[0], got)
	}
	if got := m.RAM().Bytes(p2, 3)[0]; got != payload[1] {
		t.Fatalf("expected remaining bytes to continue in the next page; got %x want %x", got, payload[1])
	}
}

func TestAllocForRangeUnwindsOnFailure(t *testing.T) {
	ram := NewRAM(1 * mem.Mb)
	// Only enough frames for the directory, one page table, and a
	// handful of leaves so AllocForRange is forced to exhaust the
	// allocator partway through a multi-page request.
	alloc := pmm.New(pmm.Frame(0), 4)
	m := NewManager(ram, alloc)
	if err := m.CreateKernelDirectory(nil); err != nil {
		t.Fatalf("CreateKernelDirectory failed: %v", err)
	}

	dir, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}

	before := alloc.FreeFrames()
	vaddr := uintptr(mem.KernelVirtualBase)
	if err := m.AllocForRange(dir, vaddr, 16*mem.PageSize, FlagWrite|FlagUser); err == nil {
		t.Fatal("expected AllocForRange to fail when the allocator is exhausted")
	}

	if got := alloc.FreeFrames(); got != before {
		t.Fatalf("expected AllocForRange to free any frames it allocated before failing; before=%d after=%d", before, got)
	}
}
