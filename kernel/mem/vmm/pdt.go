package vmm

import (
	"protios/kernel"
	"protios/kernel/mem"
	"protios/kernel/mem/pmm"
)

// Permission bits for page directory and page table entries, matching
// the x86 PDE/PTE layout bit-for-bit (present, read/write, user/kernel).
const (
	FlagPresent = 1 << 0
	FlagWrite   = 1 << 1
	FlagUser    = 1 << 2
)

const (
	entrySize       = 4
	dirTableEntries = mem.PageTableEntries
)

func pdeIndex(vaddr uintptr) uintptr { return (vaddr >> 22) & 0x3FF }
func pteIndex(vaddr uintptr) uintptr { return (vaddr >> 12) & 0x3FF }

// Manager ties together a physical frame allocator and a simulated RAM
// arena and exposes the per-address-space operations every task needs:
// creating a fresh user address space that shares the kernel window,
// destroying one, deep-copying one (for fork), translating a virtual
// address, mapping new pages into one, and copying bytes across address
// spaces (for exec's argv image).
type Manager struct {
	ram  *RAM
	pmm  *pmm.Allocator
	kdir uintptr // physical address of the canonical kernel page directory
}

// NewManager creates a Manager backed by ram and alloc. CreateKernelDirectory
// must be called once before any user address space is created.
func NewManager(ram *RAM, alloc *pmm.Allocator) *Manager {
	return &Manager{ram: ram, pmm: alloc}
}

// Mapping describes one region that CreateKernelDirectory establishes as
// an identity mapping shared by every address space (the "kernel
// window").
type Mapping struct {
	VStart, VEnd uintptr
	PStart       uintptr
	Perm         uint32
}

// CreateKernelDirectory builds the canonical kernel page directory from a
// list of identity-mapping regions (kernel text, data, the extended RAM
// window, ...), analogous to create_kernel_table. Every user address
// space later created shares these directory entries by value-copy (not
// by copying the page tables themselves), so a kernel-side page table
// edit is visible from every address space without an explicit broadcast.
func (m *Manager) CreateKernelDirectory(mappings []Mapping) *kernel.Error {
	dirFrame, err := m.pmm.AllocForSize(mem.PageSize)
	if err != nil {
		return err
	}
	dir := dirFrame.Address()
	m.ram.Memset(dir, 0, uintptr(mem.PageSize))
	m.kdir = dir

	for _, mm := range mappings {
		vstart := down2(mm.VStart)
		vend := up2(mm.VEnd + 1)
		count := int((vend - vstart) / uintptr(mem.PageSize))
		if kerr := m.createMap(dir, vstart, mm.PStart, count, mm.Perm); kerr != nil {
			return kerr
		}
	}
	return nil
}

func down2(v uintptr) uintptr {
	return v &^ (uintptr(mem.PageSize) - 1)
}

func up2(v uintptr) uintptr {
	return (v + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
}

// findPTE walks dir looking for the PTE governing vaddr. If the covering
// page table does not exist and alloc is true, a fresh one is allocated
// and installed (user-writable, as the original does — the caller's own
// createMap call then narrows the leaf's permissions).
func (m *Manager) findPTE(dir uintptr, vaddr uintptr, alloc bool) (uintptr, *kernel.Error) {
	pdeAddr := dir + pdeIndex(vaddr)*entrySize
	pde := m.ram.Uint32(pdeAddr)

	var tableAddr uintptr
	if pde&FlagPresent != 0 {
		tableAddr = uintptr(pde &^ 0xFFF)
	} else {
		if !alloc {
			return 0, ErrNoSuchPageTable
		}
		f, err := m.pmm.AllocForSize(mem.PageSize)
		if err != nil {
			return 0, err
		}
		tableAddr = f.Address()
		m.ram.Memset(tableAddr, 0, uintptr(mem.PageSize))
		m.ram.SetUint32(pdeAddr, uint32(tableAddr)|FlagPresent|FlagWrite|FlagUser)
	}

	return tableAddr + pteIndex(vaddr)*entrySize, nil
}

// createMap establishes count consecutive vaddr->paddr mappings with the
// given permission bits. It fails if any target PTE is already present.
func (m *Manager) createMap(dir uintptr, vaddr, paddr uintptr, count int, perm uint32) *kernel.Error {
	for i := 0; i < count; i++ {
		pteAddr, err := m.findPTE(dir, vaddr, true)
		if err != nil {
			return err
		}
		if m.ram.Uint32(pteAddr)&FlagPresent != 0 {
			return ErrAlreadyMapped
		}
		m.ram.SetUint32(pteAddr, uint32(paddr)|perm|FlagPresent)

		vaddr += uintptr(mem.PageSize)
		paddr += uintptr(mem.PageSize)
	}
	return nil
}

// userPDEStart is the first page-directory index belonging to the user
// window; every index below it is kernel window and is always a shared
// copy of the canonical kernel directory's entry.
func userPDEStart() uintptr {
	return pdeIndex(mem.KernelVirtualBase)
}

// CreateAddressSpace allocates a fresh page directory and copies the
// kernel-window entries from the canonical directory into it. The
// returned value is the physical address of the new directory (the value
// that would be loaded into CR3).
func (m *Manager) CreateAddressSpace() (uintptr, *kernel.Error) {
	frame, err := m.pmm.AllocForSize(mem.PageSize)
	if err != nil {
		return 0, err
	}
	dir := frame.Address()
	m.ram.Memset(dir, 0, uintptr(mem.PageSize))

	start := userPDEStart()
	for i := uintptr(0); i < start; i++ {
		v := m.ram.Uint32(m.kdir + i*entrySize)
		m.ram.SetUint32(dir+i*entrySize, v)
	}
	return dir, nil
}

// DestroyAddressSpace walks the user window of dir, frees every present
// leaf frame, every present page table, and finally the directory
// itself.
func (m *Manager) DestroyAddressSpace(dir uintptr) {
	start := userPDEStart()
	for i := start; i < dirTableEntries; i++ {
		pde := m.ram.Uint32(dir + i*entrySize)
		if pde&FlagPresent == 0 {
			continue
		}
		table := uintptr(pde &^ 0xFFF)

		for j := uintptr(0); j < dirTableEntries; j++ {
			pte := m.ram.Uint32(table + j*entrySize)
			if pte&FlagPresent == 0 {
				continue
			}
			m.pmm.FreePages(pmm.FrameFromAddress(uintptr(pte&^0xFFF)), 1)
		}
		m.pmm.FreePages(pmm.FrameFromAddress(table), 1)
	}
	m.pmm.FreePages(pmm.FrameFromAddress(dir), 1)
}

// CopyAddressSpace deep-copies dir's user window: a fresh frame is
// allocated for every present source page, its contents copied, and it
// is installed in the new directory with the source's permission bits.
// This is an eager clone (spec.md's Non-goals exclude copy-on-write), so
// parent and child observe identical content at the moment of the copy
// but no writes afterward.
func (m *Manager) CopyAddressSpace(dir uintptr) (uintptr, *kernel.Error) {
	newDir, err := m.CreateAddressSpace()
	if err != nil {
		return 0, err
	}

	start := userPDEStart()
	for i := start; i < dirTableEntries; i++ {
		pde := m.ram.Uint32(dir + i*entrySize)
		if pde&FlagPresent == 0 {
			continue
		}
		table := uintptr(pde &^ 0xFFF)

		for j := uintptr(0); j < dirTableEntries; j++ {
			pte := m.ram.Uint32(table + j*entrySize)
			if pte&FlagPresent == 0 {
				continue
			}
			srcPage := uintptr(pte &^ 0xFFF)
			perm := pte & 0x1FF &^ FlagPresent

			frame, aerr := m.pmm.AllocForSize(mem.PageSize)
			if aerr != nil {
				m.DestroyAddressSpace(newDir)
				return 0, aerr
			}
			newPage := frame.Address()

			vaddr := (i << 22) | (j << 12)
			if cerr := m.createMap(newDir, vaddr, newPage, 1, perm); cerr != nil {
				m.DestroyAddressSpace(newDir)
				return 0, cerr
			}
			m.ram.Memcopy(newPage, srcPage, uintptr(mem.PageSize))
		}
	}

	return newDir, nil
}

// Translate returns the physical address corresponding to vaddr within
// dir, or 0 if vaddr is not mapped.
func (m *Manager) Translate(dir uintptr, vaddr uintptr) uintptr {
	pteAddr, err := m.findPTE(dir, vaddr, false)
	if err != nil {
		return 0
	}
	pte := m.ram.Uint32(pteAddr)
	if pte&FlagPresent == 0 {
		return 0
	}
	return uintptr(pte&^0xFFF) + (vaddr & (uintptr(mem.PageSize) - 1))
}

// CopyToAddressSpace copies size bytes from physical address from (in
// the caller's current address space) into virtual address to within
// dir, honoring page boundaries. Used by exec to write the argv image
// into a child address space before switching to it.
func (m *Manager) CopyToAddressSpace(dir uintptr, to uintptr, from uintptr, size uintptr) *kernel.Error {
	for size > 0 {
		toPaddr := m.Translate(dir, to)
		if toPaddr == 0 {
			return ErrNoSuchPageTable
		}

		offset := toPaddr & (uintptr(mem.PageSize) - 1)
		chunk := uintptr(mem.PageSize) - offset
		if chunk > size {
			chunk = size
		}

		m.ram.Memcopy(toPaddr, from, chunk)

		size -= chunk
		to += chunk
		from += chunk
	}
	return nil
}

// AllocForRange rounds vaddr down and size up to whole pages, allocates
// that many frames, and maps them into dir with the given permission
// bits. On failure, any frames already allocated by this call are freed.
func (m *Manager) AllocForRange(dir uintptr, vaddr uintptr, size mem.Size, perm uint32) *kernel.Error {
	pageCount := int(up2(vaddr+uintptr(size)) - down2(vaddr))
	pageCount /= int(mem.PageSize)
	cur := down2(vaddr)

	for i := 0; i < pageCount; i++ {
		frame, err := m.pmm.AllocForSize(mem.PageSize)
		if err != nil {
			if i > 0 {
				m.freeRange(dir, down2(vaddr), i)
			}
			return err
		}
		m.ram.Memset(frame.Address(), 0, uintptr(mem.PageSize))
		if err := m.createMap(dir, cur, frame.Address(), 1, perm); err != nil {
			m.pmm.FreePages(frame, 1)
			if i > 0 {
				m.freeRange(dir, down2(vaddr), i)
			}
			return err
		}
		cur += uintptr(mem.PageSize)
	}
	return nil
}

// freeRange frees count mapped pages starting at vaddr within dir,
// clearing their PTEs, and frees any user-window page table left with no
// present entry. Used to unwind a partially-successful AllocForRange.
func (m *Manager) freeRange(dir uintptr, vaddr uintptr, count int) {
	for i := 0; i < count; i++ {
		pteAddr, err := m.findPTE(dir, vaddr, false)
		if err == nil {
			pte := m.ram.Uint32(pteAddr)
			if pte&FlagPresent != 0 {
				m.pmm.FreePages(pmm.FrameFromAddress(uintptr(pte&^0xFFF)), 1)
			}
			m.ram.SetUint32(pteAddr, 0)

			table := pteAddr &^ 0xFFF
			empty := true
			for j := uintptr(0); j < dirTableEntries && empty; j++ {
				empty = m.ram.Uint32(table+j*entrySize)&FlagPresent == 0
			}
			if empty && pdeIndex(vaddr) >= userPDEStart() {
				m.pmm.FreePages(pmm.FrameFromAddress(table), 1)
				m.ram.SetUint32(dir+pdeIndex(vaddr)*entrySize, 0)
			}
		}
		vaddr += uintptr(mem.PageSize)
	}
}

// RAM exposes the backing simulated RAM arena so higher layers (disk
// driver staging buffers, ELF loading) can read/write physical memory
// directly.
func (m *Manager) RAM() *RAM {
	return m.ram
}
