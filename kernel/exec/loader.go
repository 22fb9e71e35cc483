// Package exec implements kernel/syscall.Execer: loading a flat ELF32
// executable from the VFS into a fresh address space and replacing the
// calling task's program image, grounded on
// original_source/.../core/task.c's load_elf_file/load_phdr/copy_args/
// sys_execve.
package exec

import (
	"encoding/binary"

	"protios/kernel"
	"protios/kernel/fs"
	"protios/kernel/mem"
	"protios/kernel/mem/vmm"
	"protios/kernel/sched"
)

var (
	errOpenFailed = &kernel.Error{Module: "exec", Message: "could not open program image"}
	errBadHeader  = &kernel.Error{Module: "exec", Message: "not a valid ELF executable"}
	errNoSegments = &kernel.Error{Module: "exec", Message: "program has no loadable segments"}
	errLoadFailed = &kernel.Error{Module: "exec", Message: "failed to load program segment"}
)

// defaultEFlags is the EFLAGS image a freshly started task resumes with:
// the reserved bit 1 (always set) plus IF (interrupts enabled),
// mirroring EFLAGS_DEFAULT|EFLAGS_IF.
const defaultEFlags = 0x202

// Loader ties the VFS (to read the program image) to the virtual memory
// manager (to build the new address space) on behalf of execve.
type Loader struct {
	vfs *fs.VFS
	vm  *vmm.Manager
}

// NewLoader creates a Loader.
func NewLoader(vfs *fs.VFS, vm *vmm.Manager) *Loader {
	return &Loader{vfs: vfs, vm: vm}
}

func basename(path string) string {
	i := len(path)
	for i > 0 && path[i-1] != '/' {
		i--
	}
	return path[i:]
}

// Execve loads name's ELF image into a new address space, builds the
// argv image at the top of a fresh user stack, and rewrites t's trap
// frame to resume at the program's entry point with that stack — the
// same "replace, don't return" contract sys_execve has. t's open file
// table survives unchanged (matching the original; execve never closes
// descriptors). The old address space is torn down only once the new
// one is fully built, so a failure midway leaves t running unchanged.
func (l *Loader) Execve(t *sched.Task, name string, argv []string) *kernel.Error {
	oldDir := t.Trap.PageDir

	newDir, err := l.vm.CreateAddressSpace()
	if err != nil {
		return err
	}

	entry, heapStart, lerr := l.loadELF(t, name, newDir)
	if lerr != nil {
		l.vm.DestroyAddressSpace(newDir)
		return lerr
	}

	stackBase := uintptr(mem.TaskStackTop - mem.TaskStackSize)
	if aerr := l.vm.AllocForRange(newDir, stackBase, mem.TaskStackSize, vmm.FlagWrite|vmm.FlagUser); aerr != nil {
		l.vm.DestroyAddressSpace(newDir)
		return aerr
	}

	argBase := uintptr(mem.TaskStackTop - mem.TaskArgSize)
	if werr := l.writeArgs(newDir, argBase, argv); werr != nil {
		l.vm.DestroyAddressSpace(newDir)
		return werr
	}

	t.Name = basename(name)
	t.HeapStart = heapStart
	t.HeapEnd = heapStart

	t.Trap.PageDir = newDir
	t.Trap.EIP = entry
	t.Trap.ESP = uint32(argBase)
	t.Trap.EAX, t.Trap.EBX, t.Trap.ECX, t.Trap.EDX = 0, 0, 0, 0
	t.Trap.ESI, t.Trap.EDI, t.Trap.EBP = 0, 0, 0
	t.Trap.EFlags = defaultEFlags

	l.vm.DestroyAddressSpace(oldDir)
	return nil
}

// loadELF opens name through the VFS (using t's own descriptor table;
// this works across the page-table switch since file handles are not
// address-space bound), validates the ELF header, and loads every
// PT_LOAD segment whose vaddr is at or above mem.TaskBase into dir.
func (l *Loader) loadELF(t *sched.Task, name string, dir uintptr) (entry uint32, heapStart uintptr, kerr *kernel.Error) {
	fd, operr := l.vfs.Open(t, name, fs.ORDONLY)
	if operr != nil {
		return 0, 0, errOpenFailed
	}
	defer l.vfs.Close(t, fd)

	hdrBuf := make([]byte, ehdrSize)
	if n, rerr := l.vfs.Read(t, fd, hdrBuf); rerr != nil || n < ehdrSize {
		return 0, 0, errBadHeader
	}
	ehdr, ok := parseEhdr(hdrBuf)
	if !ok || !ehdr.valid() {
		return 0, 0, errBadHeader
	}

	loaded := false
	phBuf := make([]byte, phdrSize)
	for i := 0; i < int(ehdr.phnum); i++ {
		off := ehdr.phoff + uint32(i)*uint32(ehdr.phentsize)
		if serr := l.vfs.Seek(t, fd, off); serr != nil {
			return 0, 0, errLoadFailed
		}
		n, rerr := l.vfs.Read(t, fd, phBuf)
		if rerr != nil || n < phdrSize {
			return 0, 0, errLoadFailed
		}
		phdr, ok := parsePhdr(phBuf)
		if !ok {
			return 0, 0, errLoadFailed
		}
		if phdr.typ != ptLoad || phdr.vaddr < mem.TaskBase {
			continue
		}

		if lerr := l.loadSegment(t, fd, phdr, dir); lerr != nil {
			return 0, 0, lerr
		}
		heapStart = uintptr(phdr.vaddr + phdr.memsz)
		loaded = true
	}
	if !loaded {
		return 0, 0, errNoSegments
	}
	return ehdr.entry, heapStart, nil
}

// loadSegment maps phdr's [vaddr, vaddr+memsz) range (memsz, not filesz
// — bss beyond the file's content is left zeroed by the fresh frames
// AllocForRange hands out) and reads phdr.filesz bytes of file content
// directly into those pages, page by page, the same direct-to-physical
// write load_phdr does ("the page used here is current, not other").
func (l *Loader) loadSegment(t *sched.Task, fd int, phdr elf32Phdr, dir uintptr) *kernel.Error {
	if phdr.vaddr%uint32(mem.PageSize) != 0 {
		return errLoadFailed
	}
	if aerr := l.vm.AllocForRange(dir, uintptr(phdr.vaddr), mem.Size(phdr.memsz), vmm.FlagWrite|vmm.FlagUser); aerr != nil {
		return errLoadFailed
	}
	if serr := l.vfs.Seek(t, fd, phdr.offset); serr != nil {
		return errLoadFailed
	}

	vaddr := uintptr(phdr.vaddr)
	remaining := int(phdr.filesz)
	for remaining > 0 {
		paddr := l.vm.Translate(dir, vaddr)
		if paddr == 0 {
			return errLoadFailed
		}
		chunk := int(mem.PageSize) - int(paddr%uintptr(mem.PageSize))
		if chunk > remaining {
			chunk = remaining
		}

		n, rerr := l.vfs.Read(t, fd, l.vm.RAM().Bytes(paddr, uintptr(chunk)))
		if rerr != nil || n < chunk {
			return errLoadFailed
		}

		remaining -= chunk
		vaddr += uintptr(chunk)
	}
	return nil
}

// writeArgs lays out argc, an argv pointer table, and the argument
// strings themselves starting at base: a single 4-byte argc word, then
// the (argc+1)-entry pointer table with its NULL terminator, then the
// string bytes. The header is argc alone; no return-address word and no
// separate argv-pointer word are written. Unlike copy_args, argv here is
// already a []string (kernel/syscall's Memory.ReadCStringArray resolved
// it before calling Execve), so there is no "current address space" to
// stage from; writeBytes/writeUint32 write straight into dir's own
// freshly mapped pages instead of routing through
// vmm.Manager.CopyToAddressSpace (that call exists for copying between
// two address spaces' physical pages, which this is not).
func (l *Loader) writeArgs(dir uintptr, base uintptr, argv []string) *kernel.Error {
	argc := len(argv)
	tableOff := base + 4
	strOff := tableOff + uintptr(4*(argc+1))

	offsets := make([]uint32, argc)
	cur := strOff
	for i, s := range argv {
		b := append([]byte(s), 0)
		if werr := l.writeBytes(dir, cur, b); werr != nil {
			return werr
		}
		offsets[i] = uint32(cur)
		cur += uintptr(len(b))
	}

	for i, off := range offsets {
		if werr := l.writeUint32(dir, tableOff+uintptr(4*i), off); werr != nil {
			return werr
		}
	}
	if werr := l.writeUint32(dir, tableOff+uintptr(4*argc), 0); werr != nil {
		return werr
	}
	return l.writeUint32(dir, base, uint32(argc))
}

func (l *Loader) writeBytes(dir uintptr, to uintptr, buf []byte) *kernel.Error {
	for len(buf) > 0 {
		paddr := l.vm.Translate(dir, to)
		if paddr == 0 {
			return errLoadFailed
		}
		chunk := int(mem.PageSize) - int(paddr%uintptr(mem.PageSize))
		if chunk > len(buf) {
			chunk = len(buf)
		}
		copy(l.vm.RAM().Bytes(paddr, uintptr(chunk)), buf[:chunk])
		buf = buf[chunk:]
		to += uintptr(chunk)
	}
	return nil
}

func (l *Loader) writeUint32(dir uintptr, to uintptr, v uint32) *kernel.Error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return l.writeBytes(dir, to, buf)
}
