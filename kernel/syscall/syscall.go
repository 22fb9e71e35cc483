// Package syscall implements the fixed system-call dispatch table:
// msleep/getpid/printmsg/fork/execve/yield/wait/exit plus the POSIX-
// shaped file calls, grounded on original_source/.../core/syscall.c
// (do_handler_syscall's bounds-checked table lookup) and
// applib/lib_syscall.h (the call surface spec.md §6 pins the ids for).
package syscall

import (
	"protios/kernel"
	"protios/kernel/fs"
	"protios/kernel/kfmt"
	"protios/kernel/sched"
)

// Call ids 0-7, matching spec.md §6.
const (
	Msleep = iota
	Getpid
	Printmsg
	Fork
	Execve
	Yield
	Wait
	Exit
)

// Call ids 10-23, the POSIX-shaped file calls. 8 and 9 are reserved and
// never populated in the table, exactly like any id the original leaves
// out of its designated-initializer sys_table.
const (
	Open = iota + 10
	Read
	Write
	Close
	Lseek
	Isatty
	Sbrk
	Fstat
	Dup
	Ioctl
	Opendir
	Readdir
	Closedir
	Unlink
)

const tableSize = Unlink + 1

// Frame is the decoded syscall request a trap handler would assemble
// from the interrupt stack: the call id, up to four word arguments, and
// the slot its return value is written back into (frame->eax in the
// original).
type Frame struct {
	ID                     int
	Arg0, Arg1, Arg2, Arg3 uintptr
	Result                 int
}

// Memory is the "copy to/from the calling task's address space"
// contract a handler needs to resolve string and buffer arguments from
// their raw word-sized addresses. A real implementation would walk the
// task's page directory; building that user-facing copy path is out of
// scope (spec.md excludes user programs and the syscall stub library),
// so this models the step abstractly, the same way kernel/driver/ata's
// PortIO models register access.
type Memory interface {
	ReadCString(addr uintptr) (string, *kernel.Error)
	ReadCStringArray(addr uintptr) ([]string, *kernel.Error)
	ReadBytes(addr uintptr, n int) ([]byte, *kernel.Error)
	WriteBytes(addr uintptr, buf []byte) *kernel.Error
}

// Execer replaces a task's program image for execve; kernel/exec's Loader
// satisfies it.
type Execer interface {
	Execve(t *sched.Task, name string, argv []string) *kernel.Error
}

// HeapGrower backs sbrk: it extends t's heap by incr bytes (allocating
// pages lazily as the break crosses page boundaries). It returns only an
// error; sysSbrk itself reports the break's value before the extension.
type HeapGrower interface {
	GrowHeap(t *sched.Task, incr int) *kernel.Error
}

// Dispatcher holds everything a syscall handler needs: the scheduler,
// the mounted VFS, the memory-copy and exec/heap adapters, the tick
// duration Msleep converts milliseconds against, and the init task
// Exit reparents orphans to.
type Dispatcher struct {
	s      *sched.Scheduler
	vfs    *fs.VFS
	mem    Memory
	exec   Execer
	heap   HeapGrower
	init   *sched.Task
	tickMs int

	dirs []fs.Dir
}

// New creates a Dispatcher. exec and heap may be nil; execve/sbrk then
// always fail, which is useful in tests exercising only the other
// calls.
func New(s *sched.Scheduler, vfs *fs.VFS, mem Memory, exec Execer, heap HeapGrower, initTask *sched.Task, tickMs int) *Dispatcher {
	return &Dispatcher{s: s, vfs: vfs, mem: mem, exec: exec, heap: heap, init: initTask, tickMs: tickMs}
}

// Dispatch looks up f.ID in the fixed handler table and runs it, writing
// its result into f.Result. An id outside the table (or landing on one
// of the table's unpopulated slots) is logged and resolves to -1,
// mirroring do_handler_syscall exactly.
func (d *Dispatcher) Dispatch(t *sched.Task, f *Frame) {
	if f.ID >= 0 && f.ID < tableSize {
		if handler := handlerTable[f.ID]; handler != nil {
			f.Result = handler(d, t, f)
			return
		}
	}
	kfmt.Printf("task: %s, unknown syscall: %d\n", t.Name, f.ID)
	f.Result = -1
}

type handlerFn func(d *Dispatcher, t *sched.Task, f *Frame) int

var handlerTable = [tableSize]handlerFn{
	Msleep:   sysMsleep,
	Getpid:   sysGetpid,
	Printmsg: sysPrintmsg,
	Fork:     sysFork,
	Execve:   sysExecve,
	Yield:    sysYield,
	Wait:     sysWait,
	Exit:     sysExit,

	Open:     sysOpen,
	Read:     sysRead,
	Write:    sysWrite,
	Close:    sysClose,
	Lseek:    sysLseek,
	Isatty:   sysIsatty,
	Sbrk:     sysSbrk,
	Fstat:    sysFstat,
	Dup:      sysDup,
	Ioctl:    sysIoctl,
	Opendir:  sysOpendir,
	Readdir:  sysReaddir,
	Closedir: sysClosedir,
	Unlink:   sysUnlink,
}

func sysMsleep(d *Dispatcher, t *sched.Task, f *Frame) int {
	d.s.Msleep(int(f.Arg0), d.tickMs)
	return 0
}

func sysGetpid(d *Dispatcher, t *sched.Task, f *Frame) int {
	return int(t.Pid)
}

func sysPrintmsg(d *Dispatcher, t *sched.Task, f *Frame) int {
	format, err := d.mem.ReadCString(f.Arg0)
	if err != nil {
		return -1
	}
	kfmt.Printf(format, int(f.Arg1))
	return 0
}

func sysFork(d *Dispatcher, t *sched.Task, f *Frame) int {
	child, err := d.s.Fork(t)
	if err != nil {
		return -1
	}
	return int(child.Pid)
}

func sysExecve(d *Dispatcher, t *sched.Task, f *Frame) int {
	if d.exec == nil {
		return -1
	}
	name, err := d.mem.ReadCString(f.Arg0)
	if err != nil {
		return -1
	}
	argv, err := d.mem.ReadCStringArray(f.Arg1)
	if err != nil {
		return -1
	}
	if err := d.exec.Execve(t, name, argv); err != nil {
		return -1
	}
	return 0
}

func sysYield(d *Dispatcher, t *sched.Task, f *Frame) int {
	d.s.Yield()
	return 0
}

// sysWait mirrors sys_wait's "reap a zombie child, else block" contract.
// When it blocks, there is no real suspend/resume trampoline to hide
// that from the caller (spec.md excludes the syscall stub library), so
// the driving loop re-issues the same call once the task is woken; the
// 0 returned in that case is not a pid, and the dispatcher itself never
// retries.
func sysWait(d *Dispatcher, t *sched.Task, f *Frame) int {
	pid, status, blocked, err := d.s.Wait(t)
	if blocked {
		return 0
	}
	if err != nil {
		return -1
	}
	if err := d.mem.WriteBytes(f.Arg0, encodeInt32(status)); err != nil {
		return -1
	}
	return int(pid)
}

func sysExit(d *Dispatcher, t *sched.Task, f *Frame) int {
	d.s.Exit(t, int(f.Arg0), d.init)
	return 0
}

func sysOpen(d *Dispatcher, t *sched.Task, f *Frame) int {
	name, err := d.mem.ReadCString(f.Arg0)
	if err != nil {
		return -1
	}
	fd, kerr := d.vfs.Open(t, name, fs.OpenFlag(f.Arg1))
	if kerr != nil {
		return -1
	}
	return fd
}

func sysRead(d *Dispatcher, t *sched.Task, f *Frame) int {
	buf := make([]byte, int(f.Arg2))
	n, err := d.vfs.Read(t, int(f.Arg0), buf)
	if err != nil {
		return -1
	}
	if werr := d.mem.WriteBytes(f.Arg1, buf[:n]); werr != nil {
		return -1
	}
	return n
}

func sysWrite(d *Dispatcher, t *sched.Task, f *Frame) int {
	buf, err := d.mem.ReadBytes(f.Arg1, int(f.Arg2))
	if err != nil {
		return -1
	}
	n, werr := d.vfs.Write(t, int(f.Arg0), buf)
	if werr != nil {
		return -1
	}
	return n
}

func sysClose(d *Dispatcher, t *sched.Task, f *Frame) int {
	if err := d.vfs.Close(t, int(f.Arg0)); err != nil {
		return -1
	}
	return 0
}

// sysLseek supports whence=0 (absolute) only, per spec.md §6.
func sysLseek(d *Dispatcher, t *sched.Task, f *Frame) int {
	const seekSet = 0
	if int(f.Arg2) != seekSet {
		return -1
	}
	if err := d.vfs.Seek(t, int(f.Arg0), uint32(f.Arg1)); err != nil {
		return -1
	}
	return int(f.Arg1)
}

func sysIsatty(d *Dispatcher, t *sched.Task, f *Frame) int {
	if d.vfs.IsTTY(t, int(f.Arg0)) {
		return 1
	}
	return 0
}

// sysSbrk returns the break's value before applying incr; a zero incr
// reports the current break without allocating anything.
func sysSbrk(d *Dispatcher, t *sched.Task, f *Frame) int {
	prev := t.HeapEnd
	incr := int(int32(f.Arg0))
	if incr > 0 {
		if d.heap == nil {
			return -1
		}
		if err := d.heap.GrowHeap(t, incr); err != nil {
			return -1
		}
	}
	return int(prev)
}

func sysFstat(d *Dispatcher, t *sched.Task, f *Frame) int {
	st, err := d.vfs.Fstat(t, int(f.Arg0))
	if err != nil {
		return -1
	}
	if werr := d.mem.WriteBytes(f.Arg1, encodeStat(st)); werr != nil {
		return -1
	}
	return 0
}

func sysDup(d *Dispatcher, t *sched.Task, f *Frame) int {
	nfd, err := d.vfs.Dup(t, int(f.Arg0))
	if err != nil {
		return -1
	}
	return nfd
}

func sysIoctl(d *Dispatcher, t *sched.Task, f *Frame) int {
	ret, err := d.vfs.Ioctl(t, int(f.Arg0), int(f.Arg1), int(f.Arg2), int(f.Arg3))
	if err != nil {
		return -1
	}
	return ret
}

// allocDir installs dir in the lowest free directory-handle slot,
// standing in for the original's user-allocated DIR* (opaque handles
// instead of a raw pointer the kernel fills in place, since there is no
// modeled user address space to write one into).
func (d *Dispatcher) allocDir(dir fs.Dir) int {
	for i, slot := range d.dirs {
		if slot == nil {
			d.dirs[i] = dir
			return i
		}
	}
	d.dirs = append(d.dirs, dir)
	return len(d.dirs) - 1
}

func (d *Dispatcher) dirAt(h int) fs.Dir {
	if h < 0 || h >= len(d.dirs) {
		return nil
	}
	return d.dirs[h]
}

func sysOpendir(d *Dispatcher, t *sched.Task, f *Frame) int {
	name, err := d.mem.ReadCString(f.Arg0)
	if err != nil {
		return -1
	}
	dir, kerr := d.vfs.Opendir(name)
	if kerr != nil {
		return -1
	}
	return d.allocDir(dir)
}

func sysReaddir(d *Dispatcher, t *sched.Task, f *Frame) int {
	dir := d.dirAt(int(f.Arg0))
	if dir == nil {
		return -1
	}
	entry, ok := dir.Readdir()
	if !ok {
		return -1
	}
	if err := d.mem.WriteBytes(f.Arg1, encodeDirent(entry)); err != nil {
		return -1
	}
	return 0
}

func sysClosedir(d *Dispatcher, t *sched.Task, f *Frame) int {
	h := int(f.Arg0)
	dir := d.dirAt(h)
	if dir == nil {
		return -1
	}
	dir.Close()
	d.dirs[h] = nil
	return 0
}

func sysUnlink(d *Dispatcher, t *sched.Task, f *Frame) int {
	name, err := d.mem.ReadCString(f.Arg0)
	if err != nil {
		return -1
	}
	if kerr := d.vfs.Unlink(name); kerr != nil {
		return -1
	}
	return 0
}
