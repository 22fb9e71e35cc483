// Package fs implements the virtual file system layer: a mount table
// routing paths to backing file systems, and the open/read/write/seek/
// close/dup/ioctl/fstat/isatty/opendir/readdir/closedir/unlink operations
// a task's descriptor table is built from. Grounded on
// original_source/.../fs/fs.c.
package fs

import (
	"protios/kernel"
	"protios/kernel/sched"
	ksync "protios/kernel/sync"
)

// OpenFlag mirrors the low-bit access mode plus the O_CREAT/O_TRUNC bits
// a caller passes to Open.
type OpenFlag int

const (
	ORDONLY OpenFlag = 0x0
	OWRONLY OpenFlag = 0x1
	ORDWR   OpenFlag = 0x2
	OCREAT  OpenFlag = 0x200
	OTRUNC  OpenFlag = 0x400

	accessModeMask OpenFlag = 0x3
)

// FileType classifies what sort of thing a descriptor refers to.
type FileType int

const (
	FileUnknown FileType = iota
	FileTTY
	FileNormal
	FileDir
)

// Stat is the subset of file metadata fstat exposes.
type Stat struct {
	Size int64
	Type FileType
}

// DirEntry is one record yielded by Dir.Readdir.
type DirEntry struct {
	Index int
	Name  string
	Type  FileType
	Size  uint32
}

var (
	ErrBadFD       = &kernel.Error{Module: "fs", Message: "bad file descriptor"}
	ErrNotOpen     = &kernel.Error{Module: "fs", Message: "file not opened"}
	ErrWriteOnly   = &kernel.Error{Module: "fs", Message: "file is write-only"}
	ErrReadOnly    = &kernel.Error{Module: "fs", Message: "file is read-only"}
	ErrNoSpace     = &kernel.Error{Module: "fs", Message: "no free descriptor"}
	ErrNotFound    = &kernel.Error{Module: "fs", Message: "no such file or directory"}
	ErrNoMount     = &kernel.Error{Module: "fs", Message: "no such mount point"}
	ErrNoRoot      = &kernel.Error{Module: "fs", Message: "no root file system mounted"}
	ErrMounted     = &kernel.Error{Module: "fs", Message: "already mounted"}
	ErrUnsupported = &kernel.Error{Module: "fs", Message: "operation not supported by this file system"}
)

// Handle is the per-open-file contract a backing FileSystem returns from
// Open; it plays the role of file_t plus fs_op_t's per-file operations
// bundled together.
type Handle interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(buf []byte) (int, *kernel.Error)
	Seek(offset uint32, fromStart bool) *kernel.Error
	Stat() (Stat, *kernel.Error)
	Ioctl(cmd, arg0, arg1 int) (int, *kernel.Error)
	IsTTY() bool
	Close()
}

// Dir is an open directory scan handle, returned by FileSystem.Opendir.
type Dir interface {
	Readdir() (DirEntry, bool)
	Close()
}

// FileSystem is what a mounted backing store (fat16, devfs) implements.
type FileSystem interface {
	Open(path string, flags OpenFlag) (Handle, *kernel.Error)
	Opendir(path string) (Dir, *kernel.Error)
	Unlink(path string) *kernel.Error
}

// openFile is the fd-table entry installed in a task's Files slot; it
// adds reference counting over a Handle so dup/fork-shared descriptors
// close the underlying handle only once.
type openFile struct {
	handle Handle
	mode   OpenFlag
	ref    int
	mount  *mountEntry
}

func (f *openFile) Retain() { f.ref++ }

func (f *openFile) Release() {
	f.ref--
	if f.ref <= 0 {
		f.handle.Close()
	}
}

type mountEntry struct {
	point string
	fs    FileSystem
	// mutex serializes all operations against fs when non-nil, mirroring
	// fs_protect/fs_unprotect's fs->mutex (nil for devfs, set for fat16's
	// shared sector-cache buffer).
	mutex *ksync.Mutex
}

func (m *mountEntry) protect() {
	if m.mutex != nil {
		m.mutex.Lock()
	}
}

func (m *mountEntry) unprotect() {
	if m.mutex != nil {
		m.mutex.Unlock()
	}
}

// VFS is the mount table plus the designated root file system that
// Opendir/Readdir/Closedir/Unlink operate on directly (this teaching
// kernel has no subdirectories, so those four calls never need mount
// resolution of their own).
type VFS struct {
	mounts []*mountEntry
	root   *mountEntry
}

// New creates an empty VFS.
func New() *VFS {
	return &VFS{}
}

// Mount registers fsys at point. mutex may be nil when the backing file
// system needs no cross-call serialization.
func (v *VFS) Mount(point string, fsys FileSystem, mutex *ksync.Mutex) *kernel.Error {
	for _, m := range v.mounts {
		if m.point == point {
			return ErrMounted
		}
	}
	v.mounts = append(v.mounts, &mountEntry{point: point, fs: fsys, mutex: mutex})
	return nil
}

// SetRoot designates the already-mounted file system at point as root,
// the target of Opendir/Readdir/Closedir/Unlink.
func (v *VFS) SetRoot(point string) *kernel.Error {
	for _, m := range v.mounts {
		if m.point == point {
			v.root = m
			return nil
		}
	}
	return ErrNoMount
}

func pathBeginsWith(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// pathNextChild skips the path's leading slash run, the first path
// component's name, and the slash terminating it, landing at the start
// of the next component (or "" if there is none). Grounded on
// path_next_child's two-phase skip in original_source/.../fs/fs.c,
// reimplemented directly against slash boundaries rather than translated
// character-by-character.
func pathNextChild(path string) string {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	for i < len(path) && path[i] != '/' {
		i++
	}
	if i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:]
}

func (v *VFS) resolve(path string) (*mountEntry, string) {
	for _, m := range v.mounts {
		if pathBeginsWith(path, m.point) {
			return m, pathNextChild(path)
		}
	}
	return v.root, path
}

// Open resolves path against the mount table (falling back to root),
// opens it through the backing file system, and installs the result in
// t's descriptor table.
func (v *VFS) Open(t *sched.Task, path string, flags OpenFlag) (int, *kernel.Error) {
	m, name := v.resolve(path)
	if m == nil {
		return -1, ErrNoRoot
	}

	m.protect()
	h, err := m.fs.Open(name, flags)
	m.unprotect()
	if err != nil {
		return -1, err
	}

	of := &openFile{handle: h, mode: flags, ref: 1, mount: m}
	fd := t.AllocFD(of)
	if fd < 0 {
		h.Close()
		return -1, ErrNoSpace
	}
	return fd, nil
}

func lookup(t *sched.Task, fd int) (*openFile, *kernel.Error) {
	h := t.File(fd)
	if h == nil {
		return nil, ErrNotOpen
	}
	of, ok := h.(*openFile)
	if !ok {
		return nil, ErrNotOpen
	}
	return of, nil
}

// Dup installs a second descriptor referencing the same open file as fd,
// bumping its reference count.
func (v *VFS) Dup(t *sched.Task, fd int) (int, *kernel.Error) {
	of, err := lookup(t, fd)
	if err != nil {
		return -1, err
	}
	nfd := t.AllocFD(of)
	if nfd < 0 {
		return -1, ErrNoSpace
	}
	of.Retain()
	return nfd, nil
}

// Read reads into buf through fd, rejecting write-only descriptors.
func (v *VFS) Read(t *sched.Task, fd int, buf []byte) (int, *kernel.Error) {
	of, err := lookup(t, fd)
	if err != nil {
		return 0, err
	}
	if of.mode&accessModeMask == OWRONLY {
		return 0, ErrWriteOnly
	}
	of.mount.protect()
	defer of.mount.unprotect()
	return of.handle.Read(buf)
}

// Write writes buf through fd, rejecting read-only descriptors.
func (v *VFS) Write(t *sched.Task, fd int, buf []byte) (int, *kernel.Error) {
	of, err := lookup(t, fd)
	if err != nil {
		return 0, err
	}
	if of.mode&accessModeMask == ORDONLY {
		return 0, ErrReadOnly
	}
	of.mount.protect()
	defer of.mount.unprotect()
	return of.handle.Write(buf)
}

// Seek repositions fd. Only absolute (from-start) seeks are supported, as
// in the original.
func (v *VFS) Seek(t *sched.Task, fd int, offset uint32) *kernel.Error {
	of, err := lookup(t, fd)
	if err != nil {
		return err
	}
	of.mount.protect()
	defer of.mount.unprotect()
	return of.handle.Seek(offset, true)
}

// Close releases one reference to fd, closing the underlying handle once
// the last reference is gone, and always clears the descriptor slot.
func (v *VFS) Close(t *sched.Task, fd int) *kernel.Error {
	of, err := lookup(t, fd)
	if err != nil {
		return err
	}
	of.mount.protect()
	t.RemoveFD(fd)
	of.mount.unprotect()
	return nil
}

// Ioctl issues a device control request through fd.
func (v *VFS) Ioctl(t *sched.Task, fd, cmd, arg0, arg1 int) (int, *kernel.Error) {
	of, err := lookup(t, fd)
	if err != nil {
		// sys_ioctl returns 0 on a bad fd rather than an error.
		return 0, nil
	}
	of.mount.protect()
	defer of.mount.unprotect()
	return of.handle.Ioctl(cmd, arg0, arg1)
}

// IsTTY reports whether fd refers to a character tty device.
func (v *VFS) IsTTY(t *sched.Task, fd int) bool {
	of, err := lookup(t, fd)
	if err != nil {
		return false
	}
	return of.handle.IsTTY()
}

// Fstat retrieves metadata for fd.
func (v *VFS) Fstat(t *sched.Task, fd int) (Stat, *kernel.Error) {
	of, err := lookup(t, fd)
	if err != nil {
		return Stat{}, err
	}
	of.mount.protect()
	defer of.mount.unprotect()
	return of.handle.Stat()
}

// Opendir, Readdir, Closedir, and Unlink operate on the root file system
// only, matching the original (this teaching kernel has no nested mount
// directory traversal).
func (v *VFS) Opendir(path string) (Dir, *kernel.Error) {
	if v.root == nil {
		return nil, ErrNoRoot
	}
	v.root.protect()
	defer v.root.unprotect()
	return v.root.fs.Opendir(path)
}

func (v *VFS) Unlink(path string) *kernel.Error {
	if v.root == nil {
		return ErrNoRoot
	}
	v.root.protect()
	defer v.root.unprotect()
	return v.root.fs.Unlink(path)
}
