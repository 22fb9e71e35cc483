// Package devfs implements the device file system mounted at /dev: a
// small name-prefix table routing a path's prefix to a registered
// character-device opener and its numeric suffix to a minor number,
// grounded on original_source/.../fs/devfs/devfs.c and
// include/fs/devfs/devfs.h.
package devfs

import (
	"protios/kernel"
	"protios/kernel/fs"
)

// CharDevice is the per-open character-device contract devfs forwards
// read/write/ioctl/close calls to; kernel/driver/tty.Device implements
// it.
type CharDevice interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(buf []byte) (int, *kernel.Error)
	Control(cmd, arg0, arg1 int) (int, *kernel.Error)
	Close()
}

// DeviceOpener opens one minor of a device type; kernel/driver/tty's
// Controller implements it.
type DeviceOpener interface {
	OpenMinor(minor int) (CharDevice, *kernel.Error)
}

// OpenerFunc adapts an ordinary function to DeviceOpener, the same
// function-as-interface idiom as http.HandlerFunc. A driver's OpenMinor
// method returns its own concrete device type (e.g.
// *tty.Controller.OpenMinor returns *tty.Device), not the CharDevice
// interface itself, so it cannot be registered directly; callers wrap it
// in a small closure instead, keeping drivers free of a devfs import.
type OpenerFunc func(minor int) (CharDevice, *kernel.Error)

// OpenMinor implements DeviceOpener.
func (f OpenerFunc) OpenMinor(minor int) (CharDevice, *kernel.Error) { return f(minor) }

var (
	errNoMatch  = fs.ErrNotFound
	errBadMinor = &kernel.Error{Module: "devfs", Message: "invalid device number"}
)

type devType struct {
	name string
	open DeviceOpener
	typ  fs.FileType
}

// FileSystem is the devfs mount; it implements fs.FileSystem.
type FileSystem struct {
	types []devType
}

// New creates an empty devfs with no registered device-name prefixes.
func New() *FileSystem {
	return &FileSystem{}
}

// Register adds a name prefix (e.g. "tty") routed to opener, whose file
// type (FileTTY, ...) is reported to callers of Stat.
func (f *FileSystem) Register(name string, opener DeviceOpener, typ fs.FileType) {
	f.types = append(f.types, devType{name: name, open: opener, typ: typ})
}

func (f *FileSystem) lookup(path string) (devType, string, bool) {
	for _, t := range f.types {
		if len(path) >= len(t.name) && path[:len(t.name)] == t.name {
			return t, path[len(t.name):], true
		}
	}
	return devType{}, "", false
}

// parseMinor requires suffix to be entirely decimal digits, unlike the
// original's path_to_num, which always "succeeds" and silently derives a
// garbage minor from non-digit bytes. This repo rejects an empty or
// non-numeric suffix with errBadMinor instead (see DESIGN.md's Open
// Question decision).
func parseMinor(suffix string) (int, *kernel.Error) {
	if suffix == "" {
		return 0, errBadMinor
	}
	n := 0
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if c < '0' || c > '9' {
			return 0, errBadMinor
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Open resolves path's name-prefix and numeric suffix, mirroring
// devfs_open.
func (f *FileSystem) Open(path string, flags fs.OpenFlag) (fs.Handle, *kernel.Error) {
	t, suffix, ok := f.lookup(path)
	if !ok {
		return nil, errNoMatch
	}
	minor, err := parseMinor(suffix)
	if err != nil {
		return nil, err
	}
	dev, err := t.open.OpenMinor(minor)
	if err != nil {
		return nil, err
	}
	return &handle{dev: dev, typ: t.typ}, nil
}

// Opendir and Unlink have no meaning on devfs, matching the original's
// unimplemented devfs directory operations.
func (f *FileSystem) Opendir(path string) (fs.Dir, *kernel.Error) {
	return nil, fs.ErrUnsupported
}

func (f *FileSystem) Unlink(path string) *kernel.Error {
	return fs.ErrUnsupported
}

type handle struct {
	dev CharDevice
	typ fs.FileType
}

func (h *handle) Read(buf []byte) (int, *kernel.Error)  { return h.dev.Read(buf) }
func (h *handle) Write(buf []byte) (int, *kernel.Error) { return h.dev.Write(buf) }

// Seek is unsupported on character devices, mirroring devfs_seek.
func (h *handle) Seek(offset uint32, fromStart bool) *kernel.Error {
	return fs.ErrUnsupported
}

// Stat reports the device's file type; SPEC_FULL.md pins fstat to fill a
// real Stat{Type, Size} rather than the original's unconditional -1.
func (h *handle) Stat() (fs.Stat, *kernel.Error) {
	return fs.Stat{Type: h.typ, Size: 0}, nil
}

func (h *handle) Ioctl(cmd, arg0, arg1 int) (int, *kernel.Error) {
	return h.dev.Control(cmd, arg0, arg1)
}

func (h *handle) IsTTY() bool { return h.typ == fs.FileTTY }

func (h *handle) Close() { h.dev.Close() }
