package fs

import (
	"testing"

	"protios/kernel"
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

func newTestTask(t *testing.T) *sched.Task {
	t.Helper()
	s := sched.New(&fakeAS{}, 8)
	task, err := s.CreateTask("t")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	s.Start(task)
	s.Dispatch()
	return task
}

// memFile is a trivial in-memory Handle used to exercise the VFS layer
// without a real backing file system.
type memFile struct {
	data   []byte
	pos    uint32
	closed bool
	isTTY  bool
}

func (f *memFile) Read(buf []byte) (int, *kernel.Error) {
	n := copy(buf, f.data[f.pos:])
	f.pos += uint32(n)
	return n, nil
}

func (f *memFile) Write(buf []byte) (int, *kernel.Error) {
	f.data = append(f.data[:f.pos], buf...)
	f.pos += uint32(len(buf))
	return len(buf), nil
}

func (f *memFile) Seek(offset uint32, fromStart bool) *kernel.Error {
	f.pos = offset
	return nil
}

func (f *memFile) Stat() (Stat, *kernel.Error) {
	return Stat{Size: int64(len(f.data)), Type: FileNormal}, nil
}

func (f *memFile) Ioctl(cmd, arg0, arg1 int) (int, *kernel.Error) { return 0, nil }
func (f *memFile) IsTTY() bool                                    { return f.isTTY }
func (f *memFile) Close()                                         { f.closed = true }

type memFS struct {
	files map[string]*memFile
}

func newMemFS() *memFS { return &memFS{files: map[string]*memFile{}} }

func (m *memFS) Open(path string, flags OpenFlag) (Handle, *kernel.Error) {
	f, ok := m.files[path]
	if !ok {
		if flags&OCREAT == 0 {
			return nil, ErrNotFound
		}
		f = &memFile{}
		m.files[path] = f
	}
	return f, nil
}

func (m *memFS) Opendir(path string) (Dir, *kernel.Error) { return nil, ErrUnsupported }
func (m *memFS) Unlink(path string) *kernel.Error {
	if _, ok := m.files[path]; !ok {
		return ErrNotFound
	}
	delete(m.files, path)
	return nil
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	v := New()
	root := newMemFS()
	if err := v.Mount("/home", root, nil); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := v.SetRoot("/home"); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	task := newTestTask(t)
	fd, err := v.Open(task, "/home/greeting.txt", OCREAT|ORDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := v.Write(task, fd, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := v.Seek(task, fd, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := v.Read(task, fd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("expected to read back %q; got %q (n=%d)", "hello", buf, n)
	}
}

func TestWriteOnlyRejectsRead(t *testing.T) {
	v := New()
	root := newMemFS()
	v.Mount("/home", root, nil)
	v.SetRoot("/home")

	task := newTestTask(t)
	fd, err := v.Open(task, "/home/out.txt", OCREAT|OWRONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := v.Read(task, fd, make([]byte, 1)); err != ErrWriteOnly {
		t.Fatalf("expected ErrWriteOnly; got %v", err)
	}
}

func TestMountRoutingStripsPrefix(t *testing.T) {
	v := New()
	dev := newMemFS()
	home := newMemFS()
	v.Mount("/dev", dev, nil)
	v.Mount("/home", home, nil)
	v.SetRoot("/home")

	task := newTestTask(t)
	if _, err := v.Open(task, "/dev/tty0", OCREAT|ORDWR); err != nil {
		t.Fatalf("Open under /dev: %v", err)
	}
	if _, ok := dev.files["tty0"]; !ok {
		t.Fatalf("expected devfs to see the stripped name %q; got keys %v", "tty0", dev.files)
	}

	if _, err := v.Open(task, "/somewhere/file.txt", OCREAT|ORDWR); err != nil {
		t.Fatalf("Open falling back to root: %v", err)
	}
	if _, ok := home.files["/somewhere/file.txt"]; !ok {
		t.Fatalf("expected an unmatched path to fall through to root unmodified; got keys %v", home.files)
	}
}

func TestDupSharesRefcountAndCloseOnce(t *testing.T) {
	v := New()
	root := newMemFS()
	v.Mount("/home", root, nil)
	v.SetRoot("/home")

	task := newTestTask(t)
	fd, _ := v.Open(task, "/home/f.txt", OCREAT|ORDWR)
	dupFd, err := v.Dup(task, fd)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}

	f := root.files["f.txt"]
	if err := v.Close(task, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.closed {
		t.Fatal("expected the handle to stay open while the dup'd fd still references it")
	}
	if err := v.Close(task, dupFd); err != nil {
		t.Fatalf("Close dup: %v", err)
	}
	if !f.closed {
		t.Fatal("expected the handle to close once its last descriptor closes")
	}
}

func TestCloseBadFDFails(t *testing.T) {
	v := New()
	task := newTestTask(t)
	if err := v.Close(task, 3); err == nil {
		t.Fatal("expected closing an unopened fd to fail")
	}
}
