package pmm

import (
	"sync"

	"protios/kernel"
	"protios/kernel/bitmap"
	"protios/kernel/mem"
)

// Allocator owns a single bitmap over all physical frames starting at
// base and hands out (or reclaims) contiguous runs of them. Every frame
// starts out free; nothing is marked used until a caller calls Reserve.
type Allocator struct {
	lock sync.Mutex

	base       Frame
	frameCount int
	bitmap     *bitmap.Bitmap
}

// New creates an Allocator covering frameCount frames starting at base.
// All frames start out free; callers are expected to immediately call
// Reserve for any frame ranges that are already in use (kernel image,
// the bitmap's own backing storage, memory below 1 MiB).
func New(base Frame, frameCount int) *Allocator {
	return &Allocator{
		base:       base,
		frameCount: frameCount,
		bitmap:     bitmap.New(frameCount, false),
	}
}

// Reserve marks count frames starting at frame as permanently in use.
// Used once at boot to carve out the kernel image and any memory holes.
func (a *Allocator) Reserve(frame Frame, count int) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.bitmap.Set(int(frame-a.base), count, true)
}

// AllocPages finds the lowest contiguous run of n free frames, marks them
// used and returns the base of the run. It returns InvalidFrame if no
// such run exists.
func (a *Allocator) AllocPages(n int) Frame {
	a.lock.Lock()
	defer a.lock.Unlock()

	index := a.bitmap.AllocContiguous(false, n)
	if index < 0 {
		return InvalidFrame
	}
	return a.base + Frame(index)
}

// FreePages clears the bits for the n frames starting at base, making
// them available for future allocation.
func (a *Allocator) FreePages(base Frame, n int) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.bitmap.Set(int(base-a.base), n, false)
}

// TotalFrames returns the number of frames tracked by this allocator.
func (a *Allocator) TotalFrames() int {
	return a.frameCount
}

// FreeFrames returns the number of currently unallocated frames. It is
// O(n) and intended for diagnostics/tests, not hot paths.
func (a *Allocator) FreeFrames() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	free := 0
	for i := 0; i < a.frameCount; i++ {
		if !a.bitmap.IsSet(i) {
			free++
		}
	}
	return free
}

// ErrOutOfMemory is returned by callers that wrap AllocPages/AllocForSize
// and need a *kernel.Error rather than a sentinel Frame.
var ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

// AllocForSize rounds size up to a whole number of pages and allocates
// that many contiguous frames, returning ErrOutOfMemory if the request
// cannot be satisfied.
func (a *Allocator) AllocForSize(size mem.Size) (Frame, *kernel.Error) {
	pages := (uint64(size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	f := a.AllocPages(int(pages))
	if !f.Valid() {
		return InvalidFrame, ErrOutOfMemory
	}
	return f, nil
}
