package fat16

import (
	"bytes"
	"encoding/binary"
	"testing"

	"protios/kernel"
	"protios/kernel/fs"
)

// memDevice is a trivial BlockDevice backed by a single byte slice, used
// to exercise FileSystem without a real ATA controller.
type memDevice struct {
	bytes []byte
}

func (d *memDevice) ReadSectors(start uint32, count int, buf []byte) (int, *kernel.Error) {
	off := int(start) * sectorSize
	n := copy(buf, d.bytes[off:off+count*sectorSize])
	return n / sectorSize, nil
}

func (d *memDevice) WriteSectors(start uint32, count int, buf []byte) (int, *kernel.Error) {
	off := int(start) * sectorSize
	n := copy(d.bytes[off:off+count*sectorSize], buf)
	return n / sectorSize, nil
}

// buildImage lays out a minimal one-sector-per-cluster FAT16 volume:
// sector 0 is the DBR, sectors 1-2 are the two FAT copies (1 sector
// each), sector 3 is the 16-entry root directory, and dataClusters
// sectors of data follow starting at cluster 2 (sector 4).
func buildImage(dataClusters int) *memDevice {
	const (
		tblStart   = 1
		tblSectors = 1
		tblCnt     = 2
		rootEnt    = 16
		rootStart  = tblStart + tblSectors*tblCnt
		dataStart  = rootStart + rootEnt*dirEntrySize/sectorSize
	)

	img := make([]byte, (dataStart+dataClusters)*sectorSize)
	dbr := img[0:sectorSize]
	binary.LittleEndian.PutUint16(dbr[11:13], sectorSize)
	dbr[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(dbr[14:16], tblStart)
	dbr[16] = tblCnt
	binary.LittleEndian.PutUint16(dbr[17:19], rootEnt)
	binary.LittleEndian.PutUint16(dbr[22:24], tblSectors)
	copy(dbr[54:59], "FAT16")

	return &memDevice{bytes: img}
}

func mustMount(t *testing.T, dev *memDevice) *FileSystem {
	t.Helper()
	f, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return f
}

func TestMountParsesDBR(t *testing.T) {
	dev := buildImage(8)
	f := mustMount(t, dev)
	if f.bytesPerSec != sectorSize {
		t.Fatalf("expected bytesPerSec %d; got %d", sectorSize, f.bytesPerSec)
	}
	if f.tblCnt != 2 {
		t.Fatalf("expected 2 FAT copies; got %d", f.tblCnt)
	}
	if f.rootEntCnt != 16 {
		t.Fatalf("expected 16 root entries; got %d", f.rootEntCnt)
	}
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	dev := buildImage(8)
	f := mustMount(t, dev)

	h, err := f.Open("HELLO.TXT", fs.OCREAT|fs.ORDWR)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	payload := bytes.Repeat([]byte("fat16-roundtrip "), 40) // spans multiple clusters
	n, err := h.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected to write %d bytes; wrote %d", len(payload), n)
	}
	h.Close()

	// Re-mount to force the single-sector cache to be rebuilt, then
	// reopen and verify the data and size survived the round trip.
	f2 := mustMount(t, dev)
	h2, err := f2.Open("HELLO.TXT", fs.ORDONLY)
	if err != nil {
		t.Fatalf("Open existing: %v", err)
	}
	st, err := h2.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != int64(len(payload)) {
		t.Fatalf("expected size %d; got %d", len(payload), st.Size)
	}

	readBack := make([]byte, len(payload))
	total := 0
	for total < len(readBack) {
		n, err := h2.Read(readBack[total:])
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != len(payload) || !bytes.Equal(readBack, payload) {
		t.Fatalf("expected round-tripped content %q; got %q (n=%d)", payload, readBack, total)
	}
}

func TestReaddirListsCreatedFile(t *testing.T) {
	dev := buildImage(4)
	f := mustMount(t, dev)

	h, err := f.Open("NOTES.TXT", fs.OCREAT|fs.ORDWR)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	h.Write([]byte("hi"))
	h.Close()

	dir, err := f.Opendir("")
	if err != nil {
		t.Fatalf("Opendir: %v", err)
	}
	entry, ok := dir.Readdir()
	if !ok {
		t.Fatal("expected one directory entry")
	}
	if entry.Name != "NOTES.TXT" {
		t.Fatalf("expected name NOTES.TXT; got %q", entry.Name)
	}
	if entry.Size != 2 {
		t.Fatalf("expected size 2; got %d", entry.Size)
	}
	if _, ok := dir.Readdir(); ok {
		t.Fatal("expected only one entry in the directory")
	}
}

func TestUnlinkRemovesFile(t *testing.T) {
	dev := buildImage(4)
	f := mustMount(t, dev)

	h, _ := f.Open("GONE.TXT", fs.OCREAT|fs.ORDWR)
	h.Write([]byte("bye"))
	h.Close()

	if err := f.Unlink("GONE.TXT"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := f.Open("GONE.TXT", fs.ORDONLY); err == nil {
		t.Fatal("expected reopening an unlinked file to fail")
	}
}

// TestSeekToEndOnClusterBoundary covers a file whose size lands exactly
// on a cluster boundary and whose chain was terminated normally (the
// last cluster's FAT entry is the end-of-chain marker, not a spare
// pre-chained cluster) — the shape any file built outside this package's
// own Write (a foreign disk image, a hand-built test fixture) has.
// Seeking to exactly that size must succeed: there is nothing left to
// move, so no next cluster is required.
func TestSeekToEndOnClusterBoundary(t *testing.T) {
	dev := buildImage(1)
	f := mustMount(t, dev)

	name := toSFN("BOUND.TXT")
	if err := f.writeDirEntryAt(0, name, 0, 2, uint32(sectorSize)); err != nil {
		t.Fatalf("writeDirEntryAt: %v", err)
	}
	if err := f.clusterSetNext(2, clusterInvalid); err != nil {
		t.Fatalf("clusterSetNext: %v", err)
	}

	h, err := f.Open("BOUND.TXT", fs.ORDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Seek(uint32(sectorSize), true); err != nil {
		t.Fatalf("Seek to exact cluster-aligned end of file: %v", err)
	}
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	dev := buildImage(4)
	f := mustMount(t, dev)

	if _, err := f.Open("NOPE.TXT", fs.ORDONLY); err == nil {
		t.Fatal("expected opening a missing file without O_CREAT to fail")
	}
}
