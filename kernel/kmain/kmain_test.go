package kmain

import (
	"encoding/binary"
	"testing"

	"protios/kernel/driver/ata"
	"protios/kernel/fs"
	"protios/kernel/mem"
)

// Layout constants for the hand-built FAT16 volume placed inside the
// disk image's single partition, mirroring kernel/fs/fat16's own test
// builder (one sector per cluster, a 1-sector FAT, a 16-entry root
// directory).
const (
	testPartStart   = 2
	testPartSectors = 40
	testSectorSize  = ata.SectorSize

	testTblStart   = 1
	testTblSectors = 1
	testTblCnt     = 2
	testRootEnt    = 16
	testRootStart  = testTblStart + testTblSectors*testTblCnt
	testDataStart  = testRootStart + testRootEnt*32/testSectorSize
)

// buildELFImage hand-constructs a minimal ET_EXEC/EM_386 image with a
// single PT_LOAD segment, using the same field offsets kernel/exec/elf.go
// parses (ehdrSize 52, phdrSize 32).
func buildELFImage(code []byte, entry, vaddr, memsz uint32) []byte {
	const ehdrSize, phdrSize = 52, 32
	const phoff = ehdrSize

	buf := make([]byte, phoff+phdrSize+len(code))
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	binary.LittleEndian.PutUint16(buf[16:18], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 3) // EM_386
	binary.LittleEndian.PutUint32(buf[24:28], entry)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(phoff))
	binary.LittleEndian.PutUint16(buf[42:44], phdrSize)
	binary.LittleEndian.PutUint16(buf[44:46], 1)

	ph := buf[phoff : phoff+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], uint32(phoff+phdrSize))
	binary.LittleEndian.PutUint32(ph[8:12], vaddr)
	binary.LittleEndian.PutUint32(ph[16:20], uint32(len(code)))
	binary.LittleEndian.PutUint32(ph[20:24], memsz)

	copy(buf[phoff+phdrSize:], code)
	return buf
}

// buildDiskImage lays out a whole-disk image with one MBR partition
// entry (FAT16, starting at testPartStart) whose volume's root directory
// holds a single file, "init", containing code.
func buildDiskImage(code []byte) []byte {
	img := make([]byte, 64*testSectorSize)

	const mbrTableOffset = 446
	entry := img[mbrTableOffset : mbrTableOffset+16]
	entry[4] = ata.PartTypeFAT16_0
	binary.LittleEndian.PutUint32(entry[8:12], testPartStart)
	binary.LittleEndian.PutUint32(entry[12:16], testPartSectors)

	part := img[testPartStart*testSectorSize:]

	dbr := part[0:testSectorSize]
	binary.LittleEndian.PutUint16(dbr[11:13], testSectorSize)
	dbr[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(dbr[14:16], testTblStart)
	dbr[16] = testTblCnt
	binary.LittleEndian.PutUint16(dbr[17:19], testRootEnt)
	binary.LittleEndian.PutUint16(dbr[22:24], testTblSectors)
	copy(dbr[54:59], "FAT16")

	// Cluster 2 (the file's only cluster) terminated with an EOF marker.
	fat := part[testTblStart*testSectorSize : (testTblStart+testTblSectors)*testSectorSize]
	binary.LittleEndian.PutUint16(fat[4:6], 0xFFFF)

	// Root directory entry for "init" (8.3 name "INIT", no extension),
	// first cluster 2, size len(code).
	rootDir := part[testRootStart*testSectorSize : (testRootStart+1)*testSectorSize]
	for i := 0; i < 11; i++ {
		rootDir[i] = ' '
	}
	copy(rootDir[0:4], "INIT")
	binary.LittleEndian.PutUint16(rootDir[26:28], 2)
	binary.LittleEndian.PutUint32(rootDir[28:32], uint32(len(code)))

	copy(part[testDataStart*testSectorSize:], code)
	return img
}

func testConfig(diskImage []byte) Config {
	return Config{
		RAMSize:     16 * mem.Mb,
		MaxTasks:    8,
		TickMs:      10,
		DevFSMount:  "/dev",
		RootFSMount: "/home",
		InitProgram: "/home/init",
		InitArgv:    []string{"init"},
		ATAPortIO: func(portBase uint16) ata.PortIO {
			sim := ata.NewSimPort(portBase)
			sim.AttachDisk(0, diskImage)
			return sim
		},
	}
}

func TestBootMountsRootFSAndLaunchesInit(t *testing.T) {
	code := []byte{0x90, 0x90, 0x90, 0x90}
	entry := uint32(mem.TaskBase) + 4
	img := buildDiskImage(buildELFImage(code, entry, uint32(mem.TaskBase), uint32(mem.PageSize)))

	k, err := Boot(testConfig(img))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	if k.initTask.Trap.EIP != entry {
		t.Fatalf("expected init task EIP %#x; got %#x", entry, k.initTask.Trap.EIP)
	}
	if k.initTask.Name != "init" {
		t.Fatalf("expected init task name %q; got %q", "init", k.initTask.Name)
	}

	if k.Dispatcher == nil {
		t.Fatal("expected a syscall dispatcher to be wired up")
	}
}

func TestBootWiresDevFSTTY(t *testing.T) {
	code := []byte{0x90}
	img := buildDiskImage(buildELFImage(code, uint32(mem.TaskBase), uint32(mem.TaskBase), uint32(mem.PageSize)))

	k, err := Boot(testConfig(img))
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	h, operr := k.VFS.Open(k.initTask, "/dev/tty0", fs.ORDWR)
	if operr != nil {
		t.Fatalf("expected /dev/tty0 to open through the wired devfs mount: %v", operr)
	}
	if !k.VFS.IsTTY(k.initTask, h) {
		t.Fatal("expected the opened device to report IsTTY")
	}
}

func TestBootFailsWithoutRootPartition(t *testing.T) {
	cfg := testConfig(make([]byte, 64*testSectorSize))
	if _, err := Boot(cfg); err == nil {
		t.Fatal("expected Boot to fail when the disk carries no FAT16 partition")
	}
}
