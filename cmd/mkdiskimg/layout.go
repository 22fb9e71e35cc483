package main

import (
	"encoding/binary"
	"errors"

	"protios/kernel/driver/ata"
)

const (
	mbrTableOffset = 446
	mbrEntrySize   = 16
	sectorSize     = ata.SectorSize
	dirEntrySize   = 32
)

var errPartitionTooSmall = errors.New("partition too small for the requested cluster size and root entry count")

// partitionEntry mirrors the 16-byte MBR partition table record this
// repo's kernel/driver/ata parses during disk detection
// (original_source/.../dev/disk.c's disk_parse_part_info), duplicated
// here the same way kernel/kmain's tests duplicate it to build a
// synthetic disk image host-side.
type partitionEntry struct {
	partType  byte
	startLBA  uint32
	sectorCnt uint32
}

func writeMBR(img []byte, entries []partitionEntry) {
	for i, e := range entries {
		rec := img[mbrTableOffset+i*mbrEntrySize : mbrTableOffset+(i+1)*mbrEntrySize]
		rec[4] = e.partType
		binary.LittleEndian.PutUint32(rec[8:12], e.startLBA)
		binary.LittleEndian.PutUint32(rec[12:16], e.sectorCnt)
	}
}

// readMBR returns the four (possibly empty) primary partition table
// entries found in img.
func readMBR(img []byte) []partitionEntry {
	entries := make([]partitionEntry, 4)
	for i := range entries {
		rec := img[mbrTableOffset+i*mbrEntrySize : mbrTableOffset+(i+1)*mbrEntrySize]
		entries[i] = partitionEntry{
			partType:  rec[4],
			startLBA:  binary.LittleEndian.Uint32(rec[8:12]),
			sectorCnt: binary.LittleEndian.Uint32(rec[12:16]),
		}
	}
	return entries
}

// fat16Layout is a self-consistent FAT16 region layout (DBR, FAT table,
// root directory, data clusters) for one partition, following the DBR
// field semantics kernel/fs/fat16.Mount parses.
type fat16Layout struct {
	sectorsPerCluster int
	rootEntries       int
	tblStart          int
	tblSectors        int
	rootStart         int
	dataStart         int
	dataClusters      int
}

// computeFAT16Layout sizes the FAT table against the data region it
// itself carves out of the partition, an interdependency resolved by a
// few rounds of fixed-point iteration: a bigger FAT table leaves less
// room for data clusters, which in turn may let the table shrink back.
func computeFAT16Layout(partitionSectors, sectorsPerCluster, rootEntries int) (fat16Layout, error) {
	const tblCnt = 2
	rootDirSectors := ceilDiv(rootEntries*dirEntrySize, sectorSize)

	tblSectors := 1
	for i := 0; i < 8; i++ {
		headerSectors := 1 + tblCnt*tblSectors + rootDirSectors
		dataSectors := partitionSectors - headerSectors
		if dataSectors < sectorsPerCluster {
			return fat16Layout{}, errPartitionTooSmall
		}
		dataClusters := dataSectors / sectorsPerCluster
		needed := ceilDiv((dataClusters+2)*2, sectorSize)
		if needed == tblSectors {
			break
		}
		tblSectors = needed
	}

	headerSectors := 1 + tblCnt*tblSectors + rootDirSectors
	dataSectors := partitionSectors - headerSectors
	if dataSectors < sectorsPerCluster {
		return fat16Layout{}, errPartitionTooSmall
	}

	return fat16Layout{
		sectorsPerCluster: sectorsPerCluster,
		rootEntries:       rootEntries,
		tblStart:          1,
		tblSectors:        tblSectors,
		rootStart:         1 + tblCnt*tblSectors,
		dataStart:         1 + tblCnt*tblSectors + rootDirSectors,
		dataClusters:      dataSectors / sectorsPerCluster,
	}, nil
}

func writeDBR(part []byte, l fat16Layout) {
	dbr := part[0:sectorSize]
	binary.LittleEndian.PutUint16(dbr[11:13], uint16(sectorSize))
	dbr[13] = byte(l.sectorsPerCluster)
	binary.LittleEndian.PutUint16(dbr[14:16], uint16(l.tblStart))
	dbr[16] = 2
	binary.LittleEndian.PutUint16(dbr[17:19], uint16(l.rootEntries))
	binary.LittleEndian.PutUint16(dbr[22:24], uint16(l.tblSectors))
	copy(dbr[54:59], "FAT16")
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
