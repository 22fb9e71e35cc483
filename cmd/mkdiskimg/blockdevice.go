package main

import (
	"protios/kernel"
	"protios/kernel/driver/ata"
)

var errSectorRange = &kernel.Error{Module: "mkdiskimg", Message: "sector range out of bounds"}

// memBlockDevice implements kernel/fs/fat16.BlockDevice over a byte slice
// holding one partition's sectors, the host-side counterpart to
// kernel/driver/ata.PartitionDevice — fat16 never needs to know whether
// its sectors come from a simulated disk channel or a plain buffer.
type memBlockDevice struct {
	sectors []byte
}

func (d *memBlockDevice) ReadSectors(start uint32, count int, buf []byte) (int, *kernel.Error) {
	off := int(start) * ata.SectorSize
	end := off + count*ata.SectorSize
	if off < 0 || end > len(d.sectors) {
		return 0, errSectorRange
	}
	return copy(buf, d.sectors[off:end]) / ata.SectorSize, nil
}

func (d *memBlockDevice) WriteSectors(start uint32, count int, buf []byte) (int, *kernel.Error) {
	off := int(start) * ata.SectorSize
	end := off + count*ata.SectorSize
	if off < 0 || end > len(d.sectors) {
		return 0, errSectorRange
	}
	return copy(d.sectors[off:end], buf) / ata.SectorSize, nil
}
