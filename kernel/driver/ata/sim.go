package ata

import "encoding/binary"

// IRQSink receives the simulated IRQ14 notification SimPort raises once a
// command's data is ready, mirroring the real do_handler_ide_primary
// handler. Controller implements it by calling its op_sem.Notify().
type IRQSink interface {
	NotifyDiskIRQ()
}

// SimPort is a host-testable PortIO backend for one ATA channel. It holds
// up to two disk images (master, slave) as plain byte slices and decodes
// the same register write sequence ata_send_cmd emits, so Controller can
// be exercised without real hardware. Because there is no real seek or
// spin-up latency to model, SimPort completes every command synchronously
// and fires the disk's full IRQ count for a transfer up front; Semaphore
// being a counting semaphore makes the resulting Wait calls in
// Controller.transfer drain those counts in order without ever really
// blocking.
type SimPort struct {
	portBase uint16
	disks    [2]*memImage
	sink     IRQSink

	driveSel uint8

	sectorCountWrites              int
	sectorCountHigh, sectorCountLow uint8

	lbaLoWrites                 int
	lbaLoHigh, lbaLoLow         uint8
	lbaMid, lbaHi               uint8

	dataView       []byte
	pos            int
	identifyAbsent bool
}

type memImage struct {
	bytes []byte
}

// NewSimPort creates a simulated channel whose registers live at
// portBase (0x1F0 for the primary channel).
func NewSimPort(portBase uint16) *SimPort {
	return &SimPort{portBase: portBase}
}

// AttachSink registers the IRQ destination; Controller passes itself.
func (p *SimPort) AttachSink(sink IRQSink) {
	p.sink = sink
}

// AttachDisk installs image as the backing store for disk index idx (0 =
// master, 1 = slave). image's length must be a multiple of SectorSize;
// writes through WriteSectors mutate image in place since Go slices
// share their backing array.
func (p *SimPort) AttachDisk(idx int, image []byte) {
	p.disks[idx] = &memImage{bytes: image}
}

func buildIdentify(img *memImage) []byte {
	buf := make([]byte, 512)
	sectorCount := uint32(len(img.bytes) / SectorSize)
	binary.LittleEndian.PutUint32(buf[200:204], sectorCount)
	return buf
}

func (p *SimPort) Outb(port uint16, v uint8) {
	reg := port - p.portBase
	switch reg {
	case regDrive:
		p.driveSel = v
		p.sectorCountWrites = 0
		p.lbaLoWrites = 0
	case regSectorCount:
		if p.sectorCountWrites == 0 {
			p.sectorCountHigh = v
		} else {
			p.sectorCountLow = v
		}
		p.sectorCountWrites++
	case regLBALo:
		if p.lbaLoWrites == 0 {
			p.lbaLoHigh = v
		} else {
			p.lbaLoLow = v
		}
		p.lbaLoWrites++
	case regLBAMid:
		p.lbaMid = v
	case regLBAHi:
		p.lbaHi = v
	case regCmd:
		p.execute(v)
	}
}

func (p *SimPort) execute(cmd uint8) {
	sectorCount := uint32(p.sectorCountHigh)<<8 | uint32(p.sectorCountLow)
	lba := uint32(p.lbaLoHigh)<<24 | uint32(p.lbaHi)<<16 | uint32(p.lbaMid)<<8 | uint32(p.lbaLoLow)

	diskIdx := 0
	if p.driveSel&0x10 != 0 {
		diskIdx = 1
	}
	disk := p.disks[diskIdx]

	p.identifyAbsent = false
	p.pos = 0
	p.dataView = nil

	switch cmd {
	case cmdIdentify:
		if disk == nil {
			p.identifyAbsent = true
			return
		}
		p.dataView = buildIdentify(disk)

	case cmdRead, cmdWrite:
		if disk == nil {
			return
		}
		start := int(lba) * SectorSize
		end := start + int(sectorCount)*SectorSize
		if start > len(disk.bytes) {
			start = len(disk.bytes)
		}
		if end > len(disk.bytes) {
			end = len(disk.bytes)
		}
		p.dataView = disk.bytes[start:end]
		if p.sink != nil {
			for i := uint32(0); i < sectorCount; i++ {
				p.sink.NotifyDiskIRQ()
			}
		}
	}
}

func (p *SimPort) Inb(port uint16) uint8 {
	if port-p.portBase != regStatus {
		return 0
	}
	if p.identifyAbsent {
		return 0
	}
	return statusDRQ
}

func (p *SimPort) Inw(port uint16) uint16 {
	if port-p.portBase != regData || p.dataView == nil || p.pos+2 > len(p.dataView) {
		return 0
	}
	v := binary.LittleEndian.Uint16(p.dataView[p.pos:])
	p.pos += 2
	return v
}

func (p *SimPort) Outw(port uint16, v uint16) {
	if port-p.portBase != regData || p.dataView == nil || p.pos+2 > len(p.dataView) {
		return
	}
	binary.LittleEndian.PutUint16(p.dataView[p.pos:], v)
	p.pos += 2
}
