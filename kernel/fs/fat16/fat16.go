// Package fat16 implements a minimal FAT16 file system: DBR parsing,
// short-filename matching against a flat root directory (no
// subdirectories, matching spec.md's scope), cluster-chain allocation and
// traversal, and a single-sector read/write-through cache. Grounded on
// original_source/.../fs/fatfs/fatfs.c and include/fs/fatfs/fatfs.h.
package fat16

import (
	"encoding/binary"

	"protios/kernel"
	"protios/kernel/fs"
)

const (
	sectorSize      = 512
	dirEntrySize    = 32
	sfnLength       = 11
	clusterInvalid  = 0xFFF8
	clusterFree     = 0x0000
	dirNameFree     = 0xE5
	dirNameEnd      = 0x00
	attrReadOnly    = 0x01
	attrHidden      = 0x02
	attrSystem      = 0x04
	attrVolumeID    = 0x08
	attrDirectory   = 0x10
	attrArchive     = 0x20
	attrLongName    = 0x0F
)

// BlockDevice is the sector-addressed storage fat16 reads and writes
// through; kernel/driver/ata's partition views satisfy it.
type BlockDevice interface {
	ReadSectors(start uint32, count int, buf []byte) (int, *kernel.Error)
	WriteSectors(start uint32, count int, buf []byte) (int, *kernel.Error)
}

var (
	errNotFAT16   = &kernel.Error{Module: "fat16", Message: "not a FAT16 volume"}
	errBadDBR     = &kernel.Error{Module: "fat16", Message: "unreadable boot sector"}
	errNoSpace    = &kernel.Error{Module: "fat16", Message: "no free cluster"}
	errBadCluster = &kernel.Error{Module: "fat16", Message: "cluster out of range"}
	errNotFound   = fs.ErrNotFound
)

// FileSystem is a mounted FAT16 volume; it implements fs.FileSystem.
type FileSystem struct {
	dev BlockDevice

	bytesPerSec     uint32
	tblStart        uint32
	tblSectors      uint32
	tblCnt          uint32
	rootEntCnt      uint32
	secPerCluster   uint32
	clusterByteSize uint32
	rootStart       uint32
	dataStart       uint32

	buffer     []byte
	currSector int64 // -1 when the cache holds nothing valid
}

// Mount reads the DBR (sector 0 of dev) and validates it describes a
// two-table FAT16 volume, mirroring fatfs_mount's checks.
func Mount(dev BlockDevice) (*FileSystem, *kernel.Error) {
	dbr := make([]byte, sectorSize)
	if n, err := dev.ReadSectors(0, 1, dbr); err != nil || n != 1 {
		return nil, errBadDBR
	}

	f := &FileSystem{
		dev:         dev,
		bytesPerSec: uint32(binary.LittleEndian.Uint16(dbr[11:13])),
		tblStart:    uint32(binary.LittleEndian.Uint16(dbr[14:16])),
		tblSectors:  uint32(binary.LittleEndian.Uint16(dbr[22:24])),
		tblCnt:      uint32(dbr[16]),
		rootEntCnt:  uint32(binary.LittleEndian.Uint16(dbr[17:19])),
	}
	f.secPerCluster = uint32(dbr[13])
	f.clusterByteSize = f.secPerCluster * f.bytesPerSec
	f.rootStart = f.tblStart + f.tblSectors*f.tblCnt
	f.dataStart = f.rootStart + f.rootEntCnt*dirEntrySize/sectorSize
	f.currSector = -1
	f.buffer = make([]byte, sectorSize)

	if f.tblCnt != 2 {
		return nil, errNotFAT16
	}
	if string(dbr[54:59]) != "FAT16" {
		return nil, errNotFAT16
	}
	return f, nil
}

func clusterIsValid(c uint16) bool {
	return c < clusterInvalid && c >= 2
}

func (f *FileSystem) bread(sector int64) *kernel.Error {
	if sector == f.currSector {
		return nil
	}
	n, err := f.dev.ReadSectors(uint32(sector), 1, f.buffer)
	if err != nil || n != 1 {
		return errBadDBR
	}
	f.currSector = sector
	return nil
}

func (f *FileSystem) bwrite(sector int64) *kernel.Error {
	n, err := f.dev.WriteSectors(uint32(sector), 1, f.buffer)
	if err != nil || n != 1 {
		return errBadDBR
	}
	return nil
}

func (f *FileSystem) clusterGetNext(curr uint16) (uint16, *kernel.Error) {
	if !clusterIsValid(curr) {
		return clusterInvalid, nil
	}
	offset := uint32(curr) * 2
	sector := offset / f.bytesPerSec
	offInSector := offset % f.bytesPerSec
	if sector >= f.tblSectors {
		return clusterInvalid, errBadCluster
	}
	if err := f.bread(int64(f.tblStart + sector)); err != nil {
		return clusterInvalid, err
	}
	return binary.LittleEndian.Uint16(f.buffer[offInSector:]), nil
}

func (f *FileSystem) clusterSetNext(curr, next uint16) *kernel.Error {
	if !clusterIsValid(curr) {
		return errBadCluster
	}
	offset := uint32(curr) * 2
	sector := offset / f.bytesPerSec
	offInSector := offset % f.bytesPerSec
	if sector >= f.tblSectors {
		return errBadCluster
	}
	if err := f.bread(int64(f.tblStart + sector)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(f.buffer[offInSector:], next)

	for i := uint32(0); i < f.tblCnt; i++ {
		if err := f.bwrite(int64(f.tblStart + sector + i*f.tblSectors)); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSystem) clusterFreeChain(start uint16) {
	for clusterIsValid(start) {
		next, err := f.clusterGetNext(start)
		if err != nil {
			return
		}
		f.clusterSetNext(start, clusterFree)
		start = next
	}
}

// clusterAllocFree links cnt free clusters into a fresh chain, mirroring
// cluster_alloc_free's linear FAT scan.
func (f *FileSystem) clusterAllocFree(cnt int) (uint16, *kernel.Error) {
	total := f.tblSectors * f.bytesPerSec / 2

	var pre, start uint16 = clusterInvalid, clusterInvalid
	for curr := uint16(2); uint32(curr) < total && cnt > 0; curr++ {
		free, err := f.clusterGetNext(curr)
		if err != nil {
			return clusterInvalid, err
		}
		if free != clusterFree {
			continue
		}

		if !clusterIsValid(start) {
			start = curr
		}
		if clusterIsValid(pre) {
			if err := f.clusterSetNext(pre, curr); err != nil {
				f.clusterFreeChain(start)
				return clusterInvalid, err
			}
		}
		pre = curr
		cnt--
	}

	if cnt == 0 {
		if err := f.clusterSetNext(pre, clusterInvalid); err == nil {
			return start, nil
		}
	}
	f.clusterFreeChain(start)
	return clusterInvalid, errNoSpace
}

func toSFN(name string) [sfnLength]byte {
	var dest [sfnLength]byte
	for i := range dest {
		dest[i] = ' '
	}
	cursor := 0
	for i := 0; i < len(name) && cursor < sfnLength; i++ {
		c := name[i]
		switch c {
		case '.':
			cursor = 8
		default:
			if c >= 'a' && c <= 'z' {
				c = c - 'a' + 'A'
			}
			if cursor < sfnLength {
				dest[cursor] = c
				cursor++
			}
		}
	}
	return dest
}

func diritemNameMatch(name11 []byte, path string) bool {
	sfn := toSFN(path)
	for i := range sfn {
		if sfn[i] != name11[i] {
			return false
		}
	}
	return true
}

func diritemGetName(name11 []byte) string {
	var out []byte
	ext := -1
	for i := 0; i < 11; i++ {
		if name11[i] != ' ' {
			out = append(out, name11[i])
		}
		if i == 7 {
			ext = len(out)
			out = append(out, '.')
		}
	}
	if ext >= 0 && ext == len(out)-1 {
		out = out[:ext]
	}
	return string(out)
}

func diritemGetType(attr uint8) fs.FileType {
	if attr&(attrVolumeID|attrHidden|attrSystem) != 0 {
		return fs.FileUnknown
	}
	if attr&attrDirectory != 0 {
		return fs.FileDir
	}
	return fs.FileNormal
}

// direntry is a parsed 32-byte FAT directory entry.
type direntry struct {
	name      [11]byte
	attr      uint8
	firstClus uint16
	size      uint32
}

func parseDirEntry(buf []byte) direntry {
	var d direntry
	copy(d.name[:], buf[0:11])
	d.attr = buf[11]
	d.firstClus = binary.LittleEndian.Uint16(buf[26:28])
	d.size = binary.LittleEndian.Uint32(buf[28:32])
	return d
}

func writeDirEntry(buf []byte, name [11]byte, attr uint8, firstClus uint16, size uint32) {
	for i := range buf[:dirEntrySize] {
		buf[i] = 0
	}
	copy(buf[0:11], name[:])
	buf[11] = attr
	binary.LittleEndian.PutUint16(buf[20:22], 0)
	binary.LittleEndian.PutUint16(buf[26:28], firstClus)
	binary.LittleEndian.PutUint32(buf[28:32], size)
}

func (f *FileSystem) readDirEntry(index int) ([]byte, *kernel.Error) {
	if index < 0 || uint32(index) >= f.rootEntCnt {
		return nil, errBadCluster
	}
	offset := uint32(index) * dirEntrySize
	if err := f.bread(int64(f.rootStart + offset/f.bytesPerSec)); err != nil {
		return nil, err
	}
	off := offset % f.bytesPerSec
	return f.buffer[off : off+dirEntrySize], nil
}

func (f *FileSystem) writeDirEntryAt(index int, name [11]byte, attr uint8, firstClus uint16, size uint32) *kernel.Error {
	if index < 0 || uint32(index) >= f.rootEntCnt {
		return errBadCluster
	}
	offset := uint32(index) * dirEntrySize
	sector := int64(f.rootStart + offset/f.bytesPerSec)
	if err := f.bread(sector); err != nil {
		return err
	}
	off := offset % f.bytesPerSec
	writeDirEntry(f.buffer[off:off+dirEntrySize], name, attr, firstClus, size)
	return f.bwrite(sector)
}

// Open finds path in the root directory, creating it (O_CREAT) if
// absent, truncating it (O_TRUNC) if requested, matching fatfs_open.
func (f *FileSystem) Open(path string, flags fs.OpenFlag) (fs.Handle, *kernel.Error) {
	freeIndex := -1
	for i := 0; uint32(i) < f.rootEntCnt; i++ {
		entry, err := f.readDirEntry(i)
		if err != nil {
			return nil, err
		}
		if entry[0] == dirNameEnd {
			if freeIndex < 0 {
				freeIndex = i
			}
			break
		}
		if entry[0] == dirNameFree {
			if freeIndex < 0 {
				freeIndex = i
			}
			continue
		}
		if diritemNameMatch(entry[0:11], path) {
			d := parseDirEntry(entry)
			file := &handle{
				fs:     f,
				size:   d.size,
				sblk:   d.firstClus,
				cblk:   d.firstClus,
				pIndex: i,
				mode:   flags,
				typ:    diritemGetType(d.attr),
			}
			if flags&fs.OTRUNC != 0 {
				f.clusterFreeChain(file.sblk)
				file.sblk, file.cblk = clusterInvalid, clusterInvalid
				file.size = 0
			}
			return file, nil
		}
	}

	if flags&fs.OCREAT != 0 && freeIndex >= 0 {
		name := toSFN(path)
		if err := f.writeDirEntryAt(freeIndex, name, 0, clusterInvalid, 0); err != nil {
			return nil, err
		}
		return &handle{fs: f, sblk: clusterInvalid, cblk: clusterInvalid, pIndex: freeIndex, mode: flags, typ: fs.FileNormal}, nil
	}

	return nil, errNotFound
}

// Opendir returns a scan over the flat root directory; name is unused
// since this volume has no subdirectories.
func (f *FileSystem) Opendir(name string) (fs.Dir, *kernel.Error) {
	return &dirScan{fs: f}, nil
}

func (f *FileSystem) Unlink(path string) *kernel.Error {
	for i := 0; uint32(i) < f.rootEntCnt; i++ {
		entry, err := f.readDirEntry(i)
		if err != nil {
			return err
		}
		if entry[0] == dirNameEnd {
			break
		}
		if entry[0] == dirNameFree {
			continue
		}
		if diritemNameMatch(entry[0:11], path) {
			d := parseDirEntry(entry)
			f.clusterFreeChain(d.firstClus)
			return f.writeDirEntryAt(i, [11]byte{}, 0, 0, 0)
		}
	}
	return errNotFound
}

type dirScan struct {
	fs    *FileSystem
	index int
}

func (d *dirScan) Readdir() (fs.DirEntry, bool) {
	for uint32(d.index) < d.fs.rootEntCnt {
		entry, err := d.fs.readDirEntry(d.index)
		if err != nil {
			return fs.DirEntry{}, false
		}
		if entry[0] == dirNameEnd {
			return fs.DirEntry{}, false
		}
		if entry[0] != dirNameFree {
			dr := parseDirEntry(entry)
			typ := diritemGetType(dr.attr)
			if typ == fs.FileNormal || typ == fs.FileDir {
				de := fs.DirEntry{
					Index: d.index,
					Name:  diritemGetName(entry[0:11]),
					Type:  typ,
					Size:  dr.size,
				}
				d.index++
				return de, true
			}
		}
		d.index++
	}
	return fs.DirEntry{}, false
}

func (d *dirScan) Close() {}

// handle is one open FAT16 file, equivalent to the original's file_t
// plus the fields it stores from fat_t.
type handle struct {
	fs     *FileSystem
	size   uint32
	pos    uint32
	sblk   uint16
	cblk   uint16
	pIndex int
	mode   fs.OpenFlag
	typ    fs.FileType
}

func up2(n, align uint32) uint32 {
	return (n + align - 1) / align * align
}

// expand grows the file's cluster chain so it can hold incBytes more data
// than its current size, allocating nothing when the last cluster already
// has enough spare room. It does not itself update h.size; Write tracks
// that as bytes actually land.
func (h *handle) expand(incBytes uint32) *kernel.Error {
	f := h.fs
	var clusterCnt uint32

	if h.size == 0 || h.size%f.clusterByteSize == 0 {
		clusterCnt = up2(incBytes, f.clusterByteSize) / f.clusterByteSize
	} else {
		cfree := f.clusterByteSize - h.size%f.clusterByteSize
		if cfree >= incBytes {
			return nil
		}
		clusterCnt = up2(incBytes-cfree, f.clusterByteSize) / f.clusterByteSize
	}

	start, err := f.clusterAllocFree(int(clusterCnt))
	if err != nil {
		return err
	}

	if !clusterIsValid(h.sblk) {
		h.cblk, h.sblk = start, start
	} else if err := f.clusterSetNext(h.cblk, start); err != nil {
		return err
	}
	return nil
}

func (h *handle) movePos(moveBytes uint32, expand bool) *kernel.Error {
	f := h.fs
	cOffset := h.pos % f.clusterByteSize

	if cOffset+moveBytes >= f.clusterByteSize {
		next, err := f.clusterGetNext(h.cblk)
		if err != nil {
			return err
		}
		if next == clusterInvalid && expand {
			if err := h.expand(f.clusterByteSize); err != nil {
				return err
			}
			next, err = f.clusterGetNext(h.cblk)
			if err != nil {
				return err
			}
		}
		h.cblk = next
	}
	h.pos += moveBytes
	return nil
}

func (h *handle) Read(buf []byte) (int, *kernel.Error) {
	f := h.fs
	nbytes := uint32(len(buf))
	if h.pos+nbytes > h.size {
		nbytes = h.size - h.pos
	}

	out := buf
	var totalRead uint32
	for nbytes > 0 {
		currRead := nbytes
		clusterOffset := h.pos % f.clusterByteSize
		startSector := f.dataStart + uint32(h.cblk-2)*f.secPerCluster

		if clusterOffset == 0 && nbytes == f.clusterByteSize {
			n, err := f.dev.ReadSectors(startSector, int(f.secPerCluster), out[:f.clusterByteSize])
			if err != nil || uint32(n) != f.secPerCluster {
				return int(totalRead), nil
			}
			currRead = f.clusterByteSize
		} else {
			if clusterOffset+currRead > f.clusterByteSize {
				currRead = f.clusterByteSize - clusterOffset
			}
			f.currSector = -1
			clusterBuf := make([]byte, f.clusterByteSize)
			n, err := f.dev.ReadSectors(startSector, int(f.secPerCluster), clusterBuf)
			if err != nil || uint32(n) != f.secPerCluster {
				return int(totalRead), nil
			}
			copy(out[:currRead], clusterBuf[clusterOffset:clusterOffset+currRead])
		}

		out = out[currRead:]
		nbytes -= currRead
		totalRead += currRead

		if err := h.movePos(currRead, false); err != nil {
			return int(totalRead), nil
		}
	}
	return int(totalRead), nil
}

func (h *handle) Write(buf []byte) (int, *kernel.Error) {
	f := h.fs
	if h.pos+uint32(len(buf)) > h.size {
		if err := h.expand(h.pos + uint32(len(buf)) - h.size); err != nil {
			return 0, err
		}
	}

	in := buf
	nbytes := uint32(len(buf))
	var totalWrite uint32
	for nbytes > 0 {
		currWrite := nbytes
		clusterOffset := h.pos % f.clusterByteSize
		startSector := f.dataStart + uint32(h.cblk-2)*f.secPerCluster

		if clusterOffset == 0 && nbytes == f.clusterByteSize {
			n, err := f.dev.WriteSectors(startSector, int(f.secPerCluster), in[:f.clusterByteSize])
			if err != nil || uint32(n) != f.secPerCluster {
				return int(totalWrite), nil
			}
			currWrite = f.clusterByteSize
		} else {
			if clusterOffset+currWrite > f.clusterByteSize {
				currWrite = f.clusterByteSize - clusterOffset
			}
			f.currSector = -1
			clusterBuf := make([]byte, f.clusterByteSize)
			n, err := f.dev.ReadSectors(startSector, int(f.secPerCluster), clusterBuf)
			if err != nil || uint32(n) != f.secPerCluster {
				return int(totalWrite), nil
			}
			copy(clusterBuf[clusterOffset:clusterOffset+currWrite], in[:currWrite])
			if n, err := f.dev.WriteSectors(startSector, int(f.secPerCluster), clusterBuf); err != nil || uint32(n) != f.secPerCluster {
				return int(totalWrite), nil
			}
		}

		in = in[currWrite:]
		nbytes -= currWrite
		totalWrite += currWrite
		h.size += currWrite

		if err := h.movePos(currWrite, true); err != nil {
			return int(totalWrite), nil
		}
	}
	return int(totalWrite), nil
}

func (h *handle) Seek(offset uint32, fromStart bool) *kernel.Error {
	if !fromStart {
		return fs.ErrUnsupported
	}
	f := h.fs
	currCluster := h.sblk
	var currPos, toMove uint32 = 0, offset

	for toMove > 0 {
		cOff := currPos % f.clusterByteSize
		move := toMove
		if cOff+move < f.clusterByteSize {
			currPos += move
			break
		}
		move = f.clusterByteSize - cOff
		currPos += move
		toMove -= move

		next, err := f.clusterGetNext(currCluster)
		if err != nil {
			return err
		}
		if !clusterIsValid(next) {
			// Landing exactly on a cluster boundary with nothing left
			// to move is a valid seek-to-end-of-chain (e.g. seeking to
			// a file's size when that size is a multiple of the
			// cluster size): there is no next cluster yet because none
			// of the file's data needs one, not because the chain is
			// broken. Only a boundary crossing with more distance left
			// to cover is a real out-of-range seek.
			if toMove == 0 {
				break
			}
			return errBadCluster
		}
		currCluster = next
	}

	h.pos = currPos
	h.cblk = currCluster
	return nil
}

func (h *handle) Stat() (fs.Stat, *kernel.Error) {
	return fs.Stat{Size: int64(h.size), Type: h.typ}, nil
}

func (h *handle) Ioctl(cmd, arg0, arg1 int) (int, *kernel.Error) { return 0, fs.ErrUnsupported }
func (h *handle) IsTTY() bool                                    { return false }

// Close writes back the final size and first cluster, mirroring
// fatfs_close, unless the file was opened strictly read-only.
func (h *handle) Close() {
	if h.mode&(fs.OWRONLY|fs.ORDWR) == 0 {
		return
	}
	entry, err := h.fs.readDirEntry(h.pIndex)
	if err != nil {
		return
	}
	var name [11]byte
	copy(name[:], entry[0:11])
	h.fs.writeDirEntryAt(h.pIndex, name, entry[11], h.sblk, h.size)
}
