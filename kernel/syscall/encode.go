package syscall

import (
	"encoding/binary"

	"protios/kernel/fs"
)

const direntNameSize = 255

func encodeInt32(v int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	return buf
}

// encodeStat lays out fs.Stat the way struct stat's two fields sys_fstat
// fills are consumed by lib_syscall.h's caller: a type code then a
// 64-bit size, both little-endian.
func encodeStat(st fs.Stat) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(st.Type))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(st.Size))
	return buf
}

// encodeDirent lays out fs.DirEntry the way lib_syscall.h's struct
// dirent does: index, type, a fixed 255-byte name field, then size.
func encodeDirent(e fs.DirEntry) []byte {
	buf := make([]byte, 4+4+direntNameSize+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Index))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Type))
	n := copy(buf[8:8+direntNameSize], e.Name)
	_ = n
	binary.LittleEndian.PutUint32(buf[8+direntNameSize:], e.Size)
	return buf
}
