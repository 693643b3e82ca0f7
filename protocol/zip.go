package protocol

import "encoding/binary"

// ZipUint64 packs an integer into its shortest little-endian form; zero
// packs to an empty string.
func ZipUint64(v uint64) []byte {
	var ret [8]byte
	binary.LittleEndian.PutUint64(ret[:], v)
	n := 8
	for n > 0 && ret[n-1] == 0 {
		n--
	}
	return ret[:n]
}

func UnzipUint64(zip []byte) (v uint64) {
	if len(zip) > 8 {
		return 0
	}
	var buf [8]byte
	copy(buf[:], zip)
	return binary.LittleEndian.Uint64(buf[:])
}

// AppendZipUint64 appends the packed form as a TLV record of the given type.
func AppendZipUint64(into []byte, lit byte, v uint64) []byte {
	return AppendRecord(into, lit, ZipUint64(v))
}
