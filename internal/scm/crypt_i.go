package scm

import (
	"encoding/binary"
	"strings"
)

const (
	hashTypeOffset = 0
	hashTypeNameA  = 1
	hashTypeNameB  = 2
	hashTypeKey    = 3
)

var cryptTable = buildCryptTable()

func buildCryptTable() [0x500]uint32 {
	var table [0x500]uint32
	seed := uint32(0x00100001)
	for i := 0; i < 0x100; i++ {
		for j := 0; j < 5; j++ {
			idx := i + j*0x100
			seed = (seed*125 + 3) % 0x2AAAAB
			hi := (seed & 0xFFFF) << 16
			seed = (seed*125 + 3) % 0x2AAAAB
			lo := seed & 0xFFFF
			table[idx] = hi | lo
		}
	}
	return table
}

// hashString is the archive's case-insensitive name hash. Forward slashes
// are treated as backslashes.
func hashString(name string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)
	for _, b := range []byte(strings.ToUpper(name)) {
		if b == '/' {
			b = '\\'
		}
		ch := uint32(b)
		seed1 = cryptTable[hashType*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}
	return seed1
}

// decryptBlock decrypts whole little-endian words of buf in place. Trailing
// bytes that do not fill a word are left alone.
func decryptBlock(buf []byte, key uint32) {
	seed := uint32(0xEEEEEEEE)
	for i := 0; i+4 <= len(buf); i += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		ch := binary.LittleEndian.Uint32(buf[i:]) ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = ch + seed + (seed << 5) + 3
		binary.LittleEndian.PutUint32(buf[i:], ch)
	}
}

// fileKey derives the decryption key of an archived file from its base name.
func fileKey(name string, filePos, fileSize uint32, fixKey bool) uint32 {
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	key := hashString(name, hashTypeKey)
	if fixKey {
		key = (key + filePos) ^ fileSize
	}
	return key
}
