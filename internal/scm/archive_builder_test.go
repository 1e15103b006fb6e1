package scm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
)

const testSectorShift = 3 // 4096-byte sectors

type testEntry struct {
	name  string
	data  []byte
	flags uint32
	// raw, when set, is stored as-is for a single-unit entry and data is
	// only used for the declared file size.
	raw []byte
	// mask overrides the compression mask byte for compressed sectors.
	mask byte
}

func encryptBlock(buf []byte, key uint32) {
	seed := uint32(0xEEEEEEEE)
	for i := 0; i+4 <= len(buf); i += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		ch := binary.LittleEndian.Uint32(buf[i:])
		binary.LittleEndian.PutUint32(buf[i:], ch^(key+seed))
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = ch + seed + (seed << 5) + 3
	}
}

func zlibBytes(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func encodeEntry(t *testing.T, e testEntry, filePos uint32) (stored []byte, compressedSize uint32) {
	t.Helper()
	size := uint32(len(e.data))
	var key uint32
	if e.flags&flagEncrypted != 0 {
		key = fileKey(e.name, filePos, size, e.flags&flagFixKey != 0)
	}

	if e.flags&flagSingleUnit != 0 {
		out := append([]byte(nil), e.data...)
		if e.raw != nil {
			out = append([]byte(nil), e.raw...)
		}
		if e.flags&flagEncrypted != 0 {
			encryptBlock(out, key)
		}
		return out, uint32(len(out))
	}

	sectorSize := 512 << testSectorShift
	var sectors [][]byte
	for off := 0; off < len(e.data); off += sectorSize {
		end := min(off+sectorSize, len(e.data))
		s := append([]byte(nil), e.data[off:end]...)
		if e.flags&flagCompress != 0 {
			mask := e.mask
			if mask == 0 {
				mask = compZlib
			}
			z := append([]byte{mask}, zlibBytes(t, s)...)
			if len(z) < len(s) {
				s = z
			}
		}
		sectors = append(sectors, s)
	}

	if e.flags&flagCompress == 0 {
		var out []byte
		for i, s := range sectors {
			if e.flags&flagEncrypted != 0 {
				encryptBlock(s, key+uint32(i))
			}
			out = append(out, s...)
		}
		return out, uint32(len(out))
	}

	table := make([]byte, (len(sectors)+1)*4)
	pos := uint32(len(table))
	var body []byte
	for i, s := range sectors {
		binary.LittleEndian.PutUint32(table[i*4:], pos)
		if e.flags&flagEncrypted != 0 {
			encryptBlock(s, key+uint32(i))
		}
		body = append(body, s...)
		pos += uint32(len(s))
	}
	binary.LittleEndian.PutUint32(table[len(sectors)*4:], pos)
	if e.flags&flagEncrypted != 0 {
		encryptBlock(table, key-1)
	}
	out := append(table, body...)
	return out, uint32(len(out))
}

// buildArchive lays out prefix bytes, a header, the file data and both
// tables, the way map editors write them.
func buildArchive(t *testing.T, prefix int, entries ...testEntry) []byte {
	t.Helper()
	const hashCount = 16
	le := binary.LittleEndian

	var files []byte
	blocks := make([]byte, 0, len(entries)*16)
	for _, e := range entries {
		filePos := uint32(headerSize + len(files))
		stored, csize := encodeEntry(t, e, filePos)
		files = append(files, stored...)
		var b [16]byte
		le.PutUint32(b[0:], filePos)
		le.PutUint32(b[4:], csize)
		le.PutUint32(b[8:], uint32(len(e.data)))
		le.PutUint32(b[12:], e.flags|flagExists)
		blocks = append(blocks, b[:]...)
	}

	hashes := bytes.Repeat([]byte{0xFF}, hashCount*16)
	for i, e := range entries {
		idx := hashString(e.name, hashTypeOffset) % hashCount
		for le.Uint32(hashes[idx*16+12:]) != hashEntryEmpty {
			idx = (idx + 1) % hashCount
		}
		le.PutUint32(hashes[idx*16:], hashString(e.name, hashTypeNameA))
		le.PutUint32(hashes[idx*16+4:], hashString(e.name, hashTypeNameB))
		le.PutUint32(hashes[idx*16+8:], 0)
		le.PutUint32(hashes[idx*16+12:], uint32(i))
	}
	encryptBlock(hashes, hashString("(hash table)", hashTypeKey))
	encryptBlock(blocks, hashString("(block table)", hashTypeKey))

	hashPos := uint32(headerSize + len(files))
	blockPos := hashPos + uint32(len(hashes))
	header := make([]byte, headerSize)
	copy(header, headerMagic)
	le.PutUint32(header[4:], headerSize)
	le.PutUint32(header[8:], blockPos+uint32(len(blocks)))
	le.PutUint16(header[14:], testSectorShift)
	le.PutUint32(header[16:], hashPos)
	le.PutUint32(header[20:], blockPos)
	le.PutUint32(header[24:], hashCount)
	le.PutUint32(header[28:], uint32(len(entries)))

	out := make([]byte, prefix)
	out = append(out, header...)
	out = append(out, files...)
	out = append(out, hashes...)
	out = append(out, blocks...)
	return out
}
