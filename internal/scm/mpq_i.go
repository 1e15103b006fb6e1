package scm

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"scmap/internal/mapdata"
)

const (
	headerMagic    = "MPQ\x1A"
	headerAlign    = 512
	headerSize     = 32
	maxSectorShift = 16
	// maxFileSize bounds the declared size of an extracted entry. Scenario
	// payloads are a few megabytes at most.
	maxFileSize = 16 << 20

	hashEntryEmpty   = 0xFFFFFFFF
	hashEntryDeleted = 0xFFFFFFFE

	flagImplode    = 0x00000100
	flagCompress   = 0x00000200
	flagEncrypted  = 0x00010000
	flagFixKey     = 0x00020000
	flagSingleUnit = 0x01000000
	flagSectorCRC  = 0x04000000
	flagExists     = 0x80000000

	compZlib    = 0x02
	compImplode = 0x08
	compBzip2   = 0x10
)

// ScenarioPath is the archive entry holding the scenario payload.
const ScenarioPath = `staredit\scenario.chk`

type hashEntry struct {
	nameA, nameB uint32
	locale       uint16
	platform     uint16
	blockIndex   uint32
}

type blockEntry struct {
	filePos, compressedSize, fileSize, flags uint32
}

type archive struct {
	data       []byte
	sectorSize int
	hashes     []hashEntry
	blocks     []blockEntry
}

func formatErr(format string, args ...any) error {
	return mapdata.Errorf(mapdata.KindFormat, format, args...)
}

// openArchive locates the archive header on a 512-byte boundary and loads
// both tables. Tables running past the end of the data are truncated.
func openArchive(data []byte) (*archive, error) {
	start := -1
	for off := 0; off+headerSize <= len(data); off += headerAlign {
		if string(data[off:off+4]) == headerMagic {
			start = off
			break
		}
	}
	if start < 0 {
		return nil, formatErr("archive header not found")
	}
	data = data[start:]
	le := binary.LittleEndian

	shift := le.Uint16(data[14:])
	if shift > maxSectorShift {
		return nil, formatErr("sector shift %d out of range", shift)
	}
	a := &archive{data: data, sectorSize: 512 << shift}

	hashPos, blockPos := le.Uint32(data[16:]), le.Uint32(data[20:])
	hashCount, blockCount := le.Uint32(data[24:]), le.Uint32(data[28:])

	raw := a.table(hashPos, hashCount, hashString("(hash table)", hashTypeKey))
	if len(raw) < 16 {
		return nil, formatErr("hash table is empty")
	}
	for i := 0; i+16 <= len(raw); i += 16 {
		a.hashes = append(a.hashes, hashEntry{
			nameA:      le.Uint32(raw[i:]),
			nameB:      le.Uint32(raw[i+4:]),
			locale:     le.Uint16(raw[i+8:]),
			platform:   le.Uint16(raw[i+10:]),
			blockIndex: le.Uint32(raw[i+12:]),
		})
	}

	raw = a.table(blockPos, blockCount, hashString("(block table)", hashTypeKey))
	for i := 0; i+16 <= len(raw); i += 16 {
		a.blocks = append(a.blocks, blockEntry{
			filePos:        le.Uint32(raw[i:]),
			compressedSize: le.Uint32(raw[i+4:]),
			fileSize:       le.Uint32(raw[i+8:]),
			flags:          le.Uint32(raw[i+12:]),
		})
	}
	return a, nil
}

func (a *archive) table(pos, count, key uint32) []byte {
	if uint64(pos) >= uint64(len(a.data)) {
		return nil
	}
	end := uint64(pos) + uint64(count)*16
	if end > uint64(len(a.data)) {
		end = uint64(len(a.data))
	}
	buf := make([]byte, end-uint64(pos))
	copy(buf, a.data[pos:end])
	decryptBlock(buf, key)
	return buf
}

func (a *archive) lookup(name string) (blockEntry, bool) {
	n := uint32(len(a.hashes))
	startIdx := hashString(name, hashTypeOffset) % n
	nameA := hashString(name, hashTypeNameA)
	nameB := hashString(name, hashTypeNameB)
	for i := uint32(0); i < n; i++ {
		e := a.hashes[(startIdx+i)%n]
		if e.blockIndex == hashEntryEmpty {
			break
		}
		if e.blockIndex == hashEntryDeleted || e.nameA != nameA || e.nameB != nameB {
			continue
		}
		if int(e.blockIndex) >= len(a.blocks) {
			continue
		}
		b := a.blocks[e.blockIndex]
		if b.flags&flagExists == 0 {
			continue
		}
		return b, true
	}
	return blockEntry{}, false
}

func (a *archive) slice(pos, size uint64) ([]byte, error) {
	if pos > uint64(len(a.data)) || pos+size > uint64(len(a.data)) {
		return nil, formatErr("data at %d+%d exceeds archive", pos, size)
	}
	out := make([]byte, size)
	copy(out, a.data[pos:pos+size])
	return out, nil
}

func (a *archive) readFile(name string) ([]byte, error) {
	b, ok := a.lookup(name)
	if !ok {
		return nil, formatErr("archive has no %s", name)
	}
	if b.fileSize > maxFileSize {
		return nil, formatErr("%s declares %d bytes, limit is %d", name, b.fileSize, maxFileSize)
	}

	var key uint32
	if b.flags&flagEncrypted != 0 {
		key = fileKey(name, b.filePos, b.fileSize, b.flags&flagFixKey != 0)
	}
	compressed := b.flags&(flagCompress|flagImplode) != 0

	if b.flags&flagSingleUnit != 0 {
		raw, err := a.slice(uint64(b.filePos), uint64(b.compressedSize))
		if err != nil {
			return nil, err
		}
		if b.flags&flagEncrypted != 0 {
			decryptBlock(raw, key)
		}
		if compressed && b.compressedSize < b.fileSize {
			return decompressSector(raw, int(b.fileSize), b.flags)
		}
		if len(raw) > int(b.fileSize) {
			raw = raw[:b.fileSize]
		}
		return raw, nil
	}

	sectors := (int(b.fileSize) + a.sectorSize - 1) / a.sectorSize
	// Compressed data grows the buffer as it inflates; the declared size is
	// never trusted for the up-front allocation.
	out := make([]byte, 0, min(int(b.fileSize), len(a.data)))

	if !compressed {
		for i := 0; i < sectors; i++ {
			size := min(a.sectorSize, int(b.fileSize)-i*a.sectorSize)
			raw, err := a.slice(uint64(b.filePos)+uint64(i*a.sectorSize), uint64(size))
			if err != nil {
				return nil, err
			}
			if b.flags&flagEncrypted != 0 {
				decryptBlock(raw, key+uint32(i))
			}
			out = append(out, raw...)
		}
		return out, nil
	}

	entries := sectors + 1
	if b.flags&flagSectorCRC != 0 {
		entries++
	}
	offTable, err := a.slice(uint64(b.filePos), uint64(entries*4))
	if err != nil {
		return nil, err
	}
	if b.flags&flagEncrypted != 0 {
		decryptBlock(offTable, key-1)
	}
	offsets := make([]uint32, entries)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(offTable[i*4:])
	}

	for i := 0; i < sectors; i++ {
		if offsets[i+1] < offsets[i] {
			return nil, formatErr("sector %d has negative size", i)
		}
		raw, err := a.slice(uint64(b.filePos)+uint64(offsets[i]), uint64(offsets[i+1]-offsets[i]))
		if err != nil {
			return nil, err
		}
		if b.flags&flagEncrypted != 0 {
			decryptBlock(raw, key+uint32(i))
		}
		want := min(a.sectorSize, int(b.fileSize)-i*a.sectorSize)
		if len(raw) < want {
			raw, err = decompressSector(raw, want, b.flags)
			if err != nil {
				return nil, fmt.Errorf("sector %d: %w", i, err)
			}
		}
		if len(raw) > want {
			raw = raw[:want]
		}
		out = append(out, raw...)
	}
	return out, nil
}

// decompressSector inflates one sector. Imploded files carry no compression
// mask byte; compressed ones start with a mask of the applied methods.
func decompressSector(raw []byte, want int, flags uint32) ([]byte, error) {
	if flags&flagImplode != 0 {
		out, err := explode(raw, want)
		if err != nil {
			return nil, mapdata.Wrap(mapdata.KindFormat, "implode", err)
		}
		return out, nil
	}
	if len(raw) == 0 {
		return nil, formatErr("empty compressed sector")
	}
	mask, buf := raw[0], raw[1:]
	if mask&^(compZlib|compImplode|compBzip2) != 0 {
		return nil, formatErr("unsupported compression mask 0x%02x", mask)
	}

	var err error
	if mask&compBzip2 != 0 {
		if buf, err = readLimited(bzip2.NewReader(bytes.NewReader(buf)), want); err != nil {
			return nil, mapdata.Wrap(mapdata.KindFormat, "bzip2", err)
		}
	}
	if mask&compImplode != 0 {
		if buf, err = explode(buf, want); err != nil {
			return nil, mapdata.Wrap(mapdata.KindFormat, "implode", err)
		}
	}
	if mask&compZlib != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, mapdata.Wrap(mapdata.KindFormat, "zlib", err)
		}
		buf, err = readLimited(zr, want)
		zr.Close()
		if err != nil {
			return nil, mapdata.Wrap(mapdata.KindFormat, "zlib", err)
		}
	}
	return buf, nil
}

func readLimited(r io.Reader, want int) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, int64(want)))
}
