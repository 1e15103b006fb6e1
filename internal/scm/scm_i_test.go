package scm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"scmap/internal/mapdata"
)

// blastSample is the reference implode stream for "AIAIAIAIAIAIA".
var blastSample = []byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}

func scenarioBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte("VER DIM ERA OWNR"[i%16])
	}
	return out
}

func TestExplodeReferenceStream(t *testing.T) {
	out, err := explode(blastSample, 16)
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if string(out) != "AIAIAIAIAIAIA" {
		t.Fatalf("explode got %q", out)
	}
}

func TestExplodeTruncated(t *testing.T) {
	if _, err := explode(blastSample[:5], 16); err == nil {
		t.Fatalf("expected error for truncated stream")
	}
	if _, err := explode([]byte{0x02, 0x04}, 16); !errors.Is(err, errExplodeHeader) {
		t.Fatalf("expected header error, got %v", err)
	}
}

func TestExplodeStopsAtLimit(t *testing.T) {
	out, err := explode(blastSample, 4)
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if string(out) != "AIAI" {
		t.Fatalf("explode got %q", out)
	}
}

// declaredArchive is a tiny archive whose only entry claims fileSize bytes.
func declaredArchive(fileSize, flags uint32) *archive {
	return &archive{
		data:       make([]byte, 64),
		sectorSize: 4096,
		hashes: []hashEntry{{
			nameA:      hashString(ScenarioPath, hashTypeNameA),
			nameB:      hashString(ScenarioPath, hashTypeNameB),
			blockIndex: 0,
		}},
		blocks: []blockEntry{{fileSize: fileSize, flags: flags}},
	}
}

func TestReadFileDeclaredSizeIsNotTrusted(t *testing.T) {
	tests := []struct {
		name     string
		fileSize uint32
		flags    uint32
	}{
		{name: "far over limit compressed", fileSize: 0xFFFFFFF0, flags: flagExists | flagCompress},
		{name: "far over limit single unit", fileSize: 0xFFFFFFF0, flags: flagExists | flagSingleUnit | flagCompress},
		{name: "at limit compressed", fileSize: maxFileSize, flags: flagExists | flagCompress},
		{name: "at limit plain", fileSize: maxFileSize, flags: flagExists},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := declaredArchive(tc.fileSize, tc.flags)
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := a.readFile(ScenarioPath)
			runtime.ReadMemStats(&after)

			if !errors.Is(err, mapdata.ErrFormat) {
				t.Fatalf("expected format error, got %v", err)
			}
			if delta := after.TotalAlloc - before.TotalAlloc; delta > 8<<20 {
				t.Fatalf("allocated %d bytes for a %d byte archive", delta, len(a.data))
			}
		})
	}
}

func TestExtractVariants(t *testing.T) {
	big := scenarioBytes(10000)
	tests := []struct {
		name   string
		prefix int
		entry  testEntry
		want   []byte
	}{
		{
			name:  "single unit plain",
			entry: testEntry{name: ScenarioPath, data: []byte("plain scenario"), flags: flagSingleUnit},
			want:  []byte("plain scenario"),
		},
		{
			name:  "sectored zlib encrypted fixkey",
			entry: testEntry{name: ScenarioPath, data: big, flags: flagCompress | flagEncrypted | flagFixKey},
			want:  big,
		},
		{
			name:  "sectored uncompressed encrypted",
			entry: testEntry{name: ScenarioPath, data: big, flags: flagEncrypted},
			want:  big,
		},
		{
			name:  "imploded single unit",
			entry: testEntry{name: ScenarioPath, data: []byte("AIAIAIAIAIAIA"), raw: blastSample, flags: flagSingleUnit | flagImplode},
			want:  []byte("AIAIAIAIAIAIA"),
		},
		{
			name:   "header behind a prefix",
			prefix: 1024,
			entry:  testEntry{name: ScenarioPath, data: big, flags: flagCompress},
			want:   big,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := buildArchive(t, tc.prefix, tc.entry)
			got, err := NewExtractorI().Extract(bytes.NewReader(raw), "SCX")
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if !bytes.Equal(got.Scenario, tc.want) {
				t.Fatalf("scenario mismatch: got %d bytes want %d", len(got.Scenario), len(tc.want))
			}
			if got.Extension != "scx" {
				t.Fatalf("extension=%q want scx", got.Extension)
			}
			sum := sha256.Sum256(append([]byte("scx"), raw...))
			if got.Hash != hex.EncodeToString(sum[:]) {
				t.Fatalf("hash mismatch: %s", got.Hash)
			}
		})
	}
}

func TestHashFoldsExtension(t *testing.T) {
	raw := buildArchive(t, 0, testEntry{name: ScenarioPath, data: []byte("same bytes"), flags: flagSingleUnit})
	e := NewExtractorI()

	scx1, err := e.Extract(bytes.NewReader(raw), "scx")
	if err != nil {
		t.Fatalf("extract scx: %v", err)
	}
	scx2, err := e.Extract(bytes.NewReader(raw), "scx")
	if err != nil {
		t.Fatalf("extract scx again: %v", err)
	}
	scm, err := e.Extract(bytes.NewReader(raw), "scm")
	if err != nil {
		t.Fatalf("extract scm: %v", err)
	}
	if scx1.Hash != scx2.Hash {
		t.Fatalf("hash not deterministic: %s vs %s", scx1.Hash, scx2.Hash)
	}
	if scx1.Hash == scm.Hash {
		t.Fatalf("extension not folded into hash")
	}
	if len(scx1.Hash) != 64 {
		t.Fatalf("hash length=%d", len(scx1.Hash))
	}
}

func TestExtractFormatErrors(t *testing.T) {
	compressible := bytes.Repeat([]byte("x"), 5000)
	tests := []struct {
		name string
		raw  []byte
		ext  string
	}{
		{name: "garbage", raw: []byte("definitely not an archive"), ext: "scx"},
		{name: "unsupported extension", raw: []byte("MPQ\x1A"), ext: "zip"},
		{name: "missing scenario", raw: buildArchive(t, 0, testEntry{name: "other.txt", data: []byte("x"), flags: flagSingleUnit}), ext: "scm"},
		{name: "unsupported mask", raw: buildArchive(t, 0, testEntry{name: ScenarioPath, data: compressible, flags: flagCompress, mask: 0x01}), ext: "scm"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewExtractorI().Extract(bytes.NewReader(tc.raw), tc.ext)
			if !errors.Is(err, mapdata.ErrFormat) {
				t.Fatalf("expected format error, got %v", err)
			}
		})
	}
}

func TestExtractFile(t *testing.T) {
	raw := buildArchive(t, 0, testEntry{name: ScenarioPath, data: []byte("from disk"), flags: flagSingleUnit})
	path := filepath.Join(t.TempDir(), "upload.scm")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewExtractorI().ExtractFile(path, "scm")
	if err != nil {
		t.Fatalf("extract file: %v", err)
	}
	if string(got.Scenario) != "from disk" {
		t.Fatalf("scenario=%q", got.Scenario)
	}

	if _, err := NewExtractorI().ExtractFile(filepath.Join(t.TempDir(), "missing.scm"), "scm"); !errors.Is(err, mapdata.ErrFormat) {
		t.Fatalf("expected format error for missing file, got %v", err)
	}
}
