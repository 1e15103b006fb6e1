package chk

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// maxSections bounds the section walk. Negative section sizes move the
// cursor backwards, so a crafted file could otherwise loop forever.
const maxSections = 1 << 16

type sections map[string][]byte

// splitSections walks the section list. A later section with the same name
// replaces an earlier one; a truncated final section keeps what is present.
func splitSections(data []byte) sections {
	out := sections{}
	pos := 0
	for i := 0; i < maxSections && pos >= 0 && pos+8 <= len(data); i++ {
		name := string(data[pos : pos+4])
		size := int(int32(binary.LittleEndian.Uint32(data[pos+4:])))
		pos += 8
		if size < 0 {
			pos += size
			continue
		}
		end := min(pos+size, len(data))
		out[name] = data[pos:end]
		pos += size
	}
	return out
}

// padded returns the named section extended with zeros to at least n bytes.
func (s sections) padded(name string, n int) []byte {
	b := s[name]
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (s sections) has(name string) bool {
	_, ok := s[name]
	return ok
}

type stringTable struct {
	data  []byte
	wide  bool
	count int
}

// newStringTable prefers the extended table when both are present.
func newStringTable(s sections) *stringTable {
	if b, ok := s["STRx"]; ok {
		t := &stringTable{data: b, wide: true}
		if len(b) >= 4 {
			t.count = int(binary.LittleEndian.Uint32(b))
		}
		return t
	}
	b := s["STR "]
	t := &stringTable{data: b}
	if len(b) >= 2 {
		t.count = int(binary.LittleEndian.Uint16(b))
	}
	return t
}

// get resolves a 1-based string id. Id 0 and unresolvable ids yield "".
func (t *stringTable) get(id int) string {
	if id <= 0 || id > t.count {
		return ""
	}
	var off int
	if t.wide {
		at := 4 + (id-1)*4
		if at+4 > len(t.data) {
			return ""
		}
		off = int(binary.LittleEndian.Uint32(t.data[at:]))
	} else {
		at := 2 + (id-1)*2
		if at+2 > len(t.data) {
			return ""
		}
		off = int(binary.LittleEndian.Uint16(t.data[at:]))
	}
	if off < 0 || off >= len(t.data) {
		return ""
	}
	raw := t.data[off:]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return cleanString(raw)
}

// cleanString decodes legacy bytes and removes color and control codes.
func cleanString(raw []byte) string {
	var s string
	if utf8.Valid(raw) {
		s = string(raw)
	} else {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			decoded = []byte(strings.ToValidUTF8(string(raw), ""))
		}
		s = string(decoded)
	}
	return strings.Map(func(r rune) rune {
		if isFormattingCode(r) {
			return -1
		}
		return r
	}, s)
}

func isFormattingCode(r rune) bool {
	switch {
	case r >= 0x01 && r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r == 0x7F:
		return true
	}
	return false
}
