package scm

import (
	"errors"
	"fmt"
)

// PKWARE DCL "implode" decoder. Sectors flagged with the implode bit or the
// 0x08 compression mask are stored in this format.

const explodeMaxBits = 13

var (
	errExplodeInput    = errors.New("explode: unexpected end of input")
	errExplodeHeader   = errors.New("explode: invalid header")
	errExplodeCode     = errors.New("explode: invalid code")
	errExplodeDistance = errors.New("explode: distance too far back")
)

type huffman struct {
	count  [explodeMaxBits + 1]int
	symbol []int
}

// Code lengths in run-length form: high nibble is repeat-1, low nibble the
// bit length.
var (
	litLen = []byte{
		11, 124, 8, 7, 28, 7, 188, 13, 76, 4, 10, 8, 12, 10, 12, 10, 8, 23, 8,
		9, 7, 6, 7, 8, 7, 6, 55, 8, 23, 24, 12, 11, 7, 9, 11, 12, 6, 7, 22, 5,
		7, 24, 6, 11, 9, 6, 7, 22, 7, 11, 38, 7, 9, 8, 25, 11, 8, 11, 9, 12,
		8, 12, 5, 38, 5, 38, 5, 11, 7, 5, 6, 21, 6, 10, 53, 8, 7, 24, 10, 27,
		44, 253, 253, 253, 252, 252, 252, 13, 12, 45, 12, 45, 12, 61, 12, 45,
		44, 173}
	lenLen  = []byte{2, 35, 36, 53, 38, 23}
	distLen = []byte{2, 20, 53, 230, 247, 151, 248}

	lenBase  = [16]int{3, 2, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}
	lenExtra = [16]int{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}

	litCode  = mustHuffman(litLen, 256)
	lenCode  = mustHuffman(lenLen, 16)
	distCode = mustHuffman(distLen, 64)
)

func mustHuffman(rep []byte, n int) *huffman {
	h, err := newHuffman(rep, n)
	if err != nil {
		panic(err)
	}
	return h
}

func newHuffman(rep []byte, n int) (*huffman, error) {
	lengths := make([]int, 0, n)
	for _, r := range rep {
		for left := int(r>>4) + 1; left > 0; left-- {
			lengths = append(lengths, int(r&15))
		}
	}
	if len(lengths) != n {
		return nil, fmt.Errorf("explode: table has %d symbols, want %d", len(lengths), n)
	}

	h := &huffman{symbol: make([]int, n)}
	for _, l := range lengths {
		h.count[l]++
	}
	left := 1
	for l := 1; l <= explodeMaxBits; l++ {
		left <<= 1
		left -= h.count[l]
		if left < 0 {
			return nil, errors.New("explode: over-subscribed table")
		}
	}

	var offs [explodeMaxBits + 1]int
	for l := 1; l < explodeMaxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = sym
			offs[l]++
		}
	}
	return h, nil
}

type bitReader struct {
	in     []byte
	pos    int
	bitbuf uint32
	bitcnt uint
}

// bits returns the next need bits, least significant first.
func (r *bitReader) bits(need uint) (int, error) {
	val := r.bitbuf
	for r.bitcnt < need {
		if r.pos >= len(r.in) {
			return 0, errExplodeInput
		}
		val |= uint32(r.in[r.pos]) << r.bitcnt
		r.pos++
		r.bitcnt += 8
	}
	r.bitbuf = val >> need
	r.bitcnt -= need
	return int(val & (1<<need - 1)), nil
}

// decode reads one symbol. Codes are stored bit-inverted.
func (r *bitReader) decode(h *huffman) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= explodeMaxBits; l++ {
		b, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		code |= b ^ 1
		count := h.count[l]
		if code-first < count {
			return h.symbol[index+code-first], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, errExplodeCode
}

// explode decompresses src, producing at most limit bytes.
func explode(src []byte, limit int) ([]byte, error) {
	r := &bitReader{in: src}
	lit, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if lit > 1 {
		return nil, errExplodeHeader
	}
	dict, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if dict < 4 || dict > 6 {
		return nil, errExplodeHeader
	}

	out := make([]byte, 0, min(limit, 4*len(src)))
	for {
		flag, err := r.bits(1)
		if err != nil {
			return nil, err
		}
		if flag == 0 {
			var sym int
			if lit != 0 {
				sym, err = r.decode(litCode)
			} else {
				sym, err = r.bits(8)
			}
			if err != nil {
				return nil, err
			}
			out = append(out, byte(sym))
			if len(out) >= limit {
				return out[:limit], nil
			}
			continue
		}

		sym, err := r.decode(lenCode)
		if err != nil {
			return nil, err
		}
		extra, err := r.bits(uint(lenExtra[sym]))
		if err != nil {
			return nil, err
		}
		length := lenBase[sym] + extra
		if length == 519 {
			return out, nil
		}

		shift := dict
		if length == 2 {
			shift = 2
		}
		dist, err := r.decode(distCode)
		if err != nil {
			return nil, err
		}
		low, err := r.bits(uint(shift))
		if err != nil {
			return nil, err
		}
		dist = dist<<shift + low + 1
		if dist > len(out) {
			return nil, errExplodeDistance
		}
		// Byte-wise copy: source and destination may overlap.
		from := len(out) - dist
		for i := 0; i < length; i++ {
			out = append(out, out[from+i])
			if len(out) >= limit {
				return out[:limit], nil
			}
		}
	}
}
