// Package codec implements the little-endian fixed-width and length-encoded
// integer/string primitives of the MySQL client/server wire protocol.
//
// Every helper writes into or reads from an explicit offset within a caller
// supplied slice, the same calling convention the teacher's packet encoders
// use, rather than going through an io.Writer: the framer and packet records
// build complete packets into a single backing array before a single write
// syscall, and fixed offsets make that cheap to reason about.
package codec

import "fmt"

// Width classes for fixed-length integers, per MySQL's int<N> notation.
const (
	Int1 = 1
	Int2 = 2
	Int3 = 3
	Int4 = 4
	Int6 = 6
	Int8 = 8
)

// HeaderSize is the 4-byte packet header: 3-byte length + 1-byte sequence.
const HeaderSize = 4

// MaxPacketSize is the largest payload length a single 3-byte packet header
// can express; longer messages need continuation packets, which the core does
// not implement (spec Non-goals). The framer does not compare packet lengths
// against this constant.
const MaxPacketSize = (1 << 24) - 1

// NullLenenc is the sentinel lenenc tag byte meaning SQL NULL.
const NullLenenc = 0xfb

// WriteFixedLenInt writes n as a fixed-width little-endian integer of width
// bytes at data[pos], and advances pos.
func WriteFixedLenInt(data []byte, width int, n uint64, pos *int) {
	if len(data[*pos:]) < width {
		panic(fmt.Sprintf("codec: buffer too small for fixed int of width %d", width))
	}
	for i := 0; i < width; i++ {
		data[*pos+i] = byte(n >> (8 * uint(i)))
	}
	*pos += width
}

// ReadFixedLenInt reads a fixed-width little-endian integer of width bytes
// from data[pos], and advances pos.
func ReadFixedLenInt(data []byte, width int, pos *int) uint64 {
	if len(data[*pos:]) < width {
		panic(fmt.Sprintf("codec: buffer too small for fixed int of width %d", width))
	}
	var n uint64
	for i := 0; i < width; i++ {
		n |= uint64(data[*pos+i]) << (8 * uint(i))
	}
	*pos += width
	return n
}

// LenencWidth returns the on-wire byte width (including the tag byte, where
// applicable) that WriteLenEncInt would use to encode n.
//
// The spec (§4.A, §9a) flags a documentation conflict around the 0xFD tag:
// some decoders read 3 bytes after the tag (4 total), others read 4 (5
// total). This implementation encodes and decodes 0xFD as 3 trailing bytes
// (4 bytes total on the wire), matching the width table in spec.md §4.A.
// That choice is pinned by TestLenencRoundTrip in codec_test.go.
func LenencWidth(n uint64) int {
	switch {
	case n < 251:
		return 1
	case n < 1<<16:
		return 3
	case n < 1<<24:
		return 4
	default:
		return 9
	}
}

// WriteLenEncInt writes n as a MySQL length-encoded integer at data[pos],
// and advances pos.
func WriteLenEncInt(data []byte, n uint64, pos *int) {
	switch w := LenencWidth(n); w {
	case 1:
		WriteFixedLenInt(data, Int1, n, pos)
	case 3:
		data[*pos] = 0xfc
		*pos++
		WriteFixedLenInt(data, Int2, n, pos)
	case 4:
		data[*pos] = 0xfd
		*pos++
		WriteFixedLenInt(data, Int3, n, pos)
	case 9:
		data[*pos] = 0xfe
		*pos++
		WriteFixedLenInt(data, Int8, n, pos)
	}
}

// WriteLenEncNull writes the lenenc NULL sentinel (0xfb) at data[pos].
func WriteLenEncNull(data []byte, pos *int) {
	data[*pos] = NullLenenc
	*pos++
}

// ReadLenEncInt reads a MySQL length-encoded integer from data[pos] and
// advances pos. isNull reports whether the tag byte was the 0xfb NULL
// sentinel, in which case n is always 0.
func ReadLenEncInt(data []byte, pos *int) (n uint64, isNull bool) {
	first := data[*pos]
	switch {
	case first < 0xfb:
		return ReadFixedLenInt(data, Int1, pos), false
	case first == NullLenenc:
		*pos++
		return 0, true
	case first == 0xfc:
		*pos++
		return ReadFixedLenInt(data, Int2, pos), false
	case first == 0xfd:
		*pos++
		return ReadFixedLenInt(data, Int3, pos), false
	default: // 0xfe
		*pos++
		return ReadFixedLenInt(data, Int8, pos), false
	}
}

// String encodings, per MySQL's string<T> notation.
type StringType int

const (
	// EOFStr consumes the remainder of the packet.
	EOFStr StringType = iota
	// NullStr is NUL-terminated.
	NullStr
	// FixedStr has a caller-known, hardcoded length.
	FixedStr
	// LenencStr is prefixed by a lenenc integer giving its length.
	LenencStr
)

// WriteString writes str at data[pos] using the given encoding, advancing
// pos. l is the fixed length for FixedStr (zero-padded/truncated to that width);
// it is ignored for the other encodings.
func WriteString(data []byte, str string, kind StringType, pos *int, l int) {
	switch kind {
	case NullStr:
		*pos += copy(data[*pos:], str)
		data[*pos] = 0x00
		*pos++
	case LenencStr:
		WriteLenEncInt(data, uint64(len(str)), pos)
		*pos += copy(data[*pos:*pos+len(str)], str)
	case FixedStr:
		n := copy(data[*pos:*pos+l], str)
		for i := n; i < l; i++ {
			data[*pos+i] = 0x00
		}
		*pos += l
	case EOFStr:
		*pos += copy(data[*pos:], str)
	}
}

// ReadString reads a string from data[pos] using the given encoding,
// advancing pos. l is the fixed length to read for FixedStr/EOFStr.
func ReadString(data []byte, kind StringType, pos *int, l int) []byte {
	switch kind {
	case NullStr:
		start := *pos
		for *pos < len(data) && data[*pos] != 0x00 {
			*pos++
		}
		out := data[start:*pos]
		if *pos < len(data) {
			*pos++ // consume the terminator
		}
		return out
	case LenencStr:
		n, isNull := ReadLenEncInt(data, pos)
		if isNull || n == 0 {
			return nil
		}
		out := data[*pos : *pos+int(n)]
		*pos += int(n)
		return out
	case FixedStr, EOFStr:
		out := data[*pos : *pos+l]
		*pos += l
		return out
	}
	return nil
}
