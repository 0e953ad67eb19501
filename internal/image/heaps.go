package image

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	ilerrors "ilpatch/internal/errors"
)

// ReadCompressedUint decodes an ECMA-335 II.23.2 compressed unsigned integer
// and returns it with the number of bytes consumed.
func ReadCompressedUint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, ilerrors.WrapMalformed("compressed integer", nil)
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, ilerrors.WrapMalformed("compressed integer", nil)
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, ilerrors.WrapMalformed("compressed integer", nil)
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, ilerrors.WrapMalformed(fmt.Sprintf("compressed integer lead byte 0x%02X", b[0]), nil)
}

// AppendCompressedUint appends v in compressed form.
func AppendCompressedUint(dst []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(dst, byte(v))
	case v < 0x4000:
		return append(dst, byte(v>>8)|0x80, byte(v))
	default:
		return append(dst, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v))
	}
}

// ReadCompressedInt decodes a compressed signed integer (II.23.2, rotated
// sign bit form).
func ReadCompressedInt(b []byte) (int32, int, error) {
	u, n, err := ReadCompressedUint(b)
	if err != nil {
		return 0, 0, err
	}
	negative := u&1 != 0
	u >>= 1
	if negative {
		switch n {
		case 1:
			return int32(u) - 0x40, n, nil
		case 2:
			return int32(u) - 0x2000, n, nil
		default:
			return int32(u) - 0x10000000, n, nil
		}
	}
	return int32(u), n, nil
}

// AppendCompressedInt appends v in compressed signed form.
func AppendCompressedInt(dst []byte, v int32) []byte {
	switch {
	case v >= -0x40 && v < 0x40:
		u := uint32(v) & 0x7F
		return append(dst, byte(u<<1|u>>6)&0x7F)
	case v >= -0x2000 && v < 0x2000:
		u := uint32(v) & 0x3FFF
		u = (u<<1 | u>>13) & 0x3FFF
		return append(dst, byte(u>>8)|0x80, byte(u))
	default:
		u := uint32(v) & 0x1FFFFFFF
		u = (u<<1 | u>>28) & 0x1FFFFFFF
		return append(dst, byte(u>>24)|0xC0, byte(u>>16), byte(u>>8), byte(u))
	}
}

// StringHeap is the #Strings heap. Existing offsets never move; new strings
// are appended.
type StringHeap struct {
	data  []byte
	index map[string]uint32
}

func newStringHeap(data []byte) *StringHeap {
	if len(data) == 0 {
		data = []byte{0}
	}
	h := &StringHeap{data: data, index: make(map[string]uint32)}
	start := 0
	for i, b := range data {
		if b == 0 {
			if _, ok := h.index[string(data[start:i])]; !ok {
				h.index[string(data[start:i])] = uint32(start)
			}
			start = i + 1
		}
	}
	return h
}

// Get returns the NUL-terminated string at offset.
func (h *StringHeap) Get(offset uint32) (string, error) {
	if int(offset) >= len(h.data) {
		return "", ilerrors.WrapMalformed(fmt.Sprintf("#Strings offset 0x%X out of range", offset), nil)
	}
	end := int(offset)
	for end < len(h.data) && h.data[end] != 0 {
		end++
	}
	return string(h.data[offset:end]), nil
}

// Add interns s and returns its offset.
func (h *StringHeap) Add(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return off
	}
	off := uint32(len(h.data))
	h.data = append(h.data, s...)
	h.data = append(h.data, 0)
	h.index[s] = off
	return off
}

func (h *StringHeap) Len() int { return len(h.data) }

// BlobHeap is the #Blob heap.
type BlobHeap struct {
	data  []byte
	index map[string]uint32
}

func newBlobHeap(data []byte) *BlobHeap {
	if len(data) == 0 {
		data = []byte{0}
	}
	return &BlobHeap{data: data, index: make(map[string]uint32)}
}

// Get returns the blob stored at offset.
func (h *BlobHeap) Get(offset uint32) ([]byte, error) {
	if int(offset) >= len(h.data) {
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("#Blob offset 0x%X out of range", offset), nil)
	}
	size, n, err := ReadCompressedUint(h.data[offset:])
	if err != nil {
		return nil, err
	}
	start := int(offset) + n
	if start+int(size) > len(h.data) {
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("#Blob entry at 0x%X overruns heap", offset), nil)
	}
	return h.data[start : start+int(size)], nil
}

// Add stores b and returns its offset. Identical blobs added through Add
// share one entry.
func (h *BlobHeap) Add(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	if off, ok := h.index[string(b)]; ok {
		return off
	}
	off := uint32(len(h.data))
	h.data = AppendCompressedUint(h.data, uint32(len(b)))
	h.data = append(h.data, b...)
	h.index[string(b)] = off
	return off
}

func (h *BlobHeap) Len() int { return len(h.data) }

// UserStringHeap is the #US heap holding ldstr literals.
type UserStringHeap struct {
	data  []byte
	index map[string]uint32
}

func newUserStringHeap(data []byte) *UserStringHeap {
	if len(data) == 0 {
		data = []byte{0}
	}
	return &UserStringHeap{data: data, index: make(map[string]uint32)}
}

// Get decodes the UTF-16 literal at offset.
func (h *UserStringHeap) Get(offset uint32) (string, error) {
	if int(offset) >= len(h.data) {
		return "", ilerrors.WrapMalformed(fmt.Sprintf("#US offset 0x%X out of range", offset), nil)
	}
	size, n, err := ReadCompressedUint(h.data[offset:])
	if err != nil {
		return "", err
	}
	start := int(offset) + n
	if start+int(size) > len(h.data) {
		return "", ilerrors.WrapMalformed(fmt.Sprintf("#US entry at 0x%X overruns heap", offset), nil)
	}
	raw := h.data[start : start+int(size)]
	// The last byte is the "has special characters" flag.
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	s := string(utf16.Decode(units))
	if _, ok := h.index[s]; !ok {
		h.index[s] = offset
	}
	return s, nil
}

// Add interns s and returns its offset.
func (h *UserStringHeap) Add(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return off
	}
	units := utf16.Encode([]rune(s))
	raw := make([]byte, 0, len(units)*2+1)
	var special byte
	for _, u := range units {
		raw = binary.LittleEndian.AppendUint16(raw, u)
		if u > 0xFF || isSpecialLowByte(byte(u)) {
			special = 1
		}
	}
	raw = append(raw, special)
	off := uint32(len(h.data))
	h.data = AppendCompressedUint(h.data, uint32(len(raw)))
	h.data = append(h.data, raw...)
	h.index[s] = off
	return off
}

func (h *UserStringHeap) Len() int { return len(h.data) }

func isSpecialLowByte(b byte) bool {
	return (b >= 0x01 && b <= 0x08) || (b >= 0x0E && b <= 0x1F) || b == 0x27 || b == 0x2D || b == 0x7F
}

// GUIDHeap is the #GUID heap; indexes are 1-based.
type GUIDHeap struct {
	data []byte
}

// Get returns the GUID at 1-based index i.
func (h *GUIDHeap) Get(i uint32) ([16]byte, error) {
	var g [16]byte
	if i == 0 {
		return g, nil
	}
	start := int(i-1) * 16
	if start+16 > len(h.data) {
		return g, ilerrors.WrapMalformed(fmt.Sprintf("#GUID index %d out of range", i), nil)
	}
	copy(g[:], h.data[start:start+16])
	return g, nil
}

// Add appends g and returns its 1-based index.
func (h *GUIDHeap) Add(g [16]byte) uint32 {
	h.data = append(h.data, g[:]...)
	return uint32(len(h.data) / 16)
}

func (h *GUIDHeap) Len() int { return len(h.data) }
