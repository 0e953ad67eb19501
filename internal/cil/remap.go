package cil

import (
	"encoding/binary"
	"fmt"

	ilerrors "ilpatch/internal/errors"
)

// RemapTokens copies a raw method body and rewrites every inline metadata
// token through remap. User string tokens, signatures and the local
// signature token are left alone. Exception clause catch types are
// rewritten as well.
func RemapTokens(raw []byte, remap func(uint32) uint32) ([]byte, error) {
	if len(raw) == 0 {
		return nil, ilerrors.WrapMalformed("empty method body", nil)
	}
	le := binary.LittleEndian
	var headerSize, codeSize int
	var more bool
	switch raw[0] & formatMask {
	case tinyFormat:
		headerSize, codeSize = 1, int(raw[0]>>2)
	case fatFormat:
		if len(raw) < fatHeaderSize {
			return nil, ilerrors.WrapMalformed("fat body header", nil)
		}
		flags := le.Uint16(raw)
		headerSize, codeSize = int(flags>>12)*4, int(le.Uint32(raw[4:]))
		more = flags&fatMoreSects != 0
	default:
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("unknown body format 0x%02X", raw[0]), nil)
	}
	if headerSize+codeSize > len(raw) {
		return nil, ilerrors.WrapMalformed("method body overruns image", nil)
	}

	size := headerSize + codeSize
	if more {
		end, err := sectionsEnd(raw[headerSize:], codeSize)
		if err != nil {
			return nil, err
		}
		size = headerSize + end
	}
	out := make([]byte, size)
	copy(out, raw)

	code := out[headerSize : headerSize+codeSize]
	for pos := 0; pos < len(code); {
		var op *OpCode
		if code[pos] == 0xFE {
			if pos+1 >= len(code) {
				return nil, ilerrors.WrapMalformed("truncated two-byte opcode", nil)
			}
			op = twoByte[code[pos+1]]
		} else {
			op = oneByte[code[pos]]
		}
		if op == nil {
			return nil, ilerrors.WrapMalformed(fmt.Sprintf("unknown opcode at IL_%04x", pos), nil)
		}
		pos += op.Size()
		n := operandSize(op.Operand)
		if pos+n > len(code) {
			return nil, ilerrors.WrapMalformed(fmt.Sprintf("%s operand is truncated", op.Name), nil)
		}
		switch op.Operand {
		case InlineMethod, InlineField, InlineType, InlineTok:
			le.PutUint32(code[pos:], remap(le.Uint32(code[pos:])))
		case InlineSwitch:
			n += 4 * int(le.Uint32(code[pos:]))
		}
		pos += n
	}

	if more {
		remapClauses(out[headerSize:], codeSize, remap)
	}
	return out, nil
}

// sectionsEnd returns the offset just past the last data section.
func sectionsEnd(data []byte, codeSize int) (int, error) {
	pos := (codeSize + 3) &^ 3
	for {
		if pos+4 > len(data) {
			return 0, ilerrors.WrapMalformed("method data section header", nil)
		}
		kind := data[pos]
		size := int(data[pos+1])
		if kind&sectFatFormat != 0 {
			size |= int(data[pos+2])<<8 | int(data[pos+3])<<16
		}
		if size < 4 || pos+size > len(data) {
			return 0, ilerrors.WrapMalformed("method data section overruns image", nil)
		}
		pos += size
		if kind&sectMoreSects == 0 {
			return pos, nil
		}
		pos = (pos + 3) &^ 3
	}
}

func remapClauses(data []byte, codeSize int, remap func(uint32) uint32) {
	le := binary.LittleEndian
	pos := (codeSize + 3) &^ 3
	for {
		kind := data[pos]
		fat := kind&sectFatFormat != 0
		size, clauseSize, flagsSize := int(data[pos+1]), smallClauseSize, 2
		if fat {
			size |= int(data[pos+2])<<8 | int(data[pos+3])<<16
			clauseSize, flagsSize = fatClauseSize, 4
		}
		if kind&sectEHTable != 0 {
			for c := pos + 4; c+clauseSize <= pos+size; c += clauseSize {
				var flags uint32
				if flagsSize == 4 {
					flags = le.Uint32(data[c:])
				} else {
					flags = uint32(le.Uint16(data[c:]))
				}
				if HandlerKind(flags) == HandlerCatch {
					at := c + clauseSize - 4
					le.PutUint32(data[at:], remap(le.Uint32(data[at:])))
				}
			}
		}
		pos += size
		if kind&sectMoreSects == 0 {
			return
		}
		pos = (pos + 3) &^ 3
	}
}
