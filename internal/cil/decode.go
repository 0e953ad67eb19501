package cil

import (
	"encoding/binary"
	"fmt"
	"math"

	ilerrors "ilpatch/internal/errors"
)

// Resolver turns metadata tokens found in a body into operands.
type Resolver interface {
	ResolveMethod(token uint32) (Method, error)
	ResolveField(token uint32) (Field, error)
	ResolveType(token uint32) (Type, error)
	// ResolveMember resolves an ldtoken operand of any kind.
	ResolveMember(token uint32) (Member, error)
	ResolveString(token uint32) (string, error)
	ResolveSignature(token uint32) (SigOperand, error)
}

const (
	tinyFormat = 0x2
	fatFormat  = 0x3
	formatMask = 0x3

	fatMoreSects  = 0x08
	fatInitLocals = 0x10

	sectEHTable   = 0x01
	sectFatFormat = 0x40
	sectMoreSects = 0x80

	tinyMaxStack = 8
)

// Decode parses a method body starting at its header. Trailing bytes after
// the body are ignored.
func Decode(data []byte, r Resolver) (*Body, error) {
	if len(data) == 0 {
		return nil, ilerrors.WrapMalformed("empty method body", nil)
	}
	body := &Body{}
	var code []byte
	var more bool
	le := binary.LittleEndian

	switch data[0] & formatMask {
	case tinyFormat:
		size := int(data[0] >> 2)
		if 1+size > len(data) {
			return nil, ilerrors.WrapMalformed("tiny body overruns image", nil)
		}
		body.MaxStack = tinyMaxStack
		code = data[1 : 1+size]
	case fatFormat:
		if len(data) < 12 {
			return nil, ilerrors.WrapMalformed("fat body header", nil)
		}
		flags := le.Uint16(data)
		headerSize := int(flags>>12) * 4
		size := int(le.Uint32(data[4:]))
		if headerSize < 12 || headerSize+size > len(data) {
			return nil, ilerrors.WrapMalformed("fat body overruns image", nil)
		}
		body.fat = true
		body.MaxStack = int(le.Uint16(data[2:]))
		body.LocalVarToken = le.Uint32(data[8:])
		body.InitLocals = flags&fatInitLocals != 0
		more = flags&fatMoreSects != 0
		code = data[headerSize : headerSize+size]
		data = data[headerSize:]
	default:
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("unknown body format 0x%02X", data[0]), nil)
	}

	d := decoder{code: code, r: r, byOffset: make(map[int]*Instruction)}
	if err := d.instructions(); err != nil {
		return nil, err
	}
	if err := d.fixBranches(); err != nil {
		return nil, err
	}
	body.Instructions = d.out

	if more {
		handlers, err := d.sections(data, len(code))
		if err != nil {
			return nil, err
		}
		body.Handlers = handlers
	}
	return body, nil
}

type rawBranch struct {
	ins     *Instruction
	targets []int
}

type decoder struct {
	code     []byte
	pos      int
	r        Resolver
	out      []*Instruction
	byOffset map[int]*Instruction
	branches []rawBranch
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.code) {
		return ilerrors.WrapMalformed(fmt.Sprintf("instruction at IL_%04x is truncated", d.pos), nil)
	}
	return nil
}

func (d *decoder) u8() byte {
	v := d.code[d.pos]
	d.pos++
	return v
}

func (d *decoder) u16() uint16 {
	v := binary.LittleEndian.Uint16(d.code[d.pos:])
	d.pos += 2
	return v
}

func (d *decoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.code[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) u64() uint64 {
	v := binary.LittleEndian.Uint64(d.code[d.pos:])
	d.pos += 8
	return v
}

func (d *decoder) opcode() (OpCode, error) {
	if err := d.need(1); err != nil {
		return OpCode{}, err
	}
	start := d.pos
	b := d.u8()
	var op *OpCode
	if b == 0xFE {
		if err := d.need(1); err != nil {
			return OpCode{}, err
		}
		op = twoByte[d.u8()]
	} else {
		op = oneByte[b]
	}
	if op == nil {
		return OpCode{}, ilerrors.WrapMalformed(fmt.Sprintf("unknown opcode at IL_%04x", start), nil)
	}
	return *op, nil
}

func (d *decoder) instructions() error {
	for d.pos < len(d.code) {
		offset := d.pos
		op, err := d.opcode()
		if err != nil {
			return err
		}
		ins := &Instruction{OpCode: op, Offset: offset}
		if err := d.operand(ins); err != nil {
			return err
		}
		d.out = append(d.out, ins)
		d.byOffset[offset] = ins
	}
	return nil
}

func (d *decoder) operand(ins *Instruction) error {
	var err error
	switch ins.OpCode.Operand {
	case InlineNone:
		ins.Operand = NoOperand{}
	case ShortInlineBrTarget:
		if err = d.need(1); err == nil {
			delta := int(int8(d.u8()))
			d.branches = append(d.branches, rawBranch{ins, []int{d.pos + delta}})
		}
	case InlineBrTarget:
		if err = d.need(4); err == nil {
			delta := int(int32(d.u32()))
			d.branches = append(d.branches, rawBranch{ins, []int{d.pos + delta}})
		}
	case InlineSwitch:
		if err = d.need(4); err != nil {
			break
		}
		n := int(d.u32())
		if err = d.need(4 * n); err != nil {
			break
		}
		deltas := make([]int, n)
		for i := range deltas {
			deltas[i] = int(int32(d.u32()))
		}
		// Targets are relative to the end of the whole instruction.
		for i := range deltas {
			deltas[i] += d.pos
		}
		d.branches = append(d.branches, rawBranch{ins, deltas})
	case ShortInlineI:
		if err = d.need(1); err == nil {
			if ins.OpCode.Value == LdcI4S.Value {
				ins.Operand = Int32Operand(int8(d.u8()))
			} else {
				ins.Operand = Int32Operand(d.u8())
			}
		}
	case InlineI:
		if err = d.need(4); err == nil {
			ins.Operand = Int32Operand(int32(d.u32()))
		}
	case InlineI8:
		if err = d.need(8); err == nil {
			ins.Operand = Int64Operand(int64(d.u64()))
		}
	case ShortInlineR:
		if err = d.need(4); err == nil {
			ins.Operand = FloatOperand(math.Float32frombits(d.u32()))
		}
	case InlineR:
		if err = d.need(8); err == nil {
			ins.Operand = FloatOperand(math.Float64frombits(d.u64()))
		}
	case ShortInlineVar:
		if err = d.need(1); err == nil {
			ins.Operand = varOperand(ins.OpCode, uint16(d.u8()))
		}
	case InlineVar:
		if err = d.need(2); err == nil {
			ins.Operand = varOperand(ins.OpCode, d.u16())
		}
	case InlineString, InlineMethod, InlineField, InlineType, InlineTok, InlineSig:
		if err = d.need(4); err != nil {
			break
		}
		ins.Operand, err = d.token(ins.OpCode.Operand, d.u32())
	}
	if err != nil {
		return err
	}
	if ins.Operand == nil && !ins.OpCode.IsBranch() {
		return ilerrors.WrapMalformed(fmt.Sprintf("no operand decoded for %s", ins.OpCode.Name), nil)
	}
	return nil
}

func varOperand(op OpCode, index uint16) Operand {
	if op.IsArgument() {
		return ArgOperand(index)
	}
	return LocalOperand(index)
}

func (d *decoder) token(kind OperandType, token uint32) (Operand, error) {
	wrap := func(err error) error {
		if ilerrors.Is(err, ilerrors.ErrMalformedBinary) {
			return err
		}
		return ilerrors.WrapMalformed(fmt.Sprintf("token 0x%08X", token), err)
	}
	switch kind {
	case InlineString:
		s, err := d.r.ResolveString(token)
		if err != nil {
			return nil, wrap(err)
		}
		return StringOperand(s), nil
	case InlineMethod:
		m, err := d.r.ResolveMethod(token)
		if err != nil {
			return nil, wrap(err)
		}
		return MethodOperand{Method: m}, nil
	case InlineField:
		f, err := d.r.ResolveField(token)
		if err != nil {
			return nil, wrap(err)
		}
		return FieldOperand{Field: f}, nil
	case InlineType:
		t, err := d.r.ResolveType(token)
		if err != nil {
			return nil, wrap(err)
		}
		return TypeOperand{Type: t}, nil
	case InlineTok:
		m, err := d.r.ResolveMember(token)
		if err != nil {
			return nil, wrap(err)
		}
		return TokenOperand{Member: m}, nil
	default:
		sig, err := d.r.ResolveSignature(token)
		if err != nil {
			return nil, wrap(err)
		}
		return sig, nil
	}
}

func (d *decoder) at(offset int) (*Instruction, bool) {
	ins, ok := d.byOffset[offset]
	return ins, ok
}

// boundary resolves a region end, which may be the end of the code.
func (d *decoder) boundary(offset int) (*Instruction, error) {
	if offset == len(d.code) {
		return nil, nil
	}
	ins, ok := d.at(offset)
	if !ok {
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("exception region boundary IL_%04x is not an instruction", offset), nil)
	}
	return ins, nil
}

func (d *decoder) fixBranches() error {
	for _, b := range d.branches {
		targets := make([]*Instruction, len(b.targets))
		for i, off := range b.targets {
			t, ok := d.at(off)
			if !ok {
				return ilerrors.WrapMalformed(fmt.Sprintf("%s at IL_%04x targets IL_%04x, which is not an instruction", b.ins.OpCode.Name, b.ins.Offset, off), nil)
			}
			targets[i] = t
		}
		if b.ins.OpCode.Operand == InlineSwitch {
			b.ins.Operand = SwitchOperand{Targets: targets}
		} else {
			b.ins.Operand = BranchOperand{Target: targets[0]}
		}
	}
	return nil
}

// sections reads the extra data sections following the code. data starts
// at the code, which the caller guarantees is 4-byte aligned.
func (d *decoder) sections(data []byte, codeSize int) ([]*ExceptionHandler, error) {
	le := binary.LittleEndian
	pos := (codeSize + 3) &^ 3
	var handlers []*ExceptionHandler
	for {
		if pos+4 > len(data) {
			return nil, ilerrors.WrapMalformed("method data section header", nil)
		}
		kind := data[pos]
		fat := kind&sectFatFormat != 0
		var size, clauseSize int
		if fat {
			size = int(data[pos+1]) | int(data[pos+2])<<8 | int(data[pos+3])<<16
			clauseSize = 24
		} else {
			size = int(data[pos+1])
			clauseSize = 12
		}
		if size < 4 || pos+size > len(data) {
			return nil, ilerrors.WrapMalformed("method data section overruns image", nil)
		}
		if kind&sectEHTable != 0 {
			for c := pos + 4; c+clauseSize <= pos+size; c += clauseSize {
				var flags, tryOff, tryLen, hOff, hLen, extra uint32
				if fat {
					flags, tryOff, tryLen = le.Uint32(data[c:]), le.Uint32(data[c+4:]), le.Uint32(data[c+8:])
					hOff, hLen, extra = le.Uint32(data[c+12:]), le.Uint32(data[c+16:]), le.Uint32(data[c+20:])
				} else {
					flags, tryOff, tryLen = uint32(le.Uint16(data[c:])), uint32(le.Uint16(data[c+2:])), uint32(data[c+4])
					hOff, hLen, extra = uint32(le.Uint16(data[c+5:])), uint32(data[c+7]), le.Uint32(data[c+8:])
				}
				h, err := d.handler(HandlerKind(flags), int(tryOff), int(tryLen), int(hOff), int(hLen), extra)
				if err != nil {
					return nil, err
				}
				handlers = append(handlers, h)
			}
		}
		pos += size
		if kind&sectMoreSects == 0 {
			return handlers, nil
		}
		pos = (pos + 3) &^ 3
	}
}

func (d *decoder) handler(kind HandlerKind, tryOff, tryLen, hOff, hLen int, extra uint32) (*ExceptionHandler, error) {
	h := &ExceptionHandler{Kind: kind}
	var err error
	var ok bool
	if h.TryStart, ok = d.at(tryOff); !ok {
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("try start IL_%04x is not an instruction", tryOff), nil)
	}
	if h.TryEnd, err = d.boundary(tryOff + tryLen); err != nil {
		return nil, err
	}
	if h.HandlerStart, ok = d.at(hOff); !ok {
		return nil, ilerrors.WrapMalformed(fmt.Sprintf("handler start IL_%04x is not an instruction", hOff), nil)
	}
	if h.HandlerEnd, err = d.boundary(hOff + hLen); err != nil {
		return nil, err
	}
	switch kind {
	case HandlerCatch:
		t, err := d.r.ResolveType(extra)
		if err != nil {
			return nil, ilerrors.WrapMalformed(fmt.Sprintf("catch type 0x%08X", extra), err)
		}
		h.CatchType = t
	case HandlerFilter:
		if h.FilterStart, ok = d.at(int(extra)); !ok {
			return nil, ilerrors.WrapMalformed(fmt.Sprintf("filter start IL_%04x is not an instruction", extra), nil)
		}
	}
	return h, nil
}
