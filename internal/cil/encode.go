package cil

import (
	"encoding/binary"
	"fmt"
	"math"

	ilerrors "ilpatch/internal/errors"
)

// TokenProvider hands out metadata tokens for operands while encoding. It
// may create references or user strings on demand.
type TokenProvider interface {
	MethodToken(m Method) (uint32, error)
	FieldToken(f Field) (uint32, error)
	TypeToken(t Type) (uint32, error)
	MemberToken(m Member) (uint32, error)
	StringToken(s string) (uint32, error)
}

const (
	maxTinyCodeSize  = 64
	smallClauseSize  = 12
	fatClauseSize    = 24
	maxSmallClauses  = (0xFF - 4) / smallClauseSize
	fatHeaderSize    = 12
	fatHeaderSizeTag = 3 << 12
)

// Encode serializes body with its header and exception sections. Short
// forms whose operand no longer fits are switched to their long forms in
// place and every instruction's Offset is updated. returnsValue tells the
// stack estimate whether ret pops a value.
func Encode(body *Body, tokens TokenProvider, returnsValue bool) ([]byte, error) {
	if err := Validate(body); err != nil {
		return nil, err
	}

	codeSize := layout(body.Instructions)

	code := make([]byte, 0, codeSize)
	for _, ins := range body.Instructions {
		var err error
		if code, err = emit(code, ins, tokens); err != nil {
			return nil, err
		}
	}

	maxStack := body.MaxStack
	if maxStack == 0 {
		maxStack = ComputeMaxStack(body, returnsValue)
	}

	tiny := !body.fat && len(code) < maxTinyCodeSize && maxStack <= tinyMaxStack &&
		body.LocalVarToken == 0 && len(body.Handlers) == 0 && !body.InitLocals
	if tiny {
		out := make([]byte, 0, 1+len(code))
		out = append(out, byte(len(code))<<2|tinyFormat)
		return append(out, code...), nil
	}

	le := binary.LittleEndian
	flags := uint16(fatFormat | fatHeaderSizeTag)
	if body.InitLocals {
		flags |= fatInitLocals
	}
	if len(body.Handlers) > 0 {
		flags |= fatMoreSects
	}
	out := make([]byte, fatHeaderSize, fatHeaderSize+len(code))
	le.PutUint16(out, flags)
	le.PutUint16(out[2:], uint16(min(maxStack, math.MaxUint16)))
	le.PutUint32(out[4:], uint32(len(code)))
	le.PutUint32(out[8:], body.LocalVarToken)
	out = append(out, code...)

	if len(body.Handlers) > 0 {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		sect, err := encodeHandlers(body.Handlers, codeSize, tokens)
		if err != nil {
			return nil, err
		}
		out = append(out, sect...)
	}
	return out, nil
}

// Validate checks that every operand matches its opcode's operand type and
// that every branch and handler bound refers to an instruction of body. A
// missing operand is treated as NoOperand. Instructions are only touched
// once the whole body passed: short forms whose operand does not fit are
// switched to their long forms then.
func Validate(body *Body) error {
	index := make(map[*Instruction]int, len(body.Instructions))
	for i, ins := range body.Instructions {
		if ins == nil {
			return ilerrors.WrapInvalidArgument("instruction %d is nil", i)
		}
		index[ins] = i
	}
	for i, ins := range body.Instructions {
		if err := checkOperand(ins, i, index); err != nil {
			return err
		}
	}
	if err := checkHandlers(body, index); err != nil {
		return err
	}
	for _, ins := range body.Instructions {
		normalize(ins)
	}
	return nil
}

// layout assigns offsets, widening short branches until every delta fits.
func layout(ins []*Instruction) int {
	for {
		offset := 0
		for _, i := range ins {
			i.Offset = offset
			offset += i.Size()
		}
		widened := false
		for _, i := range ins {
			if i.OpCode.Operand != ShortInlineBrTarget {
				continue
			}
			target := i.Operand.(BranchOperand).Target
			delta := target.Offset - (i.Offset + i.Size())
			if delta < math.MinInt8 || delta > math.MaxInt8 {
				i.OpCode = longForm[i.OpCode.Value]
				widened = true
			}
		}
		if !widened {
			return offset
		}
	}
}

func checkOperand(ins *Instruction, pos int, index map[*Instruction]int) error {
	operand := ins.Operand
	if operand == nil {
		operand = NoOperand{}
	}
	unsupported := func() error {
		return ilerrors.WrapUnsupportedOperand(operand.Variant(), ins.OpCode.Name)
	}
	inBody := func(t *Instruction) bool {
		_, ok := index[t]
		return t != nil && ok
	}
	switch ins.OpCode.Operand {
	case InlineNone:
		if _, ok := operand.(NoOperand); !ok {
			return unsupported()
		}
	case ShortInlineBrTarget, InlineBrTarget:
		br, ok := operand.(BranchOperand)
		if !ok {
			return unsupported()
		}
		if !inBody(br.Target) {
			return ilerrors.WrapDanglingBranch(ins.OpCode.Name, pos)
		}
	case InlineSwitch:
		sw, ok := operand.(SwitchOperand)
		if !ok {
			return unsupported()
		}
		for _, t := range sw.Targets {
			if !inBody(t) {
				return ilerrors.WrapDanglingBranch(ins.OpCode.Name, pos)
			}
		}
	case ShortInlineI:
		v, ok := operand.(Int32Operand)
		if !ok {
			return unsupported()
		}
		if ins.OpCode.Value != LdcI4S.Value && (v < 0 || v > math.MaxUint8) {
			return ilerrors.WrapInvalidArgument("%s operand %d does not fit in a byte", ins.OpCode.Name, v)
		}
	case InlineI:
		if _, ok := operand.(Int32Operand); !ok {
			return unsupported()
		}
	case InlineI8:
		switch operand.(type) {
		case Int64Operand, Int32Operand:
		default:
			return unsupported()
		}
	case ShortInlineR, InlineR:
		if _, ok := operand.(FloatOperand); !ok {
			return unsupported()
		}
	case ShortInlineVar, InlineVar:
		switch operand.(type) {
		case ArgOperand:
			if !ins.OpCode.IsArgument() {
				return unsupported()
			}
		case LocalOperand:
			if ins.OpCode.IsArgument() {
				return unsupported()
			}
		default:
			return unsupported()
		}
	case InlineString:
		if _, ok := operand.(StringOperand); !ok {
			return unsupported()
		}
	case InlineMethod:
		if op, ok := operand.(MethodOperand); !ok || op.Method == nil {
			return unsupported()
		}
	case InlineField:
		if op, ok := operand.(FieldOperand); !ok || op.Field == nil {
			return unsupported()
		}
	case InlineType:
		if op, ok := operand.(TypeOperand); !ok || op.Type == nil {
			return unsupported()
		}
	case InlineTok:
		switch op := operand.(type) {
		case TokenOperand:
			if op.Member == nil {
				return unsupported()
			}
		case MethodOperand, FieldOperand, TypeOperand:
		default:
			return unsupported()
		}
	case InlineSig:
		if _, ok := operand.(SigOperand); !ok {
			return unsupported()
		}
	}
	return nil
}

// normalize rewrites an instruction that passed checkOperand into the form
// emit expects.
func normalize(ins *Instruction) {
	if ins.Operand == nil {
		ins.Operand = NoOperand{}
	}
	switch v := ins.Operand.(type) {
	case Int32Operand:
		switch {
		case ins.OpCode.Value == LdcI4S.Value && (v < math.MinInt8 || v > math.MaxInt8):
			ins.OpCode = LdcI4
		case ins.OpCode.Operand == InlineI8:
			ins.Operand = Int64Operand(v)
		}
	case ArgOperand:
		if ins.OpCode.Operand == ShortInlineVar && v > math.MaxUint8 {
			ins.OpCode = longForm[ins.OpCode.Value]
		}
	case LocalOperand:
		if ins.OpCode.Operand == ShortInlineVar && v > math.MaxUint8 {
			ins.OpCode = longForm[ins.OpCode.Value]
		}
	}
}

func checkHandlers(body *Body, index map[*Instruction]int) error {
	for i, h := range body.Handlers {
		start := func(ins *Instruction) bool {
			_, ok := index[ins]
			return ins != nil && ok
		}
		end := func(ins *Instruction) bool {
			_, ok := index[ins]
			return ins == nil || ok
		}
		if !start(h.TryStart) || !end(h.TryEnd) || !start(h.HandlerStart) || !end(h.HandlerEnd) {
			return ilerrors.WrapDanglingBranch(fmt.Sprintf("%s handler", h.Kind), i)
		}
		if h.Kind == HandlerFilter && !start(h.FilterStart) {
			return ilerrors.WrapDanglingBranch("filter", i)
		}
		if h.Kind == HandlerCatch && h.CatchType == nil {
			return ilerrors.WrapInvalidArgument("catch handler %d has no exception type", i)
		}
	}
	return nil
}

func emit(code []byte, ins *Instruction, tokens TokenProvider) ([]byte, error) {
	le := binary.LittleEndian
	if ins.OpCode.Value >= 0xFE00 {
		code = append(code, 0xFE, byte(ins.OpCode.Value))
	} else {
		code = append(code, byte(ins.OpCode.Value))
	}
	end := ins.Offset + ins.Size()

	switch op := ins.Operand.(type) {
	case BranchOperand:
		delta := op.Target.Offset - end
		if ins.OpCode.Operand == ShortInlineBrTarget {
			return append(code, byte(int8(delta))), nil
		}
		return le.AppendUint32(code, uint32(int32(delta))), nil
	case SwitchOperand:
		code = le.AppendUint32(code, uint32(len(op.Targets)))
		for _, t := range op.Targets {
			code = le.AppendUint32(code, uint32(int32(t.Offset-end)))
		}
		return code, nil
	case Int32Operand:
		switch ins.OpCode.Operand {
		case ShortInlineI:
			return append(code, byte(op)), nil
		default:
			return le.AppendUint32(code, uint32(op)), nil
		}
	case Int64Operand:
		return le.AppendUint64(code, uint64(op)), nil
	case FloatOperand:
		if ins.OpCode.Operand == ShortInlineR {
			return le.AppendUint32(code, math.Float32bits(float32(op))), nil
		}
		return le.AppendUint64(code, math.Float64bits(float64(op))), nil
	case ArgOperand:
		return appendVar(code, ins.OpCode, uint16(op)), nil
	case LocalOperand:
		return appendVar(code, ins.OpCode, uint16(op)), nil
	case SigOperand:
		return le.AppendUint32(code, op.Token), nil
	}

	token, err := operandToken(ins, tokens)
	if err != nil {
		return nil, err
	}
	if token == 0 {
		return code, nil
	}
	return le.AppendUint32(code, token), nil
}

func appendVar(code []byte, op OpCode, slot uint16) []byte {
	if op.Operand == ShortInlineVar {
		return append(code, byte(slot))
	}
	return binary.LittleEndian.AppendUint16(code, slot)
}

// operandToken returns the token for member and string operands, or 0 for
// instructions without an inline operand.
func operandToken(ins *Instruction, tokens TokenProvider) (uint32, error) {
	var token uint32
	var err error
	switch op := ins.Operand.(type) {
	case NoOperand:
		return 0, nil
	case StringOperand:
		token, err = tokens.StringToken(string(op))
	case MethodOperand:
		token, err = tokens.MethodToken(op.Method)
	case FieldOperand:
		token, err = tokens.FieldToken(op.Field)
	case TypeOperand:
		token, err = tokens.TypeToken(op.Type)
	case TokenOperand:
		token, err = tokens.MemberToken(op.Member)
	default:
		return 0, ilerrors.WrapUnsupportedOperand(op.Variant(), ins.OpCode.Name)
	}
	if err != nil {
		return 0, fmt.Errorf("%s operand of %s: %w", ins.Operand.Variant(), ins.OpCode.Name, err)
	}
	return token, nil
}

type clause struct {
	kind                   uint32
	tryOff, tryLen         int
	handlerOff, handlerLen int
	extra                  uint32
}

func encodeHandlers(handlers []*ExceptionHandler, codeSize int, tokens TokenProvider) ([]byte, error) {
	offset := func(i *Instruction) int {
		if i == nil {
			return codeSize
		}
		return i.Offset
	}
	clauses := make([]clause, 0, len(handlers))
	small := len(handlers) <= maxSmallClauses
	for _, h := range handlers {
		c := clause{
			kind:       uint32(h.Kind),
			tryOff:     h.TryStart.Offset,
			tryLen:     offset(h.TryEnd) - h.TryStart.Offset,
			handlerOff: h.HandlerStart.Offset,
			handlerLen: offset(h.HandlerEnd) - h.HandlerStart.Offset,
		}
		switch h.Kind {
		case HandlerCatch:
			token, err := tokens.TypeToken(h.CatchType)
			if err != nil {
				return nil, fmt.Errorf("catch type: %w", err)
			}
			c.extra = token
		case HandlerFilter:
			c.extra = uint32(h.FilterStart.Offset)
		}
		if c.tryOff > math.MaxUint16 || c.handlerOff > math.MaxUint16 ||
			c.tryLen > math.MaxUint8 || c.handlerLen > math.MaxUint8 {
			small = false
		}
		clauses = append(clauses, c)
	}

	le := binary.LittleEndian
	if small {
		size := 4 + smallClauseSize*len(clauses)
		out := []byte{sectEHTable, byte(size), 0, 0}
		for _, c := range clauses {
			out = le.AppendUint16(out, uint16(c.kind))
			out = le.AppendUint16(out, uint16(c.tryOff))
			out = append(out, byte(c.tryLen))
			out = le.AppendUint16(out, uint16(c.handlerOff))
			out = append(out, byte(c.handlerLen))
			out = le.AppendUint32(out, c.extra)
		}
		return out, nil
	}
	size := 4 + fatClauseSize*len(clauses)
	out := []byte{sectEHTable | sectFatFormat, byte(size), byte(size >> 8), byte(size >> 16)}
	for _, c := range clauses {
		out = le.AppendUint32(out, c.kind)
		out = le.AppendUint32(out, uint32(c.tryOff))
		out = le.AppendUint32(out, uint32(c.tryLen))
		out = le.AppendUint32(out, uint32(c.handlerOff))
		out = le.AppendUint32(out, uint32(c.handlerLen))
		out = le.AppendUint32(out, c.extra)
	}
	return out, nil
}
