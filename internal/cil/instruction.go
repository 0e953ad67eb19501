package cil

import (
	"fmt"

	ilerrors "ilpatch/internal/errors"
)

// Instruction is one decoded instruction. Branches refer to other
// instructions by pointer, so Offset is only meaningful right after a decode
// or an encode.
type Instruction struct {
	OpCode  OpCode
	Operand Operand
	Offset  int
}

// Create returns an instruction with an explicit operand. A nil operand is
// the same as NoOperand.
func Create(op OpCode, operand Operand) *Instruction {
	if operand == nil {
		operand = NoOperand{}
	}
	return &Instruction{OpCode: op, Operand: operand}
}

// Op returns an instruction without an operand.
func Op(op OpCode) *Instruction { return Create(op, NoOperand{}) }

// Branch returns a branch to target.
func Branch(op OpCode, target *Instruction) *Instruction {
	return Create(op, BranchOperand{Target: target})
}

// Size is the encoded length of the instruction with its current opcode.
func (i *Instruction) Size() int {
	n := i.OpCode.Size() + operandSize(i.OpCode.Operand)
	if sw, ok := i.Operand.(SwitchOperand); ok {
		n += 4 * len(sw.Targets)
	}
	return n
}

// operandSize is the fixed inline operand length. A switch adds four bytes
// per target on top.
func operandSize(t OperandType) int {
	switch t {
	case ShortInlineBrTarget, ShortInlineI, ShortInlineVar:
		return 1
	case InlineVar:
		return 2
	case InlineBrTarget, InlineI, ShortInlineR, InlineString, InlineMethod,
		InlineField, InlineType, InlineTok, InlineSig, InlineSwitch:
		return 4
	case InlineI8, InlineR:
		return 8
	}
	return 0
}

func (i *Instruction) String() string {
	s := fmt.Sprintf("IL_%04x: %s", i.Offset, i.OpCode.Name)
	if i.Operand == nil {
		return s
	}
	if arg := i.Operand.String(); arg != "" {
		s += " " + arg
	}
	return s
}

// HandlerKind is the kind of an exception handling clause.
type HandlerKind uint32

const (
	HandlerCatch   HandlerKind = 0x0
	HandlerFilter  HandlerKind = 0x1
	HandlerFinally HandlerKind = 0x2
	HandlerFault   HandlerKind = 0x4
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return fmt.Sprintf("handler(%d)", uint32(k))
}

// ExceptionHandler is one protected region. A nil end means the region runs
// to the end of the body.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     *Instruction
	TryEnd       *Instruction
	HandlerStart *Instruction
	HandlerEnd   *Instruction
	// FilterStart is set for filter clauses.
	FilterStart *Instruction
	// CatchType is set for catch clauses.
	CatchType Type
}

// Body is a decoded method body.
type Body struct {
	Instructions []*Instruction
	Handlers     []*ExceptionHandler
	// MaxStack of zero asks the encoder to compute it.
	MaxStack   int
	InitLocals bool
	// LocalVarToken is the StandAloneSig token of the locals signature, or 0.
	LocalVarToken uint32

	// fat records a fat header on decode so an untouched body re-encodes
	// byte for byte.
	fat bool
}

// NewBody returns an empty body whose locals are zero-initialized.
func NewBody() *Body {
	return &Body{InitLocals: true}
}

// Append adds instructions at the end of the body.
func (b *Body) Append(ins ...*Instruction) {
	b.Instructions = append(b.Instructions, ins...)
}

// IndexOf returns the position of ins in the body or -1.
func (b *Body) IndexOf(ins *Instruction) int {
	for i, x := range b.Instructions {
		if x == ins {
			return i
		}
	}
	return -1
}

// InsertBefore places ins ahead of at. Branches to at keep pointing at it.
func (b *Body) InsertBefore(at *Instruction, ins ...*Instruction) error {
	idx := b.IndexOf(at)
	if idx < 0 {
		return ilerrors.WrapInvalidArgument("instruction %s is not part of the body", at)
	}
	b.Instructions = append(b.Instructions[:idx], append(append([]*Instruction{}, ins...), b.Instructions[idx:]...)...)
	return nil
}

// Clone copies the body. Instructions are duplicated and branch targets and
// handler bounds are remapped onto the copies.
func (b *Body) Clone() *Body {
	out := &Body{
		MaxStack:      b.MaxStack,
		InitLocals:    b.InitLocals,
		LocalVarToken: b.LocalVarToken,
		fat:           b.fat,
	}
	remap := make(map[*Instruction]*Instruction, len(b.Instructions))
	for _, ins := range b.Instructions {
		c := *ins
		remap[ins] = &c
		out.Instructions = append(out.Instructions, &c)
	}
	mapped := func(i *Instruction) *Instruction {
		if i == nil {
			return nil
		}
		if c, ok := remap[i]; ok {
			return c
		}
		return i
	}
	for _, c := range out.Instructions {
		switch op := c.Operand.(type) {
		case BranchOperand:
			c.Operand = BranchOperand{Target: mapped(op.Target)}
		case SwitchOperand:
			targets := make([]*Instruction, len(op.Targets))
			for i, t := range op.Targets {
				targets[i] = mapped(t)
			}
			c.Operand = SwitchOperand{Targets: targets}
		}
	}
	for _, h := range b.Handlers {
		out.Handlers = append(out.Handlers, &ExceptionHandler{
			Kind:         h.Kind,
			TryStart:     mapped(h.TryStart),
			TryEnd:       mapped(h.TryEnd),
			HandlerStart: mapped(h.HandlerStart),
			HandlerEnd:   mapped(h.HandlerEnd),
			FilterStart:  mapped(h.FilterStart),
			CatchType:    h.CatchType,
		})
	}
	return out
}
