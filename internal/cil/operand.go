package cil

import (
	"fmt"
	"strconv"
	"strings"
)

// Member is a metadata entity an instruction can refer to by token.
type Member interface {
	FullName() string
}

// Method is a method operand. ArgumentCount includes the implicit this of
// instance methods.
type Method interface {
	Member
	ArgumentCount() int
	ReturnsValue() bool
}

// Type is a type operand.
type Type interface {
	Member
	IsValueType() bool
}

// Field is a field operand.
type Field interface {
	Member
	IsStatic() bool
}

// Operand is the closed set of instruction operands. Only the variants in
// this package implement it.
type Operand interface {
	// Variant names the operand shape, e.g. "Int32" or "Branch".
	Variant() string
	String() string
	operand()
}

type (
	NoOperand     struct{}
	Int32Operand  int32
	Int64Operand  int64
	FloatOperand  float64
	StringOperand string
	LocalOperand  uint16
	ArgOperand    uint16

	MethodOperand struct{ Method Method }
	TypeOperand   struct{ Type Type }
	FieldOperand  struct{ Field Field }
	// TokenOperand is the ldtoken operand: a type, method or field.
	TokenOperand struct{ Member Member }
	// BranchOperand targets an instruction of the same body.
	BranchOperand struct{ Target *Instruction }
	SwitchOperand struct{ Targets []*Instruction }
	// SigOperand is a calli call site. Token is the StandAloneSig token,
	// which is kept as-is across writes.
	SigOperand struct {
		Token     uint32
		Arguments int
		Returns   bool
	}
)

func (NoOperand) operand()     {}
func (Int32Operand) operand()  {}
func (Int64Operand) operand()  {}
func (FloatOperand) operand()  {}
func (StringOperand) operand() {}
func (LocalOperand) operand()  {}
func (ArgOperand) operand()    {}
func (MethodOperand) operand() {}
func (TypeOperand) operand()   {}
func (FieldOperand) operand()  {}
func (TokenOperand) operand()  {}
func (BranchOperand) operand() {}
func (SwitchOperand) operand() {}
func (SigOperand) operand()    {}

func (NoOperand) Variant() string     { return "None" }
func (Int32Operand) Variant() string  { return "Int32" }
func (Int64Operand) Variant() string  { return "Int64" }
func (FloatOperand) Variant() string  { return "Float" }
func (StringOperand) Variant() string { return "String" }
func (LocalOperand) Variant() string  { return "Local" }
func (ArgOperand) Variant() string    { return "Arg" }
func (MethodOperand) Variant() string { return "Method" }
func (TypeOperand) Variant() string   { return "Type" }
func (FieldOperand) Variant() string  { return "Field" }
func (TokenOperand) Variant() string  { return "Token" }
func (BranchOperand) Variant() string { return "Branch" }
func (SwitchOperand) Variant() string { return "Switch" }
func (SigOperand) Variant() string    { return "Sig" }

func (NoOperand) String() string       { return "" }
func (o Int32Operand) String() string  { return strconv.FormatInt(int64(o), 10) }
func (o Int64Operand) String() string  { return strconv.FormatInt(int64(o), 10) }
func (o FloatOperand) String() string  { return strconv.FormatFloat(float64(o), 'g', -1, 64) }
func (o StringOperand) String() string { return strconv.Quote(string(o)) }
func (o LocalOperand) String() string  { return "V_" + strconv.Itoa(int(o)) }
func (o ArgOperand) String() string    { return "A_" + strconv.Itoa(int(o)) }
func (o MethodOperand) String() string { return memberName(o.Method) }
func (o TypeOperand) String() string   { return memberName(o.Type) }
func (o FieldOperand) String() string  { return memberName(o.Field) }
func (o TokenOperand) String() string  { return memberName(o.Member) }
func (o BranchOperand) String() string { return label(o.Target) }

func (o SwitchOperand) String() string {
	labels := make([]string, len(o.Targets))
	for i, t := range o.Targets {
		labels[i] = label(t)
	}
	return "(" + strings.Join(labels, ", ") + ")"
}

func (o SigOperand) String() string { return fmt.Sprintf("sig(0x%08X)", o.Token) }

func memberName(m Member) string {
	if m == nil {
		return "<nil>"
	}
	return m.FullName()
}

func label(i *Instruction) string {
	if i == nil {
		return "IL_????"
	}
	return fmt.Sprintf("IL_%04x", i.Offset)
}
