package cil

import (
	"strings"
)

// OperandType describes the inline operand that follows an opcode.
type OperandType uint8

const (
	InlineNone OperandType = iota
	ShortInlineBrTarget
	InlineBrTarget
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	InlineString
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineSig
	InlineSwitch
	ShortInlineVar
	InlineVar
)

// FlowControl classifies how an instruction transfers control.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBreak
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
	// FlowMeta marks prefixes such as tail. and volatile.
	FlowMeta
)

// variable marks a stack effect that depends on the call site.
const variable = -1

// OpCode is one entry of the instruction set. Values above 0xFF are two-byte
// opcodes with the 0xFE prefix in the high byte.
type OpCode struct {
	Name    string
	Value   uint16
	Operand OperandType
	Flow    FlowControl
	// Pop and Push are the fixed stack effect, or -1 when the effect comes
	// from a call signature or the method's return type.
	Pop  int8
	Push int8
}

var (
	oneByte [0x100]*OpCode
	twoByte [0x100]*OpCode
	byName  = make(map[string]*OpCode)
)

func def(name string, value uint16, operand OperandType, flow FlowControl, pop, push int8) OpCode {
	op := &OpCode{Name: name, Value: value, Operand: operand, Flow: flow, Pop: pop, Push: push}
	if value >= 0xFE00 {
		twoByte[value&0xFF] = op
	} else {
		oneByte[value] = op
	}
	byName[name] = op
	return *op
}

// Size is the encoded length of the opcode itself.
func (o OpCode) Size() int {
	if o.Value >= 0xFE00 {
		return 2
	}
	return 1
}

func (o OpCode) String() string { return o.Name }

// IsBranch reports whether the opcode carries one or more branch targets.
func (o OpCode) IsBranch() bool {
	return o.Operand == ShortInlineBrTarget || o.Operand == InlineBrTarget || o.Operand == InlineSwitch
}

// IsArgument reports whether a variable operand names an argument slot
// rather than a local.
func (o OpCode) IsArgument() bool {
	return (o.Operand == ShortInlineVar || o.Operand == InlineVar) && strings.Contains(o.Name, "arg")
}

// LookupOpCode finds an opcode by its ilasm name, such as "ldstr" or
// "brtrue.s".
func LookupOpCode(name string) (OpCode, bool) {
	op, ok := byName[strings.ToLower(name)]
	if !ok {
		return OpCode{}, false
	}
	return *op, true
}

// longForm maps short encodings to the long encodings used when an
// operand does not fit.
var longForm = map[uint16]OpCode{
	BrS.Value:      Br,
	BrfalseS.Value: Brfalse,
	BrtrueS.Value:  Brtrue,
	BeqS.Value:     Beq,
	BgeS.Value:     Bge,
	BgtS.Value:     Bgt,
	BleS.Value:     Ble,
	BltS.Value:     Blt,
	BneUnS.Value:   BneUn,
	BgeUnS.Value:   BgeUn,
	BgtUnS.Value:   BgtUn,
	BleUnS.Value:   BleUn,
	BltUnS.Value:   BltUn,
	LeaveS.Value:   Leave,
	LdargS.Value:   Ldarg,
	LdargaS.Value:  Ldarga,
	StargS.Value:   Starg,
	LdlocS.Value:   Ldloc,
	LdlocaS.Value:  Ldloca,
	StlocS.Value:   Stloc,
	LdcI4S.Value:   LdcI4,
}
