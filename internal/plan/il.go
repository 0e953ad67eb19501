package plan

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
)

// Resolver looks up the types and members named by instruction operands.
// *metadata.Module implements it.
type Resolver interface {
	Resolve(fullName string) (metadata.TypeReference, error)
	ResolveMethod(typeFullName, name string, paramTypes []string) (cil.Method, error)
	ResolveField(typeFullName, name string) (cil.Field, error)
}

// ParseIL turns textual instructions into cil instructions. Each line is
// an optional "label:" followed by an opcode and its operand:
//
//	ldstr "Hello"
//	call System.Console::WriteLine(System.String)
//	loop: ldarg.1
//	brtrue.s loop
//	switch (a, b)
//	ldfld App.Program::count
//	box System.Int32
//
// Methods without a parameter list resolve to the first overload.
func ParseIL(r Resolver, lines []string) ([]*cil.Instruction, error) {
	p := &ilParser{resolver: r, labels: make(map[string]*cil.Instruction)}
	instructions := make([]*cil.Instruction, 0, len(lines))
	for i, line := range lines {
		ins, err := p.line(line)
		if err != nil {
			return nil, fmt.Errorf("line %d '%s': %w", i+1, line, err)
		}
		instructions = append(instructions, ins)
	}
	if err := p.bindBranches(); err != nil {
		return nil, err
	}
	return instructions, nil
}

type pendingBranch struct {
	ins    *cil.Instruction
	index  int
	labels []string
}

type ilParser struct {
	resolver Resolver
	labels   map[string]*cil.Instruction
	branches []pendingBranch
	count    int
}

func (p *ilParser) line(line string) (*cil.Instruction, error) {
	text := strings.TrimSpace(line)
	label := ""
	if head, rest, found := strings.Cut(text, ":"); found && isLabel(head) {
		label = head
		text = strings.TrimSpace(rest)
	}
	name, operand := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		name, operand = text[:i], strings.TrimSpace(text[i:])
	}

	op, found := cil.LookupOpCode(name)
	if !found {
		return nil, ilerrors.WrapInvalidArgument("unknown opcode '%s'", name)
	}
	ins := cil.Op(op)
	if label != "" {
		if _, taken := p.labels[label]; taken {
			return nil, ilerrors.WrapInvalidArgument("label '%s' is defined twice", label)
		}
		p.labels[label] = ins
	}
	if err := p.operand(ins, operand); err != nil {
		return nil, err
	}
	p.count++
	return ins, nil
}

func isLabel(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (p *ilParser) operand(ins *cil.Instruction, text string) error {
	kind := ins.OpCode.Operand
	if kind == cil.InlineNone {
		if text != "" {
			return ilerrors.WrapInvalidArgument("%s takes no operand", ins.OpCode.Name)
		}
		return nil
	}
	if text == "" {
		return ilerrors.WrapInvalidArgument("%s needs an operand", ins.OpCode.Name)
	}

	switch kind {
	case cil.ShortInlineBrTarget, cil.InlineBrTarget:
		p.branches = append(p.branches, pendingBranch{ins: ins, index: p.count, labels: []string{text}})
	case cil.InlineSwitch:
		inner := strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
		var labels []string
		for _, l := range strings.Split(inner, ",") {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		p.branches = append(p.branches, pendingBranch{ins: ins, index: p.count, labels: labels})
	case cil.ShortInlineI, cil.InlineI:
		v, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return ilerrors.WrapInvalidArgument("bad integer '%s'", text)
		}
		ins.Operand = cil.Int32Operand(v)
	case cil.InlineI8:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return ilerrors.WrapInvalidArgument("bad integer '%s'", text)
		}
		ins.Operand = cil.Int64Operand(v)
	case cil.ShortInlineR, cil.InlineR:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ilerrors.WrapInvalidArgument("bad number '%s'", text)
		}
		ins.Operand = cil.FloatOperand(v)
	case cil.ShortInlineVar, cil.InlineVar:
		v, err := strconv.ParseUint(text, 0, 16)
		if err != nil {
			return ilerrors.WrapInvalidArgument("bad slot '%s'", text)
		}
		if ins.OpCode.IsArgument() {
			ins.Operand = cil.ArgOperand(v)
		} else {
			ins.Operand = cil.LocalOperand(v)
		}
	case cil.InlineString:
		s, err := strconv.Unquote(text)
		if err != nil {
			return ilerrors.WrapInvalidArgument("bad string literal %s", text)
		}
		ins.Operand = cil.StringOperand(s)
	case cil.InlineMethod:
		method, err := p.method(text)
		if err != nil {
			return err
		}
		ins.Operand = cil.MethodOperand{Method: method}
	case cil.InlineField:
		field, err := p.field(text)
		if err != nil {
			return err
		}
		ins.Operand = cil.FieldOperand{Field: field}
	case cil.InlineType:
		t, err := p.resolver.Resolve(text)
		if err != nil {
			return err
		}
		ins.Operand = cil.TypeOperand{Type: t}
	case cil.InlineTok:
		member, err := p.token(text)
		if err != nil {
			return err
		}
		ins.Operand = cil.TokenOperand{Member: member}
	default:
		return ilerrors.WrapUnsupportedOperand("Sig", ins.OpCode.Name)
	}
	return nil
}

// method parses "Type::Name" or "Type::Name(P1, P2)".
func (p *ilParser) method(text string) (cil.Method, error) {
	typeName, rest, found := strings.Cut(text, "::")
	if !found {
		return nil, ilerrors.WrapInvalidArgument("method operand '%s' is not Type::Name", text)
	}
	name, params := rest, []string(nil)
	if open := strings.Index(rest, "("); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return nil, ilerrors.WrapInvalidArgument("unterminated parameter list in '%s'", text)
		}
		name = rest[:open]
		params = []string{}
		for _, param := range strings.Split(rest[open+1:len(rest)-1], ",") {
			if param = strings.TrimSpace(param); param != "" {
				params = append(params, param)
			}
		}
	}
	return p.resolver.ResolveMethod(strings.TrimSpace(typeName), strings.TrimSpace(name), params)
}

func (p *ilParser) field(text string) (cil.Field, error) {
	typeName, name, found := strings.Cut(text, "::")
	if !found {
		return nil, ilerrors.WrapInvalidArgument("field operand '%s' is not Type::Name", text)
	}
	return p.resolver.ResolveField(strings.TrimSpace(typeName), strings.TrimSpace(name))
}

// token picks a method, field or type from the operand shape.
func (p *ilParser) token(text string) (cil.Member, error) {
	switch {
	case strings.Contains(text, "::") && strings.Contains(text, "("):
		return p.method(text)
	case strings.Contains(text, "::"):
		return p.field(text)
	}
	return p.resolver.Resolve(text)
}

func (p *ilParser) bindBranches() error {
	for _, b := range p.branches {
		targets := make([]*cil.Instruction, len(b.labels))
		for i, label := range b.labels {
			target, found := p.labels[label]
			if !found {
				return fmt.Errorf("unknown label '%s': %w", label, ilerrors.WrapDanglingBranch(b.ins.OpCode.Name, b.index))
			}
			targets[i] = target
		}
		if b.ins.OpCode.Operand == cil.InlineSwitch {
			b.ins.Operand = cil.SwitchOperand{Targets: targets}
		} else {
			b.ins.Operand = cil.BranchOperand{Target: targets[0]}
		}
	}
	return nil
}
