package cil

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilerrors "ilpatch/internal/errors"
)

type fakeMethod struct {
	name    string
	args    int
	returns bool
}

func (m *fakeMethod) FullName() string   { return m.name }
func (m *fakeMethod) ArgumentCount() int { return m.args }
func (m *fakeMethod) ReturnsValue() bool { return m.returns }

type fakeType struct{ name string }

func (t *fakeType) FullName() string  { return t.name }
func (t *fakeType) IsValueType() bool { return false }

// fakeModule resolves and hands out tokens from fixed tables.
type fakeModule struct {
	methods map[uint32]*fakeMethod
	types   map[uint32]*fakeType
	strings map[uint32]string
}

var (
	writeLine = &fakeMethod{name: "System.Void System.Console::WriteLine(System.String)", args: 1}
	concat    = &fakeMethod{name: "System.String System.String::Concat(System.String,System.String)", args: 2, returns: true}
	exception = &fakeType{name: "System.Exception"}
)

func newFakeModule() *fakeModule {
	return &fakeModule{
		methods: map[uint32]*fakeMethod{0x0A000001: writeLine, 0x0A000002: concat},
		types:   map[uint32]*fakeType{0x01000001: exception},
		strings: map[uint32]string{0x70000001: "Hi"},
	}
}

func (f *fakeModule) ResolveMethod(token uint32) (Method, error) {
	if m, ok := f.methods[token]; ok {
		return m, nil
	}
	return nil, ilerrors.WrapNotFound("method token")
}

func (f *fakeModule) ResolveField(token uint32) (Field, error) {
	return nil, ilerrors.WrapNotFound("field token")
}

func (f *fakeModule) ResolveType(token uint32) (Type, error) {
	if t, ok := f.types[token]; ok {
		return t, nil
	}
	return nil, ilerrors.WrapNotFound("type token")
}

func (f *fakeModule) ResolveMember(token uint32) (Member, error) {
	if t, ok := f.types[token]; ok {
		return t, nil
	}
	return f.ResolveMethod(token)
}

func (f *fakeModule) ResolveString(token uint32) (string, error) {
	if s, ok := f.strings[token]; ok {
		return s, nil
	}
	return "", ilerrors.WrapNotFound("string token")
}

func (f *fakeModule) ResolveSignature(token uint32) (SigOperand, error) {
	return SigOperand{Token: token}, nil
}

func (f *fakeModule) MethodToken(m Method) (uint32, error) {
	for tok, x := range f.methods {
		if x == m {
			return tok, nil
		}
	}
	return 0, ilerrors.WrapNotFound(m.FullName())
}

func (f *fakeModule) FieldToken(Field) (uint32, error) {
	return 0, ilerrors.WrapNotFound("field")
}

func (f *fakeModule) TypeToken(t Type) (uint32, error) {
	for tok, x := range f.types {
		if x == t {
			return tok, nil
		}
	}
	return 0, ilerrors.WrapNotFound(t.FullName())
}

func (f *fakeModule) MemberToken(m Member) (uint32, error) {
	if t, ok := m.(Type); ok {
		return f.TypeToken(t)
	}
	return f.MethodToken(m.(Method))
}

func (f *fakeModule) StringToken(s string) (uint32, error) {
	for tok, x := range f.strings {
		if x == s {
			return tok, nil
		}
	}
	tok := 0x70000000 | uint32(len(f.strings)*8+1)
	f.strings[tok] = s
	return tok, nil
}

// ldstr "Hi"; call WriteLine; ret
var helloTiny = []byte{
	11<<2 | tinyFormat,
	0x72, 0x01, 0x00, 0x00, 0x70,
	0x28, 0x01, 0x00, 0x00, 0x0A,
	0x2A,
}

func TestDecodeTinyBody(t *testing.T) {
	body, err := Decode(helloTiny, newFakeModule())
	require.NoError(t, err)

	require.Len(t, body.Instructions, 3)
	assert.Equal(t, Ldstr, body.Instructions[0].OpCode)
	assert.Equal(t, StringOperand("Hi"), body.Instructions[0].Operand)
	assert.Equal(t, MethodOperand{Method: writeLine}, body.Instructions[1].Operand)
	assert.Equal(t, 5, body.Instructions[1].Offset)
	assert.Equal(t, Ret, body.Instructions[2].OpCode)
	assert.Equal(t, 8, body.MaxStack)
	assert.False(t, body.InitLocals)
	assert.Empty(t, body.Handlers)
}

func TestEncodeRoundTripIsByteIdentical(t *testing.T) {
	mod := newFakeModule()
	body, err := Decode(helloTiny, mod)
	require.NoError(t, err)

	out, err := Encode(body, mod, false)
	require.NoError(t, err)
	assert.Equal(t, helloTiny, out)
}

func tryCatchBody() *Body {
	ret := Op(Ret)
	nop := Op(Nop)
	pop := Op(Pop)
	body := &Body{}
	body.Append(nop, Branch(LeaveS, ret), pop, Branch(LeaveS, ret), ret)
	body.Handlers = []*ExceptionHandler{{
		Kind:         HandlerCatch,
		TryStart:     nop,
		TryEnd:       pop,
		HandlerStart: pop,
		HandlerEnd:   ret,
		CatchType:    exception,
	}}
	return body
}

func TestEncodeExceptionHandlers(t *testing.T) {
	mod := newFakeModule()
	body := tryCatchBody()

	out, err := Encode(body, mod, false)
	require.NoError(t, err)

	le := binary.LittleEndian
	assert.Equal(t, uint16(fatFormat|fatHeaderSizeTag|fatMoreSects), le.Uint16(out))
	assert.Equal(t, uint16(1), le.Uint16(out[2:]), "catch entry holds the exception object")
	assert.Equal(t, uint32(7), le.Uint32(out[4:]))

	decoded, err := Decode(out, mod)
	require.NoError(t, err)
	require.Len(t, decoded.Instructions, 5)
	require.Len(t, decoded.Handlers, 1)
	h := decoded.Handlers[0]
	assert.Equal(t, HandlerCatch, h.Kind)
	assert.Same(t, decoded.Instructions[0], h.TryStart)
	assert.Same(t, decoded.Instructions[2], h.TryEnd)
	assert.Same(t, decoded.Instructions[2], h.HandlerStart)
	assert.Same(t, decoded.Instructions[4], h.HandlerEnd)
	assert.Equal(t, exception, h.CatchType)
	assert.Same(t, decoded.Instructions[4], decoded.Instructions[1].Operand.(BranchOperand).Target)

	again, err := Encode(decoded, mod, false)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestShortBranchIsWidened(t *testing.T) {
	target := Op(Ret)
	br := Branch(BrS, target)
	body := &Body{}
	body.Append(br)
	for i := 0; i < 200; i++ {
		body.Append(Op(Nop))
	}
	body.Append(target)

	out, err := Encode(body, newFakeModule(), false)
	require.NoError(t, err)

	assert.Equal(t, Br, br.OpCode)
	assert.Equal(t, 205, target.Offset)
	assert.Equal(t, byte(0x38), out[fatHeaderSize])
	assert.Equal(t, int32(200), int32(binary.LittleEndian.Uint32(out[fatHeaderSize+1:])))
}

func TestNearBranchStaysShort(t *testing.T) {
	loop := Op(Nop)
	body := &Body{}
	body.Append(loop, Op(Ldarg0), Branch(BrtrueS, loop), Op(Ret))

	out, err := Encode(body, newFakeModule(), false)
	require.NoError(t, err)

	assert.Equal(t, BrtrueS, body.Instructions[2].OpCode)
	assert.Equal(t, []byte{5<<2 | tinyFormat, 0x00, 0x02, 0x2D, 0xFC, 0x2A}, out)
}

func TestSwitchRoundTrip(t *testing.T) {
	mod := newFakeModule()
	a, b := Op(LdcI41), Op(Ret)
	body := &Body{}
	body.Append(Op(Ldarg0), Create(Switch, SwitchOperand{Targets: []*Instruction{a, b}}), b, a, Op(Pop), Op(Ret))

	out, err := Encode(body, mod, false)
	require.NoError(t, err)
	decoded, err := Decode(out, mod)
	require.NoError(t, err)

	sw := decoded.Instructions[1].Operand.(SwitchOperand)
	require.Len(t, sw.Targets, 2)
	assert.Same(t, decoded.Instructions[3], sw.Targets[0])
	assert.Same(t, decoded.Instructions[2], sw.Targets[1])
}

func TestOperandWidening(t *testing.T) {
	ldc := Create(LdcI4S, Int32Operand(1000))
	loc := Create(LdlocS, LocalOperand(300))
	body := &Body{}
	body.Append(ldc, Op(Pop), loc, Op(Pop), Op(Ret))

	_, err := Encode(body, newFakeModule(), false)
	require.NoError(t, err)
	assert.Equal(t, LdcI4, ldc.OpCode)
	assert.Equal(t, Ldloc, loc.OpCode)
}

func TestValidateFailureLeavesBodyAlone(t *testing.T) {
	ldc := Create(LdcI4S, Int32Operand(1000))
	loc := Create(LdlocS, LocalOperand(300))
	wide := Create(LdcI8, Int32Operand(7))
	bare := &Instruction{OpCode: Nop}
	body := &Body{}
	body.Append(ldc, loc, wide, bare, Branch(Br, Op(Ret)), Op(Ret))

	err := Validate(body)
	assert.ErrorIs(t, err, ilerrors.ErrDanglingBranchTarget)
	assert.Equal(t, LdcI4S, ldc.OpCode)
	assert.Equal(t, LdlocS, loc.OpCode)
	assert.Equal(t, Int32Operand(7), wide.Operand)
	assert.Nil(t, bare.Operand)

	body.Instructions[4] = Op(Pop)
	require.NoError(t, Validate(body))
	assert.Equal(t, LdcI4, ldc.OpCode)
	assert.Equal(t, Ldloc, loc.OpCode)
	assert.Equal(t, Int64Operand(7), wide.Operand)
	assert.Equal(t, NoOperand{}, bare.Operand)
}

func TestEncodeFailures(t *testing.T) {
	mod := newFakeModule()

	t.Run("dangling branch", func(t *testing.T) {
		body := &Body{}
		body.Append(Branch(Br, Op(Ret)), Op(Ret))
		_, err := Encode(body, mod, false)
		assert.ErrorIs(t, err, ilerrors.ErrDanglingBranchTarget)
	})

	t.Run("dangling handler", func(t *testing.T) {
		body := tryCatchBody()
		body.Handlers[0].HandlerStart = Op(Pop)
		_, err := Encode(body, mod, false)
		assert.ErrorIs(t, err, ilerrors.ErrDanglingBranchTarget)
	})

	t.Run("operand mismatch", func(t *testing.T) {
		body := &Body{}
		body.Append(Create(Ldstr, Int32Operand(4)), Op(Ret))
		_, err := Encode(body, mod, false)
		assert.ErrorIs(t, err, ilerrors.ErrUnsupportedOperand)
	})

	t.Run("argument opcode with local operand", func(t *testing.T) {
		body := &Body{}
		body.Append(Create(LdargS, LocalOperand(1)), Op(Ret))
		_, err := Encode(body, mod, false)
		assert.ErrorIs(t, err, ilerrors.ErrUnsupportedOperand)
	})
}

func TestDecodeMalformed(t *testing.T) {
	mod := newFakeModule()
	cases := map[string][]byte{
		"empty":          {},
		"unknown format": {0x01},
		"unknown opcode": {1<<2 | tinyFormat, 0x24},
		"truncated":      {4<<2 | tinyFormat, 0x20, 0x01},
		"mid-instruction branch": {
			8<<2 | tinyFormat,
			0x2B, 0x01,
			0x20, 0x00, 0x00, 0x00, 0x00,
			0x2A,
		},
		"unknown token": {6<<2 | tinyFormat, 0x28, 0x09, 0x00, 0x00, 0x0A, 0x2A},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw, mod)
			assert.ErrorIs(t, err, ilerrors.ErrMalformedBinary)
		})
	}
}

func TestComputeMaxStack(t *testing.T) {
	body := &Body{}
	body.Append(
		Create(Ldstr, StringOperand("a")),
		Create(Ldstr, StringOperand("b")),
		Create(Call, MethodOperand{Method: concat}),
		Create(Call, MethodOperand{Method: writeLine}),
		Op(Ret),
	)
	assert.Equal(t, 2, ComputeMaxStack(body, false))

	ctor := &fakeMethod{name: "Point::.ctor", args: 3}
	body = &Body{}
	body.Append(Op(LdcI41), Op(LdcI42), Create(Newobj, MethodOperand{Method: ctor}), Op(Ret))
	assert.Equal(t, 2, ComputeMaxStack(body, true))

	assert.Equal(t, 1, ComputeMaxStack(tryCatchBody(), false))
}

func TestRemapTokens(t *testing.T) {
	out, err := RemapTokens(helloTiny, func(tok uint32) uint32 {
		if tok == 0x0A000001 {
			return 0x06000005
		}
		return tok
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(0x70000001), binary.LittleEndian.Uint32(out[2:]), "user strings are untouched")
	assert.Equal(t, uint32(0x06000005), binary.LittleEndian.Uint32(out[7:]))
	assert.Equal(t, byte(0x01), helloTiny[7], "input is not modified")
}

func TestRemapTokensCatchType(t *testing.T) {
	mod := newFakeModule()
	raw, err := Encode(tryCatchBody(), mod, false)
	require.NoError(t, err)

	out, err := RemapTokens(raw, func(tok uint32) uint32 { return tok + 1 })
	require.NoError(t, err)
	require.Len(t, out, len(raw))
	assert.Equal(t, uint32(0x01000002), binary.LittleEndian.Uint32(out[len(out)-4:]))
}

func TestLookupOpCode(t *testing.T) {
	op, ok := LookupOpCode("brtrue.s")
	require.True(t, ok)
	assert.Equal(t, BrtrueS, op)
	assert.True(t, op.IsBranch())

	op, ok = LookupOpCode("ldarg.s")
	require.True(t, ok)
	assert.True(t, op.IsArgument())

	_, ok = LookupOpCode("bogus")
	assert.False(t, ok)
}
