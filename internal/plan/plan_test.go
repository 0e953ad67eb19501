package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
	"ilpatch/internal/refset"
)

const greetPlan = `{
  "steps": [
    {"op": "define_type", "namespace": "App", "name": "Program"},
    {"op": "create_method", "type": "App.Program", "method": "Greet", "return_type": "System.Void"},
    {"op": "write_il", "type": "App.Program", "method": "Greet", "il": [
      "ldstr \"Hello\"",
      "call System.Console::WriteLine(System.String)",
      "ret"
    ]},
    {"op": "insert_field", "type": "App.Program", "field": "count", "field_type": "System.Int32"},
    {"op": "create_method", "type": "App.Program", "method": "Add", "return_type": "System.Int32",
     "params": [{"name": "a", "type": "System.Int32"}, {"name": "b", "type": "System.Int32"}]},
    {"op": "rename_method", "type": "App.Program", "method": "Greet", "new_name": "Welcome"},
    {"op": "rename_field", "type": "App.Program", "field": "count", "new_name": "total"},
    {"op": "rename_type", "type": "App.Program", "new_name": "Entry"},
    {"op": "set_version", "version": "2.1.0.0"}
  ]
}`

func newModule() *metadata.Module {
	return metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
}

func TestApplyPlan(t *testing.T) {
	p, err := Parse(strings.NewReader(greetPlan))
	require.NoError(t, err)
	require.Len(t, p.Steps, 9)

	m := newModule()
	require.NoError(t, p.Apply(m))

	entry, err := m.Type("App.Entry")
	require.NoError(t, err)
	welcome, found := entry.TryGetMethod("Welcome")
	require.True(t, found)
	instructions := welcome.PeekBody().Instructions
	require.Len(t, instructions, 3)
	assert.Equal(t, cil.StringOperand("Hello"), instructions[0].Operand)
	assert.Equal(t, "System.Void System.Console::WriteLine(System.String)", instructions[1].Operand.String())

	_, found = entry.TryGetField("total")
	assert.True(t, found)
	add, found := entry.TryGetMethod("Add")
	require.True(t, found)
	assert.Equal(t, "Add(System.Int32 a, System.Int32 b) : System.Int32", add.Signature())
	assert.Equal(t, "App, Version=2.1.0.0, Culture=neutral, PublicKeyToken=null", m.Assembly().String())
}

func TestApplyStopsAtFailingStep(t *testing.T) {
	p, err := Parse(strings.NewReader(`{"steps": [
		{"op": "define_type", "namespace": "App", "name": "Program"},
		{"op": "rename_method", "type": "App.Program", "method": "Missing", "new_name": "Other"},
		{"op": "rename_type", "type": "App.Program", "new_name": "Entry"}
	]}`))
	require.NoError(t, err)

	m := newModule()
	err = p.Apply(m)
	require.ErrorIs(t, err, ilerrors.ErrMethodNotFound)
	assert.Contains(t, err.Error(), "step 2 (rename_method)")

	_, err = m.Type("App.Program")
	assert.NoError(t, err, "steps after the failure are not run")
}

func TestParseRejectsBadPlans(t *testing.T) {
	tests := []struct {
		name string
		plan string
	}{
		{"not json", `steps:`},
		{"unknown key", `{"steps": [{"op": "rename_type", "type": "A.B", "new_name": "C", "cascade": true}]}`},
		{"unknown operation", `{"steps": [{"op": "delete_type", "type": "A.B"}]}`},
		{"missing new name", `{"steps": [{"op": "rename_type", "type": "A.B"}]}`},
		{"missing field type", `{"steps": [{"op": "insert_field", "type": "A.B", "field": "x"}]}`},
		{"missing version", `{"steps": [{"op": "set_version"}]}`},
		{"write without instructions", `{"steps": [{"op": "write_il", "type": "A.B", "method": "Run", "il": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.plan))
			assert.ErrorIs(t, err, ilerrors.ErrInvalidArgument)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(greetPlan), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, OpDefineType, p.Steps[0].Op)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ilerrors.ErrNotFound)
}

func programModule(t *testing.T) *metadata.Module {
	t.Helper()
	m := newModule()
	_, err := m.DefineType("App", "Program", "")
	require.NoError(t, err)
	_, err = m.InsertField("App.Program", "count", "System.Int32")
	require.NoError(t, err)
	return m
}

func TestParseILOperands(t *testing.T) {
	m := programModule(t)

	instructions, err := ParseIL(m, []string{
		"ldarg.s 1",
		"ldloc.s 2",
		"ldc.i4 0x10",
		"ldc.i4.s -3",
		"ldc.i8 9000000000",
		"ldc.r8 1.5",
		"ldfld App.Program::count",
		"ldsfld System.String::Empty",
		"box System.Int32",
		"ldtoken System.String",
		"ldtoken App.Program::count",
		"call System.Console::WriteLine",
		"\tnop",
	})
	require.NoError(t, err)
	require.Len(t, instructions, 13)

	assert.Equal(t, cil.ArgOperand(1), instructions[0].Operand)
	assert.Equal(t, cil.LocalOperand(2), instructions[1].Operand)
	assert.Equal(t, cil.Int32Operand(16), instructions[2].Operand)
	assert.Equal(t, cil.Int32Operand(-3), instructions[3].Operand)
	assert.Equal(t, cil.Int64Operand(9000000000), instructions[4].Operand)
	assert.Equal(t, cil.FloatOperand(1.5), instructions[5].Operand)
	assert.Equal(t, "System.Int32 App.Program::count", instructions[6].Operand.String())
	assert.Equal(t, "System.String System.String::Empty", instructions[7].Operand.String())
	assert.Equal(t, "System.Int32", instructions[8].Operand.String())
	assert.Equal(t, "Type", instructions[8].Operand.Variant())
	assert.Equal(t, "System.String", instructions[9].Operand.String())
	assert.Equal(t, "Token", instructions[10].Operand.Variant())
	assert.Equal(t, "System.Void System.Console::WriteLine(System.String)", instructions[11].Operand.String(),
		"no parameter list picks the first overload")
	assert.Equal(t, "nop", instructions[12].OpCode.Name)
}

func TestParseILLabels(t *testing.T) {
	m := programModule(t)
	_, err := m.CreateMethod("App.Program", "Run", "System.Void", []metadata.ParamDef{{Name: "flag", Type: "System.Int32"}})
	require.NoError(t, err)

	instructions, err := ParseIL(m, []string{
		"ldarg.1",
		"switch (first, done)",
		"first: nop",
		"brtrue.s first",
		"br done",
		"done: ret",
	})
	require.NoError(t, err)

	sw := instructions[1].Operand.(cil.SwitchOperand)
	require.Len(t, sw.Targets, 2)
	assert.Same(t, instructions[2], sw.Targets[0])
	assert.Same(t, instructions[5], sw.Targets[1])
	assert.Same(t, instructions[2], instructions[3].Operand.(cil.BranchOperand).Target)
	assert.Same(t, instructions[5], instructions[4].Operand.(cil.BranchOperand).Target)

	require.NoError(t, m.WriteMethodIL("App.Program", "Run", instructions), "parsed bodies pass validation")
}

func TestParseILErrors(t *testing.T) {
	m := programModule(t)

	tests := []struct {
		name string
		line []string
		kind error
	}{
		{"unknown opcode", []string{"frobnicate"}, ilerrors.ErrInvalidArgument},
		{"missing operand", []string{"ldstr"}, ilerrors.ErrInvalidArgument},
		{"extra operand", []string{"ret 1"}, ilerrors.ErrInvalidArgument},
		{"bad integer", []string{"ldc.i4 lots"}, ilerrors.ErrInvalidArgument},
		{"bad string", []string{"ldstr Hello"}, ilerrors.ErrInvalidArgument},
		{"unknown label", []string{"br.s nowhere", "ret"}, ilerrors.ErrDanglingBranchTarget},
		{"duplicate label", []string{"a: nop", "a: ret"}, ilerrors.ErrInvalidArgument},
		{"unknown method", []string{"call System.Console::Beep"}, ilerrors.ErrMethodNotFound},
		{"unknown type", []string{"box App.Missing"}, ilerrors.ErrUnresolvedType},
		{"method without type", []string{"call WriteLine"}, ilerrors.ErrInvalidArgument},
		{"signature operand", []string{"calli 1"}, ilerrors.ErrUnsupportedOperand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIL(m, tt.line)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}
