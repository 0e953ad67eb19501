package metadata_test

import (
	"bytes"
	"fmt"
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

// listing renders every type, field, method and instruction of a module.
func listing(m *metadata.Module) string {
	var b strings.Builder
	for _, t := range m.Types() {
		fmt.Fprintf(&b, "Type: %s\n", t.FullName())
		for _, f := range t.Fields() {
			fmt.Fprintf(&b, "  Field: %s\n", f.FullName())
		}
		for _, method := range t.Methods() {
			fmt.Fprintf(&b, "  Method: %s\n", method.FullName())
			body := method.PeekBody()
			if body == nil {
				continue
			}
			for _, ins := range body.Instructions {
				fmt.Fprintf(&b, "    %s\n", ins)
			}
		}
	}
	return b.String()
}

func greeter(t *testing.T) *metadata.Module {
	t.Helper()
	m := metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
	_, err := m.DefineType("App", "Program", "")
	require.NoError(t, err)
	_, err = m.CreateMethod("App.Program", "Greet", "System.Void", []metadata.ParamDef{{Name: "name", Type: "System.String"}})
	require.NoError(t, err)

	concat, err := m.ResolveMethod("System.String", "Concat", []string{"System.String", "System.String"})
	require.NoError(t, err)
	writeLine, err := m.ResolveMethod("System.Console", "WriteLine", []string{"System.String"})
	require.NoError(t, err)
	require.NoError(t, m.WriteMethodIL("App.Program", "Greet", []*cil.Instruction{
		cil.Create(cil.LdargS, cil.ArgOperand(1)),
		cil.Create(cil.Ldstr, cil.StringOperand("Hello, ")),
		cil.Create(cil.Call, cil.MethodOperand{Method: concat}),
		cil.Create(cil.Call, cil.MethodOperand{Method: writeLine}),
		cil.Op(cil.Ret),
	}))
	return m
}

func writeAndLoad(t *testing.T, m *metadata.Module, name string) *metadata.Module {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, m.WriteFile(path))
	loaded, err := metadata.Load(path, metadata.WithExternal(refset.Builtin()))
	require.NoError(t, err)
	return loaded
}

func TestGreetEndToEnd(t *testing.T) {
	loaded := writeAndLoad(t, greeter(t), "App.dll")

	method, err := loaded.Method("App.Program", "Greet")
	require.NoError(t, err)
	require.True(t, method.HasBody())
	assert.Equal(t, "Greet(System.String name) : System.Void", method.Signature())
	require.Len(t, method.Params, 1)
	assert.Equal(t, "name", method.Params[0].Name)

	instructions := method.PeekBody().Instructions
	require.Len(t, instructions, 5)
	assert.Equal(t, "ldarg.s", instructions[0].OpCode.Name)
	assert.Equal(t, cil.ArgOperand(1), instructions[0].Operand)
	assert.Equal(t, "ldstr", instructions[1].OpCode.Name)
	assert.Equal(t, cil.StringOperand("Hello, "), instructions[1].Operand)

	assert.Equal(t, "call", instructions[2].OpCode.Name)
	concat, ok := instructions[2].Operand.(cil.MethodOperand)
	require.True(t, ok)
	assert.IsType(t, &metadata.MethodRef{}, concat.Method)
	assert.Equal(t, "System.String System.String::Concat(System.String,System.String)", concat.Method.FullName())

	assert.Equal(t, "call", instructions[3].OpCode.Name)
	writeLine, ok := instructions[3].Operand.(cil.MethodOperand)
	require.True(t, ok)
	assert.Equal(t, "System.Void System.Console::WriteLine(System.String)", writeLine.Method.FullName())
	assert.Equal(t, "ret", instructions[4].OpCode.Name)

	var names []string
	for _, ref := range loaded.AssemblyRefs() {
		names = append(names, ref.Name)
	}
	assert.ElementsMatch(t, []string{"System.Runtime", "System.Console"}, names)
}

func TestRoundTripWithoutEdits(t *testing.T) {
	first := writeAndLoad(t, greeter(t), "App.dll")
	second := writeAndLoad(t, first, "App.dll")

	assert.Equal(t, listing(first), listing(second))
	assert.Contains(t, listing(second), "Method: System.Void App.Program::Greet(System.String)")
}

func TestWriteToWriterMatchesFile(t *testing.T) {
	m := greeter(t)
	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	assert.NotEmpty(t, buf.Bytes())

	loaded := writeAndLoad(t, m, "App.dll")
	assert.Equal(t, listing(m), listing(loaded))
}

func TestRenameSurvivesWrite(t *testing.T) {
	m := greeter(t)
	_, err := m.DefineType("App", "Helper", "")
	require.NoError(t, err)
	require.NoError(t, m.RenameType("App.Program", "Entry"))
	require.NoError(t, m.RenameMethod("App.Entry", "Greet", "Welcome"))

	loaded := writeAndLoad(t, m, "App.dll")

	_, err = loaded.Type("App.Program")
	assert.ErrorIs(t, err, ilerrors.ErrTypeNotFound)
	entry, err := loaded.Type("App.Entry")
	require.NoError(t, err)
	_, found := entry.TryGetMethod("Welcome")
	assert.True(t, found)
	_, found = entry.TryGetMethod("Greet")
	assert.False(t, found)
	_, err = loaded.Type("App.Helper")
	assert.NoError(t, err, "other types keep their names")
}

func TestRenamedCallTargetStaysBound(t *testing.T) {
	m := greeter(t)
	helper, err := m.CreateMethod("App.Program", "Helper", "System.Void", nil)
	require.NoError(t, err)
	require.NoError(t, m.WriteMethodIL("App.Program", "Greet", []*cil.Instruction{
		cil.Op(cil.Ldarg0),
		cil.Create(cil.Call, cil.MethodOperand{Method: helper}),
		cil.Op(cil.Ret),
	}))
	require.NoError(t, m.RenameMethod("App.Program", "Helper", "Assist"))

	loaded := writeAndLoad(t, m, "App.dll")
	greet, err := loaded.Method("App.Program", "Greet")
	require.NoError(t, err)
	call := greet.PeekBody().Instructions[1].Operand.(cil.MethodOperand)
	assert.Equal(t, "System.Void App.Program::Assist()", call.Method.FullName())
}

func TestInsertedMembersSurviveWrite(t *testing.T) {
	m := greeter(t)
	_, err := m.InsertField("App.Program", "count", "System.Int32")
	require.NoError(t, err)
	_, err = m.InsertField("App.Program", "names", "System.String[]")
	require.NoError(t, err)
	_, err = m.CreateMethod("App.Program", "Add", "System.Int32", []metadata.ParamDef{
		{Name: "a", Type: "System.Int32"},
		{Name: "b", Type: "System.Int32"},
	})
	require.NoError(t, err)
	require.NoError(t, m.WriteMethodIL("App.Program", "Add", []*cil.Instruction{
		cil.Op(cil.Ldarg1),
		cil.Op(cil.Ldarg2),
		cil.Op(cil.Add),
		cil.Op(cil.Ret),
	}))

	loaded := writeAndLoad(t, m, "App.dll")
	program, err := loaded.Type("App.Program")
	require.NoError(t, err)

	fields := program.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "System.Int32 App.Program::count", fields[0].FullName())
	assert.Equal(t, "System.String[] App.Program::names", fields[1].FullName())
	assert.Equal(t, uint16(metadata.FieldPublic), fields[0].Flags)

	add, err := loaded.Method("App.Program", "Add")
	require.NoError(t, err)
	assert.Equal(t, "Add(System.Int32 a, System.Int32 b) : System.Int32", add.Signature())
	assert.Len(t, add.PeekBody().Instructions, 4)
}

func TestBranchFixUpAfterWrite(t *testing.T) {
	m := greeter(t)
	ret := cil.Op(cil.Ret)
	instructions := []*cil.Instruction{cil.Branch(cil.BrS, ret)}
	for i := 0; i < 200; i++ {
		instructions = append(instructions, cil.Op(cil.Nop))
	}
	instructions = append(instructions, ret)
	require.NoError(t, m.WriteMethodIL("App.Program", "Greet", instructions))

	loaded := writeAndLoad(t, m, "App.dll")
	greet, err := loaded.Method("App.Program", "Greet")
	require.NoError(t, err)
	body := greet.PeekBody()
	require.Len(t, body.Instructions, 202)

	branch := body.Instructions[0]
	assert.Equal(t, "br", branch.OpCode.Name, "the short branch is widened")
	target := branch.Operand.(cil.BranchOperand).Target
	assert.Same(t, body.Instructions[201], target)
	assert.Equal(t, "ret", target.OpCode.Name)
}

func TestEmptyBodySeedingIsIdempotent(t *testing.T) {
	m := metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
	_, err := m.DefineType("App", "Program", "")
	require.NoError(t, err)
	_, err = m.CreateMethod("App.Program", "Run", "System.Void", nil)
	require.NoError(t, err)

	once := writeAndLoad(t, m, "App.dll")
	twice := writeAndLoad(t, once, "App.dll")

	for _, loaded := range []*metadata.Module{once, twice} {
		run, err := loaded.Method("App.Program", "Run")
		require.NoError(t, err)
		instructions := run.PeekBody().Instructions
		require.Len(t, instructions, 1)
		assert.Equal(t, "ret", instructions[0].OpCode.Name)
	}
}

func TestRenameMethodFailureKeepsMethods(t *testing.T) {
	m := greeter(t)
	program, err := m.Type("App.Program")
	require.NoError(t, err)

	err = m.RenameMethod("App.Program", "DoesNotExist", "Anything")
	require.ErrorIs(t, err, ilerrors.ErrMethodNotFound)
	assert.ErrorIs(t, err, ilerrors.ErrNotFound)

	methods := program.Methods()
	require.Len(t, methods, 1)
	assert.Equal(t, "Greet", methods[0].Name)

	loaded := writeAndLoad(t, m, "App.dll")
	_, err = loaded.Method("App.Program", "Greet")
	assert.NoError(t, err)
}

func TestSetVersionSurvivesWrite(t *testing.T) {
	m := greeter(t)
	require.NoError(t, m.SetVersion("1.2.3.4"))

	loaded := writeAndLoad(t, m, "App.dll")
	assert.Equal(t, "App, Version=1.2.3.4, Culture=neutral, PublicKeyToken=null", loaded.Assembly().String())
}

func TestWriteFileUpdatesPath(t *testing.T) {
	m := greeter(t)
	path := filepath.Join(t.TempDir(), "Modified_App.dll")

	require.NoError(t, m.WriteFile(path))
	assert.Equal(t, path, m.Path())

	// The written module can be edited and written again.
	require.NoError(t, m.RenameMethod("App.Program", "Greet", "Hello"))
	loaded := writeAndLoad(t, m, "Again.dll")
	_, err := loaded.Method("App.Program", "Hello")
	assert.NoError(t, err)
}

func TestWriteFileRejectsEmptyPath(t *testing.T) {
	err := greeter(t).WriteFile("")
	assert.ErrorIs(t, err, ilerrors.ErrInvalidArgument)
}

// compilerBuilt loads testdata/App.dll, a module produced by the C#
// compiler with no spare room in its PE section table.
func compilerBuilt(t *testing.T) *metadata.Module {
	t.Helper()
	m, err := metadata.Load(filepath.Join("testdata", "App.dll"), metadata.WithExternal(refset.Builtin()))
	require.NoError(t, err)
	return m
}

func TestCompilerBuiltRoundTrip(t *testing.T) {
	m := compilerBuilt(t)
	loaded := writeAndLoad(t, m, "App.dll")

	assert.Equal(t, listing(m), listing(loaded))
	require.NotNil(t, loaded.EntryPoint())
	assert.Equal(t, "Main", loaded.EntryPoint().Name)

	main, err := loaded.Method("App.Program", "Main")
	require.NoError(t, err)
	instructions := main.PeekBody().Instructions
	require.Len(t, instructions, 3)
	assert.Equal(t, cil.StringOperand("Hello, world"), instructions[0].Operand)
	assert.Equal(t, "System.Void System.Console::WriteLine(System.String)", instructions[1].Operand.(cil.MethodOperand).Method.FullName())
}

func TestCompilerBuiltEdits(t *testing.T) {
	m := compilerBuilt(t)
	_, err := m.CreateMethod("App.Program", "Greet", "System.Void", []metadata.ParamDef{{Name: "name", Type: "System.String"}})
	require.NoError(t, err)
	concat, err := m.ResolveMethod("System.String", "Concat", []string{"System.String", "System.String"})
	require.NoError(t, err)
	writeLine, err := m.ResolveMethod("System.Console", "WriteLine", []string{"System.String"})
	require.NoError(t, err)
	require.NoError(t, m.WriteMethodIL("App.Program", "Greet", []*cil.Instruction{
		cil.Create(cil.LdargS, cil.ArgOperand(1)),
		cil.Create(cil.Ldstr, cil.StringOperand("Hello, ")),
		cil.Create(cil.Call, cil.MethodOperand{Method: concat}),
		cil.Create(cil.Call, cil.MethodOperand{Method: writeLine}),
		cil.Op(cil.Ret),
	}))
	require.NoError(t, m.RenameType("App.Point", "Vector"))
	_, err = m.InsertField("App.Vector", "Z", "System.Int32")
	require.NoError(t, err)

	loaded := writeAndLoad(t, m, "Modified_App.dll")

	greet, err := loaded.Method("App.Program", "Greet")
	require.NoError(t, err)
	assert.Equal(t, "Greet(System.String name) : System.Void", greet.Signature())
	assert.Len(t, greet.PeekBody().Instructions, 5)

	vector, err := loaded.Type("App.Vector")
	require.NoError(t, err)
	var fields []string
	for _, f := range vector.Fields() {
		fields = append(fields, f.Name)
	}
	assert.Equal(t, []string{"X", "Y", "Z"}, fields)
	_, err = loaded.Type("App.Point")
	assert.ErrorIs(t, err, ilerrors.ErrTypeNotFound)

	main, err := loaded.Method("App.Program", "Main")
	require.NoError(t, err)
	assert.Same(t, main, loaded.EntryPoint())
	assert.Len(t, main.PeekBody().Instructions, 3)
}
