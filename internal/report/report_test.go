package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch/internal/cil"
	"ilpatch/internal/metadata"
	"ilpatch/internal/refset"
)

func greeter(t *testing.T) *metadata.Module {
	t.Helper()
	m := metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
	_, err := m.DefineType("App", "Program", "")
	require.NoError(t, err)
	_, err = m.CreateMethod("App.Program", "Greet", "System.Void", nil)
	require.NoError(t, err)

	writeLine, err := m.ResolveMethod("System.Console", "WriteLine", []string{"System.String"})
	require.NoError(t, err)
	require.NoError(t, m.WriteMethodIL("App.Program", "Greet", []*cil.Instruction{
		cil.Create(cil.Ldstr, cil.StringOperand("Hello")),
		cil.Create(cil.Call, cil.MethodOperand{Method: writeLine}),
		cil.Op(cil.Ret),
	}))
	return m
}

func TestModuleListing(t *testing.T) {
	var out bytes.Buffer
	NewPrinter(&out, false).Module(greeter(t))

	want := strings.Join([]string{
		"Type: App.Program",
		"\tMethod: Greet",
		"\t\tIL Instructions:",
		"\t\t\tIL_0000: ldstr \"Hello\"",
		"\t\t\tIL_0005: call System.Void System.Console::WriteLine(System.String)",
		"\t\t\tIL_000a: ret",
		"",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())
}

func TestLoadedAndSaved(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, false)

	p.Loaded(greeter(t))
	p.Saved("out/Modified_App.dll")

	assert.Equal(t, "Successfully loaded assembly: App, Version=0.0.0.0, Culture=neutral, PublicKeyToken=null\n\n"+
		"Modified assembly saved to: out/Modified_App.dll\n", out.String())
}

func TestColoredOutput(t *testing.T) {
	var plain, colored bytes.Buffer
	m := greeter(t)

	NewPrinter(&plain, false).Module(m)
	NewPrinter(&colored, true).Module(m)

	assert.NotContains(t, plain.String(), "\x1b[")
	assert.Contains(t, colored.String(), "\x1b[")
	assert.Contains(t, colored.String(), "App.Program")
}
