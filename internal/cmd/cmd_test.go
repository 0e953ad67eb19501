package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
	"ilpatch/internal/refset"
	"ilpatch/internal/report"
)

func resetFlags() {
	VerboseFlag, NoColorFlag, ReferenceFlags, RuntimeFlag = false, false, nil, ""
	planFlag, outFlag, watchFlag = "", "", false
	bindingsOutFlag, bindingsPackageFlag = "./bindings", "bindings"
	refsOutFlag, refsPackageFlag, refsFeedFlag = "./refs", metadata.ReferencePack, ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeGreeter writes an assembly with App.Program.Greet printing "Hello".
func writeGreeter(t *testing.T, dir string) string {
	t.Helper()
	m := metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
	_, err := m.DefineType("App", "Program", "")
	require.NoError(t, err)
	_, err = m.InsertField("App.Program", "count", "System.Int32")
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

	path := filepath.Join(dir, "App.dll")
	require.NoError(t, m.WriteFile(path))
	return path
}

func writePlan(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const renamePlan = `{"steps": [
	{"op": "rename_method", "type": "App.Program", "method": "Greet", "new_name": "Welcome"},
	{"op": "insert_field", "type": "App.Program", "field": "name", "field_type": "System.String"}
]}`

func TestDumpCommand(t *testing.T) {
	path := writeGreeter(t, t.TempDir())

	out, err := execute(t, "dump", "--no-color", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Successfully loaded assembly: App, Version=0.0.0.0")
	assert.Contains(t, out, "Type: App.Program\n")
	assert.Contains(t, out, "\tMethod: Greet\n")
	assert.Contains(t, out, "IL_0000: ldstr \"Hello\"\n")
	assert.Contains(t, out, "IL_0005: call System.Void System.Console::WriteLine(System.String)\n")
	assert.Contains(t, out, "IL_000a: ret\n")
}

func TestDumpCommandMissingFile(t *testing.T) {
	_, err := execute(t, "dump", filepath.Join(t.TempDir(), "missing.dll"))
	assert.ErrorIs(t, err, ilerrors.ErrNotFound)
}

func TestApplyCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	planPath := writePlan(t, dir, renamePlan)

	out, err := execute(t, "apply", "--no-color", input, "--plan", planPath)
	require.NoError(t, err)

	output := filepath.Join(dir, "Modified_App.dll")
	assert.Contains(t, out, "Modified assembly saved to: "+output)

	m, err := metadata.Load(output, metadata.WithExternal(refset.Builtin()))
	require.NoError(t, err)
	_, err = m.Method("App.Program", "Welcome")
	assert.NoError(t, err)
	program, err := m.Type("App.Program")
	require.NoError(t, err)
	assert.Len(t, program.Fields(), 2)

	original, err := metadata.Load(input, metadata.WithExternal(refset.Builtin()))
	require.NoError(t, err)
	_, err = original.Method("App.Program", "Greet")
	assert.NoError(t, err, "the input is left untouched")
}

func TestApplyCommandExplicitOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	planPath := writePlan(t, dir, renamePlan)
	output := filepath.Join(dir, "out", "Patched.dll")
	require.NoError(t, os.Mkdir(filepath.Dir(output), 0o755))

	_, err := execute(t, "apply", "--no-color", input, "--plan", planPath, "--out", output)
	require.NoError(t, err)
	assert.FileExists(t, output)
	assert.NoFileExists(t, filepath.Join(dir, "Modified_App.dll"))
}

func TestApplyCommandFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	planPath := writePlan(t, dir, `{"steps": [
		{"op": "insert_field", "type": "App.Program", "field": "name", "field_type": "System.String"},
		{"op": "rename_method", "type": "App.Program", "method": "DoesNotExist", "new_name": "Anything"}
	]}`)

	_, err := execute(t, "apply", input, "--plan", planPath)
	require.ErrorIs(t, err, ilerrors.ErrMethodNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "Modified_App.dll"))
}

func TestApplyCommandRejectsOverwritingInput(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	planPath := writePlan(t, dir, renamePlan)

	_, err := execute(t, "apply", input, "--plan", planPath, "--out", input)
	assert.ErrorIs(t, err, ilerrors.ErrInvalidArgument)
}

func TestApplyWatch(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	planPath := writePlan(t, dir, renamePlan)
	output := filepath.Join(dir, "Modified_App.dll")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := applyJob{input: input, plan: planPath, output: output}
	done := make(chan error, 1)
	go func() {
		done <- job.watch(ctx, report.NewPrinter(&bytes.Buffer{}, false), &bytes.Buffer{})
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(output)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "the plan is applied once at start")
	require.NoError(t, os.Remove(output))

	// Editing the plan applies it again.
	writePlan(t, dir, `{"steps": [{"op": "rename_type", "type": "App.Program", "new_name": "Entry"}]}`)
	require.Eventually(t, func() bool {
		m, err := metadata.Load(output, metadata.WithExternal(refset.Builtin()))
		if err != nil {
			return false
		}
		_, err = m.Type("App.Entry")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestBindingsCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeGreeter(t, dir)
	outDir := filepath.Join(dir, "gen")

	out, err := execute(t, "bindings", input, "--out", outDir, "--package", "app")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 1 file(s)")

	content, err := os.ReadFile(filepath.Join(outDir, "program.go"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "package app")
	assert.Regexp(t, `Count\s+int32`, string(content))
}

func TestRefsFetchCommand(t *testing.T) {
	var pkg bytes.Buffer
	w := zip.NewWriter(&pkg)
	f, err := w.Create("ref/net8.0/System.Runtime.dll")
	require.NoError(t, err)
	_, err = f.Write([]byte("runtime"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":[{"@id":"%s/flat/","@type":"PackageBaseAddress/3.0.0"}]}`, server.URL)
	})
	mux.HandleFunc("/flat/microsoft.netcore.app.ref/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions":["8.0.1"]}`)
	})
	mux.HandleFunc("/flat/microsoft.netcore.app.ref/8.0.1/microsoft.netcore.app.ref.8.0.1.nupkg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pkg.Bytes())
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	outDir := filepath.Join(t.TempDir(), "refs")
	out, err := execute(t, "refs", "fetch", "--out", outDir, "--feed", server.URL+"/index.json")
	require.NoError(t, err)

	assert.Contains(t, out, "microsoft.netcore.app.ref 8.0.1 (net8.0): 1 assemblies")
	assert.FileExists(t, filepath.Join(outDir, "System.Runtime.dll"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ilpatch version dev\n", out)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("info", false)
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = newLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger("loud", true)
	assert.ErrorIs(t, err, ilerrors.ErrInvalidArgument)
}
