package generation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
	"ilpatch/internal/refset"
)

func bindingsModule(t *testing.T) *metadata.Module {
	t.Helper()
	m := metadata.NewModule("App.dll", metadata.WithExternal(refset.Builtin()))
	define := func(name, base string, fields ...string) {
		_, err := m.DefineType("App", name, base)
		require.NoError(t, err)
		for i := 0; i+1 < len(fields); i += 2 {
			_, err := m.InsertField("App."+name, fields[i], fields[i+1])
			require.NoError(t, err)
		}
	}
	define("Point", "System.ValueType", "X", "System.Int32", "Y", "System.Int32")
	define("Helper", "", "label", "System.String")
	define("Color", "System.Enum", "value__", "System.Byte")
	define("Empty", "")
	define("Program", "",
		"count", "System.Int32",
		"names", "System.String[]",
		"origin", "App.Point",
		"helper", "App.Helper",
		"failure", "System.Exception",
	)
	return m
}

func readGenerated(t *testing.T, dir, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(content)
}

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bindings")
	generator := NewGenerator("bindings", dir)

	written, err := generator.Generate(bindingsModule(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "color.go"),
		filepath.Join(dir, "helper.go"),
		filepath.Join(dir, "point.go"),
		filepath.Join(dir, "program.go"),
	}, written, "types without fields are skipped")

	program := readGenerated(t, dir, "program.go")
	assert.Contains(t, program, "// Code generated by ilpatch. DO NOT EDIT.")
	assert.Contains(t, program, "package bindings")
	assert.Contains(t, program, "// Program mirrors App.Program.")
	assert.Regexp(t, `Count\s+int32`, program)
	assert.Regexp(t, `Names\s+\[\]string`, program)
	assert.Regexp(t, `Origin\s+Point\n`, program, "value types are embedded")
	assert.Regexp(t, `Helper\s+\*Helper`, program, "classes are pointers")
	assert.Regexp(t, `Failure\s+uintptr`, program, "unknown types are opaque")

	assert.Regexp(t, `type Point struct \{\s+X\s+int32\s+Y\s+int32\s+\}`, readGenerated(t, dir, "point.go"))
	assert.Contains(t, readGenerated(t, dir, "color.go"), "type Color uint8")
}

func TestGenerateRejectsBadPackageName(t *testing.T) {
	generator := NewGenerator("not-a-package", t.TempDir())

	_, err := generator.Generate(bindingsModule(t))
	assert.ErrorIs(t, err, ilerrors.ErrInvalidArgument)
}

func TestExportedName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"count", "Count"},
		{"<Label>k__BackingField", "Label"},
		{"List`1", "List"},
		{"value__", "Value__"},
		{"1st", "X1st"},
		{"<>", "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exportedName(tt.name))
		})
	}
}
