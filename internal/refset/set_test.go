package refset

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilpatch/internal/metadata"
)

func TestBuiltinCoreTypes(t *testing.T) {
	set := Builtin()

	tests := []struct {
		name      string
		assembly  string
		valueType bool
	}{
		{"System.Int32", runtimeAssembly, true},
		{"System.Void", runtimeAssembly, true},
		{"System.String", runtimeAssembly, false},
		{"System.Object", runtimeAssembly, false},
		{"System.Console", consoleAssembly, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			external, found := set.LookupType(tt.name)
			require.True(t, found)
			assert.Equal(t, tt.name, external.FullName())
			assert.Equal(t, tt.assembly, external.Assembly)
			assert.Equal(t, tt.valueType, external.ValueType)
			assert.True(t, external.Core)
			assert.Equal(t, "b03f5f7f11d50a3a", hex.EncodeToString(external.PublicKeyToken))
		})
	}

	_, found := set.LookupType("App.Program")
	assert.False(t, found)
}

func TestLookupMethodOverloads(t *testing.T) {
	set := Builtin()

	method, found := set.LookupMethod("System.Console", "WriteLine", []string{"System.String"})
	require.True(t, found)
	assert.Equal(t, "System.Void", method.Return)
	assert.False(t, method.HasThis)

	method, found = set.LookupMethod("System.Console", "WriteLine", []string{})
	require.True(t, found)
	assert.Empty(t, method.Params)

	method, found = set.LookupMethod("System.Console", "WriteLine", nil)
	require.True(t, found)
	assert.Equal(t, []string{"System.String"}, method.Params, "nil parameters pick the first overload")

	_, found = set.LookupMethod("System.Console", "WriteLine", []string{"System.Double", "System.Double"})
	assert.False(t, found)

	method, found = set.LookupMethod("System.Object", "ToString", nil)
	require.True(t, found)
	assert.True(t, method.HasThis)
}

func TestLookupField(t *testing.T) {
	set := Builtin()

	field, found := set.LookupField("System.String", "Empty")
	require.True(t, found)
	assert.Equal(t, "System.String", field.Type)
	assert.True(t, field.Static)

	_, found = set.LookupField("System.String", "Length")
	assert.False(t, found)
	_, found = set.LookupField("System.Missing", "Empty")
	assert.False(t, found)
}

func TestAddAppendsMembers(t *testing.T) {
	set := New()
	widget := metadata.ExternalType{Namespace: "Lib", Name: "Widget", Assembly: "Lib"}
	set.Add(widget, []metadata.ExternalMethod{{Name: "Run", Return: "System.Void", HasThis: true}}, nil)
	set.Add(widget, []metadata.ExternalMethod{{Name: "Stop", Return: "System.Void", HasThis: true}}, nil)

	assert.Equal(t, 1, set.Len())
	_, found := set.LookupMethod("Lib.Widget", "Run", nil)
	assert.True(t, found)
	_, found = set.LookupMethod("Lib.Widget", "Stop", nil)
	assert.True(t, found)
}

func TestMergeKeepsEarlierTypes(t *testing.T) {
	first := New()
	first.Add(metadata.ExternalType{Namespace: "System", Name: "String", Assembly: "mscorlib"}, nil, nil)
	first.Merge(Builtin())

	external, found := first.LookupType("System.String")
	require.True(t, found)
	assert.Equal(t, "mscorlib", external.Assembly)
	_, found = first.LookupMethod("System.String", "Concat", nil)
	assert.False(t, found, "members of a shadowed type are not merged")

	_, found = first.LookupType("System.Console")
	assert.True(t, found)
	assert.Equal(t, "System.String", first.TypeNames()[0])
	assert.Equal(t, Builtin().Len(), first.Len())
}

func TestPublicKeyToken(t *testing.T) {
	// The ECMA standard public key maps to the well-known framework token.
	key, err := hex.DecodeString("00000000000000000400000000000000")
	require.NoError(t, err)

	assert.Equal(t, "b77a5c561934e089", hex.EncodeToString(publicKeyToken(key)))
}

func TestLoadFilesWithoutPaths(t *testing.T) {
	set, err := LoadFiles(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, Builtin().Len(), set.Len())
}

func TestLoadFilesMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "System.Runtime.dll")

	_, err := LoadFiles(context.Background(), []string{missing})
	assert.Error(t, err)
}
