package generation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"

	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/metadata"
)

var builtInTypes = map[string]string{
	"System.Boolean": "bool",
	"System.Char":    "uint16",
	"System.SByte":   "int8",
	"System.Byte":    "uint8",
	"System.Int16":   "int16",
	"System.UInt16":  "uint16",
	"System.Int32":   "int32",
	"System.UInt32":  "uint32",
	"System.Int64":   "int64",
	"System.UInt64":  "uint64",
	"System.Single":  "float32",
	"System.Double":  "float64",
	"System.IntPtr":  "uintptr",
	"System.UIntPtr": "uintptr",
	"System.String":  "string",
	"System.Object":  "any",
}

// Generator emits Go struct definitions mirroring the field layout of the
// types declared by a module.
type Generator struct {
	PackageName string
	OutputPath  string

	names map[string]*goType
}

type goType struct {
	decl      *metadata.TypeDecl
	name      string
	valueType bool
}

func NewGenerator(packageName string, outputPath string) Generator {
	return Generator{
		PackageName: packageName,
		OutputPath:  outputPath,
		names:       make(map[string]*goType),
	}
}

// Generate writes one file per visible type that declares instance fields,
// or is an enum, and returns the written paths.
func (generator *Generator) Generate(m *metadata.Module) ([]string, error) {
	if !isIdentifier(generator.PackageName) {
		return nil, ilerrors.WrapInvalidArgument("'%s' is not a valid package name", generator.PackageName)
	}
	generator.registerTypes(m)
	if len(generator.names) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(generator.OutputPath, os.ModePerm); err != nil {
		return nil, ilerrors.WrapIO(err)
	}

	fullNames := make([]string, 0, len(generator.names))
	for fullName := range generator.names {
		fullNames = append(fullNames, fullName)
	}
	sort.Strings(fullNames)

	written := make([]string, 0, len(fullNames))
	for _, fullName := range fullNames {
		t := generator.names[fullName]
		file := jen.NewFile(generator.PackageName)
		file.HeaderComment("Code generated by ilpatch. DO NOT EDIT.")
		generator.generateType(t, file)

		path := filepath.Join(generator.OutputPath, strings.ToLower(t.name)+".go")
		if err := file.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func (generator *Generator) registerTypes(m *metadata.Module) {
	taken := make(map[string]bool)
	for _, t := range m.Types() {
		if !isVisible(t) || (!isEnum(t) && len(instanceFields(t)) == 0) {
			continue
		}
		name := exportedName(t.Name)
		if taken[name] {
			name = exportedName(strings.ReplaceAll(t.Namespace, ".", "") + t.Name)
		}
		taken[name] = true
		generator.names[t.FullName()] = &goType{decl: t, name: name, valueType: t.IsValueType()}
	}
}

func (generator *Generator) generateType(t *goType, file *jen.File) {
	file.Commentf("%s mirrors %s.", t.name, t.decl.FullName())

	if isEnum(t.decl) {
		underlying := "int32"
		for _, f := range instanceFields(t.decl) {
			if name, ok := builtInTypes[f.Type.FullName()]; ok {
				underlying = name
			}
		}
		file.Type().Id(t.name).Id(underlying)
		return
	}

	file.Type().Id(t.name).StructFunc(func(g *jen.Group) {
		for _, f := range instanceFields(t.decl) {
			generator.writeField(f, g)
		}
	})
}

func (generator *Generator) writeField(f *metadata.FieldDecl, group *jen.Group) {
	group.Id(exportedName(f.Name)).Add(generator.fieldType(f.Type.FullName()))
}

func (generator *Generator) fieldType(fullName string) *jen.Statement {
	if element, isArray := strings.CutSuffix(fullName, "[]"); isArray {
		return jen.Index().Add(generator.fieldType(element))
	}
	if strings.HasSuffix(fullName, "*") {
		return jen.Id("uintptr")
	}
	if name, ok := builtInTypes[fullName]; ok {
		return jen.Id(name)
	}
	if t, ok := generator.names[fullName]; ok {
		if t.valueType {
			return jen.Id(t.name)
		}
		return jen.Op("*").Id(t.name)
	}
	// Types with no Go counterpart are kept as opaque handles.
	return jen.Id("uintptr")
}

const typeNestedPublic = 0x2

func isVisible(t *metadata.TypeDecl) bool {
	for ; t.DeclaringType() != nil; t = t.DeclaringType() {
		if t.Flags&metadata.TypeVisibilityMask != typeNestedPublic {
			return false
		}
	}
	return t.Flags&metadata.TypeVisibilityMask == metadata.TypePublic
}

func isEnum(t *metadata.TypeDecl) bool {
	return t.BaseType() != nil && t.BaseType().FullName() == "System.Enum"
}

func instanceFields(t *metadata.TypeDecl) []*metadata.FieldDecl {
	var fields []*metadata.FieldDecl
	for _, f := range t.Fields() {
		if !f.IsStatic() {
			fields = append(fields, f)
		}
	}
	return fields
}

// exportedName turns a metadata name into an exported Go identifier.
// Backing fields such as "<Name>k__BackingField" map to "Name" and generic
// arity suffixes are dropped.
func exportedName(name string) string {
	if end := strings.Index(name, ">"); strings.HasPrefix(name, "<") && end > 1 {
		name = name[1:end]
	}
	name, _, _ = strings.Cut(name, "`")

	var b strings.Builder
	for _, r := range name {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := []rune(b.String())
	if len(out) == 0 {
		return "X"
	}
	if !unicode.IsLetter(out[0]) {
		out = append([]rune{'X'}, out...)
	}
	out[0] = unicode.ToUpper(out[0])
	return string(out)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if !(r == '_' || unicode.IsLetter(r) || i > 0 && unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
