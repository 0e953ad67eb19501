package refset

import (
	"context"
	"crypto/sha1"
	"debug/pe"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/microsoft/go-winmd"
	"github.com/microsoft/go-winmd/flags"
	"golang.org/x/sync/errgroup"

	"ilpatch/internal/image"
	"ilpatch/internal/metadata"
)

// WinMdReader reads the public types of a reference assembly.
type WinMdReader struct {
	metadata winmd.Metadata
	assembly metadata.ExternalType
}

// The map of signature element types to their runtime type names
var builtInElementTypes map[flags.ElementType]string = map[flags.ElementType]string{
	flags.ElementType_VOID:    "System.Void",
	flags.ElementType_BOOLEAN: "System.Boolean",
	flags.ElementType_CHAR:    "System.Char",
	flags.ElementType_STRING:  "System.String",
	flags.ElementType_OBJECT:  "System.Object",
	flags.ElementType_I1:      "System.SByte",
	flags.ElementType_I2:      "System.Int16",
	flags.ElementType_I4:      "System.Int32",
	flags.ElementType_I8:      "System.Int64",
	flags.ElementType_U1:      "System.Byte",
	flags.ElementType_U2:      "System.UInt16",
	flags.ElementType_U4:      "System.UInt32",
	flags.ElementType_U8:      "System.UInt64",
	flags.ElementType_R4:      "System.Single",
	flags.ElementType_R8:      "System.Double",
	flags.ElementType_I:       "System.IntPtr",
	flags.ElementType_U:       "System.UIntPtr",
}

// Attribute bits read from the TypeDef, MethodDef and Field tables.
const (
	typeVisibilityMask = 0x7
	typePublic         = 0x1
	memberAccessMask   = 0x7
	memberPublic       = 0x6
	memberStatic       = 0x10
)

// Tags of a TypeDefOrRef coded index.
const (
	tagTypeDef = 0
	tagTypeRef = 1
)

// NewReader opens the reference assembly at path.
func NewReader(path string) (*WinMdReader, error) {
	identity, err := readIdentity(path)
	if err != nil {
		return nil, err
	}

	peFile, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer peFile.Close()

	winmdMetadata, err := winmd.New(peFile)
	if err != nil {
		return nil, fmt.Errorf("reading metadata of %s: %w", path, err)
	}

	return &WinMdReader{
		metadata: *winmdMetadata,
		assembly: identity,
	}, nil
}

// readIdentity reads the assembly name, version and public key token.
func readIdentity(path string) (metadata.ExternalType, error) {
	img, err := image.Open(path)
	if err != nil {
		return metadata.ExternalType{}, fmt.Errorf("reading %s: %w", path, err)
	}
	identity := metadata.ExternalType{
		Assembly: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	row := img.Table(image.TableAssembly).Row(1)
	if row == nil {
		return identity, nil
	}
	if name, err := img.Strings.Get(row[image.ColAssemblyName]); err == nil && name != "" {
		identity.Assembly = name
	}
	identity.Version = fmt.Sprintf("%d.%d.%d.%d",
		row[image.ColAssemblyMajor], row[image.ColAssemblyMinor], row[image.ColAssemblyBuild], row[image.ColAssemblyRevision])
	if key, err := img.Blobs.Get(row[image.ColAssemblyKey]); err == nil && len(key) > 0 {
		identity.PublicKeyToken = publicKeyToken(key)
	}
	return identity, nil
}

// publicKeyToken is the last eight bytes of the key's SHA-1, reversed.
func publicKeyToken(key []byte) []byte {
	sum := sha1.Sum(key)
	token := slices.Clone(sum[len(sum)-8:])
	slices.Reverse(token)
	return token
}

// Read adds every public top-level type of the assembly to set.
func (reader *WinMdReader) Read(set *Set) error {
	table := reader.metadata.Tables.TypeDef
	for idx := uint32(0); idx < table.Len; idx++ {
		typeDef, err := table.Record(winmd.Index(idx))
		if err != nil {
			return fmt.Errorf("type definition %d: %w", idx, err)
		}
		if typeDef.Flags&typeVisibilityMask != typePublic {
			continue
		}

		external := reader.assembly
		external.Namespace = typeDef.Namespace.String()
		external.Name = typeDef.Name.String()
		external.Core = external.Assembly == runtimeAssembly || external.Assembly == consoleAssembly
		external.ValueType = reader.isValueType(typeDef)

		methods := reader.getMethods(typeDef)
		fields := reader.getFields(typeDef)
		set.Add(external, methods, fields)
	}
	return nil
}

func (reader *WinMdReader) isValueType(typeDef *winmd.TypeDef) bool {
	if typeDef.Extends.Index == 0 && typeDef.Extends.Tag == tagTypeDef {
		return false
	}
	name, err := reader.getTypeDefOrRefName(typeDef.Extends)
	if err != nil {
		return false
	}
	fullName := typeDef.Namespace.String() + "." + typeDef.Name.String()
	return name == "System.Enum" || name == "System.ValueType" && fullName != "System.Enum"
}

// getMethods returns the public methods whose signatures use only types
// that can be named.
func (reader *WinMdReader) getMethods(typeDef *winmd.TypeDef) []metadata.ExternalMethod {
	var methods []metadata.ExternalMethod
	for i := typeDef.MethodList.Start; i < typeDef.MethodList.End; i++ {
		methodDef, err := reader.metadata.Tables.MethodDef.Record(i)
		if err != nil || methodDef.Flags&memberAccessMask != memberPublic {
			continue
		}
		method, err := reader.getMethod(methodDef)
		if err != nil {
			continue
		}
		methods = append(methods, method)
	}
	return methods
}

func (reader *WinMdReader) getMethod(methodDef *winmd.MethodDef) (metadata.ExternalMethod, error) {
	methodSignature, err := reader.metadata.MethodDefSignature(methodDef.Signature)
	if err != nil {
		return metadata.ExternalMethod{}, fmt.Errorf("signature of %s: %w", methodDef.Name.String(), err)
	}

	returnType, err := reader.getTypeName(methodSignature.RetType.Type)
	if err != nil {
		return metadata.ExternalMethod{}, err
	}
	method := metadata.ExternalMethod{
		Name:    methodDef.Name.String(),
		Return:  returnType,
		HasThis: methodDef.Flags&memberStatic == 0,
	}
	for i := 0; i < len(methodSignature.Param); i++ {
		paramType, err := reader.getTypeName(methodSignature.Param[i].Type)
		if err != nil {
			return metadata.ExternalMethod{}, err
		}
		method.Params = append(method.Params, paramType)
	}

	return method, nil
}

func (reader *WinMdReader) getFields(typeDef *winmd.TypeDef) []metadata.ExternalField {
	var fields []metadata.ExternalField
	for i := typeDef.FieldList.Start; i < typeDef.FieldList.End; i++ {
		field, err := reader.metadata.Tables.Field.Record(i)
		if err != nil || field.Flags&memberAccessMask != memberPublic {
			continue
		}
		fieldSignature, err := reader.metadata.FieldSignature(field.Signature)
		if err != nil {
			continue
		}
		fieldType, err := reader.getTypeName(fieldSignature.Type)
		if err != nil {
			continue
		}
		fields = append(fields, metadata.ExternalField{
			Name:   field.Name.String(),
			Type:   fieldType,
			Static: field.Flags&memberStatic != 0,
		})
	}
	return fields
}

func (reader *WinMdReader) getTypeName(sigType winmd.SigType) (string, error) {
	builtInType, found := builtInElementTypes[sigType.Kind]
	if found {
		return builtInType, nil
	}

	switch sigType.Kind {
	case flags.ElementType_PTR, flags.ElementType_BYREF, flags.ElementType_SZARRAY:
		innerSigType, ok := sigType.Value.(winmd.SigType)
		if !ok {
			return "", fmt.Errorf("element type %v without an inner type", sigType.Kind)
		}
		inner, err := reader.getTypeName(innerSigType)
		if err != nil {
			return "", err
		}
		switch sigType.Kind {
		case flags.ElementType_PTR:
			return inner + "*", nil
		case flags.ElementType_BYREF:
			return inner + "&", nil
		}
		return inner + "[]", nil
	case flags.ElementType_CLASS, flags.ElementType_VALUETYPE:
		index, ok := sigType.Value.(winmd.CodedIndex)
		if !ok {
			return "", fmt.Errorf("element type %v without a type index", sigType.Kind)
		}
		return reader.getTypeDefOrRefName(index)
	}

	return "", fmt.Errorf("element type %v cannot be named", sigType.Kind)
}

func (reader *WinMdReader) getTypeDefOrRefName(index winmd.CodedIndex) (string, error) {
	switch index.Tag {
	case tagTypeDef:
		typeDef, err := reader.metadata.Tables.TypeDef.Record(index.Index)
		if err != nil {
			return "", fmt.Errorf("did not find matching type definition: %w", err)
		}
		return joinName(typeDef.Namespace.String(), typeDef.Name.String()), nil
	case tagTypeRef:
		typeRef, err := reader.metadata.Tables.TypeRef.Record(index.Index)
		if err != nil {
			return "", fmt.Errorf("did not find matching type reference: %w", err)
		}
		return joinName(typeRef.Namespace.String(), typeRef.Name.String()), nil
	}
	return "", fmt.Errorf("type specification cannot be named")
}

func joinName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// LoadFile reads one reference assembly.
func LoadFile(path string) (*Set, error) {
	reader, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	set := New()
	if err := reader.Read(set); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadFiles reads reference assemblies in parallel and merges them over the
// built-in types. When several assemblies define a type the earliest path
// wins.
func LoadFiles(ctx context.Context, paths []string) (*Set, error) {
	sets := make([]*Set, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			set, err := LoadFile(path)
			if err != nil {
				return err
			}
			sets[i] = set
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := New()
	for _, set := range sets {
		merged.Merge(set)
	}
	merged.Merge(Builtin())
	return merged, nil
}
