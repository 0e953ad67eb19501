package metadata

import (
	"strings"

	"github.com/hashicorp/go-version"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
)

// External is the namespace of types that live outside the module: the
// runtime's well-known types and any reference assemblies.
type External interface {
	LookupType(fullName string) (ExternalType, bool)
	// LookupMethod finds a method by name and, unless paramTypes is nil, by
	// parameter type full names.
	LookupMethod(typeFullName, name string, paramTypes []string) (ExternalMethod, bool)
	LookupField(typeFullName, name string) (ExternalField, bool)
}

// ExternalType describes a type of another assembly.
type ExternalType struct {
	Namespace string
	Name      string
	// Assembly is the simple name of the defining assembly.
	Assembly       string
	Version        string
	PublicKeyToken []byte
	// Core marks core library types. They are imported from the module's
	// core assembly when that is not System.Runtime, so mscorlib and
	// netstandard modules keep a single core reference.
	Core      bool
	ValueType bool
}

// FullName returns "Namespace.Name".
func (t ExternalType) FullName() string { return joinName(t.Namespace, t.Name) }

// ExternalMethod describes a method of an external type by type names.
type ExternalMethod struct {
	Name    string
	Return  string
	Params  []string
	HasThis bool
}

// ExternalField describes a field of an external type by type names.
type ExternalField struct {
	Name   string
	Type   string
	Static bool
}

// Resolve turns a full type name into a type handle. The module's own
// declarations are searched first, then the types it already references,
// then the external namespace; a type found there is imported into the
// module. Names ending in "[]", "&" or "*" resolve to arrays, by-refs and
// pointers of the element type.
func (m *Module) Resolve(fullName string) (TypeReference, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, ilerrors.WrapInvalidArgument("type name cannot be empty")
	}
	for suffix, element := range map[string]ElementType{"[]": ElemSZArray, "&": ElemByRef, "*": ElemPtr} {
		if inner, found := strings.CutSuffix(fullName, suffix); found {
			t, err := m.Resolve(inner)
			if err != nil {
				return nil, err
			}
			return &SigType{Element: element, Type: t}, nil
		}
	}

	if t, found := m.TryGetType(fullName); found {
		return t, nil
	}
	if ref := m.findTypeRef(fullName); ref != nil {
		return ref, nil
	}
	if m.external != nil {
		if ext, found := m.external.LookupType(fullName); found {
			return m.importType(ext), nil
		}
	}
	if e, found := primitiveElements[fullName]; found {
		namespace, name := splitName(fullName)
		return m.importType(ExternalType{Namespace: namespace, Name: name, Core: true, ValueType: isValueElement(e)}), nil
	}
	return nil, ilerrors.WrapUnresolvedType(fullName)
}

func (m *Module) findTypeRef(fullName string) *TypeRef {
	for _, ref := range m.typeRefs {
		if ref.FullName() == fullName {
			return ref
		}
	}
	return m.importedTypes[fullName]
}

// importType returns the reference to an external type, creating it and
// its assembly reference when the module has none yet.
func (m *Module) importType(ext ExternalType) *TypeRef {
	if ref := m.findTypeRef(ext.FullName()); ref != nil {
		return ref
	}
	ref := &TypeRef{Namespace: ext.Namespace, Name: ext.Name, valueType: ext.ValueType}
	if outer, inner, nested := cutLast(ext.Name, "/"); nested {
		ref.Name = inner
		ref.enclosing = m.importType(ExternalType{
			Namespace:      ext.Namespace,
			Name:           outer,
			Assembly:       ext.Assembly,
			Version:        ext.Version,
			PublicKeyToken: ext.PublicKeyToken,
			Core:           ext.Core,
		})
		ref.Namespace = ""
	} else {
		ref.assembly = m.assemblyRefFor(ext)
	}
	m.importedTypes[ext.FullName()] = ref
	return ref
}

func (m *Module) assemblyRefFor(ext ExternalType) *AssemblyRef {
	name := ext.Assembly
	if name == "" || ext.Core && !strings.EqualFold(m.coreAssembly, "System.Runtime") {
		name = m.coreAssembly
	}
	for _, ref := range m.assemblyRefs {
		if strings.EqualFold(ref.Name, name) {
			return ref
		}
	}
	ref := &AssemblyRef{Name: name, PublicKeyToken: ext.PublicKeyToken}
	if v, err := version.NewVersion(ext.Version); err == nil {
		ref.Version = v
	} else {
		ref.Version = newVersion(0, 0, 0, 0)
	}
	m.assemblyRefs = append(m.assemblyRefs, ref)
	return ref
}

// ResolveMethod finds a method by declaring type, name and parameter type
// full names; nil paramTypes takes the first method with that name. Own
// methods are found first, then methods the module already references,
// then methods of the external namespace, which are imported.
func (m *Module) ResolveMethod(typeFullName, name string, paramTypes []string) (cil.Method, error) {
	owner, err := m.Resolve(typeFullName)
	if err != nil {
		return nil, err
	}
	if t, own := owner.(*TypeDecl); own {
		var method *MethodDecl
		var found bool
		if paramTypes == nil {
			method, found = t.TryGetMethod(name)
		} else {
			method, found = t.TryGetMethodBySignature(name, paramTypes...)
		}
		if !found {
			return nil, ilerrors.WrapMethodNotFound(typeFullName, name)
		}
		return method, nil
	}
	for _, member := range m.references() {
		ref, ok := member.(*MethodRef)
		if ok && ref.Name == name && SameType(ref.DeclaringType, owner) &&
			(paramTypes == nil || sameTypeNames(ref.Sig.Params, paramTypes)) {
			return ref, nil
		}
	}
	if m.external != nil {
		if ext, found := m.external.LookupMethod(owner.FullName(), name, paramTypes); found {
			return m.ImportMethod(owner.FullName(), ext.Name, ext.Return, ext.Params, ext.HasThis)
		}
	}
	return nil, ilerrors.WrapMethodNotFound(typeFullName, name)
}

// ImportMethod returns a reference to a method of another assembly given
// its full signature. A method of the module's own types is returned as
// its declaration.
func (m *Module) ImportMethod(typeFullName, name, returnType string, paramTypes []string, hasThis bool) (cil.Method, error) {
	owner, err := m.Resolve(typeFullName)
	if err != nil {
		return nil, err
	}
	if t, own := owner.(*TypeDecl); own {
		method, found := t.TryGetMethodBySignature(name, paramTypes...)
		if !found {
			return nil, ilerrors.WrapMethodNotFound(typeFullName, name)
		}
		return method, nil
	}
	sig := &MethodSig{}
	if hasThis {
		sig.CallConv = callConvHasThis
	}
	if sig.Return, err = m.Resolve(returnType); err != nil {
		return nil, err
	}
	for _, p := range paramTypes {
		t, err := m.Resolve(p)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, t)
	}

	ref := &MethodRef{Name: name, DeclaringType: owner, Sig: sig}
	for _, member := range m.references() {
		if existing, ok := member.(*MethodRef); ok && existing.FullName() == ref.FullName() && existing.Sig.HasThis() == hasThis {
			return existing, nil
		}
	}
	m.importedMembers = append(m.importedMembers, ref)
	return ref, nil
}

// ResolveField finds a field of an own or external type by name.
func (m *Module) ResolveField(typeFullName, name string) (cil.Field, error) {
	owner, err := m.Resolve(typeFullName)
	if err != nil {
		return nil, err
	}
	if t, own := owner.(*TypeDecl); own {
		field, found := t.TryGetField(name)
		if !found {
			return nil, ilerrors.WrapFieldNotFound(typeFullName, name)
		}
		return field, nil
	}
	for _, member := range m.references() {
		if ref, ok := member.(*FieldRef); ok && ref.Name == name && SameType(ref.DeclaringType, owner) {
			return ref, nil
		}
	}
	if m.external != nil {
		if ext, found := m.external.LookupField(owner.FullName(), name); found {
			return m.ImportField(owner.FullName(), ext.Name, ext.Type, ext.Static)
		}
	}
	return nil, ilerrors.WrapFieldNotFound(typeFullName, name)
}

// ImportField returns a reference to a field of another assembly.
func (m *Module) ImportField(typeFullName, name, fieldType string, static bool) (cil.Field, error) {
	owner, err := m.Resolve(typeFullName)
	if err != nil {
		return nil, err
	}
	if t, own := owner.(*TypeDecl); own {
		field, found := t.TryGetField(name)
		if !found {
			return nil, ilerrors.WrapFieldNotFound(typeFullName, name)
		}
		return field, nil
	}
	t, err := m.Resolve(fieldType)
	if err != nil {
		return nil, err
	}
	ref := &FieldRef{Name: name, DeclaringType: owner, Type: t, Static: static}
	for _, member := range m.references() {
		if existing, ok := member.(*FieldRef); ok && existing.FullName() == ref.FullName() {
			return existing, nil
		}
	}
	m.importedMembers = append(m.importedMembers, ref)
	return ref, nil
}

// references lists the member references read from the image followed by
// the imported ones.
func (m *Module) references() []cil.Member {
	return append(append([]cil.Member(nil), m.memberRefs...), m.importedMembers...)
}

func sameTypeNames(types []TypeReference, names []string) bool {
	if len(types) != len(names) {
		return false
	}
	for i, t := range types {
		if typeName(t) != names[i] {
			return false
		}
	}
	return true
}

func splitName(fullName string) (namespace, name string) {
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		return fullName[:i], fullName[i+1:]
	}
	return "", fullName
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
