package metadata

import (
	"fmt"
	"strings"

	"ilpatch/internal/cil"
)

// TypeReference is a resolved type handle: a type declared in the module,
// a reference into another assembly, or a type constructed by a signature.
// Two references denote the same type when their full names are equal.
//
// Every TypeReference is usable as a cil.Type operand.
type TypeReference interface {
	FullName() string
	IsValueType() bool
}

// SameType reports whether a and b denote the same type.
func SameType(a, b TypeReference) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.FullName() == b.FullName()
}

// Type attribute bits used by the model (ECMA-335 II.23.1.15).
const (
	TypeVisibilityMask = 0x00000007
	TypePublic         = 0x00000001
	TypeInterface      = 0x00000020
	TypeAbstract       = 0x00000080
	TypeSealed         = 0x00000100

	typeBeforeFieldInit = 0x00100000
)

// TypeDecl is a type declared by the module.
type TypeDecl struct {
	Namespace string
	// Name is the simple name. Changing it renames the type.
	Name  string
	Flags uint32

	module    *Module
	row       uint32
	base      TypeReference
	enclosing *TypeDecl
	fields    []*FieldDecl
	methods   []*MethodDecl
}

// FullName returns "Namespace.Name", or "Outer/Name" for nested types.
func (t *TypeDecl) FullName() string {
	if t.enclosing != nil {
		return t.enclosing.FullName() + "/" + t.Name
	}
	return joinName(t.Namespace, t.Name)
}

func (t *TypeDecl) String() string { return t.FullName() }

// IsValueType reports whether the type derives from System.ValueType or
// System.Enum.
func (t *TypeDecl) IsValueType() bool {
	if t.base == nil {
		return false
	}
	switch t.base.FullName() {
	case "System.ValueType":
		return t.FullName() != "System.Enum"
	case "System.Enum":
		return true
	}
	return false
}

// IsInterface reports whether the type is an interface.
func (t *TypeDecl) IsInterface() bool { return t.Flags&TypeInterface != 0 }

// IsHidden reports whether the type is compiler generated. Hidden types are
// not listed by Module.Types but are written back unchanged.
func (t *TypeDecl) IsHidden() bool {
	for x := t; x != nil; x = x.enclosing {
		if strings.HasPrefix(x.Name, "<") {
			return true
		}
	}
	return false
}

// BaseType returns the extended type or nil.
func (t *TypeDecl) BaseType() TypeReference { return t.base }

// DeclaringType returns the enclosing type of a nested type.
func (t *TypeDecl) DeclaringType() *TypeDecl { return t.enclosing }

// Module returns the owning module.
func (t *TypeDecl) Module() *Module { return t.module }

// Fields returns the declared fields in declaration order.
func (t *TypeDecl) Fields() []*FieldDecl {
	return append([]*FieldDecl(nil), t.fields...)
}

// Methods returns the declared methods in declaration order.
func (t *TypeDecl) Methods() []*MethodDecl {
	return append([]*MethodDecl(nil), t.methods...)
}

// TryGetMethod returns the first method called name. Overloads share a
// name; use TryGetMethodBySignature to pick one of them.
func (t *TypeDecl) TryGetMethod(name string) (*MethodDecl, bool) {
	for _, m := range t.methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// TryGetMethodBySignature returns the method called name whose parameter
// types have exactly the given full names.
func (t *TypeDecl) TryGetMethodBySignature(name string, paramTypes ...string) (*MethodDecl, bool) {
	for _, m := range t.methods {
		if m.Name == name && m.hasParamTypes(paramTypes) {
			return m, true
		}
	}
	return nil, false
}

// TryGetField returns the first field called name.
func (t *TypeDecl) TryGetField(name string) (*FieldDecl, bool) {
	for _, f := range t.fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Method attribute bits (ECMA-335 II.23.1.10).
const (
	MethodAccessMask    = 0x0007
	MethodPublic        = 0x0006
	MethodStatic        = 0x0010
	MethodFinal         = 0x0020
	MethodVirtual       = 0x0040
	MethodHideBySig     = 0x0080
	MethodAbstract      = 0x0400
	MethodSpecialName   = 0x0800
	MethodRTSpecialName = 0x1000
	MethodPInvokeImpl   = 0x2000
)

// Method implementation bits (ECMA-335 II.23.1.11).
const (
	MethodImplCodeTypeMask = 0x0003
	MethodImplIL           = 0x0000
	MethodImplNative       = 0x0001
	MethodImplRuntime      = 0x0003
	MethodImplInternalCall = 0x1000
)

// Param is a declared method parameter.
type Param struct {
	Name  string
	Type  TypeReference
	Flags uint16

	row      uint32
	sequence uint16
}

// ParamDef describes a parameter of a method to create.
type ParamDef struct {
	Name string
	// Type is the full name of the parameter type.
	Type string
}

// MethodDecl is a method declared by the module.
type MethodDecl struct {
	// Name is the method name. Changing it renames the method.
	Name       string
	Flags      uint16
	ImplFlags  uint16
	Params     []*Param
	ReturnType TypeReference

	declaring *TypeDecl
	row       uint32
	rva       uint32
	sig       *MethodSig
	sigBlob   uint32
	// retParam is the sequence 0 row describing the return value.
	retParam *Param
	// orphanParams are rows whose sequence is past the signature.
	orphanParams []*Param

	body   *cil.Body
	raw    []byte
	opened bool
}

// DeclaringType returns the owning type.
func (m *MethodDecl) DeclaringType() *TypeDecl { return m.declaring }

// HasThis reports whether the method takes an implicit this argument.
func (m *MethodDecl) HasThis() bool { return m.sig.HasThis() }

func (m *MethodDecl) IsStatic() bool   { return m.Flags&MethodStatic != 0 }
func (m *MethodDecl) IsAbstract() bool { return m.Flags&MethodAbstract != 0 }

// HasBody reports whether the method has IL. Abstract, extern, runtime and
// P/Invoke methods have none and can never be given one.
func (m *MethodDecl) HasBody() bool { return m.body != nil }

// Body returns the decoded body or nil. The returned body is live: changes
// to it are encoded when the module is written.
func (m *MethodDecl) Body() *cil.Body {
	if m.body == nil {
		return nil
	}
	m.opened = true
	return m.body
}

// PeekBody returns the decoded body for reading. Changes made through it
// are not guaranteed to be written.
func (m *MethodDecl) PeekBody() *cil.Body { return m.body }

// ArgumentCount counts the parameters plus the implicit this.
func (m *MethodDecl) ArgumentCount() int {
	n := len(m.Params)
	if m.HasThis() {
		n++
	}
	return n
}

// ReturnsValue reports whether the method returns something other than
// System.Void.
func (m *MethodDecl) ReturnsValue() bool { return !isVoid(m.ReturnType) }

// FullName renders the method the way ildasm shows call targets:
// "System.Void App.Program::Main(System.String[])".
func (m *MethodDecl) FullName() string {
	return methodName(m.ReturnType, m.declaring, m.Name, m.paramTypes(), nil)
}

func (m *MethodDecl) String() string { return m.FullName() }

// Signature renders "Name(P1, P2) : Ret" for listings.
func (m *MethodDecl) Signature() string {
	parts := make([]string, len(m.Params))
	for i, p := range m.Params {
		parts[i] = typeName(p.Type)
		if p.Name != "" {
			parts[i] += " " + p.Name
		}
	}
	return fmt.Sprintf("%s(%s) : %s", m.Name, strings.Join(parts, ", "), typeName(m.ReturnType))
}

func (m *MethodDecl) paramTypes() []TypeReference {
	types := make([]TypeReference, len(m.Params))
	for i, p := range m.Params {
		types[i] = p.Type
	}
	return types
}

func (m *MethodDecl) hasParamTypes(names []string) bool {
	if len(names) != len(m.Params) {
		return false
	}
	for i, p := range m.Params {
		if typeName(p.Type) != names[i] {
			return false
		}
	}
	return true
}

// Field attribute bits (ECMA-335 II.23.1.5).
const (
	FieldAccessMask = 0x0007
	FieldPrivate    = 0x0001
	FieldPublic     = 0x0006
	FieldStatic     = 0x0010
	FieldInitOnly   = 0x0020
	FieldLiteral    = 0x0040
)

// FieldDecl is a field declared by the module.
type FieldDecl struct {
	// Name is the field name. Changing it renames the field.
	Name  string
	Flags uint16
	Type  TypeReference

	declaring *TypeDecl
	row       uint32
	sigBlob   uint32
}

// DeclaringType returns the owning type.
func (f *FieldDecl) DeclaringType() *TypeDecl { return f.declaring }

func (f *FieldDecl) IsStatic() bool { return f.Flags&FieldStatic != 0 }

// FullName renders "Type Declaring::Name".
func (f *FieldDecl) FullName() string {
	return fieldName(f.Type, f.declaring, f.Name)
}

func (f *FieldDecl) String() string { return f.FullName() }

// TypeRef references a type defined in another assembly or module.
type TypeRef struct {
	Namespace string
	Name      string

	row       uint32
	assembly  *AssemblyRef
	enclosing *TypeRef
	// scope keeps a Module or ModuleRef resolution scope as read.
	scope     uint32
	valueType bool
}

// FullName returns "Namespace.Name", or "Outer/Name" for nested types.
func (r *TypeRef) FullName() string {
	if r.enclosing != nil {
		return r.enclosing.FullName() + "/" + r.Name
	}
	return joinName(r.Namespace, r.Name)
}

func (r *TypeRef) String() string { return r.FullName() }

func (r *TypeRef) IsValueType() bool {
	if e, ok := primitiveElements[r.FullName()]; ok {
		return isValueElement(e)
	}
	return r.valueType
}

// Scope returns the assembly the type lives in, or nil for types of other
// modules of the same assembly.
func (r *TypeRef) Scope() *AssemblyRef {
	for x := r; x != nil; x = x.enclosing {
		if x.assembly != nil {
			return x.assembly
		}
	}
	return nil
}

// TypeSpec is a constructed type referenced through the TypeSpec table,
// e.g. a generic instantiation used as a base type or call target owner.
type TypeSpec struct {
	Type TypeReference

	row uint32
}

func (s *TypeSpec) FullName() string  { return typeName(s.Type) }
func (s *TypeSpec) IsValueType() bool { return s.Type != nil && s.Type.IsValueType() }
func (s *TypeSpec) String() string    { return s.FullName() }

// MethodRef references a method through the MemberRef table.
type MethodRef struct {
	Name string
	// DeclaringType is nil when the parent is a module reference.
	DeclaringType TypeReference
	Sig           *MethodSig

	row uint32
	// parent is the MemberRefParent coded index of a row read from the
	// image; zero for references created by the resolver.
	parent uint32
	blob   uint32
}

func (r *MethodRef) ArgumentCount() int {
	n := len(r.Sig.Params) + len(r.Sig.VarArgs)
	if r.Sig.HasThis() {
		n++
	}
	return n
}

func (r *MethodRef) ReturnsValue() bool { return !isVoid(r.Sig.Return) }

func (r *MethodRef) FullName() string {
	return methodName(r.Sig.Return, r.DeclaringType, r.Name, r.Sig.Params, r.Sig.VarArgs)
}

func (r *MethodRef) String() string { return r.FullName() }

// FieldRef references a field through the MemberRef table.
type FieldRef struct {
	Name          string
	DeclaringType TypeReference
	Type          TypeReference
	Static        bool

	row    uint32
	parent uint32
	blob   uint32
}

func (r *FieldRef) IsStatic() bool   { return r.Static }
func (r *FieldRef) FullName() string { return fieldName(r.Type, r.DeclaringType, r.Name) }
func (r *FieldRef) String() string   { return r.FullName() }

// MethodSpec is a generic method instantiation.
type MethodSpec struct {
	Method cil.Method
	Args   []TypeReference

	row uint32
}

func (s *MethodSpec) ArgumentCount() int { return s.Method.ArgumentCount() }
func (s *MethodSpec) ReturnsValue() bool { return s.Method.ReturnsValue() }

func (s *MethodSpec) FullName() string {
	return s.Method.FullName() + "<" + typeList(s.Args) + ">"
}

func (s *MethodSpec) String() string { return s.FullName() }

func joinName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func typeName(t TypeReference) string {
	if t == nil {
		return "?"
	}
	return t.FullName()
}

func typeList(types []TypeReference) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = typeName(t)
	}
	return strings.Join(names, ",")
}

func isVoid(t TypeReference) bool {
	return t == nil || t.FullName() == "System.Void"
}

func methodName(ret, declaring TypeReference, name string, params, varArgs []TypeReference) string {
	owner := ""
	if declaring != nil {
		owner = declaring.FullName() + "::"
	}
	args := typeList(params)
	if len(varArgs) > 0 {
		args += ",...," + typeList(varArgs)
	}
	return fmt.Sprintf("%s %s%s(%s)", typeName(ret), owner, name, args)
}

func fieldName(t, declaring TypeReference, name string) string {
	owner := ""
	if declaring != nil {
		owner = declaring.FullName() + "::"
	}
	return fmt.Sprintf("%s %s%s", typeName(t), owner, name)
}

var (
	_ cil.Type   = (*TypeDecl)(nil)
	_ cil.Type   = (*TypeRef)(nil)
	_ cil.Type   = (*TypeSpec)(nil)
	_ cil.Type   = (*SigType)(nil)
	_ cil.Method = (*MethodDecl)(nil)
	_ cil.Method = (*MethodRef)(nil)
	_ cil.Method = (*MethodSpec)(nil)
	_ cil.Field  = (*FieldDecl)(nil)
	_ cil.Field  = (*FieldRef)(nil)
)
