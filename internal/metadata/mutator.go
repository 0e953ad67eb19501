package metadata

import (
	"strings"

	"github.com/hashicorp/go-version"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
)

// RenameType sets the simple name of the type called fullName. Later
// lookups use the new name; handles to the type and its members stay
// valid. References elsewhere in the module are not rewritten. The new
// full name must not belong to another type of the module.
func (m *Module) RenameType(fullName, newName string) error {
	if err := checkName("type", newName); err != nil {
		return err
	}
	t, err := m.Type(fullName)
	if err != nil {
		return err
	}
	renamed := joinName(t.Namespace, newName)
	if t.enclosing != nil {
		renamed = t.enclosing.FullName() + "/" + newName
	}
	if other, found := m.TryGetType(renamed); found && other != t {
		return ilerrors.WrapInvalidArgument("type '%s' is already declared", renamed)
	}
	t.Name = newName
	return nil
}

// RenameMethod renames the first method called oldName of the type called
// typeFullName. Call sites hold the method by handle and keep working. The
// type may not already declare newName with the same parameter types.
func (m *Module) RenameMethod(typeFullName, oldName, newName string) error {
	if err := checkName("method", newName); err != nil {
		return err
	}
	method, err := m.Method(typeFullName, oldName)
	if err != nil {
		return err
	}
	paramTypes := make([]string, len(method.Params))
	for i, p := range method.Params {
		paramTypes[i] = typeName(p.Type)
	}
	if other, found := method.declaring.TryGetMethodBySignature(newName, paramTypes...); found && other != method {
		return ilerrors.WrapInvalidArgument("type '%s' already declares %s(%s)", typeFullName, newName, strings.Join(paramTypes, ", "))
	}
	method.Name = newName
	return nil
}

// RenameField renames the first field called oldName of the type called
// typeFullName. The type may not already declare a field called newName.
func (m *Module) RenameField(typeFullName, oldName, newName string) error {
	if err := checkName("field", newName); err != nil {
		return err
	}
	t, err := m.Type(typeFullName)
	if err != nil {
		return err
	}
	field, found := t.TryGetField(oldName)
	if !found {
		return ilerrors.WrapFieldNotFound(typeFullName, oldName)
	}
	if other, found := t.TryGetField(newName); found && other != field {
		return ilerrors.WrapInvalidArgument("type '%s' already declares a field '%s'", typeFullName, newName)
	}
	field.Name = newName
	return nil
}

// DefineType appends a public class called namespace.name deriving from
// baseTypeFullName, or from System.Object when that is empty. The full name
// must not be declared yet.
func (m *Module) DefineType(namespace, name, baseTypeFullName string) (*TypeDecl, error) {
	if err := checkName("type", name); err != nil {
		return nil, err
	}
	fullName := joinName(namespace, name)
	if _, found := m.TryGetType(fullName); found {
		return nil, ilerrors.WrapInvalidArgument("type '%s' is already declared", fullName)
	}
	if baseTypeFullName == "" {
		baseTypeFullName = "System.Object"
	}
	base, err := m.Resolve(baseTypeFullName)
	if err != nil {
		return nil, err
	}
	t := &TypeDecl{
		Namespace: namespace,
		Name:      name,
		Flags:     TypePublic | typeBeforeFieldInit,
		module:    m,
		row:       uint32(len(m.types) + 1),
		base:      base,
	}
	m.types = append(m.types, t)
	return t, nil
}

// InsertField appends a public instance field to the type called
// typeFullName. The field type is resolved like Resolve does. A type may
// not declare two fields with the same name.
func (m *Module) InsertField(typeFullName, fieldName, fieldTypeFullName string) (*FieldDecl, error) {
	if err := checkName("field", fieldName); err != nil {
		return nil, err
	}
	t, err := m.Type(typeFullName)
	if err != nil {
		return nil, err
	}
	if _, found := t.TryGetField(fieldName); found {
		return nil, ilerrors.WrapInvalidArgument("type '%s' already declares a field '%s'", typeFullName, fieldName)
	}
	fieldType, err := m.Resolve(fieldTypeFullName)
	if err != nil {
		return nil, err
	}
	field := &FieldDecl{Name: fieldName, Flags: FieldPublic, Type: fieldType, declaring: t}
	t.fields = append(t.fields, field)
	return field, nil
}

// CreateMethod appends a public, hide-by-sig, non-virtual instance method
// to the type called typeFullName and returns it. A method returning
// System.Void starts with a body holding a single ret. Every name is
// resolved before the method is attached, so on failure the type is left
// as it was. A type may not declare two methods with the same name and
// parameter types.
func (m *Module) CreateMethod(typeFullName, name, returnTypeFullName string, params []ParamDef) (*MethodDecl, error) {
	if err := checkName("method", name); err != nil {
		return nil, err
	}
	t, err := m.Type(typeFullName)
	if err != nil {
		return nil, err
	}
	returnType, err := m.Resolve(returnTypeFullName)
	if err != nil {
		return nil, err
	}
	sig := &MethodSig{CallConv: callConvHasThis, Return: returnType}
	method := &MethodDecl{
		Name:       name,
		Flags:      MethodPublic | MethodHideBySig,
		ImplFlags:  MethodImplIL,
		ReturnType: returnType,
		declaring:  t,
		sig:        sig,
		body:       cil.NewBody(),
		opened:     true,
	}
	paramTypes := make([]string, len(params))
	for i, p := range params {
		paramType, err := m.Resolve(p.Type)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, paramType)
		method.Params = append(method.Params, &Param{Name: p.Name, Type: paramType, sequence: uint16(i + 1)})
		paramTypes[i] = paramType.FullName()
	}
	if _, found := t.TryGetMethodBySignature(name, paramTypes...); found {
		return nil, ilerrors.WrapInvalidArgument("type '%s' already declares %s(%s)", typeFullName, name, strings.Join(paramTypes, ", "))
	}
	if !method.ReturnsValue() {
		method.body.Append(cil.Op(cil.Ret))
	}
	t.methods = append(t.methods, method)
	return method, nil
}

// WriteMethodIL replaces the instructions of the first method called
// methodName of the type called typeFullName. See WriteBody.
func (m *Module) WriteMethodIL(typeFullName, methodName string, instructions []*cil.Instruction) error {
	method, err := m.Method(typeFullName, methodName)
	if err != nil {
		return err
	}
	return m.WriteBody(method, instructions)
}

// WriteBody replaces the whole instruction stream of method. Exception
// handlers are dropped and the stack size is recomputed on write. An empty
// body gets zero-initialized locals. Methods without a body cannot be given
// one, and a body needs at least one instruction. The instructions are
// checked up front: an operand that does not fit its opcode fails with an
// UnsupportedOperand error and a branch outside the list with a
// DanglingBranchTarget error, leaving the body unchanged.
func (m *Module) WriteBody(method *MethodDecl, instructions []*cil.Instruction) error {
	if method == nil || method.declaring == nil || method.declaring.module != m {
		return ilerrors.WrapInvalidArgument("method does not belong to module '%s'", m.name)
	}
	if !method.HasBody() {
		return ilerrors.WrapInvalidArgument("%s has no body and cannot be given one", method.FullName())
	}
	if len(instructions) == 0 {
		return ilerrors.WrapInvalidArgument("%s cannot be given an empty body", method.FullName())
	}
	replacement := &cil.Body{Instructions: append([]*cil.Instruction(nil), instructions...)}
	if err := cil.Validate(replacement); err != nil {
		return err
	}

	body := method.Body()
	if len(body.Instructions) == 0 {
		body.InitLocals = true
	}
	body.Instructions = replacement.Instructions
	body.Handlers = nil
	body.MaxStack = 0
	return nil
}

// SetVersion changes the assembly version written with the module.
func (m *Module) SetVersion(v string) error {
	if m.assembly == nil {
		return ilerrors.WrapInvalidArgument("module '%s' has no assembly manifest", m.name)
	}
	parsed, err := version.NewVersion(v)
	if err != nil {
		return ilerrors.WrapInvalidArgument("version '%s': %v", v, err)
	}
	if len(parsed.Segments64()) > 4 || parsed.Prerelease() != "" || parsed.Metadata() != "" {
		return ilerrors.WrapInvalidArgument("version '%s' is not an assembly version", v)
	}
	for _, s := range parsed.Segments64() {
		if s > 0xFFFF {
			return ilerrors.WrapInvalidArgument("version '%s' has a part above 65535", v)
		}
	}
	m.assembly.Version = parsed
	m.assembly.versionChanged = true
	return nil
}

func checkName(what, name string) error {
	if strings.TrimSpace(name) == "" {
		return ilerrors.WrapInvalidArgument("%s name cannot be empty", what)
	}
	return nil
}
