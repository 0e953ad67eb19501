package metadata

import (
	"fmt"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/image"
)

// moduleReader builds the model of a module from its image. It also
// resolves the metadata tokens found in method bodies while they are
// decoded.
type moduleReader struct {
	m   *Module
	img *image.Image
}

func newModuleReader(m *Module) *moduleReader {
	return &moduleReader{m: m, img: m.img}
}

func (r *moduleReader) read() error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"module", r.readIdentity},
		{"assembly references", r.readAssemblyRefs},
		{"type references", r.readTypeRefs},
		{"type definitions", r.readTypeDefs},
		{"type specifications", r.readTypeSpecs},
		{"fields", r.readFields},
		{"methods", r.readMethods},
		{"member references", r.readMemberRefs},
		{"method specifications", r.readMethodSpecs},
		{"method bodies", r.readBodies},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("reading %s: %w", step.name, err)
		}
	}
	r.readEntryPoint()
	return nil
}

func (r *moduleReader) str(offset uint32) (string, error) {
	s, err := r.img.Strings.Get(offset)
	if err != nil {
		return "", ilerrors.WrapMalformed("string heap", err)
	}
	return s, nil
}

func (r *moduleReader) blob(offset uint32) ([]byte, error) {
	b, err := r.img.Blobs.Get(offset)
	if err != nil {
		return nil, ilerrors.WrapMalformed("blob heap", err)
	}
	return b, nil
}

func (r *moduleReader) readIdentity() error {
	if row := r.img.Table(image.TableModule).Row(1); row != nil {
		name, err := r.str(row[image.ColModuleName])
		if err != nil {
			return err
		}
		r.m.name = name
	}
	if row := r.img.Table(image.TableAssembly).Row(1); row != nil {
		name, err := r.str(row[image.ColAssemblyName])
		if err != nil {
			return err
		}
		culture, err := r.str(row[image.ColAssemblyCulture])
		if err != nil {
			return err
		}
		r.m.assembly = &AssemblyName{
			Name:    name,
			Culture: culture,
			Version: newVersion(row[image.ColAssemblyMajor], row[image.ColAssemblyMinor], row[image.ColAssemblyBuild], row[image.ColAssemblyRevision]),
		}
	}
	for _, row := range r.img.Table(image.TableFile).Rows {
		name, err := r.str(row[image.ColFileName])
		if err != nil {
			return err
		}
		r.m.files = append(r.m.files, name)
	}
	return nil
}

func (r *moduleReader) readAssemblyRefs() error {
	for i, row := range r.img.Table(image.TableAssemblyRef).Rows {
		name, err := r.str(row[image.ColAssemblyRefName])
		if err != nil {
			return err
		}
		culture, err := r.str(row[image.ColAssemblyRefCulture])
		if err != nil {
			return err
		}
		key, err := r.blob(row[image.ColAssemblyRefKey])
		if err != nil {
			return err
		}
		r.m.assemblyRefs = append(r.m.assemblyRefs, &AssemblyRef{
			Name:           name,
			Culture:        culture,
			PublicKeyToken: key,
			Version:        newVersion(row[image.ColAssemblyRefMajor], row[image.ColAssemblyRefMinor], row[image.ColAssemblyRefBuild], row[image.ColAssemblyRefRevision]),
			row:            uint32(i + 1),
		})
	}
	return nil
}

func (r *moduleReader) readTypeRefs() error {
	rows := r.img.Table(image.TableTypeRef).Rows
	r.m.typeRefs = make([]*TypeRef, len(rows))
	for i := range rows {
		r.m.typeRefs[i] = &TypeRef{row: uint32(i + 1)}
	}
	for i, row := range rows {
		ref := r.m.typeRefs[i]
		var err error
		if ref.Name, err = r.str(row[image.ColTypeRefName]); err != nil {
			return err
		}
		if ref.Namespace, err = r.str(row[image.ColTypeRefNamespace]); err != nil {
			return err
		}
		scope := row[image.ColTypeRefScope]
		if scope == 0 {
			continue
		}
		table, target, ok := image.DecodeCoded(image.CodedResolutionScope, scope)
		if !ok {
			return ilerrors.WrapMalformed(fmt.Sprintf("resolution scope of %s", ref.Name), nil)
		}
		switch table {
		case image.TableAssemblyRef:
			if ref.assembly, err = at(r.m.assemblyRefs, target, "assembly reference"); err != nil {
				return err
			}
		case image.TableTypeRef:
			if ref.enclosing, err = at(r.m.typeRefs, target, "type reference"); err != nil {
				return err
			}
		default:
			ref.scope = scope
		}
	}
	if r.m.external != nil {
		for _, ref := range r.m.typeRefs {
			if ext, found := r.m.external.LookupType(ref.FullName()); found && ext.ValueType {
				ref.valueType = true
			}
		}
	}
	return nil
}

func (r *moduleReader) readTypeDefs() error {
	rows := r.img.Table(image.TableTypeDef).Rows
	r.m.types = make([]*TypeDecl, len(rows))
	for i, row := range rows {
		name, err := r.str(row[image.ColTypeDefName])
		if err != nil {
			return err
		}
		namespace, err := r.str(row[image.ColTypeDefNamespace])
		if err != nil {
			return err
		}
		r.m.types[i] = &TypeDecl{
			Namespace: namespace,
			Name:      name,
			Flags:     row[image.ColTypeDefFlags],
			module:    r.m,
			row:       uint32(i + 1),
		}
	}
	for _, row := range r.img.Table(image.TableNestedClass).Rows {
		nested, err := at(r.m.types, row[image.ColNestedClassNested], "nested type")
		if err != nil {
			return err
		}
		if nested.enclosing, err = at(r.m.types, row[image.ColNestedClassEnclosing], "enclosing type"); err != nil {
			return err
		}
	}
	return nil
}

func (r *moduleReader) readTypeSpecs() error {
	rows := r.img.Table(image.TableTypeSpec).Rows
	r.m.typeSpecs = make([]*TypeSpec, len(rows))
	for i := range rows {
		r.m.typeSpecs[i] = &TypeSpec{row: uint32(i + 1)}
	}
	// Base types may be TypeSpecs, so they are read once every TypeSpec
	// exists.
	for i, row := range rows {
		sig, err := r.blob(row[0])
		if err != nil {
			return err
		}
		if r.m.typeSpecs[i].Type, err = newSigReader(sig, r.m).typ(); err != nil {
			return err
		}
	}
	for i, row := range r.img.Table(image.TableTypeDef).Rows {
		extends := row[image.ColTypeDefExtends]
		if extends == 0 {
			continue
		}
		table, target, ok := image.DecodeCoded(image.CodedTypeDefOrRef, extends)
		if !ok {
			return ilerrors.WrapMalformed(fmt.Sprintf("base type of %s", r.m.types[i].Name), nil)
		}
		base, err := r.m.typeByCoded(table, target)
		if err != nil {
			return err
		}
		r.m.types[i].base = base
	}
	return nil
}

// memberRange returns the 1-based [start, end) rows owned by row i of a
// table whose column col starts a run in the member table.
func memberRange(owners []image.Row, i, col, members int) (uint32, uint32, error) {
	start := owners[i][col]
	end := uint32(members + 1)
	if i+1 < len(owners) {
		end = owners[i+1][col]
	}
	if start == 0 || start > end || end > uint32(members+1) {
		return 0, 0, ilerrors.WrapMalformed(fmt.Sprintf("member list %d..%d of %d rows", start, end, members), nil)
	}
	return start, end, nil
}

func (r *moduleReader) readFields() error {
	owners := r.img.Table(image.TableTypeDef).Rows
	rows := r.img.Table(image.TableField).Rows
	r.m.fields = make([]*FieldDecl, len(rows))
	for i, t := range r.m.types {
		start, end, err := memberRange(owners, i, image.ColTypeDefFieldList, len(rows))
		if err != nil {
			return err
		}
		for row := start; row < end; row++ {
			f, err := r.readField(t, row, rows[row-1])
			if err != nil {
				return err
			}
			t.fields = append(t.fields, f)
			r.m.fields[row-1] = f
		}
	}
	return nil
}

func (r *moduleReader) readField(t *TypeDecl, row uint32, cols image.Row) (*FieldDecl, error) {
	name, err := r.str(cols[image.ColFieldName])
	if err != nil {
		return nil, err
	}
	sig, err := r.blob(cols[image.ColFieldSignature])
	if err != nil {
		return nil, err
	}
	fieldType, err := newSigReader(sig, r.m).field()
	if err != nil {
		return nil, fmt.Errorf("field %s::%s: %w", t.FullName(), name, err)
	}
	return &FieldDecl{
		Name:      name,
		Flags:     uint16(cols[image.ColFieldFlags]),
		Type:      fieldType,
		declaring: t,
		row:       row,
		sigBlob:   cols[image.ColFieldSignature],
	}, nil
}

func (r *moduleReader) readMethods() error {
	owners := r.img.Table(image.TableTypeDef).Rows
	rows := r.img.Table(image.TableMethodDef).Rows
	r.m.methods = make([]*MethodDecl, len(rows))
	for i, t := range r.m.types {
		start, end, err := memberRange(owners, i, image.ColTypeDefMethodList, len(rows))
		if err != nil {
			return err
		}
		for row := start; row < end; row++ {
			method, err := r.readMethod(t, row, rows)
			if err != nil {
				return err
			}
			t.methods = append(t.methods, method)
			r.m.methods[row-1] = method
		}
	}
	return nil
}

func (r *moduleReader) readMethod(t *TypeDecl, row uint32, rows []image.Row) (*MethodDecl, error) {
	cols := rows[row-1]
	name, err := r.str(cols[image.ColMethodName])
	if err != nil {
		return nil, err
	}
	blob, err := r.blob(cols[image.ColMethodSignature])
	if err != nil {
		return nil, err
	}
	sig, err := newSigReader(blob, r.m).method()
	if err != nil {
		return nil, fmt.Errorf("method %s::%s: %w", t.FullName(), name, err)
	}
	method := &MethodDecl{
		Name:       name,
		Flags:      uint16(cols[image.ColMethodFlags]),
		ImplFlags:  uint16(cols[image.ColMethodImplFlags]),
		ReturnType: sig.Return,
		declaring:  t,
		row:        row,
		rva:        cols[image.ColMethodRVA],
		sig:        sig,
		sigBlob:    cols[image.ColMethodSignature],
	}
	for i, p := range sig.Params {
		method.Params = append(method.Params, &Param{Type: p, sequence: uint16(i + 1)})
	}

	params := r.img.Table(image.TableParam).Rows
	start, end, err := memberRange(rows, int(row-1), image.ColMethodParamList, len(params))
	if err != nil {
		return nil, err
	}
	for p := start; p < end; p++ {
		param, err := r.readParam(p, params[p-1])
		if err != nil {
			return nil, err
		}
		switch seq := int(param.sequence); {
		case seq == 0 && method.retParam == nil:
			method.retParam = param
		case seq >= 1 && seq <= len(method.Params) && method.Params[seq-1].row == 0:
			declared := method.Params[seq-1]
			declared.Name, declared.Flags, declared.row = param.Name, param.Flags, param.row
		default:
			method.orphanParams = append(method.orphanParams, param)
		}
	}
	return method, nil
}

func (r *moduleReader) readParam(row uint32, cols image.Row) (*Param, error) {
	name, err := r.str(cols[image.ColParamName])
	if err != nil {
		return nil, err
	}
	return &Param{
		Name:     name,
		Flags:    uint16(cols[image.ColParamFlags]),
		row:      row,
		sequence: uint16(cols[image.ColParamSequence]),
	}, nil
}

func (r *moduleReader) readMemberRefs() error {
	rows := r.img.Table(image.TableMemberRef).Rows
	r.m.memberRefs = make([]cil.Member, len(rows))
	for i, row := range rows {
		name, err := r.str(row[image.ColMemberRefName])
		if err != nil {
			return err
		}
		parent, err := r.memberParent(row[image.ColMemberRefClass])
		if err != nil {
			return fmt.Errorf("parent of %s: %w", name, err)
		}
		blob, err := r.blob(row[image.ColMemberRefSignature])
		if err != nil {
			return err
		}
		if len(blob) > 0 && blob[0]&callConvMask == callConvField {
			fieldType, err := newSigReader(blob, r.m).field()
			if err != nil {
				return fmt.Errorf("field reference %s: %w", name, err)
			}
			r.m.memberRefs[i] = &FieldRef{
				Name:          name,
				DeclaringType: parent,
				Type:          fieldType,
				row:           uint32(i + 1),
				parent:        row[image.ColMemberRefClass],
				blob:          row[image.ColMemberRefSignature],
			}
			continue
		}
		sig, err := newSigReader(blob, r.m).method()
		if err != nil {
			return fmt.Errorf("method reference %s: %w", name, err)
		}
		r.m.memberRefs[i] = &MethodRef{
			Name:          name,
			DeclaringType: parent,
			Sig:           sig,
			row:           uint32(i + 1),
			parent:        row[image.ColMemberRefClass],
			blob:          row[image.ColMemberRefSignature],
		}
	}
	return nil
}

func (r *moduleReader) memberParent(coded uint32) (TypeReference, error) {
	table, row, ok := image.DecodeCoded(image.CodedMemberRefParent, coded)
	if !ok {
		return nil, ilerrors.WrapMalformed("member reference parent", nil)
	}
	switch table {
	case image.TableModuleRef:
		return nil, nil
	case image.TableMethodDef:
		// Vararg call sites reference the method definition itself.
		method, err := at(r.m.methods, row, "method")
		if err != nil {
			return nil, err
		}
		return method.declaring, nil
	}
	return r.m.typeByCoded(table, row)
}

func (r *moduleReader) readMethodSpecs() error {
	rows := r.img.Table(image.TableMethodSpec).Rows
	r.m.methodSpecs = make([]*MethodSpec, len(rows))
	for i, row := range rows {
		table, target, ok := image.DecodeCoded(image.CodedMethodDefOrRef, row[0])
		if !ok {
			return ilerrors.WrapMalformed("generic method", nil)
		}
		method, err := r.ResolveMethod(image.Token(table, target))
		if err != nil {
			return err
		}
		blob, err := r.blob(row[1])
		if err != nil {
			return err
		}
		args, err := newSigReader(blob, r.m).genericInst()
		if err != nil {
			return fmt.Errorf("instantiation of %s: %w", method.FullName(), err)
		}
		r.m.methodSpecs[i] = &MethodSpec{Method: method, Args: args, row: uint32(i + 1)}
	}
	return nil
}

func (r *moduleReader) readBodies() error {
	for _, method := range r.m.methods {
		if method.rva == 0 || method.ImplFlags&MethodImplCodeTypeMask != MethodImplIL ||
			method.Flags&(MethodAbstract|MethodPInvokeImpl) != 0 {
			continue
		}
		raw, err := r.img.SliceRVA(method.rva)
		if err != nil {
			return fmt.Errorf("%s: %w", method.FullName(), err)
		}
		body, err := cil.Decode(raw, r)
		if err != nil {
			return fmt.Errorf("%s: %w", method.FullName(), err)
		}
		method.body, method.raw = body, raw
	}
	return nil
}

func (r *moduleReader) readEntryPoint() {
	table, row := image.SplitToken(r.img.CLI.EntryPointToken)
	if table == image.TableMethodDef && row != 0 && int(row) <= len(r.m.methods) {
		r.m.entryPoint = r.m.methods[row-1]
	}
}

func (r *moduleReader) ResolveMethod(token uint32) (cil.Method, error) {
	table, row := image.SplitToken(token)
	switch table {
	case image.TableMethodDef:
		return at(r.m.methods, row, "method")
	case image.TableMemberRef:
		member, err := at(r.m.memberRefs, row, "member reference")
		if err != nil {
			return nil, err
		}
		if method, ok := member.(*MethodRef); ok {
			return method, nil
		}
	case image.TableMethodSpec:
		return at(r.m.methodSpecs, row, "method specification")
	}
	return nil, ilerrors.WrapMalformed(fmt.Sprintf("token 0x%08X is not a method", token), nil)
}

func (r *moduleReader) ResolveField(token uint32) (cil.Field, error) {
	table, row := image.SplitToken(token)
	switch table {
	case image.TableField:
		return at(r.m.fields, row, "field")
	case image.TableMemberRef:
		member, err := at(r.m.memberRefs, row, "member reference")
		if err != nil {
			return nil, err
		}
		if field, ok := member.(*FieldRef); ok {
			return field, nil
		}
	}
	return nil, ilerrors.WrapMalformed(fmt.Sprintf("token 0x%08X is not a field", token), nil)
}

func (r *moduleReader) ResolveType(token uint32) (cil.Type, error) {
	table, row := image.SplitToken(token)
	return r.m.typeByCoded(table, row)
}

func (r *moduleReader) ResolveMember(token uint32) (cil.Member, error) {
	switch table, _ := image.SplitToken(token); table {
	case image.TableTypeDef, image.TableTypeRef, image.TableTypeSpec:
		return r.ResolveType(token)
	case image.TableField:
		return r.ResolveField(token)
	case image.TableMemberRef:
		_, row := image.SplitToken(token)
		return at(r.m.memberRefs, row, "member reference")
	}
	return r.ResolveMethod(token)
}

func (r *moduleReader) ResolveString(token uint32) (string, error) {
	s, err := r.img.US.Get(token & 0x00FFFFFF)
	if err != nil {
		return "", ilerrors.WrapMalformed("user string heap", err)
	}
	return s, nil
}

func (r *moduleReader) ResolveSignature(token uint32) (cil.SigOperand, error) {
	table, row := image.SplitToken(token)
	cols := r.img.Table(image.TableStandAloneSig).Row(row)
	if table != image.TableStandAloneSig || cols == nil {
		return cil.SigOperand{}, ilerrors.WrapMalformed(fmt.Sprintf("token 0x%08X is not a signature", token), nil)
	}
	blob, err := r.blob(cols[0])
	if err != nil {
		return cil.SigOperand{}, err
	}
	sig, err := newSigReader(blob, r.m).method()
	if err != nil {
		return cil.SigOperand{}, err
	}
	args := len(sig.Params) + len(sig.VarArgs)
	if sig.HasThis() {
		args++
	}
	return cil.SigOperand{Token: token, Arguments: args, Returns: !isVoid(sig.Return)}, nil
}

// typeByCoded returns the type at row of a TypeDef, TypeRef or TypeSpec
// table.
func (m *Module) typeByCoded(table image.TableID, row uint32) (TypeReference, error) {
	switch table {
	case image.TableTypeDef:
		return at(m.types, row, "type definition")
	case image.TableTypeRef:
		return at(m.typeRefs, row, "type reference")
	case image.TableTypeSpec:
		return at(m.typeSpecs, row, "type specification")
	}
	return nil, ilerrors.WrapMalformed(fmt.Sprintf("table 0x%02X does not hold types", byte(table)), nil)
}

// at returns 1-based row of items.
func at[T any](items []T, row uint32, what string) (T, error) {
	if row == 0 || int(row) > len(items) {
		var zero T
		return zero, ilerrors.WrapMalformed(fmt.Sprintf("%s row %d out of range", what, row), nil)
	}
	return items[row-1], nil
}
