package metadata

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/image"
)

// Write serializes the module with every edit applied. Nothing in the
// module changes when it fails.
func (m *Module) Write(w io.Writer) error {
	c, data, err := m.commit()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return ilerrors.WrapIO(err)
	}
	return c.apply(data, m.path)
}

// WriteFile writes the module to path. The output appears only once it is
// complete; on any failure no file is left behind.
func (m *Module) WriteFile(path string) error {
	if path == "" {
		return ilerrors.WrapInvalidArgument("output path cannot be empty")
	}
	c, data, err := m.commit()
	if err != nil {
		return err
	}
	if err := image.WriteFileAtomic(path, data); err != nil {
		return err
	}
	return c.apply(data, path)
}

// commit carries the row numbering of one write. Rows created for imports
// are recorded here and copied onto the model only once the image has
// been serialized.
type commit struct {
	m   *Module
	img *image.Image

	fields  []*FieldDecl
	methods []*MethodDecl
	params  [][]*Param
	rows    image.RowMap

	fieldRows  map[*FieldDecl]uint32
	methodRows map[*MethodDecl]uint32
	paramRows  map[*Param]uint32

	assemblyRefs map[*AssemblyRef]uint32
	typeRefs     map[*TypeRef]uint32
	memberRefs   map[cil.Member]uint32
	methodSpecs  map[*MethodSpec]uint32
	sigSpecs     map[string]uint32
	newSpecs     []*TypeSpec

	bodies [][]byte
	rvas   []uint32
}

func (m *Module) commit() (*commit, []byte, error) {
	c := &commit{
		m:            m,
		img:          m.img.Clone(),
		fieldRows:    make(map[*FieldDecl]uint32),
		methodRows:   make(map[*MethodDecl]uint32),
		paramRows:    make(map[*Param]uint32),
		assemblyRefs: make(map[*AssemblyRef]uint32),
		typeRefs:     make(map[*TypeRef]uint32),
		memberRefs:   make(map[cil.Member]uint32),
		methodSpecs:  make(map[*MethodSpec]uint32),
		sigSpecs:     make(map[string]uint32),
	}
	c.number()
	c.img.RemapReferences(c.rows, image.TableTypeDef, image.TableField, image.TableMethodDef, image.TableParam)
	c.img.SortTables()

	if err := c.encodeBodies(); err != nil {
		return nil, nil, err
	}
	c.rvas = c.img.SetMethodBodies(c.bodies)
	if err := c.buildMembers(); err != nil {
		return nil, nil, err
	}
	c.img.CLI.EntryPointToken = c.rows.Token(c.img.CLI.EntryPointToken)
	if a := m.assembly; a != nil && a.versionChanged {
		row := c.img.Table(image.TableAssembly).Row(1)
		parts := versionParts(a.Version)
		row[image.ColAssemblyMajor], row[image.ColAssemblyMinor] = parts[0], parts[1]
		row[image.ColAssemblyBuild], row[image.ColAssemblyRevision] = parts[2], parts[3]
	}

	data, err := c.img.Bytes()
	if err != nil {
		return nil, nil, err
	}
	return c, data, nil
}

// number assigns the final Field, MethodDef and Param rows in type order
// and records how rows read from the image move.
func (c *commit) number() {
	img := c.m.img
	fieldMap := make([]uint32, img.Table(image.TableField).Len()+1)
	methodMap := make([]uint32, img.Table(image.TableMethodDef).Len()+1)
	paramMap := make([]uint32, img.Table(image.TableParam).Len()+1)
	move := func(remap []uint32, old, row uint32) {
		if old != 0 && int(old) < len(remap) {
			remap[old] = row
		}
	}

	for _, t := range c.m.types {
		for _, f := range t.fields {
			c.fields = append(c.fields, f)
			c.fieldRows[f] = uint32(len(c.fields))
			move(fieldMap, f.row, uint32(len(c.fields)))
		}
		for _, method := range t.methods {
			c.methods = append(c.methods, method)
			c.methodRows[method] = uint32(len(c.methods))
			move(methodMap, method.row, uint32(len(c.methods)))

			params := method.paramRows()
			for _, p := range params {
				c.paramRows[p] = uint32(len(c.paramRows) + 1)
				move(paramMap, p.row, c.paramRows[p])
			}
			c.params = append(c.params, params)
		}
	}
	c.rows = image.RowMap{
		image.TableField:     fieldMap,
		image.TableMethodDef: methodMap,
		image.TableParam:     paramMap,
	}
}

// paramRows lists the parameters that have a Param row: the return value
// row, named or previously written parameters, then rows that match no
// parameter.
func (m *MethodDecl) paramRows() []*Param {
	var params []*Param
	if m.retParam != nil {
		params = append(params, m.retParam)
	}
	for i, p := range m.Params {
		p.sequence = uint16(i + 1)
		if p.row != 0 || p.Name != "" {
			params = append(params, p)
		}
	}
	return append(params, m.orphanParams...)
}

func (c *commit) encodeBodies() error {
	c.bodies = make([][]byte, len(c.methods))
	for i, method := range c.methods {
		var err error
		switch {
		case method.body == nil:
			continue
		case method.opened || method.raw == nil:
			c.bodies[i], err = cil.Encode(method.body, c, method.ReturnsValue())
		default:
			c.bodies[i], err = cil.RemapTokens(method.raw, c.rows.Token)
		}
		if err != nil {
			return fmt.Errorf("encoding %s: %w", method.FullName(), err)
		}
	}
	return nil
}

// buildMembers rewrites the TypeDef member lists and rebuilds the Field,
// MethodDef and Param tables from the model.
func (c *commit) buildMembers() error {
	strings := c.img.Strings
	old := c.m.img

	typeDefs := c.img.Table(image.TableTypeDef)
	var fieldNext, methodNext uint32 = 1, 1
	for i, t := range c.m.types {
		if i == typeDefs.Len() {
			extends, err := c.extendsIndex(t)
			if err != nil {
				return fmt.Errorf("type %s: %w", t.FullName(), err)
			}
			typeDefs.Append(image.Row{0, 0, 0, extends, 0, 0})
		}
		row := typeDefs.Rows[i]
		row[image.ColTypeDefFlags] = t.Flags
		row[image.ColTypeDefName] = strings.Add(t.Name)
		row[image.ColTypeDefNamespace] = strings.Add(t.Namespace)
		row[image.ColTypeDefFieldList] = fieldNext
		row[image.ColTypeDefMethodList] = methodNext
		fieldNext += uint32(len(t.fields))
		methodNext += uint32(len(t.methods))
	}

	fields := make([]image.Row, len(c.fields))
	for i, f := range c.fields {
		row := make(image.Row, 3)
		if f.row != 0 {
			copy(row, old.Table(image.TableField).Row(f.row))
		}
		sig := f.sigBlob
		if sig == 0 {
			w := &sigWriter{types: c}
			if err := w.field(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.FullName(), err)
			}
			sig = c.img.Blobs.Add(w.b)
		}
		row[image.ColFieldFlags] = uint32(f.Flags)
		row[image.ColFieldName] = strings.Add(f.Name)
		row[image.ColFieldSignature] = sig
		fields[i] = row
	}

	methods := make([]image.Row, len(c.methods))
	var params []image.Row
	for i, method := range c.methods {
		row := make(image.Row, 6)
		if method.row != 0 {
			copy(row, old.Table(image.TableMethodDef).Row(method.row))
		}
		sig := method.sigBlob
		if sig == 0 {
			w := &sigWriter{types: c}
			method.sig.Return = method.ReturnType
			method.sig.Params = method.paramTypes()
			if err := w.method(method.sig); err != nil {
				return fmt.Errorf("method %s: %w", method.FullName(), err)
			}
			sig = c.img.Blobs.Add(w.b)
		}
		rva := method.rva
		if c.bodies[i] != nil {
			rva = c.rvas[i]
		}
		row[image.ColMethodRVA] = rva
		row[image.ColMethodImplFlags] = uint32(method.ImplFlags)
		row[image.ColMethodFlags] = uint32(method.Flags)
		row[image.ColMethodName] = strings.Add(method.Name)
		row[image.ColMethodSignature] = sig
		row[image.ColMethodParamList] = uint32(len(params) + 1)
		methods[i] = row

		for _, p := range c.params[i] {
			params = append(params, image.Row{uint32(p.Flags), uint32(p.sequence), strings.Add(p.Name)})
		}
	}

	c.img.Table(image.TableField).Rows = fields
	c.img.Table(image.TableMethodDef).Rows = methods
	c.img.Table(image.TableParam).Rows = params
	return nil
}

func (c *commit) extendsIndex(t *TypeDecl) (uint32, error) {
	if t.base == nil {
		return 0, nil
	}
	table, row, err := c.typeDefOrRefRow(t.base)
	if err != nil {
		return 0, err
	}
	extends, _ := image.EncodeCoded(image.CodedTypeDefOrRef, table, row)
	return extends, nil
}

// apply copies the numbering of a successful write onto the model and
// makes the written image the module's base for the next write.
func (c *commit) apply(data []byte, path string) error {
	written, err := image.Parse(data)
	if err != nil {
		return fmt.Errorf("reading back written module: %w", err)
	}
	written.Path = path
	m := c.m

	for f, row := range c.fieldRows {
		f.row = row
		if f.sigBlob == 0 {
			f.sigBlob = c.img.Table(image.TableField).Rows[row-1][image.ColFieldSignature]
		}
	}
	for i, method := range c.methods {
		method.row = uint32(i + 1)
		method.sigBlob = c.img.Table(image.TableMethodDef).Rows[i][image.ColMethodSignature]
		method.rva = c.img.Table(image.TableMethodDef).Rows[i][image.ColMethodRVA]
		if c.bodies[i] != nil {
			method.raw = c.bodies[i]
		}
	}
	for p, row := range c.paramRows {
		p.row = row
	}
	m.fields, m.methods = c.fields, c.methods

	for ref, row := range c.assemblyRefs {
		ref.row = row
	}
	slices.SortStableFunc(m.assemblyRefs, func(a, b *AssemblyRef) int {
		return rowOrder(a.row, b.row)
	})
	for ref, row := range c.typeRefs {
		ref.row = row
		m.typeRefs = append(m.typeRefs, ref)
		delete(m.importedTypes, ref.FullName())
	}
	slices.SortFunc(m.typeRefs, func(a, b *TypeRef) int { return rowOrder(a.row, b.row) })

	pending := m.importedMembers[:0]
	for _, member := range m.importedMembers {
		if _, written := c.memberRefs[member]; !written {
			pending = append(pending, member)
		}
	}
	m.importedMembers = pending
	for member, row := range c.memberRefs {
		switch v := member.(type) {
		case *MethodRef:
			v.row = row
		case *FieldRef:
			v.row = row
		}
		m.memberRefs = append(m.memberRefs, member)
	}
	slices.SortFunc(m.memberRefs, func(a, b cil.Member) int { return rowOrder(memberRow(a), memberRow(b)) })
	for spec, row := range c.methodSpecs {
		spec.row = row
		m.methodSpecs = append(m.methodSpecs, spec)
	}
	slices.SortFunc(m.methodSpecs, func(a, b *MethodSpec) int { return rowOrder(a.row, b.row) })
	m.typeSpecs = append(m.typeSpecs, c.newSpecs...)

	if m.assembly != nil {
		m.assembly.versionChanged = false
	}
	m.img = written
	m.path = path
	return nil
}

// rowOrder sorts by row with unassigned rows last.
func rowOrder(a, b uint32) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	case a < b:
		return -1
	}
	return 1
}

func memberRow(member cil.Member) uint32 {
	switch v := member.(type) {
	case *MethodRef:
		return v.row
	case *FieldRef:
		return v.row
	}
	return 0
}

func (c *commit) MethodToken(method cil.Method) (uint32, error) {
	switch v := method.(type) {
	case *MethodDecl:
		if row, ok := c.methodRows[v]; ok {
			return image.Token(image.TableMethodDef, row), nil
		}
	case *MethodRef:
		row, err := c.memberRefRow(v, v.row, v.DeclaringType, v.Name, func(w *sigWriter) error { return w.method(v.Sig) })
		return image.Token(image.TableMemberRef, row), err
	case *MethodSpec:
		row, err := c.methodSpecRow(v)
		return image.Token(image.TableMethodSpec, row), err
	}
	return 0, ilerrors.WrapInvalidArgument("method %s is not part of module '%s'", method.FullName(), c.m.name)
}

func (c *commit) FieldToken(field cil.Field) (uint32, error) {
	switch v := field.(type) {
	case *FieldDecl:
		if row, ok := c.fieldRows[v]; ok {
			return image.Token(image.TableField, row), nil
		}
	case *FieldRef:
		row, err := c.memberRefRow(v, v.row, v.DeclaringType, v.Name, func(w *sigWriter) error { return w.field(v.Type) })
		return image.Token(image.TableMemberRef, row), err
	}
	return 0, ilerrors.WrapInvalidArgument("field %s is not part of module '%s'", field.FullName(), c.m.name)
}

func (c *commit) TypeToken(t cil.Type) (uint32, error) {
	table, row, err := c.typeDefOrRefRow(t)
	if err != nil {
		return 0, err
	}
	return image.Token(table, row), nil
}

func (c *commit) MemberToken(member cil.Member) (uint32, error) {
	switch v := member.(type) {
	case cil.Method:
		return c.MethodToken(v)
	case cil.Field:
		return c.FieldToken(v)
	case cil.Type:
		return c.TypeToken(v)
	}
	return 0, ilerrors.WrapInvalidArgument("cannot take a token of %s", member.FullName())
}

func (c *commit) StringToken(s string) (uint32, error) {
	return image.TokenUserString<<24 | c.img.US.Add(s), nil
}

func (c *commit) typeDefOrRefRow(t TypeReference) (image.TableID, uint32, error) {
	switch v := t.(type) {
	case *TypeDecl:
		if v.module == c.m {
			return image.TableTypeDef, v.row, nil
		}
		return 0, 0, ilerrors.WrapInvalidArgument("type %s is declared by another module", v.FullName())
	case *TypeRef:
		row, err := c.typeRefRow(v)
		return image.TableTypeRef, row, err
	case *TypeSpec:
		if v.row != 0 {
			return image.TableTypeSpec, v.row, nil
		}
		return c.sigSpecRow(v.Type)
	case *SigType:
		if _, primitive := primitiveNames[v.Element]; primitive {
			ref, err := c.m.Resolve(v.FullName())
			if err != nil {
				return 0, 0, err
			}
			return c.typeDefOrRefRow(ref)
		}
		return c.sigSpecRow(v)
	case nil:
		return 0, 0, ilerrors.WrapInvalidArgument("missing type")
	}
	return 0, 0, ilerrors.WrapInvalidArgument("cannot reference type %s", t.FullName())
}

func (c *commit) typeRefRow(ref *TypeRef) (uint32, error) {
	if ref.row != 0 {
		return ref.row, nil
	}
	if row, ok := c.typeRefs[ref]; ok {
		return row, nil
	}
	var scope uint32
	switch {
	case ref.enclosing != nil:
		outer, err := c.typeRefRow(ref.enclosing)
		if err != nil {
			return 0, err
		}
		scope, _ = image.EncodeCoded(image.CodedResolutionScope, image.TableTypeRef, outer)
	case ref.assembly != nil:
		scope, _ = image.EncodeCoded(image.CodedResolutionScope, image.TableAssemblyRef, c.assemblyRefRow(ref.assembly))
	default:
		scope = ref.scope
	}
	strings := c.img.Strings
	row := c.img.Table(image.TableTypeRef).Append(image.Row{scope, strings.Add(ref.Name), strings.Add(ref.Namespace)})
	c.typeRefs[ref] = row
	return row, nil
}

func (c *commit) assemblyRefRow(ref *AssemblyRef) uint32 {
	if ref.row != 0 {
		return ref.row
	}
	if row, ok := c.assemblyRefs[ref]; ok {
		return row
	}
	v := versionParts(ref.Version)
	row := c.img.Table(image.TableAssemblyRef).Append(image.Row{
		v[0], v[1], v[2], v[3], 0,
		c.img.Blobs.Add(ref.PublicKeyToken),
		c.img.Strings.Add(ref.Name),
		c.img.Strings.Add(ref.Culture),
		0,
	})
	c.assemblyRefs[ref] = row
	return row
}

// sigSpecRow returns the TypeSpec row of a constructed type, reusing a row
// with the same signature.
func (c *commit) sigSpecRow(t TypeReference) (image.TableID, uint32, error) {
	w := &sigWriter{types: c}
	if err := w.typ(t); err != nil {
		return 0, 0, err
	}
	key := string(w.b)
	if row, ok := c.sigSpecs[key]; ok {
		return image.TableTypeSpec, row, nil
	}
	specs := c.img.Table(image.TableTypeSpec)
	for i, row := range specs.Rows {
		if existing, err := c.img.Blobs.Get(row[0]); err == nil && bytes.Equal(existing, w.b) {
			c.sigSpecs[key] = uint32(i + 1)
			return image.TableTypeSpec, uint32(i + 1), nil
		}
	}
	row := specs.Append(image.Row{c.img.Blobs.Add(w.b)})
	c.sigSpecs[key] = row
	c.newSpecs = append(c.newSpecs, &TypeSpec{Type: t, row: row})
	return image.TableTypeSpec, row, nil
}

func (c *commit) memberRefRow(member cil.Member, row uint32, parent TypeReference, name string, sig func(*sigWriter) error) (uint32, error) {
	if row != 0 {
		return row, nil
	}
	if row, ok := c.memberRefs[member]; ok {
		return row, nil
	}
	if parent == nil {
		return 0, ilerrors.WrapInvalidArgument("%s has no declaring type", member.FullName())
	}
	table, parentRow, err := c.typeDefOrRefRow(parent)
	if err != nil {
		return 0, err
	}
	class, ok := image.EncodeCoded(image.CodedMemberRefParent, table, parentRow)
	if !ok {
		return 0, ilerrors.WrapInvalidArgument("%s cannot own a member reference", parent.FullName())
	}
	w := &sigWriter{types: c}
	if err := sig(w); err != nil {
		return 0, fmt.Errorf("signature of %s: %w", member.FullName(), err)
	}
	row = c.img.Table(image.TableMemberRef).Append(image.Row{class, c.img.Strings.Add(name), c.img.Blobs.Add(w.b)})
	c.memberRefs[member] = row
	return row, nil
}

func (c *commit) methodSpecRow(spec *MethodSpec) (uint32, error) {
	if spec.row != 0 {
		return spec.row, nil
	}
	if row, ok := c.methodSpecs[spec]; ok {
		return row, nil
	}
	token, err := c.MethodToken(spec.Method)
	if err != nil {
		return 0, err
	}
	table, target := image.SplitToken(token)
	method, ok := image.EncodeCoded(image.CodedMethodDefOrRef, table, target)
	if !ok {
		return 0, ilerrors.WrapInvalidArgument("%s cannot be instantiated", spec.Method.FullName())
	}
	w := &sigWriter{types: c}
	if err := w.genericInst(spec.Args); err != nil {
		return 0, err
	}
	row := c.img.Table(image.TableMethodSpec).Append(image.Row{method, c.img.Blobs.Add(w.b)})
	c.methodSpecs[spec] = row
	return row, nil
}
