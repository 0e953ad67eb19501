package metadata

import (
	"fmt"
	"strconv"
	"strings"

	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/image"
)

// ElementType is a signature element type (ECMA-335 II.23.1.16).
type ElementType byte

const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSZArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
)

// Calling convention bits of a method signature.
const (
	callConvMask        = 0x0F
	callConvVarArg      = 0x05
	callConvField       = 0x06
	callConvLocalSig    = 0x07
	callConvGenericInst = 0x0A
	callConvGeneric     = 0x10
	callConvHasThis     = 0x20
	callConvExplicit    = 0x40
)

var primitiveNames = map[ElementType]string{
	ElemVoid:       "System.Void",
	ElemBoolean:    "System.Boolean",
	ElemChar:       "System.Char",
	ElemI1:         "System.SByte",
	ElemU1:         "System.Byte",
	ElemI2:         "System.Int16",
	ElemU2:         "System.UInt16",
	ElemI4:         "System.Int32",
	ElemU4:         "System.UInt32",
	ElemI8:         "System.Int64",
	ElemU8:         "System.UInt64",
	ElemR4:         "System.Single",
	ElemR8:         "System.Double",
	ElemString:     "System.String",
	ElemTypedByRef: "System.TypedReference",
	ElemI:          "System.IntPtr",
	ElemU:          "System.UIntPtr",
	ElemObject:     "System.Object",
}

var primitiveElements = func() map[string]ElementType {
	m := make(map[string]ElementType, len(primitiveNames))
	for e, name := range primitiveNames {
		m[name] = e
	}
	return m
}()

func isValueElement(e ElementType) bool {
	switch e {
	case ElemString, ElemObject, ElemVoid:
		return false
	}
	return true
}

// Primitive returns the signature type of a built-in element type such as
// ElemI4, or nil for other elements.
func Primitive(e ElementType) *SigType {
	if _, ok := primitiveNames[e]; !ok {
		return nil
	}
	return &SigType{Element: e}
}

// ArrayShape describes a general (non-vector) array.
type ArrayShape struct {
	Rank        uint32
	Sizes       []uint32
	LowerBounds []int32
}

// SigType is a type that only exists inside signatures: primitives,
// arrays, pointers, by-refs, generic instantiations, generic parameters,
// function pointers and custom-modified types.
type SigType struct {
	Element ElementType
	// Type is the element or target type for pointers, by-refs, arrays,
	// pinned and modified types, and the generic type of an instantiation.
	Type TypeReference
	// Args are the generic arguments of an instantiation.
	Args []TypeReference
	// Number is the index of a generic parameter.
	Number uint32
	Shape  ArrayShape
	// Modifier is the modifier type of ElemCModReqd and ElemCModOpt.
	Modifier TypeReference
	// Method is the signature of a function pointer.
	Method *MethodSig
	// ValueType marks instantiations of value types.
	ValueType bool
}

func (s *SigType) FullName() string {
	if name, ok := primitiveNames[s.Element]; ok {
		return name
	}
	switch s.Element {
	case ElemPtr:
		return typeName(s.Type) + "*"
	case ElemByRef:
		return typeName(s.Type) + "&"
	case ElemSZArray:
		return typeName(s.Type) + "[]"
	case ElemArray:
		return typeName(s.Type) + "[" + strings.Repeat(",", int(max(s.Shape.Rank, 1))-1) + "]"
	case ElemPinned:
		return typeName(s.Type) + " pinned"
	case ElemGenericInst:
		return typeName(s.Type) + "<" + typeList(s.Args) + ">"
	case ElemVar:
		return "!" + strconv.Itoa(int(s.Number))
	case ElemMVar:
		return "!!" + strconv.Itoa(int(s.Number))
	case ElemCModReqd:
		return typeName(s.Type) + " modreq(" + typeName(s.Modifier) + ")"
	case ElemCModOpt:
		return typeName(s.Type) + " modopt(" + typeName(s.Modifier) + ")"
	case ElemFnPtr:
		if s.Method == nil {
			return "method *"
		}
		return "method " + typeName(s.Method.Return) + " *(" + typeList(s.Method.Params) + ")"
	}
	return fmt.Sprintf("<element 0x%02X>", byte(s.Element))
}

func (s *SigType) IsValueType() bool {
	if _, ok := primitiveNames[s.Element]; ok {
		return isValueElement(s.Element)
	}
	switch s.Element {
	case ElemGenericInst:
		return s.ValueType
	case ElemCModReqd, ElemCModOpt, ElemPinned:
		return s.Type != nil && s.Type.IsValueType()
	case ElemPtr, ElemFnPtr:
		return true
	}
	return false
}

func (s *SigType) String() string { return s.FullName() }

// MethodSig is a decoded method signature.
type MethodSig struct {
	CallConv     byte
	GenericArity uint32
	Return       TypeReference
	Params       []TypeReference
	// VarArgs are the parameters after the sentinel of a vararg call site.
	VarArgs []TypeReference
}

// HasThis reports whether the signature takes an implicit this.
func (s *MethodSig) HasThis() bool { return s.CallConv&callConvHasThis != 0 }

// typeResolver maps a TypeDefOrRef coded row back to a model type.
type typeResolver interface {
	typeByCoded(t image.TableID, row uint32) (TypeReference, error)
}

type sigReader struct {
	b     []byte
	pos   int
	types typeResolver
}

func newSigReader(b []byte, types typeResolver) *sigReader {
	return &sigReader{b: b, types: types}
}

func (r *sigReader) malformed(what string) error {
	return ilerrors.WrapMalformed(fmt.Sprintf("signature %s at byte %d", what, r.pos), nil)
}

func (r *sigReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, r.malformed("truncated")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *sigReader) peek() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, r.malformed("truncated")
	}
	return r.b[r.pos], nil
}

func (r *sigReader) uint() (uint32, error) {
	v, n, err := image.ReadCompressedUint(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *sigReader) int() (int32, error) {
	v, n, err := image.ReadCompressedInt(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *sigReader) typeDefOrRef() (TypeReference, error) {
	coded, err := r.uint()
	if err != nil {
		return nil, err
	}
	var table image.TableID
	switch coded & 0x3 {
	case 0:
		table = image.TableTypeDef
	case 1:
		table = image.TableTypeRef
	case 2:
		table = image.TableTypeSpec
	default:
		return nil, r.malformed("type token tag")
	}
	return r.types.typeByCoded(table, coded>>2)
}

// method reads a method, property or call site signature.
func (r *sigReader) method() (*MethodSig, error) {
	conv, err := r.byte()
	if err != nil {
		return nil, err
	}
	sig := &MethodSig{CallConv: conv}
	if conv&callConvGeneric != 0 {
		if sig.GenericArity, err = r.uint(); err != nil {
			return nil, err
		}
	}
	count, err := r.uint()
	if err != nil {
		return nil, err
	}
	if sig.Return, err = r.typ(); err != nil {
		return nil, err
	}
	varArgs := false
	for i := uint32(0); i < count; i++ {
		if b, err := r.peek(); err == nil && ElementType(b) == ElemSentinel {
			r.pos++
			varArgs = true
		}
		t, err := r.typ()
		if err != nil {
			return nil, err
		}
		if varArgs {
			sig.VarArgs = append(sig.VarArgs, t)
		} else {
			sig.Params = append(sig.Params, t)
		}
	}
	return sig, nil
}

// field reads a field signature. Custom modifiers stay wrapped around the
// returned type.
func (r *sigReader) field() (TypeReference, error) {
	conv, err := r.byte()
	if err != nil {
		return nil, err
	}
	if conv&callConvMask != callConvField {
		return nil, r.malformed("field calling convention")
	}
	return r.typ()
}

// genericInst reads a MethodSpec instantiation blob.
func (r *sigReader) genericInst() ([]TypeReference, error) {
	conv, err := r.byte()
	if err != nil {
		return nil, err
	}
	if conv != callConvGenericInst {
		return nil, r.malformed("instantiation calling convention")
	}
	count, err := r.uint()
	if err != nil {
		return nil, err
	}
	args := make([]TypeReference, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := r.typ()
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return args, nil
}

func (r *sigReader) typ() (TypeReference, error) {
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	e := ElementType(b)
	if p := Primitive(e); p != nil {
		return p, nil
	}
	switch e {
	case ElemClass, ElemValueType:
		t, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		if ref, ok := t.(*TypeRef); ok && e == ElemValueType {
			ref.valueType = true
		}
		return t, nil
	case ElemPtr, ElemByRef, ElemSZArray, ElemPinned:
		inner, err := r.typ()
		if err != nil {
			return nil, err
		}
		return &SigType{Element: e, Type: inner}, nil
	case ElemCModReqd, ElemCModOpt:
		mod, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		inner, err := r.typ()
		if err != nil {
			return nil, err
		}
		return &SigType{Element: e, Modifier: mod, Type: inner}, nil
	case ElemVar, ElemMVar:
		n, err := r.uint()
		if err != nil {
			return nil, err
		}
		return &SigType{Element: e, Number: n}, nil
	case ElemArray:
		return r.array()
	case ElemGenericInst:
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		generic, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		count, err := r.uint()
		if err != nil {
			return nil, err
		}
		s := &SigType{Element: e, Type: generic, ValueType: ElementType(kind) == ElemValueType}
		for i := uint32(0); i < count; i++ {
			arg, err := r.typ()
			if err != nil {
				return nil, err
			}
			s.Args = append(s.Args, arg)
		}
		return s, nil
	case ElemFnPtr:
		m, err := r.method()
		if err != nil {
			return nil, err
		}
		return &SigType{Element: e, Method: m}, nil
	}
	r.pos--
	return nil, r.malformed(fmt.Sprintf("element type 0x%02X", b))
}

func (r *sigReader) array() (TypeReference, error) {
	elem, err := r.typ()
	if err != nil {
		return nil, err
	}
	s := &SigType{Element: ElemArray, Type: elem}
	if s.Shape.Rank, err = r.uint(); err != nil {
		return nil, err
	}
	n, err := r.uint()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		v, err := r.uint()
		if err != nil {
			return nil, err
		}
		s.Shape.Sizes = append(s.Shape.Sizes, v)
	}
	if n, err = r.uint(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		v, err := r.int()
		if err != nil {
			return nil, err
		}
		s.Shape.LowerBounds = append(s.Shape.LowerBounds, v)
	}
	return s, nil
}

// typeEncoder yields the TypeDefOrRef coded row of a class type while
// writing signatures, creating references as needed.
type typeEncoder interface {
	typeDefOrRefRow(t TypeReference) (image.TableID, uint32, error)
}

type sigWriter struct {
	b     []byte
	types typeEncoder
}

func (w *sigWriter) uint(v uint32) { w.b = image.AppendCompressedUint(w.b, v) }

func (w *sigWriter) typeDefOrRef(t TypeReference) error {
	table, row, err := w.types.typeDefOrRefRow(t)
	if err != nil {
		return err
	}
	tag := uint32(0)
	switch table {
	case image.TableTypeRef:
		tag = 1
	case image.TableTypeSpec:
		tag = 2
	}
	w.uint(row<<2 | tag)
	return nil
}

func (w *sigWriter) method(s *MethodSig) error {
	w.b = append(w.b, s.CallConv)
	if s.CallConv&callConvGeneric != 0 {
		w.uint(s.GenericArity)
	}
	w.uint(uint32(len(s.Params) + len(s.VarArgs)))
	if err := w.typ(s.Return); err != nil {
		return err
	}
	for _, p := range s.Params {
		if err := w.typ(p); err != nil {
			return err
		}
	}
	for i, p := range s.VarArgs {
		if i == 0 {
			w.b = append(w.b, byte(ElemSentinel))
		}
		if err := w.typ(p); err != nil {
			return err
		}
	}
	return nil
}

func (w *sigWriter) field(t TypeReference) error {
	w.b = append(w.b, callConvField)
	return w.typ(t)
}

func (w *sigWriter) genericInst(args []TypeReference) error {
	w.b = append(w.b, callConvGenericInst)
	w.uint(uint32(len(args)))
	for _, a := range args {
		if err := w.typ(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *sigWriter) typ(t TypeReference) error {
	if t == nil {
		return ilerrors.WrapInvalidArgument("signature has an unresolved type")
	}
	switch v := t.(type) {
	case *SigType:
		return w.sigType(v)
	case *TypeSpec:
		return w.typ(v.Type)
	}
	if e, ok := primitiveElements[t.FullName()]; ok {
		w.b = append(w.b, byte(e))
		return nil
	}
	if t.IsValueType() {
		w.b = append(w.b, byte(ElemValueType))
	} else {
		w.b = append(w.b, byte(ElemClass))
	}
	return w.typeDefOrRef(t)
}

func (w *sigWriter) sigType(s *SigType) error {
	if _, ok := primitiveNames[s.Element]; ok {
		w.b = append(w.b, byte(s.Element))
		return nil
	}
	w.b = append(w.b, byte(s.Element))
	switch s.Element {
	case ElemPtr, ElemByRef, ElemSZArray, ElemPinned:
		return w.typ(s.Type)
	case ElemCModReqd, ElemCModOpt:
		if err := w.typeDefOrRef(s.Modifier); err != nil {
			return err
		}
		return w.typ(s.Type)
	case ElemVar, ElemMVar:
		w.uint(s.Number)
		return nil
	case ElemArray:
		if err := w.typ(s.Type); err != nil {
			return err
		}
		w.uint(s.Shape.Rank)
		w.uint(uint32(len(s.Shape.Sizes)))
		for _, v := range s.Shape.Sizes {
			w.uint(v)
		}
		w.uint(uint32(len(s.Shape.LowerBounds)))
		for _, v := range s.Shape.LowerBounds {
			w.b = image.AppendCompressedInt(w.b, v)
		}
		return nil
	case ElemGenericInst:
		if s.ValueType {
			w.b = append(w.b, byte(ElemValueType))
		} else {
			w.b = append(w.b, byte(ElemClass))
		}
		if err := w.typeDefOrRef(s.Type); err != nil {
			return err
		}
		w.uint(uint32(len(s.Args)))
		for _, a := range s.Args {
			if err := w.typ(a); err != nil {
				return err
			}
		}
		return nil
	case ElemFnPtr:
		if s.Method == nil {
			return ilerrors.WrapInvalidArgument("function pointer without a signature")
		}
		return w.method(s.Method)
	}
	return ilerrors.WrapInvalidArgument("cannot encode element type 0x%02X", byte(s.Element))
}
