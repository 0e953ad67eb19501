// Package refset is the external type namespace: the runtime's well-known
// types plus the public types of reference assemblies.
package refset

import (
	"encoding/hex"
	"strings"

	"ilpatch/internal/metadata"
)

// Set maps full type names to external types with their methods and
// fields. The zero value is not usable; call New or Builtin.
type Set struct {
	types map[string]*entry
	order []string
}

type entry struct {
	typ     metadata.ExternalType
	methods []metadata.ExternalMethod
	fields  []metadata.ExternalField
}

var _ metadata.External = (*Set)(nil)

// New returns an empty set.
func New() *Set {
	return &Set{types: make(map[string]*entry)}
}

// Add registers a type. A type already in the set is kept and the new
// members are appended to it.
func (s *Set) Add(t metadata.ExternalType, methods []metadata.ExternalMethod, fields []metadata.ExternalField) {
	name := t.FullName()
	e, found := s.types[name]
	if !found {
		e = &entry{typ: t}
		s.types[name] = e
		s.order = append(s.order, name)
	}
	e.methods = append(e.methods, methods...)
	e.fields = append(e.fields, fields...)
}

// Merge adds the types of other that s does not have yet.
func (s *Set) Merge(other *Set) {
	for _, name := range other.order {
		if _, found := s.types[name]; found {
			continue
		}
		e := other.types[name]
		s.Add(e.typ, e.methods, e.fields)
	}
}

// Len returns the number of types.
func (s *Set) Len() int { return len(s.order) }

// TypeNames returns the full names of every type in insertion order.
func (s *Set) TypeNames() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) LookupType(fullName string) (metadata.ExternalType, bool) {
	e, found := s.types[fullName]
	if !found {
		return metadata.ExternalType{}, false
	}
	return e.typ, true
}

func (s *Set) LookupMethod(typeFullName, name string, paramTypes []string) (metadata.ExternalMethod, bool) {
	e, found := s.types[typeFullName]
	if !found {
		return metadata.ExternalMethod{}, false
	}
	for _, m := range e.methods {
		if m.Name == name && (paramTypes == nil || sameNames(m.Params, paramTypes)) {
			return m, true
		}
	}
	return metadata.ExternalMethod{}, false
}

func (s *Set) LookupField(typeFullName, name string) (metadata.ExternalField, bool) {
	e, found := s.types[typeFullName]
	if !found {
		return metadata.ExternalField{}, false
	}
	for _, f := range e.fields {
		if f.Name == name {
			return f, true
		}
	}
	return metadata.ExternalField{}, false
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const (
	runtimeAssembly = "System.Runtime"
	consoleAssembly = "System.Console"
	runtimeVersion  = "8.0.0.0"
)

var frameworkKeyToken, _ = hex.DecodeString("b03f5f7f11d50a3a")

// Builtin returns the well-known core types every module can reference
// without naming an assembly.
func Builtin() *Set {
	s := New()
	core := func(name string, valueType bool, methods ...metadata.ExternalMethod) {
		namespace, simple := split(name)
		s.Add(metadata.ExternalType{
			Namespace:      namespace,
			Name:           simple,
			Assembly:       runtimeAssembly,
			Version:        runtimeVersion,
			PublicKeyToken: frameworkKeyToken,
			Core:           true,
			ValueType:      valueType,
		}, methods, nil)
	}

	for _, name := range []string{
		"System.Boolean", "System.Char", "System.SByte", "System.Byte", "System.Int16", "System.UInt16",
		"System.Int32", "System.UInt32", "System.Int64", "System.UInt64", "System.Single", "System.Double",
		"System.IntPtr", "System.UIntPtr", "System.Decimal", "System.DateTime", "System.TimeSpan",
		"System.Guid", "System.Void", "System.TypedReference",
	} {
		core(name, true)
	}
	core("System.Object", false,
		instance(".ctor", "System.Void"),
		instance("ToString", "System.String"),
		instance("GetHashCode", "System.Int32"),
		instance("Equals", "System.Boolean", "System.Object"),
		instance("GetType", "System.Type"),
	)
	core("System.String", false,
		static("Concat", "System.String", "System.String", "System.String"),
		static("Concat", "System.String", "System.String", "System.String", "System.String"),
		static("Concat", "System.String", "System.Object", "System.Object"),
		static("Format", "System.String", "System.String", "System.Object"),
		static("IsNullOrEmpty", "System.Boolean", "System.String"),
		instance("get_Length", "System.Int32"),
		instance("ToUpperInvariant", "System.String"),
	)
	s.types["System.String"].fields = []metadata.ExternalField{{Name: "Empty", Type: "System.String", Static: true}}
	core("System.Exception", false,
		instance(".ctor", "System.Void"),
		instance(".ctor", "System.Void", "System.String"),
		instance("get_Message", "System.String"),
	)
	core("System.InvalidOperationException", false, instance(".ctor", "System.Void", "System.String"))
	core("System.ArgumentException", false, instance(".ctor", "System.Void", "System.String"))
	core("System.NotSupportedException", false, instance(".ctor", "System.Void", "System.String"))
	for _, name := range []string{
		"System.ValueType", "System.Enum", "System.Array", "System.Type", "System.Attribute",
		"System.Delegate", "System.MulticastDelegate", "System.IDisposable",
	} {
		core(name, false)
	}
	core("System.Math", false,
		static("Max", "System.Int32", "System.Int32", "System.Int32"),
		static("Min", "System.Int32", "System.Int32", "System.Int32"),
		static("Abs", "System.Int32", "System.Int32"),
	)
	core("System.Environment", false, static("Exit", "System.Void", "System.Int32"))

	s.Add(metadata.ExternalType{
		Namespace:      "System",
		Name:           "Console",
		Assembly:       consoleAssembly,
		Version:        runtimeVersion,
		PublicKeyToken: frameworkKeyToken,
		Core:           true,
	}, []metadata.ExternalMethod{
		static("WriteLine", "System.Void", "System.String"),
		static("WriteLine", "System.Void"),
		static("WriteLine", "System.Void", "System.Object"),
		static("WriteLine", "System.Void", "System.Int32"),
		static("WriteLine", "System.Void", "System.String", "System.Object"),
		static("Write", "System.Void", "System.String"),
		static("ReadLine", "System.String"),
	}, nil)
	return s
}

func static(name, ret string, params ...string) metadata.ExternalMethod {
	return metadata.ExternalMethod{Name: name, Return: ret, Params: params}
}

func instance(name, ret string, params ...string) metadata.ExternalMethod {
	return metadata.ExternalMethod{Name: name, Return: ret, Params: params, HasThis: true}
}

func split(fullName string) (namespace, name string) {
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		return fullName[:i], fullName[i+1:]
	}
	return "", fullName
}
