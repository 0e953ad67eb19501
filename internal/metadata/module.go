// Package metadata is the in-memory model of a managed module: its types,
// methods, fields and decoded method bodies. It resolves type names against
// the module and an external namespace, applies structural edits and writes
// the edited module back through the image package.
package metadata

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-version"

	"ilpatch/internal/cil"
	ilerrors "ilpatch/internal/errors"
	"ilpatch/internal/image"
)

// Module is a loaded managed module. It is not safe for concurrent use.
type Module struct {
	path string
	name string
	img  *image.Image

	external External
	// coreAssembly receives imported well-known core types.
	coreAssembly string

	types        []*TypeDecl
	typeRefs     []*TypeRef
	typeSpecs    []*TypeSpec
	memberRefs   []cil.Member
	methodSpecs  []*MethodSpec
	fields       []*FieldDecl
	methods      []*MethodDecl
	assembly     *AssemblyName
	assemblyRefs []*AssemblyRef
	entryPoint   *MethodDecl
	files        []string

	// Imports made through the resolver. Rows are assigned when the module
	// is written and only for imports an encoded signature or body uses.
	importedTypes   map[string]*TypeRef
	importedMembers []cil.Member
}

// Option configures Load and NewModule.
type Option func(*Module)

// WithExternal sets the namespace consulted for types the module neither
// declares nor references.
func WithExternal(e External) Option {
	return func(m *Module) { m.external = e }
}

// WithCoreAssembly names the assembly that receives imported core types
// such as System.Object. By default the module's existing core reference
// is detected.
func WithCoreAssembly(name string) Option {
	return func(m *Module) {
		if name != "" {
			m.coreAssembly = name
		}
	}
}

// Load opens and decodes the module at path. Every method body is decoded;
// a body that cannot be decoded fails the whole load.
func Load(path string, opts ...Option) (*Module, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ilerrors.WrapInvalidArgument("module path cannot be empty")
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ilerrors.WrapNotFound(fmt.Sprintf("file '%s'", path))
	}
	if err != nil {
		return nil, ilerrors.WrapIO(err)
	}
	if info.IsDir() {
		return nil, ilerrors.WrapInvalidArgument("'%s' is a directory", path)
	}

	img, err := image.Open(path)
	if err != nil {
		if ilerrors.Is(err, ilerrors.ErrMalformedBinary) {
			return nil, fmt.Errorf("'%s' is not a valid managed module: %w", path, err)
		}
		return nil, ilerrors.WrapIO(err)
	}
	return FromImage(img, opts...)
}

// FromImage builds the model of an already parsed image.
func FromImage(img *image.Image, opts ...Option) (*Module, error) {
	m := &Module{
		path:          img.Path,
		img:           img,
		importedTypes: make(map[string]*TypeRef),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := newModuleReader(m).read(); err != nil {
		return nil, err
	}
	if m.coreAssembly == "" {
		m.coreAssembly = m.detectCoreAssembly()
	}
	return m, nil
}

// NewModule creates an empty module named name, for example "App.dll". It
// holds no types besides the hidden <Module> type.
func NewModule(name string, opts ...Option) *Module {
	img := image.New(name, !strings.HasSuffix(strings.ToLower(name), ".exe"))
	m, err := FromImage(img, opts...)
	if err != nil {
		// A fresh image always reads back.
		panic(fmt.Errorf("reading new module: %w", err))
	}
	return m
}

// Path returns the file the module was loaded from or last written to.
func (m *Module) Path() string { return m.path }

// Name returns the module name, e.g. "App.dll".
func (m *Module) Name() string { return m.name }

// Assembly returns the assembly identity, or nil for a module without an
// assembly manifest.
func (m *Module) Assembly() *AssemblyName { return m.assembly }

// AssemblyRefs returns the referenced assemblies in table order. References
// created by imports are listed once the module is written.
func (m *Module) AssemblyRefs() []*AssemblyRef {
	var refs []*AssemblyRef
	for _, ref := range m.assemblyRefs {
		if ref.row != 0 {
			refs = append(refs, ref)
		}
	}
	return refs
}

// EntryPoint returns the entry point method, or nil for libraries.
func (m *Module) EntryPoint() *MethodDecl { return m.entryPoint }

// Modules returns the names of the other files of a multi-module assembly.
func (m *Module) Modules() []string {
	return append([]string(nil), m.files...)
}

// Types returns the declared types in declaration order. Compiler generated
// types are left out.
func (m *Module) Types() []*TypeDecl {
	types := make([]*TypeDecl, 0, len(m.types))
	for _, t := range m.types {
		if !t.IsHidden() {
			types = append(types, t)
		}
	}
	return types
}

// AllTypes returns every declared type including compiler generated ones.
func (m *Module) AllTypes() []*TypeDecl {
	return append([]*TypeDecl(nil), m.types...)
}

// TryGetType returns the first declared type whose full name is fullName.
func (m *Module) TryGetType(fullName string) (*TypeDecl, bool) {
	for _, t := range m.types {
		if t.FullName() == fullName {
			return t, true
		}
	}
	return nil, false
}

// Type returns the declared type called fullName or a TypeNotFound error.
func (m *Module) Type(fullName string) (*TypeDecl, error) {
	t, found := m.TryGetType(fullName)
	if !found {
		return nil, ilerrors.WrapTypeNotFound(fullName)
	}
	return t, nil
}

// Method returns the first method called name of the type called
// typeFullName.
func (m *Module) Method(typeFullName, name string) (*MethodDecl, error) {
	t, err := m.Type(typeFullName)
	if err != nil {
		return nil, err
	}
	method, found := t.TryGetMethod(name)
	if !found {
		return nil, ilerrors.WrapMethodNotFound(typeFullName, name)
	}
	return method, nil
}

func (m *Module) detectCoreAssembly() string {
	for _, candidate := range []string{"System.Runtime", "mscorlib", "netstandard", "System.Private.CoreLib"} {
		for _, ref := range m.assemblyRefs {
			if strings.EqualFold(ref.Name, candidate) {
				return ref.Name
			}
		}
	}
	if m.assembly != nil && strings.EqualFold(m.assembly.Name, "System.Private.CoreLib") {
		return ""
	}
	return "System.Runtime"
}

// AssemblyName is the identity of the module's own assembly.
type AssemblyName struct {
	Name    string
	Version *version.Version
	Culture string
	// versionChanged marks a version set through SetVersion.
	versionChanged bool
}

// String renders the display name, e.g.
// "App, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null".
func (a *AssemblyName) String() string {
	return displayName(a.Name, a.Version, a.Culture, nil)
}

// AssemblyRef is a referenced assembly.
type AssemblyRef struct {
	Name           string
	Version        *version.Version
	Culture        string
	PublicKeyToken []byte

	row uint32
}

func (a *AssemblyRef) String() string {
	return displayName(a.Name, a.Version, a.Culture, a.PublicKeyToken)
}

func displayName(name string, v *version.Version, culture string, token []byte) string {
	if culture == "" {
		culture = "neutral"
	}
	keyToken := "null"
	if len(token) > 0 {
		keyToken = hex.EncodeToString(token)
	}
	return fmt.Sprintf("%s, Version=%s, Culture=%s, PublicKeyToken=%s", name, fourPartVersion(v), culture, keyToken)
}

// newVersion builds a version from the four numbers of an assembly
// version.
func newVersion(major, minor, build, revision uint32) *version.Version {
	v, err := version.NewVersion(fmt.Sprintf("%d.%d.%d.%d", major, minor, build, revision))
	if err != nil {
		panic(err)
	}
	return v
}

// versionParts returns major, minor, build and revision, with missing
// segments as zero.
func versionParts(v *version.Version) [4]uint32 {
	var parts [4]uint32
	if v == nil {
		return parts
	}
	for i, s := range v.Segments64() {
		if i == len(parts) {
			break
		}
		parts[i] = uint32(s)
	}
	return parts
}

func fourPartVersion(v *version.Version) string {
	p := versionParts(v)
	return fmt.Sprintf("%d.%d.%d.%d", p[0], p[1], p[2], p[3])
}

// OutputPath derives the default output path for a patched module: the
// input file name with prefix, in the same directory.
func OutputPath(input, prefix string) string {
	return filepath.Join(filepath.Dir(input), prefix+filepath.Base(input))
}
