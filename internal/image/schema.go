package image

// TableID identifies one of the ECMA-335 metadata tables.
type TableID uint8

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	// NumTables is the number of table slots defined by ECMA-335.
	NumTables = 0x2D

	tableUnused TableID = 0xFF
)

// User strings are addressed by token but live in the #US heap.
const TokenUserString = 0x70

// CodedKind is one of the coded index encodings of ECMA-335 II.24.2.6.
type CodedKind uint8

const (
	CodedTypeDefOrRef CodedKind = iota
	CodedHasConstant
	CodedHasCustomAttribute
	CodedHasFieldMarshal
	CodedHasDeclSecurity
	CodedMemberRefParent
	CodedHasSemantics
	CodedMethodDefOrRef
	CodedMemberForwarded
	CodedImplementation
	CodedCustomAttributeType
	CodedResolutionScope
	CodedTypeOrMethodDef
)

type codedInfo struct {
	bits   uint
	tables []TableID
}

var codedKinds = [...]codedInfo{
	CodedTypeDefOrRef: {2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}},
	CodedHasConstant:  {2, []TableID{TableField, TableParam, TableProperty}},
	CodedHasCustomAttribute: {5, []TableID{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}},
	CodedHasFieldMarshal:     {1, []TableID{TableField, TableParam}},
	CodedHasDeclSecurity:     {2, []TableID{TableTypeDef, TableMethodDef, TableAssembly}},
	CodedMemberRefParent:     {3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}},
	CodedHasSemantics:        {1, []TableID{TableEvent, TableProperty}},
	CodedMethodDefOrRef:      {1, []TableID{TableMethodDef, TableMemberRef}},
	CodedMemberForwarded:     {1, []TableID{TableField, TableMethodDef}},
	CodedImplementation:      {2, []TableID{TableFile, TableAssemblyRef, TableExportedType}},
	CodedCustomAttributeType: {3, []TableID{tableUnused, tableUnused, TableMethodDef, TableMemberRef, tableUnused}},
	CodedResolutionScope:     {2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}},
	CodedTypeOrMethodDef:     {1, []TableID{TableTypeDef, TableMethodDef}},
}

type columnKind uint8

const (
	colU16 columnKind = iota
	colU32
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

// Column describes one column of a table schema.
type Column struct {
	Name  string
	kind  columnKind
	table TableID
	coded CodedKind
}

// References reports the tables a column can point into, or nil for
// constant and heap columns.
func (c Column) References() []TableID {
	switch c.kind {
	case colIndex:
		return []TableID{c.table}
	case colCoded:
		return codedKinds[c.coded].tables
	}
	return nil
}

// Target returns the table of a plain index column.
func (c Column) Target() (TableID, bool) { return c.table, c.kind == colIndex }

// Coded returns the encoding of a coded index column.
func (c Column) Coded() (CodedKind, bool) { return c.coded, c.kind == colCoded }

func u16(name string) Column                { return Column{Name: name, kind: colU16} }
func u32(name string) Column                { return Column{Name: name, kind: colU32} }
func str(name string) Column                { return Column{Name: name, kind: colString} }
func guid(name string) Column               { return Column{Name: name, kind: colGUID} }
func blob(name string) Column               { return Column{Name: name, kind: colBlob} }
func index(name string, t TableID) Column   { return Column{Name: name, kind: colIndex, table: t} }
func coded(name string, k CodedKind) Column { return Column{Name: name, kind: colCoded, coded: k} }

var schemas = [NumTables][]Column{
	TableModule:        {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TableTypeRef:       {coded("ResolutionScope", CodedResolutionScope), str("Name"), str("Namespace")},
	TableTypeDef:       {u32("Flags"), str("Name"), str("Namespace"), coded("Extends", CodedTypeDefOrRef), index("FieldList", TableField), index("MethodList", TableMethodDef)},
	TableFieldPtr:      {index("Field", TableField)},
	TableField:         {u16("Flags"), str("Name"), blob("Signature")},
	TableMethodPtr:     {index("Method", TableMethodDef)},
	TableMethodDef:     {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), index("ParamList", TableParam)},
	TableParamPtr:      {index("Param", TableParam)},
	TableParam:         {u16("Flags"), u16("Sequence"), str("Name")},
	TableInterfaceImpl: {index("Class", TableTypeDef), coded("Interface", CodedTypeDefOrRef)},
	TableMemberRef:     {coded("Class", CodedMemberRefParent), str("Name"), blob("Signature")},
	// The constant type is one byte plus one padding byte.
	TableConstant:               {u16("Type"), coded("Parent", CodedHasConstant), blob("Value")},
	TableCustomAttribute:        {coded("Parent", CodedHasCustomAttribute), coded("Type", CodedCustomAttributeType), blob("Value")},
	TableFieldMarshal:           {coded("Parent", CodedHasFieldMarshal), blob("NativeType")},
	TableDeclSecurity:           {u16("Action"), coded("Parent", CodedHasDeclSecurity), blob("PermissionSet")},
	TableClassLayout:            {u16("PackingSize"), u32("ClassSize"), index("Parent", TableTypeDef)},
	TableFieldLayout:            {u32("Offset"), index("Field", TableField)},
	TableStandAloneSig:          {blob("Signature")},
	TableEventMap:               {index("Parent", TableTypeDef), index("EventList", TableEvent)},
	TableEventPtr:               {index("Event", TableEvent)},
	TableEvent:                  {u16("EventFlags"), str("Name"), coded("EventType", CodedTypeDefOrRef)},
	TablePropertyMap:            {index("Parent", TableTypeDef), index("PropertyList", TableProperty)},
	TablePropertyPtr:            {index("Property", TableProperty)},
	TableProperty:               {u16("Flags"), str("Name"), blob("Type")},
	TableMethodSemantics:        {u16("Semantics"), index("Method", TableMethodDef), coded("Association", CodedHasSemantics)},
	TableMethodImpl:             {index("Class", TableTypeDef), coded("MethodBody", CodedMethodDefOrRef), coded("MethodDeclaration", CodedMethodDefOrRef)},
	TableModuleRef:              {str("Name")},
	TableTypeSpec:               {blob("Signature")},
	TableImplMap:                {u16("MappingFlags"), coded("MemberForwarded", CodedMemberForwarded), str("ImportName"), index("ImportScope", TableModuleRef)},
	TableFieldRVA:               {u32("RVA"), index("Field", TableField)},
	TableEncLog:                 {u32("Token"), u32("FuncCode")},
	TableEncMap:                 {u32("Token")},
	TableAssembly:               {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	TableAssemblyProcessor:      {u32("Processor")},
	TableAssemblyOS:             {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	TableAssemblyRef:            {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	TableAssemblyRefProcessor:   {u32("Processor"), index("AssemblyRef", TableAssemblyRef)},
	TableAssemblyRefOS:          {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), index("AssemblyRef", TableAssemblyRef)},
	TableFile:                   {u32("Flags"), str("Name"), blob("HashValue")},
	TableExportedType:           {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", CodedImplementation)},
	TableManifestResource:       {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", CodedImplementation)},
	TableNestedClass:            {index("NestedClass", TableTypeDef), index("EnclosingClass", TableTypeDef)},
	TableGenericParam:           {u16("Number"), u16("Flags"), coded("Owner", CodedTypeOrMethodDef), str("Name")},
	TableMethodSpec:             {coded("Method", CodedMethodDefOrRef), blob("Instantiation")},
	TableGenericParamConstraint: {index("Owner", TableGenericParam), coded("Constraint", CodedTypeDefOrRef)},
}

// Columns returns the schema of table t.
func Columns(t TableID) []Column {
	if int(t) >= NumTables {
		return nil
	}
	return schemas[t]
}

// Column indexes used by the metadata model. They follow the order of the
// schemas above.
const (
	ColTypeRefScope     = 0
	ColTypeRefName      = 1
	ColTypeRefNamespace = 2

	ColTypeDefFlags      = 0
	ColTypeDefName       = 1
	ColTypeDefNamespace  = 2
	ColTypeDefExtends    = 3
	ColTypeDefFieldList  = 4
	ColTypeDefMethodList = 5

	ColFieldFlags     = 0
	ColFieldName      = 1
	ColFieldSignature = 2

	ColMethodRVA       = 0
	ColMethodImplFlags = 1
	ColMethodFlags     = 2
	ColMethodName      = 3
	ColMethodSignature = 4
	ColMethodParamList = 5

	ColParamFlags    = 0
	ColParamSequence = 1
	ColParamName     = 2

	ColMemberRefClass     = 0
	ColMemberRefName      = 1
	ColMemberRefSignature = 2

	ColAssemblyMajor    = 1
	ColAssemblyMinor    = 2
	ColAssemblyBuild    = 3
	ColAssemblyRevision = 4
	ColAssemblyFlags    = 5
	ColAssemblyKey      = 6
	ColAssemblyName     = 7
	ColAssemblyCulture  = 8

	ColAssemblyRefMajor    = 0
	ColAssemblyRefMinor    = 1
	ColAssemblyRefBuild    = 2
	ColAssemblyRefRevision = 3
	ColAssemblyRefFlags    = 4
	ColAssemblyRefKey      = 5
	ColAssemblyRefName     = 6
	ColAssemblyRefCulture  = 7
	ColAssemblyRefHash     = 8

	ColNestedClassNested    = 0
	ColNestedClassEnclosing = 1

	ColModuleName = 1

	ColFileName = 1
)

// DecodeCoded splits a coded index into its table and 1-based row.
func DecodeCoded(kind CodedKind, value uint32) (TableID, uint32, bool) {
	info := codedKinds[kind]
	tag := value & (1<<info.bits - 1)
	if int(tag) >= len(info.tables) || info.tables[tag] == tableUnused {
		return 0, 0, false
	}
	return info.tables[tag], value >> info.bits, true
}

// EncodeCoded builds a coded index for row of table t.
func EncodeCoded(kind CodedKind, t TableID, row uint32) (uint32, bool) {
	info := codedKinds[kind]
	for tag, candidate := range info.tables {
		if candidate == t {
			return row<<info.bits | uint32(tag), true
		}
	}
	return 0, false
}

// Token builds a metadata token for row of table t.
func Token(t TableID, row uint32) uint32 {
	return uint32(t)<<24 | row&0x00FFFFFF
}

// SplitToken returns the table and row of a metadata token.
func SplitToken(token uint32) (TableID, uint32) {
	return TableID(token >> 24), token & 0x00FFFFFF
}
