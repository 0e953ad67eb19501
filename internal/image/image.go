// Package image reads and writes the PE/CLI container of a managed module:
// the CLI header, the metadata root with its streams and heaps, every
// metadata table as raw rows, and method body bytes addressed by RVA.
//
// The package knows nothing about types or instructions. Callers edit rows
// and heaps directly and hand back re-encoded method bodies before Write.
package image

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"

	ilerrors "ilpatch/internal/errors"
)

const (
	cliHeaderSize      = 72
	metadataSignature  = 0x424A5342
	comDescriptorIndex = 14
	certificateIndex   = 4
	debugIndex         = 6

	// CLI header flag: the image carries a strong name signature.
	flagStrongNameSigned = 0x00000008
)

// DataDirectory is an RVA/size pair.
type DataDirectory struct {
	RVA  uint32
	Size uint32
}

// CLIHeader is the IMAGE_COR20_HEADER of ECMA-335 II.25.3.3.
type CLIHeader struct {
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               DataDirectory
	StrongNameSignature     DataDirectory
	CodeManagerTable        DataDirectory
	VTableFixups            DataDirectory
	ExportAddressTableJumps DataDirectory
	ManagedNativeHeader     DataDirectory
}

// Row is one table row; every column is widened to uint32. Heap and table
// indexes keep their on-disk values (rows are 1-based, 0 is null).
type Row []uint32

// Table holds the rows of one metadata table.
type Table struct {
	ID   TableID
	Rows []Row
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Row returns 1-based row i or nil.
func (t *Table) Row(i uint32) Row {
	if i == 0 || int(i) > len(t.Rows) {
		return nil
	}
	return t.Rows[i-1]
}

// Append adds a row and returns its 1-based index.
func (t *Table) Append(r Row) uint32 {
	t.Rows = append(t.Rows, r)
	return uint32(len(t.Rows))
}

type section struct {
	name    string
	va      uint32
	vsize   uint32
	rawOff  uint32
	rawSize uint32
}

// Image is a parsed managed module.
type Image struct {
	Path string
	// Version is the metadata root version string, e.g. "v4.0.30319".
	Version string
	CLI     CLIHeader

	Tables  [NumTables]*Table
	Strings *StringHeap
	Blobs   *BlobHeap
	US      *UserStringHeap
	GUIDs   *GUIDHeap

	raw         []byte
	sections    []section
	sorted      uint64
	tablesMajor uint8
	tablesMinor uint8
	isDLL       bool

	bodies [][]byte
}

// Open reads and parses the image at path.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Parse(data)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// Parse parses an in-memory image.
func Parse(data []byte) (*Image, error) {
	peFile, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, ilerrors.WrapMalformed("not a PE file", err)
	}
	defer peFile.Close()

	img := &Image{raw: data, isDLL: peFile.Characteristics&pe.IMAGE_FILE_DLL != 0}
	for _, s := range peFile.Sections {
		img.sections = append(img.sections, section{
			name:    s.Name,
			va:      s.VirtualAddress,
			vsize:   s.VirtualSize,
			rawOff:  s.Offset,
			rawSize: s.Size,
		})
	}

	var dirs [16]pe.DataDirectory
	var numDirs uint32
	switch oh := peFile.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs, numDirs = oh.DataDirectory, oh.NumberOfRvaAndSizes
	case *pe.OptionalHeader64:
		dirs, numDirs = oh.DataDirectory, oh.NumberOfRvaAndSizes
	default:
		return nil, ilerrors.WrapMalformed("missing optional header", nil)
	}
	if numDirs <= comDescriptorIndex || dirs[comDescriptorIndex].VirtualAddress == 0 {
		return nil, ilerrors.WrapMalformed("no CLI header, not a managed module", nil)
	}

	cli, err := img.SliceRVA(dirs[comDescriptorIndex].VirtualAddress)
	if err != nil || len(cli) < cliHeaderSize {
		return nil, ilerrors.WrapMalformed("CLI header", err)
	}
	img.CLI = parseCLIHeader(cli)

	root, err := img.SliceRVA(img.CLI.MetaData.RVA)
	if err != nil || len(root) < int(img.CLI.MetaData.Size) {
		return nil, ilerrors.WrapMalformed("metadata root", err)
	}
	if err := img.parseMetadata(root[:img.CLI.MetaData.Size]); err != nil {
		return nil, err
	}
	return img, nil
}

func parseCLIHeader(b []byte) CLIHeader {
	le := binary.LittleEndian
	dir := func(off int) DataDirectory {
		return DataDirectory{RVA: le.Uint32(b[off:]), Size: le.Uint32(b[off+4:])}
	}
	return CLIHeader{
		MajorRuntimeVersion:     le.Uint16(b[4:]),
		MinorRuntimeVersion:     le.Uint16(b[6:]),
		MetaData:                dir(8),
		Flags:                   le.Uint32(b[16:]),
		EntryPointToken:         le.Uint32(b[20:]),
		Resources:               dir(24),
		StrongNameSignature:     dir(32),
		CodeManagerTable:        dir(40),
		VTableFixups:            dir(48),
		ExportAddressTableJumps: dir(56),
		ManagedNativeHeader:     dir(64),
	}
}

// SliceRVA returns the bytes from rva to the end of its section's raw data.
func (img *Image) SliceRVA(rva uint32) ([]byte, error) {
	for _, s := range img.sections {
		size := s.vsize
		if s.rawSize > size {
			size = s.rawSize
		}
		if rva < s.va || rva >= s.va+size {
			continue
		}
		off := s.rawOff + (rva - s.va)
		end := s.rawOff + s.rawSize
		if off >= end || int(end) > len(img.raw) {
			return nil, ilerrors.WrapMalformed(fmt.Sprintf("RVA 0x%X has no file data", rva), nil)
		}
		return img.raw[off:end], nil
	}
	return nil, ilerrors.WrapMalformed(fmt.Sprintf("RVA 0x%X is outside every section", rva), nil)
}

// IsDLL reports whether the image is a library rather than an executable.
func (img *Image) IsDLL() bool { return img.isDLL }

// Table returns table t; never nil.
func (img *Image) Table(t TableID) *Table { return img.Tables[t] }

func (img *Image) parseMetadata(root []byte) error {
	le := binary.LittleEndian
	if len(root) < 16 || le.Uint32(root) != metadataSignature {
		return ilerrors.WrapMalformed("bad metadata signature", nil)
	}
	versionLen := int(le.Uint32(root[12:]))
	pos := 16 + versionLen
	if pos+4 > len(root) {
		return ilerrors.WrapMalformed("metadata version string", nil)
	}
	img.Version = string(bytes.TrimRight(root[16:16+versionLen], "\x00"))
	streams := int(le.Uint16(root[pos+2:]))
	pos += 4

	var tables []byte
	for i := 0; i < streams; i++ {
		if pos+8 > len(root) {
			return ilerrors.WrapMalformed("stream header", nil)
		}
		off, size := le.Uint32(root[pos:]), le.Uint32(root[pos+4:])
		pos += 8
		nameEnd := bytes.IndexByte(root[pos:], 0)
		if nameEnd < 0 {
			return ilerrors.WrapMalformed("stream name", nil)
		}
		name := string(root[pos : pos+nameEnd])
		pos += (nameEnd + 4) &^ 3
		if int(off)+int(size) > len(root) {
			return ilerrors.WrapMalformed(fmt.Sprintf("stream %s overruns metadata", name), nil)
		}
		data := bytes.Clone(root[off : off+size])
		switch name {
		case "#~", "#-":
			tables = data
		case "#Strings":
			img.Strings = newStringHeap(data)
		case "#US":
			img.US = newUserStringHeap(data)
		case "#Blob":
			img.Blobs = newBlobHeap(data)
		case "#GUID":
			img.GUIDs = &GUIDHeap{data: data}
		}
	}
	if tables == nil {
		return ilerrors.WrapMalformed("no #~ stream", nil)
	}
	if img.Strings == nil {
		img.Strings = newStringHeap(nil)
	}
	if img.US == nil {
		img.US = newUserStringHeap(nil)
	}
	if img.Blobs == nil {
		img.Blobs = newBlobHeap(nil)
	}
	if img.GUIDs == nil {
		img.GUIDs = &GUIDHeap{}
	}
	return img.parseTables(tables)
}

func (img *Image) parseTables(b []byte) error {
	le := binary.LittleEndian
	if len(b) < 24 {
		return ilerrors.WrapMalformed("table stream header", nil)
	}
	img.tablesMajor, img.tablesMinor = b[4], b[5]
	heapSizes := b[6]
	valid := le.Uint64(b[8:])
	img.sorted = le.Uint64(b[16:])
	pos := 24

	var rows [NumTables]uint32
	for t := 0; t < 64; t++ {
		if valid&(1<<t) == 0 {
			continue
		}
		if pos+4 > len(b) {
			return ilerrors.WrapMalformed("table row counts", nil)
		}
		if t >= NumTables {
			return ilerrors.WrapMalformed(fmt.Sprintf("unknown metadata table 0x%02X", t), nil)
		}
		rows[t] = le.Uint32(b[pos:])
		pos += 4
	}
	// Extra data flag used by some obfuscators.
	if heapSizes&0x40 != 0 {
		pos += 4
	}

	sz := newSizer(rows, heapSizes&0x01 != 0, heapSizes&0x02 != 0, heapSizes&0x04 != 0)
	for t := TableID(0); t < NumTables; t++ {
		table := &Table{ID: t, Rows: make([]Row, 0, rows[t])}
		cols := schemas[t]
		for r := uint32(0); r < rows[t]; r++ {
			row := make(Row, len(cols))
			for c, col := range cols {
				w := sz.width(col)
				if pos+w > len(b) {
					return ilerrors.WrapMalformed(fmt.Sprintf("table 0x%02X row %d", t, r+1), nil)
				}
				if w == 2 {
					row[c] = uint32(le.Uint16(b[pos:]))
				} else {
					row[c] = le.Uint32(b[pos:])
				}
				pos += w
			}
			table.Rows = append(table.Rows, row)
		}
		img.Tables[t] = table
	}
	for _, ptr := range []TableID{TableFieldPtr, TableMethodPtr, TableParamPtr, TableEventPtr, TablePropertyPtr} {
		if img.Tables[ptr].Len() > 0 {
			return ilerrors.WrapMalformed(fmt.Sprintf("indirection table 0x%02X is not supported", ptr), nil)
		}
	}
	return nil
}

// sizer computes column widths from row counts and heap sizes.
type sizer struct {
	rows        [NumTables]uint32
	wideStrings bool
	wideGUID    bool
	wideBlob    bool
}

func newSizer(rows [NumTables]uint32, strings, guids, blobs bool) sizer {
	return sizer{rows: rows, wideStrings: strings, wideGUID: guids, wideBlob: blobs}
}

func (s sizer) width(c Column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return wide(s.wideStrings)
	case colGUID:
		return wide(s.wideGUID)
	case colBlob:
		return wide(s.wideBlob)
	case colIndex:
		return wide(s.rows[c.table] >= 1<<16)
	case colCoded:
		info := codedKinds[c.coded]
		var max uint32
		for _, t := range info.tables {
			if t != tableUnused && s.rows[t] > max {
				max = s.rows[t]
			}
		}
		return wide(max >= 1<<(16-info.bits))
	}
	return 4
}

func wide(b bool) int {
	if b {
		return 4
	}
	return 2
}
