package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	ilerrors "ilpatch/internal/errors"
)

// Name of the section that receives re-encoded bodies and metadata.
const patchSectionName = ".ilp"

const (
	sectionHeaderSize = 40
	debugEntrySize    = 28
	// CNT_CODE | CNT_INITIALIZED_DATA | MEM_EXECUTE | MEM_READ
	patchSectionCharacteristics = 0x60000060

	defaultSortedMask = 0x000016003301FA00
)

// SetMethodBodies registers the encoded bodies that Write will emit and
// returns the RVA assigned to each of them. Empty bodies get RVA 0. Calling
// it again replaces the previous set.
func (img *Image) SetMethodBodies(bodies [][]byte) []uint32 {
	img.bodies = bodies
	base := img.patchSectionVA() + cliHeaderSize
	rvas := make([]uint32, len(bodies))
	var off uint32
	for i, b := range bodies {
		if len(b) == 0 {
			continue
		}
		if isFatBody(b) {
			off = align(off, 4)
		}
		rvas[i] = base + off
		off += uint32(len(b))
	}
	return rvas
}

func isFatBody(b []byte) bool {
	return b[0]&0x3 == 0x3
}

// WriteFile writes the image to path. See WriteFileAtomic.
func (img *Image) WriteFile(path string) error {
	data, err := img.Bytes()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temporary sibling of path and renames
// it into place, so a failed write leaves no partial output behind.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return ilerrors.WrapIO(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ilerrors.WrapIO(err)
	}
	if err := tmp.Close(); err != nil {
		return ilerrors.WrapIO(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ilerrors.WrapIO(err)
	}
	return nil
}

// Write serializes the image. Bodies and metadata are emitted into a
// patch section appended to the original file (or replacing a patch
// section written earlier); everything else keeps its file position.
func (img *Image) Write(w io.Writer) error {
	file, err := img.Bytes()
	if err != nil {
		return err
	}
	if _, err := w.Write(file); err != nil {
		return ilerrors.WrapIO(err)
	}
	return nil
}

// Bytes serializes the image into a new buffer.
func (img *Image) Bytes() ([]byte, error) {
	metadata, err := img.serializeMetadata()
	if err != nil {
		return nil, err
	}

	layout, base, err := img.peLayout()
	if err != nil {
		return nil, err
	}
	va := img.patchSectionVA()

	var content bytes.Buffer
	content.Write(make([]byte, cliHeaderSize))
	for _, b := range img.bodies {
		if len(b) == 0 {
			continue
		}
		if isFatBody(b) {
			pad(&content, 4)
		}
		content.Write(b)
	}
	pad(&content, 4)
	metadataRVA := va + uint32(content.Len())
	content.Write(metadata)

	cli := img.CLI
	cli.MetaData = DataDirectory{RVA: metadataRVA, Size: uint32(len(metadata))}
	cli.Flags &^= flagStrongNameSigned
	cli.StrongNameSignature = DataDirectory{}
	copy(content.Bytes(), encodeCLIHeader(cli))

	return layout.appendSection(base, va, content.Bytes())
}

func encodeCLIHeader(h CLIHeader) []byte {
	b := make([]byte, 0, cliHeaderSize)
	le := binary.LittleEndian
	dir := func(d DataDirectory) {
		b = le.AppendUint32(b, d.RVA)
		b = le.AppendUint32(b, d.Size)
	}
	b = le.AppendUint32(b, cliHeaderSize)
	b = le.AppendUint16(b, h.MajorRuntimeVersion)
	b = le.AppendUint16(b, h.MinorRuntimeVersion)
	dir(h.MetaData)
	b = le.AppendUint32(b, h.Flags)
	b = le.AppendUint32(b, h.EntryPointToken)
	dir(h.Resources)
	dir(h.StrongNameSignature)
	dir(h.CodeManagerTable)
	dir(h.VTableFixups)
	dir(h.ExportAddressTableJumps)
	dir(h.ManagedNativeHeader)
	return b
}

// serializeMetadata renders the metadata root with the #~, #Strings, #US,
// #GUID and #Blob streams.
func (img *Image) serializeMetadata() ([]byte, error) {
	tables, err := img.serializeTables()
	if err != nil {
		return nil, err
	}
	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tables},
		{"#Strings", padded(img.Strings.data)},
		{"#US", padded(img.US.data)},
		{"#GUID", padded(img.GUIDs.data)},
		{"#Blob", padded(img.Blobs.data)},
	}

	version := img.Version
	if version == "" {
		version = "v4.0.30319"
	}
	versionBytes := padded(append([]byte(version), 0))

	headerSize := 16 + len(versionBytes) + 4
	for _, s := range streams {
		headerSize += 8 + len(padded(append([]byte(s.name), 0)))
	}

	le := binary.LittleEndian
	var out []byte
	out = le.AppendUint32(out, metadataSignature)
	out = le.AppendUint16(out, 1)
	out = le.AppendUint16(out, 1)
	out = le.AppendUint32(out, 0)
	out = le.AppendUint32(out, uint32(len(versionBytes)))
	out = append(out, versionBytes...)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint16(out, uint16(len(streams)))

	offset := uint32(headerSize)
	for _, s := range streams {
		out = le.AppendUint32(out, offset)
		out = le.AppendUint32(out, uint32(len(s.data)))
		out = append(out, padded(append([]byte(s.name), 0))...)
		offset += uint32(len(s.data))
	}
	for _, s := range streams {
		out = append(out, s.data...)
	}
	return out, nil
}

func (img *Image) serializeTables() ([]byte, error) {
	var rows [NumTables]uint32
	var valid uint64
	for t := TableID(0); t < NumTables; t++ {
		rows[t] = uint32(img.Tables[t].Len())
		if rows[t] > 0 {
			valid |= 1 << t
		}
	}
	var heapSizes byte
	wideStrings := img.Strings.Len() >= 1<<16
	wideGUID := img.GUIDs.Len()/16 >= 1<<16
	wideBlob := img.Blobs.Len() >= 1<<16
	if wideStrings {
		heapSizes |= 0x01
	}
	if wideGUID {
		heapSizes |= 0x02
	}
	if wideBlob {
		heapSizes |= 0x04
	}
	sorted := img.sorted
	if sorted == 0 {
		sorted = defaultSortedMask
	}

	le := binary.LittleEndian
	var out []byte
	out = le.AppendUint32(out, 0)
	out = append(out, 2, 0, heapSizes, 1)
	out = le.AppendUint64(out, valid)
	out = le.AppendUint64(out, sorted)
	for t := TableID(0); t < NumTables; t++ {
		if rows[t] > 0 {
			out = le.AppendUint32(out, rows[t])
		}
	}

	sz := newSizer(rows, wideStrings, wideGUID, wideBlob)
	for t := TableID(0); t < NumTables; t++ {
		cols := schemas[t]
		for r, row := range img.Tables[t].Rows {
			if len(row) != len(cols) {
				return nil, fmt.Errorf("table 0x%02X row %d has %d columns, want %d", t, r+1, len(row), len(cols))
			}
			for c, col := range cols {
				if sz.width(col) == 2 {
					if row[c] > 0xFFFF {
						return nil, fmt.Errorf("table 0x%02X row %d column %s: value 0x%X does not fit", t, r+1, col.Name, row[c])
					}
					out = le.AppendUint16(out, uint16(row[c]))
				} else {
					out = le.AppendUint32(out, row[c])
				}
			}
		}
	}
	return padded(out), nil
}

// peHeaders locates the fields of a PE header that Write patches.
type peHeaders struct {
	coffOff       int
	optOff        int
	dirOff        int
	numDirs       uint32
	sectionTable  int
	numSections   int
	sectionAlign  uint32
	fileAlign     uint32
	sizeOfHeaders uint32
}

func (img *Image) peLayout() (peHeaders, []byte, error) {
	base := img.raw
	if base == nil {
		base = freshHeaders(img.isDLL)
	}
	base = bytes.Clone(base)

	le := binary.LittleEndian
	if len(base) < 0x40 {
		return peHeaders{}, nil, ilerrors.WrapMalformed("truncated DOS header", nil)
	}
	peOff := int(le.Uint32(base[0x3C:]))
	h := peHeaders{coffOff: peOff + 4}
	if h.coffOff+20 > len(base) {
		return peHeaders{}, nil, ilerrors.WrapMalformed("truncated COFF header", nil)
	}
	h.numSections = int(le.Uint16(base[h.coffOff+2:]))
	optSize := int(le.Uint16(base[h.coffOff+16:]))
	h.optOff = h.coffOff + 20
	h.sectionTable = h.optOff + optSize
	if h.sectionTable > len(base) {
		return peHeaders{}, nil, ilerrors.WrapMalformed("truncated optional header", nil)
	}
	switch le.Uint16(base[h.optOff:]) {
	case 0x10b:
		h.dirOff = h.optOff + 96
	case 0x20b:
		h.dirOff = h.optOff + 112
	default:
		return peHeaders{}, nil, ilerrors.WrapMalformed("unknown optional header magic", nil)
	}
	h.numDirs = le.Uint32(base[h.dirOff-4:])
	h.sectionAlign = le.Uint32(base[h.optOff+32:])
	h.fileAlign = le.Uint32(base[h.optOff+36:])
	h.sizeOfHeaders = le.Uint32(base[h.optOff+60:])

	// A patch section from an earlier write is replaced rather than stacked.
	if n := len(img.sections); n > 0 && img.sections[n-1].name == patchSectionName && n == h.numSections {
		old := img.sections[n-1]
		if code := le.Uint32(base[h.optOff+4:]); code >= old.rawSize {
			le.PutUint32(base[h.optOff+4:], code-old.rawSize)
		}
		base = base[:old.rawOff]
		h.numSections--
	}
	return h, base, nil
}

// patchSectionVA returns the virtual address the patch section will get.
func (img *Image) patchSectionVA() uint32 {
	sectionAlign := uint32(0x2000)
	if img.raw != nil {
		le := binary.LittleEndian
		peOff := le.Uint32(img.raw[0x3C:])
		sectionAlign = le.Uint32(img.raw[peOff+4+20+32:])
	}
	var end uint32
	for i, s := range img.sections {
		if i == len(img.sections)-1 && s.name == patchSectionName {
			return s.va
		}
		size := s.vsize
		if size == 0 {
			size = s.rawSize
		}
		if s.va+size > end {
			end = s.va + size
		}
	}
	if end == 0 {
		return sectionAlign
	}
	return align(end, sectionAlign)
}

func (h peHeaders) appendSection(base []byte, va uint32, content []byte) ([]byte, error) {
	le := binary.LittleEndian
	slot := h.sectionTable + h.numSections*sectionHeaderSize
	limit := int(h.sizeOfHeaders)
	for i := 0; i < h.numSections; i++ {
		hdr := base[h.sectionTable+i*sectionHeaderSize:]
		if rawOff := int(le.Uint32(hdr[20:])); le.Uint32(hdr[16:]) > 0 && rawOff < limit {
			limit = rawOff
		}
	}
	if slot+sectionHeaderSize > limit {
		var err error
		if base, err = h.growHeaders(base, limit, slot+sectionHeaderSize-limit); err != nil {
			return nil, err
		}
	}

	rawOff := align(uint32(len(base)), h.fileAlign)
	rawSize := align(uint32(len(content)), h.fileAlign)

	hdr := make([]byte, sectionHeaderSize)
	copy(hdr, patchSectionName)
	le.PutUint32(hdr[8:], uint32(len(content)))
	le.PutUint32(hdr[12:], va)
	le.PutUint32(hdr[16:], rawSize)
	le.PutUint32(hdr[20:], rawOff)
	le.PutUint32(hdr[36:], patchSectionCharacteristics)
	copy(base[slot:], hdr)

	le.PutUint16(base[h.coffOff+2:], uint16(h.numSections+1))
	le.PutUint32(base[h.optOff+4:], le.Uint32(base[h.optOff+4:])+rawSize)
	le.PutUint32(base[h.optOff+56:], align(va+uint32(len(content)), h.sectionAlign))
	le.PutUint32(base[h.optOff+64:], 0)
	if h.numDirs > comDescriptorIndex {
		le.PutUint32(base[h.dirOff+comDescriptorIndex*8:], va)
		le.PutUint32(base[h.dirOff+comDescriptorIndex*8+4:], cliHeaderSize)
	}
	if h.numDirs > certificateIndex {
		le.PutUint32(base[h.dirOff+certificateIndex*8:], 0)
		le.PutUint32(base[h.dirOff+certificateIndex*8+4:], 0)
	}

	out := make([]byte, rawOff+rawSize)
	copy(out, base)
	copy(out[rawOff:], content)
	return out, nil
}

// growHeaders inserts file-aligned padding at limit, the start of the first
// section's raw data, so that need more bytes of section table fit. Raw data
// pointers move by the padding; RVAs stay where they are.
func (h *peHeaders) growHeaders(base []byte, limit, need int) ([]byte, error) {
	le := binary.LittleEndian
	grow := align(uint32(need), h.fileAlign)

	lowestVA := uint32(0)
	for i := 0; i < h.numSections; i++ {
		hdr := base[h.sectionTable+i*sectionHeaderSize:]
		if va := le.Uint32(hdr[12:]); lowestVA == 0 || va < lowestVA {
			lowestVA = va
		}
	}
	if lowestVA != 0 && h.sizeOfHeaders+grow > lowestVA {
		return nil, ilerrors.WrapIO(fmt.Errorf("no room for another section header (headers end at 0x%X)", limit))
	}

	debugOff := -1
	if h.numDirs > debugIndex {
		if rva := le.Uint32(base[h.dirOff+debugIndex*8:]); rva != 0 {
			debugOff = h.fileOffset(base, rva)
		}
	}

	shift := func(field []byte) {
		if v := le.Uint32(field); v != 0 && int(v) >= limit {
			le.PutUint32(field, v+grow)
		}
	}
	for i := 0; i < h.numSections; i++ {
		hdr := base[h.sectionTable+i*sectionHeaderSize:]
		shift(hdr[20:])
		shift(hdr[24:])
		shift(hdr[28:])
	}
	shift(base[h.coffOff+8:])
	if debugOff >= 0 {
		size := int(le.Uint32(base[h.dirOff+debugIndex*8+4:]))
		for e := debugOff; e+debugEntrySize <= debugOff+size && e+debugEntrySize <= len(base); e += debugEntrySize {
			shift(base[e+24:])
		}
	}

	out := make([]byte, 0, len(base)+int(grow))
	out = append(out, base[:limit]...)
	out = append(out, make([]byte, grow)...)
	out = append(out, base[limit:]...)

	h.sizeOfHeaders += grow
	le.PutUint32(out[h.optOff+60:], h.sizeOfHeaders)
	return out, nil
}

// fileOffset maps rva to a file offset using the section table in base, or
// returns -1.
func (h *peHeaders) fileOffset(base []byte, rva uint32) int {
	le := binary.LittleEndian
	for i := 0; i < h.numSections; i++ {
		hdr := base[h.sectionTable+i*sectionHeaderSize:]
		va, rawSize, rawOff := le.Uint32(hdr[12:]), le.Uint32(hdr[16:]), le.Uint32(hdr[20:])
		if rva >= va && rva < va+rawSize {
			return int(rawOff + rva - va)
		}
	}
	return -1
}

func align(v, a uint32) uint32 {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

func padded(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func pad(buf *bytes.Buffer, a int) {
	for buf.Len()%a != 0 {
		buf.WriteByte(0)
	}
}
