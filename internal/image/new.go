package image

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

const (
	freshHeadersSize = 0x200
	peHeaderOffset   = 0x80
)

// New creates an empty image for a module called name (for example
// "App.dll"). The image holds the Module row, the <Module> type and an
// Assembly row named after the file; it has no sections until written.
func New(name string, dll bool) *Image {
	img := &Image{
		Version: "v4.0.30319",
		CLI: CLIHeader{
			MajorRuntimeVersion: 2,
			MinorRuntimeVersion: 5,
			// COMIMAGE_FLAGS_ILONLY
			Flags: 0x00000001,
		},
		Strings: newStringHeap(nil),
		Blobs:   newBlobHeap(nil),
		US:      newUserStringHeap(nil),
		GUIDs:   &GUIDHeap{},
		isDLL:   dll,
	}
	for t := TableID(0); t < NumTables; t++ {
		img.Tables[t] = &Table{ID: t}
	}

	mvid := img.GUIDs.Add(uuid.New())
	img.Tables[TableModule].Append(Row{0, img.Strings.Add(name), mvid, 0, 0})
	img.Tables[TableTypeDef].Append(Row{0, img.Strings.Add("<Module>"), 0, 0, 1, 1})

	assemblyName := strings.TrimSuffix(strings.TrimSuffix(name, ".dll"), ".exe")
	// SHA1 hash algorithm, version 0.0.0.0, no public key, neutral culture.
	img.Tables[TableAssembly].Append(Row{0x8004, 0, 0, 0, 0, 0, 0, img.Strings.Add(assemblyName), 0})
	return img
}

// freshHeaders builds DOS, PE and optional headers for an image without
// sections. Write appends the only section.
func freshHeaders(dll bool) []byte {
	b := make([]byte, freshHeadersSize)
	le := binary.LittleEndian

	copy(b, "MZ")
	le.PutUint32(b[0x3C:], peHeaderOffset)

	coff := peHeaderOffset
	copy(b[coff:], "PE\x00\x00")
	coff += 4
	le.PutUint16(b[coff:], 0x014C) // i386
	le.PutUint16(b[coff+16:], 0xE0)
	characteristics := uint16(0x0102) // EXECUTABLE_IMAGE | 32BIT_MACHINE
	if dll {
		characteristics |= 0x2000
	}
	le.PutUint16(b[coff+18:], characteristics)

	opt := coff + 20
	le.PutUint16(b[opt:], 0x10B)
	b[opt+2] = 8
	imageBase := uint32(0x00400000)
	if dll {
		imageBase = 0x10000000
	}
	le.PutUint32(b[opt+28:], imageBase)

	le.PutUint32(b[opt+20:], 0x2000)           // BaseOfCode
	le.PutUint32(b[opt+32:], 0x2000)           // SectionAlignment
	le.PutUint32(b[opt+36:], 0x200)            // FileAlignment
	le.PutUint16(b[opt+40:], 4)                // OS version
	le.PutUint16(b[opt+48:], 4)                // subsystem version
	le.PutUint32(b[opt+56:], 0x2000)           // SizeOfImage
	le.PutUint32(b[opt+60:], freshHeadersSize) // SizeOfHeaders
	le.PutUint16(b[opt+68:], 3)                // console subsystem
	le.PutUint16(b[opt+70:], 0x8540)           // DllCharacteristics
	le.PutUint32(b[opt+72:], 0x100000)         // stack reserve
	le.PutUint32(b[opt+76:], 0x1000)           // stack commit
	le.PutUint32(b[opt+80:], 0x100000)         // heap reserve
	le.PutUint32(b[opt+84:], 0x1000)           // heap commit
	le.PutUint32(b[opt+92:], 16)               // NumberOfRvaAndSizes
	return b
}
