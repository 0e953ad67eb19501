package image

import (
	"maps"
	"slices"
	"sort"
)

// Clone returns a copy whose tables, heaps and bodies can be changed
// without touching img. The original file bytes are shared read-only.
func (img *Image) Clone() *Image {
	c := *img
	for t, table := range img.Tables {
		rows := make([]Row, len(table.Rows))
		for i, r := range table.Rows {
			rows[i] = slices.Clone(r)
		}
		c.Tables[t] = &Table{ID: table.ID, Rows: rows}
	}
	c.Strings = &StringHeap{data: slices.Clone(img.Strings.data), index: maps.Clone(img.Strings.index)}
	c.Blobs = &BlobHeap{data: slices.Clone(img.Blobs.data), index: maps.Clone(img.Blobs.index)}
	c.US = &UserStringHeap{data: slices.Clone(img.US.data), index: maps.Clone(img.US.index)}
	c.GUIDs = &GUIDHeap{data: slices.Clone(img.GUIDs.data)}
	c.bodies = nil
	return &c
}

// RowMap maps old rows to new rows per table: m[t][old] is the new row.
// Rows past the end of a slice, and zero entries, stay as they are.
type RowMap map[TableID][]uint32

func (m RowMap) lookup(t TableID, row uint32) uint32 {
	remap, ok := m[t]
	if !ok || int(row) >= len(remap) || remap[row] == 0 {
		return row
	}
	return remap[row]
}

// Token rewrites a metadata token.
func (m RowMap) Token(token uint32) uint32 {
	t, row := SplitToken(token)
	if row == 0 {
		return token
	}
	return Token(t, m.lookup(t, row))
}

// RemapReferences rewrites every index and coded index column that points
// into a table of m. Tables listed in skip are left alone; callers rebuild
// them.
func (img *Image) RemapReferences(m RowMap, skip ...TableID) {
	if len(m) == 0 {
		return
	}
	for t := TableID(0); t < NumTables; t++ {
		if slices.Contains(skip, t) {
			continue
		}
		cols := schemas[t]
		for _, row := range img.Tables[t].Rows {
			for c, col := range cols {
				row[c] = m.remapColumn(col, row[c])
			}
		}
	}
}

func (m RowMap) remapColumn(col Column, v uint32) uint32 {
	if target, ok := col.Target(); ok {
		if _, remapped := m[target]; remapped {
			return m.lookup(target, v)
		}
		return v
	}
	kind, ok := col.Coded()
	if !ok || v == 0 {
		return v
	}
	t, row, ok := DecodeCoded(kind, v)
	if !ok {
		return v
	}
	if _, remapped := m[t]; !remapped {
		return v
	}
	out, _ := EncodeCoded(kind, t, m.lookup(t, row))
	return out
}

// sortKeys lists the tables ECMA-335 II.22 requires to be sorted, with
// their key columns. Tables referenced by later entries come first.
var sortKeys = []struct {
	table TableID
	keys  []int
}{
	{TableInterfaceImpl, []int{0, 1}},
	{TableConstant, []int{1}},
	{TableFieldMarshal, []int{0}},
	{TableDeclSecurity, []int{1}},
	{TableClassLayout, []int{2}},
	{TableFieldLayout, []int{1}},
	{TableMethodSemantics, []int{2}},
	{TableMethodImpl, []int{0}},
	{TableImplMap, []int{1}},
	{TableFieldRVA, []int{1}},
	{TableNestedClass, []int{0}},
	{TableGenericParam, []int{2, 0}},
	{TableGenericParamConstraint, []int{0}},
	{TableCustomAttribute, []int{0}},
}

// SortTables restores the key order of the sorted tables after their key
// columns were remapped. Rows that move are remapped everywhere they are
// referenced.
func (img *Image) SortTables() {
	for _, s := range sortKeys {
		table := img.Tables[s.table]
		order := make([]int, table.Len())
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			ra, rb := table.Rows[order[a]], table.Rows[order[b]]
			for _, k := range s.keys {
				if ra[k] != rb[k] {
					return ra[k] < rb[k]
				}
			}
			return false
		})

		moved := false
		remap := make([]uint32, len(order)+1)
		rows := make([]Row, len(order))
		for newIdx, oldIdx := range order {
			rows[newIdx] = table.Rows[oldIdx]
			remap[oldIdx+1] = uint32(newIdx + 1)
			moved = moved || newIdx != oldIdx
		}
		if !moved {
			continue
		}
		table.Rows = rows
		img.RemapReferences(RowMap{s.table: remap})
	}
}
