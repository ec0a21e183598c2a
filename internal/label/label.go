// Package label implements the offset -> label multimap and the
// module-name selection rule used when emitting objects (§4.8).
package label

import (
	"fmt"
	"sort"
)

// VectorSource is one recovered vector-table entry, pre-joined with its
// source label (if any) and its glue stub offset (if a matching glue was
// found).
type VectorSource struct {
	TableID       uint16
	VOffset       uint16
	RoutineOffset int
	SourceLabel   string // empty when no source label is known
	GlueOffset    int
	HasGlue       bool
}

// TrapSource is one recovered trap-table entry, pre-joined with its label
// (source label or synthesised placeholder — the caller decides which).
type TrapSource struct {
	TrapNumber    uint16
	RoutineOffset int
	Label         string
}

// Directive is a manual MOD or ENTRY directive: offset plus its first
// argument used as a label.
type Directive struct {
	Offset int
	Label  string
}

// IslandRef is the minimal island shape the resolver needs: the cell's own
// offset and the offset it branches to (before glue dereference).
type IslandRef struct {
	Referrer int
	Target   int
}

// VectorLabel synthesises the fallback label for a vector-table entry with
// no source label: "MGR{table:04X}_VEC{voffset:04X}".
func VectorLabel(tableID, voffset uint16) string {
	return fmt.Sprintf("MGR%04X_VEC%04X", tableID, voffset)
}

// entry is one (offset, label) pair tracked in insertion order alongside
// whether it is vector-bound and, if so, at what glue address.
type entry struct {
	label       string
	vectorBound bool
	glueAddress int
}

// Map is the offset -> set<label> multimap (§3, §4.8). Construction is
// insert-only except for island overrides, which replace an offset's
// entire label set.
type Map struct {
	byOffset map[int][]entry
	seen     map[int]map[string]bool
}

// New returns an empty label map.
func New() *Map {
	return &Map{
		byOffset: map[int][]entry{},
		seen:     map[int]map[string]bool{},
	}
}

func (m *Map) add(offset int, label string, vectorBound bool, glueAddress int) {
	if label == "" {
		return
	}
	if m.seen[offset] == nil {
		m.seen[offset] = map[string]bool{}
	}
	if m.seen[offset][label] {
		return
	}
	m.seen[offset][label] = true
	m.byOffset[offset] = append(m.byOffset[offset], entry{label: label, vectorBound: vectorBound, glueAddress: glueAddress})
}

// AddVectors inserts vector-table labels: the source label when known,
// otherwise the synthesised MGR/VEC name. Entries with a matched glue are
// marked vector-bound at that glue's offset.
func (m *Map) AddVectors(sources []VectorSource) {
	for _, v := range sources {
		lbl := v.SourceLabel
		if lbl == "" {
			lbl = VectorLabel(v.TableID, v.VOffset)
		}
		m.add(v.RoutineOffset, lbl, v.HasGlue, v.GlueOffset)
	}
}

// AddTraps inserts trap-table labels.
func (m *Map) AddTraps(sources []TrapSource) {
	for _, t := range sources {
		m.add(t.RoutineOffset, t.Label, false, 0)
	}
}

// AddDirectives inserts labels from manual MOD/ENTRY directives.
func (m *Map) AddDirectives(directives []Directive) {
	for _, d := range directives {
		m.add(d.Offset, d.Label, false, 0)
	}
}

// Labels returns the labels recorded at offset, in insertion order.
func (m *Map) Labels(offset int) []string {
	entries := m.byOffset[offset]
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.label
	}
	return out
}

// ShortestLex picks the shortest-then-lexicographically-smallest label from
// a non-empty slice.
func ShortestLex(labels []string) (string, bool) {
	if len(labels) == 0 {
		return "", false
	}
	best := labels[0]
	for _, l := range labels[1:] {
		if len(l) < len(best) || (len(l) == len(best) && l < best) {
			best = l
		}
	}
	return best, true
}

// ApplyIslands overrides the label set of every island referrer with a
// single synthesised "ISLAND_{src:X}_{name}" label, where name is derived
// from the island's target after one level of glue dereference (§4.8).
// glueImpl maps a glue stub offset to its implementation offset.
func (m *Map) ApplyIslands(islands []IslandRef, glueImpl map[int]int) {
	for _, isl := range islands {
		target := isl.Target
		if impl, ok := glueImpl[target]; ok {
			target = impl
		}

		name, ok := ShortestLex(m.Labels(target))
		if !ok {
			name = fmt.Sprintf("UNRESOLVED_%X", target)
		}

		label := fmt.Sprintf("ISLAND_%X_%s", isl.Referrer, name)
		m.seen[isl.Referrer] = map[string]bool{label: true}
		m.byOffset[isl.Referrer] = []entry{{label: label}}
	}
}

// GlueAddress reports the glue offset a vector-bound label is anchored to.
func (m *Map) GlueAddress(offset int, label string) (int, bool) {
	for _, e := range m.byOffset[offset] {
		if e.label == label && e.vectorBound {
			return e.glueAddress, true
		}
	}
	return 0, false
}

// Entry is one label attached to an offset, annotated with whether it is
// vector-bound and, if so, at what glue address.
type Entry struct {
	Offset      int
	Label       string
	VectorBound bool
	GlueAddress int
}

// EntriesInRange returns every (offset, label) pair for offsets in
// [start, stop), split into vector-bound and other, each sorted per §4.8:
// vector-bound by (glue-address, offset, label), other by (offset, label).
func (m *Map) EntriesInRange(start, stop int) (vectorBound, other []Entry) {
	offsets := make([]int, 0, len(m.byOffset))
	for off := range m.byOffset {
		if off >= start && off < stop {
			offsets = append(offsets, off)
		}
	}
	sort.Ints(offsets)

	for _, off := range offsets {
		for _, e := range m.byOffset[off] {
			ent := Entry{Offset: off, Label: e.label, VectorBound: e.vectorBound, GlueAddress: e.glueAddress}
			if e.vectorBound {
				vectorBound = append(vectorBound, ent)
			} else {
				other = append(other, ent)
			}
		}
	}

	sort.SliceStable(vectorBound, func(i, j int) bool {
		a, b := vectorBound[i], vectorBound[j]
		if a.GlueAddress != b.GlueAddress {
			return a.GlueAddress < b.GlueAddress
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Label < b.Label
	})
	sort.SliceStable(other, func(i, j int) bool {
		a, b := other[i], other[j]
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Label < b.Label
	})

	return vectorBound, other
}

// SelectModuleName implements §4.8's module-name selection: the first label
// whose offset equals start, preferring the vector-bound list, becomes the
// module name and is removed from its list. Otherwise the module is named
// "AUTOMOD_{start:X}" and neither list is touched.
func SelectModuleName(vectorBound, other []Entry, start int) (name string, remVectorBound, remOther []Entry) {
	if i := indexAtOffset(vectorBound, start); i >= 0 {
		return vectorBound[i].Label, removeAt(vectorBound, i), other
	}
	if i := indexAtOffset(other, start); i >= 0 {
		return other[i].Label, vectorBound, removeAt(other, i)
	}
	return fmt.Sprintf("AUTOMOD_%X", start), vectorBound, other
}

func indexAtOffset(entries []Entry, offset int) int {
	for i, e := range entries {
		if e.Offset == offset {
			return i
		}
	}
	return -1
}

func removeAt(entries []Entry, i int) []Entry {
	out := make([]Entry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	out = append(out, entries[i+1:]...)
	return out
}

// ChunkOrder returns entries in emission chunk order (§5): vector-bound
// entries first (already ordered by original glue offset), then others in
// offset order.
func ChunkOrder(vectorBound, other []Entry) []Entry {
	out := make([]Entry, 0, len(vectorBound)+len(other))
	out = append(out, vectorBound...)
	out = append(out, other...)
	return out
}
