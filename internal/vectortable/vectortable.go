// Package vectortable recovers the ROM's vector dispatch tables: the
// (table_id, voffset) -> routine_offset mapping, and the vector-glue stubs
// used by client code to call through them.
package vectortable

import (
	"fmt"

	"github.com/retroenv/m68kunlink/internal/asmscan"
	"github.com/retroenv/m68kunlink/internal/m68k"
	"github.com/retroenv/m68kunlink/internal/rombuf"
)

// Header offsets consulted in the ROM (§6).
const (
	InitRomVectorsHeaderOffset = 0x66
)

// MalformedVectorInitError is a fatal structural error: the vector-init
// walk encountered something other than a BSR.L or the terminating RTS.
type MalformedVectorInitError struct {
	Offset int
	Word   uint16
}

func (e *MalformedVectorInitError) Error() string {
	return fmt.Sprintf("malformed vector init walk at offset 0x%X: unexpected opcode 0x%04X", e.Offset, e.Word)
}

// Record is one recovered (table_id, voffset) -> routine_offset entry.
type Record struct {
	TableID       uint16
	VOffset       uint16
	RoutineOffset uint32
}

// Glue is one recovered vector-glue stub: a trampoline at StubOffset that
// dispatches through (TableID, VOffset) using address register AReg.
type Glue struct {
	TableID    uint16
	VOffset    uint16
	AReg       int
	StubOffset int
}

const (
	tableIDMin = 0x2010
	tableIDMax = 0x208C
)

// Extract recovers the vector table by following the fixed pointer/opcode
// sequence starting at InitRomVectors = u32be(0x66). If the entry-point
// opcode is absent, this is a fail-soft condition: an empty, non-error
// result is returned. Once the walk has started, any opcode other than a
// BSR.L or the terminating RTS is a fatal MalformedVectorInitError.
func Extract(buf *rombuf.Buffer) ([]Record, error) {
	initRomVectors, err := buf.U32be(InitRomVectorsHeaderOffset)
	if err != nil {
		return nil, nil
	}
	entryOpcode, err := buf.U16be(int(initRomVectors))
	if err != nil || entryOpcode != m68k.OpBsrL {
		return nil, nil // fail-soft: ROM does not use this convention
	}

	initDisp, err := buf.I32be(int(initRomVectors) + 2)
	if err != nil {
		return nil, nil
	}
	initDescriptors := int(initRomVectors) + int(initDisp) + 2

	var records []Record
	recs, err := extractTable(buf, initDescriptors)
	if err != nil {
		return nil, err
	}
	records = append(records, recs...)

	offset := int(initRomVectors) + 6

	for {
		word, err := buf.U16be(offset)
		if err != nil {
			return nil, &MalformedVectorInitError{Offset: offset, Word: 0}
		}
		if word == m68k.OpRts {
			break
		}
		if word != m68k.OpBsrL {
			return nil, &MalformedVectorInitError{Offset: offset, Word: word}
		}

		disp, err := buf.I32be(offset + 2)
		if err != nil {
			return nil, &MalformedVectorInitError{Offset: offset, Word: word}
		}
		target := offset + int(disp) + 2

		recs, err := extractTable(buf, target)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)

		offset += 6
	}

	return records, nil
}

// extractTable decodes a single table-init subroutine at target: it must be
// `LEA d(PC),A0` (fixed word 0x41FA000E), followed by the table_id at
// target+6 and a pointer at target+16 (masked to 20 bits) to the table
// record whose entry_count lives at rec+8. The routine array itself is read
// relative to target, not to the dereferenced rec pointer: u32be(target+16+4+4*i).
func extractTable(buf *rombuf.Buffer, target int) ([]Record, error) {
	word, err := buf.U32be(target)
	if err != nil || word != m68k.LeaFixedWord {
		return nil, nil
	}

	tableID, err := buf.U16be(target + 6)
	if err != nil {
		return nil, nil
	}

	ptr, err := buf.U32be(target + 16)
	if err != nil {
		return nil, nil
	}
	rec := int(ptr & 0xFFFFF)

	entryCount, err := buf.U32be(rec + 8)
	if err != nil {
		return nil, nil
	}

	records := make([]Record, 0, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		routine, err := buf.U32be(target + 20 + 4*int(i))
		if err != nil {
			break
		}
		records = append(records, Record{
			TableID:       tableID,
			VOffset:       uint16(4 * i),
			RoutineOffset: routine & 0xFFFFF,
		})
	}
	return records, nil
}

// ByKey indexes vector table records by (table_id, voffset) for O(1)
// lookup during glue matching and label resolution.
func ByKey(records []Record) map[[2]uint16]uint32 {
	m := make(map[[2]uint16]uint32, len(records))
	for _, r := range records {
		m[[2]uint16{r.TableID, r.VOffset}] = r.RoutineOffset
	}
	return m
}

// ExtractGlue scans the entire trimmed ROM at 2-byte stride for the two
// vector-glue shape families, keeping only stubs whose decoded
// (table_id, voffset) exists in the given vector table map.
func ExtractGlue(buf *rombuf.Buffer, trim int, vectors map[[2]uint16]uint32) []Glue {
	var glues []Glue

	for i := 0; i+10 <= trim; i += 2 {
		if g, ok := matchFamilyA(buf, i, vectors); ok {
			glues = append(glues, g)
			continue
		}
		if g, ok := matchFamilyB(buf, i, vectors); ok {
			glues = append(glues, g)
		}
	}

	return glues
}

// matchFamilyA matches the 6-byte glue shape:
//
//	32 bits @i   == 0x2F3081E2   ("move.l a1,-(sp) / ???" fixed prologue)
//	16 bits @i+4 == table_id
//	16 bits @i+6 == voffset
//	16 bits @i+8 == 0x4E75       (RTS)
//
// areg is fixed at 7 (A7, the stack pointer) for this family.
func matchFamilyA(buf *rombuf.Buffer, i int, vectors map[[2]uint16]uint32) (Glue, bool) {
	word0, err := buf.U32be(i)
	if err != nil || word0 != m68k.GlueFamilyAOpcode {
		return Glue{}, false
	}
	tableID, err := buf.U16be(i + 4)
	if err != nil {
		return Glue{}, false
	}
	voffset, err := buf.U16be(i + 6)
	if err != nil {
		return Glue{}, false
	}
	rts, err := buf.U16be(i + 8)
	if err != nil || rts != m68k.GlueFamilyARts {
		return Glue{}, false
	}
	if !validTableID(tableID) {
		return Glue{}, false
	}
	if _, ok := vectors[[2]uint16{tableID, voffset}]; !ok {
		return Glue{}, false
	}
	return Glue{TableID: tableID, VOffset: voffset, AReg: 7, StubOffset: i}, true
}

// matchFamilyB matches the 10-byte glue shape:
//
//	16 bits @i   & 0xF1FF == 0x2078   (movea.l (xxx).W,An loading table base)
//	16 bits @i+2          == table_id
//	16 bits @i+4 & 0xF1F8 == 0x2068   (movea.l d(An),An indexing by voffset)
//	16 bits @i+6          == voffset
//	16 bits @i+8 & 0xFFF8 == 0x4ED0   (JMP (An))
//
// The address register index must be identical across all three words.
func matchFamilyB(buf *rombuf.Buffer, i int, vectors map[[2]uint16]uint32) (Glue, bool) {
	word0, err := buf.U16be(i)
	if err != nil || word0&0xF1FF != 0x2078 {
		return Glue{}, false
	}
	tableID, err := buf.U16be(i + 2)
	if err != nil {
		return Glue{}, false
	}
	word2, err := buf.U16be(i + 4)
	if err != nil || word2&0xF1F8 != 0x2068 {
		return Glue{}, false
	}
	voffset, err := buf.U16be(i + 6)
	if err != nil {
		return Glue{}, false
	}
	word3, err := buf.U16be(i + 8)
	if err != nil || word3&0xFFF8 != m68k.OpJmpAnBase {
		return Glue{}, false
	}

	areg0 := (word0 >> 9) & 0x7
	areg1 := (word2 >> 9) & 0x7
	areg2 := word3 & 0x7
	if areg0 != areg1 || areg1 != areg2 {
		return Glue{}, false
	}
	if !validTableID(tableID) {
		return Glue{}, false
	}
	if _, ok := vectors[[2]uint16{tableID, voffset}]; !ok {
		return Glue{}, false
	}

	return Glue{TableID: tableID, VOffset: voffset, AReg: int(areg0), StubOffset: i}, true
}

func validTableID(tableID uint16) bool {
	return tableID >= tableIDMin && tableID <= tableIDMax && tableID%4 == 0
}

// LabelsFromSource builds the (table_id, voffset) -> label map from
// "Vector" directive records found in the source vector-table file
// (Make/VectorTable.a or VectorTable.a). Each directive's first two
// arguments give the table_id and voffset in hex; the directive's own
// label supplies the name. Malformed argument lists are skipped.
func LabelsFromSource(text string) map[[2]uint16]string {
	labels := map[[2]uint16]string{}

	for _, rec := range asmscan.Scan(text) {
		if rec.Directive != "Vector" || rec.Label == "" || len(rec.Args) < 2 {
			continue
		}
		tableID, ok1 := parseHexArg(rec.Args[0])
		voffset, ok2 := parseHexArg(rec.Args[1])
		if !ok1 || !ok2 {
			continue
		}
		labels[[2]uint16{tableID, voffset}] = rec.Label
	}

	return labels
}

func parseHexArg(s string) (uint16, bool) {
	var v uint16
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		var d uint16
		switch {
		case r >= '0' && r <= '9':
			d = uint16(r - '0')
		case r >= 'a' && r <= 'f':
			d = uint16(r-'a') + 10
		case r >= 'A' && r <= 'F':
			d = uint16(r-'A') + 10
		default:
			return 0, false
		}
		v = v*16 + d
	}
	return v, true
}

// StubLength returns the byte length of the glue stub starting at
// stubOffset: Family A stubs are 6 bytes, Family B stubs are 10 bytes.
// The two are told apart by re-checking the Family A word shape.
func StubLength(buf *rombuf.Buffer, stubOffset int) int {
	word, err := buf.U32be(stubOffset)
	if err == nil && word == m68k.GlueFamilyAOpcode {
		return 6
	}
	return 10
}
