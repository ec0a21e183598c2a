// Package traptable recovers the ROM's trap dispatch table (the
// trap_number -> routine_offset mapping for the 0xA000..0xB000 M68K
// illegal-instruction opcode range) and its source labelling.
package traptable

import (
	"fmt"
	"strings"

	"github.com/retroenv/m68kunlink/internal/asmscan"
)

// Header offsets consulted in the ROM (§6).
const (
	TrapTableHeaderOffset = 0x22
	BadTrapHeaderOffset   = 0x56
)

const (
	slotCount      = 1280
	slotSplitBytes = 4096 // slots before this byte index are OS traps (0xA800..), after are ToolBox (0xA000..)
)

// Record is one recovered trap_number -> routine_offset entry.
type Record struct {
	TrapNumber    uint16
	RoutineOffset uint32
}

// romReader is the minimal ROM access the extractor needs.
type romReader interface {
	U32be(offset int) (uint32, error)
}

// Extract walks the 1,280 32-bit slots of the trap table located at
// u32be(0x22), discarding zero and "bad trap" (u32be(0x56)) slots. Slot i
// (measured in bytes from the table base) maps to trap number 0xA800+i/4
// when i < 4096, else 0xA000+(i-4096)/4. A missing or truncated table is
// fail-soft: it yields whatever prefix of slots could be read.
func Extract(buf romReader) ([]Record, error) {
	trapTab, err := buf.U32be(TrapTableHeaderOffset)
	if err != nil {
		return nil, nil
	}
	badTrap, err := buf.U32be(BadTrapHeaderOffset)
	if err != nil {
		badTrap = 0
	}

	var records []Record
	for i := 0; i < slotCount*4; i += 4 {
		routine, err := buf.U32be(int(trapTab) + i)
		if err != nil {
			break // truncated ROM: stop, keep what was already recovered
		}
		if routine == 0 || routine == badTrap {
			continue
		}

		var trapNumber uint16
		if i < slotSplitBytes {
			trapNumber = 0xA800 + uint16(i/4)
		} else {
			trapNumber = 0xA000 + uint16((i-slotSplitBytes)/4)
		}

		records = append(records, Record{TrapNumber: trapNumber, RoutineOffset: routine})
	}

	return records, nil
}

// Placeholder returns the synthesized name for a trap that has no source
// label: "_A" followed by the trap number's low 3 hex digits.
func Placeholder(trapNumber uint16) string {
	return fmt.Sprintf("_A%03X", trapNumber&0xFFF)
}

// LabelsFromSource builds the trap_number -> label map from ToolBox and OS
// directive records found in the source dispatch-table file
// (OS/DispTable.a or DispTable.a).
// Macro-definition lines (any argument starting with '&') are skipped, and
// missing dispatch-table files are a fail-soft condition handled by the
// caller (the resulting map simply stays empty).
func LabelsFromSource(text string) map[uint16]string {
	labels := map[uint16]string{}
	trapNumber := uint16(0xA000)

	for _, rec := range asmscan.Scan(text) {
		switch rec.Directive {
		case "ToolBox", "OS":
			if isMacroDefinition(rec.Args) {
				trapNumber++
				continue
			}
			if rec.Label != "" {
				labels[trapNumber] = rec.Label
			}
			trapNumber++
		}
	}

	return labels
}

func isMacroDefinition(args []string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, "&") {
			return true
		}
	}
	return false
}
