// Package refscan enumerates all M68K PC-relative referencing opcodes in a
// ROM image with their resolved targets.
package refscan

import (
	"github.com/retroenv/m68kunlink/internal/m68k"
	"github.com/retroenv/m68kunlink/internal/rombuf"
)

// Site is one PC-relative reference: a referencing instruction at
// SiteOffset whose operand resolves to TargetOffset.
type Site struct {
	SiteOffset   int
	TargetOffset int
	Kind         m68k.RefKind
	OperandWidth int
}

// Scan walks R[0..trim) at 2-byte stride, matching every opcode in
// m68k.ReferenceOpcodes. For each hit the operand is read as a big-endian
// signed integer of the matched width immediately after the opcode word,
// and the target is computed as site+2+operand. Hits whose target falls
// outside [0, trim] or is not word-aligned are discarded.
func Scan(buf *rombuf.Buffer, trim int) []Site {
	var sites []Site

	for off := 0; off+2 <= trim; off += 2 {
		word, err := buf.U16be(off)
		if err != nil {
			break
		}

		pattern, ok := m68k.MatchReference(word)
		if !ok {
			continue
		}

		operand, ok := readOperand(buf, off+2, pattern.OperandWidth)
		if !ok {
			continue
		}

		target := off + 2 + operand
		if target < 0 || target > trim || target%2 != 0 {
			continue
		}

		sites = append(sites, Site{
			SiteOffset:   off,
			TargetOffset: target,
			Kind:         pattern.Kind,
			OperandWidth: pattern.OperandWidth,
		})
	}

	return sites
}

func readOperand(buf *rombuf.Buffer, offset, width int) (int, bool) {
	switch width {
	case 2:
		v, err := buf.I16be(offset)
		if err != nil {
			return 0, false
		}
		return int(v), true
	case 4:
		v, err := buf.I32be(offset)
		if err != nil {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}
