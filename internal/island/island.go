// Package island detects branch islands: 16-byte long-branch trampolines
// inserted by the original linker to reach targets beyond the 16-bit
// PC-relative range.
package island

import "github.com/retroenv/m68kunlink/internal/rombuf"

// braLOpcode is the fixed first word of every island cell.
const braLOpcode = 0x60FF

// cellSize is the fixed size of an island trampoline.
const cellSize = 16

// Island is a detected long-branch stub: referrer is the cell's own
// offset, target is the destination it branches to. Index groups runs of
// consecutive 16-byte-aligned islands: the first island of a run has index
// 0, each following island in the same run increments.
type Island struct {
	Referrer int
	Target   int
	Index    int
}

// Detect scans R[0..trim) at 16-byte stride for island cells: a 16-byte
// cell whose first two bytes are the BRA.L opcode (0x60FF) and whose last
// ten bytes are all zero. The target is decoded from the 32-bit
// displacement occupying bytes [referrer+2, referrer+6) as
// referrer + 4 + displacement, and must be even and within [0, trim).
func Detect(buf *rombuf.Buffer, trim int) []Island {
	var islands []Island
	prevOffset := -2 * cellSize
	index := 0

	for off := 0; off+cellSize <= trim; off += cellSize {
		disp, ok := matchCell(buf, off)
		if !ok {
			continue
		}

		target := off + 4 + int(disp)
		if target < 0 || target >= trim || target%2 != 0 {
			continue
		}

		if off == prevOffset+cellSize {
			index++
		} else {
			index = 0
		}

		islands = append(islands, Island{Referrer: off, Target: target, Index: index})
		prevOffset = off
	}

	return islands
}

// Filter removes islands whose referrer offset is in excluded (the
// manual annotation file's NONISLAND directive), re-numbering the
// remaining group indices as if the excluded cells were never there.
func Filter(islands []Island, excluded map[int]bool) []Island {
	if len(excluded) == 0 {
		return islands
	}

	var out []Island
	prevOffset := -2 * cellSize
	index := 0
	for _, isl := range islands {
		if excluded[isl.Referrer] {
			continue
		}
		if isl.Referrer == prevOffset+cellSize {
			index++
		} else {
			index = 0
		}
		out = append(out, Island{Referrer: isl.Referrer, Target: isl.Target, Index: index})
		prevOffset = isl.Referrer
	}
	return out
}

func matchCell(buf *rombuf.Buffer, off int) (int32, bool) {
	word, err := buf.U16be(off)
	if err != nil || word != braLOpcode {
		return 0, false
	}

	disp, err := buf.I32be(off + 2)
	if err != nil {
		return 0, false
	}

	tail, err := buf.Slice(off+6, cellSize-6)
	if err != nil {
		return 0, false
	}
	for _, b := range tail {
		if b != 0 {
			return 0, false
		}
	}

	return disp, true
}
