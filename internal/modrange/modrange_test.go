package modrange_test

import (
	"testing"

	"github.com/retroenv/m68kunlink/internal/modrange"
	"github.com/retroenv/m68kunlink/internal/rombuf"
	"github.com/retroenv/retrogolib/assert"
)

func TestScenarioFCertainBoundaryFromGlue(t *testing.T) {
	rom := make([]byte, 0x5000)
	buf := rombuf.New(rom)

	in := modrange.Input{
		Trim: len(rom),
		Buf:  buf,
		Glues: []modrange.GlueRef{
			{Offset: 0x4000},
			{Offset: 0x4010},
		},
	}

	ranges := modrange.Compute(in)

	found := false
	for _, r := range ranges {
		if r.Start == 0x4020 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScenarioEModguessRTSThenPadding(t *testing.T) {
	rom := make([]byte, 0x3000)
	rom[0x10F0] = 0x4E
	rom[0x10F1] = 0x75
	// 0x10F2..0x1100 stay zero (14 bytes of padding).
	buf := rombuf.New(rom)

	in := modrange.Input{
		Trim:            len(rom),
		Buf:             buf,
		ModguessEnabled: []modrange.Interval{{Start: 0x1000, Stop: 0x2000}},
	}

	ranges := modrange.Compute(in)

	var start *modrange.Range
	for i := range ranges {
		if ranges[i].Start == 0x1100 {
			start = &ranges[i]
		}
	}
	assert.True(t, start != nil)
	assert.Equal(t, []string{"align", "RTS then padding"}, start.StartReasons)
}

func TestFileEndfTiling(t *testing.T) {
	rom := make([]byte, 0x2000)
	buf := rombuf.New(rom)

	in := modrange.Input{
		Trim:        len(rom),
		Buf:         buf,
		FileOffsets: []int{0x1000},
		EndfOffsets: []int{0x1800},
	}

	ranges := modrange.Compute(in)

	var total int
	inFile := false
	for _, r := range ranges {
		if r.Start == 0x1000 {
			inFile = true
		}
		if inFile {
			total += r.Stop - r.Start
		}
		if r.Stop == 0x1800 {
			break
		}
	}
	assert.Equal(t, 0x800, total)
}

func TestTrailingNullsTrimmed(t *testing.T) {
	rom := make([]byte, 0x2000)
	for i := 0x1000; i < 0x102E; i++ {
		rom[i] = 0xFF
	}
	// rom[0x102E:0x1030] stays zero: two bytes of trailing padding.
	buf := rombuf.New(rom)

	in := modrange.Input{
		Trim:        len(rom),
		Buf:         buf,
		ModOffsets:  []int{0x1000},
		EndfOffsets: []int{0x1030},
	}

	ranges := modrange.Compute(in)

	var r *modrange.Range
	for i := range ranges {
		if ranges[i].Start == 0x1000 {
			r = &ranges[i]
		}
	}
	assert.True(t, r != nil)
	assert.Equal(t, 0x102E, r.Stop)
	assert.Equal(t, "nulls trimmed", r.StopReasons[len(r.StopReasons)-1])
}

func TestRangesNeverOverlap(t *testing.T) {
	rom := make([]byte, 0x2000)
	buf := rombuf.New(rom)
	in := modrange.Input{
		Trim:       len(rom),
		Buf:        buf,
		ModOffsets: []int{0x100, 0x200, 0x300},
	}
	ranges := modrange.Compute(in)
	for i := 1; i < len(ranges); i++ {
		assert.True(t, ranges[i].Start >= ranges[i-1].Stop)
	}
}
