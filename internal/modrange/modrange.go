// Package modrange implements the module-boundary engine: it produces
// module ranges from a weighted union of start/stop signals and trims
// trailing padding.
package modrange

import (
	"sort"

	"github.com/retroenv/m68kunlink/internal/island"
	"github.com/retroenv/m68kunlink/internal/rombuf"
)

// Range is one computed module range [Start, Stop) together with the
// diagnostic reasons that produced its boundaries.
type Range struct {
	Start, Stop  int
	StartReasons []string
	StopReasons  []string
}

// GlueRef is the minimal shape of a vector-glue stub needed by the engine:
// its offset in ROM and, where known, the offset of the routine it
// dispatches to (its "implementation").
type GlueRef struct {
	Offset         int
	Implementation int
	HasImpl        bool
}

// Interval is a caller-enabled byte range, used for MODGUESS/REFGUESS
// toggles (§6).
type Interval struct {
	Start, Stop int
}

// Input collects every signal source the module-boundary engine fuses.
type Input struct {
	Trim int
	Buf  *rombuf.Buffer

	Glues   []GlueRef // sorted ascending by Offset
	Islands []island.Island

	ModOffsets  []int
	FileOffsets []int
	EndfOffsets []int

	ModguessEnabled []Interval
	HasLabel        func(offset int) bool
}

type event struct {
	Offset int
	Reason string
}

// Compute runs the full module-boundary algorithm (§4.7): starts, stops,
// range construction, modguess, and trailing-null trimming.
func Compute(in Input) []Range {
	starts := computeStarts(in)
	stops := computeStops(in)

	mergedStarts := mergeEvents(starts)
	mergedStops := mergeEvents(stops)

	ranges := buildRanges(mergedStarts, mergedStops)
	glueOffsets := glueOffsetSet(in.Glues)
	for i := range ranges {
		trimRange(&ranges[i], in.Buf, glueOffsets)
	}
	return ranges
}

func computeStarts(in Input) []event {
	var events []event

	events = append(events, event{Offset: 0, Reason: "start of ROM"})

	for i := 1; i < len(in.Glues); i++ {
		prev := in.Glues[i-1]
		cur := in.Glues[i]
		if cur.Offset-prev.Offset > 10 {
			// Scenario F: glues at 0x4000 and 0x4010 yield 0x4020, i.e. the
			// boundary is computed from the later glue of the pair (its own
			// 10-byte stub) rounded up to the next 16-byte address.
			boundary := roundUp16(cur.Offset + 10)
			events = append(events, event{Offset: boundary, Reason: "certain module boundary (glue)"})
		}
	}

	for _, off := range in.ModOffsets {
		events = append(events, event{Offset: off, Reason: "MOD directive"})
	}
	for _, off := range in.FileOffsets {
		events = append(events, event{Offset: off, Reason: "FILE directive"})
	}

	for _, isl := range in.Islands {
		events = append(events, event{Offset: isl.Referrer + 16, Reason: "after island"})
		events = append(events, event{Offset: isl.Referrer, Reason: "BRA.L island"})
	}

	events = append(events, modguess(in)...)

	return events
}

func computeStops(in Input) []event {
	var events []event

	for _, g := range in.Glues {
		events = append(events, event{Offset: g.Offset, Reason: "glue"})
	}
	for _, isl := range in.Islands {
		events = append(events, event{Offset: isl.Referrer, Reason: "BRA.L island"})
		events = append(events, event{Offset: isl.Referrer + 16, Reason: "after island"})
	}
	for _, off := range in.EndfOffsets {
		events = append(events, event{Offset: off, Reason: "ENDF directive"})
	}
	events = append(events, event{Offset: in.Trim, Reason: "end of ROM"})

	return events
}

// modguess iterates the enabled intervals at 16-byte stride, yielding a
// start candidate at s when all §4.7 modguess conditions hold.
func modguess(in Input) []event {
	if in.Buf == nil {
		return nil
	}

	forbidden := forbiddenRanges(in.Glues)

	var events []event
	for _, iv := range in.ModguessEnabled {
		start := roundUp16(iv.Start)
		for s := start; s < iv.Stop && s+16 <= in.Trim; s += 16 {
			if !modguessCandidate(in, s, forbidden) {
				continue
			}
			events = append(events, event{Offset: s, Reason: "align"})
			if in.HasLabel != nil && in.HasLabel(s) {
				events = append(events, event{Offset: s, Reason: "label match"})
			} else {
				events = append(events, event{Offset: s, Reason: "RTS then padding"})
			}
		}
	}
	return events
}

func modguessCandidate(in Input, s int, forbidden []Interval) bool {
	if s < 16 {
		return false
	}
	prev, err := in.Buf.Slice(s-16, 16)
	if err != nil {
		return false
	}
	if allZero(prev) {
		return false
	}

	for _, f := range forbidden {
		if s >= f.Start && s < f.Stop {
			return false
		}
	}

	if in.HasLabel != nil && in.HasLabel(s) {
		return true
	}

	return precededByReturnThenPadding(in.Buf, s)
}

// precededByReturnThenPadding checks condition (b): s is preceded by one
// of the M68K return instructions followed by 2-14 zero padding bytes.
func precededByReturnThenPadding(buf *rombuf.Buffer, s int) bool {
	for padding := 2; padding <= 14; padding += 2 {
		for _, retLen := range [...]int{2, 4, 6} {
			retOff := s - padding - retLen
			if retOff < 0 {
				continue
			}
			if !isReturnAt(buf, retOff, retLen) {
				continue
			}
			pad, err := buf.Slice(retOff+retLen, padding)
			if err != nil || !allZero(pad) {
				continue
			}
			return true
		}
	}
	return false
}

func isReturnAt(buf *rombuf.Buffer, off, length int) bool {
	word, err := buf.U16be(off)
	if err != nil {
		return false
	}
	switch length {
	case 2:
		return word == 0x4E75 || word&0xFFF8 == 0x4ED0
	case 4:
		return word == 0x4E74
	case 6:
		return word == 0x60FF
	}
	return false
}

// forbiddenRanges computes the "keep glue chains and their implementation
// together" exclusion ranges (§4.7): for each maximal run of glues at
// exactly 10-byte strides, the run plus its trailing 10-byte cell,
// extended leftward to the first glue's implementation offset when that
// implementation lies earlier, and additionally minus 2 bytes when the
// implementation lies later (an "entry-point" pattern).
func forbiddenRanges(glues []GlueRef) []Interval {
	var forbidden []Interval

	i := 0
	for i < len(glues) {
		j := i
		for j+1 < len(glues) && glues[j+1].Offset-glues[j].Offset == 10 {
			j++
		}
		if j > i {
			start := glues[i].Offset
			stop := glues[j].Offset + 10

			first := glues[i]
			if first.HasImpl {
				if first.Implementation < start {
					start = first.Implementation
				} else if first.Implementation > stop {
					start -= 2
				}
			}

			forbidden = append(forbidden, Interval{Start: start, Stop: stop})
		}
		i = j + 1
	}

	return forbidden
}

func buildRanges(starts, stops []mergedEvent) []Range {
	var ranges []Range

	for i, s := range starts {
		stopIdx := sort.Search(len(stops), func(k int) bool { return stops[k].Offset >= s.Offset })

		hasStopFromList := stopIdx < len(stops)
		hasNextStart := i+1 < len(starts)

		var stopOffset int
		var stopReasons []string
		switch {
		case hasStopFromList && hasNextStart:
			if stops[stopIdx].Offset <= starts[i+1].Offset {
				stopOffset = stops[stopIdx].Offset
				stopReasons = stops[stopIdx].Reasons()
			} else {
				stopOffset = starts[i+1].Offset
			}
		case hasStopFromList:
			stopOffset = stops[stopIdx].Offset
			stopReasons = stops[stopIdx].Reasons()
		case hasNextStart:
			stopOffset = starts[i+1].Offset
		default:
			continue
		}

		if stopOffset <= s.Offset {
			continue
		}

		ranges = append(ranges, Range{
			Start:        s.Offset,
			Stop:         stopOffset,
			StartReasons: s.Reasons(),
			StopReasons:  stopReasons,
		})
	}

	return ranges
}

// trimRange applies §4.7's trailing-null trimming to ranges whose stop is
// not itself a glue offset.
func trimRange(r *Range, buf *rombuf.Buffer, glueOffsets map[int]bool) {
	if buf == nil || glueOffsets[r.Stop] {
		return
	}
	if r.Stop-r.Start < 16 {
		return
	}

	prevWord, err := buf.Slice(r.Stop-16, 14)
	if err != nil || allZero(prevWord) {
		return
	}
	lastWord, err := buf.Slice(r.Stop-2, 2)
	if err != nil || !allZero(lastWord) {
		return
	}

	b := r.Stop
	for b-2 >= r.Start {
		word, err := buf.Slice(b-2, 2)
		if err != nil || !allZero(word) {
			break
		}
		b -= 2
	}

	if b != r.Stop {
		r.Stop = b
		r.StopReasons = append(r.StopReasons, "nulls trimmed")
	}
}

func glueOffsetSet(glues []GlueRef) map[int]bool {
	m := make(map[int]bool, len(glues))
	for _, g := range glues {
		m[g.Offset] = true
	}
	return m
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func roundUp16(v int) int {
	return (v + 15) &^ 15
}

// mergedEvent is a sorted, deduplicated-by-offset event with accumulated
// reasons in first-seen order.
type mergedEvent struct {
	Offset       int
	reasonsSlice []string
}

func (m mergedEvent) Reasons() []string {
	return m.reasonsSlice
}

// mergeEvents performs the stable sort + reason-accumulating merge
// described in the design notes: events sharing an offset are folded into
// one record, offsets are sorted ascending, and reason order within an
// offset follows insertion order.
func mergeEvents(events []event) []mergedEvent {
	order := make([]int, 0, len(events))
	reasons := map[int][]string{}
	seen := map[int]bool{}

	for _, e := range events {
		if !seen[e.Offset] {
			seen[e.Offset] = true
			order = append(order, e.Offset)
		}
		reasons[e.Offset] = append(reasons[e.Offset], e.Reason)
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i] < order[j] })

	merged := make([]mergedEvent, len(order))
	for i, off := range order {
		merged[i] = mergedEvent{Offset: off, reasonsSlice: reasons[off]}
	}
	return merged
}
