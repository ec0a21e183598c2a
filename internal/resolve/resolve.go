// Package resolve implements the per-module reference resolver and
// rewriter (§4.9): it turns raw PC-relative reference sites into labelled,
// possibly-reseated relocation records, mutating a module's local byte
// copy in place.
package resolve

import (
	"sort"

	"github.com/retroenv/m68kunlink/internal/label"
	"github.com/retroenv/m68kunlink/internal/m68k"
	"github.com/retroenv/m68kunlink/internal/refscan"
)

// Unresolved is a reference site whose target carries no label after
// dereferencing.
type Unresolved struct {
	SiteOffset   int
	TargetOffset int
	Kind         m68k.RefKind
}

// Resolved is a reference site whose target resolved to a label. Weird
// marks branch-kind references, whose operand is reseated to a
// distance-from-site rather than merely zeroed.
type Resolved struct {
	SiteOffset  int
	Label       string
	Width       int
	Weird       bool
	IslandIndex int // -1 when orig_targ is not an island referrer
}

// Input collects everything the resolver needs for one module.
type Input struct {
	Sites       []refscan.Site
	ModuleStart int
	ModuleStop  int

	// Buf is the module's mutable local copy, indexed from 0 at
	// ModuleStart. Resolved reference operands are rewritten in place.
	Buf []byte

	Labels                func(offset int) []string
	VectorImplementations map[int]bool
	GlueImplementation    map[int]int
	HideIslands           bool
	IslandDestByReferrer  map[int]int
	IslandIndexByReferrer map[int]int
}

// Resolve runs §4.9's per-site algorithm over every reference site in the
// module, mutating in.Buf for every resolved site and returning the
// resolved records (sorted by island index of orig_targ, reversed) and the
// unresolved ones (in scan order).
func Resolve(in Input) (resolved []Resolved, unresolved []Unresolved) {
	for _, site := range in.Sites {
		targ := site.TargetOffset
		origTarg := targ

		islandIndex := -1
		if idx, ok := in.IslandIndexByReferrer[origTarg]; ok {
			islandIndex = idx
		}

		if in.HideIslands {
			if dest, ok := in.IslandDestByReferrer[targ]; ok {
				targ = dest
			}
		}

		finalTarg, isVectorImpl := dereferenceTarget(in, targ)

		if finalTarg >= in.ModuleStart && finalTarg < in.ModuleStop {
			continue // self-reference: not emitted
		}

		lbl, ok := labelFor(in, finalTarg, isVectorImpl)
		if !ok {
			unresolved = append(unresolved, Unresolved{
				SiteOffset:   site.SiteOffset,
				TargetOffset: origTarg,
				Kind:         site.Kind,
			})
			continue
		}

		localSite := site.SiteOffset - in.ModuleStart
		weird := site.Kind.IsBranchKind()

		zeroOperand(in.Buf, localSite+2, site.OperandWidth)
		if weird {
			writeBigEndian(in.Buf, localSite+2, site.OperandWidth, reseatValue(localSite, site.OperandWidth))
		}

		resolved = append(resolved, Resolved{
			SiteOffset:  site.SiteOffset,
			Label:       lbl,
			Width:       site.OperandWidth,
			Weird:       weird,
			IslandIndex: islandIndex,
		})
	}

	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].IslandIndex < resolved[j].IslandIndex })
	reverse(resolved)

	return resolved, unresolved
}

// dereferenceTarget implements steps 3-4: a direct hit on a vectorised
// implementation is reported as such (so labelFor can apply its "__v__"
// prefix) and skips glue dereference; otherwise one level of glue
// dereference is applied.
func dereferenceTarget(in Input, targ int) (target int, isVectorImpl bool) {
	if in.VectorImplementations[targ] {
		return targ, true
	}
	if impl, ok := in.GlueImplementation[targ]; ok {
		return impl, false
	}
	return targ, false
}

// labelFor implements step 5: the plain label lookup, prefixed "__v__" for
// a vectorised implementation.
func labelFor(in Input, targ int, isVectorImpl bool) (string, bool) {
	if isVectorImpl {
		if lbl, ok := label.ShortestLex(in.Labels(targ)); ok {
			return "__v__" + lbl, true
		}
		return "", false
	}
	return label.ShortestLex(in.Labels(targ))
}

func zeroOperand(buf []byte, offset, width int) {
	if offset < 0 || offset+width > len(buf) {
		return
	}
	for i := 0; i < width; i++ {
		buf[offset+i] = 0
	}
}

// reseatValue computes (-offsetInModule) mod 2^(8*width) as an unsigned
// integer ready for big-endian encoding.
func reseatValue(offsetInModule, width int) uint32 {
	mask := uint32(1)<<(8*uint(width)) - 1
	return uint32(-int64(offsetInModule)) & mask
}

func writeBigEndian(buf []byte, offset, width int, value uint32) {
	if offset < 0 || offset+width > len(buf) {
		return
	}
	for i := 0; i < width; i++ {
		shift := uint(8 * (width - 1 - i))
		buf[offset+i] = byte(value >> shift)
	}
}

func reverse(s []Resolved) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
