package resolve_test

import (
	"testing"

	"github.com/retroenv/m68kunlink/internal/m68k"
	"github.com/retroenv/m68kunlink/internal/refscan"
	"github.com/retroenv/m68kunlink/internal/resolve"
	"github.com/retroenv/retrogolib/assert"
)

func TestResolveScenarioD(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x3000, Kind: m68k.KindBSR, OperandWidth: 2},
		},
		ModuleStart: 0x1FFE,
		ModuleStop:  0x2010,
		Buf:         buf,
		Labels: func(offset int) []string {
			if offset == 0x3000 {
				return []string{"DoFoo"}
			}
			return nil
		},
		IslandIndexByReferrer: map[int]int{},
	}

	resolved, unresolved := resolve.Resolve(in)

	assert.Equal(t, 0, len(unresolved))
	assert.Equal(t, 1, len(resolved))
	assert.Equal(t, "DoFoo", resolved[0].Label)
	assert.True(t, resolved[0].Weird)
	assert.Equal(t, []byte{0xFF, 0xFE}, buf[4:6])
}

func TestResolveSkipsSelfReference(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x2004, Kind: m68k.KindBRA, OperandWidth: 2},
		},
		ModuleStart: 0x2000,
		ModuleStop:  0x2010,
		Buf:         buf,
		Labels: func(offset int) []string {
			return []string{"Local"}
		},
	}

	resolved, unresolved := resolve.Resolve(in)
	assert.Equal(t, 0, len(resolved))
	assert.Equal(t, 0, len(unresolved))
}

func TestResolveSkipsSelfReferenceWithNoLabel(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x2004, Kind: m68k.KindBRA, OperandWidth: 2},
		},
		ModuleStart: 0x2000,
		ModuleStop:  0x2010,
		Buf:         buf,
		Labels:      func(offset int) []string { return nil },
	}

	resolved, unresolved := resolve.Resolve(in)
	assert.Equal(t, 0, len(resolved))
	assert.Equal(t, 0, len(unresolved))
}

func TestResolveUnresolvedWhenNoLabel(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x9000, Kind: m68k.KindJSR, OperandWidth: 2},
		},
		ModuleStart: 0x1FFE,
		ModuleStop:  0x2010,
		Buf:         buf,
		Labels:      func(offset int) []string { return nil },
	}

	resolved, unresolved := resolve.Resolve(in)
	assert.Equal(t, 0, len(resolved))
	assert.Equal(t, 1, len(unresolved))
	assert.Equal(t, 0x9000, unresolved[0].TargetOffset)
}

func TestResolveVectorImplementationPrefix(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x5000, Kind: m68k.KindJSR, OperandWidth: 2},
		},
		ModuleStart:           0x1FFE,
		ModuleStop:            0x2010,
		Buf:                   buf,
		VectorImplementations: map[int]bool{0x5000: true},
		Labels: func(offset int) []string {
			if offset == 0x5000 {
				return []string{"VectoredRoutine"}
			}
			return nil
		},
	}

	resolved, _ := resolve.Resolve(in)
	assert.Equal(t, 1, len(resolved))
	assert.Equal(t, "__v__VectoredRoutine", resolved[0].Label)
}

func TestResolveGlueDereference(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x2000, TargetOffset: 0x6000, Kind: m68k.KindJSR, OperandWidth: 2},
		},
		ModuleStart:        0x1FFE,
		ModuleStop:         0x2010,
		Buf:                buf,
		GlueImplementation: map[int]int{0x6000: 0x7000},
		Labels: func(offset int) []string {
			if offset == 0x7000 {
				return []string{"RealImpl"}
			}
			return nil
		},
	}

	resolved, _ := resolve.Resolve(in)
	assert.Equal(t, 1, len(resolved))
	assert.Equal(t, "RealImpl", resolved[0].Label)
}

// TestResolveGlueDereferenceIntoSelf covers a reference to a glue stub
// outside the module whose implementation lies inside it: the self-reference
// check must apply to the dereferenced target, not the raw glue offset, so
// this must be silently skipped rather than resolved to the module's own
// label.
func TestResolveGlueDereferenceIntoSelf(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x1FFE, TargetOffset: 0x6000, Kind: m68k.KindJSR, OperandWidth: 2},
		},
		ModuleStart:        0x1FFE,
		ModuleStop:         0x2010,
		Buf:                buf,
		GlueImplementation: map[int]int{0x6000: 0x2000},
		Labels: func(offset int) []string {
			if offset == 0x2000 {
				return []string{"Local"}
			}
			return nil
		},
	}

	resolved, unresolved := resolve.Resolve(in)
	assert.Equal(t, 0, len(resolved))
	assert.Equal(t, 0, len(unresolved))
}

// TestResolveGlueInsideDereferencesOutside covers a glue stub located inside
// the module whose implementation lies outside it: the raw glue offset would
// wrongly trip the self-reference check, but the resolved target is
// external and must be emitted.
func TestResolveGlueInsideDereferencesOutside(t *testing.T) {
	buf := make([]byte, 16)
	in := resolve.Input{
		Sites: []refscan.Site{
			{SiteOffset: 0x1FFE, TargetOffset: 0x2000, Kind: m68k.KindJSR, OperandWidth: 2},
		},
		ModuleStart:        0x1FFE,
		ModuleStop:         0x2010,
		Buf:                buf,
		GlueImplementation: map[int]int{0x2000: 0x7000},
		Labels: func(offset int) []string {
			if offset == 0x7000 {
				return []string{"RealImpl"}
			}
			return nil
		},
	}

	resolved, unresolved := resolve.Resolve(in)
	assert.Equal(t, 0, len(unresolved))
	assert.Equal(t, 1, len(resolved))
	assert.Equal(t, "RealImpl", resolved[0].Label)
}
