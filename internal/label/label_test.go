package label_test

import (
	"testing"

	"github.com/retroenv/m68kunlink/internal/label"
	"github.com/retroenv/retrogolib/assert"
)

func TestAddVectorsSourceLabelPreferred(t *testing.T) {
	m := label.New()
	m.AddVectors([]label.VectorSource{
		{TableID: 0x2010, VOffset: 0, RoutineOffset: 0x1000, SourceLabel: "MyRoutine"},
		{TableID: 0x2010, VOffset: 4, RoutineOffset: 0x1010},
	})

	assert.Equal(t, []string{"MyRoutine"}, m.Labels(0x1000))
	assert.Equal(t, []string{"MGR2010_VEC0004"}, m.Labels(0x1010))
}

func TestApplyIslandsOverridesAndDereferencesGlue(t *testing.T) {
	m := label.New()
	m.AddVectors([]label.VectorSource{
		{TableID: 0x2010, VOffset: 0, RoutineOffset: 0x2000, SourceLabel: "Impl"},
	})
	m.AddDirectives([]label.Directive{{Offset: 0x100, Label: "OldLabel"}})

	m.ApplyIslands([]label.IslandRef{
		{Referrer: 0x100, Target: 0x1FF0}, // 0x1FF0 is a glue stub dereferencing to 0x2000
	}, map[int]int{0x1FF0: 0x2000})

	assert.Equal(t, []string{"ISLAND_100_Impl"}, m.Labels(0x100))
}

func TestApplyIslandsFallsBackToUnresolved(t *testing.T) {
	m := label.New()
	m.ApplyIslands([]label.IslandRef{{Referrer: 0x50, Target: 0x9999}}, nil)
	assert.Equal(t, []string{"ISLAND_50_UNRESOLVED_9999"}, m.Labels(0x50))
}

func TestShortestLexPicksShortestThenLex(t *testing.T) {
	best, ok := label.ShortestLex([]string{"Zebra", "Ape", "Bee", "Cat"})
	assert.True(t, ok)
	assert.Equal(t, "Ape", best)
}

func TestSelectModuleNamePrefersVectorBound(t *testing.T) {
	vb := []label.Entry{{Offset: 0x1000, Label: "VecName", VectorBound: true, GlueAddress: 0x50}}
	other := []label.Entry{{Offset: 0x1000, Label: "OtherName"}}

	name, remVB, remOther := label.SelectModuleName(vb, other, 0x1000)

	assert.Equal(t, "VecName", name)
	assert.Equal(t, 0, len(remVB))
	assert.Equal(t, 1, len(remOther))
}

func TestSelectModuleNameFallsBackToAutomod(t *testing.T) {
	name, remVB, remOther := label.SelectModuleName(nil, nil, 0x2000)
	assert.Equal(t, "AUTOMOD_2000", name)
	assert.Equal(t, 0, len(remVB))
	assert.Equal(t, 0, len(remOther))
}

func TestEntriesInRangeSortsVectorBoundByGlueAddress(t *testing.T) {
	m := label.New()
	m.AddVectors([]label.VectorSource{
		{TableID: 0x2010, VOffset: 0, RoutineOffset: 0x1000, SourceLabel: "Second", GlueOffset: 0x200, HasGlue: true},
		{TableID: 0x2010, VOffset: 4, RoutineOffset: 0x1010, SourceLabel: "First", GlueOffset: 0x100, HasGlue: true},
	})

	vb, other := m.EntriesInRange(0x0, 0x2000)
	assert.Equal(t, 2, len(vb))
	assert.Equal(t, 0, len(other))
	assert.Equal(t, "First", vb[0].Label)
	assert.Equal(t, "Second", vb[1].Label)
}
