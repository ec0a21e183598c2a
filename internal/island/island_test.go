package island_test

import (
	"testing"

	"github.com/retroenv/m68kunlink/internal/island"
	"github.com/retroenv/m68kunlink/internal/rombuf"
	"github.com/retroenv/retrogolib/assert"
)

func TestDetectScenarioB(t *testing.T) {
	rom := make([]byte, 0x2000)
	// 60 FF 00 00 10 00 00 00 00 00 00 00 00 00 00 00 at 0x400
	copy(rom[0x400:], []byte{0x60, 0xFF, 0x00, 0x00, 0x10, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})

	islands := island.Detect(rombuf.New(rom), len(rom))
	assert.Equal(t, 1, len(islands))
	assert.Equal(t, 0x400, islands[0].Referrer)
	assert.Equal(t, 0x1404, islands[0].Target)
	assert.Equal(t, 0, islands[0].Index)
}

func TestDetectGroupsConsecutiveIslands(t *testing.T) {
	rom := make([]byte, 0x2000)
	cell := []byte{0x60, 0xFF, 0x00, 0x00, 0x00, 0x10, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	copy(rom[0x400:], cell)
	copy(rom[0x410:], cell)
	copy(rom[0x420:], cell)

	islands := island.Detect(rombuf.New(rom), len(rom))
	assert.Equal(t, 3, len(islands))
	assert.Equal(t, 0, islands[0].Index)
	assert.Equal(t, 1, islands[1].Index)
	assert.Equal(t, 2, islands[2].Index)
}

func TestDetectRejectsNonZeroTail(t *testing.T) {
	rom := make([]byte, 0x2000)
	copy(rom[0x400:], []byte{0x60, 0xFF, 0x00, 0x00, 0x10, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})

	islands := island.Detect(rombuf.New(rom), len(rom))
	assert.Equal(t, 0, len(islands))
}
