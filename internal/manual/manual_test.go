package manual_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/retroenv/m68kunlink/internal/manual"
	"github.com/retroenv/retrogolib/assert"
)

func TestSelfEditRewritesPlusLines(t *testing.T) {
	raw := []byte("100\nMOD Foo\n+10\nMOD Bar\n")
	rewritten, changed := manual.SelfEdit(raw)
	assert.True(t, changed)
	assert.Equal(t, "100\nMOD Foo\n110\nMOD Bar\n", string(rewritten))
}

func TestSelfEditIdempotent(t *testing.T) {
	raw := []byte("100\nMOD Foo\n+10\nMOD Bar\n")
	rewritten, _ := manual.SelfEdit(raw)
	again, changed := manual.SelfEdit(rewritten)
	assert.False(t, changed)
	assert.Equal(t, string(rewritten), string(again))
}

func TestSelfEditPreservesLineEndings(t *testing.T) {
	raw := []byte("100\r\nMOD Foo\r\n+10\r\n")
	rewritten, changed := manual.SelfEdit(raw)
	assert.True(t, changed)
	assert.Equal(t, "100\r\nMOD Foo\r\n110\r\n", string(rewritten))
}

func TestSelfEditWidthPadding(t *testing.T) {
	raw := []byte("00A0\n+10\n")
	rewritten, _ := manual.SelfEdit(raw)
	assert.Equal(t, "00A0\n00B0\n", string(rewritten))
}

func TestParseBucketsByDirective(t *testing.T) {
	text := []byte("100\nFILE mod.a, WRITEOUT\n110\nMOD Foo\n120\nENDF\n")
	m, err := manual.Parse(text)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(m["FILE"]))
	assert.Equal(t, uint32(0x100), m["FILE"][0].Offset)
	assert.Equal(t, []string{"mod.a", "WRITEOUT"}, m["FILE"][0].Args)
	assert.Equal(t, uint32(0x110), m["MOD"][0].Offset)
	assert.Equal(t, uint32(0x120), m["ENDF"][0].Offset)
}

func TestParseOutOfOrderFails(t *testing.T) {
	text := []byte("200\nMOD Foo\n100\nMOD Bar\n")
	_, err := manual.Parse(text)
	assert.Error(t, err)
}

func TestParsePreservesInsertionOrder(t *testing.T) {
	text := []byte("100\nENTRY First\n110\nENTRY Second\n120\nENTRY Third\n")
	m, err := manual.Parse(text)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(m["ENTRY"]))
	assert.Equal(t, "First", m["ENTRY"][0].Label)
	assert.Equal(t, "Second", m["ENTRY"][1].Label)
	assert.Equal(t, "Third", m["ENTRY"][2].Label)
}

func TestLoadMissingFileIsFailSoft(t *testing.T) {
	m, err := manual.Load(filepath.Join(t.TempDir(), "nope-info.txt"))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(m))
}

func TestLoadRewritesFileOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rom-info.txt")
	assert.NoError(t, os.WriteFile(path, []byte("100\nMOD Foo\n+10\nMOD Bar\n"), 0o644))

	m, err := manual.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(m["MOD"]))

	onDisk, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "100\nMOD Foo\n110\nMOD Bar\n", string(onDisk))
}
