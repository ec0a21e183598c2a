package objfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retroenv/m68kunlink/internal/objfile"
	"github.com/retroenv/retrogolib/assert"
)

func TestWriterEmitsExpectedDirectives(t *testing.T) {
	var buf strings.Builder
	w := objfile.NewWriter(&buf)

	assert.NoError(t, w.PutFirst())
	assert.NoError(t, w.PutComment("MyModule [0x1000, 0x1010)"))
	assert.NoError(t, w.PutDict([]string{"DoFoo", "DoBar"}))
	assert.NoError(t, w.PutMod("MyModule", objfile.FlagExternallyAccessible))
	assert.NoError(t, w.PutSize(16))
	assert.NoError(t, w.PutContents([]byte{0x4E, 0x75}))
	assert.NoError(t, w.PutEntry(0, "MyModule"))
	assert.NoError(t, w.PutSimpleRef("DoFoo", 2, 4))
	assert.NoError(t, w.PutWeirdRef("DoBar", 2, 8))
	assert.NoError(t, w.PutLast())

	out := buf.String()
	assert.Contains(t, out, ".objfirst")
	assert.Contains(t, out, "; MyModule [0x1000, 0x1010)")
	assert.Contains(t, out, ".dict DoFoo, DoBar")
	assert.Contains(t, out, ".module MyModule, $08")
	assert.Contains(t, out, ".size 16")
	assert.Contains(t, out, ".byte $4e, $75")
	assert.Contains(t, out, ".entry $0, MyModule")
	assert.Contains(t, out, ".simpleref DoFoo, 2, $4")
	assert.Contains(t, out, ".weirdref DoBar, 2, $8")
	assert.Contains(t, out, ".objlast")
}

func TestWriteIfChangedSkipsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.a.o")

	wrote, err := objfile.WriteIfChanged(path, []byte("hello"))
	assert.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = objfile.WriteIfChanged(path, []byte("hello"))
	assert.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = objfile.WriteIfChanged(path, []byte("changed"))
	assert.NoError(t, err)
	assert.True(t, wrote)
}

func TestWriteDescriptorContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.a.info")

	wrote, err := objfile.WriteDescriptor(path)
	assert.NoError(t, err)
	assert.True(t, wrote)

	contents, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "OBJ MPS ", string(contents))
}
