// Package objfile implements the object sink of §6: a small opaque
// interface the emitter drives to produce one relocatable object's worth
// of assembly-style output, plus the on-disk descriptor and
// write-if-changed helpers used by dry-run/write-out mode.
package objfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Module flags (§4.10).
const (
	FlagExternallyAccessible = 1 << 3
	FlagForced               = 1 << 7
)

// DescriptorContents is the fixed 8-byte companion file written alongside
// every object written to disk.
const DescriptorContents = "OBJ MPS "

const dataBytesPerLine = 16

// Sink is the opaque object-emission interface driven by the unlink
// package's object emitter (§4.10, §6).
type Sink interface {
	PutFirst() error
	PutLast() error
	PutComment(text string) error
	PutDict(names []string) error
	PutMod(name string, flags int) error
	PutSize(n int) error
	PutContents(data []byte) error
	PutEntry(offset int, label string) error
	PutSimpleRef(label string, width, site int) error
	PutWeirdRef(label string, width, site int) error
}

// Writer is a Sink that renders assembly-style text to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w in an object Sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// PutFirst marks the start of a file's worth of objects.
func (o *Writer) PutFirst() error {
	_, err := fmt.Fprintln(o.w, ".objfirst")
	return err
}

// PutLast marks the end of a file's worth of objects.
func (o *Writer) PutLast() error {
	_, err := fmt.Fprintln(o.w, ".objlast")
	return err
}

// PutComment emits a descriptive comment block, one output line per input
// line.
func (o *Writer) PutComment(text string) error {
	for _, line := range splitLines(text) {
		if _, err := fmt.Fprintf(o.w, "; %s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// PutDict emits the dictionary of symbol names referenced by the module.
func (o *Writer) PutDict(names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(o.w, ".dict %s\n", joinComma(names))
	return err
}

// PutMod opens a module declaration with its access flags.
func (o *Writer) PutMod(name string, flags int) error {
	_, err := fmt.Fprintf(o.w, ".module %s, $%02X\n", name, flags)
	return err
}

// PutSize emits the module's byte size.
func (o *Writer) PutSize(n int) error {
	_, err := fmt.Fprintf(o.w, ".size %d\n", n)
	return err
}

// PutContents emits the module's raw bytes, bundled dataBytesPerLine to a
// line.
func (o *Writer) PutContents(data []byte) error {
	if _, err := fmt.Fprintln(o.w, ".contents"); err != nil {
		return err
	}
	for i := 0; i < len(data); i += dataBytesPerLine {
		end := i + dataBytesPerLine
		if end > len(data) {
			end = len(data)
		}
		if err := writeByteLine(o.w, data[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// PutEntry emits one module-relative entry-point label.
func (o *Writer) PutEntry(offset int, label string) error {
	_, err := fmt.Fprintf(o.w, ".entry $%X, %s\n", offset, label)
	return err
}

// PutSimpleRef emits a zeroed-immediate reference record.
func (o *Writer) PutSimpleRef(label string, width, site int) error {
	_, err := fmt.Fprintf(o.w, ".simpleref %s, %d, $%X\n", label, width, site)
	return err
}

// PutWeirdRef emits a branch/reseated reference record.
func (o *Writer) PutWeirdRef(label string, width, site int) error {
	_, err := fmt.Fprintf(o.w, ".weirdref %s, %d, $%X\n", label, width, site)
	return err
}

func writeByteLine(w io.Writer, data []byte) error {
	buf := &bytes.Buffer{}
	buf.WriteString(".byte ")
	for i, b := range data {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(buf, "$%02x", b)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func joinComma(names []string) string {
	buf := &bytes.Buffer{}
	for i, n := range names {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(n)
	}
	return buf.String()
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// WriteIfChanged writes data to path unless a file already exists there
// with identical contents (§4.10: "identical contents are not rewritten to
// disk"). It reports whether a write occurred.
func WriteIfChanged(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing object file %s: %w", path, err)
	}
	return true, nil
}

// WriteDescriptor writes the 8-byte "OBJ MPS " descriptor file alongside an
// object written to disk, applying the same identical-contents check.
func WriteDescriptor(path string) (bool, error) {
	return WriteIfChanged(path, []byte(DescriptorContents))
}
