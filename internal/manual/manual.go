// Package manual loads the human-maintained ROM annotation file: it applies
// a self-editing offset-fixup pass, then parses the result into a
// directive-keyed map preserving insertion order per directive.
package manual

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/retroenv/m68kunlink/internal/asmscan"
)

// Record is one annotation-file directive occurrence.
type Record struct {
	Offset  uint32
	Label   string
	Args    []string
	Comment string
}

// Map is the directive-keyed (uppercased directive name) map of ordered
// records built from an annotation file.
type Map map[string][]Record

// OutOfOrderError is returned when directive offsets are not monotonically
// non-decreasing across the annotation file.
type OutOfOrderError struct {
	Offset   uint32
	Previous uint32
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("manual annotation offset 0x%X follows larger offset 0x%X out of order",
		e.Offset, e.Previous)
}

// Load reads the annotation file at path, applies the self-edit pass
// (rewriting the file in place if it changed anything), and parses the
// result into a Map. A missing file is a fail-soft condition: it returns
// an empty Map and no error.
func Load(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("reading annotation file: %w", err)
	}

	rewritten, changed := SelfEdit(raw)
	if changed {
		if err := os.WriteFile(path, rewritten, 0o644); err != nil {
			return nil, fmt.Errorf("writing self-edited annotation file: %w", err)
		}
	}

	return Parse(rewritten)
}

// SelfEdit rewrites the annotation text line by line: a line beginning with
// a hexadecimal token sets an accumulator and records its digit width; a
// line beginning with '+' followed by a hexadecimal token has that prefix
// replaced with accumulator+token, formatted to the recorded width in
// uppercase hex (the accumulator itself is not updated by '+' lines). All
// other lines, and unaltered parts of rewritten lines, pass through
// byte-for-byte, including original line endings.
func SelfEdit(raw []byte) ([]byte, bool) {
	lines := splitKeepEnds(raw)

	var acc uint64
	var width int
	changed := false

	for i, line := range lines {
		body, ending := splitEnding(line)
		tok, start, end := firstToken(body)
		if tok == "" {
			continue
		}

		if v, ok := parseHex(tok); ok {
			acc = v
			width = len(tok)
			continue
		}

		if strings.HasPrefix(tok, "+") {
			if v, ok := parseHex(tok[1:]); ok {
				newVal := acc + v
				formatted := fmt.Sprintf("%0*X", width, newVal)
				newBody := body[:start] + formatted + body[end:]
				lines[i] = newBody + ending
				changed = true
			}
		}
	}

	return []byte(strings.Join(lines, "")), changed
}

// Parse parses already self-edited annotation text into a directive-keyed
// Map. Offsets are tracked via an accumulator identical to SelfEdit's,
// except that here it is also used to stamp each directive record.
func Parse(data []byte) (Map, error) {
	text := normalize(data)
	lines := strings.Split(text, "\n")

	m := Map{}
	var acc uint64
	var lastOffset uint32
	seenOffset := false

	for _, line := range lines {
		tok, _, _ := firstToken(line)
		if tok == "" {
			continue
		}

		if v, ok := parseHex(tok); ok {
			offset := uint32(v)
			if seenOffset && offset < lastOffset {
				return nil, &OutOfOrderError{Offset: offset, Previous: lastOffset}
			}
			acc = v
			lastOffset = offset
			seenOffset = true
			continue
		}

		if strings.HasPrefix(tok, "+") {
			continue
		}

		rec := asmscan.Scan(line)
		if len(rec) == 0 || rec[0].Directive == "" {
			continue
		}

		directive := strings.ToUpper(rec[0].Directive)
		offset := uint32(acc)
		if seenOffset && offset < lastOffset {
			return nil, &OutOfOrderError{Offset: offset, Previous: lastOffset}
		}
		lastOffset = offset
		seenOffset = true

		m[directive] = append(m[directive], Record{
			Offset:  offset,
			Label:   rec[0].Label,
			Args:    rec[0].Args,
			Comment: rec[0].Comment,
		})
	}

	return m, nil
}

// normalize strips non-ASCII bytes and normalizes CRLF/CR line endings to
// LF, matching the assembly scanner's stated input assumption.
func normalize(data []byte) string {
	filtered := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '\r' || b < 0x80 {
			filtered = append(filtered, b)
		}
	}
	s := strings.ReplaceAll(string(filtered), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// splitKeepEnds splits raw bytes into lines, each retaining its original
// trailing line-ending bytes (either "\r\n", "\n", or none for the final
// line).
func splitKeepEnds(raw []byte) []string {
	var lines []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			lines = append(lines, string(raw[start:i+1]))
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, string(raw[start:]))
	}
	return lines
}

// splitEnding separates a line's content from its trailing "\r\n" or "\n".
func splitEnding(line string) (body, ending string) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], "\r\n"
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// firstToken returns the first whitespace-delimited token in line along
// with its byte offset range, ignoring leading whitespace.
func firstToken(line string) (tok string, start, end int) {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	j := i
	for j < len(line) && line[j] != ' ' && line[j] != '\t' {
		j++
	}
	if i == j {
		return "", 0, 0
	}
	return line[i:j], i, j
}

// parseHex parses tok as a hexadecimal literal, requiring every character
// be a hex digit (so labels or directive names never get misparsed).
func parseHex(tok string) (uint64, bool) {
	if tok == "" {
		return 0, false
	}
	for _, r := range tok {
		if !isHexDigit(r) {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(tok, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
