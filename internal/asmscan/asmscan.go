// Package asmscan splits annotation and assembly-source text into records
// of {label, directive, args, comment}. It is a pure function over text and
// performs no I/O.
package asmscan

import "strings"

// Record is one parsed line of annotation or assembly source.
type Record struct {
	Label     string
	Directive string
	Args      []string
	Comment   string
}

// Scan splits text (already ASCII-restricted and CR-normalized by the
// caller) into records, one per matched line. Unmatched lines are skipped.
func Scan(text string) []Record {
	lines := strings.Split(text, "\n")
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		rec, ok := scanLine(line)
		if ok {
			records = append(records, rec)
		}
	}
	return records
}

// scanLine matches a single line against:
//
//	[label[':']] [directive [arg(','arg)*]] [';' comment]
func scanLine(line string) (Record, bool) {
	var rec Record

	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		rec.Comment = strings.TrimSpace(line[idx+1:])
		line = line[:idx]
	}

	fields := splitWhitespace(line)
	if len(fields) == 0 {
		if rec.Comment == "" {
			return Record{}, false
		}
		return rec, true
	}

	first := fields[0]
	if strings.HasSuffix(first, ":") {
		rec.Label = strings.TrimSuffix(first, ":")
		fields = fields[1:]
	} else if len(fields) > 1 {
		// A bare non-directive-looking leading token followed by more
		// fields is treated as a label without the trailing colon.
		if looksLikeLabel(first) {
			rec.Label = first
			fields = fields[1:]
		}
	}

	if len(fields) == 0 {
		if rec.Label == "" && rec.Comment == "" {
			return Record{}, false
		}
		return rec, true
	}

	rec.Directive = fields[0]
	if len(fields) > 1 {
		rec.Args = splitArgs(strings.Join(fields[1:], " "))
	} else {
		rec.Args = nil
	}

	return rec, true
}

// looksLikeLabel reports whether tok is written the way a bare label is,
// as opposed to a directive name: directives in this grammar are always
// upper case mnemonics (FILE, ENDF, MOD, ...), labels are mixed case.
func looksLikeLabel(tok string) bool {
	return tok != strings.ToUpper(tok)
}

func splitWhitespace(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
}

// splitArgs splits a comma-separated argument list, trimming each argument.
// A trailing empty argument produced by a dangling comma is dropped.
func splitArgs(s string) []string {
	parts := strings.Split(s, ",")
	args := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" && i == len(parts)-1 {
			continue
		}
		args = append(args, p)
	}
	return args
}
