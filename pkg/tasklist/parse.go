// Package tasklist enumerates and terminates Windows processes through the
// tasklist and taskkill utilities.
package tasklist

import (
	"strings"

	"github.com/core-tools/hsu-iedriver/pkg/process"
)

const (
	// PIDColumn is the header name records are indexed by.
	PIDColumn = "PID"
	// ImageNameColumn is the English header of the executable name column.
	ImageNameColumn = "ImageName"
)

// ProcessRecord is one row of the process table. Records are built fresh on
// every enumeration.
type ProcessRecord struct {
	PID        int // 0 when the PID column did not parse
	ImageName  string
	Attributes map[string]string
}

// Matches reports whether the record belongs to an executable named image.
// Every attribute is compared, since the column names are localized.
func (r ProcessRecord) Matches(image string) bool {
	if strings.EqualFold(r.ImageName, image) {
		return true
	}
	for _, v := range r.Attributes {
		if strings.EqualFold(v, image) {
			return true
		}
	}
	return false
}

// Parse turns `tasklist /FO CSV` output into records.
//
// Each line is normalized before splitting: `",` becomes the field separator
// `";`, then every `"` and `'` is dropped and the line is split on `;`. A
// semicolon inside a quoted value therefore splits that value; tasklist does
// not produce such values for the columns we use. The first non-blank line
// is the header; spaces are removed from its names. When no header is named
// PID the second column is relabeled PID, which holds for every tasklist
// locale seen so far but is a guess.
func Parse(output string) []ProcessRecord {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	header := ParseHeader(lines[0])
	records := make([]ProcessRecord, 0, len(lines)-1)
	for _, line := range lines[1:] {
		records = append(records, newRecord(header, splitLine(line)))
	}
	return records
}

// ParseHeader splits a header line and applies the PID relabel rule.
func ParseHeader(line string) []string {
	head := splitLine(line)
	hasPID := false
	for i := range head {
		head[i] = strings.ReplaceAll(head[i], " ", "")
		if head[i] == PIDColumn {
			hasPID = true
		}
	}
	if !hasPID && len(head) > 1 {
		head[1] = PIDColumn
	}
	return head
}

func splitLine(line string) []string {
	line = strings.ReplaceAll(line, `",`, `";`)
	line = stripQuotes(line)
	return strings.Split(line, ";")
}

func stripQuotes(s string) string {
	return strings.NewReplacer(`"`, "", `'`, "").Replace(s)
}

func newRecord(header, fields []string) ProcessRecord {
	attrs := make(map[string]string, len(header))
	for j, field := range fields {
		if j >= len(header) {
			break
		}
		attrs[header[j]] = stripQuotes(field)
	}

	rec := ProcessRecord{Attributes: attrs}
	if pid, err := process.ValidatePID(attrs[PIDColumn]); err == nil {
		rec.PID = pid
	}
	if name, ok := attrs[ImageNameColumn]; ok {
		rec.ImageName = name
	} else if len(header) > 0 {
		rec.ImageName = attrs[header[0]]
	}
	return rec
}
