package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// DefaultNumberPattern matches "(number/[code/]year)" in normalized text.
const DefaultNumberPattern = `\((\d{3,}/([a-zA-Z]{1,5})?/?\d+)\)`

// Normalize drops every character except ASCII digits, letters, '/', '(' and ')'.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '/', c == '(', c == ')':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Extract applies pattern to normalized text and returns every well-formed identifier.
// The first capture group is split on '/'; fewer than two or more than three
// segments, or non-numeric number/year segments, are discarded.
func Extract(text string, pattern *regexp.Regexp) []watch.Identifier {
	var out []watch.Identifier
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		raw := strings.Trim(m[0], "()")
		if len(m) > 1 && m[1] != "" {
			raw = m[1]
		}
		id, ok := splitIdentifier(raw)
		if !ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

func splitIdentifier(raw string) (watch.Identifier, bool) {
	parts := strings.Split(raw, "/")
	var numberPart, codePart, yearPart string
	switch len(parts) {
	case 2:
		numberPart, yearPart = parts[0], parts[1]
	case 3:
		numberPart, codePart, yearPart = parts[0], parts[1], parts[2]
	default:
		return watch.Identifier{}, false
	}
	number, err := strconv.ParseInt(numberPart, 10, 64)
	if err != nil {
		return watch.Identifier{}, false
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return watch.Identifier{}, false
	}
	return watch.Identifier{Number: number, Code: strings.ToUpper(codePart), Year: year}, true
}
