package analysis

import "strings"

// Transform is a pure text rewrite applied before a parse attempt.
type Transform func(string) string

// CleanupSteps run in order. Inner quotes are escaped first so that comma
// stripping sees correct string boundaries.
var CleanupSteps = []Transform{
	escapeInnerQuotes,
	stripTrailingCommas,
}

// Cleanup applies CleanupSteps to trimmed text.
func Cleanup(text string) string {
	text = strings.TrimSpace(text)
	for _, step := range CleanupSteps {
		text = step(text)
	}
	return text
}

// escapeInnerQuotes escapes a '"' inside a string when it cannot be the
// closing quote, i.e. when what follows it is not JSON structure.
func escapeInnerQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case !inString:
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			if closesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesString reports whether rest, the text after a quote, continues a JSON document.
func closesString(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ':', '}', ']':
		return true
	case ',':
		next := strings.TrimLeft(rest[1:], " \t\r\n")
		return next == "" || startsValue(next[0])
	}
	return false
}

func startsValue(c byte) bool {
	switch c {
	case '"', '{', '[', '}', ']', '-', 't', 'f', 'n':
		return true
	}
	return c >= '0' && c <= '9'
}

// stripTrailingCommas drops a ',' that is directly followed by '}' or ']'.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}

		if c == '"' {
			inString = true
		} else if c == ',' {
			next := strings.TrimLeft(s[i+1:], " \t\r\n")
			if next != "" && (next[0] == '}' || next[0] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
