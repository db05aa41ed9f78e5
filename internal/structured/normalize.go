package structured

import (
	"fmt"
	"strings"
)

// normalize rewrites relaxed JSON into strict JSON: single-quoted strings
// become double-quoted, bare keys are quoted, trailing commas are dropped,
// Python literals are mapped, and raw control characters inside strings are
// escaped. Strict JSON passes through unchanged.
func normalize(s string) string {
	var (
		b         strings.Builder
		stack     []byte
		expectKey bool
	)
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = writeString(&b, s, i)
			expectKey = false
			continue
		case c == '{':
			stack = append(stack, c)
			expectKey = true
		case c == '[':
			stack = append(stack, c)
			expectKey = false
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			expectKey = false
		case c == ',':
			if j := skipSpace(s, i+1); j < len(s) && (s[j] == '}' || s[j] == ']') {
				i++
				continue
			}
			expectKey = len(stack) > 0 && stack[len(stack)-1] == '{'
		case c == ':':
			expectKey = false
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			word := s[i:j]
			if expectKey {
				if k := skipSpace(s, j); k < len(s) && s[k] == ':' {
					b.WriteByte('"')
					b.WriteString(word)
					b.WriteByte('"')
					i = j
					expectKey = false
					continue
				}
			}
			switch word {
			case "True":
				word = "true"
			case "False":
				word = "false"
			case "None":
				word = "null"
			}
			b.WriteString(word)
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// writeString copies the string literal starting at s[start] to b as a
// double-quoted JSON string and returns the index just past it.
func writeString(b *strings.Builder, s string, start int) int {
	delim := s[start]
	b.WriteByte('"')
	i := start + 1
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == '\\':
			if i+1 >= len(s) {
				b.WriteString(`\\`)
				i++
				continue
			}
			next := s[i+1]
			switch {
			case next == '\'' && delim == '\'':
				b.WriteByte('\'')
			case strings.IndexByte(`"\/bfnrtu`, next) >= 0:
				b.WriteByte('\\')
				b.WriteByte(next)
			default:
				b.WriteString(`\\`)
				b.WriteByte(next)
			}
			i += 2
			continue
		case ch == delim:
			b.WriteByte('"')
			return i + 1
		case ch == '"':
			b.WriteString(`\"`)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20:
			fmt.Fprintf(b, `\u%04x`, ch)
		default:
			b.WriteByte(ch)
		}
		i++
	}
	b.WriteByte('"')
	return i
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}
