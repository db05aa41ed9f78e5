package structured

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// The field helpers below pull single values out of text that Parse could
// not decode, typically a response truncated in the middle of a later field.

func keyPattern(key string) string {
	return `["']?` + regexp.QuoteMeta(key) + `["']?\s*:\s*`
}

var quotedRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

// StringField returns the string value of key. An unterminated value at the
// end of the text is returned as-is.
func StringField(raw, key string) (string, bool) {
	re, err := regexp.Compile(keyPattern(key) + `"((?:[^"\\]|\\.)*)"?`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return unquote(m[1]), true
}

// IntField returns the integer value of key, accepting quoted digits.
func IntField(raw, key string) (int, bool) {
	re, err := regexp.Compile(keyPattern(key) + `"?(-?\d+)`)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BoolField returns the boolean value of key.
func BoolField(raw, key string) (bool, bool) {
	re, err := regexp.Compile(`(?i)` + keyPattern(key) + `"?(true|false)`)
	if err != nil {
		return false, false
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return false, false
	}
	return strings.EqualFold(m[1], "true"), true
}

// StringListField returns the complete string elements of the array value of
// key. Elements cut off by truncation are dropped.
func StringListField(raw, key string) []string {
	re, err := regexp.Compile(keyPattern(key) + `\[`)
	if err != nil {
		return nil
	}
	loc := re.FindStringIndex(raw)
	if loc == nil {
		return nil
	}
	body := raw[loc[1]:]
	if end := closingBracket(body); end >= 0 {
		body = body[:end]
	}
	var out []string
	for _, m := range quotedRe.FindAllStringSubmatch(body, -1) {
		out = append(out, unquote(m[1]))
	}
	return out
}

// closingBracket finds the ']' ending an array body, skipping quoted text.
func closingBracket(body string) int {
	inString, escaped := false, false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case ']':
			return i
		}
	}
	return -1
}

func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
