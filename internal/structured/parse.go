// Package structured recovers typed data from free-form model output.
//
// Model responses are treated as untrusted text: they may be wrapped in
// markdown fences, surrounded by prose, cut off mid-object, or written in a
// relaxed JSON dialect. Parse never panics and never returns an error to the
// caller; instead it reports whether the typed value came from the response
// or from the caller's fallback.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Outcome tags how a Result was produced.
type Outcome int

const (
	// OutcomeFallback means the caller's fallback value was returned.
	OutcomeFallback Outcome = iota
	// OutcomeOK means the value was decoded from the response.
	OutcomeOK
)

func (o Outcome) String() string {
	if o == OutcomeOK {
		return "ok"
	}
	return "fallback"
}

// Result is the tagged outcome of Parse.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	// Err explains why the fallback was used. Nil when Outcome is OutcomeOK.
	Err error
}

// Ok reports whether Value was decoded from the response.
func (r Result[T]) Ok() bool { return r.Outcome == OutcomeOK }

var (
	// ErrNoStructure is reported when the response holds no object or array.
	ErrNoStructure = errors.New("no structured region found")
)

// Parse extracts the first JSON object (or, failing that, array) embedded in
// raw and decodes it into a fresh T. On any failure the fallback is returned
// unchanged with Outcome set to OutcomeFallback.
func Parse[T any](raw string, fallback T) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Value: fallback, Outcome: OutcomeFallback, Err: fmt.Errorf("parse panic: %v", r)}
		}
	}()

	text := stripFences(raw)
	lastErr := ErrNoStructure
	for _, open := range []byte{'{', '['} {
		region, ok := locate(text, open)
		if !ok {
			continue
		}
		var out T
		if err := json.Unmarshal([]byte(normalize(region)), &out); err != nil {
			lastErr = fmt.Errorf("decode: %w", err)
			continue
		}
		return Result[T]{Value: out, Outcome: OutcomeOK}
	}
	return Result[T]{Value: fallback, Outcome: OutcomeFallback, Err: lastErr}
}

// Extract returns the normalized JSON text of the first object in raw, for
// callers that want to decode it themselves.
func Extract(raw string) (string, error) {
	region, ok := locate(stripFences(raw), '{')
	if !ok {
		return "", ErrNoStructure
	}
	return normalize(region), nil
}

// stripFences drops a leading ```lang line that precedes the structured
// region and a trailing ``` fence. Fences inside string values are left alone;
// the region scanner skips over them.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	first := strings.IndexAny(t, "{[")
	if fence := strings.Index(t, "```"); fence >= 0 && (first < 0 || fence < first) {
		rest := t[fence+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
		t = rest
	}
	t = strings.TrimSpace(t)
	if strings.HasSuffix(t, "```") {
		t = strings.TrimSpace(strings.TrimSuffix(t, "```"))
	}
	return t
}

// locate returns the first balanced region starting at open. A region that
// runs off the end of the text is closed best-effort.
func locate(s string, open byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	var (
		stack   []byte
		quote   byte
		escaped bool
	)
	for i := start; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return closeTruncated(s[start:], stack, quote), true
}

// closeTruncated terminates an unfinished string and appends the missing
// closers so a response cut off by a token limit keeps its complete fields.
func closeTruncated(region string, stack []byte, quote byte) string {
	var b strings.Builder
	b.WriteString(region)
	if quote != 0 {
		if strings.HasSuffix(region, "\\") {
			b.WriteByte('\\')
		}
		b.WriteByte(quote)
	}
	out := strings.TrimRight(b.String(), " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	if strings.HasSuffix(out, ":") {
		out += " null"
	}
	b.Reset()
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
