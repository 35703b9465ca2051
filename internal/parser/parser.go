// Package parser extracts structured JSON payloads from free-form provider output.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxPreview bounds the raw text echoed in error messages.
const maxPreview = 500

// fencedBlock matches a fenced block tagged as JSON.
var fencedBlock = regexp.MustCompile("(?is)```[ \\t]*json[ \\t]*\\r?\\n(.*?)```")

// ParseError is returned when no well-formed JSON could be extracted.
// Raw carries the full provider output for diagnostics.
type ParseError struct {
	Message string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse response: %s: %v", e.Message, e.Err)
	}
	return "parse response: " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// RawPreview returns the first n bytes of the raw output.
func (e *ParseError) RawPreview(n int) string {
	return Truncate(e.Raw, n)
}

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parse extracts the first well-formed JSON value from raw.
//
// Candidates are tried in order: a ```json fenced block, the first balanced
// object or array span, then the trimmed full text. Control characters that
// break decoding are stripped before each candidate is checked.
func Parse(raw string) (json.RawMessage, error) {
	var lastErr error
	for _, candidate := range candidates(raw) {
		cleaned := Sanitize(candidate)
		if cleaned == "" {
			continue
		}
		if err := checkJSON(cleaned); err != nil {
			lastErr = err
			continue
		}
		return json.RawMessage(cleaned), nil
	}

	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Message: "empty response", Raw: raw}
	}
	return nil, &ParseError{
		Message: fmt.Sprintf("no valid JSON found in %d chars: %q", len(raw), Truncate(raw, maxPreview)),
		Raw:     raw,
		Err:     lastErr,
	}
}

// ParseInto extracts JSON from raw and decodes it into v.
func ParseInto(raw string, v any) error {
	payload, err := Parse(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ParseError{Message: fmt.Sprintf("decode into %T", v), Raw: raw, Err: err}
	}
	return nil
}

// candidates lists extraction attempts in priority order.
func candidates(raw string) []string {
	var out []string
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if span, ok := BalancedSpan(raw); ok {
		out = append(out, span)
	}
	return append(out, strings.TrimSpace(raw))
}

func checkJSON(s string) error {
	var v json.RawMessage
	return json.Unmarshal([]byte(s), &v)
}

// BalancedSpan returns the first balanced {...} or [...] span in s that is
// valid JSON. String literals are honoured so braces inside quotes do not count.
func BalancedSpan(s string) (string, bool) {
	closes := make(map[int]int)
	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		end, seen := closes[start]
		if !seen {
			end = matchClose(s, start, closes)
		}
		if end < 0 {
			continue
		}
		span := s[start : end+1]
		if json.Valid([]byte(Sanitize(span))) {
			return span, true
		}
	}
	return "", false
}

// matchClose finds the index of the bracket closing the one at start, or -1.
// Every bracket opened during the scan gets its outcome recorded in closes,
// so a later start inside the scanned region is never rescanned.
func matchClose(s string, start int, closes map[int]int) int {
	type open struct {
		pos  int
		want byte
	}
	var stack []open
	fail := func() int {
		for _, o := range stack {
			closes[o.pos] = -1
		}
		return -1
	}

	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, open{pos: i, want: '}'})
		case '[':
			stack = append(stack, open{pos: i, want: ']'})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].want != c {
				return fail()
			}
			closes[stack[len(stack)-1].pos] = i
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return fail()
}

// Sanitize removes control characters (other than tab and newline) that
// providers occasionally emit inside JSON strings.
func Sanitize(s string) string {
	var b bytes.Buffer
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c <= 0x08) || (c >= 0x0B && c <= 0x1F) || c == 0x7F {
			continue
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// Truncate shortens s to at most n bytes, marking the cut. The cut backs off
// to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "... (truncated)"
}
