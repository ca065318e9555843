// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonextract recovers a JSON payload embedded in free-form LLM
// prose: raw JSON, a fenced ```json block, a fenced ``` block, or a
// scanned balanced-brace span. This is inherently heuristic (see the
// "JSON extraction from prose" design note); it tolerates strings
// containing braces and rejects unbalanced input.
package jsonextract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// MaxPayloadBytes caps any recovered JSON payload (spec.md §4.7.3).
const MaxPayloadBytes = 100_000

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAny  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// Extract attempts, in order: raw JSON; a ```json fenced block; a plain
// ``` fenced block; a scanned balanced-brace span. It returns the first
// candidate that parses as valid JSON, capped at MaxPayloadBytes.
func Extract(text string) (json.RawMessage, bool) {
	candidates := []string{strings.TrimSpace(text)}

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := fencedAny.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if span, ok := scanBalancedBraces(text); ok {
		candidates = append(candidates, span)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if len(c) > MaxPayloadBytes {
			c = c[:MaxPayloadBytes]
		}
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), true
		}
	}
	return nil, false
}

// scanBalancedBraces returns the first top-level {...} span, respecting
// quoted strings and escape sequences, or false if braces never balance.
func scanBalancedBraces(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Sanitize neutralizes prompt-injection-prone substrings before they
// are embedded in an LLM prompt, per spec.md §4.7.3: braces are doubled
// and separator patterns are broken up with interleaved spaces.
// Content longer than 10000 bytes is truncated with a trailing marker.
func Sanitize(s string) string {
	const maxBytes = 10_000
	s = strings.ReplaceAll(s, "{", "{{")
	s = strings.ReplaceAll(s, "}", "}}")

	for _, sep := range []string{"---", "===", "###"} {
		s = breakSeparator(s, sep)
	}

	if len(s) > maxBytes {
		s = s[:maxBytes] + "...[truncated]"
	}
	return s
}

func breakSeparator(s, sep string) string {
	if !strings.Contains(s, sep) {
		return s
	}
	var broken strings.Builder
	for i, r := range sep {
		if i > 0 {
			broken.WriteByte(' ')
		}
		broken.WriteRune(r)
	}
	return strings.ReplaceAll(s, sep, broken.String())
}
