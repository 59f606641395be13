// Package validate parses, repairs and normalizes AI-generated output.
//
// Model output is frequently almost-JSON: fenced in markdown, wrapped in
// prose, carrying Windows paths with unescaped backslashes, or truncated at
// the token limit. ParseJSON runs a fixed ladder of repairs, from least to
// most lossy, and gives up only when none of them yields parseable JSON.
package validate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	trailingCommaObj = regexp.MustCompile(`,\s*}`)
	trailingCommaArr = regexp.MustCompile(`,\s*]`)
	controlChars     = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
)

// ParseJSON extracts and parses a JSON value from raw model output. The
// bool result reports whether any strategy produced valid JSON.
func ParseJSON(text string) (any, bool) {
	text = extractJSON(strings.TrimSpace(text))

	var data any
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return data, true
	} else {
		log.Warn().Err(err).Msg("JSON validation failed")
	}

	if repaired, ok := repairJSON(text); ok {
		return repaired, true
	}
	return nil, false
}

// extractJSON strips markdown fences and surrounding prose, leaving the
// first JSON object (or array) span.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(text[start:], "```"); end != -1 {
			text = strings.TrimSpace(text[start : start+end])
		} else {
			text = strings.TrimSpace(text[start:])
		}
	} else if idx := strings.Index(text, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(text[start:], "```"); end != -1 {
			text = strings.TrimSpace(text[start : start+end])
		} else {
			text = strings.TrimSpace(text[start:])
		}
	}

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return text
	}

	objStart := strings.Index(text, "{")
	objEnd := strings.LastIndex(text, "}") + 1
	if objStart != -1 && objEnd > objStart {
		return text[objStart:objEnd]
	}
	arrStart := strings.Index(text, "[")
	arrEnd := strings.LastIndex(text, "]") + 1
	if arrStart != -1 && arrEnd > arrStart {
		return text[arrStart:arrEnd]
	}
	return text
}

// repairJSON applies the repair ladder in order. Each rung feeds the next;
// the truncation and nuclear rungs both start from the output of the first
// three.
func repairJSON(text string) (any, bool) {
	// Strategy 1: double invalid backslash escapes (\Users, \System32...).
	// Valid JSON escapes after a backslash are: " \ / b f n r t u
	repaired := fixBackslashEscapes(text)

	// Strategy 2: trailing commas
	repaired = trailingCommaObj.ReplaceAllString(repaired, "}")
	repaired = trailingCommaArr.ReplaceAllString(repaired, "]")

	// Strategy 3: control characters
	repaired = controlChars.ReplaceAllString(repaired, "")

	var data any
	if err := json.Unmarshal([]byte(repaired), &data); err == nil {
		return data, true
	} else {
		log.Debug().Err(err).Msg("Repair attempt 1 failed")
	}

	// Strategy 4: truncated output (model hit the token limit): close an
	// odd dangling quote, then balance brackets and braces
	truncated := strings.TrimRight(repaired, " \t\r\n")
	if strings.Count(truncated, `"`)%2 != 0 {
		truncated += `"`
	}
	openBrackets := strings.Count(truncated, "[") - strings.Count(truncated, "]")
	openBraces := strings.Count(truncated, "{") - strings.Count(truncated, "}")
	if openBrackets > 0 {
		truncated += strings.Repeat("]", openBrackets)
	}
	if openBraces > 0 {
		truncated += strings.Repeat("}", openBraces)
	}
	if err := json.Unmarshal([]byte(truncated), &data); err == nil {
		return data, true
	} else {
		log.Debug().Err(err).Msg("Repair attempt 2 (truncated) failed")
	}

	// Strategy 5: nuclear option, strip every backslash not starting
	// \n \r \t \" \\ (lossy but better than no data)
	nuclear := stripStrayBackslashes(repaired)
	if err := json.Unmarshal([]byte(nuclear), &data); err == nil {
		return data, true
	} else {
		log.Warn().Err(err).Msg("All JSON repair strategies failed")
	}
	return nil, false
}

var validEscapes = map[byte]bool{
	'"': true, '\\': true, '/': true, 'b': true,
	'f': true, 'n': true, 'r': true, 't': true, 'u': true,
}

func fixBackslashEscapes(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) {
			next := text[i+1]
			if validEscapes[next] {
				b.WriteByte(c)
				b.WriteByte(next)
			} else {
				b.WriteString(`\\`)
				b.WriteByte(next)
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func stripStrayBackslashes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' {
			if i+1 < len(text) {
				switch text[i+1] {
				case 'n', 'r', 't', '"', '\\':
					b.WriteByte(c)
					b.WriteByte(text[i+1])
					i++
					continue
				}
			}
			continue // drop the stray backslash
		}
		b.WriteByte(c)
	}
	return b.String()
}
