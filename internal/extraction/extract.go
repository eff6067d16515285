// Package extraction recovers structured payloads from mostly-text generator
// responses: delimited-tag regions and leniently parsed JSON objects.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
)

// ErrExtractionFailed is returned when no structured value can be recovered
// from text that does contain an object opener.
var ErrExtractionFailed = errors.New("extraction failed")

// Extractor turns generator text into plans and structured values.
type Extractor interface {
	// ExtractTagged returns the trimmed inner text of the first <tag>...</tag>
	// region, or text unchanged when there is none.
	ExtractTagged(text, tag string) string

	// RecoverJSON parses the object starting at the first '{'.
	RecoverJSON(text string) (Value, error)
}

// Default is the Extractor backed by ExtractTagged and RecoverJSON.
type Default struct{}

var _ Extractor = Default{}

func (Default) ExtractTagged(text, tag string) string { return ExtractTagged(text, tag) }

func (Default) RecoverJSON(text string) (Value, error) { return RecoverJSON(text) }

var tagPatterns sync.Map // tag -> *regexp.Regexp

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(tag)
	re := regexp.MustCompile(`(?is)<` + q + `>(.*?)</` + q + `>`)
	tagPatterns.Store(tag, re)
	return re
}

// ExtractTagged returns the trimmed content of the first case-insensitive
// <tag>...</tag> region in text. Text without a complete region is returned
// unchanged.
func ExtractTagged(text, tag string) string {
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return text
	}
	return strings.TrimSpace(m[1])
}

// RecoverJSON locates the first '{' in text and parses the remainder as a
// JSON object, repairing it when strict parsing fails. Trailing prose after
// the object is ignored.
//
// Text with no '{' degrades to {"data": text}. ErrExtractionFailed is
// returned only when neither strict nor repaired parsing succeeds.
func RecoverJSON(text string) (Value, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return Mapping(Map{"data": String(text)}), nil
	}
	candidate := text[start:]

	if v, err := decodeFirst(candidate); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return Value{}, fmt.Errorf("%w: repair: %v", ErrExtractionFailed, err)
	}
	v, err := decodeFirst(repaired)
	if err != nil {
		return Value{}, fmt.Errorf("%w: parse: %v", ErrExtractionFailed, err)
	}
	return v, nil
}

// decodeFirst decodes the first JSON value in s.
func decodeFirst(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	return FromAny(raw), nil
}
