// Package tags implements the bracketed tag mini-language exchanged with the
// models: parsing model output into blocks, role-specific validation, and the
// deterministic rebuild of annotated text from source text plus a tag set.
package tags

import (
	"sort"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// Block is one parsed tag block: a [NAME] header and the lines attached to it,
// in order. Field lines are stored as "KEY: value" strings.
type Block struct {
	Tag   string
	Lines []string
}

// Field returns the value of a "KEY: value" line in the block, or "".
func (b *Block) Field(key string) string {
	prefix := key + ":"
	for _, line := range b.Lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

// Content returns the first non-field line of the block, or "".
func (b *Block) Content() string {
	for _, line := range b.Lines {
		if !isFieldLine(line) {
			return line
		}
	}
	return ""
}

// IsEmpty reports whether the block carries no usable content.
func (b *Block) IsEmpty() bool {
	for _, line := range b.Lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

// Entry is one structured annotation in a story's tag set: the authoritative
// record from which annotated text is rebuilt. Line is the 0-based anchor in
// the source text the entry precedes.
type Entry struct {
	Type    config.TagType
	Line    int
	Ordinal int
	Content string
	Fields  map[string]string
}

// tagNameByType maps a tag type to the wire-format tag it renders as.
var tagNameByType = map[config.TagType]string{
	config.TagTypeAmbient:   "AMBIENTE",
	config.TagTypeVoice:     "VOCE",
	config.TagTypeFx:        "EFFETTO",
	config.TagTypeMusic:     "MUSICA",
	config.TagTypeFormatter: "FORMATO",
}

// typeByTagName is the reverse of tagNameByType.
var typeByTagName = func() map[string]config.TagType {
	m := make(map[string]config.TagType, len(tagNameByType))
	for t, name := range tagNameByType {
		m[name] = t
	}
	return m
}()

// TagName returns the wire tag a tag type renders as.
func TagName(t config.TagType) string { return tagNameByType[t] }

// sortedFieldKeys returns the entry's field keys in deterministic order.
func sortedFieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
