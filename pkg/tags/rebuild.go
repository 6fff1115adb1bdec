package tags

import (
	"sort"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// Rebuild renders annotated text from source text plus a tag set. It is a
// pure function: equal inputs always produce byte-identical output, so the
// annotated text can be discarded and regenerated at any time.
//
// Each entry is rendered immediately before its anchor line, as a "[TAG]"
// header (with the entry content on the same line) followed by its fields in
// sorted key order. Entries anchored past the end of the source are appended
// after the last line. Entries sharing an anchor keep ordinal order.
func Rebuild(source string, entries []Entry) string {
	lines := strings.Split(source, "\n")

	byLine := make(map[int][]Entry)
	for _, e := range entries {
		anchor := e.Line
		if anchor < 0 {
			anchor = 0
		}
		if anchor > len(lines) {
			anchor = len(lines)
		}
		byLine[anchor] = append(byLine[anchor], e)
	}
	for anchor := range byLine {
		group := byLine[anchor]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Ordinal != group[j].Ordinal {
				return group[i].Ordinal < group[j].Ordinal
			}
			if group[i].Type != group[j].Type {
				return group[i].Type < group[j].Type
			}
			return group[i].Content < group[j].Content
		})
	}

	var out []string
	for i, line := range lines {
		for _, e := range byLine[i] {
			out = append(out, renderEntry(e)...)
		}
		out = append(out, line)
	}
	for _, e := range byLine[len(lines)] {
		out = append(out, renderEntry(e)...)
	}
	return strings.Join(out, "\n")
}

func renderEntry(e Entry) []string {
	header := "[" + TagName(e.Type) + "]"
	if e.Content != "" {
		header += " " + e.Content
	}
	rendered := []string{header}
	for _, key := range sortedFieldKeys(e.Fields) {
		rendered = append(rendered, key+": "+e.Fields[key])
	}
	return rendered
}

// ParseAnnotated splits annotated text back into source text and the tag set
// that produced it. It is the inverse of Rebuild for well-formed input: a tag
// header line opens an entry anchored at the current source position, and the
// consecutive field lines that follow belong to it. Every other line is
// source text.
func ParseAnnotated(annotated string) (string, []Entry) {
	var (
		sourceLines []string
		entries     []Entry
		current     *Entry
		ordinals    = make(map[int]int)
	)

	closeCurrent := func() {
		if current != nil {
			entries = append(entries, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(annotated, "\n") {
		if m := tagLinePattern.FindStringSubmatch(line); m != nil {
			if t, ok := typeByTagName[m[1]]; ok {
				closeCurrent()
				anchor := len(sourceLines)
				current = &Entry{
					Type:    t,
					Line:    anchor,
					Ordinal: ordinals[anchor],
					Content: strings.TrimSpace(m[2]),
					Fields:  make(map[string]string),
				}
				ordinals[anchor]++
				continue
			}
		}
		if current != nil {
			if m := fieldLinePattern.FindStringSubmatch(line); m != nil && knownFieldKeys[m[1]] {
				current.Fields[m[1]] = m[2]
				continue
			}
		}
		closeCurrent()
		sourceLines = append(sourceLines, line)
	}
	closeCurrent()

	return strings.Join(sourceLines, "\n"), entries
}

// MergeByType replaces every entry of the given type in base with the
// replacement set, leaving the other types untouched. The result is re-sorted
// by anchor line so rebuild input stays canonical.
func MergeByType(base []Entry, t config.TagType, replacement []Entry) []Entry {
	merged := make([]Entry, 0, len(base)+len(replacement))
	for _, e := range base {
		if e.Type != t {
			merged = append(merged, e)
		}
	}
	merged = append(merged, replacement...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Line != merged[j].Line {
			return merged[i].Line < merged[j].Line
		}
		return merged[i].Ordinal < merged[j].Ordinal
	})
	return merged
}
