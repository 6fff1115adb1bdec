package tags

import (
	"sort"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// Cue is one music cue extracted from tagger output, before placement.
type Cue struct {
	Content string
	Fields  map[string]string
	// Position is the verbatim snippet of a nearby line the model quoted as
	// the insertion point, taken from the POSIZIONE field.
	Position string
}

// CuesFromBlocks extracts music cues from parsed tagger output.
func CuesFromBlocks(blocks []Block) []Cue {
	var cues []Cue
	for _, b := range BlocksByTag(blocks, "MUSICA") {
		if b.IsEmpty() {
			continue
		}
		fields, content := parseFields(b)
		cue := Cue{Content: content, Fields: fields, Position: fields["POSIZIONE"]}
		delete(cue.Fields, "POSIZIONE")
		cues = append(cues, cue)
	}
	return cues
}

// LocateCueAnchor finds the line a cue should be inserted before. The search
// starts at the offset the cue's chunk begins at, so identical snippets in
// earlier chunks are not matched. Returns -1 when the quoted position cannot
// be found.
func LocateCueAnchor(lines []string, cue Cue, fromLine int) int {
	needle := normalizeSnippet(cue.Position)
	if needle == "" {
		return -1
	}
	if fromLine < 0 {
		fromLine = 0
	}
	for i := fromLine; i < len(lines); i++ {
		if strings.Contains(normalizeSnippet(lines[i]), needle) {
			return i
		}
	}
	// Fall back to the full text when the model quoted across chunk bounds.
	for i := 0; i < fromLine && i < len(lines); i++ {
		if strings.Contains(normalizeSnippet(lines[i]), needle) {
			return i
		}
	}
	return -1
}

// SpliceCues inserts music cue lines into annotated text, snapping every
// insertion to a line boundary. When the anchor falls inside an open
// [NARRATORE] block the block is closed implicitly by the cue line and
// reopened right after it, so downstream audio rendering never sees narration
// attributed to a music tag. Cues whose quoted position cannot be located,
// and cues whose content already appears within duplicateWindow lines of the
// anchor, are dropped.
func SpliceCues(annotated string, cues []Cue, fromLine, duplicateWindow int) string {
	lines := strings.Split(annotated, "\n")

	type insertion struct {
		line     int
		rendered []string
	}
	var inserts []insertion

	for _, cue := range cues {
		anchor := LocateCueAnchor(lines, cue, fromLine)
		if anchor < 0 {
			continue
		}
		if duplicateNearby(lines, cue.Content, anchor, duplicateWindow) {
			continue
		}
		rendered := renderCue(cue)
		if opener := openNarratorBlock(lines, anchor); opener != "" {
			rendered = append(rendered, opener)
		}
		inserts = append(inserts, insertion{line: anchor, rendered: rendered})
	}

	if len(inserts) == 0 {
		return annotated
	}
	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].line < inserts[j].line })

	var out []string
	next := 0
	for i, line := range lines {
		for next < len(inserts) && inserts[next].line == i {
			out = append(out, inserts[next].rendered...)
			next++
		}
		out = append(out, line)
	}
	for next < len(inserts) {
		out = append(out, inserts[next].rendered...)
		next++
	}
	return strings.Join(out, "\n")
}

func renderCue(cue Cue) []string {
	header := "[MUSICA]"
	if cue.Content != "" {
		header += " " + cue.Content
	}
	rendered := []string{header}
	for _, key := range sortedFieldKeys(cue.Fields) {
		rendered = append(rendered, key+": "+cue.Fields[key])
	}
	return rendered
}

// openNarratorBlock returns the [NARRATORE] opener to re-emit after an
// insertion at the given line, or "" when the line is not inside one. The
// most recent tag header above the anchor decides.
func openNarratorBlock(lines []string, anchor int) string {
	for i := anchor - 1; i >= 0; i-- {
		m := tagLinePattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil || knownFieldKeys[m[1]] {
			continue
		}
		if m[1] == "NARRATORE" {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}
	return ""
}

// duplicateNearby reports whether the cue content already appears verbatim
// within window lines of the anchor, in either direction.
func duplicateNearby(lines []string, content string, anchor, window int) bool {
	needle := normalizeSnippet(content)
	if needle == "" {
		return false
	}
	lo := anchor - window
	if lo < 0 {
		lo = 0
	}
	hi := anchor + window
	if hi > len(lines) {
		hi = len(lines)
	}
	for i := lo; i < hi; i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "[MUSICA]") {
			continue
		}
		if strings.Contains(normalizeSnippet(line), needle) {
			return true
		}
	}
	return false
}

// FilterMusicTagsByProximity drops music entries that land closer than
// minDistance lines to the previously kept one. Entries of other types pass
// through untouched. Entries are compared in anchor order.
func FilterMusicTagsByProximity(entries []Entry, minDistance int) []Entry {
	if minDistance <= 0 {
		return entries
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	lastKept := -minDistance - 1
	var out []Entry
	for _, e := range sorted {
		if e.Type != config.TagTypeMusic {
			out = append(out, e)
			continue
		}
		if e.Line-lastKept < minDistance {
			continue
		}
		lastKept = e.Line
		out = append(out, e)
	}
	return out
}

func normalizeSnippet(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
