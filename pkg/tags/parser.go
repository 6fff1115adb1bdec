package tags

import (
	"regexp"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

var (
	tagLinePattern   = regexp.MustCompile(`^\[([A-Z][A-Z0-9_]*)\]\s*(.*)$`)
	fieldLinePattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*:\s*(.*)$`)
)

// knownFieldKeys are keys that belong inside a block even when a model wraps
// them in brackets. A bracketed line whose name is a known field key while a
// block is open is folded into that block instead of opening a new one. VOCE
// is deliberately absent: it is a top-level tag in voice output.
var knownFieldKeys = map[string]bool{
	"TESTO":       true,
	"TONO":        true,
	"VOLUME":      true,
	"DURATA":      true,
	"MOOD":        true,
	"INTENSITA":   true,
	"POSIZIONE":   true,
	"GENERE":      true,
	"STILE":       true,
	"NOME":        true,
	"GENERE_VOCE": true,
	"PERSONAGGIO": true,
	"DESCRIZIONE": true,
}

// ParseTagBlocks parses model output into an ordered list of tag blocks.
// It is forgiving about the framing models actually produce: field lines may
// appear bare ("TONO: cupo") or bracketed ("[TONO] cupo"), blank lines between
// blocks are skipped, and text before the first tag is dropped.
func ParseTagBlocks(text string) []Block {
	var blocks []Block
	var current *Block

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := tagLinePattern.FindStringSubmatch(line); m != nil {
			name, rest := m[1], strings.TrimSpace(m[2])
			if knownFieldKeys[name] && current != nil {
				// Bracketed field variant, fold into the open block.
				current.Lines = append(current.Lines, name+": "+rest)
				continue
			}
			blocks = append(blocks, Block{Tag: name})
			current = &blocks[len(blocks)-1]
			if rest != "" {
				current.Lines = append(current.Lines, rest)
			}
			continue
		}

		if current == nil {
			// Prose before the first tag, not part of any block.
			continue
		}
		if m := fieldLinePattern.FindStringSubmatch(line); m != nil && knownFieldKeys[m[1]] {
			current.Lines = append(current.Lines, m[1]+": "+m[2])
			continue
		}
		current.Lines = append(current.Lines, line)
	}
	return blocks
}

// BlocksByTag returns the blocks carrying the given tag, preserving order.
func BlocksByTag(blocks []Block, tag string) []Block {
	var out []Block
	for _, b := range blocks {
		if b.Tag == tag {
			out = append(out, b)
		}
	}
	return out
}

// isFieldLine reports whether a stored block line is a "KEY: value" field.
func isFieldLine(line string) bool {
	m := fieldLinePattern.FindStringSubmatch(line)
	return m != nil && knownFieldKeys[m[1]]
}

// parseFields splits a block's lines into a field map and the first free-text
// line. Later duplicates of a field key win, matching how models self-correct.
func parseFields(b Block) (fields map[string]string, content string) {
	fields = make(map[string]string)
	for _, line := range b.Lines {
		if m := fieldLinePattern.FindStringSubmatch(line); m != nil && knownFieldKeys[m[1]] {
			fields[m[1]] = m[2]
			continue
		}
		if content == "" {
			content = line
		}
	}
	return fields, content
}

// EntryFromBlock converts one parsed block into an entry anchored at the
// given source line.
func EntryFromBlock(t config.TagType, b Block, line, ordinal int) Entry {
	fields, content := parseFields(b)
	return Entry{Type: t, Line: line, Ordinal: ordinal, Content: content, Fields: fields}
}
