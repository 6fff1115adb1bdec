// Package chunk splits long source text into token-bounded pieces that are
// processed as one model-call unit each. Token counts are approximate
// whitespace-word counts, not a model-specific tokenizer.
package chunk

import "strings"

// Chunk is a contiguous slice of source text. Concatenating the Text of all
// chunks in Ordinal order reconstructs the source exactly; downstream
// pipelines rely on that to merge per-chunk outputs without de-duplication.
type Chunk struct {
	Ordinal    int
	Text       string
	TokenCount int
}

// segment is an atomic unit: chunks never split inside a segment.
type segment struct {
	text   string
	tokens int
}

// Split divides text into chunks honoring the token budget. Segments end at
// line breaks and after sentence terminators (. ! ?). A chunk is closed when
// it reached targetTokens, or when adding the next segment would push it past
// maxTokens, in both cases only once minTokens is satisfied. A single
// oversized segment is emitted as its own chunk rather than split mid-sentence.
// Whitespace-only input yields no chunks.
func Split(text string, minTokens, maxTokens, targetTokens int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := segmentize(text)
	var chunks []Chunk
	var sb strings.Builder
	tokens := 0

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Ordinal:    len(chunks),
			Text:       sb.String(),
			TokenCount: tokens,
		})
		sb.Reset()
		tokens = 0
	}

	for _, seg := range segments {
		if tokens >= minTokens {
			if tokens >= targetTokens || tokens+seg.tokens > maxTokens {
				flush()
			}
		}
		sb.WriteString(seg.text)
		tokens += seg.tokens
	}
	flush()

	return chunks
}

// segmentize cuts text into atomic segments, each ending after a sentence
// terminator or a line break. Terminators stay attached to their segment so
// the concatenation of all segments is byte-identical to the input.
func segmentize(text string) []segment {
	var segments []segment
	start := 0
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Consume a run of terminators ("..." or "?!") as one boundary.
			for i+1 < len(runes) && isTerminator(runes[i+1]) {
				i++
			}
			// Attach a trailing CRLF/LF to the same segment.
			if i+1 < len(runes) && runes[i+1] == '\r' {
				i++
			}
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			segments = appendSegment(segments, runes[start:i+1])
			start = i + 1
		case '\n':
			segments = appendSegment(segments, runes[start:i+1])
			start = i + 1
		}
	}
	if start < len(runes) {
		segments = appendSegment(segments, runes[start:])
	}
	return segments
}

func appendSegment(segments []segment, runes []rune) []segment {
	text := string(runes)
	return append(segments, segment{text: text, tokens: len(strings.Fields(text))})
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
