package chunker

import (
	"strings"
	"unicode"
)

// sentence is an intermediate split unit. endsParagraph marks the last
// sentence before a blank line, the preferred flush point.
type sentence struct {
	text          string
	endsParagraph bool
}

// splitParagraphs splits on blank lines, trimming each paragraph and dropping
// empties.
func splitParagraphs(text string) []string {
	raw := strings.Split(normalizeNewlines(text), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts text on sentence-final punctuation followed by
// whitespace. Abbreviation handling is deliberately simple; a false split is
// harmless because chunks regroup whole sentences anyway.
func splitSentences(text string) []sentence {
	var out []sentence
	for _, para := range splitParagraphs(text) {
		start := 0
		runes := []rune(para)
		for i := 0; i < len(runes); i++ {
			if !isSentenceEnd(runes[i]) {
				continue
			}
			// Absorb closing quotes/brackets after the terminator.
			j := i + 1
			for j < len(runes) && isClosing(runes[j]) {
				j++
			}
			if j < len(runes) && !unicode.IsSpace(runes[j]) {
				continue
			}
			s := strings.TrimSpace(string(runes[start:j]))
			if s != "" {
				out = append(out, sentence{text: s})
			}
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
		}
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, sentence{text: tail})
		}
		if len(out) > 0 {
			out[len(out)-1].endsParagraph = true
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func joinParagraphs(paras []string) string {
	return strings.Join(paras, "\n\n")
}

func joinSentences(sentences []string) string {
	return strings.Join(sentences, " ")
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
