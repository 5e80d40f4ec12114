// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package compress

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Split cuts text into chunks of at most size runes. Paragraphs are packed
// whole into a chunk when they fit; a longer paragraph is cut at whitespace
// into windows that repeat overlap runes of the previous window.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	var (
		chunks []string
		cur    strings.Builder
		used   int
	)
	flush := func() {
		if used > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			used = 0
		}
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > size {
			flush()
			chunks = append(chunks, window(para, size, overlap)...)
			continue
		}
		sep := 0
		if used > 0 {
			sep = 2
		}
		if used+sep+n > size {
			flush()
			sep = 0
		}
		if sep > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
		used += sep + n
	}
	flush()
	return chunks
}

func window(para string, size, overlap int) []string {
	rs := []rune(para)
	var out []string
	for start := 0; start < len(rs); {
		end := start + size
		if end >= len(rs) {
			end = len(rs)
		} else {
			for cut := end; cut > start+size/2; cut-- {
				if unicode.IsSpace(rs[cut]) {
					end = cut
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(rs[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(rs) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// Clip shortens s to at most n bytes without splitting a UTF-8 sequence.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func termCounts(text string) (map[string]int, int) {
	toks := tokens(text)
	counts := make(map[string]int, len(toks))
	for _, t := range toks {
		counts[t]++
	}
	return counts, len(toks)
}

// queryTerms returns the distinct content words of query.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokens(query) {
		if utf8.RuneCountInString(t) < 2 || stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "what": true,
	"when": true, "which": true, "who": true, "why": true, "with": true,
	"does": true, "do": true, "can": true, "about": true, "into": true,
	"its": true, "their": true, "there": true, "these": true, "those": true,
}
