package lexical

import (
	"strings"
	"unicode"
)

// stopWords is the fixed stop-word set for the corpus language. Tokens in
// this set never reach the BM25 statistics.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "its": {}, "no": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "she": {}, "that": {},
	"the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "who": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

const minTokenRunes = 2

// Tokenize lower-cases the input, extracts runs of Unicode letters and
// digits, and drops stop words and tokens shorter than two runes. The same
// function must tokenize both the corpus and queries.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	out := make([]string, 0, 24)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		token := b.String()
		b.Reset()
		if _, stop := stopWords[token]; stop {
			return
		}
		if len([]rune(token)) < minTokenRunes {
			return
		}
		out = append(out, token)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}
