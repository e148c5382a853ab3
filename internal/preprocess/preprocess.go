// Package preprocess implements the two text normalization passes of the
// pipeline: the heavy pass feeding the topic model's vectorizer and the
// light pass feeding the embedder.
package preprocess

import (
	"strings"
	"unicode"
)

// minTokenLen drops tokens shorter than this after normalization.
const minTokenLen = 2

// defaultStopwords is the built-in stopword list; per-column stopwords from
// the schema are applied on top.
var defaultStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}

// Heavy normalizes documents for the vectorizer: lowercase, strip
// non-letter runes, drop stopwords, crude suffix stemming. Frequency
// filtering is the vectorizer's job; preprocessing never removes a
// document, so empty input rows yield empty output rows and row alignment
// with the workspace is preserved.
func Heavy(docs []string, stopwords []string) []string {
	stop := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		stop[strings.ToLower(w)] = true
	}

	out := make([]string, len(docs))

	for i, doc := range docs {
		var kept []string

		for _, tok := range tokenize(doc) {
			if defaultStopwords[tok] || stop[tok] {
				continue
			}

			tok = stem(tok)
			if len(tok) < minTokenLen {
				continue
			}

			kept = append(kept, tok)
		}

		out[i] = strings.Join(kept, " ")
	}

	return out
}

// Light normalizes documents for the embedder: lowercase and whitespace
// collapse only, keeping the wording intact.
func Light(docs []string) []string {
	out := make([]string, len(docs))

	for i, doc := range docs {
		out[i] = strings.Join(strings.Fields(strings.ToLower(doc)), " ")
	}

	return out
}

// NonEmptyMask returns, for each document, whether it survived
// preprocessing, plus the indices of the survivors. The mask aligns
// workspace rows with vector rows.
func NonEmptyMask(docs []string) (mask []bool, indices []int) {
	mask = make([]bool, len(docs))

	for i, doc := range docs {
		if strings.TrimSpace(doc) != "" {
			mask[i] = true
			indices = append(indices, i)
		}
	}

	return mask, indices
}

// tokenize lowercases and splits on non-letter runes.
func tokenize(doc string) []string {
	return strings.FieldsFunc(strings.ToLower(doc), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// stem strips a few high-frequency English suffixes. Not a real lemmatizer;
// enough to collapse trivial inflection for the reference pipeline.
func stem(tok string) string {
	for _, suffix := range []string{"ing", "edly", "ed", "ies", "es", "s"} {
		if strings.HasSuffix(tok, suffix) && len(tok)-len(suffix) >= minTokenLen+1 {
			return tok[:len(tok)-len(suffix)]
		}
	}

	return tok
}
