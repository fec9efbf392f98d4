// Package tokenize turns message text into normalized word tokens.
package tokenize

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MinTokenLength is the minimum token length, in characters.
const MinTokenLength = 2

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// defaultStopWords are common Russian and English function words.
var defaultStopWords = []string{
	"и", "в", "на", "с", "по", "за", "до", "о", "у", "а", "но", "или", "же",
	"то", "не", "что", "как", "это", "бы", "был", "была", "было", "так", "вот", "ли",
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of",
	"with", "by", "is", "are", "was", "were", "be", "been", "have", "has", "had",
	"will", "would", "could", "should", "may", "might", "can", "this", "that", "these", "those",
}

// Tokenizer lower-cases text, extracts maximal runs of word characters of at
// least MinTokenLength characters and drops stop words. It is safe for
// concurrent use.
type Tokenizer struct {
	stopWords map[string]struct{}
}

// New returns a Tokenizer with the default stop-word set.
func New() *Tokenizer {
	return NewWithStopWords(defaultStopWords)
}

// NewWithStopWords returns a Tokenizer with a custom stop-word set.
// Duplicates are harmless.
func NewWithStopWords(words []string) *Tokenizer {
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[w] = struct{}{}
	}
	return &Tokenizer{stopWords: stop}
}

// Tokenize returns the filtered tokens of text in order of appearance.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	// A Caser keeps state and must not be shared between goroutines.
	lower := cases.Lower(language.Und).String(text)

	var tokens []string
	for _, word := range wordPattern.FindAllString(lower, -1) {
		if utf8.RuneCountInString(word) < MinTokenLength {
			continue
		}
		if _, stop := t.stopWords[word]; stop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	return len(t.Tokenize(text))
}

// IsStopWord reports whether word is in the stop-word set.
func (t *Tokenizer) IsStopWord(word string) bool {
	_, ok := t.stopWords[word]
	return ok
}
