// Package lemma reduces free text to canonical word forms using a pluggable
// morphological analyzer.
package lemma

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/sitesearch/internal/markup"
)

// PartOfSpeech tags a candidate analysis of a word.
type PartOfSpeech string

// Parts of speech reported by analyzers. Content covers every open-class word.
const (
	Content      PartOfSpeech = "CONTENT"
	Article      PartOfSpeech = "ART"
	Preposition  PartOfSpeech = "PREP"
	Conjunction  PartOfSpeech = "CONJ"
	Particle     PartOfSpeech = "PART"
	Pronoun      PartOfSpeech = "PRON"
	Interjection PartOfSpeech = "INTJ"
)

// DefaultExcluded lists the non-content parts of speech dropped from the index.
var DefaultExcluded = []PartOfSpeech{Article, Preposition, Conjunction, Particle, Pronoun, Interjection}

// Analysis is one candidate reading of a word.
type Analysis struct {
	NormalForm   string
	PartOfSpeech PartOfSpeech
}

// Analyzer is a morphological backend. Implementations must be safe for
// concurrent use.
type Analyzer interface {
	// IsLetter reports whether r belongs to the language alphabet.
	IsLetter(r rune) bool
	// Analyze returns the candidate analyses of a lowercase word, best first.
	Analyze(word string) []Analysis
}

// Lemmatizer maps text to lemmas. It holds no mutable state.
type Lemmatizer struct {
	analyzer Analyzer
	excluded map[PartOfSpeech]struct{}
}

// New builds a Lemmatizer. With no excluded tags, DefaultExcluded applies.
func New(analyzer Analyzer, excluded ...PartOfSpeech) *Lemmatizer {
	if len(excluded) == 0 {
		excluded = DefaultExcluded
	}
	set := make(map[PartOfSpeech]struct{}, len(excluded))
	for _, pos := range excluded {
		set[pos] = struct{}{}
	}
	return &Lemmatizer{analyzer: analyzer, excluded: set}
}

// LemmaCounts returns lemma -> number of occurrences in text.
func (l *Lemmatizer) LemmaCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, word := range l.words(text) {
		if lemma, ok := l.lemmaOf(word); ok {
			counts[lemma]++
		}
	}
	return counts
}

// LemmaSurfaces returns lemma -> the first surface form seen for it in text.
func (l *Lemmatizer) LemmaSurfaces(text string) map[string]string {
	surfaces := make(map[string]string)
	for _, word := range l.words(text) {
		lemma, ok := l.lemmaOf(word)
		if !ok {
			continue
		}
		if _, seen := surfaces[lemma]; !seen {
			surfaces[lemma] = word
		}
	}
	return surfaces
}

// Lemmas returns the distinct lemmas of text in first-seen order.
func (l *Lemmatizer) Lemmas(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range l.words(text) {
		lemma, ok := l.lemmaOf(word)
		if !ok {
			continue
		}
		if _, dup := seen[lemma]; dup {
			continue
		}
		seen[lemma] = struct{}{}
		out = append(out, lemma)
	}
	return out
}

func (l *Lemmatizer) words(text string) []string {
	plain := strings.ToLower(markup.Text(text))
	cleaned := strings.Map(func(r rune) rune {
		if l.analyzer.IsLetter(r) {
			return r
		}
		return ' '
	}, plain)
	return strings.Fields(cleaned)
}

func (l *Lemmatizer) lemmaOf(word string) (string, bool) {
	if utf8.RuneCountInString(word) <= 1 {
		return "", false
	}
	analyses := l.analyzer.Analyze(word)
	for _, a := range analyses {
		if _, skip := l.excluded[a.PartOfSpeech]; skip {
			return "", false
		}
	}
	for _, a := range analyses {
		if a.NormalForm != "" {
			return a.NormalForm, true
		}
	}
	return "", false
}
