package lemma

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"
	"github.com/kljensen/snowball/russian"
)

type language struct {
	stem     func(word string, stemStopWords bool) string
	isLetter func(r rune) bool
	closed   map[PartOfSpeech][]string
}

var languages = map[string]language{
	"english": {
		stem:     english.Stem,
		isLetter: func(r rune) bool { return r >= 'a' && r <= 'z' },
		closed:   englishClosedClass,
	},
	"russian": {
		stem:     russian.Stem,
		isLetter: func(r rune) bool { return (r >= 'а' && r <= 'я') || r == 'ё' },
		closed:   russianClosedClass,
	},
}

// Languages lists the supported analyzer languages.
func Languages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SnowballAnalyzer stems open-class words with the Snowball stemmer and tags
// closed-class words from a fixed dictionary.
type SnowballAnalyzer struct {
	lang   language
	closed map[string][]PartOfSpeech
}

var _ Analyzer = (*SnowballAnalyzer)(nil)

// NewSnowball builds an analyzer for one of Languages().
func NewSnowball(name string) (*SnowballAnalyzer, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", name)
	}
	closed := make(map[string][]PartOfSpeech)
	for pos, words := range lang.closed {
		for _, w := range words {
			closed[w] = append(closed[w], pos)
		}
	}
	return &SnowballAnalyzer{lang: lang, closed: closed}, nil
}

// IsLetter reports whether r is in the language alphabet.
func (a *SnowballAnalyzer) IsLetter(r rune) bool {
	return a.lang.isLetter(r)
}

// Analyze returns the closed-class readings of word, or its stem as a content word.
func (a *SnowballAnalyzer) Analyze(word string) []Analysis {
	if tags, ok := a.closed[word]; ok {
		out := make([]Analysis, 0, len(tags))
		for _, pos := range tags {
			out = append(out, Analysis{NormalForm: word, PartOfSpeech: pos})
		}
		return out
	}
	stem := a.lang.stem(word, true)
	if stem == "" {
		return nil
	}
	return []Analysis{{NormalForm: stem, PartOfSpeech: Content}}
}
