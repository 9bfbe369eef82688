// Package snippet builds highlighted excerpts of page text around query words.
package snippet

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/sitesearch/internal/markup"
)

// Separator follows every excerpt window.
const Separator = " ... "

// Window is the number of tokens kept on each side of a match.
const Window = 5

var sentenceBreak = regexp.MustCompile(`[.!?]`)

// Lemmatizer exposes the surface-form view of lemmatization.
type Lemmatizer interface {
	Lemmas(text string) []string
	LemmaSurfaces(text string) map[string]string
}

// Extractor produces snippets for stored page markup.
type Extractor struct {
	lemmatizer Lemmatizer
}

// New returns an Extractor backed by lemmatizer.
func New(lemmatizer Lemmatizer) *Extractor {
	return &Extractor{lemmatizer: lemmatizer}
}

// Extract returns excerpts of content around the words matching query lemmas,
// with every token containing a matched word wrapped in <b></b>.
func (e *Extractor) Extract(content, query string) string {
	words := e.matchedSurfaces(content, query)
	if len(words) == 0 {
		return ""
	}

	segments := sentenceBreak.Split(markup.Text(content), -1)
	var b strings.Builder
	for _, word := range words {
		if excerpt, ok := excerptFor(segments, word); ok {
			b.WriteString(excerpt)
			b.WriteString(Separator)
		}
	}
	return highlight(b.String(), words)
}

// matchedSurfaces lists the document surface forms of query lemmas, in query order.
func (e *Extractor) matchedSurfaces(content, query string) []string {
	surfaces := e.lemmatizer.LemmaSurfaces(content)
	var words []string
	for _, lemma := range e.lemmatizer.Lemmas(query) {
		if surface, ok := surfaces[lemma]; ok {
			words = append(words, surface)
		}
	}
	return words
}

func excerptFor(segments []string, word string) (string, bool) {
	lower := strings.ToLower(word)
	pattern, err := regexp.Compile(`(?i)(?:^|\s)((?:\S+\s+){0,` + strconv.Itoa(Window) + `}\S*` +
		regexp.QuoteMeta(word) + `\S*(?:\s+\S+){0,` + strconv.Itoa(Window) + `})`)
	if err != nil {
		return "", false
	}
	for _, segment := range segments {
		if !strings.Contains(strings.ToLower(segment), lower) {
			continue
		}
		if m := pattern.FindStringSubmatch(segment); m != nil {
			return strings.Join(strings.Fields(m[1]), " "), true
		}
	}
	return "", false
}

func highlight(text string, words []string) string {
	tokens := strings.Fields(text)
	for i, token := range tokens {
		lower := strings.ToLower(token)
		for _, word := range words {
			if strings.Contains(lower, strings.ToLower(word)) {
				tokens[i] = "<b>" + token + "</b>"
				break
			}
		}
	}
	return strings.Join(tokens, " ")
}
