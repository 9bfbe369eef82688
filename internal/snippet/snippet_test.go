package snippet_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch/internal/lemma"
	"github.com/JakeFAU/sitesearch/internal/snippet"
)

func newExtractor(t *testing.T) *snippet.Extractor {
	t.Helper()
	analyzer, err := lemma.NewSnowball("english")
	require.NoError(t, err)
	return snippet.New(lemma.New(analyzer))
}

func TestExtractHighlightsMatchedWord(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	got := e.Extract("<html><body><p>The quick fox jumps</p></body></html>", "fox")

	assert.Equal(t, "The quick <b>fox</b> jumps ...", got)
	assert.Equal(t, 1, strings.Count(got, "<b>"))
}

func TestExtractUsesDocumentSurfaceForm(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	got := e.Extract("<p>Several foxes crossed the road.</p>", "fox")

	assert.Contains(t, got, "<b>foxes</b>")
	assert.NotContains(t, got, "<b>road</b>")
}

func TestExtractLimitsWindowToSentence(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	content := "<p>Intro sentence here. one two three four five six seven target eight nine ten eleven twelve thirteen! Outro.</p>"
	got := e.Extract(content, "target")

	assert.Equal(t, "three four five six seven <b>target</b> eight nine ten eleven twelve ...", got)
	assert.NotContains(t, got, "Intro")
	assert.NotContains(t, got, "Outro")
}

func TestExtractOneExcerptPerQueryWord(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	content := "<p>Cats sleep all day. Dogs bark at night.</p>"
	got := e.Extract(content, "dog cat")

	dog := strings.Index(got, "<b>Dogs</b>")
	cat := strings.Index(got, "<b>Cats</b>")
	require.GreaterOrEqual(t, dog, 0)
	require.GreaterOrEqual(t, cat, 0)
	assert.Less(t, dog, cat, "excerpts follow query order")
	assert.Equal(t, 2, strings.Count(got, "..."))
}

func TestExtractNoMatch(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	assert.Empty(t, e.Extract("<p>The quick fox jumps</p>", "elephant"))
	assert.Empty(t, e.Extract("", "fox"))
}
