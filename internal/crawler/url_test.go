package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"HTTPS://Example.com":               "https://example.com/",
		"http://example.com:80/a#top":       "http://example.com/a",
		"https://example.com:443/a?b=2&a=1": "https://example.com/a?a=1&b=2",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("://bad")
	require.Error(t, err)
}

func TestPagePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", PagePath("https://example.com"))
	assert.Equal(t, "/docs/a", PagePath("https://example.com/docs/a?x=1"))
	assert.Equal(t, "/", PagePath("://bad"))
}

func TestLinkFilterAllow(t *testing.T) {
	t.Parallel()

	filter, err := newLinkFilter("https://example.com/", DefaultExcludedSuffixes)
	require.NoError(t, err)

	allowed := []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/blog/post-1/",
		"HTTPS://EXAMPLE.COM/Upper",
	}
	for _, link := range allowed {
		assert.True(t, filter.Allow(link), link)
	}

	rejected := []string{
		"https://example.com/a?x=1",
		"https://example.com/a#section",
		"https://example.com/logo.png",
		"https://example.com/files/report.PDF",
		"https://other.org/about",
		"https://example.com.evil.org/about",
		"http://example.com/about",
		"mailto:someone@example.com",
	}
	for _, link := range rejected {
		assert.False(t, filter.Allow(link), link)
	}
}

func TestLinkFilterSuffixNormalization(t *testing.T) {
	t.Parallel()

	filter, err := newLinkFilter("https://example.com", []string{".ZIP", " ", "csv"})
	require.NoError(t, err)
	assert.False(t, filter.Allow("https://example.com/dump.zip"))
	assert.False(t, filter.Allow("https://example.com/data.csv"))
	assert.True(t, filter.Allow("https://example.com/logo.png"))
}
