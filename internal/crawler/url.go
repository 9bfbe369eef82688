package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultExcludedSuffixes lists file extensions that are never crawled.
var DefaultExcludedSuffixes = []string{
	"jpeg", "jpg", "png", "gif", "svg", "webp", "bmp", "ico",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"zip", "rar", "gz", "mp3", "mp4", "avi", "mov",
}

// NormalizeURL standardizes a URL for visited-set membership.
// It lowercases the scheme and host, removes default ports and the fragment,
// sorts query parameters and turns an empty path into "/".
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// PagePath returns the path stored for a page URL, "/" when empty.
func PagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// linkFilter keeps links that stay under the site URL and name a document.
type linkFilter struct {
	host     string
	pattern  *regexp.Regexp
	suffixes []string
}

func newLinkFilter(siteURL string, suffixes []string) (*linkFilter, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	base := strings.TrimRight(siteURL, "/")
	// Path-only continuation: no query string, no fragment.
	pattern, err := regexp.Compile(`(?i)^` + regexp.QuoteMeta(base) + `[-\w+/=~_|!:,.;]*[^#?]/?$`)
	if err != nil {
		return nil, fmt.Errorf("compile link pattern: %w", err)
	}
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
		if s != "" {
			normalized = append(normalized, "."+s)
		}
	}
	return &linkFilter{
		host:     strings.ToLower(u.Hostname()),
		pattern:  pattern,
		suffixes: normalized,
	}, nil
}

// Allow reports whether link should be crawled.
func (f *linkFilter) Allow(link string) bool {
	if !f.pattern.MatchString(link) {
		return false
	}
	u, err := url.Parse(link)
	if err != nil || strings.ToLower(u.Hostname()) != f.host {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(u.Path, "/"))
	for _, suffix := range f.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}
