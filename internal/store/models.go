package store

import (
	"net/url"
	"strings"
	"time"
)

// SiteStatus mirrors the sites.status column.
type SiteStatus string

// Site statuses persisted in sites.status.
const (
	StatusIndexing SiteStatus = "INDEXING"
	StatusIndexed  SiteStatus = "INDEXED"
	StatusFailed   SiteStatus = "FAILED"
)

// Site is one crawl target.
type Site struct {
	ID   int64
	URL  string
	Name string
	// Status is INDEXING while a crawl tree is live, then INDEXED or FAILED.
	Status     SiteStatus
	StatusTime time.Time
	// LastError is empty unless Status is FAILED.
	LastError string
}

// Page is a fetched document, unique per (SiteID, Path).
type Page struct {
	ID         int64
	SiteID     int64
	Path       string
	URL        string
	StatusCode int
	Content    string
}

// Lemma is a site-scoped canonical word form, unique per (SiteID, Text).
type Lemma struct {
	ID     int64
	SiteID int64
	Text   string
	// Frequency is the number of pages on the site holding an Index row for this lemma.
	Frequency int
	// Rank is the weight written by the most recent page commit.
	Rank float64
}

// Index links one page to one lemma with the page's occurrence count as rank.
type Index struct {
	PageID  int64
	LemmaID int64
	Rank    float64
}

// NormalizeSiteURL lowercases the scheme and host and trims trailing slashes.
// The path keeps its case.
func NormalizeSiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}
