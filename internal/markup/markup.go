// Package markup turns stored HTML into plain text, titles and absolute links.
package markup

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const noiseSelector = "script, style, noscript, template, iframe, svg"

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Text returns the visible text of the document body with entities decoded.
// Text of adjacent elements is separated by a space.
func Text(html string) string {
	doc, err := parse(html)
	if err != nil {
		return ""
	}
	doc.Find(noiseSelector).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	root.Contents().Each(func(_ int, s *goquery.Selection) {
		collectText(s, &b)
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(s *goquery.Selection, b *strings.Builder) {
	if goquery.NodeName(s) == "#text" {
		b.WriteString(s.Text())
		return
	}
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		collectText(child, b)
	})
	b.WriteByte(' ')
}

// Title returns the trimmed <title> text, or "" when absent.
func Title(html string) string {
	doc, err := parse(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Links returns the href targets of all anchors resolved against base.
// Unparseable targets are skipped; duplicates are kept in document order only once.
func Links(html string, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := parse(html)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}
