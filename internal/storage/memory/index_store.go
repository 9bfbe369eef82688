package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitesearch/internal/store"
)

type pageKey struct {
	siteID int64
	path   string
}

type lemmaKey struct {
	siteID int64
	text   string
}

// IndexStore provides an in-memory store.Repository for development/testing.
type IndexStore struct {
	mu sync.RWMutex

	nextID int64

	sites  map[int64]store.Site
	pages  map[int64]store.Page
	lemmas map[int64]store.Lemma

	pagesByPath    map[pageKey]int64
	lemmasByText   map[lemmaKey]int64
	indicesByPage  map[int64]map[int64]float64
	indicesByLemma map[int64]map[int64]float64
}

var _ store.Repository = (*IndexStore)(nil)

// NewIndexStore constructs an empty IndexStore.
func NewIndexStore() *IndexStore {
	return &IndexStore{
		sites:          make(map[int64]store.Site),
		pages:          make(map[int64]store.Page),
		lemmas:         make(map[int64]store.Lemma),
		pagesByPath:    make(map[pageKey]int64),
		lemmasByText:   make(map[lemmaKey]int64),
		indicesByPage:  make(map[int64]map[int64]float64),
		indicesByLemma: make(map[int64]map[int64]float64),
	}
}

func (s *IndexStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// CreateSite inserts a site and assigns its ID.
func (s *IndexStore) CreateSite(_ context.Context, site store.Site) (store.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site.ID = s.newID()
	s.sites[site.ID] = site
	return site, nil
}

// GetSite fetches a site by ID.
func (s *IndexStore) GetSite(_ context.Context, id int64) (store.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return store.Site{}, fmt.Errorf("site %d: %w", id, store.ErrNotFound)
	}
	return site, nil
}

// FindSiteByURL returns the site whose URL matches ignoring host case and trailing slashes.
func (s *IndexStore) FindSiteByURL(_ context.Context, url string) (store.Site, error) {
	want := store.NormalizeSiteURL(url)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedSiteIDs() {
		if store.NormalizeSiteURL(s.sites[id].URL) == want {
			return s.sites[id], nil
		}
	}
	return store.Site{}, fmt.Errorf("site %q: %w", url, store.ErrNotFound)
}

// ListSites returns all sites ordered by ID.
func (s *IndexStore) ListSites(_ context.Context) ([]store.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedSiteIDs()
	out := make([]store.Site, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sites[id])
	}
	return out, nil
}

func (s *IndexStore) sortedSiteIDs() []int64 {
	ids := make([]int64, 0, len(s.sites))
	for id := range s.sites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DeleteSite removes a site together with its pages, lemmas and indices.
func (s *IndexStore) DeleteSite(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[id]; !ok {
		return fmt.Errorf("site %d: %w", id, store.ErrNotFound)
	}
	for pageID, page := range s.pages {
		if page.SiteID == id {
			s.deletePageLocked(pageID)
		}
	}
	for lemmaID, lemma := range s.lemmas {
		if lemma.SiteID == id {
			s.deleteLemmaLocked(lemmaID)
		}
	}
	delete(s.sites, id)
	return nil
}

// UpdateSiteStatus sets status, last error and status time.
func (s *IndexStore) UpdateSiteStatus(
	_ context.Context,
	id int64,
	status store.SiteStatus,
	lastError string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return fmt.Errorf("site %d: %w", id, store.ErrNotFound)
	}
	site.Status = status
	site.LastError = lastError
	site.StatusTime = at
	s.sites[id] = site
	return nil
}

// TouchSite refreshes the status time.
func (s *IndexStore) TouchSite(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return fmt.Errorf("site %d: %w", id, store.ErrNotFound)
	}
	site.StatusTime = at
	s.sites[id] = site
	return nil
}

// CreatePage inserts a page, rejecting a duplicate (site, path).
func (s *IndexStore) CreatePage(_ context.Context, page store.Page) (store.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[page.SiteID]; !ok {
		return store.Page{}, fmt.Errorf("site %d: %w", page.SiteID, store.ErrNotFound)
	}
	key := pageKey{siteID: page.SiteID, path: page.Path}
	if _, exists := s.pagesByPath[key]; exists {
		return store.Page{}, fmt.Errorf("page %q: %w", page.Path, store.ErrConflict)
	}
	page.ID = s.newID()
	s.pages[page.ID] = page
	s.pagesByPath[key] = page.ID
	return page, nil
}

// GetPage fetches a page by ID.
func (s *IndexStore) GetPage(_ context.Context, id int64) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return store.Page{}, fmt.Errorf("page %d: %w", id, store.ErrNotFound)
	}
	return page, nil
}

// FindPage fetches a page by (site, path).
func (s *IndexStore) FindPage(_ context.Context, siteID int64, path string) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pagesByPath[pageKey{siteID: siteID, path: path}]
	if !ok {
		return store.Page{}, fmt.Errorf("page %q: %w", path, store.ErrNotFound)
	}
	return s.pages[id], nil
}

// DeletePage removes a page and its Index rows.
func (s *IndexStore) DeletePage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; !ok {
		return fmt.Errorf("page %d: %w", id, store.ErrNotFound)
	}
	s.deletePageLocked(id)
	return nil
}

func (s *IndexStore) deletePageLocked(id int64) {
	page := s.pages[id]
	for lemmaID := range s.indicesByPage[id] {
		delete(s.indicesByLemma[lemmaID], id)
	}
	delete(s.indicesByPage, id)
	delete(s.pagesByPath, pageKey{siteID: page.SiteID, path: page.Path})
	delete(s.pages, id)
}

// CountPages counts the pages of a site.
func (s *IndexStore) CountPages(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, page := range s.pages {
		if page.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

// FindLemma fetches a lemma by (site, text).
func (s *IndexStore) FindLemma(_ context.Context, siteID int64, text string) (store.Lemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.lemmasByText[lemmaKey{siteID: siteID, text: text}]
	if !ok {
		return store.Lemma{}, fmt.Errorf("lemma %q: %w", text, store.ErrNotFound)
	}
	return s.lemmas[id], nil
}

// FindLemmasByText returns the lemma rows of every site sharing text, ordered by ID.
func (s *IndexStore) FindLemmasByText(_ context.Context, text string) ([]store.Lemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Lemma
	for key, id := range s.lemmasByText {
		if key.text == text {
			out = append(out, s.lemmas[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLemma fetches a lemma by ID.
func (s *IndexStore) GetLemma(_ context.Context, id int64) (store.Lemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lemma, ok := s.lemmas[id]
	if !ok {
		return store.Lemma{}, fmt.Errorf("lemma %d: %w", id, store.ErrNotFound)
	}
	return lemma, nil
}

// SaveLemmas inserts new lemmas and updates existing ones.
func (s *IndexStore) SaveLemmas(_ context.Context, lemmas []store.Lemma) ([]store.Lemma, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Lemma, 0, len(lemmas))
	for _, lemma := range lemmas {
		key := lemmaKey{siteID: lemma.SiteID, text: lemma.Text}
		if lemma.ID == 0 {
			if _, exists := s.lemmasByText[key]; exists {
				return nil, fmt.Errorf("lemma %q: %w", lemma.Text, store.ErrConflict)
			}
			lemma.ID = s.newID()
			s.lemmasByText[key] = lemma.ID
		} else if _, ok := s.lemmas[lemma.ID]; !ok {
			return nil, fmt.Errorf("lemma %d: %w", lemma.ID, store.ErrNotFound)
		}
		s.lemmas[lemma.ID] = lemma
		out = append(out, lemma)
	}
	return out, nil
}

// DeleteLemmas removes lemmas and their Index rows. Unknown IDs are ignored.
func (s *IndexStore) DeleteLemmas(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.lemmas[id]; ok {
			s.deleteLemmaLocked(id)
		}
	}
	return nil
}

func (s *IndexStore) deleteLemmaLocked(id int64) {
	lemma := s.lemmas[id]
	for pageID := range s.indicesByLemma[id] {
		delete(s.indicesByPage[pageID], id)
	}
	delete(s.indicesByLemma, id)
	delete(s.lemmasByText, lemmaKey{siteID: lemma.SiteID, text: lemma.Text})
	delete(s.lemmas, id)
}

// CountLemmas counts the lemmas of a site.
func (s *IndexStore) CountLemmas(_ context.Context, siteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, lemma := range s.lemmas {
		if lemma.SiteID == siteID {
			n++
		}
	}
	return n, nil
}

// CreateIndices inserts Index rows; both ends must exist.
func (s *IndexStore) CreateIndices(_ context.Context, rows []store.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := s.pages[row.PageID]; !ok {
			return fmt.Errorf("page %d: %w", row.PageID, store.ErrNotFound)
		}
		if _, ok := s.lemmas[row.LemmaID]; !ok {
			return fmt.Errorf("lemma %d: %w", row.LemmaID, store.ErrNotFound)
		}
	}
	for _, row := range rows {
		if s.indicesByPage[row.PageID] == nil {
			s.indicesByPage[row.PageID] = make(map[int64]float64)
		}
		if s.indicesByLemma[row.LemmaID] == nil {
			s.indicesByLemma[row.LemmaID] = make(map[int64]float64)
		}
		s.indicesByPage[row.PageID][row.LemmaID] = row.Rank
		s.indicesByLemma[row.LemmaID][row.PageID] = row.Rank
	}
	return nil
}

// IndicesByPage lists a page's Index rows ordered by lemma ID.
func (s *IndexStore) IndicesByPage(_ context.Context, pageID int64) ([]store.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Index, 0, len(s.indicesByPage[pageID]))
	for lemmaID, rank := range s.indicesByPage[pageID] {
		out = append(out, store.Index{PageID: pageID, LemmaID: lemmaID, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LemmaID < out[j].LemmaID })
	return out, nil
}

// IndicesByLemma lists a lemma's Index rows ordered by page ID.
func (s *IndexStore) IndicesByLemma(_ context.Context, lemmaID int64) ([]store.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Index, 0, len(s.indicesByLemma[lemmaID]))
	for pageID, rank := range s.indicesByLemma[lemmaID] {
		out = append(out, store.Index{PageID: pageID, LemmaID: lemmaID, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

// Close is a no-op.
func (s *IndexStore) Close() error {
	return nil
}
