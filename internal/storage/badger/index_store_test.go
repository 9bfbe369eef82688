package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch/internal/store"
)

func openMemory(t *testing.T) *IndexStore {
	t.Helper()
	s, err := Open(Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{}, nil)
	require.Error(t, err)
}

func TestOpenOnDiskPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(Config{Path: dir}, nil)
	require.NoError(t, err)
	site, err := s.CreateSite(context.Background(), store.Site{URL: "https://example.com", Status: store.StatusIndexed})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })
	got, err := reopened.GetSite(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusIndexed, got.Status)

	next, err := reopened.CreateSite(context.Background(), store.Site{URL: "https://other.com"})
	require.NoError(t, err)
	assert.NotEqual(t, site.ID, next.ID)
}

func TestSiteLifecycle(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	ctx := context.Background()

	site, err := s.CreateSite(ctx, store.Site{URL: "https://Example.com/", Name: "Example", Status: store.StatusIndexing})
	require.NoError(t, err)
	require.NotZero(t, site.ID)

	found, err := s.FindSiteByURL(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, site.ID, found.ID)

	at := time.Unix(100, 0).UTC()
	require.NoError(t, s.UpdateSiteStatus(ctx, site.ID, store.StatusFailed, "boom", at))
	later := at.Add(time.Minute)
	require.NoError(t, s.TouchSite(ctx, site.ID, later))
	got, err := s.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.LastError)
	assert.True(t, later.Equal(got.StatusTime))

	_, err = s.FindSiteByURL(ctx, "https://other.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	docs, err := s.CreateSite(ctx, store.Site{URL: "https://EXAMPLE.com/Docs/", Name: "Docs"})
	require.NoError(t, err)
	found, err = s.FindSiteByURL(ctx, "https://example.com/Docs")
	require.NoError(t, err)
	require.Equal(t, docs.ID, found.ID)
	_, err = s.FindSiteByURL(ctx, "https://example.com/docs")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.TouchSite(ctx, 999, at), store.ErrNotFound)
	require.ErrorIs(t, s.DeleteSite(ctx, 999), store.ErrNotFound)

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
}

func TestPagesAndLemmas(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	ctx := context.Background()
	site, err := s.CreateSite(ctx, store.Site{URL: "https://example.com"})
	require.NoError(t, err)

	page, err := s.CreatePage(ctx, store.Page{SiteID: site.ID, Path: "/a", StatusCode: 200, Content: "fox"})
	require.NoError(t, err)
	_, err = s.CreatePage(ctx, store.Page{SiteID: site.ID, Path: "/a", StatusCode: 200})
	require.ErrorIs(t, err, store.ErrConflict)
	_, err = s.CreatePage(ctx, store.Page{SiteID: site.ID + 100, Path: "/a"})
	require.ErrorIs(t, err, store.ErrNotFound)

	found, err := s.FindPage(ctx, site.ID, "/a")
	require.NoError(t, err)
	assert.Equal(t, page, found)

	saved, err := s.SaveLemmas(ctx, []store.Lemma{
		{SiteID: site.ID, Text: "fox", Frequency: 1, Rank: 2},
		{SiteID: site.ID, Text: "dog", Frequency: 1, Rank: 1},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	_, err = s.SaveLemmas(ctx, []store.Lemma{{SiteID: site.ID, Text: "fox", Frequency: 1}})
	require.ErrorIs(t, err, store.ErrConflict)
	_, err = s.SaveLemmas(ctx, []store.Lemma{{ID: 12345, SiteID: site.ID, Text: "cat"}})
	require.ErrorIs(t, err, store.ErrNotFound)

	saved[0].Frequency = 2
	saved[0].Rank = 5
	updated, err := s.SaveLemmas(ctx, saved[:1])
	require.NoError(t, err)
	assert.Equal(t, 2, updated[0].Frequency)

	fox, err := s.FindLemma(ctx, site.ID, "fox")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, fox.Rank, 0)

	require.NoError(t, s.CreateIndices(ctx, []store.Index{
		{PageID: page.ID, LemmaID: saved[0].ID, Rank: 2},
		{PageID: page.ID, LemmaID: saved[1].ID, Rank: 1},
	}))
	require.ErrorIs(t, s.CreateIndices(ctx, []store.Index{{PageID: 9999, LemmaID: saved[0].ID}}), store.ErrNotFound)

	byPage, err := s.IndicesByPage(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, byPage, 2)
	assert.Less(t, byPage[0].LemmaID, byPage[1].LemmaID)

	byLemma, err := s.IndicesByLemma(ctx, saved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []store.Index{{PageID: page.ID, LemmaID: saved[0].ID, Rank: 2}}, byLemma)

	require.NoError(t, s.DeleteLemmas(ctx, []int64{saved[1].ID, 424242}))
	byPage, err = s.IndicesByPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Len(t, byPage, 1)

	require.NoError(t, s.DeletePage(ctx, page.ID))
	byLemma, err = s.IndicesByLemma(ctx, saved[0].ID)
	require.NoError(t, err)
	assert.Empty(t, byLemma)
	require.ErrorIs(t, s.DeletePage(ctx, page.ID), store.ErrNotFound)
}

func TestFindLemmasByTextAcrossSites(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	ctx := context.Background()
	a, err := s.CreateSite(ctx, store.Site{URL: "https://a.example"})
	require.NoError(t, err)
	b, err := s.CreateSite(ctx, store.Site{URL: "https://b.example"})
	require.NoError(t, err)

	_, err = s.SaveLemmas(ctx, []store.Lemma{{SiteID: a.ID, Text: "fox", Frequency: 1}})
	require.NoError(t, err)
	_, err = s.SaveLemmas(ctx, []store.Lemma{
		{SiteID: b.ID, Text: "fox", Frequency: 2},
		{SiteID: b.ID, Text: "foxes", Frequency: 1},
	})
	require.NoError(t, err)

	rows, err := s.FindLemmasByText(ctx, "fox")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, a.ID, rows[0].SiteID)
	assert.Equal(t, b.ID, rows[1].SiteID)
}

func TestDeleteSiteCascades(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	ctx := context.Background()
	site, err := s.CreateSite(ctx, store.Site{URL: "https://example.com"})
	require.NoError(t, err)
	page, err := s.CreatePage(ctx, store.Page{SiteID: site.ID, Path: "/", StatusCode: 200})
	require.NoError(t, err)
	lemmas, err := s.SaveLemmas(ctx, []store.Lemma{{SiteID: site.ID, Text: "fox", Frequency: 1, Rank: 1}})
	require.NoError(t, err)
	require.NoError(t, s.CreateIndices(ctx, []store.Index{{PageID: page.ID, LemmaID: lemmas[0].ID, Rank: 1}}))

	require.NoError(t, s.DeleteSite(ctx, site.ID))

	pages, err := s.CountPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Zero(t, pages)
	count, err := s.CountLemmas(ctx, site.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	rows, err := s.FindLemmasByText(ctx, "fox")
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = s.GetPage(ctx, page.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentPageCreatesKeepUniqueness(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	ctx := context.Background()
	site, err := s.CreateSite(ctx, store.Site{URL: "https://example.com"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreatePage(ctx, store.Page{SiteID: site.ID, Path: "/same"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	n, err := s.CountPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
