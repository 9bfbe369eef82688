package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/hash/sha256"
	"github.com/JakeFAU/sitesearch/internal/storage/memory"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) LemmaCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, w := range strings.Fields(text) {
		counts[w]++
	}
	return counts
}

func newFixture(t *testing.T, extra ...PageHandler) (*Indexer, *memory.IndexStore, store.Site) {
	t.Helper()
	repo := memory.NewIndexStore()
	site, err := repo.CreateSite(context.Background(), store.Site{URL: "https://example.com", Status: store.StatusIndexing})
	require.NoError(t, err)
	return New(repo, wordCounter{}, zap.NewNop(), extra...), repo, site
}

func writePage(t *testing.T, ix *Indexer, site store.Site, path, content string, code int) store.Page {
	t.Helper()
	page, err := ix.WritePage(context.Background(), site, store.Page{
		Path:       path,
		URL:        site.URL + path,
		StatusCode: code,
		Content:    content,
	})
	require.NoError(t, err)
	return page
}

// requireConsistent checks that each lemma's frequency equals its Index row count.
func requireConsistent(t *testing.T, repo *memory.IndexStore, siteID int64, texts ...string) {
	t.Helper()
	ctx := context.Background()
	for _, text := range texts {
		lemma, err := repo.FindLemma(ctx, siteID, text)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		rows, err := repo.IndicesByLemma(ctx, lemma.ID)
		require.NoError(t, err)
		require.Equal(t, lemma.Frequency, len(rows), "lemma %q", text)
		require.Positive(t, lemma.Frequency, "lemma %q", text)
	}
}

func TestCommitPageCreatesAndIncrements(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	ctx := context.Background()

	first := writePage(t, ix, site, "/a", "fox fox dog", 200)
	fox, err := repo.FindLemma(ctx, site.ID, "fox")
	require.NoError(t, err)
	require.Equal(t, 1, fox.Frequency)
	require.InDelta(t, 2.0, fox.Rank, 0)

	writePage(t, ix, site, "/b", "fox", 200)
	fox, err = repo.FindLemma(ctx, site.ID, "fox")
	require.NoError(t, err)
	require.Equal(t, 2, fox.Frequency)
	require.InDelta(t, 1.0, fox.Rank, 0, "rank holds the latest page count")

	rows, err := repo.IndicesByPage(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		lemma, err := repo.GetLemma(ctx, row.LemmaID)
		require.NoError(t, err)
		require.Equal(t, site.ID, lemma.SiteID)
		if lemma.Text == "fox" {
			require.InDelta(t, 2.0, row.Rank, 0)
		}
	}
	requireConsistent(t, repo, site.ID, "fox", "dog")
}

func TestWritePageReplacesExistingPath(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	ctx := context.Background()

	old := writePage(t, ix, site, "/", "fox fox dog", 200)
	writePage(t, ix, site, "/other", "fox", 200)

	replaced := writePage(t, ix, site, "/", "cat", 200)
	require.NotEqual(t, old.ID, replaced.ID)

	_, err := repo.GetPage(ctx, old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	fox, err := repo.FindLemma(ctx, site.ID, "fox")
	require.NoError(t, err)
	require.Equal(t, 1, fox.Frequency)

	_, err = repo.FindLemma(ctx, site.ID, "dog")
	require.ErrorIs(t, err, store.ErrNotFound)

	cat, err := repo.FindLemma(ctx, site.ID, "cat")
	require.NoError(t, err)
	require.Equal(t, 1, cat.Frequency)

	count, err := repo.CountPages(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	requireConsistent(t, repo, site.ID, "fox", "dog", "cat")
}

func TestWritePageErrorStatusIsStoredButNotIndexed(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	ctx := context.Background()

	page := writePage(t, ix, site, "/missing", "fox", 404)
	require.NotZero(t, page.ID)

	rows, err := repo.IndicesByPage(ctx, page.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
	n, err := repo.CountLemmas(ctx, site.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWritePageAfterCancelSkipsCommit(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page, err := ix.WritePage(ctx, site, store.Page{Path: "/", StatusCode: 200, Content: "fox"})
	require.NoError(t, err)

	rows, err := repo.IndicesByPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, ix.CommitPage(ctx, page, map[string]int{"fox": 1}))
	_, err = repo.FindLemma(context.Background(), site.ID, "fox")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommitPageCancelledWhileWaitingForSite(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	page, err := repo.CreatePage(context.Background(), store.Page{SiteID: site.ID, Path: "/", StatusCode: 200, Content: "fox"})
	require.NoError(t, err)

	unlock := ix.locks.lock(site.ID)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ix.CommitPage(ctx, page, map[string]int{"fox": 1})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	unlock()

	require.NoError(t, <-done)
	_, err = repo.FindLemma(context.Background(), site.ID, "fox")
	require.ErrorIs(t, err, store.ErrNotFound)
	rows, err := repo.IndicesByPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReversePageKeepsPage(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	ctx := context.Background()
	a := writePage(t, ix, site, "/a", "fox dog", 200)
	writePage(t, ix, site, "/b", "fox", 200)

	require.NoError(t, ix.ReversePage(ctx, a))

	fox, err := repo.FindLemma(ctx, site.ID, "fox")
	require.NoError(t, err)
	require.Equal(t, 1, fox.Frequency)
	_, err = repo.FindLemma(ctx, site.ID, "dog")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetPage(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, ix.RemovePage(ctx, a))
	_, err = repo.GetPage(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	requireConsistent(t, repo, site.ID, "fox", "dog")
}

func TestConcurrentCommitsKeepFrequencies(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)
	other, err := repo.CreateSite(context.Background(), store.Site{URL: "https://other.com"})
	require.NoError(t, err)

	const pages = 40
	var wg sync.WaitGroup
	for i := 0; i < pages; i++ {
		for _, s := range []store.Site{site, other} {
			wg.Add(1)
			go func(i int, s store.Site) {
				defer wg.Done()
				_, err := ix.WritePage(context.Background(), s, store.Page{
					Path:       fmt.Sprintf("/p%d", i),
					StatusCode: 200,
					Content:    "fox dog fox",
				})
				if err != nil {
					t.Errorf("write page: %v", err)
				}
			}(i, s)
		}
	}
	wg.Wait()

	for _, s := range []store.Site{site, other} {
		fox, err := repo.FindLemma(context.Background(), s.ID, "fox")
		require.NoError(t, err)
		require.Equal(t, pages, fox.Frequency)
		requireConsistent(t, repo, s.ID, "fox", "dog")
	}
}

func TestConcurrentRewritesOfOnePath(t *testing.T) {
	t.Parallel()

	ix, repo, site := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := "fox"
			if i%2 == 0 {
				content = "fox dog"
			}
			_, err := ix.WritePage(context.Background(), site, store.Page{Path: "/", StatusCode: 200, Content: content})
			if err != nil {
				t.Errorf("write page: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := repo.CountPages(context.Background(), site.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	fox, err := repo.FindLemma(context.Background(), site.ID, "fox")
	require.NoError(t, err)
	require.Equal(t, 1, fox.Frequency)
	requireConsistent(t, repo, site.ID, "fox", "dog")
}

func TestHandlersRunInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(name string) PageHandler {
		return PageHandlerFunc(func(context.Context, store.Site, store.Page) error {
			order = append(order, name)
			return nil
		})
	}
	ix, repo, site := newFixture(t, record("first"), record("second"))

	page := writePage(t, ix, site, "/", "fox", 200)
	require.Equal(t, []string{"first", "second"}, order)

	rows, err := repo.IndicesByPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "lemma committer runs before extra handlers")
}

func TestHandlerErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ix, _, site := newFixture(t, PageHandlerFunc(func(context.Context, store.Site, store.Page) error {
		return boom
	}))

	_, err := ix.WritePage(context.Background(), site, store.Page{Path: "/", StatusCode: 200, Content: "fox"})
	require.ErrorIs(t, err, boom)
}

func TestArchiverStoresContentAddressedBody(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	archiver := NewArchiver(blobs, sha256.New(), "pages", "", zap.NewNop())
	ix, _, site := newFixture(t, archiver)

	writePage(t, ix, site, "/", "fox", 200)

	digest, err := sha256.New().Hash([]byte("fox"))
	require.NoError(t, err)
	body, ok := blobs.Get("pages/example.com/" + digest + ".html")
	require.True(t, ok)
	require.Equal(t, "fox", string(body))
}
