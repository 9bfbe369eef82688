package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// Lemmatizer produces lemma occurrence counts for page content.
type Lemmatizer interface {
	LemmaCounts(text string) map[string]int
}

// PageHandler runs after a successful page is stored.
type PageHandler interface {
	HandlePage(ctx context.Context, site store.Site, page store.Page) error
}

// PageHandlerFunc adapts a function to PageHandler.
type PageHandlerFunc func(ctx context.Context, site store.Site, page store.Page) error

// HandlePage calls f.
func (f PageHandlerFunc) HandlePage(ctx context.Context, site store.Site, page store.Page) error {
	return f(ctx, site, page)
}

// Indexer writes pages and keeps their lemma statistics consistent.
type Indexer struct {
	repo       store.Repository
	lemmatizer Lemmatizer
	locks      *siteLocks
	handlers   []PageHandler
	logger     *zap.Logger
}

// New builds an Indexer. The lemma committer always runs first, followed by
// extra in the given order.
func New(repo store.Repository, lemmatizer Lemmatizer, logger *zap.Logger, extra ...PageHandler) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Indexer{
		repo:       repo,
		lemmatizer: lemmatizer,
		locks:      newSiteLocks(),
		logger:     logger,
	}
	ix.handlers = append([]PageHandler{PageHandlerFunc(ix.commitLemmas)}, extra...)
	return ix
}

// WritePage stores page, replacing any page already stored at the same
// (site, path), then runs the handlers. Pages with status >= 400 are stored
// but not handled. Once ctx is cancelled the remaining handlers are skipped
// without error.
func (ix *Indexer) WritePage(ctx context.Context, site store.Site, page store.Page) (store.Page, error) {
	page.SiteID = site.ID
	stored, err := ix.replace(ctx, page)
	if err != nil {
		return store.Page{}, err
	}
	if stored.StatusCode >= 400 {
		return stored, nil
	}
	for _, h := range ix.handlers {
		if ctx.Err() != nil {
			ix.logger.Debug("page handlers skipped after cancel",
				zap.String("site", site.URL),
				zap.String("path", stored.Path),
			)
			return stored, nil
		}
		if err := h.HandlePage(ctx, site, stored); err != nil {
			return stored, fmt.Errorf("handle page %q: %w", stored.Path, err)
		}
	}
	return stored, nil
}

func (ix *Indexer) replace(ctx context.Context, page store.Page) (store.Page, error) {
	unlock := ix.locks.lock(page.SiteID)
	defer unlock()

	existing, err := ix.repo.FindPage(ctx, page.SiteID, page.Path)
	switch {
	case err == nil:
		if err := ix.removeLocked(ctx, existing); err != nil {
			return store.Page{}, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return store.Page{}, fmt.Errorf("find page %q: %w", page.Path, err)
	}
	stored, err := ix.repo.CreatePage(ctx, page)
	if err != nil {
		return store.Page{}, fmt.Errorf("create page %q: %w", page.Path, err)
	}
	return stored, nil
}

func (ix *Indexer) commitLemmas(ctx context.Context, _ store.Site, page store.Page) error {
	return ix.CommitPage(ctx, page, ix.lemmatizer.LemmaCounts(page.Content))
}

// CommitPage records one page's lemma counts: each lemma's frequency grows
// by one, its rank is overwritten with the page count, and one Index row per
// lemma links it to the page. Nothing is written when ctx is already
// cancelled.
func (ix *Indexer) CommitPage(ctx context.Context, page store.Page, counts map[string]int) error {
	if ctx.Err() != nil || len(counts) == 0 {
		return nil
	}
	texts := make([]string, 0, len(counts))
	for text := range counts {
		texts = append(texts, text)
	}
	sort.Strings(texts)

	unlock := ix.locks.lock(page.SiteID)
	defer unlock()
	if ctx.Err() != nil {
		return nil
	}
	// Past this point the commit must finish so the counters stay consistent.
	ctx = context.WithoutCancel(ctx)

	// A concurrent write of the same path may already have replaced the page.
	if _, err := ix.repo.GetPage(ctx, page.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get page %d: %w", page.ID, err)
	}

	lemmas := make([]store.Lemma, 0, len(texts))
	for _, text := range texts {
		count := float64(counts[text])
		row, err := ix.repo.FindLemma(ctx, page.SiteID, text)
		switch {
		case errors.Is(err, store.ErrNotFound):
			row = store.Lemma{SiteID: page.SiteID, Text: text, Frequency: 1, Rank: count}
		case err != nil:
			return fmt.Errorf("find lemma %q: %w", text, err)
		default:
			row.Frequency++
			row.Rank = count
		}
		lemmas = append(lemmas, row)
	}
	saved, err := ix.repo.SaveLemmas(ctx, lemmas)
	if err != nil {
		return fmt.Errorf("save lemmas: %w", err)
	}
	rows := make([]store.Index, 0, len(saved))
	for _, lemma := range saved {
		rows = append(rows, store.Index{
			PageID:  page.ID,
			LemmaID: lemma.ID,
			Rank:    float64(counts[lemma.Text]),
		})
	}
	if err := ix.repo.CreateIndices(ctx, rows); err != nil {
		return fmt.Errorf("create indices: %w", err)
	}
	metrics.ObserveIndexCommit(page.URL, len(rows))
	return nil
}

// ReversePage undoes a page's commit: every lemma it references loses one
// from its frequency and is deleted at zero. The page itself is kept.
func (ix *Indexer) ReversePage(ctx context.Context, page store.Page) error {
	unlock := ix.locks.lock(page.SiteID)
	defer unlock()
	return ix.reverseLocked(context.WithoutCancel(ctx), page)
}

// RemovePage reverses a page's commit and then deletes it.
func (ix *Indexer) RemovePage(ctx context.Context, page store.Page) error {
	unlock := ix.locks.lock(page.SiteID)
	defer unlock()
	return ix.removeLocked(ctx, page)
}

func (ix *Indexer) removeLocked(ctx context.Context, page store.Page) error {
	ctx = context.WithoutCancel(ctx)
	if err := ix.reverseLocked(ctx, page); err != nil {
		return err
	}
	if err := ix.repo.DeletePage(ctx, page.ID); err != nil {
		return fmt.Errorf("delete page %d: %w", page.ID, err)
	}
	return nil
}

func (ix *Indexer) reverseLocked(ctx context.Context, page store.Page) error {
	rows, err := ix.repo.IndicesByPage(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("list indices of page %d: %w", page.ID, err)
	}
	var (
		update []store.Lemma
		drop   []int64
	)
	for _, row := range rows {
		lemma, err := ix.repo.GetLemma(ctx, row.LemmaID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get lemma %d: %w", row.LemmaID, err)
		}
		lemma.Frequency--
		if lemma.Frequency <= 0 {
			drop = append(drop, lemma.ID)
			continue
		}
		update = append(update, lemma)
	}
	if len(update) > 0 {
		if _, err := ix.repo.SaveLemmas(ctx, update); err != nil {
			return fmt.Errorf("save lemmas: %w", err)
		}
	}
	if len(drop) > 0 {
		if err := ix.repo.DeleteLemmas(ctx, drop); err != nil {
			return fmt.Errorf("delete lemmas: %w", err)
		}
	}
	return nil
}
