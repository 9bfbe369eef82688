// Package badger implements the index repository on an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/store"
)

const (
	sequenceBandwidth  = 100
	maxConflictRetries = 5
)

// Config selects the on-disk directory or an in-memory database.
type Config struct {
	Path     string
	InMemory bool
}

// IndexStore implements store.Repository on BadgerDB.
type IndexStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ store.Repository = (*IndexStore)(nil)

type zapAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, args ...any)   { a.logger.Errorf(msg, args...) }
func (a *zapAdapter) Warningf(msg string, args ...any) { a.logger.Warnf(msg, args...) }
func (a *zapAdapter) Infof(msg string, args ...any)    { a.logger.Debugf(msg, args...) }
func (a *zapAdapter) Debugf(msg string, args ...any)   { a.logger.Debugf(msg, args...) }

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config, logger *zap.Logger) (*IndexStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("storage.badger_path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &zapAdapter{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(idSeq), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open id sequence: %w", err)
	}
	return &IndexStore{db: db, seq: seq}, nil
}

// Close releases the ID sequence and closes the database.
func (s *IndexStore) Close() error {
	seqErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	if seqErr != nil {
		return fmt.Errorf("release id sequence: %w", seqErr)
	}
	return nil
}

func (s *IndexStore) nextID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return int64(n) + 1, nil
}

// update retries fn when a concurrent transaction wins the commit race.
func (s *IndexStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger update: %w", err)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return txn.Set(key, buf)
}

func getID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, err
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// valueIDs collects the IDs stored as values under prefix.
func valueIDs(txn *badger.Txn, prefix []byte) ([]int64, error) {
	var ids []int64
	err := iteratePrefix(txn, prefix, func(item *badger.Item) error {
		return item.Value(func(val []byte) error {
			ids = append(ids, decodeID(val))
			return nil
		})
	})
	return ids, err
}

// suffixIDs collects the IDs encoded at the end of each key under prefix.
func suffixIDs(txn *badger.Txn, prefix []byte) ([]int64, error) {
	var ids []int64
	err := iteratePrefix(txn, prefix, func(item *badger.Item) error {
		key := item.Key()
		ids = append(ids, decodeID(key[len(key)-8:]))
		return nil
	})
	return ids, err
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %v: %w", what, key, store.ErrNotFound)
	}
	return fmt.Errorf("read %s %v: %w", what, key, err)
}

// CreateSite inserts a site and assigns its ID.
func (s *IndexStore) CreateSite(_ context.Context, site store.Site) (store.Site, error) {
	id, err := s.nextID()
	if err != nil {
		return store.Site{}, err
	}
	site.ID = id
	if err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, siteKey(id), site)
	}); err != nil {
		return store.Site{}, fmt.Errorf("insert site: %w", err)
	}
	return site, nil
}

// GetSite fetches a site by ID.
func (s *IndexStore) GetSite(_ context.Context, id int64) (store.Site, error) {
	var site store.Site
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, siteKey(id), &site)
	}); err != nil {
		return store.Site{}, notFound(err, "site", id)
	}
	return site, nil
}

// FindSiteByURL returns the lowest-ID site whose URL matches ignoring host case and trailing slashes.
func (s *IndexStore) FindSiteByURL(ctx context.Context, url string) (store.Site, error) {
	sites, err := s.ListSites(ctx)
	if err != nil {
		return store.Site{}, err
	}
	want := store.NormalizeSiteURL(url)
	for _, site := range sites {
		if store.NormalizeSiteURL(site.URL) == want {
			return site, nil
		}
	}
	return store.Site{}, fmt.Errorf("site %q: %w", url, store.ErrNotFound)
}

// ListSites returns all sites ordered by ID.
func (s *IndexStore) ListSites(_ context.Context) ([]store.Site, error) {
	var out []store.Site
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(sitePrefix), func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				var site store.Site
				if err := json.Unmarshal(val, &site); err != nil {
					return fmt.Errorf("decode site: %w", err)
				}
				out = append(out, site)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return out, nil
}

// DeleteSite removes a site together with its pages, lemmas and indices.
func (s *IndexStore) DeleteSite(_ context.Context, id int64) error {
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(siteKey(id)); err != nil {
			return err
		}
		pageIDs, err := valueIDs(txn, pagesOfSite(id))
		if err != nil {
			return err
		}
		for _, pageID := range pageIDs {
			if err := deletePage(txn, pageID); err != nil {
				return err
			}
		}
		lemmaIDs, err := valueIDs(txn, lemmasOfSite(id))
		if err != nil {
			return err
		}
		for _, lemmaID := range lemmaIDs {
			if err := deleteLemma(txn, lemmaID); err != nil {
				return err
			}
		}
		return txn.Delete(siteKey(id))
	})
	if err != nil {
		return notFound(err, "site", id)
	}
	return nil
}

func (s *IndexStore) modifySite(id int64, fn func(site *store.Site)) error {
	err := s.update(func(txn *badger.Txn) error {
		var site store.Site
		if err := getJSON(txn, siteKey(id), &site); err != nil {
			return err
		}
		fn(&site)
		return setJSON(txn, siteKey(id), site)
	})
	if err != nil {
		return notFound(err, "site", id)
	}
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
	return s.modifySite(id, func(site *store.Site) {
		site.Status = status
		site.LastError = lastError
		site.StatusTime = at
	})
}

// TouchSite refreshes the status time.
func (s *IndexStore) TouchSite(_ context.Context, id int64, at time.Time) error {
	return s.modifySite(id, func(site *store.Site) {
		site.StatusTime = at
	})
}

// CreatePage inserts a page, rejecting a duplicate (site, path).
func (s *IndexStore) CreatePage(_ context.Context, page store.Page) (store.Page, error) {
	id, err := s.nextID()
	if err != nil {
		return store.Page{}, err
	}
	page.ID = id
	err = s.update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, siteKey(page.SiteID)); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("site %d: %w", page.SiteID, store.ErrNotFound)
			}
			return err
		}
		pathKey := pagePathKey(page.SiteID, page.Path)
		taken, err := exists(txn, pathKey)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("page %q: %w", page.Path, store.ErrConflict)
		}
		if err := setJSON(txn, pageKey(id), page); err != nil {
			return err
		}
		return txn.Set(pathKey, appendID(nil, id))
	})
	if err != nil {
		return store.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return page, nil
}

// GetPage fetches a page by ID.
func (s *IndexStore) GetPage(_ context.Context, id int64) (store.Page, error) {
	var page store.Page
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, pageKey(id), &page)
	}); err != nil {
		return store.Page{}, notFound(err, "page", id)
	}
	return page, nil
}

// FindPage fetches a page by (site, path).
func (s *IndexStore) FindPage(_ context.Context, siteID int64, path string) (store.Page, error) {
	var page store.Page
	if err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, pagePathKey(siteID, path))
		if err != nil {
			return err
		}
		return getJSON(txn, pageKey(id), &page)
	}); err != nil {
		return store.Page{}, notFound(err, "page", path)
	}
	return page, nil
}

// DeletePage removes a page and its Index rows.
func (s *IndexStore) DeletePage(_ context.Context, id int64) error {
	if err := s.update(func(txn *badger.Txn) error {
		return deletePage(txn, id)
	}); err != nil {
		return notFound(err, "page", id)
	}
	return nil
}

func deletePage(txn *badger.Txn, id int64) error {
	var page store.Page
	if err := getJSON(txn, pageKey(id), &page); err != nil {
		return err
	}
	lemmaIDs, err := suffixIDs(txn, indicesOfPage(id))
	if err != nil {
		return err
	}
	for _, lemmaID := range lemmaIDs {
		if err := txn.Delete(pageIndexKey(id, lemmaID)); err != nil {
			return err
		}
		if err := txn.Delete(lemmaIndexKey(lemmaID, id)); err != nil {
			return err
		}
	}
	if err := txn.Delete(pagePathKey(page.SiteID, page.Path)); err != nil {
		return err
	}
	return txn.Delete(pageKey(id))
}

// CountPages counts the pages of a site.
func (s *IndexStore) CountPages(_ context.Context, siteID int64) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, pagesOfSite(siteID))
		return nil
	})
	return n, err
}

// FindLemma fetches a lemma by (site, text).
func (s *IndexStore) FindLemma(_ context.Context, siteID int64, text string) (store.Lemma, error) {
	var lemma store.Lemma
	if err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, lemmaSiteKey(siteID, text))
		if err != nil {
			return err
		}
		return getJSON(txn, lemmaKey(id), &lemma)
	}); err != nil {
		return store.Lemma{}, notFound(err, "lemma", text)
	}
	return lemma, nil
}

// FindLemmasByText returns the lemma rows of every site sharing text, ordered by ID.
func (s *IndexStore) FindLemmasByText(_ context.Context, text string) ([]store.Lemma, error) {
	var out []store.Lemma
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := suffixIDs(txn, lemmasWithText(text))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var lemma store.Lemma
			if err := getJSON(txn, lemmaKey(id), &lemma); err != nil {
				return err
			}
			out = append(out, lemma)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find lemmas %q: %w", text, err)
	}
	return out, nil
}

// GetLemma fetches a lemma by ID.
func (s *IndexStore) GetLemma(_ context.Context, id int64) (store.Lemma, error) {
	var lemma store.Lemma
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, lemmaKey(id), &lemma)
	}); err != nil {
		return store.Lemma{}, notFound(err, "lemma", id)
	}
	return lemma, nil
}

// SaveLemmas inserts rows with a zero ID and updates frequency and rank of the rest atomically.
func (s *IndexStore) SaveLemmas(_ context.Context, lemmas []store.Lemma) ([]store.Lemma, error) {
	if len(lemmas) == 0 {
		return nil, nil
	}
	out := make([]store.Lemma, 0, len(lemmas))
	err := s.update(func(txn *badger.Txn) error {
		out = out[:0]
		for _, lemma := range lemmas {
			if lemma.ID == 0 {
				saved, err := s.insertLemma(txn, lemma)
				if err != nil {
					return err
				}
				out = append(out, saved)
				continue
			}
			var stored store.Lemma
			if err := getJSON(txn, lemmaKey(lemma.ID), &stored); err != nil {
				return notFound(err, "lemma", lemma.ID)
			}
			stored.Frequency = lemma.Frequency
			stored.Rank = lemma.Rank
			if err := setJSON(txn, lemmaKey(stored.ID), stored); err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save lemmas: %w", err)
	}
	return out, nil
}

func (s *IndexStore) insertLemma(txn *badger.Txn, lemma store.Lemma) (store.Lemma, error) {
	key := lemmaSiteKey(lemma.SiteID, lemma.Text)
	taken, err := exists(txn, key)
	if err != nil {
		return store.Lemma{}, err
	}
	if taken {
		return store.Lemma{}, fmt.Errorf("lemma %q: %w", lemma.Text, store.ErrConflict)
	}
	id, err := s.nextID()
	if err != nil {
		return store.Lemma{}, err
	}
	lemma.ID = id
	if err := setJSON(txn, lemmaKey(id), lemma); err != nil {
		return store.Lemma{}, err
	}
	if err := txn.Set(key, appendID(nil, id)); err != nil {
		return store.Lemma{}, err
	}
	return lemma, txn.Set(lemmaTextKey(lemma.Text, id), nil)
}

// DeleteLemmas removes lemmas and their Index rows. Unknown IDs are ignored.
func (s *IndexStore) DeleteLemmas(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.update(func(txn *badger.Txn) error {
		for _, id := range ids {
			err := deleteLemma(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete lemmas: %w", err)
	}
	return nil
}

func deleteLemma(txn *badger.Txn, id int64) error {
	var lemma store.Lemma
	if err := getJSON(txn, lemmaKey(id), &lemma); err != nil {
		return err
	}
	pageIDs, err := suffixIDs(txn, indicesOfLemma(id))
	if err != nil {
		return err
	}
	for _, pageID := range pageIDs {
		if err := txn.Delete(lemmaIndexKey(id, pageID)); err != nil {
			return err
		}
		if err := txn.Delete(pageIndexKey(pageID, id)); err != nil {
			return err
		}
	}
	if err := txn.Delete(lemmaSiteKey(lemma.SiteID, lemma.Text)); err != nil {
		return err
	}
	if err := txn.Delete(lemmaTextKey(lemma.Text, id)); err != nil {
		return err
	}
	return txn.Delete(lemmaKey(id))
}

// CountLemmas counts the lemmas of a site.
func (s *IndexStore) CountLemmas(_ context.Context, siteID int64) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, lemmasOfSite(siteID))
		return nil
	})
	return n, err
}

// CreateIndices inserts Index rows; both ends must exist.
func (s *IndexStore) CreateIndices(_ context.Context, rows []store.Index) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.update(func(txn *badger.Txn) error {
		for _, row := range rows {
			if _, err := txn.Get(pageKey(row.PageID)); err != nil {
				return notFound(err, "page", row.PageID)
			}
			if _, err := txn.Get(lemmaKey(row.LemmaID)); err != nil {
				return notFound(err, "lemma", row.LemmaID)
			}
			rank := encodeRank(row.Rank)
			if err := txn.Set(pageIndexKey(row.PageID, row.LemmaID), rank); err != nil {
				return err
			}
			if err := txn.Set(lemmaIndexKey(row.LemmaID, row.PageID), rank); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert indices: %w", err)
	}
	return nil
}

func (s *IndexStore) indices(prefix []byte, build func(id int64, rank float64) store.Index) ([]store.Index, error) {
	out := []store.Index{}
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, prefix, func(item *badger.Item) error {
			key := item.Key()
			id := decodeID(key[len(key)-8:])
			return item.Value(func(val []byte) error {
				out = append(out, build(id, decodeRank(val)))
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query indices: %w", err)
	}
	return out, nil
}

// IndicesByPage lists a page's Index rows ordered by lemma ID.
func (s *IndexStore) IndicesByPage(_ context.Context, pageID int64) ([]store.Index, error) {
	return s.indices(indicesOfPage(pageID), func(lemmaID int64, rank float64) store.Index {
		return store.Index{PageID: pageID, LemmaID: lemmaID, Rank: rank}
	})
}

// IndicesByLemma lists a lemma's Index rows ordered by page ID.
func (s *IndexStore) IndicesByLemma(_ context.Context, lemmaID int64) ([]store.Index, error) {
	return s.indices(indicesOfLemma(lemmaID), func(pageID int64, rank float64) store.Index {
		return store.Index{PageID: pageID, LemmaID: lemmaID, Rank: rank}
	})
}
