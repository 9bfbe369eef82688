package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitesearch/internal/store"
)

const uniqueViolation = "23505"

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the pgx surface the store needs; *pgxpool.Pool and pgxmock satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// IndexStore implements store.Repository on PostgreSQL.
type IndexStore struct {
	db DB
}

var _ store.Repository = (*IndexStore)(nil)

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*IndexStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &IndexStore{db: pool}, nil
}

// NewWithDB wraps an existing pool (primarily for testing).
func NewWithDB(db DB) (*IndexStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &IndexStore{db: db}, nil
}

// Ping checks connectivity.
func (s *IndexStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *IndexStore) Close() error {
	s.db.Close()
	return nil
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, store.ErrNotFound)
	}
	return fmt.Errorf("query %s %v: %w", what, key, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *IndexStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const siteColumns = `id, url, name, status, status_time, last_error`

func scanSite(row pgx.Row) (store.Site, error) {
	var (
		site   store.Site
		status string
	)
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &site.StatusTime, &site.LastError); err != nil {
		return store.Site{}, err //nolint:wrapcheck // callers wrap with context
	}
	site.Status = store.SiteStatus(status)
	return site, nil
}

// CreateSite inserts a site and assigns its ID.
func (s *IndexStore) CreateSite(ctx context.Context, site store.Site) (store.Site, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO sites (url, name, status, status_time, last_error) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		site.URL, site.Name, string(site.Status), site.StatusTime, site.LastError,
	).Scan(&site.ID)
	if err != nil {
		return store.Site{}, fmt.Errorf("insert site: %w", err)
	}
	return site, nil
}

// GetSite fetches a site by ID.
func (s *IndexStore) GetSite(ctx context.Context, id int64) (store.Site, error) {
	site, err := scanSite(s.db.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
	if err != nil {
		return store.Site{}, notFound(err, "site", id)
	}
	return site, nil
}

// FindSiteByURL matches on host case and trailing slashes only; path case is significant.
func (s *IndexStore) FindSiteByURL(ctx context.Context, url string) (store.Site, error) {
	want := store.NormalizeSiteURL(url)
	rows, err := s.db.Query(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE rtrim(lower(url), '/') = lower($1) ORDER BY id`,
		want,
	)
	if err != nil {
		return store.Site{}, fmt.Errorf("find site %q: %w", url, err)
	}
	defer rows.Close()
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return store.Site{}, fmt.Errorf("scan site: %w", err)
		}
		if store.NormalizeSiteURL(site.URL) == want {
			return site, nil
		}
	}
	if err := rows.Err(); err != nil {
		return store.Site{}, fmt.Errorf("find site %q: %w", url, err)
	}
	return store.Site{}, fmt.Errorf("site %q: %w", url, store.ErrNotFound)
}

// ListSites returns all sites ordered by ID.
func (s *IndexStore) ListSites(ctx context.Context) ([]store.Site, error) {
	rows, err := s.db.Query(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()
	var out []store.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return out, nil
}

func (s *IndexStore) execOne(ctx context.Context, what string, id int64, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", what, id, store.ErrNotFound)
	}
	return nil
}

// DeleteSite removes a site; foreign keys cascade to its pages, lemmas and indices.
func (s *IndexStore) DeleteSite(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete site", id, `DELETE FROM sites WHERE id = $1`, id)
}

// UpdateSiteStatus sets status, last error and status time.
func (s *IndexStore) UpdateSiteStatus(
	ctx context.Context,
	id int64,
	status store.SiteStatus,
	lastError string,
	at time.Time,
) error {
	return s.execOne(ctx, "update site", id,
		`UPDATE sites SET status = $1, last_error = $2, status_time = $3 WHERE id = $4`,
		string(status), lastError, at, id,
	)
}

// TouchSite refreshes the status time.
func (s *IndexStore) TouchSite(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "touch site", id, `UPDATE sites SET status_time = $1 WHERE id = $2`, at, id)
}

const pageColumns = `id, site_id, path, url, status_code, content`

func scanPage(row pgx.Row) (store.Page, error) {
	var page store.Page
	err := row.Scan(&page.ID, &page.SiteID, &page.Path, &page.URL, &page.StatusCode, &page.Content)
	return page, err //nolint:wrapcheck // callers wrap with context
}

// CreatePage inserts a page, returning store.ErrConflict for a duplicate (site, path).
func (s *IndexStore) CreatePage(ctx context.Context, page store.Page) (store.Page, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO pages (site_id, path, url, status_code, content) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		page.SiteID, page.Path, page.URL, page.StatusCode, page.Content,
	).Scan(&page.ID)
	if isUniqueViolation(err) {
		return store.Page{}, fmt.Errorf("page %q: %w", page.Path, store.ErrConflict)
	}
	if err != nil {
		return store.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return page, nil
}

// GetPage fetches a page by ID.
func (s *IndexStore) GetPage(ctx context.Context, id int64) (store.Page, error) {
	page, err := scanPage(s.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id))
	if err != nil {
		return store.Page{}, notFound(err, "page", id)
	}
	return page, nil
}

// FindPage fetches the page at (siteID, path).
func (s *IndexStore) FindPage(ctx context.Context, siteID int64, path string) (store.Page, error) {
	page, err := scanPage(s.db.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE site_id = $1 AND path = $2`, siteID, path))
	if err != nil {
		return store.Page{}, notFound(err, "page", path)
	}
	return page, nil
}

// DeletePage removes a page; its Index rows cascade.
func (s *IndexStore) DeletePage(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete page", id, `DELETE FROM pages WHERE id = $1`, id)
}

func (s *IndexStore) count(ctx context.Context, sql string, siteID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, sql, siteID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count for site %d: %w", siteID, err)
	}
	return n, nil
}

// CountPages counts the pages of a site.
func (s *IndexStore) CountPages(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM pages WHERE site_id = $1`, siteID)
}

const lemmaColumns = `id, site_id, lemma, frequency, rank`

func scanLemma(row pgx.Row) (store.Lemma, error) {
	var lemma store.Lemma
	err := row.Scan(&lemma.ID, &lemma.SiteID, &lemma.Text, &lemma.Frequency, &lemma.Rank)
	return lemma, err //nolint:wrapcheck // callers wrap with context
}

// FindLemma fetches the lemma text of a site.
func (s *IndexStore) FindLemma(ctx context.Context, siteID int64, text string) (store.Lemma, error) {
	lemma, err := scanLemma(s.db.QueryRow(ctx,
		`SELECT `+lemmaColumns+` FROM lemmas WHERE site_id = $1 AND lemma = $2`, siteID, text))
	if err != nil {
		return store.Lemma{}, notFound(err, "lemma", text)
	}
	return lemma, nil
}

// FindLemmasByText returns the rows of every site sharing text, ordered by ID.
func (s *IndexStore) FindLemmasByText(ctx context.Context, text string) ([]store.Lemma, error) {
	rows, err := s.db.Query(ctx, `SELECT `+lemmaColumns+` FROM lemmas WHERE lemma = $1 ORDER BY id`, text)
	if err != nil {
		return nil, fmt.Errorf("find lemmas %q: %w", text, err)
	}
	defer rows.Close()
	var out []store.Lemma
	for rows.Next() {
		lemma, err := scanLemma(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lemma: %w", err)
		}
		out = append(out, lemma)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find lemmas %q: %w", text, err)
	}
	return out, nil
}

// GetLemma fetches a lemma by ID.
func (s *IndexStore) GetLemma(ctx context.Context, id int64) (store.Lemma, error) {
	lemma, err := scanLemma(s.db.QueryRow(ctx, `SELECT `+lemmaColumns+` FROM lemmas WHERE id = $1`, id))
	if err != nil {
		return store.Lemma{}, notFound(err, "lemma", id)
	}
	return lemma, nil
}

// SaveLemmas inserts rows with a zero ID and updates the rest in one transaction.
func (s *IndexStore) SaveLemmas(ctx context.Context, lemmas []store.Lemma) ([]store.Lemma, error) {
	if len(lemmas) == 0 {
		return nil, nil
	}
	out := make([]store.Lemma, 0, len(lemmas))
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, lemma := range lemmas {
			if lemma.ID == 0 {
				err := tx.QueryRow(ctx,
					`INSERT INTO lemmas (site_id, lemma, frequency, rank) VALUES ($1, $2, $3, $4) RETURNING id`,
					lemma.SiteID, lemma.Text, lemma.Frequency, lemma.Rank,
				).Scan(&lemma.ID)
				if isUniqueViolation(err) {
					return fmt.Errorf("lemma %q: %w", lemma.Text, store.ErrConflict)
				}
				if err != nil {
					return fmt.Errorf("insert lemma %q: %w", lemma.Text, err)
				}
			} else {
				tag, err := tx.Exec(ctx,
					`UPDATE lemmas SET frequency = $1, rank = $2 WHERE id = $3`,
					lemma.Frequency, lemma.Rank, lemma.ID,
				)
				if err != nil {
					return fmt.Errorf("update lemma %d: %w", lemma.ID, err)
				}
				if tag.RowsAffected() == 0 {
					return fmt.Errorf("lemma %d: %w", lemma.ID, store.ErrNotFound)
				}
			}
			out = append(out, lemma)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteLemmas removes lemmas; their Index rows cascade. Unknown IDs are ignored.
func (s *IndexStore) DeleteLemmas(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM lemmas WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete lemmas: %w", err)
	}
	return nil
}

// CountLemmas counts the lemmas of a site.
func (s *IndexStore) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM lemmas WHERE site_id = $1`, siteID)
}

// CreateIndices inserts Index rows in a single statement.
func (s *IndexStore) CreateIndices(ctx context.Context, rows []store.Index) error {
	if len(rows) == 0 {
		return nil
	}
	pageIDs := make([]int64, len(rows))
	lemmaIDs := make([]int64, len(rows))
	ranks := make([]float64, len(rows))
	for i, row := range rows {
		pageIDs[i], lemmaIDs[i], ranks[i] = row.PageID, row.LemmaID, row.Rank
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO indices (page_id, lemma_id, rank)
SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::double precision[])`,
		pageIDs, lemmaIDs, ranks,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert indices: %w", store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert indices: %w", err)
	}
	return nil
}

func (s *IndexStore) indices(ctx context.Context, sql string, id int64) ([]store.Index, error) {
	rows, err := s.db.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("query indices: %w", err)
	}
	defer rows.Close()
	var out []store.Index
	for rows.Next() {
		var idx store.Index
		if err := rows.Scan(&idx.PageID, &idx.LemmaID, &idx.Rank); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query indices: %w", err)
	}
	return out, nil
}

// IndicesByPage lists a page's Index rows ordered by lemma ID.
func (s *IndexStore) IndicesByPage(ctx context.Context, pageID int64) ([]store.Index, error) {
	return s.indices(ctx, `SELECT page_id, lemma_id, rank FROM indices WHERE page_id = $1 ORDER BY lemma_id`, pageID)
}

// IndicesByLemma lists a lemma's Index rows ordered by page ID.
func (s *IndexStore) IndicesByLemma(ctx context.Context, lemmaID int64) ([]store.Index, error) {
	return s.indices(ctx, `SELECT page_id, lemma_id, rank FROM indices WHERE lemma_id = $1 ORDER BY page_id`, lemmaID)
}
