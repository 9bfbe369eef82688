package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch/internal/store"
)

func newMockStore(t *testing.T) (*IndexStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithDB(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewWithDBRequiresDB(t *testing.T) {
	t.Parallel()

	_, err := NewWithDB(nil)
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.EqualError(t, err, "storage.dsn is required")
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAndGetSite(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	site := store.Site{URL: "https://example.com", Name: "Example", Status: store.StatusIndexing, StatusTime: now}

	mock.ExpectQuery("INSERT INTO sites").
		WithArgs(site.URL, site.Name, "INDEXING", now, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	created, err := s.CreateSite(context.Background(), site)
	require.NoError(t, err)
	assert.EqualValues(t, 7, created.ID)

	mock.ExpectQuery("FROM sites WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}).
			AddRow(int64(7), site.URL, site.Name, "FAILED", now, "boom"))
	got, err := s.GetSite(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteMissingIsNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM sites WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}))
	_, err := s.GetSite(context.Background(), 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindSiteByURLNormalizes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE rtrim(lower(url), '/') = lower($1)")).
		WithArgs("https://example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}).
			AddRow(int64(2), "https://Example.com/", "ex", "INDEXED", now, ""))
	site, err := s.FindSiteByURL(context.Background(), "HTTPS://EXAMPLE.COM//")
	require.NoError(t, err)
	assert.EqualValues(t, 2, site.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSiteByURLKeepsPathCase(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE rtrim(lower(url), '/') = lower($1)")).
		WithArgs("https://example.com/Docs").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}).
			AddRow(int64(1), "https://example.com/docs", "lower", "INDEXED", now, "").
			AddRow(int64(2), "https://EXAMPLE.com/Docs/", "upper", "INDEXED", now, ""))
	site, err := s.FindSiteByURL(context.Background(), "https://example.com/Docs/")
	require.NoError(t, err)
	assert.EqualValues(t, 2, site.ID)
	assert.Equal(t, "https://EXAMPLE.com/Docs/", site.URL)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE rtrim(lower(url), '/') = lower($1)")).
		WithArgs("https://example.com/DOCS").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "name", "status", "status_time", "last_error"}).
			AddRow(int64(1), "https://example.com/docs", "lower", "INDEXED", now, ""))
	_, err = s.FindSiteByURL(context.Background(), "https://example.com/DOCS")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSiteNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sites").WithArgs(int64(3)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, s.DeleteSite(context.Background(), 3), store.ErrNotFound)

	mock.ExpectExec("DELETE FROM sites").WithArgs(int64(3)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.DeleteSite(context.Background(), 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSiteStatus(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE sites SET status").
		WithArgs("FAILED", "site is unavailable", now, int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateSiteStatus(context.Background(), 4, store.StatusFailed, "site is unavailable", now))

	mock.ExpectExec("UPDATE sites SET status_time").
		WithArgs(now, int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.TouchSite(context.Background(), 4, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePageConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	page := store.Page{SiteID: 1, Path: "/a", URL: "https://example.com/a", StatusCode: 200, Content: "<p>hi</p>"}
	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(page.SiteID, page.Path, page.URL, page.StatusCode, page.Content).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err := s.CreatePage(context.Background(), page)
	require.ErrorIs(t, err, store.ErrConflict)

	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(page.SiteID, page.Path, page.URL, page.StatusCode, page.Content).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	created, err := s.CreatePage(context.Background(), page)
	require.NoError(t, err)
	assert.EqualValues(t, 11, created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPageAndCount(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM pages WHERE site_id").
		WithArgs(int64(1), "/a").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "path", "url", "status_code", "content"}).
			AddRow(int64(5), int64(1), "/a", "https://example.com/a", 200, "body"))
	page, err := s.FindPage(context.Background(), 1, "/a")
	require.NoError(t, err)
	assert.Equal(t, "body", page.Content)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM pages")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	n, err := s.CountPages(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLemmasInsertsAndUpdates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO lemmas").
		WithArgs(int64(1), "fox", 1, 2.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec("UPDATE lemmas").
		WithArgs(4, 1.0, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	saved, err := s.SaveLemmas(context.Background(), []store.Lemma{
		{SiteID: 1, Text: "fox", Frequency: 1, Rank: 2},
		{ID: 3, SiteID: 1, Text: "dog", Frequency: 4, Rank: 1},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.EqualValues(t, 9, saved[0].ID)
	assert.EqualValues(t, 3, saved[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLemmasRollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE lemmas").
		WithArgs(1, 1.0, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.SaveLemmas(context.Background(), []store.Lemma{{ID: 3, SiteID: 1, Text: "dog", Frequency: 1, Rank: 1}})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLemmasAndIndices(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	require.NoError(t, s.DeleteLemmas(context.Background(), nil))
	require.NoError(t, s.CreateIndices(context.Background(), nil))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lemmas WHERE id = ANY($1)")).
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.DeleteLemmas(context.Background(), []int64{1, 2}))

	mock.ExpectExec("INSERT INTO indices").
		WithArgs([]int64{5, 5}, []int64{1, 2}, []float64{3, 1}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	require.NoError(t, s.CreateIndices(context.Background(), []store.Index{
		{PageID: 5, LemmaID: 1, Rank: 3},
		{PageID: 5, LemmaID: 2, Rank: 1},
	}))

	mock.ExpectQuery("FROM indices WHERE lemma_id").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"page_id", "lemma_id", "rank"}).
			AddRow(int64(5), int64(1), 3.0).
			AddRow(int64(6), int64(1), 1.0))
	rows, err := s.IndicesByLemma(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []store.Index{{PageID: 5, LemmaID: 1, Rank: 3}, {PageID: 6, LemmaID: 1, Rank: 1}}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLemmasByTextPropagatesErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM lemmas WHERE lemma").
		WithArgs("fox").
		WillReturnError(errors.New("db down"))
	_, err := s.FindLemmasByText(context.Background(), "fox")
	require.ErrorContains(t, err, "db down")

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
