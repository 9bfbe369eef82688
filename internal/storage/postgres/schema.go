// Package postgres implements the index repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent; references are one-way and cascade on delete.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	status_time TIMESTAMPTZ NOT NULL,
	last_error  TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS sites_url_idx ON sites (rtrim(lower(url), '/'))`,
	`CREATE TABLE IF NOT EXISTS pages (
	id          BIGSERIAL PRIMARY KEY,
	site_id     BIGINT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	path        TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	UNIQUE (site_id, path)
)`,
	`CREATE TABLE IF NOT EXISTS lemmas (
	id        BIGSERIAL PRIMARY KEY,
	site_id   BIGINT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
	lemma     TEXT NOT NULL,
	frequency INTEGER NOT NULL,
	rank      DOUBLE PRECISION NOT NULL,
	UNIQUE (site_id, lemma)
)`,
	`CREATE INDEX IF NOT EXISTS lemmas_lemma_idx ON lemmas (lemma)`,
	`CREATE TABLE IF NOT EXISTS indices (
	page_id  BIGINT NOT NULL REFERENCES pages (id) ON DELETE CASCADE,
	lemma_id BIGINT NOT NULL REFERENCES lemmas (id) ON DELETE CASCADE,
	rank     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (page_id, lemma_id)
)`,
	`CREATE INDEX IF NOT EXISTS indices_lemma_idx ON indices (lemma_id)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *IndexStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
