// Package indexer maintains Lemma and Index rows for stored pages.
//
// Every page write goes through Indexer.WritePage: an existing page at the
// same (site, path) is reversed and deleted first, the new page is inserted,
// and then the configured PageHandlers run in order. The first handler is
// always the lemma committer. Commits and reversals for one site are
// serialized by a per-site lock, so Lemma.Frequency always equals the number
// of Index rows referencing the lemma. Writes for different sites proceed in
// parallel.
package indexer
