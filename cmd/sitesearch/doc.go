// Package main hosts the site search service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics and the /api routes (startIndexing,
//     stopIndexing, status, indexPage, search). Errors map to HTTP statuses and a JSON {result, error} body.
//   - Coordinator: internal/coordinator allows one indexing run at a time. A run recreates every configured site,
//     crawls them concurrently and publishes a SiteEvent per site when it finishes. Stop is cooperative via context
//     cancellation.
//   - Crawl pipeline: the crawler walks each site breadth-first from its root on a shared ants worker pool. Pages are
//     fetched with Colly (redirects are not followed), optionally throttled per host, written through the indexer
//     and then scanned for same-site links.
//   - Indexing: the indexer replaces any stored page at the same path, lemmatizes visible text with Snowball and
//     commits lemma frequencies and Index rows under a per-site lock. Raw markup can be archived to memory, local
//     disk or GCS.
//   - Search: lemmas are filtered by document frequency, candidate pages are intersected and ranked by relative
//     relevance. Results are paginated and carry highlighted snippets.
//   - Storage: the index lives in memory, Postgres (pgx) or an embedded Badger database.
//
// Commands:
//   - serve: run the HTTP API until SIGINT/SIGTERM, then drain indexing and shut down.
//   - crawl: run one indexing pass over the configured sites and exit.
//   - search: query the index and print the JSON response.
//
// Configuration comes from an optional file (--config), a .env file and SITESEARCH_* environment variables.
package main
