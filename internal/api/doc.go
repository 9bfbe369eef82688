// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/startIndexing, GET /api/stopIndexing and GET /api/status for
//     crawl control.
//   - POST /api/indexPage to index one page of a configured site.
//   - GET /api/search for ranked queries.
package api
