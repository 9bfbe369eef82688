// Package store defines the index entities and the repository contract used to
// persist them. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
