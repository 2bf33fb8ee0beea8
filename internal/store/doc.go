// Package store defines the persistence models and repository interfaces
// for discovered content, Wikipedia monitoring, and crawl runs.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
