// Package database provides the SQLite dedup store of the crawler.
//
// The CrawlDB keeps three independent identity domains:
//   - guardians, keyed by (membership id, membership type, character id)
//   - activities, keyed by instance id
//   - consumed sources, keyed like guardians
//
// Every write is insert-if-absent, so re-fetching an entity after a crash
// never produces a second row. The store also persists the frontier cursor
// and a small table of crawl runs.
//
// The schema is managed by goose migrations embedded in the binary.
package database
