// Package storage persists the destination registry.
//
// Every driver stores the whole set and rewrites it on each save:
//   - "file": a JSON array of chat ids, replaced atomically
//   - "sqlite": a single table in a SQLite database (modernc, no cgo)
//   - "postgres": a single table reached through a pgx pool
//   - "memory": process-local, for tests and dry runs
package storage
