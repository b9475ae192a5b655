// Package storage persists subscription records, the advertised channel link
// and the broadcast audit trail.
//
// Drivers:
//   - memory: in-process maps, for tests and throwaway runs
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
//   - postgres: a pgx connection pool
package storage
