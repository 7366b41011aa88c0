// Package store persists registrant profiles, ban records and the transport
// actor directory.
//
// # Architecture
//
// Two interfaces split the concerns:
//
//   - ProfileStore: profiles, roles, bans and the export listing
//   - Directory: stable numeric actor ids for transport user identifiers
//
// Store combines both. SQLiteStore (modernc.org/sqlite) and PostgresStore
// (pgx) implement Store; MockStore is an in-memory implementation for tests.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Database file locations:
//
//   - Production: /var/lib/olymp-desk/desk.db
//   - Development: ~/.local/share/olymp-desk/desk.db
//   - Testing: a file under t.TempDir()
//
// # Error Handling
//
//   - ErrNotFound: requested profile, ban record or actor does not exist
//   - ErrDuplicate: the actor already has a profile
//
// All methods accept context.Context for cancellation support.
package store
