// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides profile, ban and actor directory persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/olymp-desk/internal/chat"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes
	// writers, which SQLite does anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id    INTEGER NOT NULL UNIQUE,
			handle         TEXT,
			full_name      TEXT NOT NULL,
			phone          TEXT NOT NULL,
			place_of_study TEXT NOT NULL,
			school         TEXT NOT NULL,
			grade          TEXT NOT NULL,
			email          TEXT NOT NULL,
			login          TEXT UNIQUE,
			password       TEXT,
			password_hash  TEXT,
			is_banned      INTEGER NOT NULL DEFAULT 0,
			is_staff       INTEGER NOT NULL DEFAULT 0,
			score          INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_handle ON users(handle);

		CREATE TABLE IF NOT EXISTS banned_users (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER NOT NULL UNIQUE,
			handle      TEXT,
			reason      TEXT NOT NULL,
			banned_by   TEXT NOT NULL,
			proof       TEXT,
			unbanned_by TEXT,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS actors (
			actor_id  INTEGER PRIMARY KEY AUTOINCREMENT,
			transport TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			room      TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (transport, user_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive column migrations to databases created by
// older releases.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('users') WHERE name = 'password_hash'`,
			apply:  `ALTER TABLE users ADD COLUMN password_hash TEXT`,
			column: "password_hash",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('users') WHERE name = 'score'`,
			apply:  `ALTER TABLE users ADD COLUMN score INTEGER NOT NULL DEFAULT 0`,
			column: "score",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to users: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "users")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const profileColumns = `id, external_id, handle, full_name, phone, place_of_study, school, grade,
	email, login, password, password_hash, is_banned, is_staff, score, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var handle, login, password, hash sql.NullString
	var banned, staff int
	var createdAt string
	var ext int64
	err := row.Scan(&p.ID, &ext, &handle, &p.FullName, &p.Phone, &p.PlaceOfStudy, &p.School, &p.Grade,
		&p.Email, &login, &password, &hash, &banned, &staff, &p.Score, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	p.ExternalID = chat.ActorID(ext)
	p.Handle = handle.String
	p.Login = login.String
	p.Password = password.String
	p.PasswordHash = hash.String
	p.Banned = banned != 0
	p.Staff = staff != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// FindByExternalID returns the profile of an actor, or ErrNotFound.
func (s *SQLiteStore) FindByExternalID(ctx context.Context, id chat.ActorID) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE external_id = ?`, int64(id))
	return scanProfile(row)
}

// FindByHandle returns the profile with the handle, ignoring a leading "@"
// and case.
func (s *SQLiteStore) FindByHandle(ctx context.Context, handle string) (*Profile, error) {
	handle = normalizeHandle(handle)
	if handle == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE lower(handle) = ? ORDER BY id LIMIT 1`, handle)
	return scanProfile(row)
}

// Create inserts a new profile and assigns generated credentials in one
// transaction.
func (s *SQLiteStore) Create(ctx context.Context, p *Profile, creds CredentialFunc) (*Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (external_id, handle, full_name, phone, place_of_study, school, grade, email, is_staff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(p.ExternalID), nullString(p.Handle), p.FullName, p.Phone, p.PlaceOfStudy, p.School, p.Grade, p.Email,
		boolInt(p.Staff), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("inserting profile: %w", err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading row id: %w", err)
	}

	out := *p
	out.ID = rowID
	out.CreatedAt = now
	if creds != nil {
		c, err := creds(rowID)
		if err != nil {
			return nil, fmt.Errorf("generating credentials: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET login = ?, password = ?, password_hash = ? WHERE id = ?`,
			c.Login, c.Password, c.PasswordHash, rowID); err != nil {
			return nil, fmt.Errorf("storing credentials: %w", err)
		}
		out.Login, out.Password, out.PasswordHash = c.Login, c.Password, c.PasswordHash
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing profile: %w", err)
	}

	s.logger.Debug("created profile", "external_id", p.ExternalID, "row_id", rowID)
	return &out, nil
}

// SetBanned flips the ban flag on a profile.
func (s *SQLiteStore) SetBanned(ctx context.Context, id chat.ActorID, banned bool) error {
	return s.execAffecting(ctx, `UPDATE users SET is_banned = ? WHERE external_id = ?`, boolInt(banned), int64(id))
}

// SetRole grants or revokes a role flag.
func (s *SQLiteStore) SetRole(ctx context.Context, id chat.ActorID, role Role, on bool) error {
	col, err := role.column()
	if err != nil {
		return err
	}
	if err := s.execAffecting(ctx, `UPDATE users SET `+col+` = ? WHERE external_id = ?`, boolInt(on), int64(id)); err != nil {
		return err
	}
	s.logger.Debug("set role", "external_id", id, "role", role, "on", on)
	return nil
}

// ListAll returns every profile ordered by score (desc) then full name.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM users ORDER BY score DESC, full_name`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return out, nil
}

// Ban flags the profile and upserts the banned_users row in one transaction.
func (s *SQLiteStore) Ban(ctx context.Context, rec *BanRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET is_banned = 1 WHERE external_id = ?`, int64(rec.ExternalID))
	if err != nil {
		return fmt.Errorf("flagging profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO banned_users (external_id, handle, reason, banned_by, proof, unbanned_by, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			handle = excluded.handle,
			reason = excluded.reason,
			banned_by = excluded.banned_by,
			proof = excluded.proof,
			unbanned_by = NULL,
			updated_at = excluded.updated_at
	`, int64(rec.ExternalID), nullString(rec.Handle), rec.Reason, rec.BannedBy, nullString(rec.Proof),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting ban record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ban: %w", err)
	}
	return nil
}

// Unban clears the flag and records the unbanning staff member.
func (s *SQLiteStore) Unban(ctx context.Context, id chat.ActorID, by string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET is_banned = 0 WHERE external_id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("clearing ban flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE banned_users SET unbanned_by = ?, updated_at = ? WHERE external_id = ?`,
		by, time.Now().UTC().Format(time.RFC3339), int64(id)); err != nil {
		return fmt.Errorf("recording unban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing unban: %w", err)
	}
	return nil
}

// GetBanRecord returns the banned_users row for an actor.
func (s *SQLiteStore) GetBanRecord(ctx context.Context, id chat.ActorID) (*BanRecord, error) {
	var rec BanRecord
	var ext int64
	var handle, proof, unbannedBy sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT external_id, handle, reason, banned_by, proof, unbanned_by, updated_at
		FROM banned_users WHERE external_id = ?
	`, int64(id)).Scan(&ext, &handle, &rec.Reason, &rec.BannedBy, &proof, &unbannedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading ban record: %w", err)
	}
	rec.ExternalID = chat.ActorID(ext)
	rec.Handle = handle.String
	rec.Proof = proof.String
	rec.UnbannedBy = unbannedBy.String
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// ResolveActor returns the actor id for a transport user, allocating one on
// first sight and refreshing the stored room.
func (s *SQLiteStore) ResolveActor(ctx context.Context, transport, userID, room string) (chat.ActorID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO actors (transport, user_id, room, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(transport, user_id) DO UPDATE SET room = CASE WHEN excluded.room = '' THEN actors.room ELSE excluded.room END
		RETURNING actor_id
	`, transport, userID, room, time.Now().UTC().Format(time.RFC3339)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolving actor: %w", err)
	}
	return chat.ActorID(id), nil
}

// LookupActor returns the transport user and room for an actor id.
func (s *SQLiteStore) LookupActor(ctx context.Context, transport string, id chat.ActorID) (string, string, error) {
	var userID, room string
	err := s.db.QueryRowContext(ctx, `SELECT user_id, room FROM actors WHERE transport = ? AND actor_id = ?`,
		transport, int64(id)).Scan(&userID, &room)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("looking up actor: %w", err)
	}
	return userID, room, nil
}

func (s *SQLiteStore) execAffecting(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
