// ABOUTME: PostgreSQL implementation of the Store interface using pgx
// ABOUTME: Shares the table layout of the SQLite store for hosted deployments

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/2389/olymp-desk/internal/chat"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id             BIGSERIAL PRIMARY KEY,
	external_id    BIGINT NOT NULL UNIQUE,
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
	is_banned      BOOLEAN NOT NULL DEFAULT FALSE,
	is_staff       BOOLEAN NOT NULL DEFAULT FALSE,
	score          INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_users_handle ON users (lower(handle));

CREATE TABLE IF NOT EXISTS banned_users (
	id          BIGSERIAL PRIMARY KEY,
	external_id BIGINT NOT NULL UNIQUE,
	handle      TEXT,
	reason      TEXT NOT NULL,
	banned_by   TEXT NOT NULL,
	proof       TEXT,
	unbanned_by TEXT,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS actors (
	actor_id   BIGSERIAL PRIMARY KEY,
	transport  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	room       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (transport, user_id)
);
`

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Info("Postgres store initialized", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

const pgProfileColumns = `id, external_id, coalesce(handle, ''), full_name, phone, place_of_study, school, grade,
	email, coalesce(login, ''), coalesce(password, ''), coalesce(password_hash, ''), is_banned, is_staff, score, created_at`

func scanPgProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var ext int64
	err := row.Scan(&p.ID, &ext, &p.Handle, &p.FullName, &p.Phone, &p.PlaceOfStudy, &p.School, &p.Grade,
		&p.Email, &p.Login, &p.Password, &p.PasswordHash, &p.Banned, &p.Staff, &p.Score, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	p.ExternalID = chat.ActorID(ext)
	return &p, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, id chat.ActorID) (*Profile, error) {
	return scanPgProfile(s.pool.QueryRow(ctx, `SELECT `+pgProfileColumns+` FROM users WHERE external_id=$1`, int64(id)))
}

func (s *PostgresStore) FindByHandle(ctx context.Context, handle string) (*Profile, error) {
	handle = normalizeHandle(handle)
	if handle == "" {
		return nil, ErrNotFound
	}
	return scanPgProfile(s.pool.QueryRow(ctx,
		`SELECT `+pgProfileColumns+` FROM users WHERE lower(handle)=$1 ORDER BY id LIMIT 1`, handle))
}

func (s *PostgresStore) Create(ctx context.Context, p *Profile, creds CredentialFunc) (*Profile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	out := *p
	err = tx.QueryRow(ctx, `
		INSERT INTO users (external_id, handle, full_name, phone, place_of_study, school, grade, email, is_staff)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, int64(p.ExternalID), p.Handle, p.FullName, p.Phone, p.PlaceOfStudy, p.School, p.Grade, p.Email, p.Staff,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("inserting profile: %w", err)
	}

	if creds != nil {
		c, err := creds(out.ID)
		if err != nil {
			return nil, fmt.Errorf("generating credentials: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET login=$1, password=$2, password_hash=$3 WHERE id=$4`,
			c.Login, c.Password, c.PasswordHash, out.ID); err != nil {
			return nil, fmt.Errorf("storing credentials: %w", err)
		}
		out.Login, out.Password, out.PasswordHash = c.Login, c.Password, c.PasswordHash
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing profile: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) SetBanned(ctx context.Context, id chat.ActorID, banned bool) error {
	return s.execAffecting(ctx, `UPDATE users SET is_banned=$1 WHERE external_id=$2`, banned, int64(id))
}

func (s *PostgresStore) SetRole(ctx context.Context, id chat.ActorID, role Role, on bool) error {
	col, err := role.column()
	if err != nil {
		return err
	}
	return s.execAffecting(ctx, `UPDATE users SET `+col+`=$1 WHERE external_id=$2`, on, int64(id))
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgProfileColumns+` FROM users ORDER BY score DESC, full_name`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanPgProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ban(ctx context.Context, rec *BanRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE users SET is_banned=TRUE WHERE external_id=$1`, int64(rec.ExternalID))
	if err != nil {
		return fmt.Errorf("flagging profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO banned_users (external_id, handle, reason, banned_by, proof, unbanned_by, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULL, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			handle = EXCLUDED.handle,
			reason = EXCLUDED.reason,
			banned_by = EXCLUDED.banned_by,
			proof = EXCLUDED.proof,
			unbanned_by = NULL,
			updated_at = EXCLUDED.updated_at
	`, int64(rec.ExternalID), rec.Handle, rec.Reason, rec.BannedBy, rec.Proof, time.Now().UTC()); err != nil {
		return fmt.Errorf("upserting ban record: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Unban(ctx context.Context, id chat.ActorID, by string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE users SET is_banned=FALSE WHERE external_id=$1`, int64(id))
	if err != nil {
		return fmt.Errorf("clearing ban flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE banned_users SET unbanned_by=$1, updated_at=$2 WHERE external_id=$3`,
		by, time.Now().UTC(), int64(id)); err != nil {
		return fmt.Errorf("recording unban: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBanRecord(ctx context.Context, id chat.ActorID) (*BanRecord, error) {
	var rec BanRecord
	var ext int64
	err := s.pool.QueryRow(ctx, `
		SELECT external_id, coalesce(handle, ''), reason, banned_by, coalesce(proof, ''), coalesce(unbanned_by, ''), updated_at
		FROM banned_users WHERE external_id=$1
	`, int64(id)).Scan(&ext, &rec.Handle, &rec.Reason, &rec.BannedBy, &rec.Proof, &rec.UnbannedBy, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading ban record: %w", err)
	}
	rec.ExternalID = chat.ActorID(ext)
	return &rec, nil
}

func (s *PostgresStore) ResolveActor(ctx context.Context, transport, userID, room string) (chat.ActorID, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO actors (transport, user_id, room) VALUES ($1, $2, $3)
		ON CONFLICT (transport, user_id) DO UPDATE
			SET room = CASE WHEN EXCLUDED.room = '' THEN actors.room ELSE EXCLUDED.room END
		RETURNING actor_id
	`, transport, userID, room).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolving actor: %w", err)
	}
	return chat.ActorID(id), nil
}

func (s *PostgresStore) LookupActor(ctx context.Context, transport string, id chat.ActorID) (string, string, error) {
	var userID, room string
	err := s.pool.QueryRow(ctx, `SELECT user_id, room FROM actors WHERE transport=$1 AND actor_id=$2`,
		transport, int64(id)).Scan(&userID, &room)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("looking up actor: %w", err)
	}
	return userID, room, nil
}

func (s *PostgresStore) execAffecting(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
