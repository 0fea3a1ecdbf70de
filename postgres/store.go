// Package postgres implements [pjutsauth.Repository] on a pgx connection pool.
//
// Schema changes ship as embedded SQL migrations applied with [Migrate]. Unique
// violations surface as [pjutsauth.ErrRecordExists] and missing rows as
// [pjutsauth.ErrRecordNotFound], which is all the engine relies on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pjuts-monitor/pjutsauth"
)

const uniqueViolation = "23505"

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect parses dsn, opens a pool and pings it.
func Connect(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Store is safe for concurrent use; all state lives in the database.
type Store struct {
	pool *pgxpool.Pool
}

var _ pjutsauth.Repository = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

/*
====================================
CREDENTIALS
====================================
*/

// CreateCredential inserts an account and returns its ID. The engine never
// creates accounts; this exists for seeding and tests.
func (s *Store) CreateCredential(ctx context.Context, email, passwordHash string, active bool) (string, error) {
	const query = `
		INSERT INTO users (email, password_hash, is_active)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email)), passwordHash, active).Scan(&id)
	if err != nil {
		return "", mapWriteError("create credential", err)
	}
	return id.String(), nil
}

// FindCredentialByEmail matches case-insensitively; rows written by the host
// application keep whatever case they were stored with.
func (s *Store) FindCredentialByEmail(ctx context.Context, email string) (*pjutsauth.Credential, error) {
	const query = `
		SELECT id, email, password_hash, is_active
		FROM users
		WHERE lower(email) = lower($1)`
	var (
		c  pjutsauth.Credential
		id uuid.UUID
	)
	err := s.pool.QueryRow(ctx, query, email).Scan(&id, &c.Email, &c.PasswordHash, &c.IsActive)
	if err != nil {
		return nil, mapReadError("find credential", err)
	}
	c.ID = id.String()
	return &c, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, credentialID, passwordHash string) error {
	id, err := uuid.Parse(credentialID)
	if err != nil {
		return pjutsauth.ErrRecordNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pjutsauth.ErrRecordNotFound
	}
	return nil
}

/*
====================================
RESET TOKENS
====================================
*/

func (s *Store) ReplaceResetToken(ctx context.Context, email, tokenHash string, expiresAt time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE email = $1`, email); err != nil {
			return fmt.Errorf("delete previous reset tokens: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO password_reset_tokens (token_hash, email, expires_at) VALUES ($1, $2, $3)`,
			tokenHash, email, expiresAt)
		if err != nil {
			return mapWriteError("insert reset token", err)
		}
		return nil
	})
}

func (s *Store) FindResetToken(ctx context.Context, tokenHash string) (*pjutsauth.ResetToken, error) {
	const query = `
		SELECT email, token_hash, expires_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1`
	var t pjutsauth.ResetToken
	err := s.pool.QueryRow(ctx, query, tokenHash).Scan(&t.Email, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapReadError("find reset token", err)
	}
	return &t, nil
}

func (s *Store) DeleteResetToken(ctx context.Context, tokenHash string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pjutsauth.ErrRecordNotFound
	}
	return nil
}

// ConsumeResetToken deletes the token row and writes the new hash in one
// transaction. The row lock taken by DELETE makes a racing consumer see zero
// affected rows.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash, credentialID, newPasswordHash string) error {
	id, err := uuid.Parse(credentialID)
	if err != nil {
		return pjutsauth.ErrRecordNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE token_hash = $1`, tokenHash)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return pjutsauth.ErrRecordNotFound
		}

		tag, err = tx.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, newPasswordHash)
		if err != nil {
			return fmt.Errorf("update password hash: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("credential %s: %w", credentialID, pjutsauth.ErrRecordNotFound)
		}
		return nil
	})
}

// PurgeExpiredResetTokens deletes tokens that expired before now.
func (s *Store) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

/*
====================================
SHARE CODES
====================================
*/

const shareCodeColumns = `id, code, label, is_active, expires_at, usage_count, last_used_at, created_by, created_at`

func scanShareCode(row pgx.Row) (*pjutsauth.ShareCode, error) {
	var (
		sc pjutsauth.ShareCode
		id uuid.UUID
	)
	err := row.Scan(&id, &sc.Code, &sc.Label, &sc.IsActive, &sc.ExpiresAt,
		&sc.UsageCount, &sc.LastUsedAt, &sc.CreatedBy, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	sc.ID = id.String()
	return &sc, nil
}

func (s *Store) FindShareCode(ctx context.Context, code string) (*pjutsauth.ShareCode, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shareCodeColumns+` FROM share_codes WHERE code = $1`, code)
	sc, err := scanShareCode(row)
	if err != nil {
		return nil, mapReadError("find share code", err)
	}
	return sc, nil
}

func (s *Store) RecordShareCodeUse(ctx context.Context, code string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE share_codes SET usage_count = usage_count + 1, last_used_at = $2 WHERE code = $1`, code, at)
	if err != nil {
		return fmt.Errorf("record share code use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pjutsauth.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListShareCodes(ctx context.Context) ([]pjutsauth.ShareCode, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+shareCodeColumns+` FROM share_codes ORDER BY created_at DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("list share codes: %w", err)
	}
	defer rows.Close()

	var out []pjutsauth.ShareCode
	for rows.Next() {
		sc, err := scanShareCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share code: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list share codes: %w", err)
	}
	return out, nil
}

func (s *Store) CreateShareCode(ctx context.Context, code pjutsauth.ShareCode) error {
	id, err := uuid.Parse(code.ID)
	if err != nil {
		return fmt.Errorf("share code id %q: %w", code.ID, err)
	}
	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO share_codes (id, code, label, is_active, expires_at, usage_count, last_used_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query, id, code.Code, code.Label, code.IsActive, code.ExpiresAt,
		code.UsageCount, code.LastUsedAt, code.CreatedBy, createdAt)
	if err != nil {
		return mapWriteError("create share code", err)
	}
	return nil
}

func (s *Store) SetShareCodeActive(ctx context.Context, id string, active bool) (*pjutsauth.ShareCode, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, pjutsauth.ErrRecordNotFound
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE share_codes SET is_active = $2 WHERE id = $1 RETURNING `+shareCodeColumns, uid, active)
	sc, err := scanShareCode(row)
	if err != nil {
		return nil, mapReadError("update share code", err)
	}
	return sc, nil
}

func (s *Store) DeleteShareCode(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return pjutsauth.ErrRecordNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM share_codes WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete share code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pjutsauth.ErrRecordNotFound
	}
	return nil
}

func mapReadError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return pjutsauth.ErrRecordNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, pjutsauth.ErrRecordExists, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}
