package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusgate/authcore"
)

//go:embed schema.sql
var schemaSQL string

// ErrUnavailable wraps any Postgres failure that is not a uniqueness
// conflict or a missing row.
var ErrUnavailable = errors.New("postgres unavailable")

// pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [authcore.CredentialStore] on PostgreSQL. Uniqueness of
// uid and email is enforced by the schema, so concurrent signups for the
// same identity race safely: exactly one insert wins.
type Store struct {
	pool pool
}

// NewStore connects to databaseURL and pings before returning.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(ctxPing); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: p}, nil
}

// NewStoreWithPool wraps an existing pool. Used by tests.
func NewStoreWithPool(p pool) *Store {
	return &Store{pool: p}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if p, ok := s.pool.(*pgxpool.Pool); ok {
		p.Close()
	}
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a authcore.Account) (authcore.Account, error) {
	var out authcore.Account
	err := s.pool.QueryRow(ctx, `
		insert into accounts (uid, roll_no, name, email, batch, password_hash, session_token, created_at)
		values ($1, $2, $3, lower($4), $5, $6, $7, $8)
		returning uid, roll_no, name, email, batch, password_hash, session_token, created_at
	`, a.UID, a.RollNo, a.Name, a.Email, a.Batch, a.PasswordHash, a.SessionToken, a.CreatedAt).Scan(
		&out.UID,
		&out.RollNo,
		&out.Name,
		&out.Email,
		&out.Batch,
		&out.PasswordHash,
		&out.SessionToken,
		&out.CreatedAt,
	)
	if err != nil {
		return authcore.Account{}, mapPgErr(err)
	}
	return out, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (authcore.Account, error) {
	return s.findOne(ctx, `
		select uid, roll_no, name, email, batch, password_hash, session_token, created_at
		from accounts
		where lower(email) = lower($1)
	`, email)
}

func (s *Store) FindByUID(ctx context.Context, uid string) (authcore.Account, error) {
	return s.findOne(ctx, `
		select uid, roll_no, name, email, batch, password_hash, session_token, created_at
		from accounts
		where uid = $1
	`, uid)
}

func (s *Store) findOne(ctx context.Context, query, arg string) (authcore.Account, error) {
	var a authcore.Account
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&a.UID,
		&a.RollNo,
		&a.Name,
		&a.Email,
		&a.Batch,
		&a.PasswordHash,
		&a.SessionToken,
		&a.CreatedAt,
	)
	if err != nil {
		return authcore.Account{}, mapPgErr(err)
	}
	return a, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, uid, passwordHash string) error {
	return s.updateColumn(ctx, `
		update accounts
		set password_hash = $2
		where uid = $1
	`, uid, passwordHash)
}

func (s *Store) UpdateSessionToken(ctx context.Context, uid, token string) error {
	return s.updateColumn(ctx, `
		update accounts
		set session_token = $2
		where uid = $1
	`, uid, token)
}

func (s *Store) updateColumn(ctx context.Context, query, uid, value string) error {
	tag, err := s.pool.Exec(ctx, query, uid, value)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return authcore.ErrDuplicateAccount
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return authcore.ErrAccountNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
