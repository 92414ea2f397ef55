// Package pg is the relational store. All entity reads hide soft-deleted
// rows; redemption and rotation paths serialize on row locks.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cadencehq/cadence/internal/auth"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore       { return &userStore{db: s.db} }
func (s *Store) Tokens() auth.TokenStore     { return &tokenStore{db: s.db} }
func (s *Store) Sessions() auth.SessionStore { return &sessionStore{db: s.db} }

const pgUniqueViolation = "23505"

// mapError converts driver errors to domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return auth.ErrConflict
	}
	return err
}
