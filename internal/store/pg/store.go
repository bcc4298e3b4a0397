package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"gatehouse.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrInvalidText         = "22P02"
)

// detachedTxTimeout bounds transactions that must outlive the request context.
const detachedTxTimeout = 10 * time.Second

// Store is the PostgreSQL-backed relational store for services, service roles and audit rows.
type Store struct {
	db *sql.DB
	qb squirrel.StatementBuilderType
}

// Open connects to dsn through the pgx stdlib driver.
func Open(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle. Tests pass a sqlmock connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// WaitReady pings with exponential backoff until the database answers or wait elapses.
func (s *Store) WaitReady(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return s.Ping(ctx)
	}
	backoff := retry.WithMaxDuration(wait, retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// checkFloor serialises admin-reducing writes on guard.ServiceID and fails
// when removing userID's admin row would drop the count to guard.Min or below.
// It returns auth.ErrNotFound when userID holds no row in the service.
func (s *Store) checkFloor(ctx context.Context, tx *sql.Tx, guard auth.FloorGuard, userID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, guard.ServiceID); err != nil {
		return fmt.Errorf("lock service %s: %w", guard.ServiceID, err)
	}
	var role string
	err := tx.QueryRowContext(ctx, `
		SELECT role FROM service_roles
		WHERE user_id = $1 AND service_id = $2
		FOR UPDATE
	`, userID, guard.ServiceID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	if auth.Role(role) != auth.RoleAdmin {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM service_roles
		WHERE service_id = $1 AND role = 'admin'
	`, guard.ServiceID).Scan(&count); err != nil {
		return err
	}
	if count <= guard.Min {
		return guard.Violation()
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.Detail)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.Detail)
		case pgErrInvalidText:
			return fmt.Errorf("%w: %s", auth.ErrInvalidInput, pgErr.Message)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
