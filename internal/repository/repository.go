// Package repository implements domain.Repository on top of sqlx. The same
// queries run against postgres (pgx or lib/pq) and sqlite; they are written
// with '?' placeholders and rebound for the active driver.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/database"
	"github.com/varfish-case-importer/internal/domain"
)

// Store handles persistence of the case import pipeline
type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	tx  *sqlx.Tx
	log *logrus.Logger
	now func() time.Time
}

var _ domain.Repository = (*Store)(nil)

// NewStore creates a store over an open sqlx handle
func NewStore(db *sqlx.DB, logger *logrus.Logger) *Store {
	return &Store{
		db:  db,
		ext: db,
		log: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// New creates a store over a database connection
func New(db *database.DB, logger *logrus.Logger) *Store {
	return NewStore(db.X, logger)
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. Calls from inside fn reuse the open
// transaction.
func (s *Store) InTx(ctx context.Context, fn func(domain.Repository) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.log.WithError(err).Error("Failed to begin transaction")
		return fmt.Errorf("beginning transaction: %w", err)
	}
	txStore := &Store{db: s.db, ext: tx, tx: tx, log: s.log, now: s.now}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Error("Failed to roll back transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		s.log.WithError(err).Error("Failed to commit transaction")
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

func (s *Store) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.ext.ExecContext(ctx, s.ext.Rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.ext.QueryRowxContext(ctx, s.ext.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execOne runs a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// fail logs a failed operation and wraps the error. Missing rows are passed
// on as domain.ErrNotFound without being logged.
func (s *Store) fail(op string, fields logrus.Fields, err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrAlreadyExists, err)
	}
	s.log.WithFields(fields).WithError(err).Errorf("Failed %s", op)
	return fmt.Errorf("%s: %w", op, err)
}
