package repository

import (
	"context"
	"database/sql"

	accessrepo "command-center/backend/internal/access/repository"
	accountrepo "command-center/backend/internal/account/repository"
	"command-center/backend/internal/db"
	sessionrepo "command-center/backend/internal/session/repository"
)

// Repos are the repositories one identity resolution touches, all bound to the same transaction.
type Repos struct {
	Accounts   accountrepo.Repository
	Identities Repository
	Profiles   accessrepo.Repository
	Sessions   sessionrepo.Repository
}

// UnitOfWork runs fn atomically: every write made through the given Repos commits together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// PostgresUnitOfWork implements UnitOfWork with a database transaction.
type PostgresUnitOfWork struct {
	db *sql.DB
}

// NewPostgresUnitOfWork returns a UnitOfWork over conn.
func NewPostgresUnitOfWork(conn *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: conn}
}

// Do runs fn inside a transaction.
func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.InTx(ctx, u.db, func(tx db.Querier) error {
		return fn(ctx, Repos{
			Accounts:   accountrepo.NewPostgresRepository(tx),
			Identities: NewPostgresRepository(tx),
			Profiles:   accessrepo.NewPostgresRepository(tx),
			Sessions:   sessionrepo.NewPostgresRepository(tx),
		})
	})
}
