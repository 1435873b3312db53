// Package postgres implements the repository interfaces over pgx. Every unit
// of work is a SERIALIZABLE transaction with a bounded lock wait; lock
// timeouts, deadlocks and serialization failures surface as
// repository.ErrConflict.
package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/offlinepay/settlement/internal/repository"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ repo.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

type Repositories struct {
	Store     *Store
	AuditLogs repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool, lockTimeout time.Duration) Repositories {
	return Repositories{
		Store:     NewStore(pool, lockTimeout),
		AuditLogs: &auditLogsRepo{pool},
	}
}
