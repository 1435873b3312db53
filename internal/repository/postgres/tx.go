package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/offlinepay/settlement/internal/apperr"
	repo "github.com/offlinepay/settlement/internal/repository"
)

// SQLSTATEs that mean "replay the whole transaction".
const (
	sqlSerializationFailure = "40001"
	sqlDeadlockDetected     = "40P01"
	sqlLockNotAvailable     = "55P03"
	sqlCheckViolation       = "23514"
)

func (s *Store) WithTx(ctx context.Context, fn func(repo.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return mapErr(err)
	}
	// Rollback after a successful Commit is a no-op; on panic or error this
	// releases every row lock the transaction took.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	ms := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
		return mapErr(err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates driver errors; errors already in the taxonomy pass
// through untouched.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlSerializationFailure, sqlDeadlockDetected, sqlLockNotAvailable:
			return fmt.Errorf("%s (%s): %w", pgErr.Message, pgErr.Code, repo.ErrConflict)
		case sqlCheckViolation:
			if pgErr.ConstraintName == "" {
				return apperr.Unbalanced("%s", pgErr.Message)
			}
		}
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Tokens() repo.Tokens           { return &tokensRepo{t.tx} }
func (t *pgTx) Redemptions() repo.Redemptions { return &redemptionsRepo{t.tx} }
func (t *pgTx) Devices() repo.Devices         { return &devicesRepo{t.tx} }
func (t *pgTx) Accounts() repo.Accounts       { return &accountsRepo{t.tx} }
func (t *pgTx) Ledger() repo.Ledger           { return &ledgerRepo{t.tx} }
