package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/models"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers lock timeouts, deadlocks and serialization failures:
	// the whole unit of work may be retried.
	ErrConflict = errors.New("transaction conflict")
)

type Tokens interface {
	Create(ctx context.Context, t models.Token) error
	Get(ctx context.Context, id uuid.UUID) (models.Token, error)
	// LockForUpdate takes the exclusive per-token lock, held until the
	// enclosing transaction ends, and returns the row as seen under it.
	LockForUpdate(ctx context.Context, id uuid.UUID) (models.Token, error)
	MarkRedeemed(ctx context.Context, id uuid.UUID, owner string) error
	ListVisibleTo(ctx context.Context, userID string, limit, offset int) ([]models.Token, error)
}

type Redemptions interface {
	// InsertIgnore is insert-or-ignore on the unique idempotency key.
	InsertIgnore(ctx context.Context, r models.Redemption) (inserted bool, err error)
	GetByIdempotencyKey(ctx context.Context, key []byte) (models.Redemption, error)
	AddItem(ctx context.Context, it models.RedemptionItem) error
	MarkApplied(ctx context.Context, id string) error
}

type Devices interface {
	Get(ctx context.Context, id string) (models.Device, error)
	FirstByUser(ctx context.Context, userID string) (models.Device, error)
	Create(ctx context.Context, d models.Device) error
}

type Accounts interface {
	Get(ctx context.Context, id string) (models.Account, error)
	Reserve(ctx context.Context, currency string) (models.Account, error)
	WalletOf(ctx context.Context, userID, currency string) (models.Account, error)
}

type Ledger interface {
	// Append rejects entries that do not balance per tx id and currency.
	Append(ctx context.Context, entries []models.LedgerEntry) error
	ByTx(ctx context.Context, txID string) ([]models.LedgerEntry, error)
	Balance(ctx context.Context, accountID string) (int64, error)
}

// Tx is one unit of work. Everything done through it commits or rolls back
// together.
type Tx interface {
	Tokens() Tokens
	Redemptions() Redemptions
	Devices() Devices
	Accounts() Accounts
	Ledger() Ledger
}

// Store hands out transactions scoped to a single call; nothing is held
// across requests.
type Store interface {
	// WithTx runs fn in a serializable transaction and commits if fn returns
	// nil. Any error, panic or context cancellation rolls back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
