package models

import "time"

type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// LedgerEntry is one leg of a double-entry transaction; entries sharing a
// TxID balance per currency.
type LedgerEntry struct {
	ID          int64     `json:"id,omitempty"`
	TxID        string    `json:"tx_id"`
	AccountID   string    `json:"account_id"`
	Side        Side      `json:"side"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type AccountKind string

const (
	AccountIssuanceReserve AccountKind = "ISSUANCE_RESERVE"
	AccountUserWallet      AccountKind = "USER_WALLET"
)

type Account struct {
	ID       string      `json:"account_id"`
	UserID   *string     `json:"user_id,omitempty"` // nil for the reserve
	Kind     AccountKind `json:"kind"`
	Currency string      `json:"currency"`
}
