package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenState string

const (
	TokenIssued   TokenState = "ISSUED"
	TokenRedeemed TokenState = "REDEEMED"
)

// Token is created once at issuance and mutated once, by redemption.
type Token struct {
	ID            uuid.UUID  `json:"token_id"`
	DenomCents    int64      `json:"denom_cents"`
	IssuerPubKey  []byte     `json:"issuer_pubkey"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpAt         time.Time  `json:"exp_at"`
	State         TokenState `json:"state"`
	OwnerHint     *string    `json:"owner_hint,omitempty"`
	PayloadSHA256 []byte     `json:"payload_sha256"`
}
