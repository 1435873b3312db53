package models

import (
	"time"

	"github.com/google/uuid"
)

type RedemptionStatus string

const (
	RedemptionPending RedemptionStatus = "PENDING"
	RedemptionApplied RedemptionStatus = "APPLIED"
)

type Redemption struct {
	ID              string           `json:"redemption_id"`
	RequesterUser   string           `json:"requester_user"`
	RequesterDevice string           `json:"requester_device"`
	IdempotencyKey  []byte           `json:"-"`
	Status          RedemptionStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}

// RedemptionItem links a redemption to one token. The schema allows several
// items per redemption; redemption is 1:1 today.
type RedemptionItem struct {
	RedemptionID string    `json:"redemption_id"`
	TokenID      uuid.UUID `json:"token_id"`
}
