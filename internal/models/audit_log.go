package models

import "time"

// Audit entity types and actions written by the settlement services.
const (
	AuditEntityToken      = "token"
	AuditEntityIssuance   = "issuance"
	AuditEntityRedemption = "redemption"

	AuditActionIssued          = "issued"
	AuditActionForgeryRejected = "forgery_rejected"
	AuditActionApplied         = "applied"
)

// AuditLog is append-only and written outside the business transaction, so
// rejected redemptions leave a trace too.
type AuditLog struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id,omitempty"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
