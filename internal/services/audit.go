package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
	"github.com/offlinepay/settlement/internal/worker"
)

// Auditor appends audit rows asynchronously on the worker pool. A failed
// write is logged and dropped.
type Auditor struct {
	logs repo.AuditLogs
	wp   *worker.Pool
	log  *slog.Logger
}

func NewAuditor(l repo.AuditLogs, wp *worker.Pool, log *slog.Logger) *Auditor {
	return &Auditor{logs: l, wp: wp, log: log}
}

func (a *Auditor) Record(entityType, entityID, action string, details map[string]any) {
	if a == nil || a.logs == nil {
		return
	}
	entry := models.AuditLog{
		EntityType: entityType,
		EntityID:   &entityID,
		Action:     action,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.logs.Create(ctx, entry); err != nil {
			a.log.Error("audit write failed", "entity_type", entityType, "action", action, "err", err)
		}
	}
	if a.wp == nil || !a.wp.Submit(write) {
		write()
	}
}
