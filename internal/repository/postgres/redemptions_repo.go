package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
)

type redemptionsRepo struct{ tx pgx.Tx }

// InsertIgnore relies on the unique index: a concurrent inserter of the same
// key blocks until this transaction ends, then sees zero rows affected.
func (r *redemptionsRepo) InsertIgnore(ctx context.Context, red models.Redemption) (bool, error) {
	if red.Status == "" {
		red.Status = models.RedemptionPending
	}
	tag, err := r.tx.Exec(ctx, `
INSERT INTO redemptions (redemption_id, requester_user, requester_device, idempotency_key, status)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (idempotency_key) DO NOTHING`,
		red.ID, red.RequesterUser, red.RequesterDevice, red.IdempotencyKey, red.Status)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *redemptionsRepo) GetByIdempotencyKey(ctx context.Context, key []byte) (models.Redemption, error) {
	var red models.Redemption
	err := r.tx.QueryRow(ctx, `
SELECT redemption_id, requester_user, requester_device, idempotency_key, status, created_at
  FROM redemptions
 WHERE idempotency_key=$1`, key,
	).Scan(&red.ID, &red.RequesterUser, &red.RequesterDevice, &red.IdempotencyKey, &red.Status, &red.CreatedAt)
	return red, mapErr(err)
}

func (r *redemptionsRepo) AddItem(ctx context.Context, it models.RedemptionItem) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO redemption_items (redemption_id, token_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING`, it.RedemptionID, it.TokenID)
	return mapErr(err)
}

func (r *redemptionsRepo) MarkApplied(ctx context.Context, id string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE redemptions SET status=$2 WHERE redemption_id=$1`, id, models.RedemptionApplied)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("redemption %s: %w", id, repo.ErrNotFound)
	}
	return nil
}
