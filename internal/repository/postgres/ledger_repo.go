package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/offlinepay/settlement/internal/ledger"
	"github.com/offlinepay/settlement/internal/models"
)

type ledgerRepo struct{ tx pgx.Tx }

// Append checks balance up front; the deferred constraint trigger checks it
// again at commit.
func (r *ledgerRepo) Append(ctx context.Context, entries []models.LedgerEntry) error {
	if err := ledger.CheckBalanced(entries); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
INSERT INTO ledger_entries (tx_id, account_id, side, amount_cents, currency, description)
VALUES ($1,$2,$3,$4,$5,$6)`,
			e.TxID, e.AccountID, e.Side, e.AmountCents, e.Currency, e.Description)
	}
	return mapErr(r.tx.SendBatch(ctx, batch).Close())
}

func (r *ledgerRepo) ByTx(ctx context.Context, txID string) ([]models.LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `
SELECT id, tx_id, account_id, side, amount_cents, currency, description, created_at
  FROM ledger_entries
 WHERE tx_id=$1
 ORDER BY id`, txID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TxID, &e.AccountID, &e.Side, &e.AmountCents, &e.Currency, &e.Description, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// Balance is credits minus debits.
func (r *ledgerRepo) Balance(ctx context.Context, accountID string) (int64, error) {
	var b int64
	err := r.tx.QueryRow(ctx, `
SELECT COALESCE(SUM(CASE side WHEN 'CREDIT' THEN amount_cents ELSE -amount_cents END), 0)::BIGINT
  FROM ledger_entries
 WHERE account_id=$1`, accountID).Scan(&b)
	return b, mapErr(err)
}
