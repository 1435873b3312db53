package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/offlinepay/settlement/internal/models"
)

type accountsRepo struct{ tx pgx.Tx }

func (r *accountsRepo) scan(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &a.Currency)
	return a, mapErr(err)
}

func (r *accountsRepo) Get(ctx context.Context, id string) (models.Account, error) {
	return r.scan(r.tx.QueryRow(ctx,
		`SELECT account_id, user_id, kind, currency FROM accounts WHERE account_id=$1`, id))
}

func (r *accountsRepo) Reserve(ctx context.Context, currency string) (models.Account, error) {
	return r.scan(r.tx.QueryRow(ctx, `
SELECT account_id, user_id, kind, currency
  FROM accounts
 WHERE kind=$1 AND currency=$2
 ORDER BY account_id
 LIMIT 1`, models.AccountIssuanceReserve, currency))
}

func (r *accountsRepo) WalletOf(ctx context.Context, userID, currency string) (models.Account, error) {
	return r.scan(r.tx.QueryRow(ctx, `
SELECT account_id, user_id, kind, currency
  FROM accounts
 WHERE kind=$1 AND user_id=$2 AND currency=$3
 ORDER BY account_id
 LIMIT 1`, models.AccountUserWallet, userID, currency))
}
