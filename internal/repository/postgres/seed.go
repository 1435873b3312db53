package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
)

// EnsureAccount returns the reserve (userID == "") or the user's wallet for
// currency, creating it when missing. Used by ops tooling and tests.
func (s *Store) EnsureAccount(ctx context.Context, userID, currency string) (models.Account, error) {
	var out models.Account
	err := s.WithTx(ctx, func(t repo.Tx) error {
		var err error
		if userID == "" {
			out, err = t.Accounts().Reserve(ctx, currency)
		} else {
			out, err = t.Accounts().WalletOf(ctx, userID, currency)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		out = models.Account{ID: uuid.NewString(), Kind: models.AccountIssuanceReserve, Currency: currency}
		if userID != "" {
			out.UserID = &userID
			out.Kind = models.AccountUserWallet
		}
		tx := t.(*pgTx).tx
		_, err = tx.Exec(ctx,
			`INSERT INTO accounts (account_id, user_id, kind, currency) VALUES ($1,$2,$3,$4)`,
			out.ID, out.UserID, out.Kind, out.Currency)
		return mapErr(err)
	})
	return out, err
}
