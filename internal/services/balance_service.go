package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
)

// QueryService serves the read side: token listings and detail, account
// balances. Each call runs in its own short transaction.
type QueryService struct{ store repo.Store }

func NewQueryService(s repo.Store) *QueryService { return &QueryService{store: s} }

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type AccountBalance struct {
	Account      models.Account `json:"account"`
	BalanceCents int64          `json:"balance_cents"`
}

// Tokens lists tokens that are unowned or owned by userID, newest first.
func (s *QueryService) Tokens(ctx context.Context, userID string, limit, offset int) ([]models.Token, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id: required")
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, apperr.Validation("limit must be between 1 and %d", MaxPageSize)
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must be >= 0")
	}
	var out []models.Token
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		out, err = tx.Tokens().ListVisibleTo(ctx, userID, limit, offset)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr(err, "list tokens")
	}
	if out == nil {
		out = []models.Token{}
	}
	return out, nil
}

func (s *QueryService) Token(ctx context.Context, id string) (models.Token, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return models.Token{}, apperr.Validation("token id: not a uuid")
	}
	var tok models.Token
	err = s.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		tok, err = tx.Tokens().Get(ctx, tid)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return models.Token{}, apperr.NotFound("token %s not found", id)
	}
	if err != nil {
		return models.Token{}, wrapStoreErr(err, "get token")
	}
	return tok, nil
}

// Balance is credits minus debits over the account's ledger entries.
func (s *QueryService) Balance(ctx context.Context, accountID string) (AccountBalance, error) {
	if accountID == "" {
		return AccountBalance{}, apperr.Validation("account id: required")
	}
	var out AccountBalance
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		a, err := tx.Accounts().Get(ctx, accountID)
		if err != nil {
			return err
		}
		b, err := tx.Ledger().Balance(ctx, accountID)
		if err != nil {
			return err
		}
		out = AccountBalance{Account: a, BalanceCents: b}
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return AccountBalance{}, apperr.NotFound("account %s not found", accountID)
	}
	if err != nil {
		return AccountBalance{}, wrapStoreErr(err, "account balance")
	}
	return out, nil
}
