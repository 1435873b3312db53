package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/offlinepay/settlement/internal/logger"
	"github.com/offlinepay/settlement/internal/models"
	"github.com/offlinepay/settlement/internal/repository/memory"
	"github.com/offlinepay/settlement/internal/signing"
	"github.com/offlinepay/settlement/internal/worker"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

type fixture struct {
	store  *memory.Store
	signer *signing.Signer
	wp     *worker.Pool
	issue  *IssuanceService
	redeem *RedemptionService
	query  *QueryService
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return newFixtureWithSigner(t, signing.NewSigner(ed25519.NewKeyFromSeed(seed)), opts...)
}

func newFixtureWithSigner(t *testing.T, signer *signing.Signer, opts ...memory.Option) *fixture {
	t.Helper()
	store := memory.New(opts...)
	require.NoError(t, store.AddAccount(models.Account{ID: "acct-reserve", Kind: models.AccountIssuanceReserve, Currency: "BRL"}))
	for _, u := range []string{alice, bob} {
		u := u
		require.NoError(t, store.AddAccount(models.Account{ID: "acct-" + u, UserID: &u, Kind: models.AccountUserWallet, Currency: "BRL"}))
	}

	log := logger.Discard()
	wp := worker.NewPool(2)
	t.Cleanup(wp.Stop)
	audit := NewAuditor(store.AuditLogs(), wp, log)
	return &fixture{
		store:  store,
		signer: signer,
		wp:     wp,
		issue:  NewIssuanceService(store, signer, IssuanceConfig{DefaultDenomCents: 100, MaxQuantity: 50}, audit, log),
		redeem: NewRedemptionService(store, RedemptionConfig{Currency: "BRL", MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, audit, log),
		query:  NewQueryService(store),
	}
}

func (f *fixture) issueOne(t *testing.T, denom int64) IssuedToken {
	t.Helper()
	out, err := f.issue.Issue(context.Background(), IssueRequest{Quantity: 1, DenomCents: denom})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func requestFor(tok IssuedToken, user string) RedeemRequest {
	return RedeemRequest{
		TokenID:           tok.Payload.TokenID,
		UserID:            user,
		TokenPayload:      tok.Payload,
		TokenSignatureB64: tok.SignatureB64,
	}
}
