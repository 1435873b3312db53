package wallet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
	"github.com/offlinepay/settlement/internal/signing"
	"github.com/offlinepay/settlement/internal/transfer"
)

func newSigner(t *testing.T) *signing.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return signing.NewSigner(priv)
}

func mint(s *signing.Signer, denom int64) transfer.Bundle {
	p := canonical.Payload{
		TokenID:      uuid.NewString(),
		DenomCents:   denom,
		IssuerPubKey: s.PublicKeyBase64(),
		IssuedAt:     canonical.FormatTime(time.Now()),
	}
	return transfer.Bundle{Payload: p, SignatureB64: s.SignBase64(canonical.Encode(p))}
}

func openWallet(t *testing.T, s *signing.Signer) *Wallet {
	t.Helper()
	w, err := Open(context.Background(), filepath.Join(t.TempDir(), "wallet.db"), s.PublicKeyBase64())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestOpenRejectsBadIssuerKey(t *testing.T) {
	_, err := Open(context.Background(), ":memory:", "not-a-key")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestStoreIsIdempotent(t *testing.T) {
	s := newSigner(t)
	w := openWallet(t, s)
	ctx := context.Background()
	b := mint(s, 100)

	ok, err := w.Store(ctx, b.Payload.TokenID, b)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.Store(ctx, b.Payload.TokenID, b)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := w.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{Available: 1, Pending: 0, Redeemed: 0}, c)
}

func TestLifecycle(t *testing.T) {
	s := newSigner(t)
	w := openWallet(t, s)
	ctx := context.Background()
	first, second := mint(s, 100), mint(s, 250)
	for _, b := range []transfer.Bundle{first, second} {
		_, err := w.Store(ctx, b.Payload.TokenID, b)
		require.NoError(t, err)
	}

	got, err := w.FetchNextAvailable(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, *got, "oldest first, canonical fields intact")

	// a failed attempt hands it back
	require.NoError(t, w.RevertPending(ctx, first.Payload.TokenID))
	got, err = w.FetchNextAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Payload.TokenID, got.Payload.TokenID)
	require.NoError(t, w.MarkRedeemed(ctx, got.Payload.TokenID))

	got, err = w.FetchNextAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Payload.TokenID, got.Payload.TokenID)

	got, err = w.FetchNextAvailable(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	c, err := w.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{Available: 0, Pending: 1, Redeemed: 1}, c)

	err = w.RevertPending(ctx, first.Payload.TokenID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "redeemed tokens stay redeemed")
	err = w.MarkRedeemed(ctx, uuid.NewString())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReceiveVerifiesIssuer(t *testing.T) {
	s := newSigner(t)
	w := openWallet(t, s)
	ctx := context.Background()

	ok, err := w.Receive(ctx, mint(s, 100))
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := mint(s, 100)
	tampered.Payload.DenomCents = 10000
	_, err = w.Receive(ctx, tampered)
	assert.Equal(t, apperr.KindForgery, apperr.KindOf(err))

	_, err = w.Receive(ctx, mint(newSigner(t), 100))
	assert.Equal(t, apperr.KindForgery, apperr.KindOf(err), "other issuers are not trusted")

	badSig := mint(s, 100)
	badSig.SignatureB64 = "%%%"
	_, err = w.Receive(ctx, badSig)
	assert.Equal(t, apperr.KindForgery, apperr.KindOf(err))

	c, err := w.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c[Available])
}

func TestReceiveEnvelope(t *testing.T) {
	s := newSigner(t)
	sender := openWallet(t, s)
	receiver := openWallet(t, s)
	ctx := context.Background()

	b := mint(s, 500)
	_, err := sender.Receive(ctx, b)
	require.NoError(t, err)
	out, err := sender.FetchNextAvailable(ctx)
	require.NoError(t, err)

	env, err := transfer.Wrap(*out)
	require.NoError(t, err)
	ok, err := receiver.ReceiveEnvelope(ctx, env)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := receiver.FetchNextAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, canonical.Encode(b.Payload), canonical.Encode(got.Payload))
}
