package signing

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	sk, _, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSignerFromBase64(sk)
	require.NoError(t, err)
	return s
}

func TestSignVerify(t *testing.T) {
	s := newTestSigner(t)
	msg := canonical.Encode(canonical.Payload{
		TokenID: "t-1", DenomCents: 100, IssuerPubKey: s.PublicKeyBase64(), IssuedAt: "2025-10-05T12:34:00.155111Z",
	})

	sig := s.Sign(msg)
	assert.True(t, Verify(msg, sig, s.PublicKey()))
	assert.Equal(t, sig, s.Sign(msg), "signatures must be deterministic")
	assert.True(t, VerifyBase64(msg, s.SignBase64(msg), s.PublicKeyBase64()))

	other := newTestSigner(t)
	assert.False(t, Verify(msg, sig, other.PublicKey()))
}

func TestVerifyRejectsEverySingleBitFlip(t *testing.T) {
	s := newTestSigner(t)
	msg := []byte(`{"denom_cents":100,"issued_at":"2025-10-05T12:34:00.155111Z","issuer_pubkey":"k","token_id":"t"}`)
	sig := s.Sign(msg)

	for i := 0; i < len(msg)*8; i++ {
		m := append([]byte(nil), msg...)
		m[i/8] ^= 1 << (i % 8)
		require.False(t, Verify(m, sig, s.PublicKey()), "message bit %d", i)
	}
	for i := 0; i < len(sig)*8; i++ {
		sg := append([]byte(nil), sig...)
		sg[i/8] ^= 1 << (i % 8)
		require.False(t, Verify(msg, sg, s.PublicKey()), "signature bit %d", i)
	}
}

func TestVerifyMalformedInputReturnsFalse(t *testing.T) {
	s := newTestSigner(t)
	msg := []byte("m")
	sig := s.Sign(msg)

	assert.False(t, Verify(msg, nil, s.PublicKey()))
	assert.False(t, Verify(msg, sig[:10], s.PublicKey()))
	assert.False(t, Verify(msg, sig, nil))
	assert.False(t, Verify(msg, sig, []byte("short")))
	assert.False(t, VerifyBase64(msg, "%%%", s.PublicKeyBase64()))
	assert.False(t, VerifyBase64(msg, s.SignBase64(msg), "!!"))
}

func TestNewSignerFromBase64(t *testing.T) {
	_, err := NewSignerFromBase64("")
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	_, err = NewSignerFromBase64(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	_, err = NewSignerFromBase64("not base64!")
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	s := newTestSigner(t)
	full, err := NewSignerFromBase64(base64.StdEncoding.EncodeToString(s.priv))
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), full.PublicKey())
}

func TestParsePublicKey(t *testing.T) {
	s := newTestSigner(t)
	pub, err := ParsePublicKey(s.PublicKeyBase64())
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), pub)

	_, err = ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("x")))
	assert.Error(t, err)
}
