// Package signing signs and verifies canonical token bytes with ed25519.
package signing

import (
	"encoding/base64"

	"golang.org/x/crypto/ed25519"

	"github.com/offlinepay/settlement/internal/apperr"
)

// Signer holds the issuer's private key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// NewSignerFromBase64 accepts either a 32-byte seed (the form the issuer's
// key tooling exports) or a full 64-byte private key.
func NewSignerFromBase64(skB64 string) (*Signer, error) {
	if skB64 == "" {
		return nil, apperr.Configuration("issuer signing key is not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(skB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, err, "issuer signing key is not valid base64")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return NewSigner(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		return NewSigner(ed25519.PrivateKey(raw)), nil
	default:
		return nil, apperr.Configuration("issuer signing key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// Sign is deterministic: the same message always yields the same signature.
func (s *Signer) Sign(msg []byte) []byte { return ed25519.Sign(s.priv, msg) }

func (s *Signer) SignBase64(msg []byte) string {
	return base64.StdEncoding.EncodeToString(s.Sign(msg))
}

func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Signer) PublicKeyBase64() string { return base64.StdEncoding.EncodeToString(s.pub) }

// Verify reports whether sig is pub's signature of msg. Malformed keys or
// signatures yield false, never a panic.
func Verify(msg, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

func VerifyBase64(msg []byte, sigB64, pubB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return false
	}
	return Verify(msg, sig, pub)
}

func ParsePublicKey(pubB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, err, "issuer public key is not valid base64")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, apperr.Configuration("issuer public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// GenerateKey returns base64 seed and public key, in the SERVER_SK_B64 /
// SERVER_PK_B64 format.
func GenerateKey() (skB64, pkB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(priv.Seed()), base64.StdEncoding.EncodeToString(pub), nil
}
