// Package transfer wraps a signed token bundle for holder-to-holder hand-off.
//
// The symmetric key travels inside the envelope next to the ciphertext, so this
// is confidentiality-in-transit packaging only and not a key exchange. A
// hardened deployment has to replace it with real key agreement between the
// two devices.
package transfer

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// Bundle is what the issuer hands out and what holders pass along.
type Bundle struct {
	Payload      canonical.Payload `json:"payload"`
	SignatureB64 string            `json:"signature_b64"`
}

type Envelope struct {
	EncryptedTokenB64 string `json:"encrypted_token_b64"`
	TransferKeyB64    string `json:"transfer_key_b64"`
	NonceB64          string `json:"nonce_b64"`
}

// Codec lets tests pin the randomness source.
type Codec struct {
	Rand io.Reader
}

var std = Codec{Rand: rand.Reader}

func Wrap(b Bundle) (Envelope, error)   { return std.Wrap(b) }
func Unwrap(e Envelope) (Bundle, error) { return std.Unwrap(e) }

func (c Codec) Wrap(b Bundle) (Envelope, error) {
	if err := b.Payload.Validate(); err != nil {
		return Envelope{}, err
	}
	if b.SignatureB64 == "" {
		return Envelope{}, apperr.Validation("signature_b64: required")
	}
	plain, err := json.Marshal(b)
	if err != nil {
		return Envelope{}, err
	}

	var key [KeySize]byte
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(c.Rand, key[:]); err != nil {
		return Envelope{}, err
	}
	if _, err := io.ReadFull(c.Rand, nonce[:]); err != nil {
		return Envelope{}, err
	}

	ct := secretbox.Seal(nil, plain, &nonce, &key)
	return Envelope{
		EncryptedTokenB64: base64.StdEncoding.EncodeToString(ct),
		TransferKeyB64:    base64.StdEncoding.EncodeToString(key[:]),
		NonceB64:          base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

var errOpen = errors.New("secretbox: authentication failed")

func (c Codec) Unwrap(e Envelope) (Bundle, error) {
	ct, err := base64.StdEncoding.DecodeString(e.EncryptedTokenB64)
	if err != nil {
		return Bundle{}, apperr.Decryption(err, "ciphertext is not valid base64")
	}
	keyRaw, err := base64.StdEncoding.DecodeString(e.TransferKeyB64)
	if err != nil || len(keyRaw) != KeySize {
		return Bundle{}, apperr.Decryption(errors.New("bad key encoding"), "transfer key is malformed")
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(e.NonceB64)
	if err != nil || len(nonceRaw) != NonceSize {
		return Bundle{}, apperr.Decryption(errors.New("bad nonce encoding"), "nonce is malformed")
	}

	var key [KeySize]byte
	var nonce [NonceSize]byte
	copy(key[:], keyRaw)
	copy(nonce[:], nonceRaw)

	plain, ok := secretbox.Open(nil, ct, &nonce, &key)
	if !ok {
		return Bundle{}, apperr.Decryption(errOpen, "envelope was tampered with or corrupted")
	}

	var b Bundle
	if err := json.Unmarshal(plain, &b); err != nil {
		return Bundle{}, apperr.Decryption(err, "decrypted bundle is not valid json")
	}
	if err := b.Payload.Validate(); err != nil {
		return Bundle{}, apperr.Decryption(err, "decrypted bundle carries an invalid payload")
	}
	return b, nil
}

// Marshal renders the envelope as the JSON string handed between devices.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func ParseEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, apperr.Decryption(err, "envelope is not valid json")
	}
	return e, nil
}
