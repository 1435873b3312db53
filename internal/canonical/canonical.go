// Package canonical produces the byte-stable serialization of a token's public
// fields. Issuer and every verifier must agree on these bytes exactly: they are
// what gets signed and hashed.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/offlinepay/settlement/internal/apperr"
)

// Version of the encoding below. Bump it together with any change to the
// layout; old tokens keep verifying against the version they were issued with.
const Version = 1

// TimeLayout is the issued_at wire format (UTC, microseconds, literal Z).
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type Payload struct {
	TokenID      string `json:"token_id"`
	DenomCents   int64  `json:"denom_cents"`
	IssuerPubKey string `json:"issuer_pubkey"`
	IssuedAt     string `json:"issued_at"`
}

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// Validate rejects payloads whose strings could not be written raw without
// breaking the framing.
func (p Payload) Validate() error {
	if p.DenomCents <= 0 {
		return apperr.Validation("denom_cents must be > 0")
	}
	fields := []struct{ name, v string }{
		{"token_id", p.TokenID},
		{"issuer_pubkey", p.IssuerPubKey},
		{"issued_at", p.IssuedAt},
	}
	for _, f := range fields {
		if f.v == "" {
			return apperr.Validation("%s: required", f.name)
		}
		if !rawSafe(f.v) {
			return apperr.Validation("%s: contains characters not allowed in canonical form", f.name)
		}
	}
	return nil
}

func rawSafe(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Encode writes
//
//	{"denom_cents":N,"issued_at":"..","issuer_pubkey":"..","token_id":".."}
//
// Callers validate first; Encode does not escape.
func Encode(p Payload) []byte {
	var b bytes.Buffer
	b.Grow(64 + len(p.IssuedAt) + len(p.IssuerPubKey) + len(p.TokenID))
	b.WriteString(`{"denom_cents":`)
	b.WriteString(strconv.FormatInt(p.DenomCents, 10))
	b.WriteString(`,"issued_at":"`)
	b.WriteString(p.IssuedAt)
	b.WriteString(`","issuer_pubkey":"`)
	b.WriteString(p.IssuerPubKey)
	b.WriteString(`","token_id":"`)
	b.WriteString(p.TokenID)
	b.WriteString(`"}`)
	return b.Bytes()
}

// Decode parses canonical bytes. Input that is valid JSON but not in canonical
// form (reordered keys, whitespace, escapes) is rejected.
func Decode(b []byte) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, apperr.Wrap(apperr.KindValidation, err, "canonical payload is not valid json")
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	if !bytes.Equal(Encode(p), b) {
		return Payload{}, apperr.Validation("payload bytes are not in canonical form")
	}
	return p, nil
}

// ContentHash is the SHA-256 of canonical bytes, stored as payload_sha256.
func ContentHash(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
