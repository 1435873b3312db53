// Package wallet is the holder side of the token lifecycle: a local SQLite
// store of signed bundles that a device keeps while offline and drains when
// it can reach the settlement service.
package wallet

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
	_ "modernc.org/sqlite"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
	"github.com/offlinepay/settlement/internal/signing"
	"github.com/offlinepay/settlement/internal/transfer"
)

type Status string

const (
	Available Status = "AVAILABLE"
	Pending   Status = "PENDING"
	Redeemed  Status = "REDEEMED"
)

const schema = `CREATE TABLE IF NOT EXISTS tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id TEXT NOT NULL UNIQUE,
	bundle_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'AVAILABLE',
	received_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

type Wallet struct {
	db        *sql.DB
	issuerPub ed25519.PublicKey
}

// Open opens (creating if needed) the wallet at path. ":memory:" gives a
// throwaway wallet. issuerPubB64 is the key Receive trusts.
func Open(ctx context.Context, path, issuerPubB64 string) (*Wallet, error) {
	pub, err := signing.ParsePublicKey(issuerPubB64)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open wallet")
	}
	// one connection: sqlite has a single writer, and :memory: is per connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init wallet schema")
	}
	return &Wallet{db: db, issuerPub: pub}, nil
}

func (w *Wallet) Close() error { return w.db.Close() }

// Store keeps b under tokenID. It reports false when the token is already
// in the wallet, whatever its status.
func (w *Wallet) Store(ctx context.Context, tokenID string, b transfer.Bundle) (bool, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return false, errors.Wrap(err, "encode bundle")
	}
	res, err := w.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tokens (token_id, bundle_json) VALUES (?, ?)`, tokenID, string(raw))
	if err != nil {
		return false, errors.Wrapf(err, "store token %s", tokenID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "store token")
	}
	return n == 1, nil
}

// Receive verifies b against the trusted issuer key before storing it, so a
// holder never accepts a bundle the settlement service would reject as forged.
func (w *Wallet) Receive(ctx context.Context, b transfer.Bundle) (bool, error) {
	if err := b.Payload.Validate(); err != nil {
		return false, err
	}
	pub, err := base64.StdEncoding.DecodeString(b.Payload.IssuerPubKey)
	if err != nil || !ed25519.PublicKey(pub).Equal(w.issuerPub) {
		return false, apperr.Forgery("bundle names an untrusted issuer key")
	}
	sig, err := base64.StdEncoding.DecodeString(b.SignatureB64)
	if err != nil || !signing.Verify(canonical.Encode(b.Payload), sig, w.issuerPub) {
		return false, apperr.Forgery("bundle signature does not verify")
	}
	return w.Store(ctx, b.Payload.TokenID, b)
}

// ReceiveEnvelope opens a transfer envelope and receives the bundle inside.
func (w *Wallet) ReceiveEnvelope(ctx context.Context, e transfer.Envelope) (bool, error) {
	b, err := transfer.Unwrap(e)
	if err != nil {
		return false, err
	}
	return w.Receive(ctx, b)
}

// FetchNextAvailable claims the oldest available bundle by moving it to
// PENDING. It returns nil, nil when nothing is available.
func (w *Wallet) FetchNextAvailable(ctx context.Context) (*transfer.Bundle, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	var tokenID, raw string
	err = tx.QueryRowContext(ctx,
		`SELECT token_id, bundle_json FROM tokens WHERE status = ? ORDER BY id LIMIT 1`, Available).
		Scan(&tokenID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select available token")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tokens SET status = ? WHERE token_id = ?`, Pending, tokenID); err != nil {
		return nil, errors.Wrapf(err, "claim token %s", tokenID)
	}
	var b transfer.Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, errors.Wrapf(err, "decode token %s", tokenID)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return &b, nil
}

// MarkRedeemed records that the service settled tokenID.
func (w *Wallet) MarkRedeemed(ctx context.Context, tokenID string) error {
	return w.transition(ctx, tokenID, Redeemed, Pending, Available)
}

// RevertPending hands a claimed bundle back after a failed redemption
// attempt, making it available again.
func (w *Wallet) RevertPending(ctx context.Context, tokenID string) error {
	return w.transition(ctx, tokenID, Available, Pending)
}

func (w *Wallet) transition(ctx context.Context, tokenID string, to Status, from ...Status) error {
	q := `UPDATE tokens SET status = ? WHERE token_id = ? AND status IN (?`
	args := []any{to, tokenID, from[0]}
	for _, s := range from[1:] {
		q += `, ?`
		args = append(args, s)
	}
	res, err := w.db.ExecContext(ctx, q+`)`, args...)
	if err != nil {
		return errors.Wrapf(err, "move token %s to %s", tokenID, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("no %v token %s in wallet", from, tokenID)
	}
	return nil
}

// Counts returns the number of bundles per status.
func (w *Wallet) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tokens GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count tokens")
	}
	defer rows.Close()
	out := map[Status]int{Available: 0, Pending: 0, Redeemed: 0}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[s] = n
	}
	return out, errors.Wrap(rows.Err(), "count tokens")
}
