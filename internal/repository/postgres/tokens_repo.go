package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/offlinepay/settlement/internal/models"
)

type tokensRepo struct{ tx pgx.Tx }

const tokenCols = `token_id, denom_cents, issuer_pubkey, issued_at, exp_at, state, owner_hint, payload_sha256`

func scanToken(row pgx.Row) (models.Token, error) {
	var t models.Token
	err := row.Scan(&t.ID, &t.DenomCents, &t.IssuerPubKey, &t.IssuedAt, &t.ExpAt, &t.State, &t.OwnerHint, &t.PayloadSHA256)
	return t, mapErr(err)
}

func (r *tokensRepo) Create(ctx context.Context, t models.Token) error {
	if t.State == "" {
		t.State = models.TokenIssued
	}
	_, err := r.tx.Exec(ctx, `
INSERT INTO tokens (`+tokenCols+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.DenomCents, t.IssuerPubKey, t.IssuedAt, t.ExpAt, t.State, t.OwnerHint, t.PayloadSHA256)
	return mapErr(err)
}

func (r *tokensRepo) Get(ctx context.Context, id uuid.UUID) (models.Token, error) {
	return scanToken(r.tx.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE token_id=$1`, id))
}

func (r *tokensRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (models.Token, error) {
	return scanToken(r.tx.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE token_id=$1 FOR UPDATE`, id))
}

func (r *tokensRepo) MarkRedeemed(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE tokens SET state=$2, owner_hint=$3 WHERE token_id=$1`,
		id, models.TokenRedeemed, owner)
	return mapErr(err)
}

func (r *tokensRepo) ListVisibleTo(ctx context.Context, userID string, limit, offset int) ([]models.Token, error) {
	rows, err := r.tx.Query(ctx, `
SELECT `+tokenCols+`
  FROM tokens
 WHERE owner_hint IS NULL OR owner_hint=$1
 ORDER BY issued_at DESC, token_id
 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err())
}
