package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
)

const sqlUniqueViolation = "23505"

type devicesRepo struct{ tx pgx.Tx }

func (r *devicesRepo) Get(ctx context.Context, id string) (models.Device, error) {
	var d models.Device
	err := r.tx.QueryRow(ctx,
		`SELECT device_id, user_id, attested_pubkey, cert_fingerprint FROM devices WHERE device_id=$1`, id,
	).Scan(&d.ID, &d.UserID, &d.AttestedPubKey, &d.CertFingerprint)
	return d, mapErr(err)
}

func (r *devicesRepo) FirstByUser(ctx context.Context, userID string) (models.Device, error) {
	var d models.Device
	err := r.tx.QueryRow(ctx, `
SELECT device_id, user_id, attested_pubkey, cert_fingerprint
  FROM devices
 WHERE user_id=$1
 ORDER BY device_id
 LIMIT 1`, userID,
	).Scan(&d.ID, &d.UserID, &d.AttestedPubKey, &d.CertFingerprint)
	return d, mapErr(err)
}

func (r *devicesRepo) Create(ctx context.Context, d models.Device) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO devices (device_id, user_id, attested_pubkey, cert_fingerprint) VALUES ($1,$2,$3,$4)`,
		d.ID, d.UserID, d.AttestedPubKey, d.CertFingerprint)
	// Two first-time redemptions provisioning the same device id: the loser
	// retries and finds the winner's row.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlUniqueViolation {
		return fmt.Errorf("device %s: %w", d.ID, repo.ErrConflict)
	}
	return mapErr(err)
}
