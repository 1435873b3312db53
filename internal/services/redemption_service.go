package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
	"github.com/offlinepay/settlement/internal/ledger"
	"github.com/offlinepay/settlement/internal/metrics"
	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
	"github.com/offlinepay/settlement/internal/signing"
)

const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
)

const (
	descRedemptionDebit  = "token redemption"
	descRedemptionCredit = "token received"
)

type RedemptionConfig struct {
	Currency    string
	MaxAttempts int
	// Backoff between attempts; zero values pick small defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type RedemptionService struct {
	store repo.Store
	cfg   RedemptionConfig
	audit *Auditor
	log   *slog.Logger
}

func NewRedemptionService(s repo.Store, cfg RedemptionConfig, a *Auditor, log *slog.Logger) *RedemptionService {
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 250 * time.Millisecond
	}
	return &RedemptionService{store: s, cfg: cfg, audit: a, log: log}
}

type RedeemRequest struct {
	TokenID           string            `json:"token_id"`
	UserID            string            `json:"user_id"`
	RequesterDevice   string            `json:"requester_device,omitempty"`
	AttestedPubKeyB64 string            `json:"attested_pubkey_b64,omitempty"`
	TokenPayload      canonical.Payload `json:"token_payload"`
	TokenSignatureB64 string            `json:"token_signature_b64"`
}

// Validate checks the request shape only; nothing here touches the store.
func (r RedeemRequest) Validate() error {
	id, err := uuid.Parse(r.TokenID)
	if err != nil {
		return apperr.Validation("token_id: not a uuid")
	}
	if r.UserID == "" {
		return apperr.Validation("user_id: required")
	}
	if r.TokenSignatureB64 == "" {
		return apperr.Validation("token_signature_b64: required")
	}
	if err := r.TokenPayload.Validate(); err != nil {
		return err
	}
	if pid, err := uuid.Parse(r.TokenPayload.TokenID); err != nil || pid != id {
		return apperr.Validation("token_payload.token_id does not match token_id")
	}
	if r.AttestedPubKeyB64 != "" {
		if _, err := base64.StdEncoding.DecodeString(r.AttestedPubKeyB64); err != nil {
			return apperr.Validation("attested_pubkey_b64: invalid base64")
		}
	}
	return nil
}

type RedeemResult struct {
	Status       string `json:"status"`
	RedemptionID string `json:"redemption_id,omitempty"`
}

// IdempotencyKey derives the redemption key from the token id alone, so every
// replay of the same token lands on the same unique-index entry.
func IdempotencyKey(tokenID uuid.UUID) []byte {
	k := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(tokenID.String()))
	return k[:]
}

// Redeem settles one token exactly once. A replay of an applied redemption
// returns StatusDuplicate with the original redemption id and a nil error.
// Lock and serialization conflicts replay the whole transaction with backoff.
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemRequest) (res RedeemResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RedemptionDuration.Observe(time.Since(start).Seconds())
		outcome := res.Status
		if err != nil {
			outcome = apperr.KindOf(err).Code()
		}
		metrics.RedemptionsTotal.WithLabelValues(outcome).Inc()
	}()

	if err := req.Validate(); err != nil {
		return RedeemResult{}, err
	}
	tokenID := uuid.MustParse(req.TokenID)
	key := IdempotencyKey(tokenID)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialBackoff
	eb.MaxInterval = s.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.RedemptionRetries.Inc()
			s.log.Debug("redemption retry", "token_id", req.TokenID, "attempt", attempt)
		}
		var opErr error
		res, opErr = s.redeemOnce(ctx, req, tokenID, key)
		if opErr == nil {
			return nil
		}
		if errors.Is(opErr, repo.ErrConflict) && ctx.Err() == nil {
			return opErr
		}
		return backoff.Permanent(opErr)
	}, policy)

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err == nil {
		s.log.Info("token redeemed", "token_id", req.TokenID, "user_id", req.UserID, "redemption_id", res.RedemptionID)
		s.audit.Record(models.AuditEntityRedemption, res.RedemptionID, models.AuditActionApplied, map[string]any{
			"token_id": req.TokenID,
			"user_id":  req.UserID,
			"attempts": attempt,
		})
		return res, nil
	}

	if dup, ok := apperr.As(err); ok && dup.Kind == apperr.KindDuplicate {
		s.log.Info("duplicate redemption", "token_id", req.TokenID, "redemption_id", dup.RedemptionID)
		return RedeemResult{Status: StatusDuplicate, RedemptionID: dup.RedemptionID}, nil
	}
	if errors.Is(err, repo.ErrConflict) {
		err = apperr.Transient(err, "redemption conflicted; retries exhausted")
	}
	err = wrapStoreErr(err, "redeem")

	if apperr.KindOf(err) == apperr.KindForgery {
		metrics.RedemptionForgery.Inc()
		s.log.Warn("forged token rejected", "audit", true,
			"token_id", req.TokenID, "user_id", req.UserID, "device", req.RequesterDevice, "reason", err.Error())
		s.audit.Record(models.AuditEntityToken, req.TokenID, models.AuditActionForgeryRejected, map[string]any{
			"user_id": req.UserID,
			"device":  req.RequesterDevice,
			"reason":  err.Error(),
		})
	}
	return RedeemResult{}, err
}

// redeemOnce is one attempt; every exit path other than a nil return rolls
// the transaction back.
func (s *RedemptionService) redeemOnce(ctx context.Context, req RedeemRequest, tokenID uuid.UUID, key []byte) (RedeemResult, error) {
	var res RedeemResult
	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		dev, err := s.resolveDevice(ctx, tx, req)
		if err != nil {
			return err
		}

		if _, err := tx.Redemptions().InsertIgnore(ctx, models.Redemption{
			ID:              uuid.NewString(),
			RequesterUser:   req.UserID,
			RequesterDevice: dev.ID,
			IdempotencyKey:  key,
			Status:          models.RedemptionPending,
		}); err != nil {
			return err
		}
		red, err := tx.Redemptions().GetByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if red.Status == models.RedemptionApplied {
			return apperr.Duplicate(red.ID)
		}
		if err := tx.Redemptions().AddItem(ctx, models.RedemptionItem{RedemptionID: red.ID, TokenID: tokenID}); err != nil {
			return err
		}

		tok, err := tx.Tokens().LockForUpdate(ctx, tokenID)
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("token %s not found", tokenID)
		}
		if err != nil {
			return err
		}
		if tok.State != models.TokenIssued {
			return apperr.AlreadyRedeemed(tokenID.String(), string(tok.State))
		}
		if err := checkAuthentic(tok, req.TokenPayload, req.TokenSignatureB64); err != nil {
			return err
		}
		if err := tx.Tokens().MarkRedeemed(ctx, tokenID, req.UserID); err != nil {
			return err
		}

		reserve, err := tx.Accounts().Reserve(ctx, s.cfg.Currency)
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("issuance reserve account for %s not found", s.cfg.Currency)
		}
		if err != nil {
			return err
		}
		wallet, err := tx.Accounts().WalletOf(ctx, req.UserID, s.cfg.Currency)
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("wallet of user %s not found", req.UserID)
		}
		if err != nil {
			return err
		}
		entries := ledger.Pair(uuid.NewString(), reserve.ID, wallet.ID, tok.DenomCents, s.cfg.Currency,
			descRedemptionDebit, descRedemptionCredit)
		if err := tx.Ledger().Append(ctx, entries); err != nil {
			return err
		}
		if err := tx.Redemptions().MarkApplied(ctx, red.ID); err != nil {
			return err
		}
		res = RedeemResult{Status: StatusSuccess, RedemptionID: red.ID}
		return nil
	})
	if err != nil {
		return RedeemResult{}, err
	}
	return res, nil
}

// resolveDevice returns the requester's device, provisioning one on first
// use. A named device that belongs to someone else is rejected.
func (s *RedemptionService) resolveDevice(ctx context.Context, tx repo.Tx, req RedeemRequest) (models.Device, error) {
	if req.RequesterDevice != "" {
		d, err := tx.Devices().Get(ctx, req.RequesterDevice)
		if err == nil {
			if d.UserID != req.UserID {
				return models.Device{}, apperr.Validation("device %s is bound to another user", req.RequesterDevice)
			}
			return d, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return models.Device{}, err
		}
		return provisionDevice(ctx, tx, req.RequesterDevice, req)
	}

	d, err := tx.Devices().FirstByUser(ctx, req.UserID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return models.Device{}, err
	}
	return provisionDevice(ctx, tx, uuid.NewString(), req)
}

func provisionDevice(ctx context.Context, tx repo.Tx, id string, req RedeemRequest) (models.Device, error) {
	pub := []byte{}
	if req.AttestedPubKeyB64 != "" {
		pub, _ = base64.StdEncoding.DecodeString(req.AttestedPubKeyB64)
	}
	fp := sha256.Sum256(pub)
	d := models.Device{ID: id, UserID: req.UserID, AttestedPubKey: pub, CertFingerprint: fp[:]}
	if err := tx.Devices().Create(ctx, d); err != nil {
		return models.Device{}, err
	}
	return d, nil
}

// checkAuthentic binds the submitted payload and signature to the stored
// token: same id and denomination, same canonical hash, same issuer key and
// a valid signature by that key.
func checkAuthentic(tok models.Token, p canonical.Payload, sigB64 string) error {
	if p.TokenID != tok.ID.String() {
		return apperr.Forgery("payload token_id does not match the issued token")
	}
	if p.DenomCents != tok.DenomCents {
		return apperr.Forgery("payload denomination does not match the issued token")
	}
	pub, err := base64.StdEncoding.DecodeString(p.IssuerPubKey)
	if err != nil || !bytes.Equal(pub, tok.IssuerPubKey) {
		return apperr.Forgery("payload issuer key does not match the issued token")
	}
	msg := canonical.Encode(p)
	if !bytes.Equal(canonical.ContentHash(msg), tok.PayloadSHA256) {
		return apperr.Forgery("payload hash does not match the issued token")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || !signing.Verify(msg, sig, tok.IssuerPubKey) {
		return apperr.Forgery("signature does not verify")
	}
	return nil
}
