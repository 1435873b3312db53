package services

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
	"github.com/offlinepay/settlement/internal/metrics"
	"github.com/offlinepay/settlement/internal/models"
	repo "github.com/offlinepay/settlement/internal/repository"
	"github.com/offlinepay/settlement/internal/signing"
)

type IssuanceConfig struct {
	DefaultDenomCents int64
	MaxQuantity       int
	Validity          time.Duration
}

type IssuanceService struct {
	store  repo.Store
	signer *signing.Signer
	cfg    IssuanceConfig
	audit  *Auditor
	log    *slog.Logger
	now    func() time.Time
}

// NewIssuanceService accepts a nil signer; Issue then fails with a
// configuration error.
func NewIssuanceService(s repo.Store, signer *signing.Signer, cfg IssuanceConfig, a *Auditor, log *slog.Logger) *IssuanceService {
	if cfg.DefaultDenomCents <= 0 {
		cfg.DefaultDenomCents = 100
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 1000
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 30 * 24 * time.Hour
	}
	return &IssuanceService{store: s, signer: signer, cfg: cfg, audit: a, log: log, now: time.Now}
}

type IssueRequest struct {
	Quantity   int   `json:"quantity"`
	DenomCents int64 `json:"denom_cents,omitempty"`
}

// IssuedToken is the bundle handed to the holder.
type IssuedToken struct {
	Payload          canonical.Payload `json:"payload"`
	SignatureB64     string            `json:"signature_b64"`
	PayloadSHA256B64 string            `json:"payload_sha256_b64"`
}

// Issue mints req.Quantity tokens and persists them in one transaction:
// either every token of the batch exists afterwards or none does.
func (s *IssuanceService) Issue(ctx context.Context, req IssueRequest) ([]IssuedToken, error) {
	if s.signer == nil {
		return nil, apperr.Configuration("issuer signing key is not configured")
	}
	if req.DenomCents == 0 {
		req.DenomCents = s.cfg.DefaultDenomCents
	}
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxQuantity {
		return nil, apperr.Validation("quantity must be between 1 and %d", s.cfg.MaxQuantity)
	}
	if req.DenomCents <= 0 {
		return nil, apperr.Validation("denom_cents must be > 0")
	}

	pub := s.signer.PublicKey()
	pubB64 := s.signer.PublicKeyBase64()
	out := make([]IssuedToken, 0, req.Quantity)
	rows := make([]models.Token, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		// Stored timestamps have microsecond precision; truncate so the row
		// and the signed string agree.
		issuedAt := s.now().UTC().Truncate(time.Microsecond)
		p := canonical.Payload{
			TokenID:      uuid.NewString(),
			DenomCents:   req.DenomCents,
			IssuerPubKey: pubB64,
			IssuedAt:     canonical.FormatTime(issuedAt),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		msg := canonical.Encode(p)
		sum := canonical.ContentHash(msg)

		rows = append(rows, models.Token{
			ID:            uuid.MustParse(p.TokenID),
			DenomCents:    p.DenomCents,
			IssuerPubKey:  append([]byte(nil), pub...),
			IssuedAt:      issuedAt,
			ExpAt:         issuedAt.Add(s.cfg.Validity),
			State:         models.TokenIssued,
			PayloadSHA256: sum,
		})
		out = append(out, IssuedToken{
			Payload:          p,
			SignatureB64:     s.signer.SignBase64(msg),
			PayloadSHA256B64: base64.StdEncoding.EncodeToString(sum),
		})
	}

	err := s.store.WithTx(ctx, func(tx repo.Tx) error {
		for _, t := range rows {
			if err := tx.Tokens().Create(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "persist issued tokens")
	}

	metrics.TokensIssued.Add(float64(len(out)))
	s.log.Info("tokens issued", "quantity", len(out), "denom_cents", req.DenomCents)
	s.audit.Record(models.AuditEntityIssuance, rows[0].ID.String(), models.AuditActionIssued, map[string]any{
		"quantity":    len(out),
		"denom_cents": req.DenomCents,
		"first_token": rows[0].ID.String(),
		"last_token":  rows[len(rows)-1].ID.String(),
	})
	return out, nil
}

// PublicKeyB64 is the issuer key verifiers need offline; empty when issuance
// is not configured.
func (s *IssuanceService) PublicKeyB64() string {
	if s.signer == nil {
		return ""
	}
	return s.signer.PublicKeyBase64()
}
