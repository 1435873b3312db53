package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinepay/settlement/internal/auth"
	"github.com/offlinepay/settlement/internal/config"
	"github.com/offlinepay/settlement/internal/logger"
	"github.com/offlinepay/settlement/internal/models"
	"github.com/offlinepay/settlement/internal/repository/memory"
	"github.com/offlinepay/settlement/internal/services"
	"github.com/offlinepay/settlement/internal/signing"
)

type testServer struct {
	t      *testing.T
	h      http.Handler
	store  *memory.Store
	signer *signing.Signer
}

func newTestServer(t *testing.T, env string, opts ...memory.Option) *testServer {
	t.Helper()
	store := memory.New(opts...)
	require.NoError(t, store.AddAccount(models.Account{ID: "reserve", Kind: models.AccountIssuanceReserve, Currency: "BRL"}))
	for _, u := range []string{"alice", "bob"} {
		u := u
		require.NoError(t, store.AddAccount(models.Account{ID: "wallet-" + u, UserID: &u, Kind: models.AccountUserWallet, Currency: "BRL"}))
	}

	skB64, _, err := signing.GenerateKey()
	require.NoError(t, err)
	signer, err := signing.NewSignerFromBase64(skB64)
	require.NoError(t, err)

	log := logger.Discard()
	audit := services.NewAuditor(store.AuditLogs(), nil, log)
	cfg := config.Config{Env: env, RateRPS: 1000}
	h := NewRouter(RouterDeps{
		Cfg:        cfg,
		TM:         auth.NewTokenManager("access", "refresh", "test", time.Minute, time.Hour),
		Issuance:   services.NewIssuanceService(store, signer, services.IssuanceConfig{DefaultDenomCents: 100, MaxQuantity: 10}, audit, log),
		Redemption: services.NewRedemptionService(store, services.RedemptionConfig{Currency: "BRL"}, audit, log),
		Query:      services.NewQueryService(store),
	})
	return &testServer{t: t, h: h, store: store, signer: signer}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(userID, role string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"user_id": userID, "role": role})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.AccessToken
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type redeemBody struct {
	Status       string `json:"status"`
	RedemptionID string `json:"redemption_id"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		State   string `json:"state"`
	} `json:"error"`
}

func redeemReq(tok services.IssuedToken, user string) services.RedeemRequest {
	return services.RedeemRequest{
		TokenID:           tok.Payload.TokenID,
		UserID:            user,
		TokenPayload:      tok.Payload,
		TokenSignatureB64: tok.SignatureB64,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "dev")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", "", nil).Code)
}

func TestIssueAndRedeemOverHTTP(t *testing.T) {
	s := newTestServer(t, "dev")
	issuer := s.login("central-bank", auth.RoleIssuer)
	alice := s.login("alice", auth.RoleUser)
	bob := s.login("bob", auth.RoleUser)

	// only issuers mint
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/tokens/issue", "", map[string]int{"quantity": 1}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/v1/tokens/issue", alice, map[string]int{"quantity": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/tokens/issue", issuer, map[string]int{"quantity": 0}).Code)

	rec := s.do(http.MethodPost, "/api/v1/tokens/issue", issuer, map[string]int{"quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[struct {
		Tokens []services.IssuedToken `json:"tokens"`
	}](t, rec).Tokens
	require.Len(t, issued, 2)
	assert.NotEmpty(t, issued[0].PayloadSHA256B64)

	// redeem, then replay
	rec = s.do(http.MethodPost, "/api/v1/redeem", alice, redeemReq(issued[0], "alice"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[redeemBody](t, rec)
	assert.Equal(t, "success", first.Status)
	assert.NotEmpty(t, first.RedemptionID)

	rec = s.do(http.MethodPost, "/api/v1/redeem", alice, redeemReq(issued[0], "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[redeemBody](t, rec)
	assert.Equal(t, "duplicate", again.Status)
	assert.Equal(t, first.RedemptionID, again.RedemptionID)

	// cannot redeem on someone else's behalf
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/v1/redeem", bob, redeemReq(issued[1], "alice")).Code)

	// forged denomination
	forged := redeemReq(issued[1], "bob")
	forged.TokenPayload.DenomCents = 99999
	rec = s.do(http.MethodPost, "/api/v1/redeem", bob, forged)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[redeemBody](t, rec)
	assert.Equal(t, "error", body.Status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "forgery", body.Error.Code)

	// unknown token
	ghost := redeemReq(issued[1], "bob")
	ghost.TokenID = uuid.NewString()
	ghost.TokenPayload.TokenID = ghost.TokenID
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/redeem", bob, ghost).Code)

	// malformed request
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/redeem", bob, map[string]any{"token_id": "x", "user_id": "bob", "nonsense": 1}).Code)

	// token detail and listing
	rec = s.do(http.MethodGet, "/api/v1/tokens/"+issued[0].Payload.TokenID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TokenRedeemed, decode[models.Token](t, rec).State)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/tokens/"+uuid.NewString(), alice, nil).Code)
	rec = s.do(http.MethodGet, "/api/v1/tokens/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be a uuid")

	rec = s.do(http.MethodGet, "/api/v1/tokens?user_id=bob&limit=10", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Tokens []models.Token `json:"tokens"`
	}](t, rec)
	assert.Len(t, list.Tokens, 1, "bob sees only the unredeemed token")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/v1/tokens?user_id=alice", bob, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/tokens?user_id=bob&limit=x", bob, nil).Code)

	// balances
	rec = s.do(http.MethodGet, "/api/v1/accounts/wallet-alice/balance", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100), decode[services.AccountBalance](t, rec).BalanceCents)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/v1/accounts/wallet-alice/balance", bob, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/v1/accounts/reserve/balance", bob, nil).Code)
	rec = s.do(http.MethodGet, "/api/v1/accounts/reserve/balance", issuer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(-100), decode[services.AccountBalance](t, rec).BalanceCents)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/accounts/nope/balance", issuer, nil).Code)
}

func TestIssuerPublicKey(t *testing.T) {
	s := newTestServer(t, "dev")
	rec := s.do(http.MethodGet, "/api/v1/issuer/pubkey", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[map[string]any](t, rec)
	assert.Equal(t, s.signer.PublicKeyBase64(), out["public_key_b64"])
	assert.Equal(t, "ed25519", out["algorithm"])
}

func TestLoginIsDevOnly(t *testing.T) {
	s := newTestServer(t, "prod")
	rec := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t, "dev")
	rec := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decode[map[string]any](t, rec)

	rec = s.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refresh_token": pair["refresh_token"]})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refresh_token": pair["access_token"]})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"user_id": "alice", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (s *testServer) issue(issuer string, n int) []services.IssuedToken {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/tokens/issue", issuer, map[string]int{"quantity": n})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		Tokens []services.IssuedToken `json:"tokens"`
	}](s.t, rec).Tokens
}

func TestRedeemStoreFailureKeepsStatusEnvelope(t *testing.T) {
	var failCommits atomic.Bool
	s := newTestServer(t, "dev", memory.WithCommitHook(func(context.Context) error {
		if failCommits.Load() {
			return errors.New("disk full")
		}
		return nil
	}))
	issued := s.issue(s.login("central-bank", auth.RoleIssuer), 1)
	alice := s.login("alice", auth.RoleUser)

	failCommits.Store(true)
	rec := s.do(http.MethodPost, "/api/v1/redeem", alice, redeemReq(issued[0], "alice"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
	body := decode[redeemBody](t, rec)
	assert.Equal(t, "error", body.Status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "internal_error", body.Error.Code)
	assert.Equal(t, "internal error", body.Error.Message)
	assert.Empty(t, s.store.Redemptions())
}

func TestRedeemAlreadyRedeemedCarriesState(t *testing.T) {
	s := newTestServer(t, "dev")
	issued := s.issue(s.login("central-bank", auth.RoleIssuer), 1)
	bob := s.login("bob", auth.RoleUser)

	// settled outside this service: no redemption row, token already spent
	tok, ok := s.store.Token(uuid.MustParse(issued[0].Payload.TokenID))
	require.True(t, ok)
	tok.State = models.TokenRedeemed
	s.store.AddToken(tok)

	rec := s.do(http.MethodPost, "/api/v1/redeem", bob, redeemReq(issued[0], "bob"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[redeemBody](t, rec)
	assert.Equal(t, "error", body.Status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "already_redeemed", body.Error.Code)
	assert.Equal(t, string(models.TokenRedeemed), body.Error.State)
}
