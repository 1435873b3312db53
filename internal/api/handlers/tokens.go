package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/offlinepay/settlement/internal/api/httpx"
	"github.com/offlinepay/settlement/internal/api/validate"
	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/canonical"
	"github.com/offlinepay/settlement/internal/services"
)

type TokenHandler struct {
	Issuance *services.IssuanceService
	Query    *services.QueryService
}

func NewTokenHandler(is *services.IssuanceService, qs *services.QueryService) *TokenHandler {
	return &TokenHandler{Issuance: is, Query: qs}
}

type issueResp struct {
	Tokens []services.IssuedToken `json:"tokens"`
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req services.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteAppError(w, r, apperr.Validation("malformed JSON body"))
		return
	}
	var errs validate.Errs
	errs.Add(validate.MinInt("quantity", int64(req.Quantity), 1))
	if err := errs.Err(); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	out, err := h.Issuance.Issue(r.Context(), req)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, issueResp{Tokens: out})
}

func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs validate.Errs
	errs.Add(validate.Required("user_id", q.Get("user_id")))
	limit, ef := validate.IntParam("limit", q.Get("limit"), services.DefaultPageSize)
	errs.Add(ef)
	offset, ef := validate.IntParam("offset", q.Get("offset"), 0)
	errs.Add(ef)
	if err := errs.Err(); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if !canSee(r, q.Get("user_id")) {
		httpx.WriteAppError(w, r, apperr.Forbidden("user_id does not match the authenticated user"))
		return
	}
	toks, err := h.Query.Tokens(r.Context(), q.Get("user_id"), limit, offset)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tokens": toks, "limit": limit, "offset": offset})
}

func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var errs validate.Errs
	errs.Add(validate.UUID("id", id))
	if err := errs.Err(); err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	tok, err := h.Query.Token(r.Context(), id)
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tok)
}

type pubkeyResp struct {
	Algorithm       string `json:"algorithm"`
	PublicKeyB64    string `json:"public_key_b64"`
	CanonicalFormat int    `json:"canonical_version"`
}

// PublicKey publishes the issuer key holders need to verify bundles offline.
func (h *TokenHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	pk := h.Issuance.PublicKeyB64()
	if pk == "" {
		httpx.WriteAppError(w, r, apperr.Configuration("issuer key is not configured"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pubkeyResp{Algorithm: "ed25519", PublicKeyB64: pk, CanonicalFormat: canonical.Version})
}
