package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/offlinepay/settlement/internal/api/httpx"
	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/auth"
	"github.com/offlinepay/settlement/internal/middleware"
	"github.com/offlinepay/settlement/internal/services"
)

type AccountHandler struct {
	Query *services.QueryService
}

func NewAccountHandler(qs *services.QueryService) *AccountHandler {
	return &AccountHandler{Query: qs}
}

// Balance is visible to the wallet's owner and to issuers.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Query.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	owner := ""
	if b.Account.UserID != nil {
		owner = *b.Account.UserID
	}
	if !canSee(r, owner) {
		httpx.WriteAppError(w, r, apperr.Forbidden("account belongs to another user"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

// canSee reports whether the caller may read data owned by userID. Issuers
// see everything; an empty owner is issuer-only.
func canSee(r *http.Request, userID string) bool {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		return false
	}
	return u.Role == auth.RoleIssuer || (userID != "" && u.UserID == userID)
}
