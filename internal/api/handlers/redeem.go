package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/offlinepay/settlement/internal/api/httpx"
	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/middleware"
	"github.com/offlinepay/settlement/internal/services"
)

type RedeemHandler struct {
	Redemption *services.RedemptionService
}

func NewRedeemHandler(rs *services.RedemptionService) *RedeemHandler {
	return &RedeemHandler{Redemption: rs}
}

type redeemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// State is the token state observed under lock, for already_redeemed.
	State string `json:"state,omitempty"`
}

type redeemResp struct {
	Status       string       `json:"status"`
	RedemptionID string       `json:"redemption_id,omitempty"`
	Error        *redeemError `json:"error,omitempty"`
}

// writeErr always answers with status "error". Messages of server-side
// failures other than transient ones are logged, not returned.
func (h *RedeemHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusOf(err)
	kind := apperr.KindOf(err)
	body := &redeemError{Code: kind.Code(), Message: "internal error"}
	if e, ok := apperr.As(err); ok {
		if status < http.StatusInternalServerError || kind == apperr.KindTransient {
			body.Message = e.Msg
		}
		body.State = e.State
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", kind.Code(), "err", err)
	}
	if kind == apperr.KindTransient {
		w.Header().Set("Retry-After", "1")
	}
	httpx.WriteJSON(w, status, redeemResp{Status: "error", Error: body})
}

// Redeem settles a token for the authenticated user. Replays of an applied
// redemption answer 200 with status "duplicate".
func (h *RedeemHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req services.RedeemRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeErr(w, r, apperr.Validation("malformed JSON body"))
		return
	}
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeErr(w, r, apperr.Unauthorized("authentication required"))
		return
	}
	if req.UserID != u.UserID {
		h.writeErr(w, r, apperr.Forbidden("user_id does not match the authenticated user"))
		return
	}

	res, err := h.Redemption.Redeem(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redeemResp{Status: res.Status, RedemptionID: res.RedemptionID})
}
