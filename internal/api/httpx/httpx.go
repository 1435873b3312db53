package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/offlinepay/settlement/internal/apperr"
)

type APIError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindDecryption:      http.StatusBadRequest,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindAlreadyRedeemed: http.StatusConflict,
	apperr.KindForgery:         http.StatusUnprocessableEntity,
	apperr.KindTransient:       http.StatusServiceUnavailable,
	apperr.KindConfiguration:   http.StatusInternalServerError,
	apperr.KindUnbalanced:      http.StatusInternalServerError,
	apperr.KindUnauthorized:    http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	if s, ok := statusByKind[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteAppError writes err using its kind. Internal causes are logged and
// never echoed to the client.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	kind := apperr.KindOf(err)
	msg := "internal error"
	var details interface{}
	if e, ok := apperr.As(err); ok {
		if status < http.StatusInternalServerError || kind == apperr.KindTransient {
			msg = e.Msg
		}
		if e.State != "" {
			details = map[string]string{"state": e.State}
		}
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", kind.Code(), "err", err)
	}
	if kind == apperr.KindTransient {
		w.Header().Set("Retry-After", "1")
	}
	WriteError(w, status, kind.Code(), msg, details)
}
