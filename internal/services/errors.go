package services

import (
	"context"
	"errors"

	"github.com/offlinepay/settlement/internal/apperr"
	repo "github.com/offlinepay/settlement/internal/repository"
)

// wrapStoreErr gives store errors a kind. Errors that already have one pass
// through.
func wrapStoreErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repo.ErrConflict):
		return apperr.Transient(err, msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Transient(err, "request cancelled")
	case errors.Is(err, repo.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, msg)
	}
	return apperr.Wrap(apperr.KindInternal, err, msg)
}
