package httpadapter

import (
	"net/http"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrInvoiceNotFound),
		domain.IsKind(err, domain.ErrProjectNotFound),
		domain.IsKind(err, domain.ErrRuleNotFound),
		domain.IsKind(err, domain.ErrSourceNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicateInvoice), domain.IsKind(err, domain.ErrRunLocked):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
