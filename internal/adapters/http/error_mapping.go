package httpadapter

import (
	"net/http"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict), domain.IsKind(err, domain.ErrStaleState):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrFatal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
