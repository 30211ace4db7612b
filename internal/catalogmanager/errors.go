package catalogmanager

import (
	"net/http"

	"github.com/terrado/geosyncsrv/pkg/apperrors"
)

var (
	ErrCatalog apperrors.Error = apperrors.New("catalog error").SetStatusCode(http.StatusInternalServerError)

	ErrValidation = ErrCatalog.New("validation failed").SetStatusCode(http.StatusBadRequest)
	ErrNotFound   = ErrCatalog.New("not found").SetStatusCode(http.StatusNotFound)
	ErrConflict   = ErrCatalog.New("conflict").SetStatusCode(http.StatusConflict)
	// ErrRemoteUnavailable wraps adapter timeouts and 5xx; the local
	// transaction has been rolled back when it surfaces.
	ErrRemoteUnavailable = ErrCatalog.New("remote service unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrPermission        = ErrCatalog.New("operation not permitted").SetStatusCode(http.StatusForbidden)
	ErrHarvestedReadOnly = ErrPermission.New("harvested datasets cannot be edited")
)
