package apis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/pkg/httpx"
)

// decodeBody reads and unmarshals a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return httpx.ErrInvalidRequest()
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return httpx.ErrUnableToReadRequest()
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return httpx.ErrInvalidRequest("malformed json body")
	}
	return nil
}

// asNotFound collapses store misses onto the API's 404.
func asNotFound(err error) error {
	if errors.Is(err, dberror.ErrNotFound) {
		return httpx.ErrNotFound()
	}
	return err
}
