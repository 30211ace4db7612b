// Package httpx carries the handler plumbing for the REST surface. Handlers
// return (*Response, error); WrapHttpRsp turns them into http.HandlerFunc and
// maps apperrors status codes onto the wire.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/pkg/apperrors"
)

type RequestHandler func(r *http.Request) (*Response, error)

// Response is the normalized handler result. Location is set on creation and
// surfaces as Content-Location.
type Response struct {
	StatusCode int
	Location   string
	Response   any
}

type Error struct {
	StatusCode  int    `json:"-"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return e.Description
}

func (e *Error) Send(w http.ResponseWriter) {
	code := e.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": e})
}

func ErrInvalidRequest(msg ...string) *Error {
	description := "invalid request"
	if len(msg) > 0 {
		description = msg[0]
	}
	return &Error{StatusCode: http.StatusBadRequest, Description: description}
}

func ErrUnableToReadRequest() *Error {
	return &Error{StatusCode: http.StatusBadRequest, Description: "unable to read request"}
}

func ErrNotFound(msg ...string) *Error {
	description := "not found"
	if len(msg) > 0 {
		description = msg[0]
	}
	return &Error{StatusCode: http.StatusNotFound, Description: description}
}

func ErrUnauthorized() *Error {
	return &Error{StatusCode: http.StatusForbidden, Description: "operation not permitted"}
}

// WrapHttpRsp adapts a RequestHandler into a http.HandlerFunc.
func WrapHttpRsp(h RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := h(r)
		if err != nil {
			sendError(w, r, err)
			return
		}
		if rsp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if rsp.Location != "" {
			w.Header().Set("Content-Location", rsp.Location)
		}
		if rsp.Response == nil {
			w.WriteHeader(rsp.StatusCode)
			return
		}
		SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
	}
}

func SendJsonRsp(ctx any, w http.ResponseWriter, statusCode int, rsp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func sendError(w http.ResponseWriter, r *http.Request, err error) {
	if httpErr, ok := err.(*Error); ok {
		httpErr.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		(&Error{StatusCode: statusCode, Description: appErr.ErrorAll()}).Send(w)
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("unhandled handler error")
	(&Error{StatusCode: http.StatusInternalServerError, Description: "internal error"}).Send(w)
}
