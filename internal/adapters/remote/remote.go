// Package remote is the shared transport of every catalog adapter. It maps
// remote HTTP failures onto one error taxonomy, throttles outbound calls and
// opens a circuit breaker when a remote keeps failing, so a dead catalog
// degrades into fast Timeout errors instead of piling up goroutines.
package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/terrado/geosyncsrv/pkg/apperrors"
)

var (
	ErrRemote apperrors.Error = apperrors.New("remote catalog error").SetStatusCode(http.StatusServiceUnavailable)

	ErrNotFound          = ErrRemote.New("remote object not found").SetStatusCode(http.StatusNotFound)
	ErrConflict          = ErrRemote.New("remote object conflict").SetStatusCode(http.StatusConflict)
	ErrUnauthorized      = ErrRemote.New("remote authentication rejected").SetStatusCode(http.StatusUnauthorized)
	ErrValidationRejected = ErrRemote.New("remote rejected the payload").SetStatusCode(http.StatusBadRequest)
	ErrTimeout           = ErrRemote.New("remote catalog timed out")
	ErrCritical          = ErrRemote.New("remote catalog failure")
)

// Auth decorates an outbound request with credentials.
type Auth func(r *http.Request)

func APIKeyAuth(key string) Auth {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set("Authorization", key)
		}
	}
}

func BasicAuth(username, password string) Auth {
	return func(r *http.Request) {
		r.SetBasicAuth(username, password)
	}
}

func NoAuth() Auth {
	return func(*http.Request) {}
}

// Client is one remote endpoint. It is safe for concurrent use; all per-call
// state lives on the stack.
type Client struct {
	name    string
	baseURL string
	auth    Auth
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]
}

// NewClient builds a transport for one remote. The limiter allows bursts of
// ten; the breaker opens after five consecutive failures and probes again
// after thirty seconds.
func NewClient(name, baseURL string, timeout time.Duration, auth Auth) *Client {
	if auth == nil {
		auth = NoAuth()
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(20), 10),
		breaker: gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Response carries the decoded body. Callers that only care about the status
// ignore Body.
type Response struct {
	StatusCode int
	Body       []byte
}

// httpStatusError carries a 5xx through the breaker so server errors count
// as failures while 4xx responses do not.
type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return "remote returned status " + http.StatusText(e.status)
}

// Do sends one request and maps the outcome onto the error taxonomy. A nil
// body sends an empty request. The returned error is nil only for 2xx.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout.Err(err)
	}
	rsp, err := c.breaker.Execute(func() (*Response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url(path), rd)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		c.auth(req)
		httpRsp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpRsp.Body.Close()
		payload, err := io.ReadAll(httpRsp.Body)
		if err != nil {
			return nil, err
		}
		if httpRsp.StatusCode >= 500 {
			return nil, &httpStatusError{status: httpRsp.StatusCode, body: payload}
		}
		return &Response{StatusCode: httpRsp.StatusCode, Body: payload}, nil
	})
	if err != nil {
		var serr *httpStatusError
		if errors.As(err, &serr) {
			return nil, c.mapStatus(ctx, serr.status, serr.body)
		}
		return nil, c.mapTransportError(ctx, err)
	}
	if rsp.StatusCode >= 200 && rsp.StatusCode < 300 {
		return rsp, nil
	}
	return nil, c.mapStatus(ctx, rsp.StatusCode, rsp.Body)
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) mapTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Ctx(ctx).Warn().Str("remote", c.name).Msg("circuit breaker open")
		return ErrTimeout.MsgErr("remote "+c.name+" is unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.Err(err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout.Err(err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return ErrTimeout.Err(err)
	}
	log.Ctx(ctx).Error().Err(err).Str("remote", c.name).Msg("remote call failed")
	return ErrCritical.Err(err)
}

func (c *Client) mapStatus(ctx context.Context, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound.Msg(detail)
	case status == http.StatusConflict:
		return ErrConflict.Msg(detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		log.Ctx(ctx).Error().Str("remote", c.name).Int("status", status).Msg("remote rejected credentials")
		return ErrUnauthorized.Msg(detail)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrValidationRejected.Msg(detail)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return ErrTimeout.Msg(detail)
	}
	log.Ctx(ctx).Error().Str("remote", c.name).Int("status", status).Str("body", detail).
		Msg("remote returned an unexpected status")
	return ErrCritical.Msg(detail)
}
