package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// Transport performs one geocoding request and decodes the response body.
type Transport interface {
	Do(ctx context.Context, endpoint string, params url.Values) (*Response, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geocoding API error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("geocoding API error: %d %s", e.Code, e.Message)
}

// ErrMalformedResponse is returned when the body has no "results" array.
var ErrMalformedResponse = errors.New("geocoding API returned a malformed response")

// HTTPTransport talks to the OpenCage JSON endpoint over HTTP.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates a transport with a pooled HTTP client.
func NewHTTPTransport(timeout time.Duration, userAgent string) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewHTTPTransportWithClient(&http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}, userAgent)
}

// NewHTTPTransportWithClient uses the given client as-is.
func NewHTTPTransportWithClient(client *http.Client, userAgent string) *HTTPTransport {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPTransport{client: client, userAgent: userAgent}
}

// Do issues a GET to endpoint with params merged into any query it already has.
func (t *HTTPTransport) Do(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	query := u.Query()
	for k, vs := range params {
		query.Del(k)
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}

	var decoded Response
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if decoded.Results == nil {
		return nil, ErrMalformedResponse
	}
	return &decoded, nil
}

// statusError pulls the OpenCage status message out of an error body when
// there is one.
func statusError(code int, body io.Reader) *StatusError {
	var payload struct {
		Status *Status `json:"status"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.Status != nil {
		return &StatusError{Code: code, Message: strings.TrimSpace(payload.Status.Message)}
	}
	return &StatusError{Code: code}
}
