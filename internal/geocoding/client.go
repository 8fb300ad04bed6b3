package geocoding

import (
	"context"
	stderrors "errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const (
	DefaultServiceURL = "https://api.opencagedata.com/geocode/v1/json"
	DefaultLimit      = 5
	DefaultUserAgent  = "placefinder/1.0"

	// lowQuotaThreshold triggers a warning when the free-tier quota runs low.
	lowQuotaThreshold = 100
)

// Lookup outcomes reported to the Recorder.
const (
	OutcomeOK             = "ok"
	OutcomeEmpty          = "empty"
	OutcomeTransportError = "transport_error"
	OutcomeInvalid        = "invalid"
)

// Options configure a Client.
type Options struct {
	ServiceURL string
	// ProxyURL replaces ServiceURL; the key is then optional.
	ProxyURL string
	Key      string
	Limit    int

	GeocodingQueryParams map[string]string
	ReverseQueryParams   map[string]string
	ResultExtension      Extensions

	Timeout   time.Duration
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.ServiceURL == "" {
		o.ServiceURL = DefaultServiceURL
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Recorder receives one observation per lookup.
type Recorder interface {
	RecordLookup(ctx context.Context, kind, outcome string, duration time.Duration, results int)
}

type noopRecorder struct{}

func (noopRecorder) RecordLookup(context.Context, string, string, time.Duration, int) {}

// Client is the OpenCage geocoder adapter.
type Client struct {
	opts      Options
	transport Transport
	recorder  Recorder
	tracer    trace.Tracer
	registry  *Registry
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithRecorder reports lookups to r.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient creates a geocoder. Missing options take their defaults.
func NewClient(opts Options, options ...Option) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:     opts,
		recorder: noopRecorder{},
		tracer:   otel.Tracer("github.com/placefinder/placefinder/internal/geocoding"),
		registry: NewRegistry(),
	}
	for _, o := range options {
		o(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(opts.Timeout, opts.UserAgent)
	}
	return c
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// Endpoint is the URL requests are sent to.
func (c *Client) Endpoint() string {
	if c.opts.ProxyURL != "" {
		return c.opts.ProxyURL
	}
	return c.opts.ServiceURL
}

// Transport exposes the underlying transport, for hosts that proxy raw responses.
func (c *Client) Transport() Transport {
	return c.transport
}

// Geocode looks up query. Transport failures of any kind yield an empty list
// and a nil error; only a missing key or a blank query is returned as an error.
func (c *Client) Geocode(ctx context.Context, query string, near CenterProvider) ([]Result, error) {
	return c.lookup(ctx, "forward", query, near, c.opts.GeocodingQueryParams)
}

// Reverse looks up the place at location. scale is accepted for interface
// compatibility and ignored.
func (c *Client) Reverse(ctx context.Context, location LatLng, scale float64, near CenterProvider) ([]Result, error) {
	return c.lookup(ctx, "reverse", FormatLatLng(location), near, c.opts.ReverseQueryParams)
}

func (c *Client) validate(query string) error {
	if c.opts.ProxyURL == "" && c.opts.Key == "" {
		return errors.NewMissingAPIKeyError()
	}
	if strings.TrimSpace(query) == "" {
		return errors.NewBadQueryError()
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, kind, query string, near CenterProvider, extra map[string]string) ([]Result, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"component": "geocoding",
		"kind":      kind,
	})

	if err := c.validate(query); err != nil {
		c.recorder.RecordLookup(ctx, kind, OutcomeInvalid, 0, 0)
		logger.WithError(err).Warn("Geocoding request rejected")
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "geocoding.geocode", trace.WithAttributes(
		attribute.String("geocoding.kind", kind),
		attribute.Int("geocoding.limit", c.opts.Limit),
		attribute.Bool("geocoding.proxied", c.opts.ProxyURL != ""),
	))
	defer span.End()

	params := buildParams(query, c.opts.Limit, c.opts.Key, near, extra)

	start := time.Now()
	resp, err := c.transport.Do(ctx, c.Endpoint(), params)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("geocoding.outcome", OutcomeTransportError))
		c.recorder.RecordLookup(ctx, kind, OutcomeTransportError, elapsed, 0)

		entry := logger.WithError(err).WithField("duration_ms", elapsed.Milliseconds())
		var statusErr *StatusError
		switch {
		case stderrors.Is(err, context.Canceled):
			entry.Debug("Geocoding request aborted")
		case stderrors.As(err, &statusErr):
			entry.WithField("status", statusErr.Code).Warn("Geocoding API returned an error status")
		default:
			entry.Warn("Geocoding request failed")
		}
		return []Result{}, nil
	}

	if resp.Rate != nil && resp.Rate.Remaining < lowQuotaThreshold {
		logger.WithFields(map[string]interface{}{
			"remaining": resp.Rate.Remaining,
			"limit":     resp.Rate.Limit,
			"reset":     resp.Rate.Reset,
		}).Warn("Geocoding quota running low")
	}

	results := Normalize(resp.Results, c.opts.ResultExtension)

	outcome := OutcomeOK
	if len(results) == 0 {
		outcome = OutcomeEmpty
	}
	span.SetAttributes(
		attribute.Int("geocoding.results", len(results)),
		attribute.String("geocoding.outcome", outcome),
	)
	c.recorder.RecordLookup(ctx, kind, outcome, elapsed, len(results))
	logger.WithFields(map[string]interface{}{
		"results":     len(results),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Geocoding request completed")

	return results, nil
}

// Raw forwards params to the upstream endpoint after injecting the configured
// key. The HTTP proxy uses it to hand back the unmodified response.
func (c *Client) Raw(ctx context.Context, params url.Values) (*Response, error) {
	if c.opts.Key == "" {
		return nil, errors.NewMissingAPIKeyError()
	}
	if strings.TrimSpace(params.Get("q")) == "" {
		return nil, errors.NewBadQueryError()
	}

	forwarded := url.Values{}
	for k, vs := range params {
		forwarded[k] = append([]string(nil), vs...)
	}
	forwarded.Set("key", c.opts.Key)
	if forwarded.Get("limit") == "" {
		forwarded.Set("limit", strconv.Itoa(c.opts.Limit))
	}

	ctx, span := c.tracer.Start(ctx, "geocoding.proxy")
	defer span.End()

	resp, err := c.transport.Do(ctx, c.opts.ServiceURL, forwarded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("geocoding.results", len(resp.Results)))
	return resp, nil
}

// GeocodeAsync runs Geocode in the background and calls onResult exactly
// once. The returned token can be passed to Abort. An aborted request
// delivers an empty list.
func (c *Client) GeocodeAsync(ctx context.Context, query string, near CenterProvider, onResult func([]Result, error)) string {
	token, reqCtx, release := c.registry.Acquire(ctx)
	go func() {
		defer release()
		results, err := c.Geocode(reqCtx, query, near)
		if onResult != nil {
			onResult(results, err)
		}
	}()
	return token
}

// Abort cancels one pending async request.
func (c *Client) Abort(token string) bool {
	return c.registry.Abort(token)
}

// Pending returns the number of async requests in flight.
func (c *Client) Pending() int {
	return c.registry.Len()
}

// Close cancels every pending async request.
func (c *Client) Close() {
	c.registry.AbortAll()
}
