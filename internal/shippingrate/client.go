// Package shippingrate talks to the external delivery rate service.
package shippingrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/order-placement/internal/domain/delivery"
)

const maxResponseBytes = 64 << 10

var _ delivery.RateProvider = (*Client)(nil)

// StatusError is returned when the rate service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rate service: status %d", e.StatusCode)
	}
	return fmt.Sprintf("rate service: status %d: %s", e.StatusCode, e.Body)
}

// Client quotes delivery rates over HTTP. One attempt per call, no retries.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	tp      trace.TracerProvider
	mp      metric.MeterProvider
}

// Option configures a Client.
type Option func(c *Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every rate request. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTelemetry sets the providers for the otelhttp transport.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.tp = tp
		c.mp = mp
	}
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base URL %q must be absolute", baseURL)
	}

	c := &Client{
		base:    base,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		var topts []otelhttp.Option
		if c.tp != nil {
			topts = append(topts, otelhttp.WithTracerProvider(c.tp))
		}
		if c.mp != nil {
			topts = append(topts, otelhttp.WithMeterProvider(c.mp))
		}
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, topts...),
		}
	}
	return c, nil
}

// Rate fetches the raw rate for postalCode.
func (c *Client) Rate(ctx context.Context, postalCode string) (decimal.Decimal, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.base.JoinPath("v1", "rates")
	u.RawQuery = url.Values{"postal_code": {postalCode}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Zero, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	fee, err := decodeRate(body)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "decode response")
	}
	return fee, nil
}

// decodeRate reads {"fee": 4.5} or {"fee": "4.50"}.
func decodeRate(data []byte) (decimal.Decimal, error) {
	var (
		fee   decimal.Decimal
		found bool
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "fee" {
			return d.Skip()
		}
		switch d.Next() {
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			fee, err = decimal.NewFromString(string(n))
			if err != nil {
				return err
			}
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			fee, err = decimal.NewFromString(s)
			if err != nil {
				return err
			}
		default:
			return errors.Errorf("fee: unexpected %s", d.Next())
		}
		found = true
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, errors.New("fee is missing")
	}
	return fee, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
