// Package api is the HTTP client for the hosted service: a retrying
// Connection plus the Table, Analysis and Cursor resources built on it.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

// DefaultBaseURL is the hosted service endpoint.
const DefaultBaseURL = "https://api.priorknowledge.com"

// UserAgent identifies this client to the service.
const UserAgent = "veritable-cli/0.1"

// Options configures a Connection.
type Options struct {
	APIKey  string
	BaseURL string
	// SSLVerify and EnableGzip default to true through DefaultOptions.
	SSLVerify      bool
	EnableGzip     bool
	HTTPTimeout    time.Duration
	RetryMax       int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Logger         *zap.SugaredLogger
}

// DefaultOptions returns options with the service defaults filled in.
func DefaultOptions(apiKey string) Options {
	return Options{
		APIKey:         apiKey,
		BaseURL:        DefaultBaseURL,
		SSLVerify:      true,
		EnableGzip:     true,
		HTTPTimeout:    60 * time.Second,
		RetryMax:       3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  4 * time.Second,
	}
}

// Connection issues authenticated JSON requests with retry and backoff.
type Connection struct {
	httpClient       *http.Client
	apiKey           string
	baseURL          string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	log              *zap.SugaredLogger
}

// NewConnection builds a Connection. Zero timeouts and retry settings fall
// back to the defaults.
func NewConnection(o Options) *Connection {
	d := DefaultOptions(o.APIKey)
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = d.HTTPTimeout
	}
	if o.RetryMax <= 0 {
		o.RetryMax = d.RetryMax
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = d.RetryMaxDelay
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	// The transport negotiates gzip itself unless compression is disabled.
	tr.DisableCompression = !o.EnableGzip
	if !o.SSLVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ssl_verify=false
	}
	return &Connection{
		httpClient:       &http.Client{Timeout: o.HTTPTimeout, Transport: tr},
		apiKey:           o.APIKey,
		baseURL:          strings.TrimRight(o.BaseURL, "/"),
		retryMaxAttempts: o.RetryMax,
		retryBaseDelay:   o.RetryBaseDelay,
		retryMaxDelay:    o.RetryMaxDelay,
		log:              o.Logger,
	}
}

// Get fetches path and decodes the JSON response into out.
func (c *Connection) Get(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Post sends payload as JSON and returns the raw response body.
func (c *Connection) Post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// Put sends payload as JSON and returns the raw response body.
func (c *Connection) Put(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, nil, payload)
}

func (c *Connection) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// decode unmarshals body into out, keeping untyped numbers as json.Number.
func decode(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return verr.Wrap(verr.KindResponse, err, "decode response")
	}
	return nil
}

// resolve joins relative paths to the base URL; absolute links from
// response documents are used as given.
func (c *Connection) resolve(path string, query url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

func (c *Connection) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, verr.New("VERITABLE_API_KEY is missing")
	}
	var reqBody []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = b
	}
	endpoint := c.resolve(path, query)
	maxAttempts := c.retryMaxAttempts
	backoff := c.retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var rd io.Reader
		if reqBody != nil {
			rd = bytes.NewReader(reqBody)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.SetBasicAuth(c.apiKey, "")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", UserAgent)
		if reqBody != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		c.log.Debugw("http request", "method", method, "url", endpoint, "attempt", attempt)
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isRetryableNetErr(err) && attempt < maxAttempts {
				lastErr = err
				sleep(ctx, backoff)
				backoff *= 2
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, verr.Wrap(verr.KindUnreachable, err, "%s %s", method, endpoint)
		}
		body, retry, err := c.read(resp, attempt < maxAttempts)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		e, _ := verr.As(err)
		if e != nil && e.RetryAfter > 0 {
			sleep(ctx, e.RetryAfter)
			continue
		}
		d := withJitter(backoff)
		if c.retryMaxDelay > 0 && d > c.retryMaxDelay {
			d = c.retryMaxDelay
		}
		sleep(ctx, d)
		backoff *= 2
	}
	return nil, lastErr
}

// read consumes resp. It reports whether a failed response may be retried.
func (c *Connection) read(resp *http.Response, canRetry bool) ([]byte, bool, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, verr.Wrap(verr.KindResponse, err, "read response")
		}
		return body, false, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	e := apiError(resp, body)
	retry := canRetry && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 && resp.StatusCode <= 599)
	return nil, retry, e
}

// apiError decodes an error response into a classified *verr.Error.
func apiError(resp *http.Response, body []byte) *verr.Error {
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	e := &verr.Error{StatusCode: resp.StatusCode, Code: "", Msg: http.StatusText(resp.StatusCode)}
	src := raw
	if v, ok := raw["error"].(map[string]any); ok {
		src = v
	}
	if msg, ok := src["message"].(string); ok && msg != "" {
		e.Msg = msg
	}
	if code, ok := src["code"].(string); ok {
		e.Code = code
	}
	if id := extractRequestID(resp); id != "" {
		e.Msg += " [request " + id + "]"
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := parseRetryAfterSeconds(ra); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	e.Kind = classify(e)
	return e
}

func classify(e *verr.Error) verr.Kind {
	sc := e.StatusCode
	switch {
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return verr.KindAuth
	case sc == http.StatusTooManyRequests:
		return verr.KindRateLimit
	case sc == http.StatusNotFound:
		return verr.KindNotFound
	case sc == http.StatusBadRequest:
		return verr.KindBadRequest
	case strings.EqualFold(e.Code, "quota_exceeded") || containsAnyFold(e.Msg, "quota", "billing", "limit exceeded"):
		return verr.KindQuota
	case sc >= 500 && sc <= 599:
		return verr.KindServer
	}
	return verr.KindGeneral
}

func containsAnyFold(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	for _, k := range []string{"X-Request-Id", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
