package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/KaramelBytes/veritable-cli/internal/verr"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// testServerSequence answers POST /predict with statuses in order, repeating
// the last one once they run out.
func testServerSequence(t *testing.T, statuses []int, headers []http.Header, bodyOK any) (*ipv4Server, *int32) {
	t.Helper()
	var idx int32
	return newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(&idx, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		st := statuses[i]
		if headers != nil && i < len(headers) && headers[i] != nil {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(st)
		if st >= 200 && st < 300 {
			_ = json.NewEncoder(w).Encode(bodyOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down", "code": "E1"}})
	})), &idx
}

func testConnection(url string) *Connection {
	o := DefaultOptions("test-key")
	o.BaseURL = url
	o.HTTPTimeout = 5 * time.Second
	o.RetryBaseDelay = time.Millisecond
	o.RetryMaxDelay = 5 * time.Millisecond
	return NewConnection(o)
}

func TestPostRetriesOn429(t *testing.T) {
	ts, hits := testServerSequence(t, []int{429, 429, 200}, nil, []map[string]any{{"x": 1}})
	defer ts.Close()

	c := testConnection(ts.URL)
	body, err := c.Post(context.Background(), "predict", map[string]any{"count": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), `"x":1`) {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := atomic.LoadInt32(hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryAfterHonored(t *testing.T) {
	h1 := http.Header{}
	h1.Set("Retry-After", "1")
	ts, _ := testServerSequence(t, []int{429, 200}, []http.Header{h1, nil}, []any{})
	defer ts.Close()

	c := testConnection(ts.URL)
	start := time.Now()
	if _, err := c.Post(context.Background(), "predict", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatalf("expected to wait for Retry-After, waited %v", time.Since(start))
	}
}

func TestErrorIncludesRequestID(t *testing.T) {
	h := http.Header{}
	h.Set("X-Request-Id", "req-123")
	ts, _ := testServerSequence(t, []int{400}, []http.Header{h}, nil)
	defer ts.Close()

	c := testConnection(ts.URL)
	_, err := c.Post(context.Background(), "predict", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "req-123") {
		t.Fatalf("expected request id in error, got %v", err)
	}
	e, ok := verr.As(err)
	if !ok || e.Kind != verr.KindBadRequest || e.Code != "E1" || e.StatusCode != 400 {
		t.Fatalf("unexpected error fields: %#v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   verr.Kind
	}{
		{401, verr.KindAuth},
		{403, verr.KindAuth},
		{404, verr.KindNotFound},
		{400, verr.KindBadRequest},
		{429, verr.KindRateLimit},
		{503, verr.KindServer},
		{418, verr.KindGeneral},
	}
	for _, tc := range cases {
		ts, hits := testServerSequence(t, []int{tc.status}, nil, nil)
		c := testConnection(ts.URL)
		_, err := c.Post(context.Background(), "predict", nil)
		ts.Close()
		if !verr.IsKind(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		retried := tc.status == 429 || tc.status >= 500
		if n := atomic.LoadInt32(hits); retried && n != 3 || !retried && n != 1 {
			t.Fatalf("status %d: unexpected attempt count %d", tc.status, n)
		}
	}
}

func TestRequestHeadersAndAuth(t *testing.T) {
	var seen http.Header
	var user, pass string
	ts := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		user, pass, _ = r.BasicAuth()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := testConnection(ts.URL + "/")
	if _, err := c.Put(context.Background(), "/tables/t/rows/r", map[string]any{"_id": "r"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != "test-key" || pass != "" {
		t.Fatalf("unexpected basic auth %q:%q", user, pass)
	}
	if seen.Get("User-Agent") != UserAgent || seen.Get("Accept") != "application/json" || seen.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected headers: %v", seen)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewConnection(Options{BaseURL: "http://127.0.0.1:1"})
	err := c.Get(context.Background(), "", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "VERITABLE_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := testConnection("http://" + addr)
	err = c.Get(context.Background(), "user/limits", nil, nil)
	if !verr.IsKind(err, verr.KindUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if s, err := parseRetryAfterSeconds("7"); err != nil || s != 7 {
		t.Fatalf("got %d, %v", s, err)
	}
	if _, err := parseRetryAfterSeconds("soon"); err == nil {
		t.Fatalf("expected error for invalid value")
	}
}
