package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	counts map[string]int64
	err    error
}

func newCountingStore() *countingStore {
	return &countingStore{counts: map[string]int64{}}
}

func (c *countingStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func pushRequest(ip, phone string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/stkpush", strings.NewReader(`{"phone":"`+phone+`","amount":100}`))
	req.RemoteAddr = ip + ":5555"
	return req
}

func TestPushRateLimitBlocksSamePhoneAcrossFormats(t *testing.T) {
	policy := PushRateLimitPolicy{Window: time.Minute, IPLimit: 100, PhoneLimit: 2}
	handler := PushRateLimit(policy, newCountingStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	attempts := []struct{ ip, phone string }{
		{"10.0.0.1", "0712345678"},
		{"10.0.0.2", "254712345678"},
		{"10.0.0.3", "+254 712 345 678"},
	}
	var codes []int
	for _, a := range attempts {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, pushRequest(a.ip, a.phone))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestPushRateLimitBlocksByIP(t *testing.T) {
	policy := PushRateLimitPolicy{Window: time.Minute, IPLimit: 1}
	calls := 0
	handler := PushRateLimit(policy, newCountingStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), pushRequest("10.0.0.9", "0712345678"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, pushRequest("10.0.0.9", "0722334455"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestPushRateLimitRestoresBody(t *testing.T) {
	policy := PushRateLimitPolicy{Window: time.Minute, PhoneLimit: 5}
	var seen string
	handler := PushRateLimit(policy, newCountingStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), pushRequest("10.0.0.1", "0712345678"))
	assert.JSONEq(t, `{"phone":"0712345678","amount":100}`, seen)
}

func TestPushRateLimitStoreFailure(t *testing.T) {
	store := newCountingStore()
	store.err = errors.New("redis down")
	policy := PushRateLimitPolicy{Window: time.Minute, IPLimit: 3}
	handler := PushRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run when the limiter is unavailable")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, pushRequest("10.0.0.1", "0712345678"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPushRateLimitDisabledPassesThrough(t *testing.T) {
	handler := PushRateLimit(PushRateLimitPolicy{}, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, pushRequest("10.0.0.1", "0712345678"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 41.90.1.2 , 10.0.0.1"}, "10.0.0.9:80", "41.90.1.2"},
		{"real ip", map[string]string{"X-Real-IP": "41.90.1.3"}, "10.0.0.9:80", "41.90.1.3"},
		{"socket peer", nil, "10.0.0.9:80", "10.0.0.9"},
		{"peer without port", nil, "10.0.0.9", "10.0.0.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
