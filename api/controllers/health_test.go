package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	cases := []struct {
		name   string
		db     Pinger
		redis  Pinger
		status int
	}{
		{"all up", stubPinger{}, stubPinger{}, http.StatusOK},
		{"db down", stubPinger{err: errors.New("refused")}, stubPinger{}, http.StatusServiceUnavailable},
		{"redis down", stubPinger{}, stubPinger{err: errors.New("refused")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		resp := httptest.NewRecorder()
		HealthReady(cfg, logger.Nop(), tc.db, tc.redis).ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.Code)
		}
	}
}

func TestHealthLive(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	HealthLive(&config.Config{App: config.AppConfig{Env: "test"}}).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Header().Get("X-FarmLink-Env") != "test" {
		t.Fatalf("unexpected live response: %d %v", resp.Code, resp.Header())
	}
}
