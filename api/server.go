package api

import (
	"net"
	"net/http"
	"time"

	"github.com/farmlink/farmlink-backend/pkg/config"
)

// NewServer builds the HTTP server cmd/api runs. WriteTimeout leaves room for
// one STK push round trip to the provider.
func NewServer(cfg config.AppConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
