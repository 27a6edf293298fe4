package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/farmlink/farmlink-backend/pkg/config"
)

// CORS admits the origins listed in FRONTEND_URL.
func CORS(cfg config.FrontendConfig) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
