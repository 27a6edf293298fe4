package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/farmlink/farmlink-backend/api/responses"
	"github.com/farmlink/farmlink-backend/pkg/config"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by the db and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-FarmLink-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when every dependency answers a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, db Pinger, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-FarmLink-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]Pinger{"database": db, "redis": redis}
		for name, dep := range checks {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
