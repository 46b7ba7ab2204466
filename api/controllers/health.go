package controllers

import (
	"net/http"

	"github.com/smartrent/smartrent-backend/api/responses"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	pkgerrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SmartRent-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the hard dependencies. Redis is advisory for the
// payment path, so a redis outage degrades readiness without failing it.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SmartRent-Env", cfg.App.Env)

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}

		status := map[string]string{"status": "ready", "redis": "ok"}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				if logg != nil {
					logg.Warn(r.Context(), "redis unavailable during readiness check")
				}
				status["redis"] = "degraded"
			}
		}
		responses.WriteSuccess(w, status)
	}
}
