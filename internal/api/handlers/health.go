package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/hdvault/internal/config"
)

// HealthHandler returns a handler for the GET /api/health endpoint.
func HealthHandler(cfg *config.Config, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"version":       version,
			"sessionTtl":    cfg.SessionTTL.String(),
			"defaultChains": cfg.DefaultChains,
		})
	}
}
