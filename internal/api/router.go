package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/hdvault/internal/api/handlers"
	"github.com/Fantasim/hdvault/internal/api/middleware"
	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/keystore"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(svc *keystore.Service, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	// Middleware stack (order matters)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.CSRF)
	r.Use(middleware.NoStore)
	r.Use(middleware.MaxBody)

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "hostCheck", "cors", "csrf", "noStore", "maxBody"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, Version))
		r.Get("/chains", handlers.ListChains(svc))

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", handlers.ListWallets(svc))
			r.Post("/", handlers.CreateWallet(svc))
			r.Post("/import", handlers.ImportWallet(svc))

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", handlers.DeleteWallet(svc))
				r.Post("/unlock", handlers.UnlockWallet(svc))
				r.Post("/lock", handlers.LockWallet(svc))
				r.Post("/derive", handlers.DeriveOrSign(svc))
				r.Post("/export", handlers.ExportMnemonic(svc))
				r.Post("/password", handlers.ChangePassword(svc))
				r.Get("/audit", handlers.WalletAudit(svc))
			})
		})
	})

	return r
}
