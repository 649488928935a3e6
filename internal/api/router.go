package api

import (
	"net/http"

	"github.com/bcnelson/cloudflare-waf-manager/internal/api/handler"
	"github.com/bcnelson/cloudflare-waf-manager/internal/api/middleware"
	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
	"github.com/bcnelson/cloudflare-waf-manager/internal/service"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options holds the dependencies of the HTTP API.
type Options struct {
	Store        storage.Storage
	SyncService  *service.SyncService
	Source       service.ConfigSource
	Resolver     ipresolver.Resolver
	Remote       handler.RemoteRuleLister
	BootstrapKey string

	// Verifier enables OIDC ID tokens as bearer credentials. Leave nil to
	// accept API keys only.
	Verifier middleware.TokenVerifier
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(opts.Store, opts.BootstrapKey, opts.Verifier))

		keyHandler := handler.NewAPIKeyHandler(opts.Store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		syncHandler := handler.NewSyncHandler(opts.Store, opts.SyncService)
		r.Post("/sync", syncHandler.Sync)
		r.Get("/runs", syncHandler.ListRuns)
		r.Get("/runs/{id}", syncHandler.GetRun)

		rulesHandler := handler.NewRulesHandler(opts.Source, opts.Resolver, opts.Remote)
		r.Get("/rules", rulesHandler.Declared)
		r.Get("/remote-rules", rulesHandler.Remote)
	})

	return r
}
