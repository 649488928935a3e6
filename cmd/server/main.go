package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/api"
	"github.com/bcnelson/cloudflare-waf-manager/internal/api/middleware"
	"github.com/bcnelson/cloudflare-waf-manager/internal/auth"
	"github.com/bcnelson/cloudflare-waf-manager/internal/cloudflare"
	"github.com/bcnelson/cloudflare-waf-manager/internal/config"
	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
	"github.com/bcnelson/cloudflare-waf-manager/internal/logging"
	"github.com/bcnelson/cloudflare-waf-manager/internal/reconciler"
	"github.com/bcnelson/cloudflare-waf-manager/internal/service"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The rules file carries the logging settings. It is read again on
	// every run, so only its syntax has to be valid at startup.
	doc, err := config.LoadRules(cfg.Rules.File)
	if err != nil {
		log.Fatalf("Failed to load rules file: %v", err)
	}

	logger, closer, err := logging.New(logging.Options{
		File:        doc.LogFile,
		Level:       doc.LogLevel,
		MaxSizeMB:   doc.MaxLogSize,
		BackupCount: doc.BackupCount,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer closer.Close()
	logging.Install(logger)

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize Cloudflare client (or file shim for testing)
	var cfClient cloudflare.RulesetClient
	if cfg.UseFileShim() {
		log.Printf("Using file shim for Cloudflare API: %s", cfg.Cloudflare.FileShim)
		shim := cloudflare.NewFileShim(cfg.Cloudflare.FileShim)
		if doc.ZoneID != "" {
			if _, err := shim.EnsureZoneRuleset(doc.ZoneID); err != nil {
				log.Fatalf("Failed to prepare file shim: %v", err)
			}
		}
		cfClient = shim
	} else {
		client, err := cloudflare.New(cfg.Cloudflare.APIToken, cfg.Cloudflare.BaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize Cloudflare client: %v", err)
		}
		cfClient = client
	}

	resolver := ipresolver.New(cfg.IPLookup.PublicURL, cfg.IPLookup.Timeout, logger)
	rec := reconciler.New(cfClient, resolver, logger)
	source := config.FileSource{Path: cfg.Rules.File}

	// Initialize sync service
	syncService := service.NewSyncService(store, source, rec, cfg.Sync.Debounce)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OIDC ID tokens are accepted only when configured
	var verifier middleware.TokenVerifier
	if cfg.OIDC.Enabled {
		v, err := auth.NewTokenVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.GetAllowedDomains())
		if err != nil {
			log.Fatalf("Failed to initialize OIDC verifier: %v", err)
		}
		verifier = v
		log.Printf("OIDC bearer tokens enabled (issuer: %s)", cfg.OIDC.IssuerURL)
	}

	// Create router
	router := api.NewRouter(api.Options{
		Store:        store,
		SyncService:  syncService,
		Source:       source,
		Resolver:     resolver,
		Remote:       rec,
		BootstrapKey: cfg.Sync.BootstrapAPIKey,
		Verifier:     verifier,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Sync.Interval > 0 {
		log.Printf("Reconciling every %s", cfg.Sync.Interval)
		go syncService.Start(ctx, cfg.Sync.Interval)
	}

	log.Printf("Starting Cloudflare WAF Manager on http://%s", cfg.Server.Addr())
	log.Printf("Press Ctrl+C to stop")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
