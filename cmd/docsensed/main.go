package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docsense/docsense/internal/analyzer"
	analyzerloopback "github.com/docsense/docsense/internal/analyzer/loopback"
	analyzerremote "github.com/docsense/docsense/internal/analyzer/remote"
	"github.com/docsense/docsense/internal/billing"
	"github.com/docsense/docsense/internal/config"
	"github.com/docsense/docsense/internal/httpserver"
	"github.com/docsense/docsense/internal/ledger"
	ledgerpostgres "github.com/docsense/docsense/internal/ledger/postgres"
	ledgersqlite "github.com/docsense/docsense/internal/ledger/sqlite"
	"github.com/docsense/docsense/internal/logging"
	"github.com/docsense/docsense/internal/metrics"
	"github.com/docsense/docsense/internal/toolcatalog"
	"github.com/docsense/docsense/internal/userstore"
	userpostgres "github.com/docsense/docsense/internal/userstore/postgres"
	usersqlite "github.com/docsense/docsense/internal/userstore/sqlite"
	"github.com/docsense/docsense/internal/version"
)

func main() {
	cfg, err := config.LoadServerConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	logTarget := strings.TrimSpace(cfg.LogFileDaemon)
	if logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[docsensed] ")
		defer rot.Close()
	}

	log.Printf("docsense %s starting env=%s", version.FullInfo(), cfg.Environment)

	ctx := context.Background()

	users, err := openUserStore(cfg)
	if err != nil {
		log.Fatalf("open identity store: %v", err)
	}
	defer users.Close()

	store, err := openLedger(cfg)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	admin, err := users.EnsureAdmin(ctx, cfg.AdminEmail)
	if err != nil {
		log.Fatalf("ensure org admin: %v", err)
	}
	if _, err := store.EnsureUserAccount(ctx, admin.ID, int64(cfg.DefaultGrant)); err != nil {
		log.Fatalf("ensure org admin account: %v", err)
	}
	log.Printf("org admin ready email=%s", admin.Email)

	catalog := toolcatalog.Defaults()
	if cfg.ToolCatalogFile != "" {
		catalog, err = toolcatalog.Load(cfg.ToolCatalogFile)
		if err != nil {
			log.Fatalf("load tool catalog %s: %v", cfg.ToolCatalogFile, err)
		}
	}
	log.Printf("tool catalog loaded tools=%d", len(catalog.List()))

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	engine := buildEngine(cfg)

	meter := billing.NewMeter(store, catalog, collector, billing.MeterConfig{
		DefaultGrant: int64(cfg.DefaultGrant),
		MaxRetries:   cfg.ChargeMaxRetries,
		RetryBackoff: cfg.ChargeRetryBackoff,
	})
	transfers := billing.NewTransferCoordinator(users, store, collector, int64(cfg.DefaultGrant))

	server := httpserver.New(httpserver.Config{
		Users:        users,
		Ledger:       store,
		Meter:        meter,
		Transfers:    transfers,
		Engine:       engine,
		Catalog:      catalog,
		Collector:    collector,
		AdminEmail:   cfg.AdminEmail,
		DefaultGrant: int64(cfg.DefaultGrant),
	})

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("docsense server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openUserStore(cfg config.ServerConfig) (userstore.Store, error) {
	switch cfg.IdentityDriver {
	case "postgres":
		return userpostgres.New(cfg.IdentityDSN)
	default:
		return usersqlite.New(cfg.IdentityPath)
	}
}

func openLedger(cfg config.ServerConfig) (ledger.Store, error) {
	switch cfg.LedgerDriver {
	case "postgres":
		return ledgerpostgres.New(cfg.LedgerDSN, cfg.LedgerMaxOpenConns, cfg.LedgerMaxIdleConns, cfg.LedgerConnMaxLifetime, cfg.LedgerConnMaxIdleTime)
	default:
		return ledgersqlite.New(cfg.LedgerPath)
	}
}

func buildEngine(cfg config.ServerConfig) analyzer.Engine {
	if strings.TrimSpace(cfg.AnalyzerBaseURL) != "" {
		engine, err := analyzerremote.New(analyzerremote.Config{
			BaseURL:        cfg.AnalyzerBaseURL,
			APIKey:         cfg.AnalyzerAPIKey,
			RequestTimeout: 60 * time.Second,
		})
		if err == nil {
			log.Printf("analyzer engine: remote base_url=%s", cfg.AnalyzerBaseURL)
			return engine
		}
		log.Printf("remote analyzer init failed (%v); falling back to loopback", err)
	}
	log.Printf("analyzer engine: loopback")
	return analyzerloopback.New()
}
