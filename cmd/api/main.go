package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formdeck/api/internal/app"
	"formdeck/api/internal/config"
	"formdeck/api/internal/email"
	"formdeck/api/internal/export"
	"formdeck/api/internal/gitrepo"
	"formdeck/api/internal/importer"
	"formdeck/api/internal/search"
	"formdeck/api/internal/session"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.FormsRepoDir, 0o755); err != nil {
		log.Fatalf("failed to create forms repo dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Dependencies{
		Revisions: gitrepo.New(cfg.FormsRepoDir),
		Exports:   export.NewService(cfg.ChromeURL),
		Importer:  importer.NewClient(cfg.ImportURL, cfg.ImportAPIKey, cfg.ImportTimeout),
		Mail: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go deps.Search.ReindexAllFromPG(ctx)
	}

	// Redis holds refresh sessions and submit counters when configured.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for sessions and submit limits")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Limiter = session.NewSubmitLimiter(redisStore.Client(), cfg.SubmitLimit, cfg.SubmitLimitWindow)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage; submit limits disabled")
	}

	files, err := storage.New(storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		MaxBytes:  cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("object storage failed: %v", err)
	}
	if files != nil {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := files.EnsureBucket(bucketCtx); err != nil {
			log.Printf("WARNING: bucket check failed, uploads may fail: %v", err)
		}
		cancel()
		deps.Files = files
	} else {
		log.Printf("File uploads disabled: no object storage endpoint")
	}

	service := app.New(cfg, dataStore, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Formdeck API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
