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

	"billradar/api/internal/app"
	"billradar/api/internal/authpw"
	"billradar/api/internal/blob"
	"billradar/api/internal/config"
	"billradar/api/internal/email"
	"billradar/api/internal/enrich"
	"billradar/api/internal/export"
	"billradar/api/internal/ingest"
	"billradar/api/internal/llm"
	"billradar/api/internal/oda"
	"billradar/api/internal/pdftext"
	"billradar/api/internal/search"
	"billradar/api/internal/session"
	"billradar/api/internal/store"
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

	dataStore := store.NewPostgresStore(db)

	pgSearch := search.NewPgSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch)

	var sessions interface {
		SaveRefreshSessionUser(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = app.NewPGSessionStore(dataStore)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	authService := authpw.NewService(dataStore, cfg.AdminEmails)

	llmClient, err := llm.NewClient(ctx, llm.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.LLMModel,
		JSONMode: cfg.LLMJSONMode,
		TopP:     cfg.LLMTopP,
	})
	if err != nil {
		log.Fatalf("gemini client failed: %v", err)
	}

	enricher := enrich.NewEnricher(llmClient)
	policyCfg := enrich.PolicyConfig{
		Enabled:       cfg.PolicyAnalysis,
		Temperature:   cfg.PolicyTemperature,
		PromptVersion: cfg.PolicyPromptVersion,
	}
	// A typed nil *llm.Client must not reach the analyzer's client interface.
	policy := enrich.NewPolicyAnalyzer(nil, policyCfg)
	if llmClient != nil {
		policy = enrich.NewPolicyAnalyzer(llmClient, policyCfg)
	}

	odaClient := oda.NewClient(oda.Config{
		BaseURL:    cfg.ODABaseURL,
		DocDelay:   cfg.ODADocDelay,
		DocRetries: cfg.ODADocRetries,
	})

	ingestService := ingest.NewService(dataStore, odaClient, enricher, policy, ingest.Config{
		FetchPDFURLs:  cfg.ODAFetchPDFURLs,
		OldBillCutoff: cfg.ODAOldBillCutoff,
		PDFMaxPages:   cfg.PDFMaxPages,
	})
	if cfg.EnrichFetchPDFs {
		ingestService.SetPDFFetcher(pdftext.NewFetcher(cfg.PDFFetchUserAgent, cfg.PDFFetchReferer, 30*time.Second))
	}
	ingestService.SetIndexer(searchService)

	service := app.New(cfg, dataStore, sessions, authService, mailer)
	service.SetSearch(searchService)
	service.SetIngest(ingestService)
	service.SetPolicyAnalyzer(policy)
	service.SetExporter(export.NewService())

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobStore, err := blob.NewStore(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: minio unavailable, uploads will not be archived: %v", err)
		} else {
			service.SetBlobStore(blobStore)
		}
	}

	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Billradar API listening on %s", cfg.Addr)
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
