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

	"github.com/redis/go-redis/v9"

	"wombat/api/internal/app"
	"wombat/api/internal/audit"
	"wombat/api/internal/config"
	"wombat/api/internal/distribution"
	"wombat/api/internal/importer"
	"wombat/api/internal/search"
	"wombat/api/internal/store"
	"wombat/api/internal/triggers"
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

	// Audit trail: local JSONL file, mirrored to MinIO when configured.
	var mirror *audit.Mirror
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mirror, err = audit.NewMirror(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: audit mirror disabled: %v", err)
			mirror = nil
		} else if err := mirror.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: audit mirror disabled: %v", err)
			mirror = nil
		}
	}
	auditLog, err := audit.NewLog(cfg.AuditLogPath, mirror)
	if err != nil {
		log.Fatalf("audit log init failed: %v", err)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: invalid redis URL, push tiers disabled: %v", err)
		} else {
			redisClient = redis.NewClient(opts)
			defer redisClient.Close()
		}
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	evaluator := triggers.NewEvaluator(
		agentEndpoint(cfg.FollowUpAgentURL, cfg.AgentTimeout),
		agentEndpoint(cfg.AuditAgentURL, cfg.AgentTimeout),
		agentEndpoint(cfg.AnchoringAgentURL, cfg.AgentTimeout),
	)

	var publisher importer.EventPublisher
	transports := make([]distribution.Transport, 0, 3)
	if redisClient != nil {
		publisher = distribution.NewPublisher(redisClient, distribution.DefaultChannel, distribution.DefaultStream)
		transports = append(transports,
			distribution.NewPubSubTransport(redisClient, distribution.DefaultChannel),
			distribution.NewStreamTransport(redisClient, distribution.DefaultStream),
		)
	}
	transports = append(transports, distribution.NewPollingTransport(dataStore, cfg.PollInterval))

	distService := distribution.NewService(transports, distribution.NewCache(0), distribution.Options{
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
		Retries:       cfg.ReconnectRetries,
	})
	distService.OnEvent(func(event distribution.Event) {
		if event.Type == distribution.EventDeleted {
			searchService.DeleteEntry(event.Entry.ID)
			return
		}
		record := search.EntryRecord{
			ID:        event.Entry.ID,
			StepID:    event.Entry.StepID,
			EntryType: event.Entry.EntryType,
			Summary:   event.Entry.Summary,
			Actor:     event.Entry.Actor,
		}
		if event.Entry.MemoryAnchorID != nil {
			record.MemoryAnchorID = *event.Entry.MemoryAnchorID
		}
		searchService.IndexEntry(record)
	})
	distService.Start()
	defer distService.Disconnect()

	imp := importer.New(importer.PostgresCoordinator{Store: dataStore}, evaluator, auditLog, publisher)
	service := app.NewService(dataStore, imp, auditLog, distService, searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Wombat import API listening on %s", cfg.Addr)
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

func agentEndpoint(url string, timeout time.Duration) triggers.AutomationEndpoint {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return triggers.NewHTTPEndpoint(url, timeout)
}
