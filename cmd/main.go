package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivemindhq/hivemind-backend/internal/app"
	"github.com/hivemindhq/hivemind-backend/internal/bus"
	"github.com/hivemindhq/hivemind-backend/internal/clients/openai"
	pc "github.com/hivemindhq/hivemind-backend/internal/clients/pinecone"
	"github.com/hivemindhq/hivemind-backend/internal/data/db"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	memoryrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/memory"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	httpserver "github.com/hivemindhq/hivemind-backend/internal/http"
	httpH "github.com/hivemindhq/hivemind-backend/internal/http/handlers"
	httpMW "github.com/hivemindhq/hivemind-backend/internal/http/middleware"
	"github.com/hivemindhq/hivemind-backend/internal/pipeline"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/platform/neo4jdb"
	"github.com/hivemindhq/hivemind-backend/internal/services"
	"github.com/hivemindhq/hivemind-backend/internal/utils"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
	vectormem "github.com/hivemindhq/hivemind-backend/internal/vector/memory"
	vectorpc "github.com/hivemindhq/hivemind-backend/internal/vector/pinecone"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := app.FromEnv(log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	deliveryRepo := ingestrepo.NewDeliveryRepo(thePG, log)
	rawEventRepo := ingestrepo.NewRawEventRepo(thePG, log)
	documentRepo := docsrepo.NewDocumentRepo(thePG, log)
	embeddingRepo := docsrepo.NewEmbeddingRepo(thePG, log)
	digestRepo := memoryrepo.NewDigestRepo(thePG, log)
	checkpointRepo := pipelinerepo.NewCheckpointRepo(thePG, log)
	deadLetterRepo := pipelinerepo.NewDeadLetterRepo(thePG, log)

	// Event bus
	eventBus, err := bus.NewRedisBus(log, bus.RedisConfig{
		Addr:       cfg.RedisAddr,
		Partitions: cfg.Partitions,
	})
	if err != nil {
		log.Error("Could not init RedisBus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Clients
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}

	var store vector.Store
	if cfg.VectorProvider == "memory" {
		store = vectormem.NewStore()
	} else {
		pineconeClient, err := pc.New(log, pc.Config{
			APIKey: utils.GetEnv("PINECONE_API_KEY", "", log),
		})
		if err != nil {
			log.Error("Could not init PineconeClient", "error", err)
			os.Exit(1)
		}
		store, err = vectorpc.NewStore(log, pineconeClient)
		if err != nil {
			log.Error("Could not init pinecone vector store", "error", err)
			os.Exit(1)
		}
	}

	// Optional entity graph
	graphClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j init failed, continuing without entity graph", "error", err)
		graphClient = nil
	}
	if graphClient != nil {
		defer graphClient.Close(context.Background())
	}

	// Services
	log.Info("Setting up services...")
	lexicon, err := services.LoadSignalLexicon()
	if err != nil {
		log.Error("Could not load signal lexicon", "error", err)
		os.Exit(1)
	}

	ingestService, err := services.NewIngestService(log, deliveryRepo, rawEventRepo, eventBus)
	if err != nil {
		log.Error("Could not init IngestService", "error", err)
		os.Exit(1)
	}
	normalizerService, err := services.NewNormalizerService(log, rawEventRepo, documentRepo, checkpointRepo, eventBus)
	if err != nil {
		log.Error("Could not init NormalizerService", "error", err)
		os.Exit(1)
	}
	enricherService, err := services.NewEnricherService(log, documentRepo, checkpointRepo, eventBus, lexicon, nil, graphClient)
	if err != nil {
		log.Error("Could not init EnricherService", "error", err)
		os.Exit(1)
	}
	embedderService, err := services.NewEmbedderService(log, documentRepo, embeddingRepo, checkpointRepo, eventBus, openaiClient, store)
	if err != nil {
		log.Error("Could not init EmbedderService", "error", err)
		os.Exit(1)
	}
	classifier, err := services.NewLLMClassifier(log, openaiClient)
	if err != nil {
		log.Error("Could not init LLMClassifier", "error", err)
		os.Exit(1)
	}
	digestService, err := services.NewDigestService(log, documentRepo, digestRepo, checkpointRepo, store, classifier, services.DigestThresholds{
		Duplicate:  cfg.DuplicateThreshold,
		New:        cfg.NewThreshold,
		TopK:       cfg.TopK,
		WindowDays: cfg.WindowDays,
	})
	if err != nil {
		log.Error("Could not init DigestService", "error", err)
		os.Exit(1)
	}
	searchService, err := services.NewSearchService(log, documentRepo, openaiClient, store)
	if err != nil {
		log.Error("Could not init SearchService", "error", err)
		os.Exit(1)
	}
	replayService, err := services.NewReplayService(log, rawEventRepo, documentRepo, embeddingRepo, deadLetterRepo, eventBus, store)
	if err != nil {
		log.Error("Could not init ReplayService", "error", err)
		os.Exit(1)
	}

	// Pipeline workers
	worker, err := pipeline.NewWorker(log, deadLetterRepo, pipeline.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		MinBackoff:  cfg.MinBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	})
	if err != nil {
		log.Error("Could not init pipeline worker", "error", err)
		os.Exit(1)
	}
	subscriptions := []struct {
		channel string
		group   string
		stage   string
		handler bus.Handler
	}{
		{bus.ChannelRaw, "normalizer", types.StageNormalize, normalizerService.Handle},
		{bus.ChannelEnrich, "enricher", types.StageEnrich, enricherService.Handle},
		{bus.ChannelEmbed, "embedder", types.StageEmbed, embedderService.Handle},
		{bus.ChannelIndex, "classifier", types.StageClassify, digestService.Handle},
	}
	for _, sub := range subscriptions {
		if err := eventBus.Subscribe(sub.channel, sub.group, worker.Wrap(sub.stage, sub.handler)); err != nil {
			log.Error("Could not subscribe", "channel", sub.channel, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		if err := eventBus.Start(ctx); err != nil {
			log.Error("Bus stopped", "error", err)
			cancel()
		}
	}()

	// HTTP
	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:            log,
		AuthMiddleware: httpMW.NewAuthMiddleware(log),

		IngestHandler:   httpH.NewIngestHandler(log, ingestService),
		SearchHandler:   httpH.NewSearchHandler(log, searchService),
		DocumentHandler: httpH.NewDocumentHandler(log, documentRepo, replayService),
		DigestHandler:   httpH.NewDigestHandler(log, digestRepo),
		ReplayHandler:   httpH.NewReplayHandler(log, replayService, checkpointRepo, deadLetterRepo),

		HealthHandler: httpH.NewHealthHandler(),
	})

	address := ":" + utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "address", address)
	if err := server.Run(address); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
