package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hivemindhq/hivemind-backend/internal/app"
	"github.com/hivemindhq/hivemind-backend/internal/bus"
	pc "github.com/hivemindhq/hivemind-backend/internal/clients/pinecone"
	"github.com/hivemindhq/hivemind-backend/internal/data/db"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/services"
	"github.com/hivemindhq/hivemind-backend/internal/utils"
	vectorpc "github.com/hivemindhq/hivemind-backend/internal/vector/pinecone"
)

// Reconciliation sweep: removes vector index entries with no backing
// document and re-queues documents whose vector went missing. Run it from
// cron or by hand after an incident.
func main() {
	tenantID := flag.String("tenant", "", "tenant to reconcile (required)")
	flag.Parse()
	if *tenantID == "" {
		fmt.Println("usage: reconcile -tenant <tenant-id>")
		os.Exit(2)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "production"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := app.FromEnv(log)

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	rawEventRepo := ingestrepo.NewRawEventRepo(thePG, log)
	documentRepo := docsrepo.NewDocumentRepo(thePG, log)
	embeddingRepo := docsrepo.NewEmbeddingRepo(thePG, log)
	deadLetterRepo := pipelinerepo.NewDeadLetterRepo(thePG, log)

	eventBus, err := bus.NewRedisBus(log, bus.RedisConfig{
		Addr:       cfg.RedisAddr,
		Partitions: cfg.Partitions,
	})
	if err != nil {
		log.Error("Could not init RedisBus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	pineconeClient, err := pc.New(log, pc.Config{
		APIKey: utils.GetEnv("PINECONE_API_KEY", "", log),
	})
	if err != nil {
		log.Error("Could not init PineconeClient", "error", err)
		os.Exit(1)
	}
	store, err := vectorpc.NewStore(log, pineconeClient)
	if err != nil {
		log.Error("Could not init pinecone vector store", "error", err)
		os.Exit(1)
	}

	replayService, err := services.NewReplayService(log, rawEventRepo, documentRepo, embeddingRepo, deadLetterRepo, eventBus, store)
	if err != nil {
		log.Error("Could not init ReplayService", "error", err)
		os.Exit(1)
	}

	report, err := replayService.Reconcile(context.Background(), *tenantID)
	if err != nil {
		log.Error("Reconciliation failed", "tenant_id", *tenantID, "error", err)
		os.Exit(1)
	}
	log.Info("Reconciliation finished",
		"tenant_id", *tenantID,
		"index_entries", report.IndexEntries,
		"orphans_removed", report.OrphansRemoved,
		"reindexed", report.Reindexed,
	)
}
