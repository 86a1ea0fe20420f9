// Package main runs the ingestd Temporal worker.
package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/spolu/ingestd/internal/config"
	"github.com/spolu/ingestd/internal/index"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
	"github.com/spolu/ingestd/internal/temporal"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting ingestd worker: address=%s namespace=%s queue=%s",
		cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TemporalTaskQueue)

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	// Sync state store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Provider adapters register here as they are linked in.
	providers := provider.NewRegistry()

	// The downstream index is owned by another service; the in-process
	// one serves local runs.
	idx := index.NewMemoryIndex()

	// Create worker
	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})

	// Register workflows
	w.RegisterWorkflow(temporal.FullSyncWorkflow)
	w.RegisterWorkflow(temporal.IncrementalSyncWorkflow)
	w.RegisterWorkflow(temporal.CrawlWorkflow)
	w.RegisterWorkflow(temporal.SetPermissionWorkflow)

	// Register activities
	acts := temporal.NewActivities(st, idx, providers, cfg.PageSize)
	w.RegisterActivity(acts)

	log.Printf("Registered 4 workflows, providers: %v", providers.List())

	// Run worker
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
