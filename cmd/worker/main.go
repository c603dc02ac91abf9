// Package main is the entry point for the Temporal worker running the
// ORCID telescope workflow and activities.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/bmkramer/academic-observatory-workflows/internal/activities"
	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
	"github.com/bmkramer/academic-observatory-workflows/internal/registry"
	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
	temporal_internal "github.com/bmkramer/academic-observatory-workflows/internal/temporal"
	"github.com/bmkramer/academic-observatory-workflows/internal/warehouse"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg := config.Load()

	// Release store
	db, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Warehouse
	wh, err := warehouse.Connect(ctx, cfg.WarehouseURL, cfg.WarehouseSchema)
	if err != nil {
		log.Fatalf("failed to connect to warehouse: %v", err)
	}
	defer wh.Close()

	// Object storage
	store, err := storage.New(cfg.Storage())
	if err != nil {
		log.Fatalf("failed to create object store: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("object store unreachable: %v", err)
	}
	var source orcid.SourceStore
	if srcCfg, ok := cfg.Source(); ok {
		if source, err = storage.New(srcCfg); err != nil {
			log.Fatalf("failed to create ORCID source store: %v", err)
		}
	}

	// Task queues come from the registry so each scheduled workflow is served
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		log.Fatalf("failed to load workflows: %v", err)
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("failed to create Temporal client: %v", err)
	}
	defer c.Close()

	acts := activities.NewActivities(db, wh, store, source, activities.Settings{
		DataDir:         cfg.DataDir,
		RecordsBucket:   cfg.RecordsBucket,
		TransformBucket: cfg.TransformBucket,
		SourceBucket:    cfg.SourceBucket,
		SourcePrefix:    cfg.SourcePrefix,
		MaxWorkers:      cfg.MaxWorkers,
	})

	var workers []worker.Worker
	for _, queue := range reg.TaskQueues(cfg.TemporalTaskQueue) {
		// Sessions keep a run's activities on this host, next to its DataDir
		w := worker.New(c, queue, worker.Options{EnableSessionWorker: true})
		w.RegisterWorkflowWithOptions(temporal_internal.OrcidTelescopeWorkflowFunc, workflow.RegisterOptions{
			Name: temporal_internal.OrcidTelescopeWorkflow,
		})
		w.RegisterActivity(acts)
		if err := w.Start(); err != nil {
			log.Fatalf("failed to start worker on %s: %v", queue, err)
		}
		workers = append(workers, w)
		log.Printf("Temporal worker started on task queue: %s", queue)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	// Handle shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)
}
