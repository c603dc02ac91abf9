// Package main is the entry point for the REST API service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmkramer/academic-observatory-workflows/internal/api"
	"github.com/bmkramer/academic-observatory-workflows/internal/auth"
	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/search"
	"github.com/bmkramer/academic-observatory-workflows/internal/warehouse"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg := config.Load()

	// Search index client
	searchClient, err := search.NewClient(search.Config{
		BaseURL:   cfg.SearchURL,
		Username:  cfg.SearchUsername,
		Password:  cfg.SearchPassword,
		APIKey:    cfg.SearchAPIKey,
		RateLimit: cfg.SearchRateLimit,
	})
	if err != nil {
		log.Fatalf("failed to create search client: %v", err)
	}

	// Release store and warehouse are optional for a search-only deployment
	var (
		releases api.ReleaseLister
		records  api.RecordStore
	)
	if cfg.DatabaseURL != "" {
		db, err := database.NewClient(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		releases = db
	}
	if cfg.WarehouseURL != "" {
		wh, err := warehouse.Connect(ctx, cfg.WarehouseURL, cfg.WarehouseSchema)
		if err != nil {
			log.Fatalf("failed to connect to warehouse: %v", err)
		}
		defer wh.Close()
		records = wh
	}

	srv := api.NewServer(searchClient, records, releases, "")
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(auth.Middleware(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("shutting down...")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
	}()

	log.Printf("Academic Observatory API listening on :%s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
