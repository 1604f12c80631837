package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/gxplab/reportengine/internal/api"
	"github.com/gxplab/reportengine/internal/config"
	"github.com/gxplab/reportengine/internal/db"
	"github.com/gxplab/reportengine/internal/export"
	"github.com/gxplab/reportengine/internal/ingestion"
	"github.com/gxplab/reportengine/internal/middleware"
	"github.com/gxplab/reportengine/internal/report"
	"github.com/gxplab/reportengine/internal/repository"
	"github.com/gxplab/reportengine/internal/store"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create store client and engine
	client := store.NewPostgresClient(conn.Pool)
	names := report.NewEntityNameCache(client)
	engine := report.NewEngine(client, names,
		report.WithRowCap(cfg.Engine.RowCap),
		report.WithSampleRows(cfg.Engine.SampleRows),
	)

	// Create repositories
	savedReportRepo := repository.NewSavedReportRepository(conn.Pool)
	dashboardRepo := repository.NewDashboardRepository(conn.Pool)

	// Create export service
	exportService := export.NewService(engine,
		export.WithExportDirectory(cfg.Export.Dir),
		export.WithMaxRows(cfg.Export.MaxRows),
		export.WithMinInterval(cfg.Export.MinInterval),
		export.WithDownloadTokenTTL(cfg.Export.TokenTTL),
	)

	// Create ingestion service for the demo observation tables
	ingestionService := ingestion.NewService(conn.Pool)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/reports", api.NewReportsHandler(engine, savedReportRepo))
	mux.Handle("/reports/", api.NewReportsHandler(engine, savedReportRepo))
	mux.Handle("/dashboards", api.NewDashboardsHandler(dashboardRepo))
	mux.Handle("/dashboards/", api.NewDashboardsHandler(dashboardRepo))
	mux.Handle("/exports", export.NewHTTPHandler(exportService))
	mux.Handle("/exports/", export.NewHTTPHandler(exportService))
	mux.Handle("/ingest", ingestion.NewHTTPHandler(ingestionService))
	mux.Handle("/ingest/", ingestion.NewHTTPHandler(ingestionService))
	mux.Handle("/cache/reset", api.NewCacheHandler(names))

	handler := corsHandler.Handler(middleware.LoggingMiddleware(mux))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting report engine server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
