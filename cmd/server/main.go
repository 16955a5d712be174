package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/httpserver"
	"chatrelay/internal/presence"
	"chatrelay/internal/service"
	"chatrelay/internal/store/postgres"
	"chatrelay/internal/store/sqlite"
	"chatrelay/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize the store backend
	var (
		db       *sql.DB
		users    domain.UserRepository
		messages domain.MessageRepository
	)
	switch cfg.DBBackend {
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		users = postgres.NewUserRepo(db)
		messages = postgres.NewMessageRepo(db)
	default:
		db, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		users = sqlite.NewUserRepo(db)
		messages = sqlite.NewMessageRepo(db)
	}
	defer db.Close()

	// Realtime components
	registry := presence.NewRegistry()
	hub := ws.NewHub()
	chat := service.NewChatService(users, messages, registry, cfg.HistoryLimit)

	// Build HTTP router
	router := httpserver.NewRouter(cfg, hub, registry, chat)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Starting %s on %s (db=%s)\n", cfg.AppName, cfg.HTTPAddr(), cfg.DBBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	hub.Shutdown()
}
