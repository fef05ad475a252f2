// Chatbox widget gateway: serves browser tabs over websockets.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatbox/internal/api"
	"github.com/ashureev/chatbox/internal/auth"
	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/config"
	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/gateway"
	"github.com/ashureev/chatbox/internal/history"
	"github.com/ashureev/chatbox/internal/identity"
	"github.com/ashureev/chatbox/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting widget gateway", "port", cfg.WidgetPort, "chatbot", cfg.Chatbot.BaseURL, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, docstore.Options{
		Backend:       cfg.Docstore.Backend,
		SQLitePath:    cfg.Docstore.DBPath,
		RedisAddr:     cfg.Docstore.RedisAddr,
		RedisPassword: cfg.Docstore.RedisPassword,
		RedisDB:       cfg.Docstore.RedisDB,
		PostgresURL:   cfg.Docstore.DatabaseURL,
	})
	if err != nil {
		slog.Error("Failed to initialize document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close document store", "error", closeErr)
		}
	}()

	if err := store.Ping(ctx); err != nil {
		slog.Error("Document store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Document store connected")

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		slog.Error("Failed to initialize session tokens", "error", err)
		os.Exit(1)
	}
	accounts := auth.NewDirectory(store, cfg.Docstore.UsersCollection, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)
	loader := history.NewLoader(store, cfg.Docstore.MessagesCollection, logger)
	backend := chatbot.NewClient(cfg.Chatbot.BaseURL, cfg.Chatbot.APISecret)

	origin := ""
	if cfg.FrontendURL != "" {
		origin = cfg.AllowedOrigins()[0]
	}
	wsHandler := gateway.NewHandler(accounts, loader, backend, gateway.NewRegistry(), origin, cfg.IsDevelopment(), logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins(), identity.TabHeaderName))
	r.Use(identity.Middleware())

	r.Get("/api/v1/health", api.Health(store))

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Websocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.WidgetPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
