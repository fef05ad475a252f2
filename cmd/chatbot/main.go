// Chatbox chatbot API server.
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
	"github.com/ashureev/chatbox/internal/bot"
	"github.com/ashureev/chatbox/internal/chatbot"
	"github.com/ashureev/chatbox/internal/config"
	"github.com/ashureev/chatbox/internal/docstore"
	"github.com/ashureev/chatbox/internal/history"
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

	slog.Info("Starting chatbot API", "port", cfg.ChatbotPort, "backend", cfg.Docstore.Backend, "dev", cfg.IsDevelopment())

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

	if cfg.Chatbot.APISecret == "" {
		slog.Warn("CHATBOT_API_SECRET not set, API is unauthenticated")
	}

	limiter := bot.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Close()

	journal := history.NewJournal(store, cfg.Docstore.MessagesCollection)
	handler := bot.NewHandler(bot.NewService(journal, bot.Rules{}, logger), limiter, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins(), chatbot.SecretHeader))

	r.Get("/api/v1/health", api.Health(store))

	r.Group(func(r chi.Router) {
		r.Use(middleware.SharedSecret(chatbot.SecretHeader, cfg.Chatbot.APISecret))
		handler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ChatbotPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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
