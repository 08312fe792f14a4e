// matchbot - compatibility quiz chat server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/matchbot/matchbot/internal/api"
	"github.com/matchbot/matchbot/internal/chat"
	"github.com/matchbot/matchbot/internal/config"
	"github.com/matchbot/matchbot/internal/identity"
	"github.com/matchbot/matchbot/internal/middleware"
	"github.com/matchbot/matchbot/internal/quiz"
	"github.com/matchbot/matchbot/internal/shared"
	"github.com/matchbot/matchbot/internal/store"
	"github.com/matchbot/matchbot/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(ctx context.Context, cfg *config.Config) error {
	repo, err := store.Open(ctx, store.Options{
		Driver: store.Driver(cfg.Database.Driver),
		DSN:    cfg.Database.DSN,
		Path:   cfg.Database.Path,
		Retry: shared.RetryPolicy{
			MaxAttempts: cfg.Database.MaxRetries,
			BaseDelay:   cfg.Database.RetryBaseDelay,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	users, err := repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	answered, err := repo.CountUsersWithAnswers(ctx)
	if err != nil {
		return err
	}
	slog.Info("Database connected", "users", users, "users_with_answers", answered)

	bank := quiz.DefaultBank()
	if cfg.QuestionsPath != "" {
		if bank, err = quiz.LoadBank(cfg.QuestionsPath); err != nil {
			return err
		}
	}
	slog.Info("Question bank loaded", "questions", bank.Count(), "path", cfg.QuestionsPath)

	hub := chat.NewHub()
	router := chat.NewRouter(repo, bank, hub, chat.Options{
		MatchLimit:      cfg.MatchLimit,
		ValentineLimit:  cfg.Valentine.RateLimit,
		ValentineWindow: cfg.Valentine.RateWindow,
	})

	apiHandler := api.NewHandler(repo, router)
	healthHandler := api.NewHealthHandler(repo, cfg.HealthTimeout)
	wsHandler := chat.NewWebSocketHandler(router, hub, cfg.FrontendURL, cfg.IsDevelopment())

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve the embedded chat page.
	r.Handle("/*", web.SPAHandler())

	// Websocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return router.RunSweeper(gctx, chat.SweepOptions{
			Interval:      cfg.Session.SweepInterval,
			IdleTTL:       cfg.Session.IdleTTL,
			MatchCacheTTL: cfg.Session.MatchCacheTTL,
		})
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
