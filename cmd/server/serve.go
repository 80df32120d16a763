package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/admin"
	"github.com/HanTheDev/devops-agent-gateway/internal/api"
	"github.com/HanTheDev/devops-agent-gateway/internal/auth"
	"github.com/HanTheDev/devops-agent-gateway/internal/cache"
	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/config"
	"github.com/HanTheDev/devops-agent-gateway/internal/conversation"
	"github.com/HanTheDev/devops-agent-gateway/internal/history"
	"github.com/HanTheDev/devops-agent-gateway/internal/llm"
	"github.com/HanTheDev/devops-agent-gateway/internal/ratelimit"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	router, cleanup, err := buildRouter(cfg, docs, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handlers.RecoveryHandler()(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.ServerPort),
			slog.String("store", cfg.StoreBackend),
			slog.String("rate_limiter", cfg.RateLimitBackend),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

// buildRouter wires the conversation core and HTTP routes on top of docs.
func buildRouter(cfg *config.Config, docs store.Store, logger *slog.Logger) (http.Handler, func(), error) {
	clk := clock.Real()
	cleanup := func() {}

	limiterCfg := ratelimit.Config{
		Limit:   cfg.RateLimitCount,
		Window:  cfg.RateLimitWindow,
		IdleTTL: cfg.RateLimitIdleTTL,
	}
	var limiter ratelimit.Limiter
	var clients admin.ClientCounter
	switch cfg.RateLimitBackend {
	case "redis":
		client, owned, err := redisClientFor(docs, cfg)
		if err != nil {
			return nil, nil, err
		}
		if owned {
			cleanup = func() { client.Close() }
		}
		limiter = ratelimit.NewRateLimiter(client, limiterCfg, clk)
	default:
		window := ratelimit.NewSlidingWindow(limiterCfg, clk)
		limiter, clients = window, window
	}

	responses := cache.NewResponseCache(docs, clk, logger)
	conversations := history.NewStore(docs, clk, logger, history.Options{
		MaxEntries: cfg.HistoryMaxEntries,
		TTL:        cfg.HistoryTTL,
	})

	systemPrompt, err := llm.LoadSystemPrompt(cfg.SystemPromptFile)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var model llm.Model
	if cfg.GoogleAPIKey != "" {
		model = llm.NewGemini(cfg.GoogleAPIKey, cfg.ModelBaseURL, cfg.LLMModel, cfg.ModelTimeout)
	} else {
		logger.Warn("GOOGLE_API_KEY not set; chat requests will fail until it is configured")
	}

	svc := conversation.NewService(limiter, responses, conversations, model, conversation.Options{
		SystemPrompt: systemPrompt,
		CacheTTL:     cfg.CacheTTL,
		ModelTimeout: cfg.ModelTimeout,
		StoreTimeout: cfg.StoreTimeout,
	}, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods("GET")

	api.NewHandler(svc, conversations, cfg.StoreTimeout, logger).RegisterRoutes(router)

	if cfg.AdminJWTSecret != "" {
		adminHandler := admin.NewAdminHandler(responses, clients, logger)
		adminHandler.RegisterRoutes(router, auth.NewMiddleware(cfg.AdminJWTSecret).Authenticate)
	} else {
		logger.Info("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return cors(router), cleanup, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
