// Package conversation answers chat messages: it rate limits the client,
// serves repeated questions from the response cache, feeds recent history
// to the model as context and records every exchange.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/llm"
	"github.com/HanTheDev/devops-agent-gateway/internal/ratelimit"
)

// ResponseCache is the subset of cache.ResponseCache the service uses.
type ResponseCache interface {
	Get(ctx context.Context, question string) (string, bool, error)
	Put(ctx context.Context, question, text string, ttl time.Duration) error
}

// History is the subset of history.Store the service uses.
type History interface {
	Append(ctx context.Context, userID, userMessage, botResponse string) error
	ContextFor(ctx context.Context, userID string) (string, error)
}

type Options struct {
	SystemPrompt string
	CacheTTL     time.Duration
	ModelTimeout time.Duration
	StoreTimeout time.Duration
}

// Request is one inbound chat message. UserID is optional; without it no
// history is read or written.
type Request struct {
	ClientID string
	UserID   string
	Message  string
}

type Reply struct {
	Text   string
	Cached bool
}

type Service struct {
	limiter ratelimit.Limiter
	cache   ResponseCache
	history History
	model   llm.Model
	opts    Options
	logger  *slog.Logger
}

// NewService wires the collaborators. A nil model makes every Chat call
// fail with ErrConfiguration.
func NewService(limiter ratelimit.Limiter, cache ResponseCache, history History, model llm.Model, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 60 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Service{
		limiter: limiter,
		cache:   cache,
		history: history,
		model:   model,
		opts:    opts,
		logger:  logger.With(slog.String("component", "conversation")),
	}
}

// Chat runs one request through rate check, cache lookup, context build,
// model call and persistence. Cache and history failures are logged and
// absorbed; only throttling, configuration and model errors are returned.
func (s *Service) Chat(ctx context.Context, req Request) (Reply, error) {
	if s.model == nil {
		return Reply{}, ErrConfiguration
	}
	if strings.TrimSpace(req.Message) == "" {
		return Reply{}, ErrEmptyMessage
	}

	logger := s.logger.With(slog.String("client_id", req.ClientID))

	if !s.allow(ctx, logger, req.ClientID) {
		logger.InfoContext(ctx, "rate limit exceeded")
		return Reply{}, ErrThrottled
	}

	if text, ok := s.lookup(ctx, logger, req.Message); ok {
		logger.DebugContext(ctx, "cache hit")
		s.record(ctx, logger, req, text)
		return Reply{Text: text, Cached: true}, nil
	}

	prompt := req.Message
	if history := s.contextFor(ctx, logger, req.UserID); history != "" {
		prompt = fmt.Sprintf("Previous conversation:\n%s\n\nCurrent question: %s", history, req.Message)
	}

	modelCtx, cancel := context.WithTimeout(ctx, s.opts.ModelTimeout)
	text, err := s.model.Generate(modelCtx, s.opts.SystemPrompt, prompt)
	cancel()
	if err != nil {
		logger.ErrorContext(ctx, "model call failed", slog.Any("error", err))
		return Reply{}, fmt.Errorf("%w: %w", ErrModel, err)
	}

	s.store(ctx, logger, req.Message, text)
	s.record(ctx, logger, req, text)

	return Reply{Text: text}, nil
}

func (s *Service) allow(ctx context.Context, logger *slog.Logger, clientID string) bool {
	allowed, err := s.limiter.Allow(ctx, clientID)
	if err != nil {
		// Fail open: a limiter backend outage must not take chat down.
		logger.WarnContext(ctx, "rate limit check failed, allowing request", slog.Any("error", err))
		return true
	}
	return allowed
}

func (s *Service) lookup(ctx context.Context, logger *slog.Logger, message string) (string, bool) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	text, ok, err := s.cache.Get(storeCtx, message)
	if err != nil {
		logger.WarnContext(ctx, "cache read failed, continuing uncached", slog.Any("error", err))
		return "", false
	}
	return text, ok
}

func (s *Service) contextFor(ctx context.Context, logger *slog.Logger, userID string) string {
	if userID == "" {
		return ""
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	history, err := s.history.ContextFor(storeCtx, userID)
	if err != nil {
		logger.WarnContext(ctx, "history read failed, continuing without context",
			slog.String("user_id", userID), slog.Any("error", err))
		return ""
	}
	return history
}

func (s *Service) store(ctx context.Context, logger *slog.Logger, message, text string) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.cache.Put(storeCtx, message, text, s.opts.CacheTTL); err != nil {
		logger.WarnContext(ctx, "cache write failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, req Request, text string) {
	if req.UserID == "" {
		return
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.history.Append(storeCtx, req.UserID, req.Message, text); err != nil {
		logger.WarnContext(ctx, "history write failed",
			slog.String("user_id", req.UserID), slog.Any("error", err))
	}
}
