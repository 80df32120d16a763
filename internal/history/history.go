// Package history keeps each user's bounded, expiring conversation log. The
// log feeds both the history view and the context sent back to the model.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
)

// Collection is the store collection holding history records.
const Collection = "chat-history"

const (
	DefaultMaxEntries = 50
	DefaultTTL        = 7 * 24 * time.Hour

	// contextEntries and contextResponseChars bound the excerpt that
	// ContextFor feeds back into the model prompt.
	contextEntries       = 5
	contextResponseChars = 200
)

// Options tunes a Store. Zero values take the defaults.
type Options struct {
	MaxEntries int
	TTL        time.Duration
}

type Store struct {
	store      store.Store
	clock      clock.Clock
	logger     *slog.Logger
	maxEntries int
	ttl        time.Duration
}

func NewStore(s store.Store, clk clock.Clock, logger *slog.Logger, opts Options) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{
		store:      s,
		clock:      clk,
		logger:     logger.With(slog.String("component", "history")),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
	}
}

// Append records one exchange for userID. The append, trim and TTL refresh
// happen in a single atomic store update, so concurrent appends for the
// same user are not lost.
func (s *Store) Append(ctx context.Context, userID, userMessage, botResponse string) error {
	err := s.store.Update(ctx, Collection, userID, func(current []byte, exists bool) ([]byte, error) {
		now := s.clock.Now()

		var record models.HistoryRecord
		if exists {
			if err := json.Unmarshal(current, &record); err != nil {
				// A corrupt record is replaced rather than blocking the user forever.
				s.logger.WarnContext(ctx, "discarding undecodable history record",
					slog.String("user_id", userID), slog.Any("error", err))
				exists = false
			} else if record.Expired(now) {
				exists = false
			}
		}
		if !exists {
			record = models.HistoryRecord{UserID: userID, Created: now}
		}

		record.Conversations = append(record.Conversations, models.Conversation{
			Timestamp:   now,
			UserMessage: userMessage,
			BotResponse: botResponse,
		})
		if over := len(record.Conversations) - s.maxEntries; over > 0 {
			record.Conversations = append([]models.Conversation(nil), record.Conversations[over:]...)
		}
		record.LastUpdated = now
		record.ExpiresAt = now.Add(s.ttl)

		return json.Marshal(record)
	})
	if err != nil {
		return fmt.Errorf("history append for %s: %w", userID, err)
	}
	return nil
}

// load returns the live record for userID, or nil when there is none. An
// expired record is deleted.
func (s *Store) load(ctx context.Context, userID string) (*models.HistoryRecord, error) {
	doc, err := s.store.Get(ctx, Collection, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history read for %s: %w", userID, err)
	}

	var record models.HistoryRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("history decode for %s: %w", userID, err)
	}

	if record.Expired(s.clock.Now()) {
		if err := s.store.Delete(ctx, Collection, userID); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired history",
				slog.String("user_id", userID), slog.Any("error", err))
		}
		return nil, nil
	}

	return &record, nil
}

// ContextFor renders the last few exchanges as prompt context, oldest
// first. It returns "" when the user has no live history.
func (s *Store) ContextFor(ctx context.Context, userID string) (string, error) {
	record, err := s.load(ctx, userID)
	if err != nil || record == nil {
		return "", err
	}

	recent := lastN(record.Conversations, contextEntries)
	lines := make([]string, 0, 2*len(recent))
	for _, c := range recent {
		lines = append(lines,
			"User: "+c.UserMessage,
			"Assistant: "+truncate(c.BotResponse, contextResponseChars)+"...",
		)
	}
	return strings.Join(lines, "\n"), nil
}

// List returns up to limit of the most recent exchanges, oldest first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	record, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || limit <= 0 {
		return []models.Conversation{}, nil
	}
	recent := lastN(record.Conversations, limit)
	return append(make([]models.Conversation, 0, len(recent)), recent...), nil
}

// Clear deletes userID's history unconditionally.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, Collection, userID); err != nil {
		return fmt.Errorf("history clear for %s: %w", userID, err)
	}
	return nil
}

func lastN(conversations []models.Conversation, n int) []models.Conversation {
	if len(conversations) > n {
		return conversations[len(conversations)-n:]
	}
	return conversations
}

// truncate cuts s to at most n characters (runes, not bytes).
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
