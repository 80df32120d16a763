package models

import "time"

// CacheEntry is the persisted form of a cached model answer. Key is the
// hex digest of the exact question text.
type CacheEntry struct {
	Key       string    `json:"key"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Conversation is one question/answer exchange in a user's history.
type Conversation struct {
	Timestamp   time.Time `json:"timestamp"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
}

// HistoryRecord is one user's conversation log. Conversations are kept in
// chronological order.
type HistoryRecord struct {
	UserID        string         `json:"user_id"`
	Conversations []Conversation `json:"conversations"`
	Created       time.Time      `json:"created"`
	LastUpdated   time.Time      `json:"last_updated"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// Expired reports whether the record must be treated as absent at now.
func (r *HistoryRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ChatRequest is the inbound body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// ChatResponse is the body returned for a successful chat request.
type ChatResponse struct {
	Response string `json:"response"`
}

// HistoryResponse is the body returned by GET /api/history/{user_id}.
type HistoryResponse struct {
	UserID        string         `json:"user_id"`
	Conversations []Conversation `json:"conversations"`
	Count         int            `json:"count"`
}

// CacheStats reports response cache activity since process start.
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Writes      int64 `json:"writes"`
	Errors      int64 `json:"errors"`
	Expirations int64 `json:"expirations"`
}
