package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/cache"
	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/conversation"
	"github.com/HanTheDev/devops-agent-gateway/internal/history"
	"github.com/HanTheDev/devops-agent-gateway/internal/llm"
	"github.com/HanTheDev/devops-agent-gateway/internal/models"
	"github.com/HanTheDev/devops-agent-gateway/internal/ratelimit"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingModel struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *countingModel) Generate(_ context.Context, _, userMessage string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("reply #%d", m.calls), nil
}

type testServer struct {
	router *mux.Router
	model  *countingModel
}

func newTestServer(t *testing.T, model llm.Model) *testServer {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	h := history.NewStore(mem, clk, nil, history.Options{})
	svc := conversation.NewService(
		ratelimit.NewSlidingWindow(ratelimit.Config{}, clk),
		cache.NewResponseCache(mem, clk, nil),
		h,
		model,
		conversation.Options{},
		nil,
	)

	router := mux.NewRouter()
	NewHandler(svc, h, time.Second, nil).RegisterRoutes(router)

	ts := &testServer{router: router}
	if cm, ok := model.(*countingModel); ok {
		ts.model = cm
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestChatRepeatedMessageIsCached(t *testing.T) {
	ts := newTestServer(t, &countingModel{})
	body := `{"message":"How do I roll back a Helm release?","user_id":"alice"}`

	first := ts.do(t, http.MethodPost, "/api/chat", body, "")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache-Status"))
	assert.Equal(t, "no-cache", first.Header().Get("Cache-Control"))
	firstResp := decode[models.ChatResponse](t, first)

	second := ts.do(t, http.MethodPost, "/api/chat", body, "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache-Status"))
	assert.Equal(t, firstResp, decode[models.ChatResponse](t, second))

	assert.Equal(t, 1, ts.model.calls)

	hist := ts.do(t, http.MethodGet, "/api/history/alice", "", "")
	require.Equal(t, http.StatusOK, hist.Code)
	got := decode[models.HistoryResponse](t, hist)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "alice", got.UserID)
}

func TestChatRateLimited(t *testing.T) {
	ts := newTestServer(t, &countingModel{})

	for i := 0; i < 5; i++ {
		w := ts.do(t, http.MethodPost, "/api/chat", fmt.Sprintf(`{"message":"q%d"}`, i), "10.1.1.1:5000")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := ts.do(t, http.MethodPost, "/api/chat", `{"message":"one more"}`, "10.1.1.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Rate limit exceeded. Please wait.", decode[map[string]string](t, w)["detail"])

	w = ts.do(t, http.MethodPost, "/api/chat", `{"message":"other client"}`, "10.2.2.2:5000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, ts.model.calls)
}

func TestChatErrorsAreGeneric(t *testing.T) {
	ts := newTestServer(t, &countingModel{err: errors.New("invalid key sk-live-123")})

	w := ts.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-live-123")
}

func TestChatWithoutCredential(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode[map[string]string](t, w)["detail"])
}

func TestChatBadRequests(t *testing.T) {
	ts := newTestServer(t, &countingModel{})

	w := ts.do(t, http.MethodPost, "/api/chat", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/chat", `{"message":"  "}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatInfo(t *testing.T) {
	ts := newTestServer(t, &countingModel{})

	w := ts.do(t, http.MethodGet, "/api/chat", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "This endpoint only accepts POST requests", decode[map[string]string](t, w)["error"])
}

func TestHistoryLimitAndClear(t *testing.T) {
	ts := newTestServer(t, &countingModel{})

	for i := 0; i < 4; i++ {
		w := ts.do(t, http.MethodPost, "/api/chat", fmt.Sprintf(`{"message":"q%d","user_id":"bob"}`, i), "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := ts.do(t, http.MethodGet, "/api/history/bob?limit=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.HistoryResponse](t, w)
	require.Len(t, got.Conversations, 2)
	assert.Equal(t, "q2", got.Conversations[0].UserMessage)
	assert.Equal(t, "q3", got.Conversations[1].UserMessage)

	w = ts.do(t, http.MethodGet, "/api/history/bob?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/history/bob", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cleared", decode[map[string]string](t, w)["status"])

	w = ts.do(t, http.MethodGet, "/api/history/bob", "", "")
	got = decode[models.HistoryResponse](t, w)
	assert.Equal(t, 0, got.Count)
	assert.NotNil(t, got.Conversations)
}

func TestHistoryTimestampsAreISO8601(t *testing.T) {
	ts := newTestServer(t, &countingModel{})
	ts.do(t, http.MethodPost, "/api/chat", `{"message":"q","user_id":"carol"}`, "")

	w := ts.do(t, http.MethodGet, "/api/history/carol", "", "")
	var raw struct {
		Conversations []map[string]any `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	require.Len(t, raw.Conversations, 1)
	assert.Equal(t, "2025-03-01T12:00:00Z", raw.Conversations[0]["timestamp"])
}

type brokenHistory struct{}

func (brokenHistory) List(context.Context, string, int) ([]models.Conversation, error) {
	return nil, errors.New("down")
}
func (brokenHistory) Clear(context.Context, string) error { return errors.New("down") }

func TestHistoryStoreFailures(t *testing.T) {
	router := mux.NewRouter()
	NewHandler(nil, brokenHistory{}, time.Second, nil).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/history/dave", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.HistoryResponse](t, w).Count)

	req = httptest.NewRequest(http.MethodDelete, "/api/history/dave", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientIP(req))
}
