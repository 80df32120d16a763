package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HanTheDev/devops-agent-gateway/internal/cache"
	"github.com/HanTheDev/devops-agent-gateway/internal/clock"
	"github.com/HanTheDev/devops-agent-gateway/internal/history"
	"github.com/HanTheDev/devops-agent-gateway/internal/ratelimit"
	"github.com/HanTheDev/devops-agent-gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeModel struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   func(prompt string) (string, error)
}

func (m *fakeModel) Generate(_ context.Context, _, userMessage string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, userMessage)
	m.mu.Unlock()
	if m.reply != nil {
		return m.reply(userMessage)
	}
	return "answer to: " + userMessage, nil
}

type fixture struct {
	svc     *Service
	model   *fakeModel
	history *history.Store
	clock   *clock.Fake
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFake(epoch)
	model := &fakeModel{}
	h := history.NewStore(mem, clk, nil, history.Options{})
	svc := NewService(
		ratelimit.NewSlidingWindow(ratelimit.Config{Limit: limit, Window: time.Minute}, clk),
		cache.NewResponseCache(mem, clk, nil),
		h,
		model,
		Options{SystemPrompt: "sys", CacheTTL: time.Hour},
		nil,
	)
	return &fixture{svc: svc, model: model, history: h, clock: clk}
}

func TestChatCachesRepeatedQuestion(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	req := Request{ClientID: "10.0.0.1", UserID: "alice", Message: "What is Terraform?"}

	first, err := f.svc.Chat(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.svc.Chat(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)

	assert.Equal(t, 1, f.model.calls)

	got, err := f.history.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestChatThrottlesBeforeCache(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	req := Request{ClientID: "10.0.0.1", UserID: "alice", Message: "hi"}

	for i := 0; i < 2; i++ {
		_, err := f.svc.Chat(ctx, req)
		require.NoError(t, err)
	}

	_, err := f.svc.Chat(ctx, req)
	assert.ErrorIs(t, err, ErrThrottled)

	got, err := f.history.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2, "throttled request must not be recorded")

	f.clock.Advance(time.Minute)
	_, err = f.svc.Chat(ctx, req)
	assert.NoError(t, err)
}

func TestChatUsesHistoryContext(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, Request{ClientID: "c", UserID: "alice", Message: "first"})
	require.NoError(t, err)
	_, err = f.svc.Chat(ctx, Request{ClientID: "c", UserID: "alice", Message: "second"})
	require.NoError(t, err)

	require.Len(t, f.model.prompts, 2)
	assert.Equal(t, "first", f.model.prompts[0])
	assert.Equal(t,
		"Previous conversation:\nUser: first\nAssistant: answer to: first...\n\nCurrent question: second",
		f.model.prompts[1])
}

func TestChatWithoutUserSkipsHistory(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, Request{ClientID: "c", Message: "hi"})
	require.NoError(t, err)
	_, err = f.svc.Chat(ctx, Request{ClientID: "c", Message: "again"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hi", "again"}, f.model.prompts)
}

func TestChatConfigurationError(t *testing.T) {
	mem := store.NewMemory()
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{Limit: 1}, clock.NewFake(epoch))
	svc := NewService(limiter, cache.NewResponseCache(mem, nil, nil), history.NewStore(mem, nil, nil, history.Options{}), nil, Options{}, nil)

	_, err := svc.Chat(context.Background(), Request{ClientID: "c", Message: "hi"})
	assert.ErrorIs(t, err, ErrConfiguration)

	// No state ran, so the single rate slot is still free.
	ok, err := limiter.Allow(context.Background(), "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChatEmptyMessage(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.svc.Chat(context.Background(), Request{ClientID: "c", Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, f.model.calls)
}

func TestChatModelErrorIsNotCached(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	upstream := errors.New("api key invalid: sk-secret")
	f.model.reply = func(string) (string, error) { return "", upstream }

	_, err := f.svc.Chat(ctx, Request{ClientID: "c", UserID: "alice", Message: "hi"})
	assert.ErrorIs(t, err, ErrModel)
	assert.ErrorIs(t, err, upstream)

	got, err := f.history.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	f.model.reply = nil
	reply, err := f.svc.Chat(ctx, Request{ClientID: "c", UserID: "alice", Message: "hi"})
	require.NoError(t, err)
	assert.False(t, reply.Cached)
}

func TestChatModelTimeout(t *testing.T) {
	mem := store.NewMemory()
	model := &blockingModel{}
	svc := NewService(
		ratelimit.NewSlidingWindow(ratelimit.Config{}, nil),
		cache.NewResponseCache(mem, nil, nil),
		history.NewStore(mem, nil, nil, history.Options{}),
		model,
		Options{ModelTimeout: 20 * time.Millisecond},
		nil,
	)

	_, err := svc.Chat(context.Background(), Request{ClientID: "c", Message: "hi"})
	assert.ErrorIs(t, err, ErrModel)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

var errDown = errors.New("store down")

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (brokenCache) Put(context.Context, string, string, time.Duration) error {
	return errDown
}

type brokenHistory struct{}

func (brokenHistory) Append(context.Context, string, string, string) error { return errDown }
func (brokenHistory) ContextFor(context.Context, string) (string, error)   { return "", errDown }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errDown }

func TestChatDegradesOnStoreFailures(t *testing.T) {
	model := &fakeModel{}
	svc := NewService(brokenLimiter{}, brokenCache{}, brokenHistory{}, model, Options{}, nil)

	reply, err := svc.Chat(context.Background(), Request{ClientID: "c", UserID: "alice", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer to: hi", reply.Text)
	assert.False(t, reply.Cached)
	assert.Equal(t, 1, model.calls)
}

func TestChatCacheHitStillRecordsForOtherUsers(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, Request{ClientID: "a", UserID: "alice", Message: "shared question"})
	require.NoError(t, err)
	reply, err := f.svc.Chat(ctx, Request{ClientID: "b", UserID: "bob", Message: "shared question"})
	require.NoError(t, err)
	assert.True(t, reply.Cached)

	got, err := f.history.List(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0].BotResponse, "answer to: shared question"))
}
