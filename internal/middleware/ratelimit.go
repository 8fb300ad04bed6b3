package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/placefinder/placefinder/internal/telemetry"
)

const rateLimitMessage = "⚠️ You're searching too quickly. Please wait a moment before trying again."

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket per chat. Every geocoding
// request spends quota upstream, so bursts are refused before they reach
// the handler.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[int64]*limiterEntry
	every    time.Duration
	burst    int
	now      func() time.Time
}

// NewRateLimitMiddleware allows burst updates at once and refills one token
// per interval.
func NewRateLimitMiddleware(burst int, interval time.Duration) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiters: make(map[int64]*limiterEntry),
		every:    interval,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow spends a token for chatID.
func (m *RateLimitMiddleware) Allow(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.limiters[chatID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(m.every), m.burst)}
		m.limiters[chatID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Cleanup forgets chats idle for longer than idle and returns how many.
func (m *RateLimitMiddleware) Cleanup(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	removed := 0
	for id, e := range m.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(m.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked chats.
func (m *RateLimitMiddleware) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// Middleware drops updates from chats over their limit. Callback queries are
// answered so the client stops its spinner.
func (m *RateLimitMiddleware) Middleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		chatID := ChatID(update)
		if chatID == 0 || m.Allow(chatID) {
			next(ctx, b, update)
			return
		}

		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "rate_limit",
			"chat_id":   chatID,
		}).Warn("Rate limit exceeded")

		if b == nil {
			return
		}
		if update.CallbackQuery != nil {
			_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
				CallbackQueryID: update.CallbackQuery.ID,
				Text:            rateLimitMessage,
			})
			return
		}
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: rateLimitMessage}); err != nil {
			telemetry.GetContextualLogger(ctx).WithError(err).Error("Error sending rate limit message")
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(idle); n > 0 {
					telemetry.GetContextualLogger(ctx).WithField("removed", n).Debug("Pruned idle rate limiters")
				}
			}
		}
	}()
}
