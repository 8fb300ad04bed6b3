package middleware

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.opentelemetry.io/otel/trace"

	"github.com/placefinder/placefinder/internal/telemetry"
)

// UpdateObserver traces and counts updates. monitoring.Metrics satisfies it.
type UpdateObserver interface {
	TraceUpdate(ctx context.Context, updateType string, updateID, chatID int64) (context.Context, trace.Span)
	RecordUpdate(ctx context.Context, updateType string, duration time.Duration, err error)
}

// BotLoggingMiddleware attaches a correlation ID to every update and logs
// its arrival and completion.
type BotLoggingMiddleware struct {
	observer UpdateObserver
}

// NewBotLoggingMiddleware creates the middleware. observer may be nil.
func NewBotLoggingMiddleware(observer UpdateObserver) *BotLoggingMiddleware {
	return &BotLoggingMiddleware{observer: observer}
}

func (m *BotLoggingMiddleware) Middleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		start := time.Now()
		updateType := UpdateType(update)
		chatID := ChatID(update)

		ctx = telemetry.WithCorrelationID(ctx, telemetry.NewCorrelationID())

		var span trace.Span
		if m.observer != nil {
			ctx, span = m.observer.TraceUpdate(ctx, updateType, update.ID, chatID)
		}

		logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"update_id":   update.ID,
			"update_type": updateType,
			"chat_id":     chatID,
			"user_id":     UserID(update),
		})
		logger.WithFields(describeUpdate(update)).Info("Incoming update")

		defer func() {
			duration := time.Since(start)
			var err error
			if r := recover(); r != nil {
				err = panicError{value: r}
				if m.observer != nil {
					m.observer.RecordUpdate(ctx, updateType, duration, err)
					span.RecordError(err)
					span.End()
				}
				panic(r)
			}
			if m.observer != nil {
				m.observer.RecordUpdate(ctx, updateType, duration, nil)
				span.End()
			}
			logger.WithField("duration_ms", float64(duration.Microseconds())/1000).Info("Update processed")
		}()

		next(ctx, b, update)
	}
}

// describeUpdate returns the loggable content of an update. Message text is
// the search query, so it is logged; locations are rounded.
func describeUpdate(update *models.Update) map[string]interface{} {
	fields := map[string]interface{}{}
	switch {
	case update.CallbackQuery != nil:
		fields["callback_data"] = update.CallbackQuery.Data
	case update.Message != nil && update.Message.Location != nil:
		fields["lat"] = roundCoord(update.Message.Location.Latitude)
		fields["lng"] = roundCoord(update.Message.Location.Longitude)
	case update.Message != nil:
		fields["text"] = update.Message.Text
	}
	return fields
}

func roundCoord(v float64) float64 {
	return float64(int64(v*100)) / 100
}
