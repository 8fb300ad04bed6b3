package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/errtrack"
	"github.com/placefinder/placefinder/internal/telemetry"
)

type panicError struct {
	value interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Sender is the part of the Telegram client used to report errors.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// ErrorHandlerMiddleware recovers handler panics and turns errors into a
// short reply to the chat.
type ErrorHandlerMiddleware struct{}

func NewErrorHandlerMiddleware() *ErrorHandlerMiddleware {
	return &ErrorHandlerMiddleware{}
}

func (m *ErrorHandlerMiddleware) Middleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		defer func() {
			if r := recover(); r != nil {
				telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
					"operation":   "error_handler_panic",
					"panic_value": fmt.Sprintf("%v", r),
					"stack_trace": string(debug.Stack()),
				}).Error("Panic recovered in bot handler")

				err := errors.NewInternalError(fmt.Sprintf("Panic in handler: %v", r), nil)
				m.HandleError(ctx, senderOf(b), update, err)
			}
		}()

		next(ctx, b, update)
	}
}

// HandleError logs err and tells the chat what went wrong.
func (m *ErrorHandlerMiddleware) HandleError(ctx context.Context, s Sender, update *models.Update, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("An unexpected error occurred", err)
	}
	if appErr.CorrelationID == "" {
		appErr = appErr.WithCorrelationID(telemetry.GetCorrelationID(ctx))
	}

	logError(ctx, appErr, update)
	if errtrack.Reportable(appErr) {
		errtrack.CaptureError(ctx, appErr, map[string]string{"host": "telegram", "update_type": UpdateType(update)})
	}

	chatID := ChatID(update)
	if s == nil || chatID == 0 {
		return
	}
	if _, sendErr := s.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   UserMessage(appErr),
	}); sendErr != nil {
		telemetry.GetContextualLogger(ctx).WithError(sendErr).Error("Failed to send error response to user")
	}
}

func logError(ctx context.Context, appErr *errors.AppError, update *models.Update) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":  "error_handler_log",
		"error_type": string(appErr.Type),
		"error_code": appErr.Code,
		"chat_id":    ChatID(update),
	})
	for k, v := range appErr.Metadata {
		logger = logger.WithField(k, v)
	}
	if appErr.Cause != nil {
		logger = logger.WithField("cause", appErr.Cause.Error())
	}

	switch appErr.Type {
	case errors.ErrorTypeValidation, errors.ErrorTypeRateLimit, errors.ErrorTypeConflict:
		logger.Warn(appErr.Message)
	case errors.ErrorTypeNotFound:
		logger.Info(appErr.Message)
	default:
		logger.Error(appErr.Message)
	}
}

// UserMessage converts an error into chat-friendly text.
func UserMessage(appErr *errors.AppError) string {
	switch appErr.Code {
	case errors.CodeMissingAPIKey:
		return "🔑 Search is not configured on this bot. Please contact the bot owner."
	case errors.CodeBadQuery:
		return "❓ Please type a place name or address to search for."
	case errors.CodeStaleResultSet:
		return "⌛ Those results are out of date. Please search again."
	}

	switch appErr.Type {
	case errors.ErrorTypeValidation:
		return fmt.Sprintf("❌ Invalid input: %s", appErr.Message)
	case errors.ErrorTypeNotFound:
		return "❓ The requested item was not found."
	case errors.ErrorTypeRateLimit:
		return "⏰ You're sending requests too quickly. Please wait a moment and try again."
	case errors.ErrorTypeTimeout:
		return "⏱️ The request timed out. Please try again."
	case errors.ErrorTypeExternal:
		return "🌐 The geocoding service is temporarily unavailable. Please try again later."
	case errors.ErrorTypeDatabase:
		return "💾 Your search history is unavailable right now."
	default:
		return "❌ Something went wrong. Please try again later."
	}
}

// WrapHandler adapts an error-returning handler to bot.HandlerFunc.
func WrapHandler(handler func(ctx context.Context, b *bot.Bot, update *models.Update) error) bot.HandlerFunc {
	h := NewErrorHandlerMiddleware()
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if err := handler(ctx, b, update); err != nil {
			h.HandleError(ctx, senderOf(b), update, err)
		}
	}
}

// senderOf avoids a typed-nil interface when no bot is attached.
func senderOf(b *bot.Bot) Sender {
	if b == nil {
		return nil
	}
	return b
}

// GinErrorHandler renders the last error attached to the gin context as JSON.
// AppErrors keep their status and code; anything else is a 500.
func GinErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr, ok := errors.AsAppError(err)
		if !ok {
			appErr = errors.NewInternalError("An unexpected error occurred", err)
		}
		if appErr.CorrelationID == "" {
			appErr = appErr.WithCorrelationID(telemetry.GetCorrelationID(c.Request.Context()))
		}

		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		logError(c.Request.Context(), appErr, nil)
		if status >= http.StatusInternalServerError && errtrack.Reportable(appErr) {
			errtrack.CaptureRequestError(c.Request, appErr, map[string]string{"host": "http", "route": c.FullPath()})
		}

		c.JSON(status, gin.H{"error": gin.H{
			"type":           appErr.Type,
			"code":           appErr.Code,
			"message":        appErr.Message,
			"correlation_id": appErr.CorrelationID,
		}})
	}
}

// Recovery turns a panicking request into a 500 JSON response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				telemetry.GetContextualLogger(c.Request.Context()).WithFields(map[string]interface{}{
					"operation":   "http_panic",
					"panic_value": fmt.Sprintf("%v", r),
					"stack_trace": string(debug.Stack()),
				}).Error("Panic recovered in HTTP handler")
				errtrack.CaptureRequestError(c.Request, panicError{value: r}, map[string]string{"host": "http", "route": c.FullPath()})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
					"type":    errors.ErrorTypeInternal,
					"code":    "INTERNAL_ERROR",
					"message": "An unexpected error occurred",
				}})
			}
		}()
		c.Next()
	}
}
