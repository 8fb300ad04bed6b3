package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/placefinder/placefinder/internal/bothandler"
	"github.com/placefinder/placefinder/internal/cache"
	"github.com/placefinder/placefinder/internal/config"
	"github.com/placefinder/placefinder/internal/errtrack"
	"github.com/placefinder/placefinder/internal/middleware"
	"github.com/placefinder/placefinder/internal/monitoring"
	"github.com/placefinder/placefinder/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	if err := telemetry.InitGlobalLogger(cfg.Log); err != nil {
		telemetry.GetContextualLogger(ctx).WithError(err).Error("Failed to initialize logger")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		loggerFor(ctx, "main").WithError(err).Error("Bot stopped with an error")
		os.Exit(1)
	}
}

func loggerFor(ctx context.Context, operation string) *telemetry.ContextualLogger {
	return telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"component": "main",
		"operation": operation,
	})
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := loggerFor(ctx, "startup")

	shutdownOtel, err := telemetry.InitializeOpenTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownOtel()

	if err := errtrack.Init(cfg.ErrorTracking); err != nil {
		logger.WithError(err).Warn("Error tracking disabled")
	}
	defer errtrack.Flush(2 * time.Second)

	metrics, err := monitoring.NewMetrics(monitoring.NewCollector())
	if err != nil {
		return err
	}

	deps := connectDependencies(ctx, cfg)
	defer deps.close()

	var store cache.Store
	if deps.redis != nil {
		store = deps.redis
	}
	client := newGeocoder(cfg, metrics, store)
	defer client.Close()

	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimit.Burst, cfg.RateLimit.Interval)

	// The handler needs the bot and the bot's default handler needs the
	// handler, so the default handler reads h at call time.
	var h *bothandler.Handler
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.NewBotLoggingMiddleware(metrics).Middleware,
			middleware.NewErrorHandlerMiddleware().Middleware,
			rateLimit.Middleware,
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h != nil {
				h.Handle(ctx, b, update)
			}
		}),
		bot.WithErrorsHandler(func(err error) {
			loggerFor(ctx, "telegram_polling").WithError(err).Warn("Telegram client error")
		}),
	}
	if cfg.Telegram.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.Telegram.WebhookSecret))
	}

	b, err := bot.New(cfg.Telegram.Token, opts...)
	if err != nil {
		return err
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return err
	}
	logger.WithField("bot_username", me.Username).Info("Authorized on Telegram")

	h = bothandler.NewHandler(b, client, cfg.Control, cfg.SessionTTL)
	if deps.history != nil {
		h.SetHistoryService(deps.history)
	}
	h.SetMetrics(metrics)
	h.RegisterHandlers(b)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h.StateManager().StartCleanupRoutine(ctx, time.Minute)
	rateLimit.StartCleanup(ctx, time.Minute, 10*cfg.RateLimit.Interval)

	health := newHealthChecker(cfg, deps, b, client)
	router := newRouter(cfg, client, health, metrics, b.WebhookHandler())

	if cfg.Telegram.WebhookURL != "" {
		webhookURL := cfg.Telegram.WebhookURL + webhookPath
		if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         webhookURL,
			SecretToken: cfg.Telegram.WebhookSecret,
		}); err != nil {
			return err
		}
		logger.WithField("webhook_url", webhookURL).Info("Webhook registered")
		go b.StartWebhook(ctx)
	} else {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			logger.WithError(err).Warn("Failed to remove webhook")
		}
		go b.Start(ctx)
		logger.Info("Bot started in polling mode")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}
