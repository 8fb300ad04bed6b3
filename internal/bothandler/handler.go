package bothandler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/database"
	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/interfaces"
	"github.com/placefinder/placefinder/internal/middleware"
	"github.com/placefinder/placefinder/internal/telemetry"
)

const (
	welcomeMessage = "👋 Welcome to PlaceFinder!\n\n" +
		"Send me a place name or address and I'll find it on the map. " +
		"Share a location to find out what's there.\n\nType /help for all commands."

	helpMessage = "🗺 PlaceFinder commands\n\n" +
		"/search <query> - find a place (or just type it)\n" +
		"/reverse <lat,lng> - what is at a coordinate\n" +
		"/near <lat,lng> - prefer results near a point; /near alone clears it\n" +
		"/history - places you picked recently\n" +
		"/forget - clear your history\n\n" +
		"When several places match, tap one or use ▲/▼ and ✔."

	noSelectionMessage = "Use ▲/▼ to highlight a result first."
	historyOffMessage  = "History is not enabled on this bot."
	unknownCommand     = "I didn't understand that. Type /help for available commands."
)

// SelectionMetrics counts selections and sessions. monitoring.Metrics
// satisfies it.
type SelectionMetrics interface {
	interfaces.SelectionMetricsInterface
	interfaces.SessionObserverInterface
}

// Handler turns Telegram updates into search control operations.
type Handler struct {
	messenger    Messenger
	geocoder     control.Geocoder
	controlOpts  control.Options
	history      interfaces.HistoryServiceInterface
	historyLimit int
	metrics      interfaces.SelectionMetricsInterface
	stateManager *StateManager
	errorHandler *middleware.ErrorHandlerMiddleware
}

// NewHandler creates a handler that replies through messenger. Sessions idle
// for longer than sessionTTL start over.
func NewHandler(messenger Messenger, geocoder control.Geocoder, opts control.Options, sessionTTL time.Duration) *Handler {
	h := &Handler{
		messenger:    messenger,
		geocoder:     geocoder,
		controlOpts:  opts,
		historyLimit: database.DefaultHistoryLimit,
		errorHandler: middleware.NewErrorHandlerMiddleware(),
	}
	h.stateManager = NewStateManager(sessionTTL, h.newSession)
	return h
}

// SetHistoryService enables /history and records every pick.
func (h *Handler) SetHistoryService(history interfaces.HistoryServiceInterface) {
	h.history = history
}

// SetMetrics sets the metrics the handler reports to
func (h *Handler) SetMetrics(metrics SelectionMetrics) {
	h.metrics = metrics
	h.stateManager.SetObserver(metrics)
}

// StateManager returns the session store.
func (h *Handler) StateManager() *StateManager {
	return h.stateManager
}

// RegisterHandlers registers the handler for all messages and callback
// queries.
func (h *Handler) RegisterHandlers(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, h.Handle)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, h.Handle)
}

// Handle is a bot.HandlerFunc. Replies go through the handler's messenger.
func (h *Handler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if err := h.HandleUpdate(ctx, update); err != nil {
		h.errorHandler.HandleError(ctx, h.messenger, update, err)
	}
}

// HandleUpdate processes one update and returns any error the chat should
// hear about.
func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return h.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil:
		return h.handleMessage(ctx, update.Message)
	}
	return nil
}

func (h *Handler) newSession(chatID int64) (*Session, error) {
	view := newTelegramView(chatID)
	session := &Session{ChatID: chatID, View: view, Map: newChatMap(view)}

	opts := h.controlOpts
	opts.Recorder = sessionRecorder{session: session, next: h.metrics}
	hook := opts.OnResultClick
	opts.OnResultClick = func(ctx context.Context, r geocoding.Result) {
		h.onResultSelected(ctx, session, r)
		if hook != nil {
			hook(ctx, r)
		}
	}

	ctrl, err := control.New(h.geocoder, opts)
	if err != nil {
		return nil, errors.NewInternalError("failed to create search control", err)
	}
	if err := ctrl.OnAdd(session.Map, view); err != nil {
		return nil, errors.NewInternalError("failed to attach search control", err)
	}
	// Nothing to show until the chat asks for something.
	view.Discard()

	session.Control = ctrl
	return session, nil
}

// sessionRecorder remembers how the latest selection was made so the
// history row can carry it. The control reports the source before it runs
// the result hook.
type sessionRecorder struct {
	session *Session
	next    interfaces.SelectionMetricsInterface
}

func (r sessionRecorder) RecordSelection(ctx context.Context, source string) {
	r.session.setSource(source)
	if r.next != nil {
		r.next.RecordSelection(ctx, source)
	}
}

func (h *Handler) onResultSelected(ctx context.Context, s *Session, r geocoding.Result) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"chat_id":   s.ChatID,
		"operation": "result_selected",
		"source":    s.lastSource(),
	})
	logger.WithField("result", r.Name).Info("Result selected")

	if h.history == nil {
		return
	}
	sel := database.NewSelection(s.ChatID, s.Query(), r, s.lastSource())
	if _, err := h.history.Record(ctx, sel); err != nil {
		logger.WithError(err).Warn("Failed to record selection")
	}
}

func (h *Handler) handleMessage(ctx context.Context, message *models.Message) error {
	chatID := message.Chat.ID

	if message.Location != nil {
		return h.handleLocation(ctx, chatID, geocoding.LatLng{
			Lat: message.Location.Latitude,
			Lng: message.Location.Longitude,
		})
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		return nil
	}
	if !isCommand(text) {
		return h.search(ctx, chatID, text)
	}

	command, args := extractCommand(text)
	switch command {
	case "start":
		return h.sendMessage(ctx, chatID, welcomeMessage)
	case "help":
		return h.sendMessage(ctx, chatID, helpMessage)
	case "search":
		if args == "" {
			return h.prompt(ctx, chatID)
		}
		return h.search(ctx, chatID, args)
	case "reverse":
		ll, err := geocoding.ParseLatLng(args)
		if err != nil {
			return errors.NewValidationError("location", "use /reverse <lat>,<lng>, for example /reverse 52.5163,13.3777")
		}
		return h.reverse(ctx, chatID, ll)
	case "near":
		return h.handleNear(ctx, chatID, args)
	case "history":
		return h.handleHistory(ctx, chatID)
	case "forget":
		return h.handleForget(ctx, chatID)
	default:
		return h.sendMessage(ctx, chatID, unknownCommand)
	}
}

// search submits query to the chat's control. Failed lookups are already
// shown by the view, so they are only logged here.
func (h *Handler) search(ctx context.Context, chatID int64, query string) error {
	session, err := h.stateManager.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	session.SetQuery(query)

	submitErr := session.Control.Submit(ctx, query)
	h.flush(ctx, session)
	if submitErr != nil {
		h.logLookupError(ctx, chatID, "search", submitErr)
	}
	return nil
}

func (h *Handler) reverse(ctx context.Context, chatID int64, ll geocoding.LatLng) error {
	session, err := h.stateManager.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	session.SetQuery(geocoding.FormatLatLng(ll))

	submitErr := session.Control.SubmitReverse(ctx, ll)
	h.flush(ctx, session)
	if submitErr != nil {
		h.logLookupError(ctx, chatID, "reverse", submitErr)
	}
	return nil
}

// handleLocation treats a shared location as both the new proximity center
// and a reverse lookup.
func (h *Handler) handleLocation(ctx context.Context, chatID int64, ll geocoding.LatLng) error {
	session, err := h.stateManager.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	session.Map.PanTo(ll)
	return h.reverse(ctx, chatID, ll)
}

func (h *Handler) prompt(ctx context.Context, chatID int64) error {
	session, err := h.stateManager.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	session.Control.Collapse()
	session.Control.Expand()
	h.flush(ctx, session)
	return nil
}

func (h *Handler) handleNear(ctx context.Context, chatID int64, args string) error {
	session, err := h.stateManager.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	if args == "" {
		session.Map.ClearCenter()
		return h.sendMessage(ctx, chatID, "📍 Proximity hint cleared.")
	}

	ll, err := geocoding.ParseLatLng(args)
	if err != nil {
		return errors.NewValidationError("location", "use /near <lat>,<lng>, for example /near 52.52,13.40")
	}
	session.Map.SetCenter(ll)
	return h.sendMessage(ctx, chatID, fmt.Sprintf("📍 Searches will now prefer places near %s.", geocoding.FormatLatLng(ll)))
}

func (h *Handler) handleHistory(ctx context.Context, chatID int64) error {
	if h.history == nil {
		return h.sendMessage(ctx, chatID, historyOffMessage)
	}

	selections, err := h.history.Recent(ctx, chatID, h.historyLimit)
	if err != nil {
		return err
	}
	if len(selections) == 0 {
		return h.sendMessage(ctx, chatID, "🕘 You haven't picked any places yet.")
	}
	return h.sendMessage(ctx, chatID, formatHistory(selections))
}

func (h *Handler) handleForget(ctx context.Context, chatID int64) error {
	if h.history == nil {
		return h.sendMessage(ctx, chatID, historyOffMessage)
	}

	n, err := h.history.Clear(ctx, chatID)
	if err != nil {
		return err
	}
	return h.sendMessage(ctx, chatID, fmt.Sprintf("🧹 Forgot %d saved place(s).", n))
}

func formatHistory(selections []database.Selection) string {
	var sb strings.Builder
	sb.WriteString("🕘 Recently picked:\n")
	for i, s := range selections {
		fmt.Fprintf(&sb, "\n%d. %s\n    %s", i+1, s.Name, geocoding.FormatLatLng(geocoding.LatLng{Lat: s.Lat, Lng: s.Lng}))
		if s.Query != "" {
			fmt.Fprintf(&sb, " · searched for %q", s.Query)
		}
	}
	return sb.String()
}

func (h *Handler) handleCallbackQuery(ctx context.Context, callback *models.CallbackQuery) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"user_id":       callback.From.ID,
		"callback_data": callback.Data,
		"message_type":  "callback_query",
	})

	if callback.Message.Message == nil {
		logger.Warn("Callback query message is nil or inaccessible")
		return h.answer(ctx, callback.ID, "")
	}
	chatID := callback.Message.Message.Chat.ID

	// Buttons outlive their session; an expired one has nothing to act on.
	session, ok := h.stateManager.PeekSession(chatID)
	if !ok {
		return h.answer(ctx, callback.ID, middleware.UserMessage(errors.NewStaleResultSetError(0)))
	}

	text := ""
	switch data := callback.Data; {
	case data == CallbackPrev:
		session.Control.MoveSelection(control.Previous)
	case data == CallbackNext:
		session.Control.MoveSelection(control.Next)
	case data == CallbackConfirm:
		if _, ok := session.Control.Confirm(ctx); !ok {
			text = noSelectionMessage
		}
	case data == CallbackToggle:
		session.Control.Toggle()
	case strings.HasPrefix(data, callbackPick):
		generation, index, err := ParsePickData(data)
		if err != nil {
			logger.WithError(err).Warn("Malformed pick callback")
			return h.answer(ctx, callback.ID, "")
		}
		if err := session.Control.Click(ctx, generation, index); err != nil {
			if appErr, ok := errors.AsAppError(err); ok {
				text = middleware.UserMessage(appErr)
			}
		}
	default:
		logger.Warn("Unknown callback data")
	}

	answerErr := h.answer(ctx, callback.ID, text)
	h.flush(ctx, session)
	return answerErr
}

func (h *Handler) flush(ctx context.Context, s *Session) {
	if err := s.View.Flush(ctx, h.messenger); err != nil {
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"chat_id":   s.ChatID,
			"operation": "render",
		}).WithError(err).Error("Failed to render search results")
	}
}

func (h *Handler) logLookupError(ctx context.Context, chatID int64, kind string, err error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"chat_id":   chatID,
		"operation": kind,
	}).WithError(err)
	if errors.IsErrorType(err, errors.ErrorTypeConfiguration) {
		logger.Error("Geocoder is not configured")
		return
	}
	logger.Warn("Lookup failed")
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) error {
	_, err := h.messenger.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return errors.NewTelegramError("answer_callback_query", err)
	}
	return nil
}

func (h *Handler) sendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := h.messenger.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"chat_id":   chatID,
			"operation": "send_message",
		}).WithError(err).Error("Failed to send message")
	}
	return nil
}

// extractCommand splits "/cmd@bot args" into "cmd" and "args".
func extractCommand(text string) (command, args string) {
	head, rest, _ := strings.Cut(text, " ")
	command = strings.TrimPrefix(head, "/")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(rest)
}

// isCommand checks if a message is a command
func isCommand(text string) bool {
	return strings.HasPrefix(text, "/")
}
