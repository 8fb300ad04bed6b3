package bothandler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/geocoding"
)

// Callback data sent by the result keyboard.
const (
	CallbackPrev    = "nav:prev"
	CallbackNext    = "nav:next"
	CallbackConfirm = "nav:ok"
	CallbackToggle  = "toggle"
	callbackPick    = "pick:"
)

const maxButtonText = 40

type opKind int

const (
	opPrompt opKind = iota
	opBusy
	opError
	opList
	opHighlight
	opClear
	opVenue
)

type viewOp struct {
	kind       opKind
	text       string
	generation uint64
	items      []control.Item
	index      int
	result     geocoding.Result
}

// telegramView renders a control into a chat. The control calls it with its
// lock held, so every method only queues an operation; Flush performs them.
type telegramView struct {
	chatID int64

	mu  sync.Mutex
	ops []viewOp

	// guarded by flushMu
	flushMu       sync.Mutex
	listMessageID int
	generation    uint64
	items         []control.Item
}

var _ control.View = (*telegramView)(nil)

func newTelegramView(chatID int64) *telegramView {
	return &telegramView{chatID: chatID}
}

func (v *telegramView) queue(op viewOp) {
	v.mu.Lock()
	v.ops = append(v.ops, op)
	v.mu.Unlock()
}

func (v *telegramView) SetExpanded(expanded bool, placeholder string) {
	if expanded && placeholder != "" {
		v.queue(viewOp{kind: opPrompt, text: placeholder})
	}
}

func (v *telegramView) SetBusy(busy bool) {
	if busy {
		v.queue(viewOp{kind: opBusy})
	}
}

func (v *telegramView) ShowError(message string) {
	if message != "" {
		v.queue(viewOp{kind: opError, text: message})
	}
}

func (v *telegramView) RenderResults(generation uint64, items []control.Item) {
	v.queue(viewOp{kind: opList, generation: generation, items: items})
}

func (v *telegramView) ClearResults() {
	v.queue(viewOp{kind: opClear})
}

func (v *telegramView) Highlight(index int) {
	v.queue(viewOp{kind: opHighlight, index: index})
}

// Venue queues the pin for a selected result.
func (v *telegramView) Venue(r geocoding.Result) {
	v.queue(viewOp{kind: opVenue, result: r})
}

// Discard drops queued operations.
func (v *telegramView) Discard() {
	v.mu.Lock()
	v.ops = nil
	v.mu.Unlock()
}

// Pending returns the number of queued operations.
func (v *telegramView) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ops)
}

// Flush sends queued operations in order. A failed operation does not stop
// the ones after it.
func (v *telegramView) Flush(ctx context.Context, m Messenger) error {
	v.flushMu.Lock()
	defer v.flushMu.Unlock()

	v.mu.Lock()
	ops := v.ops
	v.ops = nil
	v.mu.Unlock()

	var errs []error
	for _, op := range ops {
		if err := v.apply(ctx, m, op); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (v *telegramView) apply(ctx context.Context, m Messenger, op viewOp) error {
	switch op.kind {
	case opPrompt:
		_, err := m.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: v.chatID,
			Text:   "🔎 " + op.text,
		})
		return err

	case opBusy:
		_, err := m.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: v.chatID,
			Action: models.ChatActionFindLocation,
		})
		return err

	case opError:
		_, err := m.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: v.chatID,
			Text:   "⚠️ " + op.text,
		})
		return err

	case opList:
		msg, err := m.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      v.chatID,
			Text:        formatResults(op.items, -1),
			ReplyMarkup: resultKeyboard(op.generation, op.items),
		})
		if err != nil {
			return fmt.Errorf("failed to send results: %w", err)
		}
		v.listMessageID = msg.ID
		v.generation = op.generation
		v.items = op.items
		return nil

	case opHighlight:
		if v.listMessageID == 0 {
			return nil
		}
		_, err := m.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      v.chatID,
			MessageID:   v.listMessageID,
			Text:        formatResults(v.items, op.index),
			ReplyMarkup: resultKeyboard(v.generation, v.items),
		})
		return err

	case opClear:
		if v.listMessageID == 0 {
			return nil
		}
		id := v.listMessageID
		v.listMessageID = 0
		v.items = nil
		_, err := m.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: v.chatID, MessageID: id})
		return err

	case opVenue:
		title, address := splitName(op.result)
		_, err := m.SendVenue(ctx, &bot.SendVenueParams{
			ChatID:    v.chatID,
			Latitude:  op.result.Center.Lat,
			Longitude: op.result.Center.Lng,
			Title:     title,
			Address:   address,
		})
		return err
	}
	return nil
}

// formatResults renders the numbered list, marking the highlighted entry.
func formatResults(items []control.Item, highlight int) string {
	var sb strings.Builder
	sb.WriteString("📍 Did you mean:\n")
	for _, item := range items {
		sb.WriteString("\n")
		if item.Index == highlight {
			sb.WriteString("➡️ ")
		}
		fmt.Fprintf(&sb, "%d. %s", item.Index+1, item.Result.Name)
	}
	sb.WriteString("\n\nTap a result, or use ▲/▼ and ✔.")
	return sb.String()
}

func resultKeyboard(generation uint64, items []control.Item) models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(items)+1)
	for _, item := range items {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         truncate(fmt.Sprintf("%d. %s", item.Index+1, item.Result.Name), maxButtonText),
			CallbackData: PickData(generation, item.Index),
		}})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "▲", CallbackData: CallbackPrev},
		{Text: "▼", CallbackData: CallbackNext},
		{Text: "✔", CallbackData: CallbackConfirm},
		{Text: "✖", CallbackData: CallbackToggle},
	})
	return models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// PickData is the callback data of the button for item index of a list.
func PickData(generation uint64, index int) string {
	return callbackPick + strconv.FormatUint(generation, 10) + ":" + strconv.Itoa(index)
}

// ParsePickData reverses PickData.
func ParsePickData(data string) (generation uint64, index int, err error) {
	rest, ok := strings.CutPrefix(data, callbackPick)
	if !ok {
		return 0, 0, fmt.Errorf("not a pick callback: %q", data)
	}
	genPart, idxPart, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed pick callback: %q", data)
	}
	if generation, err = strconv.ParseUint(genPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed pick generation: %w", err)
	}
	if index, err = strconv.Atoi(idxPart); err != nil {
		return 0, 0, fmt.Errorf("malformed pick index: %w", err)
	}
	return generation, index, nil
}

// splitName turns "Name, rest of address" into a venue title and address.
func splitName(r geocoding.Result) (title, address string) {
	title, address, ok := strings.Cut(r.Name, ", ")
	if !ok || address == "" {
		return r.Name, geocoding.FormatLatLng(r.Center)
	}
	return title, address
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
