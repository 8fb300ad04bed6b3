package middleware

import (
	"github.com/go-telegram/bot/models"
)

// Update types used as log fields and metric labels.
const (
	UpdateTypeMessage  = "message"
	UpdateTypeLocation = "location"
	UpdateTypeCommand  = "command"
	UpdateTypeCallback = "callback_query"
	UpdateTypeOther    = "other"
)

// ChatID returns the chat an update belongs to, or 0.
func ChatID(update *models.Update) int64 {
	if update == nil {
		return 0
	}
	if update.Message != nil {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil {
		return update.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

// UserID returns the sender of an update, or 0.
func UserID(update *models.Update) int64 {
	if update == nil {
		return 0
	}
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// UpdateType classifies an update.
func UpdateType(update *models.Update) string {
	switch {
	case update == nil:
		return UpdateTypeOther
	case update.CallbackQuery != nil:
		return UpdateTypeCallback
	case update.Message == nil:
		return UpdateTypeOther
	case update.Message.Location != nil:
		return UpdateTypeLocation
	case len(update.Message.Text) > 0 && update.Message.Text[0] == '/':
		return UpdateTypeCommand
	default:
		return UpdateTypeMessage
	}
}
