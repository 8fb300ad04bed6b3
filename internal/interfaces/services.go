package interfaces

import (
	"context"

	"github.com/placefinder/placefinder/internal/database"
)

// HistoryServiceInterface defines the operations on a chat's selection history
type HistoryServiceInterface interface {
	Record(ctx context.Context, s database.Selection) (database.Selection, error)
	Recent(ctx context.Context, chatID int64, limit int) ([]database.Selection, error)
	Clear(ctx context.Context, chatID int64) (int64, error)
}

// SessionObserverInterface is told when chat sessions start and end
type SessionObserverInterface interface {
	SessionStarted(ctx context.Context)
	SessionEnded(ctx context.Context)
}

// SelectionMetricsInterface counts selections by how they were made
type SelectionMetricsInterface interface {
	RecordSelection(ctx context.Context, source string)
}

var _ HistoryServiceInterface = (*database.HistoryStore)(nil)
