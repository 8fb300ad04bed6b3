package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// DefaultHistoryLimit caps Recent when the caller passes a non-positive limit.
const DefaultHistoryLimit = 10

const maxHistoryLimit = 100

// HistoryStore persists selections per chat.
type HistoryStore struct {
	db *DB
}

func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record inserts s, assigning an ID and timestamp when they are unset.
func (h *HistoryStore) Record(ctx context.Context, s Selection) (Selection, error) {
	if err := s.Validate(); err != nil {
		return Selection{}, errors.NewValidationError("selection", err.Error())
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	err := h.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO selections (id, chat_id, query, name, lat, lng, bounds, extensions, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID, s.ChatID, s.Query, s.Name, s.Lat, s.Lng, nullableBounds(s.Bounds), s.Extensions, s.Source, s.CreatedAt,
		)
		return err
	})
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "record_selection",
			"chat_id":   s.ChatID,
		}).WithError(err).Error("Failed to record selection")
		if _, ok := errors.AsAppError(err); ok {
			return Selection{}, err
		}
		return Selection{}, errors.NewDatabaseError("insert selection", err)
	}
	return s, nil
}

// Recent returns the newest selections for chatID, newest first.
func (h *HistoryStore) Recent(ctx context.Context, chatID int64, limit int) ([]Selection, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, chat_id, query, name, lat, lng, bounds, extensions, source, created_at
		FROM selections
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("query selections", err)
	}
	defer rows.Close()

	out := make([]Selection, 0, limit)
	for rows.Next() {
		var (
			s      Selection
			bounds nullBounds
		)
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Query, &s.Name, &s.Lat, &s.Lng, &bounds, &s.Extensions, &s.Source, &s.CreatedAt); err != nil {
			return nil, errors.NewDatabaseError("scan selection", err)
		}
		s.Bounds = bounds.ptr()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate selections", err)
	}
	return out, nil
}

// Clear removes every selection recorded for chatID.
func (h *HistoryStore) Clear(ctx context.Context, chatID int64) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM selections WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, errors.NewDatabaseError("delete selections", err)
	}
	return res.RowsAffected()
}

func nullableBounds(b *Bounds) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

// nullBounds scans a nullable JSONB bounds column.
type nullBounds struct {
	b     Bounds
	valid bool
}

func (n *nullBounds) Scan(value interface{}) error {
	if value == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.b.Scan(value)
}

func (n nullBounds) ptr() *Bounds {
	if !n.valid {
		return nil
	}
	b := n.b
	return &b
}
