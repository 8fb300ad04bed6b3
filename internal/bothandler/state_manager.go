package bothandler

import (
	"context"
	"sync"
	"time"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/interfaces"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// Session is one chat's search box: a control, the map it places results on
// and the view that renders it into the chat.
type Session struct {
	ChatID  int64
	Control *control.Control
	Map     *chatMap
	View    *telegramView

	CreatedAt   time.Time
	LastUpdated time.Time
	ExpiresAt   time.Time

	mu     sync.Mutex
	query  string
	source string
}

// SetQuery remembers what the chat searched for last.
func (s *Session) SetQuery(query string) {
	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
}

// Query returns the last search.
func (s *Session) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func (s *Session) setSource(source string) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

func (s *Session) lastSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// SessionFactory builds the session for a chat.
type SessionFactory func(chatID int64) (*Session, error)

// StateManager keeps a session per chat and expires idle ones.
type StateManager struct {
	sessions map[int64]*Session
	mutex    sync.Mutex
	ttl      time.Duration
	factory  SessionFactory
	observer interfaces.SessionObserverInterface
	now      func() time.Time
}

// NewStateManager creates a new state manager
func NewStateManager(sessionTTL time.Duration, factory SessionFactory) *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
		ttl:      sessionTTL,
		factory:  factory,
		now:      time.Now,
	}
}

// SetObserver reports session starts and ends to o.
func (sm *StateManager) SetObserver(o interfaces.SessionObserverInterface) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.observer = o
}

// GetSession gets a chat's session, creating one if it doesn't exist or has
// expired.
func (sm *StateManager) GetSession(ctx context.Context, chatID int64) (*Session, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	session, exists := sm.sessions[chatID]
	if exists && !now.After(session.ExpiresAt) {
		session.LastUpdated = now
		session.ExpiresAt = now.Add(sm.ttl)
		return session, nil
	}
	if exists {
		sm.endLocked(ctx, chatID, session)
	}

	session, err := sm.factory(chatID)
	if err != nil {
		return nil, err
	}
	session.ChatID = chatID
	session.CreatedAt = now
	session.LastUpdated = now
	session.ExpiresAt = now.Add(sm.ttl)
	sm.sessions[chatID] = session
	if sm.observer != nil {
		sm.observer.SessionStarted(ctx)
	}

	telemetry.GetContextualLogger(ctx).WithField("chat_id", chatID).Debug("Started chat session")
	return session, nil
}

// PeekSession returns a live session without creating or extending it.
func (sm *StateManager) PeekSession(chatID int64) (*Session, bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[chatID]
	if !exists || sm.now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

// ClearSession ends a chat's session. It reports whether one existed.
func (sm *StateManager) ClearSession(ctx context.Context, chatID int64) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[chatID]
	if exists {
		sm.endLocked(ctx, chatID, session)
	}
	return exists
}

// CleanupExpiredSessions removes expired sessions and returns how many.
func (sm *StateManager) CleanupExpiredSessions(ctx context.Context) int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	removed := 0
	for chatID, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			sm.endLocked(ctx, chatID, session)
			removed++
		}
	}
	return removed
}

func (sm *StateManager) endLocked(ctx context.Context, chatID int64, session *Session) {
	delete(sm.sessions, chatID)
	session.Control.OnRemove()
	if sm.observer != nil {
		sm.observer.SessionEnded(ctx)
	}
}

// GetActiveSessionsCount returns the number of active sessions
func (sm *StateManager) GetActiveSessionsCount() int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	return len(sm.sessions)
}

// StartCleanupRoutine starts a background routine to clean up expired
// sessions until ctx is done.
func (sm *StateManager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sm.CleanupExpiredSessions(ctx); n > 0 {
					telemetry.GetContextualLogger(ctx).WithField("removed", n).Debug("Expired chat sessions")
				}
			}
		}
	}()
}
