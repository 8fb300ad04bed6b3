package geocoding

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks in-flight async requests by token. An entry lives exactly
// as long as its request: release removes it on every completion path.
type Registry struct {
	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]context.CancelFunc)}
}

// Acquire registers a new request derived from parent. release must be
// called once the request finishes; calling it more than once is safe.
func (r *Registry) Acquire(parent context.Context) (token string, ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	token = uuid.New().String()

	r.mu.Lock()
	r.pending[token] = cancel
	r.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.pending, token)
			r.mu.Unlock()
			cancel()
		})
	}
	return token, ctx, release
}

// Abort cancels the request for token. It reports whether the token was pending.
func (r *Registry) Abort(token string) bool {
	r.mu.Lock()
	cancel, ok := r.pending[token]
	delete(r.pending, token)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// AbortAll cancels every pending request.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.pending))
	for token, cancel := range r.pending {
		cancels = append(cancels, cancel)
		delete(r.pending, token)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
