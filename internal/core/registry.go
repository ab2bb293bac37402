package core

import (
	"sync"
	"time"

	"github.com/moneymitra/backend/internal/store"
)

// EngineRegistry hands out one SessionEngine per user and evicts engines
// that have gone idle, so abandoned sessions release their subscriptions.
type EngineRegistry struct {
	mu      sync.Mutex
	store   store.Store
	gen     ReplyGenerator
	engines map[string]*engineEntry
}

type engineEntry struct {
	engine   *SessionEngine
	lastUsed time.Time
}

func NewEngineRegistry(st store.Store, gen ReplyGenerator) *EngineRegistry {
	return &EngineRegistry{
		store:   st,
		gen:     gen,
		engines: make(map[string]*engineEntry),
	}
}

// Engine returns the user's engine, creating it on first use.
func (r *EngineRegistry) Engine(userID string) *SessionEngine {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.engines[userID]
	if !ok {
		entry = &engineEntry{engine: NewSessionEngine(r.store, r.gen, userID)}
		r.engines[userID] = entry
	}
	entry.lastUsed = time.Now()
	return entry.engine
}

// Cleanup deactivates and removes engines unused for longer than maxAge.
func (r *EngineRegistry) Cleanup(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for userID, entry := range r.engines {
		if now.Sub(entry.lastUsed) > maxAge {
			entry.engine.Deactivate()
			delete(r.engines, userID)
		}
	}
}
