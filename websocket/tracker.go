package websocket

import (
	"sync"
	"time"

	"github.com/Utkarsh049/Aviola/metrics"
)

// Tracker holds every open session so shutdown can drain them, joined or not.
type Tracker struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[*Session]struct{})}
}

func (t *Tracker) add(s *Session) {
	t.mu.Lock()
	t.sessions[s] = struct{}{}
	t.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

func (t *Tracker) remove(s *Session) {
	t.mu.Lock()
	delete(t.sessions, s)
	t.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll closes every tracked session and waits up to deadline for their
// pumps to wind down.
func (t *Tracker) CloseAll(deadline time.Duration) {
	t.mu.Lock()
	open := make([]*Session, 0, len(t.sessions))
	for s := range t.sessions {
		open = append(open, s)
	}
	t.mu.Unlock()

	for _, s := range open {
		s.Close()
	}

	expire := time.After(deadline)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for t.Len() > 0 {
		select {
		case <-expire:
			return
		case <-tick.C:
		}
	}
}
