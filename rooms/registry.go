package rooms

import (
	"log/slog"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Utkarsh049/Aviola/domain"
	"github.com/Utkarsh049/Aviola/metrics"
)

// Room holds the participants of one room identifier. All mutation happens
// under mu; broadcast callbacks run under mu and must only enqueue.
type Room struct {
	mu           sync.Mutex
	participants map[string]domain.Session
	createdAt    time.Time
	lastEmpty    time.Time // zero while populated
	reaped       bool
}

func (r *Room) peersLocked(exclude string) []domain.Session {
	peers := make([]domain.Session, 0, len(r.participants))
	for id, s := range r.participants {
		if id == exclude {
			continue
		}
		peers = append(peers, s)
	}
	return peers
}

type roomView struct {
	r *Room
}

func (v roomView) Participant(clientID string) (domain.Session, bool) {
	s, ok := v.r.participants[clientID]
	return s, ok
}

func (v roomView) Each(fn func(clientID string, s domain.Session)) {
	for id, s := range v.r.participants {
		fn(id, s)
	}
}

// Registry maps room identifiers to rooms. The room map is lock-striped, so
// insertion and removal never contend with a room's own lock during
// broadcast.
type Registry struct {
	rooms cmap.ConcurrentMap[string, *Room]
	grace time.Duration
}

func New(grace time.Duration) *Registry {
	return &Registry{
		rooms: cmap.New[*Room](),
		grace: grace,
	}
}

// room returns the live room for roomID, creating it if absent.
func (g *Registry) room(roomID string) *Room {
	return g.rooms.Upsert(roomID, nil, func(exist bool, cur, _ *Room) *Room {
		if exist {
			return cur
		}
		metrics.ActiveRooms.Inc()
		return &Room{
			participants: make(map[string]domain.Session),
			createdAt:    time.Now(),
		}
	})
}

func (g *Registry) Attach(roomID, clientID string, s domain.Session, announce func(count int, peers []domain.Session)) error {
	for {
		r := g.room(roomID)

		r.mu.Lock()
		if r.reaped {
			// Lost a race with Sweep; the map entry is gone.
			r.mu.Unlock()
			continue
		}
		if _, dup := r.participants[clientID]; dup {
			r.mu.Unlock()
			return domain.ErrDuplicateClient
		}
		r.participants[clientID] = s
		r.lastEmpty = time.Time{}
		count := len(r.participants)
		peers := r.peersLocked(clientID)
		if announce != nil {
			announce(count, peers)
		}
		r.mu.Unlock()

		slog.Info("client joined room", "room", roomID, "clientId", clientID, "participants", count)
		return nil
	}
}

func (g *Registry) Detach(roomID, clientID string, announce func(count int, peers []domain.Session)) {
	r, ok := g.rooms.Get(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	if _, ok := r.participants[clientID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, clientID)
	count := len(r.participants)
	if count == 0 {
		r.lastEmpty = time.Now()
	}
	if announce != nil {
		announce(count, r.peersLocked(""))
	}
	r.mu.Unlock()

	slog.Info("client left room", "room", roomID, "clientId", clientID, "participants", count)
}

func (g *Registry) WithRoom(roomID string, fn func(room domain.RoomView)) bool {
	r, ok := g.rooms.Get(roomID)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reaped {
		return false
	}
	fn(roomView{r})
	return true
}

// Sweep removes rooms that have been empty for longer than the grace window.
// Returns the number of rooms removed.
func (g *Registry) Sweep(now time.Time) int {
	var stale []string
	g.rooms.IterCb(func(id string, r *Room) {
		r.mu.Lock()
		if r.expiredLocked(now, g.grace) {
			stale = append(stale, id)
		}
		r.mu.Unlock()
	})

	removed := 0
	for _, id := range stale {
		g.rooms.RemoveCb(id, func(_ string, r *Room, exists bool) bool {
			if !exists {
				return false
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			// Re-check: a join may have landed since the scan.
			if !r.expiredLocked(now, g.grace) {
				return false
			}
			r.reaped = true
			removed++
			return true
		})
	}

	if removed > 0 {
		metrics.ActiveRooms.Sub(float64(removed))
		metrics.RoomsReaped.Add(float64(removed))
		slog.Info("rooms reaped", "count", removed)
	}
	return removed
}

func (r *Room) expiredLocked(now time.Time, grace time.Duration) bool {
	return len(r.participants) == 0 && !r.lastEmpty.IsZero() && now.Sub(r.lastEmpty) > grace
}

func (g *Registry) Stats() (rooms, clients int) {
	g.rooms.IterCb(func(_ string, r *Room) {
		rooms++
		r.mu.Lock()
		clients += len(r.participants)
		r.mu.Unlock()
	})
	return rooms, clients
}
