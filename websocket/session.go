package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Utkarsh049/Aviola/config"
	"github.com/Utkarsh049/Aviola/domain"
	"github.com/Utkarsh049/Aviola/metrics"
)

const writeWait = 10 * time.Second

type sessionState int

const (
	stateAlive sessionState = iota
	stateDraining
	stateClosed
)

// Session owns one client transport. Envelopes travel inbound through the
// read pump into the handler, and outbound through a bounded queue drained
// by the write pump. A queue that overflows drops the whole session rather
// than stalling producers.
type Session struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	handler domain.MessageHandler
	tracker *Tracker
	cfg     config.Config

	// Allows a burst of 10 protocol errors, refilled one per 3s.
	violations *rate.Limiter

	mu          sync.Mutex
	state       sessionState
	roomID      string
	clientID    string
	joined      bool
	started     bool
	wasDraining bool
	joinTimer   *time.Timer

	closeOnce sync.Once
}

func NewSession(id string, ws *websocket.Conn, handler domain.MessageHandler, tracker *Tracker, cfg config.Config) *Session {
	return &Session{
		id:         id,
		ws:         ws,
		send:       make(chan []byte, cfg.OutboundQueueDepth),
		done:       make(chan struct{}),
		handler:    handler,
		tracker:    tracker,
		cfg:        cfg,
		violations: rate.NewLimiter(rate.Every(3*time.Second), 10),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *Session) Bind(roomID, clientID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.clientID = clientID
	s.joined = true
	if s.joinTimer != nil {
		s.joinTimer.Stop()
		s.joinTimer = nil
	}
	s.mu.Unlock()
}

func (s *Session) RecordViolation() bool {
	return !s.violations.Allow()
}

// Send enqueues an envelope without blocking. The state check and the
// enqueue share the lock, so nothing lands in the queue of a draining or
// closed session. A full queue marks the session draining and closes it
// asynchronously; the close must not run inline because producers may hold
// the room lock.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	if s.state != stateAlive {
		s.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.DropReasonClosed).Inc()
		return domain.ErrSessionClosed
	}

	select {
	case s.send <- data:
		s.mu.Unlock()
		return nil
	default:
		s.state = stateDraining
		s.wasDraining = true
		s.mu.Unlock()
		metrics.EnvelopesDropped.WithLabelValues(metrics.DropReasonQueueFull).Inc()
		slog.Warn("outbound queue full, dropping session", "sessionId", s.id, "clientId", s.ClientID())
		go s.Close()
		return domain.ErrQueueFull
	}
}

func (s *Session) setDraining() {
	s.mu.Lock()
	if s.state == stateAlive {
		s.state = stateDraining
	}
	s.wasDraining = true
	s.mu.Unlock()
}

// Close tears the session down exactly once and detaches it from the room.
// The transport is released by the write pump after it flushes whatever was
// queued before the close, so a policy rejection still delivers its error
// envelope.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		started := s.started
		if s.joinTimer != nil {
			s.joinTimer.Stop()
			s.joinTimer = nil
		}
		s.mu.Unlock()

		close(s.done)
		if !started {
			s.ws.Close()
		}
		s.tracker.remove(s)
		s.handler.Disconnect(s)
	})
	return nil
}

// Start registers the session and launches its pumps. The join timeout is
// armed here; it fires unless Bind disarms it first.
func (s *Session) Start() {
	s.tracker.add(s)

	s.mu.Lock()
	s.started = true
	s.joinTimer = time.AfterFunc(s.cfg.JoinTimeout, func() {
		slog.Warn("join timeout", "sessionId", s.id)
		s.Close()
	})
	s.mu.Unlock()

	go s.writePump()
	go s.readPump()
}

func (s *Session) readPump() {
	defer s.Close()

	s.ws.SetReadLimit(int64(s.cfg.MaxFrameBytes))
	s.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("oversize frame, dropping session", "sessionId", s.id, "clientId", s.ClientID(), "limit", s.cfg.MaxFrameBytes)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("read error", "sessionId", s.id, "clientId", s.ClientID(), "error", err)
			}
			return
		}
		// Only inbound frames reset the idle clock; pongs do not count.
		s.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		s.handler.Handle(s, data)
	}
}

func (s *Session) writePump() {
	pingPeriod := (s.cfg.IdleTimeout * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.setDraining()
				go s.Close()
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.setDraining()
				go s.Close()
				return
			}
		case <-s.done:
			if s.flushOnClose() {
				s.flushQueued()
			} else {
				s.ws.SetWriteDeadline(time.Now().Add(writeWait))
				s.ws.WriteMessage(websocket.CloseMessage, []byte{})
			}
			return
		}
	}
}

// flushOnClose reports whether queued envelopes should still be written. A
// session that went through draining was dropped for a stalled or failing
// transport, so its queue is discarded; a direct policy close flushes, which
// is what delivers rejection error envelopes.
func (s *Session) flushOnClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.wasDraining
}

// flushQueued writes the envelopes accepted before the close, then the close
// frame. Send stopped admitting new entries when the state left alive, so
// this terminates.
func (s *Session) flushQueued() {
	for {
		select {
		case data := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			s.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
