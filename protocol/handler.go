package protocol

import (
	"errors"
	"log/slog"

	"github.com/Utkarsh049/Aviola/domain"
	"github.com/Utkarsh049/Aviola/metrics"
)

// Handler routes inbound envelopes: it answers the sender, relays to a
// single target, or broadcasts to the rest of the room.
type Handler struct {
	registry domain.Registry
}

func NewHandler(registry domain.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) Handle(s domain.Session, data []byte) {
	env, err := decode(data)
	if err != nil {
		slog.Warn("invalid message", "sessionId", s.ID(), "error", err)
		h.protocolError(s, "invalid message format")
		return
	}

	switch env.Type {
	case domain.TypeJoinRoom:
		h.handleJoin(s, env)
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		h.handleRelay(s, env, data)
	case domain.TypeChatMessage:
		h.handleChat(s, env)
	default:
		slog.Warn("unknown message type", "sessionId", s.ID(), "type", env.Type)
		h.protocolError(s, "unknown type")
	}
}

func (h *Handler) handleJoin(s domain.Session, env *domain.Envelope) {
	if s.Joined() {
		h.protocolError(s, "already joined a room")
		return
	}
	if err := validate(env); err != nil {
		h.protocolError(s, err.Error())
		return
	}

	err := h.registry.Attach(env.RoomID, env.ClientID, s, func(count int, peers []domain.Session) {
		s.Bind(env.RoomID, env.ClientID)
		s.Send(encode(domain.Envelope{
			Type:             domain.TypeRoomJoined,
			RoomID:           env.RoomID,
			ParticipantCount: count,
		}))
		joined := encode(domain.Envelope{
			Type:             domain.TypeParticipantJoined,
			ClientID:         env.ClientID,
			ParticipantCount: count,
		})
		for _, p := range peers {
			p.Send(joined)
		}
	})
	if errors.Is(err, domain.ErrDuplicateClient) {
		slog.Warn("duplicate clientId rejected", "room", env.RoomID, "clientId", env.ClientID)
		s.Send(errorEnvelope("clientId already in use in room"))
		s.Close()
	}
}

// handleRelay forwards offer, answer, and ice-candidate envelopes to their
// single target. The original frame bytes are forwarded when possible so the
// payload stays untouched; a senderId rewrite re-encodes around the raw
// payload, which is still carried byte for byte.
func (h *Handler) handleRelay(s domain.Session, env *domain.Envelope, data []byte) {
	if !s.Joined() {
		h.protocolError(s, "join a room first")
		return
	}
	if err := validate(env); err != nil {
		h.protocolError(s, err.Error())
		return
	}

	switch env.SenderID {
	case s.ClientID():
	case "":
		env.SenderID = s.ClientID()
		data = encode(*env)
	default:
		h.senderMismatch(s, env.SenderID)
		return
	}

	delivered := false
	h.registry.WithRoom(env.RoomID, func(room domain.RoomView) {
		if target, ok := room.Participant(env.TargetID); ok {
			target.Send(data)
			delivered = true
		}
	})
	if delivered {
		metrics.EnvelopesRelayed.WithLabelValues(env.Type).Inc()
	} else {
		// The peer may already have left; the sender gets no reply.
		metrics.EnvelopesDropped.WithLabelValues(metrics.DropReasonNoTarget).Inc()
	}
}

func (h *Handler) handleChat(s domain.Session, env *domain.Envelope) {
	if !s.Joined() {
		h.protocolError(s, "join a room first")
		return
	}
	if err := validate(env); err != nil {
		h.protocolError(s, err.Error())
		return
	}

	switch env.SenderID {
	case s.ClientID():
	case "":
		env.SenderID = s.ClientID()
	default:
		h.senderMismatch(s, env.SenderID)
		return
	}

	out := encode(domain.Envelope{
		Type:      domain.TypeChatMessage,
		Message:   env.Message,
		MessageID: env.MessageID,
		SenderID:  env.SenderID,
		Timestamp: env.Timestamp,
	})
	found := h.registry.WithRoom(env.RoomID, func(room domain.RoomView) {
		room.Each(func(clientID string, p domain.Session) {
			if clientID == s.ClientID() {
				return
			}
			p.Send(out)
		})
	})
	if found {
		metrics.EnvelopesRelayed.WithLabelValues(domain.TypeChatMessage).Inc()
	} else {
		metrics.EnvelopesDropped.WithLabelValues(metrics.DropReasonNoRoom).Inc()
	}
}

// Disconnect detaches a closing session from its room and notifies the
// remaining participants. A session that never joined detaches nothing.
func (h *Handler) Disconnect(s domain.Session) {
	if !s.Joined() {
		return
	}
	h.registry.Detach(s.RoomID(), s.ClientID(), func(count int, peers []domain.Session) {
		left := encode(domain.Envelope{
			Type:             domain.TypeParticipantLeft,
			ClientID:         s.ClientID(),
			ParticipantCount: count,
		})
		for _, p := range peers {
			p.Send(left)
		}
	})
}

func (h *Handler) protocolError(s domain.Session, message string) {
	metrics.ProtocolErrors.Inc()
	s.Send(errorEnvelope(message))
	if s.RecordViolation() {
		slog.Warn("protocol error budget exceeded", "sessionId", s.ID(), "clientId", s.ClientID())
		s.Close()
	}
}

func (h *Handler) senderMismatch(s domain.Session, senderID string) {
	slog.Warn("senderId mismatch", "sessionId", s.ID(), "clientId", s.ClientID(), "senderId", senderID)
	s.Send(errorEnvelope("senderId does not match session identity"))
	s.Close()
}
