package domain

import (
	"encoding/json"
	"errors"
)

// Message types exchanged on the signaling connection.
const (
	TypeJoinRoom     = "join-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"

	TypeRoomJoined        = "room-joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeError             = "error"
)

var (
	ErrDuplicateClient = errors.New("clientId already present in room")
	ErrSessionClosed   = errors.New("session closed")
	ErrQueueFull       = errors.New("outbound queue full")
)

// Envelope is one signaling message. SDP and candidate payloads are kept as
// raw JSON so relayed envelopes carry them byte for byte.
type Envelope struct {
	Type             string          `json:"type"`
	RoomID           string          `json:"roomId,omitempty"`
	ClientID         string          `json:"clientId,omitempty"`
	SenderID         string          `json:"senderId,omitempty"`
	TargetID         string          `json:"targetId,omitempty"`
	MessageID        string          `json:"messageId,omitempty"`
	Message          string          `json:"message,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"`
	Offer            json.RawMessage `json:"offer,omitempty"`
	Answer           json.RawMessage `json:"answer,omitempty"`
	Candidate        json.RawMessage `json:"candidate,omitempty"`
	ParticipantCount int             `json:"participantCount,omitempty"`
}

// Session is the server's view of one connected client transport.
type Session interface {
	// ID is the transport-scoped identifier, assigned at accept time.
	ID() string
	// ClientID and RoomID are empty until the session joins a room.
	ClientID() string
	RoomID() string
	Joined() bool
	// Bind records the room membership claimed by a join.
	Bind(roomID, clientID string)
	// Send enqueues an encoded envelope without blocking. A full queue
	// drops the session.
	Send(data []byte) error
	// RecordViolation counts one protocol error against the session's
	// budget and reports whether the budget is exhausted.
	RecordViolation() (exceeded bool)
	Close() error
}

// RoomView is a room's participant table as seen inside WithRoom.
type RoomView interface {
	Participant(clientID string) (Session, bool)
	Each(fn func(clientID string, s Session))
}

// Registry groups sessions by room identifier.
type Registry interface {
	// Attach inserts the session, creating the room if needed. The announce
	// callback runs under the room's lock with the new participant count and
	// the other participants, so replies ordered inside it cannot interleave
	// with a later join's fanout.
	Attach(roomID, clientID string, s Session, announce func(count int, peers []Session)) error
	// Detach removes the session if present; announce runs under the room's
	// lock with the remaining count and participants.
	Detach(roomID, clientID string, announce func(count int, peers []Session))
	// WithRoom runs fn under the room's lock; reports whether the room exists.
	WithRoom(roomID string, fn func(room RoomView)) bool
	Stats() (rooms, clients int)
}

// MessageHandler routes inbound frames and transport closures.
type MessageHandler interface {
	Handle(s Session, data []byte)
	Disconnect(s Session)
}
