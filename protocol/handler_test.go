package protocol

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Utkarsh049/Aviola/domain"
	"github.com/Utkarsh049/Aviola/rooms"
)

type mockSession struct {
	id string

	mu       sync.Mutex
	roomID   string
	clientID string
	joined   bool
	sent     [][]byte
	closed   bool

	// exceeded makes RecordViolation report an exhausted error budget.
	exceeded bool
}

func (m *mockSession) ID() string { return m.id }

func (m *mockSession) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

func (m *mockSession) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *mockSession) Joined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined
}

func (m *mockSession) Bind(roomID, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = roomID
	m.clientID = clientID
	m.joined = true
}

func (m *mockSession) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockSession) RecordViolation() bool { return m.exceeded }

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSession) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *mockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSession) lastEnvelope(t *testing.T) domain.Envelope {
	t.Helper()
	sent := m.getSent()
	require.NotEmpty(t, sent)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(sent[len(sent)-1], &env))
	return env
}

func newHandler() *Handler {
	return NewHandler(rooms.New(60 * time.Second))
}

func join(t *testing.T, h *Handler, s *mockSession, roomID, clientID string) {
	t.Helper()
	h.Handle(s, encode(domain.Envelope{Type: domain.TypeJoinRoom, RoomID: roomID, ClientID: clientID}))
	require.True(t, s.Joined())
}

func TestHandler_JoinRoom(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}

	join(t, h, a, "r1", "A")
	ack := a.lastEnvelope(t)
	assert.Equal(t, domain.TypeRoomJoined, ack.Type)
	assert.Equal(t, "r1", ack.RoomID)
	assert.Equal(t, 1, ack.ParticipantCount)

	join(t, h, b, "r1", "B")
	ack = b.lastEnvelope(t)
	assert.Equal(t, domain.TypeRoomJoined, ack.Type)
	assert.Equal(t, 2, ack.ParticipantCount)

	note := a.lastEnvelope(t)
	assert.Equal(t, domain.TypeParticipantJoined, note.Type)
	assert.Equal(t, "B", note.ClientID)
	assert.Equal(t, 2, note.ParticipantCount)

	// The joiner never hears about itself.
	for _, raw := range b.getSent() {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.NotEqual(t, domain.TypeParticipantJoined, env.Type)
	}
}

func TestHandler_JoinErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame domain.Envelope
		setup func(t *testing.T, h *Handler, s *mockSession)
	}{
		{
			name:  "missing roomId",
			frame: domain.Envelope{Type: domain.TypeJoinRoom, ClientID: "A"},
		},
		{
			name:  "missing clientId",
			frame: domain.Envelope{Type: domain.TypeJoinRoom, RoomID: "r1"},
		},
		{
			name:  "double join",
			frame: domain.Envelope{Type: domain.TypeJoinRoom, RoomID: "r2", ClientID: "A"},
			setup: func(t *testing.T, h *Handler, s *mockSession) { join(t, h, s, "r1", "A") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler()
			s := &mockSession{id: "s-a"}
			before := 0
			if tt.setup != nil {
				tt.setup(t, h, s)
				before = len(s.getSent())
			}

			h.Handle(s, encode(tt.frame))

			sent := s.getSent()
			require.Len(t, sent, before+1)
			env := s.lastEnvelope(t)
			assert.Equal(t, domain.TypeError, env.Type)
			assert.NotEmpty(t, env.Message)
			assert.False(t, s.isClosed())
		})
	}
}

func TestHandler_DuplicateClientRejected(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	join(t, h, a, "r1", "A")

	intruder := &mockSession{id: "s-a2"}
	h.Handle(intruder, encode(domain.Envelope{Type: domain.TypeJoinRoom, RoomID: "r1", ClientID: "A"}))

	env := intruder.lastEnvelope(t)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.True(t, intruder.isClosed())
	assert.False(t, intruder.Joined())
	assert.False(t, a.isClosed())
}

func TestHandler_SignalingBeforeJoin(t *testing.T) {
	h := newHandler()
	s := &mockSession{id: "s-a"}

	h.Handle(s, encode(domain.Envelope{
		Type: domain.TypeOffer, RoomID: "r1", TargetID: "B",
		Offer: json.RawMessage(`{"sdp":"x"}`),
	}))

	env := s.lastEnvelope(t)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.False(t, s.isClosed())
}

func TestHandler_RelayVerbatim(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()

	frame := []byte(`{"type":"offer","roomId":"r1","senderId":"A","targetId":"B","offer":{"sdp":"v=0 o=caller","type":"offer"}}`)
	h.Handle(a, frame)

	sent := b.getSent()
	require.Len(t, sent, 1)
	// senderId already matched, so the frame passes through untouched.
	assert.Equal(t, frame, sent[0])
}

func TestHandler_RelayRewritesAbsentSender(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()

	payload := `{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 54400 typ host","sdpMid":"0"}`
	h.Handle(a, []byte(`{"type":"ice-candidate","roomId":"r1","targetId":"B","candidate":`+payload+`}`))

	env := b.lastEnvelope(t)
	assert.Equal(t, domain.TypeICECandidate, env.Type)
	assert.Equal(t, "A", env.SenderID)
	assert.JSONEq(t, payload, string(env.Candidate))
}

func TestHandler_RelayOrderPreserved(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()

	c1 := []byte(`{"type":"ice-candidate","roomId":"r1","senderId":"A","targetId":"B","candidate":{"n":1}}`)
	c2 := []byte(`{"type":"ice-candidate","roomId":"r1","senderId":"A","targetId":"B","candidate":{"n":2}}`)
	h.Handle(a, c1)
	h.Handle(a, c2)

	sent := b.getSent()
	require.Len(t, sent, 2)
	assert.Equal(t, c1, sent[0])
	assert.Equal(t, c2, sent[1])
}

func TestHandler_RelayMissingTargetSilent(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	join(t, h, a, "r1", "A")
	before := len(a.getSent())

	h.Handle(a, []byte(`{"type":"answer","roomId":"r1","senderId":"A","targetId":"B","answer":{"sdp":"x"}}`))
	h.Handle(a, []byte(`{"type":"offer","roomId":"nosuch","senderId":"A","targetId":"B","offer":{"sdp":"x"}}`))

	assert.Len(t, a.getSent(), before)
	assert.False(t, a.isClosed())
}

func TestHandler_SenderMismatchCloses(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")

	h.Handle(a, []byte(`{"type":"offer","roomId":"r1","senderId":"B","targetId":"B","offer":{"sdp":"x"}}`))

	env := a.lastEnvelope(t)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.True(t, a.isClosed())
}

func TestHandler_ChatFanoutExcludesSender(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	c := &mockSession{id: "s-c"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")
	join(t, h, c, "r1", "C")
	before := len(a.getSent())

	h.Handle(a, encode(domain.Envelope{
		Type: domain.TypeChatMessage, RoomID: "r1",
		MessageID: "m1", Message: "hi", Timestamp: "2026-08-29T12:00:00.000Z",
	}))

	for _, recv := range []*mockSession{b, c} {
		env := recv.lastEnvelope(t)
		assert.Equal(t, domain.TypeChatMessage, env.Type)
		assert.Equal(t, "m1", env.MessageID)
		assert.Equal(t, "hi", env.Message)
		assert.Equal(t, "A", env.SenderID)
		assert.Equal(t, "2026-08-29T12:00:00.000Z", env.Timestamp)
	}
	assert.Len(t, a.getSent(), before)
}

func TestHandler_UnknownType(t *testing.T) {
	h := newHandler()
	s := &mockSession{id: "s-a"}

	h.Handle(s, []byte(`{"type":"frobnicate"}`))

	sent := s.getSent()
	require.Len(t, sent, 1)
	env := s.lastEnvelope(t)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.Equal(t, "unknown type", env.Message)
	assert.False(t, s.isClosed())
}

func TestHandler_MalformedFrame(t *testing.T) {
	h := newHandler()
	s := &mockSession{id: "s-a"}

	h.Handle(s, []byte(`{not json`))

	env := s.lastEnvelope(t)
	assert.Equal(t, domain.TypeError, env.Type)
	assert.False(t, s.isClosed())
}

func TestHandler_ErrorBudgetEscalates(t *testing.T) {
	h := newHandler()
	s := &mockSession{id: "s-a", exceeded: true}

	h.Handle(s, []byte(`{"type":"frobnicate"}`))

	assert.True(t, s.isClosed())
}

func TestHandler_DisconnectNotifiesPeers(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	b := &mockSession{id: "s-b"}
	join(t, h, a, "r1", "A")
	join(t, h, b, "r1", "B")

	h.Disconnect(b)

	env := a.lastEnvelope(t)
	assert.Equal(t, domain.TypeParticipantLeft, env.Type)
	assert.Equal(t, "B", env.ClientID)
	assert.Equal(t, 1, env.ParticipantCount)

	// Signaling at the departed peer is now dropped silently.
	before := len(a.getSent())
	h.Handle(a, []byte(`{"type":"ice-candidate","roomId":"r1","senderId":"A","targetId":"B","candidate":{}}`))
	assert.Len(t, a.getSent(), before)
}

func TestHandler_DisconnectBeforeJoin(t *testing.T) {
	h := newHandler()
	a := &mockSession{id: "s-a"}
	join(t, h, a, "r1", "A")
	before := len(a.getSent())

	h.Disconnect(&mockSession{id: "s-x"})

	assert.Len(t, a.getSent(), before)
}
