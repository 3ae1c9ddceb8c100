package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Utkarsh049/Aviola/domain"
)

// decode parses one frame into an envelope. Unknown fields are ignored.
func decode(data []byte) (*domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// encode marshals a server-originated envelope. The envelope type contains
// nothing that can fail to marshal.
func encode(env domain.Envelope) []byte {
	data, _ := json.Marshal(env)
	return data
}

func errorEnvelope(message string) []byte {
	return encode(domain.Envelope{Type: domain.TypeError, Message: message})
}

func errMissing(field string) error {
	return fmt.Errorf("missing required field %q", field)
}

// validate checks the per-type required fields of an inbound envelope.
func validate(env *domain.Envelope) error {
	switch env.Type {
	case domain.TypeJoinRoom:
		if env.RoomID == "" {
			return errMissing("roomId")
		}
		if env.ClientID == "" {
			return errMissing("clientId")
		}
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		if env.RoomID == "" {
			return errMissing("roomId")
		}
		if env.TargetID == "" {
			return errMissing("targetId")
		}
		if err := validatePayload(env); err != nil {
			return err
		}
	case domain.TypeChatMessage:
		if env.RoomID == "" {
			return errMissing("roomId")
		}
		if env.MessageID == "" {
			return errMissing("messageId")
		}
		if env.Message == "" {
			return errMissing("message")
		}
		if env.Timestamp == "" {
			return errMissing("timestamp")
		}
	}
	return nil
}

func validatePayload(env *domain.Envelope) error {
	switch env.Type {
	case domain.TypeOffer:
		if len(env.Offer) == 0 {
			return errMissing("offer")
		}
	case domain.TypeAnswer:
		if len(env.Answer) == 0 {
			return errMissing("answer")
		}
	case domain.TypeICECandidate:
		if len(env.Candidate) == 0 {
			return errMissing("candidate")
		}
	}
	return nil
}
