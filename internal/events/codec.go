package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownType is returned when the discriminator names no known event.
	ErrUnknownType = errors.New("unknown event type")

	// ErrMalformed is returned when a frame is not a JSON object or lacks required fields.
	ErrMalformed = errors.New("malformed event")
)

// validate is the package-level validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// envelope reads only the discriminator of a frame.
type envelope struct {
	Type Type `json:"type"`
}

type decoder func([]byte) (Event, error)

// inbound lists the events a server sends to a client.
var inbound = map[Type]decoder{
	TypeMessage:        decodeAs[Message],
	TypeTypingStart:    decodeAs[TypingStart],
	TypeTypingStop:     decodeAs[TypingStop],
	TypePresenceUpdate: decodeAs[PresenceUpdate],
	TypeReadMessage:    decodeAs[ReadMessage],
}

// outbound lists the events a client sends to a server.
var outbound = map[Type]decoder{
	TypeMessage:     decodeAs[SendMessage],
	TypeTypingStart: decodeAs[TypingStart],
	TypeTypingStop:  decodeAs[TypingStop],
	TypeReadMessage: decodeAs[ReadMessage],
}

// Encode serializes ev as a flat JSON object with its "type" field first.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformed)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.EventType(), err)
	}
	if len(payload) < 2 || payload[0] != '{' {
		return nil, fmt.Errorf("%w: %s payload is not an object", ErrMalformed, ev.EventType())
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 16)
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(ev.EventType())
	buf.Write(typ)
	if rest := payload[1:]; len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// DecodeInbound parses a frame received by a client.
func DecodeInbound(data []byte) (Event, error) {
	ev, err := decodeWith(inbound, data)
	if err != nil {
		return nil, err
	}

	// Inbound typing events must identify the typist.
	switch e := ev.(type) {
	case TypingStart:
		if e.SenderID == "" {
			return nil, fmt.Errorf("%w: %s without senderId", ErrMalformed, TypeTypingStart)
		}
	case TypingStop:
		if e.SenderID == "" {
			return nil, fmt.Errorf("%w: %s without senderId", ErrMalformed, TypeTypingStop)
		}
	}
	return ev, nil
}

// DecodeOutbound parses a frame sent by a client.
func DecodeOutbound(data []byte) (Event, error) {
	return decodeWith(outbound, data)
}

func decodeWith(table map[Type]decoder, data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	decode, ok := table[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return decode(data)
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, ev.EventType(), err)
	}
	return ev, nil
}
