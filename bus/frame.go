package bus

import (
	"fmt"
	"sync"

	"github.com/maxpert/muster/encoding"
)

// envelope is the wire form of a Message. The body is encoded separately so
// the receiver can pick the payload type from the kind before decoding it.
type envelope struct {
	Kind Kind   `msgpack:"k"`
	Body []byte `msgpack:"b"`
}

type payloadDecoder func(data []byte) (any, error)

var (
	payloads   = make(map[Kind]payloadDecoder)
	payloadsMu sync.RWMutex
)

// RegisterPayload declares T as the body type for kind. Bodies published as
// T arrive at remote subscribers as T (not *T).
func RegisterPayload[T any](kind Kind) {
	payloadsMu.Lock()
	defer payloadsMu.Unlock()

	payloads[kind] = func(data []byte) (any, error) {
		var body T
		if err := encoding.Unmarshal(data, &body); err != nil {
			return nil, err
		}
		return body, nil
	}
}

// EncodeMessage turns msg into a frame.
func EncodeMessage(codec *encoding.Codec, msg Message) ([]byte, error) {
	body, err := encoding.Marshal(msg.Body)
	if err != nil {
		return nil, err
	}
	return codec.Encode(envelope{Kind: msg.Kind, Body: body})
}

// DecodeMessage parses a frame. Kinds without a registered payload are
// rejected.
func DecodeMessage(codec *encoding.Codec, frame []byte) (Message, error) {
	var env envelope
	if err := codec.Decode(frame, &env); err != nil {
		return Message{}, err
	}

	payloadsMu.RLock()
	decode, ok := payloads[env.Kind]
	payloadsMu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("no payload registered for kind %q", env.Kind)
	}

	body, err := decode(env.Body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to decode %s body: %w", env.Kind, err)
	}
	return Message{Kind: env.Kind, Body: body}, nil
}
