package wire

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrProtocol wraps any decode failure into the shape the error-handling
// design calls ProtocolError: the peer is still answered, balancing the
// request/reply pair, but with a generic failure description.
var ErrProtocol = errors.New("undecodable frame")

// Encode msgpack-encodes v into a frame ready for Conn.WriteMessage.
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode msgpack-decodes a frame into v. Decode failures are always
// reported as ErrProtocol-wrapped so callers can apply the uniform
// ProtocolError propagation policy.
func Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Join(ErrProtocol, err)
	}
	return nil
}

// Envelope is the {service, data} schema used by every request/reply
// interface in this system: the broker, the reference service, and peer RPC.
type Envelope struct {
	Service string      `msgpack:"service"`
	Data    interface{} `msgpack:"data"`
}

// Call writes req on conn and waits up to timeout for a reply envelope.
func Call(conn Conn, timeout time.Duration, req Envelope) (Envelope, error) {
	return call(conn, time.Now().Add(timeout), req)
}

// CallNoDeadline writes req on conn and blocks indefinitely for a reply,
// clearing any previously set read deadline first. Reference-service
// traffic uses this: spec.md §5 says "reference sends block indefinitely
// (the reference is assumed highly available)", unlike the 2-second
// deadline every peer RPC carries.
func CallNoDeadline(conn Conn, req Envelope) (Envelope, error) {
	return call(conn, time.Time{}, req)
}

func call(conn Conn, deadline time.Time, req Envelope) (Envelope, error) {
	data, err := Encode(req)
	if err != nil {
		return Envelope{}, err
	}
	if err := conn.WriteMessage(data); err != nil {
		return Envelope{}, err
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Envelope{}, err
	}
	raw, err := conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var reply Envelope
	if err := Decode(raw, &reply); err != nil {
		return Envelope{}, err
	}
	return reply, nil
}

// PubSubFrame carries a topic-addressed payload on the fan-out proxy: a
// multi-part topic-then-payload frame pair collapsed into a single
// envelope on the websocket transport, since one websocket message is
// already a discrete frame.
type PubSubFrame struct {
	Topic   string      `msgpack:"topic"`
	Payload interface{} `msgpack:"payload"`
}

// Publish writes a topic-addressed frame.
func Publish(conn Conn, topic string, payload interface{}) error {
	data, err := Encode(PubSubFrame{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}
