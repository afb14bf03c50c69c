// Package v1 defines the realtime feed wire contract shared by the client and
// the test server.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "arc.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake and names the authenticated subject (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeMessageNew carries a feed item (server -> client).
	TypeMessageNew = "message_new"
	// TypeSessionNotice reports a session lifecycle change (server -> client).
	TypeSessionNotice = "session_notice"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeMessageNew,
		TypeSessionNotice,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New builds an envelope with payload p encoded as JSON.
func New(typ, id string, ts time.Time, p any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC()}
	if p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

// HelloAckPayload names the feed session and the authenticated subject.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Subject   string `json:"sub"`
}

// MessageNewPayload is a single feed item.
type MessageNewPayload struct {
	Seq  int64  `json:"seq"`
	Text string `json:"text"`
}

// SessionNoticePayload reports a session change such as "refreshed" or "logged_out".
type SessionNoticePayload struct {
	Kind string `json:"kind"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
