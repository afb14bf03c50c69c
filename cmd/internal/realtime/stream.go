package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	v1 "portal/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// ErrClosed is returned by Next once the feed has ended.
var ErrClosed = errors.New("realtime stream closed")

// Stream is an open feed.
type Stream struct {
	conn      *websocket.Conn
	log       *slog.Logger
	sessionID string
	subject   string
}

// SessionID is the server-assigned feed session id.
func (s *Stream) SessionID() string { return s.sessionID }

// Subject is the authenticated subject the server reported.
func (s *Stream) Subject() string { return s.subject }

func (s *Stream) hello(ctx context.Context, id string, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	env, err := v1.New(v1.TypeHello, id, time.Now(), v1.HelloPayload{Client: opts.ClientName})
	if err != nil {
		return err
	}
	if err := s.write(ctx, env); err != nil {
		return fmt.Errorf("%w: write hello: %v", ErrHandshake, err)
	}

	ack, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("%w: read hello_ack: %v", ErrHandshake, err)
	}
	if ack.Type != v1.TypeHelloAck {
		return fmt.Errorf("%w: got %q", ErrHandshake, ack.Type)
	}
	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	s.sessionID = p.SessionID
	s.subject = p.Subject
	s.log.Info("realtime.hello.ok", "session_id", s.sessionID, "sub", s.subject)
	return nil
}

// Next blocks for the next envelope. A normal close or a closed connection
// yields ErrClosed.
func (s *Stream) Next(ctx context.Context) (v1.Envelope, error) {
	env, err := s.read(ctx)
	if err == nil {
		return env, nil
	}
	if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return v1.Envelope{}, ErrClosed
	}
	return v1.Envelope{}, err
}

// Close ends the feed.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Stream) read(ctx context.Context) (v1.Envelope, error) {
	mt, data, err := s.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func (s *Stream) write(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, b)
}
