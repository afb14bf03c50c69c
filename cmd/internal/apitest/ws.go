package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	v1 "portal/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 5 * time.Second

// handleWS authenticates the upgrade with the access cookie, then runs the
// hello handshake and streams the configured feed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	a, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		s.log.Error("apitest.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	ctx := r.Context()
	helloCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	hello, err := readEnvelope(helloCtx, conn)
	cancel()
	if err != nil || hello.Type != v1.TypeHello {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	sessionID := fmt.Sprintf("ws_%d", s.nextID.Add(1))
	ack, err := v1.New(v1.TypeHelloAck, "ack_"+hello.ID, time.Now(), v1.HelloAckPayload{SessionID: sessionID, Subject: a.ID})
	if err != nil || writeEnvelope(ctx, conn, ack) != nil {
		return
	}

	s.mu.Lock()
	feed := append([]string(nil), s.feed...)
	s.mu.Unlock()

	for i, text := range feed {
		env, err := v1.New(v1.TypeMessageNew, fmt.Sprintf("%s_%d", sessionID, i+1), time.Now(), v1.MessageNewPayload{Seq: int64(i + 1), Text: text})
		if err != nil || writeEnvelope(ctx, conn, env) != nil {
			return
		}
	}

	// Hold the connection until the client goes away.
	<-conn.CloseRead(ctx).Done()
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, env.Validate()
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope) error {
	ctx, cancel := context.WithTimeout(parent, wsWriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
