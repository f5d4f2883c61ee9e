// Package session owns one mTLS+WebSocket connection: identity, sequence
// counters, and the send/recv operations every role-specific loop in
// internal/bridgeserver and internal/orchbridge is built on.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikqnpi/miqbot/internal/monoclock"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
)

// ErrSendTimeout is returned by Send when the underlying socket does not
// accept the frame within the configured send timeout.
var ErrSendTimeout = errors.New("session: send timeout")

// ErrClosed is returned by Recv when the peer sent a close frame or the
// connection was torn down.
var ErrClosed = errors.New("session: closed")

// ErrDecodeFailed is returned by Recv when a binary frame fails to decode.
var ErrDecodeFailed = errors.New("session: decode failed")

// ErrProtocolViolation is returned by Recv for frames that decode but
// violate a protocol invariant (unexpected protocol_version, etc).
var ErrProtocolViolation = errors.New("session: protocol violation")

// State is the mutable, session-owning-goroutine-only record described by
// the data model: session identity, sequence counters, negotiated role.
// Only the owning loop goroutine mutates AgentID/Role/Caps/IsPrimaryGame;
// Seq/LastPeerSeq are accessed through Session's atomic helpers.
type State struct {
	SessionID     string
	AgentID       string
	Role          protocolwire.PeerRole
	Caps          []int32
	IsPrimaryGame bool
}

// Session wraps one WebSocket connection (already past TLS/mTLS handshake)
// and enforces the seq/ack/send-timeout discipline from the data model.
type Session struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	serverSeq   uint64
	lastPeerSeq uint64

	SessionID   string
	SendTimeout time.Duration
	MaxMessage  int64
}

// New wraps conn as a Session. sendTimeout bounds every outbound write;
// maxMessage bounds inbound frame size (0 disables the limit).
func New(conn *websocket.Conn, sessionID string, sendTimeout time.Duration, maxMessage int64) *Session {
	if maxMessage > 0 {
		conn.SetReadLimit(maxMessage)
	}
	return &Session{
		conn:        conn,
		SessionID:   sessionID,
		SendTimeout: sendTimeout,
		MaxMessage:  maxMessage,
	}
}

// LastPeerSeq returns the most recently observed peer seq.
func (s *Session) LastPeerSeq() uint64 { return atomic.LoadUint64(&s.lastPeerSeq) }

// ServerSeq returns the most recently assigned outbound seq.
func (s *Session) ServerSeq() uint64 { return atomic.LoadUint64(&s.serverSeq) }

// Send assigns the next server seq, stamps ack/mono_ms/wall_unix_ms, encodes
// env, and writes it as a binary WebSocket frame within SendTimeout.
// Callers populate env's payload fields only; Send owns the envelope header.
func (s *Session) Send(env *protocolwire.Envelope) error {
	env.ProtocolVersion = 1
	env.SessionID = s.SessionID
	env.Seq = atomic.AddUint64(&s.serverSeq, 1)
	env.Ack = atomic.LoadUint64(&s.lastPeerSeq)
	env.MonoMs = monoclock.NowMs()
	env.WallUnixMs = monoclock.WallUnixMs()

	wire, err := protocolwire.Encode(env)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.SendTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.SendTimeout)); err != nil {
			return fmt.Errorf("session: set write deadline: %w", err)
		}
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return ErrClosed
		}
		ne, ok := err.(interface{ Timeout() bool })
		if ok && ne.Timeout() {
			return ErrSendTimeout
		}
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Recv reads one frame, skipping non-binary frames (ping/pong/text are
// silently ignored per the wire protocol contract), and updates
// LastPeerSeq on a successful binary decode.
func (s *Session) Recv() (*protocolwire.Envelope, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("session: read: %w", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		env, err := protocolwire.Decode(data)
		if err != nil {
			return nil, ErrDecodeFailed
		}
		if env.ProtocolVersion != 0 && env.ProtocolVersion != 1 {
			return nil, ErrProtocolViolation
		}
		atomic.StoreUint64(&s.lastPeerSeq, env.Seq)
		return env, nil
	}
}

// RecvDeadline reads one frame, failing with a timeout error if none
// arrives by deadline. Used for the hello phase's hello_timeout_ms.
func (s *Session) RecvDeadline(deadline time.Time) (*protocolwire.Envelope, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("session: set read deadline: %w", err)
	}
	defer s.conn.SetReadDeadline(time.Time{})
	return s.Recv()
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// SendError is a convenience wrapper for emitting an ErrorFrame.
func (s *Session) SendError(code protocolwire.ErrorCode, message, correlationID string) error {
	return s.Send(&protocolwire.Envelope{
		Kind: protocolwire.PayloadError,
		Error: &protocolwire.ErrorFrame{
			Code:          code,
			Message:       message,
			CorrelationID: correlationID,
		},
	})
}
