package bridgeserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/mikqnpi/miqbot/internal/hub"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/session"
)

// serverCapabilities is what this bridge build understands; negotiated
// capabilities are the intersection with whatever the peer's Hello offers.
var serverCapabilities = []int32{
	int32(protocolwire.CapTelemetryV1),
	int32(protocolwire.CapTimesyncV1),
	int32(protocolwire.CapActionV1),
	int32(protocolwire.CapHelloAckV1),
}

// handshakeResult carries the negotiated session state plus whatever hub
// resource role dispatch acquired during the handshake (the primary sender
// channel or an orchestrator slot), so the session loop doesn't re-acquire
// it and the accept/reject decision can never drift from what was sent on
// the wire.
type handshakeResult struct {
	state            *session.State
	primaryOutbound  chan *protocolwire.ActionRequest
	orchestratorSlot *hub.OrchestratorSlot
}

// handshake reads the mandatory first frame, validates it is a well-formed
// Hello, performs role dispatch (attaching the primary game sender or
// acquiring an orchestrator slot as appropriate), and sends exactly one
// reply frame reflecting the real outcome: a HelloAck for peers advertising
// CapHelloAckV1, or a legacy Hello/Error pair for peers that don't.
// handshake_id on the wire is always server-assigned (the session id); a
// client-supplied handshake_id in Hello is accepted but never echoed back.
func (s *Server) handshake(sess *session.Session) (*handshakeResult, error) {
	deadline := time.Now().Add(time.Duration(s.cfg.HelloTimeoutMs) * time.Millisecond)
	env, err := sess.RecvDeadline(deadline)
	if err != nil {
		return nil, fmt.Errorf("bridgeserver: hello: %w", err)
	}

	if env.ProtocolVersion != 0 && env.ProtocolVersion != protocolVersion {
		sess.SendError(protocolwire.ErrorCodeProtocolViolation, "protocol_version mismatch", "")
		return nil, fmt.Errorf("bridgeserver: protocol_version mismatch: got %d", env.ProtocolVersion)
	}
	if env.Kind != protocolwire.PayloadHello || env.Hello == nil {
		sess.SendError(protocolwire.ErrorCodeProtocolViolation, "expected hello", "")
		return nil, fmt.Errorf("bridgeserver: expected hello, got kind %d", env.Kind)
	}
	hello := env.Hello

	state := &session.State{
		SessionID: sess.SessionID,
		AgentID:   hello.AgentID,
		Role:      hello.Role,
		Caps:      intersectCaps(hello.Capabilities, serverCapabilities),
	}
	state.IsPrimaryGame = hello.Role == protocolwire.PeerRoleGameClient && s.hub.IsPrimaryGameAgent(hello.AgentID)

	result := &handshakeResult{state: state}
	accepted, reason := s.dispatchRole(hello, state, result)

	if hasCap(hello.Capabilities, protocolwire.CapHelloAckV1) {
		return s.finishHelloAckHandshake(sess, result, accepted, reason)
	}
	return s.finishLegacyHandshake(sess, result, accepted, reason)
}

// dispatchRole performs the hub-side attach/acquire for the negotiated role,
// per spec step 8, and reports whether the session is accepted.
func (s *Server) dispatchRole(hello *protocolwire.Hello, state *session.State, result *handshakeResult) (accepted bool, reason string) {
	switch hello.Role {
	case protocolwire.PeerRoleGameClient:
		if !state.IsPrimaryGame {
			return true, ""
		}
		outbound := make(chan *protocolwire.ActionRequest, 16)
		if err := s.hub.AttachPrimaryGameSender(outbound, state.AgentID); err != nil {
			return false, "primary game sender is unavailable"
		}
		result.primaryOutbound = outbound
		return true, ""
	case protocolwire.PeerRoleOrchestrator:
		slot, err := s.hub.AcquireOrchestratorSlot()
		if err != nil {
			if errors.Is(err, hub.ErrNotAllowed) {
				return false, "orchestrator subscriptions are disabled"
			}
			return false, "orchestrator subscription limit reached"
		}
		result.orchestratorSlot = slot
		return true, ""
	default:
		return false, "unsupported peer role"
	}
}

func (s *Server) finishHelloAckHandshake(sess *session.Session, result *handshakeResult, accepted bool, reason string) (*handshakeResult, error) {
	ack := &protocolwire.HelloAck{
		Accepted:               accepted,
		HandshakeID:            sess.SessionID,
		Reason:                 reason,
		NegotiatedCapabilities: result.state.Caps,
		ServerVersion:          s.cfg.ServerVersion,
	}
	if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadHelloAck, HelloAck: ack}); err != nil {
		s.releaseDispatch(result)
		return nil, fmt.Errorf("bridgeserver: send hello_ack: %w", err)
	}
	if !accepted {
		s.releaseDispatch(result)
		return nil, fmt.Errorf("bridgeserver: rejected: %s", reason)
	}
	return result, nil
}

// finishLegacyHandshake replies the way original_source's MVP1 bridge does
// for peers that never advertised CapHelloAckV1: a legacy Hello identifying
// the bridge on acceptance, or an Error{code=unauthorized} on rejection.
func (s *Server) finishLegacyHandshake(sess *session.Session, result *handshakeResult, accepted bool, reason string) (*handshakeResult, error) {
	if !accepted {
		s.releaseDispatch(result)
		sess.SendError(protocolwire.ErrorCodeUnauthorized, reason, "")
		return nil, fmt.Errorf("bridgeserver: rejected: %s", reason)
	}
	reply := &protocolwire.Hello{
		AgentID:       "bridge",
		Role:          protocolwire.PeerRoleBridgeServer,
		Capabilities:  serverCapabilities,
		ClientVersion: "miqbot-bridge-server/" + s.cfg.ServerVersion,
	}
	if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadHello, Hello: reply}); err != nil {
		s.releaseDispatch(result)
		return nil, fmt.Errorf("bridgeserver: send legacy hello: %w", err)
	}
	return result, nil
}

// releaseDispatch undoes whatever dispatchRole acquired: either the reply
// frame failed to send after an accept, or the peer was rejected outright.
func (s *Server) releaseDispatch(result *handshakeResult) {
	if result.orchestratorSlot != nil {
		result.orchestratorSlot.Release()
	}
	if result.primaryOutbound != nil {
		s.hub.DetachPrimaryGameSender()
	}
}

func hasCap(caps []int32, want protocolwire.Capability) bool {
	for _, c := range caps {
		if c == int32(want) {
			return true
		}
	}
	return false
}

func intersectCaps(requested, supported []int32) []int32 {
	supportedSet := make(map[int32]bool, len(supported))
	for _, c := range supported {
		supportedSet[c] = true
	}
	var out []int32
	for _, c := range requested {
		if supportedSet[c] {
			out = append(out, c)
		}
	}
	return out
}
