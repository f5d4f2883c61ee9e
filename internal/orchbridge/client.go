// Package orchbridge is the orchestrator's outbound mTLS+WebSocket client
// (spec component C6): it dials the bridge, completes the Hello/HelloAck
// handshake, and exposes a single next_event()-style stream unifying
// telemetry, action replies, heartbeats, and connection close.
package orchbridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/session"
	"github.com/mikqnpi/miqbot/internal/stateactor"
)

const handshakeTimeout = 5 * time.Second

// Client is a connected, handshaken bridge session from the orchestrator's
// side. It implements stateactor.Bridge.
type Client struct {
	sess *session.Session
}

// Connect dials bridgeURL over TLS, upgrades to WebSocket, and completes the
// Hello/HelloAck handshake as an orchestrator peer.
func Connect(ctx context.Context, bridgeURL, agentID, clientVersion string, tlsCfg *tls.Config, sendTimeout time.Duration, maxMessageBytes int64) (*Client, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, bridgeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("orchbridge: dial %s: %w", bridgeURL, err)
	}

	sess := session.New(conn, uuid.NewString(), sendTimeout, maxMessageBytes)
	c := &Client{sess: sess}

	if err := c.sendHello(agentID, clientVersion); err != nil {
		sess.Close()
		return nil, err
	}
	if err := c.waitForHandshake(); err != nil {
		sess.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) sendHello(agentID, clientVersion string) error {
	return c.sess.Send(&protocolwire.Envelope{
		Kind: protocolwire.PayloadHello,
		Hello: &protocolwire.Hello{
			AgentID:       agentID,
			Role:          protocolwire.PeerRoleOrchestrator,
			Capabilities:  []int32{int32(protocolwire.CapTelemetryV1), int32(protocolwire.CapTimesyncV1), int32(protocolwire.CapHelloAckV1), int32(protocolwire.CapActionV1)},
			ClientVersion: clientVersion,
			HandshakeID:   uuid.NewString(),
		},
	})
}

func (c *Client) waitForHandshake() error {
	deadline := time.Now().Add(handshakeTimeout)
	for {
		env, err := c.sess.RecvDeadline(deadline)
		if err != nil {
			return fmt.Errorf("orchbridge: handshake: %w", err)
		}
		switch env.Kind {
		case protocolwire.PayloadHelloAck:
			if !env.HelloAck.Accepted {
				return fmt.Errorf("orchbridge: bridge rejected handshake: %s", env.HelloAck.Reason)
			}
			return nil
		case protocolwire.PayloadError:
			return fmt.Errorf("orchbridge: bridge error during handshake: %s (%s)", env.Error.Message, env.Error.CorrelationID)
		default:
			continue
		}
	}
}

// NextEvent blocks until the bridge delivers a telemetry frame, an action
// ack/result, a heartbeat, or the connection closes.
func (c *Client) NextEvent(ctx context.Context) (stateactor.Event, error) {
	type result struct {
		env *protocolwire.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := c.sess.Recv()
		ch <- result{env, err}
	}()

	select {
	case <-ctx.Done():
		return stateactor.Event{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if r.err == session.ErrClosed {
				return stateactor.Event{Kind: stateactor.EventClosed}, nil
			}
			return stateactor.Event{}, r.err
		}
		return toEvent(r.env), nil
	}
}

func toEvent(env *protocolwire.Envelope) stateactor.Event {
	switch env.Kind {
	case protocolwire.PayloadTelemetry:
		return stateactor.Event{Kind: stateactor.EventTelemetry, Telemetry: env.Telemetry}
	case protocolwire.PayloadActionAck:
		return stateactor.Event{Kind: stateactor.EventActionAck, Ack: env.ActionAck}
	case protocolwire.PayloadActionResult:
		return stateactor.Event{Kind: stateactor.EventActionResult, Result: env.ActionResult}
	case protocolwire.PayloadHeartbeat:
		return stateactor.Event{Kind: stateactor.EventHeartbeat, Heartbeat: env.Heartbeat}
	case protocolwire.PayloadError:
		applog.L().Warn("bridge error", "code", env.Error.Code, "message", env.Error.Message, "correlation_id", env.Error.CorrelationID)
		return stateactor.Event{Kind: stateactor.EventHeartbeat}
	default:
		return stateactor.Event{Kind: stateactor.EventHeartbeat}
	}
}

// SendActionRequest sends req as an ActionRequest envelope.
func (c *Client) SendActionRequest(ctx context.Context, req *protocolwire.ActionRequest) error {
	return c.sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadActionRequest, ActionRequest: req})
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.sess.Close() }

// ParseBridgeHost extracts the dial host from bridgeURL, for callers that
// need it (e.g. mDNS discovery fallback).
func ParseBridgeHost(bridgeURL string) (string, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", fmt.Errorf("orchbridge: parse bridge_url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("orchbridge: bridge_url missing host: %s", bridgeURL)
	}
	return u.Host, nil
}
