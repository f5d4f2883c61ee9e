package bridgeserver

import (
	"context"
	"errors"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/hub"
	"github.com/mikqnpi/miqbot/internal/monoclock"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/session"
)

// runPrimaryGameLoop is the one session the bridge trusts to originate
// telemetry and carry out action requests. Its outbound channel was already
// attached to the hub during the handshake (so HelloAck could reflect
// whether the attach actually succeeded); this loop forwards from it and
// detaches (failing every pending action) the moment it disconnects.
func runPrimaryGameLoop(ctx context.Context, sess *session.Session, state *session.State, h *hub.Hub, outbound chan *protocolwire.ActionRequest) {
	defer h.DetachPrimaryGameSender()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case req, ok := <-outbound:
				if !ok {
					return
				}
				if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadActionRequest, ActionRequest: req}); err != nil {
					applog.L().Warn("send action request failed", "session_id", state.SessionID, "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() { <-done }()

	for {
		env, err := sess.Recv()
		if err != nil {
			logRecvEnd(state.SessionID, err)
			return
		}
		switch env.Kind {
		case protocolwire.PayloadTelemetry:
			h.PublishTelemetry(env.Telemetry)
		case protocolwire.PayloadHeartbeat:
			logHeartbeat(state.SessionID, env.Heartbeat)
		case protocolwire.PayloadTimeSyncRequest:
			respondTimeSync(sess, env.TimeSyncRequest)
		case protocolwire.PayloadActionAck:
			h.RouteActionAck(env.ActionAck)
		case protocolwire.PayloadActionResult:
			h.RouteActionResult(env.ActionResult)
		case protocolwire.PayloadError:
			applog.L().Warn("peer error", "session_id", state.SessionID, "code", env.Error.Code, "message", env.Error.Message)
		default:
		}
	}
}

// runObserverLoop serves a non-primary game client: telemetry is logged but
// never published to the hub, and no action channel is ever attached.
func runObserverLoop(ctx context.Context, sess *session.Session, state *session.State, h *hub.Hub) {
	for {
		env, err := sess.Recv()
		if err != nil {
			logRecvEnd(state.SessionID, err)
			return
		}
		switch env.Kind {
		case protocolwire.PayloadTelemetry:
			applog.L().Debug("observer telemetry ignored", "session_id", state.SessionID)
		case protocolwire.PayloadHeartbeat:
			logHeartbeat(state.SessionID, env.Heartbeat)
		case protocolwire.PayloadTimeSyncRequest:
			respondTimeSync(sess, env.TimeSyncRequest)
		case protocolwire.PayloadActionAck, protocolwire.PayloadActionResult:
			applog.L().Warn("action reply from non-primary session discarded", "session_id", state.SessionID)
		default:
		}
	}
}

// runOrchestratorLoop forwards the hub's latest-telemetry broadcast to the
// orchestrator and relays its ActionRequest envelopes through the hub,
// streaming back acks/results as they resolve. Its slot was already
// acquired during the handshake (so HelloAck could reflect whether
// acquisition actually succeeded).
func runOrchestratorLoop(ctx context.Context, sess *session.Session, state *session.State, h *hub.Hub, slot *hub.OrchestratorSlot) {
	defer slot.Release()

	replies := make(chan hub.ActionEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		telemetry, changed := h.SubscribeTelemetry()
		for {
			if telemetry != nil {
				if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadTelemetry, Telemetry: telemetry}); err != nil {
					applog.L().Warn("send telemetry to orchestrator failed", "session_id", state.SessionID, "error", err)
					return
				}
			}
			select {
			case <-changed:
				telemetry, changed = h.SubscribeTelemetry()
			case ev := <-replies:
				if err := forwardActionEvent(sess, ev); err != nil {
					applog.L().Warn("send action event to orchestrator failed", "session_id", state.SessionID, "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() { <-done }()

	for {
		env, err := sess.Recv()
		if err != nil {
			logRecvEnd(state.SessionID, err)
			return
		}
		switch env.Kind {
		case protocolwire.PayloadActionRequest:
			if err := h.EnqueueAction(env.ActionRequest, replies); err != nil {
				applog.L().Warn("enqueue action failed", "session_id", state.SessionID, "request_id", env.ActionRequest.RequestID, "error", err)
				sess.Send(&protocolwire.Envelope{
					Kind: protocolwire.PayloadActionAck,
					ActionAck: &protocolwire.ActionAck{
						RequestID: env.ActionRequest.RequestID,
						Accepted:  false,
						Reason:    err.Error(),
					},
				})
			}
		case protocolwire.PayloadHeartbeat:
			logHeartbeat(state.SessionID, env.Heartbeat)
		case protocolwire.PayloadTimeSyncRequest:
			respondTimeSync(sess, env.TimeSyncRequest)
		default:
		}
	}
}

func forwardActionEvent(sess *session.Session, ev hub.ActionEvent) error {
	if ev.Ack != nil {
		if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadActionAck, ActionAck: ev.Ack}); err != nil {
			return err
		}
	}
	if ev.Result != nil {
		if err := sess.Send(&protocolwire.Envelope{Kind: protocolwire.PayloadActionResult, ActionResult: ev.Result}); err != nil {
			return err
		}
	}
	return nil
}

func respondTimeSync(sess *session.Session, req *protocolwire.TimeSyncRequest) {
	now := monoclock.NowMs()
	sess.Send(&protocolwire.Envelope{
		Kind: protocolwire.PayloadTimeSyncResponse,
		TimeSyncResponse: &protocolwire.TimeSyncResponse{
			T0: req.T0,
			T1: now,
			T2: now,
		},
	})
}

func logHeartbeat(sessionID string, hb *protocolwire.Heartbeat) {
	applog.L().Debug("heartbeat", "session_id", sessionID, "rx", hb.RxQueueLen, "tx", hb.TxQueueLen, "dropped", hb.DroppedFrames)
}

func logRecvEnd(sessionID string, err error) {
	if errors.Is(err, session.ErrClosed) {
		applog.L().Info("session closed", "session_id", sessionID)
		return
	}
	applog.L().Warn("session recv error", "session_id", sessionID, "error", err)
}
