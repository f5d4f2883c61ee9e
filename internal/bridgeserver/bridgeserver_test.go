package bridgeserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikqnpi/miqbot/internal/hub"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
)

func testServer(t *testing.T) (*Server, *httptest.Server, func()) {
	t.Helper()
	h := hub.New(hub.Config{
		PrimaryGameAgentID:         "steve",
		AllowOrchestratorSubscribe: true,
		MaxOrchestratorSubscribers: 2,
		MinRelayIntervalMs:         0,
		ActionQueueSize:            8,
		ActionSendTimeout:          time.Second,
	})
	srv := New(Config{
		HelloTimeoutMs:    2000,
		MaxWSMessageBytes: 1 << 20,
		SendTimeout:        time.Second,
		ServerVersion:      "test",
	}, h, nil)
	httpSrv := httptest.NewServer(srv.Echo())
	return srv, httpSrv, httpSrv.Close
}

func dial(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendHello(t *testing.T, conn *websocket.Conn, agentID string, role protocolwire.PeerRole) {
	t.Helper()
	env := &protocolwire.Envelope{
		ProtocolVersion: 1,
		SessionID:       "client",
		Seq:             1,
		Kind:            protocolwire.PayloadHello,
		Hello: &protocolwire.Hello{
			AgentID:       agentID,
			Role:          role,
			Capabilities:  []int32{int32(protocolwire.CapTelemetryV1), int32(protocolwire.CapActionV1), int32(protocolwire.CapHelloAckV1)},
			ClientVersion: "test-client/0.1",
		},
	}
	wire, err := protocolwire.Encode(env)
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write hello: %v", err)
	}
}

func recvEnvelope(t *testing.T, conn *websocket.Conn) *protocolwire.Envelope {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocolwire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestHandshake_PrimaryGameAccepted(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()
	conn := dial(t, httpSrv)
	defer conn.Close()

	sendHello(t, conn, "steve", protocolwire.PeerRoleGameClient)
	env := recvEnvelope(t, conn)
	if env.Kind != protocolwire.PayloadHelloAck || env.HelloAck == nil || !env.HelloAck.Accepted {
		t.Fatalf("expected accepted hello_ack, got %+v", env)
	}
	if env.HelloAck.HandshakeID == "" {
		t.Fatal("expected a server-assigned handshake_id")
	}
}

func TestHandshake_ClientSuppliedHandshakeIDIsNeverEchoed(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()
	conn := dial(t, httpSrv)
	defer conn.Close()

	const clientHandshakeID = "client-chosen-id"
	env := &protocolwire.Envelope{
		ProtocolVersion: 1,
		SessionID:       "client",
		Seq:             1,
		Kind:            protocolwire.PayloadHello,
		Hello: &protocolwire.Hello{
			AgentID:       "steve",
			Role:          protocolwire.PeerRoleGameClient,
			Capabilities:  []int32{int32(protocolwire.CapTelemetryV1), int32(protocolwire.CapActionV1), int32(protocolwire.CapHelloAckV1)},
			ClientVersion: "test-client/0.1",
			HandshakeID:   clientHandshakeID,
		},
	}
	wire, err := protocolwire.Encode(env)
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	ack := recvEnvelope(t, conn)
	if ack.Kind != protocolwire.PayloadHelloAck || ack.HelloAck == nil || !ack.HelloAck.Accepted {
		t.Fatalf("expected accepted hello_ack, got %+v", ack)
	}
	if ack.HelloAck.HandshakeID == clientHandshakeID {
		t.Fatalf("server must assign its own handshake_id, not echo the client's %q", clientHandshakeID)
	}
	if ack.HelloAck.HandshakeID == "" {
		t.Fatal("expected a server-assigned handshake_id")
	}
}

func TestHandshake_OrchestratorRejectedWhenDisabled(t *testing.T) {
	h := hub.New(hub.Config{
		PrimaryGameAgentID:         "steve",
		AllowOrchestratorSubscribe: false,
		ActionSendTimeout:          time.Second,
	})
	srv := New(Config{HelloTimeoutMs: 2000, SendTimeout: time.Second}, h, nil)
	httpSrv := httptest.NewServer(srv.Echo())
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()
	sendHello(t, conn, "orch-1", protocolwire.PeerRoleOrchestrator)
	env := recvEnvelope(t, conn)
	if env.HelloAck == nil || env.HelloAck.Accepted {
		t.Fatalf("expected rejected hello_ack, got %+v", env)
	}
}

func TestHandshake_DuplicatePrimaryRejected(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()

	first := dial(t, httpSrv)
	defer first.Close()
	sendHello(t, first, "steve", protocolwire.PeerRoleGameClient)
	ack := recvEnvelope(t, first)
	if ack.HelloAck == nil || !ack.HelloAck.Accepted {
		t.Fatalf("expected first primary to be accepted, got %+v", ack)
	}

	second := dial(t, httpSrv)
	defer second.Close()
	sendHello(t, second, "steve", protocolwire.PeerRoleGameClient)
	rejected := recvEnvelope(t, second)
	if rejected.HelloAck == nil || rejected.HelloAck.Accepted {
		t.Fatalf("expected second primary to be rejected, got %+v", rejected)
	}
	if rejected.HelloAck.Reason != "primary game sender is unavailable" {
		t.Fatalf("unexpected rejection reason: %q", rejected.HelloAck.Reason)
	}
}

func TestHandshake_OrchestratorSlotLimitReached(t *testing.T) {
	h := hub.New(hub.Config{
		PrimaryGameAgentID:         "steve",
		AllowOrchestratorSubscribe: true,
		MaxOrchestratorSubscribers: 1,
		ActionSendTimeout:          time.Second,
	})
	srv := New(Config{HelloTimeoutMs: 2000, SendTimeout: time.Second}, h, nil)
	httpSrv := httptest.NewServer(srv.Echo())
	defer httpSrv.Close()

	first := dial(t, httpSrv)
	defer first.Close()
	sendHello(t, first, "orch-1", protocolwire.PeerRoleOrchestrator)
	ack := recvEnvelope(t, first)
	if ack.HelloAck == nil || !ack.HelloAck.Accepted {
		t.Fatalf("expected first orchestrator to be accepted, got %+v", ack)
	}

	second := dial(t, httpSrv)
	defer second.Close()
	sendHello(t, second, "orch-2", protocolwire.PeerRoleOrchestrator)
	rejected := recvEnvelope(t, second)
	if rejected.HelloAck == nil || rejected.HelloAck.Accepted {
		t.Fatalf("expected second orchestrator to be rejected, got %+v", rejected)
	}
	if rejected.HelloAck.Reason != "orchestrator subscription limit reached" {
		t.Fatalf("unexpected rejection reason: %q", rejected.HelloAck.Reason)
	}
}

func TestHandshake_LegacyPeerGetsLegacyHelloReply(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()
	conn := dial(t, httpSrv)
	defer conn.Close()

	env := &protocolwire.Envelope{
		ProtocolVersion: 1,
		SessionID:       "client",
		Seq:             1,
		Kind:            protocolwire.PayloadHello,
		Hello: &protocolwire.Hello{
			AgentID:       "steve",
			Role:          protocolwire.PeerRoleGameClient,
			Capabilities:  []int32{int32(protocolwire.CapTelemetryV1)},
			ClientVersion: "legacy-client/0.1",
		},
	}
	wire, err := protocolwire.Encode(env)
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	reply := recvEnvelope(t, conn)
	if reply.Kind != protocolwire.PayloadHello || reply.Hello == nil {
		t.Fatalf("expected a legacy hello reply, got %+v", reply)
	}
	if reply.Hello.AgentID != "bridge" || reply.Hello.Role != protocolwire.PeerRoleBridgeServer {
		t.Fatalf("unexpected legacy hello identity: %+v", reply.Hello)
	}
}

func TestHandshake_LegacyPeerRejectionGetsErrorFrame(t *testing.T) {
	h := hub.New(hub.Config{
		PrimaryGameAgentID:         "steve",
		AllowOrchestratorSubscribe: false,
		ActionSendTimeout:          time.Second,
	})
	srv := New(Config{HelloTimeoutMs: 2000, SendTimeout: time.Second}, h, nil)
	httpSrv := httptest.NewServer(srv.Echo())
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()
	env := &protocolwire.Envelope{
		ProtocolVersion: 1,
		SessionID:       "client",
		Seq:             1,
		Kind:            protocolwire.PayloadHello,
		Hello: &protocolwire.Hello{
			AgentID:       "orch-1",
			Role:          protocolwire.PeerRoleOrchestrator,
			Capabilities:  []int32{int32(protocolwire.CapTelemetryV1)},
			ClientVersion: "legacy-client/0.1",
		},
	}
	wire, err := protocolwire.Encode(env)
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	reply := recvEnvelope(t, conn)
	if reply.Kind != protocolwire.PayloadError || reply.Error == nil {
		t.Fatalf("expected an error frame, got %+v", reply)
	}
	if reply.Error.Code != protocolwire.ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized error code, got %v", reply.Error.Code)
	}
}

func TestEndToEnd_TelemetryRelayedToOrchestrator(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()

	game := dial(t, httpSrv)
	defer game.Close()
	sendHello(t, game, "steve", protocolwire.PeerRoleGameClient)
	recvEnvelope(t, game) // hello_ack

	orch := dial(t, httpSrv)
	defer orch.Close()
	sendHello(t, orch, "orch-1", protocolwire.PeerRoleOrchestrator)
	recvEnvelope(t, orch) // hello_ack

	telemetryEnv := &protocolwire.Envelope{
		ProtocolVersion: 1, Seq: 2,
		Kind: protocolwire.PayloadTelemetry,
		Telemetry: &protocolwire.TelemetryFrame{
			Dimension: protocolwire.DimensionOverworld, HealthPct: 20, FoodPct: 18, StateVersion: 1,
		},
	}
	wire, err := protocolwire.Encode(telemetryEnv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := game.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write telemetry: %v", err)
	}

	orch.SetReadDeadline(time.Now().Add(2 * time.Second))
	env := recvEnvelope(t, orch)
	if env.Kind != protocolwire.PayloadTelemetry || env.Telemetry.StateVersion != 1 {
		t.Fatalf("expected relayed telemetry, got %+v", env)
	}
}

func TestEndToEnd_ActionRequestRoundTrip(t *testing.T) {
	_, httpSrv, cleanup := testServer(t)
	defer cleanup()

	game := dial(t, httpSrv)
	defer game.Close()
	sendHello(t, game, "steve", protocolwire.PeerRoleGameClient)
	recvEnvelope(t, game)

	orch := dial(t, httpSrv)
	defer orch.Close()
	sendHello(t, orch, "orch-1", protocolwire.PeerRoleOrchestrator)
	recvEnvelope(t, orch)

	reqEnv := &protocolwire.Envelope{
		ProtocolVersion: 1, Seq: 2,
		Kind: protocolwire.PayloadActionRequest,
		ActionRequest: &protocolwire.ActionRequest{
			RequestID: "r1",
			Type:      protocolwire.ActionTypeStopAll,
		},
	}
	wire, err := protocolwire.Encode(reqEnv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := orch.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write action request: %v", err)
	}

	game.SetReadDeadline(time.Now().Add(2 * time.Second))
	forwarded := recvEnvelope(t, game)
	if forwarded.Kind != protocolwire.PayloadActionRequest || forwarded.ActionRequest.RequestID != "r1" {
		t.Fatalf("expected action request forwarded to game client, got %+v", forwarded)
	}

	ackEnv := &protocolwire.Envelope{
		ProtocolVersion: 1, Seq: 3,
		Kind:      protocolwire.PayloadActionAck,
		ActionAck: &protocolwire.ActionAck{RequestID: "r1", Accepted: true},
	}
	wire, err = protocolwire.Encode(ackEnv)
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	if err := game.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	orch.SetReadDeadline(time.Now().Add(2 * time.Second))
	ackBack := recvEnvelope(t, orch)
	if ackBack.Kind != protocolwire.PayloadActionAck || !ackBack.ActionAck.Accepted {
		t.Fatalf("expected accepted ack relayed to orchestrator, got %+v", ackBack)
	}
}
