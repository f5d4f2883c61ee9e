package protocolwire

// PeerRole identifies which side of the relay a session belongs to.
type PeerRole int32

const (
	PeerRoleUnspecified  PeerRole = 0
	PeerRoleGameClient   PeerRole = 1
	PeerRoleOrchestrator PeerRole = 2
	PeerRoleBridgeServer PeerRole = 3
)

// Capability is a bit the handshake negotiates.
type Capability int32

const (
	CapUnspecified   Capability = 0
	CapTelemetryV1   Capability = 1
	CapTimesyncV1    Capability = 2
	CapActionV1      Capability = 3
	CapHelloAckV1    Capability = 4
)

// Dimension names the game world a telemetry sample was taken in.
type Dimension int32

const (
	DimensionUnspecified  Dimension = 0
	DimensionOverworld    Dimension = 1
	DimensionNether       Dimension = 2
	DimensionTheEnd       Dimension = 3
)

// ActionType enumerates the action requests the allowlist recognizes.
type ActionType int32

const (
	ActionTypeUnspecified  ActionType = 0
	ActionTypeStopAll      ActionType = 1
	ActionTypeBaritoneGoto ActionType = 2
)

// ActionStatus is the terminal outcome carried by an ActionResult.
type ActionStatus int32

const (
	ActionStatusUnspecified ActionStatus = 0
	ActionStatusOK          ActionStatus = 1
	ActionStatusFailed      ActionStatus = 2
	ActionStatusTimeout     ActionStatus = 3
	ActionStatusRejected    ActionStatus = 4
)

// ErrorCode classifies an ErrorFrame, matching the error taxonomy used
// throughout the relay (decode/protocol errors, hub rejections, timeouts).
type ErrorCode int32

const (
	ErrorCodeUnspecified       ErrorCode = 0
	ErrorCodeDecodeFailed      ErrorCode = 1
	ErrorCodeProtocolViolation ErrorCode = 2
	ErrorCodeUnauthorized      ErrorCode = 3
	ErrorCodeTimeout           ErrorCode = 4
	ErrorCodePrimaryUnavailable ErrorCode = 5
	ErrorCodeQueueOverflow     ErrorCode = 6
	ErrorCodeDeadlineExpired   ErrorCode = 7
	ErrorCodeTransportClosed   ErrorCode = 8
	ErrorCodeIOError           ErrorCode = 9
)

// PayloadKind discriminates which field of Envelope.Payload is set, standing
// in for the protobuf oneof a generated .pb.go would carry.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadHello
	PayloadHelloAck
	PayloadTelemetry
	PayloadHeartbeat
	PayloadTimeSyncRequest
	PayloadTimeSyncResponse
	PayloadActionRequest
	PayloadActionAck
	PayloadActionResult
	PayloadError
)

// Envelope is the top-level frame exchanged over the WebSocket connection.
// Field numbers below are the wire tags; they must never be renumbered once
// a version ships, matching ordinary protobuf evolution discipline.
type Envelope struct {
	ProtocolVersion int32  // 1
	SessionID       string // 2
	Seq             uint64 // 3, monotonically increasing per sender within a session
	Ack             uint64 // 4, last observed peer seq
	MonoMs          uint64 // 5, sender monotonic clock, relative to the process-wide t0 origin
	WallUnixMs      uint64 // 6
	Kind            PayloadKind

	Hello            *Hello
	HelloAck         *HelloAck
	Telemetry        *TelemetryFrame
	Heartbeat        *Heartbeat
	TimeSyncRequest  *TimeSyncRequest
	TimeSyncResponse *TimeSyncResponse
	ActionRequest    *ActionRequest
	ActionAck        *ActionAck
	ActionResult     *ActionResult
	Error            *ErrorFrame
}

// Hello is the first frame a connecting peer must send.
type Hello struct {
	AgentID         string       // 1
	Role            PeerRole     // 2
	Capabilities    []int32      // 3, packed Capability values
	ClientVersion   string       // 4
	HandshakeID     string       // 5, client-supplied, never echoed back
}

// HelloAck is the bridge's handshake reply (accept or reject) when the peer
// advertised CapHelloAckV1.
type HelloAck struct {
	Accepted              bool    // 1
	HandshakeID           string  // 2, server-assigned session id
	Reason                string  // 3, set only when Accepted is false
	NegotiatedCapabilities []int32 // 4
	ServerVersion         string  // 5
}

// TelemetryFrame carries one sample of game-world state from the primary
// game client toward subscribing orchestrators.
type TelemetryFrame struct {
	MonoMs     uint64    // 1
	Dimension  Dimension // 2
	HealthPct  float64   // 3
	FoodPct    float64   // 4
	X          float64   // 5
	Y          float64   // 6
	Z          float64   // 7
	StateVersion uint64  // 8
}

// Heartbeat is exchanged for liveness/queue observability; it carries no
// control meaning.
type Heartbeat struct {
	RxQueueLen    int32 // 1
	TxQueueLen    int32 // 2
	DroppedFrames int32 // 3
}

// TimeSyncRequest asks the peer to stamp t1/t2 around the same instant.
type TimeSyncRequest struct {
	T0 uint64 // 1
}

// TimeSyncResponse echoes t0 and reports t1/t2. The original implementation
// stamps t1 and t2 from the same mono_ms() call; this codec preserves that
// as-is rather than silently "fixing" it.
type TimeSyncResponse struct {
	T0 uint64 // 1
	T1 uint64 // 2
	T2 uint64 // 3
}

// ActionRequest is issued by an orchestrator toward the primary game client.
type ActionRequest struct {
	RequestID            string        // 1
	Type                 ActionType    // 2
	BaritoneGoto         *BaritoneGoto // 3
	ExpectedStateVersion uint64        // 4
	ExpiresAtUnixMs      uint64        // 5
	IdempotencyKey       string        // 6
	TargetAgentID        string        // 7, empty or equal to the primary agent id
}

// BaritoneGoto parametrizes an ACTION_TYPE_BARITONE_GOTO request.
type BaritoneGoto struct {
	X               float64 // 1
	Y               float64 // 2
	Z               float64 // 3
	MaxDistance     float64 // 4
	TimeoutMs       uint64  // 5
	StuckTimeoutMs  uint64  // 6
}

// ActionAck is the primary game client's acknowledgement that a request was
// received (accepted) or rejected outright. Non-terminal.
type ActionAck struct {
	RequestID string // 1
	Accepted  bool   // 2
	Reason    string // 3
}

// ActionResult is the terminal outcome of a previously acked action.
type ActionResult struct {
	RequestID         string       // 1
	Status            ActionStatus // 2
	Detail            string       // 3
	FinalStateVersion uint64       // 4
}

// ErrorFrame is sent in place of a normal reply when the bridge rejects a
// frame outright (decode failure, version mismatch, protocol violation).
type ErrorFrame struct {
	Code          ErrorCode // 1
	Message       string    // 2
	CorrelationID string    // 3
}
