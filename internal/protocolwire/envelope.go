package protocolwire

import "fmt"

// Envelope field numbers.
const (
	envFieldProtocolVersion = 1
	envFieldSessionID       = 2
	envFieldSeq             = 3
	envFieldAck             = 4
	envFieldMonoMs          = 5
	envFieldWallUnixMs      = 6
	envFieldHello           = 10
	envFieldHelloAck        = 11
	envFieldTelemetry       = 12
	envFieldHeartbeat       = 13
	envFieldTimeSyncReq     = 14
	envFieldTimeSyncResp    = 15
	envFieldActionRequest   = 16
	envFieldActionAck       = 17
	envFieldActionResult    = 18
	envFieldError           = 19
)

// Encode serializes an Envelope to its binary wire form.
func Encode(e *Envelope) ([]byte, error) {
	var w writer
	w.varint(envFieldProtocolVersion, uint64(e.ProtocolVersion))
	w.str(envFieldSessionID, e.SessionID)
	w.varint(envFieldSeq, e.Seq)
	w.varint(envFieldAck, e.Ack)
	w.varint(envFieldMonoMs, e.MonoMs)
	w.varint(envFieldWallUnixMs, e.WallUnixMs)

	switch e.Kind {
	case PayloadHello:
		if e.Hello == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=Hello but Hello is nil")
		}
		w.submessage(envFieldHello, func(sw *writer) { encodeHello(sw, e.Hello) })
	case PayloadHelloAck:
		if e.HelloAck == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=HelloAck but HelloAck is nil")
		}
		w.submessage(envFieldHelloAck, func(sw *writer) { encodeHelloAck(sw, e.HelloAck) })
	case PayloadTelemetry:
		if e.Telemetry == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=Telemetry but Telemetry is nil")
		}
		w.submessage(envFieldTelemetry, func(sw *writer) { encodeTelemetry(sw, e.Telemetry) })
	case PayloadHeartbeat:
		if e.Heartbeat == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=Heartbeat but Heartbeat is nil")
		}
		w.submessage(envFieldHeartbeat, func(sw *writer) { encodeHeartbeat(sw, e.Heartbeat) })
	case PayloadTimeSyncRequest:
		if e.TimeSyncRequest == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=TimeSyncRequest but TimeSyncRequest is nil")
		}
		w.submessage(envFieldTimeSyncReq, func(sw *writer) { encodeTimeSyncRequest(sw, e.TimeSyncRequest) })
	case PayloadTimeSyncResponse:
		if e.TimeSyncResponse == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=TimeSyncResponse but TimeSyncResponse is nil")
		}
		w.submessage(envFieldTimeSyncResp, func(sw *writer) { encodeTimeSyncResponse(sw, e.TimeSyncResponse) })
	case PayloadActionRequest:
		if e.ActionRequest == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=ActionRequest but ActionRequest is nil")
		}
		w.submessage(envFieldActionRequest, func(sw *writer) { encodeActionRequest(sw, e.ActionRequest) })
	case PayloadActionAck:
		if e.ActionAck == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=ActionAck but ActionAck is nil")
		}
		w.submessage(envFieldActionAck, func(sw *writer) { encodeActionAck(sw, e.ActionAck) })
	case PayloadActionResult:
		if e.ActionResult == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=ActionResult but ActionResult is nil")
		}
		w.submessage(envFieldActionResult, func(sw *writer) { encodeActionResult(sw, e.ActionResult) })
	case PayloadError:
		if e.Error == nil {
			return nil, fmt.Errorf("protocolwire: Encode: Kind=Error but Error is nil")
		}
		w.submessage(envFieldError, func(sw *writer) { encodeErrorFrame(sw, e.Error) })
	case PayloadNone:
		// no payload field written
	default:
		return nil, fmt.Errorf("protocolwire: Encode: unknown payload kind %d", e.Kind)
	}
	return w.buf, nil
}

// Decode parses an Envelope from its binary wire form.
func Decode(buf []byte) (*Envelope, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	e := &Envelope{
		ProtocolVersion: fieldInt32(fs, envFieldProtocolVersion),
		SessionID:       fieldString(fs, envFieldSessionID),
		Seq:             fieldUint64(fs, envFieldSeq),
		Ack:             fieldUint64(fs, envFieldAck),
		MonoMs:          fieldUint64(fs, envFieldMonoMs),
		WallUnixMs:      fieldUint64(fs, envFieldWallUnixMs),
	}

	if b := fieldBytes(fs, envFieldHello); b != nil {
		h, err := decodeHello(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.Hello = PayloadHello, h
		return e, nil
	}
	if b := fieldBytes(fs, envFieldHelloAck); b != nil {
		h, err := decodeHelloAck(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.HelloAck = PayloadHelloAck, h
		return e, nil
	}
	if b := fieldBytes(fs, envFieldTelemetry); b != nil {
		t, err := decodeTelemetry(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.Telemetry = PayloadTelemetry, t
		return e, nil
	}
	if b := fieldBytes(fs, envFieldHeartbeat); b != nil {
		h, err := decodeHeartbeat(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.Heartbeat = PayloadHeartbeat, h
		return e, nil
	}
	if b := fieldBytes(fs, envFieldTimeSyncReq); b != nil {
		t, err := decodeTimeSyncRequest(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.TimeSyncRequest = PayloadTimeSyncRequest, t
		return e, nil
	}
	if b := fieldBytes(fs, envFieldTimeSyncResp); b != nil {
		t, err := decodeTimeSyncResponse(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.TimeSyncResponse = PayloadTimeSyncResponse, t
		return e, nil
	}
	if b := fieldBytes(fs, envFieldActionRequest); b != nil {
		a, err := decodeActionRequest(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.ActionRequest = PayloadActionRequest, a
		return e, nil
	}
	if b := fieldBytes(fs, envFieldActionAck); b != nil {
		a, err := decodeActionAck(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.ActionAck = PayloadActionAck, a
		return e, nil
	}
	if b := fieldBytes(fs, envFieldActionResult); b != nil {
		a, err := decodeActionResult(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.ActionResult = PayloadActionResult, a
		return e, nil
	}
	if b := fieldBytes(fs, envFieldError); b != nil {
		er, err := decodeErrorFrame(b)
		if err != nil {
			return nil, err
		}
		e.Kind, e.Error = PayloadError, er
		return e, nil
	}
	e.Kind = PayloadNone
	return e, nil
}

// --- Hello ---

const (
	helloFieldAgentID       = 1
	helloFieldRole          = 2
	helloFieldCapabilities  = 3
	helloFieldClientVersion = 4
	helloFieldHandshakeID   = 5
)

func encodeHello(w *writer, h *Hello) {
	w.str(helloFieldAgentID, h.AgentID)
	w.varint(helloFieldRole, uint64(h.Role))
	w.packedVarint(helloFieldCapabilities, h.Capabilities)
	w.str(helloFieldClientVersion, h.ClientVersion)
	w.str(helloFieldHandshakeID, h.HandshakeID)
}

func decodeHello(buf []byte) (*Hello, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &Hello{
		AgentID:       fieldString(fs, helloFieldAgentID),
		Role:          PeerRole(fieldInt32(fs, helloFieldRole)),
		Capabilities:  fieldPackedInt32(fs, helloFieldCapabilities),
		ClientVersion: fieldString(fs, helloFieldClientVersion),
		HandshakeID:   fieldString(fs, helloFieldHandshakeID),
	}, nil
}

// --- HelloAck ---

const (
	helloAckFieldAccepted               = 1
	helloAckFieldHandshakeID            = 2
	helloAckFieldReason                 = 3
	helloAckFieldNegotiatedCapabilities = 4
	helloAckFieldServerVersion          = 5
)

func encodeHelloAck(w *writer, h *HelloAck) {
	w.bool(helloAckFieldAccepted, h.Accepted)
	w.str(helloAckFieldHandshakeID, h.HandshakeID)
	w.str(helloAckFieldReason, h.Reason)
	w.packedVarint(helloAckFieldNegotiatedCapabilities, h.NegotiatedCapabilities)
	w.str(helloAckFieldServerVersion, h.ServerVersion)
}

func decodeHelloAck(buf []byte) (*HelloAck, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &HelloAck{
		Accepted:               fieldBool(fs, helloAckFieldAccepted),
		HandshakeID:            fieldString(fs, helloAckFieldHandshakeID),
		Reason:                 fieldString(fs, helloAckFieldReason),
		NegotiatedCapabilities: fieldPackedInt32(fs, helloAckFieldNegotiatedCapabilities),
		ServerVersion:          fieldString(fs, helloAckFieldServerVersion),
	}, nil
}

// --- TelemetryFrame ---

const (
	telFieldMonoMs       = 1
	telFieldDimension    = 2
	telFieldHealthPct    = 3
	telFieldFoodPct      = 4
	telFieldX            = 5
	telFieldY            = 6
	telFieldZ            = 7
	telFieldStateVersion = 8
)

func encodeTelemetry(w *writer, t *TelemetryFrame) {
	w.varint(telFieldMonoMs, t.MonoMs)
	w.varint(telFieldDimension, uint64(t.Dimension))
	w.double(telFieldHealthPct, t.HealthPct)
	w.double(telFieldFoodPct, t.FoodPct)
	w.double(telFieldX, t.X)
	w.double(telFieldY, t.Y)
	w.double(telFieldZ, t.Z)
	w.varint(telFieldStateVersion, t.StateVersion)
}

func decodeTelemetry(buf []byte) (*TelemetryFrame, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &TelemetryFrame{
		MonoMs:       fieldUint64(fs, telFieldMonoMs),
		Dimension:    Dimension(fieldInt32(fs, telFieldDimension)),
		HealthPct:    fieldDouble(fs, telFieldHealthPct),
		FoodPct:      fieldDouble(fs, telFieldFoodPct),
		X:            fieldDouble(fs, telFieldX),
		Y:            fieldDouble(fs, telFieldY),
		Z:            fieldDouble(fs, telFieldZ),
		StateVersion: fieldUint64(fs, telFieldStateVersion),
	}, nil
}

// --- Heartbeat ---

const (
	hbFieldRxQueueLen    = 1
	hbFieldTxQueueLen    = 2
	hbFieldDroppedFrames = 3
)

func encodeHeartbeat(w *writer, h *Heartbeat) {
	w.varint(hbFieldRxQueueLen, uint64(uint32(h.RxQueueLen)))
	w.varint(hbFieldTxQueueLen, uint64(uint32(h.TxQueueLen)))
	w.varint(hbFieldDroppedFrames, uint64(uint32(h.DroppedFrames)))
}

func decodeHeartbeat(buf []byte) (*Heartbeat, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &Heartbeat{
		RxQueueLen:    fieldInt32(fs, hbFieldRxQueueLen),
		TxQueueLen:    fieldInt32(fs, hbFieldTxQueueLen),
		DroppedFrames: fieldInt32(fs, hbFieldDroppedFrames),
	}, nil
}

// --- TimeSyncRequest / TimeSyncResponse ---

const tsReqFieldT0 = 1

func encodeTimeSyncRequest(w *writer, t *TimeSyncRequest) {
	w.varint(tsReqFieldT0, t.T0)
}

func decodeTimeSyncRequest(buf []byte) (*TimeSyncRequest, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &TimeSyncRequest{T0: fieldUint64(fs, tsReqFieldT0)}, nil
}

const (
	tsRespFieldT0 = 1
	tsRespFieldT1 = 2
	tsRespFieldT2 = 3
)

func encodeTimeSyncResponse(w *writer, t *TimeSyncResponse) {
	w.varint(tsRespFieldT0, t.T0)
	w.varint(tsRespFieldT1, t.T1)
	w.varint(tsRespFieldT2, t.T2)
}

func decodeTimeSyncResponse(buf []byte) (*TimeSyncResponse, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &TimeSyncResponse{
		T0: fieldUint64(fs, tsRespFieldT0),
		T1: fieldUint64(fs, tsRespFieldT1),
		T2: fieldUint64(fs, tsRespFieldT2),
	}, nil
}

// --- ActionRequest / BaritoneGoto ---

const (
	actReqFieldRequestID            = 1
	actReqFieldType                 = 2
	actReqFieldBaritoneGoto         = 3
	actReqFieldExpectedStateVersion = 4
	actReqFieldExpiresAtUnixMs      = 5
	actReqFieldIdempotencyKey       = 6
	actReqFieldTargetAgentID        = 7
)

func encodeActionRequest(w *writer, a *ActionRequest) {
	w.str(actReqFieldRequestID, a.RequestID)
	w.varint(actReqFieldType, uint64(a.Type))
	if a.BaritoneGoto != nil {
		w.submessage(actReqFieldBaritoneGoto, func(sw *writer) { encodeBaritoneGoto(sw, a.BaritoneGoto) })
	}
	w.varint(actReqFieldExpectedStateVersion, a.ExpectedStateVersion)
	w.varint(actReqFieldExpiresAtUnixMs, a.ExpiresAtUnixMs)
	w.str(actReqFieldIdempotencyKey, a.IdempotencyKey)
	w.str(actReqFieldTargetAgentID, a.TargetAgentID)
}

func decodeActionRequest(buf []byte) (*ActionRequest, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	a := &ActionRequest{
		RequestID:            fieldString(fs, actReqFieldRequestID),
		Type:                 ActionType(fieldInt32(fs, actReqFieldType)),
		ExpectedStateVersion: fieldUint64(fs, actReqFieldExpectedStateVersion),
		ExpiresAtUnixMs:      fieldUint64(fs, actReqFieldExpiresAtUnixMs),
		IdempotencyKey:       fieldString(fs, actReqFieldIdempotencyKey),
		TargetAgentID:        fieldString(fs, actReqFieldTargetAgentID),
	}
	if b := fieldBytes(fs, actReqFieldBaritoneGoto); b != nil {
		bg, err := decodeBaritoneGoto(b)
		if err != nil {
			return nil, err
		}
		a.BaritoneGoto = bg
	}
	return a, nil
}

const (
	bgFieldX              = 1
	bgFieldY              = 2
	bgFieldZ              = 3
	bgFieldMaxDistance    = 4
	bgFieldTimeoutMs      = 5
	bgFieldStuckTimeoutMs = 6
)

func encodeBaritoneGoto(w *writer, b *BaritoneGoto) {
	w.double(bgFieldX, b.X)
	w.double(bgFieldY, b.Y)
	w.double(bgFieldZ, b.Z)
	w.double(bgFieldMaxDistance, b.MaxDistance)
	w.varint(bgFieldTimeoutMs, b.TimeoutMs)
	w.varint(bgFieldStuckTimeoutMs, b.StuckTimeoutMs)
}

func decodeBaritoneGoto(buf []byte) (*BaritoneGoto, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &BaritoneGoto{
		X:              fieldDouble(fs, bgFieldX),
		Y:              fieldDouble(fs, bgFieldY),
		Z:              fieldDouble(fs, bgFieldZ),
		MaxDistance:    fieldDouble(fs, bgFieldMaxDistance),
		TimeoutMs:      fieldUint64(fs, bgFieldTimeoutMs),
		StuckTimeoutMs: fieldUint64(fs, bgFieldStuckTimeoutMs),
	}, nil
}

// --- ActionAck ---

const (
	actAckFieldRequestID = 1
	actAckFieldAccepted  = 2
	actAckFieldReason    = 3
)

func encodeActionAck(w *writer, a *ActionAck) {
	w.str(actAckFieldRequestID, a.RequestID)
	w.bool(actAckFieldAccepted, a.Accepted)
	w.str(actAckFieldReason, a.Reason)
}

func decodeActionAck(buf []byte) (*ActionAck, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &ActionAck{
		RequestID: fieldString(fs, actAckFieldRequestID),
		Accepted:  fieldBool(fs, actAckFieldAccepted),
		Reason:    fieldString(fs, actAckFieldReason),
	}, nil
}

// --- ActionResult ---

const (
	actResFieldRequestID         = 1
	actResFieldStatus            = 2
	actResFieldDetail            = 3
	actResFieldFinalStateVersion = 4
)

func encodeActionResult(w *writer, a *ActionResult) {
	w.str(actResFieldRequestID, a.RequestID)
	w.varint(actResFieldStatus, uint64(a.Status))
	w.str(actResFieldDetail, a.Detail)
	w.varint(actResFieldFinalStateVersion, a.FinalStateVersion)
}

func decodeActionResult(buf []byte) (*ActionResult, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		RequestID:         fieldString(fs, actResFieldRequestID),
		Status:            ActionStatus(fieldInt32(fs, actResFieldStatus)),
		Detail:            fieldString(fs, actResFieldDetail),
		FinalStateVersion: fieldUint64(fs, actResFieldFinalStateVersion),
	}, nil
}

// --- ErrorFrame ---

const (
	errFieldCode          = 1
	errFieldMessage       = 2
	errFieldCorrelationID = 3
)

func encodeErrorFrame(w *writer, e *ErrorFrame) {
	w.varint(errFieldCode, uint64(e.Code))
	w.str(errFieldMessage, e.Message)
	w.str(errFieldCorrelationID, e.CorrelationID)
}

func decodeErrorFrame(buf []byte) (*ErrorFrame, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	return &ErrorFrame{
		Code:          ErrorCode(fieldInt32(fs, errFieldCode)),
		Message:       fieldString(fs, errFieldMessage),
		CorrelationID: fieldString(fs, errFieldCorrelationID),
	}, nil
}
