package stateactor

import (
	"github.com/google/uuid"

	"github.com/mikqnpi/miqbot/internal/protocolwire"
)

// IsAllowlisted reports whether actionType may ever be sent unattended by
// the state actor (its emergency StopAll path, or any future autonomous
// action). Anything outside this set requires an explicit operator-issued
// ActionRequest.
func IsAllowlisted(actionType protocolwire.ActionType) bool {
	switch actionType {
	case protocolwire.ActionTypeStopAll, protocolwire.ActionTypeBaritoneGoto:
		return true
	default:
		return false
	}
}

// BuildStopAllRequest constructs the emergency StopAll action the state
// actor sends when an in-flight action times out.
func BuildStopAllRequest(targetAgentID string, nowUnixMs, ttlMs uint64) *protocolwire.ActionRequest {
	return &protocolwire.ActionRequest{
		RequestID:            uuid.NewString(),
		Type:                  protocolwire.ActionTypeStopAll,
		ExpectedStateVersion:  0,
		ExpiresAtUnixMs:       saturatingAdd(nowUnixMs, ttlMs),
		IdempotencyKey:        uuid.NewString(),
		TargetAgentID:         targetAgentID,
	}
}

// BuildBaritoneGotoRequest constructs a pathing action toward (x, y, z).
func BuildBaritoneGotoRequest(targetAgentID string, nowUnixMs, ttlMs uint64, x, y, z float64) *protocolwire.ActionRequest {
	return &protocolwire.ActionRequest{
		RequestID:            uuid.NewString(),
		Type:                  protocolwire.ActionTypeBaritoneGoto,
		ExpectedStateVersion:  0,
		ExpiresAtUnixMs:       saturatingAdd(nowUnixMs, ttlMs),
		IdempotencyKey:        uuid.NewString(),
		TargetAgentID:         targetAgentID,
		BaritoneGoto: &protocolwire.BaritoneGoto{
			X: x, Y: y, Z: z,
			MaxDistance:    200,
			TimeoutMs:      15_000,
			StuckTimeoutMs: 5_000,
		},
	}
}
