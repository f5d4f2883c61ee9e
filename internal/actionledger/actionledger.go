// Package actionledger implements the orchestrator's in-flight action
// tracker (spec component C8): per-request ack/result deadlines and
// single-shot timeout reporting.
package actionledger

import "math"

// TimeoutKind distinguishes an ack timeout (no ack ever arrived) from a
// result timeout (acked, or not, but the result never arrived in time).
type TimeoutKind int

const (
	TimeoutAck TimeoutKind = iota
	TimeoutResult
)

// TimeoutEvent is emitted by PollTimeouts for one request that has expired.
type TimeoutEvent struct {
	RequestID string
	Kind      TimeoutKind
}

type inflight struct {
	ackDeadlineMs    uint64
	resultDeadlineMs uint64
	acked            bool
}

// Ledger tracks every action request sent to the bridge that has not yet
// resolved (timed out, acked+resulted, or rejected).
type Ledger struct {
	inflight map[string]inflight
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{inflight: make(map[string]inflight)}
}

// OnSent records a freshly dispatched request with its ack/result timeout
// budgets measured from nowMs.
func (l *Ledger) OnSent(requestID string, nowMs, ackTimeoutMs, resultTimeoutMs uint64) {
	l.inflight[requestID] = inflight{
		ackDeadlineMs:    saturatingAdd(nowMs, ackTimeoutMs),
		resultDeadlineMs: saturatingAdd(nowMs, resultTimeoutMs),
	}
}

// OnAck marks requestID as acked; a rejection removes it outright since no
// result will ever follow.
func (l *Ledger) OnAck(requestID string, accepted bool) {
	if !accepted {
		delete(l.inflight, requestID)
		return
	}
	if v, ok := l.inflight[requestID]; ok {
		v.acked = true
		l.inflight[requestID] = v
	}
}

// OnResult removes requestID: the action has resolved, successfully or not.
func (l *Ledger) OnResult(requestID string) {
	delete(l.inflight, requestID)
}

// PollTimeouts reports, at most once per request, whichever deadline has
// passed: an ack timeout if unacked, otherwise a result timeout. Every
// reported request is removed from the ledger.
func (l *Ledger) PollTimeouts(nowMs uint64) []TimeoutEvent {
	var timedOut []TimeoutEvent
	var removeKeys []string
	for requestID, inf := range l.inflight {
		if !inf.acked && nowMs >= inf.ackDeadlineMs {
			timedOut = append(timedOut, TimeoutEvent{RequestID: requestID, Kind: TimeoutAck})
			removeKeys = append(removeKeys, requestID)
			continue
		}
		if nowMs >= inf.resultDeadlineMs {
			timedOut = append(timedOut, TimeoutEvent{RequestID: requestID, Kind: TimeoutResult})
			removeKeys = append(removeKeys, requestID)
		}
	}
	for _, key := range removeKeys {
		delete(l.inflight, key)
	}
	return timedOut
}

// Len returns the number of in-flight requests, for metrics.
func (l *Ledger) Len() int { return len(l.inflight) }

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
