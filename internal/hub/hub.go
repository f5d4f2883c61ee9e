// Package hub implements the relay hub (spec component C4): the
// process-wide singleton holding the primary-sender slot, the telemetry
// broadcast, the pending-action correlation table, and the orchestrator
// slot counter. Exactly one Hub exists per bridge process.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikqnpi/miqbot/internal/monoclock"
	"github.com/mikqnpi/miqbot/internal/obsmetrics"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
)

// ErrNoPrimary is returned by EnqueueAction when no primary game sender is
// currently attached.
var ErrNoPrimary = errors.New("hub: no primary connected")

// ErrDuplicatePrimary is returned by AttachPrimaryGameSender when a primary
// sender is already attached.
var ErrDuplicatePrimary = errors.New("hub: primary game sender is unavailable")

// ErrTargetMismatch is returned when a request's target_agent_id does not
// match the configured primary agent id.
var ErrTargetMismatch = errors.New("hub: target agent mismatch")

// ErrEmptyRequestID is returned by EnqueueAction for a blank request id.
var ErrEmptyRequestID = errors.New("hub: request_id must not be empty")

// ErrSendTimeout is returned by EnqueueAction when the primary's inbound
// queue does not accept the request within the configured deadline.
var ErrSendTimeout = errors.New("hub: action send timeout")

// ErrNotAllowed is returned by AcquireOrchestratorSlot when subscription is
// disabled by configuration.
var ErrNotAllowed = errors.New("hub: orchestrator subscription not allowed")

// ErrLimitReached is returned by AcquireOrchestratorSlot when the
// configured subscriber cap has been reached.
var ErrLimitReached = errors.New("hub: orchestrator subscription limit reached")

// Config carries the bridge-level settings the hub enforces.
type Config struct {
	PrimaryGameAgentID        string
	AllowOrchestratorSubscribe bool
	MaxOrchestratorSubscribers int32
	MinRelayIntervalMs         int64
	// ActionQueueSize is not read by the hub: the capacity of the primary's
	// outbound channel is set by the caller of AttachPrimaryGameSender (the
	// bridge server's handshake uses a fixed capacity of 16).
	ActionQueueSize            int
	ActionSendTimeout          time.Duration
}

// ActionEvent is one message delivered to an orchestrator's reply channel
// for a pending action: either an ack (non-terminal when accepted) or a
// result (always terminal).
type ActionEvent struct {
	Ack    *protocolwire.ActionAck
	Result *protocolwire.ActionResult
}

// Hub is the process-wide relay singleton.
type Hub struct {
	cfg Config

	telemetry *telemetryBroadcast

	orchestratorCount int32 // atomic
	lastRelayMonoMs   int64 // atomic, milliseconds

	primaryMu      sync.Mutex
	primarySender  chan<- *protocolwire.ActionRequest
	primaryAgentID string

	pendingMu sync.Mutex
	pending   map[string]chan<- ActionEvent

	outcomeSinkMu sync.RWMutex
	outcomeSink   func(requestID, status, detail string)
}

// SetOutcomeSink registers a callback invoked with every terminal action
// outcome (result or timeout), for an audit trail. A nil sink disables it.
func (h *Hub) SetOutcomeSink(sink func(requestID, status, detail string)) {
	h.outcomeSinkMu.Lock()
	h.outcomeSink = sink
	h.outcomeSinkMu.Unlock()
}

func (h *Hub) recordOutcome(requestID, status, detail string) {
	h.outcomeSinkMu.RLock()
	sink := h.outcomeSink
	h.outcomeSinkMu.RUnlock()
	if sink != nil {
		sink(requestID, status, detail)
	}
}

// New constructs a Hub. Call once at bridge startup.
func New(cfg Config) *Hub {
	return &Hub{
		cfg:       cfg,
		telemetry: newTelemetryBroadcast(),
		pending:   make(map[string]chan<- ActionEvent),
		// One interval in the past, so the first publish is never rate-limited.
		lastRelayMonoMs: -cfg.MinRelayIntervalMs,
	}
}

// PublishTelemetry overwrites the broadcast slot unless called again within
// MinRelayIntervalMs of the previous accepted publish, in which case it
// drops silently.
func (h *Hub) PublishTelemetry(t *protocolwire.TelemetryFrame) {
	now := int64(monoclock.NowMs())
	last := atomic.LoadInt64(&h.lastRelayMonoMs)
	if h.cfg.MinRelayIntervalMs > 0 && now-last < h.cfg.MinRelayIntervalMs {
		obsmetrics.TelemetryDropped.Inc()
		return
	}
	atomic.StoreInt64(&h.lastRelayMonoMs, now)
	h.telemetry.publish(t)
	obsmetrics.TelemetryPublished.Inc()
}

// SubscribeTelemetry returns the slot's current value (nil if nothing has
// been published yet) and a channel that closes the next time the slot
// changes. Callers loop: inspect the value, then wait on the channel.
func (h *Hub) SubscribeTelemetry() (*protocolwire.TelemetryFrame, <-chan struct{}) {
	return h.telemetry.snapshot()
}

// OrchestratorSlot is a scoped acquisition: holding it counts against
// max_orchestrator_subscribers; Release must run on every exit path.
type OrchestratorSlot struct {
	hub      *Hub
	released atomic.Bool
}

// Release decrements the orchestrator counter. Idempotent.
func (s *OrchestratorSlot) Release() {
	if s.released.CompareAndSwap(false, true) {
		atomic.AddInt32(&s.hub.orchestratorCount, -1)
		obsmetrics.OrchestratorSlots.Set(float64(atomic.LoadInt32(&s.hub.orchestratorCount)))
	}
}

// AcquireOrchestratorSlot attempts a lock-free increment of the
// orchestrator counter, bounded by MaxOrchestratorSubscribers.
func (h *Hub) AcquireOrchestratorSlot() (*OrchestratorSlot, error) {
	if !h.cfg.AllowOrchestratorSubscribe {
		return nil, ErrNotAllowed
	}
	for {
		cur := atomic.LoadInt32(&h.orchestratorCount)
		if cur >= h.cfg.MaxOrchestratorSubscribers {
			return nil, ErrLimitReached
		}
		if atomic.CompareAndSwapInt32(&h.orchestratorCount, cur, cur+1) {
			obsmetrics.OrchestratorSlots.Set(float64(cur + 1))
			return &OrchestratorSlot{hub: h}, nil
		}
	}
}

// OrchestratorCount returns the current number of live slot acquisitions.
func (h *Hub) OrchestratorCount() int32 { return atomic.LoadInt32(&h.orchestratorCount) }

// IsPrimaryGameAgent reports whether agentID matches the configured primary
// game agent id.
func (h *Hub) IsPrimaryGameAgent(agentID string) bool {
	return agentID == h.cfg.PrimaryGameAgentID
}

// AllowOrchestratorSubscribe reports whether this bridge accepts
// orchestrator subscriptions at all.
func (h *Hub) AllowOrchestratorSubscribe() bool {
	return h.cfg.AllowOrchestratorSubscribe
}

// AttachPrimaryGameSender stores tx as the outbound channel toward the
// primary game session. Fails if agentID isn't the configured primary, or
// if a sender is already attached.
func (h *Hub) AttachPrimaryGameSender(tx chan<- *protocolwire.ActionRequest, agentID string) error {
	if agentID != h.cfg.PrimaryGameAgentID {
		return ErrTargetMismatch
	}
	h.primaryMu.Lock()
	defer h.primaryMu.Unlock()
	if h.primarySender != nil {
		return ErrDuplicatePrimary
	}
	h.primarySender = tx
	h.primaryAgentID = agentID
	return nil
}

// DetachPrimaryGameSender clears the sender slot and fails every pending
// action with a synthesised reject-ack followed by a timeout result.
func (h *Hub) DetachPrimaryGameSender() {
	h.primaryMu.Lock()
	h.primarySender = nil
	h.primaryAgentID = ""
	h.primaryMu.Unlock()
	h.failAllPending("primary game client disconnected")
}

func (h *Hub) failAllPending(reason string) {
	h.pendingMu.Lock()
	entries := h.pending
	h.pending = make(map[string]chan<- ActionEvent)
	h.pendingMu.Unlock()
	obsmetrics.PendingActions.Set(0)

	for id, reply := range entries {
		select {
		case reply <- ActionEvent{Ack: &protocolwire.ActionAck{RequestID: id, Accepted: false, Reason: reason}}:
		default:
		}
		select {
		case reply <- ActionEvent{Result: &protocolwire.ActionResult{RequestID: id, Status: protocolwire.ActionStatusTimeout, Detail: reason}}:
		default:
		}
		obsmetrics.ActionOutcomes.WithLabelValues("timeout").Inc()
		h.recordOutcome(id, "timeout", reason)
	}
}

// EnqueueAction validates req, registers reply under request_id, then
// forwards req to the primary's inbound channel within
// Config.ActionSendTimeout. On failure the pending entry is removed.
func (h *Hub) EnqueueAction(req *protocolwire.ActionRequest, reply chan<- ActionEvent) error {
	if req.RequestID == "" {
		return ErrEmptyRequestID
	}
	if req.TargetAgentID != "" && req.TargetAgentID != h.cfg.PrimaryGameAgentID {
		return ErrTargetMismatch
	}

	h.primaryMu.Lock()
	tx := h.primarySender
	h.primaryMu.Unlock()
	if tx == nil {
		return ErrNoPrimary
	}

	h.pendingMu.Lock()
	h.pending[req.RequestID] = reply
	h.pendingMu.Unlock()
	obsmetrics.PendingActions.Set(float64(h.PendingCount()))

	timeout := h.cfg.ActionSendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case tx <- req:
		return nil
	case <-time.After(timeout):
		h.removePending(req.RequestID)
		return ErrSendTimeout
	}
}

// RouteActionAck looks up request_id in pending. An accepted ack keeps the
// entry (a result is still expected) and forwards a copy; a rejected ack
// removes the entry and forwards. If the forward itself fails (reply
// channel not being drained), the entry is removed regardless.
func (h *Hub) RouteActionAck(ack *protocolwire.ActionAck) {
	h.pendingMu.Lock()
	reply, ok := h.pending[ack.RequestID]
	if ok && !ack.Accepted {
		delete(h.pending, ack.RequestID)
	}
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case reply <- ActionEvent{Ack: ack}:
	default:
		if ack.Accepted {
			h.removePending(ack.RequestID)
		}
	}
	obsmetrics.PendingActions.Set(float64(h.PendingCount()))
}

// RouteActionResult removes and forwards the result; a missing entry is
// silently ignored (already resolved by a prior ack-reject or detach).
func (h *Hub) RouteActionResult(result *protocolwire.ActionResult) {
	reply, ok := h.removePending(result.RequestID)
	if !ok {
		return
	}
	select {
	case reply <- ActionEvent{Result: result}:
	default:
	}
	label := "ok"
	switch result.Status {
	case protocolwire.ActionStatusTimeout:
		label = "timeout"
	case protocolwire.ActionStatusFailed:
		label = "failed"
	case protocolwire.ActionStatusRejected:
		label = "rejected"
	}
	obsmetrics.ActionOutcomes.WithLabelValues(label).Inc()
	h.recordOutcome(result.RequestID, label, result.Detail)
}

func (h *Hub) removePending(id string) (chan<- ActionEvent, bool) {
	h.pendingMu.Lock()
	reply, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.pendingMu.Unlock()
	obsmetrics.PendingActions.Set(float64(h.PendingCount()))
	return reply, ok
}

// PendingCount returns the number of in-flight pending actions.
func (h *Hub) PendingCount() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

// telemetryBroadcast is a single-writer, latest-value fan-out primitive:
// the Go analogue of a watch channel. Slow subscribers observe only the
// newest value, never a backlog.
type telemetryBroadcast struct {
	mu      sync.Mutex
	latest  *protocolwire.TelemetryFrame
	changed chan struct{}
}

func newTelemetryBroadcast() *telemetryBroadcast {
	return &telemetryBroadcast{changed: make(chan struct{})}
}

func (b *telemetryBroadcast) publish(t *protocolwire.TelemetryFrame) {
	b.mu.Lock()
	b.latest = t
	ch := b.changed
	b.changed = make(chan struct{})
	b.mu.Unlock()
	close(ch)
}

func (b *telemetryBroadcast) snapshot() (*protocolwire.TelemetryFrame, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.changed
}
