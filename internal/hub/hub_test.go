package hub

import (
	"testing"
	"time"

	"github.com/mikqnpi/miqbot/internal/protocolwire"
)

func testConfig() Config {
	return Config{
		PrimaryGameAgentID:         "steve",
		AllowOrchestratorSubscribe: true,
		MaxOrchestratorSubscribers: 2,
		MinRelayIntervalMs:         100,
		ActionQueueSize:            8,
		ActionSendTimeout:          200 * time.Millisecond,
	}
}

func TestHub_AttachPrimary_DuplicateRejected(t *testing.T) {
	h := New(testConfig())
	tx := make(chan *protocolwire.ActionRequest, 1)
	if err := h.AttachPrimaryGameSender(tx, "steve"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := h.AttachPrimaryGameSender(tx, "steve"); err != ErrDuplicatePrimary {
		t.Fatalf("expected ErrDuplicatePrimary, got %v", err)
	}
}

func TestHub_AttachPrimary_WrongAgentRejected(t *testing.T) {
	h := New(testConfig())
	tx := make(chan *protocolwire.ActionRequest, 1)
	if err := h.AttachPrimaryGameSender(tx, "someone-else"); err != ErrTargetMismatch {
		t.Fatalf("expected ErrTargetMismatch, got %v", err)
	}
}

func TestHub_OrchestratorSlot_BoundedByMax(t *testing.T) {
	h := New(testConfig())
	s1, err := h.AcquireOrchestratorSlot()
	if err != nil {
		t.Fatalf("slot 1: %v", err)
	}
	s2, err := h.AcquireOrchestratorSlot()
	if err != nil {
		t.Fatalf("slot 2: %v", err)
	}
	if _, err := h.AcquireOrchestratorSlot(); err != ErrLimitReached {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if h.OrchestratorCount() != 2 {
		t.Fatalf("expected count 2, got %d", h.OrchestratorCount())
	}
	s1.Release()
	if h.OrchestratorCount() != 1 {
		t.Fatalf("expected count 1 after release, got %d", h.OrchestratorCount())
	}
	s3, err := h.AcquireOrchestratorSlot()
	if err != nil {
		t.Fatalf("slot 3 after release: %v", err)
	}
	s2.Release()
	s3.Release()
	if h.OrchestratorCount() != 0 {
		t.Fatalf("expected count 0 after all released, got %d", h.OrchestratorCount())
	}
}

func TestHub_OrchestratorSlot_ReleaseIsIdempotent(t *testing.T) {
	h := New(testConfig())
	s, err := h.AcquireOrchestratorSlot()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s.Release()
	s.Release()
	if h.OrchestratorCount() != 0 {
		t.Fatalf("expected count 0, got %d (double release must not double-decrement)", h.OrchestratorCount())
	}
}

func TestHub_AcquireOrchestratorSlot_NotAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowOrchestratorSubscribe = false
	h := New(cfg)
	if _, err := h.AcquireOrchestratorSlot(); err != ErrNotAllowed {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestHub_PublishTelemetry_RateLimited(t *testing.T) {
	h := New(testConfig())
	t1 := &protocolwire.TelemetryFrame{StateVersion: 1}
	h.PublishTelemetry(t1)
	latest, _ := h.SubscribeTelemetry()
	if latest != t1 {
		t.Fatalf("expected first publish to latch, got %+v", latest)
	}

	t2 := &protocolwire.TelemetryFrame{StateVersion: 2}
	h.PublishTelemetry(t2) // within MinRelayIntervalMs, should drop
	latest, _ = h.SubscribeTelemetry()
	if latest != t1 {
		t.Fatalf("expected rate-limited publish to be dropped, latest changed to %+v", latest)
	}
}

func TestHub_SubscribeTelemetry_ChangedChannelFiresOnUpdate(t *testing.T) {
	h := New(testConfig())
	_, changed := h.SubscribeTelemetry()
	select {
	case <-changed:
		t.Fatal("changed channel fired before any publish")
	default:
	}
	h.PublishTelemetry(&protocolwire.TelemetryFrame{StateVersion: 1})
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("changed channel did not fire after publish")
	}
}

func TestHub_EnqueueAction_NoPrimary(t *testing.T) {
	h := New(testConfig())
	reply := make(chan ActionEvent, 2)
	err := h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r1"}, reply)
	if err != ErrNoPrimary {
		t.Fatalf("expected ErrNoPrimary, got %v", err)
	}
}

func TestHub_EnqueueAction_EmptyRequestID(t *testing.T) {
	h := New(testConfig())
	reply := make(chan ActionEvent, 2)
	if err := h.EnqueueAction(&protocolwire.ActionRequest{}, reply); err != ErrEmptyRequestID {
		t.Fatalf("expected ErrEmptyRequestID, got %v", err)
	}
}

func TestHub_HappyActionPath_AckThenResult(t *testing.T) {
	h := New(testConfig())
	primaryRx := make(chan *protocolwire.ActionRequest, 8)
	if err := h.AttachPrimaryGameSender(primaryRx, "steve"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	reply := make(chan ActionEvent, 2)
	if err := h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r1", Type: protocolwire.ActionTypeStopAll}, reply); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case req := <-primaryRx:
		if req.RequestID != "r1" {
			t.Fatalf("unexpected request forwarded: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("primary never received the action request")
	}

	h.RouteActionAck(&protocolwire.ActionAck{RequestID: "r1", Accepted: true})
	select {
	case ev := <-reply:
		if ev.Ack == nil || !ev.Ack.Accepted {
			t.Fatalf("expected accepted ack, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("orchestrator never observed the ack")
	}
	if h.PendingCount() != 1 {
		t.Fatalf("accepted ack must keep the pending entry, got count %d", h.PendingCount())
	}

	h.RouteActionResult(&protocolwire.ActionResult{RequestID: "r1", Status: protocolwire.ActionStatusOK, FinalStateVersion: 42})
	select {
	case ev := <-reply:
		if ev.Result == nil || ev.Result.Status != protocolwire.ActionStatusOK {
			t.Fatalf("expected ok result, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("orchestrator never observed the result")
	}
	if h.PendingCount() != 0 {
		t.Fatalf("expected pending_actions empty after result, got %d", h.PendingCount())
	}
}

func TestHub_SetOutcomeSink_ReceivesTerminalResult(t *testing.T) {
	h := New(testConfig())
	primaryRx := make(chan *protocolwire.ActionRequest, 8)
	if err := h.AttachPrimaryGameSender(primaryRx, "steve"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	type outcome struct{ requestID, status, detail string }
	outcomes := make(chan outcome, 1)
	h.SetOutcomeSink(func(requestID, status, detail string) {
		outcomes <- outcome{requestID, status, detail}
	})

	reply := make(chan ActionEvent, 2)
	if err := h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r1", Type: protocolwire.ActionTypeStopAll}, reply); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-primaryRx

	h.RouteActionResult(&protocolwire.ActionResult{RequestID: "r1", Status: protocolwire.ActionStatusOK})
	<-reply

	select {
	case o := <-outcomes:
		if o.requestID != "r1" || o.status != "ok" {
			t.Fatalf("unexpected outcome recorded: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("outcome sink was never invoked")
	}
}

func TestHub_RouteActionAck_Rejected_RemovesEntry(t *testing.T) {
	h := New(testConfig())
	primaryRx := make(chan *protocolwire.ActionRequest, 8)
	h.AttachPrimaryGameSender(primaryRx, "steve")
	reply := make(chan ActionEvent, 2)
	h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r2"}, reply)
	<-primaryRx

	h.RouteActionAck(&protocolwire.ActionAck{RequestID: "r2", Accepted: false, Reason: "busy"})
	select {
	case ev := <-reply:
		if ev.Ack == nil || ev.Ack.Accepted {
			t.Fatalf("expected rejected ack, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("orchestrator never observed the rejection")
	}
	if h.PendingCount() != 0 {
		t.Fatalf("rejected ack must remove the pending entry, got count %d", h.PendingCount())
	}

	// A late result for the same id must be silently ignored, not panic or
	// double-deliver.
	h.RouteActionResult(&protocolwire.ActionResult{RequestID: "r2", Status: protocolwire.ActionStatusOK})
	select {
	case ev := <-reply:
		t.Fatalf("expected no further delivery for a removed entry, got %+v", ev)
	default:
	}
}

func TestHub_PrimaryDisconnect_DrainsPendingWithinOneTurn(t *testing.T) {
	h := New(testConfig())
	primaryRx := make(chan *protocolwire.ActionRequest, 8)
	h.AttachPrimaryGameSender(primaryRx, "steve")

	reply1 := make(chan ActionEvent, 2)
	reply2 := make(chan ActionEvent, 2)
	h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r3"}, reply1)
	h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r4"}, reply2)
	<-primaryRx
	<-primaryRx

	h.DetachPrimaryGameSender()

	if h.PendingCount() != 0 {
		t.Fatalf("expected pending_actions empty immediately after detach, got %d", h.PendingCount())
	}

	for _, reply := range []chan ActionEvent{reply1, reply2} {
		ack := <-reply
		if ack.Ack == nil || ack.Ack.Accepted {
			t.Fatalf("expected synthesised rejected ack, got %+v", ack)
		}
		res := <-reply
		if res.Result == nil || res.Result.Status != protocolwire.ActionStatusTimeout {
			t.Fatalf("expected synthesised timeout result, got %+v", res)
		}
	}
}

func TestHub_EnqueueAction_TargetAgentMismatch(t *testing.T) {
	h := New(testConfig())
	primaryRx := make(chan *protocolwire.ActionRequest, 8)
	h.AttachPrimaryGameSender(primaryRx, "steve")
	reply := make(chan ActionEvent, 2)
	err := h.EnqueueAction(&protocolwire.ActionRequest{RequestID: "r5", TargetAgentID: "alex"}, reply)
	if err != ErrTargetMismatch {
		t.Fatalf("expected ErrTargetMismatch, got %v", err)
	}
}
