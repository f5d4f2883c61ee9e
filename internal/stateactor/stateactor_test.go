package stateactor

import (
	"context"
	"testing"

	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/speechqueue"
)

type fakeBridge struct {
	sent []*protocolwire.ActionRequest
}

func (f *fakeBridge) NextEvent(ctx context.Context) (Event, error) {
	<-ctx.Done()
	return Event{}, ctx.Err()
}

func (f *fakeBridge) SendActionRequest(ctx context.Context, req *protocolwire.ActionRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

type fakePipeline struct {
	ran []speechqueue.Job
}

func (f *fakePipeline) Run(ctx context.Context, job speechqueue.Job) (PipelineOutcome, error) {
	f.ran = append(f.ran, job)
	return PipelineOutcome{AudioPath: "/tmp/fake.wav"}, nil
}

func testActor(t *testing.T) (*Actor, *fakeBridge, *fakePipeline) {
	t.Helper()
	bridge := &fakeBridge{}
	pipeline := &fakePipeline{}
	cfg := Config{
		StateTickMs:           100,
		ChatDeadlineMs:        5000,
		FillerDeadlineMs:      2000,
		SilenceGapMs:          10_000,
		DuplicateCooldownMs:   3000,
		QueueMaxP0:            8,
		QueueMaxP1:            8,
		QueueMaxP2:            8,
		PrimaryGameAgentID:    "steve",
		ActionAckTimeoutMs:    500,
		ActionResultTimeoutMs: 5000,
	}
	return New(cfg, bridge, pipeline), bridge, pipeline
}

func TestNormalizeDedupeKey_StripsAllWhitespaceNotJustCollapses(t *testing.T) {
	a := normalizeDedupeKey("go  left now")
	b := normalizeDedupeKey("go left   now")
	c := normalizeDedupeKey("goleftnow")
	if a != b || b != c {
		t.Fatalf("expected all three to normalize identically, got %q %q %q", a, b, c)
	}
	if a != "goleftnow" {
		t.Fatalf("expected fully stripped key, got %q", a)
	}
}

func TestIsAllowlisted(t *testing.T) {
	cases := map[protocolwire.ActionType]bool{
		protocolwire.ActionTypeStopAll:      true,
		protocolwire.ActionTypeBaritoneGoto: true,
		protocolwire.ActionTypeUnspecified:  false,
	}
	for actionType, want := range cases {
		got := IsAllowlisted(actionType)
		if got != want {
			t.Fatalf("action type %v: expected allowlisted=%v, got %v", actionType, want, got)
		}
	}
}

func TestBuildStopAllRequest_ExpiresAtIsNowPlusTTL(t *testing.T) {
	req := BuildStopAllRequest("steve", 1000, 1500)
	if req.ExpiresAtUnixMs != 2500 {
		t.Fatalf("expected expires_at 2500, got %d", req.ExpiresAtUnixMs)
	}
	if req.TargetAgentID != "steve" {
		t.Fatalf("expected target agent steve, got %q", req.TargetAgentID)
	}
	if req.RequestID == "" || req.IdempotencyKey == "" {
		t.Fatalf("expected request_id and idempotency_key to be populated, got %+v", req)
	}
}

func TestSaturatingSub_NeverUnderflows(t *testing.T) {
	if got := saturatingSub(5, 10); got != 0 {
		t.Fatalf("expected saturating sub to floor at 0, got %d", got)
	}
	if got := saturatingSub(10, 5); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestActor_EnqueueSpeech_DuplicateCooldownSuppressesRepeat(t *testing.T) {
	a, _, _ := testActor(t)

	if err := a.enqueueSpeech("hello there", speechqueue.P2Commentary, speechqueue.SourceFiller, 1000, 0); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := a.enqueueSpeech("hello   there", speechqueue.P2Commentary, speechqueue.SourceFiller, 1000, 100); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if a.queue.Len() != 1 {
		t.Fatalf("expected the whitespace-variant duplicate suppressed within cooldown, queue len=%d", a.queue.Len())
	}

	if err := a.enqueueSpeech("hello there", speechqueue.P2Commentary, speechqueue.SourceFiller, 1000, 5000); err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	if a.queue.Len() != 2 {
		t.Fatalf("expected the same line to re-enqueue once the cooldown elapsed, queue len=%d", a.queue.Len())
	}
}

func TestActor_OnTick_RunsPipelineForPoppedJob(t *testing.T) {
	a, _, pipeline := testActor(t)
	a.lastSpokenMs = 0
	if err := a.enqueueSpeech("checking surroundings", speechqueue.P1ChatReply, speechqueue.SourceTelemetry, 5000, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := a.onTick(context.Background()); err != nil {
		t.Fatalf("onTick: %v", err)
	}
	if len(pipeline.ran) == 0 {
		t.Fatal("expected onTick to run the pipeline for the popped job")
	}
}

func TestActor_HandleEvent_RejectedAckEnqueuesSafetyLine(t *testing.T) {
	a, _, _ := testActor(t)
	err := a.handleEvent(Event{
		Kind: EventActionAck,
		Ack:  &protocolwire.ActionAck{RequestID: "r1", Accepted: false, Reason: "busy"},
	})
	if err != nil {
		t.Fatalf("handleEvent: %v", err)
	}
	job := a.queue.PopNext(0)
	if job == nil || job.Priority != speechqueue.P0Safety || job.Source != speechqueue.SourceActionSafety {
		t.Fatalf("expected a P0 safety line enqueued on ack rejection, got %+v", job)
	}
}
