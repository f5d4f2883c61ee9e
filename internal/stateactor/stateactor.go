// Package stateactor implements the orchestrator's tick-driven controller
// (spec component C9): it fuses bridge events, the speech queue, the action
// ledger, and the speech pipeline into one goroutine with no shared mutable
// state, following the tick-then-drain shape spec.md §4.9 describes.
package stateactor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikqnpi/miqbot/internal/actionledger"
	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/monoclock"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/speechqueue"
)

// EventKind discriminates the variants of Event delivered by Bridge.
type EventKind int

const (
	EventTelemetry EventKind = iota
	EventActionAck
	EventActionResult
	EventHeartbeat
	EventClosed
)

// Event is one message surfaced by a Bridge connection.
type Event struct {
	Kind      EventKind
	Telemetry *protocolwire.TelemetryFrame
	Ack       *protocolwire.ActionAck
	Result    *protocolwire.ActionResult
	Heartbeat *protocolwire.Heartbeat
}

// Bridge is the subset of internal/orchbridge.Client the state actor needs;
// expressed as an interface so tests can drive it without a real socket.
type Bridge interface {
	NextEvent(ctx context.Context) (Event, error)
	SendActionRequest(ctx context.Context, req *protocolwire.ActionRequest) error
}

// PipelineOutcome reports what happened while a speech job ran through
// subtitles, TTS, and playback.
type PipelineOutcome struct {
	TTFTMs               uint64
	TTSTotalMs           uint64
	SubtitleShowS        float64
	SubtitleRequestID    string
	SubtitleVisibleChars uint64
	SubtitleWrapped      string
	PipelineLatencyMs    uint64
	AudioPath            string
}

// Pipeline runs one speech job end to end (subtitle post, TTS synth, audio
// playback); internal/speechpipeline supplies the production implementation.
type Pipeline interface {
	Run(ctx context.Context, job speechqueue.Job) (PipelineOutcome, error)
}

// Config carries the orchestrator-level timing and queue-sizing knobs the
// state actor enforces.
type Config struct {
	StateTickMs          uint64
	ChatDeadlineMs        uint64
	FillerDeadlineMs      uint64
	SilenceGapMs          uint64
	DuplicateCooldownMs   uint64
	QueueMaxP0, QueueMaxP1, QueueMaxP2 int
	PrimaryGameAgentID    string
	ActionAckTimeoutMs    uint64
	ActionResultTimeoutMs uint64
	MetricsJSONLPath      string
}

// Actor is the C9 controller. One Actor per orchestrator process.
type Actor struct {
	cfg      Config
	bridge   Bridge
	pipeline Pipeline
	queue    *speechqueue.Queue
	ledger   *actionledger.Ledger

	lastSpokenMs uint64
	lastLine     string
	lastLineMs   uint64
}

// New constructs an Actor. bridge and pipeline must be non-nil.
func New(cfg Config, bridge Bridge, pipeline Pipeline) *Actor {
	return &Actor{
		cfg:      cfg,
		bridge:   bridge,
		pipeline: pipeline,
		queue:    speechqueue.New(cfg.QueueMaxP0, cfg.QueueMaxP1, cfg.QueueMaxP2),
		ledger:   actionledger.New(),
	}
}

// Run drives the tick/event loop until ctx is cancelled or the bridge event
// stream reports EventClosed.
func (a *Actor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(a.cfg.StateTickMs) * time.Millisecond)
	defer ticker.Stop()
	applog.L().Info("state actor started")

	eventCh := make(chan eventOrErr, 1)
	go a.pumpEvents(ctx, eventCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-eventCh:
			if res.err != nil {
				return res.err
			}
			if res.event.Kind == EventClosed {
				applog.L().Warn("bridge connection closed")
				return nil
			}
			if err := a.handleEvent(res.event); err != nil {
				return err
			}
			go a.pumpEvents(ctx, eventCh)
		case <-ticker.C:
			if err := a.onTick(ctx); err != nil {
				return err
			}
		}
	}
}

type eventOrErr struct {
	event Event
	err   error
}

func (a *Actor) pumpEvents(ctx context.Context, out chan<- eventOrErr) {
	evt, err := a.bridge.NextEvent(ctx)
	select {
	case out <- eventOrErr{event: evt, err: err}:
	case <-ctx.Done():
	}
}

func (a *Actor) handleEvent(evt Event) error {
	switch evt.Kind {
	case EventTelemetry:
		now := monoclock.NowMs()
		line := makeTelemetryLine(evt.Telemetry)
		return a.enqueueSpeech(line, speechqueue.P2Commentary, speechqueue.SourceTelemetry, a.cfg.ChatDeadlineMs, now)
	case EventActionAck:
		a.ledger.OnAck(evt.Ack.RequestID, evt.Ack.Accepted)
		if !evt.Ack.Accepted {
			now := monoclock.NowMs()
			line := fmt.Sprintf("Action was rejected. reason=%s. switching to safe mode.", evt.Ack.Reason)
			return a.enqueueSpeech(line, speechqueue.P0Safety, speechqueue.SourceActionSafety, a.cfg.ChatDeadlineMs, now)
		}
	case EventActionResult:
		a.ledger.OnResult(evt.Result.RequestID)
		if evt.Result.Status != protocolwire.ActionStatusOK {
			now := monoclock.NowMs()
			line := fmt.Sprintf("Action result status=%d. prioritizing safe recovery.", evt.Result.Status)
			return a.enqueueSpeech(line, speechqueue.P0Safety, speechqueue.SourceActionSafety, a.cfg.ChatDeadlineMs, now)
		}
	case EventHeartbeat:
	}
	return nil
}

func (a *Actor) onTick(ctx context.Context) error {
	now := monoclock.NowMs()

	for _, dropped := range a.queue.DropExpired(now) {
		a.appendMetric(map[string]any{
			"event":          "speech_dropped",
			"job_id":         dropped.Job.JobID,
			"text":           dropped.Job.Text,
			"priority":       dropped.Job.Priority.String(),
			"source":         dropped.Job.Source.String(),
			"dropped_reason": string(dropped.Reason),
		})
	}

	for _, timeout := range a.ledger.PollTimeouts(now) {
		label := "ack_timeout"
		if timeout.Kind == actionledger.TimeoutResult {
			label = "result_timeout"
		}
		line := fmt.Sprintf("Action %s reached %s. sending StopAll.", timeout.RequestID, label)
		if err := a.enqueueSpeech(line, speechqueue.P0Safety, speechqueue.SourceActionSafety, a.cfg.ChatDeadlineMs, now); err != nil {
			return err
		}

		if !IsAllowlisted(protocolwire.ActionTypeStopAll) {
			applog.L().Warn("stop_all is not allowlisted, skip emergency action send")
			continue
		}

		stopReq := BuildStopAllRequest(a.cfg.PrimaryGameAgentID, monoclock.WallUnixMs(), 1500)
		if err := a.bridge.SendActionRequest(ctx, stopReq); err != nil {
			applog.L().Warn("send stop_all failed", "error", err, "request_id", stopReq.RequestID)
		} else {
			a.ledger.OnSent(stopReq.RequestID, now, a.cfg.ActionAckTimeoutMs, a.cfg.ActionResultTimeoutMs)
		}
	}

	if saturatingSub(now, a.lastSpokenMs) >= a.cfg.SilenceGapMs {
		if err := a.enqueueSpeech("Planning the next safe move and checking surroundings.",
			speechqueue.P2Commentary, speechqueue.SourceFiller, a.cfg.FillerDeadlineMs, now); err != nil {
			return err
		}
	}

	job := a.queue.PopNext(now)
	if job == nil {
		return nil
	}

	queueWaitMs := saturatingSub(now, job.EnqueuedMs)
	silenceGapMs := saturatingSub(now, a.lastSpokenMs)
	outcome, err := a.pipeline.Run(ctx, *job)
	if err != nil {
		return err
	}
	a.lastSpokenMs = monoclock.NowMs()

	a.appendMetric(map[string]any{
		"event":                  "speech_pipeline",
		"job_id":                 job.JobID,
		"text":                   job.Text,
		"priority":               job.Priority.String(),
		"source":                 job.Source.String(),
		"ttft_ms":                outcome.TTFTMs,
		"tts_total_ms":           outcome.TTSTotalMs,
		"subtitle_show_s":        outcome.SubtitleShowS,
		"subtitle_request_id":    outcome.SubtitleRequestID,
		"subtitle_visible_chars": outcome.SubtitleVisibleChars,
		"subtitle_wrapped":       outcome.SubtitleWrapped,
		"silence_gap_ms":         silenceGapMs,
		"queue_wait_ms":          queueWaitMs,
		"pipeline_latency_ms":    outcome.PipelineLatencyMs,
		"audio_path":             outcome.AudioPath,
	})
	return nil
}

func (a *Actor) enqueueSpeech(text string, priority speechqueue.Priority, source speechqueue.Source, deadlineDeltaMs, nowMs uint64) error {
	dedupeKey := normalizeDedupeKey(text)
	if a.lastLine == dedupeKey && saturatingSub(nowMs, a.lastLineMs) < a.cfg.DuplicateCooldownMs {
		return nil
	}
	a.lastLine = dedupeKey
	a.lastLineMs = nowMs

	job := speechqueue.Job{
		JobID:      uuid.NewString(),
		Text:       text,
		Priority:   priority,
		Source:     source,
		EnqueuedMs: nowMs,
		DeadlineMs: saturatingAdd(nowMs, deadlineDeltaMs),
		DedupeKey:  dedupeKey,
	}
	if dropped := a.queue.Push(job); dropped != nil {
		a.appendMetric(map[string]any{
			"event":          "speech_dropped",
			"job_id":         dropped.Job.JobID,
			"text":           dropped.Job.Text,
			"priority":       dropped.Job.Priority.String(),
			"source":         dropped.Job.Source.String(),
			"dropped_reason": string(dropped.Reason),
		})
	}
	return nil
}

func (a *Actor) appendMetric(value map[string]any) {
	if a.cfg.MetricsJSONLPath == "" {
		return
	}
	if dir := filepath.Dir(a.cfg.MetricsJSONLPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			applog.L().Warn("create metrics dir failed", "error", err)
			return
		}
	}
	f, err := os.OpenFile(a.cfg.MetricsJSONLPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		applog.L().Warn("open metrics file failed", "error", err)
		return
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(value); err != nil {
		applog.L().Warn("write metrics line failed", "error", err)
	}
}

func makeTelemetryLine(t *protocolwire.TelemetryFrame) string {
	dim := "unknown"
	switch t.Dimension {
	case protocolwire.DimensionOverworld:
		dim = "overworld"
	case protocolwire.DimensionNether:
		dim = "nether"
	case protocolwire.DimensionTheEnd:
		dim = "end"
	}
	return fmt.Sprintf("Current dimension=%s, hp=%.0f, hunger=%.0f. moving with caution.", dim, t.HealthPct, t.FoodPct)
}

// normalizeDedupeKey strips ALL whitespace (not merely collapsing runs of
// it) so that "go left" and "go  left" dedupe identically.
func normalizeDedupeKey(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if !isSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}
