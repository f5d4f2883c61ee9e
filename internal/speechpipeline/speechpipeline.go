// Package speechpipeline composes the subtitle, TTS, and playback
// collaborators into the orchestrator's speech pipeline (the
// run-to-completion step the C9 state actor runs for each line popped from
// the C7 speech queue, satisfying internal/stateactor.Pipeline).
package speechpipeline

import (
	"context"
	"time"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/audioplayer"
	"github.com/mikqnpi/miqbot/internal/speechqueue"
	"github.com/mikqnpi/miqbot/internal/stateactor"
	"github.com/mikqnpi/miqbot/internal/subtitleclient"
	"github.com/mikqnpi/miqbot/internal/ttsclient"
)

// Pipeline runs a speech job through subtitle rendering, TTS synthesis, and
// playback. It implements internal/stateactor.Pipeline.
type Pipeline struct {
	subtitle *subtitleclient.Client
	tts      *ttsclient.Client
	audio    *audioplayer.Player
	ttsMode  ttsclient.Mode
}

// New constructs a Pipeline from its three collaborators.
func New(subtitle *subtitleclient.Client, tts *ttsclient.Client, audio *audioplayer.Player, ttsMode ttsclient.Mode) *Pipeline {
	return &Pipeline{subtitle: subtitle, tts: tts, audio: audio, ttsMode: ttsMode}
}

// Run posts the subtitle (best effort), synthesizes audio, plays it, and
// reports combined timing. A subtitle failure degrades to empty subtitle
// fields rather than failing the whole job; a TTS failure is fatal.
func (p *Pipeline) Run(ctx context.Context, job speechqueue.Job) (stateactor.PipelineOutcome, error) {
	started := time.Now()

	subtitleCh := make(chan *subtitleResult, 1)
	go func() {
		res, err := p.subtitle.PostSubtitle(ctx, job.Text)
		if err != nil {
			applog.L().Warn("subtitle post failed", "job_id", job.JobID, "error", err)
			subtitleCh <- &subtitleResult{}
			return
		}
		subtitleCh <- &subtitleResult{
			showS:        res.ShowS,
			requestID:    res.RequestID,
			wrapped:      res.Wrapped,
			visibleChars: res.VisibleChars,
		}
	}()

	ttsStarted := time.Now()
	synth, err := p.tts.Synthesize(ctx, job.Text, p.ttsMode)
	if err != nil {
		<-subtitleCh
		return stateactor.PipelineOutcome{}, err
	}
	measuredTTFTMs := uint64(time.Since(ttsStarted).Milliseconds())

	audioPath, err := p.audio.PlayOrFallback(synth.WavBytes)
	if err != nil {
		<-subtitleCh
		return stateactor.PipelineOutcome{}, err
	}
	pipelineLatencyMs := uint64(time.Since(started).Milliseconds())

	sub := <-subtitleCh

	ttftMs := measuredTTFTMs
	if synth.TTFTMs != nil {
		ttftMs = *synth.TTFTMs
	}
	totalMs := pipelineLatencyMs
	if synth.TotalMs != nil {
		totalMs = *synth.TotalMs
	}

	return stateactor.PipelineOutcome{
		TTFTMs:               ttftMs,
		TTSTotalMs:           totalMs,
		SubtitleShowS:        sub.showS,
		SubtitleRequestID:    sub.requestID,
		SubtitleVisibleChars: sub.visibleChars,
		SubtitleWrapped:      sub.wrapped,
		PipelineLatencyMs:    pipelineLatencyMs,
		AudioPath:            audioPath,
	}, nil
}

type subtitleResult struct {
	showS        float64
	requestID    string
	wrapped      string
	visibleChars uint64
}
