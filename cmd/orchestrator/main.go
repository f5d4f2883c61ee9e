// Command orchestrator connects to a bridge, watches telemetry, and drives
// the speech pipeline and action ledger on its behalf.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/audioplayer"
	"github.com/mikqnpi/miqbot/internal/obsmetrics"
	"github.com/mikqnpi/miqbot/internal/orchbridge"
	"github.com/mikqnpi/miqbot/internal/orchconfig"
	"github.com/mikqnpi/miqbot/internal/speechpipeline"
	"github.com/mikqnpi/miqbot/internal/stateactor"
	"github.com/mikqnpi/miqbot/internal/subtitleclient"
	"github.com/mikqnpi/miqbot/internal/tlsutil"
	"github.com/mikqnpi/miqbot/internal/ttsclient"
)

const (
	httpClientTimeout = 10 * time.Second
	bridgeSendTimeout = 5 * time.Second
	reconnectBackoff  = 3 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to orchestrator.toml (defaults to "+orchconfig.DefaultConfigPath+")")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	applog.Set(applog.New(*logFormat, applog.ParseLevel(*logLevel), os.Stderr))
	log := applog.L()

	cfg, err := orchconfig.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	metricsSrv := obsmetrics.StartHTTP(cfg.MetricsListenAddr)
	defer metricsSrv.Close()

	pipeline := buildPipeline(cfg)

	for ctx.Err() == nil {
		if err := runOnce(ctx, cfg, pipeline); err != nil {
			log.Warn("orchestrator session ended", "error", err)
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectBackoff):
		}
	}
}

func buildPipeline(cfg *orchconfig.Config) *speechpipeline.Pipeline {
	subtitle := subtitleclient.New(cfg.SubtitleURL, httpClientTimeout)
	tts := ttsclient.New(cfg.TTSURL, httpClientTimeout)
	audio, err := audioplayer.New(cfg.AudioOutputDir, cfg.FallbackWAVPath)
	if err != nil {
		applog.L().Error("audio player init failed", "error", err)
		os.Exit(1)
	}

	ttsMode := ttsclient.ModeWavOnly
	if cfg.TTSModeValue() == orchconfig.TTSModeWithMeta {
		ttsMode = ttsclient.ModeWithMeta
	}
	return speechpipeline.New(subtitle, tts, audio, ttsMode)
}

func runOnce(ctx context.Context, cfg *orchconfig.Config, pipeline *speechpipeline.Pipeline) error {
	tlsConfig, err := tlsutil.ClientConfig(cfg.TLS.ClientCertPEM, cfg.TLS.ClientKeyPEM, cfg.TLS.CACertPEM, "")
	if err != nil {
		return err
	}

	bridge, err := orchbridge.Connect(ctx, cfg.BridgeURL, cfg.AgentID, cfg.ClientVersion, tlsConfig, bridgeSendTimeout, 1<<20)
	if err != nil {
		return err
	}
	defer bridge.Close()

	actor := stateactor.New(stateactor.Config{
		StateTickMs:           cfg.StateTickMs,
		ChatDeadlineMs:        cfg.ChatDeadlineMs,
		FillerDeadlineMs:      cfg.FillerDeadlineMs,
		SilenceGapMs:          cfg.SilenceGapMs,
		DuplicateCooldownMs:   cfg.DuplicateCooldownMs,
		QueueMaxP0:            cfg.QueueMaxP0,
		QueueMaxP1:            cfg.QueueMaxP1,
		QueueMaxP2:            cfg.QueueMaxP2,
		PrimaryGameAgentID:    cfg.PrimaryGameAgentID,
		ActionAckTimeoutMs:    cfg.ActionAckTimeoutMs,
		ActionResultTimeoutMs: cfg.ActionResultTimeoutMs,
		MetricsJSONLPath:      cfg.MetricsJSONLPath,
	}, bridge, pipeline)

	applog.L().Info("orchestrator connected", "bridge_url", cfg.BridgeURL)
	return actor.Run(ctx)
}
