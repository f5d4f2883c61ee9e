// Command bridge runs the mTLS+WebSocket relay that sits between the game
// client and any subscribed orchestrators.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/auditstore"
	"github.com/mikqnpi/miqbot/internal/bridgeconfig"
	"github.com/mikqnpi/miqbot/internal/bridgeserver"
	"github.com/mikqnpi/miqbot/internal/hub"
	"github.com/mikqnpi/miqbot/internal/mdnsadvert"
	"github.com/mikqnpi/miqbot/internal/obsmetrics"
	"github.com/mikqnpi/miqbot/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "", "path to bridge.toml (defaults to "+bridgeconfig.DefaultConfigPath+")")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	devTLS := flag.Bool("dev-tls", false, "generate a self-signed cert instead of loading tls.* from config")
	certValidity := flag.Duration("dev-tls-validity", 24*time.Hour, "self-signed dev certificate validity")
	flag.Parse()

	applog.Set(applog.New(*logFormat, applog.ParseLevel(*logLevel), os.Stderr))
	log := applog.L()

	cfg, err := bridgeconfig.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var tlsFingerprint string
	var tlsConfig = mustLoadTLS(cfg, *devTLS, *certValidity, &tlsFingerprint)
	if tlsFingerprint != "" {
		log.Info("using self-signed dev TLS certificate", "fingerprint", tlsFingerprint)
	}

	h := hub.New(hub.Config{
		PrimaryGameAgentID:         cfg.Relay.PrimaryGameAgentID,
		AllowOrchestratorSubscribe: cfg.Relay.AllowOrchestratorSubscribe,
		MaxOrchestratorSubscribers: cfg.Relay.MaxOrchestratorSubscribers,
		MinRelayIntervalMs:         cfg.Relay.MinRelayIntervalMs,
		ActionQueueSize:            cfg.Relay.ActionQueueSize,
		ActionSendTimeout:          time.Duration(cfg.Relay.ActionSendTimeoutMs) * time.Millisecond,
	})

	var audit *auditstore.Store
	if cfg.Admin.AuditDBPath != "" {
		audit, err = auditstore.Open(cfg.Admin.AuditDBPath)
		if err != nil {
			log.Error("auditstore open failed", "error", err)
			os.Exit(1)
		}
		defer audit.Close()
		h.SetOutcomeSink(func(requestID, status, detail string) {
			if err := audit.RecordOutcome(requestID, cfg.Relay.PrimaryGameAgentID, "", status, detail); err != nil {
				log.Warn("audit record failed", "request_id", requestID, "error", err)
			}
		})
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

	if cfg.Admin.MDNSServiceName != "" {
		_, port, _ := net.SplitHostPort(cfg.BindAddr)
		portNum := 8443
		if p, err := net.LookupPort("tcp", port); err == nil {
			portNum = p
		}
		advert, err := mdnsadvert.Start(ctx, cfg.Admin.MDNSServiceName, portNum, []string{"bind_addr=" + cfg.BindAddr})
		if err != nil {
			log.Warn("mdns advertisement failed to start", "error", err)
		} else {
			defer advert.Close()
		}
	}

	obsmetrics.SetReadinessFunc(func() bool { return true })

	srv := bridgeserver.New(bridgeserver.Config{
		ListenAddr:        cfg.BindAddr,
		HelloTimeoutMs:    cfg.Limits.HelloTimeoutMs,
		MaxWSMessageBytes: cfg.Limits.MaxWSMessageBytes,
		SendTimeout:       time.Duration(cfg.Limits.SendTimeoutMs) * time.Millisecond,
		ServerVersion:     "miqbot-bridge/0.1.0",
	}, h, tlsConfig)

	log.Info("bridge starting", "bind_addr", cfg.BindAddr)
	if err := srv.Run(ctx); err != nil {
		log.Error("bridge server exited with error", "error", err)
		os.Exit(1)
	}
}

func mustLoadTLS(cfg *bridgeconfig.Config, devTLS bool, certValidity time.Duration, fingerprint *string) *tls.Config {
	if devTLS {
		host, _, err := net.SplitHostPort(cfg.BindAddr)
		if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		tlsConfig, fp, err := tlsutil.SelfSignedServerConfig(host, certValidity)
		if err != nil {
			applog.L().Error("dev tls generation failed", "error", err)
			os.Exit(1)
		}
		*fingerprint = fp
		return tlsConfig
	}

	tlsConfig, err := tlsutil.ServerConfig(cfg.TLS.ServerCertPEM, cfg.TLS.ServerKeyPEM, cfg.TLS.ClientCACertPEM)
	if err != nil {
		applog.L().Error("tls config load failed", "error", err)
		os.Exit(1)
	}
	return tlsConfig
}
