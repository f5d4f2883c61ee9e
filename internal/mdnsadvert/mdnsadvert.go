// Package mdnsadvert optionally advertises the bridge on the local network
// via mDNS (spec component C12), so an orchestrator on the same network can
// find bridge_url without manual configuration. The bridge runs identically
// whether this is enabled or not.
package mdnsadvert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_miqbot-bridge._tcp"

// Advertisement is a live mDNS registration. Call Close to unregister.
type Advertisement struct {
	svc  *zeroconf.Server
	done chan struct{}
}

// Start registers instanceName (or a hostname-derived default when it is
// empty) as serviceType on port, carrying meta as TXT records. Every call
// registers; callers that do not want advertisement do not call Start. The
// registration is shut down when ctx is cancelled or Close is called.
func Start(ctx context.Context, instanceName string, port int, meta []string) (*Advertisement, error) {
	if instanceName == "" {
		instanceName = defaultInstanceName()
	}

	svc, err := zeroconf.Register(instanceName, serviceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdnsadvert: register: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()

	return &Advertisement{svc: svc, done: done}, nil
}

// Close unregisters the advertisement and blocks briefly for the shutdown
// announcement to go out.
func (a *Advertisement) Close() {
	if a == nil {
		return
	}
	close(a.done)
	a.svc.Shutdown()
	time.Sleep(50 * time.Millisecond)
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "bridge"
	}
	return fmt.Sprintf("miqbot-bridge-%s", host)
}
