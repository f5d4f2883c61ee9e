package mdnsadvert

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultInstanceName_IncludesHostname(t *testing.T) {
	host, err := os.Hostname()
	if err != nil {
		t.Skip("no hostname available in this environment")
	}
	name := defaultInstanceName()
	if !strings.Contains(name, host) {
		t.Fatalf("expected instance name to contain hostname %q, got %q", host, name)
	}
	if !strings.HasPrefix(name, "miqbot-bridge-") {
		t.Fatalf("expected miqbot-bridge- prefix, got %q", name)
	}
}
