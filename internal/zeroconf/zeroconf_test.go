package zeroconf_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/micro-nova/medialink/internal/zeroconf"
)

// TestStart_Cancel starts the service and cancels the context within 1 second.
// It verifies that Start returns without blocking.
func TestStart_Cancel(t *testing.T) {
	svc := zeroconf.New("medialink-test", 18080, "version=test")

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()

	select {
	case err := <-done:
		// mDNS may be unavailable in the test environment; returning is what matters.
		if err != nil {
			t.Logf("Start returned error (may be expected in CI): %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return within 3 seconds after context cancellation")
	}
}

func TestEntryURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		v4   []net.IP
		v6   []net.IP
		port int
		txt  []string
		want string
	}{
		{"ipv4 default path", "nas.local.", []net.IP{net.ParseIP("192.168.1.20")}, nil, 8080, nil, "ws://192.168.1.20:8080/socket"},
		{"ipv6", "", nil, []net.IP{net.ParseIP("fe80::1")}, 8080, nil, "ws://[fe80::1]:8080/socket"},
		{"hostname fallback", "nas.local.", nil, nil, 8080, nil, "ws://nas.local:8080/socket"},
		{"txt overrides", "", []net.IP{net.ParseIP("10.0.0.2")}, nil, 443, []string{"path=api/ws", "scheme=wss"}, "wss://10.0.0.2:443/api/ws"},
		{"no port", "nas.local.", nil, nil, 0, nil, ""},
		{"no address", "", nil, nil, 8080, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := zeroconf.EntryURL(tt.host, tt.v4, tt.v6, tt.port, tt.txt)
			if got != tt.want {
				t.Errorf("EntryURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
