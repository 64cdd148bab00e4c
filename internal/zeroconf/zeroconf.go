// Package zeroconf advertises the medialink HTTP API over mDNS/DNS-SD and
// discovers media backends on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is what medialinkd advertises.
	ServiceType = "_medialink._tcp"
	// BackendServiceType is what media backends advertise.
	BackendServiceType = "_tchaik._tcp"

	domain          = "local."
	defaultWSPath   = "/socket"
	txtPathPrefix   = "path="
	txtSchemePrefix = "scheme="
)

// Service manages mDNS service registration.
type Service struct {
	name   string // instance name, usually the hostname
	port   int
	txt    []string
	server *zeroconf.Server
}

// New creates a Service that will advertise the API on port.
func New(name string, port int, txt ...string) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  txt,
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(s.name, ServiceType, domain, s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "port", s.port, "txt", s.txt)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Browse looks for an instance of service and returns a WebSocket URL for
// the first one that resolves. It gives up when ctx ends.
func Browse(ctx context.Context, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("zeroconf resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := resolver.Browse(browseCtx, service, domain, entries); err != nil {
		return "", fmt.Errorf("zeroconf browse: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("zeroconf: no %s found: %w", service, ctx.Err())
		case e, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("zeroconf: no %s found", service)
			}
			if u := EntryURL(e.HostName, e.AddrIPv4, e.AddrIPv6, e.Port, e.Text); u != "" {
				slog.Info("zeroconf: discovered backend", "instance", e.Instance, "url", u)
				return u, nil
			}
		}
	}
}

// EntryURL builds the WebSocket URL for a resolved service entry. TXT records
// "path=" and "scheme=" override the defaults ("/socket", "ws").
func EntryURL(host string, v4, v6 []net.IP, port int, txt []string) string {
	addr := strings.TrimSuffix(host, ".")
	switch {
	case len(v4) > 0:
		addr = v4[0].String()
	case len(v6) > 0:
		addr = v6[0].String()
	}
	if addr == "" || port <= 0 {
		return ""
	}

	scheme, path := "ws", defaultWSPath
	for _, t := range txt {
		switch {
		case strings.HasPrefix(t, txtPathPrefix):
			path = strings.TrimPrefix(t, txtPathPrefix)
		case strings.HasPrefix(t, txtSchemePrefix):
			scheme = strings.TrimPrefix(t, txtSchemePrefix)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + net.JoinHostPort(addr, strconv.Itoa(port)) + path
}
