// Package discovery announces the daemon on the local network and lets
// clients find devices without knowing their addresses.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultServiceName = "_tweakforge._tcp"
	DefaultDomain      = "local."
)

var ErrNoServiceFound = errors.New("no discovery service found")

type ServiceEntry struct {
	Instance string
	HostName string
	Port     int
	IPv4     []net.IP
	IPv6     []net.IP
	Text     []string
}

type Endpoint struct {
	URL      string
	Instance string
	HostName string
	Port     int
	Text     []string
}

type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error
}

// Discover returns the first device answering on the service. The context
// deadline bounds the scan.
func Discover(ctx context.Context, service, domain string) (Endpoint, error) {
	return DiscoverWithBrowser(ctx, NewMDBrowser(), service, domain)
}

func DiscoverWithBrowser(ctx context.Context, browser Browser, service, domain string) (Endpoint, error) {
	endpoints, err := collect(ctx, browser, service, domain, 1)
	if err != nil {
		return Endpoint{}, err
	}
	if len(endpoints) == 0 {
		return Endpoint{}, fmt.Errorf("discover %s failed: %w", normalizeService(service), ErrNoServiceFound)
	}
	return endpoints[0], nil
}

// DiscoverAll scans until the context expires and returns every distinct
// device seen, so the caller can list more than one build daemon.
func DiscoverAll(ctx context.Context, service, domain string) ([]Endpoint, error) {
	return DiscoverAllWithBrowser(ctx, NewMDBrowser(), service, domain)
}

func DiscoverAllWithBrowser(ctx context.Context, browser Browser, service, domain string) ([]Endpoint, error) {
	return collect(ctx, browser, service, domain, 0)
}

func collect(ctx context.Context, browser Browser, service, domain string, max int) ([]Endpoint, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	service = normalizeService(service)
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = DefaultDomain
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan ServiceEntry, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- browser.Browse(scanCtx, service, domain, entries)
	}()

	seen := map[string]bool{}
	var found []Endpoint
	browseFinished := false

	for {
		select {
		case <-scanCtx.Done():
			if errors.Is(scanCtx.Err(), context.DeadlineExceeded) || errors.Is(scanCtx.Err(), context.Canceled) || browseFinished {
				return found, nil
			}
			return found, scanCtx.Err()
		case err := <-errCh:
			if err != nil {
				return found, fmt.Errorf("browse discovery service %s: %w", service, err)
			}
			browseFinished = true
			errCh = nil
		case entry := <-entries:
			endpoint, ok := EndpointFromEntry(entry)
			if !ok || seen[endpoint.URL] {
				continue
			}
			seen[endpoint.URL] = true
			found = append(found, endpoint)
			if max > 0 && len(found) >= max {
				return found, nil
			}
		}
	}
}

func EndpointFromEntry(entry ServiceEntry) (Endpoint, bool) {
	if entry.Port <= 0 {
		return Endpoint{}, false
	}
	ip := pickIP(entry.IPv4, entry.IPv6)
	if ip == nil {
		return Endpoint{}, false
	}
	host := ip.String()
	if ip.To4() == nil {
		host = "[" + host + "]"
	}
	return Endpoint{
		URL:      "http://" + host + ":" + strconv.Itoa(entry.Port),
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
	}, true
}

func ParseListenPort(listenAddr string) (int, error) {
	trimmed := strings.TrimSpace(listenAddr)
	if trimmed == "" {
		return 0, errors.New("listen address is required")
	}
	_, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen port out of range: %d", port)
	}
	return port, nil
}

func normalizeService(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		return DefaultServiceName
	}
	return service
}

// pickIP prefers routable IPv4, then routable IPv6, then loopback.
func pickIP(ipv4 []net.IP, ipv6 []net.IP) net.IP {
	for _, group := range [][]net.IP{ipv4, ipv6} {
		for _, ip := range group {
			if validAdvertisedIP(ip) && !ip.IsLoopback() {
				return ip
			}
		}
	}
	for _, group := range [][]net.IP{ipv4, ipv6} {
		for _, ip := range group {
			if validAdvertisedIP(ip) {
				return ip
			}
		}
	}
	return nil
}

func validAdvertisedIP(ip net.IP) bool {
	return ip != nil && !ip.IsUnspecified()
}
