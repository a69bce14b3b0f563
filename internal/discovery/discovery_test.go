package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeBrowser struct {
	entries []ServiceEntry
	err     error
}

func (f *fakeBrowser) Browse(ctx context.Context, _, _ string, out chan<- ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	for _, entry := range f.entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- entry:
		}
	}
	<-ctx.Done()
	return nil
}

func TestEndpointFromEntry_PrefersNonLoopbackIPv4(t *testing.T) {
	entry := ServiceEntry{
		Instance: "tweakforge",
		HostName: "iphone.local.",
		Port:     8086,
		IPv4:     []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("192.168.1.10")},
		IPv6:     []net.IP{net.ParseIP("::1")},
	}
	ep, ok := EndpointFromEntry(entry)
	if !ok {
		t.Fatalf("expected endpoint")
	}
	if ep.URL != "http://192.168.1.10:8086" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestEndpointFromEntry_UsesBracketedIPv6(t *testing.T) {
	entry := ServiceEntry{
		Instance: "tweakforge",
		HostName: "iphone.local.",
		Port:     8086,
		IPv6:     []net.IP{net.ParseIP("fd00::10")},
	}
	ep, ok := EndpointFromEntry(entry)
	if !ok {
		t.Fatalf("expected endpoint")
	}
	if ep.URL != "http://[fd00::10]:8086" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestEndpointFromEntry_InvalidEntry(t *testing.T) {
	if _, ok := EndpointFromEntry(ServiceEntry{Port: 0}); ok {
		t.Fatalf("expected invalid endpoint")
	}
	if _, ok := EndpointFromEntry(ServiceEntry{Port: 8086}); ok {
		t.Fatalf("expected invalid endpoint without IP")
	}
}

func TestParseListenPort(t *testing.T) {
	port, err := ParseListenPort(":8086")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if port != 8086 {
		t.Fatalf("expected 8086, got %d", port)
	}

	if _, err := ParseListenPort("8086"); err == nil {
		t.Fatalf("expected error for invalid listen address")
	}
}

func TestDiscoverWithBrowser_FindsEndpoint(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{{
		Instance: "tweakforge",
		HostName: "iphone.local.",
		Port:     8086,
		IPv4:     []net.IP{net.ParseIP("10.0.0.5")},
	}}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ep, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if ep.URL != "http://10.0.0.5:8086" {
		t.Fatalf("unexpected url: %s", ep.URL)
	}
}

func TestDiscoverWithBrowser_NoResult(t *testing.T) {
	fb := &fakeBrowser{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain); !errors.Is(err, ErrNoServiceFound) {
		t.Fatalf("expected ErrNoServiceFound, got %v", err)
	}
}

func TestDiscoverAllWithBrowser_DeduplicatesDevices(t *testing.T) {
	entry := ServiceEntry{
		Instance: "tweakforge",
		HostName: "iphone.local.",
		Port:     8086,
		IPv4:     []net.IP{net.ParseIP("10.0.0.5")},
	}
	other := entry
	other.Instance = "tweakforge-2"
	other.IPv4 = []net.IP{net.ParseIP("10.0.0.6")}

	fb := &fakeBrowser{entries: []ServiceEntry{entry, entry, other}}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	endpoints, err := DiscoverAllWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain)
	if err != nil {
		t.Fatalf("discover all failed: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", endpoints)
	}
}

func TestDiscoverWithBrowser_BrowseError(t *testing.T) {
	fb := &fakeBrowser{err: errors.New("socket busy")}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := DiscoverWithBrowser(ctx, fb, DefaultServiceName, DefaultDomain); err == nil {
		t.Fatalf("expected browse error")
	}
}
