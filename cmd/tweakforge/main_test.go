package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tweakforge/tweakforge/internal/discovery"
	"github.com/tweakforge/tweakforge/internal/pipeline"
)

func TestResolveServerURL_ExplicitWins(t *testing.T) {
	url, err := resolveServerURL("http://iphone:8086", true, time.Second, discovery.DefaultServiceName, discovery.DefaultDomain)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if url != "http://iphone:8086" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestResolveServerURL_DiscoverDisabledWithoutServer(t *testing.T) {
	if _, err := resolveServerURL("", false, time.Second, discovery.DefaultServiceName, discovery.DefaultDomain); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolveServerURL_DiscoverSuccess(t *testing.T) {
	orig := discoverFn
	t.Cleanup(func() {
		discoverFn = orig
	})
	discoverFn = func(ctx context.Context, service, domain string) (discovery.Endpoint, error) {
		return discovery.Endpoint{URL: "http://10.0.0.9:8086", Instance: "tweakforge", HostName: "iphone.local."}, nil
	}

	url, err := resolveServerURL("", true, 200*time.Millisecond, discovery.DefaultServiceName, discovery.DefaultDomain)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if url != "http://10.0.0.9:8086" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestResolveServerURL_DiscoverError(t *testing.T) {
	orig := discoverFn
	t.Cleanup(func() {
		discoverFn = orig
	})
	discoverFn = func(ctx context.Context, service, domain string) (discovery.Endpoint, error) {
		return discovery.Endpoint{}, errors.New("no service")
	}

	if _, err := resolveServerURL("", true, 200*time.Millisecond, discovery.DefaultServiceName, discovery.DefaultDomain); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrintEntries_ReturnsNewCount(t *testing.T) {
	entries := []pipeline.LogEntry{
		{Message: "one", Level: pipeline.LevelInfo},
		{Message: "two", Level: pipeline.LevelOutput},
	}
	if got := printEntries(entries, 0); got != 2 {
		t.Fatalf("printEntries = %d, want 2", got)
	}
	if got := printEntries(entries, 2); got != 2 {
		t.Fatalf("printEntries = %d, want 2", got)
	}
	if got := printEntries(entries, 99); got != 2 {
		t.Fatalf("printEntries with stale offset = %d, want 2", got)
	}
}

func TestDefaultString(t *testing.T) {
	if got := defaultString("  ", "fallback"); got != "fallback" {
		t.Fatalf("defaultString = %q", got)
	}
	if got := defaultString(" value ", "fallback"); got != "value" {
		t.Fatalf("defaultString = %q", got)
	}
}
