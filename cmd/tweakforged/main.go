package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/containers"
	"github.com/tweakforge/tweakforge/internal/discovery"
	"github.com/tweakforge/tweakforge/internal/installer"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/project"
	"github.com/tweakforge/tweakforge/internal/runner"
	"github.com/tweakforge/tweakforge/internal/server"
	"github.com/tweakforge/tweakforge/internal/session"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] != "server" {
		usage()
		os.Exit(2)
	}
	if err := runServer(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func runServer() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	var r runner.Runner
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TWEAKFORGE_USE_FAKE_RUNNER")), "1") {
		r = &runner.FakeRunner{}
		log.Printf("using fake runner")
	} else {
		r = runner.New(cfg.TheosRoot)
	}

	st := project.NewStore(cfg)
	inst := installer.New(cfg, r)
	mgr := session.New(cfg, st, pipeline.New(cfg, r), inst)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	api := server.New(cfg, st, mgr, inst, containers.Detect(containers.DefaultStoreRoot))
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: api.Handler()}

	var advertiser *discovery.Advertiser
	if cfg.DiscoveryEnabled {
		port, err := discovery.ParseListenPort(cfg.ListenAddr)
		if err != nil {
			log.Printf("discovery advertisement disabled: %v", err)
		} else {
			instance := cfg.DiscoveryInstance
			if instance == "" {
				instance = hostFallback()
			}
			advertiser, err = discovery.StartAdvertiser(
				instance,
				cfg.DiscoveryService,
				cfg.DiscoveryDomain,
				port,
				[]string{"proto=http", "path=/healthz"},
			)
			if err != nil {
				log.Printf("failed to start discovery advertisement: %v", err)
			} else {
				log.Printf("discovery advertisement enabled service=%s domain=%s instance=%s port=%d", cfg.DiscoveryService, cfg.DiscoveryDomain, instance, port)
			}
		}
	}
	if advertiser != nil {
		defer advertiser.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tweakforged listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func usage() {
	_, _ = os.Stderr.WriteString("tweakforged usage:\n")
	_, _ = os.Stderr.WriteString("  tweakforged\n")
	_, _ = os.Stderr.WriteString("  tweakforged server\n")
}

func hostFallback() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return "tweakforge"
	}
	return strings.TrimSpace(hostname)
}
