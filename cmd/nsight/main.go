// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// nsight is a DNS query-log analytics dashboard backend: it ingests logs
// from the NextDNS API into SQLite and serves filtered statistics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"grimm.is/nsight/internal/api"
	"grimm.is/nsight/internal/config"
	"grimm.is/nsight/internal/fetcher"
	"grimm.is/nsight/internal/logging"
	"grimm.is/nsight/internal/metrics"
	"grimm.is/nsight/internal/nextdns"
	"grimm.is/nsight/internal/store"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "nsight.hcl", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("nsight", version)
		return
	}

	if err := run(*configFile); err != nil {
		logging.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	logging.Info("opened query log store", "path", cfg.DBPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.Register(registry)

	var client *nextdns.Client
	if cfg.NextDNS != nil {
		opts := []nextdns.Option{}
		if cfg.NextDNS.BaseURL != "" {
			opts = append(opts, nextdns.WithBaseURL(cfg.NextDNS.BaseURL))
		}
		client = nextdns.NewClient(cfg.NextDNS.APIKey.Reveal(), opts...)
	}

	server := api.NewServer(api.ServerOptions{
		Store:    db,
		Config:   cfg,
		Profiles: profileLookup(client),
		Metrics:  m,
		Registry: registry,
		Version:  version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if client != nil {
		f := fetcher.New(fetcher.Config{
			Client:    client,
			Store:     db,
			Profiles:  cfg.NextDNS.Profiles,
			Interval:  cfg.NextDNS.FetchIntervalDuration(),
			Metrics:   m,
			Broadcast: server.Hub(),
		})
		go func() {
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Error("fetcher stopped", "error", err)
			}
		}()
		logging.Info("nextdns ingestion started",
			"profiles", len(cfg.NextDNS.Profiles),
			"interval", cfg.NextDNS.FetchInterval)
	} else {
		logging.Warn("no nextdns block configured, running in read-only mode")
	}

	if retention := cfg.RetentionDuration(); retention > 0 {
		go runCleanup(ctx, db, retention)
	}

	err = server.Start(ctx, cfg.Listen)
	logging.Info("shut down")
	return err
}

// profileLookup avoids handing the server a non-nil interface wrapping a
// nil client.
func profileLookup(client *nextdns.Client) api.ProfileLookup {
	if client == nil {
		return nil
	}
	return client
}

// runCleanup prunes expired records once an hour.
func runCleanup(ctx context.Context, db *store.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := db.Cleanup(ctx, retention)
			if err != nil {
				logging.Error("retention cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logging.Info("pruned expired records", "deleted", deleted)
			}
		}
	}
}
