// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fetcher periodically pulls query logs from the NextDNS API into
// the local store.
package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"

	"grimm.is/nsight/internal/logging"
	"grimm.is/nsight/internal/metrics"
	"grimm.is/nsight/internal/nextdns"
	"grimm.is/nsight/internal/store"
)

// initialWindow is how far back the first fetch for a profile reaches.
const initialWindow = "-1h"

// Broadcaster receives newly stored records, typically to push them to
// websocket subscribers.
type Broadcaster interface {
	Broadcast(logs []store.Log)
}

// Client is the slice of the NextDNS API the fetcher uses.
type Client interface {
	Logs(ctx context.Context, profileID, from, to string) ([]nextdns.Log, error)
}

// Config configures a Fetcher. Clock defaults to the real clock, Metrics
// and Broadcast may be nil.
type Config struct {
	Client    Client
	Store     *store.Store
	Profiles  []string
	Interval  time.Duration
	Clock     clockwork.Clock
	Metrics   *metrics.Metrics
	Broadcast Broadcaster
}

// Fetcher runs the periodic NextDNS log ingestion loop.
type Fetcher struct {
	client    Client
	store     *store.Store
	profiles  []string
	interval  time.Duration
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	broadcast Broadcaster
}

func New(cfg Config) *Fetcher {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Fetcher{
		client:    cfg.Client,
		store:     cfg.Store,
		profiles:  cfg.Profiles,
		interval:  cfg.Interval,
		clock:     clock,
		metrics:   cfg.Metrics,
		broadcast: cfg.Broadcast,
	}
}

// Run fetches all profiles immediately, then on every interval tick until
// the context is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	f.FetchAll(ctx)

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			f.FetchAll(ctx)
		}
	}
}

// FetchAll runs one fetch cycle over every configured profile. Failures are
// logged and counted; one bad profile does not block the others.
func (f *Fetcher) FetchAll(ctx context.Context) {
	for _, profileID := range f.profiles {
		if ctx.Err() != nil {
			return
		}
		inserted, skipped, err := f.FetchProfile(ctx, profileID)
		if err != nil {
			logging.Error("nextdns fetch failed", "profile", profileID, "error", err)
			continue
		}
		if inserted > 0 || skipped > 0 {
			logging.Info("fetched nextdns logs",
				"profile", profileID, "new", inserted, "duplicates", skipped)
		}
	}
}

// FetchProfile pulls logs for one profile since its last successful fetch
// and stores them. It returns the number of new and duplicate records.
func (f *Fetcher) FetchProfile(ctx context.Context, profileID string) (inserted, skipped int, err error) {
	if f.metrics != nil {
		f.metrics.FetchRuns.WithLabelValues(profileID).Inc()
	}

	from := initialWindow
	if last, _, ok, err := f.store.FetchStatus(ctx, profileID); err == nil && ok {
		from = last.UTC().Format(time.RFC3339)
	}

	logs, err := f.client.Logs(ctx, profileID, from, "now")
	if err != nil {
		if f.metrics != nil {
			f.metrics.FetchFailures.WithLabelValues(profileID).Inc()
		}
		return 0, 0, err
	}

	now := f.clock.Now().UTC()
	batch := make([]store.Log, 0, len(logs))
	newest := now
	for i := range logs {
		l := &logs[i]
		entry := store.Log{
			Timestamp: l.Timestamp,
			Domain:    l.Domain,
			Action:    l.ResolvedAction(),
			ClientIP:  l.ResolvedClientIP(),
			QueryType: NormalizeQueryType(l.ResolvedQueryType()),
			Blocked:   l.IsBlocked(),
			ProfileID: profileID,
			Raw:       l.Raw,
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		if l.Device != nil {
			entry.DeviceName = l.Device.Name
		}
		if entry.Timestamp.After(newest) {
			newest = entry.Timestamp
		}
		batch = append(batch, entry)
	}

	newRows, err := f.store.InsertBatch(ctx, batch)
	if err != nil {
		if f.metrics != nil {
			f.metrics.FetchFailures.WithLabelValues(profileID).Inc()
		}
		return 0, 0, err
	}
	inserted = len(newRows)
	skipped = len(batch) - inserted

	if err := f.store.UpdateFetchStatus(ctx, profileID, newest, inserted); err != nil {
		logging.Warn("failed to update fetch status", "profile", profileID, "error", err)
	}

	if f.metrics != nil {
		f.metrics.RecordsIngested.WithLabelValues(profileID).Add(float64(inserted))
		f.metrics.DuplicatesSkipped.WithLabelValues(profileID).Add(float64(skipped))
		f.metrics.LastFetchUnix.WithLabelValues(profileID).Set(float64(now.Unix()))
	}

	// Subscribers see only rows that actually entered the store, never
	// duplicates skipped by the uniqueness constraint.
	if len(newRows) > 0 && f.broadcast != nil {
		f.broadcast.Broadcast(newRows)
	}
	return inserted, skipped, nil
}

// NormalizeQueryType maps a query type string onto its canonical DNS record
// type name. Strings that are not a known record type pass through verbatim.
func NormalizeQueryType(qt string) string {
	if qt == "" {
		return "A"
	}
	upper := strings.ToUpper(qt)
	if _, ok := dns.StringToType[upper]; ok {
		return upper
	}
	return qt
}
