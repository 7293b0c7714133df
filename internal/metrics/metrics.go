// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingestion metrics
	FetchRuns         *prometheus.CounterVec
	FetchFailures     *prometheus.CounterVec
	RecordsIngested   *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	LastFetchUnix     *prometheus.GaugeVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec

	// Store metrics
	StoredRecords prometheus.Gauge
}

// New creates the service metrics collectors.
func New() *Metrics {
	return &Metrics{
		FetchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsight_fetch_runs_total",
			Help: "Total number of NextDNS log fetch attempts per profile",
		}, []string{"profile"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsight_fetch_failures_total",
			Help: "Total number of failed NextDNS log fetches per profile",
		}, []string{"profile"}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsight_records_ingested_total",
			Help: "Total number of new log records stored per profile",
		}, []string{"profile"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsight_duplicates_skipped_total",
			Help: "Total number of fetched records skipped as duplicates per profile",
		}, []string{"profile"}),
		LastFetchUnix: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nsight_last_fetch_timestamp_seconds",
			Help: "Unix timestamp of the last successful fetch per profile",
		}, []string{"profile"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nsight_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
		StoredRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsight_stored_records",
			Help: "Number of log records currently in the store",
		}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.FetchRuns,
		m.FetchFailures,
		m.RecordsIngested,
		m.DuplicatesSkipped,
		m.LastFetchUnix,
		m.RequestDuration,
		m.StoredRecords,
	)
}
